package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordingDispatcher struct {
	opened, reopened, synchronize, closed int
	lastEvent                             PullRequestEvent
}

func (d *recordingDispatcher) HandleOpened(ctx context.Context, e PullRequestEvent) error {
	d.opened++
	d.lastEvent = e
	return nil
}
func (d *recordingDispatcher) HandleReopened(ctx context.Context, e PullRequestEvent) error {
	d.reopened++
	return nil
}
func (d *recordingDispatcher) HandleSynchronize(ctx context.Context, e PullRequestEvent) error {
	d.synchronize++
	return nil
}
func (d *recordingDispatcher) HandleClosed(ctx context.Context, e PullRequestEvent) error {
	d.closed++
	return nil
}

func TestHandlerDispatchesByAction(t *testing.T) {
	cases := []struct {
		action string
		check  func(*recordingDispatcher) int
	}{
		{"opened", func(d *recordingDispatcher) int { return d.opened }},
		{"reopened", func(d *recordingDispatcher) int { return d.reopened }},
		{"synchronize", func(d *recordingDispatcher) int { return d.synchronize }},
		{"closed", func(d *recordingDispatcher) int { return d.closed }},
	}

	for _, c := range cases {
		d := &recordingDispatcher{}
		h := &Handler{Dispatcher: d, Logger: slog.Default()}

		body, _ := json.Marshal(PullRequestEvent{Action: c.action, Number: 7})
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
		req.Header.Set("X-GitHub-Event", "pull_request")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("action %s: expected 200, got %d", c.action, rec.Code)
		}
		if c.check(d) != 1 {
			t.Errorf("action %s: expected dispatcher to be called once", c.action)
		}
	}
}

func TestHandlerIgnoresUnknownAction(t *testing.T) {
	d := &recordingDispatcher{}
	h := &Handler{Dispatcher: d, Logger: slog.Default()}

	body, _ := json.Marshal(PullRequestEvent{Action: "labeled"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "pull_request")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for ignored action, got %d", rec.Code)
	}
	if d.opened+d.reopened+d.synchronize+d.closed != 0 {
		t.Error("expected no dispatcher calls for an unrecognized action")
	}
}

func TestHandlerRespondsToPing(t *testing.T) {
	h := &Handler{Dispatcher: &recordingDispatcher{}, Logger: slog.Default()}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader([]byte(`{"zen":"hi"}`)))
	req.Header.Set("X-GitHub-Event", "ping")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for ping, got %d", rec.Code)
	}
}

func TestVerifyMiddlewareAcceptsValidSignature(t *testing.T) {
	secret := "shh"
	body := []byte(`{"action":"opened"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	mw := VerifyMiddleware(secret)(next)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sig)
	rec := httptest.NewRecorder()

	mw.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected next handler to be called with a valid signature")
	}
}

func TestVerifyMiddlewareRejectsInvalidSignature(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	mw := VerifyMiddleware("shh")(next)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()

	mw.ServeHTTP(rec, req)

	if called {
		t.Fatal("expected next handler not to be called with an invalid signature")
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestVerifyMiddlewareSkippedWhenSecretEmpty(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	mw := VerifyMiddleware("")(next)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	mw.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected next handler to be called when no secret is configured")
	}
}
