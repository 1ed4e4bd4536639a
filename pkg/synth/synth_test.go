package synth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type stubProvider struct {
	text string
	err  error
}

func (p *stubProvider) Name() string { return "stub" }
func (p *stubProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (Response, error) {
	if p.err != nil {
		return Response{}, p.err
	}
	return Response{Text: p.text}, nil
}

func composeFetcher() *fakeFetcher {
	return &fakeFetcher{files: map[string]string{
		"docker-compose.yml": "services:\n  web:\n    image: acme/web:latest\n    ports:\n      - \"8080:8000\"\n",
	}}
}

func TestSynthesizeFallsBackToComposeWhenNoProvider(t *testing.T) {
	s := &Synthesizer{Fetcher: composeFetcher(), Cache: NewCache(time.Hour)}
	result, err := s.Synthesize(context.Background(), 1, "acme/widget", "main", "pr-7-widget", "widget", "preview.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AIGenerated {
		t.Error("expected compose fallback when no provider is configured")
	}
	if len(result.Manifests) == 0 {
		t.Fatal("expected baseline manifests")
	}
}

func TestSynthesizeUsesAIWhenValid(t *testing.T) {
	text := `[{"kind":"Deployment","apiVersion":"apps/v1","metadata":{"name":"web","namespace":"pr-7-widget"},
	"spec":{"replicas":1,"template":{"spec":{"containers":[{"name":"web","image":"acme/web:latest"}]}}}}]`
	s := &Synthesizer{Provider: &stubProvider{text: text}, Fetcher: composeFetcher(), Cache: NewCache(time.Hour)}

	result, err := s.Synthesize(context.Background(), 1, "acme/widget", "main", "pr-7-widget", "widget", "preview.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.AIGenerated {
		t.Fatal("expected AI-generated result")
	}
	if len(result.Manifests) != 1 {
		t.Fatalf("expected 1 manifest, got %d", len(result.Manifests))
	}
}

func TestSynthesizeFallsBackWhenProviderErrors(t *testing.T) {
	s := &Synthesizer{Provider: &stubProvider{err: errors.New("rate limited")}, Fetcher: composeFetcher(), Cache: NewCache(time.Hour)}
	result, err := s.Synthesize(context.Background(), 1, "acme/widget", "main", "pr-7-widget", "widget", "preview.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AIGenerated {
		t.Error("expected fallback when provider errors")
	}
	if result.FallbackReason == "" {
		t.Error("expected fallback reason to be set")
	}
}

func TestSynthesizeFallsBackWhenValidationRejects(t *testing.T) {
	text := `[{"kind":"DaemonSet","apiVersion":"apps/v1","metadata":{"name":"web"}}]`
	s := &Synthesizer{Provider: &stubProvider{text: text}, Fetcher: composeFetcher(), Cache: NewCache(time.Hour)}
	result, err := s.Synthesize(context.Background(), 1, "acme/widget", "main", "pr-7-widget", "widget", "preview.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AIGenerated {
		t.Error("expected fallback when validation rejects the manifest set")
	}
	if !strings.HasPrefix(result.FallbackReason, "Manifest validation failed") {
		t.Errorf("unexpected fallback reason: %q", result.FallbackReason)
	}
}

func TestSynthesizeUsesCacheOnSecondCall(t *testing.T) {
	text := `[{"kind":"Deployment","apiVersion":"apps/v1","metadata":{"name":"web","namespace":"pr-7-widget"},
	"spec":{"replicas":1,"template":{"spec":{"containers":[{"name":"web","image":"acme/web:latest"}]}}}}]`
	provider := &stubProvider{text: text}
	s := &Synthesizer{Provider: provider, Fetcher: composeFetcher(), Cache: NewCache(time.Hour)}

	if _, err := s.Synthesize(context.Background(), 1, "acme/widget", "main", "pr-7-widget", "widget", "preview.example.com"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	provider.err = errors.New("should not be called again")
	result, err := s.Synthesize(context.Background(), 1, "acme/widget", "main", "pr-7-widget", "widget", "preview.example.com")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !result.AIGenerated {
		t.Fatal("expected cached AI result on second call")
	}
}
