package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sabiut/ephemera/internal/httpserver"
	"github.com/sabiut/ephemera/internal/telemetry"
)

// Dispatcher is implemented by the lifecycle controller; the webhook
// handler only ever decodes a request and hands the typed event off to one
// of these, never touching the store or cluster driver directly.
type Dispatcher interface {
	HandleOpened(ctx context.Context, event PullRequestEvent) error
	HandleReopened(ctx context.Context, event PullRequestEvent) error
	HandleSynchronize(ctx context.Context, event PullRequestEvent) error
	HandleClosed(ctx context.Context, event PullRequestEvent) error
}

// Handler is the chi-routable GitHub webhook endpoint.
type Handler struct {
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

// ServeHTTP implements POST /webhooks/github. Signature verification runs
// as middleware (VerifyMiddleware), not here.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	event := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")

	var action string
	var prNumber int
	var err error

	switch event {
	case "ping":
		httpserver.Respond(w, http.StatusOK, map[string]any{"status": "pong"})
		telemetry.WebhooksReceivedTotal.WithLabelValues("ping", "").Inc()
		return

	case "pull_request":
		var pr PullRequestEvent
		if decodeErr := json.NewDecoder(r.Body).Decode(&pr); decodeErr != nil {
			telemetry.WebhooksRejectedTotal.WithLabelValues("invalid_json").Inc()
			httpserver.RespondError(w, http.StatusBadRequest, decodeErr.Error(), "invalid webhook payload")
			return
		}
		action = pr.Action
		prNumber = pr.Number
		if prNumber == 0 {
			prNumber = pr.PullRequest.Number
		}
		telemetry.WebhooksReceivedTotal.WithLabelValues(event, action).Inc()

		switch action {
		case "opened":
			err = h.Dispatcher.HandleOpened(r.Context(), pr)
		case "reopened":
			err = h.Dispatcher.HandleReopened(r.Context(), pr)
		case "synchronize":
			err = h.Dispatcher.HandleSynchronize(r.Context(), pr)
		case "closed":
			err = h.Dispatcher.HandleClosed(r.Context(), pr)
		default:
			h.logIgnored(event, action, delivery)
		}

	default:
		telemetry.WebhooksReceivedTotal.WithLabelValues(event, "").Inc()
		h.logIgnored(event, "", delivery)
	}

	if err != nil {
		h.Logger.Error("webhook dispatch failed", "event", event, "action", action, "delivery", delivery, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, err.Error(), "failed to process event")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"status":      "received",
		"event":       event,
		"action":      action,
		"pr":          prNumber,
		"delivery_id": delivery,
	})
}

func (h *Handler) logIgnored(event, action, delivery string) {
	if h.Logger != nil {
		h.Logger.Info("ignoring webhook event", "event", event, "action", action, "delivery", delivery)
	}
}
