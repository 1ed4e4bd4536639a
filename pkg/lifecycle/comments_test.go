package lifecycle

import (
	"errors"
	"strings"
	"testing"

	"github.com/sabiut/ephemera/pkg/cluster"
	"github.com/sabiut/ephemera/pkg/environment"
	"github.com/sabiut/ephemera/pkg/synth"
)

func ingressManifest(host string) cluster.Manifest {
	return cluster.Manifest{
		"kind": "Ingress",
		"metadata": map[string]any{
			"name": "web",
		},
		"spec": map[string]any{
			"rules": []any{
				map[string]any{"host": host},
			},
		},
	}
}

func TestExtractServiceURLs(t *testing.T) {
	manifests := []cluster.Manifest{
		ingressManifest("pr-7-widget.preview.example.com"),
		{"kind": "Deployment", "metadata": map[string]any{"name": "web"}},
	}

	urls := extractServiceURLs(manifests)
	if len(urls) != 1 {
		t.Fatalf("expected 1 URL, got %d: %v", len(urls), urls)
	}
	if urls[0] != "https://pr-7-widget.preview.example.com" {
		t.Errorf("unexpected URL: %s", urls[0])
	}
}

func TestExtractServiceURLsIgnoresRulesWithoutHost(t *testing.T) {
	manifests := []cluster.Manifest{
		{
			"kind":     "Ingress",
			"metadata": map[string]any{"name": "web"},
			"spec": map[string]any{
				"rules": []any{
					map[string]any{},
				},
			},
		},
	}
	if urls := extractServiceURLs(manifests); len(urls) != 0 {
		t.Errorf("expected no URLs, got %v", urls)
	}
}

func TestSuccessCommentComposeAbsent(t *testing.T) {
	env := environment.Environment{Namespace: "pr-7-widget"}
	body := successComment(env, true, synth.Result{}, nil, nil)

	if !strings.Contains(body, "No `docker-compose.yml`") {
		t.Errorf("expected compose-absent message, got: %s", body)
	}
	if !strings.Contains(body, "pr-7-widget") {
		t.Errorf("expected namespace in body, got: %s", body)
	}
}

func TestSuccessCommentSynthError(t *testing.T) {
	env := environment.Environment{Namespace: "pr-7-widget"}
	body := successComment(env, false, synth.Result{}, nil, errors.New("boom"))

	if !strings.Contains(body, "Workload synthesis failed") {
		t.Errorf("expected synthesis failure message, got: %s", body)
	}
	if !strings.Contains(body, "boom") {
		t.Errorf("expected underlying error text, got: %s", body)
	}
}

func TestSuccessCommentWithServiceURLs(t *testing.T) {
	env := environment.Environment{Namespace: "pr-7-widget", EnvironmentURL: "https://pr-7-widget.preview.example.com"}
	body := successComment(env, false, synth.Result{}, []string{"https://pr-7-widget.preview.example.com"}, nil)

	if !strings.Contains(body, "Service URLs:") {
		t.Errorf("expected service URL list, got: %s", body)
	}
	if !strings.Contains(body, "https://pr-7-widget.preview.example.com") {
		t.Errorf("expected the URL itself, got: %s", body)
	}
}

func TestSuccessCommentFallsBackToEnvironmentURL(t *testing.T) {
	env := environment.Environment{Namespace: "pr-7-widget", EnvironmentURL: "https://pr-7-widget.preview.example.com"}
	body := successComment(env, false, synth.Result{}, nil, nil)

	if !strings.Contains(body, "Environment URL: https://pr-7-widget.preview.example.com") {
		t.Errorf("expected environment URL fallback, got: %s", body)
	}
}

func TestSuccessCommentReportsFallbackReasonAndWarnings(t *testing.T) {
	env := environment.Environment{Namespace: "pr-7-widget"}
	result := synth.Result{FallbackReason: "provider timed out", Warnings: []string{"image tag is not pinned"}}
	body := successComment(env, false, result, []string{"https://x"}, nil)

	if !strings.Contains(body, "provider timed out") {
		t.Errorf("expected fallback reason, got: %s", body)
	}
	if !strings.Contains(body, "image tag is not pinned") {
		t.Errorf("expected warning, got: %s", body)
	}
}

func TestSuccessCommentEmbedsAIPlan(t *testing.T) {
	env := environment.Environment{Namespace: "pr-7-widget"}
	result := synth.Result{
		AIGenerated: true,
		Manifests: []cluster.Manifest{
			{"kind": "Deployment", "metadata": map[string]any{"name": "web", "namespace": "pr-7-widget"}},
		},
	}
	body := successComment(env, false, result, []string{"https://x"}, nil)

	if !strings.Contains(body, "AI deployment plan") {
		t.Errorf("expected AI plan section, got: %s", body)
	}
	if !strings.Contains(body, "Deployment") || !strings.Contains(body, "web") {
		t.Errorf("expected manifest details in plan, got: %s", body)
	}
}

func TestCloseCommentDistinguishesMerged(t *testing.T) {
	if !strings.Contains(closeComment(true), "merged") {
		t.Error("expected merged comment to mention merge")
	}
	if strings.Contains(closeComment(false), "merged") {
		t.Error("expected closed-not-merged comment not to mention merge")
	}
}

func TestFailedDestroyComment(t *testing.T) {
	body := failedDestroyComment("namespace stuck terminating")
	if !strings.Contains(body, "namespace stuck terminating") {
		t.Errorf("expected reason in body, got: %s", body)
	}
}
