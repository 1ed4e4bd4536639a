package synth

import (
	"strings"
	"testing"
)

func TestParseManifestsBareArray(t *testing.T) {
	text := `[{"kind":"Deployment","apiVersion":"apps/v1","metadata":{"name":"web"}}]`
	manifests, err := ParseManifests(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(manifests) != 1 || manifests[0]["kind"] != "Deployment" {
		t.Errorf("unexpected manifests: %v", manifests)
	}
}

func TestParseManifestsWrappedObject(t *testing.T) {
	for _, key := range []string{"manifests", "resources", "items"} {
		text := `{"` + key + `":[{"kind":"Service","apiVersion":"v1","metadata":{"name":"web"}}]}`
		manifests, err := ParseManifests(text)
		if err != nil {
			t.Fatalf("key %s: unexpected error: %v", key, err)
		}
		if len(manifests) != 1 {
			t.Errorf("key %s: expected 1 manifest, got %d", key, len(manifests))
		}
	}
}

func TestParseManifestsStripsMarkdownFences(t *testing.T) {
	text := "```json\n[{\"kind\":\"Deployment\",\"apiVersion\":\"apps/v1\",\"metadata\":{\"name\":\"web\"}}]\n```"
	manifests, err := ParseManifests(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(manifests) != 1 {
		t.Errorf("expected 1 manifest, got %d", len(manifests))
	}
}

func TestParseManifestsRejectsGarbage(t *testing.T) {
	if _, err := ParseManifests("not json at all"); err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}

func TestSystemPromptEncodesGenerationRules(t *testing.T) {
	// The validator and cluster driver assume the model was told these
	// rules; losing one from the prompt breaks the pipeline silently.
	required := []string{
		"NEEDS_BUILD:<service_name>",              // build: placeholder convention
		"Only web-facing services get an Ingress", // no Ingress for db/cache/queue/worker
		"Rewrite hostnames",                       // env-var service-name rewriting
		"Deployment (apps/v1)",                    // allowed-kinds list
		"TCP liveness/readiness probes",           // per-stack probes
		"hostNetwork",                             // safety constraints
		"Replicas are always 1",                   // preview resource limits
	}
	for _, want := range required {
		if !strings.Contains(SystemPrompt, want) {
			t.Errorf("SystemPrompt is missing %q", want)
		}
	}
}

func TestBuildUserPromptIncludesNamespaceAndCompose(t *testing.T) {
	rc := RepoContext{ComposeContent: "services:\n  web:\n    image: x\n", ComposePath: "docker-compose.yml"}
	prompt := BuildUserPrompt(rc, "pr-7-widget", "widget", "preview.example.com")
	if !strings.Contains(prompt, "pr-7-widget") || !strings.Contains(prompt, "services:") {
		t.Errorf("prompt missing expected content: %s", prompt)
	}
}
