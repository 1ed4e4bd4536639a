package cluster

import "testing"

func TestManifestAccessors(t *testing.T) {
	m := Manifest{
		"kind":       "Deployment",
		"apiVersion": "apps/v1",
		"metadata": map[string]any{
			"name":      "web",
			"namespace": "pr-7-widget",
		},
	}

	if m.Kind() != KindDeployment {
		t.Errorf("Kind() = %q, want Deployment", m.Kind())
	}
	if m.APIVersion() != "apps/v1" {
		t.Errorf("APIVersion() = %q", m.APIVersion())
	}
	if m.Name() != "web" {
		t.Errorf("Name() = %q", m.Name())
	}
	if m.Namespace() != "pr-7-widget" {
		t.Errorf("Namespace() = %q", m.Namespace())
	}
	if !m.IsRecognized() {
		t.Error("expected Deployment to be recognized")
	}

	m.SetNamespace("pr-9-other")
	if m.Namespace() != "pr-9-other" {
		t.Errorf("SetNamespace did not update Namespace(): %q", m.Namespace())
	}
}

func TestManifestUnrecognizedKind(t *testing.T) {
	m := Manifest{"kind": "DaemonSet", "apiVersion": "apps/v1", "metadata": map[string]any{"name": "x"}}
	if m.IsRecognized() {
		t.Error("DaemonSet must not be recognized")
	}
}

func TestManifestMissingMetadata(t *testing.T) {
	m := Manifest{"kind": "ConfigMap"}
	if m.Name() != "" || m.Namespace() != "" {
		t.Error("expected empty name/namespace when metadata is absent")
	}
}
