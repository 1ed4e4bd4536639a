package synth

import "testing"

func validDeployment(namespace string) map[string]any {
	return map[string]any{
		"kind":       "Deployment",
		"apiVersion": "apps/v1",
		"metadata":   map[string]any{"name": "web", "namespace": namespace},
		"spec": map[string]any{
			"replicas": float64(1),
			"template": map[string]any{
				"spec": map[string]any{
					"containers": []any{
						map[string]any{"name": "web", "image": "acme/web:latest"},
					},
				},
			},
		},
	}
}

func TestValidateAllAcceptsValidDeployment(t *testing.T) {
	result := ValidateAll([]map[string]any{validDeployment("pr-7-widget")}, "pr-7-widget")
	if !result.Valid() {
		t.Fatalf("expected valid, got errors: %v", result.Errors)
	}
	if len(result.Manifests) != 1 {
		t.Fatalf("expected 1 corrected manifest, got %d", len(result.Manifests))
	}
}

func TestValidateAllCorrectsNamespaceMismatch(t *testing.T) {
	d := validDeployment("some-other-namespace")
	result := ValidateAll([]map[string]any{d}, "pr-7-widget")
	if !result.Valid() {
		t.Fatalf("expected valid despite namespace mismatch, got errors: %v", result.Errors)
	}
	meta := result.Manifests[0]["metadata"].(map[string]any)
	if meta["namespace"] != "pr-7-widget" {
		t.Errorf("namespace not corrected: %v", meta["namespace"])
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning about namespace correction")
	}
}

func TestValidateAllRejectsDisallowedKind(t *testing.T) {
	m := map[string]any{
		"kind":       "DaemonSet",
		"apiVersion": "apps/v1",
		"metadata":   map[string]any{"name": "x", "namespace": "pr-7-widget"},
	}
	result := ValidateAll([]map[string]any{m}, "pr-7-widget")
	if result.Valid() {
		t.Fatal("expected rejection for disallowed kind")
	}
}

func TestValidateAllRejectsHostNetwork(t *testing.T) {
	d := validDeployment("pr-7-widget")
	d["spec"].(map[string]any)["template"].(map[string]any)["spec"].(map[string]any)["hostNetwork"] = true
	result := ValidateAll([]map[string]any{d}, "pr-7-widget")
	if result.Valid() {
		t.Fatal("expected rejection for hostNetwork")
	}
}

func TestValidateAllRejectsPrivilegedContainer(t *testing.T) {
	d := validDeployment("pr-7-widget")
	containers := d["spec"].(map[string]any)["template"].(map[string]any)["spec"].(map[string]any)["containers"].([]any)
	containers[0].(map[string]any)["securityContext"] = map[string]any{"privileged": true}
	result := ValidateAll([]map[string]any{d}, "pr-7-widget")
	if result.Valid() {
		t.Fatal("expected rejection for privileged container")
	}
}

func TestValidateAllCapsReplicas(t *testing.T) {
	d := validDeployment("pr-7-widget")
	d["spec"].(map[string]any)["replicas"] = float64(10)
	result := ValidateAll([]map[string]any{d}, "pr-7-widget")
	if !result.Valid() {
		t.Fatalf("expected valid with capped replicas, got: %v", result.Errors)
	}
	if result.Manifests[0]["spec"].(map[string]any)["replicas"] != maxReplicas {
		t.Errorf("expected replicas capped to %d, got %v", maxReplicas, result.Manifests[0]["spec"].(map[string]any)["replicas"])
	}
}

func TestValidateAllRejectsInternalOnlyServiceType(t *testing.T) {
	m := map[string]any{
		"kind":       "Service",
		"apiVersion": "v1",
		"metadata":   map[string]any{"name": "web", "namespace": "pr-7-widget"},
		"spec": map[string]any{
			"type":  "LoadBalancer",
			"ports": []any{map[string]any{"port": float64(80)}},
		},
	}
	result := ValidateAll([]map[string]any{m}, "pr-7-widget")
	if result.Valid() {
		t.Fatal("expected rejection for LoadBalancer service type")
	}
}

func TestValidateAllRejectsTooManyManifests(t *testing.T) {
	var manifests []map[string]any
	for i := 0; i < maxManifests+1; i++ {
		manifests = append(manifests, validDeployment("pr-7-widget"))
	}
	result := ValidateAll(manifests, "pr-7-widget")
	if result.Valid() {
		t.Fatal("expected rejection for too many manifests")
	}
}

func TestParseCPUAndMemory(t *testing.T) {
	cases := []struct {
		value string
		want  int
	}{
		{"500m", 500},
		{"2", 2000},
	}
	for _, c := range cases {
		got, err := parseCPU(c.value)
		if err != nil {
			t.Fatalf("parseCPU(%q): %v", c.value, err)
		}
		if got != c.want {
			t.Errorf("parseCPU(%q) = %d, want %d", c.value, got, c.want)
		}
	}

	memCases := []struct {
		value string
		want  int
	}{
		{"1Gi", 1024},
		{"512Mi", 512},
		{"1048576Ki", 1024},
	}
	for _, c := range memCases {
		got, err := parseMemoryMi(c.value)
		if err != nil {
			t.Fatalf("parseMemoryMi(%q): %v", c.value, err)
		}
		if got != c.want {
			t.Errorf("parseMemoryMi(%q) = %d, want %d", c.value, got, c.want)
		}
	}
}
