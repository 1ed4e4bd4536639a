package environment

import "testing"

func TestBuildNamespace(t *testing.T) {
	tests := []struct {
		name     string
		prNumber int
		repo     string
		want     string
	}{
		{"simple", 7, "widget", "pr-7-widget"},
		{"underscore to hyphen", 12, "my_service", "pr-12-my-service"},
		{"uppercase lowered", 3, "MyRepo", "pr-3-myrepo"},
		{"truncated at 20 chars", 30, "a-repository-name-that-is-quite-long", "pr-30-a-repository-name-th"},
		{"trailing hyphen trimmed after truncation", 8, "my-service-frontend-extra", "pr-8-my-service-frontend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildNamespace(tt.prNumber, tt.repo)
			if got != tt.want {
				t.Errorf("BuildNamespace(%d, %q) = %q, want %q", tt.prNumber, tt.repo, got, tt.want)
			}
			if !ValidDNSLabel(got) {
				t.Errorf("BuildNamespace(%d, %q) = %q is not a valid DNS label", tt.prNumber, tt.repo, got)
			}
			if len(got) > 63 {
				t.Errorf("namespace %q exceeds 63 chars", got)
			}
		})
	}
}

func TestPRNumberFromNamespace(t *testing.T) {
	n, err := PRNumberFromNamespace("pr-42-widget")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("got %d, want 42", n)
	}

	if _, err := PRNumberFromNamespace("not-a-namespace"); err == nil {
		t.Error("expected error for malformed namespace")
	}
}

func TestBuildEnvironmentURL(t *testing.T) {
	got := BuildEnvironmentURL(7, "my_widget", "preview.example.com")
	want := "https://pr-7-my-widget.preview.example.com"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
