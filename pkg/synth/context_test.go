package synth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeFetcher struct {
	files map[string]string
}

func (f *fakeFetcher) FetchFile(ctx context.Context, installationID int64, repoFullName, path, ref string) ([]byte, error) {
	content, ok := f.files[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(content), nil
}

func TestBuildContextFetchesComposeAndSupportingFiles(t *testing.T) {
	f := &fakeFetcher{files: map[string]string{
		"docker-compose.yml": "services:\n  web: {}\n",
		"README.md":          "# Widget\n",
		"Dockerfile":         "FROM node:20\n",
	}}

	rc, err := BuildContext(context.Background(), f, 1, "acme/widget", "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.ComposePath != "docker-compose.yml" {
		t.Errorf("unexpected compose path: %s", rc.ComposePath)
	}
	if rc.Supporting["README.md"] == "" {
		t.Error("expected README.md in supporting context")
	}
	if rc.Supporting["Dockerfile"] == "" {
		t.Error("expected Dockerfile in supporting context")
	}
}

func TestBuildContextAbortsWithoutComposeFile(t *testing.T) {
	f := &fakeFetcher{files: map[string]string{"README.md": "# Widget\n"}}
	_, err := BuildContext(context.Background(), f, 1, "acme/widget", "main")
	if !errors.Is(err, ErrNoComposeFile) {
		t.Fatalf("expected ErrNoComposeFile, got %v", err)
	}
}

func TestBuildContextTruncatesOversizedFiles(t *testing.T) {
	f := &fakeFetcher{files: map[string]string{
		"docker-compose.yml": "services:\n  web: {}\n",
		"README.md":          strings.Repeat("a", 10_000),
	}}

	rc, err := BuildContext(context.Background(), f, 1, "acme/widget", "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rc.Supporting["README.md"]) > 4_000 {
		t.Errorf("README.md not truncated to budget: got %d bytes", len(rc.Supporting["README.md"]))
	}
}
