package cluster

import (
	"context"
	"errors"
	"testing"

	"k8s.io/client-go/kubernetes/fake"
)

func newTestDriver() *Driver {
	return &Driver{clientset: fake.NewSimpleClientset()}
}

func TestCreateNamespaceIdempotent(t *testing.T) {
	d := newTestDriver()
	ctx := context.Background()

	if err := d.CreateNamespace(ctx, "pr-7-widget", map[string]string{"app": "ephemera"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	// Already-exists must be normalized to success.
	if err := d.CreateNamespace(ctx, "pr-7-widget", map[string]string{"app": "ephemera"}); err != nil {
		t.Fatalf("second create (already exists) should succeed, got: %v", err)
	}
}

func TestDeleteNamespaceNotFoundIsSuccess(t *testing.T) {
	d := newTestDriver()
	if err := d.DeleteNamespace(context.Background(), "does-not-exist"); err != nil {
		t.Fatalf("deleting a missing namespace should succeed, got: %v", err)
	}
}

func TestNamespaceExists(t *testing.T) {
	d := newTestDriver()
	ctx := context.Background()

	exists, err := d.NamespaceExists(ctx, "pr-7-widget")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatal("namespace should not exist yet")
	}

	if err := d.CreateNamespace(ctx, "pr-7-widget", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	exists, err = d.NamespaceExists(ctx, "pr-7-widget")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Fatal("namespace should exist after creation")
	}
}

func TestDisabledDriverReturnsNotConfigured(t *testing.T) {
	d := &Driver{}
	ctx := context.Background()

	if err := d.CreateNamespace(ctx, "x", nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := d.NamespaceExists(ctx, "x"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if err := d.ApplyManifest(ctx, Manifest{"kind": "Deployment"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestApplyManifestRejectsUnknownKind(t *testing.T) {
	d := newTestDriver()
	m := Manifest{"kind": "DaemonSet", "apiVersion": "apps/v1", "metadata": map[string]any{"name": "x", "namespace": "pr-7-widget"}}
	if err := d.ApplyManifest(context.Background(), m); err == nil {
		t.Fatal("expected error for unrecognized kind")
	}
}

func TestApplyManifestCreateThenPatchDeployment(t *testing.T) {
	d := newTestDriver()
	ctx := context.Background()
	m := Manifest{
		"kind":       "Deployment",
		"apiVersion": "apps/v1",
		"metadata":   map[string]any{"name": "web", "namespace": "pr-7-widget"},
		"spec": map[string]any{
			"replicas": 1,
			"selector": map[string]any{"matchLabels": map[string]any{"app": "web"}},
			"template": map[string]any{
				"metadata": map[string]any{"labels": map[string]any{"app": "web"}},
				"spec": map[string]any{
					"containers": []any{
						map[string]any{"name": "web", "image": "nginx:latest"},
					},
				},
			},
		},
	}

	if err := d.ApplyManifest(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Applying the same manifest again must converge (create-or-patch), not error.
	if err := d.ApplyManifest(ctx, m); err != nil {
		t.Fatalf("re-apply (patch path): %v", err)
	}
}
