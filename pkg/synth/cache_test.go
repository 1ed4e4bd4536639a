package synth

import (
	"testing"
	"time"

	"github.com/sabiut/ephemera/pkg/cluster"
)

func TestCacheKeyIsStableAndNamespaceScoped(t *testing.T) {
	k1 := CacheKey("services:\n  web: {}\n", "pr-7-widget")
	k2 := CacheKey("services:\n  web: {}\n", "pr-7-widget")
	k3 := CacheKey("services:\n  web: {}\n", "pr-8-widget")

	if k1 != k2 {
		t.Error("same compose+namespace should produce the same key")
	}
	if k1 == k3 {
		t.Error("different namespace should produce a different key")
	}
}

func TestCacheGetSetAndExpiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	key := CacheKey("x", "pr-1-y")
	manifests := []cluster.Manifest{{"kind": "Deployment"}}

	if _, ok := c.Get(key); ok {
		t.Fatal("expected cache miss before Set")
	}

	c.Set(key, manifests)
	got, ok := c.Get(key)
	if !ok || len(got) != 1 {
		t.Fatal("expected cache hit immediately after Set")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Fatal("expected cache miss after TTL expiry")
	}
}
