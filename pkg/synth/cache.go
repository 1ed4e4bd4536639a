package synth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sabiut/ephemera/pkg/cluster"
)

// CacheKey derives the cache key for a synthesis result: the compose
// content and target namespace, so the same compose file synthesized for
// two different pull requests never collides.
func CacheKey(composeContent, namespace string) string {
	h := sha256.Sum256([]byte(composeContent + ":" + namespace))
	return hex.EncodeToString(h[:])
}

type cacheEntry struct {
	manifests []cluster.Manifest
	expiresAt time.Time
}

// Cache is a process-local, in-memory TTL cache of synthesis results, keyed
// by CacheKey. It is intentionally not shared across processes: a worker
// restart simply loses its cache and re-synthesizes, which is acceptable
// since synthesis is idempotent for a given compose file and namespace.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{entries: map[string]cacheEntry{}, ttl: ttl}
}

// Get returns the cached manifests for key, if present and unexpired.
func (c *Cache) Get(key string) ([]cluster.Manifest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.manifests, true
}

// Set stores manifests under key with the cache's configured TTL.
func (c *Cache) Set(key string, manifests []cluster.Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{manifests: manifests, expiresAt: time.Now().Add(c.ttl)}
}
