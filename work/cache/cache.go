package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// Cache is a thread-safe, size-bounded in-memory cache whose entries expire a fixed
// duration after they were written. It backs raw catalog payloads, rewritten proxy
// manifests and metadata lookups.
type Cache[V any] struct {
	store    *otter.Cache[string, V]
	duration time.Duration
}

// NewCache creates a cache holding at most maxSize entries, each valid for duration.
func NewCache[V any](maxSize int, duration time.Duration) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Cache[V]{
		store: otter.Must(&otter.Options[string, V]{
			MaximumSize:      maxSize,
			ExpiryCalculator: otter.ExpiryWriting[string, V](duration),
		}),
		duration: duration,
	}
}

// Get returns the cached value for key and whether it was present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.store.GetIfPresent(key)
}

// Set stores value under key, replacing any previous entry and restarting its TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.store.Set(key, value)
}

// Invalidate removes key.
func (c *Cache[V]) Invalidate(key string) {
	c.store.Invalidate(key)
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.store.InvalidateAll()
}

// Duration returns the TTL entries are written with.
func (c *Cache[V]) Duration() time.Duration {
	return c.duration
}
