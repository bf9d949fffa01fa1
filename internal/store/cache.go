// ABOUTME: TTL + LRU-bounded memoization layer in front of read-only repository queries
// ABOUTME: Purely a read accelerant; disabling it changes latency, never behavior

package store

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache key namespaces. Writes invalidate whole namespaces rather than
// individual keys: over-invalidation is cheap, staleness is not.
const (
	nsConversation = "conversation:"
	nsMessage      = "message:"
	nsPersona      = "persona:"
)

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// queryCache memoizes read-only query results under deterministic keys.
// The underlying expirable LRU bounds entry count and sweeps expired
// entries in the background; getOrCompute additionally checks per-entry
// expiry so a TTL passed at call time is honored exactly.
type queryCache struct {
	entries *expirable.LRU[string, cacheEntry]
	ttl     time.Duration
}

// newQueryCache returns a cache with the given default TTL and size bound.
// A zero ttl disables caching entirely: getOrCompute becomes a pass-through.
func newQueryCache(ttl time.Duration, size int) *queryCache {
	c := &queryCache{ttl: ttl}
	if ttl > 0 {
		c.entries = expirable.NewLRU[string, cacheEntry](size, nil, ttl)
	}
	return c
}

func (c *queryCache) enabled() bool {
	return c.entries != nil
}

// getOrCompute returns the cached value for key if it is fresh, otherwise
// invokes compute, stores the result with an expiry, and returns it.
// Errors are never cached.
func (c *queryCache) getOrCompute(key string, ttl time.Duration, compute func() (any, error)) (any, error) {
	if !c.enabled() {
		return compute()
	}
	if e, ok := c.entries.Get(key); ok && time.Now().Before(e.expiresAt) {
		return e.value, nil
	}
	v, err := compute()
	if err != nil {
		return nil, err
	}
	c.entries.Add(key, cacheEntry{value: v, expiresAt: time.Now().Add(ttl)})
	return v, nil
}

// invalidate removes every entry whose key falls under one of the given
// namespaces. Called by write-path repository operations after commit.
func (c *queryCache) invalidate(namespaces ...string) {
	if !c.enabled() {
		return
	}
	for _, key := range c.entries.Keys() {
		for _, ns := range namespaces {
			if strings.HasPrefix(key, ns) {
				c.entries.Remove(key)
				break
			}
		}
	}
}

// cached is a typed wrapper over getOrCompute so repositories don't repeat
// type assertions.
func cached[T any](c *queryCache, key string, ttl time.Duration, compute func() (T, error)) (T, error) {
	v, err := c.getOrCompute(key, ttl, func() (any, error) { return compute() })
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
