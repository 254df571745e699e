package fetch

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheSize bounds the number of cached results.
	DefaultCacheSize = 2048

	// DefaultCacheTTL expires entries this long after write.
	DefaultCacheTTL = 10 * time.Minute
)

// LoadFunc computes the value for a key, typically by an external call.
type LoadFunc func(ctx context.Context, key string) (string, error)

// LoadingCache memoizes a LoadFunc under a bounded, expiring map.
//
// Concurrent callers for the same missing key block on one underlying
// load and share its result; distinct keys load fully in parallel. Only
// successful loads are cached — a failed or interrupted load leaves no
// entry behind, so the next request re-attempts the call.
type LoadingCache struct {
	lru   *expirable.LRU[string, string]
	group singleflight.Group
	load  LoadFunc
}

// NewLoadingCache builds a cache with the given capacity and expiry.
// Non-positive values fall back to the defaults.
func NewLoadingCache(capacity int, ttl time.Duration, load LoadFunc) *LoadingCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LoadingCache{
		lru:  expirable.NewLRU[string, string](capacity, nil, ttl),
		load: load,
	}
}

// Get returns the cached value for key, loading it once if absent.
func (c *LoadingCache) Get(ctx context.Context, key string) (string, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: another caller may have populated the entry between
		// the miss and the singleflight slot.
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		value, err := c.load(ctx, key)
		if err != nil {
			return "", err
		}
		c.lru.Add(key, value)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Len returns the number of live cache entries.
func (c *LoadingCache) Len() int { return c.lru.Len() }
