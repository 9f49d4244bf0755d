// Package memory provides an in-process cache backend for tests and
// single-node deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/roastmylanding/roastpipe/internal/cache"
	"github.com/roastmylanding/roastpipe/internal/metrics"
	"github.com/roastmylanding/roastpipe/internal/roast"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache implements roast.Cache with a mutex-guarded map. It mirrors the
// Redis backend's semantics: per-tier key prefixes, per-tier TTLs, and
// promotion of warm/cold hits into the hot tier.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   roast.Clock

	hits       int64
	misses     int64
	totalBytes int64
}

// New returns an empty cache. A nil clock falls back to the wall clock.
func New(clock roast.Clock) *Cache {
	if clock == nil {
		clock = wallClock{}
	}
	return &Cache{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// Get looks up key in the given tier, evicting lazily on expiry. Non-hot
// hits are promoted into the hot tier before returning.
func (c *Cache) Get(_ context.Context, key string, tier roast.Tier) ([]byte, bool) {
	spec := cache.Spec(tier)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[spec.Prefix+key]
	if !ok {
		c.misses++
		metrics.ObserveCacheRequest(string(spec.Name), "miss")
		return nil, false
	}
	now := c.clock.Now()
	if now.After(e.expiresAt) {
		c.evictLocked(spec.Prefix + key)
		c.misses++
		metrics.ObserveCacheRequest(string(spec.Name), "miss")
		return nil, false
	}

	if spec.Name != roast.TierHot {
		hot := cache.Tiers[roast.TierHot]
		c.setLocked(hot.Prefix+key, e.value, now.Add(hot.TTL))
	}
	c.hits++
	metrics.ObserveCacheRequest(string(spec.Name), "hit")
	return e.value, true
}

// Set stores value with the tier's fixed TTL.
func (c *Cache) Set(_ context.Context, key string, value []byte, tier roast.Tier) {
	spec := cache.Spec(tier)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(spec.Prefix+key, value, c.clock.Now().Add(spec.TTL))
}

// InvalidatePattern removes every entry whose full key (prefix included)
// matches the Redis-style glob pattern.
func (c *Cache) InvalidatePattern(_ context.Context, pattern string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if g.Match(k) {
			c.evictLocked(k)
		}
	}
	return nil
}

// Stats reports cumulative counters since construction.
func (c *Cache) Stats(_ context.Context) (roast.CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := roast.CacheStats{
		Hits:       c.hits,
		Misses:     c.misses,
		TotalBytes: c.totalBytes,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats, nil
}

// Ping always succeeds.
func (c *Cache) Ping(context.Context) error { return nil }

// Len reports the number of live entries, for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) setLocked(fullKey string, value []byte, expiresAt time.Time) {
	if prev, ok := c.entries[fullKey]; ok {
		c.totalBytes -= int64(len(prev.value))
	}
	c.entries[fullKey] = entry{value: value, expiresAt: expiresAt}
	c.totalBytes += int64(len(value))
}

func (c *Cache) evictLocked(fullKey string) {
	if prev, ok := c.entries[fullKey]; ok {
		c.totalBytes -= int64(len(prev.value))
		delete(c.entries, fullKey)
	}
}
