package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roastmylanding/roastpipe/internal/cache"
	"github.com/roastmylanding/roastpipe/internal/roast"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSetGetRoundTrip(t *testing.T) {
	c := New(newFakeClock())
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), roast.TierWarm)
	got, ok := c.Get(ctx, "k1", roast.TierWarm)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got)

	_, ok = c.Get(ctx, "missing", roast.TierWarm)
	require.False(t, ok)
}

func TestTiersAreSeparateNamespaces(t *testing.T) {
	c := New(newFakeClock())
	ctx := context.Background()

	c.Set(ctx, "k", []byte("cold-value"), roast.TierCold)
	_, ok := c.Get(ctx, "k", roast.TierHot)
	require.False(t, ok, "hot lookup must not see a cold entry")
}

func TestEntriesExpirePerTier(t *testing.T) {
	clock := newFakeClock()
	c := New(clock)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), roast.TierHot)
	clock.Advance(cache.Tiers[roast.TierHot].TTL + time.Second)
	_, ok := c.Get(ctx, "k", roast.TierHot)
	require.False(t, ok, "hot entry must expire after its TTL")

	c.Set(ctx, "k2", []byte("v2"), roast.TierCold)
	clock.Advance(cache.Tiers[roast.TierWarm].TTL)
	_, ok = c.Get(ctx, "k2", roast.TierCold)
	require.True(t, ok, "cold entry outlives the warm TTL")
}

func TestWarmHitPromotesToHot(t *testing.T) {
	clock := newFakeClock()
	c := New(clock)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), roast.TierWarm)
	_, ok := c.Get(ctx, "k", roast.TierWarm)
	require.True(t, ok)

	got, ok := c.Get(ctx, "k", roast.TierHot)
	require.True(t, ok, "warm hit must appear in the hot tier")
	require.Equal(t, []byte("v"), got)
}

func TestPromotionIsIdempotent(t *testing.T) {
	c := New(newFakeClock())
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), roast.TierWarm)
	for i := 0; i < 3; i++ {
		_, ok := c.Get(ctx, "k", roast.TierWarm)
		require.True(t, ok)
	}
	// warm entry + one hot copy
	require.Equal(t, 2, c.Len())
}

func TestInvalidatePattern(t *testing.T) {
	c := New(newFakeClock())
	ctx := context.Background()

	c.Set(ctx, "roast:aaa", []byte("1"), roast.TierWarm)
	c.Set(ctx, "roast:bbb", []byte("2"), roast.TierWarm)
	c.Set(ctx, "other:ccc", []byte("3"), roast.TierWarm)

	require.NoError(t, c.InvalidatePattern(ctx, "warm:roast:*"))

	_, ok := c.Get(ctx, "roast:aaa", roast.TierWarm)
	require.False(t, ok)
	_, ok = c.Get(ctx, "roast:bbb", roast.TierWarm)
	require.False(t, ok)
	_, ok = c.Get(ctx, "other:ccc", roast.TierWarm)
	require.True(t, ok)
}

func TestInvalidatePatternRejectsBadGlob(t *testing.T) {
	c := New(newFakeClock())
	require.Error(t, c.InvalidatePattern(context.Background(), "[unclosed"))
}

func TestStats(t *testing.T) {
	c := New(newFakeClock())
	ctx := context.Background()

	c.Set(ctx, "k", []byte("value"), roast.TierWarm)
	c.Get(ctx, "k", roast.TierWarm)
	c.Get(ctx, "missing", roast.TierWarm)
	c.Get(ctx, "missing", roast.TierWarm)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(2), stats.Misses)
	require.InDelta(t, 1.0/3.0, stats.HitRate, 1e-9)
	require.Positive(t, stats.TotalBytes)
}
