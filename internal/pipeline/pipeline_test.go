package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roastmylanding/roastpipe/internal/cache"
	cachememory "github.com/roastmylanding/roastpipe/internal/cache/memory"
	"github.com/roastmylanding/roastpipe/internal/hash/sha256"
	"github.com/roastmylanding/roastpipe/internal/roast"
	storememory "github.com/roastmylanding/roastpipe/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return "id-" + string(rune('0'+g.n)), nil
}

type captureQueue struct {
	jobs []roast.ScreenshotJob
	err  error
}

func (q *captureQueue) Enqueue(_ context.Context, job roast.ScreenshotJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type fixture struct {
	pipe    *Pipeline
	cache   *cachememory.Cache
	records *storememory.RecordStore
	queue   *captureQueue
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	c := cachememory.New(nil)
	records := storememory.New()
	q := &captureQueue{}
	p := New(c, records, q, sha256.New(), fixedClock{now: time.Unix(1700000000, 0).UTC()},
		&seqIDs{}, opts, zap.NewNop())
	return &fixture{pipe: p, cache: c, records: records, queue: q}
}

func TestSubmitRejectsInvalidURL(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.pipe.Submit(context.Background(), "http://localhost/admin", false)
	require.ErrorIs(t, err, roast.ErrInvalidURL)
	require.Empty(t, f.queue.jobs, "invalid URLs must never reach the queue")
}

func TestSubmitEnqueuesOnMiss(t *testing.T) {
	f := newFixture(t, Options{})
	sub, err := f.pipe.Submit(context.Background(), "https://Example.com/Landing?utm_source=tw", false)
	require.NoError(t, err)
	require.False(t, sub.Cached)
	require.Equal(t, roast.StatusPending, sub.Record.Status)
	require.Equal(t, "https://example.com/Landing", sub.Record.URL)

	require.Len(t, f.queue.jobs, 1)
	require.Equal(t, sub.Record.ID, f.queue.jobs[0].RoastID)
	require.Equal(t, sub.Record.URL, f.queue.jobs[0].URL)

	stored, err := f.records.Get(context.Background(), sub.Record.ID)
	require.NoError(t, err)
	require.Equal(t, roast.StatusPending, stored.Status)
}

func TestSubmitServesFromCache(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	completed := &roast.Record{
		ID:     "cached-roast",
		URL:    "https://example.com/",
		Status: roast.StatusCompleted,
		Roast:  "Already judged.",
		Score:  6,
	}
	payload, err := json.Marshal(completed)
	require.NoError(t, err)
	key, err := cache.Key(sha256.New(), completed.URL, nil)
	require.NoError(t, err)
	f.cache.Set(ctx, key, payload, roast.TierWarm)

	sub, err := f.pipe.Submit(ctx, "https://example.com/", false)
	require.NoError(t, err)
	require.True(t, sub.Cached)
	require.Equal(t, "cached-roast", sub.Record.ID)
	require.Empty(t, f.queue.jobs, "cache hit must not enqueue")
}

func TestSubmitForceRefreshBypassesCache(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	key, err := cache.Key(sha256.New(), "https://example.com/", nil)
	require.NoError(t, err)
	f.cache.Set(ctx, key, []byte(`{"id":"stale"}`), roast.TierWarm)

	sub, err := f.pipe.Submit(ctx, "https://example.com/", true)
	require.NoError(t, err)
	require.False(t, sub.Cached)
	require.Len(t, f.queue.jobs, 1)
}

func TestSubmitRateLimit(t *testing.T) {
	f := newFixture(t, Options{RatePerSec: 0.001, Burst: 2})
	ctx := context.Background()

	_, err := f.pipe.Submit(ctx, "https://example.com/a", false)
	require.NoError(t, err)
	_, err = f.pipe.Submit(ctx, "https://example.com/b", false)
	require.NoError(t, err)
	_, err = f.pipe.Submit(ctx, "https://example.com/c", false)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestSubmitMarksRecordOnEnqueueFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.queue.err = context.DeadlineExceeded

	_, err := f.pipe.Submit(context.Background(), "https://example.com/", false)
	require.Error(t, err)

	// The pending record exists but is marked failed.
	top, err := f.records.TopScores(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, top, "failed record must not rank")
}

func TestGetBumpsViewCount(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.records.Create(ctx, &roast.Record{
		ID:     "r1",
		URL:    "https://example.com/",
		Status: roast.StatusCompleted,
	}))

	rec, err := f.pipe.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.ViewCount)

	rec, err = f.pipe.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.ViewCount)
}
