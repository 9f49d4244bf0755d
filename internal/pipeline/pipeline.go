// Package pipeline is the request-side service: it validates submissions,
// short-circuits on cached results, and enqueues screenshot jobs.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/roastmylanding/roastpipe/internal/cache"
	"github.com/roastmylanding/roastpipe/internal/roast"
	"github.com/roastmylanding/roastpipe/internal/sanitize"
)

// ErrRateLimited rejects a submission when the global intake limiter has
// no capacity.
var ErrRateLimited = errors.New("submission rate limit exceeded")

// Submission is the outcome of one Submit call.
type Submission struct {
	// Record is the roast: completed when served from cache, pending when
	// a job was enqueued.
	Record *roast.Record
	// Cached reports whether the result came from the cache.
	Cached bool
}

// Options tunes the pipeline.
type Options struct {
	// RatePerSec and Burst configure the global submission limiter.
	RatePerSec float64
	Burst      int
}

// Pipeline coordinates the submit path.
type Pipeline struct {
	cache   roast.Cache
	records roast.RecordStore
	queue   roast.Enqueuer
	hasher  roast.Hasher
	clock   roast.Clock
	ids     roast.IDGenerator
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New wires a Pipeline.
func New(
	resultCache roast.Cache,
	records roast.RecordStore,
	queue roast.Enqueuer,
	hasher roast.Hasher,
	clock roast.Clock,
	ids roast.IDGenerator,
	opts Options,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	return &Pipeline{
		cache:   resultCache,
		records: records,
		queue:   queue,
		hasher:  hasher,
		clock:   clock,
		ids:     ids,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		logger:  logger,
	}
}

// Submit sanitizes rawURL and either returns the cached roast or enqueues
// a fresh capture job. forceRefresh skips the cache read; the eventual
// result overwrites the stale entry.
func (p *Pipeline) Submit(ctx context.Context, rawURL string, forceRefresh bool) (*Submission, error) {
	cleanURL, err := sanitize.Sanitize(rawURL)
	if err != nil {
		return nil, err
	}

	key, err := cache.Key(p.hasher, cleanURL, nil)
	if err != nil {
		return nil, fmt.Errorf("derive cache key: %w", err)
	}

	if !forceRefresh {
		if payload, ok := p.cache.Get(ctx, key, roast.TierWarm); ok {
			var rec roast.Record
			if err := json.Unmarshal(payload, &rec); err == nil {
				return &Submission{Record: &rec, Cached: true}, nil
			}
			p.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		}
	}

	if !p.limiter.Allow() {
		return nil, ErrRateLimited
	}

	roastID, err := p.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate roast id: %w", err)
	}
	jobID, err := p.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}

	now := p.clock.Now()
	rec := &roast.Record{
		ID:        roastID,
		URL:       cleanURL,
		Status:    roast.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create roast record: %w", err)
	}

	job := roast.ScreenshotJob{
		JobID:      jobID,
		URL:        cleanURL,
		RoastID:    roastID,
		EnqueuedAt: now,
	}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		rec.Status = roast.StatusFailed
		rec.Error = "enqueue failed"
		rec.UpdatedAt = p.clock.Now()
		if updateErr := p.records.Update(ctx, rec); updateErr != nil {
			p.logger.Warn("failed to mark record after enqueue error",
				zap.String("roast_id", roastID), zap.Error(updateErr))
		}
		return nil, fmt.Errorf("enqueue screenshot job: %w", err)
	}

	p.logger.Info("roast enqueued",
		zap.String("roast_id", roastID),
		zap.String("job_id", jobID),
		zap.String("url", cleanURL),
	)
	return &Submission{Record: rec}, nil
}

// Get loads a roast and bumps its view counter. The count bump is best
// effort; a read never fails because the counter write did.
func (p *Pipeline) Get(ctx context.Context, id string) (*roast.Record, error) {
	rec, err := p.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if count, err := p.records.IncrementViews(ctx, id); err != nil {
		p.logger.Debug("view counter bump failed", zap.String("roast_id", id), zap.Error(err))
	} else {
		rec.ViewCount = count
	}
	return rec, nil
}

// TopScores lists the best completed roasts.
func (p *Pipeline) TopScores(ctx context.Context, limit int) ([]*roast.Record, error) {
	return p.records.TopScores(ctx, limit)
}

// Invalidate drops every cached roast entry.
func (p *Pipeline) Invalidate(ctx context.Context) error {
	return p.cache.InvalidatePattern(ctx, "*roast:*")
}

// CacheStats reports cache effectiveness for the stats endpoint.
func (p *Pipeline) CacheStats(ctx context.Context) (roast.CacheStats, error) {
	return p.cache.Stats(ctx)
}

// Healthy pings the cache backend.
func (p *Pipeline) Healthy(ctx context.Context) error {
	return p.cache.Ping(ctx)
}
