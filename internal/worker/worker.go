// Package worker processes screenshot jobs end to end: capture, image
// post-processing, ensemble analysis, and persistence.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roastmylanding/roastpipe/internal/cache"
	"github.com/roastmylanding/roastpipe/internal/imaging"
	"github.com/roastmylanding/roastpipe/internal/roast"
	"github.com/roastmylanding/roastpipe/internal/sanitize"
)

// Worker handles one screenshot job at a time; the queue consumer runs
// several Workers' Handle calls concurrently.
type Worker struct {
	capturer roast.Capturer
	analyzer roast.Analyzer
	blobs    roast.BlobStore
	records  roast.RecordStore
	cache    roast.Cache
	hasher   roast.Hasher
	clock    roast.Clock
	renderer *imaging.CardRenderer
	logger   *zap.Logger
}

// New wires a Worker.
func New(
	capturer roast.Capturer,
	analyzer roast.Analyzer,
	blobs roast.BlobStore,
	records roast.RecordStore,
	resultCache roast.Cache,
	hasher roast.Hasher,
	clock roast.Clock,
	renderer *imaging.CardRenderer,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = &imaging.CardRenderer{}
	}
	return &Worker{
		capturer: capturer,
		analyzer: analyzer,
		blobs:    blobs,
		records:  records,
		cache:    resultCache,
		hasher:   hasher,
		clock:    clock,
		renderer: renderer,
		logger:   logger,
	}
}

// Handle implements roast.JobHandler. A returned error asks the queue to
// redeliver; the record is marked failed first so readers never see a job
// stuck in a transient state.
func (w *Worker) Handle(ctx context.Context, job roast.ScreenshotJob) error {
	rec, err := w.records.Get(ctx, job.RoastID)
	if errors.Is(err, roast.ErrRecordNotFound) {
		// The record write raced the queue delivery; rebuild it from the
		// job. The id is authoritative either way.
		rec = &roast.Record{
			ID:        job.RoastID,
			URL:       job.URL,
			Status:    roast.StatusPending,
			CreatedAt: w.clock.Now(),
			UpdatedAt: w.clock.Now(),
		}
		if err := w.records.Create(ctx, rec); err != nil {
			return fmt.Errorf("recreate roast record: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("load roast record: %w", err)
	}

	// Re-vet the URL even though submissions are sanitized: anything able
	// to publish to the topic could otherwise steer the browser at an
	// internal address. A bad URL is poison, not a transient failure, so
	// the job is not redelivered.
	targetURL, err := sanitize.Sanitize(job.URL)
	if err != nil {
		w.logger.Warn("rejected job with disallowed url",
			zap.String("job_id", job.JobID),
			zap.String("roast_id", job.RoastID),
			zap.Error(err),
		)
		w.markFailed(ctx, rec, err)
		return nil
	}

	w.setStatus(ctx, rec, roast.StatusCapturing)

	captured, err := w.capturer.Capture(ctx, targetURL)
	if err != nil {
		w.markFailed(ctx, rec, err)
		return fmt.Errorf("capture %s: %w", job.URL, err)
	}
	rec.Metrics = captured.Metrics

	desktop, err := imaging.Optimize(captured.DesktopImage, imaging.DesktopProfile)
	if err != nil {
		w.markFailed(ctx, rec, err)
		return fmt.Errorf("optimize desktop image: %w", err)
	}
	mobile, err := imaging.Optimize(captured.MobileImage, imaging.MobileProfile)
	if err != nil {
		w.markFailed(ctx, rec, err)
		return fmt.Errorf("optimize mobile image: %w", err)
	}

	desktopURL, err := w.blobs.Upload(ctx, job.RoastID+"/desktop.jpg", "image/jpeg", desktop)
	if err != nil {
		w.markFailed(ctx, rec, err)
		return fmt.Errorf("upload desktop image: %w", err)
	}
	mobileURL, err := w.blobs.Upload(ctx, job.RoastID+"/mobile.jpg", "image/jpeg", mobile)
	if err != nil {
		w.markFailed(ctx, rec, err)
		return fmt.Errorf("upload mobile image: %w", err)
	}
	rec.DesktopURL = desktopURL
	rec.MobileURL = mobileURL

	w.setStatus(ctx, rec, roast.StatusAnalyzing)

	result, err := w.analyzer.Analyze(ctx, desktopURL)
	if err != nil {
		w.markFailed(ctx, rec, err)
		return fmt.Errorf("analyze %s: %w", job.URL, err)
	}
	rec.ApplyResult(*result)

	// The share card rides along; losing it degrades sharing, not the
	// roast itself.
	if card, err := w.renderer.Render(imaging.CardInput{
		Screenshot: desktop,
		Roast:      result.Roast,
		Score:      result.Score,
		URL:        rec.URL,
	}); err != nil {
		w.logger.Warn("share card render failed", zap.String("roast_id", rec.ID), zap.Error(err))
	} else if cardURL, err := w.blobs.Upload(ctx, job.RoastID+"/share.jpg", "image/jpeg", card); err != nil {
		w.logger.Warn("share card upload failed", zap.String("roast_id", rec.ID), zap.Error(err))
	} else {
		rec.ShareCardURL = cardURL
	}

	rec.UpdatedAt = w.clock.Now()
	if err := w.records.Update(ctx, rec); err != nil {
		return fmt.Errorf("persist completed roast: %w", err)
	}

	w.cacheResult(ctx, rec)
	return nil
}

func (w *Worker) setStatus(ctx context.Context, rec *roast.Record, status roast.Status) {
	rec.Status = status
	rec.UpdatedAt = w.clock.Now()
	if err := w.records.Update(ctx, rec); err != nil {
		w.logger.Warn("status update failed",
			zap.String("roast_id", rec.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (w *Worker) markFailed(ctx context.Context, rec *roast.Record, cause error) {
	rec.Status = roast.StatusFailed
	rec.Error = cause.Error()
	rec.UpdatedAt = w.clock.Now()
	if err := w.records.Update(ctx, rec); err != nil {
		w.logger.Warn("failure update failed", zap.String("roast_id", rec.ID), zap.Error(err))
	}
}

// cacheResult writes the completed record into the warm tier keyed by its
// canonical URL, so a resubmission of the same page returns instantly.
func (w *Worker) cacheResult(ctx context.Context, rec *roast.Record) {
	key, err := cache.Key(w.hasher, rec.URL, nil)
	if err != nil {
		w.logger.Warn("cache key derivation failed", zap.String("roast_id", rec.ID), zap.Error(err))
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		w.logger.Warn("cache payload marshal failed", zap.String("roast_id", rec.ID), zap.Error(err))
		return
	}
	w.cache.Set(ctx, key, payload, roast.TierWarm)
}
