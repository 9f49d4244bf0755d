// Package memory provides an in-process job queue for local development
// and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roastmylanding/roastpipe/internal/metrics"
	"github.com/roastmylanding/roastpipe/internal/queue"
	"github.com/roastmylanding/roastpipe/internal/roast"
)

type delivery struct {
	job      roast.ScreenshotJob
	attempts int
}

// Config tunes the in-memory queue.
type Config struct {
	// Depth is the channel capacity; Enqueue blocks when full.
	Depth int
	// MaxConcurrent bounds jobs processed at once.
	MaxConcurrent int
	// MaxAttempts caps deliveries per job, failures included.
	MaxAttempts int
	// HandlerTimeout plays the role of the visibility timeout: a handler
	// still running when it fires counts as failed and the job is
	// redelivered.
	HandlerTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Depth <= 0 {
		c.Depth = 64
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 120 * time.Second
	}
}

// Queue is a bounded in-memory queue implementing both roast.Enqueuer and
// roast.Consumer. Redelivery re-enqueues the job until its attempt budget
// runs out.
type Queue struct {
	cfg      Config
	ch       chan delivery
	recorder *queue.Recorder
	logger   *zap.Logger

	closeMu sync.RWMutex
	closed  bool
}

// New constructs a queue.
func New(cfg Config, logger *zap.Logger) *Queue {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		cfg:      cfg,
		ch:       make(chan delivery, cfg.Depth),
		recorder: queue.NewRecorder(logger),
		logger:   logger,
	}
}

// Enqueue pushes a job or returns when the context ends. The read lock
// is held across the send so Close cannot close the channel under an
// in-flight Enqueue.
func (q *Queue) Enqueue(ctx context.Context, job roast.ScreenshotJob) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return fmt.Errorf("enqueue failed: queue closed")
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- delivery{job: job, attempts: 1}:
		return nil
	}
}

// Consume dispatches jobs to handler until ctx is cancelled, running at
// most MaxConcurrent handlers at once. In-flight jobs are abandoned on
// shutdown; a durable transport would redeliver them.
func (q *Queue) Consume(ctx context.Context, handler roast.JobHandler) error {
	sem := make(chan struct{}, q.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case d, ok := <-q.ch:
			if !ok {
				wg.Wait()
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			}
			wg.Add(1)
			go func(d delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				q.process(ctx, d, handler)
			}(d)
		}
	}
}

func (q *Queue) process(ctx context.Context, d delivery, handler roast.JobHandler) {
	q.recorder.Record(queue.EventReceived, d.job.JobID, zap.Int("attempt", d.attempts))
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	jobCtx, cancel := context.WithTimeout(ctx, q.cfg.HandlerTimeout)
	defer cancel()

	err := handler(jobCtx, d.job)
	if err == nil {
		q.recorder.Record(queue.EventProcessed, d.job.JobID)
		return
	}

	kind := queue.EventProcessingError
	if errors.Is(err, context.DeadlineExceeded) {
		kind = queue.EventTimeout
	}
	q.recorder.Record(kind, d.job.JobID, zap.Int("attempt", d.attempts), zap.Error(err))

	if d.attempts >= q.cfg.MaxAttempts {
		q.logger.Error("job dropped after final attempt",
			zap.String("job_id", d.job.JobID),
			zap.Int("attempts", d.attempts),
		)
		return
	}
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		q.logger.Error("redelivery dropped, queue closed", zap.String("job_id", d.job.JobID))
		return
	}
	select {
	case q.ch <- delivery{job: d.job, attempts: d.attempts + 1}:
	default:
		// Queue full during redelivery; drop rather than deadlock the
		// consumer.
		q.logger.Error("redelivery dropped, queue full", zap.String("job_id", d.job.JobID))
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
