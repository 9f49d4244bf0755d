package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roastmylanding/roastpipe/internal/roast"
)

func job(id string) roast.ScreenshotJob {
	return roast.ScreenshotJob{
		JobID:      id,
		URL:        "https://example.com/",
		RoastID:    "roast-" + id,
		EnqueuedAt: time.Now().UTC(),
	}
}

func runConsumer(t *testing.T, q *Queue, handler roast.JobHandler) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, handler)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func TestConsumeProcessesJobs(t *testing.T) {
	q := New(Config{}, zap.NewNop())
	var processed sync.Map
	var count atomic.Int32
	handled := make(chan struct{}, 3)

	stop := runConsumer(t, q, func(_ context.Context, j roast.ScreenshotJob) error {
		processed.Store(j.JobID, true)
		count.Add(1)
		handled <- struct{}{}
		return nil
	})
	defer stop()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, job(id)))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-handled:
		case <-time.After(5 * time.Second):
			t.Fatal("job was not processed")
		}
	}
	require.Equal(t, int32(3), count.Load())
	for _, id := range []string{"a", "b", "c"} {
		_, ok := processed.Load(id)
		require.True(t, ok, "job %s not processed", id)
	}
}

func TestConsumeBoundsConcurrency(t *testing.T) {
	const maxConcurrent = 2
	q := New(Config{MaxConcurrent: maxConcurrent}, zap.NewNop())

	var active, peak atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 8)

	stop := runConsumer(t, q, func(_ context.Context, _ roast.ScreenshotJob) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		started <- struct{}{}
		<-release
		active.Add(-1)
		return nil
	})
	defer stop()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, job(string(rune('a'+i)))))
	}

	// Wait for the pool to saturate, then let everything through.
	for i := 0; i < maxConcurrent; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("jobs did not start")
		}
	}
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(maxConcurrent), active.Load())
	close(release)

	require.Eventually(t, func() bool { return active.Load() == 0 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(maxConcurrent), peak.Load())
}

func TestFailedJobIsRedelivered(t *testing.T) {
	q := New(Config{MaxAttempts: 3}, zap.NewNop())

	var attempts atomic.Int32
	done := make(chan struct{})
	stop := runConsumer(t, q, func(_ context.Context, _ roast.ScreenshotJob) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient failure")
		}
		close(done)
		return nil
	})
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), job("retry")))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not redelivered to success")
	}
	require.Equal(t, int32(3), attempts.Load())
}

func TestJobDroppedAfterFinalAttempt(t *testing.T) {
	q := New(Config{MaxAttempts: 2}, zap.NewNop())

	var attempts atomic.Int32
	stop := runConsumer(t, q, func(_ context.Context, _ roast.ScreenshotJob) error {
		attempts.Add(1)
		return errors.New("permanent failure")
	})
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), job("doomed")))
	require.Eventually(t, func() bool { return attempts.Load() == 2 }, 5*time.Second, 10*time.Millisecond)

	// Give a would-be third delivery time to appear.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(2), attempts.Load())
}

func TestHandlerTimeoutCancelsContext(t *testing.T) {
	q := New(Config{HandlerTimeout: 50 * time.Millisecond, MaxAttempts: 1}, zap.NewNop())

	timedOut := make(chan struct{})
	stop := runConsumer(t, q, func(ctx context.Context, _ roast.ScreenshotJob) error {
		<-ctx.Done()
		close(timedOut)
		return ctx.Err()
	})
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), job("slow")))
	select {
	case <-timedOut:
	case <-time.After(5 * time.Second):
		t.Fatal("handler context was not cancelled")
	}
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	q := New(Config{}, zap.NewNop())
	q.Close()

	err := q.Enqueue(context.Background(), job("late"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "queue closed")

	// Closing again is a no-op.
	q.Close()
}

func TestEnqueueRespectsContext(t *testing.T) {
	q := New(Config{Depth: 1}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, job("fills-queue")))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Enqueue(cancelled, job("blocked"))
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}
