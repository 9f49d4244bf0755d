// Package pubsub provides the Google Cloud Pub/Sub job queue transport.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/roastmylanding/roastpipe/internal/metrics"
	"github.com/roastmylanding/roastpipe/internal/queue"
	"github.com/roastmylanding/roastpipe/internal/roast"
)

// Config identifies the topic and subscription plus receive tuning.
type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
	// MaxConcurrent caps outstanding messages, and with them the number
	// of parallel handlers.
	MaxConcurrent int
	// AckDeadline extends how long a message stays invisible while a
	// handler runs. Must exceed the worst-case job latency or the
	// subscription redelivers jobs that are still in flight.
	AckDeadline time.Duration
}

// Queue implements roast.Enqueuer and roast.Consumer on Pub/Sub.
type Queue struct {
	client   *pubsub.Client
	topic    *pubsub.Topic
	sub      *pubsub.Subscription
	recorder *queue.Recorder
	logger   *zap.Logger
}

// New connects a Pub/Sub client using Application Default Credentials and
// verifies that the topic and subscription exist.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.TopicID)
	if ok, err := topic.Exists(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("check topic %q: %w", cfg.TopicID, err)
	} else if !ok {
		client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}

	sub := client.Subscription(cfg.SubscriptionID)
	if ok, err := sub.Exists(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("check subscription %q: %w", cfg.SubscriptionID, err)
	} else if !ok {
		client.Close()
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", cfg.SubscriptionID, cfg.ProjectID)
	}

	if cfg.MaxConcurrent > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxConcurrent
	}
	if cfg.AckDeadline > 0 {
		sub.ReceiveSettings.MaxExtension = cfg.AckDeadline
	}

	return &Queue{
		client:   client,
		topic:    topic,
		sub:      sub,
		recorder: queue.NewRecorder(logger),
		logger:   logger,
	}, nil
}

// Enqueue publishes a job and waits for the server acknowledgement, so a
// failed publish surfaces to the caller instead of silently losing the
// job.
func (q *Queue) Enqueue(ctx context.Context, job roast.ScreenshotJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal screenshot job: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: payload})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish screenshot job: %w", err)
	}
	return nil
}

// Consume receives jobs until ctx is cancelled. Handler success acks the
// message; any failure nacks it for redelivery. Malformed payloads are
// acked so a poison message cannot loop forever.
func (q *Queue) Consume(ctx context.Context, handler roast.JobHandler) error {
	err := q.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		var job roast.ScreenshotJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			q.recorder.Record(queue.EventTransportError, "", zap.Error(err))
			msg.Ack()
			return
		}

		q.recorder.Record(queue.EventReceived, job.JobID)
		metrics.IncActiveJobs()
		defer metrics.DecActiveJobs()

		if err := handler(msgCtx, job); err != nil {
			kind := queue.EventProcessingError
			if errors.Is(err, context.DeadlineExceeded) {
				kind = queue.EventTimeout
			}
			q.recorder.Record(kind, job.JobID, zap.Error(err))
			msg.Nack()
			return
		}
		q.recorder.Record(queue.EventProcessed, job.JobID)
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		q.recorder.Record(queue.EventTransportError, "", zap.Error(err))
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return err
}

// Close flushes the publisher and closes the client.
func (q *Queue) Close() error {
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
