// Package queue defines the job queue event vocabulary shared by every
// transport.
package queue

import (
	"go.uber.org/zap"

	"github.com/roastmylanding/roastpipe/internal/metrics"
)

// Lifecycle event kinds emitted by consumers.
const (
	EventReceived        = "received"
	EventProcessed       = "processed"
	EventProcessingError = "processing_error"
	EventTimeout         = "timeout"
	EventTransportError  = "transport_error"
)

// Recorder emits one log line and one counter increment per consumer
// lifecycle event, so the two views always agree.
type Recorder struct {
	logger *zap.Logger
}

// NewRecorder builds a Recorder.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger}
}

// Record notes one lifecycle event for a job.
func (r *Recorder) Record(kind, jobID string, fields ...zap.Field) {
	metrics.ObserveQueueEvent(kind)
	fields = append([]zap.Field{
		zap.String("event", kind),
		zap.String("job_id", jobID),
	}, fields...)
	switch kind {
	case EventProcessingError, EventTimeout, EventTransportError:
		r.logger.Warn("queue event", fields...)
	default:
		r.logger.Info("queue event", fields...)
	}
}
