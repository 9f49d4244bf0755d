package roast

import (
	"context"
	"time"
)

// Tier names a cache tier. Lookups fall back to TierWarm on unknown
// values.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hitRate"`
	TotalBytes int64   `json:"totalBytes"`
}

// Cache is the tiered result cache. Get and Set never return errors;
// backends degrade to misses so caching stays off the critical path.
type Cache interface {
	Get(ctx context.Context, key string, tier Tier) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, tier Tier)
	InvalidatePattern(ctx context.Context, pattern string) error
	Stats(ctx context.Context) (CacheStats, error)
	Ping(ctx context.Context) error
}

// BlobStore persists rendered images and returns a public URL.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// RecordStore persists roast records.
type RecordStore interface {
	Create(ctx context.Context, rec *Record) error
	Update(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	IncrementViews(ctx context.Context, id string) (int64, error)
	TopScores(ctx context.Context, limit int) ([]*Record, error)
}

// Enqueuer submits screenshot jobs to the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job ScreenshotJob) error
}

// JobHandler processes one screenshot job. A returned error requests
// redelivery.
type JobHandler func(ctx context.Context, job ScreenshotJob) error

// Consumer pulls jobs and dispatches them to a handler until ctx is
// cancelled.
type Consumer interface {
	Consume(ctx context.Context, handler JobHandler) error
}

// Capturer renders a page and returns its screenshots.
type Capturer interface {
	Capture(ctx context.Context, url string) (*CaptureResult, error)
}

// Analyzer turns a screenshot URL into a merged critique.
type Analyzer interface {
	Analyze(ctx context.Context, imageURL string) (*EnsembleResult, error)
}

// Hasher produces hex digests for cache keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints identifiers for roasts and jobs.
type IDGenerator interface {
	NewID() (string, error)
}
