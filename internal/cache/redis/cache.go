// Package redis provides the tier-faithful Redis cache backend.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/roastmylanding/roastpipe/internal/cache"
	"github.com/roastmylanding/roastpipe/internal/metrics"
	"github.com/roastmylanding/roastpipe/internal/roast"
)

const (
	statsKey      = "stats:cache"
	scanBatchSize = 100
	promoteBudget = 5 * time.Second
)

// Config holds connection parameters for the Redis backend.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Cache implements roast.Cache on Redis. Values live in per-tier key
// namespaces with per-tier TTLs; a hit in a non-hot tier re-inserts the
// value into the hot namespace without blocking the read.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{client: client, logger: logger}, nil
}

// Close releases the underlying connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Get looks up key in the given tier. Backend errors are logged and
// reported as a miss; caching is never a correctness dependency.
func (c *Cache) Get(ctx context.Context, key string, tier roast.Tier) ([]byte, bool) {
	spec := cache.Spec(tier)
	value, err := c.client.Get(ctx, spec.Prefix+key).Bytes()
	if err == redis.Nil {
		c.recordMiss(ctx, spec)
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		c.recordMiss(ctx, spec)
		return nil, false
	}

	if spec.Name != roast.TierHot {
		c.promoteToHot(key, value)
	}
	if err := c.client.HIncrBy(ctx, statsKey, "hits", 1).Err(); err != nil {
		c.logger.Debug("cache stats update failed", zap.Error(err))
	}
	metrics.ObserveCacheRequest(string(spec.Name), "hit")
	return value, true
}

// Set stores value with the tier's fixed TTL. Failures are logged and
// swallowed; the caller proceeds without a cached result.
func (c *Cache) Set(ctx context.Context, key string, value []byte, tier roast.Tier) {
	spec := cache.Spec(tier)
	if err := c.client.SetEx(ctx, spec.Prefix+key, value, spec.TTL).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.HIncrBy(ctx, statsKey, "size", int64(len(value))).Err(); err != nil {
		c.logger.Debug("cache stats update failed", zap.Error(err))
	}
}

// promoteToHot re-writes a warm/cold hit into the hot tier. It runs in its
// own goroutine with a detached context so the triggering read returns
// without waiting; a failed promotion only costs a log line.
func (c *Cache) promoteToHot(key string, value []byte) {
	hot := cache.Tiers[roast.TierHot]
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), promoteBudget)
		defer cancel()
		if err := c.client.SetEx(ctx, hot.Prefix+key, value, hot.TTL).Err(); err != nil {
			c.logger.Warn("cache promotion failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// InvalidatePattern deletes all keys matching the glob using cursor-based
// SCAN so an unbounded keyspace never blocks the server.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	batch := make([]string, 0, scanBatchSize)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatchSize {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("delete matched keys: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan keys: %w", err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("delete matched keys: %w", err)
		}
	}
	return nil
}

// Stats reads the cumulative hit/miss counters.
func (c *Cache) Stats(ctx context.Context) (roast.CacheStats, error) {
	fields, err := c.client.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return roast.CacheStats{}, fmt.Errorf("read cache stats: %w", err)
	}
	stats := roast.CacheStats{
		Hits:       parseInt64(fields["hits"]),
		Misses:     parseInt64(fields["misses"]),
		TotalBytes: parseInt64(fields["size"]),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats, nil
}

// Ping verifies the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (c *Cache) recordMiss(ctx context.Context, spec cache.TierSpec) {
	if err := c.client.HIncrBy(ctx, statsKey, "misses", 1).Err(); err != nil {
		c.logger.Debug("cache stats update failed", zap.Error(err))
	}
	metrics.ObserveCacheRequest(string(spec.Name), "miss")
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
