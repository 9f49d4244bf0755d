// Package postgres provides a cache backend on Postgres for deployments
// that already run a database but no Redis. Tiers collapse to a flat TTL
// per entry; the tier prefix is kept in the key so invalidation patterns
// behave the same as on Redis.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/roastmylanding/roastpipe/internal/cache"
	"github.com/roastmylanding/roastpipe/internal/metrics"
	"github.com/roastmylanding/roastpipe/internal/roast"
)

// Cache implements roast.Cache on a single table:
//
//	CREATE TABLE cache_entries (
//	    key        TEXT PRIMARY KEY,
//	    value      BYTEA NOT NULL,
//	    expires_at TIMESTAMPTZ NOT NULL
//	);
type Cache struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New connects a pool and verifies the connection.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres cache: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres cache: %w", err)
	}
	return &Cache{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (c *Cache) Close() {
	c.pool.Close()
}

// Get looks up key in the given tier. Expired rows are treated as misses
// and deleted inline. Backend errors degrade to a miss.
func (c *Cache) Get(ctx context.Context, key string, tier roast.Tier) ([]byte, bool) {
	spec := cache.Spec(tier)
	fullKey := spec.Prefix + key

	var value []byte
	var expiresAt time.Time
	err := c.pool.QueryRow(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = $1`,
		fullKey,
	).Scan(&value, &expiresAt)
	if err == pgx.ErrNoRows {
		metrics.ObserveCacheRequest(string(spec.Name), "miss")
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		metrics.ObserveCacheRequest(string(spec.Name), "miss")
		return nil, false
	}
	if time.Now().After(expiresAt) {
		if _, err := c.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1`, fullKey); err != nil {
			c.logger.Debug("expired cache row delete failed", zap.Error(err))
		}
		metrics.ObserveCacheRequest(string(spec.Name), "miss")
		return nil, false
	}

	metrics.ObserveCacheRequest(string(spec.Name), "hit")
	return value, true
}

// Set upserts value with the tier's TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, tier roast.Tier) {
	spec := cache.Spec(tier)
	_, err := c.pool.Exec(ctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		spec.Prefix+key, value, time.Now().Add(spec.TTL),
	)
	if err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidatePattern deletes rows whose key matches the Redis-style glob,
// translated to a SQL LIKE pattern. Only '*' and '?' wildcards are
// supported, which covers the patterns the pipeline issues.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) error {
	_, err := c.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE key LIKE $1`, globToLike(pattern))
	if err != nil {
		return fmt.Errorf("invalidate cache pattern %q: %w", pattern, err)
	}
	return nil
}

// Stats reports live-entry counts. Hit/miss counters are not persisted on
// this backend; process-level numbers are available from Prometheus.
func (c *Cache) Stats(ctx context.Context) (roast.CacheStats, error) {
	var totalBytes int64
	err := c.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(LENGTH(value)), 0) FROM cache_entries WHERE expires_at > NOW()`,
	).Scan(&totalBytes)
	if err != nil {
		return roast.CacheStats{}, fmt.Errorf("read cache stats: %w", err)
	}
	return roast.CacheStats{TotalBytes: totalBytes}, nil
}

// Ping verifies the pool connection.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres cache: %w", err)
	}
	return nil
}

// globToLike converts a glob pattern to a LIKE pattern, escaping LIKE's
// own metacharacters first.
func globToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
