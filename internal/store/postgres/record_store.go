// Package postgres provides Postgres-backed persistence for roast
// records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roastmylanding/roastpipe/internal/roast"
)

// Expected schema:
//
//	CREATE TABLE roasts (
//	    id              TEXT PRIMARY KEY,
//	    url             TEXT NOT NULL,
//	    status          TEXT NOT NULL,
//	    roast           TEXT NOT NULL DEFAULT '',
//	    score           INT NOT NULL DEFAULT 0,
//	    breakdown       JSONB NOT NULL DEFAULT '{}',
//	    issues          JSONB NOT NULL DEFAULT '[]',
//	    quick_wins      JSONB NOT NULL DEFAULT '[]',
//	    model_agreement DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    desktop_url     TEXT NOT NULL DEFAULT '',
//	    mobile_url      TEXT NOT NULL DEFAULT '',
//	    share_card_url  TEXT NOT NULL DEFAULT '',
//	    metrics         JSONB NOT NULL DEFAULT '{}',
//	    error           TEXT NOT NULL DEFAULT '',
//	    view_count      BIGINT NOT NULL DEFAULT 0,
//	    created_at      TIMESTAMPTZ NOT NULL,
//	    updated_at      TIMESTAMPTZ NOT NULL
//	);

// Pool is the subset of pgxpool.Pool the store needs, so tests can
// substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// RecordStore implements roast.RecordStore on Postgres.
type RecordStore struct {
	pool Pool
}

// New connects a pool and returns a store.
func New(ctx context.Context, dsn string) (*RecordStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &RecordStore{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(pool Pool) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RecordStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	s.pool.Close()
}

const recordColumns = `id, url, status, roast, score, breakdown, issues, quick_wins,
	model_agreement, desktop_url, mobile_url, share_card_url, metrics, error,
	view_count, created_at, updated_at`

// Create inserts a new record.
func (s *RecordStore) Create(ctx context.Context, rec *roast.Record) error {
	breakdown, issues, quickWins, perf, err := marshalFields(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO roasts (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		rec.ID, rec.URL, rec.Status, rec.Roast, rec.Score, breakdown, issues, quickWins,
		rec.ModelAgreement, rec.DesktopURL, rec.MobileURL, rec.ShareCardURL, perf, rec.Error,
		rec.ViewCount, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert roast record: %w", err)
	}
	return nil
}

// Update rewrites every mutable column of an existing record.
func (s *RecordStore) Update(ctx context.Context, rec *roast.Record) error {
	breakdown, issues, quickWins, perf, err := marshalFields(rec)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE roasts SET
			status = $2, roast = $3, score = $4, breakdown = $5, issues = $6,
			quick_wins = $7, model_agreement = $8, desktop_url = $9, mobile_url = $10,
			share_card_url = $11, metrics = $12, error = $13, updated_at = $14
		 WHERE id = $1`,
		rec.ID, rec.Status, rec.Roast, rec.Score, breakdown, issues, quickWins,
		rec.ModelAgreement, rec.DesktopURL, rec.MobileURL, rec.ShareCardURL, perf,
		rec.Error, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update roast record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return roast.ErrRecordNotFound
	}
	return nil
}

// Get loads one record by id.
func (s *RecordStore) Get(ctx context.Context, id string) (*roast.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM roasts WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, roast.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load roast record: %w", err)
	}
	return rec, nil
}

// IncrementViews bumps the view counter and returns the new count.
func (s *RecordStore) IncrementViews(ctx context.Context, id string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`UPDATE roasts SET view_count = view_count + 1, updated_at = $2
		 WHERE id = $1 RETURNING view_count`,
		id, time.Now().UTC(),
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, roast.ErrRecordNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment views: %w", err)
	}
	return count, nil
}

// TopScores lists completed roasts, best score first, newest within a
// score.
func (s *RecordStore) TopScores(ctx context.Context, limit int) ([]*roast.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM roasts
		 WHERE status = $1
		 ORDER BY score DESC, created_at DESC
		 LIMIT $2`,
		roast.StatusCompleted, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query top scores: %w", err)
	}
	defer rows.Close()

	var records []*roast.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan top score row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top scores: %w", err)
	}
	return records, nil
}

func marshalFields(rec *roast.Record) (breakdown, issues, quickWins, perf []byte, err error) {
	if breakdown, err = json.Marshal(rec.Breakdown); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal breakdown: %w", err)
	}
	if rec.Issues == nil {
		issues = []byte("[]")
	} else if issues, err = json.Marshal(rec.Issues); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal issues: %w", err)
	}
	if rec.QuickWins == nil {
		quickWins = []byte("[]")
	} else if quickWins, err = json.Marshal(rec.QuickWins); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal quick wins: %w", err)
	}
	if perf, err = json.Marshal(rec.Metrics); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal metrics: %w", err)
	}
	return breakdown, issues, quickWins, perf, nil
}

func scanRecord(row pgx.Row) (*roast.Record, error) {
	var (
		rec       roast.Record
		breakdown []byte
		issues    []byte
		quickWins []byte
		perf      []byte
	)
	err := row.Scan(
		&rec.ID, &rec.URL, &rec.Status, &rec.Roast, &rec.Score, &breakdown, &issues,
		&quickWins, &rec.ModelAgreement, &rec.DesktopURL, &rec.MobileURL,
		&rec.ShareCardURL, &perf, &rec.Error, &rec.ViewCount, &rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(breakdown, &rec.Breakdown); err != nil {
		return nil, fmt.Errorf("unmarshal breakdown: %w", err)
	}
	if err := json.Unmarshal(issues, &rec.Issues); err != nil {
		return nil, fmt.Errorf("unmarshal issues: %w", err)
	}
	if err := json.Unmarshal(quickWins, &rec.QuickWins); err != nil {
		return nil, fmt.Errorf("unmarshal quick wins: %w", err)
	}
	if err := json.Unmarshal(perf, &rec.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return &rec, nil
}
