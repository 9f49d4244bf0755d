// Package memory provides an in-process RecordStore for tests and local
// runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/roastmylanding/roastpipe/internal/roast"
)

// RecordStore keeps roast records in a map.
type RecordStore struct {
	mu      sync.Mutex
	records map[string]roast.Record
}

// New creates an empty store.
func New() *RecordStore {
	return &RecordStore{records: make(map[string]roast.Record)}
}

// Create inserts a new record.
func (s *RecordStore) Create(_ context.Context, rec *roast.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = *rec
	return nil
}

// Update replaces an existing record.
func (s *RecordStore) Update(_ context.Context, rec *roast.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return roast.ErrRecordNotFound
	}
	s.records[rec.ID] = *rec
	return nil
}

// Get loads one record by id.
func (s *RecordStore) Get(_ context.Context, id string) (*roast.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, roast.ErrRecordNotFound
	}
	return &rec, nil
}

// IncrementViews bumps the view counter and returns the new count.
func (s *RecordStore) IncrementViews(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return 0, roast.ErrRecordNotFound
	}
	rec.ViewCount++
	s.records[id] = rec
	return rec.ViewCount, nil
}

// TopScores lists completed roasts, best score first, newest within a
// score.
func (s *RecordStore) TopScores(_ context.Context, limit int) ([]*roast.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed []roast.Record
	for _, rec := range s.records {
		if rec.Status == roast.StatusCompleted {
			completed = append(completed, rec)
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		if completed[i].Score != completed[j].Score {
			return completed[i].Score > completed[j].Score
		}
		return completed[i].CreatedAt.After(completed[j].CreatedAt)
	})
	if len(completed) > limit {
		completed = completed[:limit]
	}

	out := make([]*roast.Record, len(completed))
	for i := range completed {
		rec := completed[i]
		out[i] = &rec
	}
	return out, nil
}
