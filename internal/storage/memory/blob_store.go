// Package memory provides an in-process BlobStore for tests and local
// runs.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Object is one stored blob.
type Object struct {
	ContentType string
	Data        []byte
}

// BlobStore keeps uploads in a map and hands back memory:// URLs.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string]Object
}

// New creates an empty blob store.
func New() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// Upload stores data under key.
func (s *BlobStore) Upload(_ context.Context, key, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("object key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
	}
	return "memory://" + key, nil
}

// Get returns a stored object, for tests.
func (s *BlobStore) Get(key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Len reports the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
