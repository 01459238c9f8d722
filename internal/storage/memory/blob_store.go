// Package memory stores blob content in-memory for development and tests.
package memory

import (
	"context"
	"sync"
)

// BlobStore stores objects in a map and records bucket-ensure calls.
type BlobStore struct {
	mu            sync.RWMutex
	data          map[string][]byte
	ensureCalls   int
	putShouldFail error
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// EnsureBucket counts invocations; it never fails.
func (s *BlobStore) EnsureBucket(_ context.Context) error {
	s.mu.Lock()
	s.ensureCalls++
	s.mu.Unlock()
	return nil
}

// Put persists the content under key and returns the key as the path.
func (s *BlobStore) Put(_ context.Context, key string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putShouldFail != nil {
		return "", s.putShouldFail
	}
	s.data[key] = append([]byte(nil), data...)
	return key, nil
}

// Get returns the stored object, if any.
func (s *BlobStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[key]
	return d, ok
}

// Len reports the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// EnsureCalls reports how many times EnsureBucket ran.
func (s *BlobStore) EnsureCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ensureCalls
}

// FailPuts makes subsequent Put calls return err.
func (s *BlobStore) FailPuts(err error) {
	s.mu.Lock()
	s.putShouldFail = err
	s.mu.Unlock()
}
