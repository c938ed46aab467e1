// Package memtransport is an in-memory transport.Store used by tests. It
// lets the dispatcher, download driver, and sanitizer be exercised without
// a live IPFS node.
package memtransport

import (
	"context"
	"sync"

	"github.com/zfsd-project/zfsd/internal/transport"
)

// Store is a concurrency-safe in-memory key/value store implementing
// transport.Store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte

	// Dropped, if set, reports whether Get should behave as if key were
	// never published -- used to simulate lossy transport in tests.
	Dropped func(key string) bool
}

func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Publish(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[key] = cp
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if s.Dropped != nil && s.Dropped(key) {
		return nil, transport.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, transport.ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

// Has reports whether key has been published, ignoring Dropped.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

var _ transport.Store = (*Store)(nil)
