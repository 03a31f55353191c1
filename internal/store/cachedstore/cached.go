package cachedstore

import (
	"context"

	"github.com/walinekit/sitestats/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store wraps another Store with a write-through memo.
type Store struct {
	underlying store.Store
	backend    Backend
}

// New creates a new memoizing store wrapping the given store.
func New(underlying store.Store, backend Backend) *Store {
	return &Store{
		underlying: underlying,
		backend:    backend,
	}
}

// Get reads a value, checking the memo first.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if data, ok := s.backend.Get(key); ok {
		return data, nil
	}

	data, err := s.underlying.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	s.backend.Set(key, data)
	return data, nil
}

// Set writes through to the underlying store and refreshes the memo only
// once the write succeeded.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.underlying.Set(ctx, key, value); err != nil {
		s.backend.Delete(key)
		return err
	}
	s.backend.Set(key, value)
	return nil
}

// Delete removes key from both layers.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.backend.Delete(key)
	return s.underlying.Delete(ctx, key)
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.underlying.Close()
}

// Stats returns memo statistics.
func (s *Store) Stats() Stats {
	return s.backend.Stats()
}
