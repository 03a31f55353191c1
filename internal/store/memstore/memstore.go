// Package memstore provides an in-memory store, used by tests and by
// processes that do not need the cache to survive a restart.
package memstore

import (
	"context"
	"sync"

	"github.com/walinekit/sitestats/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is an in-memory key-value store.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
	failOn map[string]error
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		values: make(map[string][]byte),
		failOn: make(map[string]error),
	}
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failOn["get"]; err != nil {
		return nil, err
	}
	v, ok := s.values[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(v), nil
}

// Set stores a copy of value so caller mutations do not leak into the store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failOn["set"]; err != nil {
		return err
	}
	s.values[key] = clone(value)
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failOn["delete"]; err != nil {
		return err
	}
	delete(s.values, key)
	return nil
}

// FailOn makes the named operation ("get", "set" or "delete") return err.
// A nil err clears the failure. Intended for test setup.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, op)
		return
	}
	s.failOn[op] = err
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
