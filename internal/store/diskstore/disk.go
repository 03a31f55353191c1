// Package diskstore implements a filesystem storage backend. Each key is one
// file under <root>/records, compressed with the configured codec. Writers in
// different processes are serialized with an advisory file lock.
package diskstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/walinekit/sitestats/internal/codec"
	"github.com/walinekit/sitestats/internal/store"
)

// lockRetryDelay is how often a blocked lock attempt is retried.
const lockRetryDelay = 10 * time.Millisecond

// ErrInvalidKey is returned for keys that cannot be mapped to a file name.
var ErrInvalidKey = errors.New("diskstore: invalid key")

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is a disk-based filesystem storage backend.
type Store struct {
	root  string
	codec codec.Codec

	// mu serializes use of lock within this process; lock guards
	// against other processes sharing root.
	mu   sync.Mutex
	lock *flock.Flock
}

// New creates a new disk store rooted at the given directory.
// The directory must exist; the records subdirectory is created on demand.
func New(root string, c codec.Codec) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	if err := os.MkdirAll(filepath.Join(root, "records"), 0o755); err != nil {
		return nil, fmt.Errorf("creating records directory: %w", err)
	}

	return &Store{
		root:  root,
		codec: c,
		lock:  flock.New(filepath.Join(root, ".lock")),
	}, nil
}

// Get reads and decompresses the record stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.recordPath(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lock.TryRLockContext(ctx, lockRetryDelay); err != nil {
		return nil, fmt.Errorf("acquiring read lock: %w", err)
	}
	defer s.lock.Unlock()

	compressed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("reading record: %w", err)
	}

	data, err := codec.Decode(s.codec, compressed)
	if err != nil {
		return nil, fmt.Errorf("decoding record %q: %w", key, err)
	}
	return data, nil
}

// Set compresses value and replaces the record atomically via rename.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	path, err := s.recordPath(key)
	if err != nil {
		return err
	}

	compressed, err := codec.Encode(s.codec, value)
	if err != nil {
		return fmt.Errorf("encoding record %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return fmt.Errorf("acquiring write lock: %w", err)
	}
	defer s.lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		return fmt.Errorf("writing record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing record: %w", err)
	}
	return nil
}

// Delete removes the record stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	path, err := s.recordPath(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return fmt.Errorf("acquiring write lock: %w", err)
	}
	defer s.lock.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing record: %w", err)
	}
	return nil
}

// Close releases the lock file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Close()
}

// recordPath returns the filesystem path for a key.
func (s *Store) recordPath(key string) (string, error) {
	name, err := s.recordName(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, "records", name), nil
}

// recordName escapes key into a single path segment.
func (s *Store) recordName(key string) (string, error) {
	if key == "" || key == "." || key == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	name := url.PathEscape(key)
	if ext := s.codec.Extension(); ext != "" {
		name += "." + ext
	}
	return name, nil
}
