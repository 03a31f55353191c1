// Package sqlstore implements a SQL storage backend over database/sql. SQLite
// (modernc.org/sqlite, no cgo) and Postgres (github.com/lib/pq) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/walinekit/sitestats/internal/store"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "sitestats_cache"

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// dialect captures the differences between supported drivers.
type dialect struct {
	blobType    string
	placeholder func(n int) string
}

var dialects = map[string]dialect{
	"sqlite": {
		blobType:    "BLOB",
		placeholder: func(int) string { return "?" },
	},
	"postgres": {
		blobType:    "BYTEA",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	},
}

// Store keeps records in a single key/value table.
type Store struct {
	db    *sql.DB
	table string
	now   func() time.Time

	getSQL    string
	setSQL    string
	deleteSQL string
}

// Option configures a Store.
type Option func(*Store)

// WithTable overrides the table name.
func WithTable(table string) Option {
	return func(s *Store) {
		s.table = table
	}
}

// Open connects using driver ("sqlite" or "postgres") and dsn, and creates the
// table if it does not exist.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if driver == "sqlite" {
		// SQLite allows a single writer; share one connection.
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:    db,
		table: DefaultTable,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.prepareStatements(d)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value %s NOT NULL,
		updated_at BIGINT NOT NULL
	)`, s.table, d.blobType)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return s, nil
}

func (s *Store) prepareStatements(d dialect) {
	p := d.placeholder
	s.getSQL = fmt.Sprintf(`SELECT value FROM %s WHERE key = %s`, s.table, p(1))
	s.setSQL = fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES (%s, %s, %s)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.table, p(1), p(2), p(3))
	s.deleteSQL = fmt.Sprintf(`DELETE FROM %s WHERE key = %s`, s.table, p(1))
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.getSQL, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying record: %w", err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.setSQL, key, value, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.deleteSQL, key); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
