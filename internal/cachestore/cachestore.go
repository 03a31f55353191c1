// Package cachestore keeps the aggregated statistics in a key-value store as a
// timestamped record and answers reads only while the record is fresh.
package cachestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/walinekit/sitestats/internal/aggregate"
	"github.com/walinekit/sitestats/internal/clock"
	"github.com/walinekit/sitestats/internal/stats"
	"github.com/walinekit/sitestats/internal/store"
)

// DefaultTTL is how long a written record stays valid.
const DefaultTTL = 5 * time.Minute

// ErrCorrupt marks a persisted record that could not be decoded.
var ErrCorrupt = errors.New("cachestore: corrupt entry")

// Count is a cached counter. It decodes from a JSON number or a numeric
// string; other scalars decode as zero.
type Count int64

// UnmarshalJSON implements json.Unmarshaler.
func (c *Count) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch v.(type) {
	case map[string]any, []any:
		return fmt.Errorf("count: unexpected %s", b)
	}
	*c = Count(aggregate.Coerce(v))
	return nil
}

// Snapshot is the cached statistics payload. Either counter may be absent.
type Snapshot struct {
	PV *int64 `json:"pv,omitempty"`
	UV *Count `json:"uv,omitempty"`
}

// record is the persisted form of a Snapshot.
type record struct {
	Stats     Snapshot `json:"stats"`
	Timestamp int64    `json:"timestamp"`
}

// Cache reads and writes Snapshots with a TTL.
type Cache struct {
	backend   store.Store
	ttl       time.Duration
	clock     clock.Clock
	collector stats.Collector
	logger    *zap.Logger
}

// Option configures a Cache.
type Option interface {
	apply(*Cache)
}

type optionFunc func(*Cache)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(c *Cache) { f(c) }

// WithTTL sets the validity window. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return optionFunc(func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	})
}

// WithClock sets the time source used for timestamps and expiry.
func WithClock(clk clock.Clock) Option {
	return optionFunc(func(c *Cache) {
		c.clock = clk
	})
}

// WithStats sets the stats collector.
func WithStats(s stats.Collector) Option {
	return optionFunc(func(c *Cache) {
		c.collector = s
	})
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *Cache) {
		c.logger = l
	})
}

// New returns a Cache persisting into backend.
func New(backend store.Store, opts ...Option) *Cache {
	c := &Cache{
		backend:   backend,
		ttl:       DefaultTTL,
		clock:     clock.New(),
		collector: stats.NewNoop(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// TTL returns the validity window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the snapshot stored under key if it is present, decodable and
// younger than the TTL. Expired records are deleted.
func (c *Cache) Get(ctx context.Context, key string) (Snapshot, bool) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("reading cache entry", zap.String("key", key), zap.Error(err))
		}
		c.collector.IncCounter(stats.MetricCacheMisses, 1)
		return Snapshot{}, false
	}

	rec, err := decode(data)
	if err != nil {
		c.logger.Debug("discarding cache entry", zap.String("key", key), zap.Error(err))
		c.collector.IncCounter(stats.MetricCacheCorrupt, 1)
		c.collector.IncCounter(stats.MetricCacheMisses, 1)
		return Snapshot{}, false
	}

	if age := c.age(rec); age >= c.ttl {
		c.logger.Debug("cache entry expired", zap.String("key", key), zap.Duration("age", age))
		if err := c.backend.Delete(ctx, key); err != nil {
			c.logger.Warn("deleting expired cache entry", zap.String("key", key), zap.Error(err))
		}
		c.collector.IncCounter(stats.MetricCacheMisses, 1)
		return Snapshot{}, false
	}

	c.collector.IncCounter(stats.MetricCacheHits, 1)
	return rec.Stats, true
}

// Peek is Get without side effects: it records no metrics and leaves
// expired or corrupt records in place.
func (c *Cache) Peek(ctx context.Context, key string) (Snapshot, bool) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		return Snapshot{}, false
	}
	rec, err := decode(data)
	if err != nil || c.age(rec) >= c.ttl {
		return Snapshot{}, false
	}
	return rec.Stats, true
}

func (c *Cache) age(rec record) time.Duration {
	return c.clock.Now().Sub(time.UnixMilli(rec.Timestamp))
}

// Set stores snap under key with the current time. Failures are logged and
// otherwise ignored.
func (c *Cache) Set(ctx context.Context, key string, snap Snapshot) {
	data, err := json.Marshal(record{
		Stats:     snap,
		Timestamp: c.clock.Now().UnixMilli(),
	})
	if err == nil {
		err = c.backend.Set(ctx, key, data)
	}
	if err != nil {
		c.logger.Warn("writing cache entry", zap.String("key", key), zap.Error(err))
		c.collector.IncCounter(stats.MetricCacheWriteErrors, 1)
	}
}

// Clear deletes the record stored under key.
func (c *Cache) Clear(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("clearing %s: %w", key, err)
	}
	return nil
}

func decode(data []byte) (record, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rec.Timestamp <= 0 {
		return record{}, fmt.Errorf("%w: missing timestamp", ErrCorrupt)
	}
	return rec, nil
}
