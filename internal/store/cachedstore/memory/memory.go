// Package memory implements an in-memory memo backend.
package memory

import (
	"sync/atomic"

	"github.com/walinekit/sitestats/internal/stats"
	"github.com/walinekit/sitestats/internal/store/cachedstore"
	"github.com/walinekit/sitestats/internal/store/cachedstore/cachestrategy"
)

// Compile-time check that Backend implements cachedstore.Backend.
var _ cachedstore.Backend = (*Backend)(nil)

// Backend is a thread-safe in-memory memo backend.
type Backend struct {
	strategy  cachestrategy.Strategy
	collector stats.Collector

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a new memory backend with the given eviction strategy.
// The collector is optional; if nil, a no-op collector is used.
func New(strategy cachestrategy.Strategy, collector stats.Collector) *Backend {
	if collector == nil {
		collector = stats.NewNoop()
	}
	return &Backend{
		strategy:  strategy,
		collector: collector,
	}
}

// Get retrieves a value from the memo.
func (b *Backend) Get(key string) ([]byte, bool) {
	val, ok := b.strategy.Get(key)
	if ok {
		b.hits.Add(1)
		b.collector.IncCounter(stats.MetricMemoHits, 1)
		return val, true
	}
	b.misses.Add(1)
	b.collector.IncCounter(stats.MetricMemoMisses, 1)
	return nil, false
}

// Set stores a value in the memo.
func (b *Backend) Set(key string, data []byte) {
	b.strategy.Add(key, data)
	b.collector.SetGauge(stats.MetricMemoSize, int64(b.strategy.Len()))
}

// Delete drops key from the memo.
func (b *Backend) Delete(key string) {
	if b.strategy.Remove(key) {
		b.collector.SetGauge(stats.MetricMemoSize, int64(b.strategy.Len()))
	}
}

// Stats returns current memo statistics.
func (b *Backend) Stats() cachedstore.Stats {
	return cachedstore.Stats{
		Hits:   b.hits.Load(),
		Misses: b.misses.Load(),
		Size:   b.strategy.Len(),
	}
}
