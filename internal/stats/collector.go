// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the library.
const (
	// Refresh metrics.
	MetricRefreshes      = "sitestats_refreshes_total"
	MetricPathsCollected = "sitestats_paths_collected"
	MetricTotalPageviews = "sitestats_total_pageviews"

	// Persisted cache metrics.
	MetricCacheHits        = "sitestats_cache_hits_total"
	MetricCacheMisses      = "sitestats_cache_misses_total"
	MetricCacheCorrupt     = "sitestats_cache_corrupt_total"
	MetricCacheWriteErrors = "sitestats_cache_write_errors_total"

	// In-process memo layer metrics.
	MetricMemoHits   = "sitestats_memo_hits_total"
	MetricMemoMisses = "sitestats_memo_misses_total"
	MetricMemoSize   = "sitestats_memo_size"

	// Remote source metrics.
	MetricFetchAttempts    = "sitestats_fetch_attempts_total"
	MetricFetchFailures    = "sitestats_fetch_failures_total"
	MetricParseErrors      = "sitestats_parse_errors_total"
	MetricSourcesExhausted = "sitestats_sources_exhausted_total"
	MetricFetchSeconds     = "sitestats_fetch_seconds"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
