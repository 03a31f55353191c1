// Package cachedstore puts an in-process memo in front of a slower Store, so
// repeated refreshes in one process do not round-trip to disk or the network.
package cachedstore

// Backend defines the interface for memo storage backends.
// Implementations handle storage and eviction strategy.
type Backend interface {
	// Get retrieves a memoized value. Returns nil, false if not found.
	Get(key string) ([]byte, bool)

	// Set stores a value in the memo.
	Set(key string, data []byte)

	// Delete drops key from the memo.
	Delete(key string)

	// Stats returns memo statistics.
	Stats() Stats
}

// Stats contains memo statistics.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int // Current number of entries
}

// HitRate returns the memo hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}
