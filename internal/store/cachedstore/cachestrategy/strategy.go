// Package cachestrategy defines memo eviction strategy interfaces.
package cachestrategy

// Strategy defines the interface for memo eviction strategies.
type Strategy interface {
	Get(key string) ([]byte, bool)
	Add(key string, value []byte) bool
	Remove(key string) bool
	Len() int
}
