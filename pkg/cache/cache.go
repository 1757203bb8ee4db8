// Package cache provides generic, thread-safe caches used by the runtime
// for compiled target filters and resolved binding methods.
package cache

import (
	"github.com/c360/semwire/errors"
)

// Cache is a generic string-keyed cache.
type Cache[V any] interface {
	// Get returns the value and true if the key is present.
	Get(key string) (V, bool)

	// Set stores a value. It reports true when a new entry was created.
	Set(key string, value V) (bool, error)

	// Delete removes an entry and reports whether it existed.
	Delete(key string) (bool, error)

	// Clear removes all entries.
	Clear() error

	// Size returns the number of entries.
	Size() int

	// Keys returns all keys; LRU caches return most recently used first.
	Keys() []string

	// Stats returns the cache statistics.
	Stats() *Statistics
}

// EvictCallback is called with the key and value of an evicted entry.
type EvictCallback[V any] func(key string, value V)

// NewLRU creates a cache that holds at most maxSize entries.
func NewLRU[V any](maxSize int, options ...Option[V]) (Cache[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLRU", "max size must be positive")
	}
	return newLRUCache(maxSize, applyOptions(options...))
}

// NewSimple creates a cache without eviction.
func NewSimple[V any](options ...Option[V]) (Cache[V], error) {
	return newSimpleCache(applyOptions(options...))
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
