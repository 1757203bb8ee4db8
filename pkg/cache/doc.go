// Package cache provides generic, thread-safe caches.
//
// Two policies are available:
//
//   - NewLRU: bounded, evicts the least recently used entry
//   - NewSimple: unbounded, entries live until deleted
//
// Statistics are always collected. WithMetrics additionally exports hits,
// misses, evictions and size to a metric.MetricsRegistry:
//
//	filters, err := cache.NewLRU[*vm.Program](256,
//	    cache.WithMetrics[*vm.Program](metrics, "registry_filters"))
//
// Eviction callbacks run outside the cache lock.
package cache
