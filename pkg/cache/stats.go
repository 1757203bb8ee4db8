package cache

import (
	"sync/atomic"
)

// Statistics tracks cache activity. It is always collected.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	size      atomic.Int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) hit()             { s.hits.Add(1) }
func (s *Statistics) miss()            { s.misses.Add(1) }
func (s *Statistics) set()             { s.sets.Add(1) }
func (s *Statistics) delete()          { s.deletes.Add(1) }
func (s *Statistics) eviction()        { s.evictions.Add(1) }
func (s *Statistics) updateSize(n int) { s.size.Store(int64(n)) }

// Hits returns the total number of cache hits.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the total number of cache misses.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Sets returns the total number of set operations.
func (s *Statistics) Sets() int64 { return s.sets.Load() }

// Deletes returns the total number of delete operations.
func (s *Statistics) Deletes() int64 { return s.deletes.Load() }

// Evictions returns the total number of evictions.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// CurrentSize returns the number of entries at the last update.
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }

// HitRatio returns hits / (hits + misses), or 0 with no requests.
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
