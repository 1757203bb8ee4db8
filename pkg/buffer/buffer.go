// Package buffer provides a generic, thread-safe ring buffer with overflow
// policies and optional Prometheus metrics.
package buffer

import (
	"fmt"
	"sync"

	"github.com/c360/semwire/errors"
)

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item discarded by the overflow policy.
type DropCallback[T any] func(item T)

// Ring is a fixed-capacity FIFO. Writes never block.
type Ring[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int // index of the oldest item
	size    int
	policy  OverflowPolicy
	onDrop  DropCallback[T]
	metrics *bufferMetrics
	dropped uint64
	closed  bool
}

// NewRing creates a ring buffer holding at most capacity items.
func NewRing[T any](capacity int, options ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("capacity must be positive, got %d", capacity),
			"buffer", "NewRing", "validate capacity")
	}
	opts := applyOptions(options...)

	r := &Ring[T]{
		items:  make([]T, capacity),
		policy: opts.overflowPolicy,
		onDrop: opts.dropCallback,
	}
	if opts.metricsReg != nil {
		m, err := newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.Wrap(err, "buffer", "NewRing", "register metrics")
		}
		r.metrics = m
	}
	return r, nil
}

// Write appends item. It returns false when the item was dropped by the
// DropNewest policy or the buffer is closed.
func (r *Ring[T]) Write(item T) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}

	var (
		dropped T
		drop    bool
		stored  = true
	)
	capacity := len(r.items)
	switch {
	case r.size < capacity:
		r.items[(r.head+r.size)%capacity] = item
		r.size++
	case r.policy == DropNewest:
		dropped, drop, stored = item, true, false
	default:
		dropped, drop = r.items[r.head], true
		r.items[r.head] = item
		r.head = (r.head + 1) % capacity
	}
	if drop {
		r.dropped++
	}
	size := r.size
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.recordWrite(size, capacity)
		if drop {
			r.metrics.recordDrop()
		}
	}
	if drop && r.onDrop != nil {
		r.onDrop(dropped)
	}
	return stored
}

// Read removes and returns the oldest item.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	if r.metrics != nil {
		r.metrics.recordRead(r.size, len(r.items))
	}
	return item, true
}

// Snapshot returns the buffered items oldest first without removing them.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.size)
	for i := range r.size {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

// Size returns the current number of items.
func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum number of items.
func (r *Ring[T]) Capacity() int {
	return len(r.items)
}

// Dropped returns how many items the overflow policy discarded.
func (r *Ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Clear removes all items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	clear(r.items)
	r.head, r.size = 0, 0
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.updateSize(0, len(r.items))
	}
}

// Close clears the buffer and rejects further writes.
func (r *Ring[T]) Close() {
	r.Clear()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
