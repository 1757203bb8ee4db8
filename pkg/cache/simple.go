package cache

import (
	"sync"
)

// simpleCache stores entries until they are deleted or cleared.
type simpleCache[V any] struct {
	mu      sync.RWMutex
	items   map[string]V
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
}

func newSimpleCache[V any](opts *cacheOptions[V]) (*simpleCache[V], error) {
	metrics, err := opts.buildMetrics("NewSimple")
	if err != nil {
		return nil, err
	}
	return &simpleCache[V]{
		items:   make(map[string]V),
		stats:   NewStatistics(),
		metrics: metrics,
		evictFn: opts.evictCallback,
	}, nil
}

func (c *simpleCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	value, ok := c.items[key]
	c.mu.RUnlock()

	if ok {
		c.stats.hit()
		c.metrics.hit()
	} else {
		c.stats.miss()
		c.metrics.miss()
	}
	return value, ok
}

func (c *simpleCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = value
	size := len(c.items)
	c.mu.Unlock()

	c.stats.set()
	c.stats.updateSize(size)
	c.metrics.resize(size)
	return !exists, nil
}

func (c *simpleCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c.mu.Lock()
	value, ok := c.items[key]
	if ok {
		delete(c.items, key)
	}
	size := len(c.items)
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	c.stats.delete()
	c.stats.updateSize(size)
	c.metrics.resize(size)
	if c.evictFn != nil {
		c.evictFn(key, value)
	}
	return true, nil
}

func (c *simpleCache[V]) Clear() error {
	c.mu.Lock()
	old := c.items
	c.items = make(map[string]V)
	c.mu.Unlock()

	c.stats.updateSize(0)
	c.metrics.resize(0)
	if c.evictFn != nil {
		for k, v := range old {
			c.evictFn(k, v)
		}
	}
	return nil
}

func (c *simpleCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *simpleCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	return keys
}

func (c *simpleCache[V]) Stats() *Statistics {
	return c.stats
}
