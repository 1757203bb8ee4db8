package cache

import (
	"container/list"
	"sync"
)

type lruEntry[V any] struct {
	key   string
	value V
}

// lruCache evicts the least recently used entry once maxSize is exceeded.
type lruCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
}

func newLRUCache[V any](maxSize int, opts *cacheOptions[V]) (*lruCache[V], error) {
	metrics, err := opts.buildMetrics("NewLRU")
	if err != nil {
		return nil, err
	}
	return &lruCache[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		stats:   NewStatistics(),
		metrics: metrics,
		evictFn: opts.evictCallback,
	}, nil
}

func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		c.stats.miss()
		c.metrics.miss()
		var zero V
		return zero, false
	}
	c.order.MoveToFront(element)
	c.stats.hit()
	c.metrics.hit()
	return element.Value.(*lruEntry[V]).value, true
}

func (c *lruCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var evicted []lruEntry[V]
	c.mu.Lock()
	c.stats.set()
	if element, ok := c.items[key]; ok {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
		c.mu.Unlock()
		return false, nil
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	for len(c.items) > c.maxSize {
		back := c.order.Back()
		entry := back.Value.(*lruEntry[V])
		c.order.Remove(back)
		delete(c.items, entry.key)
		c.stats.eviction()
		c.metrics.evicted()
		evicted = append(evicted, *entry)
	}
	c.stats.updateSize(len(c.items))
	c.metrics.resize(len(c.items))
	c.mu.Unlock()

	c.notify(evicted)
	return true, nil
}

func (c *lruCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	entry := element.Value.(*lruEntry[V])
	c.order.Remove(element)
	delete(c.items, key)
	c.stats.delete()
	c.stats.updateSize(len(c.items))
	c.metrics.resize(len(c.items))
	c.mu.Unlock()

	c.notify([]lruEntry[V]{*entry})
	return true, nil
}

func (c *lruCache[V]) Clear() error {
	c.mu.Lock()
	var evicted []lruEntry[V]
	if c.evictFn != nil {
		for element := c.order.Back(); element != nil; element = element.Prev() {
			evicted = append(evicted, *element.Value.(*lruEntry[V]))
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.stats.updateSize(0)
	c.metrics.resize(0)
	c.mu.Unlock()

	c.notify(evicted)
	return nil
}

func (c *lruCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *lruCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*lruEntry[V]).key)
	}
	return keys
}

func (c *lruCache[V]) Stats() *Statistics {
	return c.stats
}

// notify runs the eviction callback outside the lock.
func (c *lruCache[V]) notify(entries []lruEntry[V]) {
	if c.evictFn == nil {
		return
	}
	for _, e := range entries {
		c.evictFn(e.key, e.value)
	}
}
