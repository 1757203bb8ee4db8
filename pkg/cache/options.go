package cache

import (
	"github.com/c360/semwire/errors"
	"github.com/c360/semwire/metric"
)

// Option configures a cache.
type Option[V any] func(*cacheOptions[V])

type cacheOptions[V any] struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictCallback EvictCallback[V]
}

// WithMetrics exposes cache statistics as Prometheus metrics labelled with
// prefix. A nil registry or empty prefix disables export.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback run after an entry is evicted or deleted.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}

func (o *cacheOptions[V]) buildMetrics(method string) (*cacheMetrics, error) {
	if o.metricsReg == nil {
		return nil, nil
	}
	m, err := newCacheMetrics(o.metricsReg, o.metricsPrefix)
	if err != nil {
		return nil, errors.WrapTransient(err, "cache", method, "metrics registration")
	}
	return m, nil
}
