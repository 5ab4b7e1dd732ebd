package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeMetrics exports cache effectiveness counters. A nil receiver is a
// no-op so metrics stay optional.
type storeMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

// WithMetrics registers hit/miss/eviction counters with the given registerer.
// A nil registerer leaves metrics disabled.
func WithMetrics(reg prometheus.Registerer) StoreOption {
	return func(c *storeConfig) {
		if reg == nil {
			return
		}
		c.metrics = newStoreMetrics(reg)
	}
}

func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	factory := promauto.With(reg)
	return &storeMetrics{
		hits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dfadmin",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups served from a live entry.",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dfadmin",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups that found no usable entry.",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dfadmin",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries removed by expiry, invalidation, or LRU pressure.",
		}),
	}
}

func (m *storeMetrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *storeMetrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *storeMetrics) eviction() {
	if m != nil {
		m.evictions.Inc()
	}
}
