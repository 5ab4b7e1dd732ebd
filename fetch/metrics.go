package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// coordMetrics exports fetch coordination counters. Nil receiver is a no-op.
type coordMetrics struct {
	fresh    prometheus.Counter
	stale    prometheus.Counter
	issued   prometheus.Counter
	dedup    prometheus.Counter
	retries  prometheus.Counter
	failures prometheus.Counter
	discards prometheus.Counter
}

// WithMetrics registers coordinator counters with the given registerer.
func WithMetrics(reg prometheus.Registerer) CoordinatorOption {
	return func(c *Coordinator) {
		if reg == nil {
			return
		}
		c.metrics = newCoordMetrics(reg)
	}
}

func newCoordMetrics(reg prometheus.Registerer) *coordMetrics {
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dfadmin",
			Subsystem: "fetch",
			Name:      name,
			Help:      help,
		})
	}
	return &coordMetrics{
		fresh:    counter("served_fresh_total", "Queries answered from a fresh cache entry."),
		stale:    counter("served_stale_total", "Queries answered from a stale entry while revalidating."),
		issued:   counter("requests_total", "Network fetches actually issued."),
		dedup:    counter("dedup_joins_total", "Queries that joined an in-flight fetch for the same key."),
		retries:  counter("retries_total", "Fetch attempts retried after a transient failure."),
		failures: counter("failures_total", "Fetches that exhausted the retry budget."),
		discards: counter("discarded_completions_total", "Completions dropped because a newer request already applied."),
	}
}

func (m *coordMetrics) servedFresh() {
	if m != nil {
		m.fresh.Inc()
	}
}

func (m *coordMetrics) servedStale() {
	if m != nil {
		m.stale.Inc()
	}
}

func (m *coordMetrics) fetchIssued() {
	if m != nil {
		m.issued.Inc()
	}
}

func (m *coordMetrics) dedupJoin() {
	if m != nil {
		m.dedup.Inc()
	}
}

func (m *coordMetrics) retry() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *coordMetrics) fetchFailed() {
	if m != nil {
		m.failures.Inc()
	}
}

func (m *coordMetrics) discardedStaleCompletion() {
	if m != nil {
		m.discards.Inc()
	}
}
