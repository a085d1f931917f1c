package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/virgilvox/clasp-flow-sub003/metric"
)

// managerMetrics holds Prometheus metrics for buffer manager operations.
type managerMetrics struct {
	// Counter metrics
	enqueued  prometheus.Counter
	evicted   prometheus.Counter
	rejected  prometheus.Counter
	expired   prometheus.Counter
	exhausted prometheus.Counter

	// Gauge metrics
	depth prometheus.Gauge
}

// newManagerMetrics creates and registers buffer metrics with the provided registry.
func newManagerMetrics(registry *metric.Registry, prefix string) (*managerMetrics, error) {
	m := &managerMetrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "claspflow",
			Subsystem:   "buffer",
			Name:        "enqueued_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of messages admitted to buffers",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "claspflow",
			Subsystem:   "buffer",
			Name:        "evicted_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of lower-priority messages evicted at capacity",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "claspflow",
			Subsystem:   "buffer",
			Name:        "rejected_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of messages rejected at capacity",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "claspflow",
			Subsystem:   "buffer",
			Name:        "expired_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of messages removed after outliving their TTL",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "claspflow",
			Subsystem:   "buffer",
			Name:        "exhausted_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of messages removed after exhausting retries",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "claspflow",
			Subsystem:   "buffer",
			Name:        "depth",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of buffered messages across all connections",
		}),
	}

	// Register all metrics with the registry
	if err := registry.RegisterCounter(prefix, "buffer_enqueued", m.enqueued); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_evicted", m.evicted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_rejected", m.rejected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_expired", m.expired); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_exhausted", m.exhausted); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_depth", m.depth); err != nil {
		return nil, err
	}

	return m, nil
}
