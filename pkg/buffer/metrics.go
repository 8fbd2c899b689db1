package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raven-worx/xbot-monitoring/metric"
)

// queueMetrics exposes depth and shedding of one buffer instance. The
// component label carries the name passed to WithMetrics.
type queueMetrics struct {
	writes      prometheus.Counter
	drops       prometheus.Counter
	depth       prometheus.Gauge
	utilization prometheus.Gauge
}

func newQueueMetrics(registry *metric.MetricsRegistry, name string) (*queueMetrics, error) {
	labels := prometheus.Labels{"component": name}
	m := &queueMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "xbot",
			Subsystem:   "queue",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Items written to the queue",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "xbot",
			Subsystem:   "queue",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Items shed by the overflow policy",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "xbot",
			Subsystem:   "queue",
			Name:        "depth",
			ConstLabels: labels,
			Help:        "Items currently queued",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "xbot",
			Subsystem:   "queue",
			Name:        "utilization",
			ConstLabels: labels,
			Help:        "Queue fill ratio, 0 to 1",
		}),
	}

	if err := registry.RegisterCounter(name, "queue_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(name, "queue_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(name, "queue_depth", m.depth); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(name, "queue_utilization", m.utilization); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *queueMetrics) observeDepth(depth, capacity int) {
	m.depth.Set(float64(depth))
	m.utilization.Set(float64(depth) / float64(capacity))
}
