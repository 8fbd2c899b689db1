package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/raven-worx/xbot-monitoring/errors"
)

// MetricsRegistry wraps a dedicated Prometheus registry and tracks which
// service owns which metric. Every gateway component registers its collectors
// here under its own service name, and the HTTP gateway exposes the underlying
// registry on /metrics.
type MetricsRegistry struct {
	mu         sync.Mutex
	registry   *prometheus.Registry
	registered map[string]prometheus.Collector
}

// NewMetricsRegistry creates a registry with the Go runtime and process
// collectors already installed.
func NewMetricsRegistry() *MetricsRegistry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &MetricsRegistry{
		registry:   reg,
		registered: make(map[string]prometheus.Collector),
	}
}

// PrometheusRegistry exposes the underlying registry for promhttp handlers and
// for tests that gather metric families directly.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// RegisterCounter registers a counter owned by service under metricName.
func (r *MetricsRegistry) RegisterCounter(service, metricName string, c prometheus.Counter) error {
	return r.register(service, metricName, "RegisterCounter", c)
}

// RegisterCounterVec registers a labelled counter owned by service.
func (r *MetricsRegistry) RegisterCounterVec(service, metricName string, c *prometheus.CounterVec) error {
	return r.register(service, metricName, "RegisterCounterVec", c)
}

// RegisterGauge registers a gauge owned by service under metricName.
func (r *MetricsRegistry) RegisterGauge(service, metricName string, g prometheus.Gauge) error {
	return r.register(service, metricName, "RegisterGauge", g)
}

// RegisterGaugeVec registers a labelled gauge owned by service.
func (r *MetricsRegistry) RegisterGaugeVec(service, metricName string, g *prometheus.GaugeVec) error {
	return r.register(service, metricName, "RegisterGaugeVec", g)
}

// RegisterHistogram registers a histogram owned by service under metricName.
func (r *MetricsRegistry) RegisterHistogram(service, metricName string, h prometheus.Histogram) error {
	return r.register(service, metricName, "RegisterHistogram", h)
}

// RegisterHistogramVec registers a labelled histogram owned by service.
func (r *MetricsRegistry) RegisterHistogramVec(service, metricName string, h *prometheus.HistogramVec) error {
	return r.register(service, metricName, "RegisterHistogramVec", h)
}

// register adds a collector under service.metricName, rejecting duplicates
// before they reach Prometheus. A collision inside Prometheus itself, where a
// different component already registered the same fully qualified metric name,
// reports as invalid; any other registration failure is fatal.
func (r *MetricsRegistry) register(service, metricName, method string, c prometheus.Collector) error {
	key := service + "." + metricName

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered", key),
			"MetricsRegistry", method, "duplicate metric registration",
		)
	}

	if err := r.registry.Register(c); err != nil {
		var dup prometheus.AlreadyRegisteredError
		if stderrors.As(err, &dup) {
			return errors.WrapInvalid(err, "MetricsRegistry", method,
				fmt.Sprintf("prometheus conflict for metric %s", key))
		}
		return errors.WrapFatal(err, "MetricsRegistry", method,
			fmt.Sprintf("register metric %s", key))
	}

	r.registered[key] = c
	return nil
}
