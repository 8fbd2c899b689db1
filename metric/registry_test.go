package metric

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raven-worx/xbot-monitoring/errors"
)

func gatherNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestRegistry_RuntimeCollectorsInstalled(t *testing.T) {
	registry := NewMetricsRegistry()

	names := gatherNames(t, registry)
	assert.True(t, names["go_goroutines"], "Go runtime collector missing")
}

func TestRegistry_RegisterAndGather(t *testing.T) {
	registry := NewMetricsRegistry()

	publishes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xbot_uplink_publishes_total",
		Help: "Messages published to the MQTT uplink.",
	})
	require.NoError(t, registry.RegisterCounter("mqtt-uplink", "publishes", publishes))

	publishes.Inc()
	publishes.Inc()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	var value float64
	for _, mf := range families {
		if mf.GetName() == "xbot_uplink_publishes_total" {
			value = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, value)
}

func TestRegistry_DuplicateKeyRejected(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xbot_discovery_sensors_active",
		Help: "Sensors currently tracked.",
	})
	second := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xbot_discovery_sensors_active_again",
		Help: "Sensors currently tracked.",
	})

	require.NoError(t, registry.RegisterGauge("discovery-manager", "sensors_active", first))

	err := registry.RegisterGauge("discovery-manager", "sensors_active", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "duplicate metric registration")
}

func TestRegistry_PrometheusNameConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xbot_events_total",
		Help: "Events observed.",
	})
	second := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xbot_events_total",
		Help: "Events observed.",
	})

	// Distinct service.metric keys, but the same fully qualified
	// Prometheus name underneath.
	require.NoError(t, registry.RegisterCounter("feeds-listener", "events", first))

	err := registry.RegisterCounter("actions-listener", "events", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestRegistry_AllCollectorKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xbot_kind_counter_total", Help: "counter",
	})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xbot_kind_counter_vec_total", Help: "counter vec",
	}, []string{"status"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xbot_kind_gauge", Help: "gauge",
	})
	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xbot_kind_gauge_vec", Help: "gauge vec",
	}, []string{"sensor"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "xbot_kind_histogram", Help: "histogram",
	})
	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "xbot_kind_histogram_vec", Help: "histogram vec",
	}, []string{"operation"})

	require.NoError(t, registry.RegisterCounter("kinds", "counter", counter))
	require.NoError(t, registry.RegisterCounterVec("kinds", "counter_vec", counterVec))
	require.NoError(t, registry.RegisterGauge("kinds", "gauge", gauge))
	require.NoError(t, registry.RegisterGaugeVec("kinds", "gauge_vec", gaugeVec))
	require.NoError(t, registry.RegisterHistogram("kinds", "histogram", histogram))
	require.NoError(t, registry.RegisterHistogramVec("kinds", "histogram_vec", histogramVec))

	// Vector collectors only surface in Gather once a child series exists.
	counter.Inc()
	counterVec.WithLabelValues("ok").Inc()
	gauge.Set(1)
	gaugeVec.WithLabelValues("temp-0").Set(21.5)
	histogram.Observe(0.01)
	histogramVec.WithLabelValues("apply").Observe(0.02)

	names := gatherNames(t, registry)
	for _, want := range []string{
		"xbot_kind_counter_total",
		"xbot_kind_counter_vec_total",
		"xbot_kind_gauge",
		"xbot_kind_gauge_vec",
		"xbot_kind_histogram",
		"xbot_kind_histogram_vec",
	} {
		assert.True(t, names[want], "metric %s not gathered", want)
	}
}

func TestRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	const workers = 16

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("xbot_concurrent_%d_total", i),
				Help: "concurrent registration",
			})
			errs[i] = registry.RegisterCounter("concurrent", fmt.Sprintf("metric_%d", i), counter)
			counter.Inc()
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "registration %d failed", i)
	}

	names := gatherNames(t, registry)
	registered := 0
	for i := range workers {
		if names[fmt.Sprintf("xbot_concurrent_%d_total", i)] {
			registered++
		}
	}
	assert.Equal(t, workers, registered)
}
