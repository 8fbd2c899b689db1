// Package metric provides the shared Prometheus registry for the
// xbot-monitoring gateway.
//
// MetricsRegistry wraps a dedicated prometheus.Registry so the gateway never
// collides with the global default registry. Each component registers its
// collectors under its own service name:
//
//	registry := metric.NewMetricsRegistry()
//
//	sensorsActive := prometheus.NewGauge(prometheus.GaugeOpts{
//	    Name: "xbot_discovery_sensors_active",
//	    Help: "Number of sensors currently tracked",
//	})
//	if err := registry.RegisterGauge("discovery-manager", "sensors_active", sensorsActive); err != nil {
//	    return err
//	}
//
// Registration is keyed by service and metric name. Registering the same pair
// twice, or a collector whose Prometheus name is already taken by another
// component, returns an invalid-class error so the caller can tell a wiring
// mistake from a broken registry.
//
// The HTTP gateway serves everything registered here:
//
//	mux.Handle("/metrics", promhttp.HandlerFor(
//	    registry.PrometheusRegistry(),
//	    promhttp.HandlerOpts{},
//	))
//
// Go runtime and process collectors are installed automatically. All registry
// operations are safe for concurrent use; recording on the collectors
// themselves is lock-free per the Prometheus client guarantees.
package metric
