// Package health provides health monitoring functionality for gateway
// components with thread-safe status tracking and aggregation.
//
// # Health States
//
// The package supports three health states:
//   - Healthy: component operating normally
//   - Degraded: component operating with reduced functionality
//   - Unhealthy: component not functioning properly
//
// A degraded MQTT broker connection (reconnecting, publishes dropped) keeps
// the gateway serving HTTP while flagging the outage; an unhealthy bus
// connection warrants restarting.
//
// # Core Components
//
// Status: individual component health state containing status level,
// descriptive message, timestamp, optional metrics, and hierarchical
// sub-statuses.
//
// Monitor: thread-safe centralized tracking of multiple component health
// statuses with concurrent read/write access and automatic timestamp
// management.
//
// # Basic Usage
//
// Creating and tracking component health:
//
//	monitor := health.NewMonitor()
//
//	monitor.Update("feeds-listener", health.NewHealthy("feeds-listener", "subscriptions active"))
//	monitor.Update("mqtt-uplink", health.NewDegraded("mqtt-uplink", "reconnecting to broker"))
//
//	if status, exists := monitor.Get("mqtt-uplink"); exists {
//	    if status.IsDegraded() {
//	        log.Println("publishing impaired")
//	    }
//	}
//
// # System-Wide Aggregation
//
// AggregateHealth combines all monitored components into a single status
// using worst-case rules: any unhealthy component makes the system
// unhealthy; any degraded component (with none unhealthy) makes it
// degraded; otherwise healthy.
//
//	systemHealth := monitor.AggregateHealth("xbot-monitoring")
//	if systemHealth.IsUnhealthy() {
//	    log.Printf("system unhealthy: %s", systemHealth.Message)
//	}
//
// The gateway's /health endpoint serializes this aggregate as JSON,
// returning 503 when unhealthy.
//
// # Integration with Components
//
// FromComponentHealth converts a component.HealthStatus into a
// health.Status, attaching uptime and error-count metrics:
//
//	status := health.FromComponentHealth("discovery-manager", mgr.Health())
//
// Error messages are sanitized on conversion: URLs, file paths, IP
// addresses, ports, and credential-looking fragments are replaced with
// placeholders so broker addresses and auth material never leak into
// health responses.
//
// # Thread Safety
//
// All Monitor operations are safe for concurrent use; reads run under a
// shared lock. Status is a value type and aggregation copies
// sub-statuses, so a returned report never aliases Monitor state.
package health
