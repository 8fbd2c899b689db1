// Package component describes the units the gateway is assembled from and
// drives their lifecycle. Every listener, publisher and server registers
// with the Manager, which starts them in order and stops them in reverse.
// The Discoverable interface is the read side: it lets the HTTP gateway and
// the health monitor inspect any component without knowing its concrete type.
package component

import (
	"time"
)

// Discoverable is implemented by every long-running part of the gateway.
// The introspection endpoints and the health aggregator work purely
// against this interface.
type Discoverable interface {
	// Meta identifies the component.
	Meta() Metadata

	// Health reports whether the component is currently working.
	Health() HealthStatus

	// DataFlow reports message throughput since start.
	DataFlow() FlowMetrics
}

// Metadata identifies a component to operators.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "listener", "publisher", "gateway", "state"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus is a point-in-time health reading.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics summarizes the traffic a component has handled.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}
