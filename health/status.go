package health

import "time"

const (
	stateHealthy   = "healthy"
	stateDegraded  = "degraded"
	stateUnhealthy = "unhealthy"
)

// Status is the health report of one component, or of the whole gateway
// when SubStatuses carries the per-component reports.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries the numeric side of a health report.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	MessagesProcessed int64         `json:"messages_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

func (s Status) IsHealthy() bool {
	return s.Status == stateHealthy
}

// IsDegraded reports reduced service, for example an MQTT uplink that
// is reconnecting while HTTP keeps serving. Degraded is not healthy but
// does not fail the endpoint.
func (s Status) IsDegraded() bool {
	return s.Status == stateDegraded
}

func (s Status) IsUnhealthy() bool {
	return s.Status == stateUnhealthy
}

// NewHealthy builds a healthy status stamped with the current time.
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    stateHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded builds a degraded status. Degraded counts as not healthy.
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    stateDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy builds an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    stateUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate folds per-component reports into one system report: any
// unhealthy sub-status makes the system unhealthy, otherwise any
// degraded one makes it degraded. No sub-statuses aggregates healthy.
func Aggregate(component string, subStatuses []Status) Status {
	var unhealthy, degraded int
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var agg Status
	switch {
	case unhealthy > 0:
		agg = NewUnhealthy(component, "one or more components are unhealthy")
	case degraded > 0:
		agg = NewDegraded(component, "one or more components are degraded")
	case len(subStatuses) == 0:
		agg = NewHealthy(component, "no components registered")
	default:
		agg = NewHealthy(component, "all components are healthy")
	}

	agg.SubStatuses = make([]Status, len(subStatuses))
	copy(agg.SubStatuses, subStatuses)
	return agg
}
