package health

import (
	"regexp"
	"time"

	"github.com/raven-worx/xbot-monitoring/component"
)

// Health messages travel to the /health endpoint and from there into
// dashboards and logs outside the robot. Error strings routinely embed
// broker URLs with credentials, bus addresses, and config paths, so
// every message derived from an error is scrubbed first.
var scrubRules = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	// URLs before bare paths, a URL contains one.
	{regexp.MustCompile(`(?:https?|nats|tcp|mqtts?|wss?)://\S+`), "[URL]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
	{regexp.MustCompile(`(?i)\b(password|passwd|token|key|secret|credential)\s*[:=]\s*[^,\s}]+`), "[REDACTED]"},
}

func scrub(msg string) string {
	for _, rule := range scrubRules {
		msg = rule.pattern.ReplaceAllString(msg, rule.replacement)
	}
	return msg
}

// FromComponentHealth converts a component's self-report into a Status,
// scrubbing the last error.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	state := stateUnhealthy
	message := "component stopped"
	if ch.Healthy {
		state = stateHealthy
		message = "component running"
	}
	if ch.LastError != "" {
		message = scrub(ch.LastError)
	}

	return Status{
		Component: name,
		Healthy:   ch.Healthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
		Metrics: &Metrics{
			Uptime:       ch.Uptime,
			ErrorCount:   ch.ErrorCount,
			LastActivity: ch.LastCheck,
		},
	}
}
