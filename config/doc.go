// Package config provides configuration loading and validation for the
// xbot-monitoring gateway.
//
// Configuration is layered: compiled-in defaults, then an optional config
// file (JSON or YAML, chosen by extension), then XBOT_* environment
// variable overrides. The result is validated before use.
//
//	cfg, err := config.Load("gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Sections
//
//   - gateway: identity (id, environment) and state queue sizing
//   - nats: robot bus connection (urls, reconnect behavior, auth)
//   - broker: upstream MQTT broker (url, client id, topic prefix, publish queue)
//   - http: local API server (addr, timeouts)
//   - discovery: sensor discovery (poll interval, probe timeout, drop policy)
//
// # Durations
//
// Duration fields accept Go duration strings in both formats:
//
//	discovery:
//	  poll_interval: 100ms
//	  probe_timeout: 5s
//
// Bare numbers are interpreted as nanoseconds, matching time.Duration's
// JSON encoding.
//
// # Environment Overrides
//
// Connection parameters and credentials can be supplied via environment to
// keep secrets out of config files: XBOT_GATEWAY_ID, XBOT_NATS_URLS
// (comma-separated), XBOT_NATS_USERNAME, XBOT_NATS_PASSWORD,
// XBOT_NATS_TOKEN, XBOT_BROKER_URL, XBOT_BROKER_CLIENT_ID,
// XBOT_BROKER_USERNAME, XBOT_BROKER_PASSWORD, XBOT_BROKER_TOPIC_PREFIX,
// XBOT_HTTP_ADDR.
//
// # Security
//
// Config files are read through path validation (no traversal outside the
// working directory for relative paths), size limits, and JSON depth
// limits. Use Redacted() when logging a loaded config; it masks password
// and token fields.
package config
