// Package xbotmonitoring mirrors the internal NATS bus of an X-Bot mower
// robot into interfaces the outside world can consume: a REST/WebSocket
// gateway for local dashboards and an MQTT uplink for fleet monitoring.
//
// # Architecture
//
// The robot publishes sensor descriptors, sensor readings, robot state,
// maps, and action registrations on its NATS bus. The gateway discovers
// those subjects, normalizes the payloads into a single in-memory cache,
// and fans every mutation out to the attached sinks.
//
//	┌──────────────────────────────────────┐
//	│           Robot NATS bus             │  xbot.sensors.*, xbot.robot_state,
//	│        (source of all truth)         │  xbot.map, xbot.actions.register
//	└──────────────────┬───────────────────┘
//	                   ↓ subscribe
//	┌──────────────────────────────────────┐
//	│   discovery + feeds + actions        │  subject inventory, payload
//	│        (NATS listeners)              │  decoding, registration replies
//	└──────────────────┬───────────────────┘
//	                   ↓ state.Update
//	┌──────────────────────────────────────┐
//	│         state.Applier                │  single writer, ordered
//	│   (serializes all cache writes)      │  application, change events
//	└───────┬──────────────────┬───────────┘
//	        ↓ events           ↓ events
//	┌───────────────┐  ┌─────────────────┐
//	│ gateway/http  │  │ broker          │
//	│ REST + WS     │  │ MQTT uplink     │
//	│ :8090         │  │ JSON + BSON     │
//	└───────────────┘  └─────────────────┘
//
// Commands travel the opposite direction: teleoperation and action
// triggers arrive over MQTT or HTTP and are republished verbatim on the
// robot's command subjects.
//
// # Packages
//
// Bus and cache:
//   - natsclient: NATS connection management and subject inventory
//   - discovery: sensor discovery, probing, and drop handling
//   - feeds: telemetry subscriptions (readings, state, maps)
//   - actions: action registration request/reply handling
//   - state: the telemetry cache and the applier that owns it
//   - types: wire types shared by every layer
//
// Interfaces:
//   - gateway/http: REST endpoints and the /events WebSocket feed
//   - broker: MQTT publishing, retained snapshots, inbound commands
//
// Infrastructure:
//   - component: lifecycle contracts and the start/stop manager
//   - config: file plus environment configuration
//   - errors: structured error wrapping and classification
//   - health: per-component health statuses and aggregation
//   - metric: Prometheus registry plumbing
//   - pkg/buffer, pkg/retry, pkg/worker: bounded buffers, retry
//     policies, and worker pools shared by the cache and the uplink
//
// # Data flow guarantees
//
// All cache writes funnel through a single applier goroutine, so sinks
// observe mutations in the order they were applied and never see a
// torn snapshot. Sinks receive change notifications, not payloads; they
// read the cache themselves, which keeps slow consumers from blocking
// the bus listeners.
//
// Sensor readings for undiscovered sensors are dropped. Discovery must
// observe a sensor's info subject before its data is cached, which
// keeps the catalog and the value store consistent.
//
// # Binary
//
// cmd/xbot-monitoring wires the components together:
//
//	# run against a local robot bus with built-in defaults
//	./bin/xbot-monitoring
//
//	# run with a config file and debug logging
//	./bin/xbot-monitoring --config /etc/xbot/gateway.yaml --debug
//
//	# validate a config file without starting
//	./bin/xbot-monitoring --config /etc/xbot/gateway.yaml --validate
//
// The MQTT uplink is optional; with broker.enabled false the gateway
// serves HTTP only.
package xbotmonitoring
