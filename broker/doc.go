// Package broker mirrors the snapshot cache onto an MQTT broker and
// routes inbound teleop and command messages back onto the bus.
//
// Every cache mutation fans out below a configurable topic prefix as a
// JSON/BSON sibling pair. Whole-document domains (sensor catalog, map,
// map overlay, actions) publish retained at QoS 1 so dashboards that
// connect late still see the latest snapshot; high-rate domains (sensor
// readings, robot state) publish unretained at QoS 0 and simply wait for
// the next sample. Sensor readings additionally get a human-readable
// plain-text topic next to the BSON one.
//
// One pipeline worker serializes all publishes, which keeps per-topic
// ordering without locks. The broker being unreachable is never an
// error that escapes this package: publishes fail fast while
// disconnected, failures are counted and logged at a throttled rate,
// and every reconnect replays the retained domains that have content so
// the broker converges back onto the cache.
//
// Inbound, the publisher listens on <prefix>/teleop for BSON velocity
// commands (republished as JSON on xbot.remote_cmd_vel) and on
// <prefix>/command for opaque command strings (forwarded verbatim on
// xbot.remote_command).
package broker
