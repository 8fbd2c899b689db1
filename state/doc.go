// Package state holds the gateway's snapshot cache and the serialized
// update loop that mutates it.
//
// GatewayState is the single source of truth for everything the robot has
// reported: the sensor registry in discovery order, the latest reading per
// sensor, the latest robot state, map, map overlay, and the registered
// actions grouped by node prefix. Documents are replaced wholesale and
// never mutated in place, so accessors hand out stable snapshots without
// copying large structures.
//
// All writes flow through the Applier. Producers (discovery, feed
// listeners, the action registrar) submit Update values from their own
// goroutines; one applier goroutine applies them in submission order and
// emits an Event per effective mutation to the registered Sinks (broker
// publisher, websocket hub). No-op updates, such as a duplicate sensor
// announcement or a reading for an untracked sensor, produce no event.
//
// The update queue never blocks producers. Under backlog the oldest
// pending update is evicted, which is safe because every domain
// overwrites in place and a newer document supersedes an older one.
package state
