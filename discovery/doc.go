// Package discovery finds sensors on the bus and keeps their readings
// flowing into the snapshot cache.
//
// NATS has no subject listing, so the Manager leans on the client's
// subject inventory: a wildcard tap rooted at "xbot.>" that records every
// distinct subject seen. Each poll tick (default 100ms) the Manager
// matches the inventory against the announcement pattern
// "xbot.sensors.<id>.info" and walks every new id through a small state
// machine:
//
//	Pending → Probing → Active
//
// Pending ids get a one-shot announcement subscription (AutoUnsubscribe
// after one message). The first announcement promotes the id: the sensor
// descriptor goes into the cache and a long-lived subscription opens on
// "xbot.sensors.<id>.data". Active is terminal; repeated announcements
// for a known id are ignored, the registry is idempotent by id.
//
// Data payloads are bare JSON scalars. A payload whose kind contradicts
// the announced value type is logged and dropped, null included; the
// cache only holds readings matching their descriptor.
//
// Announcements that cannot be used (unparseable descriptor or an
// unrecognized value kind) drop the sensor according to DropPolicy:
// permanent excludes the id for the process lifetime, retry forgets it so
// a later announcement starts over. Under the retry policy a probe that
// sits unanswered past ProbeTimeout is also released and restarted, which
// recovers from an announcer that died between being seen by the
// inventory and being probed.
package discovery
