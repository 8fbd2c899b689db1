// Package types defines the domain model shared by all gateway components:
// sensor descriptors and readings, the consolidated robot state, map and
// overlay documents, action registrations, and velocity commands.
//
// Wire compatibility drives the layout. Sensor announcements use the flat
// layout with has_* presence booleans; SensorInfo converts between that
// layout and optional pointers in both JSON and BSON. Value marshals as a
// bare JSON scalar so a numeric reading is published as 21.5, not as an
// object wrapping it.
package types
