package state

// Domain identifies one cached data domain. Domain names double as the
// broker topic segments and the event names on the live stream.
type Domain int

const (
	// DomainSensorInfos is the discovered-sensor registry
	DomainSensorInfos Domain = iota
	// DomainSensorData is per-sensor readings (events carry the sensor id)
	DomainSensorData
	// DomainRobotState is the consolidated robot status document
	DomainRobotState
	// DomainMap is the structured map document
	DomainMap
	// DomainMapOverlay is the live overlay drawn on top of the map
	DomainMapOverlay
	// DomainActions is the flattened action registry
	DomainActions
)

// String returns the wire name used in broker topics and stream events
func (d Domain) String() string {
	switch d {
	case DomainSensorInfos:
		return "sensor_infos"
	case DomainSensorData:
		return "sensor_data"
	case DomainRobotState:
		return "robot_state"
	case DomainMap:
		return "map"
	case DomainMapOverlay:
		return "map_overlay"
	case DomainActions:
		return "actions"
	default:
		return "unknown"
	}
}

// Retained reports whether the domain is registry-like: published retained
// and replayed to the broker after every reconnect. High-frequency domains
// (per-sensor data, robot state) are fire-and-forget instead.
func (d Domain) Retained() bool {
	switch d {
	case DomainSensorInfos, DomainMap, DomainMapOverlay, DomainActions:
		return true
	default:
		return false
	}
}

// RetainedDomains lists the registry-like domains in replay order
func RetainedDomains() []Domain {
	return []Domain{DomainSensorInfos, DomainMap, DomainMapOverlay, DomainActions}
}

// Event describes one applied cache mutation, delivered to sinks
type Event struct {
	Domain Domain
	// SensorID is set for DomainSensorData events only
	SensorID string
}
