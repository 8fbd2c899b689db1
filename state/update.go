package state

import (
	"github.com/raven-worx/xbot-monitoring/types"
)

// Update is one pending cache mutation. Updates are applied strictly in
// submission order by the Applier goroutine; apply returns the event to
// fan out, or false when the update was a no-op.
type Update interface {
	apply(g *GatewayState) (Event, bool)
}

// SensorDiscovered tracks a newly promoted sensor. Duplicate ids are
// no-ops: the first descriptor wins.
type SensorDiscovered struct {
	Info types.SensorInfo
}

func (u SensorDiscovered) apply(g *GatewayState) (Event, bool) {
	if !g.addSensor(u.Info) {
		return Event{}, false
	}
	return Event{Domain: DomainSensorInfos}, true
}

// ReadingReceived overwrites the latest reading of a tracked sensor.
// Readings for unknown sensors are no-ops.
type ReadingReceived struct {
	Reading types.SensorReading
}

func (u ReadingReceived) apply(g *GatewayState) (Event, bool) {
	if !g.setReading(u.Reading) {
		return Event{}, false
	}
	return Event{Domain: DomainSensorData, SensorID: u.Reading.SensorID}, true
}

// RobotStateReceived overwrites the robot status document
type RobotStateReceived struct {
	State types.RobotState
}

func (u RobotStateReceived) apply(g *GatewayState) (Event, bool) {
	g.setRobotState(u.State)
	return Event{Domain: DomainRobotState}, true
}

// MapReceived overwrites the map document
type MapReceived struct {
	Map types.Map
}

func (u MapReceived) apply(g *GatewayState) (Event, bool) {
	g.setMap(u.Map)
	return Event{Domain: DomainMap}, true
}

// OverlayReceived overwrites the map overlay
type OverlayReceived struct {
	Overlay types.MapOverlay
}

func (u OverlayReceived) apply(g *GatewayState) (Event, bool) {
	g.setOverlay(u.Overlay)
	return Event{Domain: DomainMapOverlay}, true
}

// ActionsRegistered replaces one node's action set in the registry
type ActionsRegistered struct {
	Registration types.ActionRegistration
}

func (u ActionsRegistered) apply(g *GatewayState) (Event, bool) {
	g.applyRegistration(u.Registration)
	return Event{Domain: DomainActions}, true
}
