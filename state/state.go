package state

import (
	"sync"

	"github.com/raven-worx/xbot-monitoring/types"
)

// GatewayState is the single in-memory snapshot cache every outward surface
// reads from. All mutations go through the Applier; readers never trigger
// bus traffic. Stored documents are replaced wholesale and never mutated in
// place, so values returned by accessors are stable snapshots.
type GatewayState struct {
	mu sync.RWMutex

	sensorOrder []string
	sensors     map[string]types.SensorInfo
	readings    map[string]types.SensorReading

	robotState    types.RobotState
	hasRobotState bool

	worldMap types.Map
	hasMap   bool

	overlay    types.MapOverlay
	hasOverlay bool

	actionOrder   []string
	actionsByNode map[string][]types.ActionInfo
}

// NewGatewayState creates an empty snapshot cache
func NewGatewayState() *GatewayState {
	return &GatewayState{
		sensors:       make(map[string]types.SensorInfo),
		readings:      make(map[string]types.SensorReading),
		actionsByNode: make(map[string][]types.ActionInfo),
	}
}

// Sensors returns all tracked sensor descriptors in discovery order
func (g *GatewayState) Sensors() []types.SensorInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]types.SensorInfo, 0, len(g.sensorOrder))
	for _, id := range g.sensorOrder {
		out = append(out, cloneSensorInfo(g.sensors[id]))
	}
	return out
}

// Sensor returns the descriptor for id
func (g *GatewayState) Sensor(id string) (types.SensorInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	info, ok := g.sensors[id]
	if !ok {
		return types.SensorInfo{}, false
	}
	return cloneSensorInfo(info), true
}

// HasSensor reports whether id is tracked
func (g *GatewayState) HasSensor(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.sensors[id]
	return ok
}

// SensorCount returns the number of tracked sensors
func (g *GatewayState) SensorCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.sensorOrder)
}

// Reading returns the latest reading for a tracked sensor. The second
// return is false when the sensor is unknown or has not reported yet.
func (g *GatewayState) Reading(id string) (types.SensorReading, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	r, ok := g.readings[id]
	return r, ok
}

// RobotState returns the cached robot status; false until first received
func (g *GatewayState) RobotState() (types.RobotState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.robotState, g.hasRobotState
}

// Map returns the cached map document; false until first received
func (g *GatewayState) Map() (types.Map, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.worldMap, g.hasMap
}

// MapOverlay returns the cached overlay; false until first received
func (g *GatewayState) MapOverlay() (types.MapOverlay, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.overlay, g.hasOverlay
}

// Actions returns the flattened action registry, grouped by node prefix in
// registration order
func (g *GatewayState) Actions() []types.ActionInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]types.ActionInfo, 0)
	for _, prefix := range g.actionOrder {
		out = append(out, g.actionsByNode[prefix]...)
	}
	return out
}

// addSensor tracks a new sensor. Returns false when the id is already
// tracked; the first descriptor wins.
func (g *GatewayState) addSensor(info types.SensorInfo) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.sensors[info.ID]; exists {
		return false
	}

	g.sensors[info.ID] = cloneSensorInfo(info)
	g.sensorOrder = append(g.sensorOrder, info.ID)
	return true
}

// setReading stores the latest reading for a tracked sensor. Readings for
// unknown sensors are dropped.
func (g *GatewayState) setReading(r types.SensorReading) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, tracked := g.sensors[r.SensorID]; !tracked {
		return false
	}

	g.readings[r.SensorID] = r
	return true
}

func (g *GatewayState) setRobotState(rs types.RobotState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.robotState = rs
	g.hasRobotState = true
}

func (g *GatewayState) setMap(m types.Map) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.worldMap = m
	g.hasMap = true
}

func (g *GatewayState) setOverlay(o types.MapOverlay) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.overlay = o
	g.hasOverlay = true
}

// applyRegistration replaces the action set registered under the
// registration's node prefix
func (g *GatewayState) applyRegistration(reg types.ActionRegistration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, seen := g.actionsByNode[reg.Prefix]; !seen {
		g.actionOrder = append(g.actionOrder, reg.Prefix)
	}
	g.actionsByNode[reg.Prefix] = reg.Flatten()
}

// cloneSensorInfo deep-copies the optional pointer fields so callers can
// never alias cached descriptors
func cloneSensorInfo(in types.SensorInfo) types.SensorInfo {
	out := in
	if in.Range != nil {
		r := *in.Range
		out.Range = &r
	}
	if in.CriticalLow != nil {
		v := *in.CriticalLow
		out.CriticalLow = &v
	}
	if in.CriticalHigh != nil {
		v := *in.CriticalHigh
		out.CriticalHigh = &v
	}
	return out
}
