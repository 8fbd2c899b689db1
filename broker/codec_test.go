package broker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/raven-worx/xbot-monitoring/errors"
	"github.com/raven-worx/xbot-monitoring/state"
	"github.com/raven-worx/xbot-monitoring/types"
)

// seededState populates a cache through the real write path and returns
// it once every update is applied.
func seededState(t *testing.T, updates ...state.Update) *state.GatewayState {
	t.Helper()

	st := state.NewGatewayState()
	applier, err := state.NewApplier(state.ApplierDeps{
		Name:   "test-applier",
		Config: state.DefaultApplierConfig(),
		State:  st,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	require.NoError(t, applier.Start(context.Background()))
	for _, u := range updates {
		require.NoError(t, applier.Submit(u))
	}
	require.NoError(t, applier.Stop(time.Second))
	return st
}

func voltageSensor(id string) types.SensorInfo {
	return types.SensorInfo{
		ID:       id,
		Name:     "Battery voltage",
		Kind:     types.KindNumeric,
		Quantity: types.QuantityVoltage,
		Unit:     "V",
	}
}

func findMessage(t *testing.T, msgs []message, topic string) message {
	t.Helper()
	for _, m := range msgs {
		if m.topic == topic {
			return m
		}
	}
	t.Fatalf("no message published on %s", topic)
	return message{}
}

func TestBuildMessages_SensorCatalog(t *testing.T) {
	st := seededState(t,
		state.SensorDiscovered{Info: voltageSensor("bat_v")},
		state.SensorDiscovered{Info: voltageSensor("charge_v")},
	)

	msgs, err := buildMessages("xbot", st, state.Event{Domain: state.DomainSensorInfos})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	jsonMsg := findMessage(t, msgs, "xbot/sensor_infos/json")
	assert.Equal(t, byte(1), jsonMsg.qos)
	assert.True(t, jsonMsg.retain)

	var wire []map[string]any
	require.NoError(t, json.Unmarshal(jsonMsg.payload, &wire))
	require.Len(t, wire, 2)
	assert.Equal(t, "bat_v", wire[0]["sensor_id"])
	assert.Equal(t, "VOLTAGE", wire[0]["value_description"])

	bsonMsg := findMessage(t, msgs, "xbot/sensor_infos/bson")
	assert.True(t, bsonMsg.retain)
	var envelope struct {
		D []types.SensorInfo `bson:"d"`
	}
	require.NoError(t, bson.Unmarshal(bsonMsg.payload, &envelope))
	require.Len(t, envelope.D, 2)
	assert.Equal(t, "charge_v", envelope.D[1].ID)
}

func TestBuildMessages_NumericReading(t *testing.T) {
	st := seededState(t,
		state.SensorDiscovered{Info: voltageSensor("bat_v")},
		state.ReadingReceived{Reading: types.SensorReading{
			SensorID: "bat_v",
			Value:    types.NumericValue(27.35),
			At:       time.Now(),
		}},
	)

	msgs, err := buildMessages("xbot", st, state.Event{
		Domain:   state.DomainSensorData,
		SensorID: "bat_v",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	text := findMessage(t, msgs, "xbot/sensors/bat_v/data")
	assert.Equal(t, "27.35", string(text.payload))
	assert.Equal(t, byte(0), text.qos)
	assert.False(t, text.retain)

	raw := findMessage(t, msgs, "xbot/sensors/bat_v/bson")
	assert.False(t, raw.retain)
	var envelope struct {
		D float64 `bson:"d"`
	}
	require.NoError(t, bson.Unmarshal(raw.payload, &envelope))
	assert.InDelta(t, 27.35, envelope.D, 1e-9)
}

func TestBuildMessages_TextReading(t *testing.T) {
	status := types.SensorInfo{ID: "charge_status", Kind: types.KindText}
	st := seededState(t,
		state.SensorDiscovered{Info: status},
		state.ReadingReceived{Reading: types.SensorReading{
			SensorID: "charge_status",
			Value:    types.TextValue("FAULT"),
			At:       time.Now(),
		}},
	)

	msgs, err := buildMessages("xbot", st, state.Event{
		Domain:   state.DomainSensorData,
		SensorID: "charge_status",
	})
	require.NoError(t, err)

	text := findMessage(t, msgs, "xbot/sensors/charge_status/data")
	assert.Equal(t, "FAULT", string(text.payload))

	raw := findMessage(t, msgs, "xbot/sensors/charge_status/bson")
	var envelope struct {
		D string `bson:"d"`
	}
	require.NoError(t, bson.Unmarshal(raw.payload, &envelope))
	assert.Equal(t, "FAULT", envelope.D)
}

func TestBuildMessages_RobotStateUnretained(t *testing.T) {
	rs := types.RobotState{
		BatteryPercentage: 0.82,
		CurrentState:      "MOWING",
		Pose:              types.Pose{X: 4.2, Y: -1.1, HeadingValid: true},
	}
	st := seededState(t, state.RobotStateReceived{State: rs})

	msgs, err := buildMessages("xbot", st, state.Event{Domain: state.DomainRobotState})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	jsonMsg := findMessage(t, msgs, "xbot/robot_state/json")
	assert.Equal(t, byte(0), jsonMsg.qos)
	assert.False(t, jsonMsg.retain)

	bsonMsg := findMessage(t, msgs, "xbot/robot_state/bson")
	var envelope struct {
		D types.RobotState `bson:"d"`
	}
	require.NoError(t, bson.Unmarshal(bsonMsg.payload, &envelope))
	assert.Equal(t, rs, envelope.D)
}

func TestBuildMessages_MapRetained(t *testing.T) {
	m := types.Map{
		DockingPose: types.DockingPose{X: 1.5, Y: 2.5, Heading: 0.7},
		Meta:        types.MapMeta{Width: 42, Height: 30},
	}
	st := seededState(t, state.MapReceived{Map: m})

	msgs, err := buildMessages("xbot", st, state.Event{Domain: state.DomainMap})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	for _, msg := range msgs {
		assert.Equal(t, byte(1), msg.qos, msg.topic)
		assert.True(t, msg.retain, msg.topic)
	}

	bsonMsg := findMessage(t, msgs, "xbot/map/bson")
	var envelope struct {
		D types.Map `bson:"d"`
	}
	require.NoError(t, bson.Unmarshal(bsonMsg.payload, &envelope))
	assert.Equal(t, m.DockingPose, envelope.D.DockingPose)
	assert.Equal(t, m.Meta, envelope.D.Meta)
}

func TestBuildMessages_OverlayRetained(t *testing.T) {
	overlay := types.MapOverlay{Polygons: []types.OverlayPolygon{{
		Vertices: []types.Point{{X: 0, Y: 0}, {X: 1, Y: 1}},
		Closed:   true,
		Color:    "#00ff00",
	}}}
	st := seededState(t, state.OverlayReceived{Overlay: overlay})

	msgs, err := buildMessages("xbot", st, state.Event{Domain: state.DomainMapOverlay})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	bsonMsg := findMessage(t, msgs, "xbot/map_overlay/bson")
	assert.True(t, bsonMsg.retain)
	var envelope struct {
		D types.MapOverlay `bson:"d"`
	}
	require.NoError(t, bson.Unmarshal(bsonMsg.payload, &envelope))
	assert.Equal(t, overlay, envelope.D)
}

func TestBuildMessages_BSONEnvelopeUniform(t *testing.T) {
	// Every binary payload nests its document under the "d" key, object
	// domains included.
	st := seededState(t,
		state.SensorDiscovered{Info: voltageSensor("bat_v")},
		state.RobotStateReceived{State: types.RobotState{CurrentState: "IDLE"}},
		state.MapReceived{Map: types.Map{Meta: types.MapMeta{Width: 12}}},
		state.OverlayReceived{Overlay: types.MapOverlay{}},
	)

	for _, d := range []state.Domain{
		state.DomainSensorInfos,
		state.DomainRobotState,
		state.DomainMap,
		state.DomainMapOverlay,
		state.DomainActions,
	} {
		msgs, err := buildMessages("xbot", st, state.Event{Domain: d})
		require.NoError(t, err)

		bsonMsg := findMessage(t, msgs, "xbot/"+d.String()+"/bson")
		var doc bson.M
		require.NoError(t, bson.Unmarshal(bsonMsg.payload, &doc))
		require.Len(t, doc, 1, d.String())
		assert.Contains(t, doc, "d", d.String())
	}
}

func TestBuildMessages_ActionRegistry(t *testing.T) {
	st := seededState(t, state.ActionsRegistered{Registration: types.ActionRegistration{
		Prefix: "mower_logic:idle",
		Actions: []types.ActionInfo{
			{ID: "start_mowing", Name: "Start mowing", Enabled: true},
			{ID: "start_area_recording", Name: "Record area", Enabled: false},
		},
	}})

	msgs, err := buildMessages("xbot", st, state.Event{Domain: state.DomainActions})
	require.NoError(t, err)

	jsonMsg := findMessage(t, msgs, "xbot/actions/json")
	assert.True(t, jsonMsg.retain)
	var actions []types.ActionInfo
	require.NoError(t, json.Unmarshal(jsonMsg.payload, &actions))
	require.Len(t, actions, 2)
	assert.Equal(t, "mower_logic:idle/start_mowing", actions[0].ID)
}

func TestBuildMessages_EmptyActionsStillPublish(t *testing.T) {
	// A node clearing its registration must overwrite the retained topic,
	// so an empty registry publishes rather than skipping.
	st := state.NewGatewayState()

	msgs, err := buildMessages("xbot", st, state.Event{Domain: state.DomainActions})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	jsonMsg := findMessage(t, msgs, "xbot/actions/json")
	assert.Equal(t, "[]", string(jsonMsg.payload))
	assert.True(t, jsonMsg.retain)
}

func TestBuildMessages_AbsentDocumentsYieldNothing(t *testing.T) {
	st := state.NewGatewayState()

	for _, ev := range []state.Event{
		{Domain: state.DomainRobotState},
		{Domain: state.DomainMap},
		{Domain: state.DomainMapOverlay},
		{Domain: state.DomainSensorData, SensorID: "ghost"},
	} {
		msgs, err := buildMessages("xbot", st, ev)
		require.NoError(t, err)
		assert.Empty(t, msgs, ev.Domain.String())
	}
}

func TestHasDocument(t *testing.T) {
	empty := state.NewGatewayState()
	for _, d := range state.RetainedDomains() {
		assert.False(t, hasDocument(empty, d), d.String())
	}

	st := seededState(t,
		state.SensorDiscovered{Info: voltageSensor("bat_v")},
		state.MapReceived{Map: types.Map{Meta: types.MapMeta{Width: 10}}},
	)
	assert.True(t, hasDocument(st, state.DomainSensorInfos))
	assert.True(t, hasDocument(st, state.DomainMap))
	assert.False(t, hasDocument(st, state.DomainMapOverlay))
	assert.False(t, hasDocument(st, state.DomainActions))
}

func TestDecodeVelocity(t *testing.T) {
	payload, err := bson.Marshal(types.VelocityCommand{VX: 0.4, VZ: -0.2})
	require.NoError(t, err)

	cmd, err := decodeVelocity(payload)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, cmd.VX, 1e-9)
	assert.InDelta(t, -0.2, cmd.VZ, 1e-9)

	_, err = decodeVelocity([]byte("not a bson document"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
