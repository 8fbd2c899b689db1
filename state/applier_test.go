package state

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/raven-worx/xbot-monitoring/errors"
	"github.com/raven-worx/xbot-monitoring/types"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Publish(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func newTestApplier(t *testing.T, g *GatewayState) *Applier {
	t.Helper()
	a, err := NewApplier(ApplierDeps{
		State:  g,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return a
}

func TestNewApplier_RequiresState(t *testing.T) {
	_, err := NewApplier(ApplierDeps{})
	require.Error(t, err)
	assert.True(t, cerrors.IsInvalid(err))
}

func TestApplier_SubmitBeforeStart(t *testing.T) {
	a := newTestApplier(t, NewGatewayState())

	err := a.Submit(SensorDiscovered{Info: tempSensor("om_v_charge")})
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrNotStarted)
}

func TestApplier_AppliesInSubmissionOrder(t *testing.T) {
	g := NewGatewayState()
	a := newTestApplier(t, g)

	sink := &captureSink{}
	require.NoError(t, a.AddSink(sink))

	require.NoError(t, a.Start(context.Background()))
	defer func() { _ = a.Stop(time.Second) }()

	require.NoError(t, a.Submit(SensorDiscovered{Info: tempSensor("om_v_charge")}))
	require.NoError(t, a.Submit(ReadingReceived{Reading: types.SensorReading{
		SensorID: "om_v_charge",
		Value:    types.NumericValue(27.3),
		At:       time.Now(),
	}}))
	require.NoError(t, a.Submit(RobotStateReceived{State: types.RobotState{CurrentState: "MOWING"}}))

	require.Eventually(t, func() bool { return sink.count() == 3 },
		time.Second, 5*time.Millisecond)

	events := sink.snapshot()
	assert.Equal(t, DomainSensorInfos, events[0].Domain)
	assert.Equal(t, DomainSensorData, events[1].Domain)
	assert.Equal(t, "om_v_charge", events[1].SensorID)
	assert.Equal(t, DomainRobotState, events[2].Domain)

	reading, ok := g.Reading("om_v_charge")
	require.True(t, ok)
	num, _ := reading.Value.Number()
	assert.Equal(t, 27.3, num)

	rs, ok := g.RobotState()
	require.True(t, ok)
	assert.Equal(t, "MOWING", rs.CurrentState)
}

func TestApplier_NoEventForNoOps(t *testing.T) {
	g := NewGatewayState()
	a := newTestApplier(t, g)

	sink := &captureSink{}
	require.NoError(t, a.AddSink(sink))

	require.NoError(t, a.Start(context.Background()))
	defer func() { _ = a.Stop(time.Second) }()

	require.NoError(t, a.Submit(SensorDiscovered{Info: tempSensor("om_v_charge")}))
	// Duplicate announcement and ghost reading must not reach sinks
	require.NoError(t, a.Submit(SensorDiscovered{Info: tempSensor("om_v_charge")}))
	require.NoError(t, a.Submit(ReadingReceived{Reading: types.SensorReading{SensorID: "om_ghost"}}))
	require.NoError(t, a.Submit(RobotStateReceived{State: types.RobotState{}}))

	require.Eventually(t, func() bool { return sink.count() == 2 },
		time.Second, 5*time.Millisecond)

	// Give any stray events a moment to surface
	time.Sleep(20 * time.Millisecond)
	events := sink.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, DomainSensorInfos, events[0].Domain)
	assert.Equal(t, DomainRobotState, events[1].Domain)
	assert.Equal(t, 1, g.SensorCount())
}

func TestApplier_StopFlushesQueue(t *testing.T) {
	g := NewGatewayState()
	a := newTestApplier(t, g)

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Submit(SensorDiscovered{Info: tempSensor("om_v_charge")}))
	for i := 0; i < 50; i++ {
		require.NoError(t, a.Submit(ReadingReceived{Reading: types.SensorReading{
			SensorID: "om_v_charge",
			Value:    types.NumericValue(float64(i)),
			At:       time.Now(),
		}}))
	}

	require.NoError(t, a.Stop(time.Second))

	reading, ok := g.Reading("om_v_charge")
	require.True(t, ok)
	num, _ := reading.Value.Number()
	assert.Equal(t, 49.0, num, "queued updates are flushed on stop")
}

func TestApplier_StartIdempotent(t *testing.T) {
	a := newTestApplier(t, NewGatewayState())

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(time.Second))
	require.NoError(t, a.Stop(time.Second))
}

func TestApplier_AddSinkAfterStart(t *testing.T) {
	a := newTestApplier(t, NewGatewayState())

	require.NoError(t, a.Start(context.Background()))
	defer func() { _ = a.Stop(time.Second) }()

	err := a.AddSink(&captureSink{})
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrAlreadyStarted)
}

func TestApplier_Health(t *testing.T) {
	a := newTestApplier(t, NewGatewayState())

	assert.False(t, a.Health().Healthy)

	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.Health().Healthy)

	meta := a.Meta()
	assert.Equal(t, "state-applier", meta.Name)
	assert.Equal(t, "state", meta.Type)

	require.NoError(t, a.Stop(time.Second))
	assert.False(t, a.Health().Healthy)
}
