package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raven-worx/xbot-monitoring/component"
	"github.com/raven-worx/xbot-monitoring/errors"
	"github.com/raven-worx/xbot-monitoring/metric"
	"github.com/raven-worx/xbot-monitoring/state"
	"github.com/raven-worx/xbot-monitoring/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seededState populates a cache through the real write path and returns
// it once every update is applied.
func seededState(t *testing.T, updates ...state.Update) *state.GatewayState {
	t.Helper()

	st := state.NewGatewayState()
	applier, err := state.NewApplier(state.ApplierDeps{
		Name:   "test-applier",
		Config: state.DefaultApplierConfig(),
		State:  st,
		Logger: discardLogger(),
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

type fakeBus struct {
	mu         sync.Mutex
	err        error
	maxPayload int64
	published  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte)}
}

func (b *fakeBus) MaxPayload() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxPayload
}

func (b *fakeBus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.published[subject] = append(b.published[subject], cp)
	return nil
}

func (b *fakeBus) last(subject string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.published[subject]
	if len(msgs) == 0 {
		return nil, false
	}
	return msgs[len(msgs)-1], true
}

func (b *fakeBus) countFor(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[subject])
}

type stubComponent struct {
	name    string
	healthy bool
}

func (s stubComponent) Meta() component.Metadata {
	return component.Metadata{Name: s.name, Type: "listener", Version: "1.0.0"}
}

func (s stubComponent) Health() component.HealthStatus {
	return component.HealthStatus{Healthy: s.healthy, LastCheck: time.Now()}
}

func (s stubComponent) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}

func newTestGateway(t *testing.T, st *state.GatewayState, bus Bus, opts ...func(*Deps)) *Gateway {
	t.Helper()

	deps := Deps{
		State:  st,
		Bus:    bus,
		Logger: discardLogger(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	g, err := NewGateway(deps)
	require.NoError(t, err)
	return g
}

// startedGateway binds an ephemeral port and serves for real. Used by
// tests that need the full server, not just the route table.
func startedGateway(t *testing.T, st *state.GatewayState, bus Bus, opts ...func(*Deps)) *Gateway {
	t.Helper()

	opts = append(opts, func(d *Deps) {
		d.Config.Addr = "127.0.0.1:0"
	})
	g := newTestGateway(t, st, bus, opts...)
	require.NoError(t, g.Initialize())
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() { _ = g.Stop(2 * time.Second) })
	return g
}

func do(g *Gateway, method, target string, body io.Reader) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, body)
	g.mux.ServeHTTP(rec, req)
	return rec
}

func assertErrorBody(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int) {
	t.Helper()

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, wantStatus, body.Status)
	assert.NotEmpty(t, body.Error)
}

func TestNewGateway_Validation(t *testing.T) {
	_, err := NewGateway(Deps{Bus: newFakeBus()})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewGateway(Deps{State: state.NewGatewayState()})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestGateway_SensorCatalog(t *testing.T) {
	st := seededState(t,
		state.SensorDiscovered{Info: voltageSensor("bat_v")},
		state.SensorDiscovered{Info: voltageSensor("charge_v")},
	)
	g := newTestGateway(t, st, newFakeBus())

	rec := do(g, http.MethodGet, "/sensors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var wire []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wire))
	require.Len(t, wire, 2)
	assert.Equal(t, "bat_v", wire[0]["sensor_id"])
	assert.Equal(t, "charge_v", wire[1]["sensor_id"])
	assert.Equal(t, "VOLTAGE", wire[0]["value_description"])
}

func TestGateway_SensorCatalogEmpty(t *testing.T) {
	g := newTestGateway(t, seededState(t), newFakeBus())

	rec := do(g, http.MethodGet, "/sensors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGateway_SensorValue(t *testing.T) {
	st := seededState(t,
		state.SensorDiscovered{Info: voltageSensor("bat_v")},
		state.ReadingReceived{Reading: types.SensorReading{
			SensorID: "bat_v",
			Value:    types.NumericValue(27.35),
			At:       time.Now(),
		}},
	)
	g := newTestGateway(t, st, newFakeBus())

	rec := do(g, http.MethodGet, "/sensors/bat_v", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "27.35", rec.Body.String())
}

func TestGateway_SensorValueText(t *testing.T) {
	st := seededState(t,
		state.SensorDiscovered{Info: types.SensorInfo{ID: "mower_status", Kind: types.KindText}},
		state.ReadingReceived{Reading: types.SensorReading{
			SensorID: "mower_status",
			Value:    types.TextValue("FAULT"),
			At:       time.Now(),
		}},
	)
	g := newTestGateway(t, st, newFakeBus())

	rec := do(g, http.MethodGet, "/sensors/mower_status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "FAULT", rec.Body.String())
}

func TestGateway_SensorValueNotFound(t *testing.T) {
	// A discovered sensor with no reading yet answers exactly like an
	// unknown one.
	st := seededState(t,
		state.SensorDiscovered{Info: voltageSensor("bat_v")},
	)
	g := newTestGateway(t, st, newFakeBus())

	rec := do(g, http.MethodGet, "/sensors/bat_v", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assertErrorBody(t, rec, http.StatusNotFound)

	rec = do(g, http.MethodGet, "/sensors/no_such_sensor", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assertErrorBody(t, rec, http.StatusNotFound)
}

func TestGateway_SensorValueExtraSegments(t *testing.T) {
	st := seededState(t,
		state.SensorDiscovered{Info: voltageSensor("bat_v")},
		state.ReadingReceived{Reading: types.SensorReading{
			SensorID: "bat_v",
			Value:    types.NumericValue(27.35),
			At:       time.Now(),
		}},
	)
	g := newTestGateway(t, st, newFakeBus())

	rec := do(g, http.MethodGet, "/sensors/bat_v/raw", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_MethodNotAllowed(t *testing.T) {
	g := newTestGateway(t, seededState(t), newFakeBus())

	rec := do(g, http.MethodPost, "/sensors", strings.NewReader("{}"))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(g, http.MethodGet, "/actions/execute", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(g, http.MethodDelete, "/map", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGateway_UnknownPath(t *testing.T) {
	g := newTestGateway(t, seededState(t), newFakeBus())

	rec := do(g, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_ActionRegistry(t *testing.T) {
	st := seededState(t, state.ActionsRegistered{Registration: types.ActionRegistration{
		Prefix: "mower_logic",
		Actions: []types.ActionInfo{
			{ID: "start_mowing", Name: "Start mowing", Enabled: true},
			{ID: "pause", Name: "Pause", Enabled: false},
		},
	}})
	g := newTestGateway(t, st, newFakeBus())

	rec := do(g, http.MethodGet, "/actions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var actions []types.ActionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &actions))
	require.Len(t, actions, 2)
	assert.Equal(t, "mower_logic/start_mowing", actions[0].ID)
	assert.True(t, actions[0].Enabled)
	assert.Equal(t, "mower_logic/pause", actions[1].ID)
}

func TestGateway_ActionRegistryEmpty(t *testing.T) {
	g := newTestGateway(t, seededState(t), newFakeBus())

	rec := do(g, http.MethodGet, "/actions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGateway_ExecuteForwardsVerbatim(t *testing.T) {
	bus := newFakeBus()
	g := newTestGateway(t, seededState(t), bus)

	// Arbitrary bytes, not required to be JSON.
	payload := `{"action_id":"mower_logic/start_mowing"}`
	rec := do(g, http.MethodPost, "/actions/execute", strings.NewReader(payload))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, rec.Body.String())

	forwarded, ok := bus.last(subjectAction)
	require.True(t, ok)
	assert.Equal(t, payload, string(forwarded))
}

func TestGateway_ExecuteEmptyBodyRejected(t *testing.T) {
	bus := newFakeBus()
	g := newTestGateway(t, seededState(t), bus)

	rec := do(g, http.MethodPost, "/actions/execute", nil)
	require.Equal(t, http.StatusNotAcceptable, rec.Code)
	assertErrorBody(t, rec, http.StatusNotAcceptable)
	assert.Equal(t, 0, bus.countFor(subjectAction))
}

func TestGateway_ExecuteBusUnavailable(t *testing.T) {
	bus := newFakeBus()
	bus.err = errors.WrapTransient(errors.ErrNoConnection, "Client", "Publish", "publish")
	g := newTestGateway(t, seededState(t), bus)

	rec := do(g, http.MethodPost, "/actions/execute", strings.NewReader("go"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assertErrorBody(t, rec, http.StatusServiceUnavailable)
}

func TestGateway_ExecuteBodyTooLarge(t *testing.T) {
	bus := newFakeBus()
	g := newTestGateway(t, seededState(t), bus, func(d *Deps) {
		d.Config.MaxBodySize = 16
	})

	rec := do(g, http.MethodPost, "/actions/execute",
		strings.NewReader(strings.Repeat("x", 17)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, bus.countFor(subjectAction))
}

func TestGateway_ExecuteCapFollowsBusLimit(t *testing.T) {
	// A bus that negotiated a payload limit below the configured cap
	// bounds the accepted body.
	bus := newFakeBus()
	bus.maxPayload = 16
	g := newTestGateway(t, seededState(t), bus)

	rec := do(g, http.MethodPost, "/actions/execute",
		strings.NewReader(strings.Repeat("x", 17)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, bus.countFor(subjectAction))

	rec = do(g, http.MethodPost, "/actions/execute",
		strings.NewReader(strings.Repeat("x", 16)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, bus.countFor(subjectAction))
}

func TestGateway_DocumentsBeforeArrival(t *testing.T) {
	g := newTestGateway(t, seededState(t), newFakeBus())

	for _, target := range []string{"/status", "/map", "/map/overlay"} {
		rec := do(g, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assertErrorBody(t, rec, http.StatusNotFound)
	}
}

func TestGateway_RobotStatus(t *testing.T) {
	st := seededState(t, state.RobotStateReceived{State: types.RobotState{
		BatteryPercentage: 0.87,
		CurrentState:      "MOWING",
		Pose:              types.Pose{X: 1.5, Y: -2.25, Heading: 0.7},
	}})
	g := newTestGateway(t, st, newFakeBus())

	rec := do(g, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rs types.RobotState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rs))
	assert.Equal(t, "MOWING", rs.CurrentState)
	assert.InDelta(t, 0.87, rs.BatteryPercentage, 1e-9)
	assert.InDelta(t, 1.5, rs.Pose.X, 1e-9)
}

func TestGateway_MapAndOverlay(t *testing.T) {
	st := seededState(t,
		state.MapReceived{Map: types.Map{
			DockingPose: types.DockingPose{X: 0.5, Y: 1.0, Heading: 1.57},
			Meta:        types.MapMeta{Width: 40, Height: 25},
		}},
		state.OverlayReceived{Overlay: types.MapOverlay{
			Polygons: []types.OverlayPolygon{{
				Vertices: []types.Point{{X: 0, Y: 0}, {X: 1, Y: 1}},
				Closed:   true,
				Color:    "#00ff00",
			}},
		}},
	)
	g := newTestGateway(t, st, newFakeBus())

	rec := do(g, http.MethodGet, "/map", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var m types.Map
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.InDelta(t, 0.5, m.DockingPose.X, 1e-9)
	assert.InDelta(t, 40, m.Meta.Width, 1e-9)

	rec = do(g, http.MethodGet, "/map/overlay", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var o types.MapOverlay
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	require.Len(t, o.Polygons, 1)
	assert.Equal(t, "#00ff00", o.Polygons[0].Color)
}

func TestGateway_RequestIDHeader(t *testing.T) {
	g := newTestGateway(t, seededState(t), newFakeBus())

	rec := do(g, http.MethodGet, "/sensors", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sensors", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	g.mux.ServeHTTP(rec, req)
	assert.Equal(t, "trace-42", rec.Header().Get("X-Request-ID"))
}

func TestGateway_CORSHeaders(t *testing.T) {
	g := newTestGateway(t, seededState(t), newFakeBus(), func(d *Deps) {
		d.Config.EnableCORS = true
		d.Config.CORSOrigins = []string{"*"}
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sensors", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	g.mux.ServeHTTP(rec, req)
	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))

	// Disabled by default.
	plain := newTestGateway(t, seededState(t), newFakeBus())
	rec = do(plain, http.MethodGet, "/sensors", nil)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGateway_MetricsEndpoint(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	g := newTestGateway(t, seededState(t), newFakeBus(), func(d *Deps) {
		d.MetricsRegistry = registry
	})

	// One counted request so the per-route series exists.
	do(g, http.MethodGet, "/sensors", nil)

	rec := do(g, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "xbot_http_requests_total")
}

func TestGateway_HealthAggregation(t *testing.T) {
	healthyComps := []component.Discoverable{
		stubComponent{name: "feeds-listener", healthy: true},
		stubComponent{name: "broker-publisher", healthy: true},
	}
	g := startedGateway(t, seededState(t), newFakeBus(), func(d *Deps) {
		d.Components = healthyComps
	})

	resp, err := http.Get("http://" + g.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report struct {
		Component   string `json:"component"`
		Healthy     bool   `json:"healthy"`
		SubStatuses []struct {
			Component string `json:"component"`
			Healthy   bool   `json:"healthy"`
		} `json:"sub_statuses"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "xbot-monitoring", report.Component)
	assert.True(t, report.Healthy)
	// Two watched components plus the gateway itself.
	assert.Len(t, report.SubStatuses, 3)
}

func TestGateway_HealthUnhealthyComponent(t *testing.T) {
	g := startedGateway(t, seededState(t), newFakeBus(), func(d *Deps) {
		d.Components = []component.Discoverable{
			stubComponent{name: "broker-publisher", healthy: false},
		}
	})

	resp, err := http.Get("http://" + g.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGateway_ServerLifecycle(t *testing.T) {
	st := seededState(t, state.SensorDiscovered{Info: voltageSensor("bat_v")})
	g := startedGateway(t, st, newFakeBus())

	require.NotEmpty(t, g.Addr())
	assert.True(t, g.Health().Healthy)
	assert.Equal(t, "gateway", g.Meta().Type)

	// Second Start is a no-op.
	require.NoError(t, g.Start(context.Background()))

	resp, err := http.Get("http://" + g.Addr() + "/sensors")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, g.Stop(2*time.Second))
	assert.False(t, g.Health().Healthy)

	_, err = http.Get("http://" + g.Addr() + "/sensors")
	require.Error(t, err)

	// Stop again is a no-op.
	require.NoError(t, g.Stop(time.Second))
}

func TestGateway_BindFailure(t *testing.T) {
	st := seededState(t)
	first := startedGateway(t, st, newFakeBus())

	second := newTestGateway(t, st, newFakeBus(), func(d *Deps) {
		d.Config.Addr = first.Addr()
	})
	err := second.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
