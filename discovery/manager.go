package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raven-worx/xbot-monitoring/component"
	"github.com/raven-worx/xbot-monitoring/errors"
	"github.com/raven-worx/xbot-monitoring/metric"
	"github.com/raven-worx/xbot-monitoring/pkg/retry"
	"github.com/raven-worx/xbot-monitoring/state"
	"github.com/raven-worx/xbot-monitoring/types"
)

// DropPolicy decides what happens to a sensor whose announcement cannot be
// used (malformed descriptor or unknown value kind).
type DropPolicy string

const (
	// DropPermanent excludes the sensor id for the process lifetime.
	DropPermanent DropPolicy = "permanent"
	// DropRetry forgets the id entirely so a later announcement re-probes it.
	DropRetry DropPolicy = "retry"
)

// ParseDropPolicy validates a drop policy string. Empty means DropPermanent.
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch DropPolicy(s) {
	case "":
		return DropPermanent, nil
	case DropPermanent, DropRetry:
		return DropPolicy(s), nil
	}
	return "", errors.WrapInvalid(fmt.Errorf("unknown drop policy %q", s),
		"Manager", "ParseDropPolicy", "policy validation")
}

// Bus is the slice of the NATS client the manager consumes.
type Bus interface {
	StartInventory(root string) error
	KnownSubjects() []string
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
	SubscribeOnce(ctx context.Context, subject string, handler func(context.Context, []byte)) (*nats.Subscription, error)
}

// Submitter queues state updates; satisfied by *state.Applier.
type Submitter interface {
	Submit(u state.Update) error
}

// Config holds configuration for the discovery manager
type Config struct {
	PollInterval time.Duration
	ProbeTimeout time.Duration
	DropPolicy   DropPolicy
}

// DefaultConfig returns sensible discovery defaults
func DefaultConfig() Config {
	return Config{
		PollInterval: 100 * time.Millisecond,
		ProbeTimeout: 5 * time.Second,
		DropPolicy:   DropPermanent,
	}
}

// Deps holds runtime dependencies for the discovery manager
type Deps struct {
	Name            string
	Config          Config
	Bus             Bus
	Applier         Submitter
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// managerMetrics holds Prometheus metrics for the discovery manager
type managerMetrics struct {
	sensorsActive   prometheus.Gauge
	sensorsDropped  prometheus.Counter
	probesOpened    prometheus.Counter
	readings        prometheus.Counter
	readingsDropped prometheus.Counter
}

// newManagerMetrics creates and registers discovery metrics
func newManagerMetrics(registry *metric.MetricsRegistry) *managerMetrics {
	if registry == nil {
		return nil
	}

	m := &managerMetrics{
		sensorsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xbot",
			Subsystem: "discovery",
			Name:      "sensors_active",
			Help:      "Sensors promoted to active data subscriptions",
		}),
		sensorsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "discovery",
			Name:      "sensors_dropped_total",
			Help:      "Announcements rejected (malformed or unknown value kind)",
		}),
		probesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "discovery",
			Name:      "probes_opened_total",
			Help:      "One-shot announcement subscriptions opened",
		}),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "discovery",
			Name:      "readings_total",
			Help:      "Sensor readings received on data channels",
		}),
		readingsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "discovery",
			Name:      "readings_dropped_total",
			Help:      "Data payloads discarded before the cache (unreadable or wrong value kind)",
		}),
	}

	serviceName := "discovery-manager"
	_ = registry.RegisterGauge(serviceName, "sensors_active", m.sensorsActive)
	_ = registry.RegisterCounter(serviceName, "sensors_dropped", m.sensorsDropped)
	_ = registry.RegisterCounter(serviceName, "probes_opened", m.probesOpened)
	_ = registry.RegisterCounter(serviceName, "readings", m.readings)
	_ = registry.RegisterCounter(serviceName, "readings_dropped", m.readingsDropped)

	return m
}

// sourceState tracks one discovered sensor id through its lifecycle.
// Pending and Probing exist only until the first announcement is consumed;
// Active is terminal, Dropped is terminal under the permanent policy.
type sourceState int

const (
	statePending sourceState = iota
	stateProbing
	stateActive
	stateDropped
)

type source struct {
	state          sourceState
	kind           types.ValueKind // announced value type, set at promotion
	probeStart     time.Time
	probeSub       *nats.Subscription
	dataSubscribed bool
}

// Manager discovers sensors on the bus. Every poll tick it matches the
// subject inventory against the announcement pattern, opens a one-shot
// probe per new id, and on the first announcement promotes the sensor:
// descriptor into the cache, long-lived data subscription opened. An id
// never leaves Active again.
type Manager struct {
	name    string
	config  Config
	bus     Bus
	applier Submitter
	logger  *slog.Logger

	sourcesMu sync.Mutex
	sources   map[string]*source

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup

	// Flow counters
	announcements atomic.Int64
	readings      atomic.Int64
	errorCount    atomic.Int64
	lastActivity  atomic.Value // stores time.Time

	metrics *managerMetrics
}

var _ component.Discoverable = (*Manager)(nil)
var _ component.LifecycleComponent = (*Manager)(nil)

// NewManager creates a discovery manager
func NewManager(deps Deps) (*Manager, error) {
	if deps.Bus == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil bus"),
			"Manager", "NewManager", "dependency validation")
	}
	if deps.Applier == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil applier"),
			"Manager", "NewManager", "dependency validation")
	}

	name := deps.Name
	if name == "" {
		name = "discovery-manager"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", name)

	cfg := deps.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	if cfg.DropPolicy == "" {
		cfg.DropPolicy = DropPermanent
	}

	return &Manager{
		name:      name,
		config:    cfg,
		bus:       deps.Bus,
		applier:   deps.Applier,
		logger:    logger,
		sources:   make(map[string]*source),
		startTime: time.Now(),
		metrics:   newManagerMetrics(deps.MetricsRegistry),
	}, nil
}

// Meta returns the component metadata
func (m *Manager) Meta() component.Metadata {
	return component.Metadata{
		Name:        m.name,
		Type:        "listener",
		Description: "Sensor discovery: inventory poll, announcement probe, data subscription",
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (m *Manager) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    m.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(m.errorCount.Load()),
		Uptime:     time.Since(m.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (m *Manager) DataFlow() component.FlowMetrics {
	received := m.announcements.Load() + m.readings.Load()
	errorCount := m.errorCount.Load()
	lastActivity, _ := m.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(m.startTime).Seconds(); uptime > 0 {
		perSecond = float64(received) / uptime
	}
	if received > 0 {
		errorRate = float64(errorCount) / float64(received)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the manager configuration
func (m *Manager) Initialize() error {
	if _, err := ParseDropPolicy(string(m.config.DropPolicy)); err != nil {
		return err
	}
	return nil
}

// Start begins the subject inventory and the discovery poll loop
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		return nil // Already running, idempotent
	}

	err := retry.Do(ctx, retry.Quick(), func() error {
		return m.bus.StartInventory(inventoryRoot)
	})
	if err != nil {
		return errors.Wrap(err, "Manager", "Start", "start subject inventory")
	}

	m.shutdown = make(chan struct{})
	m.done = make(chan struct{})
	m.running.Store(true)
	m.startTime = time.Now()
	m.lastActivity.Store(time.Time{})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(m.done)
		m.run(ctx)
	}()

	m.logger.Info("discovery started",
		"poll_interval", m.config.PollInterval,
		"drop_policy", string(m.config.DropPolicy))
	return nil
}

// Stop halts the poll loop. Data subscriptions stay with the bus client
// and are torn down when it closes.
func (m *Manager) Stop(timeout time.Duration) error {
	if !m.running.Load() {
		return nil
	}
	m.running.Store(false)

	m.mu.Lock()
	if m.shutdown != nil {
		select {
		case <-m.shutdown:
		default:
			close(m.shutdown)
		}
	}
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"Manager", "Stop", "graceful shutdown")
	}
}

// run is the discovery poll loop
func (m *Manager) run(ctx context.Context) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll matches the subject inventory against the announcement pattern and
// advances per-id state
func (m *Manager) poll(ctx context.Context) {
	subjects := m.bus.KnownSubjects()
	now := time.Now()

	m.sourcesMu.Lock()
	for _, subj := range subjects {
		id := sensorIDFromAnnouncement(subj)
		if id == "" {
			continue
		}
		if _, tracked := m.sources[id]; tracked {
			continue
		}
		m.sources[id] = &source{state: statePending}
	}

	var toProbe, toResubscribe []string
	for id, src := range m.sources {
		switch src.state {
		case statePending:
			toProbe = append(toProbe, id)
		case stateProbing:
			// Announcements repeat, so a probe normally resolves on the
			// next repetition. Under the retry policy a stalled probe is
			// released and the id re-probed from scratch.
			if m.config.DropPolicy == DropRetry && now.Sub(src.probeStart) > m.config.ProbeTimeout {
				if src.probeSub != nil {
					_ = src.probeSub.Unsubscribe()
				}
				delete(m.sources, id)
			}
		case stateActive:
			if !src.dataSubscribed {
				toResubscribe = append(toResubscribe, id)
			}
		}
	}
	m.sourcesMu.Unlock()

	for _, id := range toProbe {
		m.openProbe(ctx, id)
	}
	for _, id := range toResubscribe {
		m.subscribeData(ctx, id)
	}
}

// openProbe opens the one-shot announcement subscription for an id
func (m *Manager) openProbe(ctx context.Context, id string) {
	sub, err := m.bus.SubscribeOnce(ctx, announcementSubject(id),
		func(_ context.Context, payload []byte) {
			// The probe's message context dies with this callback; the
			// poll context outlives it and owns the data subscription.
			m.onAnnouncement(ctx, id, payload)
		})
	if err != nil {
		m.errorCount.Add(1)
		m.logger.Debug("announcement probe failed, retrying next tick", "sensor", id, "error", err)
		return
	}

	m.sourcesMu.Lock()
	if src, ok := m.sources[id]; ok && src.state == statePending {
		src.state = stateProbing
		src.probeStart = time.Now()
		src.probeSub = sub
	}
	m.sourcesMu.Unlock()

	if m.metrics != nil {
		m.metrics.probesOpened.Inc()
	}
	m.logger.Debug("probing sensor announcement", "sensor", id)
}

// onAnnouncement consumes the single announcement for a probing id and
// promotes or drops the sensor
func (m *Manager) onAnnouncement(ctx context.Context, id string, payload []byte) {
	m.announcements.Add(1)
	m.lastActivity.Store(time.Now())

	var info types.SensorInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		m.dropSource(id, fmt.Sprintf("malformed descriptor: %v", err))
		return
	}
	if info.Kind == types.KindUnknown {
		m.dropSource(id, "unknown value kind")
		return
	}
	if info.ID != id {
		// The subject determines the data channel, so it names the sensor
		m.logger.Debug("descriptor id differs from subject id",
			"subject_id", id, "descriptor_id", info.ID)
		info.ID = id
	}

	m.sourcesMu.Lock()
	src, ok := m.sources[id]
	if !ok || src.state == stateActive || src.state == stateDropped {
		m.sourcesMu.Unlock()
		return
	}
	src.state = stateActive
	src.kind = info.Kind
	src.probeSub = nil
	m.sourcesMu.Unlock()

	if err := m.applier.Submit(state.SensorDiscovered{Info: info}); err != nil {
		m.errorCount.Add(1)
		m.logger.Error("failed to submit discovered sensor", "sensor", id, "error", err)
	}

	m.subscribeData(ctx, id)

	if m.metrics != nil {
		m.metrics.sensorsActive.Inc()
	}
	m.logger.Info("sensor promoted",
		"sensor", id, "name", info.Name, "kind", info.Kind.String())
}

// dropSource applies the configured drop policy to an unusable id
func (m *Manager) dropSource(id, reason string) {
	m.sourcesMu.Lock()
	if src, ok := m.sources[id]; ok {
		switch m.config.DropPolicy {
		case DropRetry:
			if src.probeSub != nil {
				_ = src.probeSub.Unsubscribe()
			}
			delete(m.sources, id)
		default:
			src.state = stateDropped
			src.probeSub = nil
		}
	}
	m.sourcesMu.Unlock()

	if m.metrics != nil {
		m.metrics.sensorsDropped.Inc()
	}
	m.logger.Warn("sensor dropped",
		"sensor", id, "reason", reason, "policy", string(m.config.DropPolicy))
}

// subscribeData opens the long-lived data subscription for an active id
func (m *Manager) subscribeData(ctx context.Context, id string) {
	err := m.bus.Subscribe(ctx, dataSubject(id), func(_ context.Context, payload []byte) {
		m.onReading(id, payload)
	})

	m.sourcesMu.Lock()
	if src, ok := m.sources[id]; ok {
		src.dataSubscribed = err == nil
	}
	m.sourcesMu.Unlock()

	if err != nil {
		m.errorCount.Add(1)
		m.logger.Warn("data subscription failed, retrying next tick", "sensor", id, "error", err)
	}
}

// onReading parses one data-channel payload and submits it as a reading.
// Payloads whose value kind contradicts the announced descriptor never
// reach the cache.
func (m *Manager) onReading(id string, payload []byte) {
	m.readings.Add(1)
	m.lastActivity.Store(time.Now())

	var v types.Value
	if err := json.Unmarshal(payload, &v); err != nil {
		m.dropReading(id, fmt.Sprintf("unreadable value: %v", err))
		return
	}

	m.sourcesMu.Lock()
	src, tracked := m.sources[id]
	var want types.ValueKind
	if tracked {
		want = src.kind
	}
	m.sourcesMu.Unlock()

	if !tracked || v.Kind() != want {
		m.dropReading(id, fmt.Sprintf("value kind %s, announced %s", v.Kind(), want))
		return
	}

	if m.metrics != nil {
		m.metrics.readings.Inc()
	}
	if err := m.applier.Submit(state.ReadingReceived{Reading: types.SensorReading{
		SensorID: id,
		Value:    v,
		At:       time.Now(),
	}}); err != nil {
		m.errorCount.Add(1)
	}
}

// dropReading discards one data payload without touching the cache
func (m *Manager) dropReading(id, reason string) {
	m.errorCount.Add(1)
	if m.metrics != nil {
		m.metrics.readingsDropped.Inc()
	}
	m.logger.Debug("reading dropped", "sensor", id, "reason", reason)
}

// trackedState reports the lifecycle state for an id (testing hook)
func (m *Manager) trackedState(id string) (sourceState, bool) {
	m.sourcesMu.Lock()
	defer m.sourcesMu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return 0, false
	}
	return src.state, true
}
