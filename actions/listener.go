// Package actions consumes action registrations from the bus. Robot nodes
// register the actions they can execute under a node prefix; each
// registration replaces the previous set for that prefix and is
// acknowledged over the request's reply subject.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raven-worx/xbot-monitoring/component"
	"github.com/raven-worx/xbot-monitoring/errors"
	"github.com/raven-worx/xbot-monitoring/metric"
	"github.com/raven-worx/xbot-monitoring/pkg/retry"
	"github.com/raven-worx/xbot-monitoring/state"
	"github.com/raven-worx/xbot-monitoring/types"
)

// subjectRegister is the request/reply channel for action registrations.
const subjectRegister = "xbot.actions.register"

// Bus is the slice of the NATS client the listener consumes.
type Bus interface {
	SubscribeReply(ctx context.Context, subject string, handler func(context.Context, []byte) []byte) error
}

// Submitter queues state updates; satisfied by *state.Applier.
type Submitter interface {
	Submit(u state.Update) error
}

// ack is the JSON reply sent back to a registering node.
type ack struct {
	OK         bool   `json:"ok"`
	Registered int    `json:"registered"`
	Error      string `json:"error,omitempty"`
}

// Deps holds runtime dependencies for the registration listener
type Deps struct {
	Name            string
	Bus             Bus
	Applier         Submitter
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

type listenerMetrics struct {
	registrations prometheus.Counter
	rejected      prometheus.Counter
}

func newListenerMetrics(registry *metric.MetricsRegistry) *listenerMetrics {
	if registry == nil {
		return nil
	}

	m := &listenerMetrics{
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "actions",
			Name:      "registrations_total",
			Help:      "Action registrations accepted",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "actions",
			Name:      "rejected_total",
			Help:      "Action registrations rejected (malformed or missing prefix)",
		}),
	}

	serviceName := "actions-listener"
	_ = registry.RegisterCounter(serviceName, "registrations", m.registrations)
	_ = registry.RegisterCounter(serviceName, "rejected", m.rejected)

	return m
}

// Listener answers the registration channel. Callback-only, no goroutine.
type Listener struct {
	name    string
	bus     Bus
	applier Submitter
	logger  *slog.Logger

	running   atomic.Bool
	startTime time.Time

	received     atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // stores time.Time

	metrics *listenerMetrics
}

var _ component.Discoverable = (*Listener)(nil)
var _ component.LifecycleComponent = (*Listener)(nil)

// NewListener creates a registration listener
func NewListener(deps Deps) (*Listener, error) {
	if deps.Bus == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil bus"),
			"Listener", "NewListener", "dependency validation")
	}
	if deps.Applier == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil applier"),
			"Listener", "NewListener", "dependency validation")
	}

	name := deps.Name
	if name == "" {
		name = "actions-listener"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Listener{
		name:      name,
		bus:       deps.Bus,
		applier:   deps.Applier,
		logger:    logger.With("component", name),
		startTime: time.Now(),
		metrics:   newListenerMetrics(deps.MetricsRegistry),
	}
	l.lastActivity.Store(time.Time{})
	return l, nil
}

// Meta returns the component metadata
func (l *Listener) Meta() component.Metadata {
	return component.Metadata{
		Name:        l.name,
		Type:        "listener",
		Description: "Action registration request/reply channel",
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (l *Listener) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    l.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(l.errorCount.Load()),
		Uptime:     time.Since(l.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (l *Listener) DataFlow() component.FlowMetrics {
	received := l.received.Load()
	errorCount := l.errorCount.Load()
	lastActivity, _ := l.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(l.startTime).Seconds(); uptime > 0 {
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

// Initialize validates the listener dependencies
func (l *Listener) Initialize() error {
	return nil
}

// Start opens the registration subscription
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Load() {
		return nil // Already running, idempotent
	}

	err := retry.Do(ctx, retry.Quick(), func() error {
		return l.bus.SubscribeReply(ctx, subjectRegister, l.onRegister)
	})
	if err != nil {
		return errors.Wrap(err, "Listener", "Start", "subscribe registration channel")
	}

	l.running.Store(true)
	l.startTime = time.Now()
	l.logger.Info("action registration listener started", "channel", subjectRegister)
	return nil
}

// Stop marks the listener stopped. The subscription stays with the bus
// client and is torn down when it closes.
func (l *Listener) Stop(_ time.Duration) error {
	l.running.Store(false)
	return nil
}

// onRegister handles one registration request and builds the reply
func (l *Listener) onRegister(_ context.Context, payload []byte) []byte {
	l.received.Add(1)
	l.lastActivity.Store(time.Now())

	var reg types.ActionRegistration
	if err := json.Unmarshal(payload, &reg); err != nil {
		return l.reject(fmt.Sprintf("malformed registration: %v", err))
	}
	if reg.Prefix == "" {
		return l.reject("registration without node prefix")
	}

	if err := l.applier.Submit(state.ActionsRegistered{Registration: reg}); err != nil {
		l.errorCount.Add(1)
		l.logger.Error("failed to submit registration", "prefix", reg.Prefix, "error", err)
		return l.reject("registry update failed")
	}

	if l.metrics != nil {
		l.metrics.registrations.Inc()
	}
	l.logger.Info("actions registered", "prefix", reg.Prefix, "count", len(reg.Actions))

	return marshalAck(ack{OK: true, Registered: len(reg.Actions)})
}

func (l *Listener) reject(reason string) []byte {
	l.errorCount.Add(1)
	if l.metrics != nil {
		l.metrics.rejected.Inc()
	}
	l.logger.Warn("registration rejected", "reason", reason)
	return marshalAck(ack{OK: false, Error: reason})
}

func marshalAck(a ack) []byte {
	data, err := json.Marshal(a)
	if err != nil {
		return []byte(`{"ok":false,"error":"internal ack failure"}`)
	}
	return data
}
