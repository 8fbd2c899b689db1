// Package feeds subscribes to the fixed bus channels (robot state, map,
// map overlay) and turns their documents into cache updates.
package feeds

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

const (
	subjectRobotState = "xbot.robot_state"
	subjectMap        = "xbot.map"
	subjectMapOverlay = "xbot.map_overlay"
)

// Bus is the slice of the NATS client the listener consumes.
type Bus interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// Submitter queues state updates; satisfied by *state.Applier.
type Submitter interface {
	Submit(u state.Update) error
}

// Deps holds runtime dependencies for the feed listener
type Deps struct {
	Name            string
	Bus             Bus
	Applier         Submitter
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// listenerMetrics holds Prometheus metrics for the feed listener
type listenerMetrics struct {
	documents     *prometheus.CounterVec
	parseFailures prometheus.Counter
}

func newListenerMetrics(registry *metric.MetricsRegistry) *listenerMetrics {
	if registry == nil {
		return nil
	}

	m := &listenerMetrics{
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "feeds",
			Name:      "documents_total",
			Help:      "Documents received on fixed channels, by channel",
		}, []string{"channel"}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "feeds",
			Name:      "parse_failures_total",
			Help:      "Documents dropped because they could not be decoded",
		}),
	}

	serviceName := "feeds-listener"
	_ = registry.RegisterCounterVec(serviceName, "documents", m.documents)
	_ = registry.RegisterCounter(serviceName, "parse_failures", m.parseFailures)

	return m
}

// Listener consumes the fixed channels. It owns no goroutine: all work
// happens in bus callbacks, so Start only opens the subscriptions.
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

// NewListener creates a fixed-channel listener
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
		name = "feeds-listener"
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
		Description: "Fixed-channel feeds: robot state, map, map overlay",
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

// Start opens the three fixed-channel subscriptions
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Load() {
		return nil // Already running, idempotent
	}

	subscriptions := []struct {
		subject string
		handler func(context.Context, []byte)
	}{
		{subjectRobotState, l.onRobotState},
		{subjectMap, l.onMap},
		{subjectMapOverlay, l.onMapOverlay},
	}

	for _, sub := range subscriptions {
		subject := sub.subject
		handler := sub.handler
		err := retry.Do(ctx, retry.Quick(), func() error {
			return l.bus.Subscribe(ctx, subject, handler)
		})
		if err != nil {
			return errors.Wrap(err, "Listener", "Start",
				fmt.Sprintf("subscribe %s", subject))
		}
	}

	l.running.Store(true)
	l.startTime = time.Now()
	l.logger.Info("feed listener started",
		"channels", []string{subjectRobotState, subjectMap, subjectMapOverlay})
	return nil
}

// Stop marks the listener stopped. Subscriptions stay with the bus client
// and are torn down when it closes.
func (l *Listener) Stop(_ time.Duration) error {
	l.running.Store(false)
	return nil
}

func (l *Listener) onRobotState(_ context.Context, payload []byte) {
	l.touch(subjectRobotState)

	var rs types.RobotState
	if err := json.Unmarshal(payload, &rs); err != nil {
		l.dropDocument(subjectRobotState, err)
		return
	}
	l.submit(state.RobotStateReceived{State: rs})
}

func (l *Listener) onMap(_ context.Context, payload []byte) {
	l.touch(subjectMap)

	var m types.Map
	if err := json.Unmarshal(payload, &m); err != nil {
		l.dropDocument(subjectMap, err)
		return
	}
	l.submit(state.MapReceived{Map: m})
}

func (l *Listener) onMapOverlay(_ context.Context, payload []byte) {
	l.touch(subjectMapOverlay)

	overlay, err := types.ParseMapOverlay(payload)
	if err != nil {
		l.dropDocument(subjectMapOverlay, err)
		return
	}
	l.submit(state.OverlayReceived{Overlay: overlay})
}

func (l *Listener) touch(channel string) {
	l.received.Add(1)
	l.lastActivity.Store(time.Now())
	if l.metrics != nil {
		l.metrics.documents.WithLabelValues(channel).Inc()
	}
}

func (l *Listener) dropDocument(channel string, err error) {
	l.errorCount.Add(1)
	if l.metrics != nil {
		l.metrics.parseFailures.Inc()
	}
	l.logger.Debug("undecodable document dropped", "channel", channel, "error", err)
}

func (l *Listener) submit(u state.Update) {
	if err := l.applier.Submit(u); err != nil {
		l.errorCount.Add(1)
		l.logger.Error("failed to submit update", "error", err)
	}
}
