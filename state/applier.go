package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raven-worx/xbot-monitoring/component"
	"github.com/raven-worx/xbot-monitoring/errors"
	"github.com/raven-worx/xbot-monitoring/metric"
	"github.com/raven-worx/xbot-monitoring/pkg/buffer"
)

// Sink receives one event per applied cache mutation. Publish is called
// from the applier goroutine after the state lock is released and must not
// block; sinks queue internally and drop under backpressure.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// applierMetrics holds Prometheus metrics for the update applier
type applierMetrics struct {
	updatesApplied *prometheus.CounterVec
	updatesSkipped prometheus.Counter
	updatesDropped prometheus.Counter
	applyDuration  prometheus.Histogram
}

// newApplierMetrics creates and registers applier metrics
func newApplierMetrics(registry *metric.MetricsRegistry) *applierMetrics {
	if registry == nil {
		return nil
	}

	m := &applierMetrics{
		updatesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "state",
			Name:      "updates_applied_total",
			Help:      "Cache mutations applied, by domain",
		}, []string{"domain"}),
		updatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "state",
			Name:      "updates_skipped_total",
			Help:      "Updates that were no-ops (duplicate sensors, unknown readings)",
		}),
		updatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xbot",
			Subsystem: "state",
			Name:      "updates_dropped_total",
			Help:      "Pending updates evicted under backlog",
		}),
		applyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "xbot",
			Subsystem: "state",
			Name:      "apply_duration_seconds",
			Help:      "Time to apply one update including sink fan-out",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		}),
	}

	serviceName := "state-applier"
	_ = registry.RegisterCounterVec(serviceName, "updates_applied", m.updatesApplied)
	_ = registry.RegisterCounter(serviceName, "updates_skipped", m.updatesSkipped)
	_ = registry.RegisterCounter(serviceName, "updates_dropped", m.updatesDropped)
	_ = registry.RegisterHistogram(serviceName, "apply_duration", m.applyDuration)

	return m
}

// ApplierConfig holds configuration for the update applier
type ApplierConfig struct {
	QueueSize int `json:"queue_size"`
}

// DefaultApplierConfig returns sensible applier defaults
func DefaultApplierConfig() ApplierConfig {
	return ApplierConfig{QueueSize: 256}
}

// ApplierDeps holds runtime dependencies for the update applier
type ApplierDeps struct {
	Name            string
	Config          ApplierConfig
	State           *GatewayState
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Applier serializes all cache mutations: producers submit updates from
// any goroutine, one applier goroutine applies them in order and fans the
// resulting events out to sinks. The queue never blocks producers; under
// backlog the oldest pending update is evicted, which is safe because
// every domain overwrites in place.
type Applier struct {
	name   string
	state  *GatewayState
	logger *slog.Logger

	queue  buffer.Buffer[Update]
	notify chan struct{}
	sinks  []Sink

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup

	// Flow counters
	submitted    atomic.Int64
	applied      atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Value // stores time.Time

	metrics *applierMetrics
}

var _ component.Discoverable = (*Applier)(nil)
var _ component.LifecycleComponent = (*Applier)(nil)

// applyBatchSize bounds how many updates one drain pass takes off the
// queue before re-checking shutdown
const applyBatchSize = 64

// NewApplier creates the update applier for the given state
func NewApplier(deps ApplierDeps) (*Applier, error) {
	if deps.State == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil state"),
			"Applier", "NewApplier", "state validation")
	}

	name := deps.Name
	if name == "" {
		name = "state-applier"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", name)

	queueSize := deps.Config.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultApplierConfig().QueueSize
	}

	metrics := newApplierMetrics(deps.MetricsRegistry)

	bufferOpts := []buffer.Option[Update]{
		buffer.WithOverflowPolicy[Update](buffer.DropOldest),
	}
	if deps.MetricsRegistry != nil {
		bufferOpts = append(bufferOpts, buffer.WithMetrics[Update](deps.MetricsRegistry, "state_updates"))
	}
	if metrics != nil {
		bufferOpts = append(bufferOpts, buffer.WithDropCallback[Update](func(Update) {
			metrics.updatesDropped.Inc()
		}))
	}

	queue, err := buffer.NewCircularBuffer(queueSize, bufferOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Applier", "NewApplier", "create update queue")
	}

	a := &Applier{
		name:      name,
		state:     deps.State,
		logger:    logger,
		queue:     queue,
		notify:    make(chan struct{}, 1),
		startTime: time.Now(),
		metrics:   metrics,
	}
	a.lastActivity.Store(time.Time{})
	return a, nil
}

// AddSink registers an event sink. Sinks must be registered before Start.
func (a *Applier) AddSink(s Sink) error {
	if a.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"Applier", "AddSink", "sink registration after start")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, s)
	return nil
}

// Submit queues one update for application. Never blocks.
func (a *Applier) Submit(u Update) error {
	if !a.running.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted,
			"Applier", "Submit", "applier not running")
	}

	a.submitted.Add(1)

	if err := a.queue.Write(u); err != nil {
		a.errors.Add(1)
		return errors.WrapTransient(err, "Applier", "Submit", "queue write")
	}

	// Wake the applier; a pending wakeup already covers this update
	select {
	case a.notify <- struct{}{}:
	default:
	}
	return nil
}

// Meta returns the component metadata
func (a *Applier) Meta() component.Metadata {
	return component.Metadata{
		Name:        a.name,
		Type:        "state",
		Description: "Serialized snapshot-cache mutation loop with sink fan-out",
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (a *Applier) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    a.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(a.errors.Load()),
		Uptime:     time.Since(a.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (a *Applier) DataFlow() component.FlowMetrics {
	applied := a.applied.Load()
	errorCount := a.errors.Load()
	lastActivity, _ := a.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(a.startTime).Seconds(); uptime > 0 {
		perSecond = float64(applied) / uptime
	}
	if applied > 0 {
		errorRate = float64(errorCount) / float64(applied)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize prepares the applier but does not start the apply loop
func (a *Applier) Initialize() error {
	if a.state == nil {
		return errors.WrapInvalid(fmt.Errorf("nil state"),
			"Applier", "Initialize", "state validation")
	}
	return nil
}

// Start launches the apply loop
func (a *Applier) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running.Load() {
		return nil // Already running, idempotent
	}

	a.shutdown = make(chan struct{})
	a.done = make(chan struct{})
	a.running.Store(true)
	a.startTime = time.Now()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(a.done)
		a.run(ctx)
	}()

	return nil
}

// Stop drains remaining updates and stops the apply loop
func (a *Applier) Stop(timeout time.Duration) error {
	if !a.running.Load() {
		return nil
	}
	a.running.Store(false)

	a.mu.Lock()
	if a.shutdown != nil {
		select {
		case <-a.shutdown:
		default:
			close(a.shutdown)
		}
	}
	done := a.done
	a.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"Applier", "Stop", "graceful shutdown")
	}

	_ = a.queue.Close()
	return nil
}

// run is the applier goroutine: wait for work, drain, repeat
func (a *Applier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.shutdown:
			// Flush whatever was queued before the stop signal
			a.drain(ctx)
			return
		case <-a.notify:
			a.drain(ctx)
		}
	}
}

// drain applies queued updates until the queue is empty
func (a *Applier) drain(ctx context.Context) {
	for {
		updates := a.queue.ReadBatch(applyBatchSize)
		if len(updates) == 0 {
			return
		}
		for _, u := range updates {
			a.applyOne(ctx, u)
		}
	}
}

// applyOne applies a single update and fans the event out to sinks
func (a *Applier) applyOne(ctx context.Context, u Update) {
	var start time.Time
	if a.metrics != nil {
		start = time.Now()
	}

	ev, ok := u.apply(a.state)
	a.lastActivity.Store(time.Now())

	if !ok {
		if a.metrics != nil {
			a.metrics.updatesSkipped.Inc()
		}
		a.logger.Debug("skipped no-op update", "update", fmt.Sprintf("%T", u))
		return
	}

	a.applied.Add(1)

	a.mu.RLock()
	sinks := a.sinks
	a.mu.RUnlock()

	for _, s := range sinks {
		s.Publish(ctx, ev)
	}

	if a.metrics != nil {
		a.metrics.updatesApplied.WithLabelValues(ev.Domain.String()).Inc()
		a.metrics.applyDuration.Observe(time.Since(start).Seconds())
	}
}
