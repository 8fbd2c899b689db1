package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raven-worx/xbot-monitoring/metric"
)

var (
	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("worker pool not started")

	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("worker pool stopped")

	// ErrQueueFull is returned by Submit when the work queue is at
	// capacity. The item is not queued.
	ErrQueueFull = errors.New("worker pool queue full")

	// ErrStopTimeout is returned by Stop when workers do not drain in
	// time.
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)

// Pool runs a fixed set of workers over a bounded work queue. Submit is
// non-blocking; a full queue rejects the item. With a single worker,
// items are processed in submission order.
type Pool[T any] struct {
	workers   int
	queueSize int
	process   func(context.Context, T) error

	work    chan T
	wg      sync.WaitGroup
	metrics *poolMetrics

	// mu orders Start/Stop against Submit so the work channel is never
	// closed mid-send. Submits take the read side and stay concurrent.
	mu      sync.RWMutex
	started bool
	stopped bool

	registry *metric.MetricsRegistry
	prefix   string
}

// Option configures a Pool at construction time.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry exports queue depth, throughput, and processing
// duration under the given metric name prefix.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.prefix = prefix
	}
}

// NewPool creates a pool of workers feeding off a queue of queueSize
// items. Non-positive workers defaults to one, which preserves
// submission order; non-positive queueSize defaults to 256. A nil
// process function panics, there is nothing a pool without work could
// do.
func NewPool[T any](workers, queueSize int, process func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if process == nil {
		panic("worker: nil process function")
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		process:   process,
		work:      make(chan T, queueSize),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.registry != nil && p.prefix != "" {
		p.metrics = newPoolMetrics(p.registry, p.prefix)
	}
	return p
}

// Submit queues one item. Never blocks; returns ErrQueueFull when the
// queue is at capacity.
func (p *Pool[T]) Submit(item T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return ErrNotStarted
	}
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.work <- item:
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.depth.Set(float64(len(p.work)))
		}
		return nil
	default:
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. Starting a running pool is a no-op;
// restarting a stopped pool returns ErrStopped.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return nil
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.started = true
	return nil
}

// Stop closes the queue and waits for workers to drain the remaining
// items. Queued work is still processed unless ctx given to Start is
// already cancelled.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.work)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.work:
			if !ok {
				return
			}

			start := time.Now()
			err := p.process(ctx, item)

			if p.metrics != nil {
				p.metrics.depth.Set(float64(len(p.work)))
				status := "success"
				if err != nil {
					p.metrics.failed.Inc()
					status = "error"
				}
				p.metrics.processed.Inc()
				p.metrics.duration.WithLabelValues(status).Observe(time.Since(start).Seconds())
			}
		}
	}
}

type poolMetrics struct {
	depth     prometheus.Gauge
	submitted prometheus.Counter
	processed prometheus.Counter
	failed    prometheus.Counter
	dropped   prometheus.Counter
	duration  *prometheus.HistogramVec
}

func newPoolMetrics(registry *metric.MetricsRegistry, prefix string) *poolMetrics {
	m := &poolMetrics{
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Items waiting in the work queue",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Items accepted into the work queue",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_processed_total",
			Help: "Items taken off the queue and processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_failed_total",
			Help: "Items whose processing returned an error",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_dropped_total",
			Help: "Items rejected because the queue was full",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing one item",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	serviceName := "worker_pool"
	_ = registry.RegisterGauge(serviceName, prefix+"_queue_depth", m.depth)
	_ = registry.RegisterCounter(serviceName, prefix+"_submitted", m.submitted)
	_ = registry.RegisterCounter(serviceName, prefix+"_processed", m.processed)
	_ = registry.RegisterCounter(serviceName, prefix+"_failed", m.failed)
	_ = registry.RegisterCounter(serviceName, prefix+"_dropped", m.dropped)
	_ = registry.RegisterHistogramVec(serviceName, prefix+"_processing_duration", m.duration)
	return m
}
