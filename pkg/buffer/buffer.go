package buffer

import (
	"github.com/raven-worx/xbot-monitoring/errors"
	"github.com/raven-worx/xbot-monitoring/metric"
)

// Buffer is a bounded FIFO queue. All methods are safe for concurrent use.
// Write never blocks; when the buffer is full the overflow policy decides
// which item is lost.
type Buffer[T any] interface {
	// Write appends an item. Returns an error only when the buffer is
	// closed; a full buffer sheds per the overflow policy instead.
	Write(item T) error

	// ReadBatch removes and returns up to max items in FIFO order.
	// Returns nil when the buffer is empty.
	ReadBatch(max int) []T

	// Len returns the number of buffered items.
	Len() int

	// Cap returns the fixed capacity.
	Cap() int

	// Close rejects further writes. Buffered items remain readable.
	Close() error
}

// OverflowPolicy selects which item is shed when a write hits a full
// buffer.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest buffered item to admit the new one.
	// The right choice for snapshot-style updates where newer data
	// supersedes older data.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item and keeps the backlog.
	DropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return "unknown"
	}
}

// DropCallback observes each item lost to the overflow policy. It is
// invoked outside the buffer lock, so it may touch the buffer.
type DropCallback[T any] func(item T)

// Option configures a buffer at construction time.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy   OverflowPolicy
	onDrop   DropCallback[T]
	registry *metric.MetricsRegistry
	name     string
}

// WithOverflowPolicy sets the shedding behavior. Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.policy = policy
	}
}

// WithDropCallback registers an observer for shed items.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.onDrop = cb
	}
}

// WithMetrics exposes queue depth and drop counters under the given
// component name. Ignored when registry or name is empty.
func WithMetrics[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(o *options[T]) {
		if registry != nil && name != "" {
			o.registry = registry
			o.name = name
		}
	}
}

// NewCircularBuffer creates a ring buffer with the given capacity.
// Capacity below one is raised to one. The only error source is metric
// registration when WithMetrics is set.
func NewCircularBuffer[T any](capacity int, opts ...Option[T]) (Buffer[T], error) {
	o := &options[T]{policy: DropOldest}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if capacity < 1 {
		capacity = 1
	}

	var m *queueMetrics
	if o.registry != nil {
		var err error
		m, err = newQueueMetrics(o.registry, o.name)
		if err != nil {
			return nil, errors.WrapTransient(err, "Buffer", "NewCircularBuffer", "metric registration")
		}
	}

	return &ring[T]{
		items:   make([]T, capacity),
		opts:    o,
		metrics: m,
	}, nil
}
