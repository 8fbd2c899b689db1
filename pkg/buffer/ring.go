package buffer

import (
	"sync"

	"github.com/raven-worx/xbot-monitoring/errors"
)

// ring is the circular Buffer implementation. head is the next write
// slot, tail the next read slot; count disambiguates full from empty.
type ring[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	tail   int
	count  int
	closed bool

	opts    *options[T]
	metrics *queueMetrics
}

func (r *ring[T]) Write(item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "write to closed buffer")
	}

	var dropped T
	var didDrop bool

	if r.count == len(r.items) {
		switch r.opts.policy {
		case DropNewest:
			r.mu.Unlock()
			if r.metrics != nil {
				r.metrics.drops.Inc()
			}
			if r.opts.onDrop != nil {
				r.opts.onDrop(item)
			}
			return nil
		default: // DropOldest
			dropped = r.items[r.tail]
			var zero T
			r.items[r.tail] = zero
			r.tail = (r.tail + 1) % len(r.items)
			r.count--
			didDrop = true
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	r.count++

	depth := r.count
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.writes.Inc()
		r.metrics.observeDepth(depth, len(r.items))
		if didDrop {
			r.metrics.drops.Inc()
		}
	}
	// Callback runs outside the lock so it may re-enter the buffer.
	if didDrop && r.opts.onDrop != nil {
		r.opts.onDrop(dropped)
	}
	return nil
}

func (r *ring[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	r.mu.Lock()

	if r.count == 0 {
		r.mu.Unlock()
		return nil
	}

	n := max
	if n > r.count {
		n = r.count
	}

	out := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		out[i] = r.items[r.tail]
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % len(r.items)
	}
	r.count -= n

	depth := r.count
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.observeDepth(depth, len(r.items))
	}
	return out
}

func (r *ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *ring[T]) Cap() int {
	return len(r.items)
}

func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
