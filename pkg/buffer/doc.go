// Package buffer provides a bounded, non-blocking FIFO queue used to
// decouple bus callbacks from downstream consumers.
//
// Writers are never blocked: when the queue is full, the overflow
// policy sheds either the oldest buffered item (DropOldest, the
// default) or the incoming one (DropNewest). Shed items can be observed
// through a drop callback, and depth plus drop counters can be exported
// to Prometheus with WithMetrics.
//
//	queue, err := buffer.NewCircularBuffer[Update](256,
//	    buffer.WithOverflowPolicy[Update](buffer.DropOldest),
//	    buffer.WithMetrics[Update](registry, "state_updates"),
//	)
//
// DropOldest suits snapshot-style telemetry where a newer document
// supersedes the queued one, so losing the oldest entry under backlog
// loses no information that still matters.
package buffer
