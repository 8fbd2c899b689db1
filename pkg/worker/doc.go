// Package worker provides a bounded worker pool with a non-blocking
// submit path.
//
// A pool runs a fixed number of goroutines over a buffered work
// channel. Submit rejects with ErrQueueFull instead of blocking, so a
// caller on a latency-sensitive path (a bus callback, a sink fan-out)
// can shed load and move on. Stop closes the queue and drains what is
// already buffered.
//
// With a single worker the pool doubles as an ordering stage: items
// are processed strictly in submission order, which the MQTT uplink
// relies on for per-topic message ordering.
//
//	pool := worker.NewPool(1, 512, publishOne,
//	    worker.WithMetricsRegistry[Event](registry, "uplink_pipeline"))
//	pool.Start(ctx)
//	...
//	pool.Submit(ev)
package worker
