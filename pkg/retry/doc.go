// Package retry runs an operation with exponential backoff and jitter.
//
// Do retries until success, exhausted attempts, a NonRetryable error,
// or context cancellation. The bus listeners use it with Quick to ride
// out a reconnecting NATS connection during startup:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return bus.Subscribe(ctx, subject, handler)
//	})
//
// Wrap permanent failures with NonRetryable so misconfiguration
// surfaces immediately instead of after a full backoff schedule.
package retry
