package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// nonRetryable is the marker NonRetryable attaches so Do fails fast
// instead of burning attempts on a permanent error.
type nonRetryable struct {
	err error
}

func (e *nonRetryable) Error() string { return "non-retryable: " + e.err.Error() }

func (e *nonRetryable) Unwrap() error { return e.err }

// NonRetryable wraps an error so Do stops retrying when it sees it.
// Returns nil for nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryable{err: err}
}

// IsNonRetryable reports whether err carries the non-retryable marker
// anywhere in its chain.
func IsNonRetryable(err error) bool {
	var marker *nonRetryable
	return errors.As(err, &marker)
}

// Config shapes the backoff schedule. The zero value is normalized to a
// single attempt with standard delays, so a partially filled Config is
// always safe to pass.
type Config struct {
	MaxAttempts  int           // total attempts including the first
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // backoff ceiling
	Multiplier   float64       // delay growth factor per attempt
	AddJitter    bool          // spread delays by up to 25%
}

func (c Config) normalized() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	return c
}

// Quick is tuned for startup paths: many fast attempts with a low
// ceiling, so a component either comes up promptly or reports failure
// while the supervisor is still watching.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// Do runs fn until it succeeds, the attempts are exhausted, fn returns
// a NonRetryable error, or ctx is canceled. The returned error wraps
// the last failure.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg = cfg.normalized()

	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry canceled before attempt %d: %w", attempt, err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		if IsNonRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		sleep := delay
		if cfg.AddJitter && delay >= 4 {
			sleep += time.Duration(rand.Int64N(int64(delay / 4)))
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry canceled during backoff: %w", ctx.Err())
		case <-timer.C:
		}

		// The float comparison also catches multiplication overflow,
		// which would wrap negative.
		next := time.Duration(float64(delay) * cfg.Multiplier)
		if next > cfg.MaxDelay || next < delay {
			next = cfg.MaxDelay
		}
		delay = next
	}
}
