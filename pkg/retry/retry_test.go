package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("broker unreachable")
	calls := 0

	err := Do(context.Background(), fastConfig(4), func() error {
		calls++
		return sentinel
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "gave up after 4 attempts")
}

func TestDo_NonRetryableFailsFast(t *testing.T) {
	inner := errors.New("bad credentials")
	calls := 0

	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return NonRetryable(inner)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, inner)
	assert.True(t, IsNonRetryable(err))
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Multiplier:   2.0,
	}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func() error {
			return errors.New("still failing")
		})
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDo_CanceledContextDoesNotRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastConfig(3), func() error {
		calls++
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDo_ZeroConfigRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{}, func() error {
		calls++
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_DelayCappedAtMax(t *testing.T) {
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   100,
	}

	start := time.Now()
	_ = Do(context.Background(), cfg, func() error {
		return errors.New("fail")
	})

	// 4 backoffs, each at most MaxDelay plus jitter headroom.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestNonRetryable_NilStaysNil(t *testing.T) {
	assert.NoError(t, NonRetryable(nil))
}

func TestIsNonRetryable_ChainTraversal(t *testing.T) {
	assert.False(t, IsNonRetryable(errors.New("plain")))

	marked := NonRetryable(errors.New("permanent"))
	assert.True(t, IsNonRetryable(marked))

	wrapped := errors.Join(errors.New("context"), marked)
	assert.True(t, IsNonRetryable(wrapped))
}

func TestQuick_Shape(t *testing.T) {
	cfg := Quick()
	assert.Equal(t, 10, cfg.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.InitialDelay)
	assert.True(t, cfg.AddJitter)
}
