package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      1.5,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		return errors.New("still failing")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_FatalErrorStopsImmediately(t *testing.T) {
	calls := 0
	cause := errors.New("schema mismatch")
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return NewFatalError(cause)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Retry(ctx, fastPolicy(100), func() error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.Less(t, calls, 100)
}

func TestRetryWithCallback_ReportsAttempts(t *testing.T) {
	var attempts []int
	err := RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		return errors.New("transient")
	}, func(attempt int, err error, nextDelay time.Duration) {
		attempts = append(attempts, attempt)
		assert.Positive(t, nextDelay)
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestNewRetryableError_NilPassthrough(t *testing.T) {
	assert.Nil(t, NewRetryableError(nil))
	assert.Nil(t, NewFatalError(nil))
}

func TestRetryableError_Unwraps(t *testing.T) {
	cause := errors.New("conflict")
	err := NewRetryableError(cause)
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.IsRetryable())
}
