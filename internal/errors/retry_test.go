package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}

	// When: retrying with 3 retries
	err := Retry(context.Background(), fastRetry(3), fn)

	// Then: it succeeds on the third attempt
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsAndWrapsLastError(t *testing.T) {
	last := errors.New("still failing")
	attempts := 0

	err := Retry(context.Background(), fastRetry(2), func() error {
		attempts++
		return last
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, last)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	// Given: a config that only retries retryable FixErrors
	cfg := fastRetry(5)
	cfg.RetryIf = IsRetryable
	attempts := 0

	// When: the function returns a validation error
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return ValidationError("bad rating", nil)
	})

	// Then: no retry happens and the error is returned unchanged
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotContains(t, err.Error(), "failed after")
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(3), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	attempts := 0
	id, err := RetryWithResult(context.Background(), fastRetry(3), func() (int64, error) {
		attempts++
		if attempts == 1 {
			return 0, PersistenceError("database is locked", nil)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithResult_ZeroValueOnFailure(t *testing.T) {
	id, err := RetryWithResult(context.Background(), fastRetry(1), func() (int64, error) {
		return 7, errors.New("nope")
	})

	require.Error(t, err)
	assert.Equal(t, int64(0), id)
}
