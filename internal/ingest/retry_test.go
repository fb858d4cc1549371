package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := retryWithBackoff(context.Background(), fastRetry(4), func() (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 1, calls)
}

func TestRetry_RecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := retryWithBackoff(context.Background(), fastRetry(4), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("temporarily down")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("still down")
	_, err := retryWithBackoff(context.Background(), fastRetry(3), func() (int, error) {
		calls++
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	cfg := fastRetry(5)
	fatal := errors.New("bad input")
	cfg.Retryable = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := retryWithBackoff(ctx, fastRetry(10), func() (int, error) {
		calls++
		cancel()
		return 0, errors.New("failing")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
