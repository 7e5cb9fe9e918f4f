// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/orchestrator/faults"
)

func defaultRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxRetries:    3,
		BaseDelay:     1000 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      30 * time.Second,
	}
}

// newTestExecutor returns an executor that records sleeps instead of waiting
func newTestExecutor(randVal float64) (*RetryExecutor, *[]time.Duration) {
	var sleeps []time.Duration
	r := NewRetryExecutor(defaultRetryConfig()).
		WithRand(func() float64 { return randVal }).
		WithSleep(func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		})
	return r, &sleeps
}

func transientErr() error {
	return &faults.ServiceError{
		Provider: "openai",
		Class:    faults.ClassTransient,
		Err:      errors.New("connection reset"),
	}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	r, sleeps := newTestExecutor(0)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
}

func TestRetry_TransientRecovers(t *testing.T) {
	r, sleeps := newTestExecutor(0)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return transientErr()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// With zero jitter the backoff doubles each retry.
	assert.Equal(t, []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond}, *sleeps)
}

func TestRetry_PermanentFailsImmediately(t *testing.T) {
	r, sleeps := newTestExecutor(0)

	calls := 0
	permanent := &faults.ValidationError{Field: "prompt", Reason: "empty"}
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})

	var validation *faults.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
}

func TestRetry_Exhaustion(t *testing.T) {
	r, sleeps := newTestExecutor(0)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return transientErr()
	})

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, calls, "one initial attempt plus three retries")
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Len(t, *sleeps, 3)

	var svcErr *faults.ServiceError
	assert.ErrorAs(t, exhausted.LastErr, &svcErr)
}

func TestRetry_DelayBounds(t *testing.T) {
	// Third retry: 1000ms * 2^2 = 4000ms plus up to 10% jitter.
	low, _ := newTestExecutor(0)
	assert.Equal(t, 4000*time.Millisecond, low.Delay(3))

	high, _ := newTestExecutor(0.999999)
	d := high.Delay(3)
	assert.Greater(t, d, 4000*time.Millisecond)
	assert.Less(t, d, 4400*time.Millisecond)
}

func TestRetry_DelayCappedAtMax(t *testing.T) {
	r, _ := newTestExecutor(0.5)
	assert.Equal(t, 30*time.Second, r.Delay(10))
}

func TestRetry_ContextCancelAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := NewRetryExecutor(defaultRetryConfig()).
		WithRand(func() float64 { return 0 }).
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		})

	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		return transientErr()
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetriesExhaustedError_Message(t *testing.T) {
	err := &RetriesExhaustedError{Attempts: 4, LastErr: errors.New("boom")}
	assert.Contains(t, err.Error(), "4 attempts")
	assert.Contains(t, err.Error(), "boom")
}
