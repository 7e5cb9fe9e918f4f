// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/orchestrator/faults"
)

// RetriesExhaustedError is returned when an operation keeps failing with
// retryable errors until the retry budget runs out.
type RetriesExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.LastErr
}

// RetryExecutor re-runs a failed operation with exponential backoff. Only
// errors classified as retryable are retried; permanent errors surface
// immediately. The delay before retry n is
//
//	min(baseDelay * backoffFactor^(n-1) + jitter, maxDelay)
//
// where jitter is drawn uniformly from [0, 10%) of the exponential term.
type RetryExecutor struct {
	maxRetries    int
	baseDelay     time.Duration
	backoffFactor float64
	maxDelay      time.Duration

	// randFloat and sleep are replaceable for tests.
	randFloat func() float64
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRetryExecutor creates an executor from the retry configuration.
func NewRetryExecutor(cfg config.RetryConfig) *RetryExecutor {
	return &RetryExecutor{
		maxRetries:    cfg.MaxRetries,
		baseDelay:     cfg.BaseDelay,
		backoffFactor: cfg.BackoffFactor,
		maxDelay:      cfg.MaxDelay,
		randFloat:     rand.Float64,
		sleep:         sleepContext,
	}
}

// WithRand replaces the jitter source. Test hook.
func (r *RetryExecutor) WithRand(f func() float64) *RetryExecutor {
	r.randFloat = f
	return r
}

// WithSleep replaces the backoff sleep. Test hook.
func (r *RetryExecutor) WithSleep(f func(ctx context.Context, d time.Duration) error) *RetryExecutor {
	r.sleep = f
	return r
}

// Do runs op until it succeeds, fails permanently, or the retry budget is
// exhausted. Context cancellation aborts backoff sleeps.
func (r *RetryExecutor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !faults.Classify(lastErr).Retryable() {
			return lastErr
		}

		if attempt >= r.maxRetries {
			return &RetriesExhaustedError{Attempts: attempt + 1, LastErr: lastErr}
		}

		delay := r.Delay(attempt + 1)
		getLog().Debug().
			Err(lastErr).
			Int("retry", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after transient failure")

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Delay computes the backoff before retry n (1-based).
func (r *RetryExecutor) Delay(n int) time.Duration {
	exp := float64(r.baseDelay) * math.Pow(r.backoffFactor, float64(n-1))
	jitter := r.randFloat() * 0.1 * exp
	delay := time.Duration(exp + jitter)
	if delay > r.maxDelay {
		delay = r.maxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
