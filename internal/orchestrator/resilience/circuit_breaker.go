// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package resilience provides the failure-handling primitives wrapped around
// every external provider call: a per-provider circuit breaker and an
// exponential-backoff retry executor.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetResilienceLogger()
		log = &l
	})
	return log
}

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking the wrapped operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the current state of a circuit breaker
type BreakerState int

const (
	// StateClosed lets calls through and counts consecutive failures
	StateClosed BreakerState = iota
	// StateOpen rejects every call until the reset timeout elapses
	StateOpen
	// StateHalfOpen lets exactly one trial call through
	StateHalfOpen
)

// String returns the string representation of a breaker state
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive failures of one provider and stops
// calling it once the failure threshold is reached. After the reset timeout a
// single trial call decides whether the provider is healthy again.
//
// Callers use the Allow / RecordSuccess / RecordFailure triple:
//
//	if err := cb.Allow(); err != nil { ... }
//	err := op()
//	if err != nil { cb.RecordFailure() } else { cb.RecordSuccess() }
type CircuitBreaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// NewCircuitBreaker creates a breaker for the named provider.
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		now:              time.Now,
		state:            StateClosed,
	}
}

// WithClock replaces the breaker's clock. Test hook.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen when
// the breaker is open, or when a half-open trial call is already in flight.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.transitionTo(StateHalfOpen)
		cb.trialInFlight = true
		return nil
	case StateHalfOpen:
		if cb.trialInFlight {
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
		return nil
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess reports a successful call. A half-open trial success closes
// the breaker and resets the failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.trialInFlight = false
		cb.failures = 0
		cb.transitionTo(StateClosed)
	}
}

// RecordFailure reports a failed call. Reaching the failure threshold while
// closed opens the breaker; a half-open trial failure reopens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.openedAt = cb.now()
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.trialInFlight = false
		cb.openedAt = cb.now()
		cb.transitionTo(StateOpen)
	case StateOpen:
		// Late failure from a call that started before the breaker opened.
	}
}

// State returns the breaker's current state, accounting for an elapsed reset
// timeout so external observers see "half_open" rather than a stale "open".
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the consecutive-failure count. While the breaker is open
// the counter stays frozen at the threshold.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker) transitionTo(next BreakerState) {
	if cb.state == next {
		return
	}
	getLog().Info().
		Str("provider", cb.name).
		Str("from", cb.state.String()).
		Str("to", next.String()).
		Int("failures", cb.failures).
		Msg("Circuit breaker state change")
	cb.state = next
}
