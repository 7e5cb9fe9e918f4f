// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package textgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/orchestrator/faults"
	"github.com/noldarim/venturepilot/internal/orchestrator/resilience"
)

// BothProvidersFailedError is returned when the primary failed at provider
// level and the secondary failed too.
type BothProvidersFailedError struct {
	Primary      string
	PrimaryErr   error
	Secondary    string
	SecondaryErr error
}

func (e *BothProvidersFailedError) Error() string {
	return fmt.Sprintf("both providers failed: %s: %v; %s: %v",
		e.Primary, e.PrimaryErr, e.Secondary, e.SecondaryErr)
}

func (e *BothProvidersFailedError) Unwrap() []error {
	return []error{e.PrimaryErr, e.SecondaryErr}
}

// NotifyFallback is invoked after the secondary provider served a request the
// primary could not.
type NotifyFallback func(from, to, reason string)

// FallbackGenerator runs every generation request against the primary
// provider behind its own circuit breaker and retry budget. When the primary
// fails at provider level (bad credentials, quota, rate limit, outage, open
// breaker) and a secondary is configured, the identical request is reissued
// against the secondary with the primary's credential override stripped.
type FallbackGenerator struct {
	primary   Provider
	secondary Provider

	breakers    map[string]*resilience.CircuitBreaker
	retry       *resilience.RetryExecutor
	callTimeout time.Duration
	notify      NotifyFallback
}

// NewFallbackGenerator wires the providers with their resilience machinery.
// secondary may be nil; notify may be nil.
func NewFallbackGenerator(primary, secondary Provider, cfg config.ResilienceConfig, callTimeout time.Duration, notify NotifyFallback) *FallbackGenerator {
	breakers := map[string]*resilience.CircuitBreaker{
		primary.Name(): resilience.NewCircuitBreaker(primary.Name(), cfg.CircuitBreaker),
	}
	if secondary != nil {
		breakers[secondary.Name()] = resilience.NewCircuitBreaker(secondary.Name(), cfg.CircuitBreaker)
	}
	return &FallbackGenerator{
		primary:     primary,
		secondary:   secondary,
		breakers:    breakers,
		retry:       resilience.NewRetryExecutor(cfg.Retry),
		callTimeout: callTimeout,
		notify:      notify,
	}
}

// WithRetryExecutor replaces the retry machinery. Test hook.
func (g *FallbackGenerator) WithRetryExecutor(r *resilience.RetryExecutor) *FallbackGenerator {
	g.retry = r
	return g
}

// Breaker exposes the named provider's circuit breaker for health reporting.
func (g *FallbackGenerator) Breaker(provider string) *resilience.CircuitBreaker {
	return g.breakers[provider]
}

// Generate serves a request from the primary provider, falling back to the
// secondary on provider-level failure. Validation errors never reach either
// provider.
func (g *FallbackGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	result, primaryErr := g.callProvider(ctx, g.primary, req)
	if primaryErr == nil {
		return result, nil
	}

	if g.secondary == nil || !fallbackEligible(primaryErr) {
		return nil, primaryErr
	}

	getLog().Warn().
		Err(primaryErr).
		Str("from", g.primary.Name()).
		Str("to", g.secondary.Name()).
		Msg("Primary provider failed, retrying against secondary")

	secondaryReq := req
	secondaryReq.Credentials = nil

	result, secondaryErr := g.callProvider(ctx, g.secondary, secondaryReq)
	if secondaryErr != nil {
		return nil, &BothProvidersFailedError{
			Primary:      g.primary.Name(),
			PrimaryErr:   primaryErr,
			Secondary:    g.secondary.Name(),
			SecondaryErr: secondaryErr,
		}
	}

	result.UsedFallback = true
	result.OriginalError = primaryErr.Error()
	if g.notify != nil {
		g.notify(g.primary.Name(), g.secondary.Name(), fallbackReason(primaryErr))
	}
	return result, nil
}

// fallbackReason names why the secondary served the request.
func fallbackReason(err error) string {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "circuit_open"
	}
	return faults.Classify(err).String()
}

// callProvider runs one provider behind its breaker and the retry budget.
func (g *FallbackGenerator) callProvider(ctx context.Context, p Provider, req Request) (*Result, error) {
	cb := g.breakers[p.Name()]

	var result *Result
	err := g.retry.Do(ctx, func(ctx context.Context) error {
		if err := cb.Allow(); err != nil {
			return err
		}

		callCtx := ctx
		if g.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.callTimeout)
			defer cancel()
		}

		res, err := p.Generate(callCtx, req)
		if err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fallbackEligible reports whether an error justifies switching providers.
// An open breaker counts: the primary is known unhealthy.
func fallbackEligible(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return true
	}
	return faults.Classify(err).ProviderLevel()
}
