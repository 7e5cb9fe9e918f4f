// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package faults defines the typed error taxonomy for the orchestration core.
// Errors are classified at the call site into tagged variants; downstream
// policy (retry, circuit breaking, provider fallback, stage recovery) branches
// on the classification, never on message contents.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Classification tags an error with the policy-relevant failure category.
type Classification int

const (
	ClassUnknown Classification = iota
	// ClassTransient covers network errors, timeouts, and generic 5xx
	// responses. Retried, trips the breaker, not fallback-eligible on its own.
	ClassTransient
	// ClassPermanent covers validation failures and 4xx responses other than
	// 429. Never retried, never routed to the secondary provider.
	ClassPermanent
	// ClassAuthInvalid covers invalid or missing provider credentials.
	ClassAuthInvalid
	// ClassQuotaExceeded covers exhausted provider quota.
	ClassQuotaExceeded
	// ClassRateLimited covers 429 responses.
	ClassRateLimited
	// ClassServiceDown covers 503 responses and breaker-open rejections.
	ClassServiceDown
)

// String returns the string representation of the classification.
func (c Classification) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassAuthInvalid:
		return "auth_invalid"
	case ClassQuotaExceeded:
		return "quota_exceeded"
	case ClassRateLimited:
		return "rate_limited"
	case ClassServiceDown:
		return "service_down"
	default:
		return "unknown"
	}
}

// Retryable reports whether the RetryExecutor should re-attempt the call.
func (c Classification) Retryable() bool {
	switch c {
	case ClassTransient, ClassRateLimited, ClassServiceDown:
		return true
	default:
		return false
	}
}

// ProviderLevel reports whether the failure is attributable to the provider
// itself, making the request eligible for secondary-provider fallback.
func (c Classification) ProviderLevel() bool {
	switch c {
	case ClassAuthInvalid, ClassQuotaExceeded, ClassRateLimited, ClassServiceDown:
		return true
	default:
		return false
	}
}

// Recoverable reports whether a stage failure caused by this classification
// counts toward the automatic stage-recovery budget.
func (c Classification) Recoverable() bool {
	return c.Retryable() || c.ProviderLevel()
}

// ValidationError indicates malformed input. Never retried, never triggers
// fallback.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ServiceError wraps a failure from an external text-generation provider with
// its classification.
type ServiceError struct {
	Provider string
	Class    Classification
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Class, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a classified provider error.
func NewServiceError(provider string, class Classification, err error) *ServiceError {
	return &ServiceError{Provider: provider, Class: class, Err: err}
}

// DatabaseError wraps a persistence failure. Retried with the database's own
// backoff; repeated failure escalates to a pipeline-halting condition.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// NewDatabaseError wraps err with the failing operation name.
func NewDatabaseError(op string, err error) *DatabaseError {
	return &DatabaseError{Op: op, Err: err}
}

// AgentExecutionError wraps any underlying failure with task/agent/project
// context for logging. Classification passes through to the wrapped error.
type AgentExecutionError struct {
	ProjectID string
	TaskID    string
	Agent     string
	Stage     int
	Err       error
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent %s (stage %d, task %s, project %s): %v",
		e.Agent, e.Stage, e.TaskID, e.ProjectID, e.Err)
}

func (e *AgentExecutionError) Unwrap() error {
	return e.Err
}

// Classify walks the error chain and returns the policy classification.
// Unrecognised errors classify as permanent so that unknown failures are
// surfaced instead of silently retried.
func Classify(err error) Classification {
	if err == nil {
		return ClassUnknown
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Class
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return ClassPermanent
	}

	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return ClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassPermanent
}

// ClassifyHTTPStatus maps a provider HTTP status code to a classification.
func ClassifyHTTPStatus(status int) Classification {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuthInvalid
	case status == http.StatusPaymentRequired:
		return ClassQuotaExceeded
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusServiceUnavailable:
		return ClassServiceDown
	case status >= 500:
		return ClassTransient
	case status >= 400:
		return ClassPermanent
	default:
		return ClassUnknown
	}
}
