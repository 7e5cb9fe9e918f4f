// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package faults

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Classification
	}{
		{
			name:     "service_error_carries_its_class",
			err:      NewServiceError("openai", ClassRateLimited, errors.New("429")),
			expected: ClassRateLimited,
		},
		{
			name:     "wrapped_service_error",
			err:      fmt.Errorf("generate: %w", NewServiceError("anthropic", ClassServiceDown, errors.New("503"))),
			expected: ClassServiceDown,
		},
		{
			name:     "validation_error_is_permanent",
			err:      NewValidationError("prompt", "empty"),
			expected: ClassPermanent,
		},
		{
			name:     "database_error_is_transient",
			err:      NewDatabaseError("update task", errors.New("locked")),
			expected: ClassTransient,
		},
		{
			name:     "deadline_exceeded_is_transient",
			err:      fmt.Errorf("call: %w", context.DeadlineExceeded),
			expected: ClassTransient,
		},
		{
			name:     "unknown_error_is_permanent",
			err:      errors.New("something odd"),
			expected: ClassPermanent,
		},
		{
			name:     "agent_error_passes_through",
			err:      &AgentExecutionError{Agent: "market-researcher", Err: NewServiceError("openai", ClassAuthInvalid, errors.New("401"))},
			expected: ClassAuthInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestClassificationPolicy(t *testing.T) {
	assert.True(t, ClassTransient.Retryable())
	assert.True(t, ClassRateLimited.Retryable())
	assert.True(t, ClassServiceDown.Retryable())
	assert.False(t, ClassPermanent.Retryable())
	assert.False(t, ClassAuthInvalid.Retryable())

	assert.True(t, ClassAuthInvalid.ProviderLevel())
	assert.True(t, ClassQuotaExceeded.ProviderLevel())
	assert.True(t, ClassRateLimited.ProviderLevel())
	assert.True(t, ClassServiceDown.ProviderLevel())
	assert.False(t, ClassTransient.ProviderLevel())
	assert.False(t, ClassPermanent.ProviderLevel())

	assert.True(t, ClassTransient.Recoverable())
	assert.False(t, ClassPermanent.Recoverable())
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected Classification
	}{
		{http.StatusUnauthorized, ClassAuthInvalid},
		{http.StatusForbidden, ClassAuthInvalid},
		{http.StatusPaymentRequired, ClassQuotaExceeded},
		{http.StatusTooManyRequests, ClassRateLimited},
		{http.StatusServiceUnavailable, ClassServiceDown},
		{http.StatusInternalServerError, ClassTransient},
		{http.StatusBadGateway, ClassTransient},
		{http.StatusBadRequest, ClassPermanent},
		{http.StatusNotFound, ClassPermanent},
		{http.StatusOK, ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyHTTPStatus(tt.status))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	svcErr := NewServiceError("openai", ClassServiceDown, errors.New("503 service unavailable"))
	assert.Contains(t, svcErr.Error(), "openai")
	assert.Contains(t, svcErr.Error(), "service_down")

	agentErr := &AgentExecutionError{
		ProjectID: "p1", TaskID: "t1", Agent: "idea-refiner", Stage: 1,
		Err: svcErr,
	}
	assert.Contains(t, agentErr.Error(), "idea-refiner")
	assert.Contains(t, agentErr.Error(), "stage 1")
	assert.ErrorIs(t, agentErr, svcErr.Err)
}
