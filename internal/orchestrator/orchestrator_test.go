// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/orchestrator/database"
	"github.com/noldarim/venturepilot/internal/orchestrator/models"
	"github.com/noldarim/venturepilot/internal/protocol"
)

// testConfig points at a pre-migrated in-memory database. The fixture
// connection is kept open for the test's lifetime so the shared-cache
// database survives until cleanup.
func testConfig(t *testing.T) *config.AppConfig {
	fixture := database.UseFreshInMemoryDatabase(t)
	t.Cleanup(fixture.Cleanup)

	return &config.AppConfig{
		Database: config.DatabaseConfig{
			Driver:   "sqlite",
			Database: fixture.DSN,
		},
		Providers: config.ProvidersConfig{
			Primary: config.ProviderConfig{
				Name:   "openai",
				APIKey: "sk-test",
				Model:  "gpt-4o",
			},
			CallTimeout: 5 * time.Second,
		},
		Resilience: config.ResilienceConfig{
			CircuitBreaker: config.CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     60 * time.Second,
			},
			Retry: config.RetryConfig{
				MaxRetries:    3,
				BaseDelay:     time.Second,
				BackoffFactor: 2,
				MaxDelay:      30 * time.Second,
			},
		},
		Pipeline: config.PipelineConfig{
			MaxStageRecoveries: 3,
			RecoveryCooldown:   5 * time.Second,
			CriticalStages:     []int{1, 2},
		},
	}
}

func TestNew_WiresBuiltinAgents(t *testing.T) {
	orch, err := New(testConfig(t))
	require.NoError(t, err)
	defer orch.Close()

	assert.Empty(t, orch.ValidateAgentSetup(), "builtin definitions cover every stage")
	assert.NotNil(t, orch.Events())
	assert.NotNil(t, orch.DataService())
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.Primary.Name = "mistral"

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestNew_SecondaryOptional(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.Secondary = config.ProviderConfig{
		Name:   "anthropic",
		APIKey: "sk-ant-test",
		Model:  "claude-sonnet-4-5",
	}

	orch, err := New(cfg)
	require.NoError(t, err)
	defer orch.Close()
}

// TestPipelineEndToEnd drives a full six-stage run against fake provider
// endpoints. The primary rejects every call with 401, so all generation is
// served by the secondary after fallback.
func TestPipelineEndToEnd(t *testing.T) {
	var primaryCalls, secondaryCalls int32

	primarySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer primarySrv.Close()

	secondarySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&secondaryCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"content": [{"type": "text", "text": "## Findings\n\nLooks viable."}],
			"usage": {"input_tokens": 120, "output_tokens": 80}
		}`))
	}))
	defer secondarySrv.Close()

	cfg := testConfig(t)
	cfg.Providers.Primary.BaseURL = primarySrv.URL
	cfg.Providers.Secondary = config.ProviderConfig{
		Name:    "anthropic",
		BaseURL: secondarySrv.URL,
		APIKey:  "sk-ant-test",
		Model:   "claude-sonnet-4-5",
	}

	orch, err := New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	project, err := orch.CreateProject(ctx, "Plant Care", "subscription plant care")
	require.NoError(t, err)

	require.NoError(t, orch.StartProject(ctx, project.ID))

	final, err := orch.DataService().GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusCompleted, final.Status)

	artifacts, err := orch.DataService().LoadArtifacts(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, artifacts, 7, "one artifact per builtin agent")
	for _, a := range artifacts {
		assert.Contains(t, a.Content, "Looks viable")
	}

	assert.Equal(t, int32(7), atomic.LoadInt32(&secondaryCalls), "every task served by the secondary")
	assert.LessOrEqual(t, atomic.LoadInt32(&primaryCalls), int32(7), "auth failures are not retried")

	// Close ends the stream so the drain loop below terminates.
	require.NoError(t, orch.Close())

	var fallbacks int
	sawComplete := false
	for event := range orch.Events() {
		switch e := event.(type) {
		case protocol.ServiceFallbackEvent:
			fallbacks++
			assert.Equal(t, "openai", e.FromProvider)
			assert.Equal(t, "anthropic", e.ToProvider)
		case protocol.ProjectCompleteEvent:
			sawComplete = true
			assert.Equal(t, 7, e.ArtifactCount)
		}
	}
	assert.Equal(t, 7, fallbacks)
	assert.True(t, sawComplete)
}

func TestOrchestrator_CreateProject(t *testing.T) {
	orch, err := New(testConfig(t))
	require.NoError(t, err)
	defer orch.Close()

	project, err := orch.CreateProject(context.Background(), "Plant Care", "subscription plant care")
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusCreated, project.Status)

	loaded, err := orch.DataService().GetProject(context.Background(), project.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
}
