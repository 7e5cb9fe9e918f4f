// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"context"

	"github.com/google/uuid"

	"github.com/noldarim/venturepilot/internal/orchestrator/models"
)

// TestCapability is a deterministic capability for integration tests. It
// renders its definition's prompt template and returns the rendered text as
// the output without contacting any provider. A non-nil Err makes every
// execution fail with it.
type TestCapability struct {
	Definition AgentDefinition
	Err        error
}

// NewTestCapability creates a deterministic capability for the definition.
func NewTestCapability(def AgentDefinition) *TestCapability {
	return &TestCapability{Definition: def}
}

// Name returns the agent name from the definition
func (c *TestCapability) Name() string {
	return c.Definition.Name
}

// Execute renders the template locally; no provider call.
func (c *TestCapability) Execute(ctx context.Context, ec ExecutionContext) (*ExecutionResult, error) {
	if c.Err != nil {
		return nil, c.Err
	}

	output, err := renderPrompt(c.Definition.PromptTemplate, ec)
	if err != nil {
		return nil, err
	}

	return &ExecutionResult{
		Output: output,
		Artifacts: []models.Artifact{{
			ID:        uuid.NewString(),
			ProjectID: ec.ProjectID,
			TaskID:    ec.TaskID,
			Name:      c.Definition.Name,
			Type:      "text",
			Content:   output,
		}},
		Meta: models.ResultMeta{"provider": "test"},
	}, nil
}
