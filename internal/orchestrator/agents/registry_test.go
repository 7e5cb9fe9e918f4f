// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/venturepilot/internal/orchestrator/models"
	"github.com/noldarim/venturepilot/internal/orchestrator/textgen"
)

// echoGenerator returns the prompt it was given
type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, req textgen.Request) (*textgen.Result, error) {
	return &textgen.Result{Text: req.Prompt, Provider: "echo", Model: "echo-1"}, nil
}

func TestBuiltinDefinitions_CoverAllStages(t *testing.T) {
	defs := BuiltinDefinitions()

	covered := make(map[int]bool)
	for _, def := range defs {
		require.NoError(t, def.Validate())
		assert.True(t, def.IsActive)
		covered[def.Stage] = true
	}

	for stage := models.MinStage; stage <= models.MaxStage; stage++ {
		assert.True(t, covered[stage], "stage %d has no built-in agent", stage)
	}
}

func TestLoadDefinitions_FromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	content := `agents:
  - name: custom-researcher
    stage: 1
    description: A researcher.
    prompt_template: "Research {{.Idea}}"
    is_active: true
  - name: dormant-agent
    stage: 2
    description: Unused.
    prompt_template: "..."
    is_active: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "custom-researcher", defs[0].Name)
	assert.Equal(t, 1, defs[0].Stage)
	assert.True(t, defs[0].IsActive)
	assert.False(t, defs[1].IsActive)
}

func TestLoadDefinitions_EmptyPathReturnsBuiltins(t *testing.T) {
	defs, err := LoadDefinitions("")
	require.NoError(t, err)
	assert.Equal(t, BuiltinDefinitions(), defs)
}

func TestLoadDefinitions_InvalidStage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	content := `agents:
  - name: off-range
    stage: 7
    prompt_template: "..."
    is_active: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadDefinitions(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestNewRegistry_FullCoverage(t *testing.T) {
	r, err := NewRegistry(BuiltinDefinitions(), echoGenerator{})
	require.NoError(t, err)

	assert.Empty(t, r.Validate())
	assert.NoError(t, r.ValidateSetup())

	// Stage 2 carries two built-in agents.
	assert.Len(t, r.ForStage(2), 2)
	assert.NotNil(t, r.ByName("market-researcher"))
	assert.Nil(t, r.ByName("nonexistent"))
}

func TestNewRegistry_ReportsUncoveredStages(t *testing.T) {
	defs := []AgentDefinition{
		{Name: "solo", Stage: 3, PromptTemplate: "{{.Idea}}", IsActive: true},
		{Name: "inactive", Stage: 4, PromptTemplate: "{{.Idea}}", IsActive: false},
	}

	r, err := NewRegistry(defs, echoGenerator{})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 4, 5, 6}, r.Validate())
	require.Error(t, r.ValidateSetup())

	// Deactivated agents are invisible to lookups.
	assert.Nil(t, r.ByName("inactive"))
}

func TestNewRegistry_DuplicateName(t *testing.T) {
	defs := []AgentDefinition{
		{Name: "twin", Stage: 1, PromptTemplate: "{{.Idea}}", IsActive: true},
		{Name: "twin", Stage: 2, PromptTemplate: "{{.Idea}}", IsActive: true},
	}

	_, err := NewRegistry(defs, echoGenerator{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate agent name")
}

func TestGenerationCapability_Execute(t *testing.T) {
	def := AgentDefinition{
		Name:           "market-researcher",
		Stage:          2,
		Description:    "You are a market research analyst.",
		PromptTemplate: "Idea: {{.Idea}}\nPrior:\n{{.Artifacts}}",
		IsActive:       true,
	}

	c, err := NewGenerationCapability(def, echoGenerator{})
	require.NoError(t, err)

	result, err := c.Execute(context.Background(), ExecutionContext{
		ProjectID: "proj-1",
		TaskID:    "task-1",
		Stage:     2,
		Idea:      "subscription plant care",
		PriorArtifacts: []models.Artifact{
			{Name: "idea-refiner", Content: "A refined idea."},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, result.Output, "Idea: subscription plant care")
	assert.Contains(t, result.Output, "## idea-refiner")
	assert.Contains(t, result.Output, "A refined idea.")

	require.Len(t, result.Artifacts, 1)
	artifact := result.Artifacts[0]
	assert.Equal(t, "proj-1", artifact.ProjectID)
	assert.Equal(t, "task-1", artifact.TaskID)
	assert.Equal(t, "market-researcher", artifact.Name)
	assert.NotEmpty(t, artifact.ID)

	assert.Equal(t, "echo", result.Meta["provider"])
	assert.Equal(t, "echo-1", result.Meta["model"])
}

func TestGenerationCapability_BadTemplate(t *testing.T) {
	def := AgentDefinition{Name: "broken", Stage: 1, PromptTemplate: "{{.Idea", IsActive: true}

	c, err := NewGenerationCapability(def, echoGenerator{})
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), ExecutionContext{Idea: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse prompt template")
}

func TestTestCapability(t *testing.T) {
	def := AgentDefinition{Name: "sim", Stage: 1, PromptTemplate: "echo {{.Idea}}", IsActive: true}

	c := NewTestCapability(def)
	result, err := c.Execute(context.Background(), ExecutionContext{ProjectID: "p", TaskID: "t", Idea: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo hi", result.Output)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "test", result.Meta["provider"])
}
