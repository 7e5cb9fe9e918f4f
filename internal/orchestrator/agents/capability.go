// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/noldarim/venturepilot/internal/orchestrator/models"
	"github.com/noldarim/venturepilot/internal/orchestrator/textgen"
)

// ExecutionContext carries everything a capability needs for one task run.
type ExecutionContext struct {
	ProjectID      string
	TaskID         string
	Stage          int
	Idea           string
	PriorArtifacts []models.Artifact
}

// ExecutionResult is one capability's output: the raw text, the artifacts to
// persist, and metadata recorded on the task row.
type ExecutionResult struct {
	Output    string
	Artifacts []models.Artifact
	Meta      models.ResultMeta
}

// Capability executes one stage task.
type Capability interface {
	Name() string
	Execute(ctx context.Context, ec ExecutionContext) (*ExecutionResult, error)
}

// Generator is the slice of textgen.FallbackGenerator a capability needs.
type Generator interface {
	Generate(ctx context.Context, req textgen.Request) (*textgen.Result, error)
}

// GenerationCapability is the stock capability: it renders its definition's
// prompt template with the idea and prior artifacts and sends it through the
// fallback generator.
type GenerationCapability struct {
	def AgentDefinition
	gen Generator
}

// NewGenerationCapability binds a definition to a generator.
func NewGenerationCapability(def AgentDefinition, gen Generator) (*GenerationCapability, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, fmt.Errorf("agent %s: generator is required", def.Name)
	}
	return &GenerationCapability{def: def, gen: gen}, nil
}

// Name returns the agent name from the definition
func (c *GenerationCapability) Name() string {
	return c.def.Name
}

// Execute renders the prompt and runs one generation call.
func (c *GenerationCapability) Execute(ctx context.Context, ec ExecutionContext) (*ExecutionResult, error) {
	prompt, err := renderPrompt(c.def.PromptTemplate, ec)
	if err != nil {
		return nil, err
	}

	result, err := c.gen.Generate(ctx, textgen.Request{
		System: c.def.Description,
		Prompt: prompt,
	})
	if err != nil {
		return nil, err
	}

	meta := models.ResultMeta{
		"provider":      result.Provider,
		"model":         result.Model,
		"input_tokens":  result.Usage.InputTokens,
		"output_tokens": result.Usage.OutputTokens,
	}
	if result.UsedFallback {
		meta["used_fallback"] = true
		meta["original_error"] = result.OriginalError
	}

	return &ExecutionResult{
		Output: result.Text,
		Artifacts: []models.Artifact{{
			ID:        uuid.NewString(),
			ProjectID: ec.ProjectID,
			TaskID:    ec.TaskID,
			Name:      c.def.Name,
			Type:      "markdown",
			Content:   result.Text,
		}},
		Meta: meta,
	}, nil
}

// templateData is what prompt templates render against
type templateData struct {
	Idea      string
	Stage     int
	Artifacts string
}

func renderPrompt(promptTemplate string, ec ExecutionContext) (string, error) {
	tmpl, err := template.New("prompt").Parse(promptTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt template: %w", err)
	}

	var artifacts strings.Builder
	for _, a := range ec.PriorArtifacts {
		fmt.Fprintf(&artifacts, "## %s\n%s\n\n", a.Name, a.Content)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, templateData{
		Idea:      ec.Idea,
		Stage:     ec.Stage,
		Artifacts: artifacts.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt template: %w", err)
	}
	return buf.String(), nil
}
