// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agents maps pipeline stages to the capabilities that execute them.
// Agent behavior is data: a definition names the stage it serves and the
// prompt it renders. There is no per-agent code.
package agents

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/noldarim/venturepilot/internal/orchestrator/models"
)

// AgentDefinition describes one agent: which stage it serves and the prompt
// it renders against the submitted idea and prior artifacts.
type AgentDefinition struct {
	Name           string `yaml:"name"`
	Stage          int    `yaml:"stage"`
	Description    string `yaml:"description"`
	PromptTemplate string `yaml:"prompt_template"`
	IsActive       bool   `yaml:"is_active"`
}

// Validate checks a definition for structural problems.
func (d *AgentDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("agent definition missing name")
	}
	if d.Stage < models.MinStage || d.Stage > models.MaxStage {
		return fmt.Errorf("agent %s: stage %d out of range %d..%d", d.Name, d.Stage, models.MinStage, models.MaxStage)
	}
	if d.PromptTemplate == "" {
		return fmt.Errorf("agent %s: prompt_template is required", d.Name)
	}
	return nil
}

// BuiltinDefinitions returns the stock agent set covering all six stages.
func BuiltinDefinitions() []AgentDefinition {
	return []AgentDefinition{
		{
			Name:        "idea-refiner",
			Stage:       1,
			Description: "You are a startup advisor who sharpens raw ideas into clear value propositions.",
			PromptTemplate: "Refine the following business idea into a clear, concise value proposition. " +
				"State the problem, the proposed solution, and the target customer.\n\nIdea: {{.Idea}}",
			IsActive: true,
		},
		{
			Name:        "market-researcher",
			Stage:       2,
			Description: "You are a market research analyst.",
			PromptTemplate: "Produce a market analysis for the idea below: market size, growth trends, " +
				"customer segments, and the main risks.\n\nIdea: {{.Idea}}\n\nPrior work:\n{{.Artifacts}}",
			IsActive: true,
		},
		{
			Name:        "competitor-analyst",
			Stage:       2,
			Description: "You are a competitive intelligence analyst.",
			PromptTemplate: "Identify the main competitors for the idea below and describe how the venture " +
				"can differentiate itself.\n\nIdea: {{.Idea}}\n\nPrior work:\n{{.Artifacts}}",
			IsActive: true,
		},
		{
			Name:        "business-modeler",
			Stage:       3,
			Description: "You are a business strategist who designs revenue models.",
			PromptTemplate: "Design a business model for the idea below: revenue streams, cost structure, " +
				"key partners, and pricing.\n\nIdea: {{.Idea}}\n\nPrior work:\n{{.Artifacts}}",
			IsActive: true,
		},
		{
			Name:        "product-designer",
			Stage:       4,
			Description: "You are a product manager.",
			PromptTemplate: "Define a minimum viable product for the idea below: core features, user journey, " +
				"and a rough launch roadmap.\n\nIdea: {{.Idea}}\n\nPrior work:\n{{.Artifacts}}",
			IsActive: true,
		},
		{
			Name:        "financial-planner",
			Stage:       5,
			Description: "You are a startup CFO.",
			PromptTemplate: "Build a three-year financial projection for the idea below: startup costs, " +
				"revenue forecast, break-even analysis, and funding needs.\n\nIdea: {{.Idea}}\n\nPrior work:\n{{.Artifacts}}",
			IsActive: true,
		},
		{
			Name:        "pitch-writer",
			Stage:       6,
			Description: "You are a pitch coach who writes investor materials.",
			PromptTemplate: "Write an investor pitch for the idea below, drawing on all prior work: " +
				"problem, solution, market, business model, financials, and the ask.\n\nIdea: {{.Idea}}\n\nPrior work:\n{{.Artifacts}}",
			IsActive: true,
		},
	}
}

// LoadDefinitions reads agent definitions from a YAML file. An empty path
// returns the built-in set.
func LoadDefinitions(path string) ([]AgentDefinition, error) {
	if path == "" {
		return BuiltinDefinitions(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent definitions: %w", err)
	}

	var file struct {
		Agents []AgentDefinition `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agent definitions: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("agent definitions file %s contains no agents", path)
	}

	for i := range file.Agents {
		if err := file.Agents[i].Validate(); err != nil {
			return nil, err
		}
	}
	return file.Agents, nil
}
