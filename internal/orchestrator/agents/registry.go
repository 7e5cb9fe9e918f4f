// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agents

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/noldarim/venturepilot/internal/orchestrator/models"
)

// Registry is the static lookup from stage number to the capabilities that
// run it. Built once at startup; read-only afterwards.
type Registry struct {
	byStage map[int][]Capability
	byName  map[string]Capability
	defs    []AgentDefinition
}

// NewRegistry builds a registry from definitions, binding each active
// definition to a stock generation capability.
func NewRegistry(defs []AgentDefinition, gen Generator) (*Registry, error) {
	r := &Registry{
		byStage: make(map[int][]Capability),
		byName:  make(map[string]Capability),
		defs:    defs,
	}

	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate agent name: %s", def.Name)
		}
		if !def.IsActive {
			// Inactive definitions are kept out of the lookup tables entirely;
			// their tasks get skipped by the scheduler.
			r.byName[def.Name] = nil
			continue
		}

		capability, err := NewGenerationCapability(def, gen)
		if err != nil {
			return nil, err
		}
		r.register(def.Stage, capability)
	}

	return r, nil
}

// NewRegistryFromCapabilities builds a registry directly from capability
// values. Test constructor.
func NewRegistryFromCapabilities(byStage map[int][]Capability) *Registry {
	r := &Registry{
		byStage: make(map[int][]Capability),
		byName:  make(map[string]Capability),
	}
	for stage, caps := range byStage {
		for _, c := range caps {
			r.register(stage, c)
			r.defs = append(r.defs, AgentDefinition{Name: c.Name(), Stage: stage, IsActive: true})
		}
	}
	sort.Slice(r.defs, func(i, j int) bool {
		if r.defs[i].Stage != r.defs[j].Stage {
			return r.defs[i].Stage < r.defs[j].Stage
		}
		return r.defs[i].Name < r.defs[j].Name
	})
	return r
}

func (r *Registry) register(stage int, c Capability) {
	r.byStage[stage] = append(r.byStage[stage], c)
	r.byName[c.Name()] = c
}

// ForStage returns the active capabilities registered for a stage.
func (r *Registry) ForStage(stage int) []Capability {
	return r.byStage[stage]
}

// ByName returns the active capability with the given name, or nil when the
// agent is unknown or deactivated.
func (r *Registry) ByName(name string) Capability {
	return r.byName[name]
}

// Definitions returns the definitions the registry was built from.
func (r *Registry) Definitions() []AgentDefinition {
	return r.defs
}

// Validate returns the stages with zero active capabilities, sorted.
func (r *Registry) Validate() []int {
	missing := lo.Filter(lo.RangeFrom(models.MinStage, models.MaxStage-models.MinStage+1), func(stage int, _ int) bool {
		return len(r.byStage[stage]) == 0
	})
	sort.Ints(missing)
	return missing
}

// ValidateSetup errors when any stage has no active capability. Called at
// startup so a bad agent configuration fails before any pipeline runs.
func (r *Registry) ValidateSetup() error {
	if missing := r.Validate(); len(missing) > 0 {
		return fmt.Errorf("no active agents registered for stages %v", missing)
	}
	return nil
}
