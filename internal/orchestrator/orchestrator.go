// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator wires the pipeline together: persistence, the agent
// registry, the resilient text-generation stack, and the stage scheduler
// behind a single facade the server and CLI talk to.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/logger"
	"github.com/noldarim/venturepilot/internal/orchestrator/agents"
	"github.com/noldarim/venturepilot/internal/orchestrator/models"
	"github.com/noldarim/venturepilot/internal/orchestrator/services"
	"github.com/noldarim/venturepilot/internal/orchestrator/textgen"
	"github.com/noldarim/venturepilot/internal/protocol"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetOrchestratorLogger()
		log = &l
	})
	return log
}

// eventBufferSize bounds the publisher channel feeding WebSocket fan-out.
const eventBufferSize = 256

// Orchestrator owns the pipeline's long-lived components.
type Orchestrator struct {
	cfg         *config.AppConfig
	dataService *services.DataService
	registry    *agents.Registry
	generator   *textgen.FallbackGenerator
	scheduler   *services.StageScheduler
	controller  *services.PipelineController
	publisher   *protocol.ChannelPublisher
}

// New builds the full pipeline stack from configuration.
func New(cfg *config.AppConfig) (*Orchestrator, error) {
	dataService, err := services.NewDataService(cfg)
	if err != nil {
		return nil, err
	}

	publisher := protocol.NewChannelPublisher(eventBufferSize)

	generator, err := buildGenerator(cfg, publisher)
	if err != nil {
		dataService.Close()
		return nil, err
	}

	defs, err := agents.LoadDefinitions(cfg.Agents.DefinitionsPath)
	if err != nil {
		dataService.Close()
		return nil, fmt.Errorf("failed to load agent definitions: %w", err)
	}

	registry, err := agents.NewRegistry(defs, generator)
	if err != nil {
		dataService.Close()
		return nil, fmt.Errorf("failed to build agent registry: %w", err)
	}

	scheduler := services.NewStageScheduler(dataService.DB(), registry, publisher)
	controller := services.NewPipelineController(dataService.DB(), registry, scheduler, publisher, cfg.Pipeline)

	if gaps := registry.Validate(); len(gaps) > 0 {
		getLog().Warn().Ints("stages", gaps).Msg("Stages without active agents will be skipped")
	}

	getLog().Info().
		Str("primary_provider", cfg.Providers.Primary.Name).
		Bool("secondary_configured", cfg.Providers.Secondary.Configured()).
		Int("agents", len(defs)).
		Msg("Orchestrator initialized")

	return &Orchestrator{
		cfg:         cfg,
		dataService: dataService,
		registry:    registry,
		generator:   generator,
		scheduler:   scheduler,
		controller:  controller,
		publisher:   publisher,
	}, nil
}

// buildGenerator assembles the primary/secondary provider pair behind the
// circuit-breaker and retry stack. Fallback switches publish a service event.
func buildGenerator(cfg *config.AppConfig, publisher protocol.Publisher) (*textgen.FallbackGenerator, error) {
	client := &http.Client{}

	primary, err := newProvider(cfg.Providers.Primary, client)
	if err != nil {
		return nil, err
	}

	var secondary textgen.Provider
	if cfg.Providers.Secondary.Configured() {
		secondary, err = newProvider(cfg.Providers.Secondary, client)
		if err != nil {
			return nil, err
		}
	}

	notify := func(from, to, reason string) {
		publisher.Publish(protocol.ServiceFallbackEvent{
			Metadata: protocol.Metadata{
				IdempotencyKey: uuid.NewString(),
				Version:        protocol.CurrentProtocolVersion,
			},
			FromProvider: from,
			ToProvider:   to,
			Reason:       reason,
		})
	}

	return textgen.NewFallbackGenerator(primary, secondary, cfg.Resilience, cfg.Providers.CallTimeout, notify), nil
}

func newProvider(cfg config.ProviderConfig, client *http.Client) (textgen.Provider, error) {
	switch cfg.Name {
	case "openai":
		return textgen.NewOpenAIProvider(cfg, client), nil
	case "anthropic":
		return textgen.NewAnthropicProvider(cfg, client), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q (expected openai or anthropic)", cfg.Name)
	}
}

// Events exposes the published event stream for WebSocket fan-out.
func (o *Orchestrator) Events() <-chan protocol.Event {
	return o.publisher.Events()
}

// DataService exposes project, task, and artifact reads for the API layer.
func (o *Orchestrator) DataService() *services.DataService {
	return o.dataService
}

// CreateProject validates and persists a new project.
func (o *Orchestrator) CreateProject(ctx context.Context, name, idea string) (*models.Project, error) {
	return o.dataService.CreateProject(ctx, name, idea)
}

// StartProject runs the pipeline for a project to a terminal state. Blocks
// until the project completes or fails; callers that want fire-and-forget
// semantics run it in a goroutine.
func (o *Orchestrator) StartProject(ctx context.Context, projectID string) error {
	return o.controller.Start(ctx, projectID)
}

// RestartProject re-enters the pipeline at stage 1 for a non-completed
// project.
func (o *Orchestrator) RestartProject(ctx context.Context, projectID string) error {
	return o.controller.Restart(ctx, projectID)
}

// ValidateAgentSetup returns the stages that have no active agent.
func (o *Orchestrator) ValidateAgentSetup() []int {
	return o.controller.ValidateAgentSetup()
}

// Close releases the database and closes the event stream.
func (o *Orchestrator) Close() error {
	o.publisher.Close()
	if err := o.dataService.Close(); err != nil {
		return fmt.Errorf("failed to close data service: %w", err)
	}
	getLog().Info().Msg("Orchestrator shut down")
	return nil
}
