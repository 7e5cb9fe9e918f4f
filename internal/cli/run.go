// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/logger"
	"github.com/noldarim/venturepilot/internal/orchestrator"
	"github.com/noldarim/venturepilot/internal/orchestrator/models"
	"github.com/noldarim/venturepilot/internal/protocol"
)

func newRunCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "run [flags] <idea>",
		Short: "Create a project from an idea and run the pipeline to completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idea := strings.TrimSpace(strings.Join(args, " "))
			if name == "" {
				name = deriveProjectName(idea)
			}
			return runPipeline(name, idea)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Project name (derived from the idea when omitted)")
	return cmd
}

// deriveProjectName takes the first few words of the idea as the name.
func deriveProjectName(idea string) string {
	words := strings.Fields(idea)
	if len(words) > 5 {
		words = words[:5]
	}
	return strings.Join(words, " ")
}

func runPipeline(name, idea string) error {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.CloseGlobal()

	orch, err := orchestrator.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer orch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Printf("\n▸ Interrupted, cancelling pipeline...\n")
		cancel()
	}()

	project, err := orch.CreateProject(ctx, name, idea)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	fmt.Printf("▸ Created project %s (%s)\n", project.Name, project.ID)

	// Drain events concurrently so the publisher never fills up.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		printEvents(orch.Events())
	}()

	fmt.Printf("▸ Starting pipeline...\n\n")
	runErr := orch.StartProject(ctx, project.ID)

	final, finalErr := orch.DataService().GetProject(context.Background(), project.ID)

	// Closing ends the event stream, which lets the printer goroutine finish.
	orch.Close()
	wg.Wait()

	if runErr != nil {
		return fmt.Errorf("pipeline failed: %w", runErr)
	}
	if finalErr != nil || final == nil {
		return nil
	}
	if final.Status == models.ProjectStatusCompleted {
		fmt.Printf("\n✅ Venture plan complete. Inspect artifacts with the API or database.\n")
	} else {
		fmt.Printf("\n❌ Pipeline ended in status %s.\n", final.Status)
	}
	return nil
}

func printEvents(events <-chan protocol.Event) {
	for event := range events {
		switch e := event.(type) {
		case protocol.ProjectStartEvent:
			fmt.Printf("▸ Pipeline started for %s\n", e.Name)
		case protocol.TaskUpdateEvent:
			fmt.Printf("  stage %d  %-20s %s\n", e.Stage, e.AgentName, e.Status.String())
		case protocol.StageCompleteEvent:
			marker := "✓"
			if e.Degraded {
				marker = "⚠"
			}
			fmt.Printf("▸ %s Stage %d complete (%d ok, %d failed, %d skipped)\n",
				marker, e.Stage, e.Completed, e.Failed, e.Skipped)
		case protocol.ServiceFallbackEvent:
			fmt.Printf("▸ Provider fallback: %s -> %s (%s)\n", e.FromProvider, e.ToProvider, e.Reason)
		case protocol.ProjectCompleteEvent:
			fmt.Printf("▸ Project complete, %d artifacts produced\n", e.ArtifactCount)
		case protocol.ErrorEvent:
			fmt.Printf("▸ Pipeline error at stage %d: %s\n", e.Stage, e.Message)
		}
	}
}
