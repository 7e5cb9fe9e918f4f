// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/orchestrator/services"
)

func newProjectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects and their pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Just DB access, no orchestrator
			dataService, err := services.NewDataService(cfg)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer dataService.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			projects, err := dataService.LoadProjects(ctx)
			if err != nil {
				return fmt.Errorf("failed to load projects: %w", err)
			}

			if len(projects) == 0 {
				fmt.Println("No projects found.")
				fmt.Println("\nCreate one with:")
				fmt.Printf("  %s run --name \"My Venture\" \"the idea text\"\n", appName)
				return nil
			}

			fmt.Println()
			fmt.Printf("%-20s  %-40s  %-12s  %s\n", "NAME", "ID", "STATUS", "STAGE")
			fmt.Println("────────────────────  ────────────────────────────────────────  ────────────  ─────")
			for _, p := range projects {
				name := p.Name
				if len(name) > 20 {
					name = name[:17] + "..."
				}
				fmt.Printf("%-20s  %-40s  %-12s  %d/6\n", name, p.ID, p.Status.String(), p.CurrentStage)
			}
			fmt.Println()

			return nil
		},
	}
}
