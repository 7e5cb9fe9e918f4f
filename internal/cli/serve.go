// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/logger"
	"github.com/noldarim/venturepilot/internal/orchestrator"
	"github.com/noldarim/venturepilot/internal/server"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST + WebSocket API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if err := logger.Initialize(&cfg.Log); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.CloseGlobal()

			mainLog := logger.GetLogger("main")
			mainLog.Info().Msg("Starting venturepilot API server")

			orch, err := orchestrator.New(cfg)
			if err != nil {
				mainLog.Error().Err(err).Msg("Error creating orchestrator")
				return fmt.Errorf("failed to create orchestrator: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			srv := server.New(&cfg.Server, orch.Events(), orch.DataService(), orch)

			serverErrChan := make(chan error, 1)
			go func() {
				serverErrChan <- srv.Run(ctx)
			}()

			// Wait for signal or server error
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			select {
			case sig := <-sigChan:
				mainLog.Info().Msgf("Received signal %v, shutting down...", sig)
			case err := <-serverErrChan:
				if err != nil {
					mainLog.Error().Err(err).Msg("Server error")
				}
			}

			// Graceful shutdown: fresh context with timeout, independent of the
			// server's run context.
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer shutdownCancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				mainLog.Error().Err(err).Msg("Error shutting down server")
			}

			cancel()
			if err := orch.Close(); err != nil {
				mainLog.Error().Err(err).Msg("Error closing orchestrator")
			}

			mainLog.Info().Msg("API server shut down")
			return nil
		},
	}
}
