// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the venturepilot command tree.
package cli

import (
	"github.com/spf13/cobra"
)

const (
	appName    = "venturepilot"
	appVersion = "0.1.0-alpha"
)

var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Idea-to-venture-plan pipeline orchestrator",
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (searches ./config.yaml and standard locations when omitted)")

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newRunCommand(),
		newProjectsCommand(),
		newValidateAgentsCommand(),
	)

	return root
}

// Execute runs the CLI application
func Execute() error {
	return newRootCommand().Execute()
}
