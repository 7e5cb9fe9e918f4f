// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/orchestrator/database"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			db, err := database.NewGormDB(&cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			fmt.Println("🚀 Starting database migration...")
			fmt.Printf("Database: %s\n", cfg.Database.GetDSN())

			if err := db.AutoMigrate(); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("✅ Database migration completed successfully!")

			if err := db.ValidateSchema(); err != nil {
				fmt.Printf("⚠️  Warning: Schema validation failed after migration: %v\n", err)
				return fmt.Errorf("schema validation failed")
			}

			fmt.Println("✅ Schema validation passed - database is ready to use!")
			return nil
		},
	}
}
