// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/venturepilot/internal/config"
)

// DatabaseFixture represents a database setup with cleanup
type DatabaseFixture struct {
	DB      *GormDB
	DSN     string
	Cleanup func()
}

// FreshInMemoryDSN returns a uniquely named shared-cache in-memory SQLite
// DSN. The unique name keeps tests in the same process from sharing state;
// shared cache keeps the pooled connections of one gorm.DB on one database.
func FreshInMemoryDSN() string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
}

// UseFreshInMemoryDatabase creates an in-memory SQLite database with GORM AutoMigrate applied
func UseFreshInMemoryDatabase(t *testing.T) *DatabaseFixture {
	cfg := &config.DatabaseConfig{
		Driver:   "sqlite",
		Database: FreshInMemoryDSN(),
	}

	db, err := NewGormDB(cfg)
	require.NoError(t, err, "Failed to create in-memory database")

	err = db.AutoMigrate()
	require.NoError(t, err, "Failed to run migrations on in-memory database")

	cleanup := func() {
		db.Close()
	}

	return &DatabaseFixture{
		DB:      db,
		DSN:     cfg.Database,
		Cleanup: cleanup,
	}
}

// WithInMemoryConfig creates a config with a fresh in-memory database
func WithInMemoryConfig() *config.AppConfig {
	return &config.AppConfig{
		Database: config.DatabaseConfig{
			Driver:   "sqlite",
			Database: FreshInMemoryDSN(),
		},
	}
}
