// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels
// These ensure consistent logger names across the codebase

// GetOrchestratorLogger returns a logger for the pipeline controller
func GetOrchestratorLogger() zerolog.Logger {
	return GetLogger("orchestrator")
}

// GetSchedulerLogger returns a logger for the stage scheduler
func GetSchedulerLogger() zerolog.Logger {
	return GetLogger("scheduler")
}

// GetResilienceLogger returns a logger for circuit breaker and retry machinery
func GetResilienceLogger() zerolog.Logger {
	return GetLogger("resilience")
}

// GetProviderLogger returns a logger for text-generation provider calls
func GetProviderLogger() zerolog.Logger {
	return GetLogger("provider")
}

// GetDatabaseLogger returns a logger for database operations
func GetDatabaseLogger() zerolog.Logger {
	return GetLogger("database")
}

// GetAPILogger returns a logger for API operations
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}
