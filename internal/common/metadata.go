// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package common provides shared types used across multiple packages.
package common

// Metadata contains common fields for every message that crosses the
// orchestrator boundary (events published to API clients).
type Metadata struct {
	// ProjectID correlates the event with a project.
	// Optional - only present for project-scoped events.
	ProjectID string `json:"project_id,omitempty"`

	// TaskID serves as the correlation ID for task-related events.
	// Optional - only present for task-related events.
	TaskID string `json:"task_id,omitempty"`

	// IdempotencyKey is used for event deduplication on retries.
	// Optional - events without this key will always be processed.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Version indicates the protocol version for backward compatibility.
	// Format: "v{major}.{minor}.{patch}" (e.g., "v1.0.0")
	Version string `json:"version"`
}

// CurrentProtocolVersion defines the current version of the protocol.
// This should be updated when making breaking changes to the protocol.
const CurrentProtocolVersion = "v1.0.0"

// Event represents events that flow from the orchestrator to subscribers.
// Any type implementing this interface can be sent through the event channel.
type Event interface {
	GetMetadata() Metadata
}
