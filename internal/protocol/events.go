// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Here lies the definition of the data that the orchestration core can emit.
// All data that subscribers (API/WebSocket clients) receive is named: Event.
// Each event type carries an EventType() discriminator used as the wire-level
// "type" field so browser clients can dispatch without reflection.
package protocol

import (
	"github.com/noldarim/venturepilot/internal/orchestrator/models"
)

// EventType identifies an event on the wire.
type EventType string

const (
	EventProjectStart    EventType = "project:start"
	EventTaskUpdate      EventType = "task:update"
	EventArtifactCreate  EventType = "artifact:create"
	EventStageComplete   EventType = "stage:complete"
	EventProjectComplete EventType = "project:complete"
	EventServiceFallback EventType = "service:fallback"
	EventError           EventType = "error"
)

// TypedEvent is implemented by every event that carries a wire discriminator.
type TypedEvent interface {
	Event
	EventType() EventType
}

// GetIdempotencyKey extracts the idempotency key from any event
func GetIdempotencyKey(event Event) string {
	return event.GetMetadata().IdempotencyKey
}

// ProjectStartEvent is published once when a project's pipeline begins.
type ProjectStartEvent struct {
	Metadata
	ProjectID string
	Name      string
	Stage     int
}

func (e ProjectStartEvent) GetMetadata() Metadata { return e.Metadata }
func (e ProjectStartEvent) EventType() EventType  { return EventProjectStart }
func (e ProjectStartEvent) GetProjectID() string  { return e.ProjectID }

// TaskUpdateEvent is published after a task's state change is durably written.
type TaskUpdateEvent struct {
	Metadata
	ProjectID string
	TaskID    string
	Stage     int
	AgentName string
	Status    models.TaskStatus
	Error     string
}

func (e TaskUpdateEvent) GetMetadata() Metadata { return e.Metadata }
func (e TaskUpdateEvent) EventType() EventType  { return EventTaskUpdate }
func (e TaskUpdateEvent) GetProjectID() string  { return e.ProjectID }
func (e TaskUpdateEvent) GetTaskID() string     { return e.TaskID }

// ArtifactCreateEvent is published after a batch of artifacts is persisted.
type ArtifactCreateEvent struct {
	Metadata
	ProjectID string
	Stage     int
	Artifacts []models.Artifact
}

func (e ArtifactCreateEvent) GetMetadata() Metadata { return e.Metadata }
func (e ArtifactCreateEvent) EventType() EventType  { return EventArtifactCreate }
func (e ArtifactCreateEvent) GetProjectID() string  { return e.ProjectID }

// StageCompleteEvent is published after every task of a stage has reached a
// terminal state and the stage was satisfied (possibly degraded).
type StageCompleteEvent struct {
	Metadata
	ProjectID string
	Stage     int
	Completed int
	Failed    int
	Skipped   int
	Degraded  bool // true when a non-critical stage proceeded despite failures
}

func (e StageCompleteEvent) GetMetadata() Metadata { return e.Metadata }
func (e StageCompleteEvent) EventType() EventType  { return EventStageComplete }
func (e StageCompleteEvent) GetProjectID() string  { return e.ProjectID }

// ProjectCompleteEvent is published exactly once, after currentStage advances
// past the final stage.
type ProjectCompleteEvent struct {
	Metadata
	ProjectID     string
	ArtifactCount int
}

func (e ProjectCompleteEvent) GetMetadata() Metadata { return e.Metadata }
func (e ProjectCompleteEvent) EventType() EventType  { return EventProjectComplete }
func (e ProjectCompleteEvent) GetProjectID() string  { return e.ProjectID }

// ServiceFallbackEvent is published when a generation request is served by the
// secondary provider after a provider-level failure of the primary.
type ServiceFallbackEvent struct {
	Metadata
	ProjectID    string
	TaskID       string
	FromProvider string
	ToProvider   string
	Reason       string
}

func (e ServiceFallbackEvent) GetMetadata() Metadata { return e.Metadata }
func (e ServiceFallbackEvent) EventType() EventType  { return EventServiceFallback }
func (e ServiceFallbackEvent) GetProjectID() string  { return e.ProjectID }
func (e ServiceFallbackEvent) GetTaskID() string     { return e.TaskID }

// ErrorEvent reports a pipeline-level failure (project failed, stage aborted).
type ErrorEvent struct {
	Metadata
	ProjectID string
	TaskID    string // Optional - identifies which task the error is related to
	Stage     int
	Message   string
	Context   string
}

func (e ErrorEvent) GetMetadata() Metadata { return e.Metadata }
func (e ErrorEvent) EventType() EventType  { return EventError }
func (e ErrorEvent) GetProjectID() string  { return e.ProjectID }
func (e ErrorEvent) GetTaskID() string     { return e.TaskID }
