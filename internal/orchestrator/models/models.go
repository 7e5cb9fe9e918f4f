// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// MinStage and MaxStage bound the fixed six-stage pipeline.
const (
	MinStage = 1
	MaxStage = 6
)

// ProjectStatus represents the status of a project
type ProjectStatus int

const (
	ProjectStatusCreated ProjectStatus = iota
	ProjectStatusInProgress
	ProjectStatusCompleted
	ProjectStatusFailed
	ProjectStatusPaused
)

// String returns the string representation of ProjectStatus
func (ps ProjectStatus) String() string {
	switch ps {
	case ProjectStatusCreated:
		return "created"
	case ProjectStatusInProgress:
		return "in_progress"
	case ProjectStatusCompleted:
		return "completed"
	case ProjectStatusFailed:
		return "failed"
	case ProjectStatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// CanTransitionTo reports whether the project status transition is legal.
// Completed is terminal; every non-completed status may re-enter InProgress
// (restart).
func (ps ProjectStatus) CanTransitionTo(next ProjectStatus) bool {
	switch ps {
	case ProjectStatusCreated:
		return next == ProjectStatusInProgress
	case ProjectStatusInProgress:
		return next == ProjectStatusCompleted || next == ProjectStatusFailed ||
			next == ProjectStatusPaused || next == ProjectStatusInProgress
	case ProjectStatusFailed, ProjectStatusPaused:
		return next == ProjectStatusInProgress
	default:
		return false
	}
}

// TaskStatus represents the status of a task
type TaskStatus int

const (
	TaskStatusPending TaskStatus = iota
	TaskStatusInProgress
	TaskStatusCompleted
	TaskStatusFailed
	TaskStatusSkipped
)

// String returns the string representation of TaskStatus
func (ts TaskStatus) String() string {
	switch ts {
	case TaskStatusPending:
		return "pending"
	case TaskStatusInProgress:
		return "in_progress"
	case TaskStatusCompleted:
		return "completed"
	case TaskStatusFailed:
		return "failed"
	case TaskStatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status ends a task's lifecycle for the current
// stage pass. Failed is terminal for scheduling but may be reset to Pending by
// stage recovery.
func (ts TaskStatus) Terminal() bool {
	return ts == TaskStatusCompleted || ts == TaskStatusFailed || ts == TaskStatusSkipped
}

// CanTransitionTo reports whether the task status transition is legal.
func (ts TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch ts {
	case TaskStatusPending:
		return next == TaskStatusInProgress || next == TaskStatusSkipped
	case TaskStatusInProgress:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	case TaskStatusFailed:
		// Recovery reset only
		return next == TaskStatusPending
	default:
		return false
	}
}

// InvalidTransitionError reports an illegal task status transition. Illegal
// transitions are never silently coerced.
type InvalidTransitionError struct {
	From TaskStatus
	To   TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return "invalid task transition: " + e.From.String() + " -> " + e.To.String()
}

// ValidateTaskTransition returns an InvalidTransitionError when from→to is not
// a legal task transition.
func ValidateTaskTransition(from, to TaskStatus) error {
	if !from.CanTransitionTo(to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// ResultMeta is a JSON-serializable map of result metadata (fallback tags,
// serving provider, token counts).
type ResultMeta map[string]any

// Scan implements the sql.Scanner interface
func (m *ResultMeta) Scan(value any) error {
	if value == nil {
		*m = ResultMeta{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("cannot scan ResultMeta from non-string/[]byte value")
	}
}

// Value implements the driver.Valuer interface
func (m ResultMeta) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Project represents the GORM model for projects
type Project struct {
	ID            string        `gorm:"primaryKey;type:text" json:"id"`
	Name          string        `gorm:"not null;type:text" json:"name"`
	Idea          string        `gorm:"type:text" json:"idea"`
	Status        ProjectStatus `gorm:"not null;default:0" json:"status"`
	CurrentStage  int           `gorm:"not null;default:1" json:"current_stage"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	LastUpdatedAt time.Time     `gorm:"autoUpdateTime" json:"last_updated_at"`

	// Relations
	Tasks     []Task     `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"tasks,omitempty"`
	Artifacts []Artifact `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"artifacts,omitempty"`
}

// TableName returns the table name for Project
func (Project) TableName() string {
	return "projects"
}

// Task represents the GORM model for tasks. One task is the unit of
// scheduling: one agent executing once within one stage. The unique index on
// (project_id, stage, agent_name) backs idempotent task creation.
type Task struct {
	ID            string     `gorm:"primaryKey;type:text" json:"id"`
	ProjectID     string     `gorm:"not null;type:text;index;uniqueIndex:idx_project_stage_agent;constraint:OnDelete:CASCADE" json:"project_id"`
	Stage         int        `gorm:"not null;uniqueIndex:idx_project_stage_agent" json:"stage"`
	AgentName     string     `gorm:"not null;type:text;uniqueIndex:idx_project_stage_agent" json:"agent_name"`
	Status        TaskStatus `gorm:"not null;default:0" json:"status"`
	Result        string     `gorm:"type:text" json:"result"`
	Error         string     `gorm:"type:text" json:"error,omitempty"`
	Meta          ResultMeta `gorm:"type:text;column:meta" json:"meta"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastUpdatedAt time.Time  `gorm:"autoUpdateTime" json:"last_updated_at"`
}

// TableName returns the table name for Task
func (Task) TableName() string {
	return "tasks"
}

// Artifact represents one output produced by a successful task. Artifacts are
// insert-only; they are never mutated after creation.
type Artifact struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	ProjectID string    `gorm:"not null;type:text;index" json:"project_id"`
	TaskID    string    `gorm:"type:text;index" json:"task_id"`
	Name      string    `gorm:"not null;type:text" json:"name"`
	Type      string    `gorm:"type:text" json:"type"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Artifact
func (Artifact) TableName() string {
	return "artifacts"
}

// BeforeCreate is a GORM hook that runs before creating a record
func (p *Project) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastUpdatedAt.IsZero() {
		p.LastUpdatedAt = now
	}
	if p.CurrentStage == 0 {
		p.CurrentStage = MinStage
	}
	return nil
}

// BeforeUpdate is a GORM hook that runs before updating a record
func (p *Project) BeforeUpdate(tx *gorm.DB) error {
	p.LastUpdatedAt = time.Now()
	return nil
}

// BeforeCreate is a GORM hook that runs before creating a record
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.LastUpdatedAt.IsZero() {
		t.LastUpdatedAt = now
	}
	if t.Meta == nil {
		t.Meta = ResultMeta{}
	}
	return nil
}

// BeforeUpdate is a GORM hook that runs before updating a record
func (t *Task) BeforeUpdate(tx *gorm.DB) error {
	t.LastUpdatedAt = time.Now()
	return nil
}
