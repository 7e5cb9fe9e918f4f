// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/logger"
	"github.com/noldarim/venturepilot/internal/orchestrator/database"
	"github.com/noldarim/venturepilot/internal/orchestrator/faults"
	"github.com/noldarim/venturepilot/internal/orchestrator/models"
)

var (
	dataLog     *zerolog.Logger
	dataLogOnce sync.Once
)

func getDataLog() *zerolog.Logger {
	dataLogOnce.Do(func() {
		l := logger.GetDatabaseLogger().With().Str("component", "service").Logger()
		dataLog = &l
	})
	return dataLog
}

// DataService handles project, task, and artifact persistence
type DataService struct {
	db *database.GormDB
}

// NewDataService creates a new data service
func NewDataService(cfg *config.AppConfig) (*DataService, error) {
	getDataLog().Debug().Msg("Initializing data service")

	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		getDataLog().Error().Err(err).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	// Validate schema to ensure models match database
	if err := db.ValidateSchema(); err != nil {
		getDataLog().Error().Err(err).Msg("Database schema validation failed")
		return nil, fmt.Errorf("database schema validation failed: %w", err)
	}

	getDataLog().Info().Msg("Data service initialized successfully")
	return &DataService{
		db: db,
	}, nil
}

// NewDataServiceWithDB wraps an already-opened database. Used by tests and
// the migrate command.
func NewDataServiceWithDB(db *database.GormDB) *DataService {
	return &DataService{db: db}
}

// DB exposes the underlying store for the scheduler and controller.
func (ds *DataService) DB() *database.GormDB {
	return ds.db
}

// Close closes the underlying database connection
func (ds *DataService) Close() error {
	return ds.db.Close()
}

// CreateProject validates and persists a new project from a submitted idea
func (ds *DataService) CreateProject(ctx context.Context, name, idea string) (*models.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, faults.NewValidationError("name", "must not be empty")
	}
	if strings.TrimSpace(idea) == "" {
		return nil, faults.NewValidationError("idea", "must not be empty")
	}

	project := &models.Project{
		ID:     uuid.NewString(),
		Name:   name,
		Idea:   idea,
		Status: models.ProjectStatusCreated,
	}

	if err := ds.db.CreateProject(ctx, project); err != nil {
		return nil, faults.NewDatabaseError("create project", err)
	}

	getDataLog().Info().Str("project_id", project.ID).Str("name", name).Msg("Project created")
	return project, nil
}

// GetProject gets a project by ID from the database
func (ds *DataService) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	return ds.db.GetProject(ctx, projectID)
}

// LoadProjects loads all projects from the database
func (ds *DataService) LoadProjects(ctx context.Context) ([]*models.Project, error) {
	return ds.db.GetAllProjects(ctx)
}

// LoadTasks loads tasks for a specific project from the database
func (ds *DataService) LoadTasks(ctx context.Context, projectID string) ([]*models.Task, error) {
	return ds.db.GetTasksByProject(ctx, projectID)
}

// LoadArtifacts loads artifacts for a specific project from the database
func (ds *DataService) LoadArtifacts(ctx context.Context, projectID string) ([]*models.Artifact, error) {
	return ds.db.GetArtifactsByProject(ctx, projectID)
}

// DeleteProject deletes a project with its tasks and artifacts
func (ds *DataService) DeleteProject(ctx context.Context, projectID string) error {
	return ds.db.DeleteProject(ctx, projectID)
}

// TaskProgress is one task's slice of a progress snapshot.
type TaskProgress struct {
	TaskID    string            `json:"task_id"`
	AgentName string            `json:"agent_name"`
	Status    models.TaskStatus `json:"status"`
	Attempts  int               `json:"attempts"`
	Error     string            `json:"error,omitempty"`
}

// StageProgress groups task progress per stage.
type StageProgress struct {
	Stage int            `json:"stage"`
	Tasks []TaskProgress `json:"tasks"`
}

// ProjectProgress is the per-stage/per-task snapshot exposed over REST.
type ProjectProgress struct {
	ProjectID     string               `json:"project_id"`
	Status        models.ProjectStatus `json:"status"`
	CurrentStage  int                  `json:"current_stage"`
	Stages        []StageProgress      `json:"stages"`
	TaskCounts    map[string]int64     `json:"task_counts"`
	ArtifactCount int64                `json:"artifact_count"`
}

// Progress assembles the progress snapshot for a project.
func (ds *DataService) Progress(ctx context.Context, projectID string) (*ProjectProgress, error) {
	project, err := ds.db.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, nil
	}

	tasks, err := ds.db.GetTasksByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	counts, err := ds.db.CountTasksByStatus(ctx, projectID)
	if err != nil {
		return nil, err
	}

	artifactCount, err := ds.db.CountArtifactsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	byStage := make(map[int][]TaskProgress)
	for _, task := range tasks {
		byStage[task.Stage] = append(byStage[task.Stage], TaskProgress{
			TaskID:    task.ID,
			AgentName: task.AgentName,
			Status:    task.Status,
			Attempts:  task.Attempts,
			Error:     task.Error,
		})
	}

	stages := make([]StageProgress, 0, models.MaxStage)
	for stage := models.MinStage; stage <= models.MaxStage; stage++ {
		stages = append(stages, StageProgress{Stage: stage, Tasks: byStage[stage]})
	}

	taskCounts := make(map[string]int64, len(counts))
	for status, n := range counts {
		taskCounts[status.String()] = n
	}

	return &ProjectProgress{
		ProjectID:     project.ID,
		Status:        project.Status,
		CurrentStage:  project.CurrentStage,
		Stages:        stages,
		TaskCounts:    taskCounts,
		ArtifactCount: artifactCount,
	}, nil
}
