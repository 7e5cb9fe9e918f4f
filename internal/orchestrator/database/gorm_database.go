// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/orchestrator/models"
)

// GormDB wraps the GORM database connection
type GormDB struct {
	db *gorm.DB
}

// NewGormDB creates a new GORM database connection
func NewGormDB(cfg *config.DatabaseConfig) (*GormDB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Reduce GORM log noise
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &GormDB{db: db}, nil
}

// AutoMigrate runs database migrations
func (db *GormDB) AutoMigrate() error {
	return db.db.AutoMigrate(
		&models.Project{},
		&models.Task{},
		&models.Artifact{},
	)
}

// ValidateSchema checks if GORM models match the database schema
func (db *GormDB) ValidateSchema() error {
	var missingTables []string
	var missingColumns []string
	var missingIndexes []string

	if !db.db.Migrator().HasTable(&models.Project{}) {
		missingTables = append(missingTables, "projects")
	}

	if !db.db.Migrator().HasTable(&models.Task{}) {
		missingTables = append(missingTables, "tasks")
	}

	if !db.db.Migrator().HasTable(&models.Artifact{}) {
		missingTables = append(missingTables, "artifacts")
	}

	if len(missingTables) > 0 {
		return fmt.Errorf("missing tables: %v\n\n💡 Run 'venturepilot migrate' to create the required tables", missingTables)
	}

	projectColumns := []string{"id", "name", "idea", "status", "current_stage", "created_at", "last_updated_at"}
	for _, col := range projectColumns {
		if !db.db.Migrator().HasColumn(&models.Project{}, col) {
			missingColumns = append(missingColumns, fmt.Sprintf("projects.%s", col))
		}
	}

	taskColumns := []string{
		"id", "project_id", "stage", "agent_name", "status", "result", "error",
		"meta", "attempts", "created_at", "last_updated_at",
	}
	for _, col := range taskColumns {
		if !db.db.Migrator().HasColumn(&models.Task{}, col) {
			missingColumns = append(missingColumns, fmt.Sprintf("tasks.%s", col))
		}
	}

	artifactColumns := []string{"id", "project_id", "task_id", "name", "type", "content", "created_at"}
	for _, col := range artifactColumns {
		if !db.db.Migrator().HasColumn(&models.Artifact{}, col) {
			missingColumns = append(missingColumns, fmt.Sprintf("artifacts.%s", col))
		}
	}

	// One task per (project, stage, agent) is what makes pipeline starts idempotent.
	if !db.db.Migrator().HasIndex(&models.Task{}, "idx_project_stage_agent") {
		missingIndexes = append(missingIndexes, "tasks.idx_project_stage_agent")
	}

	if len(missingColumns) > 0 {
		return fmt.Errorf("missing columns: %v\n\n💡 Run 'venturepilot migrate' to add the required columns", missingColumns)
	}

	if len(missingIndexes) > 0 {
		return fmt.Errorf("missing indexes: %v\n\n💡 Run 'venturepilot migrate' to add the required indexes", missingIndexes)
	}

	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ============================================================================
// Project Operations
// ============================================================================

// CreateProject creates a new project
func (db *GormDB) CreateProject(ctx context.Context, project *models.Project) error {
	return db.db.WithContext(ctx).Create(project).Error
}

// GetProject retrieves a single project by ID
func (db *GormDB) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	var project models.Project
	err := db.db.WithContext(ctx).First(&project, "id = ?", projectID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &project, nil
}

// GetAllProjects retrieves all projects ordered by most recently updated
func (db *GormDB) GetAllProjects(ctx context.Context) ([]*models.Project, error) {
	var projects []*models.Project
	err := db.db.WithContext(ctx).
		Order("last_updated_at DESC").
		Find(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// UpdateProjectStatus updates a project's lifecycle status
func (db *GormDB) UpdateProjectStatus(ctx context.Context, projectID string, status models.ProjectStatus) error {
	return db.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ?", projectID).
		Update("status", status).Error
}

// UpdateProjectStage advances a project's current stage pointer
func (db *GormDB) UpdateProjectStage(ctx context.Context, projectID string, stage int) error {
	return db.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ?", projectID).
		Update("current_stage", stage).Error
}

// DeleteProject deletes a project and its tasks and artifacts
func (db *GormDB) DeleteProject(ctx context.Context, projectID string) error {
	return db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&models.Artifact{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.Task{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Project{}, "id = ?", projectID).Error
	})
}

// ============================================================================
// Task Operations
// ============================================================================

// CreateTasksTx persists a batch of tasks atomically. Either all rows land
// or none do, so a crashed start never leaves a partially seeded pipeline.
func (db *GormDB) CreateTasksTx(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&tasks).Error
	})
}

// GetTask retrieves a single task by ID
func (db *GormDB) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	err := db.db.WithContext(ctx).First(&task, "id = ?", taskID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// GetTasksByProject retrieves all tasks for a project ordered by stage
func (db *GormDB) GetTasksByProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	var tasks []*models.Task
	err := db.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("stage ASC, agent_name ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTasksByStage retrieves all tasks for one stage of a project
func (db *GormDB) GetTasksByStage(ctx context.Context, projectID string, stage int) ([]*models.Task, error) {
	var tasks []*models.Task
	err := db.db.WithContext(ctx).
		Where("project_id = ? AND stage = ?", projectID, stage).
		Order("agent_name ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetPendingTasksByStage retrieves the tasks of a stage still waiting to run
func (db *GormDB) GetPendingTasksByStage(ctx context.Context, projectID string, stage int) ([]*models.Task, error) {
	var tasks []*models.Task
	err := db.db.WithContext(ctx).
		Where("project_id = ? AND stage = ? AND status = ?", projectID, stage, models.TaskStatusPending).
		Order("agent_name ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTaskStatusCAS transitions a task's status only when the stored status
// still matches from. Returns false when another writer got there first.
func (db *GormDB) UpdateTaskStatusCAS(ctx context.Context, taskID string, from, to models.TaskStatus) (bool, error) {
	if err := models.ValidateTaskTransition(from, to); err != nil {
		return false, err
	}

	result := db.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ?", taskID, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClaimTask moves a pending task to in-progress and bumps its attempt counter.
// Returns false when the task was already claimed or is no longer pending.
func (db *GormDB) ClaimTask(ctx context.Context, taskID string) (bool, error) {
	result := db.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ?", taskID, models.TaskStatusPending).
		Updates(map[string]any{
			"status":   models.TaskStatusInProgress,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CompleteTask records a successful execution result for an in-progress task.
func (db *GormDB) CompleteTask(ctx context.Context, taskID, result string, meta models.ResultMeta) (bool, error) {
	res := db.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ?", taskID, models.TaskStatusInProgress).
		Updates(map[string]any{
			"status": models.TaskStatusCompleted,
			"result": result,
			"error":  "",
			"meta":   meta,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FailTask records a failed execution for an in-progress task.
func (db *GormDB) FailTask(ctx context.Context, taskID, errMessage string) (bool, error) {
	res := db.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ?", taskID, models.TaskStatusInProgress).
		Updates(map[string]any{
			"status": models.TaskStatusFailed,
			"error":  errMessage,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SkipTask marks a pending task as skipped.
func (db *GormDB) SkipTask(ctx context.Context, taskID, reason string) (bool, error) {
	res := db.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ?", taskID, models.TaskStatusPending).
		Updates(map[string]any{
			"status": models.TaskStatusSkipped,
			"error":  reason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ResetFailedTasksToPending rewinds a stage's failed tasks so a recovery
// attempt can re-run them. Returns the number of tasks reset.
func (db *GormDB) ResetFailedTasksToPending(ctx context.Context, projectID string, stage int) (int64, error) {
	result := db.db.WithContext(ctx).Model(&models.Task{}).
		Where("project_id = ? AND stage = ? AND status = ?", projectID, stage, models.TaskStatusFailed).
		Updates(map[string]any{
			"status": models.TaskStatusPending,
			"error":  "",
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ResetTasksForRestart rewinds every non-completed task of a project to
// pending so the pipeline can re-enter at stage 1. Returns the number of
// tasks reset.
func (db *GormDB) ResetTasksForRestart(ctx context.Context, projectID string) (int64, error) {
	result := db.db.WithContext(ctx).Model(&models.Task{}).
		Where("project_id = ? AND status NOT IN ?", projectID,
			[]models.TaskStatus{models.TaskStatusCompleted, models.TaskStatusPending}).
		Updates(map[string]any{
			"status": models.TaskStatusPending,
			"error":  "",
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CountTasksByStatus counts a project's tasks per status for progress reporting
func (db *GormDB) CountTasksByStatus(ctx context.Context, projectID string) (map[models.TaskStatus]int64, error) {
	type row struct {
		Status models.TaskStatus
		Count  int64
	}
	var rows []row
	err := db.db.WithContext(ctx).Model(&models.Task{}).
		Select("status, COUNT(*) as count").
		Where("project_id = ?", projectID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.TaskStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// ============================================================================
// Artifact Operations
// ============================================================================

// CreateArtifactsTx persists a batch of artifacts atomically. Artifacts are
// insert-only; nothing in the pipeline ever mutates one.
func (db *GormDB) CreateArtifactsTx(ctx context.Context, artifacts []models.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	return db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&artifacts).Error
	})
}

// GetArtifactsByProject retrieves all artifacts for a project in creation order
func (db *GormDB) GetArtifactsByProject(ctx context.Context, projectID string) ([]*models.Artifact, error) {
	var artifacts []*models.Artifact
	err := db.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&artifacts).Error
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

// CountArtifactsByProject counts a project's artifacts
func (db *GormDB) CountArtifactsByProject(ctx context.Context, projectID string) (int64, error) {
	var count int64
	err := db.db.WithContext(ctx).Model(&models.Artifact{}).
		Where("project_id = ?", projectID).
		Count(&count).Error
	return count, err
}
