// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/logger"
	"github.com/noldarim/venturepilot/internal/orchestrator/agents"
	"github.com/noldarim/venturepilot/internal/orchestrator/database"
	"github.com/noldarim/venturepilot/internal/orchestrator/faults"
	"github.com/noldarim/venturepilot/internal/orchestrator/models"
	"github.com/noldarim/venturepilot/internal/protocol"
)

var (
	ctrlLog     *zerolog.Logger
	ctrlLogOnce sync.Once
)

func getCtrlLog() *zerolog.Logger {
	ctrlLogOnce.Do(func() {
		l := logger.GetOrchestratorLogger()
		ctrlLog = &l
	})
	return ctrlLog
}

// PipelineController drives one project through stages 1..6, invoking the
// stage scheduler per stage and applying the recovery/escalation policy on
// failure. Stages run strictly sequentially; tasks inside one stage run
// concurrently.
type PipelineController struct {
	db        *database.GormDB
	registry  *agents.Registry
	scheduler *StageScheduler
	publisher protocol.Publisher
	cfg       config.PipelineConfig

	// sleep is replaceable so tests skip the recovery cooldown.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPipelineController wires the controller.
func NewPipelineController(db *database.GormDB, registry *agents.Registry, scheduler *StageScheduler, publisher protocol.Publisher, cfg config.PipelineConfig) *PipelineController {
	return &PipelineController{
		db:        db,
		registry:  registry,
		scheduler: scheduler,
		publisher: publisher,
		cfg:       cfg,
		sleep:     sleepContext,
	}
}

// WithSleep replaces the cooldown sleep. Test hook.
func (c *PipelineController) WithSleep(f func(ctx context.Context, d time.Duration) error) *PipelineController {
	c.sleep = f
	return c
}

// Start moves a freshly created project to IN_PROGRESS, idempotently creates
// the tasks for all six stages up front, and runs the pipeline to a terminal
// state. Failed and paused projects re-enter through Restart so their
// non-completed tasks are reset first; entering a failed project without the
// reset would leave its failed stage with zero pending tasks and let the
// pipeline sail past it.
func (c *PipelineController) Start(ctx context.Context, projectID string) error {
	project, err := c.loadProject(ctx, projectID)
	if err != nil {
		return err
	}

	switch project.Status {
	case models.ProjectStatusCreated:
	case models.ProjectStatusFailed, models.ProjectStatusPaused:
		return c.Restart(ctx, projectID)
	default:
		return fmt.Errorf("cannot start project in status %s", project.Status)
	}

	if err := c.createTasksForAllStages(ctx, project); err != nil {
		return err
	}

	if err := c.enterPipeline(ctx, project); err != nil {
		return err
	}

	c.publisher.Publish(protocol.ProjectStartEvent{
		Metadata:  newProjectMetadata(project.ID),
		ProjectID: project.ID,
		Name:      project.Name,
		Stage:     models.MinStage,
	})

	return c.runStages(ctx, project)
}

// Restart re-enters the pipeline at stage 1 for any non-completed project,
// reusing existing task rows by resetting every non-completed task to
// pending.
func (c *PipelineController) Restart(ctx context.Context, projectID string) error {
	project, err := c.loadProject(ctx, projectID)
	if err != nil {
		return err
	}

	if project.Status == models.ProjectStatusCompleted {
		return fmt.Errorf("cannot restart completed project %s", projectID)
	}

	reset, err := c.db.ResetTasksForRestart(ctx, projectID)
	if err != nil {
		return faults.NewDatabaseError("reset tasks for restart", err)
	}
	getCtrlLog().Info().
		Str("project_id", projectID).
		Int64("tasks_reset", reset).
		Msg("Restarting pipeline")

	if err := c.enterPipeline(ctx, project); err != nil {
		return err
	}

	c.publisher.Publish(protocol.ProjectStartEvent{
		Metadata:  newProjectMetadata(project.ID),
		ProjectID: project.ID,
		Name:      project.Name,
		Stage:     models.MinStage,
	})

	return c.runStages(ctx, project)
}

// ValidateAgentSetup returns the stages with zero active agents.
func (c *PipelineController) ValidateAgentSetup() []int {
	return c.registry.Validate()
}

func (c *PipelineController) loadProject(ctx context.Context, projectID string) (*models.Project, error) {
	project, err := c.db.GetProject(ctx, projectID)
	if err != nil {
		return nil, faults.NewDatabaseError("load project", err)
	}
	if project == nil {
		return nil, fmt.Errorf("project %s not found", projectID)
	}
	return project, nil
}

// createTasksForAllStages seeds one task per active agent definition for
// every stage. Safe to call twice: existing rows make it a no-op.
func (c *PipelineController) createTasksForAllStages(ctx context.Context, project *models.Project) error {
	existing, err := c.db.GetTasksByProject(ctx, project.ID)
	if err != nil {
		return faults.NewDatabaseError("check existing tasks", err)
	}
	if len(existing) > 0 {
		getCtrlLog().Debug().
			Str("project_id", project.ID).
			Int("tasks", len(existing)).
			Msg("Tasks already exist, skipping creation")
		return nil
	}

	var tasks []models.Task
	for _, def := range c.registry.Definitions() {
		if !def.IsActive {
			continue
		}
		tasks = append(tasks, models.Task{
			ID:        uuid.NewString(),
			ProjectID: project.ID,
			Stage:     def.Stage,
			AgentName: def.Name,
			Status:    models.TaskStatusPending,
		})
	}
	if len(tasks) == 0 {
		return fmt.Errorf("no active agent definitions to create tasks from")
	}

	if err := c.db.CreateTasksTx(ctx, tasks); err != nil {
		return faults.NewDatabaseError("create tasks", err)
	}

	getCtrlLog().Info().
		Str("project_id", project.ID).
		Int("tasks", len(tasks)).
		Msg("Created tasks for all stages")
	return nil
}

// enterPipeline writes status=IN_PROGRESS and currentStage=1.
func (c *PipelineController) enterPipeline(ctx context.Context, project *models.Project) error {
	if err := c.db.UpdateProjectStatus(ctx, project.ID, models.ProjectStatusInProgress); err != nil {
		return faults.NewDatabaseError("update project status", err)
	}
	if err := c.db.UpdateProjectStage(ctx, project.ID, models.MinStage); err != nil {
		return faults.NewDatabaseError("update project stage", err)
	}
	project.Status = models.ProjectStatusInProgress
	project.CurrentStage = models.MinStage
	return nil
}

// runStages executes stages strictly sequentially, applying the recovery
// policy per stage, and settles the project into a terminal status.
func (c *PipelineController) runStages(ctx context.Context, project *models.Project) error {
	for stage := models.MinStage; stage <= models.MaxStage; stage++ {
		satisfied, err := c.runStageWithRecovery(ctx, project, stage)
		if err != nil {
			// Infrastructure failure (not task failure): the pipeline halts
			// with the project failed.
			c.failProject(ctx, project, stage, err.Error())
			return err
		}
		if !satisfied {
			// Critical stage exhausted its recovery budget.
			c.failProject(ctx, project, stage,
				fmt.Sprintf("critical stage %d failed after %d recovery attempts", stage, c.cfg.MaxStageRecoveries))
			return nil
		}

		if stage < models.MaxStage {
			if err := c.db.UpdateProjectStage(ctx, project.ID, stage+1); err != nil {
				return faults.NewDatabaseError("advance stage", err)
			}
			project.CurrentStage = stage + 1
		}
	}

	return c.completeProject(ctx, project)
}

// runStageWithRecovery runs one stage, re-running it after recoverable
// failures until it is satisfied or the recovery budget is exhausted.
// Returns false when an exhausted critical stage must fail the project;
// non-critical stages degrade gracefully and report satisfied.
func (c *PipelineController) runStageWithRecovery(ctx context.Context, project *models.Project, stage int) (bool, error) {
	recoveries := 0
	degraded := false

	for {
		outcome, err := c.scheduler.RunStage(ctx, project, stage)
		if err != nil {
			return false, err
		}

		if outcome.Satisfied() {
			c.publishStageComplete(project.ID, outcome, degraded)
			return true, nil
		}

		if outcome.Recoverable() && recoveries < c.cfg.MaxStageRecoveries {
			recoveries++
			getCtrlLog().Warn().
				Str("project_id", project.ID).
				Int("stage", stage).
				Int("failed", outcome.Failed).
				Int("recovery_attempt", recoveries).
				Msg("Stage failed, scheduling recovery")

			if _, err := c.db.ResetFailedTasksToPending(ctx, project.ID, stage); err != nil {
				return false, faults.NewDatabaseError("reset failed tasks", err)
			}
			if err := c.sleep(ctx, c.cfg.RecoveryCooldown); err != nil {
				return false, err
			}
			continue
		}

		if c.cfg.IsCriticalStage(stage) {
			getCtrlLog().Error().
				Str("project_id", project.ID).
				Int("stage", stage).
				Int("recoveries", recoveries).
				Msg("Critical stage failed, aborting pipeline")
			return false, nil
		}

		// Graceful degradation: accept the partial failure and move on.
		getCtrlLog().Warn().
			Str("project_id", project.ID).
			Int("stage", stage).
			Int("failed", outcome.Failed).
			Msg("Non-critical stage degraded, proceeding")
		degraded = true
		c.publishStageComplete(project.ID, outcome, degraded)
		return true, nil
	}
}

func (c *PipelineController) publishStageComplete(projectID string, outcome *StageOutcome, degraded bool) {
	c.publisher.Publish(protocol.StageCompleteEvent{
		Metadata:  newProjectMetadata(projectID),
		ProjectID: projectID,
		Stage:     outcome.Stage,
		Completed: outcome.Completed,
		Failed:    outcome.Failed,
		Skipped:   outcome.Skipped,
		Degraded:  degraded,
	})
}

// completeProject settles the terminal COMPLETED state and publishes the
// completion event exactly once.
func (c *PipelineController) completeProject(ctx context.Context, project *models.Project) error {
	if err := c.db.UpdateProjectStatus(ctx, project.ID, models.ProjectStatusCompleted); err != nil {
		return faults.NewDatabaseError("complete project", err)
	}
	project.Status = models.ProjectStatusCompleted

	artifactCount, err := c.db.CountArtifactsByProject(ctx, project.ID)
	if err != nil {
		return faults.NewDatabaseError("count artifacts", err)
	}

	getCtrlLog().Info().
		Str("project_id", project.ID).
		Int64("artifacts", artifactCount).
		Msg("Pipeline completed")

	c.publisher.Publish(protocol.ProjectCompleteEvent{
		Metadata:      newProjectMetadata(project.ID),
		ProjectID:     project.ID,
		ArtifactCount: int(artifactCount),
	})
	return nil
}

// failProject settles the terminal FAILED state and publishes an error event.
// Tasks already in flight are not interrupted; their late writes are
// orphaned.
func (c *PipelineController) failProject(ctx context.Context, project *models.Project, stage int, reason string) {
	if err := c.db.UpdateProjectStatus(ctx, project.ID, models.ProjectStatusFailed); err != nil {
		getCtrlLog().Error().Err(err).Str("project_id", project.ID).Msg("Failed to mark project failed")
	}
	project.Status = models.ProjectStatusFailed

	c.publisher.Publish(protocol.ErrorEvent{
		Metadata:  newProjectMetadata(project.ID),
		ProjectID: project.ID,
		Stage:     stage,
		Message:   reason,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
