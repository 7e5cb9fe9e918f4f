// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noldarim/venturepilot/internal/logger"
	"github.com/noldarim/venturepilot/internal/orchestrator/agents"
	"github.com/noldarim/venturepilot/internal/orchestrator/database"
	"github.com/noldarim/venturepilot/internal/orchestrator/faults"
	"github.com/noldarim/venturepilot/internal/orchestrator/models"
	"github.com/noldarim/venturepilot/internal/protocol"
)

var (
	schedLog     *zerolog.Logger
	schedLogOnce sync.Once
)

func getSchedLog() *zerolog.Logger {
	schedLogOnce.Do(func() {
		l := logger.GetSchedulerLogger()
		schedLog = &l
	})
	return schedLog
}

// StageOutcome summarizes one stage run after every task settled.
type StageOutcome struct {
	Stage     int
	Completed int
	Failed    int
	Skipped   int

	// TaskErrors holds the failure of each failed task, used by the
	// recovery policy to decide whether the stage failure is recoverable.
	TaskErrors []error
}

// Satisfied reports whether the stage finished without failures.
func (o *StageOutcome) Satisfied() bool {
	return o.Failed == 0
}

// Recoverable reports whether every contributing failure classifies as
// transient or provider-level.
func (o *StageOutcome) Recoverable() bool {
	for _, err := range o.TaskErrors {
		if !faults.Classify(err).Recoverable() {
			return false
		}
	}
	return len(o.TaskErrors) > 0
}

// StageScheduler runs every pending task of one stage concurrently and joins
// on all outcomes. A task failure never aborts its siblings; disposition is
// evaluated only after the last task settled.
type StageScheduler struct {
	db        *database.GormDB
	registry  *agents.Registry
	publisher protocol.Publisher
}

// NewStageScheduler creates a scheduler over the given store and registry.
func NewStageScheduler(db *database.GormDB, registry *agents.Registry, publisher protocol.Publisher) *StageScheduler {
	return &StageScheduler{
		db:        db,
		registry:  registry,
		publisher: publisher,
	}
}

// taskResult is one settled task inside a stage run
type taskResult struct {
	task      *models.Task
	artifacts []models.Artifact
	err       error
}

// RunStage executes all pending tasks of (project, stage) and returns after
// every one of them reached a terminal state. A stage with no pending tasks
// is satisfied without contacting any provider.
func (s *StageScheduler) RunStage(ctx context.Context, project *models.Project, stage int) (*StageOutcome, error) {
	outcome := &StageOutcome{Stage: stage}

	tasks, err := s.db.GetPendingTasksByStage(ctx, project.ID, stage)
	if err != nil {
		return nil, faults.NewDatabaseError("load pending tasks", err)
	}
	if len(tasks) == 0 {
		getSchedLog().Debug().
			Str("project_id", project.ID).
			Int("stage", stage).
			Msg("No pending tasks, stage satisfied")
		return outcome, nil
	}

	priorArtifacts, err := s.loadPriorArtifacts(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	// Tasks whose agent is unknown or deactivated are skipped up front.
	runnable := make([]*models.Task, 0, len(tasks))
	for _, task := range tasks {
		if s.registry.ByName(task.AgentName) == nil {
			s.skipTask(ctx, task)
			outcome.Skipped++
			continue
		}
		runnable = append(runnable, task)
	}

	getSchedLog().Info().
		Str("project_id", project.ID).
		Int("stage", stage).
		Int("tasks", len(runnable)).
		Int("skipped", outcome.Skipped).
		Msg("Launching stage")

	// Settle-all join: every task runs to a terminal state regardless of
	// sibling failures.
	var wg sync.WaitGroup
	results := make([]taskResult, len(runnable))
	for i, task := range runnable {
		wg.Add(1)
		go func(i int, task *models.Task) {
			defer wg.Done()
			results[i] = s.runTask(ctx, project, task, priorArtifacts)
		}(i, task)
	}
	wg.Wait()

	// Artifacts from successful tasks are batched before disposition.
	var artifacts []models.Artifact
	for _, res := range results {
		switch {
		case res.task == nil:
			// Lost the claim race; another runner owns this task.
		case res.err != nil:
			outcome.Failed++
			outcome.TaskErrors = append(outcome.TaskErrors, res.err)
		default:
			outcome.Completed++
			artifacts = append(artifacts, res.artifacts...)
		}
	}

	if len(artifacts) > 0 {
		if err := s.db.CreateArtifactsTx(ctx, artifacts); err != nil {
			return nil, faults.NewDatabaseError("persist artifacts", err)
		}
		s.publisher.Publish(protocol.ArtifactCreateEvent{
			Metadata:  newProjectMetadata(project.ID),
			ProjectID: project.ID,
			Stage:     stage,
			Artifacts: artifacts,
		})
	}

	getSchedLog().Info().
		Str("project_id", project.ID).
		Int("stage", stage).
		Int("completed", outcome.Completed).
		Int("failed", outcome.Failed).
		Int("skipped", outcome.Skipped).
		Msg("Stage settled")

	return outcome, nil
}

// runTask claims one task, executes its capability, and persists the terminal
// state. The returned error is recorded on the task row; it never propagates
// into the stage join.
func (s *StageScheduler) runTask(ctx context.Context, project *models.Project, task *models.Task, prior []models.Artifact) taskResult {
	claimed, err := s.db.ClaimTask(ctx, task.ID)
	if err != nil {
		return taskResult{task: task, err: faults.NewDatabaseError("claim task", err)}
	}
	if !claimed {
		return taskResult{}
	}
	s.publishTaskUpdate(project.ID, task, models.TaskStatusInProgress, "")

	capability := s.registry.ByName(task.AgentName)
	execResult, execErr := capability.Execute(ctx, agents.ExecutionContext{
		ProjectID:      project.ID,
		TaskID:         task.ID,
		Stage:          task.Stage,
		Idea:           project.Idea,
		PriorArtifacts: prior,
	})

	if execErr != nil {
		wrapped := &faults.AgentExecutionError{
			ProjectID: project.ID,
			TaskID:    task.ID,
			Agent:     task.AgentName,
			Stage:     task.Stage,
			Err:       execErr,
		}
		getSchedLog().Warn().Err(wrapped).Msg("Task failed")

		ok, err := s.db.FailTask(ctx, task.ID, wrapped.Error())
		if err != nil {
			return taskResult{task: task, err: faults.NewDatabaseError("fail task", err)}
		}
		if !ok {
			// The row left IN_PROGRESS under us (concurrent restart reset
			// it); the result no longer belongs to this run.
			getSchedLog().Warn().Str("task_id", task.ID).Msg("Task no longer in progress, discarding failure")
			return taskResult{}
		}
		s.publishTaskUpdate(project.ID, task, models.TaskStatusFailed, wrapped.Error())
		return taskResult{task: task, err: wrapped}
	}

	ok, err := s.db.CompleteTask(ctx, task.ID, execResult.Output, execResult.Meta)
	if err != nil {
		return taskResult{task: task, err: faults.NewDatabaseError("complete task", err)}
	}
	if !ok {
		getSchedLog().Warn().Str("task_id", task.ID).Msg("Task no longer in progress, discarding result")
		return taskResult{}
	}
	s.publishTaskUpdate(project.ID, task, models.TaskStatusCompleted, "")

	return taskResult{task: task, artifacts: execResult.Artifacts}
}

func (s *StageScheduler) skipTask(ctx context.Context, task *models.Task) {
	const reason = "no active agent registered"
	if _, err := s.db.SkipTask(ctx, task.ID, reason); err != nil {
		getSchedLog().Error().Err(err).Str("task_id", task.ID).Msg("Failed to mark task skipped")
		return
	}
	s.publishTaskUpdate(task.ProjectID, task, models.TaskStatusSkipped, reason)
}

// publishTaskUpdate fires a task event after its durable write.
func (s *StageScheduler) publishTaskUpdate(projectID string, task *models.Task, status models.TaskStatus, errMessage string) {
	s.publisher.Publish(protocol.TaskUpdateEvent{
		Metadata:  newTaskMetadata(projectID, task.ID),
		ProjectID: projectID,
		TaskID:    task.ID,
		Stage:     task.Stage,
		AgentName: task.AgentName,
		Status:    status,
		Error:     errMessage,
	})
}

func (s *StageScheduler) loadPriorArtifacts(ctx context.Context, projectID string) ([]models.Artifact, error) {
	rows, err := s.db.GetArtifactsByProject(ctx, projectID)
	if err != nil {
		return nil, faults.NewDatabaseError("load artifacts", err)
	}
	artifacts := make([]models.Artifact, len(rows))
	for i, row := range rows {
		artifacts[i] = *row
	}
	return artifacts, nil
}

func newProjectMetadata(projectID string) protocol.Metadata {
	return protocol.Metadata{
		ProjectID:      projectID,
		IdempotencyKey: uuid.NewString(),
		Version:        protocol.CurrentProtocolVersion,
	}
}

func newTaskMetadata(projectID, taskID string) protocol.Metadata {
	return protocol.Metadata{
		ProjectID:      projectID,
		TaskID:         taskID,
		IdempotencyKey: uuid.NewString(),
		Version:        protocol.CurrentProtocolVersion,
	}
}
