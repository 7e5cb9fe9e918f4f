// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noldarim/venturepilot/internal/config"
	"github.com/noldarim/venturepilot/internal/orchestrator/agents"
	"github.com/noldarim/venturepilot/internal/orchestrator/database"
	"github.com/noldarim/venturepilot/internal/orchestrator/faults"
	"github.com/noldarim/venturepilot/internal/orchestrator/models"
	"github.com/noldarim/venturepilot/internal/protocol"
)

// recordingPublisher captures every published event for assertions
type recordingPublisher struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (p *recordingPublisher) Publish(event protocol.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) ofType(et protocol.EventType) []protocol.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []protocol.Event
	for _, e := range p.events {
		if typed, ok := e.(protocol.TypedEvent); ok && typed.EventType() == et {
			out = append(out, e)
		}
	}
	return out
}

// flakyCapability fails a fixed number of times before succeeding
type flakyCapability struct {
	inner    *agents.TestCapability
	mu       sync.Mutex
	failures int
	err      error
}

func (c *flakyCapability) Name() string { return c.inner.Name() }

func (c *flakyCapability) Execute(ctx context.Context, ec agents.ExecutionContext) (*agents.ExecutionResult, error) {
	c.mu.Lock()
	remaining := c.failures
	if remaining > 0 {
		c.failures--
	}
	c.mu.Unlock()

	if remaining > 0 {
		return nil, c.err
	}
	return c.inner.Execute(ctx, ec)
}

type testEnv struct {
	db        *database.GormDB
	registry  *agents.Registry
	scheduler *StageScheduler
	ctrl      *PipelineController
	publisher *recordingPublisher
}

func defaultPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxStageRecoveries: 3,
		RecoveryCooldown:   5 * time.Second,
		CriticalStages:     []int{1, 2},
	}
}

func stockCapability(name string, stage int) agents.Capability {
	return agents.NewTestCapability(agents.AgentDefinition{
		Name:           name,
		Stage:          stage,
		PromptTemplate: "work on {{.Idea}}",
		IsActive:       true,
	})
}

// fullCoverage returns one deterministic capability per stage
func fullCoverage() map[int][]agents.Capability {
	return map[int][]agents.Capability{
		1: {stockCapability("idea-refiner", 1)},
		2: {stockCapability("market-researcher", 2)},
		3: {stockCapability("business-modeler", 3)},
		4: {stockCapability("product-designer", 4)},
		5: {stockCapability("financial-planner", 5)},
		6: {stockCapability("pitch-writer", 6)},
	}
}

func newTestEnv(t *testing.T, byStage map[int][]agents.Capability, cfg config.PipelineConfig) *testEnv {
	fixture := database.UseFreshInMemoryDatabase(t)
	t.Cleanup(fixture.Cleanup)

	registry := agents.NewRegistryFromCapabilities(byStage)
	publisher := &recordingPublisher{}
	scheduler := NewStageScheduler(fixture.DB, registry, publisher)
	ctrl := NewPipelineController(fixture.DB, registry, scheduler, publisher, cfg).
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil })

	return &testEnv{
		db:        fixture.DB,
		registry:  registry,
		scheduler: scheduler,
		ctrl:      ctrl,
		publisher: publisher,
	}
}

func createProject(t *testing.T, db *database.GormDB) *models.Project {
	project := &models.Project{
		ID:     uuid.NewString(),
		Name:   "Plant Care",
		Idea:   "subscription plant care",
		Status: models.ProjectStatusCreated,
	}
	require.NoError(t, db.CreateProject(context.Background(), project))
	return project
}

func transientExecErr() error {
	return faults.NewServiceError("openai", faults.ClassTransient, errors.New("connection reset"))
}

// ---------------------------------------------------------------------------
// Stage scheduler
// ---------------------------------------------------------------------------

func TestScheduler_EmptyStageSatisfied(t *testing.T) {
	env := newTestEnv(t, fullCoverage(), defaultPipelineConfig())
	project := createProject(t, env.db)

	outcome, err := env.scheduler.RunStage(context.Background(), project, 1)
	require.NoError(t, err)
	assert.True(t, outcome.Satisfied())
	assert.Zero(t, outcome.Completed)
	assert.Empty(t, env.publisher.events, "no provider work means no events")
}

func TestScheduler_SettleAllJoin(t *testing.T) {
	// Three agents on stage 1; the middle one always fails.
	byStage := map[int][]agents.Capability{
		1: {
			stockCapability("agent-a", 1),
			&flakyCapability{inner: agents.NewTestCapability(agents.AgentDefinition{
				Name: "agent-b", Stage: 1, PromptTemplate: "x", IsActive: true,
			}), failures: 1 << 30, err: transientExecErr()},
			stockCapability("agent-c", 1),
		},
	}
	env := newTestEnv(t, byStage, defaultPipelineConfig())
	project := createProject(t, env.db)
	ctx := context.Background()

	tasks := []models.Task{
		{ID: "t-a", ProjectID: project.ID, Stage: 1, AgentName: "agent-a"},
		{ID: "t-b", ProjectID: project.ID, Stage: 1, AgentName: "agent-b"},
		{ID: "t-c", ProjectID: project.ID, Stage: 1, AgentName: "agent-c"},
	}
	require.NoError(t, env.db.CreateTasksTx(ctx, tasks))

	outcome, err := env.scheduler.RunStage(ctx, project, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Completed)
	assert.Equal(t, 1, outcome.Failed)
	assert.False(t, outcome.Satisfied())

	// Every task is terminal; the failure did not abort its siblings.
	for _, id := range []string{"t-a", "t-c"} {
		task, err := env.db.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCompleted, task.Status, "task %s", id)
	}
	task, err := env.db.GetTask(ctx, "t-b")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "agent-b")

	// Artifacts from the two successes were batch-inserted.
	count, err := env.db.CountArtifactsByProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestScheduler_SkipsTasksWithoutActiveAgent(t *testing.T) {
	env := newTestEnv(t, fullCoverage(), defaultPipelineConfig())
	project := createProject(t, env.db)
	ctx := context.Background()

	require.NoError(t, env.db.CreateTasksTx(ctx, []models.Task{
		{ID: "t-known", ProjectID: project.ID, Stage: 1, AgentName: "idea-refiner"},
		{ID: "t-orphan", ProjectID: project.ID, Stage: 1, AgentName: "retired-agent"},
	}))

	outcome, err := env.scheduler.RunStage(ctx, project, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Completed)
	assert.Equal(t, 1, outcome.Skipped)
	assert.True(t, outcome.Satisfied())

	task, err := env.db.GetTask(ctx, "t-orphan")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSkipped, task.Status)
}

func TestScheduler_PublishesTaskEventsAfterWrite(t *testing.T) {
	env := newTestEnv(t, fullCoverage(), defaultPipelineConfig())
	project := createProject(t, env.db)
	ctx := context.Background()

	require.NoError(t, env.db.CreateTasksTx(ctx, []models.Task{
		{ID: "t-1", ProjectID: project.ID, Stage: 1, AgentName: "idea-refiner"},
	}))

	_, err := env.scheduler.RunStage(ctx, project, 1)
	require.NoError(t, err)

	updates := env.publisher.ofType(protocol.EventTaskUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, models.TaskStatusInProgress, updates[0].(protocol.TaskUpdateEvent).Status)
	assert.Equal(t, models.TaskStatusCompleted, updates[1].(protocol.TaskUpdateEvent).Status)

	artifactEvents := env.publisher.ofType(protocol.EventArtifactCreate)
	assert.Len(t, artifactEvents, 1)
}

// resettingCapability rewinds its own task row to pending mid-execution,
// simulating a concurrent restart stealing the row from the runner.
type resettingCapability struct {
	inner *agents.TestCapability
	db    *database.GormDB
	fail  bool
}

func (c *resettingCapability) Name() string { return c.inner.Name() }

func (c *resettingCapability) Execute(ctx context.Context, ec agents.ExecutionContext) (*agents.ExecutionResult, error) {
	if _, err := c.db.ResetTasksForRestart(ctx, ec.ProjectID); err != nil {
		return nil, err
	}
	if c.fail {
		return nil, transientExecErr()
	}
	return c.inner.Execute(ctx, ec)
}

func TestScheduler_DiscardsResultWhenTaskWasReset(t *testing.T) {
	tests := []struct {
		name string
		fail bool
	}{
		{name: "successful run", fail: false},
		{name: "failed run", fail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capability := &resettingCapability{
				inner: agents.NewTestCapability(agents.AgentDefinition{
					Name: "idea-refiner", Stage: 1, PromptTemplate: "x", IsActive: true,
				}),
				fail: tt.fail,
			}
			env := newTestEnv(t, map[int][]agents.Capability{1: {capability}}, defaultPipelineConfig())
			capability.db = env.db
			project := createProject(t, env.db)
			ctx := context.Background()

			require.NoError(t, env.db.CreateTasksTx(ctx, []models.Task{
				{ID: "t-reset", ProjectID: project.ID, Stage: 1, AgentName: "idea-refiner"},
			}))

			outcome, err := env.scheduler.RunStage(ctx, project, 1)
			require.NoError(t, err)

			// The row left IN_PROGRESS under the runner, so its result no
			// longer counts toward the stage.
			assert.Zero(t, outcome.Completed)
			assert.Zero(t, outcome.Failed)

			task, err := env.db.GetTask(ctx, "t-reset")
			require.NoError(t, err)
			assert.Equal(t, models.TaskStatusPending, task.Status)

			count, err := env.db.CountArtifactsByProject(ctx, project.ID)
			require.NoError(t, err)
			assert.Zero(t, count, "orphaned run must not persist artifacts")

			// Only the claim transition was announced.
			updates := env.publisher.ofType(protocol.EventTaskUpdate)
			require.Len(t, updates, 1)
			assert.Equal(t, models.TaskStatusInProgress, updates[0].(protocol.TaskUpdateEvent).Status)
		})
	}
}

// ---------------------------------------------------------------------------
// Pipeline controller
// ---------------------------------------------------------------------------

func TestController_EndToEnd(t *testing.T) {
	env := newTestEnv(t, fullCoverage(), defaultPipelineConfig())
	project := createProject(t, env.db)
	ctx := context.Background()

	require.NoError(t, env.ctrl.Start(ctx, project.ID))

	got, err := env.db.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusCompleted, got.Status)
	assert.Equal(t, models.MaxStage, got.CurrentStage)

	tasks, err := env.db.GetTasksByProject(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 6, "one task per stage created up front")
	for _, task := range tasks {
		assert.Equal(t, models.TaskStatusCompleted, task.Status)
	}

	assert.Len(t, env.publisher.ofType(protocol.EventProjectStart), 1)
	assert.Len(t, env.publisher.ofType(protocol.EventStageComplete), 6)

	completes := env.publisher.ofType(protocol.EventProjectComplete)
	require.Len(t, completes, 1, "project:complete fires exactly once")
	assert.Equal(t, 6, completes[0].(protocol.ProjectCompleteEvent).ArtifactCount)
}

func TestController_StartIsIdempotentForTaskCreation(t *testing.T) {
	byStage := fullCoverage()
	flaky := &flakyCapability{
		inner: agents.NewTestCapability(agents.AgentDefinition{
			Name: "idea-refiner", Stage: 1, PromptTemplate: "x", IsActive: true,
		}),
		failures: 1 << 30,
		err:      transientExecErr(),
	}
	byStage[1] = []agents.Capability{flaky}

	env := newTestEnv(t, byStage, defaultPipelineConfig())
	project := createProject(t, env.db)
	ctx := context.Background()

	// First start fails at critical stage 1, leaving the project FAILED.
	require.NoError(t, env.ctrl.Start(ctx, project.ID))

	tasks, err := env.db.GetTasksByProject(ctx, project.ID)
	require.NoError(t, err)
	first := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		first[task.ID] = true
	}

	// A second start must not mint new task rows.
	require.NoError(t, env.ctrl.Start(ctx, project.ID))
	tasks, err = env.db.GetTasksByProject(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, tasks, len(first))
	for _, task := range tasks {
		assert.True(t, first[task.ID], "task %s was created by the second start", task.ID)
	}
}

func TestController_StartOnFailedProjectRerunsFailedStage(t *testing.T) {
	byStage := fullCoverage()
	byStage[1] = []agents.Capability{&flakyCapability{
		inner: agents.NewTestCapability(agents.AgentDefinition{
			Name: "idea-refiner", Stage: 1, PromptTemplate: "x", IsActive: true,
		}),
		failures: 1 << 30,
		err:      transientExecErr(),
	}}

	env := newTestEnv(t, byStage, defaultPipelineConfig())
	project := createProject(t, env.db)
	ctx := context.Background()

	require.NoError(t, env.ctrl.Start(ctx, project.ID))

	got, err := env.db.GetProject(ctx, project.ID)
	require.NoError(t, err)
	require.Equal(t, models.ProjectStatusFailed, got.Status)

	// Starting a failed project must not skip the failed stage: the stage 1
	// task is reset and re-run, fails again, and the project stays failed
	// without any later stage executing.
	require.NoError(t, env.ctrl.Start(ctx, project.ID))

	got, err = env.db.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusFailed, got.Status)

	tasks, err := env.db.GetTasksByProject(ctx, project.ID)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.Stage == 1 {
			assert.Equal(t, models.TaskStatusFailed, task.Status)
		} else {
			assert.Equal(t, models.TaskStatusPending, task.Status,
				"stage %d task ran after critical stage failure", task.Stage)
		}
	}

	assert.Empty(t, env.publisher.ofType(protocol.EventProjectComplete))
}

func TestController_StartRejectedWhileInProgress(t *testing.T) {
	env := newTestEnv(t, fullCoverage(), defaultPipelineConfig())
	project := createProject(t, env.db)
	ctx := context.Background()

	require.NoError(t, env.db.UpdateProjectStatus(ctx, project.ID, models.ProjectStatusInProgress))

	err := env.ctrl.Start(ctx, project.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot start project in status in_progress")
}

func TestController_RecoveryRerunsFailedStage(t *testing.T) {
	byStage := fullCoverage()
	// Stage 4 fails twice with a transient error, then succeeds.
	byStage[4] = []agents.Capability{&flakyCapability{
		inner: agents.NewTestCapability(agents.AgentDefinition{
			Name: "product-designer", Stage: 4, PromptTemplate: "x", IsActive: true,
		}),
		failures: 2,
		err:      transientExecErr(),
	}}

	env := newTestEnv(t, byStage, defaultPipelineConfig())
	project := createProject(t, env.db)
	ctx := context.Background()

	var cooldowns int
	env.ctrl.WithSleep(func(ctx context.Context, d time.Duration) error {
		cooldowns++
		assert.Equal(t, 5*time.Second, d)
		return nil
	})

	require.NoError(t, env.ctrl.Start(ctx, project.ID))

	got, err := env.db.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusCompleted, got.Status)
	assert.Equal(t, 2, cooldowns, "one cooldown per recovery attempt")

	tasks, err := env.db.GetTasksByStage(ctx, project.ID, 4)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusCompleted, tasks[0].Status)
	assert.Equal(t, 3, tasks[0].Attempts, "two failed runs plus the successful one")
}

func TestController_NonCriticalStageDegradesAfterExhaustion(t *testing.T) {
	byStage := fullCoverage()
	byStage[4] = []agents.Capability{&flakyCapability{
		inner: agents.NewTestCapability(agents.AgentDefinition{
			Name: "product-designer", Stage: 4, PromptTemplate: "x", IsActive: true,
		}),
		failures: 1 << 30,
		err:      transientExecErr(),
	}}

	env := newTestEnv(t, byStage, defaultPipelineConfig())
	project := createProject(t, env.db)
	ctx := context.Background()

	require.NoError(t, env.ctrl.Start(ctx, project.ID))

	got, err := env.db.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusCompleted, got.Status, "non-critical failure degrades, project still finishes")

	// Stage 5 and 6 ran despite the stage 4 failure.
	for _, stage := range []int{5, 6} {
		tasks, err := env.db.GetTasksByStage(ctx, project.ID, stage)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, models.TaskStatusCompleted, tasks[0].Status)
	}

	var degraded []protocol.StageCompleteEvent
	for _, e := range env.publisher.ofType(protocol.EventStageComplete) {
		sc := e.(protocol.StageCompleteEvent)
		if sc.Degraded {
			degraded = append(degraded, sc)
		}
	}
	require.Len(t, degraded, 1)
	assert.Equal(t, 4, degraded[0].Stage)
}

func TestController_CriticalStageFailureAbortsPipeline(t *testing.T) {
	byStage := fullCoverage()
	byStage[2] = []agents.Capability{&flakyCapability{
		inner: agents.NewTestCapability(agents.AgentDefinition{
			Name: "market-researcher", Stage: 2, PromptTemplate: "x", IsActive: true,
		}),
		failures: 1 << 30,
		err:      transientExecErr(),
	}}

	env := newTestEnv(t, byStage, defaultPipelineConfig())
	project := createProject(t, env.db)
	ctx := context.Background()

	require.NoError(t, env.ctrl.Start(ctx, project.ID))

	got, err := env.db.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusFailed, got.Status)
	assert.Equal(t, 2, got.CurrentStage, "pipeline never advanced past the critical stage")

	// No stage 3+ task ever started.
	for stage := 3; stage <= models.MaxStage; stage++ {
		tasks, err := env.db.GetTasksByStage(ctx, project.ID, stage)
		require.NoError(t, err)
		for _, task := range tasks {
			assert.Equal(t, models.TaskStatusPending, task.Status)
		}
	}

	errorEvents := env.publisher.ofType(protocol.EventError)
	require.Len(t, errorEvents, 1)
	assert.Equal(t, 2, errorEvents[0].(protocol.ErrorEvent).Stage)
	assert.Empty(t, env.publisher.ofType(protocol.EventProjectComplete))
}

func TestController_PermanentFailureSkipsRecovery(t *testing.T) {
	byStage := fullCoverage()
	permanent := faults.NewValidationError("prompt", "rejected by provider")
	byStage[4] = []agents.Capability{&flakyCapability{
		inner: agents.NewTestCapability(agents.AgentDefinition{
			Name: "product-designer", Stage: 4, PromptTemplate: "x", IsActive: true,
		}),
		failures: 1 << 30,
		err:      permanent,
	}}

	env := newTestEnv(t, byStage, defaultPipelineConfig())
	project := createProject(t, env.db)
	ctx := context.Background()

	var cooldowns int
	env.ctrl.WithSleep(func(ctx context.Context, d time.Duration) error {
		cooldowns++
		return nil
	})

	require.NoError(t, env.ctrl.Start(ctx, project.ID))

	assert.Zero(t, cooldowns, "permanent failures must not burn recovery attempts")

	tasks, err := env.db.GetTasksByStage(ctx, project.ID, 4)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].Attempts)
}

func TestController_RestartRejectedWhenCompleted(t *testing.T) {
	env := newTestEnv(t, fullCoverage(), defaultPipelineConfig())
	project := createProject(t, env.db)
	ctx := context.Background()

	require.NoError(t, env.ctrl.Start(ctx, project.ID))

	err := env.ctrl.Restart(ctx, project.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot restart completed project")
}

func TestController_RestartRerunsFailedProject(t *testing.T) {
	byStage := fullCoverage()
	flaky := &flakyCapability{
		inner: agents.NewTestCapability(agents.AgentDefinition{
			Name: "idea-refiner", Stage: 1, PromptTemplate: "x", IsActive: true,
		}),
		failures: 1 << 30,
		err:      transientExecErr(),
	}
	byStage[1] = []agents.Capability{flaky}

	env := newTestEnv(t, byStage, defaultPipelineConfig())
	project := createProject(t, env.db)
	ctx := context.Background()

	require.NoError(t, env.ctrl.Start(ctx, project.ID))

	got, err := env.db.GetProject(ctx, project.ID)
	require.NoError(t, err)
	require.Equal(t, models.ProjectStatusFailed, got.Status)

	// Heal the agent and restart.
	flaky.mu.Lock()
	flaky.failures = 0
	flaky.mu.Unlock()

	require.NoError(t, env.ctrl.Restart(ctx, project.ID))

	got, err = env.db.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusCompleted, got.Status)
	assert.Equal(t, models.MaxStage, got.CurrentStage)
}

func TestController_StartUnknownProject(t *testing.T) {
	env := newTestEnv(t, fullCoverage(), defaultPipelineConfig())

	err := env.ctrl.Start(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestController_ValidateAgentSetup(t *testing.T) {
	env := newTestEnv(t, map[int][]agents.Capability{
		1: {stockCapability("solo", 1)},
	}, defaultPipelineConfig())

	assert.Equal(t, []int{2, 3, 4, 5, 6}, env.ctrl.ValidateAgentSetup())
}
