package workflow

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence/file"
	"github.com/kronion-io/kronion/pkg/protocol"
	"github.com/kronion-io/kronion/pkg/services"
)

func newRunService(t *testing.T) (*RunService, *Engine, *file.Persistence) {
	t.Helper()

	engine, store := newEngine(t, func(_ context.Context, node *models.Node, _ *protocol.ExecutionContext) (map[string]any, error) {
		return map[string]any{"from": node.ID}, nil
	})

	return NewRunService(slog.Default(), store, engine), engine, store
}

func everyTrigger(id, workflowID string, startAt time.Time) *models.Trigger {
	return &models.Trigger{
		ID:              id,
		WorkflowID:      workflowID,
		WorkflowVersion: 1,
		Type:            models.TriggerTypeSchedule,
		Schedule: &models.Schedule{
			Kind:  models.ScheduleKindEvery,
			Every: &models.EverySchedule{IntervalMS: 3600_000, StartAt: &startAt},
		},
		Enabled:   true,
		CreatedAt: startAt,
		UpdatedAt: startAt,
	}
}

func TestRunManualRequiresPublishedVersion(t *testing.T) {
	service, _, store := newRunService(t)

	draft := &models.Workflow{
		ID: "wf-draft", Version: 1, Name: "draft only",
		Status: models.WorkflowStatusDraft, Nodes: []*models.Node{agentNode("a")},
	}
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), draft))

	_, err := service.RunManual(context.Background(), draft.ID, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrNotPublished))
}

func TestRunManualEnqueuesPinnedRun(t *testing.T) {
	service, _, store := newRunService(t)

	wf := savePublished(t, store, &models.Workflow{
		ID:    "wf-manual",
		Nodes: []*models.Node{agentNode("a")},
	})

	run, err := service.RunManual(context.Background(), wf.ID, map[string]any{"topic": "billing"})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.Equal(t, wf.Version, run.WorkflowVersion)
	assert.Equal(t, models.TriggerTypeManual, run.TriggerType)
	assert.Equal(t, "billing", run.Input["topic"])

	types := eventTypes(t, store, run.ID)
	require.Len(t, types, 1)
	assert.Equal(t, models.EventRunQueued, types[0])
}

func TestWorkerDrainsQueuedRuns(t *testing.T) {
	service, _, store := newRunService(t)

	wf := savePublished(t, store, &models.Workflow{
		ID:    "wf-worker",
		Nodes: []*models.Node{agentNode("a")},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service.StartWorkers(ctx, 2)

	run, err := service.RunManual(ctx, wf.ID, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		reloaded, err := store.RunRepository().GetByID(context.Background(), run.ID)

		return err == nil && reloaded.Status == models.RunStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	service.Wait()
}

func TestCancelQueuedRun(t *testing.T) {
	service, _, store := newRunService(t)

	wf := savePublished(t, store, &models.Workflow{
		ID:    "wf-cancel-queued",
		Nodes: []*models.Node{agentNode("a")},
	})

	run, err := service.RunManual(context.Background(), wf.ID, nil)
	require.NoError(t, err)

	cancelled, err := service.Cancel(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	_, err = service.Cancel(context.Background(), run.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrRunAlreadyTerminal))

	_, err = store.RunRepository().GetByID(context.Background(), run.ID)
	require.NoError(t, err)
}

func TestPauseQueuedRun(t *testing.T) {
	service, _, store := newRunService(t)

	wf := savePublished(t, store, &models.Workflow{
		ID:    "wf-pause-queued",
		Nodes: []*models.Node{agentNode("a")},
	})

	run, err := service.RunManual(context.Background(), wf.ID, nil)
	require.NoError(t, err)

	paused, err := service.Pause(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, paused.Status)

	_, err = service.Pause(context.Background(), run.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrRunNotPausable))
}

func TestResumeMergesApprovals(t *testing.T) {
	service, _, store := newRunService(t)

	run := &models.WorkflowRun{
		ID: "run-paused", WorkflowID: "wf-x", WorkflowVersion: 1,
		Status:    models.RunStatusPaused,
		Approvals: map[string]bool{"review": true},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.RunRepository().Save(context.Background(), run))

	resumed, err := service.Resume(context.Background(), run.ID, map[string]bool{"deploy": true})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusQueued, resumed.Status)
	assert.True(t, resumed.Approvals["review"])
	assert.True(t, resumed.Approvals["deploy"])
	assert.Contains(t, eventTypes(t, store, run.ID), models.EventRunResumed)
}

func TestResumeRejectsTerminalRun(t *testing.T) {
	service, _, store := newRunService(t)

	run := &models.WorkflowRun{
		ID: "run-done", WorkflowID: "wf-x", WorkflowVersion: 1,
		Status:    models.RunStatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.RunRepository().Save(context.Background(), run))

	_, err := service.Resume(context.Background(), run.ID, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrRunNotResumable))
}

func TestTriggerWebhook(t *testing.T) {
	service, _, store := newRunService(t)
	ctx := context.Background()

	savePublished(t, store, &models.Workflow{
		ID:    "wf-hook",
		Nodes: []*models.Node{agentNode("a")},
	})

	maxRuns := 1
	trigger := &models.Trigger{
		ID: "wf-hook:in", WorkflowID: "wf-hook", WorkflowVersion: 1,
		Type:    models.TriggerTypeWebhook,
		Config:  map[string]any{"token": "sekret-token"},
		Enabled: true,
		MaxRuns: &maxRuns,
	}
	require.NoError(t, store.TriggerRepository().Save(ctx, trigger))

	run, err := service.TriggerWebhook(ctx, "sekret-token", map[string]any{"order_id": "o-1"})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.Equal(t, "o-1", run.TriggerContext["order_id"])

	reloaded, err := store.TriggerRepository().GetByID(ctx, trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.RunCount)

	// maxRuns is now exhausted.
	_, err = service.TriggerWebhook(ctx, "sekret-token", nil)
	require.Error(t, err)

	_, err = service.TriggerWebhook(ctx, "wrong-token", nil)
	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
}

func TestTriggerWebhookRejectsDisabled(t *testing.T) {
	service, _, store := newRunService(t)
	ctx := context.Background()

	trigger := &models.Trigger{
		ID: "wf-hook:off", WorkflowID: "wf-hook", WorkflowVersion: 1,
		Type:    models.TriggerTypeWebhook,
		Config:  map[string]any{"token": "dormant-token"},
		Enabled: false,
	}
	require.NoError(t, store.TriggerRepository().Save(ctx, trigger))

	_, err := service.TriggerWebhook(ctx, "dormant-token", nil)
	require.Error(t, err)
}

func TestBackfillEnqueuesPerOccurrence(t *testing.T) {
	service, _, store := newRunService(t)
	ctx := context.Background()

	savePublished(t, store, &models.Workflow{
		ID:    "wf-backfill",
		Nodes: []*models.Node{agentNode("a")},
	})

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	trigger := everyTrigger("wf-backfill:nightly", "wf-backfill", start)
	require.NoError(t, store.TriggerRepository().Save(ctx, trigger))

	runs, err := service.Backfill(ctx, trigger.ID, start, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, runs, 3)

	assert.Equal(t, start.Add(time.Hour).Format(time.RFC3339Nano), runs[0].TriggerContext["scheduled_at"])
	assert.Equal(t, true, runs[0].TriggerContext["backfill"])
}

func TestBackfillRejectsNonSchedule(t *testing.T) {
	service, _, store := newRunService(t)
	ctx := context.Background()

	trigger := &models.Trigger{
		ID: "wf-x:hook", WorkflowID: "wf-x", WorkflowVersion: 1,
		Type:    models.TriggerTypeWebhook,
		Config:  map[string]any{"token": "some-token"},
		Enabled: true,
	}
	require.NoError(t, store.TriggerRepository().Save(ctx, trigger))

	_, err := service.Backfill(ctx, trigger.ID, time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
}

func TestListScheduledSummaries(t *testing.T) {
	service, _, store := newRunService(t)
	ctx := context.Background()

	start := time.Now().UTC()
	next := start.Add(time.Hour)
	trigger := everyTrigger("wf-s:nightly", "wf-s", start)
	trigger.NextRunAt = &next
	require.NoError(t, store.TriggerRepository().Save(ctx, trigger))

	summaries, err := service.ListScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, trigger.ID, summaries[0].Trigger.ID)
	require.NotNil(t, summaries[0].NextRunAt)
	assert.True(t, summaries[0].NextRunAt.Equal(next))
}

func TestRecoverInterrupted(t *testing.T) {
	_, _, store := newRunService(t)
	ctx := context.Background()

	checkpoint := "b"
	interrupted := &models.WorkflowRun{
		ID: "run-crashed", WorkflowID: "wf-x", WorkflowVersion: 1,
		Status:        models.RunStatusRunning,
		CurrentNodeID: &checkpoint,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.RunRepository().Save(ctx, interrupted))

	finished := &models.WorkflowRun{
		ID: "run-finished", WorkflowID: "wf-x", WorkflowVersion: 1,
		Status:    models.RunStatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.RunRepository().Save(ctx, finished))

	recovered, err := RecoverInterrupted(ctx, slog.Default(), store, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	reloaded, err := store.RunRepository().GetByID(ctx, interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailedRecoverable, reloaded.Status)
	require.NotNil(t, reloaded.CurrentNodeID)
	assert.Equal(t, "b", *reloaded.CurrentNodeID)
	assert.Contains(t, eventTypes(t, store, interrupted.ID), models.EventRunRecovered)

	untouched, err := store.RunRepository().GetByID(ctx, finished.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, untouched.Status)
}
