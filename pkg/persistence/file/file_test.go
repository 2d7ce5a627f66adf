package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	p, err := NewPersistence(t.TempDir())
	require.NoError(t, err)

	return p
}

func testTrigger(id, workflowID string, next time.Time) *models.Trigger {
	return &models.Trigger{
		ID:              id,
		WorkflowID:      workflowID,
		WorkflowVersion: 1,
		Type:            models.TriggerTypeSchedule,
		Schedule: &models.Schedule{
			Kind:  models.ScheduleKindEvery,
			Every: &models.EverySchedule{IntervalMS: 60_000},
		},
		Enabled:   true,
		NextRunAt: &next,
		CreatedAt: time.Now().UTC(),
	}
}

func TestWorkflowVersioning(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.WorkflowRepository()

	now := time.Now().UTC()

	require.NoError(t, repo.Save(ctx, &models.Workflow{
		ID: "wf-1", Version: 1, Name: "first", Status: models.WorkflowStatusPublished, CreatedAt: now,
	}))
	require.NoError(t, repo.Save(ctx, &models.Workflow{
		ID: "wf-1", Version: 2, Name: "second", Status: models.WorkflowStatusPublished, CreatedAt: now,
	}))
	require.NoError(t, repo.Save(ctx, &models.Workflow{
		ID: "wf-1", Version: 3, Name: "draft", Status: models.WorkflowStatusDraft, CreatedAt: now,
	}))

	t.Run("GetLatestPublished skips the draft", func(t *testing.T) {
		w, err := repo.GetLatestPublished(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, 2, w.Version)
	})

	t.Run("GetDraft returns the mutable version", func(t *testing.T) {
		w, err := repo.GetDraft(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, 3, w.Version)
	})

	t.Run("GetVersion pins an exact version", func(t *testing.T) {
		w, err := repo.GetVersion(ctx, "wf-1", 1)
		require.NoError(t, err)
		assert.Equal(t, "first", w.Name)
	})

	t.Run("unknown id reports not found", func(t *testing.T) {
		_, err := repo.GetVersion(ctx, "missing", 1)
		assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
	})

	t.Run("Delete removes all versions", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "wf-1"))
		_, err := repo.GetVersion(ctx, "wf-1", 2)
		assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
	})
}

func TestTriggerReplaceForWorkflow(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.TriggerRepository()

	next := time.Now().UTC().Add(time.Hour)

	require.NoError(t, repo.Save(ctx, testTrigger("t-old-1", "wf-1", next)))
	require.NoError(t, repo.Save(ctx, testTrigger("t-old-2", "wf-1", next)))
	require.NoError(t, repo.Save(ctx, testTrigger("t-other", "wf-2", next)))

	require.NoError(t, repo.ReplaceForWorkflow(ctx, "wf-1", []*models.Trigger{
		testTrigger("t-new", "wf-1", next),
	}))

	mine, err := repo.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "t-new", mine[0].ID)

	// Rows of other workflows survive the rebuild.
	other, err := repo.ListByWorkflow(ctx, "wf-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestTriggerClaimDue(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.TriggerRepository()

	now := time.Now().UTC()
	due := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	require.NoError(t, repo.Save(ctx, testTrigger("t-due", "wf-1", due)))
	require.NoError(t, repo.Save(ctx, testTrigger("t-future", "wf-1", future)))

	disabled := testTrigger("t-disabled", "wf-1", due)
	disabled.Enabled = false
	require.NoError(t, repo.Save(ctx, disabled))

	claimed, err := repo.ClaimDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "t-due", claimed[0].ID)

	// The claim consumed the due state: a second claim finds nothing.
	again, err := repo.ClaimDue(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, again)

	stored, err := repo.GetByID(ctx, "t-due")
	require.NoError(t, err)
	assert.Nil(t, stored.NextRunAt)
}

func TestTriggerEarliestNextRun(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.TriggerRepository()

	t.Run("empty store has no wake time", func(t *testing.T) {
		earliest, err := repo.EarliestNextRun(ctx)
		require.NoError(t, err)
		assert.Nil(t, earliest)
	})

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, testTrigger("t-late", "wf-1", base.Add(2*time.Hour))))
	require.NoError(t, repo.Save(ctx, testTrigger("t-early", "wf-1", base.Add(time.Hour))))

	earliest, err := repo.EarliestNextRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, earliest)
	assert.Equal(t, base.Add(time.Hour), *earliest)
}

func TestJobClaimDue(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.JobRepository()

	now := time.Now().UTC()
	due := now.Add(-time.Second)

	job := &models.Job{
		ID:     "job-1",
		Name:   "due job",
		Prompt: "do the thing",
		Schedule: models.Schedule{
			Kind:  models.ScheduleKindEvery,
			Every: &models.EverySchedule{IntervalMS: 60_000},
		},
		Status:    models.JobStatusActive,
		NextRunAt: &due,
		CreatedAt: now,
	}
	require.NoError(t, repo.Save(ctx, job))

	paused := *job
	paused.ID = "job-paused"
	paused.Status = models.JobStatusPaused
	require.NoError(t, repo.Save(ctx, &paused))

	claimed, err := repo.ClaimDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "job-1", claimed[0].ID)

	again, err := repo.ClaimDue(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEventAppendAssignsSequence(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.EventRepository()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, typ := range []models.RunEventType{models.EventRunQueued, models.EventRunStarted, models.EventRunCompleted} {
		require.NoError(t, repo.Append(ctx, &models.RunEvent{
			ID:        "evt-" + string(typ),
			RunID:     "run-1",
			Type:      typ,
			Timestamp: ts.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := repo.ListSince(ctx, "run-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1), all[0].Seq)
	assert.Equal(t, int64(3), all[2].Seq)

	// "since" is strictly-after.
	tail, err := repo.ListSince(ctx, "run-1", ts)
	require.NoError(t, err)
	assert.Len(t, tail, 2)
}

func TestJobRunHistoryPagination(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.JobRunRepository()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		result := models.JobRunSuccess
		if i%2 == 1 {
			result = models.JobRunError
		}

		require.NoError(t, repo.Append(ctx, &models.JobRun{
			ID:        string(rune('a' + i)),
			JobID:     "job-1",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Result:    result,
		}))
	}

	t.Run("newest first by default", func(t *testing.T) {
		runs, err := repo.ListByJob(ctx, "job-1", persistence.ListJobRunsOptions{})
		require.NoError(t, err)
		require.Len(t, runs, 5)
		assert.True(t, runs[0].StartedAt.After(runs[4].StartedAt))
	})

	t.Run("result filter and limit", func(t *testing.T) {
		errResult := models.JobRunError
		runs, err := repo.ListByJob(ctx, "job-1", persistence.ListJobRunsOptions{Result: &errResult, Limit: 1})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, models.JobRunError, runs[0].Result)
	})

	t.Run("purge removes full history", func(t *testing.T) {
		require.NoError(t, repo.DeleteByJob(ctx, "job-1"))
		runs, err := repo.ListByJob(ctx, "job-1", persistence.ListJobRunsOptions{})
		require.NoError(t, err)
		assert.Empty(t, runs)
	})
}
