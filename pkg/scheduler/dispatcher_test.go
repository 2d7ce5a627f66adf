package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
	"github.com/kronion-io/kronion/pkg/persistence/file"
)

type fakeExecutor struct {
	mu   sync.Mutex
	jobs []*models.Job
}

func (f *fakeExecutor) ExecuteDue(_ context.Context, job *models.Job, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)

	return nil
}

func (f *fakeExecutor) executed() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.jobs)
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	runs []map[string]any
}

func (f *fakeEnqueuer) EnqueueRun(_ context.Context, trigger *models.Trigger, triggerContext map[string]any) (*models.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, triggerContext)

	return &models.WorkflowRun{
		ID:         uuid.New().String(),
		WorkflowID: trigger.WorkflowID,
		Status:     models.RunStatusQueued,
	}, nil
}

func newDispatcherFixture(t *testing.T) (*Dispatcher, *file.Persistence, *fakeExecutor, *fakeEnqueuer) {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	executor := &fakeExecutor{}
	enqueuer := &fakeEnqueuer{}
	dispatcher := NewDispatcher(slog.Default(), store, executor, enqueuer)

	return dispatcher, store, executor, enqueuer
}

func saveScheduleTrigger(t *testing.T, store *file.Persistence, id string, nextRunAt time.Time, maxRuns *int, runCount int) *models.Trigger {
	t.Helper()

	trigger := &models.Trigger{
		ID:              id,
		WorkflowID:      "wf-1",
		WorkflowVersion: 1,
		Type:            models.TriggerTypeSchedule,
		Schedule: &models.Schedule{
			Kind:  models.ScheduleKindEvery,
			Every: &models.EverySchedule{IntervalMS: 3600_000},
		},
		Enabled:   true,
		NextRunAt: &nextRunAt,
		RunCount:  runCount,
		MaxRuns:   maxRuns,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.TriggerRepository().Save(context.Background(), trigger))

	return trigger
}

func TestDispatchExecutesDueJobs(t *testing.T) {
	dispatcher, store, executor, _ := newDispatcherFixture(t)
	ctx := context.Background()

	due := time.Now().UTC().Add(-time.Minute)
	job := &models.Job{
		ID:     uuid.New().String(),
		Name:   "hourly report",
		Prompt: "write the report",
		Schedule: models.Schedule{
			Kind:  models.ScheduleKindEvery,
			Every: &models.EverySchedule{IntervalMS: 3600_000},
		},
		Status:    models.JobStatusActive,
		NextRunAt: &due,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.JobRepository().Save(ctx, job))

	require.NoError(t, dispatcher.Dispatch(ctx))
	assert.Equal(t, 1, executor.executed())

	// The claim consumed the due state: a second dispatch is a no-op.
	require.NoError(t, dispatcher.Dispatch(ctx))
	assert.Equal(t, 1, executor.executed())
}

type failingTriggerClaimStore struct {
	persistence.Persistence
}

func (s *failingTriggerClaimStore) TriggerRepository() persistence.TriggerRepository {
	return &failingTriggerClaimRepo{s.Persistence.TriggerRepository()}
}

type failingTriggerClaimRepo struct {
	persistence.TriggerRepository
}

func (r *failingTriggerClaimRepo) ClaimDue(context.Context, time.Time) ([]*models.Trigger, error) {
	return nil, errors.New("trigger store unavailable")
}

func TestDispatchRunsClaimedJobsWhenTriggerClaimFails(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	executor := &fakeExecutor{}
	wrapped := &failingTriggerClaimStore{Persistence: store}
	dispatcher := NewDispatcher(slog.Default(), wrapped, executor, &fakeEnqueuer{})
	ctx := context.Background()

	due := time.Now().UTC().Add(-time.Minute)
	job := &models.Job{
		ID:     uuid.New().String(),
		Name:   "hourly report",
		Prompt: "write the report",
		Schedule: models.Schedule{
			Kind:  models.ScheduleKindEvery,
			Every: &models.EverySchedule{IntervalMS: 3600_000},
		},
		Status:    models.JobStatusActive,
		NextRunAt: &due,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.JobRepository().Save(ctx, job))

	// The claim already cleared the job's next run, so the job must be
	// executed even though the trigger claim errored.
	err = dispatcher.Dispatch(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, executor.executed())
}

func TestDispatchEnqueuesRunAndAdvancesTrigger(t *testing.T) {
	dispatcher, store, _, enqueuer := newDispatcherFixture(t)
	ctx := context.Background()

	saveScheduleTrigger(t, store, "tr-1", time.Now().UTC().Add(-time.Second), nil, 0)

	require.NoError(t, dispatcher.Dispatch(ctx))

	require.Len(t, enqueuer.runs, 1)
	assert.Equal(t, "tr-1", enqueuer.runs[0]["trigger_id"])
	assert.Equal(t, "wf-1", enqueuer.runs[0]["workflow_id"])
	assert.NotEmpty(t, enqueuer.runs[0]["scheduled_at"])

	stored, err := store.TriggerRepository().GetByID(ctx, "tr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RunCount)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.After(time.Now()))
}

func TestDispatchStopsAtMaxRuns(t *testing.T) {
	dispatcher, store, _, enqueuer := newDispatcherFixture(t)
	ctx := context.Background()

	maxRuns := 2
	saveScheduleTrigger(t, store, "tr-2", time.Now().UTC().Add(-time.Second), &maxRuns, 1)

	// Second (final) run: enqueued, then no further occurrence scheduled.
	require.NoError(t, dispatcher.Dispatch(ctx))
	require.Len(t, enqueuer.runs, 1)

	stored, err := store.TriggerRepository().GetByID(ctx, "tr-2")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RunCount)
	assert.Nil(t, stored.NextRunAt)
}

func TestDispatchDisablesExhaustedTrigger(t *testing.T) {
	dispatcher, store, _, enqueuer := newDispatcherFixture(t)
	ctx := context.Background()

	maxRuns := 1
	saveScheduleTrigger(t, store, "tr-3", time.Now().UTC().Add(-time.Second), &maxRuns, 1)

	require.NoError(t, dispatcher.Dispatch(ctx))
	assert.Empty(t, enqueuer.runs)

	stored, err := store.TriggerRepository().GetByID(ctx, "tr-3")
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
}

func TestEarliestNextRunPicksMinimum(t *testing.T) {
	dispatcher, store, _, _ := newDispatcherFixture(t)
	ctx := context.Background()

	jobNext := time.Now().UTC().Add(2 * time.Hour)
	triggerNext := time.Now().UTC().Add(time.Hour)

	job := &models.Job{
		ID:     uuid.New().String(),
		Name:   "later",
		Prompt: "p",
		Schedule: models.Schedule{
			Kind:  models.ScheduleKindEvery,
			Every: &models.EverySchedule{IntervalMS: 1000},
		},
		Status:    models.JobStatusActive,
		NextRunAt: &jobNext,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.JobRepository().Save(ctx, job))
	saveScheduleTrigger(t, store, "tr-4", triggerNext, nil, 0)

	earliest, err := dispatcher.EarliestNextRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, earliest)
	assert.WithinDuration(t, triggerNext, *earliest, time.Second)
}
