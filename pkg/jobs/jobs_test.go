package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kronion-io/kronion/pkg/mocks"
	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
	"github.com/kronion-io/kronion/pkg/persistence/file"
	"github.com/kronion-io/kronion/pkg/runner"
	"github.com/kronion-io/kronion/pkg/services"
)

type countingRearmer struct {
	calls int
}

func (r *countingRearmer) Rearm() { r.calls++ }

func newTestService(t *testing.T) (*Service, *file.Persistence, *countingRearmer) {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	rearmer := &countingRearmer{}
	service := NewService(slog.Default(), store, rearmer)

	return service, store, rearmer
}

func everySchedule(intervalMS int64) models.Schedule {
	return models.Schedule{
		Kind:  models.ScheduleKindEvery,
		Every: &models.EverySchedule{IntervalMS: intervalMS},
	}
}

func TestCreateComputesNextRunAndRearms(t *testing.T) {
	service, _, rearmer := newTestService(t)

	job, err := service.Create(context.Background(), CreateJobRequest{
		Name:     "hourly summary",
		Prompt:   "summarize the inbox",
		Schedule: everySchedule(3600_000),
	})
	require.NoError(t, err)

	require.NotNil(t, job.NextRunAt)
	assert.WithinDuration(t, job.CreatedAt.Add(time.Hour), *job.NextRunAt, time.Second)
	assert.Equal(t, models.JobStatusActive, job.Status)
	assert.Equal(t, 1, rearmer.calls)
}

func TestCreateRejectsInvalidSchedule(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Create(context.Background(), CreateJobRequest{
		Name:   "broken",
		Prompt: "p",
		Schedule: models.Schedule{
			Kind: models.ScheduleKindCron,
			Cron: &models.CronSchedule{Expression: "not a cron"},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrInvalidSchedule))
}

func TestCreatePastAtScheduleNeverFires(t *testing.T) {
	service, _, _ := newTestService(t)

	past := time.Now().UTC().Add(-time.Hour)
	job, err := service.Create(context.Background(), CreateJobRequest{
		Name:   "missed",
		Prompt: "p",
		Schedule: models.Schedule{
			Kind: models.ScheduleKindAt,
			At:   &models.AtSchedule{Timestamp: past},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, job.NextRunAt)
}

func TestPauseAndResumeRecomputes(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	job, err := service.Create(ctx, CreateJobRequest{
		Name:     "pausable",
		Prompt:   "p",
		Schedule: everySchedule(60_000),
	})
	require.NoError(t, err)

	paused, err := service.Pause(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaused, paused.Status)

	resumed, err := service.Resume(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusActive, resumed.Status)
	require.NotNil(t, resumed.NextRunAt)
	assert.True(t, resumed.NextRunAt.After(time.Now()))
}

func TestRunNowSetsImmediateOccurrence(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	job, err := service.Create(ctx, CreateJobRequest{
		Name:     "on demand",
		Prompt:   "p",
		Schedule: everySchedule(86_400_000),
	})
	require.NoError(t, err)

	triggered, err := service.RunNow(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, triggered.NextRunAt)
	assert.WithinDuration(t, time.Now(), *triggered.NextRunAt, time.Second)
}

func TestGetUnknownJob(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Get(context.Background(), "job-missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrJobNotFound))
}

func TestExecutorRecordsSuccessAndReschedules(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	job, err := service.Create(ctx, CreateJobRequest{
		Name:       "summary",
		Prompt:     "summarize",
		Schedule:   everySchedule(3600_000),
		WorkingDir: "/tmp/work",
	})
	require.NoError(t, err)

	backend := &mocks.MockBackend{}
	backend.On("Execute", mock.Anything, "summarize", runner.Options{WorkingDir: "/tmp/work"}).
		Return(&runner.Result{Content: "done", PromptTokens: 10, CompletionTokens: 5}, nil)

	executor := NewExecutor(slog.Default(), store, backend)
	require.NoError(t, executor.ExecuteDue(ctx, job, time.Now().UTC()))

	stored, err := store.JobRepository().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RunCount)
	require.NotNil(t, stored.LastStatus)
	assert.Equal(t, models.JobRunSuccess, *stored.LastStatus)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.After(time.Now()))

	history, err := store.JobRunRepository().ListByJob(ctx, job.ID, persistence.ListJobRunsOptions{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "done", history[0].Output)
	assert.Equal(t, 10, history[0].PromptTokens)
	backend.AssertExpectations(t)
}

func TestExecutorRecordsFailure(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	job, err := service.Create(ctx, CreateJobRequest{
		Name:     "flaky",
		Prompt:   "try",
		Schedule: everySchedule(3600_000),
	})
	require.NoError(t, err)

	backend := &mocks.MockBackend{}
	backend.On("Execute", mock.Anything, "try", mock.Anything).
		Return(nil, errors.New("backend unavailable"))

	executor := NewExecutor(slog.Default(), store, backend)
	err = executor.ExecuteDue(ctx, job, time.Now().UTC())
	require.Error(t, err)

	stored, err := store.JobRepository().GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastStatus)
	assert.Equal(t, models.JobRunError, *stored.LastStatus)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "backend unavailable")
	// A failed run still advances to the next occurrence.
	assert.NotNil(t, stored.NextRunAt)
}

func TestExecutorFailsOneShotWhoseRunErrored(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	job, err := service.Create(ctx, CreateJobRequest{
		Name:   "one shot",
		Prompt: "send the report",
		Schedule: models.Schedule{
			Kind: models.ScheduleKindAt,
			At:   &models.AtSchedule{Timestamp: time.Now().UTC().Add(time.Minute)},
		},
	})
	require.NoError(t, err)

	backend := &mocks.MockBackend{}
	backend.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("backend down"))

	executor := NewExecutor(slog.Default(), store, backend)
	err = executor.ExecuteDue(ctx, job, time.Now().UTC())
	require.Error(t, err)

	stored, err := store.JobRepository().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Nil(t, stored.NextRunAt)
}

func TestExecutorCompletesAtMaxRuns(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	maxRuns := 1
	job, err := service.Create(ctx, CreateJobRequest{
		Name:     "bounded",
		Prompt:   "once",
		Schedule: everySchedule(60_000),
		MaxRuns:  &maxRuns,
	})
	require.NoError(t, err)

	backend := &mocks.MockBackend{}
	backend.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(&runner.Result{Content: "ok"}, nil)

	executor := NewExecutor(slog.Default(), store, backend)
	require.NoError(t, executor.ExecuteDue(ctx, job, time.Now().UTC()))

	stored, err := store.JobRepository().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Nil(t, stored.NextRunAt)
}

func TestExecutorDeleteAfterRunPurgesJob(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	job, err := service.Create(ctx, CreateJobRequest{
		Name:           "ephemeral",
		Prompt:         "one shot",
		Schedule:       everySchedule(60_000),
		DeleteAfterRun: true,
	})
	require.NoError(t, err)

	backend := &mocks.MockBackend{}
	backend.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(&runner.Result{Content: "ok"}, nil)

	executor := NewExecutor(slog.Default(), store, backend)
	require.NoError(t, executor.ExecuteDue(ctx, job, time.Now().UTC()))

	_, err = store.JobRepository().GetByID(ctx, job.ID)
	assert.ErrorIs(t, err, persistence.ErrJobNotFound)

	history, err := store.JobRunRepository().ListByJob(ctx, job.ID, persistence.ListJobRunsOptions{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestExportImportRoundTrip(t *testing.T) {
	source, sourceStore, _ := newTestService(t)
	ctx := context.Background()

	job, err := source.Create(ctx, CreateJobRequest{
		Name:     "portable",
		Prompt:   "p",
		Schedule: everySchedule(3600_000),
	})
	require.NoError(t, err)

	run := &models.JobRun{
		ID:        "jobrun-1",
		JobID:     job.ID,
		StartedAt: time.Now().UTC().Add(-time.Minute),
		Result:    models.JobRunSuccess,
		Output:    "earlier output",
	}
	require.NoError(t, sourceStore.JobRunRepository().Append(ctx, run))

	doc, err := source.Export(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Jobs, 1)
	require.Len(t, doc.Runs, 1)

	target, targetStore, _ := newTestService(t)

	summary, err := target.Import(ctx, doc, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Jobs)
	assert.Equal(t, 1, summary.Runs)

	imported, err := targetStore.JobRepository().GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, imported.ID)
	assert.Equal(t, job.CreatedAt.Unix(), imported.CreatedAt.Unix())

	history, err := targetStore.JobRunRepository().ListByJob(ctx, job.ID, persistence.ListJobRunsOptions{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "earlier output", history[0].Output)
}

func TestImportConflictWithoutOverwrite(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	job, err := service.Create(ctx, CreateJobRequest{
		Name:     "existing",
		Prompt:   "p",
		Schedule: everySchedule(3600_000),
	})
	require.NoError(t, err)

	doc := &ExportDocument{Jobs: []*models.Job{job}}

	_, err = service.Import(ctx, doc, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrImportConflict))

	summary, err := service.Import(ctx, doc, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Jobs)
}
