package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
	"github.com/kronion-io/kronion/pkg/runner"
)

// Executor runs one claimed job: backend call, history record, counter
// updates and the terminal or next-run transition.
type Executor struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	backend     runner.Backend
	now         func() time.Time
}

func NewExecutor(logger *slog.Logger, p persistence.Persistence, backend runner.Backend) *Executor {
	return &Executor{
		logger:      logger.With("module", "job_executor"),
		persistence: p,
		backend:     backend,
		now:         time.Now,
	}
}

// ExecuteDue implements scheduler.JobExecutor. The job arrives already
// claimed; whatever happens here, the job row is left in a consistent
// state with its history appended.
func (e *Executor) ExecuteDue(ctx context.Context, job *models.Job, firedAt time.Time) error {
	startedAt := e.now().UTC()

	e.logger.InfoContext(ctx, "Executing job",
		"job_id", job.ID, "run_count", job.RunCount, "fired_at", firedAt)

	result, execErr := e.backend.Execute(ctx, job.Prompt, runner.Options{
		WorkingDir: job.WorkingDir,
		Model:      job.Model,
		SessionID:  job.SessionID,
	})

	completedAt := e.now().UTC()
	durationMS := completedAt.Sub(startedAt).Milliseconds()

	run := &models.JobRun{
		ID:          "jobrun-" + uuid.New().String(),
		JobID:       job.ID,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
		DurationMS:  durationMS,
	}

	if execErr != nil {
		message := execErr.Error()
		run.Result = models.JobRunError
		run.Error = &message
	} else {
		run.Result = models.JobRunSuccess
		run.Output = result.Content
		run.PromptTokens = result.PromptTokens
		run.CompletionTokens = result.CompletionTokens
	}

	if err := e.persistence.JobRunRepository().Append(ctx, run); err != nil {
		e.logger.ErrorContext(ctx, "Failed to record job run",
			"job_id", job.ID, "error", err)
	}

	job.RunCount++
	job.LastRunAt = &startedAt
	job.LastStatus = &run.Result
	job.LastError = run.Error
	job.LastDurationMS = &durationMS
	job.UpdatedAt = completedAt

	// A failed run keeps the job around for inspection; only a
	// successful one triggers the purge.
	if job.DeleteAfterRun && execErr == nil {
		if err := e.persistence.JobRepository().Delete(ctx, job.ID); err != nil {
			return err
		}

		if err := e.persistence.JobRunRepository().DeleteByJob(ctx, job.ID); err != nil {
			return err
		}

		e.logger.InfoContext(ctx, "Job purged after run", "job_id", job.ID)

		return nil
	}

	// The terminal status reflects the final run's outcome.
	terminal := models.JobStatusCompleted
	if execErr != nil {
		terminal = models.JobStatusFailed
	}

	switch {
	case !job.Schedule.IsRecurring():
		job.Status = terminal
		job.NextRunAt = nil
	case job.MaxRunsReached():
		job.Status = terminal
		job.NextRunAt = nil

		e.logger.InfoContext(ctx, "Job reached max runs",
			"job_id", job.ID, "run_count", job.RunCount, "status", terminal)
	default:
		// Recompute from completion time, not the fired time, so a slow
		// execution never schedules an occurrence already in the past.
		job.NextRunAt = ResolveNextRunAt(job, completedAt)
	}

	if err := e.persistence.JobRepository().Save(ctx, job); err != nil {
		return err
	}

	return execErr
}
