package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
	"github.com/kronion-io/kronion/pkg/schedule"
)

const maxConcurrentDispatch = 16

// JobExecutor runs one claimed job end to end: backend call, history
// record, counters and the job's next-run recomputation.
type JobExecutor interface {
	ExecuteDue(ctx context.Context, job *models.Job, firedAt time.Time) error
}

// RunEnqueuer creates a queued workflow run for a fired trigger.
type RunEnqueuer interface {
	EnqueueRun(ctx context.Context, trigger *models.Trigger, triggerContext map[string]any) (*models.WorkflowRun, error)
}

// Dispatcher claims everything due and processes each entity in
// isolation: one failing job or trigger never blocks the others.
type Dispatcher struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	executor    JobExecutor
	enqueuer    RunEnqueuer
	now         func() time.Time
}

func NewDispatcher(
	logger *slog.Logger,
	persistence persistence.Persistence,
	executor JobExecutor,
	enqueuer RunEnqueuer,
) *Dispatcher {
	return &Dispatcher{
		logger:      logger.With("module", "dispatcher"),
		persistence: persistence,
		executor:    executor,
		enqueuer:    enqueuer,
		now:         time.Now,
	}
}

// EarliestNextRun returns the earliest pending occurrence across jobs
// and triggers, feeding the timer loop.
func (d *Dispatcher) EarliestNextRun(ctx context.Context) (*time.Time, error) {
	jobNext, err := d.persistence.JobRepository().EarliestNextRun(ctx)
	if err != nil {
		return nil, err
	}

	triggerNext, err := d.persistence.TriggerRepository().EarliestNextRun(ctx)
	if err != nil {
		return nil, err
	}

	if jobNext == nil {
		return triggerNext, nil
	}

	if triggerNext == nil || jobNext.Before(*triggerNext) {
		return jobNext, nil
	}

	return triggerNext, nil
}

// Dispatch claims all due jobs and triggers and processes them
// concurrently. Claiming clears each entity's next-run time first, so
// overlapping dispatch cycles cannot double-fire the same entity.
func (d *Dispatcher) Dispatch(ctx context.Context) error {
	now := d.now().UTC()

	// Claiming clears next-run times, so anything claimed must still be
	// processed even when the other claim errors; bailing out here would
	// strand claimed entities with no pending occurrence.
	jobs, jobsErr := d.persistence.JobRepository().ClaimDue(ctx, now)
	if jobsErr != nil {
		d.logger.ErrorContext(ctx, "Failed to claim due jobs", "error", jobsErr)
	}

	triggers, triggersErr := d.persistence.TriggerRepository().ClaimDue(ctx, now)
	if triggersErr != nil {
		d.logger.ErrorContext(ctx, "Failed to claim due triggers", "error", triggersErr)
	}

	claimErr := errors.Join(jobsErr, triggersErr)

	if len(jobs) == 0 && len(triggers) == 0 {
		return claimErr
	}

	d.logger.InfoContext(ctx, "Dispatching due work",
		"jobs", len(jobs), "triggers", len(triggers))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentDispatch)

	for _, job := range jobs {
		group.Go(func() error {
			if err := d.executor.ExecuteDue(groupCtx, job, now); err != nil {
				d.logger.ErrorContext(groupCtx, "Job dispatch failed",
					"job_id", job.ID, "error", err)
			}

			return nil
		})
	}

	for _, trigger := range triggers {
		group.Go(func() error {
			if err := d.dispatchTrigger(groupCtx, trigger, now); err != nil {
				d.logger.ErrorContext(groupCtx, "Trigger dispatch failed",
					"trigger_id", trigger.ID, "error", err)
			}

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return errors.Join(claimErr, err)
	}

	return claimErr
}

// dispatchTrigger enqueues a run for a fired schedule trigger and
// recomputes its next occurrence strictly after the fire time, which
// guarantees forward progress even when dispatch lags the schedule.
func (d *Dispatcher) dispatchTrigger(ctx context.Context, trigger *models.Trigger, firedAt time.Time) error {
	repo := d.persistence.TriggerRepository()

	if trigger.MaxRunsReached() {
		trigger.Enabled = false
		trigger.UpdatedAt = firedAt

		d.logger.InfoContext(ctx, "Trigger exhausted max runs, disabling",
			"trigger_id", trigger.ID, "run_count", trigger.RunCount)

		return repo.Save(ctx, trigger)
	}

	_, err := d.enqueuer.EnqueueRun(ctx, trigger, map[string]any{
		"trigger_id":   trigger.ID,
		"workflow_id":  trigger.WorkflowID,
		"scheduled_at": firedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to enqueue run for trigger",
			"trigger_id", trigger.ID, "error", err)
	} else {
		trigger.RunCount++
	}

	if trigger.Schedule != nil && !trigger.MaxRunsReached() {
		if next, ok := schedule.Next(*trigger.Schedule, firedAt); ok {
			trigger.NextRunAt = &next
		}
	}

	trigger.UpdatedAt = firedAt

	return repo.Save(ctx, trigger)
}
