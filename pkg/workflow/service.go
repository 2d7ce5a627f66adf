package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
	"github.com/kronion-io/kronion/pkg/schedule"
	"github.com/kronion-io/kronion/pkg/services"
)

// RunService owns run lifecycle operations and the worker pool that
// drains queued runs through the engine.
type RunService struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *Engine
	now         func() time.Time

	claimMu sync.Mutex
	notify  chan struct{}
	wg      sync.WaitGroup
}

func NewRunService(logger *slog.Logger, p persistence.Persistence, engine *Engine) *RunService {
	return &RunService{
		logger:      logger.With("module", "workflow_runs"),
		persistence: p,
		engine:      engine,
		now:         time.Now,
		notify:      make(chan struct{}, 1),
	}
}

// EnqueueRun implements scheduler.RunEnqueuer: it creates a queued run
// for a fired trigger, pinned to the trigger's workflow version.
func (s *RunService) EnqueueRun(ctx context.Context, trigger *models.Trigger, triggerContext map[string]any) (*models.WorkflowRun, error) {
	return s.enqueue(ctx, trigger.WorkflowID, trigger.WorkflowVersion, trigger.Type, triggerContext, nil)
}

// RunManual starts a run of the latest published version.
func (s *RunService) RunManual(ctx context.Context, workflowID string, input map[string]any) (*models.WorkflowRun, error) {
	published, err := s.latestPublished(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return s.enqueue(ctx, published.ID, published.Version, models.TriggerTypeManual,
		map[string]any{"triggered_at": s.now().UTC().Format(time.RFC3339Nano)}, input)
}

// TriggerWebhook fires the webhook trigger addressed by the token.
func (s *RunService) TriggerWebhook(ctx context.Context, token string, payload map[string]any) (*models.WorkflowRun, error) {
	trigger, err := s.persistence.TriggerRepository().GetByWebhookToken(ctx, token)
	if err != nil {
		if errors.Is(err, persistence.ErrTriggerNotFound) {
			return nil, services.NewNotFoundError("TriggerWebhook", "TRIGGER_NOT_FOUND",
				"no webhook trigger for token", services.ErrTriggerNotFound)
		}

		return nil, err
	}

	return s.FireTrigger(ctx, trigger, payload)
}

// FireTrigger runs the bounded-count and enabled checks shared by
// every externally fired trigger, then enqueues the run.
func (s *RunService) FireTrigger(ctx context.Context, trigger *models.Trigger, payload map[string]any) (*models.WorkflowRun, error) {
	if !trigger.Enabled {
		return nil, services.NewNotFoundError("FireTrigger", "TRIGGER_DISABLED",
			"trigger "+trigger.ID+" is disabled", services.ErrTriggerNotFound)
	}

	if trigger.MaxRunsReached() {
		return nil, &services.ServiceError{
			Op: "FireTrigger", Code: "TRIGGER_EXHAUSTED",
			Message: "trigger " + trigger.ID + " reached its max runs",
			Err:     services.ErrTriggerNotFound,
		}
	}

	triggerContext := map[string]any{
		"trigger_id":  trigger.ID,
		"workflow_id": trigger.WorkflowID,
	}
	for key, value := range payload {
		triggerContext[key] = value
	}

	run, err := s.enqueue(ctx, trigger.WorkflowID, trigger.WorkflowVersion, trigger.Type, triggerContext, nil)
	if err != nil {
		return nil, err
	}

	trigger.RunCount++
	trigger.UpdatedAt = s.now().UTC()

	if err := s.persistence.TriggerRepository().Save(ctx, trigger); err != nil {
		s.logger.ErrorContext(ctx, "Failed to update trigger run count",
			"trigger_id", trigger.ID, "error", err)
	}

	return run, nil
}

// Backfill enqueues one run per schedule occurrence inside [from, to],
// each marked with the occurrence it stands in for.
func (s *RunService) Backfill(ctx context.Context, triggerID string, from, to time.Time) ([]*models.WorkflowRun, error) {
	trigger, err := s.persistence.TriggerRepository().GetByID(ctx, triggerID)
	if err != nil {
		if errors.Is(err, persistence.ErrTriggerNotFound) {
			return nil, services.NewNotFoundError("Backfill", "TRIGGER_NOT_FOUND",
				"trigger "+triggerID+" not found", services.ErrTriggerNotFound)
		}

		return nil, err
	}

	if trigger.Type != models.TriggerTypeSchedule || trigger.Schedule == nil {
		return nil, services.NewValidationError("Backfill", "NOT_A_SCHEDULE",
			"trigger "+triggerID+" has no schedule to backfill", services.ErrInvalidRequest)
	}

	occurrences := schedule.Between(*trigger.Schedule, from, to)
	runs := make([]*models.WorkflowRun, 0, len(occurrences))

	for _, occurrence := range occurrences {
		run, err := s.enqueue(ctx, trigger.WorkflowID, trigger.WorkflowVersion, trigger.Type, map[string]any{
			"trigger_id":   trigger.ID,
			"workflow_id":  trigger.WorkflowID,
			"scheduled_at": occurrence.Format(time.RFC3339Nano),
			"backfill":     true,
		}, nil)
		if err != nil {
			return runs, err
		}

		runs = append(runs, run)
	}

	s.logger.InfoContext(ctx, "Backfill enqueued",
		"trigger_id", triggerID, "runs", len(runs))

	return runs, nil
}

func (s *RunService) enqueue(
	ctx context.Context,
	workflowID string,
	version int,
	triggerType models.TriggerType,
	triggerContext map[string]any,
	input map[string]any,
) (*models.WorkflowRun, error) {
	run := &models.WorkflowRun{
		ID:              "run-" + uuid.New().String(),
		WorkflowID:      workflowID,
		WorkflowVersion: version,
		TriggerType:     triggerType,
		TriggerContext:  triggerContext,
		Input:           input,
		Status:          models.RunStatusQueued,
		CreatedAt:       s.now().UTC(),
	}

	if err := s.persistence.RunRepository().Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	s.appendEvent(ctx, run.ID, models.EventRunQueued, map[string]any{
		"workflow_id": workflowID, "workflow_version": version, "trigger_type": triggerType,
	})
	s.wake()

	return run, nil
}

// Get returns one run.
func (s *RunService) Get(ctx context.Context, id string) (*models.WorkflowRun, error) {
	run, err := s.persistence.RunRepository().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrRunNotFound) {
			return nil, services.NewNotFoundError("GetRun", "RUN_NOT_FOUND",
				"run "+id+" not found", services.ErrRunNotFound)
		}

		return nil, err
	}

	return run, nil
}

// List returns runs newest first.
func (s *RunService) List(ctx context.Context, opts persistence.ListRunsOptions) ([]*models.WorkflowRun, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, services.NewValidationError("ListRuns", "INVALID_PAGINATION",
			"limit and offset must not be negative", services.ErrInvalidPagination)
	}

	return s.persistence.RunRepository().List(ctx, opts)
}

// Events returns the run's audit log after since, oldest first.
func (s *RunService) Events(ctx context.Context, id string, since time.Time) ([]*models.RunEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	return s.persistence.EventRepository().ListSince(ctx, id, since)
}

// Trace returns the run's node attempts, oldest first.
func (s *RunService) Trace(ctx context.Context, id string) ([]*models.NodeRun, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	return s.persistence.NodeRunRepository().ListByRun(ctx, id)
}

// Cancel stops a run. A queued or paused run is cancelled directly; a
// running run is interrupted through its engine control.
func (s *RunService) Cancel(ctx context.Context, id string) (*models.WorkflowRun, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if run.Status.Terminal() {
		return nil, &services.ServiceError{
			Op: "CancelRun", Code: "RUN_TERMINAL",
			Message: "run " + id + " is already " + string(run.Status),
			Err:     services.ErrRunAlreadyTerminal,
		}
	}

	if run.Status == models.RunStatusRunning && s.engine.Cancel(id) {
		// The engine settles the run state itself.
		return run, nil
	}

	now := s.now().UTC()
	run.Status = models.RunStatusCancelled
	run.CompletedAt = &now

	if err := s.persistence.RunRepository().Save(ctx, run); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, run.ID, models.EventRunCancelled, nil)

	return run, nil
}

// Pause requests a pause. Queued runs pause immediately; running runs
// pause at the next node boundary.
func (s *RunService) Pause(ctx context.Context, id string) (*models.WorkflowRun, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case models.RunStatusQueued:
		run.Status = models.RunStatusPaused

		if err := s.persistence.RunRepository().Save(ctx, run); err != nil {
			return nil, err
		}

		s.appendEvent(ctx, run.ID, models.EventRunPaused, map[string]any{"reason": "requested"})

		return run, nil
	case models.RunStatusRunning:
		if s.engine.RequestPause(id) {
			return run, nil
		}

		return nil, &services.ServiceError{
			Op: "PauseRun", Code: "RUN_NOT_PAUSABLE",
			Message: "run " + id + " is executing in another process",
			Err:     services.ErrRunNotPausable,
		}
	default:
		return nil, &services.ServiceError{
			Op: "PauseRun", Code: "RUN_NOT_PAUSABLE",
			Message: "run " + id + " cannot be paused while " + string(run.Status),
			Err:     services.ErrRunNotPausable,
		}
	}
}

// Resume re-queues a paused or crash-interrupted run, merging in any
// approvals granted while it waited.
func (s *RunService) Resume(ctx context.Context, id string, approvals map[string]bool) (*models.WorkflowRun, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if run.Status != models.RunStatusPaused && run.Status != models.RunStatusFailedRecoverable {
		return nil, &services.ServiceError{
			Op: "ResumeRun", Code: "RUN_NOT_RESUMABLE",
			Message: "run " + id + " cannot be resumed while " + string(run.Status),
			Err:     services.ErrRunNotResumable,
		}
	}

	if len(approvals) > 0 {
		if run.Approvals == nil {
			run.Approvals = make(map[string]bool, len(approvals))
		}

		for nodeID, approved := range approvals {
			run.Approvals[nodeID] = approved
		}
	}

	run.Status = models.RunStatusQueued
	run.Error = nil

	if err := s.persistence.RunRepository().Save(ctx, run); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, run.ID, models.EventRunResumed, map[string]any{"approvals": approvals})
	s.wake()

	return run, nil
}

// ScheduledSummary pairs a schedule trigger with its run bookkeeping
// for the scheduled-workflows listing.
type ScheduledSummary struct {
	Trigger   *models.Trigger     `json:"trigger"`
	NextRunAt *time.Time          `json:"next_run_at,omitempty"`
	LastRun   *models.WorkflowRun `json:"last_run,omitempty"`
}

// ListScheduled summarizes every enabled schedule trigger with its
// next occurrence and the workflow's most recent run.
func (s *RunService) ListScheduled(ctx context.Context) ([]*ScheduledSummary, error) {
	triggers, err := s.persistence.TriggerRepository().ListScheduled(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]*ScheduledSummary, 0, len(triggers))

	for _, trigger := range triggers {
		summary := &ScheduledSummary{Trigger: trigger, NextRunAt: trigger.NextRunAt}

		lastRun, err := s.persistence.RunRepository().LastForWorkflow(ctx, trigger.WorkflowID)
		if err == nil {
			summary.LastRun = lastRun
		} else if !errors.Is(err, persistence.ErrRunNotFound) {
			return nil, err
		}

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

func (s *RunService) latestPublished(ctx context.Context, workflowID string) (*models.Workflow, error) {
	published, err := s.persistence.WorkflowRepository().GetLatestPublished(ctx, workflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrPublishedNotFound) || errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, &services.ServiceError{
				Op: "RunManual", Code: "NOT_PUBLISHED",
				Message: "workflow " + workflowID + " has no published version",
				Err:     services.ErrNotPublished,
			}
		}

		return nil, err
	}

	return published, nil
}

func (s *RunService) appendEvent(ctx context.Context, runID string, eventType models.RunEventType, payload map[string]any) {
	event := &models.RunEvent{
		ID:        "evt-" + uuid.New().String(),
		RunID:     runID,
		Type:      eventType,
		Timestamp: s.now().UTC(),
		Payload:   payload,
	}

	if err := s.persistence.EventRepository().Append(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to append run event",
			"run_id", runID, "event_type", eventType, "error", err)

		return
	}

	if s.engine != nil && s.engine.bus != nil {
		if err := s.engine.bus.Publish(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish run event",
				"run_id", runID, "event_type", eventType, "error", err)
		}
	}
}

func (s *RunService) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// StartWorkers launches the pool that drains queued runs. It returns
// immediately; Wait blocks until all workers exit.
func (s *RunService) StartWorkers(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		s.wg.Add(1)

		go func(worker int) {
			defer s.wg.Done()
			s.workerLoop(ctx, worker)
		}(i)
	}
}

// Wait blocks until the worker pool has drained after context
// cancellation.
func (s *RunService) Wait() {
	s.wg.Wait()
}

func (s *RunService) workerLoop(ctx context.Context, worker int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		case <-ticker.C:
		}

		for {
			run, ok := s.claimQueued(ctx)
			if !ok {
				break
			}

			if err := s.engine.Run(ctx, run); err != nil {
				s.logger.ErrorContext(ctx, "Engine error",
					"worker", worker, "run_id", run.ID, "error", err)
			}

			if ctx.Err() != nil {
				return
			}
		}
	}
}

// claimQueued picks the oldest queued run and marks it running so no
// sibling worker picks it up again.
func (s *RunService) claimQueued(ctx context.Context) (*models.WorkflowRun, bool) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	queued, err := s.persistence.RunRepository().ListByStatus(ctx, models.RunStatusQueued)
	if err != nil || len(queued) == 0 {
		return nil, false
	}

	oldest := queued[0]
	for _, run := range queued[1:] {
		if run.CreatedAt.Before(oldest.CreatedAt) {
			oldest = run
		}
	}

	oldest.Status = models.RunStatusRunning

	if err := s.persistence.RunRepository().Save(ctx, oldest); err != nil {
		s.logger.ErrorContext(ctx, "Failed to claim queued run",
			"run_id", oldest.ID, "error", err)

		return nil, false
	}

	return oldest, true
}
