// Package persistence provides the data storage abstraction for schedules,
// workflows, runs and their audit trails. The store is the single source of
// truth for scheduling state; in-memory caches held by callers are advisory.
package persistence

import (
	"context"
	"time"

	"github.com/kronion-io/kronion/pkg/models"
)

// Persistence exposes the repositories backing the scheduling core.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	TriggerRepository() TriggerRepository
	RunRepository() RunRepository
	NodeRunRepository() NodeRunRepository
	EventRepository() EventRepository
	JobRepository() JobRepository
	JobRunRepository() JobRunRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores versioned workflow definitions keyed by (id, version).
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error)
	// GetDraft returns the single mutable draft version for the id, if any.
	GetDraft(ctx context.Context, id string) (*models.Workflow, error)
	// GetLatestPublished returns the highest published version for the id.
	GetLatestPublished(ctx context.Context, id string) (*models.Workflow, error)
	ListVersions(ctx context.Context, id string) ([]*models.Workflow, error)
	// ListLatest returns the newest version of every workflow id.
	ListLatest(ctx context.Context) ([]*models.Workflow, error)
	// Delete removes every version of the workflow id.
	Delete(ctx context.Context, id string) error
}

// TriggerRepository stores materialized trigger rows.
type TriggerRepository interface {
	Save(ctx context.Context, trigger *models.Trigger) error
	GetByID(ctx context.Context, id string) (*models.Trigger, error)
	GetByWebhookToken(ctx context.Context, token string) (*models.Trigger, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Trigger, error)
	// ListScheduled returns all enabled schedule triggers.
	ListScheduled(ctx context.Context) ([]*models.Trigger, error)
	// ReplaceForWorkflow atomically deletes all rows for the workflow id and
	// inserts the given set, keeping materialized state an exact image of the
	// currently published definition.
	ReplaceForWorkflow(ctx context.Context, workflowID string, triggers []*models.Trigger) error
	DeleteForWorkflow(ctx context.Context, workflowID string) error
	// EarliestNextRun returns min(next_run_at) over enabled schedule triggers,
	// or nil when none is pending.
	EarliestNextRun(ctx context.Context) (*time.Time, error)
	// ClaimDue atomically selects all enabled triggers with next_run_at <= now
	// and clears their next_run_at, so a concurrent claim cannot dispatch the
	// same trigger twice. The caller recomputes and persists the next time.
	ClaimDue(ctx context.Context, now time.Time) ([]*models.Trigger, error)
}

// ListRunsOptions filters and paginates workflow run listings.
type ListRunsOptions struct {
	WorkflowID string
	Status     *models.RunStatus
	Limit      int
	Offset     int
}

// RunRepository stores workflow runs.
type RunRepository interface {
	Save(ctx context.Context, run *models.WorkflowRun) error
	GetByID(ctx context.Context, id string) (*models.WorkflowRun, error)
	// List returns runs newest-first.
	List(ctx context.Context, opts ListRunsOptions) ([]*models.WorkflowRun, error)
	ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.WorkflowRun, error)
	// LastForWorkflow returns the most recently created run for the workflow, if any.
	LastForWorkflow(ctx context.Context, workflowID string) (*models.WorkflowRun, error)
}

// NodeRunRepository stores per-attempt node execution records.
type NodeRunRepository interface {
	Save(ctx context.Context, nodeRun *models.NodeRun) error
	// ListByRun returns the execution trace ordered by start time ascending.
	ListByRun(ctx context.Context, runID string) ([]*models.NodeRun, error)
}

// EventRepository stores the append-only run audit log.
type EventRepository interface {
	// Append persists the event and assigns its per-run sequence number.
	Append(ctx context.Context, event *models.RunEvent) error
	// ListSince returns events with timestamp strictly after since, ordered by
	// (timestamp, seq) ascending. A zero since returns the full history.
	ListSince(ctx context.Context, runID string, since time.Time) ([]*models.RunEvent, error)
}

// JobRepository stores scheduled jobs.
type JobRepository interface {
	Save(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context) ([]*models.Job, error)
	Delete(ctx context.Context, id string) error
	// EarliestNextRun returns min(next_run_at) over active jobs, or nil.
	EarliestNextRun(ctx context.Context) (*time.Time, error)
	// ClaimDue atomically selects all active jobs with next_run_at <= now and
	// clears their next_run_at (claim-before-dispatch).
	ClaimDue(ctx context.Context, now time.Time) ([]*models.Job, error)
}

// ListJobRunsOptions filters and paginates job run history.
type ListJobRunsOptions struct {
	Result *models.JobRunResult
	Limit  int
	Offset int
	// OldestFirst reverses the default newest-first ordering.
	OldestFirst bool
}

// JobRunRepository stores append-only job run history.
type JobRunRepository interface {
	Append(ctx context.Context, run *models.JobRun) error
	ListByJob(ctx context.Context, jobID string, opts ListJobRunsOptions) ([]*models.JobRun, error)
	// ListAll returns every run record, used for export.
	ListAll(ctx context.Context) ([]*models.JobRun, error)
	DeleteByJob(ctx context.Context, jobID string) error
}
