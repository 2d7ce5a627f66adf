package models

import "time"

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusFailedRecoverable marks a run interrupted by a process crash.
	// It is surfaced distinctly from RunStatusFailed so operators can offer
	// an explicit resume instead of confusing it with a decided failure.
	RunStatusFailedRecoverable RunStatus = "failed_recoverable"
	RunStatusCancelled         RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
// failed_recoverable is not terminal: resume may re-queue the run.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// WorkflowRun is one execution of a workflow, pinned to the exact version
// that was published when it was queued.
type WorkflowRun struct {
	ID              string         `json:"id"               validate:"required"`
	WorkflowID      string         `json:"workflow_id"      validate:"required"`
	WorkflowVersion int            `json:"workflow_version" validate:"gte=1"`
	TriggerType     TriggerType    `json:"trigger_type"`
	TriggerContext  map[string]any `json:"trigger_context,omitempty"`
	Input           map[string]any `json:"input,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	Status          RunStatus      `json:"status"`
	// CurrentNodeID is the checkpoint a paused or failed run resumes from.
	CurrentNodeID *string `json:"current_node_id,omitempty"`
	// Approvals unblocks nodes that require external sign-off, keyed by node id.
	Approvals   map[string]bool `json:"approvals,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NodeRunStatus represents the state of a single node attempt.
type NodeRunStatus string

const (
	NodeRunStatusRunning   NodeRunStatus = "running"
	NodeRunStatusCompleted NodeRunStatus = "completed"
	NodeRunStatusFailed    NodeRunStatus = "failed"
	NodeRunStatusSkipped   NodeRunStatus = "skipped"
)

// NodeRun records one attempt at executing one node. The full set per run
// forms the execution trace.
type NodeRun struct {
	ID          string         `json:"id"      validate:"required"`
	RunID       string         `json:"run_id"  validate:"required"`
	NodeID      string         `json:"node_id" validate:"required"`
	Attempt     int            `json:"attempt" validate:"gte=1"`
	Status      NodeRunStatus  `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       *string        `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
