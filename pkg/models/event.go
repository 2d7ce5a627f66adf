package models

import "time"

// RunEventType classifies entries in a run's audit log.
type RunEventType string

const (
	EventRunQueued    RunEventType = "run.queued"
	EventRunStarted   RunEventType = "run.started"
	EventRunCompleted RunEventType = "run.completed"
	EventRunFailed    RunEventType = "run.failed"
	EventRunPaused    RunEventType = "run.paused"
	EventRunResumed   RunEventType = "run.resumed"
	EventRunCancelled RunEventType = "run.cancelled"
	EventRunRecovered RunEventType = "run.recovered"

	EventNodeStarted   RunEventType = "node.started"
	EventNodeCompleted RunEventType = "node.completed"
	EventNodeFailed    RunEventType = "node.failed"
	EventNodeRetrying  RunEventType = "node.retrying"
	EventNodeSkipped   RunEventType = "node.skipped"
)

// RunEvent is one append-only entry in a run's audit trail, ordered by
// Timestamp ascending with Seq breaking equal-timestamp ties. Observers
// replay history incrementally via "events since timestamp".
type RunEvent struct {
	ID        string         `json:"id"     validate:"required"`
	RunID     string         `json:"run_id" validate:"required"`
	Seq       int64          `json:"seq"`
	Type      RunEventType   `json:"type"   validate:"required"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
