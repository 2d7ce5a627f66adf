package models

import "time"

// JobStatus represents the lifecycle state of a scheduled job.
type JobStatus string

const (
	JobStatusActive    JobStatus = "active"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobRunResult is the terminal outcome of a single job execution.
type JobRunResult string

const (
	JobRunSuccess JobRunResult = "success"
	JobRunError   JobRunResult = "error"
)

// Job binds one prompt to one schedule with a bounded run count.
// NextRunAt is materialized so the timer loop can query min(next_run_at)
// without re-evaluating every schedule.
type Job struct {
	ID             string        `json:"id"                        validate:"required"`
	Name           string        `json:"name"                      validate:"required,min=1"`
	Prompt         string        `json:"prompt"                    validate:"required"`
	Schedule       Schedule      `json:"schedule"                  validate:"required"`
	WorkingDir     string        `json:"working_dir,omitempty"`
	Model          string        `json:"model,omitempty"`
	SessionID      string        `json:"session_id,omitempty"`
	Status         JobStatus     `json:"status"`
	NextRunAt      *time.Time    `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time    `json:"last_run_at,omitempty"`
	LastStatus     *JobRunResult `json:"last_status,omitempty"`
	LastError      *string       `json:"last_error,omitempty"`
	LastDurationMS *int64        `json:"last_duration_ms,omitempty"`
	RunCount       int           `json:"run_count"`
	MaxRuns        *int          `json:"max_runs,omitempty"`
	DeleteAfterRun bool          `json:"delete_after_run,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Schedulable reports whether the job can still be picked up by the dispatcher.
func (j *Job) Schedulable() bool {
	return j.Status == JobStatusActive && j.NextRunAt != nil
}

// MaxRunsReached reports whether the bounded run count is exhausted.
func (j *Job) MaxRunsReached() bool {
	return j.MaxRuns != nil && j.RunCount >= *j.MaxRuns
}

// EffectiveStartAt resolves the interval grid origin for every-schedules,
// defaulting to the job's creation time.
func (j *Job) EffectiveStartAt() time.Time {
	if j.Schedule.Kind == ScheduleKindEvery && j.Schedule.Every.StartAt != nil {
		return *j.Schedule.Every.StartAt
	}

	return j.CreatedAt
}

// JobRun is an append-only history record for one job execution.
// Rows are never mutated after completion is recorded.
type JobRun struct {
	ID               string       `json:"id"         validate:"required"`
	JobID            string       `json:"job_id"     validate:"required"`
	StartedAt        time.Time    `json:"started_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	Result           JobRunResult `json:"result"`
	Output           string       `json:"output,omitempty"`
	Error            *string      `json:"error,omitempty"`
	DurationMS       int64        `json:"duration_ms"`
	PromptTokens     int          `json:"prompt_tokens,omitempty"`
	CompletionTokens int          `json:"completion_tokens,omitempty"`
}
