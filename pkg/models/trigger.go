package models

import "time"

// Trigger is a materialized trigger row derived from a published definition.
// The full set for a workflow is rebuilt (delete-then-reinsert) on every
// publish, so trigger state never drifts from the published version.
// NextRunAt is only populated for enabled schedule triggers.
type Trigger struct {
	ID              string         `json:"id"               validate:"required"`
	WorkflowID      string         `json:"workflow_id"      validate:"required"`
	WorkflowVersion int            `json:"workflow_version" validate:"gte=1"`
	Type            TriggerType    `json:"type"             validate:"required"`
	Schedule        *Schedule      `json:"schedule,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	Enabled         bool           `json:"enabled"`
	NextRunAt       *time.Time     `json:"next_run_at,omitempty"`
	// RunCount is a denormalized counter of runs enqueued for this trigger,
	// maintained under the dispatch claim so MaxRuns checks stay O(1).
	RunCount  int       `json:"run_count"`
	MaxRuns   *int      `json:"max_runs,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schedulable reports whether the trigger can still be picked up by the dispatcher.
func (t *Trigger) Schedulable() bool {
	return t.Enabled && t.Type == TriggerTypeSchedule && t.NextRunAt != nil
}

// MaxRunsReached reports whether the bounded run count is exhausted.
func (t *Trigger) MaxRunsReached() bool {
	return t.MaxRuns != nil && t.RunCount >= *t.MaxRuns
}

// WebhookToken returns the token a webhook trigger is addressed by.
func (t *Trigger) WebhookToken() string {
	if t.Type != TriggerTypeWebhook {
		return ""
	}

	token, _ := t.Config["token"].(string)

	return token
}
