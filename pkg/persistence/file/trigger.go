package file

import (
	"context"
	"time"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
)

const triggersDir = "triggers"

// TriggerRepository stores one JSON document per materialized trigger row.
type TriggerRepository struct {
	p *Persistence
}

// Save persists a trigger row.
func (r *TriggerRepository) Save(ctx context.Context, trigger *models.Trigger) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.writeDoc(triggersDir, trigger.ID, trigger)
}

// GetByID retrieves a trigger row.
func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var trigger models.Trigger

	err := r.p.readDoc(triggersDir, id, &trigger)
	if err != nil {
		if notExist(err) {
			return nil, persistence.ErrTriggerNotFound
		}

		return nil, err
	}

	return &trigger, nil
}

// GetByWebhookToken finds the webhook trigger addressed by the token.
func (r *TriggerRepository) GetByWebhookToken(ctx context.Context, token string) (*models.Trigger, error) {
	triggers, err := r.all()
	if err != nil {
		return nil, err
	}

	for _, t := range triggers {
		if t.Type == models.TriggerTypeWebhook && t.WebhookToken() == token {
			return t, nil
		}
	}

	return nil, persistence.ErrTriggerNotFound
}

// ListByWorkflow returns all trigger rows for the workflow id.
func (r *TriggerRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Trigger, error) {
	triggers, err := r.all()
	if err != nil {
		return nil, err
	}

	out := make([]*models.Trigger, 0)

	for _, t := range triggers {
		if t.WorkflowID == workflowID {
			out = append(out, t)
		}
	}

	return out, nil
}

// ListScheduled returns all enabled schedule triggers.
func (r *TriggerRepository) ListScheduled(ctx context.Context) ([]*models.Trigger, error) {
	triggers, err := r.all()
	if err != nil {
		return nil, err
	}

	out := make([]*models.Trigger, 0)

	for _, t := range triggers {
		if t.Enabled && t.Type == models.TriggerTypeSchedule {
			out = append(out, t)
		}
	}

	return out, nil
}

// ReplaceForWorkflow rebuilds the trigger set for the workflow in one locked step.
func (r *TriggerRepository) ReplaceForWorkflow(ctx context.Context, workflowID string, triggers []*models.Trigger) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if err := r.deleteForWorkflowLocked(workflowID); err != nil {
		return err
	}

	for _, t := range triggers {
		if err := r.p.writeDoc(triggersDir, t.ID, t); err != nil {
			return err
		}
	}

	return nil
}

// DeleteForWorkflow removes all trigger rows for the workflow id.
func (r *TriggerRepository) DeleteForWorkflow(ctx context.Context, workflowID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.deleteForWorkflowLocked(workflowID)
}

func (r *TriggerRepository) deleteForWorkflowLocked(workflowID string) error {
	names, err := r.p.listDocs(triggersDir)
	if err != nil {
		return err
	}

	for _, name := range names {
		var trigger models.Trigger
		if err := r.p.readDoc(triggersDir, name, &trigger); err != nil {
			return err
		}

		if trigger.WorkflowID == workflowID {
			if err := r.p.removeDoc(triggersDir, name); err != nil {
				return err
			}
		}
	}

	return nil
}

// EarliestNextRun returns min(next_run_at) over enabled schedule triggers.
func (r *TriggerRepository) EarliestNextRun(ctx context.Context) (*time.Time, error) {
	triggers, err := r.ListScheduled(ctx)
	if err != nil {
		return nil, err
	}

	var earliest *time.Time

	for _, t := range triggers {
		if t.NextRunAt == nil {
			continue
		}

		if earliest == nil || t.NextRunAt.Before(*earliest) {
			next := *t.NextRunAt
			earliest = &next
		}
	}

	return earliest, nil
}

// ClaimDue consumes the due state of every enabled schedule trigger whose
// next_run_at has passed, all under one lock so the same trigger can never be
// dispatched twice concurrently.
func (r *TriggerRepository) ClaimDue(ctx context.Context, now time.Time) ([]*models.Trigger, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	names, err := r.p.listDocs(triggersDir)
	if err != nil {
		return nil, err
	}

	claimed := make([]*models.Trigger, 0)

	for _, name := range names {
		var trigger models.Trigger
		if err := r.p.readDoc(triggersDir, name, &trigger); err != nil {
			return nil, err
		}

		if !trigger.Schedulable() || trigger.NextRunAt.After(now) {
			continue
		}

		trigger.NextRunAt = nil
		trigger.UpdatedAt = now

		if err := r.p.writeDoc(triggersDir, trigger.ID, &trigger); err != nil {
			return nil, err
		}

		t := trigger
		claimed = append(claimed, &t)
	}

	return claimed, nil
}

func (r *TriggerRepository) all() ([]*models.Trigger, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	names, err := r.p.listDocs(triggersDir)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Trigger, 0, len(names))

	for _, name := range names {
		var trigger models.Trigger
		if err := r.p.readDoc(triggersDir, name, &trigger); err != nil {
			return nil, err
		}

		t := trigger
		out = append(out, &t)
	}

	return out, nil
}
