package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
)

// TriggerRepository handles materialized trigger rows.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Save upserts a trigger row.
func (r *TriggerRepository) Save(ctx context.Context, trigger *models.Trigger) error {
	return saveTrigger(ctx, r.db, trigger)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveTrigger(ctx context.Context, db execer, trigger *models.Trigger) error {
	body, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger %s: %w", trigger.ID, err)
	}

	var token sql.NullString
	if t := trigger.WebhookToken(); t != "" {
		token = sql.NullString{String: t, Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO triggers (id, workflow_id, type, enabled, next_run_at, webhook_token, body, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET workflow_id = EXCLUDED.workflow_id,
		    type = EXCLUDED.type,
		    enabled = EXCLUDED.enabled,
		    next_run_at = EXCLUDED.next_run_at,
		    webhook_token = EXCLUDED.webhook_token,
		    body = EXCLUDED.body,
		    updated_at = EXCLUDED.updated_at
	`, trigger.ID, trigger.WorkflowID, trigger.Type, trigger.Enabled,
		nullTime(trigger.NextRunAt), token, body, trigger.UpdatedAt)
	if err != nil {
		return &persistence.StoreError{Op: "Save", Entity: "trigger", ID: trigger.ID, Err: err}
	}

	return nil
}

// GetByID retrieves a trigger row.
func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	row := r.db.QueryRowContext(ctx, `SELECT body FROM triggers WHERE id = $1`, id)

	return scanTrigger(row)
}

// GetByWebhookToken finds the webhook trigger addressed by the token.
func (r *TriggerRepository) GetByWebhookToken(ctx context.Context, token string) (*models.Trigger, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT body FROM triggers WHERE webhook_token = $1`, token)

	return scanTrigger(row)
}

// ListByWorkflow returns all trigger rows for the workflow id.
func (r *TriggerRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Trigger, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM triggers WHERE workflow_id = $1 ORDER BY id`, workflowID)
	if err != nil {
		return nil, &persistence.StoreError{Op: "ListByWorkflow", Entity: "trigger", ID: workflowID, Err: err}
	}

	return collectTriggers(ctx, r.logger, rows)
}

// ListScheduled returns all enabled schedule triggers.
func (r *TriggerRepository) ListScheduled(ctx context.Context) ([]*models.Trigger, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM triggers WHERE enabled AND type = $1`, models.TriggerTypeSchedule)
	if err != nil {
		return nil, &persistence.StoreError{Op: "ListScheduled", Entity: "trigger", Err: err}
	}

	return collectTriggers(ctx, r.logger, rows)
}

// ReplaceForWorkflow rebuilds the trigger set for the workflow in one transaction.
func (r *TriggerRepository) ReplaceForWorkflow(ctx context.Context, workflowID string, triggers []*models.Trigger) error {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin trigger rebuild: %w", err)
	}

	if _, err := transaction.ExecContext(ctx,
		`DELETE FROM triggers WHERE workflow_id = $1`, workflowID); err != nil {
		_ = transaction.Rollback()

		return &persistence.StoreError{Op: "ReplaceForWorkflow", Entity: "trigger", ID: workflowID, Err: err}
	}

	for _, trigger := range triggers {
		if err := saveTrigger(ctx, transaction, trigger); err != nil {
			_ = transaction.Rollback()

			return err
		}
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit trigger rebuild: %w", err)
	}

	return nil
}

// DeleteForWorkflow removes all trigger rows for the workflow id.
func (r *TriggerRepository) DeleteForWorkflow(ctx context.Context, workflowID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM triggers WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return &persistence.StoreError{Op: "DeleteForWorkflow", Entity: "trigger", ID: workflowID, Err: err}
	}

	return nil
}

// EarliestNextRun returns min(next_run_at) over enabled schedule triggers.
func (r *TriggerRepository) EarliestNextRun(ctx context.Context) (*time.Time, error) {
	var next sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT MIN(next_run_at) FROM triggers
		WHERE enabled AND next_run_at IS NOT NULL
	`).Scan(&next)
	if err != nil {
		return nil, &persistence.StoreError{Op: "EarliestNextRun", Entity: "trigger", Err: err}
	}

	if !next.Valid {
		return nil, nil
	}

	t := next.Time.UTC()

	return &t, nil
}

// ClaimDue consumes the due state of every due trigger under row locks.
// SKIP LOCKED keeps two concurrent dispatchers from double-claiming a row.
func (r *TriggerRepository) ClaimDue(ctx context.Context, now time.Time) ([]*models.Trigger, error) {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}

	rows, err := transaction.QueryContext(ctx, `
		SELECT body FROM triggers
		WHERE enabled AND type = $1 AND next_run_at IS NOT NULL AND next_run_at <= $2
		FOR UPDATE SKIP LOCKED
	`, models.TriggerTypeSchedule, now)
	if err != nil {
		_ = transaction.Rollback()

		return nil, &persistence.StoreError{Op: "ClaimDue", Entity: "trigger", Err: err}
	}

	claimed, err := collectTriggers(ctx, r.logger, rows)
	if err != nil {
		_ = transaction.Rollback()

		return nil, err
	}

	for _, trigger := range claimed {
		trigger.NextRunAt = nil
		trigger.UpdatedAt = now

		if err := saveTrigger(ctx, transaction, trigger); err != nil {
			_ = transaction.Rollback()

			return nil, err
		}
	}

	if err := transaction.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return claimed, nil
}

func scanTrigger(row *sql.Row) (*models.Trigger, error) {
	var body []byte

	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTriggerNotFound
		}

		return nil, fmt.Errorf("failed to scan trigger: %w", err)
	}

	var trigger models.Trigger
	if err := json.Unmarshal(body, &trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}

	return &trigger, nil
}

func collectTriggers(ctx context.Context, logger *slog.Logger, rows *sql.Rows) ([]*models.Trigger, error) {
	defer closeRows(ctx, logger, rows)

	triggers := make([]*models.Trigger, 0)

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		var trigger models.Trigger
		if err := json.Unmarshal(body, &trigger); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
		}

		triggers = append(triggers, &trigger)
	}

	return triggers, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}
