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

// RunRepository handles workflow run rows.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Save upserts a run.
func (r *RunRepository) Save(ctx context.Context, run *models.WorkflowRun) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, status, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, body = EXCLUDED.body
	`, run.ID, run.WorkflowID, run.Status, body, run.CreatedAt)
	if err != nil {
		return &persistence.StoreError{Op: "Save", Entity: "run", ID: run.ID, Err: err}
	}

	return nil
}

// GetByID retrieves a run.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	var body []byte

	err := r.db.QueryRowContext(ctx, `SELECT body FROM runs WHERE id = $1`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return unmarshalRun(body)
}

// List returns runs newest-first with optional filtering and pagination.
func (r *RunRepository) List(ctx context.Context, opts persistence.ListRunsOptions) ([]*models.WorkflowRun, error) {
	query := `SELECT body FROM runs WHERE 1=1`
	args := make([]any, 0, 4)

	if opts.WorkflowID != "" {
		args = append(args, opts.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &persistence.StoreError{Op: "List", Entity: "run", Err: err}
	}

	return collectRuns(ctx, r.logger, rows)
}

// ListByStatus returns all runs in the given status.
func (r *RunRepository) ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.WorkflowRun, error) {
	return r.List(ctx, persistence.ListRunsOptions{Status: &status})
}

// LastForWorkflow returns the most recently created run for the workflow.
func (r *RunRepository) LastForWorkflow(ctx context.Context, workflowID string) (*models.WorkflowRun, error) {
	runs, err := r.List(ctx, persistence.ListRunsOptions{WorkflowID: workflowID, Limit: 1})
	if err != nil {
		return nil, err
	}

	if len(runs) == 0 {
		return nil, persistence.ErrRunNotFound
	}

	return runs[0], nil
}

func unmarshalRun(body []byte) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	return &run, nil
}

func collectRuns(ctx context.Context, logger *slog.Logger, rows *sql.Rows) ([]*models.WorkflowRun, error) {
	defer closeRows(ctx, logger, rows)

	runs := make([]*models.WorkflowRun, 0)

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run, err := unmarshalRun(body)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// NodeRunRepository handles node attempt rows.
type NodeRunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Save upserts one node attempt.
func (r *NodeRunRepository) Save(ctx context.Context, nodeRun *models.NodeRun) error {
	body, err := json.Marshal(nodeRun)
	if err != nil {
		return fmt.Errorf("failed to marshal node run %s: %w", nodeRun.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO node_runs (id, run_id, body, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body
	`, nodeRun.ID, nodeRun.RunID, body, nodeRun.StartedAt)
	if err != nil {
		return &persistence.StoreError{Op: "Save", Entity: "node_run", ID: nodeRun.ID, Err: err}
	}

	return nil
}

// ListByRun returns the execution trace ordered by start time ascending.
func (r *NodeRunRepository) ListByRun(ctx context.Context, runID string) ([]*models.NodeRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM node_runs WHERE run_id = $1 ORDER BY started_at ASC`, runID)
	if err != nil {
		return nil, &persistence.StoreError{Op: "ListByRun", Entity: "node_run", ID: runID, Err: err}
	}

	defer closeRows(ctx, r.logger, rows)

	trace := make([]*models.NodeRun, 0)

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan node run: %w", err)
		}

		var nodeRun models.NodeRun
		if err := json.Unmarshal(body, &nodeRun); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node run: %w", err)
		}

		trace = append(trace, &nodeRun)
	}

	return trace, rows.Err()
}

// EventRepository handles the append-only run audit log.
type EventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Append persists the event; the sequence comes from the table's bigserial.
func (r *EventRepository) Append(ctx context.Context, event *models.RunEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO run_events (id, run_id, type, ts, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`, event.ID, event.RunID, event.Type, event.Timestamp, payload).Scan(&event.Seq)
	if err != nil {
		return &persistence.StoreError{Op: "Append", Entity: "run_event", ID: event.RunID, Err: err}
	}

	return nil
}

// ListSince returns events strictly after since, ordered by (ts, seq).
func (r *EventRepository) ListSince(ctx context.Context, runID string, since time.Time) ([]*models.RunEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, seq, type, ts, payload FROM run_events
		WHERE run_id = $1 AND ts > $2
		ORDER BY ts ASC, seq ASC
	`, runID, since)
	if err != nil {
		return nil, &persistence.StoreError{Op: "ListSince", Entity: "run_event", ID: runID, Err: err}
	}

	defer closeRows(ctx, r.logger, rows)

	events := make([]*models.RunEvent, 0)

	for rows.Next() {
		var (
			event   models.RunEvent
			payload []byte
		)

		if err := rows.Scan(&event.ID, &event.RunID, &event.Seq, &event.Type, &event.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}

		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
			}
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}
