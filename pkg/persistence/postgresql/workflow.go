package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
)

// WorkflowRepository handles versioned workflow definition rows.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Save upserts a workflow version.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	body, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflows (id, version, status, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id, version) DO UPDATE
		SET status = EXCLUDED.status, body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
	`, workflow.ID, workflow.Version, workflow.Status, body, workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		return &persistence.StoreError{Op: "Save", Entity: "workflow", ID: workflow.ID, Err: err}
	}

	return nil
}

// GetVersion retrieves one exact version.
func (r *WorkflowRepository) GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT body FROM workflows WHERE id = $1 AND version = $2`, id, version)

	return scanWorkflow(row, persistence.ErrWorkflowNotFound)
}

// GetDraft returns the single mutable draft version for the id.
func (r *WorkflowRepository) GetDraft(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT body FROM workflows
		WHERE id = $1 AND status = $2
		ORDER BY version DESC
		LIMIT 1
	`, id, models.WorkflowStatusDraft)

	return scanWorkflow(row, persistence.ErrDraftNotFound)
}

// GetLatestPublished returns the highest published version for the id.
func (r *WorkflowRepository) GetLatestPublished(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT body FROM workflows
		WHERE id = $1 AND status = $2
		ORDER BY version DESC
		LIMIT 1
	`, id, models.WorkflowStatusPublished)

	return scanWorkflow(row, persistence.ErrPublishedNotFound)
}

// ListVersions returns all versions of the id, sorted by version ascending.
func (r *WorkflowRepository) ListVersions(ctx context.Context, id string) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM workflows WHERE id = $1 ORDER BY version ASC`, id)
	if err != nil {
		return nil, &persistence.StoreError{Op: "ListVersions", Entity: "workflow", ID: id, Err: err}
	}

	workflows, err := collectWorkflows(ctx, r.logger, rows)
	if err != nil {
		return nil, err
	}

	if len(workflows) == 0 {
		return nil, persistence.ErrWorkflowNotFound
	}

	return workflows, nil
}

// ListLatest returns the newest version of every workflow id.
func (r *WorkflowRepository) ListLatest(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (id) body FROM workflows
		ORDER BY id, version DESC
	`)
	if err != nil {
		return nil, &persistence.StoreError{Op: "ListLatest", Entity: "workflow", Err: err}
	}

	return collectWorkflows(ctx, r.logger, rows)
}

// Delete removes every version of the workflow id.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return &persistence.StoreError{Op: "Delete", Entity: "workflow", ID: id, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

func scanWorkflow(row *sql.Row, missing error) (*models.Workflow, error) {
	var body []byte

	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, missing
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(body, &workflow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}

	return &workflow, nil
}

func collectWorkflows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) ([]*models.Workflow, error) {
	defer closeRows(ctx, logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		var workflow models.Workflow
		if err := json.Unmarshal(body, &workflow); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
		}

		workflows = append(workflows, &workflow)
	}

	return workflows, rows.Err()
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
