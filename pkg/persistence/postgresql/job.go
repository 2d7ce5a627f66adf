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

// JobRepository handles scheduled job rows.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Save upserts a job.
func (r *JobRepository) Save(ctx context.Context, job *models.Job) error {
	return saveJob(ctx, r.db, job)
}

func saveJob(ctx context.Context, db execer, job *models.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, next_run_at, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    next_run_at = EXCLUDED.next_run_at,
		    body = EXCLUDED.body,
		    updated_at = EXCLUDED.updated_at
	`, job.ID, job.Status, nullTime(job.NextRunAt), body, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return &persistence.StoreError{Op: "Save", Entity: "job", ID: job.ID, Err: err}
	}

	return nil
}

// GetByID retrieves a job.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	var body []byte

	err := r.db.QueryRowContext(ctx, `SELECT body FROM jobs WHERE id = $1`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrJobNotFound
		}

		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	return unmarshalJob(body)
}

// List returns all jobs sorted by creation time.
func (r *JobRepository) List(ctx context.Context) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT body FROM jobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, &persistence.StoreError{Op: "List", Entity: "job", Err: err}
	}

	return collectJobs(ctx, r.logger, rows)
}

// Delete removes a job.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return &persistence.StoreError{Op: "Delete", Entity: "job", ID: id, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrJobNotFound
	}

	return nil
}

// EarliestNextRun returns min(next_run_at) over active jobs.
func (r *JobRepository) EarliestNextRun(ctx context.Context) (*time.Time, error) {
	var next sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT MIN(next_run_at) FROM jobs
		WHERE status = $1 AND next_run_at IS NOT NULL
	`, models.JobStatusActive).Scan(&next)
	if err != nil {
		return nil, &persistence.StoreError{Op: "EarliestNextRun", Entity: "job", Err: err}
	}

	if !next.Valid {
		return nil, nil
	}

	t := next.Time.UTC()

	return &t, nil
}

// ClaimDue consumes the due state of every due active job under row locks.
func (r *JobRepository) ClaimDue(ctx context.Context, now time.Time) ([]*models.Job, error) {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}

	rows, err := transaction.QueryContext(ctx, `
		SELECT body FROM jobs
		WHERE status = $1 AND next_run_at IS NOT NULL AND next_run_at <= $2
		FOR UPDATE SKIP LOCKED
	`, models.JobStatusActive, now)
	if err != nil {
		_ = transaction.Rollback()

		return nil, &persistence.StoreError{Op: "ClaimDue", Entity: "job", Err: err}
	}

	claimed, err := collectJobs(ctx, r.logger, rows)
	if err != nil {
		_ = transaction.Rollback()

		return nil, err
	}

	for _, job := range claimed {
		job.NextRunAt = nil
		job.UpdatedAt = now

		if err := saveJob(ctx, transaction, job); err != nil {
			_ = transaction.Rollback()

			return nil, err
		}
	}

	if err := transaction.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return claimed, nil
}

func unmarshalJob(body []byte) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func collectJobs(ctx context.Context, logger *slog.Logger, rows *sql.Rows) ([]*models.Job, error) {
	defer closeRows(ctx, logger, rows)

	jobs := make([]*models.Job, 0)

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		job, err := unmarshalJob(body)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// JobRunRepository handles append-only job run history rows.
type JobRunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Append inserts a completed run record.
func (r *JobRunRepository) Append(ctx context.Context, run *models.JobRun) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal job run %s: %w", run.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, job_id, result, body, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.JobID, run.Result, body, run.StartedAt)
	if err != nil {
		return &persistence.StoreError{Op: "Append", Entity: "job_run", ID: run.ID, Err: err}
	}

	return nil
}

// ListByJob returns the job's history, newest first by default.
func (r *JobRunRepository) ListByJob(ctx context.Context, jobID string, opts persistence.ListJobRunsOptions) ([]*models.JobRun, error) {
	query := `SELECT body FROM job_runs WHERE job_id = $1`
	args := []any{jobID}

	if opts.Result != nil {
		args = append(args, *opts.Result)
		query += fmt.Sprintf(" AND result = $%d", len(args))
	}

	if opts.OldestFirst {
		query += " ORDER BY started_at ASC"
	} else {
		query += " ORDER BY started_at DESC"
	}

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
		return nil, &persistence.StoreError{Op: "ListByJob", Entity: "job_run", ID: jobID, Err: err}
	}

	return collectJobRuns(ctx, r.logger, rows)
}

// ListAll returns every run record, used for export.
func (r *JobRunRepository) ListAll(ctx context.Context) ([]*models.JobRun, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT body FROM job_runs ORDER BY started_at ASC`)
	if err != nil {
		return nil, &persistence.StoreError{Op: "ListAll", Entity: "job_run", Err: err}
	}

	return collectJobRuns(ctx, r.logger, rows)
}

// DeleteByJob purges the job's entire history.
func (r *JobRunRepository) DeleteByJob(ctx context.Context, jobID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM job_runs WHERE job_id = $1`, jobID)
	if err != nil {
		return &persistence.StoreError{Op: "DeleteByJob", Entity: "job_run", ID: jobID, Err: err}
	}

	return nil
}

func collectJobRuns(ctx context.Context, logger *slog.Logger, rows *sql.Rows) ([]*models.JobRun, error) {
	defer closeRows(ctx, logger, rows)

	runs := make([]*models.JobRun, 0)

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}

		var run models.JobRun
		if err := json.Unmarshal(body, &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job run: %w", err)
		}

		runs = append(runs, &run)
	}

	return runs, rows.Err()
}
