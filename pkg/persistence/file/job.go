package file

import (
	"context"
	"sort"
	"time"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
)

const (
	jobsDir    = "jobs"
	jobRunsDir = "job_runs"
)

// JobRepository stores one JSON document per job.
type JobRepository struct {
	p *Persistence
}

// Save persists a job.
func (r *JobRepository) Save(ctx context.Context, job *models.Job) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.writeDoc(jobsDir, job.ID, job)
}

// GetByID retrieves a job.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var job models.Job

	err := r.p.readDoc(jobsDir, id, &job)
	if err != nil {
		if notExist(err) {
			return nil, persistence.ErrJobNotFound
		}

		return nil, err
	}

	return &job, nil
}

// List returns all jobs sorted by creation time.
func (r *JobRepository) List(ctx context.Context) ([]*models.Job, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	names, err := r.p.listDocs(jobsDir)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Job, 0, len(names))

	for _, name := range names {
		var job models.Job
		if err := r.p.readDoc(jobsDir, name, &job); err != nil {
			return nil, err
		}

		j := job
		out = append(out, &j)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

// Delete removes a job.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if err := r.p.readDoc(jobsDir, id, &models.Job{}); err != nil {
		if notExist(err) {
			return persistence.ErrJobNotFound
		}

		return err
	}

	return r.p.removeDoc(jobsDir, id)
}

// EarliestNextRun returns min(next_run_at) over active jobs.
func (r *JobRepository) EarliestNextRun(ctx context.Context) (*time.Time, error) {
	jobs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	var earliest *time.Time

	for _, j := range jobs {
		if !j.Schedulable() {
			continue
		}

		if earliest == nil || j.NextRunAt.Before(*earliest) {
			next := *j.NextRunAt
			earliest = &next
		}
	}

	return earliest, nil
}

// ClaimDue consumes the due state of every active job whose next_run_at has
// passed, all under one lock so the same job can never run twice concurrently.
func (r *JobRepository) ClaimDue(ctx context.Context, now time.Time) ([]*models.Job, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	names, err := r.p.listDocs(jobsDir)
	if err != nil {
		return nil, err
	}

	claimed := make([]*models.Job, 0)

	for _, name := range names {
		var job models.Job
		if err := r.p.readDoc(jobsDir, name, &job); err != nil {
			return nil, err
		}

		if !job.Schedulable() || job.NextRunAt.After(now) {
			continue
		}

		job.NextRunAt = nil
		job.UpdatedAt = now

		if err := r.p.writeDoc(jobsDir, job.ID, &job); err != nil {
			return nil, err
		}

		j := job
		claimed = append(claimed, &j)
	}

	return claimed, nil
}

// JobRunRepository stores each job's history as one append-only document.
type JobRunRepository struct {
	p *Persistence
}

// Append adds a completed run record to the job's history.
func (r *JobRunRepository) Append(ctx context.Context, run *models.JobRun) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var history []*models.JobRun

	err := r.p.readDoc(jobRunsDir, run.JobID, &history)
	if err != nil && !notExist(err) {
		return err
	}

	history = append(history, run)

	return r.p.writeDoc(jobRunsDir, run.JobID, history)
}

// ListByJob returns the job's history, newest first by default.
func (r *JobRunRepository) ListByJob(ctx context.Context, jobID string, opts persistence.ListJobRunsOptions) ([]*models.JobRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var history []*models.JobRun

	err := r.p.readDoc(jobRunsDir, jobID, &history)
	if err != nil {
		if notExist(err) {
			return []*models.JobRun{}, nil
		}

		return nil, err
	}

	filtered := make([]*models.JobRun, 0, len(history))

	for _, run := range history {
		if opts.Result != nil && run.Result != *opts.Result {
			continue
		}

		filtered = append(filtered, run)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if opts.OldestFirst {
			return filtered[i].StartedAt.Before(filtered[j].StartedAt)
		}

		return filtered[i].StartedAt.After(filtered[j].StartedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return []*models.JobRun{}, nil
		}

		filtered = filtered[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}

	return filtered, nil
}

// ListAll returns every run record across all jobs, used for export.
func (r *JobRunRepository) ListAll(ctx context.Context) ([]*models.JobRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	names, err := r.p.listDocs(jobRunsDir)
	if err != nil {
		return nil, err
	}

	out := make([]*models.JobRun, 0)

	for _, name := range names {
		var history []*models.JobRun
		if err := r.p.readDoc(jobRunsDir, name, &history); err != nil {
			return nil, err
		}

		out = append(out, history...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })

	return out, nil
}

// DeleteByJob purges the job's entire history.
func (r *JobRunRepository) DeleteByJob(ctx context.Context, jobID string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.removeDoc(jobRunsDir, jobID)
}
