package file

import (
	"context"
	"sort"
	"time"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
)

const (
	runsDir     = "runs"
	nodeRunsDir = "node_runs"
	eventsDir   = "events"
)

// RunRepository stores one JSON document per workflow run.
type RunRepository struct {
	p *Persistence
}

// Save persists a run.
func (r *RunRepository) Save(ctx context.Context, run *models.WorkflowRun) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.writeDoc(runsDir, run.ID, run)
}

// GetByID retrieves a run.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var run models.WorkflowRun

	err := r.p.readDoc(runsDir, id, &run)
	if err != nil {
		if notExist(err) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, err
	}

	return &run, nil
}

// List returns runs newest-first with optional filtering and pagination.
func (r *RunRepository) List(ctx context.Context, opts persistence.ListRunsOptions) ([]*models.WorkflowRun, error) {
	runs, err := r.all()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowRun, 0, len(runs))

	for _, run := range runs {
		if opts.WorkflowID != "" && run.WorkflowID != opts.WorkflowID {
			continue
		}

		if opts.Status != nil && run.Status != *opts.Status {
			continue
		}

		filtered = append(filtered, run)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return []*models.WorkflowRun{}, nil
		}

		filtered = filtered[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}

	return filtered, nil
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

func (r *RunRepository) all() ([]*models.WorkflowRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	names, err := r.p.listDocs(runsDir)
	if err != nil {
		return nil, err
	}

	out := make([]*models.WorkflowRun, 0, len(names))

	for _, name := range names {
		var run models.WorkflowRun
		if err := r.p.readDoc(runsDir, name, &run); err != nil {
			return nil, err
		}

		v := run
		out = append(out, &v)
	}

	return out, nil
}

// NodeRunRepository stores the execution trace of a run as one document
// holding all attempts.
type NodeRunRepository struct {
	p *Persistence
}

// Save inserts or updates one node attempt within its run's trace document.
func (r *NodeRunRepository) Save(ctx context.Context, nodeRun *models.NodeRun) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var trace []*models.NodeRun

	err := r.p.readDoc(nodeRunsDir, nodeRun.RunID, &trace)
	if err != nil && !notExist(err) {
		return err
	}

	replaced := false

	for i, existing := range trace {
		if existing.ID == nodeRun.ID {
			trace[i] = nodeRun
			replaced = true

			break
		}
	}

	if !replaced {
		trace = append(trace, nodeRun)
	}

	return r.p.writeDoc(nodeRunsDir, nodeRun.RunID, trace)
}

// ListByRun returns the trace ordered by start time ascending.
func (r *NodeRunRepository) ListByRun(ctx context.Context, runID string) ([]*models.NodeRun, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var trace []*models.NodeRun

	err := r.p.readDoc(nodeRunsDir, runID, &trace)
	if err != nil {
		if notExist(err) {
			return []*models.NodeRun{}, nil
		}

		return nil, err
	}

	sort.Slice(trace, func(i, j int) bool {
		return trace[i].StartedAt.Before(trace[j].StartedAt)
	})

	return trace, nil
}

// EventRepository stores each run's audit log as one append-only document.
type EventRepository struct {
	p *Persistence
}

// Append persists the event, assigning the next per-run sequence number.
func (r *EventRepository) Append(ctx context.Context, event *models.RunEvent) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var log []*models.RunEvent

	err := r.p.readDoc(eventsDir, event.RunID, &log)
	if err != nil && !notExist(err) {
		return err
	}

	event.Seq = int64(len(log)) + 1
	log = append(log, event)

	return r.p.writeDoc(eventsDir, event.RunID, log)
}

// ListSince returns events strictly after since, ordered by (timestamp, seq).
func (r *EventRepository) ListSince(ctx context.Context, runID string, since time.Time) ([]*models.RunEvent, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	var log []*models.RunEvent

	err := r.p.readDoc(eventsDir, runID, &log)
	if err != nil {
		if notExist(err) {
			return []*models.RunEvent{}, nil
		}

		return nil, err
	}

	out := make([]*models.RunEvent, 0, len(log))

	for _, e := range log {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Seq < out[j].Seq
		}

		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	return out, nil
}
