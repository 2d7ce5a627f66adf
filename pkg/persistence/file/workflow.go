package file

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
)

const workflowsDir = "workflows"

// WorkflowRepository stores one JSON document per (id, version).
type WorkflowRepository struct {
	p *Persistence
}

func workflowDocName(id string, version int) string {
	return fmt.Sprintf("%s-v%06d", id, version)
}

// Save persists a workflow version.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.writeDoc(workflowsDir, workflowDocName(workflow.ID, workflow.Version), workflow)
}

// GetVersion retrieves one exact version.
func (r *WorkflowRepository) GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	return r.getVersionLocked(id, version)
}

func (r *WorkflowRepository) getVersionLocked(id string, version int) (*models.Workflow, error) {
	var workflow models.Workflow

	err := r.p.readDoc(workflowsDir, workflowDocName(id, version), &workflow)
	if err != nil {
		if notExist(err) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, err
	}

	return &workflow, nil
}

// GetDraft returns the single mutable draft version for the id.
func (r *WorkflowRepository) GetDraft(ctx context.Context, id string) (*models.Workflow, error) {
	versions, err := r.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, w := range versions {
		if w.Status == models.WorkflowStatusDraft {
			return w, nil
		}
	}

	return nil, persistence.ErrDraftNotFound
}

// GetLatestPublished returns the highest published version for the id.
func (r *WorkflowRepository) GetLatestPublished(ctx context.Context, id string) (*models.Workflow, error) {
	versions, err := r.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}

	// Versions are sorted ascending; walk backwards for the newest published.
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Status == models.WorkflowStatusPublished {
			return versions[i], nil
		}
	}

	return nil, persistence.ErrPublishedNotFound
}

// ListVersions returns all versions of the id, sorted by version ascending.
func (r *WorkflowRepository) ListVersions(ctx context.Context, id string) ([]*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	names, err := r.p.listDocs(workflowsDir)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0)

	for _, name := range names {
		if !strings.HasPrefix(name, id+"-v") {
			continue
		}

		var workflow models.Workflow
		if err := r.p.readDoc(workflowsDir, name, &workflow); err != nil {
			return nil, err
		}

		if workflow.ID == id {
			workflows = append(workflows, &workflow)
		}
	}

	if len(workflows) == 0 {
		return nil, persistence.ErrWorkflowNotFound
	}

	sort.Slice(workflows, func(i, j int) bool { return workflows[i].Version < workflows[j].Version })

	return workflows, nil
}

// ListLatest returns the newest version of every workflow id.
func (r *WorkflowRepository) ListLatest(ctx context.Context) ([]*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	names, err := r.p.listDocs(workflowsDir)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*models.Workflow)

	for _, name := range names {
		var workflow models.Workflow
		if err := r.p.readDoc(workflowsDir, name, &workflow); err != nil {
			return nil, err
		}

		current, ok := latest[workflow.ID]
		if !ok || workflow.Version > current.Version {
			w := workflow
			latest[workflow.ID] = &w
		}
	}

	out := make([]*models.Workflow, 0, len(latest))
	for _, w := range latest {
		out = append(out, w)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

// Delete removes every version of the workflow id.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	names, err := r.p.listDocs(workflowsDir)
	if err != nil {
		return err
	}

	deleted := false

	for _, name := range names {
		if strings.HasPrefix(name, id+"-v") {
			if err := r.p.removeDoc(workflowsDir, name); err != nil {
				return err
			}

			deleted = true
		}
	}

	if !deleted {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}
