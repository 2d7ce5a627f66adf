// Package file provides file-based persistence for the scheduling core.
// Every entity is a JSON document under the root directory; a single
// process-wide mutex serializes read-modify-write sequences, which gives the
// claim operations their required atomicity.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kronion-io/kronion/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root string
	mu   sync.RWMutex

	workflowRepo *WorkflowRepository
	triggerRepo  *TriggerRepository
	runRepo      *RunRepository
	nodeRunRepo  *NodeRunRepository
	eventRepo    *EventRepository
	jobRepo      *JobRepository
	jobRunRepo   *JobRunRepository
}

// NewPersistence creates a file persistence layer rooted at the given directory.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	if err := os.MkdirAll(cleanRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create persistence root: %w", err)
	}

	p := &Persistence{root: cleanRoot}
	p.workflowRepo = &WorkflowRepository{p: p}
	p.triggerRepo = &TriggerRepository{p: p}
	p.runRepo = &RunRepository{p: p}
	p.nodeRunRepo = &NodeRunRepository{p: p}
	p.eventRepo = &EventRepository{p: p}
	p.jobRepo = &JobRepository{p: p}
	p.jobRunRepo = &JobRunRepository{p: p}

	return p, nil
}

// Close performs any necessary cleanup. Nothing to release for files.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory still exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); err != nil {
		return fmt.Errorf("persistence root unavailable: %w", err)
	}

	return nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository { return p.workflowRepo }
func (p *Persistence) TriggerRepository() persistence.TriggerRepository   { return p.triggerRepo }
func (p *Persistence) RunRepository() persistence.RunRepository           { return p.runRepo }
func (p *Persistence) NodeRunRepository() persistence.NodeRunRepository   { return p.nodeRunRepo }
func (p *Persistence) EventRepository() persistence.EventRepository       { return p.eventRepo }
func (p *Persistence) JobRepository() persistence.JobRepository           { return p.jobRepo }
func (p *Persistence) JobRunRepository() persistence.JobRunRepository     { return p.jobRunRepo }

// writeDoc marshals v into dir/name.json, creating the directory on demand.
// Callers must hold p.mu for writing.
func (p *Persistence) writeDoc(dir, name string, v any) error {
	full := filepath.Join(p.root, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", dir, name, err)
	}

	path := filepath.Join(full, name+".json")

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

// readDoc unmarshals dir/name.json into v, reporting fs.ErrNotExist when absent.
func (p *Persistence) readDoc(dir, name string, v any) error {
	path := filepath.Join(p.root, dir, name+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return nil
}

// removeDoc deletes dir/name.json, ignoring absence.
func (p *Persistence) removeDoc(dir, name string) error {
	err := os.Remove(filepath.Join(p.root, dir, name+".json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// listDocs returns the document names (without extension) under dir.
// A directory that was never written yet is an empty collection.
func (p *Persistence) listDocs(dir string) ([]string, error) {
	if _, err := os.Stat(filepath.Join(p.root, dir)); os.IsNotExist(err) {
		return nil, nil
	}

	root := os.DirFS(filepath.Join(p.root, dir))

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, strings.TrimSuffix(f, ".json"))
	}

	return names, nil
}

func notExist(err error) bool {
	return os.IsNotExist(err)
}
