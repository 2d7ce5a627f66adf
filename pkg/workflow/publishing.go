package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
	"github.com/kronion-io/kronion/pkg/registry"
	"github.com/kronion-io/kronion/pkg/schedule"
	"github.com/kronion-io/kronion/pkg/services"
)

// Rearmer is notified after any mutation that can change the earliest
// pending occurrence.
type Rearmer interface {
	Rearm()
}

type noopRearmer struct{}

func (noopRearmer) Rearm() {}

// PublishingService owns the definition lifecycle: drafts, immutable
// published versions, archiving, and the trigger materialization that
// publishing rebuilds.
type PublishingService struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	validator   *validator.Validate
	rearmer     Rearmer
	now         func() time.Time
}

func NewPublishingService(logger *slog.Logger, p persistence.Persistence, reg *registry.Registry, rearmer Rearmer) *PublishingService {
	if rearmer == nil {
		rearmer = noopRearmer{}
	}

	return &PublishingService{
		logger:      logger.With("module", "workflow_publishing"),
		persistence: p,
		registry:    reg,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		rearmer:     rearmer,
		now:         time.Now,
	}
}

// CreateWorkflowRequest carries a new draft definition.
type CreateWorkflowRequest struct {
	Name        string                `json:"name" validate:"required,min=3"`
	Description string                `json:"description"`
	Nodes       []*models.Node        `json:"nodes"`
	Edges       []*models.Edge        `json:"edges"`
	Triggers    []*models.TriggerSpec `json:"triggers"`
	Defaults    models.Defaults       `json:"defaults"`
	Metadata    map[string]any        `json:"metadata,omitempty"`
}

// CreateDraft creates version 1 of a new workflow as a mutable draft.
func (s *PublishingService) CreateDraft(ctx context.Context, req CreateWorkflowRequest) (*models.Workflow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, services.NewValidationError("CreateDraft", "INVALID_WORKFLOW",
			err.Error(), services.ErrInvalidRequest)
	}

	now := s.now().UTC()
	wf := &models.Workflow{
		ID:          "wf-" + uuid.New().String(),
		Version:     1,
		Name:        req.Name,
		Description: req.Description,
		Status:      models.WorkflowStatusDraft,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
		Triggers:    req.Triggers,
		Defaults:    req.Defaults,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.persistence.WorkflowRepository().Save(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}

	s.logger.InfoContext(ctx, "Draft created", "workflow_id", wf.ID)

	return wf, nil
}

// UpdateDraft mutates the current draft in place. When the latest
// version is published, a new draft version is forked from it first.
func (s *PublishingService) UpdateDraft(ctx context.Context, id string, req CreateWorkflowRequest) (*models.Workflow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, services.NewValidationError("UpdateDraft", "INVALID_WORKFLOW",
			err.Error(), services.ErrInvalidRequest)
	}

	draft, err := s.draftForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}

	draft.Name = req.Name
	draft.Description = req.Description
	draft.Nodes = req.Nodes
	draft.Edges = req.Edges
	draft.Triggers = req.Triggers
	draft.Defaults = req.Defaults
	draft.Metadata = req.Metadata
	draft.UpdatedAt = s.now().UTC()

	if err := s.persistence.WorkflowRepository().Save(ctx, draft); err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}

	return draft, nil
}

// draftForUpdate returns the mutable draft, forking one from the
// latest published version when no draft exists.
func (s *PublishingService) draftForUpdate(ctx context.Context, id string) (*models.Workflow, error) {
	repo := s.persistence.WorkflowRepository()

	draft, err := repo.GetDraft(ctx, id)
	if err == nil {
		return draft, nil
	}

	if !errors.Is(err, persistence.ErrDraftNotFound) {
		return nil, err
	}

	versions, err := repo.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(versions) == 0 {
		return nil, services.NewNotFoundError("UpdateDraft", "WORKFLOW_NOT_FOUND",
			"workflow "+id+" not found", services.ErrWorkflowNotFound)
	}

	latest := versions[len(versions)-1]
	if latest.Status == models.WorkflowStatusArchived {
		return nil, &services.ServiceError{
			Op: "UpdateDraft", Code: "WORKFLOW_ARCHIVED",
			Message: "archived workflows cannot be edited",
			Err:     services.ErrWorkflowArchived,
		}
	}

	fork := *latest
	fork.Version = latest.Version + 1
	fork.Status = models.WorkflowStatusDraft
	fork.PublishedAt = nil
	fork.CreatedAt = s.now().UTC()

	return &fork, nil
}

// Publish freezes the draft into an immutable published version and
// rebuilds the workflow's materialized triggers as an exact image of
// the published definition.
func (s *PublishingService) Publish(ctx context.Context, id string) (*models.Workflow, error) {
	repo := s.persistence.WorkflowRepository()

	draft, err := repo.GetDraft(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrDraftNotFound) || errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, services.NewNotFoundError("Publish", "DRAFT_NOT_FOUND",
				"workflow "+id+" has no draft to publish", services.ErrWorkflowNotFound)
		}

		return nil, err
	}

	if err := s.validateForPublishing(draft); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	draft.Status = models.WorkflowStatusPublished
	draft.PublishedAt = &now
	draft.UpdatedAt = now

	if err := repo.Save(ctx, draft); err != nil {
		return nil, fmt.Errorf("failed to save published version: %w", err)
	}

	if err := s.materializeTriggers(ctx, draft, now); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Workflow published",
		"workflow_id", draft.ID, "version", draft.Version, "triggers", len(draft.Triggers))
	s.rearmer.Rearm()

	return draft, nil
}

func (s *PublishingService) validateForPublishing(wf *models.Workflow) error {
	if _, err := Compile(wf); err != nil {
		return err
	}

	for _, node := range wf.Nodes {
		if err := s.registry.ValidateNodeConfig(node); err != nil {
			return services.NewValidationError("Publish", "INVALID_NODE_CONFIG",
				err.Error(), services.ErrInvalidGraph)
		}
	}

	for _, spec := range wf.Triggers {
		if err := s.registry.ValidateTriggerConfig(spec); err != nil {
			return services.NewValidationError("Publish", "INVALID_TRIGGER_CONFIG",
				err.Error(), services.ErrInvalidRequest)
		}

		if spec.Type == models.TriggerTypeSchedule {
			if spec.Schedule == nil {
				return services.NewValidationError("Publish", "INVALID_SCHEDULE",
					"schedule trigger "+spec.ID+" has no schedule", services.ErrInvalidSchedule)
			}

			if err := spec.Schedule.Validate(); err != nil {
				return services.NewValidationError("Publish", "INVALID_SCHEDULE",
					err.Error(), services.ErrInvalidSchedule)
			}
		}
	}

	return nil
}

// materializeTriggers rebuilds the workflow's trigger rows with a
// delete-then-reinsert so rows never drift from the published
// definition. Run counts carry over by trigger id so republishing does
// not reset maxRuns accounting.
func (s *PublishingService) materializeTriggers(ctx context.Context, wf *models.Workflow, now time.Time) error {
	triggerRepo := s.persistence.TriggerRepository()

	existing, err := triggerRepo.ListByWorkflow(ctx, wf.ID)
	if err != nil {
		return err
	}

	runCounts := make(map[string]int, len(existing))
	tokens := make(map[string]string, len(existing))

	for _, t := range existing {
		runCounts[t.ID] = t.RunCount

		if token := t.WebhookToken(); token != "" {
			tokens[t.ID] = token
		}
	}

	rows := make([]*models.Trigger, 0, len(wf.Triggers))

	for _, spec := range wf.Triggers {
		row := &models.Trigger{
			ID:              wf.ID + ":" + spec.ID,
			WorkflowID:      wf.ID,
			WorkflowVersion: wf.Version,
			Type:            spec.Type,
			Schedule:        spec.Schedule,
			Config:          spec.Config,
			Enabled:         spec.Enabled,
			MaxRuns:         spec.MaxRuns,
			RunCount:        runCounts[wf.ID+":"+spec.ID],
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if spec.Type == models.TriggerTypeWebhook {
			s.ensureWebhookToken(row, tokens[row.ID])
		}

		if row.Enabled && spec.Type == models.TriggerTypeSchedule && spec.Schedule != nil {
			if next, ok := schedule.Next(*spec.Schedule, now); ok {
				row.NextRunAt = &next
			}
		}

		rows = append(rows, row)
	}

	return triggerRepo.ReplaceForWorkflow(ctx, wf.ID, rows)
}

// ensureWebhookToken keeps an existing token stable across republishes
// and mints one for new webhook triggers.
func (s *PublishingService) ensureWebhookToken(row *models.Trigger, previous string) {
	if row.Config == nil {
		row.Config = map[string]any{}
	}

	if token, _ := row.Config["token"].(string); token != "" {
		return
	}

	if previous != "" {
		row.Config["token"] = previous

		return
	}

	row.Config["token"] = uuid.New().String()
}

// PauseSchedule disables every schedule trigger of the workflow as one
// unit, stopping its timetable without touching the published version.
func (s *PublishingService) PauseSchedule(ctx context.Context, id string) error {
	return s.setScheduleEnabled(ctx, "PauseSchedule", id, false)
}

// ResumeSchedule re-enables the workflow's schedule triggers and
// recomputes their next occurrence. Exhausted triggers stay disabled.
func (s *PublishingService) ResumeSchedule(ctx context.Context, id string) error {
	return s.setScheduleEnabled(ctx, "ResumeSchedule", id, true)
}

func (s *PublishingService) setScheduleEnabled(ctx context.Context, op, id string, enabled bool) error {
	triggerRepo := s.persistence.TriggerRepository()

	triggers, err := triggerRepo.ListByWorkflow(ctx, id)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	updated := 0

	for _, trigger := range triggers {
		if trigger.Type != models.TriggerTypeSchedule {
			continue
		}

		if enabled && trigger.MaxRunsReached() {
			continue
		}

		trigger.Enabled = enabled
		trigger.NextRunAt = nil

		if enabled && trigger.Schedule != nil {
			if next, ok := schedule.Next(*trigger.Schedule, now); ok {
				trigger.NextRunAt = &next
			}
		}

		trigger.UpdatedAt = now

		if err := triggerRepo.Save(ctx, trigger); err != nil {
			return err
		}

		updated++
	}

	if updated == 0 {
		return services.NewNotFoundError(op, "SCHEDULE_NOT_FOUND",
			"workflow "+id+" has no schedule triggers", services.ErrTriggerNotFound)
	}

	s.logger.InfoContext(ctx, "Workflow schedule updated",
		"workflow_id", id, "enabled", enabled, "triggers", updated)
	s.rearmer.Rearm()

	return nil
}

// Archive freezes the workflow entirely: the latest published version
// is marked archived and its materialized triggers removed.
func (s *PublishingService) Archive(ctx context.Context, id string) (*models.Workflow, error) {
	repo := s.persistence.WorkflowRepository()

	published, err := repo.GetLatestPublished(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrPublishedNotFound) || errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, &services.ServiceError{
				Op: "Archive", Code: "NOT_PUBLISHED",
				Message: "workflow " + id + " has no published version",
				Err:     services.ErrNotPublished,
			}
		}

		return nil, err
	}

	now := s.now().UTC()
	published.Status = models.WorkflowStatusArchived
	published.ArchivedAt = &now
	published.UpdatedAt = now

	if err := repo.Save(ctx, published); err != nil {
		return nil, fmt.Errorf("failed to archive workflow: %w", err)
	}

	if err := s.persistence.TriggerRepository().DeleteForWorkflow(ctx, id); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Workflow archived", "workflow_id", id, "version", published.Version)
	s.rearmer.Rearm()

	return published, nil
}

// Get returns one version, or the latest when version is zero.
func (s *PublishingService) Get(ctx context.Context, id string, version int) (*models.Workflow, error) {
	repo := s.persistence.WorkflowRepository()

	if version > 0 {
		wf, err := repo.GetVersion(ctx, id, version)
		if err != nil {
			if errors.Is(err, persistence.ErrWorkflowNotFound) {
				return nil, services.NewNotFoundError("GetWorkflow", "VERSION_NOT_FOUND",
					fmt.Sprintf("workflow %s version %d not found", id, version), services.ErrVersionNotFound)
			}

			return nil, err
		}

		return wf, nil
	}

	versions, err := repo.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(versions) == 0 {
		return nil, services.NewNotFoundError("GetWorkflow", "WORKFLOW_NOT_FOUND",
			"workflow "+id+" not found", services.ErrWorkflowNotFound)
	}

	return versions[len(versions)-1], nil
}

// ListVersions returns every version of a workflow, oldest first.
func (s *PublishingService) ListVersions(ctx context.Context, id string) ([]*models.Workflow, error) {
	versions, err := s.persistence.WorkflowRepository().ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(versions) == 0 {
		return nil, services.NewNotFoundError("ListVersions", "WORKFLOW_NOT_FOUND",
			"workflow "+id+" not found", services.ErrWorkflowNotFound)
	}

	return versions, nil
}

// List returns the newest version of every workflow.
func (s *PublishingService) List(ctx context.Context) ([]*models.Workflow, error) {
	return s.persistence.WorkflowRepository().ListLatest(ctx)
}

// Delete removes every version of the workflow and its triggers.
func (s *PublishingService) Delete(ctx context.Context, id string) error {
	if err := s.persistence.TriggerRepository().DeleteForWorkflow(ctx, id); err != nil {
		return err
	}

	if err := s.persistence.WorkflowRepository().Delete(ctx, id); err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return services.NewNotFoundError("DeleteWorkflow", "WORKFLOW_NOT_FOUND",
				"workflow "+id+" not found", services.ErrWorkflowNotFound)
		}

		return err
	}

	s.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", id)
	s.rearmer.Rearm()

	return nil
}
