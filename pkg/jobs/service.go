// Package jobs manages scheduled prompt jobs: CRUD, lifecycle,
// execution, run history and portable export.
package jobs

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
	"github.com/kronion-io/kronion/pkg/schedule"
	"github.com/kronion-io/kronion/pkg/services"
)

// Rearmer is notified after any mutation that can change the earliest
// pending occurrence. The timer loop satisfies it.
type Rearmer interface {
	Rearm()
}

// noopRearmer lets the API binary run the service without a timer loop.
type noopRearmer struct{}

func (noopRearmer) Rearm() {}

type Service struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	validator   *validator.Validate
	rearmer     Rearmer
	now         func() time.Time
}

func NewService(logger *slog.Logger, p persistence.Persistence, rearmer Rearmer) *Service {
	if rearmer == nil {
		rearmer = noopRearmer{}
	}

	return &Service{
		logger:      logger.With("module", "jobs"),
		persistence: p,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		rearmer:     rearmer,
		now:         time.Now,
	}
}

// CreateJobRequest carries the client-supplied fields of a new job.
type CreateJobRequest struct {
	Name           string          `json:"name"     validate:"required,min=1"`
	Prompt         string          `json:"prompt"   validate:"required"`
	Schedule       models.Schedule `json:"schedule" validate:"required"`
	WorkingDir     string          `json:"working_dir,omitempty"`
	Model          string          `json:"model,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	MaxRuns        *int            `json:"max_runs,omitempty"`
	DeleteAfterRun bool            `json:"delete_after_run,omitempty"`
}

// UpdateJobRequest patches an existing job; nil fields are untouched.
type UpdateJobRequest struct {
	Name           *string          `json:"name,omitempty"`
	Prompt         *string          `json:"prompt,omitempty"`
	Schedule       *models.Schedule `json:"schedule,omitempty"`
	WorkingDir     *string          `json:"working_dir,omitempty"`
	Model          *string          `json:"model,omitempty"`
	SessionID      *string          `json:"session_id,omitempty"`
	MaxRuns        *int             `json:"max_runs,omitempty"`
	DeleteAfterRun *bool            `json:"delete_after_run,omitempty"`
}

func (s *Service) Create(ctx context.Context, req CreateJobRequest) (*models.Job, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, services.NewValidationError("CreateJob", "INVALID_JOB",
			err.Error(), services.ErrInvalidRequest)
	}

	if err := req.Schedule.Validate(); err != nil {
		return nil, services.NewValidationError("CreateJob", "INVALID_SCHEDULE",
			err.Error(), services.ErrInvalidSchedule)
	}

	now := s.now().UTC()
	job := &models.Job{
		ID:             "job-" + uuid.New().String(),
		Name:           req.Name,
		Prompt:         req.Prompt,
		Schedule:       req.Schedule,
		WorkingDir:     req.WorkingDir,
		Model:          req.Model,
		SessionID:      req.SessionID,
		Status:         models.JobStatusActive,
		MaxRuns:        req.MaxRuns,
		DeleteAfterRun: req.DeleteAfterRun,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	job.NextRunAt = ResolveNextRunAt(job, now)

	if err := s.persistence.JobRepository().Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	s.logger.InfoContext(ctx, "Job created",
		"job_id", job.ID, "schedule_kind", job.Schedule.Kind, "next_run_at", job.NextRunAt)
	s.rearmer.Rearm()

	return job, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.persistence.JobRepository().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrJobNotFound) {
			return nil, services.NewNotFoundError("GetJob", "JOB_NOT_FOUND",
				"job "+id+" not found", services.ErrJobNotFound)
		}

		return nil, err
	}

	return job, nil
}

func (s *Service) List(ctx context.Context) ([]*models.Job, error) {
	return s.persistence.JobRepository().List(ctx)
}

func (s *Service) Update(ctx context.Context, id string, req UpdateJobRequest) (*models.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		job.Name = *req.Name
	}

	if req.Prompt != nil {
		job.Prompt = *req.Prompt
	}

	if req.WorkingDir != nil {
		job.WorkingDir = *req.WorkingDir
	}

	if req.Model != nil {
		job.Model = *req.Model
	}

	if req.SessionID != nil {
		job.SessionID = *req.SessionID
	}

	if req.MaxRuns != nil {
		job.MaxRuns = req.MaxRuns
	}

	if req.DeleteAfterRun != nil {
		job.DeleteAfterRun = *req.DeleteAfterRun
	}

	now := s.now().UTC()

	if req.Schedule != nil {
		if err := req.Schedule.Validate(); err != nil {
			return nil, services.NewValidationError("UpdateJob", "INVALID_SCHEDULE",
				err.Error(), services.ErrInvalidSchedule)
		}

		job.Schedule = *req.Schedule
		job.NextRunAt = ResolveNextRunAt(job, now)
	}

	job.UpdatedAt = now

	if err := s.persistence.JobRepository().Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	s.rearmer.Rearm()

	return job, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.persistence.JobRunRepository().DeleteByJob(ctx, id); err != nil {
		return fmt.Errorf("failed to delete job history: %w", err)
	}

	if err := s.persistence.JobRepository().Delete(ctx, id); err != nil {
		if errors.Is(err, persistence.ErrJobNotFound) {
			return services.NewNotFoundError("DeleteJob", "JOB_NOT_FOUND",
				"job "+id+" not found", services.ErrJobNotFound)
		}

		return err
	}

	s.logger.InfoContext(ctx, "Job deleted", "job_id", id)
	s.rearmer.Rearm()

	return nil
}

// Pause takes the job out of dispatch without losing its schedule.
func (s *Service) Pause(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatusPaused
	job.UpdatedAt = s.now().UTC()

	if err := s.persistence.JobRepository().Save(ctx, job); err != nil {
		return nil, err
	}

	s.rearmer.Rearm()

	return job, nil
}

// Resume reactivates the job. The next occurrence is recomputed from
// the resume time so a stale past occurrence does not fire immediately.
func (s *Service) Resume(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job.Status = models.JobStatusActive
	job.NextRunAt = ResolveNextRunAt(job, now)
	job.UpdatedAt = now

	if err := s.persistence.JobRepository().Save(ctx, job); err != nil {
		return nil, err
	}

	s.rearmer.Rearm()

	return job, nil
}

// RunNow forces the next occurrence to the current instant; the timer
// loop picks it up on the immediate rearm.
func (s *Service) RunNow(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job.Status = models.JobStatusActive
	job.NextRunAt = &now
	job.UpdatedAt = now

	if err := s.persistence.JobRepository().Save(ctx, job); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Job queued for immediate run", "job_id", id)
	s.rearmer.Rearm()

	return job, nil
}

// History lists the job's run records.
func (s *Service) History(ctx context.Context, id string, opts persistence.ListJobRunsOptions) ([]*models.JobRun, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, services.NewValidationError("JobHistory", "INVALID_PAGINATION",
			"limit and offset must not be negative", services.ErrInvalidPagination)
	}

	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	return s.persistence.JobRunRepository().ListByJob(ctx, id, opts)
}

// ResolveNextRunAt computes the job's next occurrence strictly after
// from, with the interval grid anchored at the job's effective start.
func ResolveNextRunAt(job *models.Job, from time.Time) *time.Time {
	spec := job.Schedule

	if spec.Kind == models.ScheduleKindEvery && spec.Every != nil {
		every := *spec.Every

		if every.StartAt == nil {
			startAt := job.EffectiveStartAt()
			every.StartAt = &startAt
		}

		spec.Every = &every
	}

	next, ok := schedule.Next(spec, from)
	if !ok {
		return nil
	}

	return &next
}
