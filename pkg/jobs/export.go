package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
	"github.com/kronion-io/kronion/pkg/services"
)

// ExportDocument is the portable image of every job and its history.
// Identifiers and timestamps are preserved verbatim, so an export
// imported elsewhere reproduces the same state.
type ExportDocument struct {
	ExportedAt time.Time        `json:"exported_at"`
	Jobs       []*models.Job    `json:"jobs"`
	Runs       []*models.JobRun `json:"runs"`
}

// ImportSummary reports what an import wrote.
type ImportSummary struct {
	Jobs int `json:"jobs"`
	Runs int `json:"runs"`
}

func (s *Service) Export(ctx context.Context) (*ExportDocument, error) {
	jobList, err := s.persistence.JobRepository().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	runs, err := s.persistence.JobRunRepository().ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}

	return &ExportDocument{
		ExportedAt: s.now().UTC(),
		Jobs:       jobList,
		Runs:       runs,
	}, nil
}

// Import writes the document's jobs and history. Without overwrite the
// import refuses to touch any existing job and fails before writing
// anything.
func (s *Service) Import(ctx context.Context, doc *ExportDocument, overwrite bool) (*ImportSummary, error) {
	if doc == nil {
		return nil, services.NewValidationError("ImportJobs", "INVALID_IMPORT",
			"import document is empty", services.ErrInvalidRequest)
	}

	jobRepo := s.persistence.JobRepository()
	runRepo := s.persistence.JobRunRepository()

	if !overwrite {
		for _, job := range doc.Jobs {
			_, err := jobRepo.GetByID(ctx, job.ID)
			if err == nil {
				return nil, &services.ServiceError{
					Op:      "ImportJobs",
					Code:    "IMPORT_CONFLICT",
					Message: "job " + job.ID + " already exists",
					Err:     services.ErrImportConflict,
				}
			}

			if !errors.Is(err, persistence.ErrJobNotFound) {
				return nil, err
			}
		}
	}

	summary := &ImportSummary{}

	for _, job := range doc.Jobs {
		if overwrite {
			if err := runRepo.DeleteByJob(ctx, job.ID); err != nil {
				return nil, fmt.Errorf("failed to clear history for job %s: %w", job.ID, err)
			}
		}

		if err := jobRepo.Save(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to import job %s: %w", job.ID, err)
		}

		summary.Jobs++
	}

	imported := make(map[string]bool, len(doc.Jobs))
	for _, job := range doc.Jobs {
		imported[job.ID] = true
	}

	for _, run := range doc.Runs {
		if !imported[run.JobID] {
			continue
		}

		if err := runRepo.Append(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to import run %s: %w", run.ID, err)
		}

		summary.Runs++
	}

	s.logger.InfoContext(ctx, "Import completed",
		"jobs", summary.Jobs, "runs", summary.Runs, "overwrite", overwrite)
	s.rearmer.Rearm()

	return summary, nil
}
