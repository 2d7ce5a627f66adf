package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kronion-io/kronion/pkg/eventbus"
	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
)

// RecoverInterrupted sweeps runs stranded in running state by a process
// crash and parks them as failed_recoverable. Their CurrentNodeID
// checkpoint stays intact, so a later resume continues from the last
// completed node instead of starting over. Called once at startup,
// before workers begin claiming runs.
func RecoverInterrupted(ctx context.Context, logger *slog.Logger, p persistence.Persistence, bus eventbus.EventPublisher) (int, error) {
	interrupted, err := p.RunRepository().ListByStatus(ctx, models.RunStatusRunning)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()

	for _, run := range interrupted {
		run.Status = models.RunStatusFailedRecoverable
		message := "run interrupted by process restart"
		run.Error = &message

		if err := p.RunRepository().Save(ctx, run); err != nil {
			return 0, err
		}

		event := &models.RunEvent{
			ID:        "evt-" + uuid.New().String(),
			RunID:     run.ID,
			Type:      models.EventRunRecovered,
			Timestamp: now,
			Payload:   map[string]any{"checkpoint": run.CurrentNodeID},
		}

		if err := p.EventRepository().Append(ctx, event); err != nil {
			logger.ErrorContext(ctx, "Failed to append recovery event",
				"run_id", run.ID, "error", err)
		} else if bus != nil {
			if err := bus.Publish(ctx, event); err != nil {
				logger.ErrorContext(ctx, "Failed to publish recovery event",
					"run_id", run.ID, "error", err)
			}
		}

		logger.WarnContext(ctx, "Recovered interrupted run",
			"run_id", run.ID, "workflow_id", run.WorkflowID)
	}

	return len(interrupted), nil
}
