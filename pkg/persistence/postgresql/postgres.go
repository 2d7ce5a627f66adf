// Package postgresql provides PostgreSQL persistence for the scheduling core.
// Entities are stored as JSONB documents with the columns the scheduler
// queries (status, next_run_at, ownership) extracted for indexing; claims use
// row locks so due work is consumed exactly once.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // database/sql driver

	"github.com/kronion-io/kronion/pkg/persistence"
	"github.com/kronion-io/kronion/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	workflowRepo *WorkflowRepository
	triggerRepo  *TriggerRepository
	runRepo      *RunRepository
	nodeRunRepo  *NodeRunRepository
	eventRepo    *EventRepository
	jobRepo      *JobRepository
	jobRunRepo   *JobRunRepository
}

// NewPersistence connects, migrates and returns a PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	p := &Persistence{db: database, logger: logger}
	p.workflowRepo = &WorkflowRepository{db: database, logger: logger}
	p.triggerRepo = &TriggerRepository{db: database, logger: logger}
	p.runRepo = &RunRepository{db: database, logger: logger}
	p.nodeRunRepo = &NodeRunRepository{db: database, logger: logger}
	p.eventRepo = &EventRepository{db: database, logger: logger}
	p.jobRepo = &JobRepository{db: database, logger: logger}
	p.jobRunRepo = &JobRunRepository{db: database, logger: logger}

	return p, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
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
