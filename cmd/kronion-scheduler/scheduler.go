package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kronion-io/kronion/pkg/eventbus"
	"github.com/kronion-io/kronion/pkg/jobs"
	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
	"github.com/kronion-io/kronion/pkg/protocol"
	"github.com/kronion-io/kronion/pkg/registry"
	"github.com/kronion-io/kronion/pkg/runner"
	"github.com/kronion-io/kronion/pkg/scheduler"
	"github.com/kronion-io/kronion/pkg/triggers/queue"
	"github.com/kronion-io/kronion/pkg/workflow"
)

// rearmInterval is the safety net for writes from other processes:
// the API cannot signal this process, so the timer re-evaluates the
// earliest occurrence periodically even without a local mutation.
const rearmInterval = 30 * time.Second

// Scheduler wires the timer loop, dispatcher, run workers and queue
// trigger consumers into one service.
type Scheduler struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	backend     runner.Backend
	workers     int

	runService *workflow.RunService
	timerLoop  *scheduler.TimerLoop
	consumers  []*queue.Consumer
}

func NewScheduler(
	id string,
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	backend runner.Backend,
	workers int,
) *Scheduler {
	reg := registry.NewDefaultRegistry(logger, backend)
	engine := workflow.NewEngine(logger, store, reg, eventBus)
	runService := workflow.NewRunService(logger, store, engine)
	executor := jobs.NewExecutor(logger, store, backend)
	dispatcher := scheduler.NewDispatcher(logger, store, executor, runService)
	timerLoop := scheduler.NewTimerLoop(logger, dispatcher.EarliestNextRun, dispatcher.Dispatch)

	return &Scheduler{
		id:          id,
		logger:      logger.With("module", "scheduler_service"),
		persistence: store,
		eventBus:    eventBus,
		backend:     backend,
		workers:     workers,
		runService:  runService,
		timerLoop:   timerLoop,
	}
}

// Start runs the service until the context is cancelled or a
// termination signal arrives.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.handleSignals(cancel)

	recovered, err := workflow.RecoverInterrupted(ctx, s.logger, s.persistence, s.eventBus)
	if err != nil {
		return err
	}

	if recovered > 0 {
		s.logger.Info("Recovered interrupted runs", "count", recovered)
	}

	s.runService.StartWorkers(ctx, s.workers)
	s.timerLoop.Start(ctx)
	s.subscribeRunEvents(ctx)

	if err := s.startQueueConsumers(ctx); err != nil {
		s.logger.Error("Failed to start queue consumers", "error", err)
	}

	go s.rearmLoop(ctx)

	s.logger.Info("Scheduler started", "workers", s.workers)

	<-ctx.Done()

	s.logger.Info("Shutting down scheduler")
	s.stop()
	s.runService.Wait()

	return nil
}

func (s *Scheduler) handleSignals(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		s.logger.Info("Received signal", "signal", sig)
		cancel()
	}()
}

// subscribeRunEvents consumes the run event stream and logs every
// transition, so operators get an audit trail from the bus itself.
func (s *Scheduler) subscribeRunEvents(ctx context.Context) {
	if s.eventBus == nil {
		return
	}

	s.eventBus.HandleAll(func(ctx context.Context, event *models.RunEvent) error {
		s.logger.InfoContext(ctx, "Run event",
			"run_id", event.RunID, "event_type", event.Type)

		return nil
	})

	if err := s.eventBus.Subscribe(ctx); err != nil {
		s.logger.Error("Failed to subscribe to run events", "error", err)
	}
}

// startQueueConsumers launches one redis consumer per enabled queue
// trigger. Fired messages enter the run pipeline like any other
// trigger.
func (s *Scheduler) startQueueConsumers(ctx context.Context) error {
	workflows, err := s.persistence.WorkflowRepository().ListLatest(ctx)
	if err != nil {
		return err
	}

	var callback protocol.TriggerCallback = func(ctx context.Context, trigger *models.Trigger, payload map[string]any) error {
		_, err := s.runService.FireTrigger(ctx, trigger, payload)

		return err
	}

	for _, wf := range workflows {
		rows, err := s.persistence.TriggerRepository().ListByWorkflow(ctx, wf.ID)
		if err != nil {
			return err
		}

		for _, trigger := range rows {
			if trigger.Type != models.TriggerTypeQueue || !trigger.Enabled {
				continue
			}

			consumer, err := queue.NewConsumer(ctx, trigger, s.logger)
			if err != nil {
				s.logger.Error("Failed to create queue consumer",
					"trigger_id", trigger.ID, "error", err)

				continue
			}

			if err := consumer.Start(ctx, callback); err != nil {
				s.logger.Error("Failed to start queue consumer",
					"trigger_id", trigger.ID, "error", err)

				continue
			}

			s.consumers = append(s.consumers, consumer)
		}
	}

	s.logger.Info("Queue consumers started", "count", len(s.consumers))

	return nil
}

func (s *Scheduler) rearmLoop(ctx context.Context) {
	ticker := time.NewTicker(rearmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.timerLoop.Rearm()
		}
	}
}

func (s *Scheduler) stop() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.timerLoop.Stop()

	for _, consumer := range s.consumers {
		if err := consumer.Stop(stopCtx); err != nil {
			s.logger.Error("Failed to stop queue consumer", "error", err)
		}
	}
}
