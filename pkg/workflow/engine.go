package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/kronion-io/kronion/pkg/eventbus"
	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
	"github.com/kronion-io/kronion/pkg/protocol"
	"github.com/kronion-io/kronion/pkg/registry"
	"github.com/kronion-io/kronion/pkg/template"
	trc "github.com/kronion-io/kronion/pkg/tracer"
)

var (
	errRunCancelled  = errors.New("run cancelled")
	errRuntimeBudget = errors.New("run exceeded max runtime")
)

// runControl is the handle for signalling an in-flight run. Cancel
// interrupts the current node; pause takes effect at the next node
// boundary.
type runControl struct {
	cancel context.CancelCauseFunc
	pause  atomic.Bool
}

// Engine executes queued runs node by node against the pinned
// published version. Every attempt leaves a NodeRun row and every
// state transition appends a RunEvent and publishes it on the bus.
type Engine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	bus         eventbus.EventPublisher
	tracer      oteltrace.Tracer
	now         func() time.Time

	mu       sync.Mutex
	controls map[string]*runControl
}

func NewEngine(logger *slog.Logger, p persistence.Persistence, reg *registry.Registry, bus eventbus.EventPublisher) *Engine {
	return &Engine{
		logger:      logger.With("module", "engine"),
		persistence: p,
		registry:    reg,
		bus:         bus,
		tracer:      otel.Tracer("kronion.engine"),
		now:         time.Now,
		controls:    make(map[string]*runControl),
	}
}

// Cancel interrupts an in-flight run. It reports false when the run is
// not currently executing in this process.
func (e *Engine) Cancel(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	control, ok := e.controls[runID]
	if !ok {
		return false
	}

	control.cancel(errRunCancelled)

	return true
}

// RequestPause asks an in-flight run to pause at the next node
// boundary. The current node attempt finishes undisturbed.
func (e *Engine) RequestPause(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	control, ok := e.controls[runID]
	if !ok {
		return false
	}

	control.pause.Store(true)

	return true
}

// Run drives one run to its next resting state: completed, failed,
// cancelled or paused. The returned error covers engine-level faults
// only; a failing run is recorded in the run itself.
func (e *Engine) Run(ctx context.Context, run *models.WorkflowRun) error {
	ctx, span := trc.StartSpan(ctx, e.tracer, "engine.run",
		attribute.String(trc.RunIDKey, run.ID),
		attribute.String(trc.WorkflowIDKey, run.WorkflowID),
		attribute.Int(trc.WorkflowVerKey, run.WorkflowVersion),
	)
	defer span.End()

	err := e.execute(ctx, run)
	if err != nil {
		trc.SetError(span, err, attribute.String(trc.RunIDKey, run.ID))
	}

	span.SetAttributes(attribute.String("kronion.run.status", string(run.Status)))

	return err
}

func (e *Engine) execute(ctx context.Context, run *models.WorkflowRun) error {
	wf, err := e.persistence.WorkflowRepository().GetVersion(ctx, run.WorkflowID, run.WorkflowVersion)
	if err != nil {
		return e.failRun(ctx, run, fmt.Sprintf("failed to load workflow version: %v", err))
	}

	plan, err := Compile(wf)
	if err != nil {
		return e.failRun(ctx, run, fmt.Sprintf("workflow does not compile: %v", err))
	}

	policy := wf.Defaults.Retry.OrDefault()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if maxRuntime := wf.Defaults.MaxRuntime(); maxRuntime > 0 {
		var timeoutCancel context.CancelFunc

		runCtx, timeoutCancel = context.WithTimeoutCause(runCtx, maxRuntime, errRuntimeBudget)
		defer timeoutCancel()
	}

	control := &runControl{cancel: cancel}

	e.mu.Lock()
	e.controls[run.ID] = control
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.controls, run.ID)
		e.mu.Unlock()
	}()

	resuming := run.CurrentNodeID != nil

	now := e.now().UTC()
	run.Status = models.RunStatusRunning
	run.Error = nil

	if run.StartedAt == nil {
		run.StartedAt = &now
	}

	if err := e.persistence.RunRepository().Save(ctx, run); err != nil {
		return err
	}

	if !resuming {
		e.emit(ctx, run.ID, models.EventRunStarted, nil)
	}

	nodeOutputs, err := e.rebuildOutputs(ctx, run)
	if err != nil {
		return e.failRun(ctx, run, fmt.Sprintf("failed to rebuild run state: %v", err))
	}

	current := plan.Start()
	if resuming {
		current = *run.CurrentNodeID
	}

	for current != "" {
		node, ok := plan.Node(current)
		if !ok {
			return e.failRun(ctx, run, fmt.Sprintf("run references unknown node %q", current))
		}

		if control.pause.Load() {
			return e.pauseRun(ctx, run, current, map[string]any{"reason": "requested"})
		}

		if node.RequiresApproval && !run.Approvals[node.ID] {
			return e.pauseRun(ctx, run, current, map[string]any{
				"reason":            "awaiting_approval",
				"awaiting_approval": node.ID,
			})
		}

		var output map[string]any

		if node.Enabled {
			output, err = e.executeNode(runCtx, ctx, wf, node, run, nodeOutputs, policy)
			if err != nil {
				return e.settleFailure(ctx, runCtx, run, current, node, err)
			}

			nodeOutputs[node.ID] = output
			run.Output = output
		} else {
			e.emit(ctx, run.ID, models.EventNodeSkipped, map[string]any{"node_id": node.ID})
		}

		current, err = e.nextNode(plan, node, output, run, nodeOutputs)
		if err != nil {
			return e.settleFailure(ctx, runCtx, run, node.ID, node, err)
		}
	}

	completedAt := e.now().UTC()
	run.Status = models.RunStatusCompleted
	run.CurrentNodeID = nil
	run.CompletedAt = &completedAt

	if err := e.persistence.RunRepository().Save(ctx, run); err != nil {
		return err
	}

	e.emit(ctx, run.ID, models.EventRunCompleted, map[string]any{"output": run.Output})
	e.logger.InfoContext(ctx, "Run completed", "run_id", run.ID, "workflow_id", run.WorkflowID)

	return nil
}

// executeNode runs one node under the retry policy, recording a
// NodeRun row per attempt. A run-level cancellation or timeout stops
// retrying immediately.
func (e *Engine) executeNode(
	runCtx, ctx context.Context,
	wf *models.Workflow,
	node *models.Node,
	run *models.WorkflowRun,
	nodeOutputs map[string]any,
	policy models.RetryPolicy,
) (map[string]any, error) {
	ctx, span := trc.StartSpan(ctx, e.tracer, "engine.node",
		attribute.String(trc.RunIDKey, run.ID),
		attribute.String(trc.NodeIDKey, node.ID),
	)
	defer span.End()

	behavior, err := e.registry.CreateBehavior(node.Kind)
	if err != nil {
		trc.SetError(span, err)

		return nil, err
	}

	timeout := wf.Defaults.NodeTimeout()
	if node.TimeoutMS != nil {
		timeout = time.Duration(*node.TimeoutMS) * time.Millisecond
	}

	for attempt := 1; ; attempt++ {
		startedAt := e.now().UTC()
		nodeRun := &models.NodeRun{
			ID:        "noderun-" + uuid.New().String(),
			RunID:     run.ID,
			NodeID:    node.ID,
			Attempt:   attempt,
			Status:    models.NodeRunStatusRunning,
			StartedAt: startedAt,
		}

		if err := e.persistence.NodeRunRepository().Save(ctx, nodeRun); err != nil {
			return nil, err
		}

		e.emit(ctx, run.ID, models.EventNodeStarted, map[string]any{
			"node_id": node.ID, "attempt": attempt,
		})

		attemptCtx := runCtx
		attemptCancel := func() {}

		if timeout > 0 {
			attemptCtx, attemptCancel = context.WithTimeout(runCtx, timeout)
		}

		output, execErr := behavior.Execute(attemptCtx, node, &protocol.ExecutionContext{
			Run:         run,
			NodeOutputs: nodeOutputs,
		})

		attemptCancel()

		completedAt := e.now().UTC()
		nodeRun.CompletedAt = &completedAt

		if execErr == nil {
			nodeRun.Status = models.NodeRunStatusCompleted
			nodeRun.Output = output

			if err := e.persistence.NodeRunRepository().Save(ctx, nodeRun); err != nil {
				return nil, err
			}

			e.emit(ctx, run.ID, models.EventNodeCompleted, map[string]any{
				"node_id": node.ID, "attempt": attempt,
			})

			return output, nil
		}

		message := execErr.Error()
		nodeRun.Status = models.NodeRunStatusFailed
		nodeRun.Error = &message

		if err := e.persistence.NodeRunRepository().Save(ctx, nodeRun); err != nil {
			return nil, err
		}

		e.emit(ctx, run.ID, models.EventNodeFailed, map[string]any{
			"node_id": node.ID, "attempt": attempt, "error": message,
		})

		if runCtx.Err() != nil || policy.Exhausted(attempt) {
			trc.SetError(span, execErr)

			return nil, execErr
		}

		delay := policy.Delay(attempt + 1)

		e.emit(ctx, run.ID, models.EventNodeRetrying, map[string]any{
			"node_id":      node.ID,
			"next_attempt": attempt + 1,
			"delay_ms":     delay.Milliseconds(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-runCtx.Done():
			timer.Stop()

			return nil, context.Cause(runCtx)
		case <-timer.C:
		}
	}
}

// nextNode picks the first outgoing edge whose condition holds.
func (e *Engine) nextNode(
	plan *Plan,
	node *models.Node,
	output map[string]any,
	run *models.WorkflowRun,
	nodeOutputs map[string]any,
) (string, error) {
	for _, edge := range plan.Edges(node.ID) {
		if edge.EffectiveCondition() == models.ConditionAlways {
			return edge.To, nil
		}

		rendered, err := template.RenderString(edge.Expression, map[string]any{
			"output":  output,
			"nodes":   nodeOutputs,
			"trigger": run.TriggerContext,
			"input":   run.Input,
		})
		if err != nil {
			return "", fmt.Errorf("edge %s condition failed: %w", edge.ID, err)
		}

		if isTruthy(rendered) {
			return edge.To, nil
		}
	}

	return "", nil
}

func isTruthy(value string) bool {
	switch value {
	case "true", "1", "yes":
		return true
	}

	return false
}

// settleFailure records the run's terminal (or recoverable) state
// after a node error, distinguishing cancel and runtime budget from an
// ordinary failure.
func (e *Engine) settleFailure(ctx, runCtx context.Context, run *models.WorkflowRun, nodeID string, node *models.Node, execErr error) error {
	cause := context.Cause(runCtx)

	if errors.Is(cause, errRunCancelled) {
		completedAt := e.now().UTC()
		run.Status = models.RunStatusCancelled
		run.CurrentNodeID = &nodeID
		run.CompletedAt = &completedAt

		if err := e.persistence.RunRepository().Save(ctx, run); err != nil {
			return err
		}

		e.emit(ctx, run.ID, models.EventRunCancelled, map[string]any{"node_id": nodeID})
		e.logger.InfoContext(ctx, "Run cancelled", "run_id", run.ID, "node_id", nodeID)

		return nil
	}

	message := execErr.Error()
	if errors.Is(cause, errRuntimeBudget) {
		message = errRuntimeBudget.Error()
	}

	return e.failRunAt(ctx, run, &nodeID, message)
}

func (e *Engine) failRun(ctx context.Context, run *models.WorkflowRun, message string) error {
	return e.failRunAt(ctx, run, run.CurrentNodeID, message)
}

func (e *Engine) failRunAt(ctx context.Context, run *models.WorkflowRun, nodeID *string, message string) error {
	completedAt := e.now().UTC()
	run.Status = models.RunStatusFailed
	run.CurrentNodeID = nodeID
	run.Error = &message
	run.CompletedAt = &completedAt

	if err := e.persistence.RunRepository().Save(ctx, run); err != nil {
		return err
	}

	payload := map[string]any{"error": message}
	if nodeID != nil {
		payload["node_id"] = *nodeID
	}

	e.emit(ctx, run.ID, models.EventRunFailed, payload)
	e.logger.WarnContext(ctx, "Run failed", "run_id", run.ID, "error", message)

	return nil
}

func (e *Engine) pauseRun(ctx context.Context, run *models.WorkflowRun, nodeID string, payload map[string]any) error {
	run.Status = models.RunStatusPaused
	run.CurrentNodeID = &nodeID

	if err := e.persistence.RunRepository().Save(ctx, run); err != nil {
		return err
	}

	payload["node_id"] = nodeID
	e.emit(ctx, run.ID, models.EventRunPaused, payload)
	e.logger.InfoContext(ctx, "Run paused", "run_id", run.ID, "node_id", nodeID)

	return nil
}

// rebuildOutputs reconstructs the outputs of completed nodes from the
// execution trace, so a resumed run sees the same state it paused with.
func (e *Engine) rebuildOutputs(ctx context.Context, run *models.WorkflowRun) (map[string]any, error) {
	outputs := make(map[string]any)

	if run.CurrentNodeID == nil && run.StartedAt == nil {
		return outputs, nil
	}

	trace, err := e.persistence.NodeRunRepository().ListByRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	for _, nodeRun := range trace {
		if nodeRun.Status == models.NodeRunStatusCompleted {
			outputs[nodeRun.NodeID] = mapToAny(nodeRun.Output)
		}
	}

	return outputs, nil
}

// emit appends the event to the run's audit log and publishes it on
// the bus. Audit failures are logged, not propagated: the run's own
// state remains authoritative.
func (e *Engine) emit(ctx context.Context, runID string, eventType models.RunEventType, payload map[string]any) {
	event := &models.RunEvent{
		ID:        "evt-" + uuid.New().String(),
		RunID:     runID,
		Type:      eventType,
		Timestamp: e.now().UTC(),
		Payload:   payload,
	}

	if err := e.persistence.EventRepository().Append(ctx, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to append run event",
			"run_id", runID, "event_type", eventType, "error", err)

		return
	}

	if e.bus != nil {
		if err := e.bus.Publish(ctx, event); err != nil {
			e.logger.ErrorContext(ctx, "Failed to publish run event",
				"run_id", runID, "event_type", eventType, "error", err)
		}
	}
}

func mapToAny(m map[string]any) any {
	if m == nil {
		return nil
	}

	return m
}
