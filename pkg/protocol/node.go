// Package protocol defines the contracts between the workflow engine
// and pluggable node behaviors and trigger sources.
package protocol

import (
	"context"
	"log/slog"

	"github.com/kronion-io/kronion/pkg/models"
)

// ExecutionContext is the run state visible to a node while executing.
type ExecutionContext struct {
	Run *models.WorkflowRun

	// NodeOutputs holds the output of every node that already
	// completed in this run, keyed by node ID.
	NodeOutputs map[string]any
}

// NodeBehavior executes one node attempt. Output becomes visible to
// downstream nodes; a returned error is subject to the retry policy.
type NodeBehavior interface {
	Execute(ctx context.Context, node *models.Node, execCtx *ExecutionContext) (map[string]any, error)
}

// NodeFactory creates behaviors for one node kind and describes the
// configuration it accepts.
type NodeFactory interface {
	// Kind returns the node kind this factory builds.
	Kind() models.NodeKind

	// Schema returns the JSON Schema for the node's config map.
	Schema() map[string]any

	// Create builds a behavior instance.
	Create(logger *slog.Logger) (NodeBehavior, error)
}
