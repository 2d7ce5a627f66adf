// Package transform implements the node kind that reshapes run state
// through a template expression.
package transform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/protocol"
	"github.com/kronion-io/kronion/pkg/template"
)

func NewFactory() protocol.NodeFactory {
	return &Factory{}
}

type Factory struct{}

func (f *Factory) Kind() models.NodeKind {
	return models.NodeKindTransform
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Template evaluated against run state",
			},
		},
		"required": []any{"expression"},
	}
}

func (f *Factory) Create(logger *slog.Logger) (protocol.NodeBehavior, error) {
	return &Behavior{logger: logger.With("module", "transform_node")}, nil
}

type Behavior struct {
	logger *slog.Logger
}

func (b *Behavior) Execute(_ context.Context, node *models.Node, execCtx *protocol.ExecutionContext) (map[string]any, error) {
	expression, _ := node.Config["expression"].(string)
	if expression == "" {
		return nil, fmt.Errorf("transform node %s has no expression configured", node.ID)
	}

	result, err := template.RenderForRun(expression, execCtx.Run, execCtx.NodeOutputs)
	if err != nil {
		return nil, fmt.Errorf("failed to render expression: %w", err)
	}

	return map[string]any{"result": result}, nil
}
