// Package delay implements the node kind that waits a configured
// duration before the run continues.
package delay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/protocol"
)

func NewFactory() protocol.NodeFactory {
	return &Factory{}
}

type Factory struct{}

func (f *Factory) Kind() models.NodeKind {
	return models.NodeKindDelay
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration_ms": map[string]any{
				"type":    "integer",
				"minimum": 0,
			},
		},
		"required": []any{"duration_ms"},
	}
}

func (f *Factory) Create(logger *slog.Logger) (protocol.NodeBehavior, error) {
	return &Behavior{logger: logger.With("module", "delay_node")}, nil
}

type Behavior struct {
	logger *slog.Logger
}

func (b *Behavior) Execute(ctx context.Context, node *models.Node, _ *protocol.ExecutionContext) (map[string]any, error) {
	duration, err := durationFromConfig(node.Config)
	if err != nil {
		return nil, fmt.Errorf("delay node %s: %w", node.ID, err)
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return map[string]any{"waited_ms": duration.Milliseconds()}, nil
}

func durationFromConfig(config map[string]any) (time.Duration, error) {
	raw, ok := config["duration_ms"]
	if !ok {
		return 0, fmt.Errorf("duration_ms is required")
	}

	var ms int64

	switch v := raw.(type) {
	case int:
		ms = int64(v)
	case int64:
		ms = v
	case float64:
		ms = int64(v)
	default:
		return 0, fmt.Errorf("duration_ms must be a number, got %T", raw)
	}

	if ms < 0 {
		return 0, fmt.Errorf("duration_ms must not be negative")
	}

	return time.Duration(ms) * time.Millisecond, nil
}
