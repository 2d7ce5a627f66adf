// Package agent implements the node kind that renders a prompt and
// hands it to the execution backend.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/protocol"
	"github.com/kronion-io/kronion/pkg/runner"
	"github.com/kronion-io/kronion/pkg/template"
)

// NewFactory returns the agent node factory bound to a backend.
func NewFactory(backend runner.Backend) protocol.NodeFactory {
	return &Factory{backend: backend}
}

type Factory struct {
	backend runner.Backend
}

func (f *Factory) Kind() models.NodeKind {
	return models.NodeKindAgent
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Prompt template rendered against run state",
			},
			"working_dir": map[string]any{"type": "string"},
			"model":       map[string]any{"type": "string"},
			"session_id":  map[string]any{"type": "string"},
		},
		"required": []any{"prompt"},
	}
}

func (f *Factory) Create(logger *slog.Logger) (protocol.NodeBehavior, error) {
	if f.backend == nil {
		return nil, errors.New("agent node requires an execution backend")
	}

	return &Behavior{
		backend: f.backend,
		logger:  logger.With("module", "agent_node"),
	}, nil
}

type Behavior struct {
	backend runner.Backend
	logger  *slog.Logger
}

func (b *Behavior) Execute(ctx context.Context, node *models.Node, execCtx *protocol.ExecutionContext) (map[string]any, error) {
	promptTemplate, _ := node.Config["prompt"].(string)
	if promptTemplate == "" {
		return nil, fmt.Errorf("agent node %s has no prompt configured", node.ID)
	}

	prompt, err := template.RenderString(promptTemplate, map[string]any{
		"trigger": execCtx.Run.TriggerContext,
		"input":   execCtx.Run.Input,
		"nodes":   execCtx.NodeOutputs,
		"run": map[string]any{
			"id":          execCtx.Run.ID,
			"workflow_id": execCtx.Run.WorkflowID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	opts := runner.Options{}
	if workingDir, ok := node.Config["working_dir"].(string); ok {
		opts.WorkingDir = workingDir
	}

	if model, ok := node.Config["model"].(string); ok {
		opts.Model = model
	}

	if sessionID, ok := node.Config["session_id"].(string); ok {
		opts.SessionID = sessionID
	}

	b.logger.InfoContext(ctx, "Executing agent node",
		"node_id", node.ID,
		"run_id", execCtx.Run.ID,
	)

	result, err := b.backend.Execute(ctx, prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("backend execution failed: %w", err)
	}

	output := map[string]any{
		"content": result.Content,
	}
	if result.SessionID != "" {
		output["session_id"] = result.SessionID
	}

	if result.PromptTokens > 0 || result.CompletionTokens > 0 {
		output["prompt_tokens"] = result.PromptTokens
		output["completion_tokens"] = result.CompletionTokens
	}

	return output, nil
}
