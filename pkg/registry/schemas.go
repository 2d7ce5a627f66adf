package registry

import (
	"log/slog"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/nodes/agent"
	"github.com/kronion-io/kronion/pkg/nodes/delay"
	"github.com/kronion-io/kronion/pkg/nodes/transform"
	"github.com/kronion-io/kronion/pkg/runner"
)

// NewDefaultRegistry registers every built-in node kind. The backend
// may be nil for binaries that only validate definitions.
func NewDefaultRegistry(logger *slog.Logger, backend runner.Backend) *Registry {
	r := NewRegistry(logger)
	r.RegisterNode(agent.NewFactory(backend))
	r.RegisterNode(transform.NewFactory())
	r.RegisterNode(delay.NewFactory())

	return r
}

// triggerConfigSchemas validates the Config map of each trigger type.
// Schedule constraints live on TriggerSpec.Schedule, not in Config.
var triggerConfigSchemas = map[models.TriggerType]map[string]any{
	models.TriggerTypeManual: {
		"type": "object",
	},
	models.TriggerTypeSchedule: {
		"type": "object",
	},
	models.TriggerTypeWebhook: {
		"type": "object",
		"properties": map[string]any{
			"token": map[string]any{
				"type":      "string",
				"minLength": 8,
			},
		},
	},
	models.TriggerTypeQueue: {
		"type": "object",
		"properties": map[string]any{
			"queue": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"provider": map[string]any{
				"type": "string",
				"enum": []any{"redis"},
			},
			"connection": map[string]any{
				"type": "object",
			},
		},
		"required": []any{"queue"},
	},
}
