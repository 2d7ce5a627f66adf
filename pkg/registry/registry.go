// Package registry maps node kinds to behavior factories and validates
// node configuration against each factory's JSON Schema.
package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/protocol"
)

type Registry struct {
	logger    *slog.Logger
	factories map[models.NodeKind]protocol.NodeFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[models.NodeKind]protocol.NodeFactory),
	}
}

func (r *Registry) RegisterNode(factory protocol.NodeFactory) {
	r.factories[factory.Kind()] = factory
}

// CreateBehavior builds the behavior for a node kind.
func (r *Registry) CreateBehavior(kind models.NodeKind) (protocol.NodeBehavior, error) {
	factory, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("node kind '%s' not registered", kind)
	}

	return factory.Create(r.logger)
}

// ValidateNodeConfig checks a node's config against its kind's schema.
func (r *Registry) ValidateNodeConfig(node *models.Node) error {
	factory, ok := r.factories[node.Kind]
	if !ok {
		return fmt.Errorf("node kind '%s' not registered", node.Kind)
	}

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	if err := validateAgainstSchema(factory.Schema(), config); err != nil {
		return fmt.Errorf("node %s: %w", node.ID, err)
	}

	return nil
}

// ValidateTriggerConfig checks a trigger spec's config against the
// schema for its type.
func (r *Registry) ValidateTriggerConfig(spec *models.TriggerSpec) error {
	schema, ok := triggerConfigSchemas[spec.Type]
	if !ok {
		return fmt.Errorf("trigger type '%s' not registered", spec.Type)
	}

	config := spec.Config
	if config == nil {
		config = map[string]any{}
	}

	if err := validateAgainstSchema(schema, config); err != nil {
		return fmt.Errorf("trigger %s: %w", spec.ID, err)
	}

	return nil
}

func validateAgainstSchema(schema, data map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			messages = append(messages, resultError.String())
		}

		return fmt.Errorf("config validation failed: %s", strings.Join(messages, "; "))
	}

	return nil
}
