package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/protocol"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	return NewDefaultRegistry(slog.Default(), nil)
}

func TestValidateNodeConfigAccepts(t *testing.T) {
	r := newTestRegistry(t)

	err := r.ValidateNodeConfig(&models.Node{
		ID:   "n1",
		Kind: models.NodeKindTransform,
		Config: map[string]any{
			"expression": "{{.trigger.city}}",
		},
	})
	require.NoError(t, err)
}

func TestValidateNodeConfigRejectsMissingRequired(t *testing.T) {
	r := newTestRegistry(t)

	err := r.ValidateNodeConfig(&models.Node{
		ID:     "n1",
		Kind:   models.NodeKindAgent,
		Config: map[string]any{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestValidateNodeConfigUnknownKind(t *testing.T) {
	r := NewRegistry(slog.Default())

	err := r.ValidateNodeConfig(&models.Node{ID: "n1", Kind: "ftp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestValidateTriggerConfig(t *testing.T) {
	r := newTestRegistry(t)

	err := r.ValidateTriggerConfig(&models.TriggerSpec{
		ID:     "t1",
		Type:   models.TriggerTypeQueue,
		Config: map[string]any{"queue": "runs"},
	})
	require.NoError(t, err)

	err = r.ValidateTriggerConfig(&models.TriggerSpec{
		ID:   "t2",
		Type: models.TriggerTypeQueue,
	})
	require.Error(t, err)
}

func TestCreateBehaviorDelayHonorsConfig(t *testing.T) {
	r := newTestRegistry(t)

	behavior, err := r.CreateBehavior(models.NodeKindDelay)
	require.NoError(t, err)

	node := &models.Node{
		ID:     "wait",
		Kind:   models.NodeKindDelay,
		Config: map[string]any{"duration_ms": float64(1)},
	}

	output, err := behavior.Execute(context.Background(), node, &protocol.ExecutionContext{
		Run: &models.WorkflowRun{ID: "r1"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, output["waited_ms"])
}
