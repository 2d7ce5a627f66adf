package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/services"
)

func node(id string) *models.Node {
	return &models.Node{
		ID:      id,
		Name:    id,
		Kind:    models.NodeKindTransform,
		Config:  map[string]any{"expression": "ok"},
		Enabled: true,
	}
}

func edge(id, from, to string) *models.Edge {
	return &models.Edge{ID: id, From: from, To: to}
}

func TestCompileLinearGraph(t *testing.T) {
	wf := &models.Workflow{
		ID:    "wf-1",
		Nodes: []*models.Node{node("a"), node("b"), node("c")},
		Edges: []*models.Edge{edge("e1", "a", "b"), edge("e2", "b", "c")},
	}

	plan, err := Compile(wf)
	require.NoError(t, err)

	assert.Equal(t, "a", plan.Start())

	outgoing := plan.Edges("a")
	require.Len(t, outgoing, 1)
	assert.Equal(t, "b", outgoing[0].To)

	_, ok := plan.Node("c")
	assert.True(t, ok)
}

func TestCompileRejectsEmptyGraph(t *testing.T) {
	_, err := Compile(&models.Workflow{ID: "wf-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrNodesRequired))
}

func TestCompileRejectsDuplicateNodeID(t *testing.T) {
	_, err := Compile(&models.Workflow{
		Nodes: []*models.Node{node("a"), node("a")},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrInvalidGraph))
}

func TestCompileRejectsUnknownEdgeEndpoint(t *testing.T) {
	_, err := Compile(&models.Workflow{
		Nodes: []*models.Node{node("a")},
		Edges: []*models.Edge{edge("e1", "a", "ghost")},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrInvalidGraph))
}

func TestCompileRejectsExprEdgeWithoutExpression(t *testing.T) {
	_, err := Compile(&models.Workflow{
		Nodes: []*models.Node{node("a"), node("b")},
		Edges: []*models.Edge{{ID: "e1", From: "a", To: "b", Condition: models.ConditionExpr}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrInvalidGraph))
}

func TestCompileRejectsMultipleStartNodes(t *testing.T) {
	_, err := Compile(&models.Workflow{
		Nodes: []*models.Node{node("a"), node("b"), node("c")},
		Edges: []*models.Edge{edge("e1", "a", "c"), edge("e2", "b", "c")},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrInvalidGraph))
}

func TestCompileRejectsCycle(t *testing.T) {
	_, err := Compile(&models.Workflow{
		Nodes: []*models.Node{node("a"), node("b"), node("c")},
		Edges: []*models.Edge{
			edge("e1", "a", "b"),
			edge("e2", "b", "c"),
			edge("e3", "c", "b"),
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrInvalidGraph))
}
