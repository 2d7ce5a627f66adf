// Package workflow implements versioned workflow definitions and their
// execution: drafts, publishing with trigger materialization, the run
// engine and crash recovery.
package workflow

import (
	"fmt"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/services"
)

// Plan is the executable form of a published definition: a start node
// and an adjacency list with edge conditions in declaration order.
type Plan struct {
	workflow  *models.Workflow
	start     string
	nodes     map[string]*models.Node
	adjacency map[string][]*models.Edge
}

func (p *Plan) Workflow() *models.Workflow { return p.workflow }

func (p *Plan) Start() string { return p.start }

func (p *Plan) Node(id string) (*models.Node, bool) {
	node, ok := p.nodes[id]

	return node, ok
}

// Edges returns the outgoing edges of a node in declaration order.
func (p *Plan) Edges(from string) []*models.Edge {
	return p.adjacency[from]
}

// Compile validates the graph structure and builds a plan. Execution
// follows one path: from each node the first edge whose condition
// holds is taken.
func Compile(wf *models.Workflow) (*Plan, error) {
	if len(wf.Nodes) == 0 {
		return nil, services.NewValidationError("Compile", "EMPTY_GRAPH",
			"workflow has no nodes", services.ErrNodesRequired)
	}

	nodes := make(map[string]*models.Node, len(wf.Nodes))

	for _, node := range wf.Nodes {
		if _, dup := nodes[node.ID]; dup {
			return nil, invalidGraph(fmt.Sprintf("duplicate node id %q", node.ID))
		}

		nodes[node.ID] = node
	}

	adjacency := make(map[string][]*models.Edge, len(wf.Nodes))
	incoming := make(map[string]int, len(wf.Nodes))

	for _, edge := range wf.Edges {
		if _, ok := nodes[edge.From]; !ok {
			return nil, invalidGraph(fmt.Sprintf("edge %q references unknown node %q", edge.ID, edge.From))
		}

		if _, ok := nodes[edge.To]; !ok {
			return nil, invalidGraph(fmt.Sprintf("edge %q references unknown node %q", edge.ID, edge.To))
		}

		if edge.EffectiveCondition() == models.ConditionExpr && edge.Expression == "" {
			return nil, invalidGraph(fmt.Sprintf("edge %q has an expr condition without an expression", edge.ID))
		}

		adjacency[edge.From] = append(adjacency[edge.From], edge)
		incoming[edge.To]++
	}

	start := ""

	for _, node := range wf.Nodes {
		if incoming[node.ID] > 0 {
			continue
		}

		if start != "" {
			return nil, invalidGraph(fmt.Sprintf("multiple start nodes: %q and %q", start, node.ID))
		}

		start = node.ID
	}

	if start == "" {
		return nil, invalidGraph("no start node, the graph is fully cyclic")
	}

	if err := checkAcyclic(nodes, adjacency); err != nil {
		return nil, err
	}

	return &Plan{
		workflow:  wf,
		start:     start,
		nodes:     nodes,
		adjacency: adjacency,
	}, nil
}

func checkAcyclic(nodes map[string]*models.Node, adjacency map[string][]*models.Edge) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)

	state := make(map[string]int, len(nodes))

	var visit func(id string) error

	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return invalidGraph(fmt.Sprintf("cycle through node %q", id))
		case done:
			return nil
		}

		state[id] = visiting

		for _, edge := range adjacency[id] {
			if err := visit(edge.To); err != nil {
				return err
			}
		}

		state[id] = done

		return nil
	}

	for id := range nodes {
		if err := visit(id); err != nil {
			return err
		}
	}

	return nil
}

func invalidGraph(message string) error {
	return services.NewValidationError("Compile", "INVALID_GRAPH",
		message, services.ErrInvalidGraph)
}
