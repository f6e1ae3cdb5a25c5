package domain

import (
	"errors"
	"fmt"
)

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrNodeNotFound     = errors.New("node not found in workflow")
)

type EdgeType string

const (
	EdgeTypeDefault     EdgeType = "default"
	EdgeTypeConditional EdgeType = "conditional"
	EdgeTypeLoopBack    EdgeType = "loop-back"
)

// WorkflowDefinition is the persisted node graph produced by the authoring
// application. The engine treats it as immutable input for a run; only the
// external graph walker interprets edges.
type WorkflowDefinition struct {
	ID      string         `json:"id" yaml:"id"`
	Name    string         `json:"name" yaml:"name"`
	Version string         `json:"version" yaml:"version"`
	Nodes   []WorkflowNode `json:"nodes" yaml:"nodes"`
	Edges   []Edge         `json:"edges" yaml:"edges"`
}

// Edge connects two nodes. Edges are metadata for the graph walker, the
// executor never reads them.
type Edge struct {
	ID        string   `json:"id" yaml:"id"`
	Source    string   `json:"source" yaml:"source"`
	Target    string   `json:"target" yaml:"target"`
	Type      EdgeType `json:"type,omitempty" yaml:"type,omitempty"`
	Label     string   `json:"label,omitempty" yaml:"label,omitempty"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
}

func (d WorkflowDefinition) GetNodeByID(nodeID string) (WorkflowNode, bool) {
	for _, node := range d.Nodes {
		if node.ID == nodeID {
			return node, true
		}
	}

	return WorkflowNode{}, false
}

func (d WorkflowDefinition) GetEdgesFrom(nodeID string) []Edge {
	edges := []Edge{}

	for _, edge := range d.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// Validate checks the structural invariants of a definition: node IDs are
// unique and every edge endpoint references an existing node.
func (d WorkflowDefinition) Validate() error {
	if d.ID == "" {
		return NewConfigurationError("workflow definition has no id")
	}

	seen := map[string]struct{}{}

	for _, node := range d.Nodes {
		if node.ID == "" {
			return NewConfigurationError("workflow %s contains a node without an id", d.ID)
		}

		if _, exists := seen[node.ID]; exists {
			return NewConfigurationError("workflow %s contains duplicate node id %s", d.ID, node.ID)
		}

		seen[node.ID] = struct{}{}

		if node.Spec == nil {
			return NewConfigurationError("node %s has no kind-specific configuration", node.ID)
		}

		if err := node.Spec.Validate(); err != nil {
			return fmt.Errorf("node %s: %w", node.ID, err)
		}
	}

	for _, edge := range d.Edges {
		if _, exists := seen[edge.Source]; !exists {
			return NewConfigurationError("edge %s references unknown source node %s", edge.ID, edge.Source)
		}

		if _, exists := seen[edge.Target]; !exists {
			return NewConfigurationError("edge %s references unknown target node %s", edge.ID, edge.Target)
		}
	}

	return nil
}
