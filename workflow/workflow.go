// Package workflow defines the author-facing workflow model: a named directed
// acyclic graph of typed, parameterized nodes connected by edges. It provides
// strict YAML parsing of definition documents and structural validation
// (unique ids, resolvable edge endpoints, acyclicity, trigger-first
// placement).
package workflow

type (
	// Definition is the author-authored shape of a workflow, typically
	// loaded from a YAML document.
	Definition struct {
		// Name identifies the workflow. Must be non-empty.
		Name string `yaml:"name" json:"name"`
		// Description is optional free-form documentation.
		Description string `yaml:"description,omitempty" json:"description,omitempty"`
		// Nodes is the ordered sequence of node definitions.
		Nodes []NodeDefinition `yaml:"nodes" json:"nodes"`
		// Edges wires node outputs to downstream node inputs.
		Edges []EdgeDefinition `yaml:"edges,omitempty" json:"edges,omitempty"`
	}

	// NodeDefinition declares a single node instance within a workflow.
	NodeDefinition struct {
		// ID is the workflow-local identifier. Unique within the workflow.
		ID string `yaml:"id" json:"id"`
		// Type is the registry key naming the node implementation.
		Type string `yaml:"node_type" json:"node_type"`
		// Name is the human label.
		Name string `yaml:"name,omitempty" json:"name,omitempty"`
		// Parameters is the opaque parameter payload, validated by the
		// node implementation.
		Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	}

	// EdgeDefinition wires one node's output port to another node's input
	// port.
	EdgeDefinition struct {
		// From is the source node id.
		From string `yaml:"from" json:"from"`
		// To is the target node id.
		To string `yaml:"to" json:"to"`
		// FromOutput optionally names the source output port. Empty means
		// the main output.
		FromOutput string `yaml:"from_output,omitempty" json:"from_output,omitempty"`
		// ToInput optionally names the target input port. Empty means the
		// source node's id is used as the input key.
		ToInput string `yaml:"to_input,omitempty" json:"to_input,omitempty"`
	}
)

// InputKey returns the label under which the edge's payload appears in the
// target node's inputs: ToInput when set, otherwise the source node id.
func (e EdgeDefinition) InputKey() string {
	if e.ToInput != "" {
		return e.ToInput
	}
	return e.From
}

// NodeByID returns the node definition with the given id, or nil.
func (d *Definition) NodeByID(id string) *NodeDefinition {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}
