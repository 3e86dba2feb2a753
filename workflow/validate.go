package workflow

import (
	"errors"
	"fmt"

	"github.com/flowkit-dev/flowkit/node"
)

// ErrCycle is wrapped by validation and planning errors when the workflow
// graph contains a directed cycle.
var ErrCycle = errors.New("workflow contains a cycle")

// Validate checks the structural invariants that do not require a node
// registry: at least one node, unique node ids, resolvable edge endpoints,
// and acyclicity. The first violation found is returned with the offending
// node or edge named.
func (d *Definition) Validate() error {
	if len(d.Nodes) == 0 {
		return errors.New("workflow has no nodes")
	}

	ids := make(map[string]struct{}, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return errors.New("node with empty id")
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		ids[n.ID] = struct{}{}
	}

	for _, e := range d.Edges {
		if _, ok := ids[e.From]; !ok {
			return fmt.Errorf("edge references unknown source node %q", e.From)
		}
		if _, ok := ids[e.To]; !ok {
			return fmt.Errorf("edge references unknown target node %q", e.To)
		}
	}

	return d.checkAcyclic()
}

// ValidateWithRegistry runs Validate and additionally enforces trigger-first
// placement: every node with no incoming edges must instantiate to a
// Trigger-category node, and at least one such starting node must exist.
func (d *Definition) ValidateWithRegistry(reg *node.Registry) error {
	if err := d.Validate(); err != nil {
		return err
	}

	hasIncoming := make(map[string]bool, len(d.Nodes))
	for _, e := range d.Edges {
		hasIncoming[e.To] = true
	}

	var starters []NodeDefinition
	for _, n := range d.Nodes {
		if !hasIncoming[n.ID] {
			starters = append(starters, n)
		}
	}
	if len(starters) == 0 {
		return errors.New("workflow has no starting node")
	}

	for _, n := range starters {
		inst, err := reg.Create(n.Type)
		if err != nil {
			return fmt.Errorf("starting node %q: %w", n.ID, err)
		}
		if inst.Category() != node.CategoryTrigger {
			return fmt.Errorf("starting node %q has type %q with category %q; workflows must start with a trigger", n.ID, n.Type, inst.Category())
		}
	}
	return nil
}

// checkAcyclic detects cycles via depth-first traversal with a recursion
// stack. A back-edge to a node on the stack is a cycle.
func (d *Definition) checkAcyclic() error {
	adj := make(map[string][]string, len(d.Nodes))
	for _, e := range d.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on recursion stack
		black = 2 // done
	)
	color := make(map[string]int, len(d.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				return fmt.Errorf("%w: node %q revisited", ErrCycle, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, n := range d.Nodes {
		if color[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
