package engine

import (
	"errors"
	"fmt"

	"github.com/flowkit-dev/flowkit/workflow"
)

// ErrCycleDetected is returned when planning finds a cycle the validator
// should have caught.
var ErrCycleDetected = errors.New("cycle detected")

// planOrder computes a topological order over the definition's nodes via
// Kahn's algorithm. The ready list is seeded in definition order and popped
// LIFO; callers must not rely on the relative order of independent nodes.
func planOrder(def *workflow.Definition) ([]string, error) {
	successors := make(map[string][]string, len(def.Nodes))
	indegree := make(map[string]int, len(def.Nodes))
	for _, n := range def.Nodes {
		indegree[n.ID] = 0
	}
	for _, edge := range def.Edges {
		successors[edge.From] = append(successors[edge.From], edge.To)
		indegree[edge.To]++
	}

	ready := make([]string, 0, len(def.Nodes))
	for _, n := range def.Nodes {
		if indegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}

	order := make([]string, 0, len(def.Nodes))
	for len(ready) > 0 {
		id := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		order = append(order, id)
		for _, next := range successors[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(def.Nodes) {
		return nil, fmt.Errorf("%w: %d of %d nodes unreachable through edges", ErrCycleDetected, len(def.Nodes)-len(order), len(def.Nodes))
	}
	return order, nil
}
