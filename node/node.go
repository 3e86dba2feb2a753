// Package node defines the contract every workflow node implements and the
// registry that maps node type names to factories.
//
// A node is a typed, parameterized unit of work. The engine instantiates a
// fresh node per invocation via the Registry, builds a Context from upstream
// outputs, and calls Execute. Nodes report their outcome through Output;
// returning an error from Execute and returning Output{Success: false} have
// the same outward effect on the run.
package node

import (
	"context"
	"sort"
)

// Category classifies where a node may appear in a workflow graph. Only
// Trigger nodes may start a workflow.
type Category string

const (
	// CategoryTrigger marks nodes that may appear at source positions.
	CategoryTrigger Category = "trigger"
	// CategoryAction marks nodes that perform work mid-graph.
	CategoryAction Category = "action"
	// CategoryControl marks nodes whose behavior is part of the engine
	// (conditionals, scopes, sub-workflow invocation).
	CategoryControl Category = "control"
)

// Subcategory is an open, informational classification used for UI grouping.
// It is never enforced by the engine.
type Subcategory string

const (
	SubcategoryAI            Subcategory = "ai"
	SubcategoryDatabase      Subcategory = "database"
	SubcategoryStorage       Subcategory = "storage"
	SubcategoryCommunication Subcategory = "communication"
	SubcategoryGeneral       Subcategory = "general"
)

type (
	// Context carries the per-invocation state handed to a node's Execute.
	Context struct {
		// ExecutionID is the workflow execution UUID (string form).
		ExecutionID string
		// NodeID is the workflow-local id of the node being executed.
		NodeID string
		// Inputs maps input-port labels to upstream outputs, populated
		// from incoming edges.
		Inputs map[string]any
		// Variables is the run-scoped scratch space. It contains the
		// run's input under the key "input" when the caller supplied one.
		Variables map[string]any
	}

	// Output is the result of a node invocation.
	Output struct {
		// Success reports whether the node completed its work.
		Success bool `json:"success"`
		// Data is the node's output payload. Only meaningful when
		// Success is true.
		Data any `json:"data,omitempty"`
		// Error is a human-readable failure message, set when Success
		// is false.
		Error string `json:"error,omitempty"`
	}

	// Node is the contract every workflow node implements. Execute may be
	// long-running and perform I/O; it must be safe to invoke concurrently
	// on distinct instances. The Registry hands out a fresh instance per
	// Create so implementations may keep per-invocation state in fields.
	Node interface {
		// TypeName returns the registry key for this node type.
		TypeName() string
		// Category reports the structural category of the node.
		Category() Category
		// Subcategory reports the informational subcategory.
		Subcategory() Subcategory
		// ParameterSchema returns a JSON-Schema-shaped description of the
		// node's parameters. Informational; not enforced by the engine
		// unless strict validation is enabled.
		ParameterSchema() map[string]any
		// RequiredCredentialType names the credential kind the node needs
		// at execution time, or "" when none. Informational.
		RequiredCredentialType() string
		// ValidateParameters checks the parameter payload for structural
		// problems before execution.
		ValidateParameters(params map[string]any) error
		// Execute runs the node against the given context and parameters.
		Execute(ctx context.Context, nc *Context, params map[string]any) (*Output, error)
	}
)

// MainInput returns the node's primary input: the single input when exactly
// one edge feeds the node, otherwise the value under the lexically smallest
// port label. Returns nil when the node has no inputs. The deterministic
// tie-break keeps repeated runs byte-identical regardless of map iteration
// order.
func (c *Context) MainInput() any {
	if len(c.Inputs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Inputs))
	for k := range c.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return c.Inputs[keys[0]]
}

// Success wraps data in a successful Output.
func Success(data any) *Output {
	return &Output{Success: true, Data: data}
}

// Fail builds a failed Output with the given message.
func Fail(msg string) *Output {
	return &Output{Success: false, Error: msg}
}
