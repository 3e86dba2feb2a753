// Package flowtest is a deterministic harness for exercising workflows:
// canned node outputs keyed by workflow-local node id, invocation counting,
// expected-output verification, and a scenario builder.
package flowtest

import (
	"context"
	"sync"

	"github.com/flowkit-dev/flowkit/node"
)

// dispatchTable holds the canned responses and invocation counters shared by
// every mock node of one runner.
type dispatchTable struct {
	mu        sync.Mutex
	responses map[string]*node.Output
	calls     map[string]int
}

func newDispatchTable() *dispatchTable {
	return &dispatchTable{
		responses: make(map[string]*node.Output),
		calls:     make(map[string]int),
	}
}

func (d *dispatchTable) setResponse(nodeID string, out *node.Output) {
	d.mu.Lock()
	d.responses[nodeID] = out
	d.mu.Unlock()
}

func (d *dispatchTable) take(nodeID string) (*node.Output, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[nodeID]++
	out, ok := d.responses[nodeID]
	return out, ok
}

func (d *dispatchTable) callCount(nodeID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[nodeID]
}

// MockNode wraps a real node implementation. Metadata calls delegate to the
// wrapped node so structural validation still sees real categories; Execute
// returns the canned response for the node's workflow-local id when one is
// registered, and delegates otherwise.
type MockNode struct {
	real  node.Node
	table *dispatchTable
}

var _ node.Node = (*MockNode)(nil)

func (m *MockNode) TypeName() string               { return m.real.TypeName() }
func (m *MockNode) Category() node.Category        { return m.real.Category() }
func (m *MockNode) Subcategory() node.Subcategory  { return m.real.Subcategory() }
func (m *MockNode) ParameterSchema() map[string]any { return m.real.ParameterSchema() }
func (m *MockNode) RequiredCredentialType() string { return m.real.RequiredCredentialType() }

func (m *MockNode) ValidateParameters(params map[string]any) error {
	return m.real.ValidateParameters(params)
}

func (m *MockNode) Execute(ctx context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	if out, ok := m.table.take(nc.NodeID); ok {
		return out, nil
	}
	return m.real.Execute(ctx, nc, params)
}

// wrapRegistry installs wrapping factories for every type of the source
// registry into dst. The destination may already be wired into an engine;
// wrapping after the fact lets the engine and the node catalog reference
// each other.
func wrapRegistry(dst, source *node.Registry, table *dispatchTable) {
	for _, typeName := range source.Types() {
		typeName := typeName
		dst.Register(typeName, func() node.Node {
			real, err := source.Create(typeName)
			if err != nil {
				// The type was present at wrap time; a miss here is a bug.
				panic(err)
			}
			return &MockNode{real: real, table: table}
		})
	}
}
