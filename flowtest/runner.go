package flowtest

import (
	"context"
	"fmt"
	"reflect"

	"github.com/flowkit-dev/flowkit/engine"
	"github.com/flowkit-dev/flowkit/node"
	"github.com/flowkit-dev/flowkit/nodes"
	"github.com/flowkit-dev/flowkit/store"
	"github.com/flowkit-dev/flowkit/store/memory"
	"github.com/flowkit-dev/flowkit/workflow"
)

// TestRunner drives one workflow definition against an in-memory store and a
// registry whose nodes can be replaced with canned responses. Runs are
// deterministic: same definition, same mocks, same input, same trail.
type TestRunner struct {
	def      *workflow.Definition
	table    *dispatchTable
	st       *memory.Store
	eng      *engine.Engine
	expected map[string]any
	lastExec *store.WorkflowExecution
}

// NewTestRunner builds a runner for the definition with the full node
// catalog installed. Sub-workflow nodes resolve against the runner's own
// in-memory store, so ImportWorkflow on Store makes children callable.
func NewTestRunner(def *workflow.Definition) *TestRunner {
	st := memory.New()
	table := newDispatchTable()

	// The engine executes through the wrapping registry while the catalog
	// nodes (execute_workflow in particular) call back into the engine.
	wrapped := node.NewRegistry()
	eng := engine.New(st, wrapped)
	real := node.NewRegistry()
	nodes.Register(real, nodes.Deps{Runner: eng, Store: st})
	wrapRegistry(wrapped, real, table)

	return &TestRunner{
		def:      def,
		table:    table,
		st:       st,
		eng:      eng,
		expected: make(map[string]any),
	}
}

// Store exposes the runner's in-memory store for seeding sub-workflows or
// inspecting the persisted trail.
func (r *TestRunner) Store() *memory.Store { return r.st }

// SetMockResponse replaces the node with the given workflow-local id with a
// canned output for every invocation.
func (r *TestRunner) SetMockResponse(nodeID string, out *node.Output) {
	r.table.setResponse(nodeID, out)
}

// ExpectOutput records an expected output payload for the node, checked by
// Verify after Run.
func (r *TestRunner) ExpectOutput(nodeID string, want any) {
	r.expected[nodeID] = want
}

// CallCount reports how many times the node was invoked across runs.
func (r *TestRunner) CallCount(nodeID string) int {
	return r.table.callCount(nodeID)
}

// Run executes the definition with the given input and returns the terminal
// execution record.
func (r *TestRunner) Run(ctx context.Context, input any) (*store.WorkflowExecution, error) {
	wf, err := r.st.ImportWorkflow(ctx, r.def)
	if err != nil {
		return nil, fmt.Errorf("import workflow: %w", err)
	}
	exec, err := r.eng.Execute(ctx, r.def, wf.ID, input)
	if err != nil {
		return nil, err
	}
	r.lastExec = exec
	return exec, nil
}

// Verify checks every expectation against the last run: the node must have
// executed successfully and its persisted output must equal the expected
// payload.
func (r *TestRunner) Verify(ctx context.Context) error {
	if r.lastExec == nil {
		return fmt.Errorf("no run to verify")
	}
	records, err := r.st.ListNodeExecutions(ctx, r.lastExec.ID)
	if err != nil {
		return fmt.Errorf("list node executions: %w", err)
	}
	byNode := make(map[string]*store.NodeExecution, len(records))
	for _, rec := range records {
		byNode[rec.NodeID] = rec
	}
	for nodeID, want := range r.expected {
		rec, ok := byNode[nodeID]
		if !ok {
			return fmt.Errorf("node %q never executed", nodeID)
		}
		if rec.Status != store.StatusSuccess {
			return fmt.Errorf("node %q finished %s: %s", nodeID, rec.Status, rec.Error)
		}
		if !reflect.DeepEqual(rec.OutputData, want) {
			return fmt.Errorf("node %q output mismatch: got %v, want %v", nodeID, rec.OutputData, want)
		}
	}
	return nil
}
