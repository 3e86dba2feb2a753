package flowtest

import (
	"context"
	"fmt"

	"github.com/flowkit-dev/flowkit/node"
	"github.com/flowkit-dev/flowkit/store"
	"github.com/flowkit-dev/flowkit/workflow"
)

type (
	// Scenario is a declarative test case for one workflow: an input, a set
	// of mocked node responses, and the outputs expected from named nodes.
	Scenario struct {
		name    string
		def     *workflow.Definition
		input   any
		mocks   map[string]*node.Output
		expects map[string]any
	}

	// TestResult is the outcome of running a scenario.
	TestResult struct {
		Name    string `json:"name"`
		Passed  bool   `json:"passed"`
		Message string `json:"message,omitempty"`
	}
)

// NewScenario starts a scenario for the definition.
func NewScenario(name string, def *workflow.Definition) *Scenario {
	return &Scenario{
		name:    name,
		def:     def,
		mocks:   make(map[string]*node.Output),
		expects: make(map[string]any),
	}
}

// WithInput sets the run input.
func (s *Scenario) WithInput(input any) *Scenario {
	s.input = input
	return s
}

// MockResponse replaces the node with a canned output.
func (s *Scenario) MockResponse(nodeID string, out *node.Output) *Scenario {
	s.mocks[nodeID] = out
	return s
}

// ExpectOutput asserts the node's persisted output payload.
func (s *Scenario) ExpectOutput(nodeID string, want any) *Scenario {
	s.expects[nodeID] = want
	return s
}

// Run executes the scenario on a fresh runner and reports the outcome. A
// scenario passes when the run finishes successfully and every expectation
// holds.
func (s *Scenario) Run(ctx context.Context) TestResult {
	runner := NewTestRunner(s.def)
	for nodeID, out := range s.mocks {
		runner.SetMockResponse(nodeID, out)
	}
	for nodeID, want := range s.expects {
		runner.ExpectOutput(nodeID, want)
	}

	exec, err := runner.Run(ctx, s.input)
	if err != nil {
		return TestResult{Name: s.name, Message: fmt.Sprintf("run: %v", err)}
	}
	if exec.Status != store.StatusSuccess {
		return TestResult{Name: s.name, Message: fmt.Sprintf("run finished %s: %s", exec.Status, exec.Error)}
	}
	if err := runner.Verify(ctx); err != nil {
		return TestResult{Name: s.name, Message: err.Error()}
	}
	return TestResult{Name: s.name, Passed: true}
}
