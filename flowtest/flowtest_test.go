package flowtest

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/flowkit-dev/flowkit/node"
	"github.com/flowkit-dev/flowkit/store"
	"github.com/flowkit-dev/flowkit/workflow"
)

// pipelineDef is a trigger feeding a mocked fetch step feeding a transform
// that extracts a field from the fetch output.
func pipelineDef() *workflow.Definition {
	return &workflow.Definition{
		Name: "pipeline",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "fetch", Type: "transform", Parameters: map[string]any{"template": map[string]any{"n": 0}}},
			{ID: "extract", Type: "transform", Parameters: map[string]any{"expression": "n"}},
		},
		Edges: []workflow.EdgeDefinition{
			{From: "T", To: "fetch"},
			{From: "fetch", To: "extract"},
		},
	}
}

func TestMockedOutputFlowsDownstream(t *testing.T) {
	runner := NewTestRunner(pipelineDef())
	runner.SetMockResponse("fetch", node.Success(map[string]any{"n": float64(42)}))

	exec, err := runner.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.Status != store.StatusSuccess {
		t.Fatalf("run finished %s: %s", exec.Status, exec.Error)
	}
	if exec.OutputData != float64(42) {
		t.Fatalf("expected mocked value to flow to the last node, got %v", exec.OutputData)
	}
	if got := runner.CallCount("fetch"); got != 1 {
		t.Fatalf("fetch invoked %d times, expected 1", got)
	}
	if got := runner.CallCount("extract"); got != 1 {
		t.Fatalf("extract invoked %d times, expected 1", got)
	}
}

func TestUnmockedNodesRunForReal(t *testing.T) {
	def := &workflow.Definition{
		Name: "literal",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "shape", Type: "transform", Parameters: map[string]any{
				"template": map[string]any{"greeting": "hello"},
			}},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "shape"}},
	}
	runner := NewTestRunner(def)

	exec, err := runner.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := map[string]any{"greeting": "hello"}
	if !reflect.DeepEqual(exec.OutputData, want) {
		t.Fatalf("real transform did not run, got %v", exec.OutputData)
	}
}

func TestVerifyChecksPersistedOutputs(t *testing.T) {
	runner := NewTestRunner(pipelineDef())
	runner.SetMockResponse("fetch", node.Success(map[string]any{"n": float64(7)}))
	runner.ExpectOutput("fetch", map[string]any{"n": float64(7)})
	runner.ExpectOutput("extract", float64(7))

	if _, err := runner.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := runner.Verify(context.Background()); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyReportsMismatch(t *testing.T) {
	runner := NewTestRunner(pipelineDef())
	runner.SetMockResponse("fetch", node.Success(map[string]any{"n": float64(7)}))
	runner.ExpectOutput("extract", float64(99))

	if _, err := runner.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	err := runner.Verify(context.Background())
	if err == nil {
		t.Fatal("expected a mismatch error")
	}
	if !strings.Contains(err.Error(), "extract") {
		t.Fatalf("error must name the node, got %v", err)
	}
}

func TestVerifyBeforeRunFails(t *testing.T) {
	runner := NewTestRunner(pipelineDef())
	if err := runner.Verify(context.Background()); err == nil {
		t.Fatal("expected an error before any run")
	}
}

func TestCallCountAccumulatesAcrossRuns(t *testing.T) {
	runner := NewTestRunner(pipelineDef())
	runner.SetMockResponse("fetch", node.Success(map[string]any{"n": float64(1)}))
	for i := 0; i < 3; i++ {
		if _, err := runner.Run(context.Background(), nil); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if got := runner.CallCount("fetch"); got != 3 {
		t.Fatalf("fetch invoked %d times, expected 3", got)
	}
}

func TestScenarioPasses(t *testing.T) {
	result := NewScenario("happy path", pipelineDef()).
		MockResponse("fetch", node.Success(map[string]any{"n": float64(5)})).
		ExpectOutput("extract", float64(5)).
		Run(context.Background())
	if !result.Passed {
		t.Fatalf("scenario failed: %s", result.Message)
	}
	if result.Name != "happy path" {
		t.Fatalf("result carries wrong name %q", result.Name)
	}
}

func TestScenarioReportsExpectationFailure(t *testing.T) {
	result := NewScenario("mismatch", pipelineDef()).
		MockResponse("fetch", node.Success(map[string]any{"n": float64(5)})).
		ExpectOutput("extract", float64(6)).
		Run(context.Background())
	if result.Passed {
		t.Fatal("scenario must fail on an output mismatch")
	}
	if !strings.Contains(result.Message, "extract") {
		t.Fatalf("message must name the node, got %q", result.Message)
	}
}

func TestScenarioReportsRunFailure(t *testing.T) {
	result := NewScenario("boom", pipelineDef()).
		MockResponse("fetch", node.Fail("upstream exploded")).
		Run(context.Background())
	if result.Passed {
		t.Fatal("scenario must fail when the run fails")
	}
	if !strings.Contains(result.Message, "upstream exploded") {
		t.Fatalf("message must carry the failure, got %q", result.Message)
	}
}

func TestScenarioDeterministicAcrossRuns(t *testing.T) {
	build := func() TestResult {
		return NewScenario("repeat", pipelineDef()).
			MockResponse("fetch", node.Success(map[string]any{"n": float64(3)})).
			ExpectOutput("extract", float64(3)).
			Run(context.Background())
	}
	first := build()
	for i := 0; i < 5; i++ {
		again := build()
		if again != first {
			t.Fatalf("results diverged: %+v vs %+v", first, again)
		}
	}
}
