package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowkit-dev/flowkit/node"
	"github.com/flowkit-dev/flowkit/nodes"
	"github.com/flowkit-dev/flowkit/store"
	"github.com/flowkit-dev/flowkit/store/memory"
	"github.com/flowkit-dev/flowkit/workflow"
)

// scriptedNode runs a caller-provided function, for failure injection.
type scriptedNode struct {
	typeName string
	category node.Category
	fn       func(ctx context.Context, nc *node.Context) (*node.Output, error)
}

func (s *scriptedNode) TypeName() string               { return s.typeName }
func (s *scriptedNode) Category() node.Category        { return s.category }
func (s *scriptedNode) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (s *scriptedNode) ParameterSchema() map[string]any { return map[string]any{"type": "object"} }
func (s *scriptedNode) RequiredCredentialType() string { return "" }
func (s *scriptedNode) ValidateParameters(map[string]any) error { return nil }
func (s *scriptedNode) Execute(ctx context.Context, nc *node.Context, _ map[string]any) (*node.Output, error) {
	return s.fn(ctx, nc)
}

func newTestEngine(t *testing.T) (*Engine, *memory.Store, *node.Registry) {
	t.Helper()
	st := memory.New()
	reg := node.NewRegistry()
	eng := New(st, reg)
	nodes.Register(reg, nodes.Deps{Runner: eng, Store: st})
	return eng, st, reg
}

func registerScripted(reg *node.Registry, typeName string, fn func(ctx context.Context, nc *node.Context) (*node.Output, error)) {
	reg.Register(typeName, func() node.Node {
		return &scriptedNode{typeName: typeName, category: node.CategoryAction, fn: fn}
	})
}

func linearDef(types map[string]string, chain ...string) *workflow.Definition {
	def := &workflow.Definition{Name: "test"}
	for _, id := range chain {
		def.Nodes = append(def.Nodes, workflow.NodeDefinition{ID: id, Type: types[id]})
	}
	for i := 0; i+1 < len(chain); i++ {
		def.Edges = append(def.Edges, workflow.EdgeDefinition{From: chain[i], To: chain[i+1]})
	}
	return def
}

func TestExecuteLinearSuccess(t *testing.T) {
	eng, st, _ := newTestEngine(t)

	def := &workflow.Definition{
		Name: "linear",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "A", Type: "transform", Parameters: map[string]any{"template": map[string]any{"doubled": "{{x}}"}}},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "A"}},
	}

	exec, err := eng.Execute(context.Background(), def, "wf-1", map[string]any{"x": float64(1)})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusSuccess {
		t.Fatalf("expected success, got %q (%s)", exec.Status, exec.Error)
	}
	if exec.FinishedAt == nil {
		t.Fatal("terminal execution must carry finished_at")
	}
	out := exec.OutputData.(map[string]any)
	if out["doubled"] != float64(1) {
		t.Fatalf("unexpected run output: %#v", exec.OutputData)
	}

	recs, err := st.ListNodeExecutions(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("list node executions: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected one record per node, got %d", len(recs))
	}
	for _, rec := range recs {
		if rec.Status != store.StatusSuccess || rec.FinishedAt == nil {
			t.Fatalf("node record not finalized: %+v", rec)
		}
		if rec.FinishedAt.Before(rec.StartedAt) {
			t.Fatalf("finished before started: %+v", rec)
		}
	}
	if recs[0].NodeID != "T" || recs[1].NodeID != "A" {
		t.Fatalf("unexpected node order: %+v", recs)
	}
}

func TestExecuteMidRunFailureStopsDownstream(t *testing.T) {
	eng, st, reg := newTestEngine(t)
	registerScripted(reg, "ok", func(_ context.Context, nc *node.Context) (*node.Output, error) {
		return node.Success(map[string]any{"ok": true}), nil
	})
	registerScripted(reg, "boom", func(_ context.Context, _ *node.Context) (*node.Output, error) {
		return node.Fail("boom"), nil
	})

	def := linearDef(map[string]string{"T": "manual_trigger", "A": "ok", "B": "boom", "C": "ok"}, "T", "A", "B", "C")
	exec, err := eng.Execute(context.Background(), def, "wf-1", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusFailed || !strings.Contains(exec.Error, "boom") {
		t.Fatalf("expected failed run carrying boom, got %q %q", exec.Status, exec.Error)
	}

	recs, _ := st.ListNodeExecutions(context.Background(), exec.ID)
	byNode := map[string]*store.NodeExecution{}
	for _, rec := range recs {
		byNode[rec.NodeID] = rec
	}
	if byNode["C"] != nil {
		t.Fatal("downstream node must never be invoked after a failure")
	}
	if byNode["B"] == nil || byNode["B"].Status != store.StatusFailed || byNode["B"].Error != "boom" {
		t.Fatalf("failing node record wrong: %+v", byNode["B"])
	}

	failed := 0
	for _, rec := range recs {
		if rec.Status == store.StatusFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected exactly one failed node record, got %d", failed)
	}
}

func TestExecuteRaisedErrorEqualsFailureOutput(t *testing.T) {
	eng, _, reg := newTestEngine(t)
	registerScripted(reg, "raise", func(_ context.Context, _ *node.Context) (*node.Output, error) {
		return nil, errors.New("raised")
	})
	def := linearDef(map[string]string{"T": "manual_trigger", "R": "raise"}, "T", "R")
	exec, err := eng.Execute(context.Background(), def, "wf-1", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusFailed || !strings.Contains(exec.Error, "raised") {
		t.Fatalf("raised errors must fail the run: %q %q", exec.Status, exec.Error)
	}
}

func TestExecuteUnknownNodeTypeFailsRun(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	def := linearDef(map[string]string{"T": "manual_trigger", "X": "no_such_type"}, "T", "X")
	exec, err := eng.Execute(context.Background(), def, "wf-1", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusFailed || !strings.Contains(exec.Error, "no_such_type") {
		t.Fatalf("expected unknown type failure, got %q %q", exec.Status, exec.Error)
	}
}

func TestExecuteCycleFailsRun(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	def := &workflow.Definition{
		Name: "cyclic",
		Nodes: []workflow.NodeDefinition{
			{ID: "a", Type: "transform"},
			{ID: "b", Type: "transform"},
		},
		Edges: []workflow.EdgeDefinition{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}
	exec, err := eng.Execute(context.Background(), def, "wf-1", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusFailed || !strings.Contains(exec.Error, "cycle") {
		t.Fatalf("expected cycle failure, got %q %q", exec.Status, exec.Error)
	}
}

func TestInputRoutingUsesEdgeKeys(t *testing.T) {
	eng, _, reg := newTestEngine(t)
	var seen map[string]any
	var mu sync.Mutex
	registerScripted(reg, "probe", func(_ context.Context, nc *node.Context) (*node.Output, error) {
		mu.Lock()
		seen = nc.Inputs
		mu.Unlock()
		return node.Success(nil), nil
	})

	def := &workflow.Definition{
		Name: "routing",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "P", Type: "probe"},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "P", ToInput: "payload"}},
	}
	if _, err := eng.Execute(context.Background(), def, "wf-1", map[string]any{"k": "v"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, ok := seen["payload"]; !ok {
		t.Fatalf("expected to_input key to route the upstream output, got %#v", seen)
	}
}

func TestSetVariableVisibleDownstream(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	def := &workflow.Definition{
		Name: "vars",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "S", Type: "set_variable", Parameters: map[string]any{"name": "greeting", "value": "hello"}},
			{ID: "R", Type: "transform", Parameters: map[string]any{"template": map[string]any{"msg": "{{$greeting}}"}}},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "S"}, {From: "S", To: "R"}},
	}
	exec, err := eng.Execute(context.Background(), def, "wf-1", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusSuccess {
		t.Fatalf("run failed: %s", exec.Error)
	}
	if exec.OutputData.(map[string]any)["msg"] != "hello" {
		t.Fatalf("set_variable binding must be visible downstream, got %#v", exec.OutputData)
	}
}

func TestTryCatchScopeCatchesDownstreamFailure(t *testing.T) {
	eng, st, reg := newTestEngine(t)
	registerScripted(reg, "boom", func(_ context.Context, _ *node.Context) (*node.Output, error) {
		return node.Fail("boom"), nil
	})

	def := &workflow.Definition{
		Name: "guarded",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "G", Type: "try_catch", Parameters: map[string]any{"error_strategy": "catch", "default_value": map[string]any{"fallback": true}}},
			{ID: "B", Type: "boom"},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "G"}, {From: "G", To: "B"}},
	}
	exec, err := eng.Execute(context.Background(), def, "wf-1", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusSuccess {
		t.Fatalf("try_catch must keep the run alive, got %q %q", exec.Status, exec.Error)
	}
	if exec.OutputData.(map[string]any)["fallback"] != true {
		t.Fatalf("expected default_value as output, got %#v", exec.OutputData)
	}

	recs, _ := st.ListNodeExecutions(context.Background(), exec.ID)
	if len(recs) != 3 {
		t.Fatalf("expected all three node records, got %d", len(recs))
	}
}

func TestTryCatchLogStrategyRecordsFailureButContinues(t *testing.T) {
	eng, st, reg := newTestEngine(t)
	registerScripted(reg, "boom", func(_ context.Context, _ *node.Context) (*node.Output, error) {
		return node.Fail("boom"), nil
	})
	registerScripted(reg, "after", func(_ context.Context, _ *node.Context) (*node.Output, error) {
		return node.Success(map[string]any{"reached": true}), nil
	})

	def := &workflow.Definition{
		Name: "logged",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "G", Type: "try_catch", Parameters: map[string]any{"error_strategy": "log"}},
			{ID: "B", Type: "boom"},
			{ID: "C", Type: "after"},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "G"}, {From: "G", To: "B"}, {From: "B", To: "C"}},
	}
	exec, err := eng.Execute(context.Background(), def, "wf-1", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusSuccess {
		t.Fatalf("log strategy must continue the run, got %q %q", exec.Status, exec.Error)
	}
	recs, _ := st.ListNodeExecutions(context.Background(), exec.ID)
	var boomRec *store.NodeExecution
	for _, rec := range recs {
		if rec.NodeID == "B" {
			boomRec = rec
		}
	}
	if boomRec == nil || boomRec.Status != store.StatusFailed || boomRec.Error != "boom" {
		t.Fatalf("log strategy must keep the failure on record: %+v", boomRec)
	}
}

func TestTimeoutScopeDefaultPolicy(t *testing.T) {
	eng, _, reg := newTestEngine(t)
	registerScripted(reg, "slow", func(ctx context.Context, _ *node.Context) (*node.Output, error) {
		select {
		case <-time.After(5 * time.Second):
			return node.Success(nil), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	def := &workflow.Definition{
		Name: "bounded",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "L", Type: "timeout", Parameters: map[string]any{
				"timeout_milliseconds": 50, "on_timeout": "default", "default_value": map[string]any{"timed_out": true},
			}},
			{ID: "S", Type: "slow"},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "L"}, {From: "L", To: "S"}},
	}
	exec, err := eng.Execute(context.Background(), def, "wf-1", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusSuccess {
		t.Fatalf("default policy must succeed, got %q %q", exec.Status, exec.Error)
	}
	if exec.OutputData.(map[string]any)["timed_out"] != true {
		t.Fatalf("expected default value, got %#v", exec.OutputData)
	}
}

func TestRetryScopeRetriesUntilSuccess(t *testing.T) {
	eng, _, reg := newTestEngine(t)
	var mu sync.Mutex
	calls := 0
	registerScripted(reg, "flaky", func(_ context.Context, _ *node.Context) (*node.Output, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return node.Fail("transient"), nil
		}
		return node.Success(map[string]any{"calls": calls}), nil
	})

	def := &workflow.Definition{
		Name: "retried",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "R", Type: "retry", Parameters: map[string]any{"max_attempts": 3}},
			{ID: "F", Type: "flaky"},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "R"}, {From: "R", To: "F"}},
	}
	exec, err := eng.Execute(context.Background(), def, "wf-1", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusSuccess {
		t.Fatalf("retry scope must absorb transient failures, got %q %q", exec.Status, exec.Error)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestCircuitBreakerScopeFailsFastWhenOpen(t *testing.T) {
	eng, _, reg := newTestEngine(t)
	registerScripted(reg, "down", func(_ context.Context, _ *node.Context) (*node.Output, error) {
		return node.Fail("connection refused"), nil
	})

	def := &workflow.Definition{
		Name: "breaker",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "CB", Type: "circuit_breaker", Parameters: map[string]any{"failure_threshold": 1, "circuit_id": "svc"}},
			{ID: "D", Type: "down"},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "CB"}, {From: "CB", To: "D"}},
	}

	first, err := eng.Execute(context.Background(), def, "wf-1", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if first.Status != store.StatusFailed {
		t.Fatal("first run must fail and trip the circuit")
	}

	second, err := eng.Execute(context.Background(), def, "wf-1", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if second.Status != store.StatusFailed || !strings.Contains(second.Error, "open") {
		t.Fatalf("second run must fail fast on the open circuit, got %q %q", second.Status, second.Error)
	}
}

func TestExecuteByIDNotFoundProducesFailedRecord(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	exec, err := eng.ExecuteByID(context.Background(), "missing-id", nil)
	if err != nil {
		t.Fatalf("lookup misses must not surface as errors: %v", err)
	}
	if exec.Status != store.StatusFailed || !strings.Contains(exec.Error, "missing-id") {
		t.Fatalf("expected failed record naming the id, got %q %q", exec.Status, exec.Error)
	}
	if exec.FinishedAt == nil {
		t.Fatal("failed record must carry finished_at")
	}
}

func TestExecuteByNameRunsStoredWorkflow(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	if _, err := st.ImportWorkflow(context.Background(), &workflow.Definition{
		Name:  "stored",
		Nodes: []workflow.NodeDefinition{{ID: "T", Type: "manual_trigger"}},
	}); err != nil {
		t.Fatalf("import: %v", err)
	}
	exec, err := eng.ExecuteByName(context.Background(), "stored", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusSuccess {
		t.Fatalf("stored workflow must run, got %q %q", exec.Status, exec.Error)
	}
}

func TestSubWorkflowWaitTrue(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := st.ImportWorkflow(ctx, &workflow.Definition{
		Name: "child",
		Nodes: []workflow.NodeDefinition{
			{ID: "CT", Type: "manual_trigger"},
			{ID: "CA", Type: "transform", Parameters: map[string]any{"template": map[string]any{"n": float64(42)}}},
		},
		Edges: []workflow.EdgeDefinition{{From: "CT", To: "CA"}},
	}); err != nil {
		t.Fatalf("import child: %v", err)
	}

	parent := &workflow.Definition{
		Name: "parent",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "E", Type: "execute_workflow", Parameters: map[string]any{"workflow_name": "child"}},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "E"}},
	}
	exec, err := eng.Execute(ctx, parent, "wf-parent", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusSuccess {
		t.Fatalf("parent failed: %s", exec.Error)
	}
	out := exec.OutputData.(map[string]any)
	if out["status"] != "success" {
		t.Fatalf("unexpected sub-workflow output: %#v", out)
	}
	if out["output"].(map[string]any)["n"] != float64(42) {
		t.Fatalf("child output not propagated: %#v", out)
	}

	child, err := st.GetWorkflowByName(ctx, "child")
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	subs, err := st.ListWorkflowExecutions(ctx, child.ID, 0)
	if err != nil {
		t.Fatalf("list child executions: %v", err)
	}
	if len(subs) != 1 || subs[0].Status != store.StatusSuccess {
		t.Fatalf("child run must be persisted and successful: %+v", subs)
	}
}

func TestSelfRecursionRefused(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	wf, err := st.ImportWorkflow(ctx, &workflow.Definition{
		Name: "ouroboros",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "E", Type: "execute_workflow", Parameters: map[string]any{"workflow_name": "ouroboros"}},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "E"}},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	exec, err := eng.ExecuteByID(ctx, wf.ID, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusFailed || !strings.Contains(exec.Error, "already active") {
		t.Fatalf("expected recursion refusal, got %q %q", exec.Status, exec.Error)
	}
}

func TestCancelBetweenNodes(t *testing.T) {
	eng, _, reg := newTestEngine(t)
	entered := make(chan string, 1)
	release := make(chan struct{})
	registerScripted(reg, "gate", func(_ context.Context, nc *node.Context) (*node.Output, error) {
		entered <- nc.ExecutionID
		<-release
		return node.Success(nil), nil
	})
	registerScripted(reg, "never", func(_ context.Context, _ *node.Context) (*node.Output, error) {
		t.Error("node after cancellation must not run")
		return node.Success(nil), nil
	})

	def := linearDef(map[string]string{"T": "manual_trigger", "G": "gate", "N": "never"}, "T", "G", "N")

	done := make(chan *store.WorkflowExecution, 1)
	go func() {
		exec, _ := eng.Execute(context.Background(), def, "wf-1", nil)
		done <- exec
	}()

	execID := <-entered
	if err := eng.Cancel(context.Background(), execID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(release)

	exec := <-done
	if exec.Status != store.StatusCancelled {
		t.Fatalf("expected cancelled record, got %q %q", exec.Status, exec.Error)
	}
}

func TestCancelDuringFinalNodeStaysCancelled(t *testing.T) {
	eng, st, reg := newTestEngine(t)
	entered := make(chan string, 1)
	release := make(chan struct{})
	registerScripted(reg, "gate", func(_ context.Context, nc *node.Context) (*node.Output, error) {
		entered <- nc.ExecutionID
		<-release
		return node.Success(map[string]any{"done": true}), nil
	})

	def := linearDef(map[string]string{"T": "manual_trigger", "G": "gate"}, "T", "G")

	done := make(chan *store.WorkflowExecution, 1)
	go func() {
		exec, _ := eng.Execute(context.Background(), def, "wf-1", nil)
		done <- exec
	}()

	execID := <-entered
	if err := eng.Cancel(context.Background(), execID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(release)

	exec := <-done
	if exec.Status != store.StatusCancelled {
		t.Fatalf("expected cancelled record, got %q %q", exec.Status, exec.Error)
	}
	rec, err := st.GetWorkflowExecution(context.Background(), execID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if rec.Status != store.StatusCancelled {
		t.Fatalf("cancelled record was overwritten: final status %q", rec.Status)
	}
}

func TestCancelUnknownExecution(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	if err := eng.Cancel(context.Background(), "nope"); !errors.Is(err, ErrNoExecution) {
		t.Fatalf("expected ErrNoExecution, got %v", err)
	}
}

func TestWaitForWebhookResume(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	def := &workflow.Definition{
		Name: "waiting",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "W", Type: "wait_for_webhook", Parameters: map[string]any{"wait_id": "tok-1", "timeout_seconds": 30}},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "W"}},
	}

	done := make(chan *store.WorkflowExecution, 1)
	go func() {
		exec, _ := eng.Execute(context.Background(), def, "wf-1", nil)
		done <- exec
	}()

	deadline := time.After(2 * time.Second)
	for len(eng.ActiveWaits()) == 0 {
		select {
		case <-deadline:
			t.Fatal("run never suspended")
		case <-time.After(5 * time.Millisecond):
		}
	}
	waits := eng.ActiveWaits()
	if waits[0].WaitID != "tok-1" || waits[0].Path != "/webhook/resume/tok-1" {
		t.Fatalf("unexpected wait info: %+v", waits[0])
	}

	payload := map[string]any{"approved": true}
	if err := eng.ResumeByWebhook(context.Background(), "tok-1", payload); err != nil {
		t.Fatalf("resume: %v", err)
	}

	exec := <-done
	if exec.Status != store.StatusSuccess {
		t.Fatalf("resumed run must succeed, got %q %q", exec.Status, exec.Error)
	}
	if exec.OutputData.(map[string]any)["approved"] != true {
		t.Fatalf("delivered payload must become the node output, got %#v", exec.OutputData)
	}
	if len(eng.ActiveWaits()) != 0 {
		t.Fatal("wait point must be removed after resumption")
	}
}

func TestWaitForWebhookTimeout(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	def := &workflow.Definition{
		Name: "expiring",
		Nodes: []workflow.NodeDefinition{
			{ID: "T", Type: "manual_trigger"},
			{ID: "W", Type: "wait_for_webhook", Parameters: map[string]any{"wait_id": "tok-2", "timeout_seconds": 1}},
		},
		Edges: []workflow.EdgeDefinition{{From: "T", To: "W"}},
	}
	exec, err := eng.Execute(context.Background(), def, "wf-1", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != store.StatusFailed {
		t.Fatalf("expected timeout failure, got %q", exec.Status)
	}
	if !strings.Contains(exec.Error, "tok-2") {
		t.Fatalf("timeout error must name the wait id, got %q", exec.Error)
	}
}

func TestResumeUnknownWaitID(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	err := eng.ResumeByWebhook(context.Background(), "ghost", nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentRunsShareEngine(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	def := linearDef(map[string]string{"T": "manual_trigger"}, "T")

	var wg sync.WaitGroup
	errs := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exec, err := eng.Execute(context.Background(), def, "wf-1", map[string]any{"i": 1})
			if err != nil {
				errs <- err.Error()
				return
			}
			if exec.Status != store.StatusSuccess {
				errs <- exec.Error
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatalf("concurrent run failed: %s", msg)
	}
}
