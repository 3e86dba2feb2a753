// Package engine executes workflow definitions: it plans a topological
// order, routes inputs along edges, runs each node, persists every state
// transition, and reports the final result as a WorkflowExecution record.
//
// The engine never raises run failures back to the caller. Every entry point
// returns a record whose status and error fields carry the outcome; only
// infrastructure failures (a Store that cannot even create the run record)
// surface as errors.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flowkit-dev/flowkit/engine/breaker"
	"github.com/flowkit-dev/flowkit/node"
	"github.com/flowkit-dev/flowkit/store"
	"github.com/flowkit-dev/flowkit/telemetry"
	"github.com/flowkit-dev/flowkit/workflow"
)

// ErrNoExecution is returned by Cancel when the execution is unknown or
// already finished.
var ErrNoExecution = errors.New("no running execution")

// Engine runs workflows against a store and a node registry. It is safe for
// concurrent use; any number of runs may proceed at once.
type Engine struct {
	store    store.Store
	registry *node.Registry
	circuits breaker.CircuitRegistry

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	strictParams bool

	waits *waitRegistry

	mu      sync.Mutex
	cancels map[string]*cancelFlag
}

type cancelFlag struct {
	mu  sync.Mutex
	set bool
}

func (c *cancelFlag) cancel() {
	c.mu.Lock()
	c.set = true
	c.mu.Unlock()
}

func (c *cancelFlag) cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics recorder. Defaults to a no-op recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer. Defaults to a no-op tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithCircuits sets the circuit registry shared by circuit_breaker scopes.
// Defaults to a fresh in-process registry.
func WithCircuits(c breaker.CircuitRegistry) Option {
	return func(e *Engine) { e.circuits = c }
}

// WithStrictParameterValidation makes the engine validate every node's
// parameters against its ValidateParameters and ParameterSchema before
// executing it.
func WithStrictParameterValidation() Option {
	return func(e *Engine) { e.strictParams = true }
}

// New creates an engine.
func New(st store.Store, registry *node.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		registry: registry,
		circuits: breaker.NewRegistry(),
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
		tracer:   telemetry.NewNoopTracer(),
		waits:    newWaitRegistry(),
		cancels:  make(map[string]*cancelFlag),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Circuits exposes the engine's circuit registry, so callers can snapshot
// circuit state for observability.
func (e *Engine) Circuits() breaker.CircuitRegistry { return e.circuits }

// breadcrumbKey carries the ids of workflows active on the current call
// chain, to refuse accidental self-recursion through execute_workflow.
type breadcrumbKey struct{}

func activeWorkflows(ctx context.Context) []string {
	ids, _ := ctx.Value(breadcrumbKey{}).([]string)
	return ids
}

func withWorkflow(ctx context.Context, id string) context.Context {
	ids := activeWorkflows(ctx)
	return context.WithValue(ctx, breadcrumbKey{}, append(append([]string(nil), ids...), id))
}

// Execute runs a definition and returns the terminal WorkflowExecution
// record. The returned error is non-nil only for infrastructure failures
// that prevented the record itself from being created or finalized.
func (e *Engine) Execute(ctx context.Context, def *workflow.Definition, workflowID string, input any) (*store.WorkflowExecution, error) {
	for _, id := range activeWorkflows(ctx) {
		if id == workflowID && id != "" {
			return nil, fmt.Errorf("workflow %q is already active on this call chain", workflowID)
		}
	}
	ctx = withWorkflow(ctx, workflowID)

	exec, err := e.store.CreateWorkflowExecution(ctx, &store.WorkflowExecution{
		WorkflowID: workflowID,
		Status:     store.StatusRunning,
		InputData:  input,
	})
	if err != nil {
		return nil, fmt.Errorf("create execution record: %w", err)
	}

	flag := &cancelFlag{}
	e.mu.Lock()
	e.cancels[exec.ID] = flag
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, exec.ID)
		e.mu.Unlock()
	}()

	e.logger.Info(ctx, "workflow execution started",
		"execution_id", exec.ID, "workflow_id", workflowID, "workflow", def.Name)
	started := time.Now()

	output, runErr := e.run(ctx, def, exec, input, flag)

	e.metrics.RecordTimer("workflow.execution.duration", time.Since(started), "workflow", def.Name)
	return e.finalize(ctx, exec, output, runErr, def.Name)
}

func (e *Engine) finalize(ctx context.Context, exec *store.WorkflowExecution, output any, runErr error, name string) (*store.WorkflowExecution, error) {
	switch {
	case errors.Is(runErr, errCancelled):
		// Cancel already flipped the record.
		e.metrics.IncCounter("workflow.executions", 1, "workflow", name, "status", string(store.StatusCancelled))
		rec, err := e.store.GetWorkflowExecution(ctx, exec.ID)
		if err != nil {
			return nil, fmt.Errorf("load cancelled execution: %w", err)
		}
		return rec, nil
	case runErr != nil:
		e.logger.Error(ctx, "workflow execution failed",
			"execution_id", exec.ID, "workflow", name, "err", runErr.Error())
		e.metrics.IncCounter("workflow.executions", 1, "workflow", name, "status", string(store.StatusFailed))
		rec, err := e.store.UpdateWorkflowExecutionStatus(ctx, exec.ID, store.StatusFailed, nil, runErr.Error())
		if err != nil {
			return nil, fmt.Errorf("finalize failed execution: %w", err)
		}
		return rec, nil
	default:
		e.logger.Info(ctx, "workflow execution succeeded", "execution_id", exec.ID, "workflow", name)
		e.metrics.IncCounter("workflow.executions", 1, "workflow", name, "status", string(store.StatusSuccess))
		rec, err := e.store.UpdateWorkflowExecutionStatus(ctx, exec.ID, store.StatusSuccess, output, "")
		if err != nil {
			return nil, fmt.Errorf("finalize succeeded execution: %w", err)
		}
		return rec, nil
	}
}

// ExecuteByID loads a stored workflow and runs it. A missing workflow still
// produces a Failed execution record rather than an error.
func (e *Engine) ExecuteByID(ctx context.Context, workflowID string, input any) (*store.WorkflowExecution, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.failedRun(ctx, workflowID, fmt.Sprintf("workflow %q not found", workflowID), input)
		}
		return nil, fmt.Errorf("load workflow %q: %w", workflowID, err)
	}
	return e.Execute(ctx, definitionOf(wf), wf.ID, input)
}

// ExecuteByName resolves a stored workflow by name and runs it.
func (e *Engine) ExecuteByName(ctx context.Context, name string, input any) (*store.WorkflowExecution, error) {
	wf, err := e.store.GetWorkflowByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.failedRun(ctx, "", fmt.Sprintf("workflow %q not found", name), input)
		}
		return nil, fmt.Errorf("load workflow %q: %w", name, err)
	}
	return e.Execute(ctx, definitionOf(wf), wf.ID, input)
}

// failedRun creates an execution record that is born failed, for lookups
// that miss before any node could run.
func (e *Engine) failedRun(ctx context.Context, workflowID, msg string, input any) (*store.WorkflowExecution, error) {
	exec, err := e.store.CreateWorkflowExecution(ctx, &store.WorkflowExecution{
		WorkflowID: workflowID,
		Status:     store.StatusRunning,
		InputData:  input,
	})
	if err != nil {
		return nil, fmt.Errorf("create execution record: %w", err)
	}
	rec, err := e.store.UpdateWorkflowExecutionStatus(ctx, exec.ID, store.StatusFailed, nil, msg)
	if err != nil {
		return nil, fmt.Errorf("finalize failed execution: %w", err)
	}
	return rec, nil
}

// GetExecution returns the execution record by id.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*store.WorkflowExecution, error) {
	return e.store.GetWorkflowExecution(ctx, executionID)
}

// Cancel flips a running execution to Cancelled and raises its cancellation
// flag. The engine honors the flag at the next node boundary; an in-flight
// node is not interrupted.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	flag, ok := e.cancels[executionID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoExecution, executionID)
	}
	flag.cancel()
	if _, err := e.store.UpdateWorkflowExecutionStatus(ctx, executionID, store.StatusCancelled, nil, "execution cancelled"); err != nil {
		return fmt.Errorf("record cancellation: %w", err)
	}
	e.logger.Warn(ctx, "workflow execution cancelled", "execution_id", executionID)
	return nil
}

// ResumeByWebhook routes a delivered payload to the suspended run waiting on
// waitID. It returns store.ErrNotFound when no run is waiting.
func (e *Engine) ResumeByWebhook(_ context.Context, waitID string, payload any) error {
	return e.waits.resolve(waitID, payload)
}

// ActiveWaits lists the wait points currently suspending runs.
func (e *Engine) ActiveWaits() []WaitInfo {
	return e.waits.active()
}

func definitionOf(wf *store.Workflow) *workflow.Definition {
	return &workflow.Definition{
		Name:        wf.Name,
		Description: wf.Description,
		Nodes:       wf.Nodes,
		Edges:       wf.Edges,
	}
}
