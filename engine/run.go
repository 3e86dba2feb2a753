package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowkit-dev/flowkit/engine/breaker"
	"github.com/flowkit-dev/flowkit/node"
	"github.com/flowkit-dev/flowkit/nodes/control"
	"github.com/flowkit-dev/flowkit/schema"
	"github.com/flowkit-dev/flowkit/store"
	"github.com/flowkit-dev/flowkit/workflow"
)

// errCancelled aborts the node loop when the run's cancellation flag is
// raised. Cancel has already flipped the record by then.
var errCancelled = errors.New("execution cancelled")

// runScopes holds the policies installed by upstream control nodes. A scope
// applies to every step after the node that installed it, in planned order.
type runScopes struct {
	tryCatch *control.TryCatchPolicy
	timeout  *control.TimeoutPolicy
	retry    *control.RetryPolicy
	breaker  *control.BreakerPolicy
}

// run executes the node loop and returns the run's output value.
func (e *Engine) run(ctx context.Context, def *workflow.Definition, exec *store.WorkflowExecution, input any, flag *cancelFlag) (any, error) {
	order, err := planOrder(def)
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]any, len(order))
	variables := map[string]any{}
	if input != nil {
		variables["input"] = input
	}
	scopes := runScopes{}

	for _, id := range order {
		if flag.cancelled() {
			return nil, errCancelled
		}
		nodeDef := def.NodeByID(id)
		if nodeDef == nil {
			return nil, fmt.Errorf("planned node %q missing from definition", id)
		}

		outData, err := e.step(ctx, def, exec, nodeDef, outputs, variables, &scopes)
		if err != nil {
			return nil, err
		}
		outputs[id] = outData

		switch nodeDef.Type {
		case "set_variable":
			if name, value, ok := control.VariableBinding(node.Success(outData)); ok {
				variables[name] = value
			}
		case "try_catch":
			if p, err := control.TryCatchPolicyFromParams(nodeDef.Parameters); err == nil {
				scopes.tryCatch = &p
			}
		case "timeout":
			if p, err := control.TimeoutPolicyFromParams(nodeDef.Parameters); err == nil {
				scopes.timeout = &p
			}
		case "retry":
			if p, err := control.RetryPolicyFromParams(nodeDef.Parameters); err == nil {
				scopes.retry = &p
			}
		case "circuit_breaker":
			if p, err := control.BreakerPolicyFromParams(nodeDef.Parameters, nodeDef.ID); err == nil {
				scopes.breaker = &p
			}
		}
	}

	// A cancellation that landed while the final node was in flight must not
	// be finalized as a success.
	if flag.cancelled() {
		return nil, errCancelled
	}

	last := order[len(order)-1]
	out, ok := outputs[last]
	if !ok || out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// step runs one node: persist the Running record, build the context, invoke
// the node through the active scopes, and persist the outcome. The returned
// error aborts the run.
func (e *Engine) step(ctx context.Context, def *workflow.Definition, exec *store.WorkflowExecution, nodeDef *workflow.NodeDefinition, outputs map[string]any, variables map[string]any, scopes *runScopes) (any, error) {
	inputs := map[string]any{}
	for _, edge := range def.Edges {
		if edge.To != nodeDef.ID {
			continue
		}
		if src, ok := outputs[edge.From]; ok {
			inputs[edge.InputKey()] = src
		}
	}

	rec, err := e.store.CreateNodeExecution(ctx, &store.NodeExecution{
		ExecutionID: exec.ID,
		NodeID:      nodeDef.ID,
		Status:      store.StatusRunning,
		InputData:   inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("persist node execution for %q: %w", nodeDef.ID, err)
	}

	nc := &node.Context{
		ExecutionID: exec.ID,
		NodeID:      nodeDef.ID,
		Inputs:      inputs,
		Variables:   copyVariables(variables),
	}

	ctx, span := e.tracer.Start(ctx, "engine.node", trace.WithSpanKind(trace.SpanKindInternal))
	out, execErr := e.runNode(ctx, exec, rec, nodeDef, nc, scopes)
	span.End()

	var msg string
	switch {
	case execErr != nil:
		msg = execErr.Error()
	case out == nil || !out.Success:
		msg = "Unknown error"
		if out != nil && out.Error != "" {
			msg = out.Error
		}
	}

	if msg == "" {
		if _, err := e.store.UpdateNodeExecutionStatus(ctx, rec.ID, store.StatusSuccess, out.Data, ""); err != nil {
			return nil, fmt.Errorf("persist node success for %q: %w", nodeDef.ID, err)
		}
		return out.Data, nil
	}

	span.SetStatus(codes.Error, msg)
	if tc := scopes.tryCatch; tc != nil && tc.ContinueOnError {
		return e.catchFailure(ctx, rec, nodeDef, tc, msg)
	}

	if _, err := e.store.UpdateNodeExecutionStatus(ctx, rec.ID, store.StatusFailed, nil, msg); err != nil {
		return nil, fmt.Errorf("persist node failure for %q: %w", nodeDef.ID, err)
	}
	e.metrics.IncCounter("workflow.node.failures", 1, "node_type", nodeDef.Type)
	return nil, errors.New(msg)
}

// catchFailure applies the active try_catch strategy to a failed step and
// keeps the run alive.
func (e *Engine) catchFailure(ctx context.Context, rec *store.NodeExecution, nodeDef *workflow.NodeDefinition, tc *control.TryCatchPolicy, msg string) (any, error) {
	switch tc.Strategy {
	case "ignore":
		empty := map[string]any{}
		if _, err := e.store.UpdateNodeExecutionStatus(ctx, rec.ID, store.StatusSuccess, empty, ""); err != nil {
			return nil, fmt.Errorf("persist caught failure for %q: %w", nodeDef.ID, err)
		}
		return empty, nil
	case "log":
		e.logger.Warn(ctx, "node failure caught by try_catch",
			"node_id", nodeDef.ID, "node_type", nodeDef.Type, "err", msg)
		if _, err := e.store.UpdateNodeExecutionStatus(ctx, rec.ID, store.StatusFailed, nil, msg); err != nil {
			return nil, fmt.Errorf("persist caught failure for %q: %w", nodeDef.ID, err)
		}
		return map[string]any{}, nil
	default: // catch
		substitute := tc.DefaultValue
		if substitute == nil {
			substitute = map[string]any{}
		}
		if _, err := e.store.UpdateNodeExecutionStatus(ctx, rec.ID, store.StatusSuccess, substitute, ""); err != nil {
			return nil, fmt.Errorf("persist caught failure for %q: %w", nodeDef.ID, err)
		}
		return substitute, nil
	}
}

// runNode instantiates the node and invokes it through the active scopes.
// wait_for_webhook steps suspend here instead of executing.
func (e *Engine) runNode(ctx context.Context, exec *store.WorkflowExecution, rec *store.NodeExecution, nodeDef *workflow.NodeDefinition, nc *node.Context, scopes *runScopes) (*node.Output, error) {
	n, err := e.registry.Create(nodeDef.Type)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", nodeDef.ID, err)
	}

	if e.strictParams {
		if err := n.ValidateParameters(nodeDef.Parameters); err != nil {
			return nil, err
		}
		if err := schema.Validate(nodeDef.Parameters, n.ParameterSchema()); err != nil {
			return nil, fmt.Errorf("node %q: %w", nodeDef.ID, err)
		}
	}

	if nodeDef.Type == "wait_for_webhook" {
		return e.suspendForWebhook(ctx, exec, rec, nodeDef)
	}

	return e.invoke(ctx, n, nc, nodeDef.Parameters, scopes)
}

// invoke applies the retry, circuit breaker, and timeout scopes around a
// single node execution.
func (e *Engine) invoke(ctx context.Context, n node.Node, nc *node.Context, params map[string]any, scopes *runScopes) (*node.Output, error) {
	attempts := 1
	if scopes.retry != nil {
		attempts = scopes.retry.MaxAttempts
	}

	var out *node.Output
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := scopes.retry.AttemptDelay(attempt)
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
		out, err = e.guardedExecute(ctx, n, nc, params, scopes)
		if err == nil && out != nil && out.Success {
			return out, nil
		}
	}
	return out, err
}

// guardedExecute applies the circuit breaker and timeout scopes to one
// attempt.
func (e *Engine) guardedExecute(ctx context.Context, n node.Node, nc *node.Context, params map[string]any, scopes *runScopes) (*node.Output, error) {
	if b := scopes.breaker; b != nil {
		if err := e.circuits.Allow(ctx, b.CircuitID, b.Settings); err != nil {
			if errors.Is(err, breaker.ErrOpen) {
				return node.Fail(fmt.Sprintf("circuit %q is open", b.CircuitID)), nil
			}
			return nil, err
		}
	}

	out, err := e.boundedExecute(ctx, n, nc, params, scopes.timeout)

	if b := scopes.breaker; b != nil {
		if err == nil && out != nil && out.Success {
			_ = e.circuits.RecordSuccess(ctx, b.CircuitID)
		} else {
			_ = e.circuits.RecordFailure(ctx, b.CircuitID)
		}
	}
	return out, err
}

// boundedExecute runs the node, bounded by the timeout scope when one is
// installed. The node keeps running in its goroutine past the deadline; it
// is expected to honor the context.
func (e *Engine) boundedExecute(ctx context.Context, n node.Node, nc *node.Context, params map[string]any, p *control.TimeoutPolicy) (*node.Output, error) {
	if p == nil {
		return n.Execute(ctx, nc, params)
	}

	tctx, cancel := context.WithTimeout(ctx, p.Limit)
	defer cancel()

	type result struct {
		out *node.Output
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := n.Execute(tctx, nc, params)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		switch p.OnTimeout {
		case "default":
			return node.Success(p.DefaultValue), nil
		case "skip":
			return node.Success(map[string]any{"skipped": true}), nil
		default:
			return node.Fail(fmt.Sprintf("step timed out after %s", p.Limit)), nil
		}
	}
}

// suspendForWebhook persists the waiting envelope, registers the wait point,
// and parks the run until a delivery, the timeout, or context cancellation.
func (e *Engine) suspendForWebhook(ctx context.Context, exec *store.WorkflowExecution, rec *store.NodeExecution, nodeDef *workflow.NodeDefinition) (*node.Output, error) {
	plan, err := control.WaitPlanFromParams(nodeDef.Parameters)
	if err != nil {
		return nil, err
	}
	envelope := plan.Envelope(exec.ID, nodeDef.ID)
	if _, err := e.store.UpdateNodeExecutionStatus(ctx, rec.ID, store.StatusRunning, envelope, ""); err != nil {
		return nil, fmt.Errorf("persist wait envelope: %w", err)
	}

	wp, err := e.waits.register(WaitInfo{
		WaitID:      plan.WaitID,
		ExecutionID: exec.ID,
		NodeID:      nodeDef.ID,
		Path:        plan.Path,
		ExpiresAt:   plan.CreatedAt.Add(plan.Timeout),
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info(ctx, "execution suspended on webhook",
		"execution_id", exec.ID, "node_id", nodeDef.ID, "wait_id", plan.WaitID)

	timer := time.NewTimer(plan.Timeout)
	defer timer.Stop()
	select {
	case payload := <-wp.resume:
		e.logger.Info(ctx, "execution resumed by webhook",
			"execution_id", exec.ID, "wait_id", plan.WaitID)
		return node.Success(payload), nil
	case <-timer.C:
		e.waits.remove(plan.WaitID)
		return node.Fail(fmt.Sprintf("webhook timeout: wait id %q expired after %s", plan.WaitID, plan.Timeout)), nil
	case <-ctx.Done():
		e.waits.remove(plan.WaitID)
		return nil, ctx.Err()
	}
}

func copyVariables(vars map[string]any) map[string]any {
	cp := make(map[string]any, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	return cp
}
