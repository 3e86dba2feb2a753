// Package nodes wires the built-in node catalog into a registry.
package nodes

import (
	"github.com/flowkit-dev/flowkit/engine/breaker"
	"github.com/flowkit-dev/flowkit/node"
	"github.com/flowkit-dev/flowkit/nodes/control"
	"github.com/flowkit-dev/flowkit/nodes/trigger"
	"github.com/flowkit-dev/flowkit/store"
	"github.com/flowkit-dev/flowkit/telemetry"
)

// Deps carries the collaborators some built-in nodes need. Nil fields are
// acceptable: the affected nodes degrade to no-op collaborators, and
// execute_workflow is only registered when both Runner and Store are set.
type Deps struct {
	Runner   control.WorkflowRunner
	Store    store.Store
	Circuits breaker.CircuitRegistry
	Logger   telemetry.Logger
}

// Register installs the built-in node catalog into the registry.
func Register(reg *node.Registry, deps Deps) {
	reg.Register("manual_trigger", func() node.Node { return trigger.NewManual() })
	reg.Register("webhook_trigger", func() node.Node { return trigger.NewWebhook() })

	reg.Register("conditional", func() node.Node { return control.NewConditional() })
	reg.Register("set_variable", func() node.Node { return control.NewSetVariable() })
	reg.Register("transform", func() node.Node { return control.NewTransform() })
	reg.Register("map", func() node.Node { return control.NewMapItems() })
	reg.Register("sort", func() node.Node { return control.NewSortItems() })
	reg.Register("flatten", func() node.Node { return control.NewFlattenItems() })
	reg.Register("try_catch", func() node.Node { return control.NewTryCatch() })
	reg.Register("timeout", func() node.Node { return control.NewTimeout() })
	reg.Register("retry", func() node.Node { return control.NewRetry() })
	reg.Register("wait_for_webhook", func() node.Node { return control.NewWaitForWebhook() })
	reg.Register("circuit_breaker", func() node.Node { return control.NewCircuitBreaker(deps.Circuits) })
	reg.Register("log", func() node.Node { return control.NewLog(deps.Logger) })

	if deps.Runner != nil && deps.Store != nil {
		runner, st := deps.Runner, deps.Store
		reg.Register("execute_workflow", func() node.Node { return control.NewExecuteWorkflow(runner, st) })
	}
}
