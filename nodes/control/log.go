package control

import (
	"context"
	"fmt"

	"github.com/flowkit-dev/flowkit/node"
	"github.com/flowkit-dev/flowkit/telemetry"
)

// Log emits a structured log line and passes its main input through
// unchanged, for observing data mid-workflow.
type Log struct {
	logger telemetry.Logger
}

var _ node.Node = (*Log)(nil)

// NewLog creates a log node writing through the given logger.
func NewLog(logger telemetry.Logger) *Log {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Log{logger: logger}
}

func (l *Log) TypeName() string               { return "log" }
func (l *Log) Category() node.Category        { return node.CategoryControl }
func (l *Log) Subcategory() node.Subcategory  { return node.SubcategoryGeneral }
func (l *Log) RequiredCredentialType() string { return "" }

func (l *Log) ParameterSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string", "description": "Literal or {{path}} template against the main input"},
			"level":   map[string]any{"enum": []any{"debug", "info", "warn"}},
		},
	}
}

func (l *Log) ValidateParameters(params map[string]any) error {
	if level, ok := stringParam(params, "level"); ok && level != "debug" && level != "info" && level != "warn" {
		return fmt.Errorf("log: unknown level %q (want debug, info, or warn)", level)
	}
	return nil
}

func (l *Log) Execute(ctx context.Context, nc *node.Context, params map[string]any) (*node.Output, error) {
	if err := l.ValidateParameters(params); err != nil {
		return nil, err
	}
	input := nc.MainInput()
	msg := "log"
	if raw, ok := stringParam(params, "message"); ok {
		if rendered, isString := renderTemplate(raw, input, nc.Variables).(string); isString {
			msg = rendered
		} else {
			msg = fmt.Sprint(renderTemplate(raw, input, nc.Variables))
		}
	}
	level, _ := stringParam(params, "level")

	kvs := []any{"execution_id", nc.ExecutionID, "node_id", nc.NodeID}
	switch level {
	case "debug":
		l.logger.Debug(ctx, msg, kvs...)
	case "warn":
		l.logger.Warn(ctx, msg, kvs...)
	default:
		l.logger.Info(ctx, msg, kvs...)
	}
	return node.Success(map[string]any{"logged": msg, "input": input}), nil
}
