package executors

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/conductor"
)

// ScriptExecutor evaluates a script against the execution state. The
// script's 'code' parameter has access to the same globals as template
// expressions: inputs, state, and steps.
type ScriptExecutor struct{}

func NewScriptExecutor() *ScriptExecutor {
	return &ScriptExecutor{}
}

func (e *ScriptExecutor) Type() string {
	return "script"
}

func (e *ScriptExecutor) Execute(ctx context.Context, req *conductor.StepRequest) (*conductor.StepResult, error) {
	code, ok := req.Parameters["code"].(string)
	if !ok || code == "" {
		return nil, fmt.Errorf("missing 'code' parameter")
	}

	compiler, ok := conductor.GetCompilerFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("missing compiler in context")
	}

	compiled, err := compiler.Compile(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}

	globals := map[string]any{
		"inputs": req.State.GetInputs(),
		"state":  req.State.GetVariables(),
	}
	result, err := compiled.Evaluate(ctx, globals)
	if err != nil {
		return nil, fmt.Errorf("failed to execute script: %w", err)
	}
	return &conductor.StepResult{Output: result.Value()}, nil
}
