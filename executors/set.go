package executors

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/conductor"
)

// SetExecutor assigns its resolved parameters to state variables. Each
// parameter key becomes a variable name.
type SetExecutor struct{}

func NewSetExecutor() *SetExecutor {
	return &SetExecutor{}
}

func (e *SetExecutor) Type() string {
	return "set"
}

func (e *SetExecutor) Execute(ctx context.Context, req *conductor.StepRequest) (*conductor.StepResult, error) {
	if len(req.Parameters) == 0 {
		return nil, fmt.Errorf("set requires at least one parameter")
	}
	variables := make(map[string]any, len(req.Parameters))
	for key, value := range req.Parameters {
		variables[key] = value
	}
	return &conductor.StepResult{
		Output:    variables,
		Variables: variables,
	}, nil
}
