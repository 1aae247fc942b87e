package executors

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/conductor"
)

// FailExecutor always returns an error. Useful for testing failure and
// fork-based retry flows.
type FailExecutor struct{}

func NewFailExecutor() *FailExecutor {
	return &FailExecutor{}
}

func (e *FailExecutor) Type() string {
	return "fail"
}

func (e *FailExecutor) Execute(ctx context.Context, req *conductor.StepRequest) (*conductor.StepResult, error) {
	message, _ := req.Parameters["message"].(string)
	if message == "" {
		message = "intentional failure for testing"
	}
	return nil, fmt.Errorf("fail: %s", message)
}
