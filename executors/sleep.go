package executors

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/conductor"
)

// SleepParams defines the parameters for the sleep executor
type SleepParams struct {
	Seconds float64 `json:"seconds"`
}

// SleepExecutor pauses the execution for a duration. Sleeping respects
// context cancellation.
type SleepExecutor struct{}

func NewSleepExecutor() *SleepExecutor {
	return &SleepExecutor{}
}

func (e *SleepExecutor) Type() string {
	return "sleep"
}

func (e *SleepExecutor) Execute(ctx context.Context, req *conductor.StepRequest) (*conductor.StepResult, error) {
	var params SleepParams
	if err := decodeParams(req.Parameters, &params); err != nil {
		return nil, err
	}
	duration := time.Duration(params.Seconds * float64(time.Second))
	select {
	case <-time.After(duration):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &conductor.StepResult{Output: params.Seconds}, nil
}
