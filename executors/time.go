package executors

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/conductor"
)

// TimeParams defines the parameters for the time executor
type TimeParams struct {
	UTC    bool   `json:"utc"`
	Format string `json:"format"`
}

// TimeExecutor returns the current time, optionally formatted.
type TimeExecutor struct{}

func NewTimeExecutor() *TimeExecutor {
	return &TimeExecutor{}
}

func (e *TimeExecutor) Type() string {
	return "time"
}

func (e *TimeExecutor) Execute(ctx context.Context, req *conductor.StepRequest) (*conductor.StepResult, error) {
	var params TimeParams
	if err := decodeParams(req.Parameters, &params); err != nil {
		return nil, err
	}
	now := time.Now()
	if params.UTC {
		now = now.UTC()
	}
	format := params.Format
	if format == "" {
		format = time.RFC3339
	}
	return &conductor.StepResult{Output: now.Format(format)}, nil
}
