package conductor

import (
	"context"
	"time"

	"go.jetify.com/typeid"
)

// NewStepLogID returns a new unique step log entry identifier
func NewStepLogID() string {
	id, err := typeid.WithPrefix("steplog")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// StepLogEntry represents a single step log entry
type StepLogEntry struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"execution_id"`
	StepID      string                 `json:"step_id"`
	StepType    string                 `json:"step_type"`
	StepOrder   int                    `json:"step_order"`
	Parameters  map[string]interface{} `json:"parameters"`
	Result      interface{}            `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartTime   time.Time              `json:"start_time"`
	Duration    float64                `json:"duration"`
}

// StepLogger defines simple step logging interface
type StepLogger interface {
	// LogStep logs a completed step
	LogStep(ctx context.Context, entry *StepLogEntry) error

	// GetStepHistory retrieves the step log for an execution
	GetStepHistory(ctx context.Context, executionID string) ([]*StepLogEntry, error)
}
