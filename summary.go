package conductor

import "time"

// ExecutionSummary provides a summary view of an execution
type ExecutionSummary struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Error       string          `json:"error,omitempty"`
}

func summarize(record *ExecutionRecord) *ExecutionSummary {
	return &ExecutionSummary{
		ExecutionID: record.ExecutionID,
		WorkflowID:  record.WorkflowID,
		Status:      record.Status,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
		Error:       record.ErrorMessage,
	}
}
