package conductor

import (
	"context"
	"time"
)

// ExecutionRecord is the durable row for one execution. One row exists per
// execution; historical rows accumulate indefinitely. The context state is
// stored in explicit fields rather than an opaque blob.
type ExecutionRecord struct {
	ExecutionID  string          `json:"execution_id"`
	WorkflowID   string          `json:"workflow_id"`
	UserID       string          `json:"user_id,omitempty"`
	Status       ExecutionStatus `json:"status"`
	Input        map[string]any  `json:"input"`
	Variables    map[string]any  `json:"variables"`
	Results      map[string]any  `json:"results"`
	History      []*HistoryEntry `json:"history"`
	ErrorMessage string          `json:"error_message,omitempty"`

	// Fork lineage, recorded for provenance only. A forked execution never
	// mutates its source.
	ForkedFromExecutionID string `json:"forked_from_execution_id,omitempty"`
	ForkedFromStepID      string `json:"forked_from_step_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutionUpdate describes a partial update to an execution row. Nil
// fields are left unchanged.
type ExecutionUpdate struct {
	Status       *ExecutionStatus
	ErrorMessage *string
	Variables    map[string]any
	Results      map[string]any
	History      []*HistoryEntry
}

// Store is the persistence seam for executions and snapshots. Every write
// is a single-row operation scoped to one execution ID; implementations
// need no cross-execution transactions.
type Store interface {
	// InsertExecution persists a new execution row.
	InsertExecution(ctx context.Context, record *ExecutionRecord) error

	// UpdateExecution applies a partial update to an execution row.
	UpdateExecution(ctx context.Context, executionID string, update ExecutionUpdate) error

	// GetExecution returns the row for an execution, or nil if none exists.
	GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error)

	// InsertSnapshot appends a snapshot. Inserting a second snapshot with
	// the same (execution_id, step_order) is an error.
	InsertSnapshot(ctx context.Context, snapshot *Snapshot) error

	// LatestSnapshot returns the snapshot for the execution at the highest
	// step order at or before the order corresponding to the given step ID,
	// or nil if the step was never snapshotted.
	LatestSnapshot(ctx context.Context, executionID, atOrBeforeStepID string) (*Snapshot, error)

	// RunningExecutions returns all rows with status running. Used once at
	// startup to restore in-flight executions.
	RunningExecutions(ctx context.Context) ([]*ExecutionRecord, error)

	// ListExecutions returns summaries for all known executions, newest
	// first.
	ListExecutions(ctx context.Context) ([]*ExecutionSummary, error)
}
