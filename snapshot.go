package conductor

import "time"

// Snapshot is a persisted, point-in-time copy of an execution's context
// taken right after a step completed. Snapshots are append-only: they are
// never updated or deleted except by a retention policy. The schema is
// structured rather than an opaque blob so it can evolve safely.
//
// Invariant: at most one snapshot exists per (execution_id, step_order),
// and for any execution the persisted step orders are strictly increasing
// with no gaps.
type Snapshot struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	StepOrder   int             `json:"step_order"`
	Status      ExecutionStatus `json:"status"`
	Variables   map[string]any  `json:"variables"`
	Results     map[string]any  `json:"results"`
	History     []*HistoryEntry `json:"history"`
	CreatedAt   time.Time       `json:"created_at"`
}
