package conductor

import (
	"fmt"
	"sync"
	"time"

	"go.jetify.com/typeid"
)

// NewExecutionID returns a new unique execution identifier
func NewExecutionID() string {
	id, err := typeid.WithPrefix("exec")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewSnapshotID returns a new unique snapshot identifier
func NewSnapshotID() string {
	id, err := typeid.WithPrefix("snap")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ExecutionStatus represents the execution status
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is a final state. Terminal executions
// are dropped from the in-memory active set; their durable rows remain.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

func (s ExecutionStatus) valid() bool {
	switch s {
	case ExecutionStatusRunning, ExecutionStatusPaused, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// HistoryEntry records one completed (or failed) step in execution order.
// The history list is append-only.
type HistoryEntry struct {
	StepID    string    `json:"step_id"`
	Timestamp time.Time `json:"timestamp"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ExecutionContext holds the mutable state of one workflow run: variables,
// step results, history, and status. A context is exclusively owned by the
// task progressing it; the mutex guards concurrent reads from other
// goroutines (status queries, snapshot serialization), not concurrent
// writers.
type ExecutionContext struct {
	executionID string
	workflowID  string
	userID      string
	status      ExecutionStatus
	inputs      map[string]any
	variables   map[string]any
	results     map[string]any
	history     []*HistoryEntry
	errMessage  string
	mutex       sync.RWMutex
}

// NewExecutionContext creates the context for a fresh run. Variables are
// seeded from the input data.
func NewExecutionContext(executionID, workflowID, userID string, input map[string]any) *ExecutionContext {
	return &ExecutionContext{
		executionID: executionID,
		workflowID:  workflowID,
		userID:      userID,
		status:      ExecutionStatusRunning,
		inputs:      copyMap(input),
		variables:   copyMap(input),
		results:     map[string]any{},
	}
}

// ID returns the execution ID
func (c *ExecutionContext) ID() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.executionID
}

// WorkflowID returns the ID of the workflow definition being executed
func (c *ExecutionContext) WorkflowID() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.workflowID
}

// UserID returns the ID of the user the execution belongs to
func (c *ExecutionContext) UserID() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.userID
}

// Status returns the current execution status
func (c *ExecutionContext) Status() ExecutionStatus {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.status
}

// SetStatus updates the execution status
func (c *ExecutionContext) SetStatus(status ExecutionStatus) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.status = status
	if status != ExecutionStatusFailed {
		c.errMessage = ""
	}
}

// SetFailed marks the execution failed with the given error
func (c *ExecutionContext) SetFailed(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.status = ExecutionStatusFailed
	if err != nil {
		c.errMessage = err.Error()
	}
}

// ErrorMessage returns the recorded failure message, if any
func (c *ExecutionContext) ErrorMessage() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.errMessage
}

// Inputs returns a copy of the execution input data
func (c *ExecutionContext) Inputs() map[string]any {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return copyMap(c.inputs)
}

// Variables returns a copy of the state variables
func (c *ExecutionContext) Variables() map[string]any {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return copyMap(c.variables)
}

// MergeVariables merges the given values into the state variables;
// incoming values win, all other keys are retained.
func (c *ExecutionContext) MergeVariables(values map[string]any) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for k, v := range values {
		c.variables[k] = v
	}
}

// Results returns a copy of the step results map
func (c *ExecutionContext) Results() map[string]any {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return copyMap(c.results)
}

// Result returns the recorded result for a step
func (c *ExecutionContext) Result(stepID string) (any, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result, ok := c.results[stepID]
	return result, ok
}

// History returns a copy of the execution history
func (c *ExecutionContext) History() []*HistoryEntry {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return copyHistory(c.history)
}

// LastStepID returns the step ID of the most recent history entry
func (c *ExecutionContext) LastStepID() (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if len(c.history) == 0 {
		return "", false
	}
	return c.history[len(c.history)-1].StepID, true
}

// RecordStep records a completed step: the result is stored under the step
// ID, a history entry is appended, and any returned variable updates are
// merged. This is the single per-step mutation point for the context.
func (c *ExecutionContext) RecordStep(stepID string, result any, variables map[string]any) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.results[stepID] = result
	c.history = append(c.history, &HistoryEntry{
		StepID:    stepID,
		Timestamp: time.Now(),
		Result:    result,
	})
	for k, v := range variables {
		c.variables[k] = v
	}
}

// RecordStepFailure appends a history entry for a step that failed. No
// result is recorded and variables are untouched.
func (c *ExecutionContext) RecordStepFailure(stepID string, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.history = append(c.history, &HistoryEntry{
		StepID:    stepID,
		Timestamp: time.Now(),
		Error:     err.Error(),
	})
}

// Snapshot serializes the context as of immediately after the given step
// completed. The step order equals the history length, so orders are
// strictly increasing with no gaps.
func (c *ExecutionContext) Snapshot(stepID string) *Snapshot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return &Snapshot{
		ID:          NewSnapshotID(),
		ExecutionID: c.executionID,
		StepID:      stepID,
		StepOrder:   len(c.history),
		Status:      c.status,
		Variables:   copyMap(c.variables),
		Results:     copyMap(c.results),
		History:     copyHistory(c.history),
		CreatedAt:   time.Now(),
	}
}

// Record serializes the context into a durable execution row.
func (c *ExecutionContext) Record() *ExecutionRecord {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := time.Now()
	return &ExecutionRecord{
		ExecutionID:  c.executionID,
		WorkflowID:   c.workflowID,
		UserID:       c.userID,
		Status:       c.status,
		Input:        copyMap(c.inputs),
		Variables:    copyMap(c.variables),
		Results:      copyMap(c.results),
		History:      copyHistory(c.history),
		ErrorMessage: c.errMessage,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// View returns a read-only view of the context for step executors.
func (c *ExecutionContext) View() StateReader {
	return &contextView{context: c}
}

// contextFromRecord rebuilds a context from a durable execution row.
// Returns a DeserializationError for rows that cannot be restored.
func contextFromRecord(record *ExecutionRecord) (*ExecutionContext, error) {
	if record.ExecutionID == "" {
		return nil, &DeserializationError{
			ExecutionID: record.ExecutionID,
			Err:         fmt.Errorf("missing execution id"),
		}
	}
	if record.WorkflowID == "" {
		return nil, &DeserializationError{
			ExecutionID: record.ExecutionID,
			Err:         fmt.Errorf("missing workflow id"),
		}
	}
	if !record.Status.valid() {
		return nil, &DeserializationError{
			ExecutionID: record.ExecutionID,
			Err:         fmt.Errorf("unknown status %q", record.Status),
		}
	}
	return &ExecutionContext{
		executionID: record.ExecutionID,
		workflowID:  record.WorkflowID,
		userID:      record.UserID,
		status:      record.Status,
		inputs:      copyMap(record.Input),
		variables:   copyMap(record.Variables),
		results:     copyMap(record.Results),
		history:     copyHistory(record.History),
		errMessage:  record.ErrorMessage,
	}, nil
}

// contextFromSnapshot rebuilds a context from a historical snapshot, under a
// new execution ID. Input data and user identity carry over from the source
// execution's row; the snapshot supplies variables, results, and history.
func contextFromSnapshot(executionID string, source *ExecutionRecord, snapshot *Snapshot) *ExecutionContext {
	return &ExecutionContext{
		executionID: executionID,
		workflowID:  source.WorkflowID,
		userID:      source.UserID,
		status:      ExecutionStatusRunning,
		inputs:      copyMap(source.Input),
		variables:   copyMap(snapshot.Variables),
		results:     copyMap(snapshot.Results),
		history:     copyHistory(snapshot.History),
	}
}

type contextView struct {
	context *ExecutionContext
}

func (v *contextView) GetInputs() map[string]any {
	return v.context.Inputs()
}

func (v *contextView) GetVariables() map[string]any {
	return v.context.Variables()
}

func (v *contextView) GetResult(stepID string) (any, bool) {
	return v.context.Result(stepID)
}

// copyMap creates a shallow copy of a map
func copyMap(m map[string]any) map[string]any {
	copied := make(map[string]any, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}

// copyHistory creates a copy of a history list
func copyHistory(history []*HistoryEntry) []*HistoryEntry {
	copied := make([]*HistoryEntry, len(history))
	for i, entry := range history {
		e := *entry
		copied[i] = &e
	}
	return copied
}
