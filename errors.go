package conductor

import (
	"errors"
	"fmt"
)

// ErrSnapshotNotFound is returned by Fork when no snapshot exists at or
// before the requested step. Callers typically surface this as not-found.
var ErrSnapshotNotFound = errors.New("no matching snapshot")

// DefinitionNotFoundError indicates that no workflow definition exists for
// the given workflow ID.
type DefinitionNotFoundError struct {
	WorkflowID string
}

func (e *DefinitionNotFoundError) Error() string {
	return fmt.Sprintf("workflow definition %q not found", e.WorkflowID)
}

// DependencyError indicates that a step parameter references the result of a
// step that has not yet executed. This is a defect in the workflow
// definition; the execution is marked failed and the error is surfaced.
type DependencyError struct {
	StepID    string
	Reference string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("step %q references step %q which has no recorded result", e.StepID, e.Reference)
}

// StepExecutionError wraps an error returned by a step executor. The core
// never retries a failed step; retry policy belongs to the executor.
type StepExecutionError struct {
	StepID string
	Err    error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.StepID, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// SnapshotPersistError indicates that a snapshot write failed. The execution
// continues in memory; recovery fidelity for the affected step is at risk.
type SnapshotPersistError struct {
	ExecutionID string
	StepID      string
	Err         error
}

func (e *SnapshotPersistError) Error() string {
	return fmt.Sprintf("failed to persist snapshot for execution %q at step %q: %v", e.ExecutionID, e.StepID, e.Err)
}

func (e *SnapshotPersistError) Unwrap() error {
	return e.Err
}

// DeserializationError indicates that a persisted execution row could not be
// restored into a usable context. During Restore the row is logged and
// skipped rather than failing startup.
type DeserializationError struct {
	ExecutionID string
	Err         error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("failed to deserialize execution %q: %v", e.ExecutionID, e.Err)
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// InvalidStateError indicates an operation was attempted against an
// execution whose status does not allow it, e.g. resuming an execution that
// is already being driven or has completed.
type InvalidStateError struct {
	ExecutionID string
	Status      ExecutionStatus
	Operation   string
}

func (e *InvalidStateError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("cannot %s execution %q: execution not found", e.Operation, e.ExecutionID)
	}
	return fmt.Sprintf("cannot %s execution %q in status %q", e.Operation, e.ExecutionID, e.Status)
}
