package conductor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStepExecutionErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := &StepExecutionError{StepID: "fetch", Err: cause}

	require.Contains(t, err.Error(), "fetch")
	require.Contains(t, err.Error(), "connection refused")
	require.True(t, errors.Is(err, cause))
}

func TestSnapshotPersistErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := &SnapshotPersistError{ExecutionID: "exec-1", StepID: "step1", Err: cause}

	require.Contains(t, err.Error(), "exec-1")
	require.True(t, errors.Is(err, cause))
}

func TestDependencyErrorMessage(t *testing.T) {
	err := &DependencyError{StepID: "report", Reference: "fetch"}
	require.Contains(t, err.Error(), "report")
	require.Contains(t, err.Error(), "fetch")
}

func TestInvalidStateErrorMessages(t *testing.T) {
	notFound := &InvalidStateError{ExecutionID: "exec-1", Operation: "resume"}
	require.Contains(t, notFound.Error(), "not found")

	wrongState := &InvalidStateError{
		ExecutionID: "exec-1",
		Status:      ExecutionStatusCompleted,
		Operation:   "resume",
	}
	require.Contains(t, wrongState.Error(), "completed")
}

func TestDefinitionNotFoundError(t *testing.T) {
	err := &DefinitionNotFoundError{WorkflowID: "missing"}
	require.Contains(t, err.Error(), "missing")
}
