package conductor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func forkTestDefinition(t *testing.T) *Definition {
	t.Helper()
	def, err := NewDefinition(Options{
		ID:   "pipeline",
		Name: "pipeline",
		Steps: []*Step{
			{ID: "extract", Type: "set", Parameters: map[string]any{"raw": "data"}, Next: []string{"transform"}},
			{ID: "transform", Type: "set", Parameters: map[string]any{"shaped": "${state.raw}"}, Next: []string{"load"}},
			{ID: "load", Type: "echo", Parameters: map[string]any{"message": "${state.shaped}"}},
		},
	})
	require.NoError(t, err)
	return def
}

func forkTestOrchestrator(t *testing.T, store Store, extra ...StepExecutor) *Orchestrator {
	t.Helper()
	executors := append([]StepExecutor{echoExecutor(), setExecutor()}, extra...)
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Store:       store,
		Definitions: NewMemoryDefinitionProvider(forkTestDefinition(t)),
		Executors:   executors,
		Logger:      discardLogger(),
	})
	require.NoError(t, err)
	return orchestrator
}

func TestForkCreatesIndependentLineage(t *testing.T) {
	store := NewMemoryStore()
	orchestrator := forkTestOrchestrator(t, store)
	ctx := context.Background()

	source, err := orchestrator.Execute(ctx, ExecuteOptions{WorkflowID: "pipeline"})
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusCompleted, source.Status())
	sourceRecordBefore, err := store.GetExecution(ctx, source.ID())
	require.NoError(t, err)

	fork, err := orchestrator.Fork(ctx, ForkOptions{
		ExecutionID: source.ID(),
		StepID:      "transform",
		Overrides:   map[string]any{"shaped": "override"},
	})
	require.NoError(t, err)
	require.NotEqual(t, source.ID(), fork.ID())
	orchestrator.Wait()

	require.Equal(t, ExecutionStatusCompleted, fork.Status())

	// The fork re-ran only the successor of the fork point
	history := fork.History()
	require.Len(t, history, 3)
	require.Equal(t, "load", history[2].StepID)
	result, ok := fork.Result("load")
	require.True(t, ok)
	require.Equal(t, "override", result.(map[string]any)["output"])

	// Lineage fields recorded on the fork's row
	forkRecord, err := store.GetExecution(ctx, fork.ID())
	require.NoError(t, err)
	require.Equal(t, source.ID(), forkRecord.ForkedFromExecutionID)
	require.Equal(t, "transform", forkRecord.ForkedFromStepID)

	// Source execution untouched
	sourceRecordAfter, err := store.GetExecution(ctx, source.ID())
	require.NoError(t, err)
	require.Equal(t, sourceRecordBefore.Status, sourceRecordAfter.Status)
	require.Equal(t, sourceRecordBefore.Variables, sourceRecordAfter.Variables)
	require.Len(t, store.Snapshots(source.ID()), 3)

	// Fork snapshots continue the inherited history's numbering
	forkSnapshots := store.Snapshots(fork.ID())
	require.Len(t, forkSnapshots, 1)
	require.Equal(t, 3, forkSnapshots[0].StepOrder)
	require.Equal(t, "load", forkSnapshots[0].StepID)
}

func TestForkOverridesWin(t *testing.T) {
	store := NewMemoryStore()
	orchestrator := forkTestOrchestrator(t, store)
	ctx := context.Background()

	source, err := orchestrator.Execute(ctx, ExecuteOptions{WorkflowID: "pipeline"})
	require.NoError(t, err)

	fork, err := orchestrator.Fork(ctx, ForkOptions{
		ExecutionID: source.ID(),
		StepID:      "extract",
		Overrides:   map[string]any{"raw": "patched"},
	})
	require.NoError(t, err)
	orchestrator.Wait()

	// transform re-ran against the overridden variable
	require.Equal(t, ExecutionStatusCompleted, fork.Status())
	require.Equal(t, "patched", fork.Variables()["shaped"])
}

func TestForkIsDeterministic(t *testing.T) {
	store := NewMemoryStore()
	orchestrator := forkTestOrchestrator(t, store)
	ctx := context.Background()

	source, err := orchestrator.Execute(ctx, ExecuteOptions{WorkflowID: "pipeline"})
	require.NoError(t, err)

	opts := ForkOptions{
		ExecutionID: source.ID(),
		StepID:      "transform",
		Overrides:   map[string]any{"shaped": "same"},
	}
	first, err := orchestrator.Fork(ctx, opts)
	require.NoError(t, err)
	second, err := orchestrator.Fork(ctx, opts)
	require.NoError(t, err)
	orchestrator.Wait()

	require.Equal(t, first.Results(), second.Results())
	require.Equal(t, first.Variables(), second.Variables())
}

func TestForkFromFailedExecution(t *testing.T) {
	def, err := NewDefinition(Options{
		ID:   "flaky",
		Name: "flaky",
		Steps: []*Step{
			{ID: "prepare", Type: "set", Parameters: map[string]any{"ready": false}, Next: []string{"check"}},
			{ID: "check", Type: "gate", Next: []string{"finish"}},
			{ID: "finish", Type: "echo", Parameters: map[string]any{"message": "done"}},
		},
	})
	require.NoError(t, err)

	gate := NewExecutorFunc("gate", func(ctx context.Context, req *StepRequest) (*StepResult, error) {
		ready, _ := req.State.GetVariables()["ready"].(bool)
		if !ready {
			return nil, fmt.Errorf("not ready")
		}
		return &StepResult{Output: "passed"}, nil
	})

	store := NewMemoryStore()
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Store:       store,
		Definitions: NewMemoryDefinitionProvider(def),
		Executors:   []StepExecutor{echoExecutor(), setExecutor(), gate},
		Logger:      discardLogger(),
	})
	require.NoError(t, err)
	ctx := context.Background()

	source, err := orchestrator.Execute(ctx, ExecuteOptions{WorkflowID: "flaky"})
	require.Error(t, err)
	require.Equal(t, ExecutionStatusFailed, source.Status())

	// Retry by forking from the last good snapshot with corrected state
	fork, err := orchestrator.Fork(ctx, ForkOptions{
		ExecutionID: source.ID(),
		StepID:      "prepare",
		Overrides:   map[string]any{"ready": true},
	})
	require.NoError(t, err)
	orchestrator.Wait()

	require.Equal(t, ExecutionStatusCompleted, fork.Status())
	result, ok := fork.Result("check")
	require.True(t, ok)
	require.Equal(t, "passed", result.(map[string]any)["output"])

	// The failed source remains failed
	record, err := store.GetExecution(ctx, source.ID())
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusFailed, record.Status)
}

func TestForkNoSnapshotAtStep(t *testing.T) {
	store := NewMemoryStore()
	orchestrator := forkTestOrchestrator(t, store)
	ctx := context.Background()

	source, err := orchestrator.Execute(ctx, ExecuteOptions{WorkflowID: "pipeline"})
	require.NoError(t, err)

	_, err = orchestrator.Fork(ctx, ForkOptions{
		ExecutionID: source.ID(),
		StepID:      "nonexistent",
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrSnapshotNotFound))
}

func TestForkUnknownExecution(t *testing.T) {
	store := NewMemoryStore()
	orchestrator := forkTestOrchestrator(t, store)

	_, err := orchestrator.Fork(context.Background(), ForkOptions{
		ExecutionID: "exec_missing",
		StepID:      "extract",
	})
	require.Error(t, err)
	var stateErr *InvalidStateError
	require.True(t, errors.As(err, &stateErr))
}
