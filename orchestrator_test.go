package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func echoExecutor() StepExecutor {
	return NewExecutorFunc("echo", func(ctx context.Context, req *StepRequest) (*StepResult, error) {
		return &StepResult{Output: req.Parameters["message"]}, nil
	})
}

func setExecutor() StepExecutor {
	return NewExecutorFunc("set", func(ctx context.Context, req *StepRequest) (*StepResult, error) {
		return &StepResult{Output: req.Parameters, Variables: req.Parameters}, nil
	})
}

func failExecutor() StepExecutor {
	return NewExecutorFunc("fail", func(ctx context.Context, req *StepRequest) (*StepResult, error) {
		return nil, fmt.Errorf("boom")
	})
}

func linearDefinition(t *testing.T) *Definition {
	t.Helper()
	def, err := NewDefinition(Options{
		ID:   "linear",
		Name: "linear",
		Steps: []*Step{
			{ID: "step1", Type: "echo", Parameters: map[string]any{"message": "one"}, Next: []string{"step2"}},
			{ID: "step2", Type: "echo", Parameters: map[string]any{"message": "two"}, Next: []string{"step3"}},
			{ID: "step3", Type: "echo", Parameters: map[string]any{"message": "three"}},
		},
	})
	require.NoError(t, err)
	return def
}

func TestExecuteLinearWorkflow(t *testing.T) {
	store := NewMemoryStore()
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Store:     store,
		Executors: []StepExecutor{echoExecutor()},
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	execution, err := orchestrator.Execute(context.Background(), ExecuteOptions{
		Definition: linearDefinition(t),
		Input:      map[string]any{"name": "Ada"},
	})
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusCompleted, execution.Status())

	// Every step completed, in order
	history := execution.History()
	require.Len(t, history, 3)
	require.Equal(t, "step1", history[0].StepID)
	require.Equal(t, "step2", history[1].StepID)
	require.Equal(t, "step3", history[2].StepID)

	// One snapshot per step, orders 1..N with no gaps
	snapshots := store.Snapshots(execution.ID())
	require.Len(t, snapshots, 3)
	for i, snapshot := range snapshots {
		require.Equal(t, i+1, snapshot.StepOrder)
		require.Equal(t, history[i].StepID, snapshot.StepID)
		require.Equal(t, execution.ID(), snapshot.ExecutionID)
		require.Len(t, snapshot.History, i+1)
	}

	// Durable row reflects the terminal state
	record, err := store.GetExecution(context.Background(), execution.ID())
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, ExecutionStatusCompleted, record.Status)
	require.Len(t, record.History, 3)

	// No longer in the active set
	_, ok := orchestrator.Execution(execution.ID())
	require.False(t, ok)
}

func TestExecuteStepResultReferences(t *testing.T) {
	def, err := NewDefinition(Options{
		Name: "chained",
		Steps: []*Step{
			{ID: "first", Type: "set", Parameters: map[string]any{"greeting": "hello"}, Next: []string{"second"}},
			{ID: "second", Type: "echo", Parameters: map[string]any{
				"message": "${steps.first.output.greeting} world",
			}},
		},
	})
	require.NoError(t, err)

	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Executors: []StepExecutor{echoExecutor(), setExecutor()},
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	execution, err := orchestrator.Execute(context.Background(), ExecuteOptions{Definition: def})
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusCompleted, execution.Status())

	result, ok := execution.Result("second")
	require.True(t, ok)
	require.Equal(t, "hello world", result.(map[string]any)["output"])
}

func TestExecuteStepFailure(t *testing.T) {
	def, err := NewDefinition(Options{
		Name: "failing",
		Steps: []*Step{
			{ID: "step1", Type: "echo", Parameters: map[string]any{"message": "ok"}, Next: []string{"step2"}},
			{ID: "step2", Type: "fail", Next: []string{"step3"}},
			{ID: "step3", Type: "echo", Parameters: map[string]any{"message": "never"}},
		},
	})
	require.NoError(t, err)

	store := NewMemoryStore()
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Store:     store,
		Executors: []StepExecutor{echoExecutor(), failExecutor()},
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	execution, err := orchestrator.Execute(context.Background(), ExecuteOptions{Definition: def})
	require.Error(t, err)

	var stepErr *StepExecutionError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, "step2", stepErr.StepID)

	require.Equal(t, ExecutionStatusFailed, execution.Status())

	// step3 never ran; the completed step still has its snapshot
	_, ok := execution.Result("step3")
	require.False(t, ok)
	snapshots := store.Snapshots(execution.ID())
	require.Len(t, snapshots, 1)
	require.Equal(t, "step1", snapshots[0].StepID)

	record, err := store.GetExecution(context.Background(), execution.ID())
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusFailed, record.Status)
	require.Contains(t, record.ErrorMessage, "boom")
}

func TestExecuteUnknownStepTypeFailsFast(t *testing.T) {
	def, err := NewDefinition(Options{
		Name:  "unknown-type",
		Steps: []*Step{{ID: "step1", Type: "teleport"}},
	})
	require.NoError(t, err)

	store := NewMemoryStore()
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Store:     store,
		Executors: []StepExecutor{echoExecutor()},
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	_, err = orchestrator.Execute(context.Background(), ExecuteOptions{Definition: def})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no executor registered")

	// Validation happens before anything is persisted
	records, err := store.ListExecutions(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestExecuteWithDefinitionProvider(t *testing.T) {
	def := linearDefinition(t)
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Definitions: NewMemoryDefinitionProvider(def),
		Executors:   []StepExecutor{echoExecutor()},
		Logger:      discardLogger(),
	})
	require.NoError(t, err)

	execution, err := orchestrator.Execute(context.Background(), ExecuteOptions{
		WorkflowID: "linear",
	})
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusCompleted, execution.Status())

	_, err = orchestrator.Execute(context.Background(), ExecuteOptions{
		WorkflowID: "missing",
	})
	require.Error(t, err)
	var notFound *DefinitionNotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestExecuteDependencyErrorMarksFailed(t *testing.T) {
	def, err := NewDefinition(Options{
		Name: "bad-reference",
		Steps: []*Step{
			{ID: "step1", Type: "echo", Parameters: map[string]any{
				"message": "${steps.ghost.output.value}",
			}},
		},
	})
	require.NoError(t, err)

	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Executors: []StepExecutor{echoExecutor()},
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	execution, err := orchestrator.Execute(context.Background(), ExecuteOptions{Definition: def})
	require.Error(t, err)

	var depErr *DependencyError
	require.True(t, errors.As(err, &depErr))
	require.Equal(t, "ghost", depErr.Reference)
	require.Equal(t, ExecutionStatusFailed, execution.Status())
}

// failingSnapshotStore drops snapshot writes to confirm the execution keeps
// going when snapshot persistence is degraded.
type failingSnapshotStore struct {
	*MemoryStore
}

func (s *failingSnapshotStore) InsertSnapshot(ctx context.Context, snapshot *Snapshot) error {
	return fmt.Errorf("disk full")
}

func TestExecuteContinuesWhenSnapshotWriteFails(t *testing.T) {
	store := &failingSnapshotStore{MemoryStore: NewMemoryStore()}
	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Store:     store,
		Executors: []StepExecutor{echoExecutor()},
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	execution, err := orchestrator.Execute(context.Background(), ExecuteOptions{
		Definition: linearDefinition(t),
	})
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusCompleted, execution.Status())
	require.Len(t, execution.History(), 3)
}

func TestExecuteVariablesMerge(t *testing.T) {
	def, err := NewDefinition(Options{
		Name: "variables",
		Steps: []*Step{
			{ID: "assign", Type: "set", Parameters: map[string]any{"count": 5}, Next: []string{"report"}},
			{ID: "report", Type: "echo", Parameters: map[string]any{
				"message": "${state.count}",
			}},
		},
	})
	require.NoError(t, err)

	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Executors: []StepExecutor{echoExecutor(), setExecutor()},
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	execution, err := orchestrator.Execute(context.Background(), ExecuteOptions{
		Definition: def,
		Input:      map[string]any{"name": "Ada"},
	})
	require.NoError(t, err)

	variables := execution.Variables()
	require.Equal(t, "Ada", variables["name"])
	require.Equal(t, 5, variables["count"])

	result, ok := execution.Result("report")
	require.True(t, ok)
	require.Equal(t, int64(5), result.(map[string]any)["output"])
}

func TestCallbacksFire(t *testing.T) {
	type calls struct {
		beforeExecution, afterExecution int
		beforeStep, afterStep           int
	}
	recorded := &calls{}

	callbacks := &testCallbacks{
		beforeExecution: func(*ExecutionEvent) { recorded.beforeExecution++ },
		afterExecution:  func(*ExecutionEvent) { recorded.afterExecution++ },
		beforeStep:      func(*StepEvent) { recorded.beforeStep++ },
		afterStep:       func(*StepEvent) { recorded.afterStep++ },
	}

	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Executors: []StepExecutor{echoExecutor()},
		Logger:    discardLogger(),
		Callbacks: callbacks,
	})
	require.NoError(t, err)

	_, err = orchestrator.Execute(context.Background(), ExecuteOptions{
		Definition: linearDefinition(t),
	})
	require.NoError(t, err)

	require.Equal(t, 1, recorded.beforeExecution)
	require.Equal(t, 1, recorded.afterExecution)
	require.Equal(t, 3, recorded.beforeStep)
	require.Equal(t, 3, recorded.afterStep)
}

type testCallbacks struct {
	beforeExecution func(*ExecutionEvent)
	afterExecution  func(*ExecutionEvent)
	beforeStep      func(*StepEvent)
	afterStep       func(*StepEvent)
}

func (c *testCallbacks) BeforeExecution(ctx context.Context, event *ExecutionEvent) {
	if c.beforeExecution != nil {
		c.beforeExecution(event)
	}
}

func (c *testCallbacks) AfterExecution(ctx context.Context, event *ExecutionEvent) {
	if c.afterExecution != nil {
		c.afterExecution(event)
	}
}

func (c *testCallbacks) BeforeStep(ctx context.Context, event *StepEvent) {
	if c.beforeStep != nil {
		c.beforeStep(event)
	}
}

func (c *testCallbacks) AfterStep(ctx context.Context, event *StepEvent) {
	if c.afterStep != nil {
		c.afterStep(event)
	}
}
