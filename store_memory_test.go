package conductor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testRecord(executionID string) *ExecutionRecord {
	now := time.Now()
	return &ExecutionRecord{
		ExecutionID: executionID,
		WorkflowID:  "wf",
		Status:      ExecutionStatusRunning,
		Input:       map[string]any{"seed": float64(1)},
		Variables:   map[string]any{"seed": float64(1)},
		Results:     map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func testSnapshot(executionID, stepID string, order int) *Snapshot {
	return &Snapshot{
		ID:          NewSnapshotID(),
		ExecutionID: executionID,
		StepID:      stepID,
		StepOrder:   order,
		Status:      ExecutionStatusRunning,
		Variables:   map[string]any{"order": float64(order)},
		Results:     map[string]any{},
		History:     []*HistoryEntry{},
		CreatedAt:   time.Now(),
	}
}

// runStoreTests exercises the Store contract. The memory and file stores
// both run it; the postgres store runs it against a container.
func runStoreTests(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("insert and get execution", func(t *testing.T) {
		require.NoError(t, store.InsertExecution(ctx, testRecord("exec-1")))

		record, err := store.GetExecution(ctx, "exec-1")
		require.NoError(t, err)
		require.NotNil(t, record)
		require.Equal(t, "wf", record.WorkflowID)
		require.Equal(t, ExecutionStatusRunning, record.Status)
		require.Equal(t, map[string]any{"seed": float64(1)}, record.Input)
	})

	t.Run("duplicate execution rejected", func(t *testing.T) {
		err := store.InsertExecution(ctx, testRecord("exec-1"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "already exists")
	})

	t.Run("missing execution returns nil", func(t *testing.T) {
		record, err := store.GetExecution(ctx, "exec-missing")
		require.NoError(t, err)
		require.Nil(t, record)
	})

	t.Run("update execution", func(t *testing.T) {
		completed := ExecutionStatusCompleted
		errMessage := ""
		require.NoError(t, store.UpdateExecution(ctx, "exec-1", ExecutionUpdate{
			Status:       &completed,
			ErrorMessage: &errMessage,
			Variables:    map[string]any{"seed": float64(2)},
		}))

		record, err := store.GetExecution(ctx, "exec-1")
		require.NoError(t, err)
		require.Equal(t, ExecutionStatusCompleted, record.Status)
		require.Equal(t, map[string]any{"seed": float64(2)}, record.Variables)
	})

	t.Run("update missing execution fails", func(t *testing.T) {
		status := ExecutionStatusCompleted
		err := store.UpdateExecution(ctx, "exec-missing", ExecutionUpdate{Status: &status})
		require.Error(t, err)
	})

	t.Run("snapshots and latest lookup", func(t *testing.T) {
		require.NoError(t, store.InsertExecution(ctx, testRecord("exec-2")))
		require.NoError(t, store.InsertSnapshot(ctx, testSnapshot("exec-2", "step1", 1)))
		require.NoError(t, store.InsertSnapshot(ctx, testSnapshot("exec-2", "step2", 2)))
		require.NoError(t, store.InsertSnapshot(ctx, testSnapshot("exec-2", "step3", 3)))

		snapshot, err := store.LatestSnapshot(ctx, "exec-2", "step2")
		require.NoError(t, err)
		require.NotNil(t, snapshot)
		require.Equal(t, "step2", snapshot.StepID)
		require.Equal(t, 2, snapshot.StepOrder)

		// Never-snapshotted step
		snapshot, err = store.LatestSnapshot(ctx, "exec-2", "step9")
		require.NoError(t, err)
		require.Nil(t, snapshot)
	})

	t.Run("duplicate snapshot order rejected", func(t *testing.T) {
		err := store.InsertSnapshot(ctx, testSnapshot("exec-2", "step2b", 2))
		require.Error(t, err)
		require.Contains(t, err.Error(), "already exists")
	})

	t.Run("latest snapshot picks highest order for repeated step", func(t *testing.T) {
		require.NoError(t, store.InsertExecution(ctx, testRecord("exec-3")))
		require.NoError(t, store.InsertSnapshot(ctx, testSnapshot("exec-3", "loopish", 1)))
		require.NoError(t, store.InsertSnapshot(ctx, testSnapshot("exec-3", "other", 2)))
		require.NoError(t, store.InsertSnapshot(ctx, testSnapshot("exec-3", "loopish", 3)))

		snapshot, err := store.LatestSnapshot(ctx, "exec-3", "loopish")
		require.NoError(t, err)
		require.NotNil(t, snapshot)
		require.Equal(t, 3, snapshot.StepOrder)
	})

	t.Run("running executions", func(t *testing.T) {
		require.NoError(t, store.InsertExecution(ctx, testRecord("exec-4")))

		records, err := store.RunningExecutions(ctx)
		require.NoError(t, err)

		ids := make(map[string]bool)
		for _, record := range records {
			require.Equal(t, ExecutionStatusRunning, record.Status)
			ids[record.ExecutionID] = true
		}
		require.True(t, ids["exec-4"])
		require.False(t, ids["exec-1"]) // completed above
	})

	t.Run("list executions", func(t *testing.T) {
		summaries, err := store.ListExecutions(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(summaries), 4)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemoryStore())
}

func TestMemoryStoreIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := testRecord("exec-iso")
	require.NoError(t, store.InsertExecution(ctx, record))

	// Mutating the caller's record must not leak into the store
	record.Variables["seed"] = float64(99)
	stored, err := store.GetExecution(ctx, "exec-iso")
	require.NoError(t, err)
	require.Equal(t, float64(1), stored.Variables["seed"])

	// Mutating a returned record must not leak either
	stored.Variables["seed"] = float64(42)
	again, err := store.GetExecution(ctx, "exec-iso")
	require.NoError(t, err)
	require.Equal(t, float64(1), again.Variables["seed"])
}
