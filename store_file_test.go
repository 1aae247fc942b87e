package conductor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	runStoreTests(t, store)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.InsertExecution(ctx, testRecord("exec-persist")))
	require.NoError(t, store.InsertSnapshot(ctx, testSnapshot("exec-persist", "step1", 1)))

	// A new store on the same directory sees the same state
	reopened, err := NewFileStore(dir)
	require.NoError(t, err)

	record, err := reopened.GetExecution(ctx, "exec-persist")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "wf", record.WorkflowID)

	snapshot, err := reopened.LatestSnapshot(ctx, "exec-persist", "step1")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.Equal(t, 1, snapshot.StepOrder)
}

func TestFileStoreSkipsUnreadableEntries(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.InsertExecution(ctx, testRecord("exec-good")))

	// Plant a corrupt execution alongside the good one
	corruptDir := filepath.Join(dir, "exec-corrupt")
	require.NoError(t, os.MkdirAll(corruptDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(corruptDir, "execution.json"), []byte("{not json"), 0644))

	records, err := store.RunningExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "exec-good", records[0].ExecutionID)
}

func TestFileStoreCorruptExecutionRead(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	corruptDir := filepath.Join(dir, "exec-corrupt")
	require.NoError(t, os.MkdirAll(corruptDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(corruptDir, "execution.json"), []byte("{not json"), 0644))

	_, err = store.GetExecution(ctx, "exec-corrupt")
	require.Error(t, err)
	var deserr *DeserializationError
	require.ErrorAs(t, err, &deserr)
}
