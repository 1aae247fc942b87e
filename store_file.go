package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore is a file-based Store that persists executions and snapshots to
// disk. Each execution gets a directory holding an execution.json row and
// one snapshot-NNNN.json file per snapshot.
type FileStore struct {
	dataDir string
}

// NewFileStore creates a new file-based store rooted at dataDir. An empty
// dataDir defaults to ~/.deepnoodle/conductor/executions.
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".deepnoodle", "conductor", "executions")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

func (s *FileStore) executionDir(executionID string) string {
	return filepath.Join(s.dataDir, executionID)
}

func (s *FileStore) executionPath(executionID string) string {
	return filepath.Join(s.executionDir(executionID), "execution.json")
}

func (s *FileStore) snapshotPath(executionID string, stepOrder int) string {
	return filepath.Join(s.executionDir(executionID), fmt.Sprintf("snapshot-%04d.json", stepOrder))
}

func (s *FileStore) InsertExecution(ctx context.Context, record *ExecutionRecord) error {
	path := s.executionPath(record.ExecutionID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("execution %q already exists", record.ExecutionID)
	}
	if err := os.MkdirAll(s.executionDir(record.ExecutionID), 0755); err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}
	return s.writeExecution(path, record)
}

func (s *FileStore) UpdateExecution(ctx context.Context, executionID string, update ExecutionUpdate) error {
	record, err := s.readExecution(executionID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("execution %q not found", executionID)
	}
	applyUpdate(record, update)
	return s.writeExecution(s.executionPath(executionID), record)
}

func (s *FileStore) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	return s.readExecution(executionID)
}

func (s *FileStore) InsertSnapshot(ctx context.Context, snapshot *Snapshot) error {
	path := s.snapshotPath(snapshot.ExecutionID, snapshot.StepOrder)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("snapshot for execution %q at step order %d already exists",
			snapshot.ExecutionID, snapshot.StepOrder)
	}
	if err := os.MkdirAll(s.executionDir(snapshot.ExecutionID), 0755); err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	return nil
}

func (s *FileStore) LatestSnapshot(ctx context.Context, executionID, atOrBeforeStepID string) (*Snapshot, error) {
	snapshots, err := s.readSnapshots(executionID)
	if err != nil {
		return nil, err
	}
	return latestSnapshotAtOrBefore(snapshots, atOrBeforeStepID)
}

func (s *FileStore) RunningExecutions(ctx context.Context) ([]*ExecutionRecord, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}

	var records []*ExecutionRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		record, err := s.readExecution(entry.Name())
		if err != nil || record == nil {
			// Skip executions we can't read
			continue
		}
		if record.Status == ExecutionStatusRunning {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (s *FileStore) ListExecutions(ctx context.Context) ([]*ExecutionSummary, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*ExecutionSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}

	var summaries []*ExecutionSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		record, err := s.readExecution(entry.Name())
		if err != nil || record == nil {
			// Skip executions we can't read
			continue
		}
		summaries = append(summaries, summarize(record))
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

func (s *FileStore) readExecution(executionID string) (*ExecutionRecord, error) {
	data, err := os.ReadFile(s.executionPath(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read execution file: %w", err)
	}
	var record ExecutionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &DeserializationError{ExecutionID: executionID, Err: err}
	}
	return &record, nil
}

func (s *FileStore) writeExecution(path string, record *ExecutionRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution record: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write execution file: %w", err)
	}
	return nil
}

func (s *FileStore) readSnapshots(executionID string) ([]*Snapshot, error) {
	entries, err := os.ReadDir(s.executionDir(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read execution directory: %w", err)
	}

	var snapshots []*Snapshot
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "snapshot-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.executionDir(executionID), name))
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot file: %w", err)
		}
		var snapshot Snapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return nil, &DeserializationError{ExecutionID: executionID, Err: err}
		}
		snapshots = append(snapshots, &snapshot)
	}
	return snapshots, nil
}
