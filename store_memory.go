package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store, useful for tests and embedding. Rows
// pass through a JSON round-trip on insert and read so callers get the same
// isolation they would from a durable store.
type MemoryStore struct {
	mutex      sync.RWMutex
	executions map[string]*ExecutionRecord
	snapshots  map[string][]*Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: map[string]*ExecutionRecord{},
		snapshots:  map[string][]*Snapshot{},
	}
}

func (s *MemoryStore) InsertExecution(ctx context.Context, record *ExecutionRecord) error {
	copied, err := cloneRecord(record)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.executions[record.ExecutionID]; ok {
		return fmt.Errorf("execution %q already exists", record.ExecutionID)
	}
	s.executions[record.ExecutionID] = copied
	return nil
}

func (s *MemoryStore) UpdateExecution(ctx context.Context, executionID string, update ExecutionUpdate) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, ok := s.executions[executionID]
	if !ok {
		return fmt.Errorf("execution %q not found", executionID)
	}
	applyUpdate(record, update)

	copied, err := cloneRecord(record)
	if err != nil {
		return err
	}
	s.executions[executionID] = copied
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, ok := s.executions[executionID]
	if !ok {
		return nil, nil
	}
	return cloneRecord(record)
}

func (s *MemoryStore) InsertSnapshot(ctx context.Context, snapshot *Snapshot) error {
	copied, err := cloneSnapshot(snapshot)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, existing := range s.snapshots[snapshot.ExecutionID] {
		if existing.StepOrder == snapshot.StepOrder {
			return fmt.Errorf("snapshot for execution %q at step order %d already exists",
				snapshot.ExecutionID, snapshot.StepOrder)
		}
	}
	s.snapshots[snapshot.ExecutionID] = append(s.snapshots[snapshot.ExecutionID], copied)
	return nil
}

func (s *MemoryStore) LatestSnapshot(ctx context.Context, executionID, atOrBeforeStepID string) (*Snapshot, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return latestSnapshotAtOrBefore(s.snapshots[executionID], atOrBeforeStepID)
}

// Snapshots returns all snapshots for an execution in step order. Useful
// for inspecting the snapshot stream in tests.
func (s *MemoryStore) Snapshots(executionID string) []*Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snapshots := make([]*Snapshot, 0, len(s.snapshots[executionID]))
	for _, snapshot := range s.snapshots[executionID] {
		copied, err := cloneSnapshot(snapshot)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, copied)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].StepOrder < snapshots[j].StepOrder
	})
	return snapshots
}

func (s *MemoryStore) RunningExecutions(ctx context.Context) ([]*ExecutionRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var records []*ExecutionRecord
	for _, record := range s.executions {
		if record.Status != ExecutionStatusRunning {
			continue
		}
		copied, err := cloneRecord(record)
		if err != nil {
			return nil, err
		}
		records = append(records, copied)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context) ([]*ExecutionSummary, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var summaries []*ExecutionSummary
	for _, record := range s.executions {
		summaries = append(summaries, summarize(record))
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// applyUpdate applies a partial update to a record in place.
func applyUpdate(record *ExecutionRecord, update ExecutionUpdate) {
	if update.Status != nil {
		record.Status = *update.Status
	}
	if update.ErrorMessage != nil {
		record.ErrorMessage = *update.ErrorMessage
	}
	if update.Variables != nil {
		record.Variables = update.Variables
	}
	if update.Results != nil {
		record.Results = update.Results
	}
	if update.History != nil {
		record.History = update.History
	}
	record.UpdatedAt = time.Now()
}

// latestSnapshotAtOrBefore returns the snapshot at the highest step order at
// or before the order corresponding to stepID, or nil if stepID was never
// snapshotted.
func latestSnapshotAtOrBefore(snapshots []*Snapshot, stepID string) (*Snapshot, error) {
	target := -1
	for _, snapshot := range snapshots {
		if snapshot.StepID == stepID && snapshot.StepOrder > target {
			target = snapshot.StepOrder
		}
	}
	if target < 0 {
		return nil, nil
	}
	var best *Snapshot
	for _, snapshot := range snapshots {
		if snapshot.StepOrder > target {
			continue
		}
		if best == nil || snapshot.StepOrder > best.StepOrder {
			best = snapshot
		}
	}
	return cloneSnapshot(best)
}

func cloneRecord(record *ExecutionRecord) (*ExecutionRecord, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution record: %w", err)
	}
	var copied ExecutionRecord
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution record: %w", err)
	}
	return &copied, nil
}

func cloneSnapshot(snapshot *Snapshot) (*Snapshot, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	var copied Snapshot
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &copied, nil
}
