package conductor

import (
	"context"
	"fmt"
)

// ForkOptions are used to fork an execution from a historical snapshot.
type ForkOptions struct {
	// ExecutionID identifies the source execution.
	ExecutionID string

	// StepID selects the fork point: the latest snapshot taken at or before
	// this step. The forked execution continues from that step's successors.
	StepID string

	// Overrides are merged into the forked execution's state variables
	// before it starts. Override values win over snapshot values.
	Overrides map[string]any

	// ForkExecutionID overrides the generated execution ID. Used by tests.
	ForkExecutionID string
}

// Fork creates a new execution from a snapshot of an existing one. The fork
// is an independent lineage: it gets its own execution ID and snapshot
// history, and nothing it does affects the source execution. The source may
// be in any status, including FAILED, which makes forking the natural way to
// retry a failed run with corrected state.
//
// Fork returns as soon as the forked execution is persisted and started; it
// runs in the background. Use Wait to block until background executions
// finish, or watch the returned context's status.
func (o *Orchestrator) Fork(ctx context.Context, opts ForkOptions) (*ExecutionContext, error) {
	source, err := o.store.GetExecution(ctx, opts.ExecutionID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, &InvalidStateError{ExecutionID: opts.ExecutionID, Operation: "fork"}
	}

	snapshot, err := o.store.LatestSnapshot(ctx, opts.ExecutionID, opts.StepID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, fmt.Errorf("fork execution %q at step %q: %w",
			opts.ExecutionID, opts.StepID, ErrSnapshotNotFound)
	}

	definition, err := o.resolveDefinition(ctx, source.WorkflowID)
	if err != nil {
		return nil, err
	}

	forkID := opts.ForkExecutionID
	if forkID == "" {
		forkID = NewExecutionID()
	}
	execution := contextFromSnapshot(forkID, source, snapshot)
	execution.MergeVariables(opts.Overrides)

	record := execution.Record()
	record.ForkedFromExecutionID = source.ExecutionID
	record.ForkedFromStepID = snapshot.StepID
	if err := o.store.InsertExecution(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist forked execution: %w", err)
	}

	active := &activeExecution{context: execution, definition: definition, driving: true}
	o.mutex.Lock()
	if o.active == nil {
		o.active = map[string]*activeExecution{}
	}
	o.active[forkID] = active
	o.mutex.Unlock()

	o.logger.Info("execution forked",
		"execution_id", forkID,
		"source_execution_id", source.ExecutionID,
		"fork_step_id", snapshot.StepID,
		"fork_step_order", snapshot.StepOrder)

	o.startBackground(ctx, active, continuationFrontier(definition, execution))
	return execution, nil
}
