package conductor

import (
	"context"
)

// ResumeOptions are used to resume a dormant or paused execution.
type ResumeOptions struct {
	// ExecutionID identifies the execution to resume.
	ExecutionID string

	// Input is merged into the execution's state variables before it
	// continues. Incoming values win; all other state is retained.
	Input map[string]any
}

// Resume continues an execution from where it stopped: the successors of the
// last completed step in its history. It applies to executions restored by
// Restore and to executions stopped by Pause. Resuming an execution that is
// actively being driven, or that has reached a terminal status, returns an
// InvalidStateError.
//
// Resume returns as soon as the execution is marked running; it continues in
// the background. Use Wait to block until background executions finish.
func (o *Orchestrator) Resume(ctx context.Context, opts ResumeOptions) (*ExecutionContext, error) {
	o.mutex.Lock()
	active, ok := o.active[opts.ExecutionID]
	if ok && active.driving {
		status := active.context.Status()
		o.mutex.Unlock()
		return nil, &InvalidStateError{
			ExecutionID: opts.ExecutionID,
			Status:      status,
			Operation:   "resume",
		}
	}
	if ok {
		active.driving = true
		active.cancelled = false
		active.paused = false
	}
	o.mutex.Unlock()

	if !ok {
		var err error
		active, err = o.adoptExecution(ctx, opts.ExecutionID)
		if err != nil {
			return nil, err
		}
	}

	execution := active.context
	execution.MergeVariables(opts.Input)
	execution.SetStatus(ExecutionStatusRunning)
	if err := o.persistState(ctx, execution); err != nil {
		return nil, err
	}

	o.logger.Info("execution resumed",
		"execution_id", execution.ID(),
		"steps_completed", len(execution.History()))

	o.startBackground(ctx, active, continuationFrontier(active.definition, execution))
	return execution, nil
}

// adoptExecution loads a resumable execution directly from the store and
// registers it as live. This covers resuming by ID without a prior Restore
// pass, e.g. from a CLI invocation in a fresh process.
func (o *Orchestrator) adoptExecution(ctx context.Context, executionID string) (*activeExecution, error) {
	record, err := o.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &InvalidStateError{ExecutionID: executionID, Operation: "resume"}
	}
	if record.Status.Terminal() {
		return nil, &InvalidStateError{
			ExecutionID: executionID,
			Status:      record.Status,
			Operation:   "resume",
		}
	}

	execution, err := contextFromRecord(record)
	if err != nil {
		return nil, err
	}
	definition, err := o.resolveDefinition(ctx, record.WorkflowID)
	if err != nil {
		return nil, err
	}

	active := &activeExecution{context: execution, definition: definition, driving: true}
	o.mutex.Lock()
	if o.active == nil {
		o.active = map[string]*activeExecution{}
	}
	if existing, exists := o.active[executionID]; exists {
		// Raced with a Restore; keep the registered entry.
		if existing.driving {
			o.mutex.Unlock()
			return nil, &InvalidStateError{
				ExecutionID: executionID,
				Status:      existing.context.Status(),
				Operation:   "resume",
			}
		}
		existing.driving = true
		existing.cancelled = false
		existing.paused = false
		o.mutex.Unlock()
		return existing, nil
	}
	o.active[executionID] = active
	o.mutex.Unlock()
	return active, nil
}
