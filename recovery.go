package conductor

import (
	"context"
	"errors"
)

// Restore loads executions that were RUNNING when the process last stopped
// and registers them as dormant live executions. Restored executions do not
// advance until Resume is called for them.
//
// Rows that cannot be deserialized, and rows whose workflow definition is no
// longer available, are logged and skipped; one bad row never prevents the
// rest from being restored. Returns the IDs of the restored executions.
func (o *Orchestrator) Restore(ctx context.Context) ([]string, error) {
	records, err := o.store.RunningExecutions(ctx)
	if err != nil {
		return nil, err
	}

	var restored []string
	for _, record := range records {
		execution, err := contextFromRecord(record)
		if err != nil {
			var deserr *DeserializationError
			if errors.As(err, &deserr) {
				o.logger.Warn("skipping unrestorable execution",
					"execution_id", record.ExecutionID,
					"error", err)
				continue
			}
			return restored, err
		}

		definition, err := o.resolveDefinition(ctx, record.WorkflowID)
		if err != nil {
			o.logger.Warn("skipping execution with unknown workflow",
				"execution_id", record.ExecutionID,
				"workflow_id", record.WorkflowID,
				"error", err)
			continue
		}

		o.mutex.Lock()
		if o.active == nil {
			o.active = map[string]*activeExecution{}
		}
		if _, exists := o.active[record.ExecutionID]; exists {
			o.mutex.Unlock()
			continue
		}
		o.active[record.ExecutionID] = &activeExecution{
			context:    execution,
			definition: definition,
		}
		o.mutex.Unlock()

		restored = append(restored, record.ExecutionID)
		o.logger.Info("execution restored",
			"execution_id", record.ExecutionID,
			"workflow_id", record.WorkflowID,
			"steps_completed", len(record.History))
	}
	return restored, nil
}

func (o *Orchestrator) resolveDefinition(ctx context.Context, workflowID string) (*Definition, error) {
	if o.definitions == nil {
		return nil, &DefinitionNotFoundError{WorkflowID: workflowID}
	}
	return o.definitions.GetDefinition(ctx, workflowID)
}
