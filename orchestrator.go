package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deepnoodle-ai/conductor/script"
)

// OrchestratorOptions are used to configure an Orchestrator.
type OrchestratorOptions struct {
	// Store persists execution rows and snapshots. Defaults to an in-memory
	// store, which does not survive restarts.
	Store Store

	// Definitions resolves workflow IDs to definitions. Optional if every
	// Execute call passes a Definition directly.
	Definitions DefinitionProvider

	// Executors handle the step types used by the workflows.
	Executors []StepExecutor

	// Logger for orchestrator events. Defaults to a colorized stdout logger.
	Logger *slog.Logger

	// StepLogger records per-step log entries. Defaults to a no-op logger.
	StepLogger StepLogger

	// Callbacks receive execution and step lifecycle events.
	Callbacks ExecutionCallbacks

	// ScriptCompiler compiles ${...} template expressions. Defaults to a
	// Risor engine with the standard globals.
	ScriptCompiler script.Compiler
}

// activeExecution pairs an in-memory execution context with the definition
// driving it and the cooperative control flags checked at step boundaries.
type activeExecution struct {
	context    *ExecutionContext
	definition *Definition
	driving    bool
	cancelled  bool
	paused     bool
}

// Orchestrator runs workflow executions: it advances each execution one step
// at a time, snapshots the context after every completed step, and keeps an
// in-memory set of live executions for cancel, pause, fork, and resume.
//
// One task drives one execution; there is no parallel step execution within
// a single context.
type Orchestrator struct {
	store       Store
	definitions DefinitionProvider
	registry    *Registry
	logger      *slog.Logger
	stepLogger  StepLogger
	callbacks   ExecutionCallbacks
	compiler    script.Compiler

	mutex  sync.Mutex
	active map[string]*activeExecution
	wg     sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator with the given options.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	registry, err := NewRegistry(opts.Executors...)
	if err != nil {
		return nil, err
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = NewLogger()
	}
	if opts.StepLogger == nil {
		opts.StepLogger = NewNullStepLogger()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewBaseExecutionCallbacks()
	}
	if opts.ScriptCompiler == nil {
		opts.ScriptCompiler = script.NewRisorScriptingEngine(script.DefaultRisorGlobals())
	}
	return &Orchestrator{
		store:       opts.Store,
		definitions: opts.Definitions,
		registry:    registry,
		logger:      opts.Logger,
		stepLogger:  opts.StepLogger,
		callbacks:   opts.Callbacks,
		compiler:    opts.ScriptCompiler,
	}, nil
}

// ExecuteOptions are used to start a workflow execution.
type ExecuteOptions struct {
	// WorkflowID selects a definition from the orchestrator's provider.
	// Ignored when Definition is set.
	WorkflowID string

	// Definition runs a definition directly, bypassing the provider.
	Definition *Definition

	// Input is the execution's immutable input data. It also seeds the
	// initial state variables.
	Input map[string]any

	// UserID optionally associates the execution with a user.
	UserID string

	// ExecutionID overrides the generated execution ID. Used by tests.
	ExecutionID string
}

// Execute starts a new workflow execution and blocks until it reaches a
// terminal status or pauses. The returned context reflects the execution's
// final in-memory state; a step failure is returned as a StepExecutionError.
func (o *Orchestrator) Execute(ctx context.Context, opts ExecuteOptions) (*ExecutionContext, error) {
	definition := opts.Definition
	if definition == nil {
		if o.definitions == nil {
			return nil, fmt.Errorf("no definition provider configured")
		}
		var err error
		definition, err = o.definitions.GetDefinition(ctx, opts.WorkflowID)
		if err != nil {
			return nil, err
		}
	}
	if err := o.registry.Validate(definition); err != nil {
		return nil, err
	}

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = NewExecutionID()
	}
	execution := NewExecutionContext(executionID, definition.ID(), opts.UserID, opts.Input)

	if err := o.store.InsertExecution(ctx, execution.Record()); err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	active := &activeExecution{context: execution, definition: definition, driving: true}
	o.mutex.Lock()
	if _, exists := o.active[executionID]; exists {
		o.mutex.Unlock()
		return nil, fmt.Errorf("execution %q already active", executionID)
	}
	if o.active == nil {
		o.active = map[string]*activeExecution{}
	}
	o.active[executionID] = active
	o.mutex.Unlock()

	o.logger.Info("execution started",
		"execution_id", executionID,
		"workflow_id", definition.ID())

	return execution, o.run(ctx, active, []*Step{definition.Start()})
}

// run drives an execution until it completes, fails, cancels, or pauses.
// The frontier holds the steps ready to execute, in FIFO order.
func (o *Orchestrator) run(ctx context.Context, active *activeExecution, frontier []*Step) error {
	execution := active.context
	startTime := time.Now()

	o.callbacks.BeforeExecution(ctx, &ExecutionEvent{
		ExecutionID: execution.ID(),
		WorkflowID:  execution.WorkflowID(),
		Status:      execution.Status(),
		StartTime:   startTime,
		Inputs:      execution.Inputs(),
		StepCount:   len(active.definition.Steps()),
	})

	inFrontier := make(map[string]bool, len(frontier))
	for _, step := range frontier {
		inFrontier[step.ID] = true
	}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return o.finishCancelled(ctx, active, startTime)
		}
		if o.controlFlag(execution.ID(), func(a *activeExecution) bool { return a.cancelled }) {
			return o.finishCancelled(ctx, active, startTime)
		}
		if o.controlFlag(execution.ID(), func(a *activeExecution) bool { return a.paused }) {
			return o.finishPaused(ctx, active, startTime)
		}

		step := frontier[0]
		frontier = frontier[1:]
		delete(inFrontier, step.ID)

		if err := o.executeStep(ctx, active, step); err != nil {
			return o.finishFailed(ctx, active, startTime, err)
		}

		for _, nextID := range step.Next {
			next, ok := active.definition.Step(nextID)
			if !ok || inFrontier[nextID] {
				continue
			}
			frontier = append(frontier, next)
			inFrontier[nextID] = true
		}
	}

	return o.finishCompleted(ctx, active, startTime)
}

// executeStep runs one step end to end: parameter resolution, dispatch,
// context mutation, snapshot, and durable row update. The snapshot write
// happens before the step's successors can run.
func (o *Orchestrator) executeStep(ctx context.Context, active *activeExecution, step *Step) error {
	execution := active.context
	executor, ok := o.registry.Get(step.Type)
	if !ok {
		return &StepExecutionError{
			StepID: step.ID,
			Err:    fmt.Errorf("no executor registered for step type %q", step.Type),
		}
	}

	resolver := newParameterResolver(o.compiler, step.ID, execution.View(), execution.Results())
	parameters, err := resolver.Resolve(ctx, step.Parameters)
	if err != nil {
		execution.RecordStepFailure(step.ID, err)
		return &StepExecutionError{StepID: step.ID, Err: err}
	}

	stepStart := time.Now()
	o.callbacks.BeforeStep(ctx, &StepEvent{
		ExecutionID: execution.ID(),
		WorkflowID:  execution.WorkflowID(),
		StepID:      step.ID,
		StepType:    step.Type,
		StepOrder:   len(execution.History()) + 1,
		Parameters:  parameters,
		StartTime:   stepStart,
	})

	stepCtx := WithLogger(ctx, o.logger)
	stepCtx = WithCompiler(stepCtx, o.compiler)
	stepCtx = WithState(stepCtx, execution.View())

	result, err := executor.Execute(stepCtx, &StepRequest{
		ExecutionID: execution.ID(),
		StepID:      step.ID,
		StepType:    step.Type,
		Parameters:  parameters,
		State:       execution.View(),
	})
	stepEnd := time.Now()

	if err != nil {
		execution.RecordStepFailure(step.ID, err)
		o.logStep(ctx, execution, step, parameters, nil, err, stepStart, stepEnd)
		o.callbacks.AfterStep(ctx, &StepEvent{
			ExecutionID: execution.ID(),
			WorkflowID:  execution.WorkflowID(),
			StepID:      step.ID,
			StepType:    step.Type,
			StepOrder:   len(execution.History()),
			Parameters:  parameters,
			StartTime:   stepStart,
			EndTime:     stepEnd,
			Duration:    stepEnd.Sub(stepStart),
			Error:       err,
		})
		return &StepExecutionError{StepID: step.ID, Err: err}
	}

	recorded := map[string]any{
		"status": "completed",
		"output": result.Output,
	}
	execution.RecordStep(step.ID, recorded, result.Variables)

	snapshot := execution.Snapshot(step.ID)
	if err := o.store.InsertSnapshot(ctx, snapshot); err != nil {
		// The execution continues in memory; recovery fidelity for this
		// step is degraded, not the execution itself.
		persistErr := &SnapshotPersistError{
			ExecutionID: execution.ID(),
			StepID:      step.ID,
			Err:         err,
		}
		o.logger.Error("snapshot write failed",
			"execution_id", execution.ID(),
			"step_id", step.ID,
			"error", persistErr)
	}

	if err := o.persistState(ctx, execution); err != nil {
		o.logger.Error("execution update failed",
			"execution_id", execution.ID(),
			"step_id", step.ID,
			"error", err)
	}

	o.logStep(ctx, execution, step, parameters, recorded, nil, stepStart, stepEnd)
	o.callbacks.AfterStep(ctx, &StepEvent{
		ExecutionID: execution.ID(),
		WorkflowID:  execution.WorkflowID(),
		StepID:      step.ID,
		StepType:    step.Type,
		StepOrder:   snapshot.StepOrder,
		Parameters:  parameters,
		Result:      result.Output,
		StartTime:   stepStart,
		EndTime:     stepEnd,
		Duration:    stepEnd.Sub(stepStart),
	})

	o.logger.Info("step completed",
		"execution_id", execution.ID(),
		"step_id", step.ID,
		"step_order", snapshot.StepOrder)
	return nil
}

func (o *Orchestrator) logStep(ctx context.Context, execution *ExecutionContext, step *Step, parameters map[string]any, result any, stepErr error, start, end time.Time) {
	entry := &StepLogEntry{
		ID:          NewStepLogID(),
		ExecutionID: execution.ID(),
		StepID:      step.ID,
		StepType:    step.Type,
		StepOrder:   len(execution.History()),
		Parameters:  parameters,
		Result:      result,
		StartTime:   start,
		Duration:    end.Sub(start).Seconds(),
	}
	if stepErr != nil {
		entry.Error = stepErr.Error()
	}
	if err := o.stepLogger.LogStep(ctx, entry); err != nil {
		o.logger.Warn("step log write failed",
			"execution_id", execution.ID(),
			"step_id", step.ID,
			"error", err)
	}
}

// persistState writes the execution's mutable fields to its durable row.
func (o *Orchestrator) persistState(ctx context.Context, execution *ExecutionContext) error {
	status := execution.Status()
	errMessage := execution.ErrorMessage()
	return o.store.UpdateExecution(ctx, execution.ID(), ExecutionUpdate{
		Status:       &status,
		ErrorMessage: &errMessage,
		Variables:    execution.Variables(),
		Results:      execution.Results(),
		History:      execution.History(),
	})
}

func (o *Orchestrator) finishCompleted(ctx context.Context, active *activeExecution, startTime time.Time) error {
	execution := active.context
	execution.SetStatus(ExecutionStatusCompleted)
	if err := o.persistState(ctx, execution); err != nil {
		o.logger.Error("execution update failed",
			"execution_id", execution.ID(),
			"error", err)
	}
	o.removeActive(execution.ID())
	o.emitAfterExecution(ctx, active, startTime, nil)
	o.logger.Info("execution completed",
		"execution_id", execution.ID(),
		"steps", len(execution.History()))
	return nil
}

func (o *Orchestrator) finishFailed(ctx context.Context, active *activeExecution, startTime time.Time, stepErr error) error {
	execution := active.context
	execution.SetFailed(stepErr)
	if err := o.persistState(ctx, execution); err != nil {
		o.logger.Error("execution update failed",
			"execution_id", execution.ID(),
			"error", err)
	}
	o.removeActive(execution.ID())
	o.emitAfterExecution(ctx, active, startTime, stepErr)
	o.logger.Error("execution failed",
		"execution_id", execution.ID(),
		"error", stepErr)
	return stepErr
}

func (o *Orchestrator) finishCancelled(ctx context.Context, active *activeExecution, startTime time.Time) error {
	execution := active.context
	execution.SetStatus(ExecutionStatusCancelled)
	if err := o.persistState(ctx, execution); err != nil {
		o.logger.Error("execution update failed",
			"execution_id", execution.ID(),
			"error", err)
	}
	o.removeActive(execution.ID())
	o.emitAfterExecution(ctx, active, startTime, nil)
	o.logger.Info("execution cancelled", "execution_id", execution.ID())
	return nil
}

// finishPaused persists the paused status but keeps the execution in the
// active set so Resume can pick it up.
func (o *Orchestrator) finishPaused(ctx context.Context, active *activeExecution, startTime time.Time) error {
	execution := active.context
	execution.SetStatus(ExecutionStatusPaused)
	if err := o.persistState(ctx, execution); err != nil {
		o.logger.Error("execution update failed",
			"execution_id", execution.ID(),
			"error", err)
	}
	o.mutex.Lock()
	active.driving = false
	active.paused = false
	o.mutex.Unlock()
	o.emitAfterExecution(ctx, active, startTime, nil)
	o.logger.Info("execution paused", "execution_id", execution.ID())
	return nil
}

func (o *Orchestrator) emitAfterExecution(ctx context.Context, active *activeExecution, startTime time.Time, err error) {
	execution := active.context
	endTime := time.Now()
	o.callbacks.AfterExecution(ctx, &ExecutionEvent{
		ExecutionID: execution.ID(),
		WorkflowID:  execution.WorkflowID(),
		Status:      execution.Status(),
		StartTime:   startTime,
		EndTime:     endTime,
		Duration:    endTime.Sub(startTime),
		Inputs:      execution.Inputs(),
		Results:     execution.Results(),
		StepCount:   len(active.definition.Steps()),
		Error:       err,
	})
}

func (o *Orchestrator) controlFlag(executionID string, flag func(*activeExecution) bool) bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	active, ok := o.active[executionID]
	if !ok {
		return false
	}
	return flag(active)
}

func (o *Orchestrator) removeActive(executionID string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	delete(o.active, executionID)
}

// Execution returns the in-memory context for a live execution.
func (o *Orchestrator) Execution(executionID string) (*ExecutionContext, bool) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	active, ok := o.active[executionID]
	if !ok {
		return nil, false
	}
	return active.context, true
}

// ActiveExecutionIDs returns the IDs of all live executions, including
// dormant ones restored by Restore.
func (o *Orchestrator) ActiveExecutionIDs() []string {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

// Cancel requests cooperative cancellation of a live execution. The
// execution stops at the next step boundary. Cancelling a dormant execution
// marks it cancelled immediately.
func (o *Orchestrator) Cancel(ctx context.Context, executionID string) error {
	o.mutex.Lock()
	active, ok := o.active[executionID]
	if !ok {
		o.mutex.Unlock()
		return &InvalidStateError{ExecutionID: executionID, Operation: "cancel"}
	}
	active.cancelled = true
	driving := active.driving
	o.mutex.Unlock()

	if !driving {
		// Nobody is at a step boundary to notice the flag.
		active.context.SetStatus(ExecutionStatusCancelled)
		if err := o.persistState(ctx, active.context); err != nil {
			return err
		}
		o.removeActive(executionID)
	}
	return nil
}

// Pause requests that a running execution stop at the next step boundary
// with status PAUSED, remaining resumable.
func (o *Orchestrator) Pause(executionID string) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	active, ok := o.active[executionID]
	if !ok {
		return &InvalidStateError{ExecutionID: executionID, Operation: "pause"}
	}
	if !active.driving {
		return &InvalidStateError{
			ExecutionID: executionID,
			Status:      active.context.Status(),
			Operation:   "pause",
		}
	}
	active.paused = true
	return nil
}

// Wait blocks until all background executions started by Fork and Resume
// have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// ListExecutions returns summaries of all persisted executions.
func (o *Orchestrator) ListExecutions(ctx context.Context) ([]*ExecutionSummary, error) {
	return o.store.ListExecutions(ctx)
}

// continuationFrontier returns the steps to run next for an execution
// resuming mid-workflow: the successors of the last completed step, or the
// start step if nothing has executed yet.
func continuationFrontier(definition *Definition, execution *ExecutionContext) []*Step {
	lastStepID, ok := execution.LastStepID()
	if !ok {
		return []*Step{definition.Start()}
	}
	last, ok := definition.Step(lastStepID)
	if !ok {
		return nil
	}
	var frontier []*Step
	seen := make(map[string]bool, len(last.Next))
	for _, nextID := range last.Next {
		next, ok := definition.Step(nextID)
		if !ok || seen[nextID] {
			continue
		}
		frontier = append(frontier, next)
		seen[nextID] = true
	}
	return frontier
}

// startBackground drives an execution on its own task, detached from the
// caller's context lifetime. Wait blocks until all such tasks finish.
func (o *Orchestrator) startBackground(ctx context.Context, active *activeExecution, frontier []*Step) {
	o.wg.Add(1)
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer o.wg.Done()
		if err := o.run(runCtx, active, frontier); err != nil {
			o.logger.Error("background execution failed",
				"execution_id", active.context.ID(),
				"error", err)
		}
	}()
}
