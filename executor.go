package conductor

import (
	"context"
	"fmt"
	"sort"
)

// StateReader provides step executors with read-only access to the owning
// execution's inputs, variables, and recorded step results.
type StateReader interface {
	// GetInputs returns a copy of the execution's input data
	GetInputs() map[string]any

	// GetVariables returns a copy of the execution's state variables
	GetVariables() map[string]any

	// GetResult returns the recorded result for a completed step
	GetResult(stepID string) (any, bool)
}

// StepRequest carries everything an executor needs to perform one step.
// Parameters have already had their template references resolved.
type StepRequest struct {
	ExecutionID string
	StepID      string
	StepType    string
	Parameters  map[string]any
	State       StateReader
}

// StepResult is returned by an executor on success. Variables, if set, are
// merged into the execution's state variables after the step completes.
type StepResult struct {
	Output    any
	Variables map[string]any
}

// StepExecutor performs the real work for one step type. Executors must
// tolerate at-least-once dispatch; the core performs no dedup or retry.
type StepExecutor interface {
	// Type returns the step type this executor handles
	Type() string

	// Execute performs the step. A returned error marks the execution failed.
	Execute(ctx context.Context, req *StepRequest) (*StepResult, error)
}

// ExecutorFunc wraps a function for use as a StepExecutor.
type ExecutorFunc struct {
	stepType string
	fn       func(ctx context.Context, req *StepRequest) (*StepResult, error)
}

// NewExecutorFunc returns a StepExecutor for the given function.
func NewExecutorFunc(stepType string, fn func(ctx context.Context, req *StepRequest) (*StepResult, error)) *ExecutorFunc {
	return &ExecutorFunc{stepType: stepType, fn: fn}
}

func (e *ExecutorFunc) Type() string {
	return e.stepType
}

func (e *ExecutorFunc) Execute(ctx context.Context, req *StepRequest) (*StepResult, error) {
	return e.fn(ctx, req)
}

// Registry dispatches step types to their executors. It is populated at
// construction and validated against definitions before any execution
// begins, so unknown step types fail fast rather than mid-run.
type Registry struct {
	executors map[string]StepExecutor
}

// NewRegistry creates a registry holding the given executors.
func NewRegistry(executors ...StepExecutor) (*Registry, error) {
	r := &Registry{executors: make(map[string]StepExecutor, len(executors))}
	for _, executor := range executors {
		if err := r.Register(executor); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an executor. Registering a duplicate step type is an error.
func (r *Registry) Register(executor StepExecutor) error {
	stepType := executor.Type()
	if stepType == "" {
		return fmt.Errorf("executor step type required")
	}
	if _, ok := r.executors[stepType]; ok {
		return fmt.Errorf("executor for step type %q already registered", stepType)
	}
	r.executors[stepType] = executor
	return nil
}

// Get returns the executor for a step type.
func (r *Registry) Get(stepType string) (StepExecutor, bool) {
	executor, ok := r.executors[stepType]
	return executor, ok
}

// Types returns the sorted step types known to the registry.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.executors))
	for stepType := range r.executors {
		types = append(types, stepType)
	}
	sort.Strings(types)
	return types
}

// Validate confirms that every step in the definition has a registered
// executor.
func (r *Registry) Validate(def *Definition) error {
	for _, step := range def.Steps() {
		if _, ok := r.executors[step.Type]; !ok {
			return fmt.Errorf("workflow %q step %q: no executor registered for step type %q",
				def.ID(), step.ID, step.Type)
		}
	}
	return nil
}
