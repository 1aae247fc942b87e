package conductor

import (
	"context"
	"time"
)

// ExecutionCallbacks defines the callback interface for execution events
type ExecutionCallbacks interface {
	// Execution-level callbacks
	BeforeExecution(ctx context.Context, event *ExecutionEvent)
	AfterExecution(ctx context.Context, event *ExecutionEvent)

	// Step-level callbacks
	BeforeStep(ctx context.Context, event *StepEvent)
	AfterStep(ctx context.Context, event *StepEvent)
}

// ExecutionEvent provides context for execution-level events
type ExecutionEvent struct {
	ExecutionID string
	WorkflowID  string
	Status      ExecutionStatus
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Inputs      map[string]any
	Results     map[string]any
	StepCount   int
	Error       error
}

// StepEvent provides context for step execution events
type StepEvent struct {
	ExecutionID string
	WorkflowID  string
	StepID      string
	StepType    string
	StepOrder   int
	Parameters  map[string]any
	Result      any
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Error       error
}

// BaseExecutionCallbacks provides a default implementation that does nothing
type BaseExecutionCallbacks struct{}

func (n *BaseExecutionCallbacks) BeforeExecution(ctx context.Context, event *ExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterExecution(ctx context.Context, event *ExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) BeforeStep(ctx context.Context, event *StepEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterStep(ctx context.Context, event *StepEvent) {
	// noop
}

// NewBaseExecutionCallbacks creates a new no-op callbacks implementation.
// Embed this in your own callbacks to get a default implementation that does nothing.
func NewBaseExecutionCallbacks() ExecutionCallbacks {
	return &BaseExecutionCallbacks{}
}

// CallbackChain allows chaining multiple callback implementations
type CallbackChain struct {
	callbacks []ExecutionCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...ExecutionCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain
func (c *CallbackChain) Add(callback ExecutionCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeExecution(ctx context.Context, event *ExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterExecution(ctx context.Context, event *ExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterExecution(ctx, event)
	}
}

func (c *CallbackChain) BeforeStep(ctx context.Context, event *StepEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeStep(ctx, event)
	}
}

func (c *CallbackChain) AfterStep(ctx context.Context, event *StepEvent) {
	for _, callback := range c.callbacks {
		callback.AfterStep(ctx, event)
	}
}
