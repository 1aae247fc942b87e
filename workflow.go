package conductor

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Step represents a single step in a workflow definition. Parameters may
// contain ${...} template expressions that reference workflow inputs, state
// variables, or the recorded results of prior steps.
type Step struct {
	ID         string         `json:"id" yaml:"id"`
	Type       string         `json:"type" yaml:"type"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Next       []string       `json:"next,omitempty" yaml:"next,omitempty"`
}

// Options are used to configure a workflow definition.
type Options struct {
	ID          string  `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []*Step `json:"steps" yaml:"steps"`
	Start       string  `json:"start,omitempty" yaml:"start,omitempty"`
}

// Definition is an immutable workflow definition: a directed acyclic graph
// of steps to be executed one at a time.
type Definition struct {
	id          string
	name        string
	description string
	steps       []*Step
	stepsByID   map[string]*Step
	start       *Step
}

// NewDefinition returns a new Definition configured with the given options.
func NewDefinition(opts Options) (*Definition, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("workflow name required")
	}
	if len(opts.Steps) == 0 {
		return nil, fmt.Errorf("steps required")
	}
	id := opts.ID
	if id == "" {
		id = opts.Name
	}

	stepsByID := make(map[string]*Step, len(opts.Steps))
	for _, step := range opts.Steps {
		if step.ID == "" {
			return nil, fmt.Errorf("step id required")
		}
		if step.Type == "" {
			return nil, fmt.Errorf("step %q: step type required", step.ID)
		}
		if _, ok := stepsByID[step.ID]; ok {
			return nil, fmt.Errorf("duplicate step id %q", step.ID)
		}
		stepsByID[step.ID] = step
	}
	for _, step := range opts.Steps {
		for _, next := range step.Next {
			if _, ok := stepsByID[next]; !ok {
				return nil, fmt.Errorf("step %q: edge to unknown step %q", step.ID, next)
			}
		}
	}

	start := opts.Steps[0]
	if opts.Start != "" {
		s, ok := stepsByID[opts.Start]
		if !ok {
			return nil, fmt.Errorf("start step %q not found", opts.Start)
		}
		start = s
	}

	if err := detectCycles(stepsByID, start.ID); err != nil {
		return nil, err
	}

	return &Definition{
		id:          id,
		name:        opts.Name,
		description: opts.Description,
		steps:       opts.Steps,
		stepsByID:   stepsByID,
		start:       start,
	}, nil
}

// ID returns the workflow ID
func (d *Definition) ID() string {
	return d.id
}

// Name returns the workflow name
func (d *Definition) Name() string {
	return d.name
}

// Description returns the workflow description
func (d *Definition) Description() string {
	return d.description
}

// Steps returns the workflow steps
func (d *Definition) Steps() []*Step {
	return d.steps
}

// Start returns the workflow start step
func (d *Definition) Start() *Step {
	return d.start
}

// Step returns a step by ID
func (d *Definition) Step(id string) (*Step, bool) {
	step, ok := d.stepsByID[id]
	return step, ok
}

// StepIDs returns the sorted IDs of all steps in the workflow
func (d *Definition) StepIDs() []string {
	ids := make([]string, 0, len(d.stepsByID))
	for id := range d.stepsByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// detectCycles walks the graph from every step and rejects definitions that
// are not acyclic.
func detectCycles(stepsByID map[string]*Step, start string) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	colors := make(map[string]int, len(stepsByID))

	var visit func(id string) error
	visit = func(id string) error {
		switch colors[id] {
		case visiting:
			return fmt.Errorf("workflow contains a cycle through step %q", id)
		case done:
			return nil
		}
		colors[id] = visiting
		for _, next := range stepsByID[id].Next {
			if err := visit(next); err != nil {
				return err
			}
		}
		colors[id] = done
		return nil
	}

	ids := make([]string, 0, len(stepsByID))
	for id := range stepsByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if err := visit(start); err != nil {
		return err
	}
	for _, id := range ids {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile loads a workflow definition from a YAML file
func LoadFile(path string) (*Definition, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	var opts Options
	if err := yaml.Unmarshal(yamlData, &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow file: %w", err)
	}
	return NewDefinition(opts)
}

// LoadString loads a workflow definition from a YAML string
func LoadString(data string) (*Definition, error) {
	var opts Options
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow definition: %w", err)
	}
	return NewDefinition(opts)
}
