package conductor

import (
	"context"
	"fmt"
	"regexp"

	"github.com/deepnoodle-ai/conductor/script"
)

// stepRefPattern matches references to step results inside ${...}
// expressions, e.g. ${steps.step_1.output.total}.
var stepRefPattern = regexp.MustCompile(`\bsteps\.([A-Za-z_][A-Za-z0-9_-]*)`)

// parameterResolver renders ${...} expressions in step parameters against
// the current execution state. A parameter value that is exactly one
// expression keeps its evaluated type; mixed text renders to a string.
type parameterResolver struct {
	compiler script.Compiler
	stepID   string
	globals  map[string]any
	results  map[string]any
}

func newParameterResolver(compiler script.Compiler, stepID string, state StateReader, results map[string]any) *parameterResolver {
	return &parameterResolver{
		compiler: compiler,
		stepID:   stepID,
		globals: map[string]any{
			"inputs": state.GetInputs(),
			"state":  state.GetVariables(),
			"steps":  results,
		},
		results: results,
	}
}

// Resolve walks a parameter map and evaluates every templated string,
// descending into nested maps and lists.
func (r *parameterResolver) Resolve(ctx context.Context, parameters map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(parameters))
	for key, value := range parameters {
		out, err := r.resolveValue(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve parameter %q: %w", key, err)
		}
		resolved[key] = out
	}
	return resolved, nil
}

func (r *parameterResolver) resolveValue(ctx context.Context, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(ctx, v)
	case map[string]any:
		resolved := make(map[string]any, len(v))
		for key, item := range v {
			out, err := r.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			resolved[key] = out
		}
		return resolved, nil
	case []any:
		resolved := make([]any, len(v))
		for i, item := range v {
			out, err := r.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			resolved[i] = out
		}
		return resolved, nil
	default:
		return value, nil
	}
}

func (r *parameterResolver) resolveString(ctx context.Context, raw string) (any, error) {
	if err := r.checkStepReferences(raw); err != nil {
		return nil, err
	}
	tmpl, err := script.NewTemplate(r.compiler, raw)
	if err != nil {
		return nil, err
	}
	return tmpl.EvalValue(ctx, r.globals)
}

// checkStepReferences rejects references to steps with no recorded result
// before evaluation, so the failure surfaces as a dependency problem rather
// than a script error on a missing key.
func (r *parameterResolver) checkStepReferences(raw string) error {
	for _, expr := range script.Expressions(raw) {
		for _, m := range stepRefPattern.FindAllStringSubmatch(expr, -1) {
			ref := m[1]
			if _, ok := r.results[ref]; !ok {
				return &DependencyError{StepID: r.stepID, Reference: ref}
			}
		}
	}
	return nil
}
