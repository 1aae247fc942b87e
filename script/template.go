package script

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var exprPattern = regexp.MustCompile(`\${([^}]+)}`)

// Template is a string containing zero or more ${...} expressions. The
// expressions are compiled once at construction time and evaluated against
// a set of globals on each Eval call.
type Template struct {
	raw   string
	parts []string
	codes []Script
	// whole is set when the entire template is a single ${...} expression,
	// in which case EvalValue can return the typed result directly.
	whole Script
}

func NewTemplate(engine Compiler, raw string) (*Template, error) {
	t := &Template{raw: raw}

	// First validate that all ${...} expressions are properly closed
	openCount := strings.Count(raw, "${")
	closeCount := strings.Count(raw, "}")
	if openCount > closeCount {
		return nil, fmt.Errorf("unclosed template expression in string: %q", raw)
	}

	if openCount == 0 {
		// No template variables, just return the raw string
		return t, nil
	}

	matches := exprPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return t, nil
	}

	var lastEnd int
	var parts []string
	var codes []Script
	for _, match := range matches {
		// Add the text before the match
		if match[0] > lastEnd {
			parts = append(parts, raw[lastEnd:match[0]])
		}

		// Extract and compile the code inside ${...}
		expr := raw[match[2]:match[3]]

		script, err := engine.Compile(context.Background(), expr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile template expression %q: %w", expr, err)
		}

		codes = append(codes, script)
		parts = append(parts, "") // Placeholder for the evaluated result
		lastEnd = match[1]
	}

	// Add any remaining text after the last match
	if lastEnd < len(raw) {
		parts = append(parts, raw[lastEnd:])
	}

	t.parts = parts
	t.codes = codes
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(raw) {
		t.whole = codes[0]
	}
	return t, nil
}

// Eval evaluates the template to a string.
func (t *Template) Eval(ctx context.Context, globals map[string]any) (string, error) {
	if len(t.codes) == 0 {
		// No template variables, return the raw string
		return t.raw, nil
	}

	// Make a copy of parts since we'll modify it
	parts := make([]string, len(t.parts))
	copy(parts, t.parts)

	// Evaluate each code block and replace the corresponding placeholder
	for _, code := range t.codes {
		result, err := code.Evaluate(ctx, globals)
		if err != nil {
			return "", fmt.Errorf("failed to evaluate template expression: %w", err)
		}
		// Find the next empty placeholder and replace it
		for j := range parts {
			if parts[j] == "" {
				parts[j] = result.String()
				break
			}
		}
	}

	return strings.Join(parts, ""), nil
}

// EvalValue evaluates the template, preserving the value's type when the
// whole template is exactly one ${...} expression. Mixed text and
// expressions evaluate to a string as with Eval.
func (t *Template) EvalValue(ctx context.Context, globals map[string]any) (any, error) {
	if t.whole != nil {
		result, err := t.whole.Evaluate(ctx, globals)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate template expression: %w", err)
		}
		return result.Value(), nil
	}
	return t.Eval(ctx, globals)
}

// Expressions returns the raw ${...} expression bodies found in a string,
// without compiling them.
func Expressions(raw string) []string {
	matches := exprPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}
	exprs := make([]string, 0, len(matches))
	for _, m := range matches {
		exprs = append(exprs, m[1])
	}
	return exprs
}
