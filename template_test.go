package conductor

import (
	"context"
	"errors"
	"testing"

	"github.com/deepnoodle-ai/conductor/script"
	"github.com/stretchr/testify/require"
)

func testCompiler() script.Compiler {
	return script.NewRisorScriptingEngine(script.DefaultRisorGlobals())
}

func TestResolveParameters(t *testing.T) {
	execution := NewExecutionContext("exec-1", "wf", "", map[string]any{
		"name":  "Ada",
		"count": 3,
	})
	execution.RecordStep("fetch", map[string]any{
		"status": "completed",
		"output": map[string]any{"total": 42},
	}, nil)

	resolver := newParameterResolver(testCompiler(), "report", execution.View(), execution.Results())
	ctx := context.Background()

	t.Run("mixed text renders to string", func(t *testing.T) {
		resolved, err := resolver.Resolve(ctx, map[string]any{
			"message": "Hello, ${inputs.name}!",
		})
		require.NoError(t, err)
		require.Equal(t, "Hello, Ada!", resolved["message"])
	})

	t.Run("single expression keeps its type", func(t *testing.T) {
		resolved, err := resolver.Resolve(ctx, map[string]any{
			"total": "${steps.fetch.output.total}",
		})
		require.NoError(t, err)
		require.Equal(t, int64(42), resolved["total"])
	})

	t.Run("state variables", func(t *testing.T) {
		resolved, err := resolver.Resolve(ctx, map[string]any{
			"doubled": "${state.count * 2}",
		})
		require.NoError(t, err)
		require.Equal(t, int64(6), resolved["doubled"])
	})

	t.Run("nested structures", func(t *testing.T) {
		resolved, err := resolver.Resolve(ctx, map[string]any{
			"payload": map[string]any{
				"user":  "${inputs.name}",
				"items": []any{"${state.count}", "literal"},
			},
		})
		require.NoError(t, err)
		payload := resolved["payload"].(map[string]any)
		require.Equal(t, "Ada", payload["user"])
		items := payload["items"].([]any)
		require.Equal(t, int64(3), items[0])
		require.Equal(t, "literal", items[1])
	})

	t.Run("non-string values pass through", func(t *testing.T) {
		resolved, err := resolver.Resolve(ctx, map[string]any{
			"limit":   10,
			"enabled": true,
		})
		require.NoError(t, err)
		require.Equal(t, 10, resolved["limit"])
		require.Equal(t, true, resolved["enabled"])
	})
}

func TestResolveUnexecutedStepReference(t *testing.T) {
	execution := NewExecutionContext("exec-1", "wf", "", nil)
	resolver := newParameterResolver(testCompiler(), "report", execution.View(), execution.Results())

	_, err := resolver.Resolve(context.Background(), map[string]any{
		"total": "${steps.fetch.output.total}",
	})
	require.Error(t, err)

	var depErr *DependencyError
	require.True(t, errors.As(err, &depErr))
	require.Equal(t, "report", depErr.StepID)
	require.Equal(t, "fetch", depErr.Reference)
}

func TestResolveUnclosedExpression(t *testing.T) {
	execution := NewExecutionContext("exec-1", "wf", "", nil)
	resolver := newParameterResolver(testCompiler(), "step1", execution.View(), execution.Results())

	_, err := resolver.Resolve(context.Background(), map[string]any{
		"message": "broken ${inputs.name",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unclosed template expression")
}
