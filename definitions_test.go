package conductor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryDefinitionProvider(t *testing.T) {
	def, err := NewDefinition(Options{
		ID:    "greeting",
		Name:  "greeting",
		Steps: []*Step{{ID: "greet", Type: "print"}},
	})
	require.NoError(t, err)

	provider := NewMemoryDefinitionProvider(def)
	ctx := context.Background()

	found, err := provider.GetDefinition(ctx, "greeting")
	require.NoError(t, err)
	require.Equal(t, "greeting", found.ID())

	_, err = provider.GetDefinition(ctx, "missing")
	require.Error(t, err)
	var notFound *DefinitionNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "missing", notFound.WorkflowID)
}

func TestMemoryDefinitionProviderRegister(t *testing.T) {
	provider := NewMemoryDefinitionProvider()

	def, err := NewDefinition(Options{
		ID:    "late",
		Name:  "late",
		Steps: []*Step{{ID: "step1", Type: "print"}},
	})
	require.NoError(t, err)
	provider.Register(def)

	found, err := provider.GetDefinition(context.Background(), "late")
	require.NoError(t, err)
	require.Equal(t, "late", found.ID())
}

func TestDirectoryDefinitionProvider(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeting.yaml"), []byte(`
id: greeting
name: greeting
steps:
  - id: greet
    type: print
    parameters:
      message: hi
`), 0644))

	provider := NewDirectoryDefinitionProvider(dir)
	ctx := context.Background()

	def, err := provider.GetDefinition(ctx, "greeting")
	require.NoError(t, err)
	require.Equal(t, "greeting", def.ID())
	require.Equal(t, "greet", def.Start().ID)

	_, err = provider.GetDefinition(ctx, "missing")
	require.Error(t, err)
	var notFound *DefinitionNotFoundError
	require.True(t, errors.As(err, &notFound))
}
