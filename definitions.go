package conductor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefinitionProvider supplies immutable workflow definitions by ID. The
// dynamic workflow generator in the surrounding platform sits behind this
// interface.
type DefinitionProvider interface {
	// GetDefinition returns the definition for the given workflow ID, or a
	// DefinitionNotFoundError if no such workflow exists.
	GetDefinition(ctx context.Context, workflowID string) (*Definition, error)
}

// MemoryDefinitionProvider holds definitions registered in memory.
type MemoryDefinitionProvider struct {
	mutex       sync.RWMutex
	definitions map[string]*Definition
}

// NewMemoryDefinitionProvider creates a provider preloaded with the given
// definitions.
func NewMemoryDefinitionProvider(definitions ...*Definition) *MemoryDefinitionProvider {
	p := &MemoryDefinitionProvider{
		definitions: make(map[string]*Definition, len(definitions)),
	}
	for _, def := range definitions {
		p.definitions[def.ID()] = def
	}
	return p
}

// Register adds or replaces a definition.
func (p *MemoryDefinitionProvider) Register(def *Definition) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.definitions[def.ID()] = def
}

func (p *MemoryDefinitionProvider) GetDefinition(ctx context.Context, workflowID string) (*Definition, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	def, ok := p.definitions[workflowID]
	if !ok {
		return nil, &DefinitionNotFoundError{WorkflowID: workflowID}
	}
	return def, nil
}

// DirectoryDefinitionProvider loads definitions from YAML files in a
// directory, one file per workflow, named <workflow_id>.yaml.
type DirectoryDefinitionProvider struct {
	directory string
}

func NewDirectoryDefinitionProvider(directory string) *DirectoryDefinitionProvider {
	return &DirectoryDefinitionProvider{directory: directory}
}

func (p *DirectoryDefinitionProvider) GetDefinition(ctx context.Context, workflowID string) (*Definition, error) {
	path := filepath.Join(p.directory, workflowID+".yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &DefinitionNotFoundError{WorkflowID: workflowID}
	}
	def, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %q: %w", workflowID, err)
	}
	return def, nil
}
