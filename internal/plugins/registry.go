package plugins

import (
	"fmt"
	"sort"
	"sync"
)

// InputFactory constructs an input plug-in instance
type InputFactory func() InputDataPlugIn

// OutputFactory constructs an output plug-in instance
type OutputFactory func() OutputDataPlugIn

type registration struct {
	description string
	input       InputFactory
	output      OutputFactory
}

// Registry maps stable plug-in identifiers to constructor functions. It is
// populated at startup and read-mostly afterwards; resolving an unknown
// identifier is a configuration error surfaced before any data flows.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry creates an empty plug-in registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// RegisterInput adds an input plug-in factory under a stable identifier.
// Registering the same identifier twice replaces the previous factory.
func (r *Registry) RegisterInput(name, description string, factory InputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{description: description, input: factory}
}

// RegisterOutput adds an output plug-in factory under a stable identifier
func (r *Registry) RegisterOutput(name, description string, factory OutputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{description: description, output: factory}
}

// RegisteredPlugIns returns identifier-to-description for introspection
func (r *Registry) RegisteredPlugIns() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make(map[string]string, len(r.entries))
	for name, entry := range r.entries {
		plugins[name] = entry.description
	}
	return plugins
}

// Names returns the registered identifiers in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveInput builds an input pipeline from an ordered list of identifiers.
// An unknown or non-input identifier fails the whole resolution.
func (r *Registry) ResolveInput(names []string) (*InputPipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stages := make([]InputDataPlugIn, 0, len(names))
	for _, name := range names {
		entry, ok := r.entries[name]
		if !ok || entry.input == nil {
			return nil, fmt.Errorf("unknown input plug-in %q", name)
		}
		stages = append(stages, entry.input())
	}
	return &InputPipeline{stages: stages}, nil
}

// ResolveOutput builds an output pipeline from an ordered list of identifiers
func (r *Registry) ResolveOutput(names []string) (*OutputPipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stages := make([]OutputDataPlugIn, 0, len(names))
	for _, name := range names {
		entry, ok := r.entries[name]
		if !ok || entry.output == nil {
			return nil, fmt.Errorf("unknown output plug-in %q", name)
		}
		stages = append(stages, entry.output())
	}
	return &OutputPipeline{stages: stages}, nil
}
