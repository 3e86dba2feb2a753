package node

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownType is returned by Registry.Create when no factory is registered
// for the requested type name.
var ErrUnknownType = errors.New("unknown node type")

// Factory produces a fresh node instance. Each instance is used for a single
// invocation so factories must not share mutable state between the values
// they return.
type Factory func() Node

// Registry maps node type names to factories. Populate it at startup via
// Register; after registration completes it is treated as immutable and is
// safe for concurrent readers.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory under the given type name. Registering the same
// name twice overwrites the previous factory; last registration wins.
func (r *Registry) Register(typeName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = factory
}

// Create instantiates a fresh node of the given type. Returns ErrUnknownType
// (wrapped with the type name) when no factory is registered.
func (r *Registry) Create(typeName string) (Node, error) {
	r.mu.RLock()
	factory, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	return factory(), nil
}

// Types enumerates the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for name := range r.factories {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
