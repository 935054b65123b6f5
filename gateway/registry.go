package gateway

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps gateway names to adapter factories
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds an adapter factory under name
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get retrieves a factory by name
func (r *Registry) Get(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[name]
	if !exists {
		return nil, fmt.Errorf("payment gateway '%s' is not registered", name)
	}
	return factory, nil
}

// Create builds a new uninitialised adapter
func (r *Registry) Create(name string) (Adapter, error) {
	factory, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return factory(), nil
}

// Names returns the registered gateway names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is filled by adapter packages from their init functions
var DefaultRegistry = NewRegistry()

// Register registers a factory with the default registry
func Register(name string, factory Factory) {
	DefaultRegistry.Register(name, factory)
}
