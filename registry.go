package polystore

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a Driver from the process configuration.
type Factory func(cfg *Config) (Driver, error)

// Registry maps logical driver names to factories. Construct one per
// process (or per tenant) and pass it to whatever needs driver lookup;
// there is no ambient global registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Add registers factory under name. Last write wins: registering the same
// name twice replaces the previous binding, so applications can override
// built-in drivers without ceremony.
func (r *Registry) Add(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = factory
}

// Get returns the factory registered under name.
func (r *Registry) Get(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDriverNotRegistered, name)
	}

	return factory, nil
}

// Open looks up name and constructs a driver from cfg.
func (r *Registry) Open(name string, cfg *Config) (Driver, error) {
	factory, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	return factory(cfg)
}

// List returns all registered names, sorted for stable diagnostics output.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Remove unregisters name. Removing an absent name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.factories, name)
}
