package embedding

import (
	"fmt"
	"sync"
)

// Factory constructs an embedder. It is invoked at most once per
// registered name, on first use.
type Factory func() (Embedder, error)

// Registry holds named embedders with lazy, once-per-process
// initialization. It is constructed explicitly at startup and threaded
// through constructors; there is no package-level instance.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	once     sync.Once
	factory  Factory
	embedder Embedder
	err      error
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Register associates name with a factory. Registering a duplicate name
// is an error; heavy models must have exactly one owner.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("embedder %q already registered", name)
	}
	r.entries[name] = &registryEntry{factory: factory}
	return nil
}

// Get returns the embedder for name, constructing it on first use. A
// failed construction is remembered and returned to every caller.
func (r *Registry) Get(name string) (Embedder, error) {
	r.mu.Lock()
	entry, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown embedder %q", name)
	}
	entry.once.Do(func() {
		entry.embedder, entry.err = entry.factory()
	})
	if entry.err != nil {
		return nil, fmt.Errorf("failed to initialize embedder %q: %w", name, entry.err)
	}
	return entry.embedder, nil
}

// Close closes every embedder that was actually constructed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, entry := range r.entries {
		if entry.embedder == nil {
			continue
		}
		if err := entry.embedder.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close embedder %q: %w", name, err)
		}
	}
	return firstErr
}
