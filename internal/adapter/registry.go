package adapter

import (
	"fmt"
	"strings"
	"sync"

	"github.com/orlunix/cam/internal/model"
)

// Registry manages the set of available Adapters, keyed by name. It starts
// pre-populated with the built-in adapters and also accepts adapters
// compiled from a declarative definition (see Declarative).
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry builds a Registry pre-registered with the built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range []Adapter{Claude{}, Codex{}, Aider{}, Generic{}} {
		r.adapters[a.Name()] = a
	}
	return r
}

// Register adds or replaces an adapter under its own Name().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Unregister removes an adapter by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, name)
}

// Get resolves an adapter by name. An unrecognized tool name is an error:
// task launch must fail fast rather than silently drive an unknown binary
// through the Generic heuristics.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.adapters[name]; ok {
		return a, nil
	}

	available := strings.Join(r.namesLocked(), ", ")
	if available == "" {
		available = "(none)"
	}
	return nil, fmt.Errorf("%w %q. available adapters: %s", model.ErrUnknownTool, name, available)
}

// Resolve is like Get but never errors: an unknown tool name resolves to a
// Generic adapter driving a binary with that same name. Callers that must
// honor an explicit tool choice (agent launch) should use Get instead;
// Resolve exists for paths that are happy to drive any binary heuristically.
func (r *Registry) Resolve(name string) Adapter {
	if a, err := r.Get(name); err == nil {
		return a
	}
	return Generic{}
}

// Names lists every registered adapter name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
