package auth

import (
	"fmt"
	"sort"
)

// Registry stores configured identity backends.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry creates a registry for identity backends.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend under a name.
func (r *Registry) Register(name string, backend Backend) {
	r.backends[name] = backend
}

// Backend returns the backend registered for name.
func (r *Registry) Backend(name string) (Backend, bool) {
	backend, ok := r.backends[name]
	return backend, ok
}

// Select returns the backend for name or an error listing the known ones.
func (r *Registry) Select(name string) (Backend, error) {
	if backend, ok := r.backends[name]; ok {
		return backend, nil
	}
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("unknown auth provider %q (known: %v)", name, names)
}
