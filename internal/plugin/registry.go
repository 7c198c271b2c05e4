package plugin

import (
	"fmt"
	"sort"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// ReservedNamespaces are names a plugin file cannot claim.
var ReservedNamespaces = []string{"vars", "env", "exec", "provenance"}

// Registry holds loaded plugins keyed by namespace.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*LoadedPlugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]*LoadedPlugin)}
}

// Register adds a plugin. Reserved and duplicate namespaces are rejected.
func (r *Registry) Register(p *LoadedPlugin) error {
	for _, reserved := range ReservedNamespaces {
		if p.Namespace == reserved {
			return &RegistryError{Namespace: p.Namespace, Message: "namespace is reserved"}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.plugins[p.Namespace]; ok {
		return &RegistryError{
			Namespace: p.Namespace,
			Message:   fmt.Sprintf("already defined in %s", existing.Path),
		}
	}
	r.plugins[p.Namespace] = p
	return nil
}

// Get returns the plugin registered under namespace.
func (r *Registry) Get(namespace string) (*LoadedPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[namespace]
	return p, ok
}

// Namespaces returns the registered namespaces in sorted order.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ToStarlarkDict exposes each plugin as a module value named after its namespace.
func (r *Registry) ToStarlarkDict() starlark.StringDict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dict := make(starlark.StringDict, len(r.plugins))
	for name, p := range r.plugins {
		dict[name] = &starlarkstruct.Module{Name: name, Members: p.Exports}
	}
	return dict
}

// RegistryError reports a rejected registration.
type RegistryError struct {
	Namespace string
	Message   string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("plugin namespace %q: %s", e.Namespace, e.Message)
}
