package llm

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an adapter for a concrete model under a provider.
type Factory func(provider, model string) (Adapter, error)

// Registry maps provider names to factories and caches built adapters by
// (provider, model) so SDK clients and auth setup happen once.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	cache     map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		cache:     make(map[string]Adapter),
	}
}

// Register installs a factory for a provider, replacing any prior one.
func (r *Registry) Register(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
}

// Providers returns registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build returns the cached adapter for (provider, model), constructing it
// on first use.
func (r *Registry) Build(provider, model string) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := provider + "/" + model
	if a, ok := r.cache[key]; ok {
		return a, nil
	}
	f, ok := r.factories[provider]
	if !ok {
		return nil, fmt.Errorf("llm: no adapter registered for provider %q", provider)
	}
	a, err := f(provider, model)
	if err != nil {
		return nil, err
	}
	r.cache[key] = a
	return a, nil
}

// DefaultRegistry carries the built-in providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("mock", func(provider, model string) (Adapter, error) {
		return NewMockAdapter(model), nil
	})
	r.Register("openai", func(provider, model string) (Adapter, error) {
		return NewOpenAIAdapter(model)
	})
	return r
}
