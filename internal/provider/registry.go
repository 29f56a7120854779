package provider

import "fmt"

// Registry holds all configured providers and allows lookup by name.
// It performs no auth logic itself.
type Registry struct {
	providers map[string]Provider
	order     []string
}

// NewRegistry registers the given providers by name. A duplicate name is
// a configuration error, not something to resolve silently.
func NewRegistry(list ...Provider) (*Registry, error) {
	m := make(map[string]Provider)
	order := make([]string, 0, len(list))
	for _, p := range list {
		if _, dup := m[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate provider name: %s", p.Name())
		}
		m[p.Name()] = p
		order = append(order, p.Name())
	}
	return &Registry{providers: m, order: order}, nil
}

// Get returns the provider by name or an error if not registered.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return p, nil
}

// Names lists registered provider names in registration order.
func (r *Registry) Names() []string {
	return r.order
}

// Len reports how many providers are registered.
func (r *Registry) Len() int {
	return len(r.providers)
}
