package module

import "fmt"

// Registry is the immutable process-wide mapping from module name to
// implementation. It is populated once at startup.
type Registry struct {
	modules map[string]Module
	names   []string
}

func NewRegistry(modules ...Module) (*Registry, error) {
	r := Registry{
		modules: make(map[string]Module, len(modules)),
		names:   make([]string, 0, len(modules)),
	}

	for _, m := range modules {
		name := m.Name()
		if name == "" {
			return nil, fmt.Errorf("module with type %T has an empty name", m)
		}

		if _, exist := r.modules[name]; exist {
			return nil, fmt.Errorf("module %q is registered multiple times", name)
		}

		r.modules[name] = m
		r.names = append(r.names, name)
	}

	return &r, nil
}

// Get returns the module registered under name or nil.
func (r *Registry) Get(name string) Module {
	return r.modules[name]
}

// Names returns the module names in registration order.
func (r *Registry) Names() []string {
	return r.names
}
