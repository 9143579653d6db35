package filter

import "fmt"

// Registry maps configuration class-name strings to Filter factories,
// resolving each configured filter entry to a concrete constructor at
// pipeline build time.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under class. Registering the same class name
// twice replaces the previous factory.
func (r *Registry) Register(class string, factory Factory) {
	r.factories[class] = factory
}

// Build constructs a filter from a Spec, looking its class name up in
// the registry. A Spec's Name defaults to its class name when the
// configuration didn't give it an explicit one.
func (r *Registry) Build(class string, spec Spec) (Filter, error) {
	factory, ok := r.factories[class]
	if !ok {
		return nil, fmt.Errorf("filter: unknown filter class %q", class)
	}
	cfg := make(map[string]any, len(spec.Config)+1)
	for k, v := range spec.Config {
		cfg[k] = v
	}
	if name, _ := cfg["name"].(string); name == "" {
		if spec.Name != "" {
			cfg["name"] = spec.Name
		} else {
			cfg["name"] = class
		}
	}
	f, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("filter: construct %q: %w", class, err)
	}
	return f, nil
}
