package generator

import "strings"

// Registry holds the configured generators by name.
type Registry struct {
	generators map[string]Generator
}

func NewRegistry() *Registry {
	return &Registry{
		generators: make(map[string]Generator),
	}
}

func (r *Registry) Register(g Generator) {
	if r == nil || g == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(g.Name()))
	if name == "" {
		return
	}
	if r.generators == nil {
		r.generators = make(map[string]Generator)
	}
	r.generators[name] = g
}

func (r *Registry) Get(name string) (Generator, bool) {
	if r == nil || r.generators == nil {
		return nil, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, false
	}
	g, ok := r.generators[name]
	return g, ok
}

// Names lists registered generator names.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.generators))
	for k := range r.generators {
		out = append(out, k)
	}
	return out
}
