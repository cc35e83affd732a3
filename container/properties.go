package container

// PropertySource supplies configuration values to a scope.
type PropertySource interface {
	Name() string
	Lookup(key string) (any, bool)
}

type mapSource struct {
	name   string
	values map[string]any
}

// NewMapSource returns a property source backed by a map.
func NewMapSource(name string, values map[string]any) PropertySource {
	return &mapSource{name: name, values: values}
}

func (m *mapSource) Name() string { return m.name }

func (m *mapSource) Lookup(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// AddPropertySource appends a source. Sources registered first take precedence.
func (s *Scope) AddPropertySource(src PropertySource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties = append(s.properties, src)
}

// PropertySources returns the scope's own sources.
func (s *Scope) PropertySources() []PropertySource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PropertySource, len(s.properties))
	copy(out, s.properties)
	return out
}

// Property implements Resolver. Local sources are consulted first, then the
// parent scope's.
func (s *Scope) Property(key string) (any, bool) {
	for _, src := range s.PropertySources() {
		if v, ok := src.Lookup(key); ok {
			return v, true
		}
	}
	if s.parent != nil {
		return s.parent.Property(key)
	}
	return nil, false
}
