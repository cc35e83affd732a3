// Package expose selects beans from a module scope and publishes them into
// other scopes as definitions that delegate back to the module.
package expose

import (
	"reflect"
	"slices"
	"strings"

	"github.com/GoCodeAlone/modctx/container"
)

// MarkerExposed marks a bean definition as always exposed.
const MarkerExposed = "exposed"

// Candidate is a bean considered for exposure.
type Candidate struct {
	Name       string
	Definition *container.Definition
	Type       reflect.Type
}

// Filter decides which candidates are exposed.
type Filter interface {
	Matches(c Candidate) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(c Candidate) bool

// Matches implements Filter.
func (f FilterFunc) Matches(c Candidate) bool { return f(c) }

// ByName matches beans by name.
func ByName(names ...string) Filter {
	return FilterFunc(func(c Candidate) bool {
		return slices.Contains(names, c.Name)
	})
}

// ByType matches beans assignable to any of the given types.
func ByType(types ...reflect.Type) Filter {
	return FilterFunc(func(c Candidate) bool {
		if c.Type == nil {
			return false
		}
		for _, t := range types {
			if c.Type.AssignableTo(t) {
				return true
			}
		}
		return false
	})
}

// ByTypeName matches beans by fully-qualified type name ("pkg/path.Name").
// A pattern ending in ".*" matches every type of that package and its
// subpackages. Pointer types match by their element type.
func ByTypeName(patterns ...string) Filter {
	return FilterFunc(func(c Candidate) bool {
		pkg, name := typeName(c.Type)
		if pkg == "" {
			return false
		}
		for _, p := range patterns {
			if prefix, ok := strings.CutSuffix(p, ".*"); ok {
				if pkg == prefix || strings.HasPrefix(pkg, prefix+"/") {
					return true
				}
				continue
			}
			if p == pkg+"."+name {
				return true
			}
		}
		return false
	})
}

// ByMarker matches beans whose definition carries any of the markers.
func ByMarker(markers ...string) Filter {
	return FilterFunc(func(c Candidate) bool {
		if c.Definition == nil {
			return false
		}
		for _, m := range markers {
			if c.Definition.HasMarker(m) {
				return true
			}
		}
		return false
	})
}

// Union matches when any of the filters match. Nil filters are ignored.
func Union(filters ...Filter) Filter {
	return FilterFunc(func(c Candidate) bool {
		for _, f := range filters {
			if f != nil && f.Matches(c) {
				return true
			}
		}
		return false
	})
}

// Rules are the context-wide expose rules.
type Rules struct {
	TypeNames []string `yaml:"typeNames" toml:"typeNames" json:"typeNames"`
	Markers   []string `yaml:"markers" toml:"markers" json:"markers"`
}

// Default builds the filter applied to every module: the exposed marker plus
// the configured type names and markers.
func Default(rules Rules) Filter {
	filters := []Filter{ByMarker(append([]string{MarkerExposed}, rules.Markers...)...)}
	if len(rules.TypeNames) > 0 {
		filters = append(filters, ByTypeName(rules.TypeNames...))
	}
	return Union(filters...)
}

func typeName(t reflect.Type) (string, string) {
	if t == nil {
		return "", ""
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.PkgPath(), t.Name()
}
