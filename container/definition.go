package container

import (
	"math"
	"reflect"
	"slices"
)

// FactoryPrefix dereferences a factory bean: "&name" returns the factory
// itself instead of the object it produces.
const FactoryPrefix = "&"

// Order values. Beans without an explicit order sort with DefaultOrder, which
// keeps them ahead of beans that explicitly ask for LowestPrecedence.
const (
	HighestPrecedence = math.MinInt32
	LowestPrecedence  = math.MaxInt32
	DefaultOrder      = LowestPrecedence - 1000
)

// Factory creates a bean instance. It receives the scope the bean is being
// created in, so it can look up its own dependencies.
type Factory func(r Resolver) (any, error)

// FactoryBean is a bean that produces another object. Looking it up by name
// returns the product; looking it up with FactoryPrefix returns the factory.
type FactoryBean interface {
	Object() (any, error)
	ObjectType() reflect.Type
}

// Ordered beans take part in the global order of whole-context lookups.
type Ordered interface {
	Order() int
}

// ModuleOrdered beans declare an order that only applies among beans of the
// same module.
type ModuleOrdered interface {
	ModuleOrder() int
}

// Definition describes one bean in a scope.
type Definition struct {
	Name string

	// Type is the declared type of the bean (the product type for factory
	// beans). When nil it is derived from Instance or from the created object.
	Type reflect.Type

	Factory  Factory
	Instance any

	Primary bool
	Lazy    bool

	Order       *int
	ModuleOrder *int

	// Markers play the role of annotations, e.g. "exposed".
	Markers []string
	Aliases []string

	PostRefresh []PostRefreshHook

	// Exposed is set on definitions that delegate to a bean in another scope.
	Exposed *ExposedRef
}

// Singleton defines a bean backed by an existing instance.
func Singleton(name string, instance any) *Definition {
	return &Definition{Name: name, Instance: instance}
}

// Provide defines a bean created by factory on first use.
func Provide(name string, factory Factory) *Definition {
	return &Definition{Name: name, Factory: factory}
}

// ProvideType defines a bean of declared type T created by factory.
func ProvideType[T any](name string, factory func(r Resolver) (T, error)) *Definition {
	return &Definition{
		Name: name,
		Type: reflect.TypeFor[T](),
		Factory: func(r Resolver) (any, error) {
			return factory(r)
		},
	}
}

// WithPrimary marks the definition as the primary autowire candidate.
func (d *Definition) WithPrimary() *Definition {
	d.Primary = true
	return d
}

// AsLazy defers creation until the bean is first requested.
func (d *Definition) AsLazy() *Definition {
	d.Lazy = true
	return d
}

// WithType sets the declared type.
func (d *Definition) WithType(t reflect.Type) *Definition {
	d.Type = t
	return d
}

// WithOrder sets the global order value.
func (d *Definition) WithOrder(order int) *Definition {
	d.Order = &order
	return d
}

// WithModuleOrder sets the in-module order value.
func (d *Definition) WithModuleOrder(order int) *Definition {
	d.ModuleOrder = &order
	return d
}

// WithMarkers adds markers to the definition.
func (d *Definition) WithMarkers(markers ...string) *Definition {
	d.Markers = append(d.Markers, markers...)
	return d
}

// WithAliases adds aliases registered together with the definition.
func (d *Definition) WithAliases(aliases ...string) *Definition {
	d.Aliases = append(d.Aliases, aliases...)
	return d
}

// WithPostRefresh attaches a hook that runs once after every module has
// bootstrapped.
func (d *Definition) WithPostRefresh(hooks ...PostRefreshHook) *Definition {
	d.PostRefresh = append(d.PostRefresh, hooks...)
	return d
}

// HasMarker reports whether the definition carries marker m.
func (d *Definition) HasMarker(m string) bool {
	return slices.Contains(d.Markers, m)
}

// IsExposed reports whether the definition delegates to another scope.
func (d *Definition) IsExposed() bool {
	return d.Exposed != nil
}

// Clone returns a shallow copy with its own slices.
func (d *Definition) Clone() *Definition {
	c := *d
	c.Markers = slices.Clone(d.Markers)
	c.Aliases = slices.Clone(d.Aliases)
	c.PostRefresh = slices.Clone(d.PostRefresh)
	if d.Exposed != nil {
		ref := *d.Exposed
		ref.Aliases = slices.Clone(d.Exposed.Aliases)
		c.Exposed = &ref
	}
	return &c
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return ErrInvalidDefinition
	}
	if d.Exposed != nil {
		return nil
	}
	if d.Instance == nil && d.Factory == nil {
		return ErrInvalidDefinition
	}
	return nil
}

// globalOrder returns the order used across the whole context.
func globalOrder(def *Definition, instance any) int {
	if def.Order != nil {
		return *def.Order
	}
	if o, ok := instance.(Ordered); ok {
		return o.Order()
	}
	return DefaultOrder
}

// moduleOrder returns the order used among beans of one module.
func moduleOrder(def *Definition, instance any) int {
	if def.ModuleOrder != nil {
		return *def.ModuleOrder
	}
	if o, ok := instance.(ModuleOrdered); ok {
		return o.ModuleOrder()
	}
	return DefaultOrder
}

// ExposedRef points an exposed definition at the bean it delegates to.
type ExposedRef struct {
	ContextID    string
	ModuleName   string
	OriginalName string

	// PreferredName is the name the bean asks to be registered under.
	PreferredName string
	Aliases       []string

	// Origin is the scope holding the real bean. A nil origin means the root.
	Origin *Scope
}

// FullyQualifiedName returns "contextId.moduleName@originalName".
func (e *ExposedRef) FullyQualifiedName() string {
	return e.ContextID + "." + e.ModuleName + "@" + e.OriginalName
}
