package container

import (
	"fmt"
	"reflect"
)

// Resolver is the read side of a scope, handed to factories, installers and
// configurations so they can look up their dependencies.
type Resolver interface {
	// Get returns the bean registered under name, searching parent scopes
	// when the name is not defined locally.
	Get(name string) (any, error)

	// GetByType returns the single bean assignable to t.
	GetByType(t reflect.Type) (any, error)

	// Resolve looks up name and assigns it to target, which must be a pointer.
	Resolve(name string, target any) error

	// Contains reports whether name resolves anywhere in the hierarchy.
	Contains(name string) bool

	// Property returns a configuration value from the scope's property sources.
	Property(key string) (any, bool)

	// Collection returns a live collection of every bean assignable to t
	// across the whole context.
	Collection(t reflect.Type, incremental bool) (*RefreshableCollection, error)
}

// BeanSource is a parent registry that lives outside the managed hierarchy.
type BeanSource interface {
	Lookup(name string) (any, bool)
}

// TypedBeanSource is a BeanSource that also supports lookups by type.
type TypedBeanSource interface {
	BeanSource
	LookupType(t reflect.Type) (any, bool)
}

// Beans is a plain map acting as a foreign parent registry.
type Beans map[string]any

// Lookup implements BeanSource.
func (b Beans) Lookup(name string) (any, bool) {
	v, ok := b[name]
	return v, ok
}

// Get returns the bean name from r as a T.
func Get[T any](r Resolver, name string) (T, error) {
	var zero T
	v, err := r.Get(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: bean '%s' of type %T is not a %s",
			ErrBeanIncompatible, name, v, reflect.TypeFor[T]())
	}
	return t, nil
}

// Find returns the single bean of type T visible from r.
func Find[T any](r Resolver) (T, error) {
	var zero T
	v, err := r.GetByType(reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T is not a %s", ErrBeanIncompatible, v, reflect.TypeFor[T]())
	}
	return t, nil
}

// assign copies bean into the value target points to.
func assign(name string, bean any, target any) error {
	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr || targetValue.IsNil() {
		return ErrTargetNotPointer
	}

	beanType := reflect.TypeOf(bean)
	targetType := targetValue.Elem().Type()

	if beanType.AssignableTo(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(bean))
		return nil
	}
	if beanType.Kind() == reflect.Ptr && beanType.Elem().AssignableTo(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(bean).Elem())
		return nil
	}

	return fmt.Errorf("%w: bean '%s' of type %s cannot be assigned to %s",
		ErrBeanIncompatible, name, beanType, targetType)
}
