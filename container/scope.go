package container

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
)

// Startable beans are started, in creation order, when their scope refreshes.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable beans are stopped in reverse start order when their scope closes.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// PostProcessor gets a chance to modify a scope's definitions before any
// bean is created.
type PostProcessor interface {
	PostProcessScope(s *Scope) error
}

// PostProcessorFunc adapts a function to PostProcessor.
type PostProcessorFunc func(s *Scope) error

// PostProcessScope implements PostProcessor.
func (f PostProcessorFunc) PostProcessScope(s *Scope) error {
	return f(s)
}

// ScopeOptions configures a new scope.
type ScopeOptions struct {
	ID     string
	Module string

	// Index is the module bootstrap index; negative for the root and any
	// scope above it.
	Index int

	Parent  *Scope
	Foreign BeanSource

	// Root marks the context root scope.
	Root bool

	// Internal scopes (installer-only scopes) are left out of whole-context
	// lookups and the post-refresh pass.
	Internal bool
}

// Scope is an isolated set of bean definitions with a parent. Lookups that
// miss locally continue in the parent; exposed definitions delegate to the
// scope that owns the real bean.
type Scope struct {
	mu sync.RWMutex

	id        string
	module    string
	index     int
	internal  bool
	parent    *Scope
	foreign   BeanSource
	hierarchy *Hierarchy

	defs       map[string]*Definition
	names      []string
	aliases    map[string]string
	singletons map[string]any
	products   map[string]any
	creating   map[string]bool
	created    []string
	started    []Stoppable

	properties     []PropertySource
	postProcessors []PostProcessor
	exposed        []string

	refreshed bool
	closed    bool
}

// ID returns the scope id.
func (s *Scope) ID() string { return s.id }

// Module returns the name of the module owning the scope, empty for the root.
func (s *Scope) Module() string { return s.module }

// Index returns the module bootstrap index of the scope.
func (s *Scope) Index() int { return s.index }

// Parent returns the parent scope, if any.
func (s *Scope) Parent() *Scope { return s.parent }

// Foreign returns the foreign parent registry, if any.
func (s *Scope) Foreign() BeanSource { return s.foreign }

// Hierarchy returns the hierarchy the scope belongs to.
func (s *Scope) Hierarchy() *Hierarchy { return s.hierarchy }

// IsInternal reports whether the scope is hidden from whole-context lookups.
func (s *Scope) IsInternal() bool { return s.internal }

// IsRefreshed reports whether Refresh completed.
func (s *Scope) IsRefreshed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshed
}

// IsClosed reports whether Close was called.
func (s *Scope) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Scope) root() *Scope {
	if root := s.hierarchy.Root(); root != nil {
		return root
	}
	return s
}

// Register adds a definition. Names and aliases must be unique within the scope.
func (s *Scope) Register(def *Definition) error {
	if err := def.validate(); err != nil {
		return fmt.Errorf("%w: '%s' in scope %s", err, def.Name, s.id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrScopeClosed
	}
	if s.hasNameLocked(def.Name) {
		return fmt.Errorf("%w: %s in scope %s", ErrBeanAlreadyRegistered, def.Name, s.id)
	}
	for _, alias := range def.Aliases {
		if s.hasNameLocked(alias) {
			return fmt.Errorf("%w: %s in scope %s", ErrAliasConflict, alias, s.id)
		}
	}

	s.defs[def.Name] = def
	s.names = append(s.names, def.Name)
	for _, alias := range def.Aliases {
		s.aliases[alias] = def.Name
	}
	return nil
}

// RegisterIfAbsent registers def unless its name is already used locally.
func (s *Scope) RegisterIfAbsent(def *Definition) (bool, error) {
	if s.ContainsLocal(def.Name) {
		return false, nil
	}
	if err := s.Register(def); err != nil {
		if errors.Is(err, ErrBeanAlreadyRegistered) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Alias registers alias as another name for name.
func (s *Scope) Alias(name, alias string) error {
	if name == alias {
		return fmt.Errorf("%w: %s is aliased to itself", ErrAliasConflict, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasNameLocked(alias) {
		return fmt.Errorf("%w: %s in scope %s", ErrAliasConflict, alias, s.id)
	}
	s.aliases[alias] = name
	return nil
}

func (s *Scope) hasNameLocked(name string) bool {
	if _, ok := s.defs[name]; ok {
		return true
	}
	_, ok := s.aliases[name]
	return ok
}

func (s *Scope) canonicalLocked(name string) string {
	for range len(s.aliases) + 1 {
		target, ok := s.aliases[name]
		if !ok {
			break
		}
		name = target
	}
	return name
}

// Definition returns the local definition for name or alias.
func (s *Scope) Definition(name string) (*Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[s.canonicalLocked(name)]
	return def, ok
}

// Definitions returns the local definitions in registration order.
func (s *Scope) Definitions() []*Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]*Definition, 0, len(s.names))
	for _, name := range s.names {
		defs = append(defs, s.defs[name])
	}
	return defs
}

// ContainsLocal reports whether name or alias is defined in this scope.
func (s *Scope) ContainsLocal(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasNameLocked(strings.TrimPrefix(name, FactoryPrefix))
}

// Contains reports whether name resolves in this scope or any ancestor.
func (s *Scope) Contains(name string) bool {
	if s.ContainsLocal(name) {
		return true
	}
	if s.parent != nil {
		return s.parent.Contains(name)
	}
	if s.foreign != nil {
		_, ok := s.foreign.Lookup(name)
		return ok
	}
	return false
}

// Expose forces beans to be exposed regardless of the expose filter.
func (s *Scope) Expose(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if !slices.Contains(s.exposed, name) {
			s.exposed = append(s.exposed, name)
		}
	}
}

// ExposedNames returns the names forced visible with Expose.
func (s *Scope) ExposedNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.exposed)
}

// AddPostProcessor registers a post-processor applied on Refresh.
func (s *Scope) AddPostProcessor(pp PostProcessor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postProcessors = append(s.postProcessors, pp)
}

// Get implements Resolver.
func (s *Scope) Get(name string) (any, error) {
	deref := strings.HasPrefix(name, FactoryPrefix)
	beanName := strings.TrimPrefix(name, FactoryPrefix)

	s.mu.RLock()
	closed := s.closed
	canonical := s.canonicalLocked(beanName)
	def, ok := s.defs[canonical]
	s.mu.RUnlock()

	if closed {
		return nil, fmt.Errorf("%w: %s", ErrScopeClosed, s.id)
	}

	if !ok {
		if s.parent != nil {
			return s.parent.Get(name)
		}
		if s.foreign != nil {
			if v, found := s.foreign.Lookup(name); found {
				return v, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrBeanNotFound, name)
	}

	if def.Exposed != nil {
		return s.getExposed(def, deref)
	}

	instance, err := s.singleton(canonical, def)
	if err != nil {
		return nil, err
	}

	fb, isFactory := instance.(FactoryBean)
	switch {
	case deref && !isFactory:
		return nil, fmt.Errorf("%w: %s", ErrNotFactoryBean, beanName)
	case deref:
		return instance, nil
	case isFactory:
		return s.product(canonical, fb)
	default:
		return instance, nil
	}
}

// Lookup implements BeanSource, so a scope of another context can act as a
// parent.
func (s *Scope) Lookup(name string) (any, bool) {
	v, err := s.Get(name)
	if err != nil {
		return nil, false
	}
	return v, true
}

// getExposed delegates to the origin scope, keeping factory dereference.
func (s *Scope) getExposed(def *Definition, deref bool) (any, error) {
	origin := s.exposedOrigin(def)
	if origin == nil {
		return nil, fmt.Errorf("%w: %s", ErrBeanNotFound, def.Name)
	}
	if origin.IsClosed() {
		return nil, fmt.Errorf("%w: %s", ErrExposedOriginClosed, def.Exposed.FullyQualifiedName())
	}
	name := def.Exposed.OriginalName
	if deref {
		name = FactoryPrefix + name
	}
	return origin.Get(name)
}

func (s *Scope) exposedOrigin(def *Definition) *Scope {
	if def.Exposed.Origin != nil {
		return def.Exposed.Origin
	}
	if def.Exposed.ModuleName == "" {
		return s.root()
	}
	if s.hierarchy != nil {
		if origin := s.hierarchy.ModuleScope(def.Exposed.ModuleName); origin != nil {
			return origin
		}
	}
	return nil
}

func (s *Scope) singleton(name string, def *Definition) (any, error) {
	s.mu.Lock()
	if v, ok := s.singletons[name]; ok {
		s.mu.Unlock()
		return v, nil
	}
	if s.creating[name] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s in scope %s", ErrCircularReference, name, s.id)
	}
	s.creating[name] = true
	s.mu.Unlock()

	var (
		instance any
		err      error
	)
	if def.Instance != nil {
		instance = def.Instance
	} else {
		instance, err = def.Factory(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creating, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create bean '%s' in scope %s: %w", name, s.id, err)
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: factory for '%s' returned nil", ErrInvalidDefinition, name)
	}
	s.singletons[name] = instance
	s.created = append(s.created, name)
	return instance, nil
}

func (s *Scope) product(name string, fb FactoryBean) (any, error) {
	s.mu.RLock()
	v, ok := s.products[name]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	obj, err := fb.Object()
	if err != nil {
		return nil, fmt.Errorf("factory bean '%s' failed to produce object: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.products[name]; ok {
		return existing, nil
	}
	s.products[name] = obj
	return obj, nil
}

// TypeOf returns the type a lookup of name would produce.
func (s *Scope) TypeOf(name string) (reflect.Type, error) {
	s.mu.RLock()
	canonical := s.canonicalLocked(strings.TrimPrefix(name, FactoryPrefix))
	def, ok := s.defs[canonical]
	s.mu.RUnlock()

	if !ok {
		if s.parent != nil {
			return s.parent.TypeOf(name)
		}
		return nil, fmt.Errorf("%w: %s", ErrBeanNotFound, name)
	}
	return s.typeOf(canonical, def)
}

func (s *Scope) typeOf(name string, def *Definition) (reflect.Type, error) {
	if def.Exposed != nil {
		if def.Type != nil {
			return def.Type, nil
		}
		origin := s.exposedOrigin(def)
		if origin == nil {
			return nil, fmt.Errorf("%w: %s", ErrBeanNotFound, def.Exposed.FullyQualifiedName())
		}
		return origin.TypeOf(def.Exposed.OriginalName)
	}
	if def.Type != nil {
		return def.Type, nil
	}

	instance := def.Instance
	if instance == nil {
		s.mu.RLock()
		v, created := s.singletons[name]
		s.mu.RUnlock()
		if !created {
			// lazy beans are only created on request
			if def.Lazy {
				return nil, fmt.Errorf("%w: lazy bean '%s' in scope %s", ErrTypeUnknown, name, s.id)
			}
			var err error
			if v, err = s.singleton(name, def); err != nil {
				return nil, err
			}
		}
		instance = v
	}
	if fb, ok := instance.(FactoryBean); ok {
		return fb.ObjectType(), nil
	}
	return reflect.TypeOf(instance), nil
}

// namesForType lists local bean names whose type is assignable to t. Beans
// that are still being created, and lazy beans not created yet, are skipped.
func (s *Scope) namesForType(t reflect.Type) ([]string, error) {
	var names []string
	for _, def := range s.Definitions() {
		dt, err := s.typeOf(def.Name, def)
		if err != nil {
			if errors.Is(err, ErrCircularReference) || errors.Is(err, ErrTypeUnknown) {
				continue
			}
			return nil, err
		}
		if s.hierarchy.assignable(dt, t) {
			names = append(names, def.Name)
		}
	}
	return names, nil
}

// GetByType implements Resolver.
func (s *Scope) GetByType(t reflect.Type) (any, error) {
	names, err := s.namesForType(t)
	if err != nil {
		return nil, err
	}

	switch len(names) {
	case 0:
		if s.parent != nil {
			return s.parent.GetByType(t)
		}
		if ts, ok := s.foreign.(TypedBeanSource); ok {
			if v, found := ts.LookupType(t); found {
				return v, nil
			}
		}
		return nil, fmt.Errorf("%w: no bean of type %s", ErrBeanNotFound, t)
	case 1:
		return s.Get(names[0])
	}

	primary, err := s.determinePrimary(t, names)
	if err != nil {
		return nil, err
	}
	return s.Get(primary)
}

// determinePrimary picks one candidate out of several. A single local
// (non-exposed) candidate always wins; otherwise exactly one must be primary.
func (s *Scope) determinePrimary(t reflect.Type, names []string) (string, error) {
	var local, primary []string
	for _, name := range names {
		def, _ := s.Definition(name)
		if !def.IsExposed() {
			local = append(local, name)
		}
		if def.Primary {
			primary = append(primary, name)
		}
	}
	if len(local) == 1 {
		return local[0], nil
	}
	if len(primary) == 1 {
		return primary[0], nil
	}
	return "", fmt.Errorf("%w: type %s has candidates %v in scope %s", ErrAmbiguousBean, t, names, s.id)
}

// Resolve implements Resolver.
func (s *Scope) Resolve(name string, target any) error {
	bean, err := s.Get(name)
	if err != nil {
		return err
	}
	return assign(name, bean, target)
}

// Collection implements Resolver.
func (s *Scope) Collection(t reflect.Type, incremental bool) (*RefreshableCollection, error) {
	return s.hierarchy.newCollection(t, incremental)
}

// Refresh applies post-processors, creates every non-lazy singleton and
// starts the beans that implement Startable.
func (s *Scope) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrScopeClosed
	}
	if s.refreshed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrScopeAlreadyRefreshed, s.id)
	}
	postProcessors := slices.Clone(s.postProcessors)
	s.mu.Unlock()

	for _, pp := range postProcessors {
		if err := pp.PostProcessScope(s); err != nil {
			return fmt.Errorf("post-processor failed in scope %s: %w", s.id, err)
		}
	}

	for _, def := range s.Definitions() {
		if def.Lazy || def.IsExposed() {
			continue
		}
		if _, err := s.singleton(def.Name, def); err != nil {
			return err
		}
	}

	s.mu.RLock()
	created := slices.Clone(s.created)
	s.mu.RUnlock()

	for _, name := range created {
		s.mu.RLock()
		bean := s.singletons[name]
		s.mu.RUnlock()

		startable, ok := bean.(Startable)
		if !ok {
			continue
		}
		if err := startable.Start(ctx); err != nil {
			return fmt.Errorf("failed to start bean '%s' in scope %s: %w", name, s.id, err)
		}
		if stoppable, ok := bean.(Stoppable); ok {
			s.mu.Lock()
			s.started = append(s.started, stoppable)
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.refreshed = true
	s.mu.Unlock()

	s.hierarchy.logger.Debug("Scope refreshed", "scope", s.id, "beans", len(created))
	return nil
}

// Close stops started beans in reverse order and detaches the scope from
// its hierarchy. Closing twice is a no-op.
func (s *Scope) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := slices.Clone(s.started)
	s.started = nil
	s.mu.Unlock()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	clear(s.singletons)
	clear(s.products)
	s.mu.Unlock()

	s.hierarchy.remove(s)

	if len(errs) > 0 {
		return fmt.Errorf("failed to close scope %s: %w", s.id, errors.Join(errs...))
	}
	return nil
}

type beanEntry struct {
	name     string
	def      *Definition
	instance any
}

// instantiated returns created singletons in creation order.
func (s *Scope) instantiated() []beanEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]beanEntry, 0, len(s.created))
	for _, name := range s.created {
		out = append(out, beanEntry{name: name, def: s.defs[name], instance: s.singletons[name]})
	}
	return out
}
