package container

import (
	"cmp"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/GoCodeAlone/modctx/internal/logging"
)

// Hierarchy tracks every scope of one application context: the root, any
// support scope above it, the module scopes and internal scopes. It owns the
// whole-context views (BeansOfType, refreshable collections and the
// post-refresh pass).
type Hierarchy struct {
	mu sync.RWMutex

	root        *Scope
	scopes      []*Scope
	byModule    map[string]*Scope
	collections []*RefreshableCollection
	hooksDone   map[string]bool

	types  *TypeCache
	logger logging.Logger
}

// NewHierarchy creates an empty hierarchy.
func NewHierarchy(logger logging.Logger) *Hierarchy {
	return &Hierarchy{
		byModule:  make(map[string]*Scope),
		hooksDone: make(map[string]bool),
		types:     NewTypeCache(),
		logger:    logging.OrNop(logger),
	}
}

// NewScope creates a scope and adds it to the hierarchy. The first
// non-internal scope created with Root set becomes the root.
func (h *Hierarchy) NewScope(opts ScopeOptions) (*Scope, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("%w: scope id is required", ErrInvalidDefinition)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, existing := range h.scopes {
		if existing.id == opts.ID {
			return nil, fmt.Errorf("%w: scope %s", ErrBeanAlreadyRegistered, opts.ID)
		}
	}

	s := &Scope{
		id:         opts.ID,
		module:     opts.Module,
		index:      opts.Index,
		internal:   opts.Internal,
		parent:     opts.Parent,
		foreign:    opts.Foreign,
		hierarchy:  h,
		defs:       make(map[string]*Definition),
		aliases:    make(map[string]string),
		singletons: make(map[string]any),
		products:   make(map[string]any),
		creating:   make(map[string]bool),
	}

	h.scopes = append(h.scopes, s)
	if opts.Module != "" && !opts.Internal {
		h.byModule[opts.Module] = s
	}
	if opts.Root && h.root == nil {
		h.root = s
	}

	h.logger.Debug("Created scope", "scope", s.id, "module", s.module, "index", s.index)
	return s, nil
}

// Root returns the root scope, or nil before it exists.
func (h *Hierarchy) Root() *Scope {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.root
}

// ModuleScope returns the scope of the named module.
func (h *Hierarchy) ModuleScope(module string) *Scope {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byModule[module]
}

// Scopes returns every live scope in creation order.
func (h *Hierarchy) Scopes() []*Scope {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.scopes)
}

// ModuleScopes returns the module scopes in creation order.
func (h *Hierarchy) ModuleScopes() []*Scope {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Scope
	for _, s := range h.scopes {
		if s.module != "" && !s.internal {
			out = append(out, s)
		}
	}
	return out
}

func (h *Hierarchy) remove(s *Scope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scopes = slices.DeleteFunc(h.scopes, func(x *Scope) bool { return x == s })
	if h.byModule[s.module] == s {
		delete(h.byModule, s.module)
	}
	if h.root == s {
		h.root = nil
	}
}

func (h *Hierarchy) assignable(from, to reflect.Type) bool {
	if h == nil {
		return from != nil && from.AssignableTo(to)
	}
	return h.types.Assignable(from, to)
}

type orderedBean struct {
	instance    any
	globalOrder int
	index       int
	moduleOrder int
}

// BeansOfType returns every bean in the context assignable to t. Exposed
// definitions are skipped so each bean appears once, internal scopes are left
// out, and beans still being created are ignored. The result is sorted by
// global order, then module index (non-module scopes first), then in-module
// order; ties keep registration order.
func (h *Hierarchy) BeansOfType(t reflect.Type) ([]any, error) {
	var beans []orderedBean

	for _, s := range h.Scopes() {
		if s.internal || s.IsClosed() {
			continue
		}
		index := s.index
		if s.module == "" {
			index = -1
		}

		for _, def := range s.Definitions() {
			if def.IsExposed() {
				continue
			}
			s.mu.RLock()
			inCreation := s.creating[def.Name]
			s.mu.RUnlock()
			if inCreation {
				continue
			}

			dt, err := s.typeOf(def.Name, def)
			if err != nil {
				if errors.Is(err, ErrCircularReference) || errors.Is(err, ErrTypeUnknown) {
					continue
				}
				return nil, err
			}
			if !h.assignable(dt, t) {
				continue
			}

			bean, err := s.Get(def.Name)
			if err != nil {
				if errors.Is(err, ErrCircularReference) {
					continue
				}
				return nil, err
			}
			beans = append(beans, orderedBean{
				instance:    bean,
				globalOrder: globalOrder(def, bean),
				index:       index,
				moduleOrder: moduleOrder(def, bean),
			})
		}
	}

	slices.SortStableFunc(beans, func(a, b orderedBean) int {
		if c := cmp.Compare(a.globalOrder, b.globalOrder); c != 0 {
			return c
		}
		if c := cmp.Compare(a.index, b.index); c != 0 {
			return c
		}
		return cmp.Compare(a.moduleOrder, b.moduleOrder)
	})

	out := make([]any, len(beans))
	for i, b := range beans {
		out[i] = b.instance
	}
	return out, nil
}

func (h *Hierarchy) newCollection(t reflect.Type, incremental bool) (*RefreshableCollection, error) {
	c := &RefreshableCollection{elem: t, incremental: incremental, hierarchy: h}
	if err := c.Refresh(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.collections = append(h.collections, c)
	h.mu.Unlock()
	return c, nil
}

// RefreshCollections re-evaluates the incremental collections, or every
// collection when all is set.
func (h *Hierarchy) RefreshCollections(all bool) error {
	h.mu.RLock()
	collections := slices.Clone(h.collections)
	h.mu.RUnlock()

	for _, c := range collections {
		if !all && !c.incremental {
			continue
		}
		if err := c.Refresh(); err != nil {
			return fmt.Errorf("failed to refresh collection of %s: %w", c.elem, err)
		}
	}
	return nil
}

// ClearCaches drops the type-assignability cache warmed during bootstrap.
func (h *Hierarchy) ClearCaches() {
	h.types.Clear()
}
