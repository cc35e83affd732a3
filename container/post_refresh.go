package container

import (
	"context"
	"fmt"
	"reflect"
)

// Dependency names one argument of a post-refresh hook. Name takes
// precedence; otherwise the single bean of Type is used. A slice Type
// receives every bean of its element type.
type Dependency struct {
	Name string
	Type reflect.Type
}

// PostRefreshHook is deferred wiring that runs once after every module has
// bootstrapped. A required hook fails the bootstrap when a dependency cannot
// be resolved; an optional one is skipped.
type PostRefreshHook struct {
	Name         string
	Dependencies []Dependency
	Required     bool
	Invoke       func(bean any, deps []any) error
}

// PostRefresh runs the post-refresh hooks of every created bean in the
// context. Each hook fires at most once per bean.
func (h *Hierarchy) PostRefresh(ctx context.Context) error {
	for _, s := range h.Scopes() {
		if s.internal || s.IsClosed() {
			continue
		}
		for _, entry := range s.instantiated() {
			if entry.def == nil || len(entry.def.PostRefresh) == 0 {
				continue
			}
			for _, hook := range entry.def.PostRefresh {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := h.runHook(s, entry, hook); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (h *Hierarchy) runHook(s *Scope, entry beanEntry, hook PostRefreshHook) error {
	key := s.id + "/" + entry.name + "/" + hook.Name

	h.mu.Lock()
	if h.hooksDone[key] {
		h.mu.Unlock()
		return nil
	}
	h.hooksDone[key] = true
	h.mu.Unlock()

	deps := make([]any, 0, len(hook.Dependencies))
	for _, dep := range hook.Dependencies {
		v, err := h.resolveDependency(s, dep)
		if err != nil {
			if hook.Required {
				return fmt.Errorf("%w: hook '%s' on bean '%s' in scope %s: %w",
					ErrPostRefreshUnresolvable, hook.Name, entry.name, s.id, err)
			}
			h.logger.Debug("Skipping post-refresh hook with unresolvable dependency",
				"scope", s.id, "bean", entry.name, "hook", hook.Name, "error", err)
			return nil
		}
		deps = append(deps, v)
	}

	if err := hook.Invoke(entry.instance, deps); err != nil {
		return fmt.Errorf("post-refresh hook '%s' on bean '%s' in scope %s failed: %w",
			hook.Name, entry.name, s.id, err)
	}
	return nil
}

func (h *Hierarchy) resolveDependency(s *Scope, dep Dependency) (any, error) {
	if dep.Name != "" {
		return s.Get(dep.Name)
	}
	if dep.Type == nil {
		return nil, fmt.Errorf("%w: dependency has neither name nor type", ErrInvalidDefinition)
	}
	if dep.Type.Kind() == reflect.Slice {
		beans, err := h.BeansOfType(dep.Type.Elem())
		if err != nil {
			return nil, err
		}
		out := reflect.MakeSlice(dep.Type, 0, len(beans))
		for _, b := range beans {
			out = reflect.Append(out, reflect.ValueOf(b))
		}
		return out.Interface(), nil
	}
	return s.GetByType(dep.Type)
}
