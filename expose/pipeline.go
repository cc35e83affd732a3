package expose

import (
	"errors"
	"fmt"
	"slices"

	"github.com/GoCodeAlone/modctx/container"
	"github.com/GoCodeAlone/modctx/internal/logging"
)

// Pipeline collects exposed beans from module scopes and registers them
// elsewhere in the hierarchy.
type Pipeline struct {
	ContextID string

	// DefaultFilter is applied to every module in addition to its own filter.
	DefaultFilter Filter

	// Transformer runs after the module's own transformer.
	Transformer Transformer

	Logger logging.Logger
}

// NewPipeline creates a pipeline using the default filter built from rules.
func NewPipeline(contextID string, rules Rules, transformer Transformer, logger logging.Logger) *Pipeline {
	return &Pipeline{
		ContextID:     contextID,
		DefaultFilter: Default(rules),
		Transformer:   transformer,
		Logger:        logging.OrNop(logger),
	}
}

// Collect returns exposed definitions for the local beans of s matching the
// default filter, the module filter or the scope's forced names. The
// module transformer runs first, then the pipeline's. Lazy beans that were
// not created yet are matched without a type and stay uncreated.
func (p *Pipeline) Collect(s *container.Scope, moduleFilter Filter, moduleTransformer Transformer) ([]*container.Definition, error) {
	filter := Union(p.DefaultFilter, moduleFilter, ByName(s.ExposedNames()...))

	var defs []*container.Definition
	for _, def := range s.Definitions() {
		if def.IsExposed() {
			continue
		}
		t, err := s.TypeOf(def.Name)
		if err != nil && !errors.Is(err, container.ErrTypeUnknown) {
			return nil, fmt.Errorf("resolving type of '%s' in module %s: %w", def.Name, s.Module(), err)
		}
		if !filter.Matches(Candidate{Name: def.Name, Definition: def, Type: t}) {
			continue
		}

		defs = append(defs, &container.Definition{
			Name:    def.Name,
			Type:    t,
			Primary: def.Primary,
			Markers: slices.Clone(def.Markers),
			Exposed: &container.ExposedRef{
				ContextID:     p.ContextID,
				ModuleName:    s.Module(),
				OriginalName:  def.Name,
				PreferredName: def.Name,
				Aliases:       slices.Clone(def.Aliases),
				Origin:        s,
			},
		})
	}

	defs = Chain(moduleTransformer, p.Transformer).Transform(defs)
	p.Logger.Debug("Collected exposed beans", "module", s.Module(), "count", len(defs))
	return defs, nil
}

// Register adds defs to dest. A name already visible from dest is not
// shadowed: the bean is registered under its fully-qualified name instead.
// Aliases are added when still free. The definitions as registered are
// returned.
func (p *Pipeline) Register(dest *container.Scope, defs []*container.Definition) ([]*container.Definition, error) {
	registered := make([]*container.Definition, 0, len(defs))
	for _, def := range defs {
		reg := def.Clone()
		reg.Aliases = nil
		if dest.Contains(reg.Name) {
			fqn := def.Exposed.FullyQualifiedName()
			p.Logger.Debug("Exposed bean name taken, using qualified name",
				"scope", dest.ID(), "name", reg.Name, "qualified", fqn)
			reg.Name = fqn
		}
		if err := dest.Register(reg); err != nil {
			return registered, fmt.Errorf("exposing '%s' into %s: %w", def.Exposed.FullyQualifiedName(), dest.ID(), err)
		}

		for _, alias := range def.Exposed.Aliases {
			if dest.Contains(alias) {
				continue
			}
			if err := dest.Alias(reg.Name, alias); err != nil {
				return registered, err
			}
		}
		registered = append(registered, reg)
	}
	return registered, nil
}

// Propagate copies defs into each target scope. A name the target already
// resolves to another bean, locally or through its ancestors, is never
// shadowed: the copy falls back to the qualified name, and a taken qualified
// name skips the bean.
func (p *Pipeline) Propagate(defs []*container.Definition, targets []*container.Scope) error {
	for _, target := range targets {
		for _, def := range defs {
			if def.Exposed != nil && def.Exposed.Origin == target {
				continue
			}
			copied := def.Clone()
			switch {
			case target.ContainsLocal(copied.Name):
				if delegatesTo(target, copied.Name, def.Exposed) {
					continue
				}
				copied.Name = def.Exposed.FullyQualifiedName()
			case target.Contains(copied.Name) && !resolvesTo(target.Parent(), copied.Name, def.Exposed):
				copied.Name = def.Exposed.FullyQualifiedName()
			}
			if target.ContainsLocal(copied.Name) {
				continue
			}
			if err := target.Register(copied); err != nil {
				return fmt.Errorf("propagating '%s' into %s: %w", copied.Name, target.ID(), err)
			}
		}
	}
	return nil
}

// delegatesTo reports whether name in s is already an exposed definition of
// the same origin bean.
func delegatesTo(s *container.Scope, name string, ref *container.ExposedRef) bool {
	def, ok := s.Definition(name)
	return ok && def.Exposed != nil && def.Exposed.FullyQualifiedName() == ref.FullyQualifiedName()
}

// resolvesTo reports whether the nearest definition of name, searching s and
// its ancestors, delegates to the same origin bean.
func resolvesTo(s *container.Scope, name string, ref *container.ExposedRef) bool {
	for cur := s; cur != nil; cur = cur.Parent() {
		if cur.ContainsLocal(name) {
			return delegatesTo(cur, name, ref)
		}
	}
	return false
}
