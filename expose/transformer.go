package expose

import (
	"github.com/GoCodeAlone/modctx/container"
)

// Transformer rewrites the set of definitions about to be exposed. It may
// add, drop or rename entries.
type Transformer interface {
	Transform(defs []*container.Definition) []*container.Definition
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(defs []*container.Definition) []*container.Definition

// Transform implements Transformer.
func (f TransformerFunc) Transform(defs []*container.Definition) []*container.Definition {
	return f(defs)
}

// Prefix renames every exposed bean to prefix+name.
func Prefix(prefix string) Transformer {
	return TransformerFunc(func(defs []*container.Definition) []*container.Definition {
		for _, def := range defs {
			def.Name = prefix + def.Name
			if def.Exposed != nil {
				def.Exposed.PreferredName = def.Name
			}
		}
		return defs
	})
}

// Chain applies transformers in order. Nil transformers are ignored.
func Chain(transformers ...Transformer) Transformer {
	return TransformerFunc(func(defs []*container.Definition) []*container.Definition {
		for _, t := range transformers {
			if t != nil {
				defs = t.Transform(defs)
			}
		}
		return defs
	})
}
