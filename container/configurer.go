package container

import (
	"context"
	"fmt"
	"slices"
)

// Registrar is what a configuration sees while it registers beans.
type Registrar interface {
	Resolver
	Register(def *Definition) error
	Alias(name, alias string) error
	Expose(names ...string)
	AddPostProcessor(pp PostProcessor)
}

// Configuration registers a group of beans. Configurations are referenced by
// name so they can be excluded from a module.
type Configuration interface {
	ConfigurationName() string
	Register(r Registrar) error
}

type configurationFunc struct {
	name string
	fn   func(r Registrar) error
}

func (c *configurationFunc) ConfigurationName() string { return c.name }

func (c *configurationFunc) Register(r Registrar) error { return c.fn(r) }

// NewConfiguration adapts a function to Configuration.
func NewConfiguration(name string, fn func(r Registrar) error) Configuration {
	return &configurationFunc{name: name, fn: fn}
}

// ProvidedSingleton is a pre-built object handed to a scope as-is.
type ProvidedSingleton struct {
	Name     string
	Instance any
}

// Configurer is one contribution to a scope: property sources, pre-built
// singletons, post-processors, configurations and packages to scan.
type Configurer struct {
	Name string

	// Optional configurers are applied but never make a module worth
	// bootstrapping on their own.
	Optional bool

	Properties     []PropertySource
	Singletons     []ProvidedSingleton
	PostProcessors []PostProcessor
	Configurations []Configuration
	ScanPackages   []string
}

// HasComponents reports whether the configurer contributes beans.
func (c *Configurer) HasComponents() bool {
	return len(c.Singletons) > 0 || len(c.Configurations) > 0 || len(c.ScanPackages) > 0
}

// IsEmpty reports whether the configurer contributes nothing at all.
func (c *Configurer) IsEmpty() bool {
	return !c.HasComponents() && len(c.Properties) == 0 && len(c.PostProcessors) == 0
}

// LoadOptions controls Load.
type LoadOptions struct {
	Catalog *Catalog

	// Excluded configuration names are skipped.
	Excluded []string

	// AfterProperties runs once every property source is in place, before
	// any bean is registered.
	AfterProperties func(s *Scope) error
}

// Load applies configurers to s and refreshes it. Each kind of contribution
// is applied for all configurers before the next kind: property sources,
// singletons, post-processors, configurations, then scanned packages.
func Load(ctx context.Context, s *Scope, opts LoadOptions, configurers ...*Configurer) error {
	for _, c := range configurers {
		for _, src := range c.Properties {
			s.AddPropertySource(src)
		}
	}
	if opts.AfterProperties != nil {
		if err := opts.AfterProperties(s); err != nil {
			return err
		}
	}

	for _, c := range configurers {
		for _, single := range c.Singletons {
			if err := s.Register(Singleton(single.Name, single.Instance)); err != nil {
				return fmt.Errorf("configurer '%s': %w", c.Name, err)
			}
		}
	}

	for _, c := range configurers {
		for _, pp := range c.PostProcessors {
			s.AddPostProcessor(pp)
		}
	}

	for _, c := range configurers {
		for _, cfg := range c.Configurations {
			if slices.Contains(opts.Excluded, cfg.ConfigurationName()) {
				continue
			}
			if err := cfg.Register(s); err != nil {
				return fmt.Errorf("configuration '%s' failed: %w", cfg.ConfigurationName(), err)
			}
		}
	}

	for _, c := range configurers {
		if len(c.ScanPackages) == 0 {
			continue
		}
		if opts.Catalog == nil {
			return fmt.Errorf("%w: configurer '%s' scans packages but no catalog is set", ErrInvalidDefinition, c.Name)
		}
		for _, pkg := range c.ScanPackages {
			for _, def := range opts.Catalog.Scan(pkg) {
				if _, err := s.RegisterIfAbsent(def); err != nil {
					return fmt.Errorf("scanning '%s': %w", pkg, err)
				}
			}
		}
	}

	return s.Refresh(ctx)
}
