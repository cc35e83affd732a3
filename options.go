package modctx

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoCodeAlone/modctx/config"
	"github.com/GoCodeAlone/modctx/container"
	"github.com/GoCodeAlone/modctx/expose"
	"github.com/GoCodeAlone/modctx/installer"
	"github.com/GoCodeAlone/modctx/lock"
)

// Option configures a Context.
type Option func(*Context)

// WithConfig sets the context configuration.
func WithConfig(cfg *config.Config) Option {
	return func(c *Context) {
		if cfg != nil {
			c.cfg = cfg
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithModules registers modules in order.
func WithModules(modules ...Module) Option {
	return func(c *Context) {
		for _, m := range modules {
			c.descriptors = append(c.descriptors, NewDescriptor(m))
		}
	}
}

// WithDescriptors registers prepared descriptors in order.
func WithDescriptors(descriptors ...*ModuleDescriptor) Option {
	return func(c *Context) {
		c.descriptors = append(c.descriptors, descriptors...)
	}
}

// WithParent places the context under an existing registry. Registries
// other than a container scope get a support scope in between.
func WithParent(parent container.BeanSource) Option {
	return func(c *Context) {
		c.parent = parent
	}
}

// WithRootConfigurers adds configurers loaded into the root scope.
func WithRootConfigurers(configurers ...*container.Configurer) Option {
	return func(c *Context) {
		c.rootConfigurers = append(c.rootConfigurers, configurers...)
	}
}

// WithInstallers adds context-level installers. They are recorded under
// installer.ContextModule and wired against the root scope.
func WithInstallers(regs ...installer.Registration) Option {
	return func(c *Context) {
		c.installers = append(c.installers, regs...)
	}
}

// WithInstallerSettings replaces the installer settings read from the
// configuration.
func WithInstallerSettings(settings *installer.Settings) Option {
	return func(c *Context) {
		c.installerSettings = settings
	}
}

// WithDataSource sets the database holding the installer versions and the
// bootstrap lock when no repository beans are defined.
func WithDataSource(db *sql.DB) Option {
	return func(c *Context) {
		c.db = db
	}
}

// WithLockRepository sets the repository of the bootstrap lock.
func WithLockRepository(repo lock.Repository) Option {
	return func(c *Context) {
		c.lockRepo = repo
	}
}

// WithInstallerRepository sets the installer version store.
func WithInstallerRepository(repo installer.Repository) Option {
	return func(c *Context) {
		c.installerRepo = repo
	}
}

// WithCatalog sets the catalog used for package scans.
func WithCatalog(catalog *container.Catalog) Option {
	return func(c *Context) {
		c.catalog = catalog
	}
}

// WithObservers registers bootstrap event observers.
func WithObservers(observers ...Observer) Option {
	return func(c *Context) {
		c.observers = append(c.observers, observers...)
	}
}

// WithCustomizers adds bootstrap customizers, run after the modules' own
// BootstrapPreparer hooks.
func WithCustomizers(customizers ...Customizer) Option {
	return func(c *Context) {
		c.customizers = append(c.customizers, customizers...)
	}
}

// WithExposeTransformer sets the context-wide expose transformer.
func WithExposeTransformer(t expose.Transformer) Option {
	return func(c *Context) {
		c.exposeTransformer = t
	}
}

// WithMetrics enables the bootstrap metrics, registered with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Context) {
		c.registerer = reg
		c.metricsEnabled = true
	}
}

// WithInfoHandler hosts the module info handler in the context
// postprocessor module.
func WithInfoHandler() Option {
	return func(c *Context) {
		c.infoHandler = true
	}
}
