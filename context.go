package modctx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoCodeAlone/modctx/config"
	"github.com/GoCodeAlone/modctx/container"
	"github.com/GoCodeAlone/modctx/expose"
	"github.com/GoCodeAlone/modctx/installer"
	"github.com/GoCodeAlone/modctx/lock"
)

// Bean names the context registers in its root scope.
const (
	ContextBeanName     = "modctxContext"
	ContextInfoBeanName = "contextInfo"
)

// ModuleInfoBeanName returns the root bean name of a module's info.
func ModuleInfoBeanName(module string) string {
	return module + "ModuleInfo"
}

// Context is an application context made of modules. Register modules, call
// Bootstrap once, and Close when done. A context that failed to bootstrap
// has already released everything it created and cannot be bootstrapped
// again.
type Context struct {
	cfg    *config.Config
	logger Logger

	descriptors       []*ModuleDescriptor
	parent            container.BeanSource
	rootConfigurers   []*container.Configurer
	installers        []installer.Registration
	installerSettings *installer.Settings
	exposeTransformer expose.Transformer
	db                *sql.DB
	lockRepo          lock.Repository
	installerRepo     installer.Repository
	catalog           *container.Catalog
	observers         []Observer
	customizers       []Customizer
	registerer        prometheus.Registerer
	metricsEnabled    bool
	infoHandler       bool

	mu        sync.RWMutex
	state     State
	hierarchy *container.Hierarchy
	root      *container.Scope
	scopes    []*container.Scope
	info      *ContextInfo
	metrics   *Metrics
}

// New creates a context. Without WithConfig the defaults of config.Default
// apply.
func New(opts ...Option) *Context {
	c := &Context{
		cfg:    config.Default(),
		logger: NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.Metrics.InfoEndpoint {
		c.infoHandler = true
	}
	if c.cfg.Metrics.Enabled {
		c.metricsEnabled = true
	}
	return c
}

// ID returns the context id.
func (c *Context) ID() string { return c.cfg.ID }

// Config returns the context configuration.
func (c *Context) Config() *config.Config { return c.cfg }

// Logger returns the context logger.
func (c *Context) Logger() Logger { return c.logger }

// AddModule registers m and returns its descriptor, which can still be
// adjusted until Bootstrap is called.
func (c *Context) AddModule(m Module) (*ModuleDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateNew {
		return nil, ErrAlreadyBootstrapped
	}
	d := NewDescriptor(m)
	c.descriptors = append(c.descriptors, d)
	return d, nil
}

// Descriptor returns the descriptor of a registered module.
func (c *Context) Descriptor(name string) (*ModuleDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.descriptors {
		if d.Name == name || slices.Contains(d.Aliases, name) {
			return d, true
		}
	}
	return nil, false
}

// RegisterObserver adds an observer for bootstrap events.
func (c *Context) RegisterObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// State returns where the context is in its lifecycle.
func (c *Context) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Context) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Root returns the root scope, or nil before bootstrap.
func (c *Context) Root() *container.Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root
}

// Info returns the context info, or nil before bootstrap started.
func (c *Context) Info() *ContextInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Metrics returns the bootstrap metrics, or nil when disabled.
func (c *Context) Metrics() *Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}

// Module returns the info of a module by name or alias.
func (c *Context) Module(name string) (*ModuleInfo, bool) {
	info := c.Info()
	if info == nil {
		return nil, false
	}
	return info.Module(name)
}

// BeansOfType returns every bean assignable to t across the context, ordered
// by order value, module index and in-module order.
func (c *Context) BeansOfType(t reflect.Type) ([]any, error) {
	c.mu.RLock()
	h, state := c.hierarchy, c.state
	c.mu.RUnlock()
	if state == StateClosed {
		return nil, ErrContextClosed
	}
	if h == nil {
		return nil, fmt.Errorf("%w: context %s is not bootstrapped", container.ErrBeanNotFound, c.ID())
	}
	return h.BeansOfType(t)
}

// Bootstrap orders the modules, creates their scopes, runs installers and
// exposes beans. It can be called once.
func (c *Context) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateNew {
		c.mu.Unlock()
		return ErrAlreadyBootstrapped
	}
	c.state = StateConfiguring
	descriptors := slices.Clone(c.descriptors)
	observers := slices.Clone(c.observers)
	c.mu.Unlock()

	b := newBootstrapper(c, descriptors, observers)
	return b.run(ctx)
}

// Close destroys every scope of a bootstrapped context in reverse creation
// order. Closing twice is a no-op.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	scopes := c.scopes
	h := c.hierarchy
	c.scopes = nil
	c.state = StateClosed
	c.mu.Unlock()

	var errs []error
	for i := len(scopes) - 1; i >= 0; i-- {
		if err := scopes[i].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing scope %s: %w", scopes[i].ID(), err))
		}
	}
	if h != nil {
		h.ClearCaches()
	}
	c.logger.Info("Closed context", "context", c.ID())
	return errors.Join(errs...)
}
