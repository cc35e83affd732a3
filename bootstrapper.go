package modctx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoCodeAlone/modctx/config"
	"github.com/GoCodeAlone/modctx/container"
	"github.com/GoCodeAlone/modctx/expose"
	"github.com/GoCodeAlone/modctx/installer"
	"github.com/GoCodeAlone/modctx/lock"
)

// State is a step of the context lifecycle.
type State int

const (
	StateNew State = iota
	StateConfiguring
	StateRootCreated
	StateBeforeInstallers
	StateScopeCreating
	StateScopeLoaded
	StateAfterInstallers
	StateExposing
	StatePropagating
	StateRefreshing
	StatePostInstallers
	StateCompleted
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateNew:              "New",
	StateConfiguring:      "Configuring",
	StateRootCreated:      "RootCreated",
	StateBeforeInstallers: "BeforeInstallers",
	StateScopeCreating:    "ScopeCreating",
	StateScopeLoaded:      "ScopeLoaded",
	StateAfterInstallers:  "AfterInstallers",
	StateExposing:         "Exposing",
	StatePropagating:      "PropagatingBack",
	StateRefreshing:       "Refreshing",
	StatePostInstallers:   "PostInstallers",
	StateCompleted:        "Completed",
	StateFailed:           "Failed",
	StateClosed:           "Closed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var observerType = reflect.TypeFor[Observer]()

// bootstrapper runs one bootstrap of a context. It is discarded afterwards,
// along with the caches it warmed.
type bootstrapper struct {
	c           *Context
	cfg         *config.Config
	logger      Logger
	descriptors []*ModuleDescriptor
	observers   []Observer

	state   State
	current string

	info     *ContextInfo
	bcfg     *BootstrapConfig
	metrics  *Metrics
	h        *container.Hierarchy
	parent   *container.Scope
	root     *container.Scope
	pipeline *expose.Pipeline
	runner   *installer.Runner
	locks    *lock.Manager

	// created holds every scope this run owns, in creation order.
	created []*container.Scope

	installerScope *container.Scope
	sqlInstallers  *installer.SQLRepository
	sqlLocks       *lock.SQLRepository

	releaseOnce sync.Once
}

func newBootstrapper(c *Context, descriptors []*ModuleDescriptor, observers []Observer) *bootstrapper {
	return &bootstrapper{
		c:           c,
		cfg:         c.cfg,
		logger:      c.logger,
		descriptors: descriptors,
		observers:   observers,
	}
}

func (b *bootstrapper) setState(s State) {
	b.state = s
	b.c.setState(s)
}

// run drives the bootstrap. The lock is released exactly once on every
// path; a failure tears down every scope created so far.
func (b *bootstrapper) run(ctx context.Context) (err error) {
	defer b.releaseLock(ctx)
	defer func() {
		if err != nil {
			err = b.fail(ctx, err)
		}
	}()

	if err := b.configure(); err != nil {
		return err
	}
	if err := b.createRoot(ctx); err != nil {
		return err
	}

	if err := b.runContextInstallers(ctx, installer.BeforeContextBootstrap); err != nil {
		return err
	}

	var earlier []*container.Scope
	var toParent []*container.Definition
	for _, mc := range b.bcfg.modules {
		if err := ctx.Err(); err != nil {
			return err
		}
		scope, exposed, err := b.bootstrapModule(ctx, mc, earlier)
		if err != nil {
			return err
		}
		if scope == nil {
			continue
		}
		earlier = append(earlier, scope)
		if b.cfg.ExposeToParent {
			toParent = append(toParent, exposed...)
		}
	}
	b.current = ""

	if err := b.exposeToParent(toParent); err != nil {
		return err
	}

	b.setState(StateRefreshing)
	if err := b.h.RefreshCollections(false); err != nil {
		return err
	}
	if err := b.h.PostRefresh(ctx); err != nil {
		return err
	}

	b.setState(StatePostInstallers)
	if err := b.runContextInstallers(ctx, installer.AfterContextBootstrap); err != nil {
		return err
	}
	if err := b.closeInstallerScope(ctx); err != nil {
		return err
	}
	b.releaseLock(ctx)

	b.setState(StateCompleted)
	b.info.setBootstrapped()
	if err := b.publish(ctx, contextEvent(b.info)); err != nil {
		return err
	}
	b.h.ClearCaches()
	b.metrics.UpdateStatuses(b.info)

	b.c.mu.Lock()
	b.c.scopes = b.created
	b.c.mu.Unlock()

	b.logger.Info("Context bootstrapped", "context", b.cfg.ID,
		"modules", len(b.info.Modules), "bootstrapped", len(b.info.BootstrappedModules()))
	return nil
}

// configure validates and orders the modules and builds the bootstrap
// configuration, letting modules and customizers adjust it.
func (b *bootstrapper) configure() error {
	b.setState(StateConfiguring)

	if err := validateDescriptors(b.descriptors); err != nil {
		return err
	}
	ordered, err := ResolveOrder(b.descriptors)
	if err != nil {
		return err
	}

	if b.c.metricsEnabled {
		if b.metrics, err = NewMetrics(b.cfg.Metrics.Namespace, b.registerer()); err != nil {
			return err
		}
	}

	info := &ContextInfo{ID: b.cfg.ID}
	addModule := func(d *ModuleDescriptor) *ModuleInfo {
		mi := newModuleInfo(d, len(info.Modules))
		info.Modules = append(info.Modules, mi)
		return mi
	}

	addModule(NewDescriptor(newContextInfrastructureModule(b.metrics)))
	byDescriptor := make(map[*ModuleDescriptor]*ModuleInfo, len(ordered))
	for _, d := range ordered {
		byDescriptor[d] = addModule(d)
	}
	var handler *InfoHandler
	if b.c.infoHandler {
		handler = NewInfoHandler(info, b.logger)
	}
	addModule(NewDescriptor(newContextPostProcessorModule(handler)))

	for _, d := range b.descriptors {
		if mi, ok := byDescriptor[d]; ok {
			info.Configured = append(info.Configured, mi)
			continue
		}
		info.Configured = append(info.Configured, newModuleInfo(d, -1))
	}

	names := make([]string, len(info.Modules))
	for i, mi := range info.Modules {
		names[i] = mi.Name
	}
	b.logger.Debug("Resolved module order", "context", b.cfg.ID, "order", names)

	settings := b.c.installerSettings
	if settings == nil {
		if settings, err = b.cfg.Installers.Settings(); err != nil {
			return &ConfigurationError{Reason: "installer settings", Err: err}
		}
	}

	bcfg := newBootstrapConfig(b.cfg.ID, settings)
	bcfg.SetExposeTransformer(b.c.exposeTransformer)
	for _, mi := range info.Modules {
		bcfg.add(mi)
	}

	b.info = info
	b.bcfg = bcfg
	b.c.mu.Lock()
	b.c.info = info
	b.c.metrics = b.metrics
	b.c.mu.Unlock()

	for _, mc := range bcfg.modules {
		if p, ok := mc.Module().(BootstrapPreparer); ok {
			b.current = mc.ModuleName()
			if err := p.PrepareForBootstrap(mc, bcfg); err != nil {
				return fmt.Errorf("preparing module %s: %w", mc.ModuleName(), err)
			}
		}
	}
	b.current = ""
	for _, cust := range b.c.customizers {
		if err := cust.CustomizeBootstrap(bcfg); err != nil {
			return fmt.Errorf("customizing bootstrap: %w", err)
		}
	}
	return nil
}

func (b *bootstrapper) registerer() prometheus.Registerer {
	if b.c.registerer != nil {
		return b.c.registerer
	}
	return prometheus.DefaultRegisterer
}

// createRoot creates the root scope, under a support scope when the
// context has a foreign parent, and loads the root configurers.
func (b *bootstrapper) createRoot(ctx context.Context) error {
	b.setState(StateRootCreated)
	id := b.cfg.ID

	b.h = container.NewHierarchy(b.logger)
	b.c.mu.Lock()
	b.c.hierarchy = b.h
	b.c.mu.Unlock()

	parent, err := expose.SupportScope(b.h, id, b.c.parent)
	if err != nil {
		return err
	}
	if parent != nil && parent.Hierarchy() == b.h {
		b.created = append(b.created, parent)
	}
	b.parent = parent

	root, err := b.h.NewScope(container.ScopeOptions{ID: id, Parent: parent, Index: -1, Root: true})
	if err != nil {
		return err
	}
	b.created = append(b.created, root)
	b.root = root
	b.c.mu.Lock()
	b.c.root = root
	b.c.mu.Unlock()

	defs := []*container.Definition{
		container.Singleton(ContextBeanName, b.c).WithPrimary(),
		container.Singleton(ContextInfoBeanName, b.info).WithPrimary(),
	}
	for _, mi := range b.info.Modules {
		defs = append(defs, container.Singleton(ModuleInfoBeanName(mi.Name), mi).WithPrimary())
	}
	for _, def := range defs {
		if err := root.Register(def); err != nil {
			return err
		}
	}

	configurers := make([]*container.Configurer, 0, len(b.c.rootConfigurers)+1)
	if len(b.cfg.Properties) > 0 {
		configurers = append(configurers, &container.Configurer{
			Name:       id + ".properties",
			Properties: []container.PropertySource{config.MapSource("context:"+id, b.cfg.Properties)},
		})
	}
	configurers = append(configurers, b.c.rootConfigurers...)
	if err := container.Load(ctx, root, container.LoadOptions{Catalog: b.c.catalog}, configurers...); err != nil {
		return err
	}

	b.pipeline = expose.NewPipeline(id, b.cfg.Expose.Rules(), b.bcfg.ExposeTransformer(), b.logger)
	b.locks = lock.NewManager(b.cfg.Lock.ID, b.lockRepository, b.logger)
	b.runner = &installer.Runner{
		Settings:   b.bcfg.InstallerSettings(),
		Repository: b.installerRepository,
		Locker:     b.locks,
		Logger:     b.logger,
		OnResult:   b.metrics.InstallerResult,
	}
	return nil
}

// bootstrapModule runs the per-module steps. It returns a nil scope for a
// skipped module.
func (b *bootstrapper) bootstrapModule(ctx context.Context, mc *ModuleBootstrapConfig, earlier []*container.Scope) (*container.Scope, []*container.Definition, error) {
	mi := mc.info
	name := mi.Name
	b.current = name

	if mc.IsEmpty() {
		mc.freeze()
		mi.setStatus(StatusSkipped)
		b.logger.Debug("Skipping module without components", "module", name)
		return nil, nil, nil
	}

	started := time.Now()
	mi.setStatus(StatusBusy)
	b.logger.Info("Bootstrapping module", "module", name, "index", mi.Index)

	b.setState(StateBeforeInstallers)
	if err := b.publish(ctx, moduleEvent(EventTypeModuleBootstrapping, b.cfg.ID, mi)); err != nil {
		return nil, nil, err
	}
	if err := b.runner.Run(ctx, installer.BeforeModuleBootstrap, b.target(mc, b.root)); err != nil {
		return nil, nil, err
	}

	b.setState(StateScopeCreating)
	mc.freeze()
	scope, err := b.h.NewScope(container.ScopeOptions{
		ID:     b.cfg.ID + "." + name,
		Module: name,
		Index:  mi.Index,
		Parent: b.root,
	})
	if err != nil {
		return nil, nil, err
	}
	b.created = append(b.created, scope)
	mi.setScope(scope)
	scope.Expose(mc.exposed...)

	opts := container.LoadOptions{
		Catalog:  b.c.catalog,
		Excluded: mc.excluded,
		AfterProperties: func(s *container.Scope) error {
			return bindSettings(s, name, mc.settings)
		},
	}
	if err := container.Load(ctx, scope, opts, mc.loadConfigurers()...); err != nil {
		return nil, nil, err
	}

	b.setState(StateScopeLoaded)
	mi.setStatus(StatusBootstrapped)
	b.metrics.ObserveModule(name, time.Since(started))
	if err := b.publish(ctx, moduleEvent(EventTypeModuleBootstrapped, b.cfg.ID, mi)); err != nil {
		return nil, nil, err
	}

	b.setState(StateAfterInstallers)
	if err := b.runner.Run(ctx, installer.AfterModuleBootstrap, b.target(mc, scope)); err != nil {
		return nil, nil, err
	}

	b.setState(StateExposing)
	exposed, err := b.pipeline.Collect(scope, mc.exposeFilter, mc.exposeTransformer)
	if err != nil {
		return nil, nil, err
	}
	registered, err := b.pipeline.Register(b.root, exposed)
	if err != nil {
		return nil, nil, err
	}
	if len(registered) > 0 {
		b.logger.Debug("Exposed beans", "module", name, "beans", beanNames(registered))
	}

	b.setState(StatePropagating)
	if err := b.pipeline.Propagate(registered, earlier); err != nil {
		return nil, nil, err
	}
	if err := b.h.RefreshCollections(false); err != nil {
		return nil, nil, err
	}

	b.logger.Info("Bootstrapped module", "module", name, "duration", time.Since(started))
	return scope, exposed, nil
}

// exposeToParent pushes the collected beans into the parent registry.
func (b *bootstrapper) exposeToParent(defs []*container.Definition) error {
	if len(defs) == 0 {
		return nil
	}
	if b.parent == nil {
		b.logger.Warn("Context has no parent to expose beans to", "context", b.cfg.ID, "beans", len(defs))
		return nil
	}
	_, err := b.pipeline.Register(b.parent, defs)
	return err
}

func (b *bootstrapper) target(mc *ModuleBootstrapConfig, resolver container.Resolver) installer.Target {
	return installer.Target{
		Module:     mc.ModuleName(),
		Installers: mc.installers,
		Settings:   mc.installerSettings,
		Resolver:   resolver,
	}
}

// runContextInstallers runs the context-level installers of a phase, then
// the installers each module declared for it. Module installers are wired
// against the module scope when it exists.
func (b *bootstrapper) runContextInstallers(ctx context.Context, phase installer.Phase) error {
	b.current = ""
	if err := b.runner.Run(ctx, phase, installer.Target{Installers: b.c.installers, Resolver: b.root}); err != nil {
		return err
	}
	for _, mc := range b.bcfg.modules {
		if len(mc.installers) == 0 {
			continue
		}
		var resolver container.Resolver = b.root
		if s := mc.info.Scope(); s != nil {
			resolver = s
		}
		b.current = mc.ModuleName()
		if err := b.runner.Run(ctx, phase, b.target(mc, resolver)); err != nil {
			return err
		}
	}
	b.current = ""
	return nil
}

// publish notifies the registered observers and every observer bean.
func (b *bootstrapper) publish(ctx context.Context, event cloudevents.Event) error {
	beans, err := b.h.BeansOfType(observerType)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(b.observers)+len(beans))
	observers := make([]Observer, 0, len(b.observers)+len(beans))
	for _, o := range b.observers {
		if !seen[o.ObserverID()] {
			seen[o.ObserverID()] = true
			observers = append(observers, o)
		}
	}
	for _, bean := range beans {
		o := bean.(Observer)
		if !seen[o.ObserverID()] {
			seen[o.ObserverID()] = true
			observers = append(observers, o)
		}
	}
	return notify(ctx, observers, event)
}

// installerRepository finds the installer version store: the configured
// one, a bean in the root, or a SQL store on the data source.
func (b *bootstrapper) installerRepository(ctx context.Context) (installer.Repository, error) {
	if b.c.installerRepo != nil {
		return b.c.installerRepo, nil
	}
	repo, err := container.Find[installer.Repository](b.root)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, container.ErrBeanNotFound) {
		return nil, err
	}
	if err := b.ensureInstallerScope(ctx); err != nil {
		return nil, err
	}
	if b.sqlInstallers == nil {
		return nil, installer.ErrNoRepository
	}
	return b.sqlInstallers, nil
}

// lockRepository finds the lock repository: the configured one, a bean in
// the root, Redis when a URL is configured, or SQL on the data source.
func (b *bootstrapper) lockRepository(ctx context.Context) (lock.Repository, error) {
	if b.c.lockRepo != nil {
		return b.c.lockRepo, nil
	}
	repo, err := container.Find[lock.Repository](b.root)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, container.ErrBeanNotFound) {
		return nil, err
	}

	opts := b.cfg.Lock.Options()
	opts.Logger = b.logger
	if b.cfg.Lock.RedisURL != "" {
		redisRepo, err := lock.NewRedisRepositoryFromURL(b.cfg.Lock.RedisURL, opts)
		if err != nil {
			return nil, err
		}
		if err := redisRepo.Ping(ctx); err != nil {
			return nil, err
		}
		return redisRepo, nil
	}

	if err := b.ensureInstallerScope(ctx); err != nil {
		return nil, err
	}
	if b.sqlLocks == nil {
		return nil, lock.ErrNoRepository
	}
	return b.sqlLocks, nil
}

// ensureInstallerScope creates the internal scope holding the SQL
// repositories and creates their tables. Without a data source it does
// nothing.
func (b *bootstrapper) ensureInstallerScope(ctx context.Context) error {
	if b.installerScope != nil {
		return nil
	}
	db := b.c.db
	if db == nil {
		found, err := container.Find[*sql.DB](b.root)
		if err != nil {
			if errors.Is(err, container.ErrBeanNotFound) {
				return nil
			}
			return err
		}
		db = found
	}

	instRepo, err := installer.NewSQLRepository(db, b.cfg.Installers.Table)
	if err != nil {
		return err
	}
	opts := b.cfg.Lock.Options()
	opts.Logger = b.logger
	lockRepo, err := lock.NewSQLRepository(db, b.cfg.Lock.Table, opts)
	if err != nil {
		return err
	}

	scope, err := b.h.NewScope(container.ScopeOptions{
		ID:       b.cfg.ID + "#installers",
		Index:    -1,
		Parent:   b.root,
		Internal: true,
	})
	if err != nil {
		return err
	}
	b.installerScope = scope
	for _, def := range []*container.Definition{
		container.Singleton("installerRepository", instRepo),
		container.Singleton("lockRepository", lockRepo),
	} {
		if err := scope.Register(def); err != nil {
			return err
		}
	}
	if err := scope.Refresh(ctx); err != nil {
		return err
	}

	core := &installer.CoreSchema{Schemas: []installer.SchemaCreator{instRepo, lockRepo}}
	if err := core.Install(ctx); err != nil {
		return fmt.Errorf("creating installer tables: %w", err)
	}
	b.sqlInstallers = instRepo
	b.sqlLocks = lockRepo
	return nil
}

func (b *bootstrapper) closeInstallerScope(ctx context.Context) error {
	if b.installerScope == nil {
		return nil
	}
	s := b.installerScope
	b.installerScope = nil
	return s.Close(ctx)
}

// releaseLock releases the bootstrap lock once per run.
func (b *bootstrapper) releaseLock(ctx context.Context) {
	b.releaseOnce.Do(func() {
		if b.locks != nil {
			b.locks.EnsureUnlocked(context.WithoutCancel(ctx))
		}
	})
}

// fail tears down every scope created so far, newest first, and wraps err
// with the module and state it happened in.
func (b *bootstrapper) fail(ctx context.Context, err error) error {
	failedIn := b.state
	module := b.current
	b.setState(StateFailed)

	if module != "" && b.info != nil {
		if mi, ok := b.info.Module(module); ok {
			mi.setStatus(StatusFailed)
		}
	}

	ctx = context.WithoutCancel(ctx)
	if cerr := b.closeInstallerScope(ctx); cerr != nil {
		b.logger.Warn("Failed to close installer scope during teardown", "error", cerr)
	}
	for i := len(b.created) - 1; i >= 0; i-- {
		s := b.created[i]
		if cerr := s.Close(ctx); cerr != nil {
			b.logger.Warn("Failed to close scope during teardown", "scope", s.ID(), "error", cerr)
		}
	}
	b.created = nil
	b.metrics.UpdateStatuses(b.info)

	b.logger.Error("Context bootstrap failed", "context", b.cfg.ID, "module", module, "state", failedIn, "error", err)

	var be *BootstrapError
	if errors.As(err, &be) || errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrCyclicDependency) || errors.Is(err, ErrMissingDependency) {
		return err
	}
	return &BootstrapError{Module: module, State: failedIn, Err: err}
}
