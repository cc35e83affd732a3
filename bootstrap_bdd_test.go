package modctx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/GoCodeAlone/modctx/container"
	"github.com/GoCodeAlone/modctx/expose"
	"github.com/GoCodeAlone/modctx/installer"
	"github.com/GoCodeAlone/modctx/lock"
)

var (
	errUnexpectedOrder   = errors.New("unexpected bootstrap order")
	errUnexpectedStatus  = errors.New("unexpected module status")
	errUnexpectedBean    = errors.New("unexpected bean")
	errUnexpectedEvent   = errors.New("unexpected event")
	errExpectedFailure   = errors.New("expected bootstrap to fail")
	errUnknownModule     = errors.New("module not registered")
	errLockStillHeld     = errors.New("bootstrap lock is still held")
	errScopeNotClosed    = errors.New("scope is not closed")
	errWrongFailedModule = errors.New("bootstrap failed in another module")
)

// bootstrapBDDContext holds the state of one scenario.
type bootstrapBDDContext struct {
	modules  []*testModule
	store    *lock.MemoryStore
	recorder *eventRecorder
	ctx      *Context
	err      error
}

func (b *bootstrapBDDContext) reset() {
	b.modules = nil
	b.store = lock.NewMemoryStore()
	b.recorder = &eventRecorder{}
	b.ctx = nil
	b.err = nil
}

func (b *bootstrapBDDContext) add(m *testModule) *testModule {
	b.modules = append(b.modules, m)
	return m
}

func beanOf(module string) *container.Definition {
	return container.Singleton(strings.ToLower(module), "bean of "+module)
}

func (b *bootstrapBDDContext) aModule(name string) error {
	b.add(newTestModule(name, beanOf(name)))
	return nil
}

func (b *bootstrapBDDContext) aModuleRequiring(name, dep string) error {
	m := b.add(newTestModule(name, beanOf(name)))
	m.deps = append(m.deps, dep)
	return nil
}

func (b *bootstrapBDDContext) anInfrastructureModuleRequiring(name, dep string) error {
	m := b.add(newTestModule(name, beanOf(name)))
	m.role = RoleInfrastructure
	m.deps = append(m.deps, dep)
	return nil
}

func (b *bootstrapBDDContext) anEmptyModule(name string) error {
	b.add(newTestModule(name))
	return nil
}

func (b *bootstrapBDDContext) aModuleExposingBean(name, bean string) error {
	b.add(newTestModule(name, container.Singleton(bean, "bean of "+name).WithMarkers(expose.MarkerExposed)))
	return nil
}

func (b *bootstrapBDDContext) aModuleWithAnInstaller(name string) error {
	m := b.add(newTestModule(name, beanOf(name)))
	m.installers = append(m.installers, installer.Static(
		installer.Metadata{Name: name + "Schema", Version: 1, Phase: installer.AfterModuleBootstrap},
		&countingInstaller{},
	))
	return nil
}

func (b *bootstrapBDDContext) aFailingModule(name string) error {
	b.add(newTestModule(name, container.Provide("broken", func(container.Resolver) (any, error) {
		return nil, errBoom
	})))
	return nil
}

func (b *bootstrapBDDContext) theContextIsBootstrapped() error {
	modules := make([]Module, len(b.modules))
	for i, m := range b.modules {
		modules[i] = m
	}
	b.ctx = New(
		WithConfig(testConfig("ctx")),
		WithModules(modules...),
		WithObservers(b.recorder),
		WithLockRepository(lock.NewMemoryRepository(b.store, lock.Options{Owner: "bdd"})),
		WithInstallerRepository(installer.NewMemoryRepository()),
	)
	b.err = b.ctx.Bootstrap(context.Background())
	return nil
}

func (b *bootstrapBDDContext) theBootstrapSucceeds() error {
	return b.err
}

func (b *bootstrapBDDContext) theBootstrapOrderIs(expected string) error {
	var order []string
	for _, mi := range b.ctx.Info().Modules {
		if mi.Name == ContextInfrastructureModuleName || mi.Name == ContextPostProcessorModuleName {
			continue
		}
		order = append(order, mi.Name)
	}
	want := strings.Split(expected, ", ")
	if !slices.Equal(order, want) {
		return fmt.Errorf("%w: got %v, want %v", errUnexpectedOrder, order, want)
	}
	return nil
}

func (b *bootstrapBDDContext) moduleHasStatus(name, status string) error {
	mi, ok := b.ctx.Module(name)
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownModule, name)
	}
	if mi.Status().String() != status {
		return fmt.Errorf("%w: %s is %s, want %s", errUnexpectedStatus, name, mi.Status(), status)
	}
	return nil
}

func (b *bootstrapBDDContext) noEventsWerePublishedForModule(name string) error {
	for _, event := range b.recorder.summary() {
		if strings.HasSuffix(event, ":"+name) {
			return fmt.Errorf("%w: %s", errUnexpectedEvent, event)
		}
	}
	return nil
}

func (b *bootstrapBDDContext) theRootResolvesToTheBeanOfModule(name, module string) error {
	v, err := container.Get[string](b.ctx.Root(), name)
	if err != nil {
		return err
	}
	if v != "bean of "+module {
		return fmt.Errorf("%w: %s resolved to %q", errUnexpectedBean, name, v)
	}
	return nil
}

func (b *bootstrapBDDContext) theBootstrapFailsInModule(name string) error {
	var be *BootstrapError
	if !errors.As(b.err, &be) {
		return fmt.Errorf("%w: got %v", errExpectedFailure, b.err)
	}
	if be.Module != name {
		return fmt.Errorf("%w: %s", errWrongFailedModule, be.Module)
	}
	return nil
}

func (b *bootstrapBDDContext) theBootstrapFailsWithACyclicDependencyError() error {
	if !errors.Is(b.err, ErrCyclicDependency) {
		return fmt.Errorf("%w: got %v", errExpectedFailure, b.err)
	}
	return nil
}

func (b *bootstrapBDDContext) theBootstrapLockIsNotHeld() error {
	if owner, held := b.store.Owner(lock.DefaultLockID); held {
		return fmt.Errorf("%w by %s", errLockStillHeld, owner)
	}
	return nil
}

func (b *bootstrapBDDContext) theScopeOfModuleIsClosed(name string) error {
	mi, ok := b.ctx.Module(name)
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownModule, name)
	}
	if s := mi.Scope(); s == nil || !s.IsClosed() {
		return fmt.Errorf("%w: module %s", errScopeNotClosed, name)
	}
	return nil
}

// InitializeBootstrapScenario registers the context bootstrap steps.
func InitializeBootstrapScenario(ctx *godog.ScenarioContext) {
	b := &bootstrapBDDContext{}

	ctx.Before(func(c context.Context, _ *godog.Scenario) (context.Context, error) {
		b.reset()
		return c, nil
	})
	ctx.After(func(c context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		if b.ctx != nil && b.err == nil {
			return c, b.ctx.Close(c)
		}
		return c, nil
	})

	ctx.Step(`^a module "([^"]*)"$`, b.aModule)
	ctx.Step(`^a module "([^"]*)" requiring "([^"]*)"$`, b.aModuleRequiring)
	ctx.Step(`^an infrastructure module "([^"]*)" requiring "([^"]*)"$`, b.anInfrastructureModuleRequiring)
	ctx.Step(`^an empty module "([^"]*)"$`, b.anEmptyModule)
	ctx.Step(`^a module "([^"]*)" exposing bean "([^"]*)"$`, b.aModuleExposingBean)
	ctx.Step(`^a module "([^"]*)" with an installer$`, b.aModuleWithAnInstaller)
	ctx.Step(`^a failing module "([^"]*)"$`, b.aFailingModule)

	ctx.Step(`^the context is bootstrapped$`, b.theContextIsBootstrapped)

	ctx.Step(`^the bootstrap succeeds$`, b.theBootstrapSucceeds)
	ctx.Step(`^the bootstrap order is "([^"]*)"$`, b.theBootstrapOrderIs)
	ctx.Step(`^module "([^"]*)" has status "([^"]*)"$`, b.moduleHasStatus)
	ctx.Step(`^no events were published for module "([^"]*)"$`, b.noEventsWerePublishedForModule)
	ctx.Step(`^the root resolves "([^"]*)" to the bean of module "([^"]*)"$`, b.theRootResolvesToTheBeanOfModule)
	ctx.Step(`^the bootstrap fails in module "([^"]*)"$`, b.theBootstrapFailsInModule)
	ctx.Step(`^the bootstrap fails with a cyclic dependency error$`, b.theBootstrapFailsWithACyclicDependencyError)
	ctx.Step(`^the bootstrap lock is not held$`, b.theBootstrapLockIsNotHeld)
	ctx.Step(`^the scope of module "([^"]*)" is closed$`, b.theScopeOfModuleIsClosed)
}

// TestBootstrapFeatures runs the BDD scenarios of the context bootstrap.
func TestBootstrapFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeBootstrapScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/bootstrap.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
