// Package modctx bootstraps an application out of modules, each running in
// its own dependency-injection scope under a shared root.
//
// Modules declare required, optional and runtime dependencies on each other
// and a role. The context orders them, creates one scope per module, runs
// the modules' installers around each module's bootstrap under a
// distributed lock, and exposes selected beans from every module to the
// root and to the modules bootstrapped before it.
//
// Basic usage:
//
//	ctx := modctx.New(
//		modctx.WithConfig(cfg),
//		modctx.WithModules(&UsersModule{}, &BillingModule{}),
//	)
//	if err := ctx.Bootstrap(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//	defer ctx.Close(context.Background())
package modctx

import (
	"github.com/GoCodeAlone/modctx/container"
	"github.com/GoCodeAlone/modctx/expose"
	"github.com/GoCodeAlone/modctx/installer"
)

// Module is a unit of application composition. Its name identifies it in
// dependency declarations and must be alphanumeric.
//
// A module contributes through optional interfaces: ComponentAware for beans,
// InstallerAware for installers, ExposeAware for exposure rules,
// DependencyAware and OptionalDependencyAware for ordering, RoleAware for
// its role and SettingsAware for bound settings.
type Module interface {
	Name() string
	Description() string
}

// DependencyAware modules must bootstrap after the named modules.
// A missing or disabled dependency fails the bootstrap.
type DependencyAware interface {
	Dependencies() []string
}

// OptionalDependencyAware modules bootstrap after the named modules when they
// are present and enabled.
type OptionalDependencyAware interface {
	OptionalDependencies() []string
}

// RoleAware modules declare their role and the order within it.
type RoleAware interface {
	Role() Role
	RoleOrder() int
}

// AliasAware modules can be referred to by other names in dependency
// declarations.
type AliasAware interface {
	Aliases() []string
}

// ExposeAware modules choose which of their beans are exposed beyond the
// default rules, and may rewrite them before registration.
type ExposeAware interface {
	ExposeFilter() expose.Filter
	ExposeTransformer() expose.Transformer
}

// ComponentAware modules contribute configurers to their scope.
type ComponentAware interface {
	Configurers() []*container.Configurer
}

// InstallerAware modules bring installers. InstallerSettings may return nil
// to use the context settings only.
type InstallerAware interface {
	Installers() []installer.Registration
	InstallerSettings() *installer.Settings
}

// SettingsAware modules get the struct returned by Settings bound from the
// scope's properties under "<name>." and registered as "<name>Settings".
type SettingsAware interface {
	Settings() any
}

// BootstrapPreparer modules can adjust their own bootstrap configuration, or
// that of others, before any scope is created.
type BootstrapPreparer interface {
	PrepareForBootstrap(current *ModuleBootstrapConfig, cfg *BootstrapConfig) error
}

// Customizer adjusts the bootstrap configuration of the whole context before
// any scope is created.
type Customizer interface {
	CustomizeBootstrap(cfg *BootstrapConfig) error
}

// CustomizerFunc adapts a function to Customizer.
type CustomizerFunc func(cfg *BootstrapConfig) error

// CustomizeBootstrap implements Customizer.
func (f CustomizerFunc) CustomizeBootstrap(cfg *BootstrapConfig) error { return f(cfg) }
