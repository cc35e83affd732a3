package modctx

import (
	"fmt"
	"slices"

	"github.com/GoCodeAlone/modctx/container"
	"github.com/GoCodeAlone/modctx/expose"
	"github.com/GoCodeAlone/modctx/installer"
)

// ModuleBootstrapConfig is how one module will be bootstrapped. Customizers
// may change it until the module's scope is created; after that every
// mutation fails with ErrModuleConfigFrozen.
type ModuleBootstrapConfig struct {
	info   *ModuleInfo
	parent *BootstrapConfig

	configurers       []*container.Configurer
	excluded          []string
	exposed           []string
	exposeFilter      expose.Filter
	exposeTransformer expose.Transformer
	installers        []installer.Registration
	installerSettings *installer.Settings
	settings          any

	frozen bool
}

func newModuleBootstrapConfig(info *ModuleInfo, parent *BootstrapConfig) *ModuleBootstrapConfig {
	mc := &ModuleBootstrapConfig{info: info, parent: parent}
	m := info.module
	if m == nil {
		return mc
	}
	if ca, ok := m.(ComponentAware); ok {
		mc.configurers = slices.Clone(ca.Configurers())
	}
	if ea, ok := m.(ExposeAware); ok {
		mc.exposeFilter = ea.ExposeFilter()
		mc.exposeTransformer = ea.ExposeTransformer()
	}
	if ia, ok := m.(InstallerAware); ok {
		mc.installers = slices.Clone(ia.Installers())
		mc.installerSettings = ia.InstallerSettings()
	}
	if sa, ok := m.(SettingsAware); ok {
		mc.settings = sa.Settings()
	}
	return mc
}

// ModuleName returns the module's name.
func (mc *ModuleBootstrapConfig) ModuleName() string { return mc.info.Name }

// Info returns the module's info.
func (mc *ModuleBootstrapConfig) Info() *ModuleInfo { return mc.info }

// Module returns the module implementation.
func (mc *ModuleBootstrapConfig) Module() Module { return mc.info.module }

// IsFrozen reports whether the module's scope was created.
func (mc *ModuleBootstrapConfig) IsFrozen() bool { return mc.frozen }

func (mc *ModuleBootstrapConfig) mutable() error {
	if mc.frozen {
		return fmt.Errorf("%w: %s", ErrModuleConfigFrozen, mc.info.Name)
	}
	return nil
}

// AddConfigurer appends configurers to the module's scope.
func (mc *ModuleBootstrapConfig) AddConfigurer(configurers ...*container.Configurer) error {
	if err := mc.mutable(); err != nil {
		return err
	}
	mc.configurers = append(mc.configurers, configurers...)
	return nil
}

// Configurers returns the module's own configurers.
func (mc *ModuleBootstrapConfig) Configurers() []*container.Configurer {
	return slices.Clone(mc.configurers)
}

// Exclude skips configurations by name when the scope is loaded.
func (mc *ModuleBootstrapConfig) Exclude(names ...string) error {
	if err := mc.mutable(); err != nil {
		return err
	}
	mc.excluded = append(mc.excluded, names...)
	return nil
}

// Excluded returns the excluded configuration names.
func (mc *ModuleBootstrapConfig) Excluded() []string { return slices.Clone(mc.excluded) }

// Expose forces beans to be exposed regardless of the filters.
func (mc *ModuleBootstrapConfig) Expose(names ...string) error {
	if err := mc.mutable(); err != nil {
		return err
	}
	mc.exposed = append(mc.exposed, names...)
	return nil
}

// SetExposeFilter replaces the module's expose filter.
func (mc *ModuleBootstrapConfig) SetExposeFilter(f expose.Filter) error {
	if err := mc.mutable(); err != nil {
		return err
	}
	mc.exposeFilter = f
	return nil
}

// ExposeFilter returns the module's expose filter.
func (mc *ModuleBootstrapConfig) ExposeFilter() expose.Filter { return mc.exposeFilter }

// SetExposeTransformer replaces the module's expose transformer.
func (mc *ModuleBootstrapConfig) SetExposeTransformer(t expose.Transformer) error {
	if err := mc.mutable(); err != nil {
		return err
	}
	mc.exposeTransformer = t
	return nil
}

// ExposeTransformer returns the module's expose transformer.
func (mc *ModuleBootstrapConfig) ExposeTransformer() expose.Transformer { return mc.exposeTransformer }

// AddInstallers appends installers to the module.
func (mc *ModuleBootstrapConfig) AddInstallers(regs ...installer.Registration) error {
	if err := mc.mutable(); err != nil {
		return err
	}
	mc.installers = append(mc.installers, regs...)
	return nil
}

// Installers returns the module's installers.
func (mc *ModuleBootstrapConfig) Installers() []installer.Registration {
	return slices.Clone(mc.installers)
}

// SetInstallerSettings replaces the module-level installer settings.
func (mc *ModuleBootstrapConfig) SetInstallerSettings(s *installer.Settings) error {
	if err := mc.mutable(); err != nil {
		return err
	}
	mc.installerSettings = s
	return nil
}

// InstallerSettings returns the module-level installer settings.
func (mc *ModuleBootstrapConfig) InstallerSettings() *installer.Settings { return mc.installerSettings }

// HasComponents reports whether a non-optional configurer or extension
// contributes beans.
func (mc *ModuleBootstrapConfig) HasComponents() bool {
	for _, c := range mc.configurers {
		if !c.Optional && c.HasComponents() {
			return true
		}
	}
	for _, ext := range mc.parent.extensionsFor(mc.info.Name) {
		if !ext.Optional {
			return true
		}
	}
	return false
}

// IsEmpty reports whether bootstrapping the module would do nothing: no
// installers and no components.
func (mc *ModuleBootstrapConfig) IsEmpty() bool {
	return len(mc.installers) == 0 && !mc.HasComponents()
}

// loadConfigurers returns the configurers to load into the module's scope:
// the module's own, then immediate extensions, then deferred extensions.
func (mc *ModuleBootstrapConfig) loadConfigurers() []*container.Configurer {
	out := slices.Clone(mc.configurers)
	var immediate, deferred []container.Configuration
	for _, ext := range mc.parent.extensionsFor(mc.info.Name) {
		if ext.Deferred {
			deferred = append(deferred, ext.Configuration)
		} else {
			immediate = append(immediate, ext.Configuration)
		}
	}
	if len(immediate) > 0 {
		out = append(out, &container.Configurer{Name: mc.info.Name + ".extensions", Configurations: immediate})
	}
	if len(deferred) > 0 {
		out = append(out, &container.Configurer{Name: mc.info.Name + ".deferredExtensions", Configurations: deferred})
	}
	return out
}

func (mc *ModuleBootstrapConfig) freeze() { mc.frozen = true }

// Extension adds a configuration to a module from outside of it.
type Extension struct {
	Module        string
	Configuration container.Configuration

	// Deferred extensions load after every immediate one.
	Deferred bool

	// Optional extensions never make an otherwise empty module bootstrap.
	Optional bool
}

// BootstrapConfig is the bootstrap configuration of a whole context. The
// set of modules is fixed; extensions can be added or removed until the
// target module's scope is created.
type BootstrapConfig struct {
	contextID  string
	modules    []*ModuleBootstrapConfig
	byName     map[string]*ModuleBootstrapConfig
	extensions []Extension

	exposeTransformer expose.Transformer
	installerSettings *installer.Settings
}

func newBootstrapConfig(contextID string, settings *installer.Settings) *BootstrapConfig {
	return &BootstrapConfig{
		contextID:         contextID,
		byName:            make(map[string]*ModuleBootstrapConfig),
		installerSettings: settings,
	}
}

func (bc *BootstrapConfig) add(info *ModuleInfo) *ModuleBootstrapConfig {
	mc := newModuleBootstrapConfig(info, bc)
	bc.modules = append(bc.modules, mc)
	bc.byName[info.Name] = mc
	return mc
}

// ContextID returns the id of the context being bootstrapped.
func (bc *BootstrapConfig) ContextID() string { return bc.contextID }

// Modules returns the module configurations in bootstrap order.
func (bc *BootstrapConfig) Modules() []*ModuleBootstrapConfig {
	return slices.Clone(bc.modules)
}

// Module returns the configuration of a module by name or alias.
func (bc *BootstrapConfig) Module(name string) (*ModuleBootstrapConfig, bool) {
	if mc, ok := bc.byName[name]; ok {
		return mc, true
	}
	for _, mc := range bc.modules {
		if mc.info.HasName(name) {
			return mc, true
		}
	}
	return nil, false
}

// AddExtension registers a configuration against a module.
func (bc *BootstrapConfig) AddExtension(ext Extension) error {
	mc, ok := bc.Module(ext.Module)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, ext.Module)
	}
	if err := mc.mutable(); err != nil {
		return err
	}
	ext.Module = mc.info.Name
	bc.extensions = append(bc.extensions, ext)
	return nil
}

// RemoveExtension removes the extension with the given configuration name
// from a module.
func (bc *BootstrapConfig) RemoveExtension(module, configuration string) error {
	mc, ok := bc.Module(module)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, module)
	}
	if err := mc.mutable(); err != nil {
		return err
	}
	bc.extensions = slices.DeleteFunc(bc.extensions, func(ext Extension) bool {
		return ext.Module == mc.info.Name && ext.Configuration.ConfigurationName() == configuration
	})
	return nil
}

func (bc *BootstrapConfig) extensionsFor(module string) []Extension {
	var out []Extension
	for _, ext := range bc.extensions {
		if ext.Module == module {
			out = append(out, ext)
		}
	}
	return out
}

// SetExposeTransformer sets the transformer applied to every module's
// exposed beans after the module's own.
func (bc *BootstrapConfig) SetExposeTransformer(t expose.Transformer) {
	bc.exposeTransformer = t
}

// ExposeTransformer returns the context-wide expose transformer.
func (bc *BootstrapConfig) ExposeTransformer() expose.Transformer { return bc.exposeTransformer }

// InstallerSettings returns the context-level installer settings.
func (bc *BootstrapConfig) InstallerSettings() *installer.Settings { return bc.installerSettings }

// SetInstallerSettings replaces the context-level installer settings.
func (bc *BootstrapConfig) SetInstallerSettings(s *installer.Settings) {
	bc.installerSettings = s
}
