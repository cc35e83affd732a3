package modctx

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/GoCodeAlone/modctx/container"
)

// ModuleStatus is the bootstrap status of a module.
type ModuleStatus int

const (
	StatusAwaitingBootstrap ModuleStatus = iota
	StatusDisabled
	StatusSkipped
	StatusBusy
	StatusBootstrapped
	StatusFailed
)

var moduleStatusNames = map[ModuleStatus]string{
	StatusAwaitingBootstrap: "AwaitingBootstrap",
	StatusDisabled:          "Disabled",
	StatusSkipped:           "Skipped",
	StatusBusy:              "Busy",
	StatusBootstrapped:      "Bootstrapped",
	StatusFailed:            "Failed",
}

func (s ModuleStatus) String() string {
	if name, ok := moduleStatusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s ModuleStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ModuleInfo describes a module of a context. The status changes while the
// context bootstraps; everything else is fixed once ordering is done.
type ModuleInfo struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	Index                int      `json:"index"`
	Role                 Role     `json:"role"`
	Aliases              []string `json:"aliases,omitempty"`
	Dependencies         []string `json:"dependencies,omitempty"`
	OptionalDependencies []string `json:"optionalDependencies,omitempty"`
	RuntimeDependencies  []string `json:"runtimeDependencies,omitempty"`

	mu     sync.RWMutex
	status ModuleStatus
	scope  *container.Scope
	module Module
}

func newModuleInfo(d *ModuleDescriptor, index int) *ModuleInfo {
	info := &ModuleInfo{
		Name:                 d.Name,
		Description:          d.Description,
		Index:                index,
		Role:                 d.Role,
		Aliases:              slices.Clone(d.Aliases),
		Dependencies:         slices.Clone(d.Dependencies),
		OptionalDependencies: slices.Clone(d.OptionalDependencies),
		RuntimeDependencies:  slices.Clone(d.RuntimeDependencies),
		module:               d.Module,
	}
	if !d.Enabled {
		info.status = StatusDisabled
	}
	return info
}

// Status returns the current bootstrap status.
func (m *ModuleInfo) Status() ModuleStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *ModuleInfo) setStatus(s ModuleStatus) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Scope returns the module's scope, or nil if none was created.
func (m *ModuleInfo) Scope() *container.Scope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scope
}

func (m *ModuleInfo) setScope(s *container.Scope) {
	m.mu.Lock()
	m.scope = s
	m.mu.Unlock()
}

// Module returns the module implementation.
func (m *ModuleInfo) Module() Module { return m.module }

// IsBootstrapped reports whether the module's scope is up.
func (m *ModuleInfo) IsBootstrapped() bool { return m.Status() == StatusBootstrapped }

// HasName reports whether name is the module's name or one of its aliases.
func (m *ModuleInfo) HasName(name string) bool {
	return m.Name == name || slices.Contains(m.Aliases, name)
}

// MarshalJSON includes the current status.
func (m *ModuleInfo) MarshalJSON() ([]byte, error) {
	type plain struct {
		Name                 string       `json:"name"`
		Description          string       `json:"description"`
		Index                int          `json:"index"`
		Role                 Role         `json:"role"`
		Status               ModuleStatus `json:"status"`
		Aliases              []string     `json:"aliases,omitempty"`
		Dependencies         []string     `json:"dependencies,omitempty"`
		OptionalDependencies []string     `json:"optionalDependencies,omitempty"`
		RuntimeDependencies  []string     `json:"runtimeDependencies,omitempty"`
	}
	return json.Marshal(plain{
		Name:                 m.Name,
		Description:          m.Description,
		Index:                m.Index,
		Role:                 m.Role,
		Status:               m.Status(),
		Aliases:              m.Aliases,
		Dependencies:         m.Dependencies,
		OptionalDependencies: m.OptionalDependencies,
		RuntimeDependencies:  m.RuntimeDependencies,
	})
}

// ContextInfo describes a context and its modules.
type ContextInfo struct {
	ID string `json:"id"`

	// Modules are the enabled modules in bootstrap order, including the
	// modules the context adds itself.
	Modules []*ModuleInfo `json:"modules"`

	// Configured holds every registered module in registration order,
	// disabled ones included.
	Configured []*ModuleInfo `json:"configured"`

	mu           sync.RWMutex
	bootstrapped bool
}

// Module returns the module with the given name or alias.
func (c *ContextInfo) Module(name string) (*ModuleInfo, bool) {
	for _, m := range c.Modules {
		if m.HasName(name) {
			return m, true
		}
	}
	for _, m := range c.Configured {
		if m.HasName(name) {
			return m, true
		}
	}
	return nil, false
}

// ModuleByIndex returns the module at a bootstrap index.
func (c *ContextInfo) ModuleByIndex(index int) (*ModuleInfo, bool) {
	if index < 0 || index >= len(c.Modules) {
		return nil, false
	}
	return c.Modules[index], true
}

// HasModule reports whether an enabled module has the given name or alias.
func (c *ContextInfo) HasModule(name string) bool {
	return slices.ContainsFunc(c.Modules, func(m *ModuleInfo) bool { return m.HasName(name) })
}

// BootstrappedModules returns the modules with a scope, in bootstrap order.
func (c *ContextInfo) BootstrappedModules() []*ModuleInfo {
	var out []*ModuleInfo
	for _, m := range c.Modules {
		if m.IsBootstrapped() {
			out = append(out, m)
		}
	}
	return out
}

// IsBootstrapped reports whether the whole context completed its bootstrap.
func (c *ContextInfo) IsBootstrapped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bootstrapped
}

func (c *ContextInfo) setBootstrapped() {
	c.mu.Lock()
	c.bootstrapped = true
	c.mu.Unlock()
}

// StatusCounts returns how many configured modules are in each status. The
// context's own modules are counted too.
func (c *ContextInfo) StatusCounts() map[ModuleStatus]int {
	counts := make(map[ModuleStatus]int)
	seen := make(map[*ModuleInfo]bool)
	for _, m := range slices.Concat(c.Modules, c.Configured) {
		if seen[m] {
			continue
		}
		seen[m] = true
		counts[m.Status()]++
	}
	return counts
}

// MarshalJSON includes the bootstrapped flag.
func (c *ContextInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID           string        `json:"id"`
		Bootstrapped bool          `json:"bootstrapped"`
		Modules      []*ModuleInfo `json:"modules"`
		Configured   []*ModuleInfo `json:"configured"`
	}{c.ID, c.IsBootstrapped(), c.Modules, c.Configured})
}
