package modctx

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/GoCodeAlone/modctx/container"
)

// Role places a module in the bootstrap order.
type Role int

const (
	// RoleRegular modules keep their registration order.
	RoleRegular Role = iota
	// RoleInfrastructure modules bootstrap as early as their dependencies allow.
	RoleInfrastructure
	// RolePostProcessor modules bootstrap as late as their dependents allow.
	RolePostProcessor
)

func (r Role) String() string {
	switch r {
	case RoleInfrastructure:
		return "INFRASTRUCTURE"
	case RolePostProcessor:
		return "POSTPROCESSOR"
	default:
		return "REGULAR"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// group is the primary ordering key of a role.
func (r Role) group() int {
	switch r {
	case RoleInfrastructure:
		return 0
	case RolePostProcessor:
		return 2
	default:
		return 1
	}
}

var descriptorValidator = validator.New()

// ModuleDescriptor is the ordering view of a module. It is built from the
// module's optional interfaces and frozen once bootstrap starts.
type ModuleDescriptor struct {
	Name        string `validate:"required,alphanum,max=250"`
	Description string `validate:"required"`

	Aliases              []string
	Dependencies         []string
	OptionalDependencies []string
	RuntimeDependencies  []string

	Role      Role
	RoleOrder int
	Enabled   bool

	Module Module
}

// NewDescriptor describes m. The descriptor starts enabled.
func NewDescriptor(m Module) *ModuleDescriptor {
	d := &ModuleDescriptor{
		Name:        m.Name(),
		Description: m.Description(),
		RoleOrder:   container.DefaultOrder,
		Enabled:     true,
		Module:      m,
	}
	if da, ok := m.(DependencyAware); ok {
		d.Dependencies = slices.Clone(da.Dependencies())
	}
	if oda, ok := m.(OptionalDependencyAware); ok {
		d.OptionalDependencies = slices.Clone(oda.OptionalDependencies())
	}
	if ra, ok := m.(RoleAware); ok {
		d.Role = ra.Role()
		d.RoleOrder = ra.RoleOrder()
	}
	if aa, ok := m.(AliasAware); ok {
		d.Aliases = slices.Clone(aa.Aliases())
	}
	return d
}

// AddRuntimeDependency adds dependencies that only affect ordering. They are
// not part of the module's own declaration but are enforced like required
// dependencies.
func (d *ModuleDescriptor) AddRuntimeDependency(names ...string) *ModuleDescriptor {
	d.RuntimeDependencies = append(d.RuntimeDependencies, names...)
	return d
}

// Disable excludes the module from the bootstrap.
func (d *ModuleDescriptor) Disable() *ModuleDescriptor {
	d.Enabled = false
	return d
}

// Validate checks the name and description.
func (d *ModuleDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return &ConfigurationError{Reason: "module name must not be blank"}
	}
	if err := descriptorValidator.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			reasons := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				reasons = append(reasons, fmt.Sprintf("%s failed '%s'", fe.Field(), fe.Tag()))
			}
			return &ConfigurationError{Module: d.Name, Reason: strings.Join(reasons, "; ")}
		}
		return &ConfigurationError{Module: d.Name, Err: err}
	}
	return nil
}

// requiredDependencies returns the declared and runtime dependencies.
func (d *ModuleDescriptor) requiredDependencies() []string {
	deps := make([]string, 0, len(d.Dependencies)+len(d.RuntimeDependencies))
	deps = append(deps, d.Dependencies...)
	for _, rd := range d.RuntimeDependencies {
		if !slices.Contains(deps, rd) {
			deps = append(deps, rd)
		}
	}
	return deps
}

// validateDescriptors checks every descriptor and rejects duplicate names
// and aliases.
func validateDescriptors(descriptors []*ModuleDescriptor) error {
	seen := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return err
		}
		for _, name := range append([]string{d.Name}, d.Aliases...) {
			if owner, dup := seen[name]; dup {
				return &ConfigurationError{
					Module: d.Name,
					Reason: fmt.Sprintf("name %s is already used by module %s", name, owner),
					Err:    ErrDuplicateModule,
				}
			}
			seen[name] = d.Name
		}
	}
	return nil
}
