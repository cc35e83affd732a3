package modctx

import (
	"net/http"
	"reflect"

	"github.com/GoCodeAlone/modctx/container"
)

// Names of the modules every context adds around the registered ones.
const (
	ContextInfrastructureModuleName = "ContextInfrastructureModule"
	ContextPostProcessorModuleName  = "ContextPostProcessorModule"
)

// contextModule is a module the context synthesizes for its own beans. It
// is skipped like any other module when it has nothing to contribute.
type contextModule struct {
	name        string
	description string
	role        Role
	definitions []*container.Definition
}

func (m *contextModule) Name() string        { return m.name }
func (m *contextModule) Description() string { return m.description }
func (m *contextModule) Role() Role          { return m.role }
func (m *contextModule) RoleOrder() int      { return container.HighestPrecedence }

func (m *contextModule) Configurers() []*container.Configurer {
	if len(m.definitions) == 0 {
		return nil
	}
	defs := m.definitions
	return []*container.Configurer{{
		Name: m.name,
		Configurations: []container.Configuration{
			container.NewConfiguration(m.name, func(r container.Registrar) error {
				for _, def := range defs {
					if err := r.Register(def.Clone()); err != nil {
						return err
					}
				}
				r.Expose(beanNames(defs)...)
				return nil
			}),
		},
	}}
}

func beanNames(defs []*container.Definition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// newContextInfrastructureModule hosts the metrics bean when metrics are on.
func newContextInfrastructureModule(metrics *Metrics) *contextModule {
	m := &contextModule{
		name:        ContextInfrastructureModuleName,
		description: "Infrastructure beans of the context, bootstrapped before every other module",
		role:        RoleInfrastructure,
	}
	if metrics != nil {
		m.definitions = append(m.definitions, container.Singleton(MetricsBeanName, metrics))
	}
	return m
}

// newContextPostProcessorModule hosts the module info handler when enabled.
func newContextPostProcessorModule(handler *InfoHandler) *contextModule {
	m := &contextModule{
		name:        ContextPostProcessorModuleName,
		description: "Postprocessing beans of the context, bootstrapped after every other module",
		role:        RolePostProcessor,
	}
	if handler != nil {
		m.definitions = append(m.definitions,
			container.Singleton(InfoHandlerBeanName, handler).WithType(reflect.TypeFor[http.Handler]()))
	}
	return m
}
