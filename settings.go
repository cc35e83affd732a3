package modctx

import (
	"fmt"
	"reflect"

	"github.com/GoCodeAlone/modctx/config"
	"github.com/GoCodeAlone/modctx/container"
)

// SettingsBeanName returns the bean name module settings are registered under.
func SettingsBeanName(module string) string {
	return module + "Settings"
}

// bindSettings fills settings from the properties of s under "<module>."
// and registers it in s. settings must be a pointer to a struct.
func bindSettings(s *container.Scope, module string, settings any) error {
	if settings == nil {
		return nil
	}
	if err := config.Bind(settings, s.Property, module+"."); err != nil {
		return fmt.Errorf("binding settings of module %s: %w", module, err)
	}
	def := container.Singleton(SettingsBeanName(module), settings).
		WithType(reflect.TypeOf(settings)).
		WithPrimary()
	return s.Register(def)
}
