package config

import (
	"fmt"
	"reflect"
	"strings"
)

// applyEnv sets fields carrying an `env` tag from the environment. A nested
// struct with an env tag extends the prefix: Lock.Table reads
// MODCTX_LOCK_TABLE.
func applyEnv(v reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		envTag, ok := fieldType.Tag.Lookup("env")
		if !ok || envTag == "" || envTag == "-" {
			continue
		}

		name := strings.ToUpper(envTag)
		if prefix != "" {
			name = prefix + "_" + name
		}

		if field.Kind() == reflect.Struct && !isTextUnmarshaler(field) {
			if err := applyEnv(field, name, lookup); err != nil {
				return err
			}
			continue
		}

		envValue, ok := lookup(name)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("environment variable %s: %w", name, err)
		}
	}
	return nil
}
