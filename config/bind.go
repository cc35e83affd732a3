package config

import (
	"fmt"
	"reflect"
	"strings"
)

// Lookup returns a configuration value by dotted key.
type Lookup func(key string) (any, bool)

// Bind fills the struct target points to from lookup. Field keys are the
// yaml tag name, or the field name with a lower-case first letter, under
// prefix; nested structs add their own key segment. A key that is not
// found is retried in lower case. Defaults and validation run afterwards.
func Bind(target any, lookup Lookup, prefix string) error {
	v, err := structValue(target)
	if err != nil {
		return err
	}
	if err := bindStruct(v, lookup, prefix); err != nil {
		return err
	}
	if err := applyStructDefaults(v); err != nil {
		return err
	}
	return Validate(target)
}

func bindStruct(v reflect.Value, lookup Lookup, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		key := fieldKey(fieldType)
		if key == "" {
			continue
		}
		full := prefix + key

		if field.Kind() == reflect.Struct && !isTextUnmarshaler(field) {
			if err := bindStruct(field, lookup, full+"."); err != nil {
				return err
			}
			continue
		}

		raw, ok := lookup(full)
		if !ok {
			raw, ok = lookup(strings.ToLower(full))
		}
		if !ok || raw == nil {
			continue
		}
		if err := assignValue(field, raw); err != nil {
			return fmt.Errorf("binding %s: %w", full, err)
		}
	}
	return nil
}

func fieldKey(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("yaml"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return strings.ToLower(f.Name[:1]) + f.Name[1:]
}

func assignValue(field reflect.Value, raw any) error {
	if s, ok := raw.(string); ok {
		return setFieldValue(field, s)
	}

	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}
	if isNumber(rv.Kind()) && isNumber(field.Kind()) {
		field.Set(rv.Convert(field.Type()))
		return nil
	}
	if rv.Kind() == reflect.Slice && field.Kind() == reflect.Slice {
		slice := reflect.MakeSlice(field.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if err := assignValue(slice.Index(i), rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		field.Set(slice)
		return nil
	}
	return setFieldValue(field, fmt.Sprint(raw))
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
