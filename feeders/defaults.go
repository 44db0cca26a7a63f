package feeders

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

const tagDefault = "default"

// ApplyDefaults sets every zero-valued field carrying a `default:"..."` tag.
// Nested structs are processed recursively; nil struct pointers are left
// alone. Slice defaults are comma separated.
func ApplyDefaults(structure any) error {
	v := reflect.ValueOf(structure)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w, got %T", ErrStructurePointer, structure)
	}
	return processStructDefaults(v.Elem())
}

func processStructDefaults(v reflect.Value) error {
	t := v.Type()
	for i := range v.NumField() {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := processStructDefaults(field); err != nil {
				return err
			}
			continue
		}
		if field.Kind() == reflect.Pointer && field.Type().Elem().Kind() == reflect.Struct {
			if !field.IsNil() {
				if err := processStructDefaults(field.Elem()); err != nil {
					return err
				}
			}
			continue
		}

		defaultVal, ok := fieldType.Tag.Lookup(tagDefault)
		if !ok || !field.IsZero() {
			continue
		}
		if err := setDefaultValue(field, defaultVal); err != nil {
			return wrapDefaultConversionError(fieldType.Name, defaultVal, err)
		}
	}
	return nil
}

func setDefaultValue(field reflect.Value, value string) error {
	if field.Type() == reflect.TypeFor[time.Duration]() {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.Slice:
		parts := strings.Split(value, ",")
		slice := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, part := range parts {
			elem, err := castTo(strings.TrimSpace(part), field.Type().Elem())
			if err != nil {
				return err
			}
			slice = reflect.Append(slice, elem)
		}
		field.Set(slice)
		return nil
	case reflect.Map, reflect.Struct, reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
		return fmt.Errorf("%w: %v", ErrDefaultUnsupportedType, field.Type())
	}

	converted, err := castTo(value, field.Type())
	if err != nil {
		return err
	}
	field.Set(converted)
	return nil
}

func castTo(value string, t reflect.Type) (reflect.Value, error) {
	converted, err := cast.FromType(value, t)
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(converted).Convert(t), nil
}
