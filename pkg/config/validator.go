package config

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// RequiredFields fails when any named field holds its zero value.
// Names may be dotted paths into nested structs ("Relay.URL").
func RequiredFields(fields ...string) Validator {
	return ValidatorFunc(func(config any) error {
		var missing []string
		for _, name := range fields {
			fieldVal, err := fieldOf(config, name)
			if err != nil {
				return err
			}
			if fieldVal.IsZero() {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("required fields are missing: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

// RangeValidator checks that a numeric field lies in [min, max].
func RangeValidator(name string, min, max float64) Validator {
	return ValidatorFunc(func(config any) error {
		fieldVal, err := fieldOf(config, name)
		if err != nil {
			return err
		}
		var num float64
		switch fieldVal.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			num = float64(fieldVal.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			num = float64(fieldVal.Uint())
		case reflect.Float32, reflect.Float64:
			num = fieldVal.Float()
		default:
			return fmt.Errorf("field %s is not numeric", name)
		}
		if num < min || num > max {
			return fmt.Errorf("field %s value %v is out of range [%v, %v]", name, num, min, max)
		}
		return nil
	})
}

// StringLengthValidator checks the byte length of a string field.
func StringLengthValidator(name string, minLen, maxLen int) Validator {
	return ValidatorFunc(func(config any) error {
		fieldVal, err := fieldOf(config, name)
		if err != nil {
			return err
		}
		if fieldVal.Kind() != reflect.String {
			return fmt.Errorf("field %s is not a string", name)
		}
		if n := fieldVal.Len(); n < minLen || n > maxLen {
			return fmt.Errorf("field %s length %d is out of range [%d, %d]", name, n, minLen, maxLen)
		}
		return nil
	})
}

// OneOfValidator checks that a string field holds one of allowed.
func OneOfValidator(name string, allowed ...string) Validator {
	return ValidatorFunc(func(config any) error {
		fieldVal, err := fieldOf(config, name)
		if err != nil {
			return err
		}
		if fieldVal.Kind() != reflect.String {
			return fmt.Errorf("field %s is not a string", name)
		}
		if !slices.Contains(allowed, fieldVal.String()) {
			return fmt.Errorf("field %s value %q is not one of %v", name, fieldVal.String(), allowed)
		}
		return nil
	})
}

func fieldOf(config any, path string) (reflect.Value, error) {
	current := reflect.ValueOf(config)
	for _, part := range strings.Split(path, ".") {
		if current.Kind() == reflect.Pointer {
			current = current.Elem()
		}
		if current.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("config must be a struct")
		}
		current = current.FieldByName(part)
		if !current.IsValid() {
			return reflect.Value{}, fmt.Errorf("field %s not found in config struct", path)
		}
	}
	return current, nil
}
