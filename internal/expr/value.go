package expr

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Getter is implemented by values that resolve '.' steps themselves.
type Getter interface {
	Get(name string) (any, bool)
}

// Step resolves one '.' access on v. Absent values resolve to nil.
func Step(v any, name string) any {
	if v == nil {
		return nil
	}

	switch t := v.(type) {
	case Getter:
		if r, ok := t.Get(name); ok {
			return r
		}

		return nil
	case map[string]any:
		return t[name]
	case map[string]string:
		if r, ok := t[name]; ok {
			return r
		}

		return nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		r := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !r.IsValid() {
			return nil
		}

		return r.Interface()
	case reflect.Struct:
		f := rv.FieldByNameFunc(func(field string) bool {
			return strings.EqualFold(field, name)
		})
		if !f.IsValid() || !f.CanInterface() {
			return nil
		}

		return f.Interface()
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(name)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil
		}

		return rv.Index(i).Interface()
	default:
		return nil
	}
}

// Truthy reports the boolean interpretation of v.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Bool:
		return rv.Bool()
	default:
		return true
	}
}

// ToString converts a value to its text form. nil becomes the empty string.
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	case []string:
		return strings.Join(t, ",")
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = ToString(item)
		}

		return strings.Join(parts, ",")
	}

	return fmt.Sprint(v)
}

// ToInt converts numeric and string values to int.
func ToInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))

		return i, err == nil
	}

	return 0, false
}

// Len returns the length of strings, slices, arrays and maps.
func Len(v any) int {
	if v == nil {
		return 0
	}
	if s, ok := v.(string); ok {
		return len([]rune(s))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Chan:
		return rv.Len()
	default:
		return 0
	}
}

// Items converts a slice or array value into []any.
func Items(v any) []any {
	if v == nil {
		return nil
	}
	if items, ok := v.([]any); ok {
		return items
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}

	return items
}
