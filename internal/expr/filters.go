package expr

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FilterHandler resolves filter names used in '|' pipelines.
type FilterHandler interface {
	HasFilter(name string) bool
	Filter(name string, value any, args []any) (any, error)
}

// FilterFunc implements one named filter.
type FilterFunc func(value any, args ...any) (any, error)

// FilterSet is a map based FilterHandler.
type FilterSet map[string]FilterFunc

// HasFilter reports whether name is registered.
func (fs FilterSet) HasFilter(name string) bool {
	_, ok := fs[name]

	return ok
}

// Filter applies the named filter.
func (fs FilterSet) Filter(name string, value any, args []any) (any, error) {
	fn, ok := fs[name]
	if !ok {
		return nil, fmt.Errorf("unknown filter %q", name)
	}

	return fn(value, args...)
}

// Clone returns a copy that can be extended without touching fs.
func (fs FilterSet) Clone() FilterSet {
	out := make(FilterSet, len(fs))
	for k, v := range fs {
		out[k] = v
	}

	return out
}

// DefaultFilters returns the built-in filter set. A cases.Caser is not safe
// for concurrent use, so the case filters build one per call.
func DefaultFilters() FilterSet {
	return FilterSet{
		"upper": func(v any, _ ...any) (any, error) {
			return cases.Upper(language.Und).String(ToString(v)), nil
		},
		"lower": func(v any, _ ...any) (any, error) {
			return cases.Lower(language.Und).String(ToString(v)), nil
		},
		"title": func(v any, _ ...any) (any, error) {
			return cases.Title(language.Und).String(ToString(v)), nil
		},
		"trim": func(v any, _ ...any) (any, error) {
			return strings.TrimSpace(ToString(v)), nil
		},
		"escape": func(v any, _ ...any) (any, error) {
			return html.EscapeString(ToString(v)), nil
		},
		"default": func(v any, args ...any) (any, error) {
			if Truthy(v) || len(args) == 0 {
				return v, nil
			}

			return args[0], nil
		},
		"length": func(v any, _ ...any) (any, error) {
			return Len(v), nil
		},
		"join": func(v any, args ...any) (any, error) {
			sep := ","
			if len(args) > 0 {
				sep = ToString(args[0])
			}
			items := Items(v)
			parts := make([]string, len(items))
			for i, item := range items {
				parts[i] = ToString(item)
			}

			return strings.Join(parts, sep), nil
		},
		"truncate": func(v any, args ...any) (any, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("truncate needs a length argument")
			}
			n, ok := ToInt(args[0])
			if !ok || n < 0 {
				return nil, fmt.Errorf("truncate length must be a non-negative number, got %v", args[0])
			}
			runes := []rune(ToString(v))
			if len(runes) <= n {
				return string(runes), nil
			}
			suffix := ""
			if len(args) > 1 {
				suffix = ToString(args[1])
			}

			return string(runes[:n]) + suffix, nil
		},
		"replace": func(v any, args ...any) (any, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("replace needs two arguments, got %d", len(args))
			}

			return strings.ReplaceAll(ToString(v), ToString(args[0]), ToString(args[1])), nil
		},
		"first": func(v any, _ ...any) (any, error) {
			items := Items(v)
			if len(items) == 0 {
				return nil, nil
			}

			return items[0], nil
		},
		"last": func(v any, _ ...any) (any, error) {
			items := Items(v)
			if len(items) == 0 {
				return nil, nil
			}

			return items[len(items)-1], nil
		},
		"json": func(v any, _ ...any) (any, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}

			return string(b), nil
		},
	}
}
