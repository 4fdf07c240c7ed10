package macro

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/conneroisu/weft/internal/component"
	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/expr"
)

// coerce converts a constant argument to the parameter's declared type.
// Node values and nil pass through unchanged.
func coerce(p Param, v any) (any, error) {
	if v == nil || isNodeValue(v) {
		return v, nil
	}

	switch p.Type {
	case TypeString:
		return expr.ToString(v), nil
	case TypeInt:
		if i, ok := expr.ToInt(v); ok {
			return i, nil
		}
	case TypeFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f, nil
			}
		}
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			if x == "" {
				return true, nil
			}
			if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
				return b, nil
			}
		}
	case TypeList:
		switch x := v.(type) {
		case []string:
			return x, nil
		case string:
			return component.ParseList(x), nil
		default:
			return v, nil
		}
	default:
		return v, nil
	}

	return nil, errors.NewMacroError(errors.ErrCodeInvalidParameterType,
		fmt.Sprintf("parameter %q expects %s, got %q", p.Name, p.Type, expr.ToString(v))).
		WithContext("param", p.Name).WithContext("type", p.Type)
}

func isNodeValue(v any) bool {
	switch v.(type) {
	case *component.Node, []*component.Node:
		return true
	default:
		return false
	}
}

// cloneValue deep-copies node values so each use owns its nodes.
func cloneValue(v any) any {
	switch x := v.(type) {
	case *component.Node:
		return x.Clone()
	case []*component.Node:
		out := make([]*component.Node, len(x))
		for i, n := range x {
			out[i] = n.Clone()
		}

		return out
	default:
		return v
	}
}

// contentOf returns the nodes a node value contributes in text position:
// a holder's children, or the children of every holder in a collection.
func contentOf(v any) []*component.Node {
	switch x := v.(type) {
	case *component.Node:
		if component.IsHolder(x) {
			return x.Children()
		}

		return []*component.Node{x}
	case []*component.Node:
		var out []*component.Node
		for _, n := range x {
			out = append(out, contentOf(n)...)
		}

		return out
	default:
		return nil
	}
}
