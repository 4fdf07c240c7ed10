package expr

import (
	"math"
	"strconv"
	"strings"
)

// RewriteReferences returns src with every '@name' replaced by the text
// replace returns for it. Everything else is kept byte for byte.
func RewriteReferences(src string, replace func(name string) (string, error)) (string, error) {
	tokens, err := lex(src)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	last := 0
	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i].typ != tokAt || tokens[i+1].typ != tokIdent {
			continue
		}
		text, err := replace(tokens[i+1].text)
		if err != nil {
			return "", err
		}
		sb.WriteString(src[last:tokens[i].start])
		sb.WriteString(text)
		last = tokens[i+1].end
		i++
	}
	sb.WriteString(src[last:])

	return sb.String(), nil
}

// Literal returns expression source that evaluates to v. Only strings,
// numbers, booleans and nil have a literal form.
func Literal(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "null", true
	case bool:
		return strconv.FormatBool(x), true
	case string:
		return quote(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	default:
		return "", false
	}
}

func formatFloat(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}

	return s, true
}

func quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')

	return sb.String()
}
