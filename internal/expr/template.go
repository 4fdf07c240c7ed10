package expr

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/conneroisu/weft/internal/errors"
)

const (
	openEscaped  = "{{"
	closeEscaped = "}}"
	openRaw      = "{!!"
	closeRaw     = "!!}"
)

// Part is one piece of a binding template: literal text or one expression.
type Part struct {
	Text string
	Expr *Compiled
	// Raw is set for {!! !!} delimiters.
	Raw bool
	// Start and End locate the part in the template source, delimiters included.
	Start int
	End   int
}

// IsRaw reports whether the part's output must not be escaped.
func (p Part) IsRaw() bool {
	return p.Raw || (p.Expr != nil && p.Expr.Raw())
}

// Template is a bound property value: text interleaved with expressions.
type Template struct {
	source string
	parts  []Part
}

// ContainsBinding reports whether an attribute value is a binding.
func ContainsBinding(s string) bool {
	return strings.ContainsAny(s, "{}")
}

// BindingEnd scans src from offset from and reports where the binding
// enclosing offset at ends. It returns -1 when at lies outside every
// binding or the enclosing binding is never closed.
func BindingEnd(src string, from, at int) int {
	i := from
	for i < at {
		switch {
		case src[i] == '\\' && i+1 < len(src) && (src[i+1] == '{' || src[i+1] == '}'):
			i += 2
		case strings.HasPrefix(src[i:], openRaw):
			end := closingOffset(src, i, openRaw, closeRaw)
			if end < 0 || end > at {
				return end
			}
			i = end
		case strings.HasPrefix(src[i:], openEscaped):
			end := closingOffset(src, i, openEscaped, closeEscaped)
			if end < 0 || end > at {
				return end
			}
			i = end
		default:
			i++
		}
	}

	return -1
}

func closingOffset(src string, start int, open, close string) int {
	bodyStart := start + len(open)
	end := strings.Index(src[bodyStart:], close)
	if end < 0 {
		return -1
	}

	return bodyStart + end + len(close)
}

// ParseTemplate parses an attribute value such as "card-{{ @kind }}".
// Braces outside {{ }} and {!! !!} must be escaped with a backslash.
func ParseTemplate(cache *Cache, src string) (*Template, error) {
	parts, err := scanParts(cache, src, true)
	if err != nil {
		return nil, err
	}

	return &Template{source: src, parts: parts}, nil
}

// NewTemplate assembles a template from parts, regenerating its source.
// Expression sources are written verbatim so reparsing hits the same cache
// entries.
func NewTemplate(parts []Part) *Template {
	var sb strings.Builder
	out := make([]Part, 0, len(parts))
	for _, p := range parts {
		start := sb.Len()
		switch {
		case p.Expr == nil:
			if p.Text == "" {
				continue
			}
			// merge adjacent text
			if n := len(out); n > 0 && out[n-1].Expr == nil {
				out[n-1].Text += p.Text
				sb.WriteString(escapeText(p.Text))
				out[n-1].End = sb.Len()

				continue
			}
			sb.WriteString(escapeText(p.Text))
		case p.Raw:
			sb.WriteString(openRaw + p.Expr.Source() + closeRaw)
		default:
			sb.WriteString(openEscaped + p.Expr.Source() + closeEscaped)
		}
		p.Start, p.End = start, sb.Len()
		out = append(out, p)
	}

	return &Template{source: sb.String(), parts: out}
}

// Source returns the template text.
func (t *Template) Source() string { return t.source }

// Parts returns a copy of the template parts.
func (t *Template) Parts() []Part {
	out := make([]Part, len(t.parts))
	copy(out, t.parts)

	return out
}

// Simple reports whether the template is exactly one expression.
func (t *Template) Simple() bool {
	return len(t.parts) == 1 && t.parts[0].Expr != nil
}

// Expr returns the single expression of a simple template.
func (t *Template) Expr() *Compiled {
	if !t.Simple() {
		return nil
	}

	return t.parts[0].Expr
}

// Raw reports whether a simple template's output must not be escaped.
func (t *Template) Raw() bool {
	return t.Simple() && t.parts[0].IsRaw()
}

// References returns every '@name' referenced by the template.
func (t *Template) References() []string {
	var refs []string
	for _, p := range t.parts {
		if p.Expr != nil {
			refs = append(refs, p.Expr.References()...)
		}
	}

	return refs
}

// Eval evaluates the template. A simple template yields the expression's
// value unchanged, anything else yields the concatenated text.
func (t *Template) Eval(s Scope) (any, error) {
	if t.Simple() {
		return t.parts[0].Expr.Eval(s)
	}

	var sb strings.Builder
	for _, p := range t.parts {
		if p.Expr == nil {
			sb.WriteString(p.Text)

			continue
		}
		v, err := p.Expr.Eval(s)
		if err != nil {
			return nil, err
		}
		sb.WriteString(ToString(v))
	}

	return sb.String(), nil
}

// Piece is a run of literal text split on expression boundaries.
type Piece struct {
	Text string
	// Binding is set for an expression piece and holds exactly one expression.
	Binding *Template
	Start   int
	End     int
}

// SplitText splits literal template text into plain and expression pieces.
// Unlike attribute values, lone braces in text are kept as they are.
func SplitText(cache *Cache, src string) ([]Piece, error) {
	parts, err := scanParts(cache, src, false)
	if err != nil {
		return nil, err
	}

	pieces := make([]Piece, 0, len(parts))
	for _, p := range parts {
		piece := Piece{Text: p.Text, Start: p.Start, End: p.End}
		if p.Expr != nil {
			single := p
			single.Start, single.End = 0, p.End-p.Start
			piece.Text = ""
			piece.Binding = &Template{source: src[p.Start:p.End], parts: []Part{single}}
		}
		pieces = append(pieces, piece)
	}

	return pieces, nil
}

func scanParts(cache *Cache, src string, strict bool) ([]Part, error) {
	var parts []Part
	var text strings.Builder
	textStart := 0

	flush := func(end int) {
		if text.Len() > 0 {
			parts = append(parts, Part{Text: text.String(), Start: textStart, End: end})
			text.Reset()
		}
	}

	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src) && (src[i+1] == '{' || src[i+1] == '}'):
			if text.Len() == 0 {
				textStart = i
			}
			text.WriteByte(src[i+1])
			i += 2
		case strings.HasPrefix(src[i:], openRaw):
			p, err := scanExpression(cache, src, i, openRaw, closeRaw)
			if err != nil {
				return nil, err
			}
			flush(i)
			p.Raw = true
			parts = append(parts, p)
			i = p.End
		case strings.HasPrefix(src[i:], openEscaped):
			p, err := scanExpression(cache, src, i, openEscaped, closeEscaped)
			if err != nil {
				return nil, err
			}
			flush(i)
			parts = append(parts, p)
			i = p.End
		case strict && (c == '{' || c == '}'):
			return nil, delimiterError(src, i, fmt.Sprintf("unescaped %q in binding", c))
		case !strict && c == '}' && strings.HasPrefix(src[i:], closeEscaped):
			return nil, delimiterError(src, i, "closing \"}}\" without opening \"{{\"")
		default:
			if text.Len() == 0 {
				textStart = i
			}
			text.WriteByte(c)
			i++
		}
	}
	flush(len(src))

	return parts, nil
}

func scanExpression(cache *Cache, src string, start int, open, close string) (Part, error) {
	bodyStart := start + len(open)
	end := strings.Index(src[bodyStart:], close)
	if end < 0 {
		return Part{}, delimiterError(src, start, fmt.Sprintf("%q is never closed with %q", open, close))
	}
	body := src[bodyStart : bodyStart+end]
	if i := strings.IndexAny(body, "{}"); i >= 0 {
		return Part{}, delimiterError(src, bodyStart+i, fmt.Sprintf("unescaped %q inside expression", body[i]))
	}

	compiled, err := cache.Compile(body)
	if err != nil {
		offset := ErrorOffset(err)
		// the compiler trims the body, so re-base on the first non-space byte
		offset += len(body) - len(strings.TrimLeft(body, " \t\r\n"))

		return Part{}, errors.Wrap(err, errors.ErrorTypeBinding, errors.ErrCodeSyntax,
			fmt.Sprintf("in binding %q", src)).WithContext("offset", bodyStart+offset)
	}

	return Part{Expr: compiled, Start: start, End: bodyStart + end + len(close)}, nil
}

func delimiterError(src string, offset int, msg string) error {
	return errors.NewBindingError(errors.ErrCodeUnbalancedDelimiter,
		fmt.Sprintf("invalid binding %q: %s", src, msg)).WithContext("offset", offset)
}

// ErrorOffset returns the byte offset recorded on a binding error, or 0.
func ErrorOffset(err error) int {
	var we *errors.WeftError
	if stderrors.As(err, &we) {
		if v, ok := we.Context["offset"].(int); ok {
			return v
		}
	}

	return 0
}

func escapeText(s string) string {
	return strings.NewReplacer("{", `\{`, "}", `\}`).Replace(s)
}
