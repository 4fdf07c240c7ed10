// Package parser turns template markup into a component tree.
//
// The scanner is a single pass over the source: a regular expression finds
// the next tag outside any binding, the text before it becomes Text and
// Literal nodes, and the tag either opens a node, closes the current one or
// sets a property of the current node (a parameter tag). Every error carries the byte range of
// the offending markup and the chain of enclosing tags.
package parser

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/conneroisu/weft/internal/component"
	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/expr"
)

var (
	// tagPattern matches comments and tags. Groups: 1 closing slash, 2 name,
	// 3 attribute text, 4 self-closing slash.
	tagPattern = regexp.MustCompile(`(?s)<!--.*?-->|<(/?)([A-Za-z][\w:.-]*)((?:\s+[^\s=/>"']+(?:\s*=\s*(?:"[^"]*"|'[^']*'|[^\s"'>]+))?)*)\s*(/?)>`)

	// attrPattern matches one attribute. Groups: 1 name, 2 double quoted,
	// 3 single quoted, 4 unquoted value.
	attrPattern = regexp.MustCompile(`([^\s=/>"']+)(?:\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'>]+)))?`)
)

// Options configures a parse.
type Options struct {
	// Factory creates nodes for tag names.
	Factory *component.Factory
	// Cache compiles binding expressions. A private cache is used when nil.
	Cache *expr.Cache
	// FilePath is recorded on errors.
	FilePath string
	// Lenient accepts attributes a strict schema does not declare.
	Lenient bool
}

// Parser parses templates with fixed options. It holds no per-parse state
// and may be shared.
type Parser struct {
	opts Options
}

// New creates a parser.
func New(opts Options) *Parser {
	if opts.Cache == nil {
		opts.Cache = expr.NewCache()
	}
	if opts.Factory == nil {
		opts.Factory = component.NewFactory(component.DefaultRegistry(), nil)
	}

	return &Parser{opts: opts}
}

// Parse parses src and appends the resulting nodes to root.
func Parse(src []byte, root *component.Node, opts Options) error {
	return New(opts).Parse(src, root)
}

// Parse parses src and appends the resulting nodes to root. On error the
// contents of root are unspecified and must not be rendered.
func (p *Parser) Parse(src []byte, root *component.Node) error {
	s := &state{
		opts:    p.opts,
		src:     src,
		root:    root,
		current: root,
	}

	return s.run()
}

// attribute is one parsed attribute with the byte offset of its value.
type attribute struct {
	name   string
	value  string
	bare   bool
	start  int
	end    int
	offset int
}

// scalarParam is a scalar parameter tag whose raw text is being collected.
type scalarParam struct {
	owner     *component.Node
	prop      string
	tag       string
	start     int
	end       int
	textStart int
}

type state struct {
	opts    Options
	src     []byte
	root    *component.Node
	current *component.Node
	scalar  *scalarParam
}

func (s *state) run() error {
	text := string(s.src)
	pos, from := 0, 0

	for from <= len(text) {
		m := tagPattern.FindStringSubmatchIndex(text[from:])
		if m == nil {
			break
		}
		for i := range m {
			if m[i] >= 0 {
				m[i] += from
			}
		}
		start, end := m[0], m[1]
		// markup inside {{ }} and {!! !!} belongs to the expression
		if skip := expr.BindingEnd(text, from, start); skip > start {
			from = skip

			continue
		}
		if err := s.text(pos, start); err != nil {
			return err
		}
		pos, from = end, end

		if m[4] < 0 {
			// comment
			continue
		}

		closing := m[3] > m[2]
		name := text[m[4]:m[5]]
		selfClosing := m[9] > m[8]
		var attrText string
		attrStart := m[6]
		if m[6] >= 0 {
			attrText = text[m[6]:m[7]]
		}

		var err error
		if closing {
			err = s.closeTag(name, start, end)
		} else {
			err = s.openTag(name, attrText, attrStart, start, end, selfClosing)
		}
		if err != nil {
			return err
		}
	}

	if err := s.text(pos, len(text)); err != nil {
		return err
	}

	if s.scalar != nil {
		return s.fail(errors.NewParseError(errors.ErrCodeUnclosedTag,
			fmt.Sprintf("<%s> is never closed", s.scalar.tag)).WithComponent(s.scalar.tag),
			s.scalar.start, s.scalar.end, s.scalar.owner)
	}
	if s.current != s.root {
		span := s.current.Span()

		return s.fail(errors.NewParseError(errors.ErrCodeUnclosedTag,
			fmt.Sprintf("<%s> is never closed", s.current.Tag())).WithComponent(s.current.Tag()),
			span.Start, span.End, s.current.Parent())
	}
	s.root.MergeText()

	return nil
}

// text handles the source between two tags.
func (s *state) text(start, end int) error {
	if start >= end || s.scalar != nil {
		return nil
	}
	raw := string(s.src[start:end])

	if !s.current.AllowsChildren() {
		if strings.TrimSpace(raw) == "" {
			return nil
		}

		return s.fail(errors.NewParseError(errors.ErrCodeChildrenNotAllowed,
			fmt.Sprintf("<%s> does not accept text", s.current.Tag())).WithComponent(s.current.Tag()),
			start, end, s.current)
	}

	pieces, err := expr.SplitText(s.opts.Cache, raw)
	if err != nil {
		offset := start + expr.ErrorOffset(err)

		return s.fail(err, offset, offset+1, s.current)
	}
	for _, piece := range pieces {
		var n *component.Node
		if piece.Binding != nil {
			n = component.NewLiteral(piece.Binding)
		} else {
			n = component.NewText(piece.Text)
		}
		n.SetSpan(errors.Span{Start: start + piece.Start, End: start + piece.End})
		if err := s.current.AppendChild(n); err != nil {
			return s.fail(err, start+piece.Start, start+piece.End, s.current)
		}
	}

	return nil
}

func (s *state) openTag(name, attrText string, attrStart, start, end int, selfClosing bool) error {
	if s.scalar != nil {
		return s.fail(errors.NewParseError(errors.ErrCodeScalarMode,
			fmt.Sprintf("<%s> cannot contain <%s>: %s takes plain text",
				s.scalar.tag, name, s.scalar.prop)).
			WithContext("property", s.scalar.prop).WithComponent(s.scalar.tag),
			start, end, s.scalar.owner)
	}

	attrs := parseAttributes(attrText, attrStart)

	if def, ok := s.current.Schema().Lookup(name); ok {
		return s.parameterTag(def, name, attrs, start, end, selfClosing)
	}

	if !s.current.AllowsChildren() {
		return s.fail(errors.NewParseError(errors.ErrCodeChildrenNotAllowed,
			fmt.Sprintf("<%s> is not allowed inside <%s>", name, s.current.Tag())).
			WithContext("child", name).WithComponent(s.current.Tag()),
			start, end, s.current)
	}

	n, err := s.opts.Factory.Create(name, s.current)
	if err != nil {
		return s.fail(err, start, end, s.current)
	}
	n.SetSpan(errors.Span{Start: start, End: end})
	if err := s.current.AppendChild(n); err != nil {
		return s.fail(err, start, end, s.current)
	}
	s.current = n
	if err := s.applyAttributes(n, attrs); err != nil {
		return err
	}
	if selfClosing {
		return s.exit(n)
	}

	return nil
}

// parameterTag handles a tag that names a declared property of the current
// node, like <Title> inside <Card>.
func (s *state) parameterTag(def component.PropDef, name string, attrs []attribute, start, end int, selfClosing bool) error {
	owner := s.current
	if duplicateParameter(owner, def) {
		return s.fail(errors.NewParseError(errors.ErrCodeDuplicateProperty,
			fmt.Sprintf("%s of <%s> is set twice", def.Name, owner.Tag())).
			WithContext("property", def.Name).WithComponent(owner.Tag()),
			start, end, owner)
	}

	if !def.Kind.HoldsNodes() {
		if len(attrs) > 0 {
			a := attrs[0]

			return s.fail(errors.NewParseError(errors.ErrCodeUnknownAttribute,
				fmt.Sprintf("<%s> sets the %s property and takes no attributes, found %q",
					name, def.Name, a.name)).WithComponent(name),
				a.start, a.end, owner)
		}
		if selfClosing {
			return s.setProperty(owner, def.Name, "", start, start, end)
		}
		s.scalar = &scalarParam{owner: owner, prop: def.Name, tag: name, start: start, end: end, textStart: end}

		return nil
	}

	holder := component.NewHolder(name)
	holder.SetSpan(errors.Span{Start: start, End: end})
	var err error
	if def.Kind == component.KindCollection {
		err = owner.AppendToCollection(def.Name, holder)
	} else {
		err = owner.SetProp(def.Name, holder)
	}
	if err != nil {
		return s.fail(err, start, end, owner)
	}
	s.current = holder
	if err := s.applyAttributes(holder, attrs); err != nil {
		return err
	}
	if selfClosing {
		return s.exit(holder)
	}

	return nil
}

func duplicateParameter(owner *component.Node, def component.PropDef) bool {
	if _, bound := owner.Binding(def.Name); bound {
		return true
	}
	v, ok := owner.Prop(def.Name)
	if !ok {
		return false
	}
	_, list := v.([]*component.Node)

	return def.Kind != component.KindCollection || !list
}

func (s *state) closeTag(name string, start, end int) error {
	if sp := s.scalar; sp != nil {
		if name != sp.tag {
			return s.mismatch(name, start, end, append([]string{sp.tag}, sp.owner.Path()...))
		}
		s.scalar = nil
		body := string(s.src[sp.textStart:start])
		lead := len(body) - len(strings.TrimLeft(body, " \t\r\n"))

		return s.setProperty(sp.owner, sp.prop, strings.TrimSpace(body), sp.textStart+lead, sp.start, end)
	}

	if s.current == s.root {
		return s.fail(errors.NewParseError(errors.ErrCodeTagMismatch,
			fmt.Sprintf("closing tag </%s> has no matching open tag", name)).
			WithContext("found", name),
			start, end, s.root)
	}
	if name != s.current.Tag() {
		return s.mismatch(name, start, end, s.current.Path())
	}

	return s.exit(s.current)
}

// mismatch reports a closing tag that does not close the innermost open
// tag. tags is the enclosing chain, innermost first.
func (s *state) mismatch(found string, start, end int, tags []string) error {
	open := tags[0]
	msg := fmt.Sprintf("closing tag </%s> does not match <%s>", found, open)
	err := errors.NewParseError(errors.ErrCodeTagMismatch, msg).
		WithContext("found", found).
		WithContext("expected", open).
		WithComponent(open)
	if len(tags) > 1 {
		err.Message += fmt.Sprintf(" inside <%s>", tags[1])
		err = err.WithContext("parent", tags[1])
	}

	return s.fail(err.WithTags(tags...), start, end, nil)
}

// exit finishes n and continues parsing in its parent. Text children are
// merged before the EndParse hook runs, so hooks see one Text node per run
// of adjacent text.
func (s *state) exit(n *component.Node) error {
	parent := n.Parent()
	n.MergeText()

	if ep, ok := n.Kind().(component.EndParser); ok {
		if err := ep.EndParse(n); err != nil {
			span := n.Span()

			return s.fail(err, span.Start, span.End, parent)
		}
	}
	if parent == nil {
		parent = s.root
	}
	s.current = parent

	return nil
}

func (s *state) applyAttributes(n *component.Node, attrs []attribute) error {
	schema := n.Schema()
	seen := make(map[string]bool, len(attrs))

	for _, a := range attrs {
		def, declared := schema.Lookup(a.name)
		if !declared && schema.Strict() && !s.opts.Lenient {
			return s.fail(errors.NewParseError(errors.ErrCodeUnknownAttribute,
				fmt.Sprintf("<%s> has no property %q (declared: %s)",
					n.Tag(), a.name, strings.Join(schema.Names(), ", "))).
				WithContext("attribute", a.name).
				WithContext("declared", schema.Names()).
				WithComponent(n.Tag()),
				a.start, a.end, n)
		}
		key := component.FoldName(a.name)
		if declared {
			key = component.FoldName(def.Name)
		}
		if seen[key] {
			return s.fail(errors.NewParseError(errors.ErrCodeDuplicateProperty,
				fmt.Sprintf("attribute %q of <%s> is set twice", a.name, n.Tag())).
				WithContext("property", a.name).WithComponent(n.Tag()),
				a.start, a.end, n)
		}
		seen[key] = true

		if a.bare {
			if err := n.SetProp(a.name, true); err != nil {
				return s.fail(err, a.start, a.end, n)
			}

			continue
		}
		if err := s.setProperty(n, a.name, a.value, a.offset, a.start, a.end); err != nil {
			return err
		}
	}

	return nil
}

// setProperty stores text as a property: a binding when it contains braces,
// a holder with one text child for node-valued properties, a string
// otherwise. offset is where value starts in the source.
func (s *state) setProperty(n *component.Node, name, value string, offset, start, end int) error {
	if expr.ContainsBinding(value) {
		t, err := expr.ParseTemplate(s.opts.Cache, value)
		if err != nil {
			at := offset + expr.ErrorOffset(err)

			return s.fail(err, at, at+1, n)
		}
		n.SetBinding(name, t)

		return nil
	}

	var v any = value
	if def, ok := n.Schema().Lookup(name); ok && (def.Kind == component.KindContent || def.Kind == component.KindMetadata) {
		holder := component.NewHolder(def.Name)
		if value != "" {
			if err := holder.AppendChild(component.NewText(value)); err != nil {
				return s.fail(err, start, end, n)
			}
		}
		v = holder
	}
	if err := n.SetProp(name, v); err != nil {
		return s.fail(err, start, end, n)
	}

	return nil
}

// fail attaches the source range, file and enclosing tags to err unless
// they are already known. A span recorded without source, as macro errors
// do, takes precedence over the given range.
func (s *state) fail(err error, start, end int, enclosing *component.Node) error {
	var we *errors.WeftError
	if !stderrors.As(err, &we) {
		we = errors.Wrap(err, errors.ErrorTypeParse, errors.ErrCodeInternalError, err.Error())
	}
	if we.Line == 0 {
		if !we.Span.IsZero() {
			start, end = we.Span.Start, we.Span.End
		}
		we.WithSpan(s.src, start, end)
	}
	if len(we.Tags) == 0 && enclosing != nil {
		we.WithTags(enclosing.Path()...)
	}
	if s.opts.FilePath != "" && we.FilePath == "" {
		we.FilePath = s.opts.FilePath
	}

	return we
}

func parseAttributes(text string, base int) []attribute {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	matches := attrPattern.FindAllStringSubmatchIndex(text, -1)
	attrs := make([]attribute, 0, len(matches))
	for _, m := range matches {
		a := attribute{
			name:  text[m[2]:m[3]],
			start: base + m[0],
			end:   base + m[1],
			bare:  true,
		}
		for g := 2; g <= 4; g++ {
			if m[2*g] >= 0 {
				a.value = text[m[2*g]:m[2*g+1]]
				a.offset = base + m[2*g]
				a.bare = false

				break
			}
		}
		attrs = append(attrs, a)
	}

	return attrs
}
