package macro

import (
	"fmt"
	"strings"

	"github.com/conneroisu/weft/internal/component"
	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/expr"
)

// Apply clones the body of m and rewrites every '@name' reference in the
// clone against the arguments of call. Neither m nor call is modified.
// The children of the returned holder are the expansion.
//
// A reference to an argument the caller bound to a template is replaced by
// that template, so the value is still computed at render time against the
// caller's data. Constant arguments are substituted and folded into
// concrete values where nothing else in the expression needs render-time
// data.
func Apply(m *Macro, call *component.Node) (*component.Node, error) {
	out := m.body.Clone()
	r := &rewriter{m: m, call: call}
	if err := r.rewrite(out); err != nil {
		return nil, err
	}

	return out, nil
}

type rewriter struct {
	m    *Macro
	call *component.Node
}

// argument is what a call supplies for one parameter: a live binding or a
// constant.
type argument struct {
	value   any
	binding *expr.Template
}

type partResult struct {
	constant bool
	value    any
	parts    []expr.Part
	// verbatim is set when a caller template can be reused as is
	verbatim *expr.Template
}

type rewritten struct {
	value   any
	binding *expr.Template
}

func (r *rewriter) rewrite(n *component.Node) error {
	holders := n.NodeProps()
	children := n.Children()

	replaced, err := r.rewriteBindings(n)
	if err != nil || replaced {
		return err
	}
	for _, h := range holders {
		if h.Parent() != n {
			continue
		}
		if err := r.rewrite(h); err != nil {
			return err
		}
	}
	for _, c := range children {
		if err := r.rewrite(c); err != nil {
			return err
		}
	}

	return nil
}

// rewriteBindings reports true when n was replaced in its parent.
func (r *rewriter) rewriteBindings(n *component.Node) (bool, error) {
	for _, name := range n.PropNames() {
		t, ok := n.Binding(name)
		if !ok || len(t.References()) == 0 {
			continue
		}
		res, err := r.template(t)
		if err != nil {
			return false, r.locate(err, n, name)
		}
		if res.binding != nil {
			n.SetBinding(name, res.binding)

			continue
		}
		replaced, err := r.assign(n, name, res.value, t.Raw())
		if err != nil {
			return false, r.locate(err, n, name)
		}
		if replaced {
			return true, nil
		}
	}

	return false, nil
}

// assign stores a constant produced by a rewrite. In text position node
// values are spliced in place of the literal.
func (r *rewriter) assign(n *component.Node, name string, v any, raw bool) (bool, error) {
	literal := n.Kind() == component.Literal && component.FoldName(name) == component.PropValue

	if isNodeValue(v) {
		v = cloneValue(v)
		if literal {
			return true, n.ReplaceWith(contentOf(v)...)
		}
		def, ok := n.Schema().Lookup(name)
		if ok && def.Kind == component.KindCollection {
			if node, single := v.(*component.Node); single {
				v = []*component.Node{node}
			}
		}
		if ok && def.Kind != component.KindCollection {
			if _, list := v.([]*component.Node); list {
				return false, errors.NewMacroError(errors.ErrCodeInvalidParameterType,
					fmt.Sprintf("%s of <%s> takes one holder, got a collection", name, n.Tag()))
			}
		}

		return false, n.SetProp(name, v)
	}

	if literal && raw {
		return true, n.ReplaceWith(component.NewText(expr.ToString(v)))
	}

	return false, n.SetProp(name, v)
}

func (r *rewriter) template(t *expr.Template) (rewritten, error) {
	parts := t.Parts()
	if t.Simple() {
		res, err := r.part(parts[0])
		switch {
		case err != nil:
			return rewritten{}, err
		case res.constant:
			return rewritten{value: res.value}, nil
		case res.verbatim != nil:
			return rewritten{binding: res.verbatim}, nil
		default:
			return rewritten{binding: expr.NewTemplate(res.parts)}, nil
		}
	}

	out := make([]expr.Part, 0, len(parts))
	for _, p := range parts {
		if p.Expr == nil || len(p.Expr.References()) == 0 {
			out = append(out, p)

			continue
		}
		res, err := r.part(p)
		if err != nil {
			return rewritten{}, err
		}
		if !res.constant {
			out = append(out, res.parts...)

			continue
		}
		if isNodeValue(res.value) {
			return rewritten{}, errors.NewMacroError(errors.ErrCodeInvalidParameterType,
				fmt.Sprintf("%s inserts content into text; use it on its own", p.Expr.Main()))
		}
		out = append(out, expr.Part{Text: expr.ToString(res.value)})
	}

	var sb strings.Builder
	for _, p := range out {
		if p.Expr != nil {
			return rewritten{binding: expr.NewTemplate(out)}, nil
		}
		sb.WriteString(p.Text)
	}

	return rewritten{value: sb.String()}, nil
}

func (r *rewriter) part(p expr.Part) (partResult, error) {
	c := p.Expr

	if name, ok := c.Parameter(); ok {
		a, err := r.arg(name)
		if err != nil {
			return partResult{}, err
		}
		if a.binding != nil {
			if c.Pipe() != "" {
				parts, err := r.pipeInto(a.binding, c.Pipe(), p.Raw)

				return partResult{parts: parts}, err
			}
			if !p.Raw {
				return partResult{verbatim: a.binding, parts: a.binding.Parts()}, nil
			}

			return partResult{parts: markRaw(a.binding.Parts())}, nil
		}
		if c.Pipe() == "" {
			return partResult{constant: true, value: a.value}, nil
		}
		v, err := c.Eval(r.constants(map[string]any{name: a.value}))

		return partResult{constant: true, value: v}, err
	}

	args := make(map[string]argument)
	bound := false
	for _, ref := range c.References() {
		a, err := r.arg(ref)
		if err != nil {
			return partResult{}, err
		}
		args[ref] = a
		bound = bound || a.binding != nil
	}

	if !c.Dynamic() && !bound {
		values := make(map[string]any, len(args))
		for name, a := range args {
			values[name] = a.value
		}
		v, err := c.Eval(r.constants(values))

		return partResult{constant: true, value: v}, err
	}

	src, err := expr.RewriteReferences(c.Source(), func(name string) (string, error) {
		a := args[name]
		if a.binding != nil {
			inner := a.binding.Expr()
			if inner == nil || !inner.Chain() {
				return "", errors.NewMacroError(errors.ErrCodeInvalidParameterType,
					fmt.Sprintf("binding %q passed for @%s cannot be inlined into %q",
						a.binding.Source(), name, strings.TrimSpace(c.Source()))).
					WithContext("param", name)
			}

			return inner.Main(), nil
		}
		lit, ok := expr.Literal(a.value)
		if !ok {
			return "", errors.NewMacroError(errors.ErrCodeInvalidParameterType,
				fmt.Sprintf("value of @%s (%T) cannot be inlined into %q",
					name, a.value, strings.TrimSpace(c.Source()))).
				WithContext("param", name)
		}

		return lit, nil
	})
	if err != nil {
		return partResult{}, err
	}
	compiled, err := r.m.cache.Compile(src)
	if err != nil {
		return partResult{}, err
	}

	return partResult{parts: []expr.Part{{Expr: compiled, Raw: p.Raw}}}, nil
}

// pipeInto applies the macro's pipeline to a caller template. A composite
// template is first joined into one '+' expression so the pipeline sees
// the whole text.
func (r *rewriter) pipeInto(t *expr.Template, pipe string, raw bool) ([]expr.Part, error) {
	var main string
	if t.Simple() {
		main = strings.TrimSpace(t.Expr().Source())
		raw = raw || t.Parts()[0].Raw
	} else {
		var pieces []string
		for _, p := range t.Parts() {
			if p.Expr == nil {
				lit, _ := expr.Literal(p.Text)
				pieces = append(pieces, lit)

				continue
			}
			if !p.Expr.Concatenable() {
				return nil, errors.NewMacroError(errors.ErrCodeInvalidParameterType,
					fmt.Sprintf("cannot apply %q to %q: the expression %q has its own pipeline",
						pipe, t.Source(), strings.TrimSpace(p.Expr.Source())))
			}
			pieces = append(pieces, p.Expr.Main())
		}
		main = strings.Join(pieces, " + ")
	}

	compiled, err := r.m.cache.Compile(main + " | " + pipe)
	if err != nil {
		return nil, err
	}

	return []expr.Part{{Expr: compiled, Raw: raw}}, nil
}

func (r *rewriter) arg(name string) (argument, error) {
	p, declared := r.m.Param(name)
	if !declared {
		p = Param{Name: name, Type: TypeAny}
	}

	if t, ok := r.call.Binding(p.Name); ok {
		return argument{binding: t}, nil
	}
	if v, ok := r.call.Prop(p.Name); ok {
		v, err := coerce(p, v)
		if err != nil {
			return argument{}, err
		}

		return argument{value: v}, nil
	}
	if p.HasDefault {
		if t, ok := p.Default.(*expr.Template); ok {
			return argument{binding: t}, nil
		}

		return argument{value: p.Default}, nil
	}

	return argument{}, nil
}

func (r *rewriter) constants(values map[string]any) expr.Scope {
	return &constantScope{values: values, filters: r.m.filters}
}

func (r *rewriter) locate(err error, n *component.Node, prop string) error {
	we := errors.Wrap(err, errors.ErrorTypeMacro, errors.CodeOf(err, errors.ErrCodeInvalidParameterType),
		fmt.Sprintf("expanding macro %s", r.m.Name))
	we = we.WithContext("macro", r.m.Name).WithContext("property", prop).WithComponent(n.Tag())
	if we.Span.IsZero() {
		we.Span = r.call.Span()
	}

	return we
}

func markRaw(parts []expr.Part) []expr.Part {
	for i := range parts {
		if parts[i].Expr != nil {
			parts[i].Raw = true
		}
	}

	return parts
}

// constantScope resolves '@name' from fixed values at expansion time.
type constantScope struct {
	values  map[string]any
	filters expr.FilterHandler
}

func (s *constantScope) Lookup(string) (any, bool) { return nil, false }

func (s *constantScope) Container(name string) (any, bool) {
	v, ok := s.values[name]

	return v, ok
}

func (s *constantScope) Block(string) (any, bool) { return nil, false }

func (s *constantScope) Filters() expr.FilterHandler { return s.filters }
