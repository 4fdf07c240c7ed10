package macro

import (
	"fmt"

	"github.com/conneroisu/weft/internal/component"
	"github.com/conneroisu/weft/internal/errors"
)

// CallKind is the node kind of a macro call site. The call is expanded and
// replaced by the macro body when its closing tag is parsed.
type CallKind struct {
	macro *Macro
}

// NewCallKind returns the call kind for m.
func NewCallKind(m *Macro) *CallKind {
	return &CallKind{macro: m}
}

func (k *CallKind) Name() string              { return k.macro.Name }
func (k *CallKind) Schema() *component.Schema { return k.macro.schema }
func (k *CallKind) AllowsChildren() bool      { return true }

// Macro returns the called macro.
func (k *CallKind) Macro() *Macro { return k.macro }

func (k *CallKind) EndParse(n *component.Node) error {
	return Expand(k.macro, n)
}

// Expand moves the default content of call into the default parameter,
// applies m and splices the result in place of call.
func Expand(m *Macro, call *component.Node) error {
	if err := transferContent(m, call); err != nil {
		return err
	}

	out, err := Apply(m, call)
	if err != nil {
		return err
	}
	nodes := out.Children()

	// a hidden call hides everything it expands to
	if t, ok := call.Binding(component.PropHidden); ok {
		for _, n := range nodes {
			if !n.HasProp(component.PropHidden) {
				n.SetBinding(component.PropHidden, t)
			}
		}
	} else if v, ok := call.Prop(component.PropHidden); ok {
		for _, n := range nodes {
			if n.HasProp(component.PropHidden) {
				continue
			}
			if err := n.SetProp(component.PropHidden, v); err != nil {
				return err
			}
		}
	}

	return call.ReplaceWith(nodes...)
}

// transferContent hands the children of a call to the macro's default
// parameter. Whitespace-only content is dropped.
func transferContent(m *Macro, call *component.Node) error {
	children := call.Children()
	if len(children) == 0 {
		return nil
	}
	if whitespaceOnly(children) {
		for _, c := range children {
			c.Detach()
		}

		return nil
	}

	if m.DefaultParam == "" {
		err := errors.NewMacroError(errors.ErrCodeNoDefaultParameter,
			fmt.Sprintf("macro %s has no default parameter to receive content; declared: %s",
				m.Name, m.Signature())).
			WithContext("macro", m.Name).
			WithContext("expected", m.ParamNames()).
			WithComponent(call.Tag())
		err.Span = call.Span()

		return err
	}
	if call.HasProp(m.DefaultParam) {
		err := errors.NewParseError(errors.ErrCodeDuplicateProperty,
			fmt.Sprintf("%s of <%s> is set twice: by a parameter tag and by content",
				m.DefaultParam, call.Tag())).
			WithContext("property", m.DefaultParam).
			WithComponent(call.Tag())
		err.Span = call.Span()

		return err
	}

	holder := component.NewHolder(m.DefaultParam)
	if err := holder.InsertChildren(0, children...); err != nil {
		return err
	}

	return call.SetProp(m.DefaultParam, holder)
}

// DefinitionKind is the node kind of <Macro>. Closing a definition builds
// the macro, hands it to define and removes the node from the document.
type DefinitionKind struct {
	schema *component.Schema
	opts   Options
	define func(*Macro) error
}

// NewDefinitionKind returns the <Macro> kind.
func NewDefinitionKind(define func(*Macro) error, opts Options) *DefinitionKind {
	return &DefinitionKind{
		schema: DefinitionSchema(),
		opts:   opts.withDefaults(),
		define: define,
	}
}

func (k *DefinitionKind) Name() string              { return DefinitionTag }
func (k *DefinitionKind) Schema() *component.Schema { return k.schema }
func (k *DefinitionKind) AllowsChildren() bool      { return true }

func (k *DefinitionKind) EndParse(n *component.Node) error {
	m, err := FromNode(n, k.opts)
	if err != nil {
		return err
	}
	if err := k.define(m); err != nil {
		if we, ok := err.(*errors.WeftError); ok && we.Span.IsZero() {
			we.Span = n.Span()
		}

		return err
	}
	n.Detach()

	return nil
}
