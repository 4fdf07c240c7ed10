package component

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/weft/internal/expr"
)

// Property names used by the built-in kinds.
const (
	PropValue = "value"
	PropName  = "name"
	PropTest  = "test"
	PropItems = "items"
	PropAs    = "as"
	PropIndex = "index"
)

// Tags given to nodes that do not come from a tag in the source.
const (
	TextTag    = "#text"
	LiteralTag = "#literal"
	RootTag    = "#root"
)

type textKind struct{ kindBase }

func (k *textKind) RenderContent(rc *RenderContext, n *Node) error {
	v, _ := n.Prop(PropValue)
	rc.WriteString(expr.ToString(v))

	return nil
}

type literalKind struct{ kindBase }

func (k *literalKind) RenderContent(rc *RenderContext, n *Node) error {
	v, err := rc.Value(n, PropValue)
	if err != nil {
		return err
	}

	return rc.WriteValue(v, rc.Raw(n, PropValue))
}

type fragmentKind struct{ kindBase }

type holderKind struct{ kindBase }

type blockKind struct{ kindBase }

// RenderContent renders nothing: blocks show up where '#name' references them.
func (k *blockKind) RenderContent(*RenderContext, *Node) error { return nil }

type ifKind struct{ kindBase }

func (k *ifKind) RenderContent(rc *RenderContext, n *Node) error {
	v, err := rc.Value(n, PropTest)
	if err != nil {
		return err
	}
	if !expr.Truthy(v) {
		return nil
	}

	return rc.RenderChildren(n)
}

type eachKind struct{ kindBase }

func (k *eachKind) RenderContent(rc *RenderContext, n *Node) error {
	items, err := rc.Value(n, PropItems)
	if err != nil {
		return err
	}
	as, err := rc.Value(n, PropAs)
	if err != nil {
		return err
	}
	index, err := rc.Value(n, PropIndex)
	if err != nil {
		return err
	}

	for i, item := range expr.Items(items) {
		rc.PushLocals(map[string]any{expr.ToString(as): item, expr.ToString(index): i})
		err := rc.RenderChildren(n)
		rc.PopLocals()
		if err != nil {
			return err
		}
	}

	return nil
}

// Built-in kinds.
var (
	Text Kind = &textKind{kindBase{
		name:   "Text",
		schema: NewSchema(PropDef{Name: PropValue, Kind: KindScalar}),
	}}
	Literal Kind = &literalKind{kindBase{
		name:   "Literal",
		schema: NewSchema(PropDef{Name: PropValue, Kind: KindScalar}),
	}}
	Fragment Kind = &fragmentKind{kindBase{name: "Fragment", schema: OpenSchema(), children: true}}
	Holder   Kind = &holderKind{kindBase{name: "Param", schema: OpenSchema(), children: true}}
	Block    Kind = &blockKind{kindBase{
		name:     "Block",
		schema:   NewSchema(PropDef{Name: PropName, Kind: KindScalar}),
		children: true,
	}}
	If Kind = &ifKind{kindBase{
		name:     "If",
		schema:   NewSchema(PropDef{Name: PropTest, Kind: KindScalar}),
		children: true,
	}}
	Each Kind = &eachKind{kindBase{
		name: "Each",
		schema: NewSchema(
			PropDef{Name: PropItems, Kind: KindScalar},
			PropDef{Name: PropAs, Kind: KindScalar, Default: "item", HasDefault: true},
			PropDef{Name: PropIndex, Kind: KindScalar, Default: "index", HasDefault: true},
		),
		children: true,
	}}
)

// NewText creates a plain text node.
func NewText(s string) *Node {
	n := New(TextTag, Text)
	n.props = map[string]any{PropValue: s}
	n.order = []string{PropValue}

	return n
}

// NewLiteral creates a node that renders one binding.
func NewLiteral(t *expr.Template) *Node {
	n := New(LiteralTag, Literal)
	n.SetBinding(PropValue, t)

	return n
}

// NewRoot creates the fragment a document is parsed into.
func NewRoot() *Node {
	return New(RootTag, Fragment)
}

// NewHolder creates a property holder node for a parameter tag.
func NewHolder(tag string) *Node {
	return New(tag, Holder)
}

// IsText reports whether n is a plain text node.
func IsText(n *Node) bool {
	_, ok := n.kind.(*textKind)

	return ok
}

// IsHolder reports whether n is a property holder.
func IsHolder(n *Node) bool {
	_, ok := n.kind.(*holderKind)

	return ok
}

// TextValue returns the text of a text node.
func TextValue(n *Node) (string, bool) {
	if !IsText(n) {
		return "", false
	}
	v, _ := n.Prop(PropValue)

	return expr.ToString(v), true
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

type elementKind struct {
	kindBase
	void bool
}

// NewElementKind returns the kind of a plain lowercase HTML tag.
func NewElementKind(tag string) Kind {
	void := voidElements[tag]

	return &elementKind{
		kindBase: kindBase{name: "Element", schema: OpenSchema(), children: !void},
		void:     void,
	}
}

func (k *elementKind) PreRender(rc *RenderContext, n *Node) error {
	return writeOpenTag(rc, n, n.tag, nil)
}

func (k *elementKind) PostRender(rc *RenderContext, n *Node) error {
	if !k.void {
		rc.WriteString("</" + n.tag + ">")
	}

	return nil
}

// componentKind renders as an HTML element. Its declared properties are data
// for '@name' references and are not written as attributes.
type componentKind struct {
	kindBase
	element  string
	category string
}

// NewComponentKind creates a kind that renders as element. A non-empty
// category turns on automatic ids.
func NewComponentKind(name, element, category string, defs ...PropDef) Kind {
	k := &componentKind{
		kindBase: kindBase{name: name, schema: OpenSchema(defs...), children: !voidElements[element]},
		element:  element,
		category: category,
	}
	if category != "" {
		return &autoComponentKind{componentKind: k}
	}

	return k
}

func (k *componentKind) PreRender(rc *RenderContext, n *Node) error {
	return writeOpenTag(rc, n, k.element, func(name string) bool {
		if name == PropID {
			return false
		}
		_, declared := k.schema.Lookup(name)

		return declared
	})
}

func (k *componentKind) PostRender(rc *RenderContext, _ *Node) error {
	if k.children {
		rc.WriteString("</" + k.element + ">")
	}

	return nil
}

type autoComponentKind struct {
	*componentKind
}

func (k *autoComponentKind) IDCategory() string { return k.category }

func writeOpenTag(rc *RenderContext, n *Node, tag string, skip func(string) bool) error {
	var sb strings.Builder
	sb.WriteString("<" + tag)

	names := n.PropNames()
	if !n.HasProp(PropID) && n.autoID != "" {
		names = append([]string{PropID}, names...)
	}
	for _, name := range names {
		if name == PropHidden || (skip != nil && skip(name)) {
			continue
		}
		v, err := rc.Value(n, name)
		if err != nil {
			return err
		}
		switch val := v.(type) {
		case nil:
			continue
		case bool:
			if val {
				sb.WriteString(" " + name)
			}

			continue
		case *Node, []*Node:
			continue
		case []string:
			v = strings.Join(val, " ")
		}
		s := expr.ToString(v)
		if !rc.Raw(n, name) {
			s = html.EscapeString(s)
		}
		sb.WriteString(" " + name + `="` + s + `"`)
	}
	sb.WriteString(">")
	rc.WriteString(sb.String())

	return nil
}
