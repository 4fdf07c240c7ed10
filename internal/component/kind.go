// Package component defines the node tree templates compile into and the
// three-stage render protocol nodes follow.
//
// Behaviour is attached to nodes through a Kind. A kind declares its property
// schema and whether it accepts children; the optional hook interfaces below
// let it take part in parsing and rendering.
package component

// Kind describes one type of node.
type Kind interface {
	// Name identifies the kind in diagnostics.
	Name() string
	Schema() *Schema
	AllowsChildren() bool
}

// PreRenderer emits opening markup.
type PreRenderer interface {
	PreRender(rc *RenderContext, n *Node) error
}

// ContentRenderer emits a node's own content. Kinds that do not implement it
// render their children.
type ContentRenderer interface {
	RenderContent(rc *RenderContext, n *Node) error
}

// PostRenderer emits closing markup.
type PostRenderer interface {
	PostRender(rc *RenderContext, n *Node) error
}

// EndParser is called by the parser when a node's closing tag is processed.
// The hook may replace the node in its parent.
type EndParser interface {
	EndParse(n *Node) error
}

// AutoIdentifier kinds get a generated id when none was given.
type AutoIdentifier interface {
	IDCategory() string
}

// kindBase carries the fields every built-in kind shares.
type kindBase struct {
	name     string
	schema   *Schema
	children bool
}

func (k *kindBase) Name() string         { return k.name }
func (k *kindBase) Schema() *Schema      { return k.schema }
func (k *kindBase) AllowsChildren() bool { return k.children }
