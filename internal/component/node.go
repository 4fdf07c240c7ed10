package component

import (
	"fmt"

	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/expr"
)

// Node is one element of a compiled template tree.
//
// A node's parent always owns it, either through its child list or through a
// node-valued property. A property is either concrete or bound, never both.
type Node struct {
	tag      string
	kind     Kind
	parent   *Node
	children []*Node
	props    map[string]any
	bindings map[string]*expr.Template
	order    []string
	inactive bool
	mutated  bool
	span     errors.Span
	autoID   string
}

// New creates a detached node.
func New(tag string, kind Kind) *Node {
	return &Node{tag: tag, kind: kind}
}

func (n *Node) Tag() string   { return n.tag }
func (n *Node) Kind() Kind    { return n.kind }
func (n *Node) Parent() *Node { return n.parent }

// Span returns the source range of the node's opening tag.
func (n *Node) Span() errors.Span     { return n.span }
func (n *Node) SetSpan(s errors.Span) { n.span = s }

// Inactive nodes stay in the tree but are skipped by Render.
func (n *Node) Inactive() bool       { return n.inactive }
func (n *Node) SetInactive(v bool)   { n.inactive = v }
func (n *Node) Mutated() bool        { return n.mutated }
func (n *Node) Schema() *Schema      { return n.kind.Schema() }
func (n *Node) AllowsChildren() bool { return n.kind.AllowsChildren() }

func (n *Node) String() string { return "<" + n.tag + ">" }

// AutoID returns the generated identifier, empty until the first render.
func (n *Node) AutoID() string { return n.autoID }

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)

	return out
}

func (n *Node) ChildCount() int { return len(n.children) }

func (n *Node) Child(i int) *Node {
	if i < 0 || i >= len(n.children) {
		return nil
	}

	return n.children[i]
}

// IndexOf returns the position of c in the child list, or -1.
func (n *Node) IndexOf(c *Node) int {
	for i, ch := range n.children {
		if ch == c {
			return i
		}
	}

	return -1
}

// IsAncestorOf reports whether n is a strict ancestor of m.
func (n *Node) IsAncestorOf(m *Node) bool {
	for p := m.parent; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}

	return false
}

// Path returns the tag names from n up to the root, innermost first.
func (n *Node) Path() []string {
	var tags []string
	for p := n; p != nil; p = p.parent {
		tags = append(tags, p.tag)
	}

	return tags
}

// AppendChild attaches c as the last child, detaching it from its owner first.
func (n *Node) AppendChild(c *Node) error {
	return n.InsertChildren(len(n.children), c)
}

// InsertChildren inserts nodes at position at of the child list.
func (n *Node) InsertChildren(at int, nodes ...*Node) error {
	if len(nodes) > 0 && !n.kind.AllowsChildren() {
		return errors.NewParseError(errors.ErrCodeChildrenNotAllowed,
			fmt.Sprintf("<%s> does not accept children", n.tag)).WithComponent(n.tag)
	}
	for _, c := range nodes {
		if err := n.canAdopt(c); err != nil {
			return err
		}
	}
	for _, c := range nodes {
		if c.parent == n {
			if i := n.IndexOf(c); i >= 0 && i < at {
				at--
			}
		}
		c.Detach()
	}
	if at < 0 || at > len(n.children) {
		at = len(n.children)
	}

	tail := append([]*Node{}, n.children[at:]...)
	n.children = append(n.children[:at], nodes...)
	n.children = append(n.children, tail...)
	for _, c := range nodes {
		c.parent = n
	}

	return nil
}

// Detach removes n from its owner, child list or property alike.
func (n *Node) Detach() {
	p := n.parent
	if p == nil {
		return
	}
	n.parent = nil

	if i := p.IndexOf(n); i >= 0 {
		p.children = append(p.children[:i], p.children[i+1:]...)

		return
	}
	for key, v := range p.props {
		switch val := v.(type) {
		case *Node:
			if val == n {
				delete(p.props, key)
			}
		case []*Node:
			for i, item := range val {
				if item == n {
					p.props[key] = append(val[:i:i], val[i+1:]...)

					break
				}
			}
		}
	}
}

// ReplaceWith puts nodes in n's place in the parent's child list and detaches n.
func (n *Node) ReplaceWith(nodes ...*Node) error {
	p := n.parent
	if p == nil || p.IndexOf(n) < 0 {
		return errors.NewInternalError(errors.ErrCodeInvalidTree,
			fmt.Sprintf("<%s> is not a child of any node", n.tag), nil)
	}
	for _, c := range nodes {
		if c == n {
			return errors.NewInternalError(errors.ErrCodeInvalidTree,
				fmt.Sprintf("<%s> cannot replace itself", n.tag), nil)
		}
		if err := p.canAdopt(c); err != nil {
			return err
		}
	}
	for _, c := range nodes {
		c.Detach()
	}

	i := p.IndexOf(n)
	p.children = append(p.children[:i], p.children[i+1:]...)
	n.parent = nil

	return p.InsertChildren(i, nodes...)
}

func (n *Node) canAdopt(c *Node) error {
	if c == nil {
		return errors.NewInternalError(errors.ErrCodeInvalidTree, "nil node", nil)
	}
	if c == n || c.IsAncestorOf(n) {
		return errors.NewInternalError(errors.ErrCodeInvalidTree,
			fmt.Sprintf("<%s> cannot become a descendant of itself", c.tag), nil).WithComponent(n.tag)
	}

	return nil
}

// resolve maps name to its declared spelling.
func (n *Node) resolve(name string) (string, PropDef, bool) {
	if d, ok := n.kind.Schema().Lookup(name); ok {
		return d.Name, d, true
	}

	return name, PropDef{}, false
}

// Prop returns a concrete property value.
func (n *Node) Prop(name string) (any, bool) {
	key, _, _ := n.resolve(name)
	v, ok := n.props[key]

	return v, ok
}

// Binding returns the unevaluated template of a bound property.
func (n *Node) Binding(name string) (*expr.Template, bool) {
	key, _, _ := n.resolve(name)
	t, ok := n.bindings[key]

	return t, ok
}

// HasProp reports whether the property is set, concretely or bound.
func (n *Node) HasProp(name string) bool {
	key, _, _ := n.resolve(name)
	if _, ok := n.props[key]; ok {
		return true
	}
	_, ok := n.bindings[key]

	return ok
}

// Get implements expr.Getter over concrete properties.
func (n *Node) Get(name string) (any, bool) {
	return n.Prop(name)
}

// SetProp stores a concrete value and drops any binding for the property.
// Node values are only accepted by content, metadata and collection properties.
func (n *Node) SetProp(name string, v any) error {
	key, def, declared := n.resolve(name)

	switch val := v.(type) {
	case *Node:
		if !declared || (def.Kind != KindContent && def.Kind != KindMetadata) {
			return n.invalidProperty(key, "a node")
		}
		if err := n.canAdopt(val); err != nil {
			return err
		}
	case []*Node:
		if !declared || def.Kind != KindCollection {
			return n.invalidProperty(key, "a node list")
		}
		for _, item := range val {
			if err := n.canAdopt(item); err != nil {
				return err
			}
		}
	default:
		if declared && def.Kind.HoldsNodes() && v != nil {
			return n.invalidProperty(key, fmt.Sprintf("a %T", v))
		}
	}

	n.release(key)
	delete(n.bindings, key)
	switch val := v.(type) {
	case *Node:
		val.Detach()
		val.parent = n
	case []*Node:
		list := make([]*Node, len(val))
		for i, item := range val {
			item.Detach()
			item.parent = n
			list[i] = item
		}
		v = list
	}
	if n.props == nil {
		n.props = make(map[string]any)
	}
	n.props[key] = v
	n.remember(key)
	n.mutated = true

	return nil
}

// AppendToCollection adds a holder to a collection property.
func (n *Node) AppendToCollection(name string, holder *Node) error {
	key, def, declared := n.resolve(name)
	if !declared || def.Kind != KindCollection {
		return n.invalidProperty(key, "a collection item")
	}
	if err := n.canAdopt(holder); err != nil {
		return err
	}
	holder.Detach()
	list, _ := n.props[key].([]*Node)
	if n.props == nil {
		n.props = make(map[string]any)
	}
	delete(n.bindings, key)
	n.props[key] = append(list, holder)
	holder.parent = n
	n.remember(key)

	return nil
}

// SetBinding binds a property to a template and drops any concrete value.
func (n *Node) SetBinding(name string, t *expr.Template) {
	key, _, _ := n.resolve(name)
	n.release(key)
	delete(n.props, key)
	if n.bindings == nil {
		n.bindings = make(map[string]*expr.Template)
	}
	n.bindings[key] = t
	n.remember(key)
}

// DeleteProp removes both the concrete value and the binding.
func (n *Node) DeleteProp(name string) {
	key, _, _ := n.resolve(name)
	n.release(key)
	delete(n.props, key)
	delete(n.bindings, key)
}

// PropNames returns set property names in the order they were first set.
func (n *Node) PropNames() []string {
	names := make([]string, 0, len(n.order))
	for _, key := range n.order {
		if _, ok := n.props[key]; ok {
			names = append(names, key)

			continue
		}
		if _, ok := n.bindings[key]; ok {
			names = append(names, key)
		}
	}

	return names
}

// Bindings returns a copy of the binding map.
func (n *Node) Bindings() map[string]*expr.Template {
	out := make(map[string]*expr.Template, len(n.bindings))
	for k, v := range n.bindings {
		out[k] = v
	}

	return out
}

func (n *Node) remember(key string) {
	for _, k := range n.order {
		if k == key {
			return
		}
	}
	n.order = append(n.order, key)
}

// release orphans node values held by key.
func (n *Node) release(key string) {
	switch val := n.props[key].(type) {
	case *Node:
		if val.parent == n {
			val.parent = nil
		}
	case []*Node:
		for _, item := range val {
			if item.parent == n {
				item.parent = nil
			}
		}
	}
}

func (n *Node) invalidProperty(key, what string) error {
	return errors.NewParseError(errors.ErrCodeInvalidProperty,
		fmt.Sprintf("property %q of <%s> cannot hold %s", key, n.tag, what)).
		WithComponent(n.tag).
		WithContext("property", key)
}

// NodeProps returns the node-valued properties in property order.
func (n *Node) NodeProps() []*Node {
	var out []*Node
	for _, key := range n.order {
		switch val := n.props[key].(type) {
		case *Node:
			out = append(out, val)
		case []*Node:
			out = append(out, val...)
		}
	}

	return out
}

// MergeText joins adjacent text children that were not changed after creation.
func (n *Node) MergeText() {
	if len(n.children) < 2 {
		return
	}
	merged := n.children[:1]
	for _, c := range n.children[1:] {
		last := merged[len(merged)-1]
		if isMergeable(last) && isMergeable(c) {
			last.props[PropValue] = expr.ToString(last.props[PropValue]) + expr.ToString(c.props[PropValue])
			c.parent = nil

			continue
		}
		merged = append(merged, c)
	}
	for i := len(merged); i < len(n.children); i++ {
		n.children[i] = nil
	}
	n.children = merged
}

func isMergeable(n *Node) bool {
	_, ok := n.kind.(*textKind)

	return ok && !n.mutated && len(n.bindings) == 0
}

// Clone deep-copies n and everything it owns. The copy is detached, keeps no
// generated id and shares the immutable binding templates.
func (n *Node) Clone() *Node {
	c := &Node{
		tag:      n.tag,
		kind:     n.kind,
		inactive: n.inactive,
		mutated:  n.mutated,
		span:     n.span,
	}
	if n.props != nil {
		c.props = make(map[string]any, len(n.props))
		for k, v := range n.props {
			switch val := v.(type) {
			case *Node:
				cl := val.Clone()
				cl.parent = c
				c.props[k] = cl
			case []*Node:
				list := make([]*Node, len(val))
				for i, item := range val {
					list[i] = item.Clone()
					list[i].parent = c
				}
				c.props[k] = list
			case []string:
				c.props[k] = append([]string(nil), val...)
			default:
				c.props[k] = v
			}
		}
	}
	if n.bindings != nil {
		c.bindings = n.Bindings()
	}
	c.order = append([]string(nil), n.order...)
	if len(n.children) > 0 {
		c.children = make([]*Node, len(n.children))
		for i, ch := range n.children {
			c.children[i] = ch.Clone()
			c.children[i].parent = c
		}
	}

	return c
}

// Walk visits n, its node-valued properties and its children depth first.
// Returning false from fn skips the node's subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, h := range n.NodeProps() {
		h.Walk(fn)
	}
	for _, c := range n.Children() {
		c.Walk(fn)
	}
}

// Verify checks the ownership invariants of the subtree rooted at n.
func (n *Node) Verify() error {
	return n.verify(make(map[*Node]bool))
}

func (n *Node) verify(seen map[*Node]bool) error {
	if seen[n] {
		return errors.NewInternalError(errors.ErrCodeInvalidTree,
			fmt.Sprintf("<%s> is reachable twice", n.tag), nil)
	}
	seen[n] = true

	for key := range n.props {
		if _, bound := n.bindings[key]; bound {
			return errors.NewInternalError(errors.ErrCodeInvalidTree,
				fmt.Sprintf("property %q of <%s> is both set and bound", key, n.tag), nil)
		}
	}
	for _, h := range n.NodeProps() {
		if h.parent != n {
			return errors.NewInternalError(errors.ErrCodeInvalidTree,
				fmt.Sprintf("property holder <%s> of <%s> has a different parent", h.tag, n.tag), nil)
		}
		if err := h.verify(seen); err != nil {
			return err
		}
	}
	for _, c := range n.children {
		if c.parent != n {
			return errors.NewInternalError(errors.ErrCodeInvalidTree,
				fmt.Sprintf("child <%s> of <%s> has a different parent", c.tag, n.tag), nil)
		}
		if err := c.verify(seen); err != nil {
			return err
		}
	}

	return nil
}
