package component

import (
	"bufio"
	"fmt"
	"io"

	"golang.org/x/net/html"

	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/expr"
)

// RenderContext carries the state of one render pass.
type RenderContext struct {
	w       *bufio.Writer
	err     error
	data    any
	filters expr.FilterHandler
	ids     *IDGenerator
	autoIDs bool
	escape  bool
	blocks  map[string]*Node
	locals  []map[string]any
	active  map[evalKey]bool
	pending error
}

type evalKey struct {
	node *Node
	prop string
}

// RenderOption configures a RenderContext.
type RenderOption func(*RenderContext)

// WithData sets the view-model used when an identifier is not a property.
func WithData(data any) RenderOption {
	return func(rc *RenderContext) { rc.data = data }
}

// WithFilters sets the handler for '|' pipelines.
func WithFilters(h expr.FilterHandler) RenderOption {
	return func(rc *RenderContext) { rc.filters = h }
}

// WithIDGenerator sets the generator used for automatic ids.
func WithIDGenerator(g *IDGenerator) RenderOption {
	return func(rc *RenderContext) { rc.ids = g }
}

// WithAutoIDs toggles automatic ids.
func WithAutoIDs(enabled bool) RenderOption {
	return func(rc *RenderContext) { rc.autoIDs = enabled }
}

// WithEscape toggles HTML escaping of {{ }} output.
func WithEscape(enabled bool) RenderOption {
	return func(rc *RenderContext) { rc.escape = enabled }
}

// WithBlocks registers named blocks defined outside the rendered tree.
func WithBlocks(blocks map[string]*Node) RenderOption {
	return func(rc *RenderContext) {
		for name, b := range blocks {
			rc.blocks[name] = b
		}
	}
}

// NewRenderContext creates a render pass writing to w.
func NewRenderContext(w io.Writer, opts ...RenderOption) *RenderContext {
	rc := &RenderContext{
		w:       bufio.NewWriter(w),
		filters: expr.DefaultFilters(),
		ids:     NewIDGenerator(),
		autoIDs: true,
		escape:  true,
		blocks:  make(map[string]*Node),
		active:  make(map[evalKey]bool),
	}
	for _, opt := range opts {
		opt(rc)
	}

	return rc
}

// Render runs the three render stages for the tree rooted at n and flushes
// the output.
func Render(rc *RenderContext, n *Node) error {
	collectBlocks(rc, n)
	if err := rc.Render(n); err != nil {
		return err
	}
	if err := rc.w.Flush(); err != nil && rc.err == nil {
		rc.err = errors.WrapIO(err, errors.ErrCodeRenderFailed, "flushing output")
	}

	return rc.err
}

func collectBlocks(rc *RenderContext, root *Node) {
	root.Walk(func(n *Node) bool {
		if _, ok := n.kind.(*blockKind); ok {
			if name, ok := n.Prop(PropName); ok {
				if _, exists := rc.blocks[expr.ToString(name)]; !exists {
					rc.blocks[expr.ToString(name)] = n
				}
			}
		}

		return true
	})
}

// Render renders one node. Inactive and hidden nodes produce nothing.
func (rc *RenderContext) Render(n *Node) error {
	if n.inactive {
		return nil
	}
	hidden, err := rc.Value(n, PropHidden)
	if err != nil {
		return err
	}
	if expr.Truthy(hidden) {
		return nil
	}

	if rc.autoIDs && n.autoID == "" && !n.HasProp(PropID) {
		if ai, ok := n.kind.(AutoIdentifier); ok {
			n.autoID = rc.ids.Next(ai.IDCategory())
		}
	}

	if pre, ok := n.kind.(PreRenderer); ok {
		if err := pre.PreRender(rc, n); err != nil {
			return err
		}
	}
	if cr, ok := n.kind.(ContentRenderer); ok {
		err = cr.RenderContent(rc, n)
	} else {
		err = rc.RenderChildren(n)
	}
	if err != nil {
		return err
	}
	if post, ok := n.kind.(PostRenderer); ok {
		if err := post.PostRender(rc, n); err != nil {
			return err
		}
	}

	return rc.err
}

// RenderChildren renders the children of n in order.
func (rc *RenderContext) RenderChildren(n *Node) error {
	for _, c := range n.children {
		if err := rc.Render(c); err != nil {
			return err
		}
	}

	return nil
}

// WriteString writes markup unchanged. The first write error is kept and
// returned by Render.
func (rc *RenderContext) WriteString(s string) {
	if rc.err != nil {
		return
	}
	if _, err := rc.w.WriteString(s); err != nil {
		rc.err = errors.WrapIO(err, errors.ErrCodeRenderFailed, "writing output")
	}
}

// WriteText writes s escaped unless escaping is disabled.
func (rc *RenderContext) WriteText(s string) {
	if rc.escape {
		s = html.EscapeString(s)
	}
	rc.WriteString(s)
}

// WriteValue renders an evaluated value. Node values render their children.
func (rc *RenderContext) WriteValue(v any, raw bool) error {
	switch val := v.(type) {
	case *Node:
		return rc.RenderChildren(val)
	case []*Node:
		for _, item := range val {
			if err := rc.RenderChildren(item); err != nil {
				return err
			}
		}

		return nil
	}
	if raw {
		rc.WriteString(expr.ToString(v))
	} else {
		rc.WriteText(expr.ToString(v))
	}

	return nil
}

// Value returns the value of a property: the concrete value, the evaluated
// binding, the generated id or the declared default. A property whose
// binding reaches itself through '@' evaluates to nil.
func (rc *RenderContext) Value(n *Node, name string) (any, error) {
	key, def, declared := n.resolve(name)
	if v, ok := n.props[key]; ok {
		return v, nil
	}
	if t, ok := n.bindings[key]; ok {
		k := evalKey{node: n, prop: key}
		if rc.active[k] {
			return nil, nil
		}
		rc.active[k] = true
		defer delete(rc.active, k)

		v, err := t.Eval(rc.Scope(n))
		if err == nil && rc.pending != nil {
			err, rc.pending = rc.pending, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBinding, errors.ErrCodeRenderFailed,
				fmt.Sprintf("evaluating %s of <%s>", key, n.tag)).
				WithComponent(n.tag).
				WithContext("binding", t.Source())
		}
		if declared && def.Kind == KindList {
			if s, ok := v.(string); ok {
				return ParseList(s), nil
			}
		}

		return v, nil
	}
	if key == PropID && n.autoID != "" {
		return n.autoID, nil
	}
	if declared && def.HasDefault {
		return def.Default, nil
	}

	return nil, nil
}

// Raw reports whether a bound property must be written unescaped.
func (rc *RenderContext) Raw(n *Node, name string) bool {
	t, ok := n.Binding(name)

	return ok && t.Raw()
}

// PushLocals binds loop variables for the nodes rendered until PopLocals.
func (rc *RenderContext) PushLocals(vars map[string]any) {
	rc.locals = append(rc.locals, vars)
}

func (rc *RenderContext) PopLocals() {
	if len(rc.locals) > 0 {
		rc.locals = rc.locals[:len(rc.locals)-1]
	}
}

// Block returns a named block.
func (rc *RenderContext) Block(name string) (*Node, bool) {
	b, ok := rc.blocks[name]

	return b, ok
}

// Scope returns the expression scope of n.
func (rc *RenderContext) Scope(n *Node) expr.Scope {
	return &nodeScope{rc: rc, node: n}
}

type nodeScope struct {
	rc   *RenderContext
	node *Node
}

// Lookup resolves an identifier: declared property of the node, then loop
// variables, then the declared default, then the view-model. The property
// being evaluated and undeclared attributes are skipped.
func (s *nodeScope) Lookup(name string) (any, bool) {
	key, d, declared := s.node.resolve(name)
	own := declared && !s.rc.active[evalKey{node: s.node, prop: key}]
	if own && s.node.HasProp(name) {
		return s.value(s.node, name)
	}
	for i := len(s.rc.locals) - 1; i >= 0; i-- {
		if v, ok := s.rc.locals[i][name]; ok {
			return v, true
		}
	}
	if own && d.HasDefault {
		return d.Default, true
	}
	if s.rc.data == nil {
		return nil, false
	}
	v := expr.Step(s.rc.data, name)

	return v, v != nil
}

// Container resolves '@name' against the nearest ancestor that has it.
func (s *nodeScope) Container(name string) (any, bool) {
	for p := s.node.parent; p != nil; p = p.parent {
		d, declared := p.kind.Schema().Lookup(name)
		if p.HasProp(name) || (declared && d.HasDefault) {
			return s.value(p, name)
		}
	}

	return nil, false
}

// value evaluates a property for an expression. Errors cannot travel through
// the expr.Scope interface, so the first one is parked on the context and
// picked up by the enclosing Value call.
func (s *nodeScope) value(n *Node, name string) (any, bool) {
	v, err := s.rc.Value(n, name)
	if err != nil {
		if s.rc.pending == nil {
			s.rc.pending = err
		}

		return nil, false
	}

	return v, true
}

func (s *nodeScope) Block(name string) (any, bool) {
	b, ok := s.rc.blocks[name]
	if !ok {
		return nil, false
	}

	return b, true
}

func (s *nodeScope) Filters() expr.FilterHandler {
	return s.rc.filters
}
