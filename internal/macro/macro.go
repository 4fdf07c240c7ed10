// Package macro implements template macros: parametrized subtrees declared
// with <Macro> and expanded in place of every call site.
//
// A definition looks like
//
//	<Macro name="Card" default="body">
//	  <Param name="title" type="string" default="Untitled"/>
//	  <Param name="body" type="content"/>
//	  <section class="card"><h2>{{ @title }}</h2>{{ @body }}</section>
//	</Macro>
//
// and a call site like <Card title="{{ page.title }}">Hello</Card>. The
// definition's body is cloned for every call and the '@name' references in
// the clone are rewritten against the call's arguments.
package macro

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conneroisu/weft/internal/component"
	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/expr"
)

// DefinitionTag is the tag that declares a macro.
const DefinitionTag = "Macro"

// Properties of a <Macro> definition and its <Param> children.
const (
	PropName    = "name"
	PropDefault = "default"
	PropParam   = "param"
	PropType    = "type"
)

// Parameter types.
const (
	TypeString     = "string"
	TypeInt        = "int"
	TypeFloat      = "float"
	TypeBool       = "bool"
	TypeAny        = "any"
	TypeList       = "list"
	TypeContent    = "content"
	TypeMetadata   = "metadata"
	TypeCollection = "collection"
)

var paramKinds = map[string]component.PropKind{
	TypeString:     component.KindScalar,
	TypeInt:        component.KindScalar,
	TypeFloat:      component.KindScalar,
	TypeBool:       component.KindScalar,
	TypeAny:        component.KindScalar,
	TypeList:       component.KindList,
	TypeContent:    component.KindContent,
	TypeMetadata:   component.KindMetadata,
	TypeCollection: component.KindCollection,
}

// Types returns the accepted parameter type names, sorted.
func Types() []string {
	names := make([]string, 0, len(paramKinds))
	for name := range paramKinds {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Param is a formal parameter of a macro.
type Param struct {
	Name string
	Type string
	Kind component.PropKind
	// Default is a constant, a *expr.Template evaluated in the caller's
	// context, or a holder *component.Node for node-typed parameters.
	Default    any
	HasDefault bool
}

// Macro is an immutable macro definition. Expansion never modifies it, so
// one definition may serve any number of documents.
type Macro struct {
	Name         string
	Params       []Param
	DefaultParam string
	// Source is the file the macro was loaded from, empty for inline macros.
	Source string

	body    *component.Node
	schema  *component.Schema
	cache   *expr.Cache
	filters expr.FilterHandler
}

// Options configures how definitions are built.
type Options struct {
	// Cache compiles rewritten expressions. A private cache is used when nil.
	Cache *expr.Cache
	// Filters evaluate pipelines applied to constant arguments during
	// expansion. The default filter set is used when nil.
	Filters expr.FilterHandler
	// Source names the file being parsed.
	Source string
}

func (o Options) withDefaults() Options {
	if o.Cache == nil {
		o.Cache = expr.NewCache()
	}
	if o.Filters == nil {
		o.Filters = expr.DefaultFilters()
	}

	return o
}

// Body returns the macro's subtree. Callers must not modify it.
func (m *Macro) Body() *component.Node { return m.body }

// Schema returns the property schema of call sites.
func (m *Macro) Schema() *component.Schema { return m.schema }

// Param looks up a parameter by case-insensitive name.
func (m *Macro) Param(name string) (Param, bool) {
	folded := component.FoldName(name)
	for _, p := range m.Params {
		if component.FoldName(p.Name) == folded {
			return p, true
		}
	}

	return Param{}, false
}

// ParamNames returns the parameter names in declaration order.
func (m *Macro) ParamNames() []string {
	names := make([]string, len(m.Params))
	for i, p := range m.Params {
		names[i] = p.Name
	}

	return names
}

// Signature renders the macro as Name(param type, ...).
func (m *Macro) Signature() string {
	parts := make([]string, len(m.Params))
	for i, p := range m.Params {
		parts[i] = p.Name + " " + p.Type
		if p.Name == m.DefaultParam {
			parts[i] += " default"
		}
	}

	return m.Name + "(" + strings.Join(parts, ", ") + ")"
}

// DefinitionSchema is the schema of a <Macro> node.
func DefinitionSchema() *component.Schema {
	return component.NewSchema(
		component.PropDef{Name: PropName, Kind: component.KindScalar},
		component.PropDef{Name: PropDefault, Kind: component.KindScalar},
		component.PropDef{Name: PropParam, Kind: component.KindCollection},
	)
}

// FromNode builds a macro from a parsed <Macro> node and validates it.
// The node's children are moved into the macro body.
func FromNode(n *component.Node, opts Options) (*Macro, error) {
	opts = opts.withDefaults()

	name, err := constantString(n, PropName)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, definitionError(n, errors.ErrCodeInvalidProperty, "<Macro> requires a name")
	}

	m := &Macro{
		Name:    name,
		Source:  opts.Source,
		cache:   opts.Cache,
		filters: opts.Filters,
	}

	holders, _ := n.Prop(PropParam)
	list, _ := holders.([]*component.Node)
	seen := make(map[string]bool, len(list))
	for _, h := range list {
		p, err := paramFromHolder(m.Name, h)
		if err != nil {
			return nil, err
		}
		folded := component.FoldName(p.Name)
		if seen[folded] {
			return nil, definitionError(h, errors.ErrCodeDuplicateParameter,
				fmt.Sprintf("macro %s declares parameter %q twice", m.Name, p.Name)).
				WithContext("macro", m.Name).WithContext("param", p.Name)
		}
		seen[folded] = true
		m.Params = append(m.Params, p)
	}

	if err := m.setDefaultParam(n); err != nil {
		return nil, err
	}

	m.body = component.NewHolder(m.Name)
	if err := m.body.InsertChildren(0, n.Children()...); err != nil {
		return nil, err
	}
	if err := m.checkReferences(); err != nil {
		return nil, err
	}

	defs := make([]component.PropDef, len(m.Params))
	for i, p := range m.Params {
		defs[i] = component.PropDef{Name: p.Name, Kind: p.Kind}
	}
	m.schema = component.NewSchema(defs...)

	return m, nil
}

func paramFromHolder(macroName string, h *component.Node) (Param, error) {
	name, err := constantString(h, PropName)
	if err != nil {
		return Param{}, err
	}
	if name == "" {
		return Param{}, definitionError(h, errors.ErrCodeInvalidProperty,
			fmt.Sprintf("a parameter of macro %s has no name", macroName)).
			WithContext("macro", macroName)
	}
	if component.FoldName(name) == component.FoldName(macroName) {
		return Param{}, definitionError(h, errors.ErrCodeReservedParameter,
			fmt.Sprintf("parameter %q of macro %s reuses the macro name", name, macroName)).
			WithContext("macro", macroName).WithContext("param", name)
	}

	typ, err := constantString(h, PropType)
	if err != nil {
		return Param{}, err
	}
	if typ == "" {
		typ = TypeAny
	}
	typ = strings.ToLower(typ)
	kind, ok := paramKinds[typ]
	if !ok {
		return Param{}, definitionError(h, errors.ErrCodeInvalidParameterType,
			fmt.Sprintf("parameter %q of macro %s has unknown type %q (expected one of %s)",
				name, macroName, typ, strings.Join(Types(), ", "))).
			WithContext("macro", macroName).WithContext("param", name)
	}

	p := Param{Name: name, Type: typ, Kind: kind}
	switch {
	case kind.HoldsNodes():
		if h.ChildCount() > 0 && !whitespaceOnly(h.Children()) {
			def := component.NewHolder(name)
			if err := def.InsertChildren(0, h.Children()...); err != nil {
				return Param{}, err
			}
			p.Default, p.HasDefault = def, true
		}
	default:
		if t, ok := h.Binding(PropDefault); ok {
			p.Default, p.HasDefault = t, true
		} else if v, ok := h.Prop(PropDefault); ok {
			cv, err := coerce(p, v)
			if err != nil {
				return Param{}, err
			}
			p.Default, p.HasDefault = cv, true
		}
	}

	return p, nil
}

func (m *Macro) setDefaultParam(n *component.Node) error {
	name, err := constantString(n, PropDefault)
	if err != nil || name == "" {
		return err
	}
	p, ok := m.Param(name)
	if !ok {
		return definitionError(n, errors.ErrCodeDefaultParameter,
			fmt.Sprintf("default parameter %q is not declared by macro %s (expected one of: %s)",
				name, m.Name, strings.Join(m.ParamNames(), ", "))).
			WithContext("macro", m.Name).WithContext("param", name)
	}
	if p.Kind != component.KindContent && p.Kind != component.KindMetadata {
		return definitionError(n, errors.ErrCodeDefaultParameter,
			fmt.Sprintf("default parameter %q of macro %s has type %s but must be content or metadata",
				p.Name, m.Name, p.Type)).
			WithContext("macro", m.Name).WithContext("param", p.Name)
	}
	m.DefaultParam = p.Name

	return nil
}

// checkReferences rejects '@name' references the macro does not declare.
func (m *Macro) checkReferences() error {
	var err error
	m.body.Walk(func(n *component.Node) bool {
		if err != nil {
			return false
		}
		for _, prop := range n.PropNames() {
			t, ok := n.Binding(prop)
			if !ok {
				continue
			}
			for _, ref := range t.References() {
				if m.accepts(ref) {
					continue
				}
				err = definitionError(n, errors.ErrCodeUnknownParameter,
					fmt.Sprintf("parameter @%s is not declared by macro %s (expected one of: %s)",
						ref, m.Name, strings.Join(m.ParamNames(), ", "))).
					WithContext("macro", m.Name).
					WithContext("param", ref).
					WithContext("expected", m.ParamNames())

				return false
			}
		}

		return true
	})

	return err
}

// accepts reports whether '@name' can be resolved against a call site.
// Every call accepts the implicit id and hidden properties.
func (m *Macro) accepts(name string) bool {
	if _, ok := m.Param(name); ok {
		return true
	}
	folded := component.FoldName(name)

	return folded == component.PropID || folded == component.PropHidden
}

func constantString(n *component.Node, name string) (string, error) {
	if _, ok := n.Binding(name); ok {
		return "", definitionError(n, errors.ErrCodeInvalidProperty,
			fmt.Sprintf("%s of <%s> must be a constant", name, n.Tag())).WithComponent(n.Tag())
	}
	v, ok := n.Prop(name)
	if !ok || v == nil {
		return "", nil
	}

	return strings.TrimSpace(expr.ToString(v)), nil
}

func definitionError(n *component.Node, code, msg string) *errors.WeftError {
	err := errors.NewMacroError(code, msg)
	err.Span = n.Span()

	return err
}

func whitespaceOnly(nodes []*component.Node) bool {
	for _, c := range nodes {
		v, ok := component.TextValue(c)
		if !ok || strings.TrimSpace(v) != "" {
			return false
		}
	}

	return true
}
