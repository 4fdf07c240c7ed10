package macro

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/weft/internal/component"
	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/expr"
	"github.com/conneroisu/weft/internal/parser"
)

type document struct {
	root  *component.Node
	table *Table
	cache *expr.Cache
}

func parseDocument(t *testing.T, src string) (*document, error) {
	t.Helper()
	doc := &document{
		root:  component.NewRoot(),
		table: NewTable(),
		cache: expr.NewCache(),
	}
	factory := component.NewFactory(component.DefaultRegistry(), NewResolver(doc.table, nil))
	factory.Define(DefinitionTag, NewDefinitionKind(doc.table.Define, Options{Cache: doc.cache}))

	err := parser.Parse([]byte(src), doc.root, parser.Options{Factory: factory, Cache: doc.cache})

	return doc, err
}

func mustParse(t *testing.T, src string) *document {
	t.Helper()
	doc, err := parseDocument(t, src)
	require.NoError(t, err)
	require.NoError(t, doc.root.Verify())

	return doc
}

func renderNode(t *testing.T, n *component.Node, data any) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, component.Render(component.NewRenderContext(&buf, component.WithData(data)), n))

	return buf.String()
}

func find(root *component.Node, tag string) *component.Node {
	var found *component.Node
	root.Walk(func(n *component.Node) bool {
		if found == nil && n.Tag() == tag {
			found = n
		}

		return found == nil
	})

	return found
}

const greeting = `<Macro name="Greeting"><Param name="x" default="D"/><p>{{ @x }}</p></Macro>`

func TestParameterDefaulting(t *testing.T) {
	doc := mustParse(t, greeting+`<Greeting/><Greeting x="V"/>`)

	assert.Equal(t, "<p>D</p><p>V</p>", renderNode(t, doc.root, nil))
	assert.Equal(t, []string{"Greeting"}, doc.table.Names())
	assert.Nil(t, find(doc.root, DefinitionTag), "definitions are removed from the document")
}

func TestBindingTransfer(t *testing.T) {
	doc := mustParse(t, greeting+`<Greeting x="{{ foo.bar }}"/>`)

	p := find(doc.root, "p")
	require.NotNil(t, p)
	lit := p.Child(0)
	tpl, ok := lit.Binding(component.PropValue)
	require.True(t, ok, "a live argument stays a binding")
	assert.Equal(t, "{{ foo.bar }}", tpl.Source())

	// the same tree reflects later data
	assert.Equal(t, "<p>A</p>", renderNode(t, doc.root, map[string]any{"foo": map[string]any{"bar": "A"}}))
	assert.Equal(t, "<p>B</p>", renderNode(t, doc.root, map[string]any{"foo": map[string]any{"bar": "B"}}))
}

func TestDefaultContentParameter(t *testing.T) {
	doc := mustParse(t, `<Macro name="Card" default="body"><Param name="body" type="content"/><div class="card">{{ @body }}</div></Macro>`)
	m, ok := doc.table.Get("Card")
	require.True(t, ok)

	root := component.NewRoot()
	call := component.New("Card", NewCallKind(m))
	require.NoError(t, root.AppendChild(call))
	require.NoError(t, call.AppendChild(component.NewText("Hello")))

	require.NoError(t, transferContent(m, call))
	body, ok := call.Prop("body")
	require.True(t, ok)
	holder := body.(*component.Node)
	require.Equal(t, 1, holder.ChildCount())
	text, ok := component.TextValue(holder.Child(0))
	require.True(t, ok)
	assert.Equal(t, "Hello", text)

	require.NoError(t, Expand(m, call))
	want := "<#root>\n  <div class=\"card\">\n    \"Hello\"\n"
	if diff := cmp.Diff(want, component.Dump(root)); diff != "" {
		t.Errorf("expansion mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, root.Verify())
}

func TestDefaultContentThroughParser(t *testing.T) {
	doc := mustParse(t, `<Macro name="Card" default="body"><Param name="body" type="content"/><div>{{ @body }}</div></Macro>`+
		`<Card>Hello <b>{{ name }}</b></Card><Card><Body>explicit</Body></Card>`)

	assert.Equal(t, "<div>Hello <b>Ann</b></div><div>explicit</div>",
		renderNode(t, doc.root, map[string]any{"name": "Ann"}))
}

func TestNodeParametersAreClonedPerUse(t *testing.T) {
	doc := mustParse(t, `<Macro name="Twice" default="body"><Param name="body" type="content"/>{{ @body }}|{{ @body }}</Macro>`+
		`<Twice><i>x</i></Twice>`)

	assert.Equal(t, "<i>x</i>|<i>x</i>", renderNode(t, doc.root, nil))
	var italics []*component.Node
	doc.root.Walk(func(n *component.Node) bool {
		if n.Tag() == "i" {
			italics = append(italics, n)
		}

		return true
	})
	require.Len(t, italics, 2)
	assert.NotSame(t, italics[0], italics[1])
}

func TestCollectionParameter(t *testing.T) {
	doc := mustParse(t, `<Macro name="List"><Param name="item" type="collection"/><ul>{{ @item }}</ul></Macro>`+
		`<List><Item><li>a</li></Item><Item><li>{{ b }}</li></Item></List>`)

	assert.Equal(t, "<ul><li>a</li><li>B</li></ul>", renderNode(t, doc.root, map[string]any{"b": "B"}))
}

func TestNestedMacroTransfersOuterBindings(t *testing.T) {
	doc := mustParse(t,
		`<Macro name="Button"><Param name="label"/><button>{{ @label | upper }}</button></Macro>`+
			`<Macro name="Toolbar"><Param name="title"/><nav><Button label="{{ @title }}"/></nav></Macro>`+
			`<Toolbar title="{{ page.title }}"/><Toolbar title="fixed"/>`)

	button := find(doc.root, "button")
	require.NotNil(t, button)
	tpl, ok := button.Child(0).Binding(component.PropValue)
	require.True(t, ok)
	assert.Equal(t, "{{page.title | upper}}", tpl.Source())

	assert.Equal(t, "<nav><button>HOME</button></nav><nav><button>FIXED</button></nav>",
		renderNode(t, doc.root, map[string]any{"page": map[string]any{"title": "home"}}))
}

func TestCompositeBindings(t *testing.T) {
	src := `<Macro name="Badge"><Param name="kind" default="info"/><Param name="label"/>` +
		`<span class="badge-{{ @kind }} {{ extra }}" title="badge-{{ @kind }}">{{ @label }}</span></Macro>` +
		`<Badge kind="warn" label="{{ user.name }}"/>`
	doc := mustParse(t, src)

	span := find(doc.root, "span")
	require.NotNil(t, span)
	class, ok := span.Binding("class")
	require.True(t, ok, "the unresolved remainder stays bound")
	assert.Equal(t, "badge-warn {{ extra }}", class.Source())
	title, ok := span.Prop("title")
	require.True(t, ok, "a fully constant composite becomes a value")
	assert.Equal(t, "badge-warn", title)

	out := renderNode(t, doc.root, map[string]any{"extra": "big", "user": map[string]any{"name": "Ann"}})
	assert.Equal(t, `<span class="badge-warn big" title="badge-warn">Ann</span>`, out)
}

func TestCompositeTransferWithPipe(t *testing.T) {
	const def = `<Macro name="Shout"><Param name="label"/><em title="[{{ @label | upper }}]">{{ @label | upper }}</em></Macro>`

	tests := []struct {
		name      string
		call      string
		wantTitle string
		wantText  string
		wantOut   string
	}{
		{
			name:      "simple caller binding gets the pipe appended",
			call:      `<Shout label="{{ name }}"/>`,
			wantTitle: "[{{name | upper}}]",
			wantText:  "{{name | upper}}",
			wantOut:   `<em title="[ANN]">ANN</em>`,
		},
		{
			name:      "caller pipeline runs before the macro pipeline",
			call:      `<Shout label="{{ name | truncate 2 }}"/>`,
			wantTitle: "[{{name | truncate 2 | upper}}]",
			wantText:  "{{name | truncate 2 | upper}}",
			wantOut:   `<em title="[AN]">AN</em>`,
		},
		{
			name:      "composite caller binding is joined before the pipe",
			call:      `<Shout label="Hi {{ name }}!"/>`,
			wantTitle: `[{{"Hi " + name + "!" | upper}}]`,
			wantText:  `{{"Hi " + name + "!" | upper}}`,
			wantOut:   `<em title="[HI ANN!]">HI ANN!</em>`,
		},
		{
			name:    "constant argument is filtered at expansion",
			call:    `<Shout label="quiet"/>`,
			wantOut: `<em title="[QUIET]">QUIET</em>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustParse(t, def+tt.call)
			em := find(doc.root, "em")
			require.NotNil(t, em)

			if tt.wantTitle != "" {
				title, ok := em.Binding("title")
				require.True(t, ok)
				assert.Equal(t, tt.wantTitle, title.Source())
				text, ok := em.Child(0).Binding(component.PropValue)
				require.True(t, ok)
				assert.Equal(t, tt.wantText, text.Source())
			} else {
				title, _ := em.Prop("title")
				assert.Equal(t, "[QUIET]", title)
			}

			assert.Equal(t, tt.wantOut, renderNode(t, doc.root, map[string]any{"name": "Ann"}))
		})
	}
}

func TestCompositeTransferRejectsNestedPipelines(t *testing.T) {
	_, err := parseDocument(t, `<Macro name="Shout"><Param name="label"/><em>{{ @label | upper }}</em></Macro>`+
		`<Shout label="{{ a | lower }}-{{ b }}"/>`)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParameterType))
	assert.True(t, errors.IsMacroError(err))
}

func TestPartialSubstitution(t *testing.T) {
	doc := mustParse(t, `<Macro name="Link"><Param name="user"/><Param name="sep" default="/"/>`+
		`<a href="{{ base + @sep + @user.id }}">{{ !@user }}</a></Macro>`+
		`<Link user="{{ account }}"/>`)

	a := find(doc.root, "a")
	require.NotNil(t, a)
	href, ok := a.Binding("href")
	require.True(t, ok)
	assert.Equal(t, `{{ base + "/" + account.id }}`, href.Source())

	out := renderNode(t, doc.root, map[string]any{"base": "/u", "account": map[string]any{"id": 7}})
	assert.Equal(t, `<a href="/u/7">false</a>`, out)
}

func TestTransferredBindingNamedLikeTarget(t *testing.T) {
	doc := mustParse(t, `<Macro name="Link"><Param name="href"/><Param name="value"/>`+
		`<a href="{{ @href }}">{{ @value }}</a></Macro>`+
		`<Link href="{{ href }}" value="{{ value }}"/>`)

	a := find(doc.root, "a")
	require.NotNil(t, a)
	href, ok := a.Binding("href")
	require.True(t, ok)
	assert.Equal(t, `{{ href }}`, href.Source())

	out := renderNode(t, doc.root, map[string]any{"href": "/home", "value": "Home"})
	assert.Equal(t, `<a href="/home">Home</a>`, out)
}

func TestRawParameterInText(t *testing.T) {
	doc := mustParse(t, `<Macro name="Raw"><Param name="html"/>{!! @html !!}|{{ @html }}</Macro><Raw html="<b>x</b>"/>`)

	assert.Equal(t, "<b>x</b>|&lt;b&gt;x&lt;/b&gt;", renderNode(t, doc.root, nil))
}

func TestTypedParameters(t *testing.T) {
	doc := mustParse(t, `<Macro name="Pager"><Param name="page" type="int" default="1"/><Param name="tags" type="list"/>`+
		`<Param name="open" type="bool"/><nav data-page="{{ @page }}" data-open="{{ @open }}">{{ @tags | join "+" }}</nav></Macro>`+
		`<Pager tags="a, b" open/>`)

	nav := find(doc.root, "nav")
	require.NotNil(t, nav)
	page, _ := nav.Prop("data-page")
	assert.Equal(t, 1, page)
	open, _ := nav.Prop("data-open")
	assert.Equal(t, true, open)
	assert.Equal(t, `<nav data-page="1" data-open>a+b</nav>`, renderNode(t, doc.root, nil))

	_, err := parseDocument(t, `<Macro name="Pager"><Param name="page" type="int"/>{{ @page }}</Macro><Pager page="x"/>`)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParameterType))
}

func TestHiddenCallHidesExpansion(t *testing.T) {
	doc := mustParse(t, greeting+`<Greeting hidden="{{ off }}"/><Greeting x="shown"/>`)

	assert.Equal(t, "<p>shown</p>", renderNode(t, doc.root, map[string]any{"off": true}))
	assert.Equal(t, "<p>D</p><p>shown</p>", renderNode(t, doc.root, map[string]any{"off": false}))
}

func TestApplyIsPure(t *testing.T) {
	doc := mustParse(t, greeting)
	m, _ := doc.table.Get("Greeting")
	before := component.Dump(m.Body())

	call := component.New("Greeting", NewCallKind(m))
	require.NoError(t, call.SetProp("x", "V"))
	first, err := Apply(m, call)
	require.NoError(t, err)
	second, err := Apply(m, call)
	require.NoError(t, err)

	assert.Equal(t, component.Dump(first), component.Dump(second))
	assert.NotSame(t, first.Child(0), second.Child(0))
	assert.Equal(t, before, component.Dump(m.Body()), "the definition is never modified")
	v, _ := call.Prop("x")
	assert.Equal(t, "V", v, "the call is never modified")
}

func TestDefinitionErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		code     string
		contains []string
	}{
		{
			name:     "undeclared reference",
			src:      `<Macro name="Card"><Param name="title"/><Param name="body"/><h1>{{ @titel }}</h1></Macro>`,
			code:     errors.ErrCodeUnknownParameter,
			contains: []string{"@titel", "Card", "title, body"},
		},
		{
			name:     "reserved parameter name",
			src:      `<Macro name="Card"><Param name="card"/></Macro>`,
			code:     errors.ErrCodeReservedParameter,
			contains: []string{"card"},
		},
		{
			name: "duplicate parameter",
			src:  `<Macro name="Card"><Param name="a"/><Param name="A"/></Macro>`,
			code: errors.ErrCodeDuplicateParameter,
		},
		{
			name:     "unknown type",
			src:      `<Macro name="Card"><Param name="a" type="number"/></Macro>`,
			code:     errors.ErrCodeInvalidParameterType,
			contains: []string{"number", "collection"},
		},
		{
			name:     "scalar default parameter",
			src:      `<Macro name="Card" default="title"><Param name="title" type="string"/></Macro>`,
			code:     errors.ErrCodeDefaultParameter,
			contains: []string{"title", "content or metadata"},
		},
		{
			name: "undeclared default parameter",
			src:  `<Macro name="Card" default="body"><Param name="title"/></Macro>`,
			code: errors.ErrCodeDefaultParameter,
		},
		{
			name: "missing name",
			src:  `<Macro><p/></Macro>`,
			code: errors.ErrCodeInvalidProperty,
		},
		{
			name: "duplicate macro",
			src:  greeting + greeting,
			code: errors.ErrCodeDuplicateMacro,
		},
		{
			name:     "content without default parameter",
			src:      greeting + `<Greeting>text</Greeting>`,
			code:     errors.ErrCodeNoDefaultParameter,
			contains: []string{"Greeting(x any)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDocument(t, tt.src)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
			for _, s := range tt.contains {
				assert.Contains(t, err.Error(), s)
			}
			var we *errors.WeftError
			require.ErrorAs(t, err, &we)
			assert.Equal(t, 1, we.Line, "errors point into the source")
		})
	}
}

func TestWhitespaceContentIsIgnored(t *testing.T) {
	doc := mustParse(t, greeting+"<Greeting>\n  </Greeting>")

	assert.Equal(t, "<p>D</p>", renderNode(t, doc.root, nil))
}

func TestSignature(t *testing.T) {
	doc := mustParse(t, `<Macro name="Card" default="body"><Param name="title" type="string"/><Param name="body" type="content"/></Macro>`)
	m, _ := doc.table.Get("Card")

	assert.Equal(t, "Card(title string, body content default)", m.Signature())
	assert.Equal(t, []string{"title", "body"}, m.ParamNames())
	p, ok := m.Param("TITLE")
	require.True(t, ok)
	assert.Equal(t, component.KindScalar, p.Kind)
	assert.True(t, m.Schema().Strict())
}
