package parser

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/weft/internal/component"
	"github.com/conneroisu/weft/internal/errors"
)

// searchOnly resolves no macros and reports fixed search paths.
type searchOnly []string

func (s searchOnly) ResolveMacro(string) (component.Kind, error) { return nil, nil }
func (s searchOnly) SearchPaths() []string                       { return s }

// childCounter records the number of children it has when its closing tag
// is parsed.
type childCounter struct {
	children int
}

func (c *childCounter) Name() string              { return "Counter" }
func (c *childCounter) Schema() *component.Schema { return component.OpenSchema() }
func (c *childCounter) AllowsChildren() bool      { return true }

func (c *childCounter) EndParse(n *component.Node) error {
	c.children = n.ChildCount()

	return nil
}

func testRegistry() *component.Registry {
	r := component.DefaultRegistry()
	r.Register("Card", component.NewComponentKind("Card", "div", "card",
		component.PropDef{Name: "title", Kind: component.KindScalar},
		component.PropDef{Name: "tags", Kind: component.KindList},
		component.PropDef{Name: "body", Kind: component.KindContent},
		component.PropDef{Name: "item", Kind: component.KindCollection},
	))
	r.Register("A", component.NewComponentKind("A", "section", ""))
	r.Register("B", component.NewComponentKind("B", "aside", ""))

	return r
}

func parse(src string, opts Options) (*component.Node, error) {
	if opts.Factory == nil {
		opts.Factory = component.NewFactory(testRegistry(), searchOnly{"macros/app", "macros/shared"})
	}
	root := component.NewRoot()

	return root, Parse([]byte(src), root, opts)
}

func mustParse(t *testing.T, src string) *component.Node {
	t.Helper()
	root, err := parse(src, Options{})
	require.NoError(t, err)
	require.NoError(t, root.Verify())

	return root
}

func weftError(t *testing.T, err error) *errors.WeftError {
	t.Helper()
	require.Error(t, err)
	var we *errors.WeftError
	require.True(t, stderrors.As(err, &we), "expected a WeftError, got %T", err)

	return we
}

func TestParseTree(t *testing.T) {
	root := mustParse(t, `<div class="a">Hi {{ name }}!<br/></div>`)

	want := "<#root>\n" +
		"  <div class=\"a\">\n" +
		"    \"Hi \"\n" +
		"    {{ name }}\n" +
		"    \"!\"\n" +
		"    <br>\n"
	if diff := cmp.Diff(want, component.Dump(root)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAttributes(t *testing.T) {
	root := mustParse(t, `<a href='/x' data-n=3 title="{{ user.name }}" hidden></a>`)
	a := root.Child(0)

	v, ok := a.Prop("href")
	require.True(t, ok)
	assert.Equal(t, "/x", v)
	v, _ = a.Prop("data-n")
	assert.Equal(t, "3", v)
	v, _ = a.Prop("hidden")
	assert.Equal(t, true, v)

	b, ok := a.Binding("title")
	require.True(t, ok)
	assert.Equal(t, "{{ user.name }}", b.Source())
	assert.True(t, b.Simple())
}

func TestMergeRoundTrip(t *testing.T) {
	tests := map[string]struct {
		src  string
		want string
	}{
		"comment between runs": {src: "Hello <!-- note -->World", want: "Hello World"},
		"several comments":     {src: "a<!---->b<!-- x -->c", want: "abc"},
		"inside an element":    {src: "<p>one <!-- -->two</p>", want: "one two"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			root := mustParse(t, tt.src)
			parent := root
			if root.ChildCount() == 1 && !component.IsText(root.Child(0)) {
				parent = root.Child(0)
			}

			require.Equal(t, 1, parent.ChildCount())
			v, ok := component.TextValue(parent.Child(0))
			require.True(t, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestEndParseSeesMergedText(t *testing.T) {
	c := &childCounter{}
	factory := component.NewFactory(testRegistry(), nil)
	factory.Define("Counter", c)

	_, err := parse("<Counter>a<!-- -->b</Counter>", Options{Factory: factory})
	require.NoError(t, err)
	assert.Equal(t, 1, c.children)
}

func TestMarkupInsideBindings(t *testing.T) {
	tests := map[string]struct {
		src  string
		want string
	}{
		"escaped string literal": {
			src:  `<p>{{ "<b>" }}</p>`,
			want: "<#root>\n  <p>\n    {{ \"<b>\" }}\n",
		},
		"raw string literal": {
			src:  `<p>{!! "<br>" !!}</p>`,
			want: "<#root>\n  <p>\n    {!! \"<br>\" !!}\n",
		},
		"filter argument": {
			src:  `<p>{{ name | default "<none>" }}!</p>`,
			want: "<#root>\n  <p>\n    {{ name | default \"<none>\" }}\n    \"!\"\n",
		},
		"closing tag literal": {
			src:  `<div>{{ "</div>" }}</div><br>`,
			want: "<#root>\n  <div>\n    {{ \"</div>\" }}\n  <br>\n",
		},
		"escaped brace is not a binding": {
			src:  `<p>\{{ <b>x</b></p>`,
			want: "<#root>\n  <p>\n    \"{{ \"\n    <b>\n      \"x\"\n",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			root := mustParse(t, tt.src)
			if diff := cmp.Diff(tt.want, component.Dump(root)); diff != "" {
				t.Errorf("tree mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestErrorLocality(t *testing.T) {
	src := "<div><A></B></div>"
	_, err := parse(src, Options{FilePath: "page.weft"})
	we := weftError(t, err)

	assert.Equal(t, errors.ErrCodeTagMismatch, we.Code)
	assert.Equal(t, "A", we.Component)
	assert.Equal(t, []string{"A", "div", component.RootTag}, we.Tags)
	assert.Equal(t, "B", we.Context["found"])
	assert.Equal(t, "div", we.Context["parent"])
	assert.Equal(t, "</B>", src[we.Span.Start:we.Span.End])
	assert.Equal(t, "page.weft", we.FilePath)
	assert.Equal(t, 1, we.Line)
	assert.Equal(t, 9, we.Column)
}

func TestUnknownComponentListsSearchPaths(t *testing.T) {
	_, err := parse("<Frobnicate/>", Options{})
	we := weftError(t, err)

	assert.Equal(t, errors.ErrCodeUnknownComponent, we.Code)
	assert.Equal(t, "Frobnicate", we.Component)
	assert.Equal(t, []string{"macros/app", "macros/shared"}, we.Context["search_paths"])
	assert.Contains(t, we.Error(), "macros/app, macros/shared")
	assert.Equal(t, errors.Span{Start: 0, End: 13}, we.Span)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
		// at is the source text the error span must cover
		at string
	}{
		{"duplicate attribute", `<div a="1" a="2"></div>`, errors.ErrCodeDuplicateProperty, `a="2"`},
		{"unknown attribute", `<If test="{{ x }}" foo="1"></If>`, errors.ErrCodeUnknownAttribute, `foo="1"`},
		{"mismatched close", `<div></span>`, errors.ErrCodeTagMismatch, `</span>`},
		{"stray close", `text</div>`, errors.ErrCodeTagMismatch, `</div>`},
		{"unclosed", `<div><span>`, errors.ErrCodeUnclosedTag, `<span>`},
		{"unclosed parameter tag", `<If><Test>x`, errors.ErrCodeUnclosedTag, `<Test>`},
		{"child of void element", `<br><b></b></br>`, errors.ErrCodeChildrenNotAllowed, `<b>`},
		{"text in void element", `<br>x</br>`, errors.ErrCodeChildrenNotAllowed, `x`},
		{"tag in scalar parameter", `<If><Test><b/></Test></If>`, errors.ErrCodeScalarMode, `<b/>`},
		{"parameter tag after attribute", `<If test="a"><Test>b</Test></If>`, errors.ErrCodeDuplicateProperty, `<Test>`},
		{"attribute on scalar parameter", `<If><Test x="1">a</Test></If>`, errors.ErrCodeUnknownAttribute, `x="1"`},
		{"wrong close of parameter tag", `<If><Test>a</If>`, errors.ErrCodeTagMismatch, `</If>`},
		{"unterminated text binding", `<p>{{ name</p>`, errors.ErrCodeUnbalancedDelimiter, `{`},
		{"unterminated attribute binding", `<p title="{{ x"></p>`, errors.ErrCodeUnbalancedDelimiter, `{`},
		{"unknown component", `<div><Nope/></div>`, errors.ErrCodeUnknownComponent, `<Nope/>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(tt.src, Options{})
			we := weftError(t, err)

			assert.Equal(t, tt.code, we.Code, we.Error())
			assert.Equal(t, tt.at, tt.src[we.Span.Start:we.Span.End])
			assert.NotZero(t, we.Line)
		})
	}
}

func TestLenientAttributes(t *testing.T) {
	root, err := parse(`<If test="{{ x }}" foo="1"></If>`, Options{Lenient: true})
	require.NoError(t, err)

	v, ok := root.Child(0).Prop("foo")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestParameterTags(t *testing.T) {
	root := mustParse(t, `<Card tags="a, b">
  <Title>  Hi {{ name }} </Title>
  <Body><b>bold</b></Body>
  <Item>one</Item><Item>two</Item>
</Card>`)
	card := root.Child(0)

	title, ok := card.Binding("title")
	require.True(t, ok)
	assert.Equal(t, "Hi {{ name }}", title.Source())

	tags, _ := card.Prop("tags")
	assert.Equal(t, "a, b", tags)

	v, ok := card.Prop("body")
	require.True(t, ok)
	body := v.(*component.Node)
	require.Equal(t, 1, body.ChildCount())
	assert.Equal(t, "b", body.Child(0).Tag())
	assert.Same(t, card, body.Parent())

	v, ok = card.Prop("item")
	require.True(t, ok)
	items := v.([]*component.Node)
	require.Len(t, items, 2)
	first, _ := component.TextValue(items[0].Child(0))
	second, _ := component.TextValue(items[1].Child(0))
	assert.Equal(t, []string{"one", "two"}, []string{first, second})

	for _, c := range card.Children() {
		text, ok := component.TextValue(c)
		assert.True(t, ok)
		assert.Empty(t, strings.TrimSpace(text))
	}
}

func TestScalarParameterText(t *testing.T) {
	root := mustParse(t, `<Card><Title>Plain</Title></Card><Card><Title/></Card>`)

	v, ok := root.Child(0).Prop("title")
	require.True(t, ok)
	assert.Equal(t, "Plain", v)

	v, ok = root.Child(1).Prop("title")
	require.True(t, ok)
	assert.Equal(t, "", v)
}

func TestContentAttributeBecomesHolder(t *testing.T) {
	root := mustParse(t, `<Card body="text"></Card>`)

	v, ok := root.Child(0).Prop("body")
	require.True(t, ok)
	holder := v.(*component.Node)
	require.Equal(t, 1, holder.ChildCount())
	text, _ := component.TextValue(holder.Child(0))
	assert.Equal(t, "text", text)
}

func TestScalarParameterBindingOffset(t *testing.T) {
	src := "<If><Test>\n  ok {{ x</Test></If>"
	_, err := parse(src, Options{})
	we := weftError(t, err)

	assert.Equal(t, errors.ErrCodeUnbalancedDelimiter, we.Code)
	assert.Equal(t, strings.Index(src, "{{"), we.Span.Start)
	assert.Equal(t, 2, we.Line)
}

func TestErrorSnippet(t *testing.T) {
	src := "<div>\n  <span>\n</div>"
	_, err := parse(src, Options{})
	we := weftError(t, err)

	assert.Equal(t, errors.ErrCodeTagMismatch, we.Code)
	assert.Equal(t, "span", we.Component)
	assert.Equal(t, 3, we.Line)
	assert.Equal(t, 1, we.Column)

	snippet := we.Snippet(1)
	assert.Contains(t, snippet, "   2 |   <span>")
	assert.Contains(t, snippet, "→    3 | </div>")
	assert.Contains(t, snippet, strings.Repeat(" ", 9)+"^^^^^^")
}

func TestParserIsReusable(t *testing.T) {
	p := New(Options{Factory: component.NewFactory(testRegistry(), nil)})

	for _, src := range []string{"<p>{{ a }}</p>", "<p>{{ a }}</p>"} {
		root := component.NewRoot()
		require.NoError(t, p.Parse([]byte(src), root))
		assert.Equal(t, 1, root.ChildCount())
	}
}
