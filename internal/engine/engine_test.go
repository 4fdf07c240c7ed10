package engine

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/weft/internal/component"
	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/errors"
)

const cardFile = `<Macro name="Card" default="body"><Param name="title" default="Untitled"/><Param name="body" type="content"/>` +
	`<div class="card"><h2>{{ @title }}</h2>{{ @body }}</div></Macro>
<Macro name="CardFooter"><p>footer</p></Macro>
`

type fixture struct {
	dir    string
	macros string
	shared string
	config *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:    dir,
		macros: filepath.Join(dir, "macros"),
		shared: filepath.Join(dir, "shared"),
		config: config.Default(),
	}
	require.NoError(t, os.MkdirAll(f.macros, 0o755))
	require.NoError(t, os.MkdirAll(f.shared, 0o755))
	f.config.Macros.Paths = []string{f.macros, f.shared}
	f.config.Templates.Paths = []string{dir}

	return f
}

func (f *fixture) write(t *testing.T, path, content string) string {
	t.Helper()
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.dir, path)
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func (f *fixture) engine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(f.config)
	require.NoError(t, err)

	return e
}

func render(t *testing.T, e *Engine, src string, data any) string {
	t.Helper()
	d, err := e.Parse(context.Background(), []byte(src), "page.weft")
	require.NoError(t, err)
	out, err := d.RenderString(data)
	require.NoError(t, err)

	return out
}

func weftError(t *testing.T, err error) *errors.WeftError {
	t.Helper()
	require.Error(t, err)
	var we *errors.WeftError
	require.True(t, stderrors.As(err, &we), "expected a WeftError, got %T", err)

	return we
}

func TestRenderMacroFromFile(t *testing.T) {
	f := newFixture(t)
	f.write(t, filepath.Join(f.shared, "card.weft"), cardFile)
	e := f.engine(t)

	d, err := e.Parse(context.Background(), []byte(`<Card title="{{ page.title }}">Hello</Card><Card/>`), "page.weft")
	require.NoError(t, err)
	out, err := d.RenderString(map[string]any{"page": map[string]any{"title": "Home"}})
	require.NoError(t, err)

	assert.Equal(t, `<div class="card"><h2>Home</h2>Hello</div><div class="card"><h2>Untitled</h2></div>`, out)
	assert.Equal(t, []string{"Card", "CardFooter"}, d.Macros().Names())
}

func TestUnknownTagListsSearchPaths(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine(t).Parse(context.Background(), []byte(`<Frobnicate/>`), "page.weft")
	we := weftError(t, err)

	assert.Equal(t, errors.ErrCodeUnknownComponent, we.Code)
	assert.Equal(t, []string{f.macros, f.shared}, we.Context["search_paths"])
	assert.Contains(t, we.Error(), f.macros)
	assert.Contains(t, we.Error(), f.shared)
	assert.Equal(t, "page.weft", we.FilePath)
}

func TestMacroFileWithoutTheMacro(t *testing.T) {
	f := newFixture(t)
	f.write(t, filepath.Join(f.macros, "widget.weft"), `<Macro name="Gadget"><p/></Macro>`)

	_, err := f.engine(t).Parse(context.Background(), []byte(`<Widget/>`), "page.weft")
	we := weftError(t, err)

	assert.True(t, errors.HasCode(we, errors.ErrCodeMacroNotDefined))
	assert.Contains(t, we.Error(), "Gadget")
}

func TestFirstSearchDirectoryWins(t *testing.T) {
	f := newFixture(t)
	f.write(t, filepath.Join(f.macros, "note.weft"), `<Macro name="Note"><b>first</b></Macro>`)
	f.write(t, filepath.Join(f.shared, "note.weft"), `<Macro name="Note"><i>second</i></Macro>`)

	assert.Equal(t, "<b>first</b>", render(t, f.engine(t), `<Note/>`, nil))
}

func TestInlineMacroWinsOverFile(t *testing.T) {
	f := newFixture(t)
	f.write(t, filepath.Join(f.macros, "card.weft"), cardFile)
	e := f.engine(t)

	out := render(t, e, `<Macro name="Card"><em>inline</em></Macro><Card/>`, nil)
	assert.Equal(t, "<em>inline</em>", out)
	assert.Equal(t, int64(0), e.Definitions().Stats().Sets, "the file is never read")
}

func TestDefinitionCacheFollowsModTime(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, filepath.Join(f.macros, "note.weft"), `<Macro name="Note"><b>one</b></Macro>`)
	e := f.engine(t)

	assert.Equal(t, "<b>one</b>", render(t, e, `<Note/>`, nil))
	assert.Equal(t, "<b>one</b>", render(t, e, `<Note/>`, nil))
	stats := e.Definitions().Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Sets)

	f.write(t, path, `<Macro name="Note"><b>two</b></Macro>`)
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	assert.Equal(t, "<b>two</b>", render(t, e, `<Note/>`, nil))

	assert.True(t, e.Invalidate(path))
	assert.False(t, e.Invalidate(path))
}

func TestDisabledDefinitionCache(t *testing.T) {
	f := newFixture(t)
	f.write(t, filepath.Join(f.macros, "note.weft"), `<Macro name="Note"><b>one</b></Macro>`)
	f.config.Macros.CacheSize = 0
	e := f.engine(t)

	assert.Nil(t, e.Definitions())
	assert.Equal(t, "<b>one</b>", render(t, e, `<Note/>`, nil))
	assert.False(t, e.Invalidate(filepath.Join(f.macros, "note.weft")))
}

func TestMacroFilesCallEachOther(t *testing.T) {
	f := newFixture(t)
	f.write(t, filepath.Join(f.macros, "frame.weft"), `<Macro name="Frame" default="body"><Param name="body" type="content"/><section>{{ @body }}</section></Macro>`)
	f.write(t, filepath.Join(f.macros, "page.weft"), `<Macro name="Page"><Frame><h1>title</h1></Frame></Macro>`)
	e := f.engine(t)

	assert.Equal(t, "<section><h1>title</h1></section>", render(t, e, `<Page/>`, nil))

	macros, err := e.LoadMacroFile(context.Background(), filepath.Join(f.macros, "page.weft"))
	require.NoError(t, err)
	require.Len(t, macros, 1, "macros loaded for a file's own use are not part of it")
	assert.Equal(t, "Page", macros[0].Name)
}

func TestMacroFileCycle(t *testing.T) {
	f := newFixture(t)
	f.write(t, filepath.Join(f.macros, "ping.weft"), `<Macro name="Ping"><Pong/></Macro>`)
	f.write(t, filepath.Join(f.macros, "pong.weft"), `<Macro name="Pong"><Ping/></Macro>`)

	_, err := f.engine(t).Parse(context.Background(), []byte(`<Ping/>`), "page.weft")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMacroCycle), err.Error())
}

func TestErrorsInMacroFilesPointAtTheFile(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, filepath.Join(f.macros, "broken.weft"), "<Macro name=\"Broken\">\n<p></div></Macro>")

	_, err := f.engine(t).Parse(context.Background(), []byte(`<Broken/>`), "page.weft")
	we := weftError(t, err)

	assert.Equal(t, errors.ErrCodeTagMismatch, we.Code)
	assert.Equal(t, path, we.FilePath)
	assert.Equal(t, 2, we.Line)
}

func TestLoadMacroFile(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, filepath.Join(f.macros, "card.weft"), cardFile)
	e := f.engine(t)

	macros, err := e.LoadMacroFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, macros, 2)
	assert.Equal(t, "Card", macros[0].Name)
	assert.Equal(t, "CardFooter", macros[1].Name)
	assert.Equal(t, path, macros[0].Source)
	assert.Equal(t, "Card(title any, body content default)", macros[0].Signature())

	_, err = e.LoadMacroFile(context.Background(), filepath.Join(f.macros, "missing.weft"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeMacroFileNotFound))
}

func TestRegistryFile(t *testing.T) {
	f := newFixture(t)
	f.config.Components.RegistryFile = f.write(t, "tags.yml", "tags:\n  Show: if\n")
	e := f.engine(t)

	assert.Equal(t, "yes", render(t, e, `<Show test="{{ ok }}">yes</Show>`, map[string]any{"ok": true}))
	assert.Equal(t, "", render(t, e, `<Show test="{{ ok }}">yes</Show>`, map[string]any{"ok": false}))

	f.config.Components.RegistryFile = filepath.Join(f.dir, "missing.yml")
	_, err := New(f.config)
	assert.Error(t, err)
}

func TestReloadRegistry(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "tags.yml", "tags:\n  Show: if\n  If: each\n")
	f.config.Components.RegistryFile = path
	e := f.engine(t)

	assert.True(t, e.IsRegistryFile(path))
	assert.False(t, e.IsRegistryFile(filepath.Join(f.dir, "page.weft")))

	events := e.Registry().Watch()
	defer e.Registry().UnWatch(events)

	f.write(t, "tags.yml", "tags:\n  Hide: if\n")
	require.NoError(t, e.ReloadRegistry(context.Background()))

	_, ok := e.Registry().Get("Show")
	assert.False(t, ok)
	kind, ok := e.Registry().Get("If")
	require.True(t, ok)
	assert.Equal(t, component.If, kind, "built-in tags are restored")
	assert.Equal(t, "", render(t, e, `<Hide test="{{ ok }}">x</Hide>`, map[string]any{"ok": false}))

	var removed []string
	for len(events) > 0 {
		if ev := <-events; ev.Type == component.EventTypeRemoved {
			removed = append(removed, ev.Tag)
		}
	}
	assert.Equal(t, []string{"Show"}, removed)

	f.write(t, "tags.yml", "tags:\n  X: widget\n")
	err := e.ReloadRegistry(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, weftError(t, err).Line, "the failing entry is located")
	_, ok = e.Registry().Get("Hide")
	assert.True(t, ok, "a failed reload keeps the registry")
}

func TestRenderSettings(t *testing.T) {
	f := newFixture(t)
	data := map[string]any{"html": "<b>"}

	assert.Equal(t, "&lt;b&gt;", render(t, f.engine(t), `{{ html }}`, data))

	f.config.Render.Escape = false
	assert.Equal(t, "<b>", render(t, f.engine(t), `{{ html }}`, data))
}

func TestRenderMarkupInBindings(t *testing.T) {
	e := newFixture(t).engine(t)

	assert.Equal(t, "<p>&lt;b&gt;</p>", render(t, e, `<p>{{ "<b>" }}</p>`, nil))
	assert.Equal(t, "<p><br></p>", render(t, e, `<p>{!! "<br>" !!}</p>`, nil))
	assert.Equal(t, "<p>&lt;none&gt;</p>", render(t, e, `<p>{{ name | default "<none>" }}</p>`, nil))
	assert.Equal(t, `<a href="/home">/home</a>`,
		render(t, e, `<a href="{{ href }}">{{ href }}</a>`, map[string]any{"href": "/home"}))
}

func TestStrictAttributes(t *testing.T) {
	f := newFixture(t)
	src := []byte(`<If test="{{ ok }}" foo="1">x</If>`)

	_, err := f.engine(t).Parse(context.Background(), src, "page.weft")
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnknownAttribute))

	f.config.Components.StrictAttributes = false
	_, err = f.engine(t).Parse(context.Background(), src, "page.weft")
	assert.NoError(t, err)
}

func TestParseFile(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "index.weft", `<p>{{ name | upper }}</p>`)
	e := f.engine(t)

	var sb strings.Builder
	require.NoError(t, e.RenderFile(context.Background(), &sb, path, map[string]any{"name": "ann"}))
	assert.Equal(t, "<p>ANN</p>", sb.String())

	_, err := e.ParseFile(context.Background(), filepath.Join(f.dir, "missing.weft"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeFileNotFound))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.ParseFile(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsMacroFile(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)

	assert.True(t, e.IsMacroFile(filepath.Join(f.macros, "card.weft")))
	assert.True(t, e.IsMacroFile(filepath.Join(f.shared, "x.weft")))
	assert.False(t, e.IsMacroFile(filepath.Join(f.macros, "card.txt")))
	assert.False(t, e.IsMacroFile(filepath.Join(f.dir, "card.weft")))
}

func TestDocumentsShareAutoIDs(t *testing.T) {
	f := newFixture(t)
	f.config.Components.RegistryFile = f.write(t, "tags.yml", "tags:\n  Panel:\n    kind: element\n    element: section\n    auto_id: panel\n")
	e := f.engine(t)

	first := render(t, e, `<Panel/>`, nil)
	second := render(t, e, `<Panel/>`, nil)
	assert.Equal(t, `<section id="panel1"></section>`, first)
	assert.Equal(t, `<section id="panel2"></section>`, second)
}
