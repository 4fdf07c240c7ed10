package engine

import (
	"bytes"
	"context"
	"io"

	"github.com/conneroisu/weft/internal/component"
	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/macro"
	"github.com/conneroisu/weft/internal/parser"
)

// Document is one rendering context: a parsed tree and the macros visible
// to it. Macros defined inline and macros loaded from files for this
// document share one table.
type Document struct {
	engine *Engine
	path   string
	table  *macro.Table
	root   *component.Node
}

// Path returns the file the document was read from.
func (d *Document) Path() string { return d.path }

// Root returns the parsed tree.
func (d *Document) Root() *component.Node { return d.root }

// Macros returns the document's macro table.
func (d *Document) Macros() *macro.Table { return d.table }

// Parse parses src and appends the result to the document. It may be
// called more than once; later sources see the macros of earlier ones.
func (d *Document) Parse(ctx context.Context, src []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loader := &fileLoader{engine: d.engine, ctx: ctx}
	p := d.engine.parser(d.table, loader, d.table.Define, d.path)
	if err := p.Parse(src, d.root); err != nil {
		return errors.WithFile(err, d.path)
	}
	d.engine.logger.Debug(ctx, "Parsed template",
		"file", d.path,
		"macros", d.table.Len())

	return nil
}

// Render writes the document to w. data is the view-model consulted for
// identifiers that are not properties.
func (d *Document) Render(w io.Writer, data any) error {
	cfg := d.engine.config.Render
	rc := component.NewRenderContext(w,
		component.WithData(data),
		component.WithFilters(d.engine.filters),
		component.WithIDGenerator(d.engine.ids),
		component.WithAutoIDs(cfg.AutoIDs),
		component.WithEscape(cfg.Escape),
	)
	if err := component.Render(rc, d.root); err != nil {
		return errors.WithFile(err, d.path)
	}

	return nil
}

// RenderString renders the document into a string.
func (d *Document) RenderString(data any) (string, error) {
	var buf bytes.Buffer
	if err := d.Render(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// parser builds a parser whose factory knows <Macro>, resolves calls
// against table and then loader, and hands new definitions to define.
func (e *Engine) parser(table *macro.Table, loader macro.Loader, define func(*macro.Macro) error, path string) *parser.Parser {
	factory := component.NewFactory(e.registry, macro.NewResolver(table, loader))
	factory.Define(macro.DefinitionTag, macro.NewDefinitionKind(define, macro.Options{
		Cache:   e.cache,
		Filters: e.filters,
		Source:  path,
	}))

	return parser.New(parser.Options{
		Factory:  factory,
		Cache:    e.cache,
		FilePath: path,
		Lenient:  !e.config.Components.StrictAttributes,
	})
}
