// Package engine wires the template parser, the expression compiler, the
// component tree and macro expansion together.
//
// An Engine holds everything shared by a process: configuration, the tag
// registry, the compiled expression cache, filters, the cache of macros
// loaded from files and the automatic id generator. A Document is one
// rendering context with its own macro table. Engines are safe for
// concurrent use; documents are not.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/conneroisu/weft/internal/component"
	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/expr"
	"github.com/conneroisu/weft/internal/logging"
	"github.com/conneroisu/weft/internal/macro"
)

// Engine parses and renders templates.
type Engine struct {
	config      *config.Config
	registry    *component.Registry
	cache       *expr.Cache
	filters     expr.FilterHandler
	definitions *macro.DefinitionCache
	ids         *component.IDGenerator
	logger      logging.Logger

	registryMu   sync.Mutex
	registryTags []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Nothing is logged by default.
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithFilters replaces the default filter set.
func WithFilters(filters expr.FilterHandler) Option {
	return func(e *Engine) { e.filters = filters }
}

// WithRegistry replaces the tag registry. The configured registry file is
// still loaded into it.
func WithRegistry(registry *component.Registry) Option {
	return func(e *Engine) { e.registry = registry }
}

// WithCache shares an expression cache between engines.
func WithCache(cache *expr.Cache) Option {
	return func(e *Engine) { e.cache = cache }
}

// New creates an engine. A nil config means config.Default().
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	e := &Engine{
		config:   cfg,
		registry: component.DefaultRegistry(),
		cache:    expr.NewCache(),
		filters:  expr.DefaultFilters(),
		ids:      component.NewIDGenerator(),
		logger:   logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("engine")

	if cfg.Macros.CacheSize > 0 {
		e.definitions = macro.NewDefinitionCache(cfg.Macros.CacheSize, cfg.Macros.CacheTTL)
	}

	if err := e.ReloadRegistry(context.Background()); err != nil {
		return nil, err
	}

	return e, nil
}

// ReloadRegistry loads the configured registry file into the registry. Tags
// an earlier load declared that the file no longer does are removed, or
// restored when they are built in. On error the registry is unchanged.
func (e *Engine) ReloadRegistry(ctx context.Context) error {
	file := e.config.Components.RegistryFile
	if file == "" {
		return nil
	}

	e.registryMu.Lock()
	defer e.registryMu.Unlock()

	tags, err := e.registry.LoadFile(file)
	if err != nil {
		return err
	}
	declared := make(map[string]bool, len(tags))
	for _, tag := range tags {
		declared[tag] = true
	}
	builtins := component.DefaultRegistry()
	for _, tag := range e.registryTags {
		if declared[tag] {
			continue
		}
		if kind, ok := builtins.Get(tag); ok {
			e.registry.Register(tag, kind)
		} else {
			e.registry.Remove(tag)
		}
	}
	e.registryTags = tags

	e.logger.Debug(ctx, "Loaded tag registry",
		"file", file,
		"tags", e.registry.Count())

	return nil
}

// IsRegistryFile reports whether path is the configured registry file.
func (e *Engine) IsRegistryFile(path string) bool {
	file := e.config.Components.RegistryFile

	return file != "" && cacheKey(file) == cacheKey(path)
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config { return e.config }

// Registry returns the tag registry.
func (e *Engine) Registry() *component.Registry { return e.registry }

// Cache returns the compiled expression cache.
func (e *Engine) Cache() *expr.Cache { return e.cache }

// Definitions returns the cache of macros loaded from files, or nil when
// caching is disabled.
func (e *Engine) Definitions() *macro.DefinitionCache { return e.definitions }

// NewDocument creates an empty document. path is used for error reporting
// and may be empty.
func (e *Engine) NewDocument(path string) *Document {
	return &Document{
		engine: e,
		path:   path,
		table:  macro.NewTable(),
		root:   component.NewRoot(),
	}
}

// Parse parses src into a new document.
func (e *Engine) Parse(ctx context.Context, src []byte, path string) (*Document, error) {
	d := e.NewDocument(path)
	if err := d.Parse(ctx, src); err != nil {
		return nil, err
	}

	return d, nil
}

// ParseFile reads and parses the template at path.
func (e *Engine) ParseFile(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeFileNotFound,
			fmt.Sprintf("reading template %s", path))
	}

	return e.Parse(ctx, src, path)
}

// RenderFile parses the template at path and renders it to w.
func (e *Engine) RenderFile(ctx context.Context, w io.Writer, path string, data any) error {
	d, err := e.ParseFile(ctx, path)
	if err != nil {
		return err
	}

	return d.Render(w, data)
}

// Invalidate drops the cached macros loaded from path. It reports whether
// anything was cached.
func (e *Engine) Invalidate(path string) bool {
	if e.definitions == nil {
		return false
	}
	key := cacheKey(path)
	dropped := e.definitions.Invalidate(key)
	if dropped {
		e.logger.Debug(context.Background(), "Invalidated macro file", "file", key)
	}

	return dropped
}

// IsMacroFile reports whether path has the macro extension and lies in one
// of the macro search directories.
func (e *Engine) IsMacroFile(path string) bool {
	if filepath.Ext(path) != e.config.Macros.Extension {
		return false
	}
	dir := cacheKey(filepath.Dir(path))
	for _, p := range e.config.Macros.Paths {
		if cacheKey(p) == dir {
			return true
		}
	}

	return false
}

// MacroFile finds the file that should define tag: the lower-cased tag
// name with the macro extension, in the first search directory holding it.
func (e *Engine) MacroFile(tag string) (string, os.FileInfo, bool) {
	name := component.FoldName(tag) + e.config.Macros.Extension
	for _, dir := range e.config.Macros.Paths {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, info, true
		}
	}

	return "", nil, false
}

// LoadMacroFile returns the macros defined by the file at path.
func (e *Engine) LoadMacroFile(ctx context.Context, path string) ([]*macro.Macro, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeMacroFileNotFound,
			fmt.Sprintf("reading macro file %s", path))
	}

	return e.loadMacroFile(ctx, path, info, nil)
}

// loadMacroFile parses a macro file in a context of its own, so the
// definitions it yields do not depend on the document that asked for them.
// chain holds the files being loaded, outermost first.
func (e *Engine) loadMacroFile(ctx context.Context, path string, info os.FileInfo, chain []string) ([]*macro.Macro, error) {
	key := cacheKey(path)
	for i, loading := range chain {
		if loading == key {
			files := append(append([]string{}, chain[i:]...), key)

			return nil, errors.NewMacroError(errors.ErrCodeMacroCycle,
				fmt.Sprintf("macro files load each other: %s", strings.Join(files, " -> "))).
				WithContext("files", files)
		}
	}

	if e.definitions != nil {
		if macros, ok := e.definitions.Get(key, info.ModTime()); ok {
			return macros, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeMacroFileNotFound,
			fmt.Sprintf("reading macro file %s", path))
	}

	table := macro.NewTable()
	var defined []*macro.Macro
	define := func(m *macro.Macro) error {
		if err := table.Define(m); err != nil {
			return err
		}
		defined = append(defined, m)

		return nil
	}
	loader := &fileLoader{engine: e, ctx: ctx, chain: append(append([]string{}, chain...), key)}

	root := component.NewRoot()
	if err := e.parser(table, loader, define, path).Parse(src, root); err != nil {
		return nil, err
	}
	if !blank(root) {
		e.logger.Warn(ctx, nil, "Macro file has content outside definitions",
			"file", path)
	}

	if e.definitions != nil {
		e.definitions.Set(key, info.ModTime(), defined)
	}
	e.logger.Debug(ctx, "Loaded macro file",
		"file", path,
		"macros", len(defined))

	return defined, nil
}

// cacheKey normalizes a path so watcher events and lookups agree.
func cacheKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}

	return filepath.Clean(path)
}

// blank reports whether root holds only whitespace text.
func blank(root *component.Node) bool {
	for _, c := range root.Children() {
		text, ok := component.TextValue(c)
		if !ok || strings.TrimSpace(text) != "" {
			return false
		}
	}

	return true
}
