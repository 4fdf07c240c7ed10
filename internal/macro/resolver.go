package macro

import (
	"fmt"
	"strings"

	"github.com/conneroisu/weft/internal/component"
	"github.com/conneroisu/weft/internal/errors"
)

// Loader finds macro definitions outside the document, usually in files
// named after the tag.
type Loader interface {
	// LoadMacros returns the macros defined by the file for tag and the
	// file's path. An empty path means no file exists for tag.
	LoadMacros(tag string) ([]*Macro, string, error)
	// SearchPaths lists where files are looked up.
	SearchPaths() []string
}

// Resolver resolves call tags for a component factory: first against the
// document's table, then through the loader. Loaded macros are added to
// the table.
type Resolver struct {
	table  *Table
	loader Loader
}

// NewResolver creates a resolver. loader may be nil.
func NewResolver(table *Table, loader Loader) *Resolver {
	return &Resolver{table: table, loader: loader}
}

// ResolveMacro returns the call kind for tag, or nil when no macro and no
// file exists for it.
func (r *Resolver) ResolveMacro(tag string) (component.Kind, error) {
	if m, ok := r.table.Get(tag); ok {
		return NewCallKind(m), nil
	}
	if r.loader == nil {
		return nil, nil
	}

	macros, path, err := r.loader.LoadMacros(tag)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	names := make([]string, 0, len(macros))
	for _, m := range macros {
		names = append(names, m.Name)
		if _, ok := r.table.Get(m.Name); ok {
			// the document's own definition wins
			continue
		}
		if err := r.table.Define(m); err != nil {
			return nil, err
		}
	}

	m, ok := r.table.Get(tag)
	if !ok {
		return nil, errors.NewMacroError(errors.ErrCodeMacroNotDefined,
			fmt.Sprintf("%s does not define macro %s (it defines: %s)", path, tag, strings.Join(names, ", "))).
			WithContext("macro", tag).
			WithContext("file", path)
	}

	return NewCallKind(m), nil
}

// SearchPaths returns the loader's search paths.
func (r *Resolver) SearchPaths() []string {
	if r.loader == nil {
		return nil
	}

	return r.loader.SearchPaths()
}

// Table returns the table the resolver defines into.
func (r *Resolver) Table() *Table { return r.table }
