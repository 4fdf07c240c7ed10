package component

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/conneroisu/weft/internal/errors"
)

// MacroResolver finds macro call kinds for tags that are not registered.
type MacroResolver interface {
	// ResolveMacro returns the call kind for tag, or nil when no macro exists.
	ResolveMacro(tag string) (Kind, error)
	// SearchPaths lists the directories searched for macro files.
	SearchPaths() []string
}

// Factory turns tag names into nodes.
type Factory struct {
	local    map[string]Kind
	registry *Registry
	macros   MacroResolver
}

// NewFactory creates a factory over a registry. macros may be nil.
func NewFactory(registry *Registry, macros MacroResolver) *Factory {
	if registry == nil {
		registry = NewRegistry()
	}

	return &Factory{
		local:    make(map[string]Kind),
		registry: registry,
		macros:   macros,
	}
}

// Define registers a kind for this factory only, ahead of the registry.
func (f *Factory) Define(tag string, kind Kind) {
	f.local[tag] = kind
}

// Create resolves tag: locally defined kinds, the registry, lowercase HTML
// elements and finally macros. parent is only used for diagnostics.
func (f *Factory) Create(tag string, parent *Node) (*Node, error) {
	if kind, ok := f.local[tag]; ok {
		return New(tag, kind), nil
	}
	if kind, ok := f.registry.Get(tag); ok {
		return New(tag, kind), nil
	}
	if IsElementTag(tag) {
		return New(tag, NewElementKind(tag)), nil
	}
	if f.macros != nil {
		kind, err := f.macros.ResolveMacro(tag)
		if err != nil {
			return nil, err
		}
		if kind != nil {
			return New(tag, kind), nil
		}
	}

	return nil, f.unknown(tag, parent)
}

func (f *Factory) unknown(tag string, parent *Node) error {
	var paths []string
	if f.macros != nil {
		paths = f.macros.SearchPaths()
	}

	msg := fmt.Sprintf("unknown component <%s>", tag)
	if parent != nil {
		msg += fmt.Sprintf(" inside <%s>", parent.Tag())
	}
	if len(paths) == 0 {
		msg += "; no macro search paths are configured"
	} else {
		msg += fmt.Sprintf("; no macro file for it in: %s", strings.Join(paths, ", "))
	}

	err := errors.NewParseError(errors.ErrCodeUnknownComponent, msg).
		WithComponent(tag).
		WithContext("search_paths", paths)
	if parent != nil {
		err = err.WithContext("parent", parent.Tag())
	}

	return err
}

// IsElementTag reports whether tag names a plain HTML element, that is it
// starts with a lowercase letter.
func IsElementTag(tag string) bool {
	r, _ := utf8.DecodeRuneInString(tag)

	return r != utf8.RuneError && unicode.IsLower(r)
}
