// Package expr compiles data-binding expressions into Go closures.
//
// An expression is a main part followed by an optional filter pipeline:
//
//	user.name + " (" + user.role + ")" | upper | truncate 20, "..."
//
// The main part is a '+' separated list of property chains. A chain starts
// with an identifier, a literal, a named constant, '@name' (container
// property) or '#name' (named block) and continues with null-safe '.' steps.
// A leading '!' or 'not' negates the first chain. Compiled expressions are
// memoized by exact source text in a Cache.
package expr

import (
	"fmt"
	"strings"

	"github.com/conneroisu/weft/internal/errors"
)

// Scope is what an expression is evaluated against, usually a node.
type Scope interface {
	// Lookup resolves a plain identifier.
	Lookup(name string) (any, bool)
	// Container resolves '@name'.
	Container(name string) (any, bool)
	// Block resolves '#name'.
	Block(name string) (any, bool)
	// Filters returns the handler for '|' stages, nil when none is configured.
	Filters() FilterHandler
}

// Compiled is an executable expression. Instances are shared through a
// Cache and never mutated after compilation.
type Compiled struct {
	source string
	simple bool
	raw    bool
	refs   []string
	main   string
	pipe   string
	param  string
	// dynamic is set when the main part reads identifiers or blocks
	dynamic bool
	negate  bool
	chains  int
	eval    func(Scope) (any, error)
}

// Source returns the original expression text.
func (c *Compiled) Source() string { return c.source }

// Simple reports whether the expression has no filter pipeline.
func (c *Compiled) Simple() bool { return c.simple }

// Raw reports whether the expression ends in the '*' filter.
func (c *Compiled) Raw() bool { return c.raw }

// References returns the '@name' references in order of appearance.
func (c *Compiled) References() []string { return c.refs }

// Main returns the source of the expression without its pipeline.
func (c *Compiled) Main() string { return c.main }

// Pipe returns the pipeline source after the first '|', or "".
func (c *Compiled) Pipe() string { return c.pipe }

// Parameter returns name when the main part is exactly '@name'.
func (c *Compiled) Parameter() (string, bool) {
	return c.param, c.param != ""
}

// Dynamic reports whether the expression reads anything besides literals
// and '@name' references, that is identifiers or '#name' blocks.
func (c *Compiled) Dynamic() bool { return c.dynamic }

// Chain reports whether the expression is a single property chain with no
// negation and no pipeline, so it can be inlined where a chain head goes.
func (c *Compiled) Chain() bool {
	return c.chains == 1 && !c.negate && c.simple
}

// Concatenable reports whether the expression can be joined with others by
// '+' without changing its meaning.
func (c *Compiled) Concatenable() bool {
	return !c.negate && c.simple
}

// Eval evaluates the expression against s.
func (c *Compiled) Eval(s Scope) (any, error) {
	return c.eval(s)
}

func compile(src string, constants map[string]any) (*Compiled, error) {
	trimmed := strings.TrimSpace(src)
	n, err := parse(trimmed, constants)
	if err != nil {
		return nil, err
	}

	c := &Compiled{
		source: src,
		simple: len(n.filters) == 0,
		main:   trimmed,
	}
	if n.pipeStart >= 0 {
		c.main = strings.TrimSpace(trimmed[:n.pipeStart])
		c.pipe = strings.TrimSpace(trimmed[n.pipeStart+1:])
	}

	c.negate = n.negate
	c.chains = len(n.parts)
	for _, part := range n.parts {
		switch part.head.kind {
		case segContainer:
			c.refs = append(c.refs, part.head.name)
		case segIdent, segBlock:
			c.dynamic = true
		}
	}
	if !n.negate && len(n.parts) == 1 && n.parts[0].head.kind == segContainer && len(n.parts[0].steps) == 0 {
		c.param = n.parts[0].head.name
	}

	mainFn := compileMain(n)
	filters := n.filters
	for _, f := range filters {
		if f.raw {
			c.raw = true
		}
	}

	if len(filters) == 0 {
		c.eval = mainFn

		return c, nil
	}

	c.eval = func(s Scope) (any, error) {
		v, err := mainFn(s)
		if err != nil {
			return nil, err
		}

		return applyFilters(s, filters, v)
	}

	return c, nil
}

func applyFilters(s Scope, filters []filterCall, v any) (any, error) {
	handler := s.Filters()
	for _, f := range filters {
		if f.raw {
			continue
		}
		if handler == nil || !handler.HasFilter(f.name) {
			return nil, errors.NewBindingError(errors.ErrCodeUnknownFilter,
				fmt.Sprintf("unknown filter %q", f.name)).WithContext("filter", f.name)
		}
		out, err := handler.Filter(f.name, v, f.args)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBinding, errors.ErrCodeFilterFailed,
				fmt.Sprintf("filter %q failed", f.name))
		}
		v = out
	}

	return v, nil
}

func compileMain(n *node) func(Scope) (any, error) {
	chains := make([]func(Scope) any, len(n.parts))
	for i, part := range n.parts {
		chains[i] = compileChain(part)
	}
	negate := n.negate

	if len(chains) == 1 {
		fn := chains[0]
		if negate {
			return func(s Scope) (any, error) {
				return !Truthy(fn(s)), nil
			}
		}

		return func(s Scope) (any, error) {
			return fn(s), nil
		}
	}

	return func(s Scope) (any, error) {
		var sb strings.Builder
		for i, fn := range chains {
			v := fn(s)
			if i == 0 && negate {
				v = !Truthy(v)
			}
			sb.WriteString(ToString(v))
		}

		return sb.String(), nil
	}
}

func compileChain(c chain) func(Scope) any {
	head := compileSegment(c.head)
	if len(c.steps) == 0 {
		return head
	}
	steps := c.steps

	return func(s Scope) any {
		v := head(s)
		for _, step := range steps {
			if v == nil {
				return nil
			}
			v = Step(v, step)
		}

		return v
	}
}

func compileSegment(seg segment) func(Scope) any {
	name := seg.name
	switch seg.kind {
	case segLiteral:
		v := seg.value

		return func(Scope) any { return v }
	case segContainer:
		return func(s Scope) any {
			v, _ := s.Container(name)

			return v
		}
	case segBlock:
		return func(s Scope) any {
			v, _ := s.Block(name)

			return v
		}
	default:
		return func(s Scope) any {
			v, _ := s.Lookup(name)

			return v
		}
	}
}
