package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/conneroisu/weft/internal/errors"
)

type segmentKind int

const (
	segIdent segmentKind = iota
	segLiteral
	segContainer
	segBlock
)

// segment is the head of a property chain.
type segment struct {
	kind  segmentKind
	name  string
	value any
}

// chain is a segment followed by null-safe '.' steps.
type chain struct {
	head  segment
	steps []string
}

// filterCall is one '|' stage of the pipeline.
type filterCall struct {
	name string
	args []any
	raw  bool
}

// node is the parsed form of one expression.
type node struct {
	negate    bool
	parts     []chain // joined by '+'
	filters   []filterCall
	pipeStart int // offset of the first '|', -1 without pipeline
}

type exprParser struct {
	src       string
	tokens    []token
	pos       int
	constants map[string]any
}

func parse(src string, constants map[string]any) (*node, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{src: src, tokens: tokens, constants: constants}

	return p.parseExpr()
}

func (p *exprParser) peek() token {
	return p.tokens[p.pos]
}

func (p *exprParser) next() token {
	t := p.tokens[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}

	return t
}

func (p *exprParser) expect(typ tokenType) (token, error) {
	t := p.next()
	if t.typ != typ {
		return t, p.unexpected(t, typ.String())
	}

	return t, nil
}

func (p *exprParser) unexpected(t token, want string) error {
	return syntaxError(p.src, t.start, fmt.Sprintf("expected %s, found %s", want, describe(t)))
}

func describe(t token) string {
	switch t.typ {
	case tokIdent, tokNumber:
		return fmt.Sprintf("%s %q", t.typ, t.text)
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	default:
		return t.typ.String()
	}
}

func (p *exprParser) parseExpr() (*node, error) {
	n := &node{pipeStart: -1}
	if p.peek().typ == tokEOF {
		return nil, syntaxError(p.src, 0, "empty expression")
	}

	switch t := p.peek(); {
	case t.typ == tokBang:
		p.next()
		n.negate = true
	case t.typ == tokIdent && t.text == "not" && p.tokens[p.pos+1].typ != tokEOF &&
		p.tokens[p.pos+1].typ != tokDot && p.tokens[p.pos+1].typ != tokPipe &&
		p.tokens[p.pos+1].typ != tokPlus:
		p.next()
		n.negate = true
	}

	c, err := p.parseChain()
	if err != nil {
		return nil, err
	}
	n.parts = append(n.parts, c)

	for p.peek().typ == tokPlus {
		p.next()
		c, err := p.parseChain()
		if err != nil {
			return nil, err
		}
		n.parts = append(n.parts, c)
	}

	for p.peek().typ == tokPipe {
		pipe := p.next()
		if n.pipeStart < 0 {
			n.pipeStart = pipe.start
		}
		f, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		n.filters = append(n.filters, f)
	}

	if t := p.peek(); t.typ != tokEOF {
		return nil, p.unexpected(t, "'+', '|' or end of expression")
	}

	return n, nil
}

func (p *exprParser) parseChain() (chain, error) {
	head, err := p.parseSegment()
	if err != nil {
		return chain{}, err
	}
	c := chain{head: head}

	for p.peek().typ == tokDot {
		p.next()
		t := p.next()
		switch t.typ {
		case tokIdent, tokNumber:
			c.steps = append(c.steps, t.text)
		default:
			return chain{}, p.unexpected(t, "property name after '.'")
		}
	}

	return c, nil
}

func (p *exprParser) parseSegment() (segment, error) {
	t := p.next()
	switch t.typ {
	case tokIdent:
		if v, ok := p.constant(t.text); ok {
			return segment{kind: segLiteral, name: t.text, value: v}, nil
		}

		return segment{kind: segIdent, name: t.text}, nil
	case tokString:
		return segment{kind: segLiteral, value: t.text}, nil
	case tokNumber:
		v, err := parseNumber(t.text)
		if err != nil {
			return segment{}, syntaxError(p.src, t.start, err.Error())
		}

		return segment{kind: segLiteral, value: v}, nil
	case tokAt:
		name, err := p.expect(tokIdent)
		if err != nil {
			return segment{}, err
		}

		return segment{kind: segContainer, name: name.text}, nil
	case tokHash:
		name, err := p.expect(tokIdent)
		if err != nil {
			return segment{}, err
		}

		return segment{kind: segBlock, name: name.text}, nil
	default:
		return segment{}, p.unexpected(t, "identifier, literal, '@name' or '#name'")
	}
}

func (p *exprParser) parseFilter() (filterCall, error) {
	t := p.next()
	switch t.typ {
	case tokStar:
		return filterCall{name: "*", raw: true}, nil
	case tokIdent:
	default:
		return filterCall{}, p.unexpected(t, "filter name")
	}

	f := filterCall{name: t.text}
	if p.peek().typ == tokColon {
		p.next()
	}
	if !p.atArgument() {
		return f, nil
	}

	for {
		arg, err := p.parseArgument()
		if err != nil {
			return filterCall{}, err
		}
		f.args = append(f.args, arg)
		if p.peek().typ != tokComma {
			break
		}
		p.next()
	}

	return f, nil
}

func (p *exprParser) atArgument() bool {
	switch p.peek().typ {
	case tokString, tokNumber, tokIdent:
		return true
	default:
		return false
	}
}

func (p *exprParser) parseArgument() (any, error) {
	t := p.next()
	switch t.typ {
	case tokString:
		return t.text, nil
	case tokNumber:
		v, err := parseNumber(t.text)
		if err != nil {
			return nil, syntaxError(p.src, t.start, err.Error())
		}

		return v, nil
	case tokIdent:
		if v, ok := p.constant(t.text); ok {
			return v, nil
		}

		return nil, syntaxError(p.src, t.start,
			fmt.Sprintf("filter arguments must be literals, found identifier %q", t.text))
	default:
		return nil, p.unexpected(t, "filter argument")
	}
}

func (p *exprParser) constant(name string) (any, bool) {
	switch name {
	case "true":
		return true, true
	case "false":
		return false, true
	case "null", "nil":
		return nil, true
	}
	if p.constants != nil {
		v, ok := p.constants[name]

		return v, ok
	}

	return nil, false
}

func parseNumber(text string) (any, error) {
	if strings.Contains(text, ".") {
		return strconv.ParseFloat(text, 64)
	}

	return strconv.ParseInt(text, 10, 64)
}

// syntaxError builds a binding error; the offset is relative to the expression.
func syntaxError(src string, offset int, msg string) error {
	return errors.NewBindingError(errors.ErrCodeSyntax,
		fmt.Sprintf("invalid expression %q: %s", src, msg)).
		WithContext("offset", offset)
}
