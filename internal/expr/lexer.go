package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokIdent
	tokString
	tokNumber
	tokDot
	tokPlus
	tokBang
	tokPipe
	tokComma
	tokColon
	tokAt
	tokHash
	tokStar
)

func (t tokenType) String() string {
	switch t {
	case tokEOF:
		return "end of expression"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokDot:
		return "'.'"
	case tokPlus:
		return "'+'"
	case tokBang:
		return "'!'"
	case tokPipe:
		return "'|'"
	case tokComma:
		return "','"
	case tokColon:
		return "':'"
	case tokAt:
		return "'@'"
	case tokHash:
		return "'#'"
	case tokStar:
		return "'*'"
	default:
		return "unknown token"
	}
}

type token struct {
	typ   tokenType
	text  string // identifier name, unquoted string, or number text
	start int
	end   int
}

// lex splits an expression source into tokens.
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '.':
			tokens = append(tokens, token{typ: tokDot, start: i, end: i + 1})
			i++
		case r == '+':
			tokens = append(tokens, token{typ: tokPlus, start: i, end: i + 1})
			i++
		case r == '!':
			tokens = append(tokens, token{typ: tokBang, start: i, end: i + 1})
			i++
		case r == '|':
			tokens = append(tokens, token{typ: tokPipe, start: i, end: i + 1})
			i++
		case r == ',':
			tokens = append(tokens, token{typ: tokComma, start: i, end: i + 1})
			i++
		case r == ':':
			tokens = append(tokens, token{typ: tokColon, start: i, end: i + 1})
			i++
		case r == '@':
			tokens = append(tokens, token{typ: tokAt, start: i, end: i + 1})
			i++
		case r == '#':
			tokens = append(tokens, token{typ: tokHash, start: i, end: i + 1})
			i++
		case r == '*':
			tokens = append(tokens, token{typ: tokStar, start: i, end: i + 1})
			i++
		case r == '"' || r == '\'':
			text, end, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{typ: tokString, text: text, start: i, end: end})
			i = end
		case isDigit(r) || (r == '-' && i+1 < len(src) && isDigit(rune(src[i+1]))):
			end := i + 1
			for end < len(src) && isDigit(rune(src[end])) {
				end++
			}
			// after a '.' step only an index is allowed, so items.0.1 stays two steps
			afterDot := len(tokens) > 0 && tokens[len(tokens)-1].typ == tokDot
			if !afterDot && end+1 < len(src) && src[end] == '.' && isDigit(rune(src[end+1])) {
				end++
				for end < len(src) && isDigit(rune(src[end])) {
					end++
				}
			}
			tokens = append(tokens, token{typ: tokNumber, text: src[i:end], start: i, end: end})
			i = end
		case isIdentStart(r):
			end := i + size
			for end < len(src) {
				r2, s2 := utf8.DecodeRuneInString(src[end:])
				if !isIdentPart(r2) {
					break
				}
				end += s2
			}
			tokens = append(tokens, token{typ: tokIdent, text: src[i:end], start: i, end: end})
			i = end
		default:
			return nil, syntaxError(src, i, fmt.Sprintf("unexpected character %q", r))
		}
	}
	tokens = append(tokens, token{typ: tokEOF, start: len(src), end: len(src)})

	return tokens, nil
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var sb strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			next := src[i+1]
			switch next {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(next)
			}
			i += 2
		case c == quote:
			return sb.String(), i + 1, nil
		default:
			sb.WriteByte(c)
			i++
		}
	}

	return "", 0, syntaxError(src, start, "unterminated string literal")
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '-'
}
