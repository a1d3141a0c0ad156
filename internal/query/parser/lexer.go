package parser

import (
	"strings"
	"unicode"

	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokString
	tokOperator
	tokLParen
	tokRParen
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of query"
	case tokWord:
		return "word"
	case tokString:
		return "quoted value"
	case tokOperator:
		return "operator"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	}
	return "unknown"
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// is reports whether t is the bare word kw, ignoring case.
func (t token) is(kw string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, kw)
}

// lex splits a text expression into tokens. Bare words run until
// whitespace, a parenthesis, a double quote or a comparison character.
func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '<' || c == '>':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{kind: tokOperator, text: input[i : i+2], pos: i})
				i += 2
				continue
			}
			tokens = append(tokens, token{kind: tokOperator, text: string(c), pos: i})
			i++
		case c == '=':
			tokens = append(tokens, token{kind: tokOperator, text: "=", pos: i})
			i++
		case c == '"':
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < len(input) {
				ch := input[i]
				if ch == '\\' && i+1 < len(input) {
					sb.WriteByte(input[i+1])
					i += 2
					continue
				}
				if ch == '"' {
					closed = true
					i++
					break
				}
				sb.WriteByte(ch)
				i++
			}
			if !closed {
				return nil, apperrors.NewParseError(input[start:], start, "unterminated quoted value")
			}
			tokens = append(tokens, token{kind: tokString, text: sb.String(), pos: start})
		default:
			start := i
			for i < len(input) && !isDelimiter(rune(input[i])) {
				i++
			}
			tokens = append(tokens, token{kind: tokWord, text: input[start:i], pos: start})
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(input)})
	return tokens, nil
}

func isDelimiter(r rune) bool {
	switch r {
	case '(', ')', '"', '<', '>', '=':
		return true
	}
	return unicode.IsSpace(r)
}
