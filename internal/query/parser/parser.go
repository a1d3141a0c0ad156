// Package parser builds normalized condition trees from text expressions such
// as
//
//	title,subject contains "'red fox' -jumps" and not (year < 1990 or branch = annex)
//
// and from the structured tree form carried in query documents. Field lists,
// range pairs and the TODAY literal are expanded while parsing; every field
// name is checked against the registry so that an unknown field fails the
// whole parse.
package parser

import (
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
)

// DateLayout formats the TODAY literal.
const DateLayout = "2006-01-02"

// Today is the literal replaced with the current local date.
const Today = "TODAY"

// Parser turns query input into normalized conditions.
type Parser struct {
	registry *field.Registry
	now      func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock replaces the clock used to expand TODAY.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// New creates a Parser validating field names against registry.
func New(registry *field.Registry, opts ...Option) *Parser {
	p := &Parser{registry: registry, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses a text expression. Blank input yields a nil condition.
func (p *Parser) Parse(text string) (condition.Condition, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	tokens, err := lex(text)
	if err != nil {
		return nil, err
	}
	tp := &textParser{p: p, input: text, tokens: tokens}
	c, err := tp.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := tp.peek(); tok.kind != tokEOF {
		return nil, tp.errorAt(tok, "unexpected %s", tok.kind)
	}
	return condition.Normalize(c), nil
}

type textParser struct {
	p      *Parser
	input  string
	tokens []token
	pos    int
}

func (tp *textParser) peek() token { return tp.tokens[tp.pos] }

func (tp *textParser) next() token {
	tok := tp.tokens[tp.pos]
	if tok.kind != tokEOF {
		tp.pos++
	}
	return tok
}

func (tp *textParser) errorAt(tok token, format string, args ...any) error {
	end := tok.pos + 20
	if end > len(tp.input) {
		end = len(tp.input)
	}
	return apperrors.NewParseError(tp.input[tok.pos:end], tok.pos, format, args...)
}

func (tp *textParser) parseExpr() (condition.Condition, error) {
	first, err := tp.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []condition.Condition{first}
	for tp.peek().is("or") {
		tp.next()
		next, err := tp.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, nil
	}
	return condition.NewOr(children...), nil
}

func (tp *textParser) parseAnd() (condition.Condition, error) {
	first, err := tp.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []condition.Condition{first}
	for tp.peek().is("and") {
		tp.next()
		next, err := tp.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, nil
	}
	return condition.NewAnd(children...), nil
}

func (tp *textParser) parseUnary() (condition.Condition, error) {
	tok := tp.peek()
	switch {
	case tok.is("not"):
		tp.next()
		child, err := tp.parseUnary()
		if err != nil {
			return nil, err
		}
		return condition.NewNot(child), nil
	case tok.kind == tokLParen:
		tp.next()
		inner, err := tp.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing := tp.next(); closing.kind != tokRParen {
			return nil, tp.errorAt(closing, "expected ')' to close '(' at position %d", tok.pos)
		}
		return inner, nil
	}
	return tp.parseClause()
}

func (tp *textParser) parseClause() (condition.Condition, error) {
	fieldTok := tp.next()
	if fieldTok.kind != tokWord || isKeyword(fieldTok.text) {
		return nil, tp.errorAt(fieldTok, "expected field name, found %s", fieldTok.kind)
	}
	opTok := tp.next()
	var op string
	switch {
	case opTok.kind == tokOperator:
		op = opTok.text
	case opTok.kind == tokWord && condition.IsOperator(strings.ToLower(opTok.text)):
		op = strings.ToLower(opTok.text)
	default:
		return nil, tp.errorAt(opTok, "expected operator after field %q", fieldTok.text)
	}
	valueTok := tp.next()
	if valueTok.kind != tokWord && valueTok.kind != tokString {
		return nil, tp.errorAt(valueTok, "expected value after %q", op)
	}
	return tp.p.Leaf(fieldTok.text, op, valueTok.text)
}

func isKeyword(word string) bool {
	switch strings.ToLower(word) {
	case "and", "or", "not":
		return true
	}
	return false
}

// Leaf builds the condition for one clause, expanding comma-separated field
// lists into an Or and fromField-toField range pairs into the matching
// bound comparisons. An empty operator selects the field's default.
func (p *Parser) Leaf(fieldSpec, operator, value string) (condition.Condition, error) {
	fieldSpec = strings.TrimSpace(fieldSpec)
	if fieldSpec == "" {
		return nil, apperrors.NewParseError(value, -1, "missing field name")
	}
	if operator != "" && !condition.IsOperator(operator) {
		return nil, apperrors.NewParseError(operator, -1, "unknown operator")
	}
	if value == Today {
		value = p.now().Format(DateLayout)
	}
	if !strings.Contains(fieldSpec, ",") {
		return p.single(fieldSpec, operator, value)
	}
	names := strings.Split(fieldSpec, ",")
	children := make([]condition.Condition, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, apperrors.NewParseError(fieldSpec, -1, "empty name in field list")
		}
		c, err := p.single(name, operator, value)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return condition.NewOr(children...), nil
}

func (p *Parser) single(name, operator, value string) (condition.Condition, error) {
	if def, err := p.registry.Lookup(name); err == nil {
		if operator == "" {
			operator = def.DefaultOperator()
		}
		return condition.Compare(name, operator, value), nil
	}
	from, to, ok := strings.Cut(name, "-")
	if !ok || from == "" || to == "" {
		return nil, apperrors.NewConfigurationError(name, "unknown field")
	}
	for _, bound := range []string{from, to} {
		if !p.registry.Has(bound) {
			return nil, apperrors.NewConfigurationError(bound, "unknown field in range pair")
		}
	}
	switch {
	case operator == "" || operator == condition.OpEqual:
		return condition.NewAnd(
			condition.Compare(from, condition.OpLessEqual, value),
			condition.Compare(to, condition.OpGreaterEqual, value),
		), nil
	case strings.Contains(operator, "<"):
		return condition.Compare(from, operator, value), nil
	case strings.Contains(operator, ">"):
		return condition.Compare(to, operator, value), nil
	}
	return nil, apperrors.NewParseError(name, -1, "operator %q cannot be applied to a range pair", operator)
}
