package condition

import (
	"strings"
	"unicode"
)

// Normalize rewrites c into canonical form: nil children dropped, nested sets
// of the same connective flattened, single-child sets collapsed, double
// negation removed and "contains" values decomposed into one comparison per
// token. A nil result means the condition vanished entirely.
//
// Normalize is pure and idempotent.
func Normalize(c Condition) Condition {
	switch x := c.(type) {
	case nil:
		return nil
	case *Comparison:
		if x.Operator == OpContains {
			return decomposeContains(x)
		}
		return x
	case *Not:
		child := Normalize(x.Child)
		if child == nil {
			return nil
		}
		if inner, ok := child.(*Not); ok {
			return inner.Child
		}
		return &Not{Child: child}
	case Set:
		return normalizeSet(x)
	}
	return c
}

func normalizeSet(s Set) Condition {
	conn := s.Connective()
	children := make([]Condition, 0, len(s.Members()))
	for _, member := range s.Members() {
		child := Normalize(member)
		if child == nil {
			continue
		}
		if nested, ok := child.(Set); ok && nested.Connective() == conn {
			children = append(children, nested.Members()...)
			continue
		}
		children = append(children, child)
	}
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	}
	return NewSet(conn, children)
}

// decomposeContains splits a contains value into phrase, negated, wildcard
// and plain word comparisons.
func decomposeContains(c *Comparison) Condition {
	tokens := tokenizeContains(c.Value)
	parts := make([]Condition, 0, len(tokens))
	for _, tok := range tokens {
		var leaf Condition
		switch {
		case tok.phrase:
			leaf = Compare(c.Field, OpPhrase, tok.text)
		case strings.ContainsAny(tok.text, "*?"):
			leaf = Compare(c.Field, OpLike, tok.text)
		default:
			leaf = Compare(c.Field, OpContains, tok.text)
		}
		if tok.negated {
			leaf = &Not{Child: leaf}
		}
		parts = append(parts, leaf)
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	return &And{Children: parts}
}

type containsToken struct {
	text    string
	phrase  bool
	negated bool
}

// tokenizeContains splits on whitespace, keeping 'single quoted' phrases
// together. A leading run of '-' negates the token that follows it once. An
// unterminated quote runs to the end of the value.
func tokenizeContains(value string) []containsToken {
	runes := []rune(value)
	var tokens []containsToken
	i := 0
	for i < len(runes) {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}
		negated := false
		if runes[i] == '-' {
			negated = true
			for i < len(runes) && runes[i] == '-' {
				i++
			}
			if i >= len(runes) || unicode.IsSpace(runes[i]) {
				continue
			}
		}
		if runes[i] == '\'' {
			i++
			start := i
			for i < len(runes) && runes[i] != '\'' {
				i++
			}
			text := strings.Join(strings.Fields(string(runes[start:i])), " ")
			if i < len(runes) {
				i++
			}
			if text != "" {
				tokens = append(tokens, containsToken{text: text, phrase: true, negated: negated})
			}
			continue
		}
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		tokens = append(tokens, containsToken{text: string(runes[start:i]), negated: negated})
	}
	return tokens
}
