package memsearch

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"if": {}, "not": {}, "no": {}, "so": {},
}

// token is one indexed word of a field value. Raw is the lowercased word
// before stemming; Position counts only kept words, so phrases match across
// dropped stop words.
type token struct {
	Term     string
	Raw      string
	Position int
}

// words lowercases text and splits it on anything that is not a letter or
// a digit.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenize splits text into stemmed tokens, dropping stop words.
func tokenize(text string) []token {
	ws := words(text)
	tokens := make([]token, 0, len(ws))
	pos := 0
	for _, w := range ws {
		if _, stop := stopWords[w]; stop {
			continue
		}
		tokens = append(tokens, token{Term: stem(w), Raw: w, Position: pos})
		pos++
	}
	return tokens
}

var suffixRules = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"ed", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// stem strips the first matching suffix as long as the stem keeps its
// minimum length.
func stem(word string) string {
	for _, rule := range suffixRules {
		if !strings.HasSuffix(word, rule.suffix) {
			continue
		}
		if s := word[:len(word)-len(rule.suffix)] + rule.replacement; len(s) >= rule.minLen {
			return s
		}
	}
	return word
}
