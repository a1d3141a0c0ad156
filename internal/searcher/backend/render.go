// Package backend renders condition trees into the query syntax of a
// Lucene-style full-text backend and builds the select request carrying
// sort, row limit, field list and join filter queries.
package backend

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
)

// Mode selects how boolean structure is written.
type Mode string

const (
	// ModeExplicit writes parenthesized groups joined by AND, OR and NOT.
	ModeExplicit Mode = "explicit"
	// ModeDefault marks required clauses with "+" and excluded ones with
	// "-"; an OR group carries a single "+" for the whole group. An excluded
	// OR member is written as "(*:* -x)" so it means "not x" on its own.
	ModeDefault Mode = "default"
)

// Render renders c in the given mode, adding every referenced field to
// used when it is non-nil. An empty result means the condition vanished.
func Render(c condition.Condition, mode Mode, used map[string]struct{}) string {
	if mode == ModeExplicit {
		return renderExplicit(c, used)
	}
	return renderDefault(c, true, used)
}

func renderExplicit(c condition.Condition, used map[string]struct{}) string {
	switch x := c.(type) {
	case *condition.Comparison:
		markUsed(used, x.Field)
		return renderLeaf(x, ModeExplicit)
	case *condition.Not:
		child := renderExplicit(x.Child, used)
		if child == "" {
			return ""
		}
		return "NOT " + child
	case condition.Set:
		parts := make([]string, 0, len(x.Members()))
		for _, m := range x.Members() {
			if p := renderExplicit(m, used); p != "" {
				parts = append(parts, p)
			}
		}
		switch len(parts) {
		case 0:
			return ""
		case 1:
			return parts[0]
		}
		return "(" + strings.Join(parts, " "+x.Connective().String()+" ") + ")"
	}
	return ""
}

func renderDefault(c condition.Condition, top bool, used map[string]struct{}) string {
	switch x := c.(type) {
	case *condition.Comparison:
		markUsed(used, x.Field)
		return "+" + renderLeaf(x, ModeDefault)
	case *condition.Not:
		child := renderDefault(x.Child, false, used)
		if child == "" {
			return ""
		}
		return "-" + strings.TrimPrefix(child, "+")
	case *condition.And:
		parts := renderParts(x.Children, used, false)
		switch {
		case len(parts) == 0:
			return ""
		case len(parts) == 1:
			return parts[0]
		case top:
			return strings.Join(parts, " ")
		}
		return "+(" + strings.Join(parts, " ") + ")"
	case *condition.Or:
		parts := renderParts(x.Children, used, true)
		switch len(parts) {
		case 0:
			return ""
		case 1:
			if excluded, ok := strings.CutPrefix(parts[0], "(*:* "); ok {
				return strings.TrimSuffix(excluded, ")")
			}
			return "+" + parts[0]
		}
		return "+(" + strings.Join(parts, " ") + ")"
	}
	return ""
}

func renderParts(children []condition.Condition, used map[string]struct{}, stripRequired bool) []string {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		p := renderDefault(child, false, used)
		if p == "" {
			continue
		}
		if stripRequired {
			p = strings.TrimPrefix(p, "+")
			if strings.HasPrefix(p, "-") {
				p = "(*:* " + p + ")"
			}
		}
		parts = append(parts, p)
	}
	return parts
}

func markUsed(used map[string]struct{}, field string) {
	if used != nil {
		used[field] = struct{}{}
	}
}

// renderLeaf writes one comparison without any required marker.
func renderLeaf(c *condition.Comparison, mode Mode) string {
	field := escapeTerm(c.Field, false)
	switch c.Operator {
	case condition.OpEqual, condition.OpPhrase:
		return field + `:"` + escapePhrase(c.Value) + `"`
	case condition.OpLess:
		return field + ":{* TO " + rangeValue(c.Value) + "}"
	case condition.OpLessEqual:
		return field + ":[* TO " + rangeValue(c.Value) + "]"
	case condition.OpGreater:
		return field + ":{" + rangeValue(c.Value) + " TO *}"
	case condition.OpGreaterEqual:
		return field + ":[" + rangeValue(c.Value) + " TO *]"
	}
	// contains, like: a term query; several words must all match.
	words := strings.Fields(c.Value)
	switch len(words) {
	case 0:
		return field + `:""`
	case 1:
		return field + ":" + escapeTerm(words[0], true)
	}
	terms := make([]string, len(words))
	for i, w := range words {
		terms[i] = escapeTerm(w, true)
		if mode == ModeDefault {
			terms[i] = "+" + terms[i]
		}
	}
	sep := " "
	if mode == ModeExplicit {
		sep = " AND "
	}
	return field + ":(" + strings.Join(terms, sep) + ")"
}

func rangeValue(v string) string {
	if strings.ContainsAny(v, " \t") {
		return `"` + escapePhrase(v) + `"`
	}
	return escapeTerm(v, false)
}

const reserved = `\+-&|!(){}[]^"~*?:/`

// escapeTerm backslash-escapes reserved characters. Wildcards survive when
// keepWildcards is set.
func escapeTerm(s string, keepWildcards bool) string {
	var sb strings.Builder
	for _, r := range s {
		if keepWildcards && (r == '*' || r == '?') {
			sb.WriteRune(r)
			continue
		}
		if strings.ContainsRune(reserved, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

var phraseEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapePhrase(s string) string {
	return phraseEscaper.Replace(s)
}
