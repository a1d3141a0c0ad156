package sqlsearch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
)

// column is a registry field bound to its table column.
type column struct {
	field  string
	quoted string
	typ    field.DataType
}

// whereBuilder renders a condition into a WHERE clause, collecting bind
// arguments in placeholder order.
type whereBuilder struct {
	dialect Dialect
	columns map[string]column
	args    []any
}

func (b *whereBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

func (b *whereBuilder) build(c condition.Condition) (string, error) {
	switch x := c.(type) {
	case *condition.Comparison:
		return b.comparison(x)
	case *condition.Not:
		inner, err := b.build(x.Child)
		if err != nil {
			return "", err
		}
		// NULL columns must land on the negated side.
		return "NOT COALESCE((" + inner + "), FALSE)", nil
	case condition.Set:
		parts := make([]string, 0, len(x.Members()))
		for _, m := range x.Members() {
			p, err := b.build(m)
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return "(" + strings.Join(parts, " "+x.Connective().String()+" ") + ")", nil
	}
	return "", fmt.Errorf("unsupported condition type %T", c)
}

func (b *whereBuilder) comparison(c *condition.Comparison) (string, error) {
	col, ok := b.columns[c.Field]
	if !ok {
		return "", apperrors.NewConfigurationError(c.Field, "field has no column in this table")
	}
	switch c.Operator {
	case condition.OpContains:
		words := strings.Fields(c.Value)
		if len(words) == 0 {
			return col.quoted + " IS NOT NULL", nil
		}
		parts := make([]string, len(words))
		for i, w := range words {
			parts[i] = b.likeClause(col, "%"+escapeLike(strings.ToLower(w))+"%")
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case condition.OpPhrase:
		return b.likeClause(col, "%"+escapeLike(strings.ToLower(c.Value))+"%"), nil
	case condition.OpLike:
		return b.likeClause(col, wildcardToLike(strings.ToLower(c.Value))), nil
	case condition.OpEqual:
		if col.typ == field.TypeText {
			return "LOWER(" + col.quoted + ") = " + b.bind(strings.ToLower(c.Value)), nil
		}
		return col.quoted + " = " + b.bind(b.value(col, c.Value)), nil
	case condition.OpLess, condition.OpLessEqual, condition.OpGreater, condition.OpGreaterEqual:
		return col.quoted + " " + c.Operator + " " + b.bind(b.value(col, c.Value)), nil
	}
	return "", apperrors.NewConfigurationError(c.Operator, "operator not supported by the sql searcher")
}

func (b *whereBuilder) likeClause(col column, pattern string) string {
	return "LOWER(" + col.quoted + ") LIKE " + b.bind(pattern) + ` ESCAPE '\'`
}

// value binds numbers as numbers so the database compares numerically.
func (b *whereBuilder) value(col column, v string) any {
	if col.typ == field.TypeNumber {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return v
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// wildcardToLike maps * and ? onto LIKE's % and _, escaping everything
// else LIKE would interpret.
func wildcardToLike(p string) string {
	var sb strings.Builder
	for _, r := range p {
		switch r {
		case '*':
			sb.WriteByte('%')
		case '?':
			sb.WriteByte('_')
		default:
			sb.WriteString(escapeLike(string(r)))
		}
	}
	return sb.String()
}
