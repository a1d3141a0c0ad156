// Package condition defines the boolean expression tree a query is made of,
// its normalization into canonical form, and the index resolution used to
// partition a tree across independently searchable indexes.
//
// Trees are treated as immutable values: Normalize and the helpers in this
// package always build new nodes and never modify their input, so subtrees
// may be shared freely.
package condition

import (
	"strconv"
	"strings"
)

// Comparison operators understood by the parser, the planner and the
// renderers.
const (
	OpEqual        = "="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpContains     = "contains"
	OpLike         = "like"
	OpPhrase       = "phrase"
)

var operators = map[string]struct{}{
	OpEqual: {}, OpLess: {}, OpLessEqual: {}, OpGreater: {}, OpGreaterEqual: {},
	OpContains: {}, OpLike: {}, OpPhrase: {},
}

// IsOperator reports whether op is a known comparison operator.
func IsOperator(op string) bool {
	_, ok := operators[op]
	return ok
}

// Condition is the interface for all tree nodes. The marker method keeps
// other packages from adding variants.
type Condition interface {
	condition()
	String() string
}

// Comparison is a leaf: field operator value.
type Comparison struct {
	Field    string
	Operator string
	Value    string
}

func (*Comparison) condition() {}

func (c *Comparison) String() string {
	return c.Field + " " + c.Operator + " " + strconv.Quote(c.Value)
}

// Connective distinguishes the two set conditions.
type Connective int

const (
	ConnAnd Connective = iota
	ConnOr
)

func (c Connective) String() string {
	if c == ConnOr {
		return "OR"
	}
	return "AND"
}

// Set is implemented by And and Or.
type Set interface {
	Condition
	Connective() Connective
	Members() []Condition
}

// And is satisfied when every child is. Children order is kept for
// deterministic rendering.
type And struct {
	Children []Condition
}

func (*And) condition() {}

func (a *And) Connective() Connective { return ConnAnd }

func (a *And) Members() []Condition { return a.Children }

func (a *And) String() string { return joinSet(a.Children, " AND ") }

// Or is satisfied when any child is.
type Or struct {
	Children []Condition
}

func (*Or) condition() {}

func (o *Or) Connective() Connective { return ConnOr }

func (o *Or) Members() []Condition { return o.Children }

func (o *Or) String() string { return joinSet(o.Children, " OR ") }

// Not negates its child.
type Not struct {
	Child Condition
}

func (*Not) condition() {}

func (n *Not) String() string {
	if n.Child == nil {
		return "NOT <nil>"
	}
	return "NOT " + n.Child.String()
}

func joinSet(children []Condition, sep string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		if c == nil {
			parts[i] = "<nil>"
			continue
		}
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Compare builds a Comparison.
func Compare(field, operator, value string) *Comparison {
	return &Comparison{Field: field, Operator: operator, Value: value}
}

// NewAnd builds an And over children.
func NewAnd(children ...Condition) *And {
	return &And{Children: children}
}

// NewOr builds an Or over children.
func NewOr(children ...Condition) *Or {
	return &Or{Children: children}
}

// NewNot builds a Not over child.
func NewNot(child Condition) *Not {
	return &Not{Child: child}
}

// NewSet builds the set condition for conn over children.
func NewSet(conn Connective, children []Condition) Set {
	if conn == ConnOr {
		return &Or{Children: children}
	}
	return &And{Children: children}
}

// Equal reports whether a and b are structurally identical, including
// children order.
func Equal(a, b Condition) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *Comparison:
		y, ok := b.(*Comparison)
		return ok && *x == *y
	case *Not:
		y, ok := b.(*Not)
		return ok && Equal(x.Child, y.Child)
	case Set:
		y, ok := b.(Set)
		if !ok || x.Connective() != y.Connective() {
			return false
		}
		xs, ys := x.Members(), y.Members()
		if len(xs) != len(ys) {
			return false
		}
		for i := range xs {
			if !Equal(xs[i], ys[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Fields returns the distinct field names referenced by c in first-use order.
func Fields(c Condition) []string {
	var out []string
	seen := make(map[string]struct{})
	Walk(c, func(cmp *Comparison) {
		if _, ok := seen[cmp.Field]; ok {
			return
		}
		seen[cmp.Field] = struct{}{}
		out = append(out, cmp.Field)
	})
	return out
}

// Walk calls fn for every Comparison leaf of c, depth first.
func Walk(c Condition, fn func(*Comparison)) {
	switch x := c.(type) {
	case *Comparison:
		fn(x)
	case *Not:
		Walk(x.Child, fn)
	case Set:
		for _, child := range x.Members() {
			Walk(child, fn)
		}
	}
}
