package engine

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
)

// Op is the kind of a plan node.
type Op int

const (
	OpSearch Op = iota
	OpIntersect
	OpUnion
)

func (o Op) String() string {
	switch o {
	case OpSearch:
		return "search"
	case OpIntersect:
		return "intersect"
	case OpUnion:
		return "union"
	}
	return "unknown"
}

// Plan is the execution tree for one query. Search leaves carry a condition
// local to Index; inner nodes combine their children's result sets.
type Plan struct {
	Op        Op
	Index     string
	Condition condition.Condition
	Children  []*Plan
}

// Indexes returns the distinct indexes searched, in first-visit order.
func (p *Plan) Indexes() []string {
	var out []string
	seen := make(map[string]bool)
	p.walk(func(n *Plan) {
		if n.Op == OpSearch && !seen[n.Index] {
			seen[n.Index] = true
			out = append(out, n.Index)
		}
	})
	return out
}

// Searches counts the searcher calls the plan issues.
func (p *Plan) Searches() int {
	n := 0
	p.walk(func(node *Plan) {
		if node.Op == OpSearch {
			n++
		}
	})
	return n
}

func (p *Plan) walk(fn func(*Plan)) {
	fn(p)
	for _, c := range p.Children {
		c.walk(fn)
	}
}

// Explain renders the plan as an indented tree.
func (p *Plan) Explain() string {
	var sb strings.Builder
	p.explain(&sb, 0)
	return sb.String()
}

func (p *Plan) explain(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	if p.Op == OpSearch {
		fmt.Fprintf(sb, "search %s: %s\n", p.Index, p.Condition)
		return
	}
	sb.WriteString(p.Op.String())
	sb.WriteByte('\n')
	for _, c := range p.Children {
		c.explain(sb, depth+1)
	}
}

// Plan partitions cond across indexes. A condition local to one index
// becomes a single search. A mixed set is split by grouping its immediate
// children by index, and a mixed negation is pushed into its operand, so
// every search receives only fields of its own index.
func (e *Engine) Plan(cond condition.Condition) (*Plan, error) {
	cond = condition.Normalize(cond)
	if cond == nil {
		return nil, apperrors.NewUsageError("query has no conditions")
	}
	return e.build(cond, false)
}

// build plans c, negated when negate is set. Negation is applied at the
// leaves; combining flips between intersect and union (De Morgan).
func (e *Engine) build(c condition.Condition, negate bool) (*Plan, error) {
	index, single, err := condition.ResolveIndex(c, e.fields.IndexOf)
	if err != nil {
		return nil, err
	}
	if single {
		leaf := c
		if negate {
			leaf = condition.NewNot(c)
		}
		leaf = condition.Normalize(leaf)
		if leaf == nil {
			return nil, apperrors.NewUsageError("condition vanished during planning")
		}
		return &Plan{Op: OpSearch, Index: index, Condition: leaf}, nil
	}

	switch x := c.(type) {
	case *condition.Not:
		return e.build(x.Child, !negate)
	case condition.Set:
		groups, err := condition.GroupByIndex(x.Members(), e.fields.IndexOf)
		if err != nil {
			return nil, err
		}
		var children []*Plan
		for _, g := range groups {
			if !g.Single {
				for _, m := range g.Members {
					child, err := e.build(m, negate)
					if err != nil {
						return nil, err
					}
					children = append(children, child)
				}
				continue
			}
			sub := g.Members[0]
			if len(g.Members) > 1 {
				sub = condition.NewSet(x.Connective(), g.Members)
			}
			child, err := e.build(sub, negate)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if len(children) == 1 {
			return children[0], nil
		}
		op := OpUnion
		if (x.Connective() == condition.ConnAnd) != negate {
			op = OpIntersect
		}
		return &Plan{Op: op, Children: children}, nil
	}
	return nil, apperrors.NewUsageError(fmt.Sprintf("cannot plan condition %s", c))
}
