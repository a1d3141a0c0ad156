package parser

import (
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
)

// NodeKind tags a structured node.
type NodeKind string

const (
	NodeAnd       NodeKind = "and"
	NodeOr        NodeKind = "or"
	NodeNot       NodeKind = "not"
	NodeCondition NodeKind = "condition"
)

// Node is the structured (tree-shaped) form of a condition, as decoded from
// a query document.
type Node struct {
	Kind     NodeKind
	Field    string
	Operator string
	Value    string
	Children []Node
}

// ParseNode parses a structured tree. Comparisons without an operator get
// the field's default one.
func (p *Parser) ParseNode(n Node) (condition.Condition, error) {
	c, err := p.node(n)
	if err != nil {
		return nil, err
	}
	return condition.Normalize(c), nil
}

func (p *Parser) node(n Node) (condition.Condition, error) {
	switch n.Kind {
	case NodeCondition:
		if len(n.Children) > 0 {
			return nil, apperrors.NewParseError(n.Field, -1, "condition element cannot have children")
		}
		return p.Leaf(n.Field, n.Operator, n.Value)
	case NodeNot:
		if len(n.Children) != 1 {
			return nil, apperrors.NewParseError(string(n.Kind), -1, "not requires exactly one child, got %d", len(n.Children))
		}
		child, err := p.node(n.Children[0])
		if err != nil {
			return nil, err
		}
		return condition.NewNot(child), nil
	case NodeAnd, NodeOr:
		children := make([]condition.Condition, 0, len(n.Children))
		for _, child := range n.Children {
			c, err := p.node(child)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		if n.Kind == NodeOr {
			return condition.NewOr(children...), nil
		}
		return condition.NewAnd(children...), nil
	}
	return nil, apperrors.NewParseError(string(n.Kind), -1, "unknown element")
}

// ToNode converts a condition back into structured form.
func ToNode(c condition.Condition) Node {
	switch x := c.(type) {
	case *condition.Comparison:
		return Node{Kind: NodeCondition, Field: x.Field, Operator: x.Operator, Value: x.Value}
	case *condition.Not:
		return Node{Kind: NodeNot, Children: []Node{ToNode(x.Child)}}
	case condition.Set:
		kind := NodeAnd
		if x.Connective() == condition.ConnOr {
			kind = NodeOr
		}
		children := make([]Node, 0, len(x.Members()))
		for _, member := range x.Members() {
			children = append(children, ToNode(member))
		}
		return Node{Kind: kind, Children: children}
	}
	return Node{}
}
