package query

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
)

// Condition section formats.
const (
	FormatTree = "tree"
	FormatText = "text"
)

const (
	orderAscending  = "ascending"
	orderDescending = "descending"
)

type xmlQuery struct {
	XMLName      xml.Name      `xml:"query"`
	MaxResults   string        `xml:"maxResults,attr,omitempty"`
	SortBy       *xmlSortBy    `xml:"sortBy,omitempty"`
	ReturnFields string        `xml:"returnFields,omitempty"`
	Conditions   xmlConditions `xml:"conditions"`
}

type xmlSortBy struct {
	Sorts []xmlSort `xml:"sort"`
}

type xmlSort struct {
	Name  string `xml:"name,attr"`
	Order string `xml:"order,attr,omitempty"`
}

type xmlConditions struct {
	Format string    `xml:"format,attr,omitempty"`
	Text   string    `xml:",chardata"`
	Nodes  []xmlNode `xml:",any"`
}

type xmlNode struct {
	XMLName  xml.Name
	Field    string    `xml:"field,attr,omitempty"`
	Operator string    `xml:"operator,attr,omitempty"`
	Value    string    `xml:"value,attr,omitempty"`
	Children []xmlNode `xml:",any"`
}

// Codec decodes wire documents against a field registry.
type Codec struct {
	registry *field.Registry
	parser   *parser.Parser
}

func NewCodec(registry *field.Registry, opts ...parser.Option) *Codec {
	return &Codec{registry: registry, parser: parser.New(registry, opts...)}
}

// Parser exposes the condition parser the codec uses.
func (c *Codec) Parser() *parser.Parser { return c.parser }

// Decode parses a wire document. The conditions section is normalized
// whichever format it uses.
func (c *Codec) Decode(data []byte) (*Query, error) {
	var doc xmlQuery
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.NewParseError(snippet(data), -1, "malformed query document: %v", err)
	}

	maxResults := 0
	if s := strings.TrimSpace(doc.MaxResults); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, apperrors.NewParseError(s, -1, "maxResults must be a non-negative integer")
		}
		maxResults = n
	}

	var sortBy []SortCriterion
	if doc.SortBy != nil {
		for _, s := range doc.SortBy.Sorts {
			crit := SortCriterion{Field: s.Name}
			switch s.Order {
			case "", orderAscending:
				crit.Ascending = true
			case orderDescending:
			default:
				return nil, apperrors.NewParseError(s.Order, -1, "sort order must be %q or %q", orderAscending, orderDescending)
			}
			sortBy = append(sortBy, crit)
		}
	}
	if err := ValidateSort(c.registry, sortBy); err != nil {
		return nil, err
	}

	var returnFields []string
	for _, f := range strings.Split(doc.ReturnFields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			returnFields = append(returnFields, f)
		}
	}

	cond, err := c.decodeConditions(doc.Conditions)
	if err != nil {
		return nil, err
	}
	return New(cond, maxResults, sortBy, returnFields), nil
}

// ParseText builds a Query from a text expression.
func (c *Codec) ParseText(text string, maxResults int, sortBy []SortCriterion, returnFields []string) (*Query, error) {
	if maxResults < 0 {
		return nil, apperrors.NewParseError(strconv.Itoa(maxResults), -1, "maxResults must be a non-negative integer")
	}
	if err := ValidateSort(c.registry, sortBy); err != nil {
		return nil, err
	}
	cond, err := c.parser.Parse(text)
	if err != nil {
		return nil, err
	}
	return New(cond, maxResults, sortBy, returnFields), nil
}

func (c *Codec) decodeConditions(sec xmlConditions) (condition.Condition, error) {
	switch sec.Format {
	case FormatText:
		if len(sec.Nodes) > 0 {
			return nil, apperrors.NewParseError(sec.Nodes[0].XMLName.Local, -1, "text conditions cannot contain elements")
		}
		return c.parser.Parse(sec.Text)
	case "", FormatTree:
		if strings.TrimSpace(sec.Text) != "" {
			return nil, apperrors.NewParseError(strings.TrimSpace(sec.Text), -1, "unexpected text in tree conditions")
		}
		switch len(sec.Nodes) {
		case 0:
			return nil, nil
		case 1:
			return c.parser.ParseNode(toNode(sec.Nodes[0]))
		}
		// Several top-level elements are an implicit conjunction.
		root := parser.Node{Kind: parser.NodeAnd}
		for _, n := range sec.Nodes {
			root.Children = append(root.Children, toNode(n))
		}
		return c.parser.ParseNode(root)
	}
	return nil, apperrors.NewParseError(sec.Format, -1, "unknown conditions format")
}

func toNode(n xmlNode) parser.Node {
	node := parser.Node{
		Kind:     parser.NodeKind(n.XMLName.Local),
		Field:    n.Field,
		Operator: n.Operator,
		Value:    n.Value,
	}
	for _, child := range n.Children {
		node.Children = append(node.Children, toNode(child))
	}
	return node
}

func fromNode(n parser.Node) xmlNode {
	x := xmlNode{
		XMLName:  xml.Name{Local: string(n.Kind)},
		Field:    n.Field,
		Operator: n.Operator,
		Value:    n.Value,
	}
	for _, child := range n.Children {
		x.Children = append(x.Children, fromNode(child))
	}
	return x
}

// RenderDocument renders q in tree form.
func RenderDocument(q *Query) ([]byte, error) {
	return q.Document()
}

func renderDocument(cond condition.Condition, maxResults int, sortBy []SortCriterion, returnFields []string) ([]byte, error) {
	doc := xmlQuery{
		MaxResults:   strconv.Itoa(maxResults),
		ReturnFields: strings.Join(returnFields, ","),
		Conditions:   xmlConditions{Format: FormatTree},
	}
	if len(sortBy) > 0 {
		doc.SortBy = &xmlSortBy{}
		for _, s := range sortBy {
			order := orderDescending
			if s.Ascending {
				order = orderAscending
			}
			doc.SortBy.Sorts = append(doc.SortBy.Sorts, xmlSort{Name: s.Field, Order: order})
		}
	}
	if cond != nil {
		doc.Conditions.Nodes = []xmlNode{fromNode(parser.ToNode(cond))}
	}
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInternal, http.StatusInternalServerError, "rendering query document: %v", err)
	}
	return buf.Bytes(), nil
}

func snippet(data []byte) string {
	if len(data) > 40 {
		return string(data[:40])
	}
	return string(data)
}
