// Package query holds the Query value and its XML wire document.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
)

// SortCriterion is one sort key in priority order.
type SortCriterion struct {
	Field     string `json:"field"`
	Ascending bool   `json:"ascending"`
}

func (s SortCriterion) String() string {
	if s.Ascending {
		return s.Field + ":asc"
	}
	return s.Field + ":desc"
}

// Query is a normalized condition plus result shaping. It is changed only
// through its setters, each of which drops the cached document.
type Query struct {
	mu           sync.Mutex
	cond         condition.Condition
	maxResults   int
	sortBy       []SortCriterion
	returnFields []string
	doc          []byte
}

// New creates a Query for an already normalized condition.
func New(cond condition.Condition, maxResults int, sortBy []SortCriterion, returnFields []string) *Query {
	return &Query{
		cond:         cond,
		maxResults:   maxResults,
		sortBy:       slices.Clone(sortBy),
		returnFields: slices.Clone(returnFields),
	}
}

func (q *Query) Condition() condition.Condition {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cond
}

// MaxResults is the result limit; 0 means unlimited.
func (q *Query) MaxResults() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxResults
}

func (q *Query) SortBy() []SortCriterion {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.sortBy)
}

func (q *Query) ReturnFields() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.returnFields)
}

func (q *Query) SetCondition(c condition.Condition) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cond = condition.Normalize(c)
	q.doc = nil
}

func (q *Query) SetMaxResults(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxResults = n
	q.doc = nil
}

func (q *Query) SetSortBy(criteria []SortCriterion) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sortBy = slices.Clone(criteria)
	q.doc = nil
}

func (q *Query) SetReturnFields(fields []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.returnFields = slices.Clone(fields)
	q.doc = nil
}

// Document returns the XML wire form, rendering it at most once between
// changes.
func (q *Query) Document() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.doc != nil {
		return q.doc, nil
	}
	doc, err := renderDocument(q.cond, q.maxResults, q.sortBy, q.returnFields)
	if err != nil {
		return nil, err
	}
	q.doc = doc
	return doc, nil
}

// Fingerprint is a stable hash of the wire form, used as a cache key.
func (q *Query) Fingerprint() (string, error) {
	doc, err := q.Document()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:]), nil
}

func (q *Query) String() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var sb strings.Builder
	if q.cond != nil {
		sb.WriteString(q.cond.String())
	}
	fmt.Fprintf(&sb, " max=%d", q.maxResults)
	if len(q.sortBy) > 0 {
		parts := make([]string, len(q.sortBy))
		for i, s := range q.sortBy {
			parts[i] = s.String()
		}
		sb.WriteString(" sort=" + strings.Join(parts, ","))
	}
	return sb.String()
}

// ParseSortSpec parses "field:asc,other:desc". A missing direction means
// ascending.
func ParseSortSpec(spec string) ([]SortCriterion, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	var out []SortCriterion
	for _, part := range strings.Split(spec, ",") {
		name, dir, _ := strings.Cut(strings.TrimSpace(part), ":")
		if name == "" {
			return nil, apperrors.NewParseError(spec, -1, "empty sort field")
		}
		switch strings.ToLower(dir) {
		case "", "asc", "ascending":
			out = append(out, SortCriterion{Field: name, Ascending: true})
		case "desc", "descending":
			out = append(out, SortCriterion{Field: name})
		default:
			return nil, apperrors.NewParseError(part, -1, "unknown sort direction %q", dir)
		}
	}
	return out, nil
}

// ValidateSort checks that every criterion names a registered, sortable
// field.
func ValidateSort(reg *field.Registry, criteria []SortCriterion) error {
	for _, s := range criteria {
		def, err := reg.Lookup(s.Field)
		if err != nil {
			return err
		}
		if !def.Sortable {
			return apperrors.NewConfigurationError(s.Field, "field is not sortable")
		}
	}
	return nil
}
