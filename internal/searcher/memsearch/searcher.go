package memsearch

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/results"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
)

type keySet map[string]struct{}

// Searcher serves one index from an in-memory Index.
type Searcher struct {
	index  string
	fields *field.Registry
	docs   *Index
	logger *slog.Logger
}

func New(index string, fields *field.Registry, docs *Index) *Searcher {
	return &Searcher{
		index:  index,
		fields: fields,
		docs:   docs,
		logger: slog.Default().With("component", "memsearch", "index", index),
	}
}

// Index returns the document store behind the searcher.
func (s *Searcher) Index() *Index { return s.docs }

func (s *Searcher) IsIndexer() bool { return true }

// Search evaluates cond against every stored document. Hits come back in
// insertion order unless sortBy is given, and the set is read-only.
func (s *Searcher) Search(ctx context.Context, cond condition.Condition, maxResults int, sortBy []query.SortCriterion, addSortData bool) (*results.ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rs := results.New()

	s.docs.mu.RLock()
	matched, err := s.eval(cond)
	if err != nil {
		s.docs.mu.RUnlock()
		return nil, err
	}
	for _, key := range s.docs.order {
		if _, ok := matched[key]; !ok {
			continue
		}
		doc := s.docs.docs[key]
		h := results.NewHit(key)
		for f, values := range doc.Fields {
			h.Add(f, values...)
		}
		if addSortData {
			setSortData(h, doc, sortBy)
		}
		rs.AddHit(h)
	}
	s.docs.mu.RUnlock()

	if err := rs.Sort(ctx, sortBy, nil); err != nil {
		return nil, err
	}
	if err := rs.Cut(maxResults); err != nil {
		return nil, err
	}
	s.logger.Debug("memory search", "condition", cond, "matched", len(matched), "returned", rs.Len())
	return rs.Freeze(), nil
}

// AddSortData fills sort values from the stored documents. Hits whose key
// is not stored here are left alone.
func (s *Searcher) AddSortData(ctx context.Context, hits iter.Seq[*results.Hit], sortBy []query.SortCriterion) error {
	s.docs.mu.RLock()
	defer s.docs.mu.RUnlock()
	for h := range hits {
		if err := ctx.Err(); err != nil {
			return err
		}
		if doc, ok := s.docs.docs[h.Key]; ok {
			setSortData(h, doc, sortBy)
		}
	}
	return nil
}

func setSortData(h *results.Hit, doc *Document, sortBy []query.SortCriterion) {
	for _, c := range sortBy {
		if vs := doc.Fields[c.Field]; len(vs) > 0 {
			h.SetSortValue(c.Field, vs[0])
		}
	}
}

// eval returns the keys matching c. The caller holds the read lock.
func (s *Searcher) eval(c condition.Condition) (keySet, error) {
	switch x := c.(type) {
	case nil:
		return s.all(), nil
	case *condition.Comparison:
		return s.match(x)
	case *condition.Not:
		excluded, err := s.eval(x.Child)
		if err != nil {
			return nil, err
		}
		out := make(keySet)
		for key := range s.docs.docs {
			if _, ok := excluded[key]; !ok {
				out[key] = struct{}{}
			}
		}
		return out, nil
	case *condition.And:
		var acc keySet
		for i, child := range x.Children {
			keys, err := s.eval(child)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				acc = keys
			} else {
				acc = intersect(acc, keys)
			}
			if len(acc) == 0 {
				break
			}
		}
		return acc, nil
	case *condition.Or:
		acc := make(keySet)
		for _, child := range x.Children {
			keys, err := s.eval(child)
			if err != nil {
				return nil, err
			}
			for k := range keys {
				acc[k] = struct{}{}
			}
		}
		return acc, nil
	}
	return nil, apperrors.Newf(apperrors.ErrInternal, http.StatusInternalServerError, "unknown condition type %T", c)
}

func (s *Searcher) all() keySet {
	out := make(keySet, len(s.docs.docs))
	for key := range s.docs.docs {
		out[key] = struct{}{}
	}
	return out
}

func (s *Searcher) match(c *condition.Comparison) (keySet, error) {
	def, err := s.fields.Lookup(c.Field)
	if err != nil {
		return nil, err
	}
	if def.Index != s.index {
		return nil, apperrors.NewConfigurationError(c.Field, "field is not part of index "+s.index)
	}
	switch c.Operator {
	case condition.OpContains:
		return s.matchTerms(c.Field, tokenize(c.Value), false), nil
	case condition.OpPhrase:
		return s.matchTerms(c.Field, tokenize(c.Value), true), nil
	case condition.OpLike:
		re, err := wildcardPattern(c.Value)
		if err != nil {
			return nil, apperrors.NewParseError(c.Value, 0, "invalid pattern: %v", err)
		}
		return s.scan(c.Field, func(v string) bool {
			if re.MatchString(v) {
				return true
			}
			for _, w := range words(v) {
				if re.MatchString(w) {
					return true
				}
			}
			return false
		}), nil
	case condition.OpEqual:
		switch def.Type {
		case field.TypeText:
			return s.scan(c.Field, func(v string) bool { return strings.EqualFold(v, c.Value) }), nil
		case field.TypeNumber:
			return s.scan(c.Field, func(v string) bool { return results.CompareValues(v, c.Value) == 0 }), nil
		}
		return s.scan(c.Field, func(v string) bool { return v == c.Value }), nil
	case condition.OpLess:
		return s.scan(c.Field, func(v string) bool { return results.CompareValues(v, c.Value) < 0 }), nil
	case condition.OpLessEqual:
		return s.scan(c.Field, func(v string) bool { return results.CompareValues(v, c.Value) <= 0 }), nil
	case condition.OpGreater:
		return s.scan(c.Field, func(v string) bool { return results.CompareValues(v, c.Value) > 0 }), nil
	case condition.OpGreaterEqual:
		return s.scan(c.Field, func(v string) bool { return results.CompareValues(v, c.Value) >= 0 }), nil
	}
	return nil, apperrors.NewConfigurationError(c.Operator, "operator not supported by the memory searcher")
}

// scan returns the documents with at least one value of f satisfying pred.
func (s *Searcher) scan(f string, pred func(string) bool) keySet {
	out := make(keySet)
	for key, doc := range s.docs.docs {
		for _, v := range doc.Fields[f] {
			if pred(v) {
				out[key] = struct{}{}
				break
			}
		}
	}
	return out
}

// matchTerms intersects the postings of every token. A value made only of
// stop words matches every document carrying the field.
func (s *Searcher) matchTerms(f string, tokens []token, phrase bool) keySet {
	if len(tokens) == 0 {
		return s.scan(f, func(v string) bool { return strings.TrimSpace(v) != "" })
	}
	lists := make([]map[string]*posting, len(tokens))
	for i, tok := range tokens {
		lists[i] = s.docs.postingsLocked(f, tok.Term)
		if len(lists[i]) == 0 {
			return keySet{}
		}
	}
	out := make(keySet)
	for key, first := range lists[0] {
		ok := true
		for _, l := range lists[1:] {
			if _, found := l[key]; !found {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if phrase && !adjacent(key, first, lists[1:]) {
			continue
		}
		out[key] = struct{}{}
	}
	return out
}

// adjacent reports whether the terms occur at consecutive positions
// starting from some position of the first term.
func adjacent(key string, first *posting, rest []map[string]*posting) bool {
	for _, start := range first.positions {
		found := true
		for i, l := range rest {
			if !slices.Contains(l[key].positions, start+i+1) {
				found = false
				break
			}
		}
		if found {
			return true
		}
	}
	return false
}

func intersect(a, b keySet) keySet {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(keySet, len(a))
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

// wildcardPattern turns a like value into a case-insensitive anchored
// expression where * matches any run and ? one character.
func wildcardPattern(p string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("(?i)^")
	for _, r := range p {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}
