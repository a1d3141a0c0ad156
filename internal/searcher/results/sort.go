package results

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
)

// Filler backfills sort data, in place, for hits that lack a value for one
// of the criteria fields.
type Filler func(ctx context.Context, missing iter.Seq[*Hit], criteria []query.SortCriterion) error

// Sort orders the set by criteria, stable, after one backfill pass over the
// hits missing sort values. Hits still missing a value sort last for that
// key in either direction.
func (rs *ResultSet) Sort(ctx context.Context, criteria []query.SortCriterion, fill Filler) error {
	if len(criteria) == 0 {
		return nil
	}
	rs.mu.Lock()
	if rs.readOnly {
		rs.mu.Unlock()
		return apperrors.ErrReadOnly
	}
	var missing []*Hit
	for _, h := range rs.hits {
		if lacksSortData(h, criteria) {
			missing = append(missing, h)
		}
	}
	rs.mu.Unlock()

	if len(missing) > 0 && fill != nil {
		if err := fill(ctx, slices.Values(missing), criteria); err != nil {
			return err
		}
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	slices.SortStableFunc(rs.hits, CompareHits(criteria))
	rs.sorted = true
	return nil
}

func lacksSortData(h *Hit, criteria []query.SortCriterion) bool {
	for _, c := range criteria {
		if _, ok := h.SortValue(c.Field); !ok {
			return true
		}
	}
	return false
}

// CompareHits returns a comparator applying criteria in priority order.
func CompareHits(criteria []query.SortCriterion) func(a, b *Hit) int {
	return func(a, b *Hit) int {
		for _, c := range criteria {
			av, aok := a.SortValue(c.Field)
			bv, bok := b.SortValue(c.Field)
			switch {
			case !aok && !bok:
				continue
			case !aok:
				return 1
			case !bok:
				return -1
			}
			r := CompareValues(av, bv)
			if r == 0 {
				continue
			}
			if !c.Ascending {
				r = -r
			}
			return r
		}
		return 0
	}
}

// CompareValues orders numbers before all other values. Two numbers
// compare numerically and two non-numbers lexically, so the order is total.
func CompareValues(a, b string) int {
	af, aerr := strconv.ParseFloat(strings.TrimSpace(a), 64)
	bf, berr := strconv.ParseFloat(strings.TrimSpace(b), 64)
	switch {
	case aerr == nil && berr == nil:
		return cmp.Compare(af, bf)
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return strings.Compare(a, b)
}
