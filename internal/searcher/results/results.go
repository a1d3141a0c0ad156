package results

import (
	"cmp"
	"iter"
	"slices"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
	"github.com/google/uuid"
)

// ResultSet is an ordered collection of hits with a key index. It is safe
// for concurrent AddHit calls; the hit list and key index change together
// under one lock.
type ResultSet struct {
	mu       sync.Mutex
	id       string
	hits     []*Hit
	byKey    map[string]*Hit
	sorted   bool
	readOnly bool
	total    int
}

// New returns an empty, mergeable set.
func New() *ResultSet {
	return &ResultSet{
		id:    uuid.NewString(),
		byKey: make(map[string]*Hit),
	}
}

// NewReadOnly returns a set holding hits that rejects further mutation.
// Duplicate keys are merged on the way in.
func NewReadOnly(hits []*Hit, sorted bool) *ResultSet {
	rs := New()
	for _, h := range hits {
		rs.addLocked(h)
	}
	rs.sorted = sorted
	rs.readOnly = true
	return rs
}

func (rs *ResultSet) ID() string { return rs.id }

func (rs *ResultSet) Len() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.hits)
}

// Total is the number of hits before any cut.
func (rs *ResultSet) Total() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return max(rs.total, len(rs.hits))
}

func (rs *ResultSet) Sorted() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.sorted
}

func (rs *ResultSet) ReadOnly() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.readOnly
}

// Freeze marks the set read-only.
func (rs *ResultSet) Freeze() *ResultSet {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.readOnly = true
	return rs
}

// Hits returns a snapshot of the hit list in current order.
func (rs *ResultSet) Hits() []*Hit {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]*Hit, len(rs.hits))
	copy(out, rs.hits)
	return out
}

// All iterates over a snapshot of the hit list.
func (rs *ResultSet) All() iter.Seq[*Hit] {
	hits := rs.Hits()
	return func(yield func(*Hit) bool) {
		for _, h := range hits {
			if !yield(h) {
				return
			}
		}
	}
}

func (rs *ResultSet) Get(key string) (*Hit, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	h, ok := rs.byKey[key]
	return h, ok
}

func (rs *ResultSet) Keys() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	keys := make([]string, len(rs.hits))
	for i, h := range rs.hits {
		keys[i] = h.Key
	}
	return keys
}

// AddHit appends h, or merges it into the hit already stored under the same
// key. The set keeps h itself, not a copy.
func (rs *ResultSet) AddHit(h *Hit) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.readOnly {
		return apperrors.ErrReadOnly
	}
	rs.addLocked(h)
	return nil
}

func (rs *ResultSet) addLocked(h *Hit) {
	if existing, ok := rs.byKey[h.Key]; ok {
		existing.Merge(h)
		return
	}
	rs.hits = append(rs.hits, h)
	rs.byKey[h.Key] = h
	rs.sorted = false
}

// Clone returns a mergeable deep copy.
func (rs *ResultSet) Clone() *ResultSet {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	c := New()
	for _, h := range rs.hits {
		c.addLocked(h.Clone())
	}
	c.sorted = rs.sorted
	c.total = rs.total
	return c
}

// Mergeable returns rs itself when it accepts mutation, otherwise a
// mergeable copy.
func (rs *ResultSet) Mergeable() *ResultSet {
	if rs.ReadOnly() {
		return rs.Clone()
	}
	return rs
}

// Cut drops hits from the tail until at most n remain. n <= 0 means no
// limit.
func (rs *ResultSet) Cut(n int) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.readOnly {
		return apperrors.ErrReadOnly
	}
	if n <= 0 || len(rs.hits) <= n {
		return nil
	}
	rs.total = max(rs.total, len(rs.hits))
	for _, h := range rs.hits[n:] {
		delete(rs.byKey, h.Key)
	}
	clear(rs.hits[n:])
	rs.hits = rs.hits[:n]
	return nil
}

// Intersect keeps the hits present in every set, merging their data. The
// smallest set is walked and its order is kept; an empty input yields an
// empty result.
func Intersect(sets ...*ResultSet) *ResultSet {
	out := New()
	if len(sets) == 0 {
		return out
	}
	snapshots := make([][]*Hit, len(sets))
	for i, s := range sets {
		snapshots[i] = s.Hits()
		if len(snapshots[i]) == 0 {
			return out
		}
	}
	order := make([]int, len(sets))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(len(snapshots[a]), len(snapshots[b]))
	})
	for _, h := range snapshots[order[0]] {
		merged := h.Clone()
		survives := true
		for _, i := range order[1:] {
			match, ok := sets[i].Get(h.Key)
			if !ok {
				survives = false
				break
			}
			merged.Merge(match)
		}
		if survives {
			out.addLocked(merged)
		}
	}
	return out
}

// Union folds every hit of every set, in input order, into a new set.
func Union(sets ...*ResultSet) *ResultSet {
	out := New()
	for _, s := range sets {
		for _, h := range s.Hits() {
			out.addLocked(h.Clone())
		}
	}
	return out
}
