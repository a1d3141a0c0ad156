package results

import (
	"cmp"
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
)

func hit(key string, kv ...string) *Hit {
	h := NewHit(key)
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

func setOf(t *testing.T, hits ...*Hit) *ResultSet {
	t.Helper()
	rs := New()
	for _, h := range hits {
		if err := rs.AddHit(h); err != nil {
			t.Fatalf("AddHit: %v", err)
		}
	}
	return rs
}

func TestAddHit_MergesDuplicates(t *testing.T) {
	rs := setOf(t,
		hit("a", "title", "Fox"),
		hit("b", "title", "Hound"),
		hit("a", "title", "Fox", "title", "Red Fox", "year", "1999"),
	)
	if rs.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rs.Len())
	}
	a, ok := rs.Get("a")
	if !ok {
		t.Fatal("a missing")
	}
	if got := a.Metadata["title"]; !slices.Equal(got, []string{"Fox", "Red Fox"}) {
		t.Errorf("title = %v", got)
	}
	if a.First("year") != "1999" {
		t.Errorf("year = %v", a.Metadata["year"])
	}
	if got := rs.Keys(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Keys() = %v", got)
	}
}

func TestUnion_MergesDisjointMetadata(t *testing.T) {
	s1 := setOf(t, hit("X", "title", "Fox"), hit("Y", "title", "Owl"))
	s2 := setOf(t, hit("X", "branch", "annex"), hit("Z", "branch", "main"))

	u := Union(s1, s2)
	if got := u.Keys(); !slices.Equal(got, []string{"X", "Y", "Z"}) {
		t.Fatalf("Keys() = %v", got)
	}
	x, _ := u.Get("X")
	if x.First("title") != "Fox" || x.First("branch") != "annex" {
		t.Errorf("X metadata = %v", x.Metadata)
	}
	orig, _ := s1.Get("X")
	if _, ok := orig.Metadata["branch"]; ok {
		t.Error("Union mutated an input hit")
	}
}

func TestIntersect(t *testing.T) {
	big := setOf(t, hit("a", "f", "1"), hit("b", "f", "2"), hit("c", "f", "3"), hit("d", "f", "4"))
	small := setOf(t, hit("c", "g", "x"), hit("a", "g", "y"), hit("z", "g", "z"))
	mid := setOf(t, hit("a", "h", "1"), hit("c", "h", "2"), hit("d", "h", "3"), hit("q"))

	got := Intersect(big, small, mid)
	if keys := got.Keys(); !slices.Equal(keys, []string{"c", "a"}) {
		t.Fatalf("Keys() = %v, want smallest set order [c a]", keys)
	}
	c, _ := got.Get("c")
	if c.First("f") != "3" || c.First("g") != "x" || c.First("h") != "2" {
		t.Errorf("c metadata = %v", c.Metadata)
	}
}

func TestIntersect_Empty(t *testing.T) {
	a := setOf(t, hit("a"), hit("b"))
	if got := Intersect(a, New()); got.Len() != 0 {
		t.Errorf("Intersect(A, EMPTY) has %d hits", got.Len())
	}
	if got := Intersect(New(), a); got.Len() != 0 {
		t.Errorf("Intersect(EMPTY, A) has %d hits", got.Len())
	}
	if got := Intersect(); got.Len() != 0 {
		t.Errorf("Intersect() has %d hits", got.Len())
	}
}

func TestCut(t *testing.T) {
	rs := setOf(t, hit("a"), hit("b"), hit("c"), hit("d"), hit("e"))
	if err := rs.Cut(3); err != nil {
		t.Fatalf("Cut: %v", err)
	}
	if got := rs.Keys(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("Keys() = %v", got)
	}
	for _, k := range []string{"d", "e"} {
		if _, ok := rs.Get(k); ok {
			t.Errorf("%s still indexed after cut", k)
		}
	}
	if rs.Total() != 5 {
		t.Errorf("Total() = %d, want 5", rs.Total())
	}
	if err := rs.Cut(0); err != nil || rs.Len() != 3 {
		t.Errorf("Cut(0) changed the set: %v, %d", err, rs.Len())
	}
	if err := rs.Cut(10); err != nil || rs.Len() != 3 {
		t.Errorf("Cut(10) changed the set: %v, %d", err, rs.Len())
	}
}

func TestReadOnly(t *testing.T) {
	rs := NewReadOnly([]*Hit{hit("a"), hit("b")}, true)
	if err := rs.AddHit(hit("c")); !errors.Is(err, apperrors.ErrReadOnly) {
		t.Errorf("AddHit = %v, want ErrReadOnly", err)
	}
	if err := rs.Cut(1); !errors.Is(err, apperrors.ErrReadOnly) {
		t.Errorf("Cut = %v, want ErrReadOnly", err)
	}
	if err := rs.Sort(context.Background(), []query.SortCriterion{{Field: "f", Ascending: true}}, nil); !errors.Is(err, apperrors.ErrReadOnly) {
		t.Errorf("Sort = %v, want ErrReadOnly", err)
	}

	m := rs.Mergeable()
	if m == rs || m.ReadOnly() {
		t.Fatal("Mergeable returned a read-only set")
	}
	if err := m.AddHit(hit("c")); err != nil {
		t.Fatalf("AddHit on copy: %v", err)
	}
	if rs.Len() != 2 || m.Len() != 3 {
		t.Errorf("lens = %d, %d", rs.Len(), m.Len())
	}
}

func TestSort_MultiKey(t *testing.T) {
	rs := setOf(t,
		hit("h1", "a", "1", "b", "2"),
		hit("h2", "a", "1", "b", "1"),
		hit("h3", "a", "0", "b", "5"),
	)
	criteria := []query.SortCriterion{{Field: "a", Ascending: true}, {Field: "b", Ascending: true}}
	if err := rs.Sort(context.Background(), criteria, nil); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	if got := rs.Keys(); !slices.Equal(got, []string{"h3", "h2", "h1"}) {
		t.Errorf("Keys() = %v, want [h3 h2 h1]", got)
	}
	if !rs.Sorted() {
		t.Error("Sorted() = false")
	}
}

func TestSort_DirectionAndMissing(t *testing.T) {
	rs := setOf(t,
		hit("none"),
		hit("nine", "year", "9"),
		hit("ten", "year", "10"),
		hit("word", "year", "abc"),
	)
	criteria := []query.SortCriterion{{Field: "year"}}
	if err := rs.Sort(context.Background(), criteria, nil); err != nil {
		t.Fatal(err)
	}
	// Numbers sort below words, missing last.
	if got := rs.Keys(); !slices.Equal(got, []string{"word", "ten", "nine", "none"}) {
		t.Errorf("Keys() = %v", got)
	}

	mixed := setOf(t,
		hit("alnum", "year", "1a"),
		hit("ten", "year", "10"),
		hit("two", "year", "2"),
	)
	if err := mixed.Sort(context.Background(), []query.SortCriterion{{Field: "year", Ascending: true}}, nil); err != nil {
		t.Fatal(err)
	}
	if got := mixed.Keys(); !slices.Equal(got, []string{"two", "ten", "alnum"}) {
		t.Errorf("mixed Keys() = %v", got)
	}
}

func TestCompareValues_Total(t *testing.T) {
	values := []string{"2", "10", "1a", "abc", " 3 ", "-1", "B"}
	sign := func(n int) int { return cmp.Compare(n, 0) }
	for _, a := range values {
		if got := CompareValues(a, a); got != 0 {
			t.Errorf("CompareValues(%q, %q) = %d", a, a, got)
		}
		for _, b := range values {
			if sign(CompareValues(a, b)) != -sign(CompareValues(b, a)) {
				t.Errorf("CompareValues not antisymmetric for %q, %q", a, b)
			}
			for _, c := range values {
				if CompareValues(a, b) < 0 && CompareValues(b, c) < 0 && CompareValues(a, c) >= 0 {
					t.Errorf("%q < %q < %q but CompareValues(%q, %q) >= 0", a, b, c, a, c)
				}
			}
		}
	}
}

func TestSort_Backfill(t *testing.T) {
	rs := setOf(t, hit("a", "year", "3"), hit("b"), hit("c"))
	calls := 0
	var filled []string
	fill := func(_ context.Context, missing iter.Seq[*Hit], criteria []query.SortCriterion) error {
		calls++
		for h := range missing {
			filled = append(filled, h.Key)
			if h.Key == "b" {
				h.SetSortValue("year", "1")
			}
		}
		return nil
	}
	criteria := []query.SortCriterion{{Field: "year", Ascending: true}}
	if err := rs.Sort(context.Background(), criteria, fill); err != nil {
		t.Fatal(err)
	}
	if calls != 1 || !slices.Equal(filled, []string{"b", "c"}) {
		t.Errorf("filler called %d times with %v", calls, filled)
	}
	if got := rs.Keys(); !slices.Equal(got, []string{"b", "a", "c"}) {
		t.Errorf("Keys() = %v", got)
	}
}

func TestSort_BackfillError(t *testing.T) {
	rs := setOf(t, hit("a"))
	boom := errors.New("backend down")
	fill := func(context.Context, iter.Seq[*Hit], []query.SortCriterion) error { return boom }
	if err := rs.Sort(context.Background(), []query.SortCriterion{{Field: "x"}}, fill); !errors.Is(err, boom) {
		t.Errorf("Sort = %v, want %v", err, boom)
	}
}

func TestAddHit_Concurrent(t *testing.T) {
	rs := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h := NewHit(string(rune('a' + i%26)))
				h.Add("worker", string(rune('0'+w)))
				_ = rs.AddHit(h)
			}
		}(w)
	}
	wg.Wait()
	if rs.Len() != 26 || len(rs.Keys()) != 26 {
		t.Fatalf("Len() = %d", rs.Len())
	}
}
