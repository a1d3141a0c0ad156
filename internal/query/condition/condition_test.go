package condition

import (
	"errors"
	"testing"
)

func cmp(field, op, value string) *Comparison { return Compare(field, op, value) }

func TestNormalize_Rules(t *testing.T) {
	a, b, c := cmp("a", OpEqual, "1"), cmp("b", OpEqual, "2"), cmp("c", OpEqual, "3")
	tests := []struct {
		name string
		in   Condition
		want Condition
	}{
		{"nil", nil, nil},
		{"leaf passes through", a, a},
		{"flatten and", NewAnd(a, NewAnd(b, c)), NewAnd(a, b, c)},
		{"flatten or", NewOr(NewOr(a, b), c), NewOr(a, b, c)},
		{"mixed connectives kept", NewAnd(a, NewOr(b, c)), NewAnd(a, NewOr(b, c))},
		{"singleton collapse", NewAnd(a), a},
		{"empty set vanishes", NewOr(), nil},
		{"nil children dropped", NewAnd(nil, a, nil), a},
		{"double negation", NewNot(NewNot(a)), a},
		{"triple negation", NewNot(NewNot(NewNot(a))), NewNot(a)},
		{"not of nil", NewNot(nil), nil},
		{"not of empty set", NewNot(NewAnd()), nil},
		{"deep flatten", NewAnd(NewAnd(NewAnd(a)), NewAnd(b, NewAnd(c))), NewAnd(a, b, c)},
		{"or inside and inside or", NewOr(a, NewAnd(NewOr(b, c))), NewOr(a, b, c)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if !Equal(got, tt.want) {
				t.Errorf("Normalize(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_Contains(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  Condition
	}{
		{"single word", "fox", cmp("title", OpContains, "fox")},
		{"phrase and negation", "'red fox' -jumps", NewAnd(
			cmp("title", OpPhrase, "red fox"),
			NewNot(cmp("title", OpContains, "jumps")),
		)},
		{"wildcard", "fo*", cmp("title", OpLike, "fo*")},
		{"question mark wildcard", "f?x", cmp("title", OpLike, "f?x")},
		{"negated phrase", "-'lazy dog'", NewNot(cmp("title", OpPhrase, "lazy dog"))},
		{"negated wildcard", "-ju*", NewNot(cmp("title", OpLike, "ju*"))},
		{"several words", "quick  brown", NewAnd(
			cmp("title", OpContains, "quick"),
			cmp("title", OpContains, "brown"),
		)},
		{"unterminated quote", "'red fox", cmp("title", OpPhrase, "red fox")},
		{"empty", "   ", nil},
		{"lone dash", "- fox", cmp("title", OpContains, "fox")},
		{"doubled dash", "--foo", NewNot(cmp("title", OpContains, "foo"))},
		{"doubled dash after word", "red --fox", NewAnd(
			cmp("title", OpContains, "red"),
			NewNot(cmp("title", OpContains, "fox")),
		)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(cmp("title", OpContains, tt.value))
			if !Equal(got, tt.want) {
				t.Errorf("Normalize(contains %q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestNormalize_ContainsInsideAndIsFlattened(t *testing.T) {
	in := NewAnd(cmp("year", OpEqual, "2001"), cmp("title", OpContains, "red fox"))
	want := NewAnd(
		cmp("year", OpEqual, "2001"),
		cmp("title", OpContains, "red"),
		cmp("title", OpContains, "fox"),
	)
	if got := Normalize(in); !Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []Condition{
		NewAnd(cmp("a", OpContains, "'x y' -z w*"), NewNot(NewNot(NewOr(cmp("b", OpEqual, "1"))))),
		NewNot(cmp("a", OpContains, "-z")),
		cmp("a", OpContains, "--foo"),
		cmp("a", OpContains, "red --fox"),
		cmp("a", OpContains, "---'x y'"),
		NewOr(NewAnd(), NewOr(cmp("a", OpLess, "3"), NewNot(NewAnd(cmp("b", OpContains, "p q"))))),
		NewNot(NewNot(NewNot(NewAnd(cmp("a", OpEqual, "1"), NewAnd(cmp("b", OpEqual, "2")))))),
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if !Equal(once, twice) {
			t.Errorf("not idempotent for %v: %v then %v", in, once, twice)
		}
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	inner := NewAnd(cmp("b", OpEqual, "2"), cmp("c", OpEqual, "3"))
	in := NewAnd(cmp("a", OpEqual, "1"), inner)
	Normalize(in)
	if len(in.Children) != 2 || len(inner.Children) != 2 {
		t.Fatal("input tree was modified")
	}
}

func TestEqual(t *testing.T) {
	a := cmp("a", OpEqual, "1")
	if !Equal(NewAnd(a, a), NewAnd(a, a)) {
		t.Error("identical ands not equal")
	}
	if Equal(NewAnd(a, a), NewOr(a, a)) {
		t.Error("and equals or")
	}
	if Equal(a, nil) {
		t.Error("leaf equals nil")
	}
	if !Equal(nil, nil) {
		t.Error("nil not equal nil")
	}
}

func TestFields(t *testing.T) {
	c := NewAnd(cmp("a", OpEqual, "1"), NewNot(NewOr(cmp("b", OpEqual, "2"), cmp("a", OpEqual, "3"))))
	got := Fields(c)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Fields = %v", got)
	}
}

func TestString(t *testing.T) {
	c := NewAnd(cmp("a", OpEqual, "1"), NewNot(cmp("b", OpContains, "x")))
	want := `(a = "1" AND NOT b contains "x")`
	if got := c.String(); got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}

var testIndexes = map[string]string{"title": "catalog", "year": "catalog", "branch": "holdings", "shelf": "holdings"}

func indexOf(field string) (string, error) {
	if idx, ok := testIndexes[field]; ok {
		return idx, nil
	}
	return "", errors.New("unknown field " + field)
}

func TestResolveIndex(t *testing.T) {
	tests := []struct {
		name       string
		in         Condition
		wantIndex  string
		wantSingle bool
	}{
		{"leaf", cmp("title", OpEqual, "x"), "catalog", true},
		{"not", NewNot(cmp("branch", OpEqual, "x")), "holdings", true},
		{"homogeneous and", NewAnd(cmp("title", OpEqual, "x"), cmp("year", OpEqual, "1")), "catalog", true},
		{"mixed or", NewOr(cmp("title", OpEqual, "x"), cmp("branch", OpEqual, "1")), "", false},
		{"mixed nested", NewAnd(cmp("title", OpEqual, "x"), NewNot(NewOr(cmp("year", OpEqual, "1"), cmp("shelf", OpEqual, "2")))), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, single, err := ResolveIndex(tt.in, indexOf)
			if err != nil {
				t.Fatalf("ResolveIndex: %v", err)
			}
			if idx != tt.wantIndex || single != tt.wantSingle {
				t.Errorf("got (%q, %v), want (%q, %v)", idx, single, tt.wantIndex, tt.wantSingle)
			}
		})
	}
}

func TestResolveIndex_UnknownField(t *testing.T) {
	if _, _, err := ResolveIndex(NewAnd(cmp("title", OpEqual, "x"), cmp("nope", OpEqual, "y")), indexOf); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestGroupByIndex(t *testing.T) {
	t1 := cmp("title", OpEqual, "x")
	b1 := cmp("branch", OpEqual, "main")
	y1 := cmp("year", OpEqual, "2001")
	mixed := NewOr(cmp("year", OpEqual, "1"), cmp("shelf", OpEqual, "2"))
	groups, err := GroupByIndex([]Condition{t1, b1, mixed, y1}, indexOf)
	if err != nil {
		t.Fatalf("GroupByIndex: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}
	if groups[0].Index != "catalog" || len(groups[0].Members) != 2 || groups[0].Members[1] != y1 {
		t.Errorf("catalog group = %+v", groups[0])
	}
	if groups[1].Index != "holdings" || len(groups[1].Members) != 1 {
		t.Errorf("holdings group = %+v", groups[1])
	}
	if groups[2].Single || groups[2].Members[0] != mixed {
		t.Errorf("mixed group = %+v", groups[2])
	}
}
