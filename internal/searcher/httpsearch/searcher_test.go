package httpsearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/backend"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/results"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/resilience"
)

const registryYAML = `
indexes:
  - id: catalog
    fields:
      - {name: title, type: text, sortable: true}
      - {name: year, type: number, sortable: true}
`

// fakeBackend records select requests and answers with canned documents.
type fakeBackend struct {
	mu       sync.Mutex
	requests []map[string][]string
	status   int
	respond  func(form map[string][]string) any
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/solr/catalog/select" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, r.PostForm)
	status := f.status
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"msg": "undefined field nope", "code": status}})
		return
	}
	json.NewEncoder(w).Encode(f.respond(r.PostForm))
}

func (f *fakeBackend) form(i int) map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeBackend) setStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = code
}

func docs(d ...map[string]any) map[string]any {
	return map[string]any{
		"responseHeader": map[string]any{"status": 0},
		"response":       map[string]any{"numFound": len(d), "docs": d},
	}
}

func newSearcher(t *testing.T, fb *fakeBackend, opts ...Option) *Searcher {
	t.Helper()
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)
	r := backend.NewRenderer(field.MustLoad([]byte(registryYAML)), config.BackendConfig{
		Mode:          string(backend.ModeDefault),
		KeyField:      "id",
		UnlimitedRows: 1000000,
	})
	s, err := New("catalog", srv.URL+"/solr/", "catalog", r, time.Second, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSearch(t *testing.T) {
	fb := &fakeBackend{respond: func(map[string][]string) any {
		return docs(
			map[string]any{"id": "b2", "title": []string{"Fox tales", "Fox Tales II"}, "year": 2005},
			map[string]any{"id": "b1", "title": "The Quick Brown Fox", "year": 1990},
			map[string]any{"title": "no key"},
		)
	}}
	s := newSearcher(t, fb)

	cond := condition.NewAnd(condition.Compare("title", "contains", "fox"), condition.Compare("year", ">=", "1990"))
	rs, err := s.Search(context.Background(), cond, 10, []query.SortCriterion{{Field: "year"}}, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := rs.Keys(); !slices.Equal(got, []string{"b2", "b1"}) {
		t.Errorf("keys = %v", got)
	}
	if !rs.ReadOnly() || !rs.Sorted() {
		t.Errorf("readOnly=%v sorted=%v", rs.ReadOnly(), rs.Sorted())
	}
	b2, _ := rs.Get("b2")
	if !slices.Equal(b2.Metadata["title"], []string{"Fox tales", "Fox Tales II"}) || b2.SortData["year"] != "2005" {
		t.Errorf("b2 = %+v", b2)
	}

	form := fb.form(0)
	want := map[string]string{
		"q":    `+title:fox +year:[1990 TO *]`,
		"rows": "10",
		"sort": "year desc",
		"wt":   "json",
	}
	for k, v := range want {
		if got := strings.Join(form[k], "|"); got != v {
			t.Errorf("param %s = %q, want %q", k, got, v)
		}
	}
}

func TestAddSortData(t *testing.T) {
	fb := &fakeBackend{respond: func(map[string][]string) any {
		return docs(
			map[string]any{"id": "b1", "year": 1990},
			map[string]any{"id": "b3", "year": 1985},
		)
	}}
	s := newSearcher(t, fb)

	hits := []*results.Hit{results.NewHit("b1"), results.NewHit("b3"), results.NewHit("gone")}
	if err := s.AddSortData(context.Background(), slices.Values(hits), []query.SortCriterion{{Field: "year"}}); err != nil {
		t.Fatal(err)
	}
	if hits[0].SortData["year"] != "1990" || hits[1].SortData["year"] != "1985" || len(hits[2].SortData) != 0 {
		t.Errorf("sort data = %v %v %v", hits[0].SortData, hits[1].SortData, hits[2].SortData)
	}
	form := fb.form(0)
	if q := form["q"][0]; q != `+(id:"b1" id:"b3" id:"gone")` {
		t.Errorf("q = %s", q)
	}
	if fl := form["fl"][0]; fl != "id,year" {
		t.Errorf("fl = %s", fl)
	}
}

func TestSearch_BackendErrors(t *testing.T) {
	fb := &fakeBackend{status: http.StatusBadRequest}
	s := newSearcher(t, fb)
	_, err := s.Search(context.Background(), condition.Compare("title", "contains", "x"), 0, nil, false)
	if err == nil || !strings.Contains(err.Error(), "undefined field nope") {
		t.Errorf("err = %v", err)
	}
	if errors.Is(err, apperrors.ErrSearcherUnavailable) {
		t.Error("client error reported as unavailable")
	}

	fb.setStatus(http.StatusServiceUnavailable)
	_, err = s.Search(context.Background(), condition.Compare("title", "contains", "x"), 0, nil, false)
	if !errors.Is(err, apperrors.ErrSearcherUnavailable) {
		t.Errorf("err = %v, want unavailable", err)
	}
}

func TestSearch_BreakerOpens(t *testing.T) {
	fb := &fakeBackend{status: http.StatusInternalServerError}
	cb := resilience.NewCircuitBreaker("catalog", resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	s := newSearcher(t, fb, WithBreaker(cb))
	cond := condition.Compare("title", "contains", "x")

	s.Search(context.Background(), cond, 0, nil, false)
	_, err := s.Search(context.Background(), cond, 0, nil, false)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want open circuit", err)
	}
	if n := fb.calls(); n != 1 {
		t.Errorf("backend saw %d requests, want 1", n)
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New("catalog", "", "", nil, time.Second); !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("err = %v", err)
	}
}
