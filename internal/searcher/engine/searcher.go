package engine

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/results"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
)

// Searcher retrieves hits for one index. It only ever receives conditions
// whose fields all belong to that index.
type Searcher interface {
	// Search returns the hits matching cond. maxResults 0 means unlimited;
	// sortBy holds only criteria on fields of this index. The returned set
	// may be sorted and read-only.
	Search(ctx context.Context, cond condition.Condition, maxResults int, sortBy []query.SortCriterion, addSortData bool) (*results.ResultSet, error)
	// AddSortData fills sort values in place for the given hits.
	AddSortData(ctx context.Context, hits iter.Seq[*results.Hit], sortBy []query.SortCriterion) error
	// IsIndexer reports whether the searcher is backed by a full-text index.
	IsIndexer() bool
}

// Registry maps index ids to the Searcher serving each. It is filled at
// startup and read-only afterwards.
type Registry struct {
	mu        sync.RWMutex
	searchers map[string]Searcher
}

func NewRegistry() *Registry {
	return &Registry{searchers: make(map[string]Searcher)}
}

// Register binds index to s. Binding an index twice is a configuration
// error.
func (r *Registry) Register(index string, s Searcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.searchers[index]; dup {
		return apperrors.NewConfigurationError(index, "searcher registered twice")
	}
	r.searchers[index] = s
	return nil
}

func (r *Registry) Searcher(index string) (Searcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.searchers[index]
	if !ok {
		return nil, apperrors.NewConfigurationError(index, "no searcher configured for index")
	}
	return s, nil
}

// Indexes returns the registered index ids, sorted.
func (r *Registry) Indexes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.searchers))
	for id := range r.searchers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func searcherType(s Searcher) string {
	if s.IsIndexer() {
		return "indexer"
	}
	return "database"
}
