// Package engine plans and executes queries whose fields may live in
// several independently searchable indexes. Each plan leaf goes to the
// Searcher registered for its index; sibling searches run concurrently and
// their result sets are combined once all of them have completed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/results"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/tracing"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ExecuteOptions tune a single execution.
type ExecuteOptions struct {
	// AddSortData asks searchers to attach sort values to every hit.
	AddSortData bool
	// Remote marks a query issued by another host; the caller merges and
	// sorts, so final sorting and truncation are skipped.
	Remote bool
}

// Engine plans and runs queries against the registered searchers.
type Engine struct {
	fields    *field.Registry
	searchers *Registry
	timeout   time.Duration
	sem       *semaphore.Weighted
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Engine)

// WithSearchTimeout bounds every searcher call.
func WithSearchTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithMaxConcurrentSearches bounds the searcher calls in flight across all
// queries.
func WithMaxConcurrentSearches(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func New(fields *field.Registry, searchers *Registry, opts ...Option) *Engine {
	e := &Engine{
		fields:    fields,
		searchers: searchers,
		logger:    slog.Default().With("component", "query-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fields returns the registry the engine resolves fields against.
func (e *Engine) Fields() *field.Registry { return e.fields }

// Searchers returns the index to searcher bindings.
func (e *Engine) Searchers() *Registry { return e.searchers }

// Execute runs q and, unless opts.Remote is set, sorts the combined result
// and cuts it to q.MaxResults().
func (e *Engine) Execute(ctx context.Context, q *query.Query, opts ExecuteOptions) (*results.ResultSet, error) {
	start := time.Now()
	log := logger.FromContext(ctx).With("component", "query-engine")

	cond := q.Condition()
	if cond == nil {
		return nil, apperrors.NewUsageError("")
	}
	sortBy := q.SortBy()
	if err := query.ValidateSort(e.fields, sortBy); err != nil {
		return nil, err
	}
	plan, err := e.Plan(cond)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartChildSpan(ctx, "engine.execute")
	defer span.End()
	span.SetAttr("searches", plan.Searches())

	// Only a lone search may truncate, and only when it can apply every
	// sort key itself.
	limit := 0
	if plan.Op == OpSearch && e.sortsLocally(sortBy, plan.Index) {
		limit = q.MaxResults()
	}

	rs, err := e.run(ctx, plan, limit, sortBy, opts.AddSortData)
	if err != nil {
		e.observeQuery("error", 0)
		log.Warn("query failed", "query", cond.String(), "error", err, "latency_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	if !opts.Remote {
		// A lone search given only part of the sort keys reports a partial
		// order.
		trustSorted := plan.Op == OpSearch && e.sortsLocally(sortBy, plan.Index)
		if rs, err = e.finish(ctx, rs, sortBy, q.MaxResults(), trustSorted); err != nil {
			e.observeQuery("error", 0)
			return nil, err
		}
	}

	outcome := "ok"
	if rs.Len() == 0 {
		outcome = "zero_result"
	}
	e.observeQuery(outcome, rs.Len())
	log.Info("query executed",
		"indexes", plan.Indexes(),
		"searches", plan.Searches(),
		"hits", rs.Len(),
		"total", rs.Total(),
		"remote", opts.Remote,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return rs, nil
}

// Finish sorts rs by q's criteria, backfilling missing sort values from
// the owning searchers, and cuts it to q.MaxResults(). A read-only set is
// copied before it is changed. rs is always re-sorted: a set may report
// an order by only the keys one searcher could apply.
func (e *Engine) Finish(ctx context.Context, rs *results.ResultSet, q *query.Query) (*results.ResultSet, error) {
	return e.finish(ctx, rs, q.SortBy(), q.MaxResults(), false)
}

func (e *Engine) finish(ctx context.Context, rs *results.ResultSet, sortBy []query.SortCriterion, maxResults int, trustSorted bool) (*results.ResultSet, error) {
	needSort := len(sortBy) > 0 && !(trustSorted && rs.Sorted())
	needCut := maxResults > 0 && rs.Len() > maxResults
	if !needSort && !needCut {
		return rs, nil
	}
	rs = rs.Mergeable()
	if needSort {
		if err := rs.Sort(ctx, sortBy, e.fillSortData); err != nil {
			return nil, fmt.Errorf("sorting results: %w", err)
		}
	}
	if err := rs.Cut(maxResults); err != nil {
		return nil, err
	}
	return rs, nil
}

func (e *Engine) run(ctx context.Context, p *Plan, maxResults int, sortBy []query.SortCriterion, addSortData bool) (*results.ResultSet, error) {
	if p.Op == OpSearch {
		return e.search(ctx, p, maxResults, sortBy, addSortData)
	}
	sets := make([]*results.ResultSet, len(p.Children))
	g, gctx := errgroup.WithContext(ctx)
	for i, child := range p.Children {
		g.Go(func() error {
			rs, err := e.run(gctx, child, 0, sortBy, addSortData)
			sets[i] = rs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if p.Op == OpIntersect {
		return results.Intersect(sets...), nil
	}
	return results.Union(sets...), nil
}

func (e *Engine) search(ctx context.Context, p *Plan, maxResults int, sortBy []query.SortCriterion, addSortData bool) (*results.ResultSet, error) {
	s, err := e.searchers.Searcher(p.Index)
	if err != nil {
		return nil, err
	}
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer e.sem.Release(1)
	}

	ctx, span := tracing.StartChildSpan(ctx, "searcher.search")
	defer span.End()
	span.SetAttr("index", p.Index)

	local := e.localSort(sortBy, p.Index)
	start := time.Now()
	var rs *results.ResultSet
	err = resilience.WithTimeout(ctx, e.timeout, "search "+p.Index, func(ctx context.Context) error {
		var err error
		rs, err = s.Search(ctx, p.Condition, maxResults, local, addSortData)
		return err
	})
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.SearcherCallsTotal.WithLabelValues(p.Index, searcherType(s), status).Inc()
		e.metrics.SearcherLatency.WithLabelValues(p.Index).Observe(elapsed.Seconds())
	}
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: index %s: %v", apperrors.ErrTimeout, p.Index, err)
		}
		return nil, fmt.Errorf("searching index %s: %w", p.Index, err)
	}
	if rs == nil {
		rs = results.New()
	}
	span.SetAttr("hits", rs.Len())
	e.logger.Debug("searcher call",
		"index", p.Index,
		"searcher_type", searcherType(s),
		"condition", p.Condition.String(),
		"hits", rs.Len(),
		"latency_ms", elapsed.Milliseconds(),
	)
	return rs, nil
}

// fillSortData routes each criterion to the searcher of its field's index
// and asks it to fill values only for the hits still lacking one.
func (e *Engine) fillSortData(ctx context.Context, missing iter.Seq[*results.Hit], criteria []query.SortCriterion) error {
	var order []string
	byIndex := make(map[string][]query.SortCriterion)
	for _, c := range criteria {
		idx, err := e.fields.IndexOf(c.Field)
		if err != nil {
			return err
		}
		if _, ok := byIndex[idx]; !ok {
			order = append(order, idx)
		}
		byIndex[idx] = append(byIndex[idx], c)
	}
	for _, idx := range order {
		s, err := e.searchers.Searcher(idx)
		if err != nil {
			return err
		}
		crit := byIndex[idx]
		var lacking []*results.Hit
		for h := range missing {
			if !hasAll(h, crit) {
				lacking = append(lacking, h)
			}
		}
		if len(lacking) == 0 {
			continue
		}
		err = resilience.WithTimeout(ctx, e.timeout, "sort data "+idx, func(ctx context.Context) error {
			return s.AddSortData(ctx, slices.Values(lacking), crit)
		})
		if err != nil {
			return fmt.Errorf("adding sort data from index %s: %w", idx, err)
		}
	}
	return nil
}

func hasAll(h *results.Hit, criteria []query.SortCriterion) bool {
	for _, c := range criteria {
		if _, ok := h.SortValue(c.Field); !ok {
			return false
		}
	}
	return true
}

func (e *Engine) localSort(sortBy []query.SortCriterion, index string) []query.SortCriterion {
	var out []query.SortCriterion
	for _, c := range sortBy {
		if idx, err := e.fields.IndexOf(c.Field); err == nil && idx == index {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) sortsLocally(sortBy []query.SortCriterion, index string) bool {
	return len(e.localSort(sortBy, index)) == len(sortBy)
}

func (e *Engine) observeQuery(outcome string, hits int) {
	if e.metrics == nil {
		return
	}
	e.metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	if outcome != "error" {
		e.metrics.QueryResultsCount.Observe(float64(hits))
	}
}
