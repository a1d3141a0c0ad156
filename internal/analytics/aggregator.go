package analytics

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/kafka"
)

// latencyWindow bounds the samples kept for percentiles.
const latencyWindow = 10000

// Stats summarizes the query events seen since the aggregator started.
type Stats struct {
	TotalQueries      int64            `json:"total_queries"`
	FailedQueries     int64            `json:"failed_queries"`
	CacheHits         int64            `json:"cache_hits"`
	CacheMisses       int64            `json:"cache_misses"`
	ZeroResultCount   int64            `json:"zero_result_count"`
	FederatedQueries  int64            `json:"federated_queries"`
	HostFailures      int64            `json:"host_failures"`
	AvgLatencyMs      float64          `json:"avg_latency_ms"`
	P50LatencyMs      int64            `json:"p50_latency_ms"`
	P95LatencyMs      int64            `json:"p95_latency_ms"`
	P99LatencyMs      int64            `json:"p99_latency_ms"`
	TopQueries        []QueryCount     `json:"top_queries"`
	ZeroResultQueries []QueryCount     `json:"zero_result_queries"`
	IndexUsage        map[string]int64 `json:"index_usage"`
	QueriesPerMinute  float64          `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds query events into Stats.
type Aggregator struct {
	mu         sync.Mutex
	stats      Stats
	latencies  []int64
	next       int
	queries    map[string]int64
	zeroResult map[string]int64
	indexes    map[string]int64
	startTime  time.Time
	now        func() time.Time
	logger     *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:  make([]int64, 0, 1024),
		queries:    make(map[string]int64),
		zeroResult: make(map[string]int64),
		indexes:    make(map[string]int64),
		startTime:  time.Now(),
		now:        time.Now,
		logger:     slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleMessage decodes a QueryEvent from Kafka. Undecodable messages are
// logged and skipped so they are still committed.
func (a *Aggregator) HandleMessage(_ context.Context, _ []byte, value []byte) error {
	event, err := kafka.DecodeJSON[QueryEvent](value)
	if err != nil {
		a.logger.Error("dropping undecodable query event", "error", err)
		return nil
	}
	a.Record(event)
	return nil
}

func (a *Aggregator) Record(e QueryEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalQueries++
	if e.Type == EventFailed {
		a.stats.FailedQueries++
		return
	}
	if e.CacheHit {
		a.stats.CacheHits++
	} else {
		a.stats.CacheMisses++
	}
	if e.Federated {
		a.stats.FederatedQueries++
		a.stats.HostFailures += int64(e.HostsFailed)
	}
	a.queries[e.Query]++
	if e.Total == 0 {
		a.stats.ZeroResultCount++
		a.zeroResult[e.Query]++
	}
	for _, ix := range e.Indexes {
		a.indexes[ix]++
	}
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, e.LatencyMs)
	} else {
		a.latencies[a.next] = e.LatencyMs
		a.next = (a.next + 1) % latencyWindow
	}
}

func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := a.stats
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)
		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queries, 10)
	stats.ZeroResultQueries = topN(a.zeroResult, 10)
	stats.IndexUsage = maps.Clone(a.indexes)
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalQueries) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	idx := min(pct*len(sorted)/100, len(sorted)-1)
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for q, c := range counts {
		result = append(result, QueryCount{Query: q, Count: c})
	}
	slices.SortFunc(result, func(a, b QueryCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Query, b.Query)
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
