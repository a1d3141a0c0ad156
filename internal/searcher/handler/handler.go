// Package handler serves the query HTTP API: structured query documents,
// text searches, plan explanations, backend request rendering, plus cache
// and analytics administration.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/backend"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/engine"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/federation"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/results"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/tracing"
)

const maxDocumentBytes = 1 << 20

// QueryEngine plans and executes queries.
type QueryEngine interface {
	Execute(ctx context.Context, q *query.Query, opts engine.ExecuteOptions) (*results.ResultSet, error)
	Finish(ctx context.Context, rs *results.ResultSet, q *query.Query) (*results.ResultSet, error)
	Plan(cond condition.Condition) (*engine.Plan, error)
}

// Federator merges peer results into a local set.
type Federator interface {
	Federate(ctx context.Context, q *query.Query, into *results.ResultSet, addSortData bool) ([]federation.HostStatus, error)
}

// Tracker receives one event per executed query.
type Tracker interface {
	Track(event analytics.QueryEvent)
}

// Publisher announces cache invalidations to the other hosts.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type Handler struct {
	engine     QueryEngine
	codec      *query.Codec
	renderer   *backend.Renderer
	cache      *cache.Cache
	federator  Federator
	tracker    Tracker
	aggregator *analytics.Aggregator
	broadcast  Publisher
	tracer     *tracing.Tracer
	origin     string
	defaultMax int
	maxResults int
	logger     *slog.Logger
}

type Option func(*Handler)

func WithCache(c *cache.Cache) Option { return func(h *Handler) { h.cache = c } }

func WithFederator(f Federator) Option { return func(h *Handler) { h.federator = f } }

func WithTracker(t Tracker) Option { return func(h *Handler) { h.tracker = t } }

func WithAggregator(a *analytics.Aggregator) Option { return func(h *Handler) { h.aggregator = a } }

func WithTracer(t *tracing.Tracer) Option { return func(h *Handler) { h.tracer = t } }

// WithInvalidationBroadcast publishes every API invalidation so other
// hosts purge too. origin identifies this host in the message.
func WithInvalidationBroadcast(p Publisher, origin string) Option {
	return func(h *Handler) {
		h.broadcast = p
		h.origin = origin
	}
}

func New(eng QueryEngine, codec *query.Codec, renderer *backend.Renderer, cfg config.SearchConfig, opts ...Option) *Handler {
	h := &Handler{
		engine:     eng,
		codec:      codec,
		renderer:   renderer,
		defaultMax: cfg.DefaultMaxResults,
		maxResults: cfg.MaxResults,
		logger:     slog.Default().With("component", "query-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HitView is one hit in an API response.
type HitView struct {
	Key      string              `json:"key"`
	Metadata map[string][]string `json:"metadata"`
}

// QueryResponse is the body returned for executed queries.
type QueryResponse struct {
	ID        string                  `json:"id"`
	Total     int                     `json:"total"`
	Returned  int                     `json:"returned"`
	Hits      []HitView               `json:"hits"`
	Hosts     []federation.HostStatus `json:"hosts,omitempty"`
	CacheHit  bool                    `json:"cacheHit"`
	LatencyMs int64                   `json:"latencyMs"`
}

// Query executes the XML query document in the request body. With
// ?federate=true the configured peers are queried too.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes+1))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: reading body: %v", apperrors.ErrInvalidInput, err))
		return
	}
	if len(body) > maxDocumentBytes {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge, "query document too large"))
		return
	}
	q, err := h.codec.Decode(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.execute(w, r, q)
}

// Search executes a text query given as ?q= with optional max, sort
// ("field:asc,other:desc"), fields and federate parameters.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q, err := h.textQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.execute(w, r, q)
}

// Explain returns the execution plan of ?q= as indented text.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	q, err := h.textQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cond := q.Condition()
	if cond == nil {
		h.writeError(w, r, apperrors.NewUsageError("query has no conditions"))
		return
	}
	plan, err := h.engine.Plan(cond)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, plan.Explain())
}

// Render returns the backend select request ?q= would produce.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	q, err := h.textQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.renderer.Request(q.Condition(), q.MaxResults(), q.SortBy(), q.ReturnFields())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, cache.Stats{})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrConfiguration, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	ctx := r.Context()
	if err := h.cache.Invalidate(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.broadcast != nil {
		msg := cache.Invalidation{Reason: "api", Origin: h.origin, Timestamp: time.Now().UTC()}
		if err := h.broadcast.Publish(ctx, kafka.Event{Key: h.origin, Value: msg}); err != nil {
			logger.FromContext(ctx).Warn("invalidation broadcast failed", "error", err)
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	if h.aggregator == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrConfiguration, http.StatusServiceUnavailable, "analytics aggregation is disabled"))
		return
	}
	h.writeJSON(w, http.StatusOK, h.aggregator.Stats())
}

func (h *Handler) textQuery(r *http.Request) (*query.Query, error) {
	params := r.URL.Query()
	text := strings.TrimSpace(params.Get("q"))
	if text == "" {
		return nil, apperrors.NewUsageError("query parameter 'q' is required")
	}
	maxResults := h.defaultMax
	if s := params.Get("max"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: max must be a non-negative integer", apperrors.ErrInvalidInput)
		}
		maxResults = n
	}
	sortBy, err := query.ParseSortSpec(params.Get("sort"))
	if err != nil {
		return nil, err
	}
	var fields []string
	for _, f := range strings.Split(params.Get("fields"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return h.codec.ParseText(text, maxResults, sortBy, fields)
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, q *query.Query) {
	start := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "query", logger.RequestID(r.Context()))
	defer func() {
		span.End()
		span.Log()
	}()

	if h.maxResults > 0 && (q.MaxResults() == 0 || q.MaxResults() > h.maxResults) {
		q.SetMaxResults(h.maxResults)
	}
	federate := r.URL.Query().Get("federate") == "true"
	if federate && h.federator == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrConfiguration, http.StatusBadRequest, "federation is not configured"))
		return
	}

	var (
		resp  *proto.ExecuteResponse
		hosts []federation.HostStatus
		hit   bool
		err   error
	)
	if federate {
		resp, hosts, err = h.federated(ctx, q)
	} else if h.cache != nil {
		resp, hit, err = h.cache.GetOrCompute(ctx, q, func(ctx context.Context) (*proto.ExecuteResponse, error) {
			return h.local(ctx, q)
		})
	} else {
		resp, err = h.local(ctx, q)
	}
	latency := time.Since(start)
	h.track(ctx, q, resp, hosts, hit, latency, err)
	span.SetAttr("cache_hit", hit)
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, err)
		return
	}

	out := QueryResponse{
		ID:        resp.ID,
		Total:     resp.Total,
		Returned:  len(resp.Hits),
		Hits:      project(resp.Hits, q.ReturnFields()),
		Hosts:     hosts,
		CacheHit:  hit,
		LatencyMs: latency.Milliseconds(),
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) local(ctx context.Context, q *query.Query) (*proto.ExecuteResponse, error) {
	rs, err := h.engine.Execute(ctx, q, engine.ExecuteOptions{})
	if err != nil {
		return nil, err
	}
	resp := federation.ToWire(rs)
	return &resp, nil
}

// federated runs q locally without finishing, merges every peer's hits and
// then sorts and cuts the combined set once.
func (h *Handler) federated(ctx context.Context, q *query.Query) (*proto.ExecuteResponse, []federation.HostStatus, error) {
	addSortData := len(q.SortBy()) > 0
	rs, err := h.engine.Execute(ctx, q, engine.ExecuteOptions{AddSortData: addSortData, Remote: true})
	if err != nil {
		return nil, nil, err
	}
	rs = rs.Mergeable()
	hosts, err := h.federator.Federate(ctx, q, rs, addSortData)
	if err != nil {
		return nil, nil, err
	}
	if rs, err = h.engine.Finish(ctx, rs, q); err != nil {
		return nil, hosts, err
	}
	resp := federation.ToWire(rs)
	return &resp, hosts, nil
}

func (h *Handler) track(ctx context.Context, q *query.Query, resp *proto.ExecuteResponse, hosts []federation.HostStatus, hit bool, latency time.Duration, err error) {
	if h.tracker == nil {
		return
	}
	event := analytics.QueryEvent{
		Type:      analytics.EventQuery,
		Query:     q.String(),
		CacheHit:  hit,
		Federated: hosts != nil,
		LatencyMs: latency.Milliseconds(),
		RequestID: logger.RequestID(ctx),
		Timestamp: time.Now().UTC(),
	}
	event.Fingerprint, _ = q.Fingerprint()
	if cond := q.Condition(); cond != nil {
		if plan, perr := h.engine.Plan(cond); perr == nil {
			event.Indexes = plan.Indexes()
		}
	}
	for _, s := range hosts {
		if !s.OK() {
			event.HostsFailed++
		}
	}
	switch {
	case err != nil:
		event.Type = analytics.EventFailed
	case resp.Total == 0:
		event.Type = analytics.EventZeroResult
	}
	if resp != nil {
		event.Total = resp.Total
		event.Returned = len(resp.Hits)
	}
	h.tracker.Track(event)
}

// project keeps only the requested metadata fields; no fields keeps all.
func project(hits []proto.Hit, fields []string) []HitView {
	out := make([]HitView, len(hits))
	for i, hit := range hits {
		md := hit.Metadata
		if len(fields) > 0 {
			md = make(map[string][]string, len(fields))
			for _, f := range fields {
				if vs, ok := hit.Metadata[f]; ok {
					md[f] = vs
				}
			}
		}
		if md == nil {
			md = map[string][]string{}
		}
		out[i] = HitView{Key: hit.Key, Metadata: md}
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		log.Warn("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		msg = appErr.Message
	}
	h.writeJSON(w, status, map[string]string{"error": msg})
}
