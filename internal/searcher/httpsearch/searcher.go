// Package httpsearch is a Searcher delegating to a Lucene-style full-text
// backend. Conditions are rendered by the backend renderer and posted to
// the backend's select endpoint.
package httpsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/backend"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/results"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/resilience"
)

// backfillBatch caps the keys looked up by one sort data request.
const backfillBatch = 200

// Searcher serves one index from the backend core at endpoint.
type Searcher struct {
	index    string
	endpoint string
	renderer *backend.Renderer
	client   *http.Client
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
}

type Option func(*Searcher)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Searcher) { s.client = c }
}

// WithBreaker guards backend calls with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Searcher) { s.breaker = cb }
}

// New returns a searcher posting to baseURL/core/select, or baseURL/select
// when core is empty.
func New(index, baseURL, core string, renderer *backend.Renderer, timeout time.Duration, opts ...Option) (*Searcher, error) {
	if baseURL == "" {
		return nil, apperrors.NewConfigurationError(index, "backend base url is not set")
	}
	endpoint := strings.TrimRight(baseURL, "/")
	if core != "" {
		endpoint += "/" + strings.Trim(core, "/")
	}
	s := &Searcher{
		index:    index,
		endpoint: endpoint + "/select",
		renderer: renderer,
		client:   &http.Client{Timeout: timeout},
		logger:   slog.Default().With("component", "httpsearch", "index", index),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Searcher) IsIndexer() bool { return true }

// Search renders cond into a select request. The backend sorts and limits,
// so the set comes back read-only and sorted when sortBy is given.
func (s *Searcher) Search(ctx context.Context, cond condition.Condition, maxResults int, sortBy []query.SortCriterion, addSortData bool) (*results.ResultSet, error) {
	req, err := s.renderer.Request(cond, maxResults, sortBy, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.post(ctx, req)
	if err != nil {
		return nil, err
	}
	hits := make([]*results.Hit, 0, len(resp.Response.Docs))
	for _, doc := range resp.Response.Docs {
		h, ok := s.toHit(doc)
		if !ok {
			continue
		}
		if addSortData {
			for _, c := range sortBy {
				if v := h.First(c.Field); v != "" {
					h.SetSortValue(c.Field, v)
				}
			}
		}
		hits = append(hits, h)
	}
	s.logger.Debug("backend search", "q", req.Q, "fq", req.FQ, "num_found", resp.Response.NumFound, "docs", len(hits))
	return results.NewReadOnly(hits, len(sortBy) > 0), nil
}

// AddSortData asks the backend for the sort fields of the given hits by
// key, in batches.
func (s *Searcher) AddSortData(ctx context.Context, hits iter.Seq[*results.Hit], sortBy []query.SortCriterion) error {
	byKey := make(map[string][]*results.Hit)
	var keys []string
	for h := range hits {
		if _, seen := byKey[h.Key]; !seen {
			keys = append(keys, h.Key)
		}
		byKey[h.Key] = append(byKey[h.Key], h)
	}
	fl := make([]string, 0, len(sortBy)+1)
	fl = append(fl, s.renderer.KeyField())
	for _, c := range sortBy {
		fl = append(fl, c.Field)
	}

	for start := 0; start < len(keys); start += backfillBatch {
		batch := keys[start:min(start+backfillBatch, len(keys))]
		lookup := make([]condition.Condition, len(batch))
		for i, k := range batch {
			lookup[i] = condition.Compare(s.renderer.KeyField(), condition.OpEqual, k)
		}
		req := &backend.Request{
			Q:    backend.Render(condition.NewOr(lookup...), s.renderer.Mode(), nil),
			Rows: len(batch),
			FL:   strings.Join(fl, ","),
		}
		resp, err := s.post(ctx, req)
		if err != nil {
			return err
		}
		for _, doc := range resp.Response.Docs {
			h, ok := s.toHit(doc)
			if !ok {
				continue
			}
			for _, target := range byKey[h.Key] {
				for _, c := range sortBy {
					if v := h.First(c.Field); v != "" {
						target.SetSortValue(c.Field, v)
					}
				}
			}
		}
	}
	return nil
}

// selectResponse is the part of the backend's JSON response we read.
type selectResponse struct {
	ResponseHeader struct {
		Status int `json:"status"`
	} `json:"responseHeader"`
	Response struct {
		NumFound int                         `json:"numFound"`
		Docs     []map[string]json.RawMessage `json:"docs"`
	} `json:"response"`
	Error *struct {
		Msg  string `json:"msg"`
		Code int    `json:"code"`
	} `json:"error"`
}

func (s *Searcher) post(ctx context.Context, req *backend.Request) (*selectResponse, error) {
	var out selectResponse
	call := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(req.Values().Encode()))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		httpReq.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", apperrors.ErrSearcherUnavailable, s.index, err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		if err != nil {
			return fmt.Errorf("reading backend response: %w", err)
		}
		if err := json.Unmarshal(body, &out); err != nil && resp.StatusCode == http.StatusOK {
			return fmt.Errorf("decoding backend response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			msg := http.StatusText(resp.StatusCode)
			if out.Error != nil && out.Error.Msg != "" {
				msg = out.Error.Msg
			}
			if resp.StatusCode >= 500 {
				return fmt.Errorf("%w: %s: backend status %d: %s", apperrors.ErrSearcherUnavailable, s.index, resp.StatusCode, msg)
			}
			return fmt.Errorf("backend rejected query for %s (status %d): %s", s.index, resp.StatusCode, msg)
		}
		return nil
	}
	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// toHit reads the key field and every other stored field. Arrays become
// multiple values.
func (s *Searcher) toHit(doc map[string]json.RawMessage) (*results.Hit, bool) {
	keyField := s.renderer.KeyField()
	keys := jsonValues(doc[keyField])
	if len(keys) == 0 {
		return nil, false
	}
	h := results.NewHit(keys[0])
	for name, raw := range doc {
		if name == keyField {
			continue
		}
		if vs := jsonValues(raw); len(vs) > 0 {
			h.Add(name, vs...)
		}
	}
	return h, true
}

func jsonValues(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var arr []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil
		}
	} else {
		arr = []json.RawMessage{raw}
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			out = append(out, str)
			continue
		}
		var num json.Number
		if err := json.Unmarshal(item, &num); err == nil {
			out = append(out, num.String())
			continue
		}
		var b bool
		if err := json.Unmarshal(item, &b); err == nil {
			out = append(out, strconv.FormatBool(b))
		}
	}
	return out
}
