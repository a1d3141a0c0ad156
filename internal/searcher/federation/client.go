package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/results"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/rpc"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/tracing"
)

// HostStatus reports how one peer answered a federated query.
type HostStatus struct {
	Alias   string
	Error   string
	Hits    int
	Latency time.Duration
}

func (s HostStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Alias     string `json:"alias"`
		Error     string `json:"error,omitempty"`
		Hits      int    `json:"hits"`
		LatencyMs int64  `json:"latencyMs"`
	}{s.Alias, s.Error, s.Hits, s.Latency.Milliseconds()})
}

// OK reports whether the host answered.
func (s HostStatus) OK() bool { return s.Error == "" }

type host struct {
	alias   string
	addr    string
	breaker *resilience.CircuitBreaker

	mu     sync.Mutex
	client *rpc.Client
}

// Client fans queries out to the configured peers.
type Client struct {
	hosts   map[string]*host
	timeout time.Duration
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Client)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRetryDelay overrides the first backoff delay between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retry.InitialDelay = d }
}

func NewClient(cfg config.FederationConfig, opts ...Option) *Client {
	c := &Client{
		hosts:   make(map[string]*host, len(cfg.Hosts)),
		timeout: cfg.Timeout,
		retry: resilience.RetryConfig{
			MaxAttempts: max(cfg.RetryAttempts, 1),
			MaxDelay:    time.Second,
			Retryable:   retryable,
		},
		logger: slog.Default().With("component", "federation"),
	}
	for _, opt := range opts {
		opt(c)
	}
	for alias, addr := range cfg.Hosts {
		c.hosts[alias] = &host{
			alias: alias,
			addr:  addr,
			breaker: resilience.NewCircuitBreaker("federation:"+alias, resilience.CircuitBreakerConfig{
				FailureThreshold: cfg.FailureThreshold,
				ResetTimeout:     cfg.ResetTimeout,
				OnStateChange:    c.observeBreaker,
			}),
		}
	}
	return c
}

// retryable keeps deterministic query failures from being sent again.
func retryable(err error) bool {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, apperrors.ErrParse),
		errors.Is(err, apperrors.ErrUsage),
		errors.Is(err, apperrors.ErrConfiguration),
		errors.Is(err, apperrors.ErrInvalidInput),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Hosts returns the configured peer aliases, sorted.
func (c *Client) Hosts() []string {
	return slices.Sorted(maps.Keys(c.hosts))
}

// Federate sends q to every peer concurrently and adds each returned hit to
// into, which must be mergeable. A failing peer is reported in its status
// and never aborts the others.
func (c *Client) Federate(ctx context.Context, q *query.Query, into *results.ResultSet, addSortData bool) ([]HostStatus, error) {
	if into.ReadOnly() {
		return nil, apperrors.ErrReadOnly
	}
	doc, err := q.Document()
	if err != nil {
		return nil, err
	}
	req := proto.ExecuteRequest{Document: string(doc), AddSortData: addSortData}

	ctx, span := tracing.StartChildSpan(ctx, "federation.fanout")
	defer span.End()
	span.SetAttr("hosts", len(c.hosts))

	aliases := c.Hosts()
	statuses := make([]HostStatus, len(aliases))
	var wg sync.WaitGroup
	for i, alias := range aliases {
		wg.Go(func() {
			statuses[i] = c.queryHost(ctx, c.hosts[alias], req, into)
		})
	}
	wg.Wait()

	failed := 0
	for _, s := range statuses {
		if !s.OK() {
			failed++
		}
	}
	logger.FromContext(ctx).Info("federated query",
		"component", "federation",
		"hosts", len(statuses),
		"failed", failed,
		"merged", into.Len(),
	)
	return statuses, nil
}

func (c *Client) queryHost(ctx context.Context, h *host, req proto.ExecuteRequest, into *results.ResultSet) HostStatus {
	start := time.Now()
	status := HostStatus{Alias: h.alias}

	var resp proto.ExecuteResponse
	err := resilience.Retry(ctx, "federation "+h.alias, c.retry, func() error {
		return h.breaker.Execute(func() error {
			// Each attempt decodes into its own value; an abandoned call
			// may still be writing after the timeout fires.
			var attempt proto.ExecuteResponse
			err := resilience.WithTimeout(ctx, c.timeout, "federation "+h.alias, func(ctx context.Context) error {
				return h.call(ctx, req, &attempt)
			})
			if err == nil {
				resp = attempt
			}
			return err
		})
	})
	status.Latency = time.Since(start)
	if err == nil {
		for _, w := range resp.Hits {
			if err = into.AddHit(FromWire(w)); err != nil {
				break
			}
		}
	}

	label := "ok"
	if err != nil {
		label = "error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			label = "circuit_open"
		}
		status.Error = err.Error()
		c.logger.Warn("federated host failed", "host", h.alias, "addr", h.addr, "error", err)
	} else {
		status.Hits = len(resp.Hits)
	}
	if c.metrics != nil {
		c.metrics.FederationCallsTotal.WithLabelValues(h.alias, label).Inc()
	}
	return status
}

// call dials lazily and drops the client after a transport failure so the
// next attempt reconnects.
func (h *host) call(ctx context.Context, req proto.ExecuteRequest, resp *proto.ExecuteResponse) error {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		var err error
		if client, err = rpc.Dial(ctx, h.addr, 0); err != nil {
			return err
		}
		h.mu.Lock()
		if h.client != nil {
			client.Close()
			client = h.client
		} else {
			h.client = client
		}
		h.mu.Unlock()
	}
	err := client.Call(ctx, proto.MethodExecute, req, resp)
	var remote *rpc.Error
	if err != nil && !errors.As(err, &remote) {
		h.mu.Lock()
		if h.client == client {
			h.client = nil
		}
		h.mu.Unlock()
		client.Close()
	}
	return err
}

func (c *Client) observeBreaker(name string, to resilience.State) {
	if c.metrics != nil {
		c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	}
}

// Close drops every peer connection.
func (c *Client) Close() error {
	var errs []error
	for _, h := range c.hosts {
		h.mu.Lock()
		if h.client != nil {
			errs = append(errs, h.client.Close())
			h.client = nil
		}
		h.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (s HostStatus) String() string {
	if s.OK() {
		return fmt.Sprintf("%s: %d hits in %v", s.Alias, s.Hits, s.Latency)
	}
	return fmt.Sprintf("%s: %s", s.Alias, s.Error)
}
