package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/backend"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/engine"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/memsearch"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const registryYAML = `
indexes:
  - id: catalog
    fields:
      - {name: title, type: text}
`

func newServer(t *testing.T, limit int, keys *apikey.Store) *httptest.Server {
	t.Helper()
	fields := field.MustLoad([]byte(registryYAML))
	ix := memsearch.NewIndex()
	ix.Add(memsearch.Document{Key: "b1", Fields: map[string][]string{"title": {"Fox"}}})
	reg := engine.NewRegistry()
	if err := reg.Register("catalog", memsearch.New("catalog", fields, ix)); err != nil {
		t.Fatal(err)
	}
	h := handler.New(engine.New(fields, reg), query.NewCodec(fields),
		backend.NewRenderer(fields, config.BackendConfig{KeyField: "id"}),
		config.SearchConfig{DefaultMaxResults: 10})

	promReg := prometheus.NewRegistry()
	limiter := ratelimit.New(limit, time.Minute)
	t.Cleanup(limiter.Close)
	srv := httptest.NewServer(New(h, health.NewChecker(), Options{
		Metrics:        metrics.New(promReg),
		MetricsHandler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		Limiter:        limiter,
		RequestTimeout: 5 * time.Second,
		Keys:           keys,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutes(t *testing.T) {
	srv := newServer(t, 100, nil)
	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health/live", http.StatusOK},
		{http.MethodGet, "/health/ready", http.StatusOK},
		{http.MethodGet, "/api/v1/search?" + url.Values{"q": {"title contains fox"}}.Encode(), http.StatusOK},
		{http.MethodGet, "/api/v1/explain?" + url.Values{"q": {"title contains fox"}}.Encode(), http.StatusOK},
		{http.MethodGet, "/api/v1/render?" + url.Values{"q": {"title contains fox"}}.Encode(), http.StatusOK},
		{http.MethodGet, "/api/v1/cache/stats", http.StatusOK},
		{http.MethodPost, "/api/v1/cache/invalidate", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/v1/admin/keys", http.StatusNotFound},
		{http.MethodPost, "/api/v1/search", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
		{http.MethodGet, "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if resp.Header.Get(middleware.RequestIDHeader) == "" {
				t.Error("missing request id header")
			}
		})
	}
}

func TestRateLimitSkipsHealth(t *testing.T) {
	srv := newServer(t, 1, nil)
	path := "/api/v1/cache/stats"
	if resp := get(t, srv, path); resp.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", resp.StatusCode)
	}
	if resp := get(t, srv, path); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second status = %d", resp.StatusCode)
	}
	if resp := get(t, srv, "/health/live"); resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}

func TestMetricsRecorded(t *testing.T) {
	srv := newServer(t, 100, nil)
	get(t, srv, "/api/v1/cache/stats")
	resp := get(t, srv, "/metrics")
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `path="/api/v1/cache/stats"`) {
		t.Error("request not labelled with its route pattern")
	}
}

func TestAdminRoutesRequireKey(t *testing.T) {
	client, err := sqlite.New(context.Background(), config.SQLiteConfig{Path: sqlite.MemoryPath})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	keys := apikey.NewStore(client.DB, func(int) string { return "?" })
	if err := keys.CreateTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	raw, _, err := keys.CreateKey(context.Background(), "ops", 0)
	if err != nil {
		t.Fatal(err)
	}
	srv := newServer(t, 100, keys)

	tests := []struct {
		method string
		path   string
		key    string
		want   int
	}{
		{http.MethodPost, "/api/v1/cache/invalidate", "", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/cache/invalidate", raw, http.StatusServiceUnavailable},
		{http.MethodGet, "/api/v1/admin/keys", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/admin/keys", "wrong", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/admin/keys", raw, http.StatusOK},
		{http.MethodGet, "/api/v1/cache/stats", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path+" "+tt.key, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
