package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/ratelimit"
	"github.com/go-chi/chi/v5"
)

// Options carries the optional pieces of the chain. Zero values disable
// them.
type Options struct {
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	Limiter        *ratelimit.Limiter
	RequestTimeout time.Duration
	// Keys enables API key authentication on administrative routes.
	Keys           *apikey.Store
}

// New builds the query service HTTP handler.
//
// Route table:
//
//	POST   /api/v1/query             → execute XML query document
//	GET    /api/v1/search            → execute text query
//	GET    /api/v1/explain           → execution plan
//	GET    /api/v1/render            → backend select request
//	GET    /api/v1/cache/stats       → result cache counters
//	POST   /api/v1/cache/invalidate  → purge result cache (admin)
//	GET    /api/v1/analytics         → aggregated query statistics
//	POST   /api/v1/admin/keys        → create API key (admin)
//	GET    /api/v1/admin/keys        → list API keys (admin)
//	DELETE /api/v1/admin/keys/{id}   → revoke API key (admin)
//	GET    /health/live, /health/ready
//	GET    /metrics
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → RateLimit → Timeout → [apikey] → handler
//
// Admin routes exist only when opts.Keys is set. Without it the cache
// invalidation route is open.
func New(h *handler.Handler, checker *health.Checker, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if opts.Metrics != nil {
		r.Use(middleware.Metrics(opts.Metrics))
	}
	if opts.Limiter != nil {
		r.Use(middleware.RateLimit(opts.Limiter))
	}

	r.Get("/health/live", checker.LiveHandler())
	r.Get("/health/ready", checker.ReadyHandler())
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(opts.RequestTimeout))
		}
		r.Post("/query", h.Query)
		r.Get("/search", h.Search)
		r.Get("/explain", h.Explain)
		r.Get("/render", h.Render)
		r.Get("/analytics", h.Analytics)
		r.Get("/cache/stats", h.CacheStats)

		if opts.Keys == nil {
			r.Post("/cache/invalidate", h.CacheInvalidate)
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(apikey.Require(opts.Keys))
			keys := apikey.NewHandler(opts.Keys)
			r.Post("/cache/invalidate", h.CacheInvalidate)
			r.Post("/admin/keys", keys.Create)
			r.Get("/admin/keys", keys.List)
			r.Delete("/admin/keys/{id}", keys.Revoke)
		})
	})
	return r
}
