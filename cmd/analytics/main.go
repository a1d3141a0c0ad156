// Command analytics runs a standalone query analytics service. It consumes
// the query event stream every query host publishes, aggregates it in
// memory and serves the fleet-wide view at GET /api/v1/analytics.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml] [-port 8090]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	port := flag.Int("port", 8090, "HTTP port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", *port, "topic", cfg.Kafka.Topics.QueryEvents)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggregator := analytics.NewAggregator()
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.QueryEvents, cfg.Kafka.ConsumerGroup+"-analytics", aggregator.HandleMessage)
	var consumerErr atomic.Pointer[error]
	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("analytics consumer stopped", "error", err)
			consumerErr.Store(&err)
		}
	}()

	checker := health.NewChecker()
	checker.Register("kafka", func(context.Context) health.ComponentHealth {
		if err := consumerErr.Load(); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: (*err).Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: "consumer active"}
	})

	m := metrics.New(prometheus.DefaultRegisterer)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      newRouter(aggregator, checker, m),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}

func newRouter(aggregator *analytics.Aggregator, checker *health.Checker, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Metrics(m))
	r.Get("/health/live", checker.LiveHandler())
	r.Get("/health/ready", checker.ReadyHandler())
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/api/v1/analytics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(aggregator.Stats())
	})
	return r
}
