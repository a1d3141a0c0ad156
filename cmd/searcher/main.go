package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/backend"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/engine"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/federation"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/router"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/rpc"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("query service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("query service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hostname, _ := os.Hostname()
	slog.Info("starting query service", "port", cfg.Server.Port, "rpc_port", cfg.Server.RPCPort, "host", hostname)

	fields, err := field.LoadFile(cfg.Fields.Path)
	if err != nil {
		return err
	}
	slog.Info("field registry loaded", "path", cfg.Fields.Path, "fields", fields.Len(), "indexes", fields.Indexes())

	m := metrics.New(prometheus.DefaultRegisterer)
	checker := health.NewChecker()
	renderer := backend.NewRenderer(fields, cfg.Backend)

	searchers := &searcherSet{cfg: cfg, fields: fields, renderer: renderer, metrics: m, checker: checker}
	defer searchers.Close()
	reg, err := searchers.build(ctx)
	if err != nil {
		return err
	}
	eng := engine.New(fields, reg,
		engine.WithSearchTimeout(cfg.Search.TimeoutPerSearcher),
		engine.WithMaxConcurrentSearches(cfg.Search.MaxConcurrentSearches),
		engine.WithMetrics(m),
	)
	codec := query.NewCodec(fields)
	opts := []handler.Option{handler.WithTracer(tracing.NewTracer(cfg.Tracing.Enabled, cfg.Tracing.SampleRate))}

	cacheOpts := []cache.Option{cache.WithMetrics(m)}
	if cfg.Cache.Enabled && cfg.Redis.Addr != "" {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, shared cache level disabled", "error", err)
		} else {
			defer redisClient.Close()
			cacheOpts = append(cacheOpts, cache.WithRemote(redisClient))
			checker.Register("redis", health.Ping(redisClient.Ping, health.StatusDegraded))
			slog.Info("shared cache level enabled", "addr", cfg.Redis.Addr)
		}
	}
	resultCache, err := cache.New(cfg.Cache, cacheOpts...)
	if err != nil {
		return err
	}
	opts = append(opts, handler.WithCache(resultCache))

	if cfg.Kafka.Enabled {
		eventsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.QueryEvents)
		defer eventsProducer.Close()
		collector := analytics.NewCollector(eventsProducer, 100, 0)
		collector.Start(ctx)
		defer collector.Close()

		// Every host must see every invalidation and every query event, so
		// each gets its own groups.
		aggregator := analytics.NewAggregator()
		eventsConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.QueryEvents,
			cfg.Kafka.ConsumerGroup+"-events-"+hostname, aggregator.HandleMessage)
		go func() {
			if err := eventsConsumer.Start(ctx); err != nil {
				slog.Error("analytics consumer error", "error", err)
			}
		}()

		invalidationConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate,
			cfg.Kafka.ConsumerGroup+"-"+hostname, resultCache.HandleInvalidation)
		go func() {
			if err := invalidationConsumer.Start(ctx); err != nil {
				slog.Error("invalidation consumer error", "error", err)
			}
		}()
		invalidationProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate)
		defer invalidationProducer.Close()

		opts = append(opts,
			handler.WithTracker(collector),
			handler.WithAggregator(aggregator),
			handler.WithInvalidationBroadcast(invalidationProducer, hostname),
		)
		slog.Info("kafka wiring enabled", "brokers", cfg.Kafka.Brokers)
	}

	if len(cfg.Federation.Hosts) > 0 {
		fed := federation.NewClient(cfg.Federation, federation.WithMetrics(m))
		defer fed.Close()
		opts = append(opts, handler.WithFederator(fed))
		slog.Info("federation enabled", "hosts", fed.Hosts())
	}

	rpcServer := rpc.NewServer()
	federation.Register(rpcServer, codec, eng, reg.Indexes)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.RPCPort)
		if err := rpcServer.ListenAndServe(addr); err != nil {
			slog.Error("rpc server error", "error", err)
		}
	}()
	defer rpcServer.Stop()

	routerOpts := router.Options{Metrics: m, RequestTimeout: cfg.Server.RequestTimeout}
	if cfg.Server.RateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.RateLimit, time.Minute)
		defer limiter.Close()
		routerOpts.Limiter = limiter
	}
	if cfg.Auth.Enabled {
		keys, err := searchers.keys(ctx)
		if err != nil {
			return err
		}
		routerOpts.Keys = keys
		slog.Info("api key auth enabled for admin routes", "driver", cfg.Auth.Driver)
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port > 0 && cfg.Metrics.Port != cfg.Server.Port {
			shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, metrics.Handler())
			defer shutdownMetrics(context.Background())
		} else {
			routerOpts.MetricsHandler = metrics.Handler()
		}
	}

	h := handler.New(eng, codec, renderer, cfg.Search, opts...)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(h, checker, routerOpts),
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

	slog.Info("query service listening", "addr", server.Addr, "indexes", reg.Indexes())
	err = server.ListenAndServe()
	stop()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
