package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/backend"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/engine"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/httpsearch"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/memsearch"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/sqlsearch"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/sqlite"
)

// searcherSet builds one searcher per configured index and owns the
// database pools they share.
type searcherSet struct {
	cfg      *config.Config
	fields   *field.Registry
	renderer *backend.Renderer
	metrics  *metrics.Metrics
	checker  *health.Checker

	sqlite   *sqlite.Client
	postgres *postgres.Client
	closers  []io.Closer
}

func (s *searcherSet) build(ctx context.Context) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	for _, idx := range s.cfg.Indexes {
		var (
			searcher engine.Searcher
			err      error
		)
		switch idx.Kind {
		case "memory":
			searcher, err = s.memory(idx)
		case "sql":
			searcher, err = s.sql(ctx, idx)
		case "http":
			searcher, err = s.http(idx)
		}
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", idx.ID, err)
		}
		if err := reg.Register(idx.ID, searcher); err != nil {
			return nil, err
		}
		slog.Info("searcher registered", "index", idx.ID, "kind", idx.Kind)
	}
	return reg, nil
}

func (s *searcherSet) memory(idx config.IndexConfig) (engine.Searcher, error) {
	ix := memsearch.NewIndex()
	if idx.Seed != "" {
		docs, err := memsearch.LoadSeed(idx.Seed)
		if err != nil {
			return nil, err
		}
		ix.AddAll(docs)
	}
	return memsearch.New(idx.ID, s.fields, ix), nil
}

func (s *searcherSet) sql(ctx context.Context, idx config.IndexConfig) (engine.Searcher, error) {
	dialect, err := sqlsearch.DialectFor(idx.SQL.Driver)
	if err != nil {
		return nil, err
	}
	db, err := s.database(ctx, idx.SQL.Driver)
	if err != nil {
		return nil, err
	}
	searcher, err := sqlsearch.New(db, dialect, idx.ID, s.fields, idx.SQL)
	if err != nil {
		return nil, err
	}
	if idx.Seed == "" {
		return searcher, nil
	}
	if err := searcher.CreateTable(ctx); err != nil {
		return nil, err
	}
	empty, err := searcher.Empty(ctx)
	if err != nil || !empty {
		return searcher, err
	}
	docs, err := memsearch.LoadSeed(idx.Seed)
	if err != nil {
		return nil, err
	}
	if err := searcher.Load(ctx, rows(docs)); err != nil {
		return nil, err
	}
	slog.Info("sql index seeded", "index", idx.ID, "rows", len(docs))
	return searcher, nil
}

// database opens the pool for driver once and registers its readiness check.
func (s *searcherSet) database(ctx context.Context, driver string) (*sql.DB, error) {
	switch driver {
	case "sqlite":
		if s.sqlite == nil {
			client, err := sqlite.New(ctx, s.cfg.SQLite)
			if err != nil {
				return nil, err
			}
			s.sqlite = client
			s.closers = append(s.closers, client)
			s.checker.Register("sqlite", health.Ping(client.Ping, health.StatusDown))
			slog.Info("sqlite opened", "path", client.Path())
		}
		return s.sqlite.DB, nil
	case "postgres":
		if s.postgres == nil {
			client, err := postgres.New(ctx, s.cfg.Postgres)
			if err != nil {
				return nil, err
			}
			s.postgres = client
			s.closers = append(s.closers, client)
			s.checker.Register("postgres", health.Ping(client.Ping, health.StatusDown))
			slog.Info("postgres connected", "host", s.cfg.Postgres.Host, "database", s.cfg.Postgres.Database)
		}
		return s.postgres.DB, nil
	}
	return nil, fmt.Errorf("unknown sql driver %q", driver)
}

// keys opens the API key store on the configured auth database, sharing
// the connection with sql searchers on the same driver.
func (s *searcherSet) keys(ctx context.Context) (*apikey.Store, error) {
	dialect, err := sqlsearch.DialectFor(s.cfg.Auth.Driver)
	if err != nil {
		return nil, err
	}
	db, err := s.database(ctx, dialect.Name)
	if err != nil {
		return nil, err
	}
	store := apikey.NewStore(db, dialect.Placeholder)
	if err := store.CreateTable(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *searcherSet) http(idx config.IndexConfig) (engine.Searcher, error) {
	baseURL := idx.HTTP.BaseURL
	if baseURL == "" {
		baseURL = s.cfg.Backend.BaseURL
	}
	breaker := resilience.NewCircuitBreaker("backend:"+idx.ID, resilience.CircuitBreakerConfig{
		FailureThreshold: s.cfg.Federation.FailureThreshold,
		ResetTimeout:     s.cfg.Federation.ResetTimeout,
		OnStateChange: func(name string, to resilience.State) {
			s.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return httpsearch.New(idx.ID, baseURL, idx.HTTP.Core, s.renderer, s.cfg.Backend.Timeout, httpsearch.WithBreaker(breaker))
}

// rows flattens seed documents into table rows, keeping the first value of
// each field.
func rows(docs []memsearch.Document) []sqlsearch.Row {
	out := make([]sqlsearch.Row, len(docs))
	for i, d := range docs {
		values := make(map[string]string, len(d.Fields))
		for f, vs := range d.Fields {
			if len(vs) > 0 {
				values[f] = vs[0]
			}
		}
		out[i] = sqlsearch.Row{Key: d.Key, Values: values}
	}
	return out
}

func (s *searcherSet) Close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			slog.Error("closing database", "error", err)
		}
	}
}
