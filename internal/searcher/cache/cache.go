package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/proto"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "fq:result:"

// Remote is the shared second level, satisfied by *redis.Client.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type localEntry struct {
	resp    *proto.ExecuteResponse
	expires time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Enabled   bool  `json:"enabled"`
	Entries   int   `json:"entries"`
	L1Hits    int64 `json:"l1Hits"`
	L2Hits    int64 `json:"l2Hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Cache is safe for concurrent use. Concurrent misses on one key compute
// once.
type Cache struct {
	enabled bool
	ttl     time.Duration
	local   *lru.Cache
	remote  Remote
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	l1Hits    atomic.Int64
	l2Hits    atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type Option func(*Cache)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithRemote adds the shared second level.
func WithRemote(r Remote) Option {
	return func(c *Cache) { c.remote = r }
}

func New(cfg config.CacheConfig, opts ...Option) (*Cache, error) {
	c := &Cache{
		enabled: cfg.Enabled,
		ttl:     cfg.TTL,
		logger:  slog.Default().With("component", "result-cache"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	size := cfg.LRUSize
	if size <= 0 {
		size = 512
	}
	local, err := lru.NewWithEvict(size, func(key, _ interface{}) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("creating result cache: %w", err)
	}
	c.local = local
	return c, nil
}

// Key returns the cache key for q.
func Key(q *query.Query) (string, error) {
	fp, err := q.Fingerprint()
	if err != nil {
		return "", err
	}
	return keyPrefix + fp, nil
}

// GetOrCompute returns the cached result for q or runs compute and stores
// what it returns. hit reports that the first lookup found an entry.
// Errors are never cached.
func (c *Cache) GetOrCompute(ctx context.Context, q *query.Query, compute func(context.Context) (*proto.ExecuteResponse, error)) (resp *proto.ExecuteResponse, hit bool, err error) {
	if !c.enabled {
		resp, err = compute(ctx)
		return resp, false, err
	}
	key, err := Key(q)
	if err != nil {
		return nil, false, err
	}
	if resp, ok := c.get(ctx, key); ok {
		return resp, true, nil
	}

	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if resp, ok := c.get(ctx, key); ok {
			return resp, nil
		}
		c.misses.Add(1)
		if c.metrics != nil {
			c.metrics.CacheMissesTotal.Inc()
		}
		resp, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*proto.ExecuteResponse), false, nil
}

func (c *Cache) get(ctx context.Context, key string) (*proto.ExecuteResponse, bool) {
	if v, ok := c.local.Get(key); ok {
		e := v.(localEntry)
		if c.ttl <= 0 || c.now().Before(e.expires) {
			c.hit("l1", &c.l1Hits)
			return e.resp, true
		}
		c.local.Remove(key)
	}
	if c.remote == nil {
		return nil, false
	}
	data, found, err := c.remote.Get(ctx, key)
	if err != nil {
		c.logger.Warn("shared cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var resp proto.ExecuteResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Error("shared cache entry unreadable", "key", key, "error", err)
		return nil, false
	}
	c.hit("l2", &c.l2Hits)
	c.local.Add(key, localEntry{resp: &resp, expires: c.now().Add(c.ttl)})
	return &resp, true
}

func (c *Cache) hit(level string, counter *atomic.Int64) {
	counter.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(level).Inc()
	}
}

func (c *Cache) set(ctx context.Context, key string, resp *proto.ExecuteResponse) {
	c.local.Add(key, localEntry{resp: resp, expires: c.now().Add(c.ttl)})
	if c.remote == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.remote.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("shared cache set failed", "key", key, "error", err)
	}
}

// Invalidate purges both levels.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.local.Purge()
	if c.metrics != nil {
		c.metrics.CacheInvalidationsTotal.Inc()
	}
	var deleted int64
	if c.remote != nil {
		var err error
		if deleted, err = c.remote.FlushByPattern(ctx, keyPrefix+"*"); err != nil {
			return fmt.Errorf("invalidating shared cache: %w", err)
		}
	}
	c.logger.Info("cache invalidated", "shared_keys_deleted", deleted)
	return nil
}

func (c *Cache) Stats() Stats {
	return Stats{
		Enabled:   c.enabled,
		Entries:   c.local.Len(),
		L1Hits:    c.l1Hits.Load(),
		L2Hits:    c.l2Hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Invalidation is the message published on the cache invalidation topic.
type Invalidation struct {
	Reason    string    `json:"reason"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// HandleInvalidation purges the cache on every message from the
// invalidation topic. The message body is informational only.
func (c *Cache) HandleInvalidation(ctx context.Context, _ []byte, value []byte) error {
	msg, err := kafka.DecodeJSON[Invalidation](value)
	if err != nil {
		c.logger.Warn("invalidation message unreadable, purging anyway", "error", err)
	}
	c.logger.Info("invalidation received", "reason", msg.Reason, "origin", msg.Origin)
	return c.Invalidate(ctx)
}
