package cache

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/proto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeRemote is an in-memory stand-in for the Redis level.
type fakeRemote struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newFakeRemote() *fakeRemote { return &fakeRemote{data: map[string][]byte{}} }

func (f *fakeRemote) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeRemote) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeRemote) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeRemote) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

func newQuery(value string) *query.Query {
	return query.New(condition.Compare("title", condition.OpContains, value), 10, nil, nil)
}

func counting(calls *atomic.Int32, total int) func(context.Context) (*proto.ExecuteResponse, error) {
	return func(context.Context) (*proto.ExecuteResponse, error) {
		calls.Add(1)
		return &proto.ExecuteResponse{Total: total, Hits: []proto.Hit{{Key: "b1"}}}, nil
	}
}

func TestGetOrCompute_Levels(t *testing.T) {
	remote := newFakeRemote()
	m := metrics.New(prometheus.NewRegistry())
	c, err := New(config.CacheConfig{Enabled: true, LRUSize: 8, TTL: time.Minute}, WithRemote(remote), WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	var calls atomic.Int32
	q := newQuery("fox")

	resp, hit, err := c.GetOrCompute(ctx, q, counting(&calls, 1))
	if err != nil || hit || resp.Total != 1 {
		t.Fatalf("first = %+v, %v, %v", resp, hit, err)
	}
	if remote.len() != 1 {
		t.Errorf("shared level holds %d entries", remote.len())
	}

	if _, hit, _ = c.GetOrCompute(ctx, q, counting(&calls, 2)); !hit {
		t.Error("second lookup missed")
	}

	// A fresh process shares only the remote level.
	c2, _ := New(config.CacheConfig{Enabled: true, LRUSize: 8, TTL: time.Minute}, WithRemote(remote), WithMetrics(m))
	resp, hit, _ = c2.GetOrCompute(ctx, newQuery("fox"), counting(&calls, 3))
	if !hit || resp.Total != 1 || len(resp.Hits) != 1 || resp.Hits[0].Key != "b1" {
		t.Errorf("shared hit = %+v, %v", resp, hit)
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("compute ran %d times", n)
	}
	if got := testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("l1")); got != 1 {
		t.Errorf("l1 hits = %v", got)
	}
	if got := testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("l2")); got != 1 {
		t.Errorf("l2 hits = %v", got)
	}
	if got := testutil.ToFloat64(m.CacheMissesTotal); got != 1 {
		t.Errorf("misses = %v", got)
	}
}

func TestGetOrCompute_DistinctQueries(t *testing.T) {
	c, _ := New(config.CacheConfig{Enabled: true, LRUSize: 8, TTL: time.Minute})
	var calls atomic.Int32
	a := newQuery("fox")
	b := newQuery("fox")
	b.SetMaxResults(5)

	c.GetOrCompute(context.Background(), a, counting(&calls, 1))
	c.GetOrCompute(context.Background(), b, counting(&calls, 1))
	if calls.Load() != 2 {
		t.Errorf("queries differing in maxResults shared an entry")
	}
}

func TestGetOrCompute_Expiry(t *testing.T) {
	c, _ := New(config.CacheConfig{Enabled: true, LRUSize: 8, TTL: time.Minute})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	var calls atomic.Int32
	q := newQuery("fox")

	c.GetOrCompute(context.Background(), q, counting(&calls, 1))
	now = now.Add(2 * time.Minute)
	if _, hit, _ := c.GetOrCompute(context.Background(), q, counting(&calls, 1)); hit {
		t.Error("expired entry served")
	}
	if calls.Load() != 2 {
		t.Errorf("compute ran %d times", calls.Load())
	}
}

func TestGetOrCompute_ErrorsNotCached(t *testing.T) {
	c, _ := New(config.CacheConfig{Enabled: true, LRUSize: 8, TTL: time.Minute})
	q := newQuery("fox")
	boom := errors.New("searcher down")
	if _, _, err := c.GetOrCompute(context.Background(), q, func(context.Context) (*proto.ExecuteResponse, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	var calls atomic.Int32
	if _, hit, err := c.GetOrCompute(context.Background(), q, counting(&calls, 1)); hit || err != nil || calls.Load() != 1 {
		t.Errorf("hit=%v err=%v calls=%d", hit, err, calls.Load())
	}
}

func TestGetOrCompute_Singleflight(t *testing.T) {
	c, _ := New(config.CacheConfig{Enabled: true, LRUSize: 8, TTL: time.Minute})
	q := newQuery("fox")
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(context.Context) (*proto.ExecuteResponse, error) {
		calls.Add(1)
		<-release
		return &proto.ExecuteResponse{Total: 1}, nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			if _, _, err := c.GetOrCompute(context.Background(), q, compute); err != nil {
				t.Error(err)
			}
		})
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if n := calls.Load(); n != 1 {
		t.Errorf("compute ran %d times for concurrent misses", n)
	}
}

func TestGetOrCompute_RemoteFailureFallsThrough(t *testing.T) {
	remote := newFakeRemote()
	remote.getErr = errors.New("connection refused")
	c, _ := New(config.CacheConfig{Enabled: true, LRUSize: 8, TTL: time.Minute}, WithRemote(remote))
	var calls atomic.Int32
	if _, _, err := c.GetOrCompute(context.Background(), newQuery("fox"), counting(&calls, 1)); err != nil {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Error("compute not run when the shared level fails")
	}
}

func TestDisabled(t *testing.T) {
	c, _ := New(config.CacheConfig{Enabled: false})
	var calls atomic.Int32
	q := newQuery("fox")
	c.GetOrCompute(context.Background(), q, counting(&calls, 1))
	c.GetOrCompute(context.Background(), q, counting(&calls, 1))
	if calls.Load() != 2 || c.Stats().Entries != 0 || c.Stats().Enabled {
		t.Errorf("calls=%d stats=%+v", calls.Load(), c.Stats())
	}
}

func TestInvalidate(t *testing.T) {
	remote := newFakeRemote()
	remote.data["unrelated"] = []byte("x")
	c, _ := New(config.CacheConfig{Enabled: true, LRUSize: 8, TTL: time.Minute}, WithRemote(remote))
	var calls atomic.Int32
	q := newQuery("fox")
	c.GetOrCompute(context.Background(), q, counting(&calls, 1))

	if err := c.Invalidate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Stats().Entries != 0 || remote.len() != 1 {
		t.Errorf("entries=%d remote=%d", c.Stats().Entries, remote.len())
	}
	if _, hit, _ := c.GetOrCompute(context.Background(), q, counting(&calls, 1)); hit {
		t.Error("hit after invalidate")
	}
}

func TestKey(t *testing.T) {
	k, err := Key(newQuery("fox"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(k, keyPrefix) || len(k) != len(keyPrefix)+64 {
		t.Errorf("key = %q", k)
	}
}

func TestHandleInvalidation(t *testing.T) {
	c, _ := New(config.CacheConfig{Enabled: true, LRUSize: 8, TTL: time.Minute})
	var calls atomic.Int32
	c.GetOrCompute(context.Background(), newQuery("fox"), counting(&calls, 1))

	for _, body := range []string{`{"reason":"reindex","origin":"east"}`, `garbage`} {
		c.GetOrCompute(context.Background(), newQuery("fox"), counting(&calls, 1))
		if err := c.HandleInvalidation(context.Background(), nil, []byte(body)); err != nil {
			t.Fatalf("%s: %v", body, err)
		}
		if c.Stats().Entries != 0 {
			t.Errorf("%s: cache not purged", body)
		}
	}
}
