package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/lrucache/lru"
)

func TestRegistry_CacheCounters(t *testing.T) {
	r := New()
	c := lru.New[string, int](2,
		lru.WithName[string, int]("get_user_by_id"),
		lru.WithMetrics[string, int](r),
	)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a", 0)
	c.Get("missing", 0)
	c.Set("c", 3) // evicts "b"

	m, ok := r.Lookup(lru.MetricsKind, "get_user_by_id")
	require.True(t, ok)
	s := m.Snapshot()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.EvictedSize)
	assert.InDelta(t, 0.5, s.HitRate, 0.001)

	body := getMetricsBody(t, r)
	assert.Contains(t, body, `cache_hits_total{kind="lru_cache",name="get_user_by_id"} 1`)
	assert.Contains(t, body, `cache_misses_total{kind="lru_cache",name="get_user_by_id"} 1`)
	assert.Contains(t, body, `cache_requests_total{kind="lru_cache",name="get_user_by_id"} 2`)
	assert.Contains(t, body, `cache_evicted_size_total{kind="lru_cache",name="get_user_by_id"} 1`)
	assert.Contains(t, body, `cache_size{kind="lru_cache",name="get_user_by_id"} 2`)
	assert.Contains(t, body, `cache_max_size{kind="lru_cache",name="get_user_by_id"} 2`)
}

func TestRegistry_CollectHookRunsBeforeScrape(t *testing.T) {
	r := New()
	var c *lru.Cache[string, int]
	calls := 0
	c = lru.New[string, int](10,
		lru.WithName[string, int]("hooked"),
		lru.WithMetrics[string, int](r),
		lru.WithCollectHook[string, int](func() {
			calls++
			c.Set("refreshed", calls)
		}),
	)

	body := getMetricsBody(t, r)
	assert.Equal(t, 1, calls)
	assert.Contains(t, body, `cache_size{kind="lru_cache",name="hooked"} 1`)

	getMetricsBody(t, r)
	assert.Equal(t, 2, calls)
}

func TestRegistry_MemoryUsage(t *testing.T) {
	r := New()
	c := lru.New[string, string](10,
		lru.WithName[string, string]("sized"),
		lru.WithMetrics[string, string](r),
		lru.WithMemoryTracking[string, string](func(k, v string) int64 { return int64(len(v)) }),
	)

	c.Set("a", "12345")
	c.Set("b", "123")
	m, _ := r.Lookup(lru.MetricsKind, "sized")
	assert.Equal(t, int64(8), m.Snapshot().MemoryUsage)

	c.Pop("a", "")
	assert.Equal(t, int64(3), m.Snapshot().MemoryUsage)

	c.Clear()
	assert.Equal(t, int64(0), m.Snapshot().MemoryUsage)
	assert.Contains(t, getMetricsBody(t, r), `cache_memory_usage_bytes{kind="lru_cache",name="sized"} 0`)
}

func TestRegistry_SnapshotsSorted(t *testing.T) {
	r := New()
	r.Register(lru.MetricsKind, "zeta", nil, nil)
	r.Register(lru.MetricsKind, "alpha", nil, nil)
	r.Register(lru.MetricsKind, "alpha", nil, nil) // replaces

	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "alpha", snaps[0].Name)
	assert.Equal(t, "zeta", snaps[1].Name)
	assert.Zero(t, snaps[0].HitRate)
}

func TestRegistry_Handler(t *testing.T) {
	r := New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func getMetricsBody(t *testing.T, r *Registry) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	return strings.TrimSpace(string(body))
}
