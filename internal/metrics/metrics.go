// Package metrics exports cache statistics to Prometheus.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/p-blackswan/lrucache/lru"
)

var labels = []string{"kind", "name"}

var (
	hitsDesc = prometheus.NewDesc("cache_hits_total",
		"Total number of cache lookups that found an entry.", labels, nil)
	missesDesc = prometheus.NewDesc("cache_misses_total",
		"Total number of cache lookups that found nothing.", labels, nil)
	requestsDesc = prometheus.NewDesc("cache_requests_total",
		"Total number of counted cache lookups.", labels, nil)
	evictedDesc = prometheus.NewDesc("cache_evicted_size_total",
		"Total cost of entries evicted to stay within capacity.", labels, nil)
	sizeDesc = prometheus.NewDesc("cache_size",
		"Current cache size in cost units.", labels, nil)
	maxSizeDesc = prometheus.NewDesc("cache_max_size",
		"Current effective cache capacity in cost units.", labels, nil)
	memoryDesc = prometheus.NewDesc("cache_memory_usage_bytes",
		"Approximate memory held by cache entries, if tracked.", labels, nil)
)

// CacheMetric holds the counters of one registered cache. All methods are
// lock-free so they can be called from inside a cache's critical section.
type CacheMetric struct {
	kind    string
	name    string
	cache   lru.Sizer
	collect func()

	hits        atomic.Int64
	misses      atomic.Int64
	evictedSize atomic.Int64
	memory      atomic.Int64
}

var _ lru.Metrics = (*CacheMetric)(nil)

func (m *CacheMetric) IncHits()                   { m.hits.Add(1) }
func (m *CacheMetric) IncMisses()                 { m.misses.Add(1) }
func (m *CacheMetric) IncEvictions(cost int)      { m.evictedSize.Add(int64(cost)) }
func (m *CacheMetric) IncMemoryUsage(bytes int64) { m.memory.Add(bytes) }
func (m *CacheMetric) DecMemoryUsage(bytes int64) { m.memory.Add(-bytes) }
func (m *CacheMetric) ClearMemoryUsage()          { m.memory.Store(0) }

// Name returns the cache name the metric was registered under.
func (m *CacheMetric) Name() string { return m.name }

// Snapshot is a point-in-time copy of a cache's counters.
type Snapshot struct {
	Kind        string  `json:"kind"`
	Name        string  `json:"name"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	EvictedSize int64   `json:"evicted_size"`
	MemoryUsage int64   `json:"memory_usage"`
	HitRate     float64 `json:"hit_rate"`
}

// Snapshot returns the current counters.
func (m *CacheMetric) Snapshot() Snapshot {
	s := Snapshot{
		Kind:        m.kind,
		Name:        m.name,
		Hits:        m.hits.Load(),
		Misses:      m.misses.Load(),
		EvictedSize: m.evictedSize.Load(),
		MemoryUsage: m.memory.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Registry tracks every registered cache and exposes them as one
// prometheus.Collector.
type Registry struct {
	mu     sync.Mutex
	caches map[string]*CacheMetric

	registry *prometheus.Registry
}

var _ lru.MetricsRegistrar = (*Registry)(nil)

// New creates a registry with the cache collector plus the standard Go and
// process collectors.
func New() *Registry {
	r := &Registry{
		caches:   make(map[string]*CacheMetric),
		registry: prometheus.NewRegistry(),
	}
	r.registry.MustRegister(r)
	r.registry.MustRegister(collectors.NewGoCollector())
	r.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return r
}

// Register adds a cache. Registering the same kind and name again replaces
// the earlier registration.
func (r *Registry) Register(kind, name string, cache lru.Sizer, collect func()) lru.Metrics {
	m := &CacheMetric{kind: kind, name: name, cache: cache, collect: collect}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches[kind+"/"+name] = m
	return m
}

// Lookup returns the metric registered for kind and name.
func (r *Registry) Lookup(kind, name string) (*CacheMetric, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.caches[kind+"/"+name]
	return m, ok
}

// Snapshots returns the counters of every cache, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	out := make([]Snapshot, 0)
	for _, m := range r.metrics() {
		out = append(out, m.Snapshot())
	}
	return out
}

func (r *Registry) metrics() []*CacheMetric {
	r.mu.Lock()
	ms := make([]*CacheMetric, 0, len(r.caches))
	for _, m := range r.caches {
		ms = append(ms, m)
	}
	r.mu.Unlock()

	sort.Slice(ms, func(i, j int) bool {
		if ms[i].name != ms[j].name {
			return ms[i].name < ms[j].name
		}
		return ms[i].kind < ms[j].kind
	})
	return ms
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{hitsDesc, missesDesc, requestsDesc, evictedDesc, sizeDesc, maxSizeDesc, memoryDesc} {
		ch <- d
	}
}

// Collect implements prometheus.Collector. Every collect hook runs before
// any value is read.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	ms := r.metrics()
	for _, m := range ms {
		if m.collect != nil {
			m.collect()
		}
	}

	for _, m := range ms {
		s := m.Snapshot()
		ch <- prometheus.MustNewConstMetric(hitsDesc, prometheus.CounterValue, float64(s.Hits), m.kind, m.name)
		ch <- prometheus.MustNewConstMetric(missesDesc, prometheus.CounterValue, float64(s.Misses), m.kind, m.name)
		ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.CounterValue, float64(s.Hits+s.Misses), m.kind, m.name)
		ch <- prometheus.MustNewConstMetric(evictedDesc, prometheus.CounterValue, float64(s.EvictedSize), m.kind, m.name)
		ch <- prometheus.MustNewConstMetric(memoryDesc, prometheus.GaugeValue, float64(s.MemoryUsage), m.kind, m.name)
		if m.cache != nil {
			ch <- prometheus.MustNewConstMetric(sizeDesc, prometheus.GaugeValue, float64(m.cache.Len()), m.kind, m.name)
			ch <- prometheus.MustNewConstMetric(maxSizeDesc, prometheus.GaugeValue, float64(m.cache.Capacity()), m.kind, m.name)
		}
	}
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns an http.Handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
