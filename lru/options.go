package lru

import "github.com/rs/zerolog"

// Metrics receives cache counters. Handles are called under the cache lock
// and must not block.
type Metrics interface {
	IncHits()
	IncMisses()
	IncEvictions(cost int)
	IncMemoryUsage(bytes int64)
	DecMemoryUsage(bytes int64)
	ClearMemoryUsage()
}

// Sizer is the view of a cache a metrics registry reads at scrape time.
type Sizer interface {
	Len() int
	Capacity() int
}

// MetricsRegistrar registers a named cache and hands back its counters.
// collect, if non-nil, is invoked right before every scrape.
type MetricsRegistrar interface {
	Register(kind, name string, cache Sizer, collect func()) Metrics
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithName names the cache. Together with WithMetrics it enables metrics.
func WithName[K comparable, V any](name string) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.name = name
	}
}

// WithMetrics sets the registry the cache registers itself with. Caches
// without a name are never registered.
func WithMetrics[K comparable, V any](reg MetricsRegistrar) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.registrar = reg
	}
}

// WithCollectHook sets a function the metrics registry runs before each
// scrape of this cache.
func WithCollectHook[K comparable, V any](fn func()) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.collect = fn
	}
}

// WithCost sets a function computing the weight of a value. Capacity and
// Len are then measured in summed weights instead of entries.
func WithCost[K comparable, V any](fn func(V) int) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.costFn = fn
	}
}

// WithScaleFactor sets the initial scale factor applied to the nominal
// capacity. Ignored when WithoutGlobalScaling is also given, and when factor
// is not positive and finite.
func WithScaleFactor[K comparable, V any](factor float64) Option[K, V] {
	return func(c *Cache[K, V]) {
		if validFactor(factor) {
			c.factor = factor
		}
	}
}

// WithoutGlobalScaling pins the capacity to its nominal value; the cache
// then ignores SetCacheFactor.
func WithoutGlobalScaling[K comparable, V any]() Option[K, V] {
	return func(c *Cache[K, V]) {
		c.scaling = false
	}
}

// WithEqual sets the value comparison Set uses to decide whether callbacks
// on an existing entry must fire. The default is reflect.DeepEqual.
func WithEqual[K comparable, V any](fn func(a, b V) bool) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.equal = fn
	}
}

// WithMemoryTracking records an approximate byte size for every entry when
// it is created and reports it through the metrics handle. A nil sizer uses
// EstimateSize on key and value.
func WithMemoryTracking[K comparable, V any](sizer func(K, V) int64) Option[K, V] {
	return func(c *Cache[K, V]) {
		if sizer == nil {
			sizer = func(k K, v V) int64 { return EstimateSize(k) + EstimateSize(v) }
		}
		c.sizer = sizer
	}
}

// WithIndex replaces the key index. The index must be empty.
func WithIndex[K comparable, V any](idx Index[K]) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.index = idx
	}
}

// WithLogger sets the logger used for resize and eviction debug logs.
func WithLogger[K comparable, V any](logger zerolog.Logger) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.logger = logger
	}
}
