// Package lru implements the generic, thread-safe LRU caches used on the
// server's request paths.
//
// Time complexity: O(1) for Get, Set, Pop, Contains, Len; O(depth) for keyed
// operations on hierarchical caches; O(n) for Clear and Keys.
//
// Entries live in an arena addressed by Ref and are threaded onto a circular
// doubly linked list closed by a sentinel slot. A pluggable Index maps keys
// to refs: MapIndex for exact keys, TreeIndex for fixed-depth Tuple keys
// whose prefixes can be invalidated as a unit.
//
// Capacity is measured in cost units: one per entry by default, or whatever
// the WithCost function returns. Eviction only happens on mutation.
package lru

import (
	"math"
	"reflect"
	"sync"

	"github.com/rs/zerolog"
)

// MetricsKind is the kind label LRU caches register their metrics under.
const MetricsKind = "lru_cache"

// Cache is a generic, thread-safe LRU cache with invalidation callbacks,
// cost-based eviction and runtime resizing.
//
// Every method takes the same mutex for its full duration, callbacks
// included, so a callback must never call back into the cache that runs it.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries recencyList[K, V]
	index   Index[K]

	maxSize  int // nominal, as configured
	capacity int // maxSize scaled by factor
	factor   float64
	scaling  bool
	size     int // summed cost of live entries

	costFn func(V) int
	equal  func(a, b V) bool
	sizer  func(K, V) int64

	name      string
	registrar MetricsRegistrar
	collect   func()
	metrics   Metrics
	logger    zerolog.Logger
}

// New creates a flat LRU cache with the given nominal capacity.
// Panics if capacity < 1.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity < 1 {
		panic("lru: capacity must be >= 1")
	}

	c := &Cache[K, V]{
		maxSize: capacity,
		factor:  1,
		scaling: true,
		equal:   func(a, b V) bool { return reflect.DeepEqual(a, b) },
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.index == nil {
		c.index = NewMapIndex[K](min(capacity, 1<<16))
	}
	c.entries = newRecencyList[K, V](capacity)

	c.capacity = c.maxSize
	if c.scaling {
		c.capacity = int(float64(c.maxSize) * c.factor)
	}

	if c.name != "" {
		c.logger = c.logger.With().Str("cache", c.name).Logger()
		if c.registrar != nil {
			c.metrics = c.registrar.Register(MetricsKind, c.name, c, c.collect)
		}
	}

	return c
}

// NewTree creates a hierarchical LRU cache keyed by Tuples of exactly depth
// parts. Invalidate and DelMulti accept shorter prefixes and drop every
// entry beneath them.
func NewTree[V any](capacity, depth int, opts ...Option[Tuple, V]) *Cache[Tuple, V] {
	opts = append([]Option[Tuple, V]{WithIndex[Tuple, V](NewTreeIndex(depth))}, opts...)
	return New[Tuple, V](capacity, opts...)
}

// Fetch looks up key. On a hit the entry becomes the most recently used and
// callbacks are attached to it; on a miss callbacks are dropped.
// updateMetrics controls whether the hit or miss is counted.
func (c *Cache[K, V]) Fetch(key K, updateMetrics bool, callbacks ...Callback) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.index.Get(key)
	if !ok {
		if updateMetrics && c.metrics != nil {
			c.metrics.IncMisses()
		}
		var zero V
		return zero, false
	}

	c.entries.moveToFront(r)
	e := c.entries.at(r)
	e.callbacks.add(callbacks...)
	if updateMetrics && c.metrics != nil {
		c.metrics.IncHits()
	}
	return e.val, true
}

// Get returns the value stored under key, or def if there is none.
func (c *Cache[K, V]) Get(key K, def V, callbacks ...Callback) V {
	if v, ok := c.Fetch(key, true, callbacks...); ok {
		return v
	}
	return def
}

// Set stores value under key as the most recently used entry and evicts
// down to capacity.
//
// If key is already present with a different value, the callbacks
// registered against the old value fire before it is replaced.
func (c *Cache[K, V]) Set(key K, value V, callbacks ...Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.index.Get(key); ok {
		e := c.entries.at(r)
		// Comparing large values is costly, and firing an empty set is a no-op.
		if len(e.callbacks) > 0 && !c.equal(e.val, value) {
			e.callbacks.runAndClear()
		}

		cost := c.costOf(value)
		c.size += cost - e.cost
		e.cost = cost

		e.callbacks.add(callbacks...)
		c.entries.moveToFront(r)
		e.val = value
	} else {
		c.insert(key, value, callbacks)
	}

	c.evict()
}

// SetDefault returns the value stored under key if there is one, without
// touching its recency. Otherwise it stores value and returns it.
func (c *Cache[K, V]) SetDefault(key K, value V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.index.Get(key); ok {
		return c.entries.at(r).val
	}
	c.insert(key, value, nil)
	c.evict()
	return value
}

// Pop removes key and returns its value, or def if it was absent.
func (c *Cache[K, V]) Pop(key K, def V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.index.Get(key)
	if !ok {
		return def
	}
	c.index.Remove(key)
	gone := c.discard(r)
	gone.callbacks.runAndClear()
	return gone.val
}

// DelMulti removes key. On a hierarchical cache key may be a prefix, in
// which case the whole subtree goes. Missing keys are ignored.
func (c *Cache[K, V]) DelMulti(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed, ok := c.index.Remove(key)
	if !ok {
		return
	}

	leaves := removed.Leaves()
	pending := make([]callbackSet, 0, len(leaves))
	for _, r := range leaves {
		if gone := c.discard(r); len(gone.callbacks) > 0 {
			pending = append(pending, gone.callbacks)
		}
	}
	for _, cbs := range pending {
		cbs.runAndClear()
	}
}

// Invalidate is DelMulti under the name the replication stream uses.
func (c *Cache[K, V]) Invalidate(key K) {
	c.DelMulti(key)
}

// Clear removes every entry, firing all pending callbacks.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pending []callbackSet
	c.entries.each(func(_ Ref, e *entry[K, V]) {
		if len(e.callbacks) > 0 {
			pending = append(pending, e.callbacks)
		}
	})

	c.entries.reset()
	c.index.Clear()
	c.size = 0
	if c.sizer != nil && c.metrics != nil {
		c.metrics.ClearMemoryUsage()
	}

	for _, cbs := range pending {
		cbs.runAndClear()
	}
}

// Contains reports whether key is present. Recency and metrics are left
// untouched.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index.Get(key)
	return ok
}

// Peek returns the value under key without updating recency or metrics.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.index.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return c.entries.at(r).val, true
}

// Len returns the current size in cost units. Without a cost function this
// is the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Entries returns the number of stored keys regardless of cost.
func (c *Cache[K, V]) Entries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.live
}

// Keys returns all keys from most to least recently used. O(n).
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.entries.live)
	c.entries.each(func(_ Ref, e *entry[K, V]) {
		keys = append(keys, e.key)
	})
	return keys
}

// Capacity returns the effective capacity: the nominal capacity scaled by
// the current factor.
func (c *Cache[K, V]) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// MaxSize returns the nominal capacity the cache was built with.
func (c *Cache[K, V]) MaxSize() int { return c.maxSize }

// Name returns the cache name, empty for anonymous caches.
func (c *Cache[K, V]) Name() string { return c.name }

// Scales reports whether the cache follows SetCacheFactor.
func (c *Cache[K, V]) Scales() bool { return c.scaling }

// SetCacheFactor rescales the capacity to the nominal capacity times factor,
// evicting if it shrank. It reports whether the capacity changed; caches
// built WithoutGlobalScaling always report false. A factor that is not
// positive and finite is ignored.
func (c *Cache[K, V]) SetCacheFactor(factor float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.scaling || !validFactor(factor) {
		return false
	}

	capacity := int(float64(c.maxSize) * factor)
	c.factor = factor
	if capacity == c.capacity {
		return false
	}

	c.logger.Debug().
		Int("old_capacity", c.capacity).
		Int("new_capacity", capacity).
		Float64("factor", factor).
		Msg("cache resized")

	c.capacity = capacity
	c.evict()
	return true
}

// --- internal operations (caller must hold lock) ---

func (c *Cache[K, V]) costOf(v V) int {
	if c.costFn == nil {
		return 1
	}
	if n := c.costFn(v); n > 0 {
		return n
	}
	return 0
}

// insert adds a new entry at the front of the list.
func (c *Cache[K, V]) insert(key K, value V, callbacks []Callback) {
	// Index first: a hierarchical index rejects malformed keys by panicking,
	// and nothing must have been allocated by then.
	c.index.Set(key, c.entries.nextRef())
	r := c.entries.alloc(key, value)

	e := c.entries.at(r)
	e.callbacks.add(callbacks...)
	e.cost = c.costOf(value)
	c.entries.pushFront(r)
	c.size += e.cost

	if c.sizer != nil {
		e.memory = c.sizer(key, value)
		if c.metrics != nil {
			c.metrics.IncMemoryUsage(e.memory)
		}
	}
}

type discarded[V any] struct {
	val       V
	cost      int
	callbacks callbackSet
}

// discard unlinks r from the list and frees its slot. The index is left to
// the caller. The entry's callbacks are handed back unfired so the caller
// can run them once the structure is consistent again.
func (c *Cache[K, V]) discard(r Ref) discarded[V] {
	e := c.entries.at(r)
	gone := discarded[V]{val: e.val, cost: e.cost, callbacks: e.callbacks}
	memory := e.memory

	c.entries.detach(r)
	c.entries.release(r)
	c.size -= gone.cost

	if memory > 0 && c.metrics != nil {
		c.metrics.DecMemoryUsage(memory)
	}
	return gone
}

// evict drops least recently used entries until the cache fits. An entry
// whose own cost exceeds the capacity stays once it is the only one left.
func (c *Cache[K, V]) evict() {
	evicted := 0
	for c.size > c.capacity && c.entries.live > 1 {
		r := c.entries.back()
		c.index.Remove(c.entries.at(r).key)
		gone := c.discard(r)
		evicted++
		gone.callbacks.runAndClear()
		if c.metrics != nil {
			c.metrics.IncEvictions(gone.cost)
		}
	}

	if evicted > 0 {
		c.logger.Debug().Int("evicted", evicted).Int("size", c.size).Msg("evicted entries")
	}
}

// validFactor rejects factors that are not positive and finite. NaN fails
// the comparison.
func validFactor(f float64) bool {
	return f > 0 && !math.IsInf(f, 1)
}
