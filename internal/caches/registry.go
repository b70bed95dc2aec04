// Package caches keeps the process-wide set of named caches and applies
// scale factors to them, at construction and on every config reload.
package caches

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/lrucache/internal/errors"
	"github.com/p-blackswan/lrucache/lru"
)

// Resizable is the view of a cache the registry manages.
type Resizable interface {
	Name() string
	SetCacheFactor(factor float64) bool
	Len() int
	Capacity() int
	MaxSize() int
	Scales() bool
	Clear()
}

var (
	_ Resizable = (*lru.Cache[string, int])(nil)
	_ Resizable = (*lru.Cache[lru.Tuple, int])(nil)
)

// CacheStats describes one registered cache.
type CacheStats struct {
	Name     string  `json:"name"`
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
	MaxSize  int     `json:"max_size"`
	Factor   float64 `json:"factor"`
	Scales   bool    `json:"scales"`
}

// OverCapacity reports whether a single oversized entry holds the cache
// above its capacity.
func (s CacheStats) OverCapacity() bool {
	return s.Size > s.Capacity
}

// Registry holds every named cache of the process.
//
// mu guards the map and the properties. applyMu serializes every change that
// reaches the caches (registration, Apply, Update) so the properties in
// force always match the factor each cache last received. applyMu is held
// while caches resize, so eviction callbacks must not call back into the
// registry's mutating methods.
type Registry struct {
	applyMu sync.Mutex
	mu      sync.RWMutex
	caches  map[string]Resizable
	props   Properties
	metrics lru.MetricsRegistrar
	logger  zerolog.Logger
}

// NewRegistry creates a registry. metrics may be nil to disable metrics for
// caches built through New and NewTree.
func NewRegistry(props Properties, metrics lru.MetricsRegistrar, logger zerolog.Logger) (*Registry, error) {
	if err := props.Validate(); err != nil {
		return nil, fmt.Errorf("cache properties: %w", err)
	}
	return &Registry{
		caches:  make(map[string]Resizable),
		props:   props,
		metrics: metrics,
		logger:  logger.With().Str("component", "caches").Logger(),
	}, nil
}

// Register adds c under its canonical name and applies the current factor
// to it.
func (r *Registry) Register(c Resizable) error {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	return r.register(c)
}

// register requires applyMu.
func (r *Registry) register(c Resizable) error {
	name := CanonicalName(c.Name())
	if name == "" {
		return fmt.Errorf("%w: cache has no name", perrors.ErrInvalidConfig)
	}

	r.mu.Lock()
	if _, ok := r.caches[name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", perrors.ErrDuplicate, name)
	}
	r.caches[name] = c
	factor := r.props.FactorFor(name)
	r.mu.Unlock()

	c.SetCacheFactor(factor)
	r.logger.Debug().
		Str("cache", name).
		Int("capacity", c.Capacity()).
		Float64("factor", factor).
		Msg("cache registered")
	return nil
}

// Apply stores new properties and resizes every registered cache that
// follows global scaling. It returns the names of the caches whose capacity
// changed, sorted.
func (r *Registry) Apply(props Properties) ([]string, error) {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	return r.apply(props)
}

// Update edits a copy of the properties in force with fn and applies the
// result. Concurrent updates never lose each other's edits.
func (r *Registry) Update(fn func(*Properties)) ([]string, error) {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	props := r.Properties()
	if props.PerCacheFactors == nil {
		props.PerCacheFactors = make(map[string]float64)
	}
	fn(&props)
	return r.apply(props)
}

// apply requires applyMu.
func (r *Registry) apply(props Properties) ([]string, error) {
	if err := props.Validate(); err != nil {
		return nil, fmt.Errorf("cache properties: %w", err)
	}

	r.mu.Lock()
	r.props = props
	targets := make(map[string]Resizable, len(r.caches))
	for name, c := range r.caches {
		targets[name] = c
	}
	r.mu.Unlock()

	// Each cache takes its own lock; mu is not held so that eviction
	// callbacks can still read the registry.
	var resized []string
	for name, c := range targets {
		if c.SetCacheFactor(props.FactorFor(name)) {
			resized = append(resized, name)
		}
	}
	sort.Strings(resized)

	r.logger.Info().
		Float64("global_factor", props.GlobalFactor).
		Int("per_cache_factors", len(props.PerCacheFactors)).
		Strs("resized", resized).
		Msg("cache factors applied")
	return resized, nil
}

// Properties returns the properties currently in force.
func (r *Registry) Properties() Properties {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.props.Clone()
}

// Get returns the cache registered under name.
func (r *Registry) Get(name string) (Resizable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caches[CanonicalName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", perrors.ErrUnknownCache, name)
	}
	return c, nil
}

// Clear empties the named cache.
func (r *Registry) Clear(name string) error {
	c, err := r.Get(name)
	if err != nil {
		return err
	}
	c.Clear()
	r.logger.Info().Str("cache", c.Name()).Msg("cache cleared")
	return nil
}

// Stats describes every registered cache, sorted by name.
func (r *Registry) Stats() []CacheStats {
	r.mu.RLock()
	props := r.props
	list := make([]CacheStats, 0, len(r.caches))
	caches := make([]Resizable, 0, len(r.caches))
	for _, c := range r.caches {
		caches = append(caches, c)
	}
	r.mu.RUnlock()

	for _, c := range caches {
		factor := 1.0
		if c.Scales() {
			factor = props.FactorFor(c.Name())
		}
		list = append(list, CacheStats{
			Name:     CanonicalName(c.Name()),
			Size:     c.Len(),
			Capacity: c.Capacity(),
			MaxSize:  c.MaxSize(),
			Factor:   factor,
			Scales:   c.Scales(),
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// StatsFor describes one cache.
func (r *Registry) StatsFor(name string) (CacheStats, error) {
	if _, err := r.Get(name); err != nil {
		return CacheStats{}, err
	}
	for _, s := range r.Stats() {
		if s.Name == CanonicalName(name) {
			return s, nil
		}
	}
	return CacheStats{}, fmt.Errorf("%w: %s", perrors.ErrUnknownCache, name)
}

// reserve fails for names that are taken. Callers hold applyMu until the
// cache is registered, so no other cache can claim the name in between and
// a losing cache never registers itself with metrics.
func (r *Registry) reserve(name string) error {
	key := CanonicalName(name)
	if key == "" {
		return fmt.Errorf("%w: cache has no name", perrors.ErrInvalidConfig)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.caches[key]; ok {
		return fmt.Errorf("%w: %s", perrors.ErrDuplicate, key)
	}
	return nil
}

// options builds the construction options every registry-managed cache gets.
func options[K comparable, V any](r *Registry, name string) []lru.Option[K, V] {
	props := r.Properties()
	opts := []lru.Option[K, V]{
		lru.WithName[K, V](CanonicalName(name)),
		lru.WithScaleFactor[K, V](props.FactorFor(name)),
		lru.WithLogger[K, V](r.logger),
	}
	if r.metrics != nil {
		opts = append(opts, lru.WithMetrics[K, V](r.metrics))
	}
	if props.TrackMemoryUsage {
		opts = append(opts, lru.WithMemoryTracking[K, V](nil))
	}
	return opts
}

// New builds a flat cache named name, sized from the registry's current
// properties, with metrics, and registers it. opts are applied after the
// registry's own options.
func New[K comparable, V any](r *Registry, name string, capacity int, opts ...lru.Option[K, V]) (*lru.Cache[K, V], error) {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	if err := r.reserve(name); err != nil {
		return nil, err
	}
	c := lru.New[K, V](capacity, append(options[K, V](r, name), opts...)...)
	if err := r.register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// NewTree is New for hierarchical caches keyed by Tuples of depth parts.
func NewTree[V any](r *Registry, name string, capacity, depth int, opts ...lru.Option[lru.Tuple, V]) (*lru.Cache[lru.Tuple, V], error) {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	if err := r.reserve(name); err != nil {
		return nil, err
	}
	c := lru.NewTree[V](capacity, depth, append(options[lru.Tuple, V](r, name), opts...)...)
	if err := r.register(c); err != nil {
		return nil, err
	}
	return c, nil
}
