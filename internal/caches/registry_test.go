package caches

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/lrucache/internal/errors"
	"github.com/p-blackswan/lrucache/internal/metrics"
	"github.com/p-blackswan/lrucache/lru"
)

func newTestRegistry(t *testing.T, props Properties) *Registry {
	t.Helper()
	r, err := NewRegistry(props, metrics.New(), zerolog.Nop())
	require.NoError(t, err)
	return r
}

func TestRegistry_NewAppliesFactor(t *testing.T) {
	r := newTestRegistry(t, Properties{
		GlobalFactor:    0.5,
		PerCacheFactors: map[string]float64{"Big-Cache": 2},
	})

	small, err := New[string, int](r, "small", 100)
	require.NoError(t, err)
	big, err := New[string, int](r, "big_cache", 100)
	require.NoError(t, err)

	assert.Equal(t, 50, small.Capacity())
	assert.Equal(t, 200, big.Capacity())
	assert.Equal(t, "small", small.Name())
}

func TestRegistry_RegisterExternalCache(t *testing.T) {
	r := newTestRegistry(t, Properties{GlobalFactor: 2})

	c := lru.New[string, int](10, lru.WithName[string, int]("external"))
	require.NoError(t, r.Register(c))
	assert.Equal(t, 20, c.Capacity())

	err := r.Register(c)
	assert.ErrorIs(t, err, perrors.ErrDuplicate)

	_, err = New[string, int](r, "external", 10)
	assert.ErrorIs(t, err, perrors.ErrDuplicate)

	err = r.Register(lru.New[string, int](10))
	assert.ErrorIs(t, err, perrors.ErrInvalidConfig)
}

func TestRegistry_ApplyBroadcastsFactor(t *testing.T) {
	r := newTestRegistry(t, Properties{GlobalFactor: 1})

	users, err := New[int, int](r, "users", 10)
	require.NoError(t, err)
	pinned, err := New[int, int](r, "pinned", 10, lru.WithoutGlobalScaling[int, int]())
	require.NoError(t, err)
	state, err := NewTree[string](r, "state", 10, 2)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		users.Set(i, i)
		pinned.Set(i, i)
	}

	resized, err := r.Apply(Properties{
		GlobalFactor:    0.5,
		PerCacheFactors: map[string]float64{"state": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, resized)
	assert.Equal(t, 5, users.Len())
	assert.Equal(t, 10, pinned.Len())
	assert.Equal(t, 10, state.Capacity())

	// Same properties again: nothing changes.
	resized, err = r.Apply(r.Properties())
	require.NoError(t, err)
	assert.Empty(t, resized)
}

func TestRegistry_ApplyRejectsInvalidFactor(t *testing.T) {
	r := newTestRegistry(t, DefaultProperties())
	c, err := New[int, int](r, "users", 10)
	require.NoError(t, err)

	_, err = r.Apply(Properties{GlobalFactor: 0})
	assert.ErrorIs(t, err, perrors.ErrInvalidFactor)

	_, err = r.Apply(Properties{GlobalFactor: 1, PerCacheFactors: map[string]float64{"users": -2}})
	assert.ErrorIs(t, err, perrors.ErrInvalidFactor)

	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err = r.Apply(Properties{GlobalFactor: f})
		assert.ErrorIs(t, err, perrors.ErrInvalidFactor, "global %v", f)

		_, err = r.Apply(Properties{GlobalFactor: 1, PerCacheFactors: map[string]float64{"users": f}})
		assert.ErrorIs(t, err, perrors.ErrInvalidFactor, "per-cache %v", f)
	}

	assert.Equal(t, 5, c.Capacity())
	assert.Equal(t, DefaultGlobalFactor, r.Properties().GlobalFactor)

	_, err = NewRegistry(Properties{}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, perrors.ErrInvalidFactor)

	_, err = NewRegistry(Properties{GlobalFactor: math.NaN()}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, perrors.ErrInvalidFactor)
}

// gatedCache blocks inside SetCacheFactor(gateOn) until release is closed.
type gatedCache struct {
	mu      sync.Mutex
	factor  float64
	gateOn  float64
	entered chan struct{}
	release chan struct{}
}

func newGatedCache(gateOn float64) *gatedCache {
	return &gatedCache{
		factor:  1,
		gateOn:  gateOn,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedCache) Name() string  { return "gated" }
func (g *gatedCache) Len() int      { return 0 }
func (g *gatedCache) MaxSize() int  { return 100 }
func (g *gatedCache) Scales() bool  { return true }
func (g *gatedCache) Clear()        {}
func (g *gatedCache) Capacity() int { g.mu.Lock(); defer g.mu.Unlock(); return int(100 * g.factor) }

func (g *gatedCache) SetCacheFactor(f float64) bool {
	g.mu.Lock()
	var wait chan struct{}
	if f == g.gateOn && g.entered != nil {
		close(g.entered)
		g.entered = nil
		wait = g.release
	}
	g.mu.Unlock()
	if wait != nil {
		<-wait
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	changed := f != g.factor
	g.factor = f
	return changed
}

func TestRegistry_ApplySerializesBroadcasts(t *testing.T) {
	r := newTestRegistry(t, Properties{GlobalFactor: 1})
	g := newGatedCache(0.25)
	entered := g.entered
	require.NoError(t, r.Register(g))

	first := make(chan error, 1)
	go func() {
		_, err := r.Apply(Properties{GlobalFactor: 0.25})
		first <- err
	}()
	<-entered

	second := make(chan error, 1)
	go func() {
		_, err := r.Apply(Properties{GlobalFactor: 0.75})
		second <- err
	}()

	select {
	case <-second:
		t.Fatal("second Apply finished while the first was still resizing")
	case <-time.After(50 * time.Millisecond):
	}

	close(g.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	assert.Equal(t, 0.75, r.Properties().GlobalFactor)
	assert.Equal(t, 75, g.Capacity())
}

func TestRegistry_UpdateKeepsConcurrentEdits(t *testing.T) {
	r := newTestRegistry(t, Properties{GlobalFactor: 1})
	users, err := New[int, int](r, "users", 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Update(func(p *Properties) {
				p.PerCacheFactors[fmt.Sprintf("cache_%d", i)] = 2
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	props := r.Properties()
	assert.Len(t, props.PerCacheFactors, 20)
	assert.Equal(t, 10, users.Capacity())

	resized, err := r.Update(func(p *Properties) { p.PerCacheFactors["Users"] = 3 })
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, resized)
	assert.Equal(t, 30, users.Capacity())

	// A rejected update leaves the properties in force untouched.
	_, err = r.Update(func(p *Properties) { p.GlobalFactor = math.NaN() })
	assert.ErrorIs(t, err, perrors.ErrInvalidFactor)
	assert.Equal(t, 1.0, r.Properties().GlobalFactor)
	assert.Len(t, r.Properties().PerCacheFactors, 21)
}

func TestRegistry_ConcurrentNewSameName(t *testing.T) {
	reg := metrics.New()
	r, err := NewRegistry(Properties{GlobalFactor: 1}, reg, zerolog.Nop())
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*lru.Cache[string, int]
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := New[string, int](r, "shared", 10)
			if err != nil {
				assert.ErrorIs(t, err, perrors.ErrDuplicate)
				return
			}
			mu.Lock()
			winners = append(winners, c)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	winners[0].Get("missing", 0)

	m, ok := reg.Lookup(lru.MetricsKind, "shared")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.Snapshot().Misses)
}

func TestRegistry_GetClearStats(t *testing.T) {
	r := newTestRegistry(t, Properties{GlobalFactor: 1})
	c, err := New[string, string](r, "get_user_by_id", 4)
	require.NoError(t, err)
	c.Set("@a:example.org", "Alice")

	got, err := r.Get("GET_USER_BY_ID")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())

	stats := r.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, CacheStats{Name: "get_user_by_id", Size: 1, Capacity: 4, MaxSize: 4, Factor: 1, Scales: true}, stats[0])
	assert.False(t, stats[0].OverCapacity())

	require.NoError(t, r.Clear("get_user_by_id"))
	assert.Equal(t, 0, c.Len())

	_, err = r.Get("nope")
	assert.True(t, perrors.IsNotFound(err))
	assert.ErrorIs(t, r.Clear("nope"), perrors.ErrUnknownCache)
	_, err = r.StatsFor("nope")
	assert.ErrorIs(t, err, perrors.ErrUnknownCache)

	s, err := r.StatsFor("get_user_by_id")
	require.NoError(t, err)
	assert.Equal(t, 4, s.Capacity)
}

func TestRegistry_TrackMemoryUsage(t *testing.T) {
	reg := metrics.New()
	r, err := NewRegistry(Properties{GlobalFactor: 1, TrackMemoryUsage: true}, reg, zerolog.Nop())
	require.NoError(t, err)

	c, err := New[string, string](r, "tracked", 4)
	require.NoError(t, err)
	c.Set("k", "some value")

	m, ok := reg.Lookup(lru.MetricsKind, "tracked")
	require.True(t, ok)
	assert.Positive(t, m.Snapshot().MemoryUsage)
}

func TestNewServer(t *testing.T) {
	r := newTestRegistry(t, Properties{GlobalFactor: 0.5})
	s, err := NewServer(r)
	require.NoError(t, err)

	assert.Equal(t, UsersInRoomMaxEntries/2, s.UsersInRoom.Capacity())
	assert.Equal(t, RoomVersionMaxEntries, s.RoomVersions.Capacity())
	assert.Len(t, r.Stats(), 4)

	s.UsersInRoom.Set("!room:example.org", []string{"@a:example.org", "@b:example.org"})
	assert.Equal(t, 2, s.UsersInRoom.Len())

	s.StateEvents.Set(lru.T("!room:example.org", "m.room.name", ""), "$ev1")
	s.StateEvents.Set(lru.T("!room:example.org", "m.room.topic", ""), "$ev2")
	s.StateEvents.Invalidate(lru.T("!room:example.org"))
	assert.Equal(t, 0, s.StateEvents.Len())

	fired := 0
	key := lru.T("@a:example.org", "DEVICE")
	s.DeviceKeys.Set(key, []byte("k1"), lru.NewCallback(func() { fired++ }))
	s.DeviceKeys.Set(key, []byte("k1"))
	assert.Equal(t, 0, fired)
	s.DeviceKeys.Set(key, []byte("k2"))
	assert.Equal(t, 1, fired)

	_, err = NewServer(r)
	assert.ErrorIs(t, err, perrors.ErrDuplicate)
}

func TestCanonicalName(t *testing.T) {
	assert.Equal(t, "get_users_in_room", CanonicalName("get_users_in_room"))
	assert.Equal(t, "big_cache", CanonicalName(" Big-Cache "))
	assert.Equal(t, "a_b", CanonicalName("a.b"))
}
