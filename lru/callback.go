package lru

import "github.com/google/uuid"

// Callback is an invalidation hook attached to a cache entry. It runs once,
// synchronously and under the cache lock, when the entry is removed, evicted,
// cleared, or has its value replaced by a different one.
//
// Callbacks are compared by ID, so registering the same Callback on an entry
// twice has no effect. A callback must not call back into the cache that
// fires it.
type Callback struct {
	ID uuid.UUID
	fn func()
}

// NewCallback wraps fn with a fresh identity.
func NewCallback(fn func()) Callback {
	return Callback{ID: uuid.New(), fn: fn}
}

// Run invokes the callback.
func (cb Callback) Run() {
	if cb.fn != nil {
		cb.fn()
	}
}

// callbackSet is the per-entry list of pending callbacks. Entries usually
// carry zero or one callback, so a slice with a linear dedup scan is used
// instead of a map.
type callbackSet []Callback

func (s *callbackSet) add(cbs ...Callback) {
	for _, cb := range cbs {
		if !s.contains(cb.ID) {
			*s = append(*s, cb)
		}
	}
}

func (s callbackSet) contains(id uuid.UUID) bool {
	for _, cb := range s {
		if cb.ID == id {
			return true
		}
	}
	return false
}

// runAndClear fires every callback in registration order and then forgets
// them. If a callback panics the remaining ones do not run and the set is
// left as is.
func (s *callbackSet) runAndClear() {
	if len(*s) == 0 {
		return
	}
	for _, cb := range *s {
		cb.Run()
	}
	*s = nil
}
