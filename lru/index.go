package lru

// Index maps keys to entry refs. A cache owns exactly one Index and only
// calls it while holding its lock, so implementations need no locking.
type Index[K comparable] interface {
	// Get returns the ref stored under an exact key.
	Get(key K) (Ref, bool)
	// Set stores ref under key, replacing any previous ref.
	Set(key K, ref Ref)
	// Remove deletes key, or for hierarchical indexes every key under the
	// prefix key, and returns what was removed.
	Remove(key K) (Removed, bool)
	// Len returns the number of stored leaf keys.
	Len() int
	// Clear removes everything.
	Clear()
}

// Removed is the result of Index.Remove: either a single ref or a whole
// subtree of a TreeIndex.
type Removed struct {
	refs []Ref
	node *treeNode
}

// RemovedRefs builds a Removed holding the given refs. Custom Index
// implementations use it to report what they dropped.
func RemovedRefs(refs ...Ref) Removed {
	return Removed{refs: refs}
}

// Leaves flattens the removal into the individual entry refs it contained.
// Order is unspecified.
func (r Removed) Leaves() []Ref {
	if r.node == nil {
		return r.refs
	}
	out := append([]Ref(nil), r.refs...)
	return r.node.appendLeaves(out)
}

// MapIndex is the flat Index: exact-match keys in a Go map.
type MapIndex[K comparable] struct {
	m map[K]Ref
}

var _ Index[string] = (*MapIndex[string])(nil)

// NewMapIndex returns an empty flat index.
func NewMapIndex[K comparable](sizeHint int) *MapIndex[K] {
	return &MapIndex[K]{m: make(map[K]Ref, sizeHint)}
}

func (x *MapIndex[K]) Get(key K) (Ref, bool) {
	r, ok := x.m[key]
	return r, ok
}

func (x *MapIndex[K]) Set(key K, ref Ref) { x.m[key] = ref }

func (x *MapIndex[K]) Remove(key K) (Removed, bool) {
	r, ok := x.m[key]
	if !ok {
		return Removed{}, false
	}
	delete(x.m, key)
	return RemovedRefs(r), true
}

func (x *MapIndex[K]) Len() int { return len(x.m) }

func (x *MapIndex[K]) Clear() { clear(x.m) }
