package lru

// Ref addresses an entry slot in a cache's arena. Refs are only meaningful
// to the cache (and index) that issued them and may be reused once the entry
// they pointed at has been removed.
type Ref int32

// rootRef is the sentinel slot closing the circular recency list.
const rootRef Ref = 0

// entry is one cached key/value pair plus its recency links.
type entry[K comparable, V any] struct {
	key       K
	val       V
	prev      Ref
	next      Ref
	cost      int
	memory    int64
	callbacks callbackSet
}

// recencyList is a circular doubly linked list over an arena of entries.
// root.next is the most recently touched entry, root.prev the least.
// Freed slots are kept on a free list and handed out again by alloc.
//
// Pointers returned by at are invalidated by the next alloc.
type recencyList[K comparable, V any] struct {
	slots []entry[K, V]
	free  []Ref
	live  int
}

func newRecencyList[K comparable, V any](sizeHint int) recencyList[K, V] {
	if sizeHint > 1<<16 {
		sizeHint = 1 << 16
	}
	l := recencyList[K, V]{slots: make([]entry[K, V], 1, sizeHint+1)}
	l.slots[rootRef].prev = rootRef
	l.slots[rootRef].next = rootRef
	return l
}

func (l *recencyList[K, V]) at(r Ref) *entry[K, V] { return &l.slots[r] }

func (l *recencyList[K, V]) front() Ref { return l.slots[rootRef].next }

func (l *recencyList[K, V]) back() Ref { return l.slots[rootRef].prev }

func (l *recencyList[K, V]) empty() bool { return l.slots[rootRef].next == rootRef }

// nextRef returns the ref the next alloc will hand out.
func (l *recencyList[K, V]) nextRef() Ref {
	if n := len(l.free); n > 0 {
		return l.free[n-1]
	}
	return Ref(len(l.slots))
}

// alloc takes a slot from the free list, or grows the arena.
func (l *recencyList[K, V]) alloc(key K, val V) Ref {
	var r Ref
	if n := len(l.free); n > 0 {
		r = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		l.slots = append(l.slots, entry[K, V]{})
		r = Ref(len(l.slots) - 1)
	}
	l.slots[r] = entry[K, V]{key: key, val: val, prev: r, next: r}
	l.live++
	return r
}

// pushFront splices r in right after root.
func (l *recencyList[K, V]) pushFront(r Ref) {
	root := &l.slots[rootRef]
	first := root.next
	e := &l.slots[r]
	e.prev = rootRef
	e.next = first
	l.slots[first].prev = r
	root.next = r
}

// detach splices r out of the list, leaving it self-linked.
func (l *recencyList[K, V]) detach(r Ref) {
	e := &l.slots[r]
	l.slots[e.prev].next = e.next
	l.slots[e.next].prev = e.prev
	e.prev = r
	e.next = r
}

func (l *recencyList[K, V]) moveToFront(r Ref) {
	if l.front() == r {
		return
	}
	l.detach(r)
	l.pushFront(r)
}

// release zeroes a detached slot so its key and value can be collected, and
// puts it on the free list.
func (l *recencyList[K, V]) release(r Ref) {
	l.slots[r] = entry[K, V]{}
	l.free = append(l.free, r)
	l.live--
}

// reset drops every entry and shrinks the arena back to the root sentinel.
func (l *recencyList[K, V]) reset() {
	clear(l.slots[1:])
	l.slots = l.slots[:1]
	l.slots[rootRef] = entry[K, V]{prev: rootRef, next: rootRef}
	l.free = nil
	l.live = 0
}

// each walks the list from most to least recently used.
func (l *recencyList[K, V]) each(fn func(r Ref, e *entry[K, V])) {
	for r := l.front(); r != rootRef; r = l.slots[r].next {
		fn(r, &l.slots[r])
	}
}
