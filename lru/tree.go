package lru

import (
	"fmt"
	"strings"
)

// MaxTupleDepth is the longest key a Tuple can hold.
const MaxTupleDepth = 4

// Tuple is a fixed-capacity, comparable key made of string parts, used as
// the key type of hierarchical caches. A Tuple shorter than the cache depth
// is a prefix and addresses a whole subtree.
type Tuple struct {
	parts [MaxTupleDepth]string
	n     uint8
}

// T builds a Tuple. It panics when given more than MaxTupleDepth parts.
func T(parts ...string) Tuple {
	if len(parts) > MaxTupleDepth {
		panic(fmt.Sprintf("lru: tuple of %d parts exceeds max depth %d", len(parts), MaxTupleDepth))
	}
	var t Tuple
	copy(t.parts[:], parts)
	t.n = uint8(len(parts))
	return t
}

// Len returns the number of parts.
func (t Tuple) Len() int { return int(t.n) }

// At returns part i.
func (t Tuple) At(i int) string { return t.parts[:t.n][i] }

// Parts returns a copy of the parts.
func (t Tuple) Parts() []string { return append([]string(nil), t.parts[:t.n]...) }

// Prefix returns the first n parts.
func (t Tuple) Prefix(n int) Tuple {
	if n >= int(t.n) {
		return t
	}
	return T(t.parts[:n]...)
}

func (t Tuple) String() string {
	return "(" + strings.Join(t.parts[:t.n], ", ") + ")"
}

type treeNode struct {
	children map[string]*treeNode
	ref      Ref
	leaf     bool
}

func (n *treeNode) appendLeaves(out []Ref) []Ref {
	if n.leaf {
		return append(out, n.ref)
	}
	for _, child := range n.children {
		out = child.appendLeaves(out)
	}
	return out
}

// TreeIndex is the hierarchical Index. Every stored key is a Tuple of
// exactly Depth parts; Remove accepts any prefix of 1..Depth parts and drops
// the whole subtree beneath it.
//
// Set panics on a key of the wrong arity. Get treats one as a miss and
// Remove as a no-op.
type TreeIndex struct {
	depth int
	root  *treeNode
	size  int
}

var _ Index[Tuple] = (*TreeIndex)(nil)

// NewTreeIndex returns an empty index for keys of the given depth.
func NewTreeIndex(depth int) *TreeIndex {
	if depth < 1 || depth > MaxTupleDepth {
		panic(fmt.Sprintf("lru: tree depth %d out of range 1..%d", depth, MaxTupleDepth))
	}
	return &TreeIndex{depth: depth, root: &treeNode{children: map[string]*treeNode{}}}
}

// Depth returns the key arity.
func (x *TreeIndex) Depth() int { return x.depth }

func (x *TreeIndex) Get(key Tuple) (Ref, bool) {
	if key.Len() != x.depth {
		return 0, false
	}
	n := x.root
	for i := 0; i < x.depth; i++ {
		n = n.children[key.At(i)]
		if n == nil {
			return 0, false
		}
	}
	return n.ref, true
}

func (x *TreeIndex) Set(key Tuple, ref Ref) {
	if key.Len() != x.depth {
		panic(fmt.Sprintf("lru: key %s has arity %d, tree depth is %d", key, key.Len(), x.depth))
	}
	n := x.root
	for i := 0; i < x.depth-1; i++ {
		child := n.children[key.At(i)]
		if child == nil {
			child = &treeNode{children: map[string]*treeNode{}}
			n.children[key.At(i)] = child
		}
		n = child
	}
	last := key.At(x.depth - 1)
	if leaf, ok := n.children[last]; ok {
		leaf.ref = ref
		return
	}
	n.children[last] = &treeNode{ref: ref, leaf: true}
	x.size++
}

func (x *TreeIndex) Remove(key Tuple) (Removed, bool) {
	if key.Len() < 1 || key.Len() > x.depth {
		return Removed{}, false
	}

	// Remember the path so emptied parents can be pruned afterwards.
	path := make([]*treeNode, 0, key.Len())
	n := x.root
	for i := 0; i < key.Len()-1; i++ {
		path = append(path, n)
		n = n.children[key.At(i)]
		if n == nil {
			return Removed{}, false
		}
	}
	last := key.At(key.Len() - 1)
	popped, ok := n.children[last]
	if !ok {
		return Removed{}, false
	}
	delete(n.children, last)

	for i := len(path) - 1; i >= 0 && len(n.children) == 0; i-- {
		delete(path[i].children, key.At(i))
		n = path[i]
	}

	removed := Removed{node: popped}
	x.size -= countLeaves(popped)
	return removed, true
}

func (x *TreeIndex) Len() int { return x.size }

func (x *TreeIndex) Clear() {
	x.root = &treeNode{children: map[string]*treeNode{}}
	x.size = 0
}

func countLeaves(n *treeNode) int {
	if n.leaf {
		return 1
	}
	total := 0
	for _, child := range n.children {
		total += countLeaves(child)
	}
	return total
}
