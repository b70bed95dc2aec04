package lru

import "testing"

func TestEstimateSize(t *testing.T) {
	if EstimateSize(nil) != 0 || EstimateSize("") != 0 {
		t.Fatal("expected empty values to be free")
	}
	if EstimateSize("hello") <= EstimateSize("h") {
		t.Fatal("expected longer strings to cost more")
	}

	small := map[string][]string{"a": {"x"}}
	large := map[string][]string{"a": {"x", "y", "z"}, "b": {"0123456789"}}
	if EstimateSize(large) <= EstimateSize(small) {
		t.Fatal("expected larger map to cost more")
	}

	type node struct {
		next *node
		name string
	}
	n := &node{name: "loop"}
	n.next = n
	if EstimateSize(n) <= 0 {
		t.Fatal("expected cyclic value to be sized")
	}
}
