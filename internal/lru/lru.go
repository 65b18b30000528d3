// Package lru implements the small fixed-capacity, intrusive-list-free LRU
// used by both the register allocator (spill victim selection among host
// registers) and the translation cache (eviction victim selection among
// cached translation units). Both need the same "touch on use, evict the
// least-recently-touched" policy over a set of integer-indexed slots; this
// package factors that out instead of duplicating it, replacing the
// teacher's intrusive doubly-linked-list pointers (the design note this
// spec explicitly calls out for replacement) with a plain slice-backed ring
// that never embeds next/prev fields in caller structs.
package lru

// Tracker maintains recency order over n integer-indexed slots (0..n-1).
// It holds no payload itself — callers index their own arrays by the slot
// numbers Tracker hands back.
type Tracker struct {
	order []int32 // order[i] = slot at recency position i; order[0] is least-recently-used
	pos   []int32 // pos[slot] = index into order, or -1 if the slot was never touched
}

// New creates a Tracker over n slots, all initially tied for
// least-recently-used in slot-index order.
func New(n int) *Tracker {
	t := &Tracker{
		order: make([]int32, n),
		pos:   make([]int32, n),
	}
	for i := 0; i < n; i++ {
		t.order[i] = int32(i)
		t.pos[i] = int32(i)
	}
	return t
}

// Touch marks slot as most-recently-used, shifting everything between its
// old position and the end down by one — an O(n) operation, acceptable
// here since n is the register file size (a handful of entries) or bounded
// by the cache's LRU sweep granularity, never the full cache.
func (t *Tracker) Touch(slot int) {
	p := t.pos[slot]
	last := int32(len(t.order) - 1)
	if p == last {
		return
	}
	copy(t.order[p:last], t.order[p+1:])
	t.order[last] = int32(slot)
	for i := p; i <= last; i++ {
		t.pos[t.order[i]] = i
	}
}

// Victim returns the least-recently-used slot without altering order.
func (t *Tracker) Victim() int {
	return int(t.order[0])
}

// Len returns the number of tracked slots.
func (t *Tracker) Len() int { return len(t.order) }
