package alloc

import (
	"testing"

	"github.com/m68kjit/m68kjit/internal/hostisa"
)

func newTestAllocator() (*Allocator, *[]uint32) {
	var words []uint32
	pool := []hostisa.Reg{hostisa.R0, hostisa.R1, hostisa.R2}
	a := NewAllocator(pool, func(w uint32) { words = append(words, w) })
	return a, &words
}

func TestMapReadEmitsLoadOnFirstUse(t *testing.T) {
	a, words := newTestAllocator()
	a.MapRead(D(0))
	if len(*words) != 1 {
		t.Fatalf("expected one load emitted, got %d", len(*words))
	}
}

func TestMapReadIsCachedOnSecondUse(t *testing.T) {
	a, words := newTestAllocator()
	a.MapRead(D(0))
	a.MapRead(D(0))
	if len(*words) != 1 {
		t.Fatalf("expected still one load after repeat MapRead, got %d", len(*words))
	}
}

func TestEvictionSpillsDirtyRegister(t *testing.T) {
	a, words := newTestAllocator()
	// Pool has 3 slots; bind 4 distinct guest registers as writes so the
	// 4th forces an eviction of the LRU victim (D0), which is dirty and
	// must be stored back before reuse.
	a.MapWrite(D(0))
	a.MapWrite(D(1))
	a.MapWrite(D(2))
	before := len(*words)
	a.MapWrite(D(3))
	after := len(*words)
	if after <= before {
		t.Fatalf("expected a spill store emitted on eviction, words before=%d after=%d", before, after)
	}
	if _, ok := a.byGuest[D(0)]; ok {
		t.Fatal("D0 should have been evicted")
	}
}

func TestLockedRegisterSurvivesEviction(t *testing.T) {
	a, _ := newTestAllocator()
	a.MapWrite(D(0))
	a.Lock(D(0))
	a.MapWrite(D(1))
	a.MapWrite(D(2))
	a.MapWrite(D(3)) // would evict D0 if unlocked
	if _, ok := a.byGuest[D(0)]; !ok {
		t.Fatal("locked D0 should not have been evicted")
	}
}

func TestFlushAllClearsBindingsAndStoresdirty(t *testing.T) {
	a, words := newTestAllocator()
	a.MapWrite(D(0))
	before := len(*words)
	a.FlushAll()
	after := len(*words)
	if after <= before {
		t.Fatal("expected FlushAll to emit a store for the dirty D0 binding")
	}
	if len(a.byGuest) != 0 {
		t.Fatal("expected FlushAll to clear all bindings")
	}
	if a.Changed() != 0 {
		t.Fatal("expected FlushAll to reset the changed mask")
	}
}

func TestDiscardSkipsStoreBack(t *testing.T) {
	a, words := newTestAllocator()
	a.MapWrite(D(0))
	before := len(*words)
	a.Discard(D(0))
	a.FlushAll()
	after := len(*words)
	if after != before {
		t.Fatalf("expected no store emitted for a discarded register, before=%d after=%d", before, after)
	}
}
