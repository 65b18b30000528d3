package cache

import (
	"testing"

	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostcache"
	"github.com/m68kjit/m68kjit/internal/translator"
)

const opNop = 0x4E71
const opRts = 0x4E75

func compileOne(t *testing.T, mem guest.Memory, pc uint32) *translator.Tu {
	t.Helper()
	tu, err := translator.Translate(mem, pc, 0)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	return tu
}

func newTestCache(t *testing.T, capacity int) *Cache {
	t.Helper()
	c, err := New(Options{Capacity: capacity, MaxTuBytes: 4096}, hostcache.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInsertThenLookupHits(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, opNop)
	mem.Write16(0x1002, opRts)

	c := newTestCache(t, 4)
	raw := compileOne(t, mem, 0x1000)

	cached, err := c.Insert(raw)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if cached.EntryM68k != 0x1000 {
		t.Fatalf("EntryM68k = %#x, want 0x1000", cached.EntryM68k)
	}

	got, ok := c.Lookup(mem, 0x1000)
	if !ok {
		t.Fatal("expected a hit after Insert")
	}
	if got != cached {
		t.Fatal("Lookup returned a different *Tu than Insert produced")
	}
	if got.UseCount != 1 {
		t.Fatalf("UseCount = %d, want 1", got.UseCount)
	}
}

func TestLookupMissesOnUnknownPC(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	c := newTestCache(t, 4)
	if _, ok := c.Lookup(mem, 0x9000); ok {
		t.Fatal("expected a miss for a PC never inserted")
	}
}

func TestInsertEvictsLRUVictimWhenFull(t *testing.T) {
	mem := guest.NewFlatMemory(0x4000)
	for i := uint32(0); i < 3; i++ {
		base := 0x1000 + i*0x100
		mem.Write16(base, opNop)
		mem.Write16(base+2, opRts)
	}

	c := newTestCache(t, 2)
	a := compileOne(t, mem, 0x1000)
	b := compileOne(t, mem, 0x1100)
	if _, err := c.Insert(a); err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	if _, err := c.Insert(b); err != nil {
		t.Fatalf("Insert b: %v", err)
	}
	// Touch a so it outranks b in recency, then insert a third TU — b
	// should be the one evicted.
	if _, ok := c.Lookup(mem, 0x1000); !ok {
		t.Fatal("expected a to still be cached before eviction")
	}
	cc := compileOne(t, mem, 0x1200)
	if _, err := c.Insert(cc); err != nil {
		t.Fatalf("Insert c: %v", err)
	}

	if _, ok := c.Lookup(mem, 0x1000); !ok {
		t.Fatal("a should have survived (most recently touched)")
	}
	if _, ok := c.Lookup(mem, 0x1100); ok {
		t.Fatal("b should have been evicted as the LRU victim")
	}
	if _, ok := c.Lookup(mem, 0x1200); !ok {
		t.Fatal("c should be cached after Insert")
	}
}

func TestInvalidateLineDropsOverlappingTU(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, opNop)
	mem.Write16(0x1002, opRts)

	c := newTestCache(t, 4)
	raw := compileOne(t, mem, 0x1000)
	if _, err := c.Insert(raw); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	c.InvalidateLine(0x1002, 4) // overlaps [0x1000,0x1004)

	if _, ok := c.Lookup(mem, 0x1000); ok {
		t.Fatal("expected the TU to be invalidated by an overlapping line invalidation")
	}
}

func TestInvalidateAllHardDropsWithoutSoftFlush(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, opNop)
	mem.Write16(0x1002, opRts)

	c := newTestCache(t, 4)
	raw := compileOne(t, mem, 0x1000)
	if _, err := c.Insert(raw); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	c.InvalidateAll()

	if _, ok := c.Lookup(mem, 0x1000); ok {
		t.Fatal("expected InvalidateAll to drop every TU when soft-flush is disabled")
	}
}

func TestInvalidateAllSoftFlushRevalidatesCleanTU(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, opNop)
	mem.Write16(0x1002, opRts)

	c, err := New(Options{Capacity: 4, MaxTuBytes: 4096, SoftFlush: true, SoftFlushThreshold: 1}, hostcache.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	raw := compileOne(t, mem, 0x1000)
	cached, err := c.Insert(raw)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	c.InvalidateAll() // live count (1) >= threshold (1): poisons instead of dropping
	if !cached.Poisoned {
		t.Fatal("expected the surviving TU to be poisoned by a soft-flush")
	}

	// Guest bytes are unchanged, so CRC32 still matches: Lookup should
	// revalidate and return a hit instead of a miss.
	got, ok := c.Lookup(mem, 0x1000)
	if !ok {
		t.Fatal("expected a soft-flushed TU with matching CRC32 to revalidate as a hit")
	}
	if got.Poisoned {
		t.Fatal("expected Lookup to un-poison a TU that revalidates clean")
	}
}

func TestInvalidateAllSoftFlushDiscardsModifiedTU(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, opNop)
	mem.Write16(0x1002, opRts)

	c, err := New(Options{Capacity: 4, MaxTuBytes: 4096, SoftFlush: true, SoftFlushThreshold: 1}, hostcache.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	raw := compileOne(t, mem, 0x1000)
	if _, err := c.Insert(raw); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	c.InvalidateAll()
	mem.Write16(0x1000, 0x7000) // moveq #0,D0: guest bytes changed under the poisoned TU

	if _, ok := c.Lookup(mem, 0x1000); ok {
		t.Fatal("expected a soft-flushed TU whose guest bytes changed to be discarded as a miss")
	}
}

func TestNewWithZeroCapacityReturnsExhaustedOnInsert(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, opNop)
	mem.Write16(0x1002, opRts)

	c := newTestCache(t, 0)
	raw := compileOne(t, mem, 0x1000)
	if _, err := c.Insert(raw); err != ErrExhausted {
		t.Fatalf("Insert on a 0-capacity cache = %v, want ErrExhausted", err)
	}
}
