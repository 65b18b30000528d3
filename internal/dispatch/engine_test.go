package dispatch

import (
	"testing"

	"github.com/m68kjit/m68kjit/internal/cache"
	"github.com/m68kjit/m68kjit/internal/fpu"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostcache"
	"github.com/m68kjit/m68kjit/internal/translator"
)

const opNop = 0x4E71
const opRts = 0x4E75

func TestServiceMailboxRunsPendingFPURequest(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	e := newTestEngine(t, mem, 0x1000, &fakeInvoker{})

	e.State.FP[0] = guest.Extended{V: 1.0}
	e.State.FP[1] = guest.Extended{V: 2.5}
	e.State.FpuOp = fpu.CmdSrcFP(fpu.Cmd(0x22, 0), 1) // fadd FP1,FP0

	if err := e.ServiceMailbox(); err != nil {
		t.Fatal(err)
	}
	if e.State.FpuOp != 0 {
		t.Fatal("mailbox must clear after servicing")
	}
	if got := e.State.FP[0].V; got != 3.5 {
		t.Fatalf("FP0 = %v, want 3.5", got)
	}
}

func TestServiceMailboxAppliesCacheLineInvalidation(t *testing.T) {
	mem := guest.NewFlatMemory(0x8000)
	mem.Write16(0x4000, opNop)
	mem.Write16(0x4002, opRts)
	e := newTestEngine(t, mem, 0x4000, &fakeInvoker{})

	raw, err := translator.Translate(mem, 0x4000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Cache().Insert(raw); err != nil {
		t.Fatal(err)
	}
	if _, hit := e.Cache().Lookup(mem, 0x4000); !hit {
		t.Fatal("expected the freshly inserted TU to hit")
	}

	// cinv l,ic with the line address inside the TU's span (Scenario D).
	e.State.CacheOp = guest.CacheOpPending | guest.CacheOpInsn | guest.CacheOpScopeLine
	e.State.CacheAddr = 0x4000
	if err := e.ServiceMailbox(); err != nil {
		t.Fatal(err)
	}
	if _, hit := e.Cache().Lookup(mem, 0x4000); hit {
		t.Fatal("expected a miss after the line invalidation")
	}
}

// fakeInvoker stands in for real ARM execution in tests that exercise
// Engine's loop/cache mechanics rather than the translated code itself —
// the same boundary hostcache_test.go accepts (no real cache line to
// maintain on the dev machine); here there is no real core to fetch and
// decode the emitted words, so advance is scripted by the test instead.
type fakeInvoker struct {
	calls   int
	nextPCs []uint32 // nextPCs[i] is State.PC after the i-th Invoke call
}

func (f *fakeInvoker) Invoke(entryPtr uintptr, state *guest.State) {
	state.PC = f.nextPCs[f.calls]
	f.calls++
}

func newTestEngine(t *testing.T, mem guest.Memory, startPC uint32, inv Invoker) *Engine {
	t.Helper()
	c, err := cache.New(cache.Options{Capacity: 4, MaxTuBytes: 4096}, hostcache.New())
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	state := &guest.State{PC: startPC}
	return NewEngine(state, mem, c, 0, inv)
}

func TestRunStopsAtHaltPC(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, opNop)
	mem.Write16(0x1002, opRts)

	inv := &fakeInvoker{nextPCs: []uint32{0}}
	e := newTestEngine(t, mem, 0x1000, inv)

	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if inv.calls != 1 {
		t.Fatalf("Invoke called %d times, want 1", inv.calls)
	}
	if e.State.PC != haltPC {
		t.Fatalf("State.PC = %#x, want haltPC", e.State.PC)
	}
}

func TestStepHitsCacheOnSecondCallToSameEntry(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, opNop)
	mem.Write16(0x1002, opRts)

	// Both steps target 0x1000 so the second Step must be a cache hit
	// rather than a second translation.
	inv := &fakeInvoker{nextPCs: []uint32{0x1000, 0}}
	e := newTestEngine(t, mem, 0x1000, inv)

	if err := e.Step(); err != nil {
		t.Fatalf("first Step: %v", err)
	}
	tu, ok := e.Cache().Lookup(mem, 0x1000)
	if !ok {
		t.Fatal("expected the first Step to have published a TU at 0x1000")
	}
	if tu.UseCount != 1 {
		t.Fatalf("UseCount after first Step = %d, want 1 (Lookup above is the first real use, Insert doesn't count)", tu.UseCount)
	}

	e.State.PC = 0x1000
	if err := e.Step(); err != nil {
		t.Fatalf("second Step: %v", err)
	}
	tu2, _ := e.Cache().Lookup(mem, 0x1000)
	if tu2 != tu {
		t.Fatal("expected the second Step to reuse the cached TU, not compile a new one")
	}
}

func TestRaiseVectorPushesFrameAndLoadsNewPC(t *testing.T) {
	mem := guest.NewFlatMemory(0x4000)
	c, err := cache.New(cache.Options{Capacity: 1, MaxTuBytes: 64}, hostcache.New())
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	defer c.Close()

	state := &guest.State{PC: 0x1234, SR: 0, VBR: 0x2000}
	state.USP = 0x3000
	e := NewEngine(state, mem, c, 0, &fakeInvoker{})

	e.RaiseVector(guest.VecIllegal)

	if !state.Supervisor() {
		t.Fatal("expected supervisor mode to be entered")
	}
	wantSP := uint32(0x3000 - 6)
	if state.ActiveA7() != wantSP {
		t.Fatalf("ActiveA7() = %#x, want %#x (pushed PC+SR = 6 bytes)", state.ActiveA7(), wantSP)
	}
	if got := mem.Read32(wantSP + 2); got != 0x1234 {
		t.Fatalf("pushed PC = %#x, want 0x1234", got)
	}
	if got := mem.Read16(wantSP); got != 0 {
		t.Fatalf("pushed SR = %#x, want 0", got)
	}
}

func TestServiceInterruptVectorsAndClearsInt32(t *testing.T) {
	mem := guest.NewFlatMemory(0x4000)
	mem.Write32(0x2000+0x6C, 0xABCD0000) // vector for priority 3: 0x60+3*4=0x6C

	c, err := cache.New(cache.Options{Capacity: 1, MaxTuBytes: 64}, hostcache.New())
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	defer c.Close()

	state := &guest.State{PC: 0x1000, VBR: 0x2000, USP: 0x3000, Int32: 3}
	e := NewEngine(state, mem, c, 0, &fakeInvoker{})

	e.ServiceInterrupt()

	if state.Int32 != 0 {
		t.Fatalf("Int32 = %d, want 0 after servicing", state.Int32)
	}
	if state.PC != 0xABCD0000 {
		t.Fatalf("PC = %#x, want 0xABCD0000", state.PC)
	}
}

func TestServiceInterruptNoOpWhenNoneIsPending(t *testing.T) {
	mem := guest.NewFlatMemory(0x4000)
	c, err := cache.New(cache.Options{Capacity: 1, MaxTuBytes: 64}, hostcache.New())
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	defer c.Close()

	state := &guest.State{PC: 0x1000}
	e := NewEngine(state, mem, c, 0, &fakeInvoker{})
	e.ServiceInterrupt()

	if state.PC != 0x1000 {
		t.Fatalf("PC = %#x, want unchanged 0x1000", state.PC)
	}
}
