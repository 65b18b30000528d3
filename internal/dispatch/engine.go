// Package dispatch owns the cache, the guest register file, and the
// get-or-compile/invoke/advance loop that drives them (§4.8, §5):
// `M68KRunner` (cpu_m68k_runner.go)'s owns-a-CPU-and-exposes-Step/Run shape,
// generalized from "own one interpreter" to "own one cache plus one guest
// state" — design note 9.3's replacement for the teacher's mutable globals
// (`LRU`, `ICache`, `m68k_state`).
package dispatch

import (
	"errors"
	"fmt"

	"github.com/m68kjit/m68kjit/internal/cache"
	"github.com/m68kjit/m68kjit/internal/fpu"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/translator"
)

// ErrIcacheSyncFailed would wrap a failure from hostcache.HostCache's
// SyncICache call; per §7 ("impossible by contract of the host helper")
// this is a fatal panic, not a recoverable error — declared here only so
// the rest of the module's sentinel-error style (errors.New + errors.Is)
// stays consistent, and so a caller wrapping dispatch.Run can pattern-match
// a recovered panic's value against it.
var ErrIcacheSyncFailed = errors.New("dispatch: instruction cache synchronization failed")

// haltPC is the sentinel guest PC value that ends Run's loop — "pc == null"
// in the spec's pseudocode dispatcher loop. A guest program signals
// completion by branching to address 0, matching the seed scenarios'
// convention of treating vector 0 (the reset SP, never a valid code
// address) as "there is no more guest code to run."
const haltPC = 0

// Engine owns everything a running guest program needs: its architectural
// register file, its backing memory, the translation cache, and the
// platform-specific mechanism for branching into a cached TU. Exactly one
// of {the dispatcher, a running TU, the translator} ever holds State
// mutably at a time (§5's shared-resource rule); Engine's single-threaded
// Step/Run methods are what enforce that in this Go port.
type Engine struct {
	State *guest.State
	Mem   guest.Memory

	cache  *cache.Cache
	invoke Invoker

	maxInsnsPerBlock int
}

// NewEngine constructs an Engine over an existing guest state, memory, and
// cache. maxInsnsPerBlock bounds each translation (0 uses
// translator.MaxInsns); inv is nil-safe and defaults to NewInvoker().
func NewEngine(state *guest.State, mem guest.Memory, c *cache.Cache, maxInsnsPerBlock int, inv Invoker) *Engine {
	if inv == nil {
		inv = NewInvoker()
	}
	return &Engine{
		State:            state,
		Mem:              mem,
		cache:            c,
		invoke:           inv,
		maxInsnsPerBlock: maxInsnsPerBlock,
	}
}

// Cache exposes the engine's translation cache, mainly so a caller can
// drive invalidation directly (a guest CINV/CPUSH reaches it through the
// service mailbox instead).
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Step executes exactly one translation unit starting at the current guest
// PC: `unit = cache.get_or_compile(pc); unit.use_count += 1;
// (unit.entry_ptr)(&mut guest_state); pc = guest_state.pc` (§4.8). A cache
// miss compiles a fresh TU and publishes it before invoking it, so every
// future Step for the same entry address is a cache hit.
func (e *Engine) Step() error {
	tu, ok := e.cache.Lookup(e.Mem, e.State.PC)
	if !ok {
		raw, err := translator.Translate(e.Mem, e.State.PC, e.maxInsnsPerBlock)
		if err != nil {
			return fmt.Errorf("dispatch: translating block at %#x: %w", e.State.PC, err)
		}
		tu, err = e.cache.Insert(raw)
		if err != nil {
			return fmt.Errorf("dispatch: caching block at %#x: %w", e.State.PC, err)
		}
	}
	e.invoke.Invoke(tu.EntryPtr(), e.State)
	if err := e.ServiceMailbox(); err != nil {
		return err
	}
	e.ServiceInterrupt()
	return nil
}

// ServiceMailbox drains the requests a translation unit parked in the
// guest state on its way out: a pending FPU operation (the math-library
// work emitted code cannot perform itself) and a pending CINV/CPUSH. Both
// run here, between units, on a fully flushed architectural state — the
// same boundary the soft-flush revalidation already relies on (§5).
func (e *Engine) ServiceMailbox() error {
	if cmd := e.State.FpuOp; cmd != 0 {
		e.State.FpuOp = 0
		if err := fpu.Service(e.State, e.Mem, cmd); err != nil {
			return fmt.Errorf("dispatch: servicing FPU request %#x: %w", cmd, err)
		}
	}
	if req := e.State.CacheOp; req != 0 {
		e.State.CacheOp = 0
		e.serviceCacheOp(req, e.State.CacheAddr)
	}
	return nil
}

// serviceCacheOp applies a guest CINV/CPUSH. The instruction-cache select
// invalidates the matching slice of the translation cache (§4.8's line/
// page/all scopes — "all" deferring to the cache's own soft-flush
// policy); the data-cache select forwards to the host cache-maintenance
// boundary, since guest data lives in host data caches.
func (e *Engine) serviceCacheOp(req, addr uint32) {
	if req&guest.CacheOpInsn != 0 {
		switch req & guest.CacheOpScopeMask {
		case guest.CacheOpScopeLine:
			e.cache.InvalidateLine(addr&^0xF, 16)
		case guest.CacheOpScopePage:
			e.cache.InvalidatePage(addr &^ 0xFFF)
		case guest.CacheOpScopeAll:
			e.cache.InvalidateAll()
		}
	}
	if req&guest.CacheOpData != 0 {
		// Push (clean) and invalidate collapse to one whole-cache clean
		// at this boundary; the host interface deliberately has no ranged
		// data-only operation (§6's clear_entire_dcache contract).
		e.cache.HostCache().CleanDCacheAll()
	}
}

// Run steps repeatedly until the guest PC reaches haltPC, the dispatcher's
// "pc == null" exit condition.
func (e *Engine) Run() error {
	for e.State.PC != haltPC {
		if err := e.Step(); err != nil {
			return err
		}
	}
	return nil
}
