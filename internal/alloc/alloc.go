// Package alloc implements the register allocator that maps the guest
// register file (internal/guest.State) onto the handful of host ARM
// registers available to translated code. It tracks which host register
// currently holds which guest value, whether that value has been written
// since it was loaded (dirty), and evicts the least-recently-used
// unlocked mapping via internal/lru when a fresh guest register needs a
// home.
package alloc

import (
	"fmt"

	"github.com/m68kjit/m68kjit/internal/hostisa"
	"github.com/m68kjit/m68kjit/internal/lru"
)

// GuestReg identifies a slot in the guest register file this allocator can
// map: D0-D7 as 0-7, A0-A7 as 8-15.
type GuestReg int

const (
	firstDataReg GuestReg = 0
	firstAddrReg GuestReg = 8
	numGuestRegs          = 16
)

// D returns the GuestReg for data register n.
func D(n int) GuestReg { return GuestReg(firstDataReg) + GuestReg(n) }

// A returns the GuestReg for address register n.
func A(n int) GuestReg { return GuestReg(firstAddrReg) + GuestReg(n) }

// HostReg describes one host register slot the allocator manages: which
// guest register (if any) it currently holds, whether it's dirty, and
// whether the caller has locked it against eviction for the duration of
// emitting the current guest instruction (e.g. because it also holds an
// address base that a later operand of the same instruction still needs).
type HostReg struct {
	Reg    hostisa.Reg
	Bound  bool // holds a guest register's value
	Guest  GuestReg
	Dirty  bool
	Locked bool
}

// Allocator tracks the mapping of the fixed general-purpose host register
// pool onto guest registers for the lifetime of one translation unit.
// Register r7 (guest-state base pointer), r9 (guest PC cache) and r10
// (cached SR) are reserved outside this pool per §4.2 and never appear in
// pool.
type Allocator struct {
	pool     []HostReg
	byGuest  map[GuestReg]int // guest reg -> index into pool, only for bound entries
	lru      *lru.Tracker
	changed  uint32 // bitmask of pool indices written since FlushAll, for the Changed-Regs sidecar
	emitWord func(uint32)
}

// NewAllocator builds an allocator over the given pool of free general
// -purpose host registers (the caller excludes the reserved registers
// before constructing this). emitWord appends one encoded host
// instruction word to the in-progress translation unit; the allocator
// calls it directly when a spill or reload needs to emit a load/store.
func NewAllocator(pool []hostisa.Reg, emitWord func(uint32)) *Allocator {
	a := &Allocator{
		pool:     make([]HostReg, len(pool)),
		byGuest:  make(map[GuestReg]int, len(pool)),
		lru:      lru.New(len(pool)),
		emitWord: emitWord,
	}
	for i, r := range pool {
		a.pool[i] = HostReg{Reg: r}
	}
	return a
}

// stateBase is the host register holding the base address of the guest
// State struct, fixed by convention so every load/store the allocator
// emits for spill/reload can address a field via a constant offset.
var stateBase = hostisa.Reg(7)

// fieldOffset returns the byte offset of a guest register within
// guest.State, matching the D[8]/A[8] array layout declared there.
func fieldOffset(g GuestReg) int32 {
	if g < firstAddrReg {
		return int32(g) * 4 // State.D[n]
	}
	return 32 + int32(g-firstAddrReg)*4 // State.A[n], after the 8-word D array
}

// MapRead ensures guest register g's current value is resident in a host
// register and returns it, loading from guest state if it wasn't already
// mapped. It does not mark the result dirty.
func (a *Allocator) MapRead(g GuestReg) hostisa.Reg {
	if i, ok := a.byGuest[g]; ok {
		a.lru.Touch(i)
		return a.pool[i].Reg
	}
	i := a.pickVictim()
	a.spillIfDirty(i)
	a.pool[i].Bound = true
	a.pool[i].Guest = g
	a.pool[i].Dirty = false
	a.byGuest[g] = i
	a.lru.Touch(i)
	a.emitWord(hostisa.LdrImm(hostisa.CondAL, a.pool[i].Reg, stateBase, fieldOffset(g), true, false))
	return a.pool[i].Reg
}

// MapWrite ensures guest register g has a host register allocated for it
// without loading the old value (the caller is about to overwrite it
// completely), marking it dirty.
func (a *Allocator) MapWrite(g GuestReg) hostisa.Reg {
	if i, ok := a.byGuest[g]; ok {
		a.lru.Touch(i)
		a.pool[i].Dirty = true
		a.changed |= 1 << uint(i)
		return a.pool[i].Reg
	}
	i := a.pickVictim()
	a.spillIfDirty(i)
	a.pool[i].Bound = true
	a.pool[i].Guest = g
	a.pool[i].Dirty = true
	a.byGuest[g] = i
	a.lru.Touch(i)
	a.changed |= 1 << uint(i)
	return a.pool[i].Reg
}

// CopyFrom gives dst its own host register holding a copy of src's value:
// src is mapped for reading (loaded if not yet resident), dst is mapped
// for writing, and one MOV copies the value across. The two guest
// registers end up in separate host registers, not aliased.
func (a *Allocator) CopyFrom(dst, src GuestReg) hostisa.Reg {
	srcHost := a.MapRead(src)
	dstHost := a.MapWrite(dst)
	a.emitWord(hostisa.MovRegS(hostisa.CondAL, dstHost, srcHost))
	return dstHost
}

// Assign binds guest register g to host register already holding the
// value the caller just computed into it via AllocTemp, without an extra
// load.
func (a *Allocator) Assign(g GuestReg, host hostisa.Reg) {
	for i := range a.pool {
		if a.pool[i].Reg == host {
			a.pool[i].Bound = true
			a.pool[i].Guest = g
			a.pool[i].Dirty = true
			a.byGuest[g] = i
			a.lru.Touch(i)
			a.changed |= 1 << uint(i)
			return
		}
	}
	panic(fmt.Sprintf("alloc: Assign to host register %d not in pool", host))
}

// SetDirty marks the host register currently holding g as needing a
// store-back before it can be evicted or before the block ends.
func (a *Allocator) SetDirty(g GuestReg) {
	if i, ok := a.byGuest[g]; ok {
		a.pool[i].Dirty = true
		a.changed |= 1 << uint(i)
	}
}

// Discard drops g's binding without storing it back, used when the
// translator proves the value is dead (internal/translator's liveness
// pass) and a store would be wasted work.
func (a *Allocator) Discard(g GuestReg) {
	if i, ok := a.byGuest[g]; ok {
		a.pool[i].Bound = false
		a.pool[i].Dirty = false
		delete(a.byGuest, g)
	}
}

// Lock pins the host register holding g against eviction until Unlock,
// used while emitting a single guest instruction that reads the same
// guest register as both an address base and a data operand.
func (a *Allocator) Lock(g GuestReg) {
	if i, ok := a.byGuest[g]; ok {
		a.pool[i].Locked = true
	}
}

// Unlock releases a Lock.
func (a *Allocator) Unlock(g GuestReg) {
	if i, ok := a.byGuest[g]; ok {
		a.pool[i].Locked = false
	}
}

// LockHost pins the pool entry for host (bound or scratch) against
// eviction until UnlockHost — the protection a long emission sequence
// needs for a value that stays live across further allocations, since
// AllocTemp's LRU victim choice knows nothing about which scratch
// registers the emitted code still reads.
func (a *Allocator) LockHost(host hostisa.Reg) {
	for i := range a.pool {
		if a.pool[i].Reg == host {
			a.pool[i].Locked = true
			return
		}
	}
}

// UnlockHost releases a LockHost pin.
func (a *Allocator) UnlockHost(host hostisa.Reg) {
	for i := range a.pool {
		if a.pool[i].Reg == host {
			a.pool[i].Locked = false
			return
		}
	}
}

// AllocTemp reserves a host register for a scratch value with no guest
// -register binding (e.g. an address computed for one EA access), evicting
// an LRU victim exactly as MapWrite would.
func (a *Allocator) AllocTemp() hostisa.Reg {
	i := a.pickVictim()
	a.spillIfDirty(i)
	a.pool[i].Bound = false
	a.pool[i].Dirty = false
	a.lru.Touch(i)
	return a.pool[i].Reg
}

// Free accepts a host register obtained via AllocTemp and leaves the
// allocator's state unchanged: the register is not moved in the LRU order,
// so it becomes reusable only when LRU pressure picks it as a victim.
func (a *Allocator) Free(host hostisa.Reg) {
	for i := range a.pool {
		if a.pool[i].Reg == host && !a.pool[i].Bound {
			return
		}
	}
}

// FlushAll stores every dirty host register back to guest state and clears
// all bindings — called at every block exit so the architectural state in
// memory is complete and correct before control leaves the translation
// unit.
func (a *Allocator) FlushAll() {
	for i := range a.pool {
		a.storeBack(i)
		a.pool[i].Bound = false
		a.pool[i].Dirty = false
		a.pool[i].Locked = false
	}
	a.byGuest = make(map[GuestReg]int, len(a.pool))
	a.changed = 0
}

// StoreDirty stores back only the host registers that are both bound and
// dirty, leaving bindings intact — used mid-block before a call to guest
// -visible side-effecting code (e.g. a trap handler) that must observe a
// consistent guest.State without discarding the allocator's cache.
func (a *Allocator) StoreDirty() {
	for i := range a.pool {
		if a.pool[i].Bound && a.pool[i].Dirty {
			a.storeBack(i)
			a.pool[i].Dirty = false
		}
	}
}

// Changed returns the bitmask of host-pool indices written since the last
// FlushAll, consumed by the translator's changed-register sidecar metadata
// for partial re-entry (§4.6).
func (a *Allocator) Changed() uint32 { return a.changed }

func (a *Allocator) storeBack(i int) {
	if a.pool[i].Bound && a.pool[i].Dirty {
		a.emitWord(hostisa.StrImm(hostisa.CondAL, a.pool[i].Reg, stateBase, fieldOffset(a.pool[i].Guest), true, false))
	}
}

func (a *Allocator) spillIfDirty(i int) {
	a.storeBack(i)
	if a.pool[i].Bound {
		delete(a.byGuest, a.pool[i].Guest)
	}
}

// pickVictim returns the pool index to reuse: the least-recently-used
// unlocked entry. When the LRU's reported victim is locked, the pool is
// scanned from index 0 and the first unlocked entry is returned, whatever
// its recency — with a small fixed-size pool this is never more than a few
// probes.
func (a *Allocator) pickVictim() int {
	v := a.lru.Victim()
	if !a.pool[v].Locked {
		return v
	}
	for i := range a.pool {
		if !a.pool[i].Locked {
			return i
		}
	}
	panic("alloc: every host register locked, cannot find spill victim")
}
