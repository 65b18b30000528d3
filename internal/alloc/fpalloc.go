package alloc

import (
	"github.com/m68kjit/m68kjit/internal/hostisa"
	"github.com/m68kjit/m68kjit/internal/lru"
)

// fpFieldOffset is GuestState.FP[n].V's byte offset, matching the same
// by-hand layout derivation internal/opcodes/linef.go's fpRegFieldBase
// already relies on: 96 + n*8.
const fpFieldBase = 96

func fpFieldOffset(n int) int32 { return int32(fpFieldBase + n*8) }

// FPHostReg is one host register pair this allocator manages: the low and
// high 32 bits of whatever guest FP[n]'s float64 bit pattern currently
// lives there. There is no VFP/NEON unit anywhere in this package's trusted
// host encoding set (internal/hostisa only ever encodes ARM integer data
// -processing and load/store forms, the same restriction divmul.go's
// comments note for UDIV), so an "FPU register" here is a software
// convention over two ordinary general-purpose registers, split exactly the
// way lowerFMOVECR already splits one float64 by hand — not a distinct
// piece of hardware to allocate over.
type FPHostReg struct {
	Lo, Hi hostisa.Reg
	Bound  bool
	Guest  int // FP0-FP7
	Dirty  bool
	Locked bool
}

// FPAllocator tracks the mapping of a small fixed pool of host register
// pairs onto guest FP0-FP7 for the lifetime of one translation unit,
// mirroring Allocator's MapRead/MapWrite/dirty-tracking/LRU-eviction shape
// one level up: a "guest register" is two host registers wide here instead
// of one, and spill/reload moves eight bytes in two words instead of four
// in one.
//
// Its pool is disjoint from Allocator's own pool (internal/translator.go
// carves both out of the same reserved-register-free host file up front),
// so the two allocators never fight over the same physical register.
type FPAllocator struct {
	pool     []FPHostReg
	byGuest  map[int]int
	lru      *lru.Tracker
	emitWord func(uint32)
}

// NewFPAllocator builds an FP allocator over the given pairs of free host
// registers. Each pair is consumed whole — one allocator slot, not two —
// exactly as internal/translator.go's fpPool enumerates them.
func NewFPAllocator(pairs [][2]hostisa.Reg, emitWord func(uint32)) *FPAllocator {
	a := &FPAllocator{
		pool:     make([]FPHostReg, len(pairs)),
		byGuest:  make(map[int]int, len(pairs)),
		lru:      lru.New(len(pairs)),
		emitWord: emitWord,
	}
	for i, p := range pairs {
		a.pool[i] = FPHostReg{Lo: p[0], Hi: p[1]}
	}
	return a
}

// MapRead ensures guest FP register n's bit pattern is resident in a host
// pair and returns it, loading both words from guest state if it wasn't
// already mapped. It does not mark the result dirty.
func (a *FPAllocator) MapRead(n int) FPHostReg {
	if i, ok := a.byGuest[n]; ok {
		a.lru.Touch(i)
		return a.pool[i]
	}
	i := a.pickVictim()
	a.spillIfDirty(i)
	a.pool[i].Bound = true
	a.pool[i].Guest = n
	a.pool[i].Dirty = false
	a.byGuest[n] = i
	a.lru.Touch(i)
	off := fpFieldOffset(n)
	a.emitWord(hostisa.LdrImm(hostisa.CondAL, a.pool[i].Lo, stateBase, off, true, false))
	a.emitWord(hostisa.LdrImm(hostisa.CondAL, a.pool[i].Hi, stateBase, off+4, true, false))
	return a.pool[i]
}

// MapWrite ensures guest FP register n has a host pair allocated for it
// without loading the old bit pattern, marking it dirty.
func (a *FPAllocator) MapWrite(n int) FPHostReg {
	if i, ok := a.byGuest[n]; ok {
		a.lru.Touch(i)
		a.pool[i].Dirty = true
		return a.pool[i]
	}
	i := a.pickVictim()
	a.spillIfDirty(i)
	a.pool[i].Bound = true
	a.pool[i].Guest = n
	a.pool[i].Dirty = true
	a.byGuest[n] = i
	a.lru.Touch(i)
	return a.pool[i]
}

// SetDirty marks the host pair currently holding guest FP register n as
// needing a store-back before it can be evicted or before the block ends.
func (a *FPAllocator) SetDirty(n int) {
	if i, ok := a.byGuest[n]; ok {
		a.pool[i].Dirty = true
	}
}

// Discard drops n's binding without storing it back.
func (a *FPAllocator) Discard(n int) {
	if i, ok := a.byGuest[n]; ok {
		a.pool[i].Bound = false
		a.pool[i].Dirty = false
		delete(a.byGuest, n)
	}
}

// Lock pins the host pair holding guest FP register n against eviction
// until Unlock, the FP-side analogue of Allocator.Lock for an instruction
// that reads the same FP register twice (e.g. FCMP FPn,FPn's degenerate
// form, or an FMOVE whose source and destination happen to collide).
func (a *FPAllocator) Lock(n int) {
	if i, ok := a.byGuest[n]; ok {
		a.pool[i].Locked = true
	}
}

// Unlock releases a Lock.
func (a *FPAllocator) Unlock(n int) {
	if i, ok := a.byGuest[n]; ok {
		a.pool[i].Locked = false
	}
}

// FlushAll stores every dirty host pair back to guest state and clears all
// bindings, called at block exit alongside Allocator.FlushAll so
// GuestState.FP is complete and correct before control leaves the
// translation unit.
func (a *FPAllocator) FlushAll() {
	for i := range a.pool {
		a.storeBack(i)
		a.pool[i].Bound = false
		a.pool[i].Dirty = false
		a.pool[i].Locked = false
	}
	a.byGuest = make(map[int]int, len(a.pool))
}

// StoreDirty stores back only the host pairs that are both bound and
// dirty, leaving bindings intact.
func (a *FPAllocator) StoreDirty() {
	for i := range a.pool {
		if a.pool[i].Bound && a.pool[i].Dirty {
			a.storeBack(i)
			a.pool[i].Dirty = false
		}
	}
}

func (a *FPAllocator) storeBack(i int) {
	if a.pool[i].Bound && a.pool[i].Dirty {
		off := fpFieldOffset(a.pool[i].Guest)
		a.emitWord(hostisa.StrImm(hostisa.CondAL, a.pool[i].Lo, stateBase, off, true, false))
		a.emitWord(hostisa.StrImm(hostisa.CondAL, a.pool[i].Hi, stateBase, off+4, true, false))
	}
}

func (a *FPAllocator) spillIfDirty(i int) {
	a.storeBack(i)
	if a.pool[i].Bound {
		delete(a.byGuest, a.pool[i].Guest)
	}
}

// pickVictim returns the pool index to reuse: the least-recently-used
// unlocked entry, identical in shape to Allocator.pickVictim.
func (a *FPAllocator) pickVictim() int {
	v := a.lru.Victim()
	if !a.pool[v].Locked {
		return v
	}
	for i := range a.pool {
		if !a.pool[i].Locked {
			return i
		}
	}
	panic("alloc: every FP host register pair locked, cannot find spill victim")
}
