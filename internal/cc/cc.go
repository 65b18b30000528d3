// Package cc implements the two batching accumulators the translator uses
// to avoid redundant host loads/stores within a translation unit: the
// status-register load/dirty pair (cc_get/cc_modify/cc_flush) and the
// guest-PC relative-offset accumulator (pc_advance/pc_get_offset/
// pc_flush/pc_reset). Both generalize patterns the teacher's interpreter
// performs eagerly every instruction (cpu_m68k.go reads/writes cpu.SR and
// advances cpu.PC unconditionally on every fetch) into something a JIT can
// defer and coalesce across an entire block.
package cc

import (
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// pcOffsetBound is the signed range pc_advance keeps its accumulator
// inside before forcing a flush, per §4.3's "±~120" figure — chosen so the
// accumulated offset always fits an ARM immediate-offset load/store without
// a rotate search, leaving headroom below the encodable ±4095 byte range
// for the largest single-instruction PC advance (a full 68020 extension
// word sequence).
const pcOffsetBound = 120

// Manager owns both accumulators for one translation unit's emission pass.
type Manager struct {
	emitWord func(uint32)

	srHost  hostisa.Reg
	pcHost  hostisa.Reg
	scratch hostisa.Reg

	ccLoaded bool
	ccDirty  bool

	pcRel int32
}

// New constructs a Manager. srHost and pcHost are the fixed reserved host
// registers caching GuestState.SR and GuestState.PC respectively (§4.2);
// scratch is a temporary usable for the add/sub immediate materialization
// pc_flush sometimes needs.
func New(emitWord func(uint32), srHost, pcHost, scratch hostisa.Reg) *Manager {
	return &Manager{emitWord: emitWord, srHost: srHost, pcHost: pcHost, scratch: scratch}
}

// ccSRFieldOffset is GuestState.SR's byte offset, matching guest.State's
// field layout (D[8] + A[8] + USP/MSP/ISP + PC, all uint32, then SR
// uint16): (8+8+3+1)*4 = 80.
const ccSRFieldOffset = 80

// CcGet returns the host register holding the current SR value, loading it
// from guest state on first use within the block.
func (m *Manager) CcGet(stateBase hostisa.Reg) hostisa.Reg {
	if !m.ccLoaded {
		m.emitWord(hostisa.LdrhImm(hostisa.CondAL, m.srHost, stateBase, ccSRFieldOffset, true, false))
		m.ccLoaded = true
	}
	return m.srHost
}

// CcModify is CcGet plus marking the cached SR dirty, used whenever the
// emitted code is about to change flag bits in srHost directly rather than
// through a store.
func (m *Manager) CcModify(stateBase hostisa.Reg) hostisa.Reg {
	r := m.CcGet(stateBase)
	m.ccDirty = true
	return r
}

// CcFlush stores the cached SR back to guest state if it was both loaded
// and modified, then clears both flags.
func (m *Manager) CcFlush(stateBase hostisa.Reg) {
	if m.ccLoaded && m.ccDirty {
		m.emitWord(hostisa.StrhImm(hostisa.CondAL, m.srHost, stateBase, ccSRFieldOffset, true, false))
	}
	m.ccLoaded = false
	m.ccDirty = false
}

// CcStoreDirty stores the cached SR back to guest state if it is dirty but
// keeps it loaded, clearing only the dirty flag. Used at conditional block
// exits: the taken path leaves the translation unit and needs SR in memory,
// while the fall-through path keeps translating against the still-cached
// value. The emitted store is a plain STRH and leaves the host ALU flags
// alone, so a caller may sequence this between a flag-setting comparison
// and the conditional branch that consumes it.
func (m *Manager) CcStoreDirty(stateBase hostisa.Reg) {
	if m.ccLoaded && m.ccDirty {
		m.emitWord(hostisa.StrhImm(hostisa.CondAL, m.srHost, stateBase, ccSRFieldOffset, true, false))
		m.ccDirty = false
	}
}

// PcAdvance accumulates n (the just-decoded instruction's length in bytes)
// into the pending relative offset, flushing to an explicit add/sub against
// pcHost if the accumulator would leave the ±120 encodable window.
func (m *Manager) PcAdvance(n int32) {
	next := m.pcRel + n
	if next > pcOffsetBound || next < -pcOffsetBound {
		m.emitPcDelta()
		m.pcRel = n
		return
	}
	m.pcRel = next
}

// PcGetOffset returns the ARM load/store immediate offset equivalent to
// offset relative to the block's original guest-PC host register value —
// i.e. offset + the still-pending pcRel, so callers can fold an EA's own
// PC-relative displacement into the same instruction that would otherwise
// need a separate add.
func (m *Manager) PcGetOffset(offset int32) int32 {
	return m.pcRel + offset
}

// PcFlush emits the add/sub for any pending pcRel and resets it to zero.
func (m *Manager) PcFlush() {
	m.emitPcDelta()
	m.pcRel = 0
}

// PcReset discards the pending offset without emitting anything, used
// after control flow rewrites pcHost explicitly (a taken branch, an
// exception entry) so the stale accumulator isn't applied on top of the
// new PC.
func (m *Manager) PcReset() {
	m.pcRel = 0
}

func (m *Manager) emitPcDelta() {
	if m.pcRel == 0 {
		return
	}
	if m.pcRel > 0 {
		if imm8, rot, ok := hostisa.EncodeImmediate(uint32(m.pcRel)); ok {
			m.emitWord(hostisa.AddImm(hostisa.CondAL, false, m.pcHost, m.pcHost, imm8, rot))
			return
		}
		for _, w := range hostisa.MovImm32(hostisa.CondAL, m.scratch, uint32(m.pcRel)) {
			m.emitWord(w)
		}
		m.emitWord(hostisa.AddReg(hostisa.CondAL, false, m.pcHost, m.pcHost, m.scratch, hostisa.ShiftLSL, 0))
		return
	}
	neg := uint32(-m.pcRel)
	if imm8, rot, ok := hostisa.EncodeImmediate(neg); ok {
		m.emitWord(hostisa.SubImm(hostisa.CondAL, false, m.pcHost, m.pcHost, imm8, rot))
		return
	}
	for _, w := range hostisa.MovImm32(hostisa.CondAL, m.scratch, neg) {
		m.emitWord(w)
	}
	m.emitWord(hostisa.SubReg(hostisa.CondAL, false, m.pcHost, m.pcHost, m.scratch, hostisa.ShiftLSL, 0))
}
