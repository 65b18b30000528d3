package translator

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/cc"
	"github.com/m68kjit/m68kjit/internal/ea"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/opcodes"
)

// DefaultLookahead is the default depth (in guest instructions) the SR-
// liveness analysis scans forward before conservatively giving up (§4.7).
const DefaultLookahead = 200

// allLiveFlags is the full X/N/Z/V/C mask every liveness query starts
// pending against; the system SR bits are never written by the
// flag-synthesis helpers this analysis feeds and so are outside its
// domain. X is tracked separately from C because their producer/consumer
// sets differ: compares and logicals redefine C but pass X through, while
// ADDX/SUBX/NEGX/NBCD/ROXd consume X without reading C.
const allLiveFlags = guest.SRX | guest.SRN | guest.SRZ | guest.SRV | guest.SRC

// liveness answers "which SR bits does the instruction ending at this guest
// address need to leave live" by scanning forward from the next
// instruction. It holds only a read-only view of guest memory; every query
// is independent, matching §4.7's stateless-helper framing (no liveness
// state is carried between the translator loop's iterations).
type liveness struct {
	mem       guest.Memory
	lookahead int
}

// newLiveness constructs a liveness helper scanning up to lookahead guest
// instructions ahead (DefaultLookahead when lookahead <= 0).
func newLiveness(mem guest.Memory, lookahead int) *liveness {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &liveness{mem: mem, lookahead: lookahead}
}

// liveAfter returns the subset of X/N/Z/V/C some instruction starting at addr
// reads before any instruction unconditionally redefines it first,
// conservatively reporting a bit live when the scan cannot prove
// otherwise — an unresolved control transfer, or lookahead exhaustion.
func (lv *liveness) liveAfter(addr uint32) uint32 {
	var live uint32
	pending := uint32(allLiveFlags)
	pos := addr
	for i := 0; i < lv.lookahead && pending != 0; i++ {
		op := lv.mem.Read16(pos)
		live |= readsMask(op) & pending

		next, marker, ok := measureInstruction(lv.mem, pos)
		if !ok {
			live |= pending
			return live
		}
		pending &^= writesMask(op)

		if marker != opcodes.MarkerNone {
			// A branch (conditional or not), a trap, or any other block
			// terminator forks or ends control flow here; the scan cannot
			// follow either continuation, so whatever is still pending is
			// conservatively live.
			live |= pending
			return live
		}
		pos = next
	}
	// Either pending emptied out (every bit proved dead before a kill) or
	// the lookahead budget ran out with bits still pending — conservatively
	// live in the latter case.
	live |= pending
	return live
}

// measureInstruction runs the real opcode lowering against a throwaway sink
// to learn how many bytes the instruction at pos occupies and how it would
// end the block, without keeping anything a real translation unit would —
// the same decode-dispatch walk cpu_m68k.go performs one instruction at a
// time, run here in a read-only, discard-the-output mode instead of
// executing against live guest state.
func measureInstruction(mem guest.Memory, pos uint32) (next uint32, marker opcodes.Marker, ok bool) {
	discard := func(uint32) {}
	dec := &blockDecoder{mem: mem, pos: pos + 2}
	a := alloc.NewAllocator(pool, discard)
	fp := alloc.NewFPAllocator(fpPool, discard)
	ccMgr := cc.New(discard, SRReg, PCReg, ScratchReg)
	eaC := &ea.Compiler{Alloc: a, CC: ccMgr, StateBase: StateBaseReg, Scratch: ScratchReg, EmitWord: discard}
	ctx := &opcodes.Context{
		Opcode: mem.Read16(pos),
		Dec:    dec,
		PC:     pos + 2,

		Alloc: a,
		CC:    ccMgr,
		EA:    eaC,
		FP:    fp,

		EmitWord: discard,
	}
	m, err := opcodes.Lower(ctx)
	if err != nil {
		return 0, 0, false
	}
	return dec.pos, m, true
}

// readsMask reports the subset of X/N/Z/V/C the instruction at op consumes
// before it does anything else: the condition-testing instructions (Bcc,
// DBcc, Scc) read CCR bits, and the extend family (ADDX/SUBX/NEGX/NBCD,
// ROXL/ROXR) reads X — plus Z, which those instructions accumulate into
// rather than redefine.
func readsMask(op uint16) uint32 {
	line := (op >> 12) & 0xF
	switch line {
	case 0x4:
		if op&0xFF00 == 0x4000 || op&0xFFC0 == 0x4800 { // NEGX, NBCD
			return guest.SRX | guest.SRZ
		}
	case 0x5:
		if op&0xF8 == 0xC8 { // DBcc
			return condReadMask((op >> 8) & 0xF)
		}
		if op&0xC0 == 0xC0 { // Scc
			return condReadMask((op >> 8) & 0xF)
		}
	case 0x6: // Bcc/BRA/BSR
		return condReadMask((op >> 8) & 0xF)
	case 0x9, 0xD:
		if op&0x0130 == 0x0100 && (op>>6)&0x3 != 0x3 { // ADDX/SUBX
			return guest.SRX | guest.SRZ
		}
	case 0xE:
		if op&0x00C0 == 0x00C0 {
			if k := (op >> 8) & 0x7; k == 4 || k == 5 { // memory ROXd
				return guest.SRX
			}
		} else if (op>>3)&0x3 == 2 { // register ROXd
			return guest.SRX
		}
	}
	return 0
}

// condReadMask mirrors condition.go's evalCondition groupings: single-flag
// conditions read one bit, HI/LS read C and Z together, and the signed
// comparisons read N and V (GT/LE additionally read Z).
func condReadMask(cond uint16) uint32 {
	switch cond {
	case uint16(guest.CondT), uint16(guest.CondF):
		return 0
	case uint16(guest.CondHI), uint16(guest.CondLS):
		return guest.SRC | guest.SRZ
	case uint16(guest.CondCC), uint16(guest.CondCS):
		return guest.SRC
	case uint16(guest.CondNE), uint16(guest.CondEQ):
		return guest.SRZ
	case uint16(guest.CondVC), uint16(guest.CondVS):
		return guest.SRV
	case uint16(guest.CondPL), uint16(guest.CondMI):
		return guest.SRN
	case uint16(guest.CondGE), uint16(guest.CondLT):
		return guest.SRN | guest.SRV
	case uint16(guest.CondGT), uint16(guest.CondLE):
		return guest.SRN | guest.SRV | guest.SRZ
	}
	return 0
}

// writesMask reports the subset of X/N/Z/V/C the instruction at op
// unconditionally redefines, mirroring the exact gating each line file
// above uses to decide whether it lowers op or falls through to the
// illegal-opcode trap. It conservatively returns 0 (assume nothing is
// killed) for any form this table is not confident about — an
// under-approximation only delays when a bit is declared dead, never
// advances it incorrectly, which is always safe for this analysis. The
// extend family never appears with Z in its write set: those instructions
// only ever clear Z, so the accumulated value stays observable through
// them.
func writesMask(op uint16) uint32 {
	const nzvc = guest.SRN | guest.SRZ | guest.SRV | guest.SRC
	const all = nzvc | guest.SRX
	line := (op >> 12) & 0xF
	switch line {
	case 0x0:
		if op&0x0100 != 0 { // dynamic bit op (or MOVEP, which writes nothing)
			if (op>>3)&0x7 == 1 {
				return 0
			}
			return guest.SRZ
		}
		switch (op >> 9) & 0x7 {
		case 0, 1, 5: // ORI/ANDI/EORI (the to-CCR/SR forms rewrite
			// arbitrary CCR bits; claiming no kill keeps them safe)
			if (op>>3)&0x7 == 7 && op&0x7 == 4 {
				return 0
			}
			return nzvc
		case 2, 3: // SUBI/ADDI
			return all
		case 6: // CMPI
			return nzvc
		case 4: // static bit op
			return guest.SRZ
		}
	case 0x1, 0x2, 0x3: // MOVE/MOVEA
		if (op>>6)&0x7 == 1 {
			return 0 // MOVEA: no flags
		}
		return nzvc
	case 0x4:
		switch {
		case op&0xFF00 == 0x4200 || op&0xFF00 == 0x4600: // CLR/NOT
			return nzvc
		case op&0xFF00 == 0x4400 && op&0xFFC0 != 0x44C0: // NEG (not MOVE to CCR)
			return all
		case op&0xFF00 == 0x4000 && op&0xFFC0 != 0x40C0: // NEGX (not MOVE from SR)
			return all &^ guest.SRZ
		case op == 0x4AFC: // ILLEGAL
			return 0
		case op&0xFF00 == 0x4A00: // TST/TAS
			return nzvc
		case op&0xFFC0 == 0x4800: // NBCD: Z only cleared, N/V undefined
			return guest.SRX | guest.SRC
		}
	case 0x5:
		if op&0xF8 == 0xC8 || op&0xC0 == 0xC0 { // DBcc/Scc: no flags written
			return 0
		}
		if (op>>3)&0x7 == 1 { // ADDQ/SUBQ to An: no flags
			return 0
		}
		return all
	case 0x6:
		return 0 // Bcc/BRA/BSR
	case 0x7:
		return nzvc // MOVEQ
	case 0x8:
		if op&0xF0C0 == 0x80C0 { // DIVU/DIVS.W: X untouched
			return nzvc
		}
		if op&0xF1F0 == 0x8100 || op&0xF1F0 == 0x8140 || op&0xF1F0 == 0x8180 {
			return 0 // SBCD/PACK/UNPK: not lowered
		}
		return nzvc // OR
	case 0x9, 0xD:
		if (op>>6)&0x7 == 3 || (op>>6)&0x7 == 7 { // ADDA/SUBA: no flags
			return 0
		}
		if op&0x0130 == 0x0100 { // ADDX/SUBX: Z only cleared
			return all &^ guest.SRZ
		}
		return all // SUB/ADD
	case 0xB:
		return nzvc // CMP/CMPA/CMPM/EOR all define N/Z/V/C, never X
	case 0xC:
		if op&0xF0C0 == 0xC0C0 { // MULU/MULS.W: X untouched
			return nzvc
		}
		if op&0xF1F0 == 0xC100 || op&0xF130 == 0xC100 {
			return 0 // ABCD (not lowered), EXG (no flags)
		}
		return nzvc // AND
	case 0xE:
		if op&0x00C0 == 0x00C0 {
			if (op>>11)&1 != 0 {
				return 0 // bit-field forms: not lowered
			}
			if k := (op >> 8) & 0x7; k == 4 || k == 5 { // memory ROXd
				return guest.SRN | guest.SRZ | guest.SRC | guest.SRX
			}
			return guest.SRN | guest.SRZ | guest.SRC // memory shift/rotate
		}
		if (op>>3)&0x3 == 2 { // register ROXd
			return guest.SRN | guest.SRZ | guest.SRC | guest.SRX
		}
		// ASd/LSd write X with C; ROd leaves X alone. A zero register
		// count strictly leaves C cleared and X untouched either way, so
		// claiming X written for ASd/LSd is exact for the immediate forms
		// and the accepted simplification for the register forms.
		if (op>>3)&0x3 == 0 || (op>>3)&0x3 == 1 {
			return guest.SRN | guest.SRZ | guest.SRC | guest.SRX
		}
		return guest.SRN | guest.SRZ | guest.SRC
	}
	return 0
}
