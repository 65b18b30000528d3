// Package opcodes lowers one decoded m68k instruction word (plus whatever
// extension words it consumes) into ARM host code. The dispatch shape is
// lifted directly from cpu_m68k.go's decodeGroup0..decodeGroupF: the top
// nibble of the opcode word selects a line, and each line function further
// switches on the bits the interpreter's Exec* methods already decode.
// Where the interpreter executes a guest effect immediately, lowering
// instead calls into internal/ea and internal/alloc to emit ARM
// instructions that reproduce the same effect when the translation unit
// runs.
//
// Per the explicit non-goal of an interpreter fallback, any opcode pattern
// this package does not recognize — whether genuinely illegal on real
// silicon or simply outside what has been lowered here — ends the block
// with a guard `udf` trap (§ Non-goals: "an unknown opcode emits a trap
// instruction that terminates the TU").
package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/cc"
	"github.com/m68kjit/m68kjit/internal/ea"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// Marker classifies how a lowered instruction affects block continuation,
// design note 2's replacement for the interpreter's always-linear PC
// advance.
type Marker int

const (
	// MarkerNone: straight-line instruction, translation continues.
	MarkerNone Marker = iota
	// MarkerEnd: unconditional control transfer or trap; the block ends
	// here and no further guest instructions from this address are
	// translated into this TU.
	MarkerEnd
	// MarkerCondExit: a conditional branch/DBcc whose not-taken path
	// continues in this TU and whose taken path exits to a new lookup.
	MarkerCondExit
	// MarkerKeepLink: the lowering emitted a call out to a host helper,
	// so the translation unit's prologue must preserve the link register;
	// the block continues being compiled past it like MarkerNone.
	MarkerKeepLink
	// MarkerEndNextPC: the block ends here but execution resumes at the
	// next sequential guest instruction (STOP, a pending FPU service
	// request, a cache-maintenance request) — the translator accounts
	// this instruction's length into the batched PC offset before closing
	// the block, unlike MarkerEnd, whose lowerings have rewritten the PC
	// register themselves.
	MarkerEndNextPC
)

// Context bundles everything one instruction's lowering function needs:
// the decoded opcode word, a Decoder over the bytes following it, and the
// compile-time services (register allocation, CC/PC batching, EA
// compilation, code emission).
type Context struct {
	Opcode uint16
	Dec    ea.Decoder
	PC     uint32 // guest address of the word immediately after Opcode

	Alloc *alloc.Allocator
	CC    *cc.Manager
	EA    *ea.Compiler
	FP    *alloc.FPAllocator

	EmitWord func(uint32)

	// CondExit, when non-nil, emits a host conditional branch out to the
	// translation unit's join epilogue and records its location for the
	// translator's fixup pass (§4.5.2): the branch offset is only known
	// once the epilogue has been emitted, so the lowering leaves a
	// placeholder and the translator patches it. Nil in contexts built
	// without a translator (unit tests exercising a single lowering),
	// where there is no epilogue to branch to.
	CondExit func(cond hostisa.Cond)

	// LiveMask is the subset of allFlags (internal/translator/liveness.go's
	// lookahead result) still read before the next write; flag-synthesis
	// helpers below skip emitting updates for bits outside it. HasLiveMask
	// distinguishes an explicit (possibly empty) mask from a Context that
	// never set one, which is treated as all-live — the conservative
	// default every hand-built Context (including every existing test)
	// relies on.
	LiveMask    uint32
	HasLiveMask bool
}

// allFlags is the full X/N/Z/V/C subset of the SR the flag-synthesis
// helpers write; the system bits are never touched by arithmetic/logical
// lowering and so are outside the liveness mask's domain. X rides along
// with C for the add/subtract/negate/shift families and is stripped
// per-helper by the families that define C but leave X alone (compares,
// moves, logicals, multiplies, divides).
const allFlags = guest.SRX | guest.SRN | guest.SRZ | guest.SRV | guest.SRC

// liveMask resolves c's effective live-flag mask, defaulting to allFlags
// when the caller never ran liveness analysis.
func liveMask(c *Context) uint32 {
	if !c.HasLiveMask {
		return allFlags
	}
	return c.LiveMask & allFlags
}

// LowerFunc lowers one instruction, returning how the block should
// continue.
type LowerFunc func(c *Context) (Marker, error)

// Table is the [16]LowerFunc dispatch indexed by the opcode's top nibble,
// the direct generalization of decodeGroup0..decodeGroupF.
var Table [16]LowerFunc

func init() {
	Table[0x0] = lowerLine0
	Table[0x1] = lowerMove
	Table[0x2] = lowerMove
	Table[0x3] = lowerMove
	Table[0x4] = lowerLine4
	Table[0x5] = lowerLine5
	Table[0x6] = lowerLine6
	Table[0x7] = lowerMoveq
	Table[0x8] = lowerLine8
	Table[0x9] = lowerLineAddSub(false)
	Table[0xA] = lowerLineA
	Table[0xB] = lowerLineB
	Table[0xC] = lowerLineC
	Table[0xD] = lowerLineAddSub(true)
	Table[0xE] = lowerLineE
	Table[0xF] = lowerLineF
}

// Lower dispatches c.Opcode to the line table.
func Lower(c *Context) (Marker, error) {
	line := (c.Opcode >> 12) & 0xF
	fn := Table[line]
	if fn == nil {
		return emitIllegal(c)
	}
	return fn(c)
}

// decodeMoveSize maps a MOVE instruction's two-bit size field (distinct
// from the usual 00/01/10 = byte/word/long ordering the rest of the ISA
// uses) to a guest.Size* constant.
func decodeMoveSize(bits uint16) (int, bool) {
	switch bits {
	case 1:
		return guest.SizeByte, true
	case 3:
		return guest.SizeWord, true
	case 2:
		return guest.SizeLong, true
	}
	return 0, false
}

// emitIllegal ends the block with a host UDF tagged with the illegal-
// instruction vector offset (§7): internal/dispatch decodes that same
// immediate back out of the trapped instruction word to know which
// exception vector to service, so the tag here must be the vector itself,
// not diagnostic payload like the raw guest opcode.
func emitIllegal(c *Context) (Marker, error) {
	c.EmitWord(hostisa.Udf(guest.VecIllegal))
	return MarkerEnd, nil
}

// loadOperandRMW materializes an operand that is about to be modified in
// place and then written back through emitStore. A memory operand behaves
// like loadOperand; a register-direct operand is copied into a fresh temp
// for byte/word sizes so the mapped register keeps the unmodified upper
// bits emitStore's merge needs — mutating the mapped register itself would
// feed the merge its own modified value — and is the mapped register
// itself for long, where the whole value is replaced anyway (emitStore's
// same-register long case then degenerates to nothing).
func loadOperandRMW(c *Context, res ea.Result, size int) hostisa.Reg {
	if res.Kind == ea.KindImmediate {
		// Only reachable from encodings no assembler emits (an immediate
		// destination); the value loads, the store below discards it.
		dst := c.Alloc.AllocTemp()
		emitMaterialize(c, dst, res.Imm)
		return dst
	}
	if res.Kind == ea.KindRegister {
		host := c.Alloc.MapRead(res.Guest)
		if size == guest.SizeLong {
			return host
		}
		tmp := c.Alloc.AllocTemp()
		c.EmitWord(hostisa.MovRegS(hostisa.CondAL, tmp, host))
		return tmp
	}
	dst := c.Alloc.AllocTemp()
	emitLoad(c, dst, res)
	return dst
}

// emitCondExit closes a conditional block exit: every dirty guest register
// and the SR are stored back (the taken path jumps straight to the join
// epilogue, skipping the block's final flush), then the conditional branch
// to the epilogue is emitted through c.CondExit. All the stores are plain
// STR/STRH and preserve the host ALU flags, so the condition computed by
// the caller's evalCondition is still intact when the branch tests it.
func emitCondExit(c *Context, cond hostisa.Cond) {
	c.Alloc.StoreDirty()
	if c.FP != nil {
		c.FP.StoreDirty()
	}
	c.CC.CcStoreDirty(c.EA.StateBase)
	if c.CondExit != nil {
		c.CondExit(cond)
	}
}

// emitPrivilegeCheck guards a privileged instruction (§7): when the guest
// is in user mode (SR.S clear) the conditionally-executed UDF fires and
// the dispatcher services the privilege-violation vector; in supervisor
// mode it is skipped like any other failed-condition ARM instruction.
func emitPrivilegeCheck(c *Context) {
	sr := c.CC.CcGet(c.EA.StateBase)
	imm8, rot, _ := hostisa.EncodeImmediate(guest.SRS)
	c.EmitWord(hostisa.TstImm(hostisa.CondAL, sr, imm8, rot))
	c.EmitWord(hostisa.UdfCond(hostisa.CondEQ, guest.VecPrivilegeViolation))
}

// loadOperand materializes res (a register-direct, memory, or immediate
// operand) into a host register, consuming no extra instructions for
// register-direct operands.
func loadOperand(c *Context, res ea.Result) hostisa.Reg {
	switch res.Kind {
	case ea.KindRegister:
		return c.Alloc.MapRead(res.Guest)
	case ea.KindImmediate:
		dst := c.Alloc.AllocTemp()
		emitMaterialize(c, dst, res.Imm)
		return dst
	}
	dst := c.Alloc.AllocTemp()
	emitLoad(c, dst, res)
	return dst
}

// emitMaterialize loads a translate-time constant into dst, through the
// single-instruction rotated form when the value admits one.
func emitMaterialize(c *Context, dst hostisa.Reg, v uint32) {
	if imm8, rot, ok := hostisa.EncodeImmediate(v); ok {
		c.EmitWord(hostisa.MovImm(hostisa.CondAL, dst, imm8, rot))
		return
	}
	for _, w := range hostisa.MovImm32(hostisa.CondAL, dst, v) {
		c.EmitWord(w)
	}
}

func emitLoad(c *Context, dst hostisa.Reg, res ea.Result) {
	switch res.Size {
	case guest.SizeByte:
		c.EmitWord(hostisa.LdrbImm(hostisa.CondAL, dst, res.AddrHost, 0, true, false))
	case guest.SizeWord:
		emitGuestLoad16(c, dst, res.AddrHost, 0)
	default:
		emitGuestLoad32(c, dst, res.AddrHost, 0)
	}
	if res.PostAdjust != nil {
		res.PostAdjust()
	}
}

// Guest memory is big-endian while the host ABI this translator emits for
// uses little-endian data access (§6), so every word/halfword moved between
// a host register and guest memory is bracketed with a REV/REV16; byte
// accesses need no swap. A host configured for big-endian data access would
// elide these four helpers' swap words.

func emitGuestLoad32(c *Context, dst, base hostisa.Reg, off int32) {
	c.EmitWord(hostisa.LdrImm(hostisa.CondAL, dst, base, off, true, false))
	c.EmitWord(hostisa.Rev(hostisa.CondAL, dst, dst))
}

func emitGuestLoad16(c *Context, dst, base hostisa.Reg, off int32) {
	c.EmitWord(hostisa.LdrhImm(hostisa.CondAL, dst, base, off, true, false))
	c.EmitWord(hostisa.Rev16(hostisa.CondAL, dst, dst))
}

func emitGuestStore32(c *Context, src, base hostisa.Reg, off int32) {
	tmp := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.Rev(hostisa.CondAL, tmp, src))
	c.EmitWord(hostisa.StrImm(hostisa.CondAL, tmp, base, off, true, false))
}

func emitGuestStore16(c *Context, src, base hostisa.Reg, off int32) {
	tmp := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.Rev16(hostisa.CondAL, tmp, src))
	c.EmitWord(hostisa.StrhImm(hostisa.CondAL, tmp, base, off, true, false))
}

// emitStore writes src into res, sized per the caller's already-decoded
// operand size. A register-direct destination smaller than a long word
// merges only its low byte/word into the host register rather than
// overwriting it outright, mirroring guest.SetDataSized's "preserve the
// bits outside size" contract — MOVE.B/W, CLR.B/W, NOT.B/W, NEG.B/W, Scc,
// and the byte/word forms of the logical and arithmetic instructions all
// depend on the guest register's upper bytes surviving a narrow store.
func emitStore(c *Context, src hostisa.Reg, res ea.Result, size int) {
	if res.Kind == ea.KindImmediate {
		// An immediate is not a destination; nothing to store (the
		// encodings that lead here don't exist on real silicon).
		return
	}
	if res.Kind == ea.KindRegister {
		dst := c.Alloc.MapWrite(res.Guest)
		if size == guest.SizeLong {
			if src != dst {
				c.EmitWord(hostisa.MovRegS(hostisa.CondAL, dst, src))
			}
			return
		}
		emitPartialRegStore(c, dst, src, size)
		return
	}
	switch res.Size {
	case guest.SizeByte:
		c.EmitWord(hostisa.StrbImm(hostisa.CondAL, src, res.AddrHost, 0, true, false))
	case guest.SizeWord:
		emitGuestStore16(c, src, res.AddrHost, 0)
	default:
		emitGuestStore32(c, src, res.AddrHost, 0)
	}
	if res.PostAdjust != nil {
		res.PostAdjust()
	}
}

// emitPartialRegStore merges src's low byte or word into dst, clearing
// only that many low bits of dst first via a shift-right/shift-left pair
// (zeroes the low bits without disturbing the rest of the word) and
// isolating the same low bits of src the same way before ORing them in —
// avoiding any dependency on 0xFF/0xFFFF being encodable as a rotated ARM
// immediate, which 0xFFFF is not.
func emitPartialRegStore(c *Context, dst, src hostisa.Reg, size int) {
	shift := uint32(24)
	if size == guest.SizeWord {
		shift = 16
	}
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, dst, dst, hostisa.ShiftLSR, shift))
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, dst, dst, hostisa.ShiftLSL, shift))
	tmp := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, tmp, src, hostisa.ShiftLSL, shift))
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, tmp, tmp, hostisa.ShiftLSR, shift))
	c.EmitWord(hostisa.OrrReg(hostisa.CondAL, false, dst, dst, tmp))
}
