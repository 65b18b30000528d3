package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/ea"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// lowerLine5 handles ADDQ/SUBQ (grounded on decodeGroup5's ADDQ/SUBQ fast
// paths, including the "value 0 encodes as 8" quick-immediate quirk and
// the no-flags-affected fast path for an address-register destination),
// Scc (materializing a guest condition as 0x00/0xFF in a byte operand,
// grounded on ExecScc), and DBcc (lowerDBcc below).
func lowerLine5(c *Context) (Marker, error) {
	op := c.Opcode
	if op&0xF8 == 0xC8 {
		cond := (op >> 8) & 0xF
		dreg := op & 0x7
		return lowerDBcc(c, cond, dreg)
	}
	if op&0xC0 == 0xC0 {
		cond := (op >> 8) & 0xF
		mode := (op >> 3) & 0x7
		xreg := op & 0x7
		return lowerScc(c, cond, mode, xreg)
	}

	size, ok := decodeSize012((op >> 6) & 0x3)
	if !ok {
		return emitIllegal(c)
	}
	data := (op >> 9) & 0x7
	if data == 0 {
		data = 8
	}
	isAdd := op&0x0100 == 0
	mode := (op >> 3) & 0x7
	xreg := op & 0x7

	res, err := c.EA.Compile(mode, xreg, size, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	host := loadOperandRMW(c, res, size)
	if res.Kind == ea.KindRegister && isAddressReg(res.Guest) {
		emitQuickAddr(c, isAdd, host, uint32(data))
		emitStore(c, host, res, guest.SizeLong)
		return MarkerNone, nil
	}
	emitArithImm(c, isAdd, host, uint32(data), size, true)
	emitStore(c, host, res, size)
	return MarkerNone, nil
}

func lowerScc(c *Context, cond, mode, xreg uint16) (Marker, error) {
	res, err := c.EA.Compile(mode, xreg, guest.SizeByte, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	dst := c.Alloc.AllocTemp()
	switch cond {
	case guest.CondT:
		c.EmitWord(hostisa.MovImm(hostisa.CondAL, dst, 0xFF, 0))
	case guest.CondF:
		c.EmitWord(hostisa.MovImm(hostisa.CondAL, dst, 0, 0))
	default:
		trueCond := evalCondition(c, cond)
		falseCond := hostisa.CondEQ
		if trueCond == hostisa.CondEQ {
			falseCond = hostisa.CondNE
		}
		c.EmitWord(hostisa.MovImm(trueCond, dst, 0xFF, 0))
		c.EmitWord(hostisa.MovImm(falseCond, dst, 0, 0))
	}
	emitStore(c, dst, res, guest.SizeByte)
	return MarkerNone, nil
}

// lowerDBcc lowers DBcc Dn,label, grounded on ExecDbcc: if the guest
// condition is true, the counter is left alone and no branch happens
// (DBT's condition is always true, so it never branches at all, the
// degenerate case handled below without emitting a decrement). Otherwise
// Dn's low word is decremented (a word decrement, not long — the upper 16
// bits of Dn are never touched) and the branch is taken unless the
// decremented word equals -1. DBF (cond always false, the common loop
// form CC assemblers call DBRA) is the overwhelmingly common case and is
// special-cased to skip the per-iteration condition evaluation entirely.
//
// This needs no loop-aware translator machinery: it is structurally the
// same conditional-exit shape as branchConditional in line6.go, just with
// a branch-taken predicate built from two combined sub-tests (guest
// condition false, AND decremented word not -1) instead of evalCondition's
// single result, since ARM conditional execution only ever reads the
// flags set by the single most recent flag-setting instruction and the
// decrement's own comparison would otherwise clobber the condition's
// flags before the two could be combined.
func lowerDBcc(c *Context, cond, dreg uint16) (Marker, error) {
	disp := int32(int16(c.Dec.Fetch16()))
	target := uint32(int32(c.PC) + disp)

	if cond == guest.CondT {
		// Never decrements, never branches: DBT is a pure no-op.
		return MarkerNone, nil
	}

	c.CC.PcFlush()
	dst := c.Alloc.MapRead(alloc.D(int(dreg)))
	c.Alloc.MapWrite(alloc.D(int(dreg)))

	var takenCond hostisa.Cond
	if cond == guest.CondF {
		emitDecrementWord(c, hostisa.CondAL, dst)
		emitNotMinusOneTest(c, dst)
		takenCond = hostisa.CondNE
	} else {
		trueCond := evalCondition(c, cond)
		falseCond := hostisa.CondEQ
		if trueCond == hostisa.CondEQ {
			falseCond = hostisa.CondNE
		}
		ccFalse := c.Alloc.AllocTemp()
		c.EmitWord(hostisa.MovImm(falseCond, ccFalse, 1, 0))
		c.EmitWord(hostisa.MovImm(trueCond, ccFalse, 0, 0))

		emitDecrementWord(c, falseCond, dst)
		emitNotMinusOneTest(c, dst)
		notMinusOne := c.Alloc.AllocTemp()
		c.EmitWord(hostisa.MovImm(hostisa.CondNE, notMinusOne, 1, 0))
		c.EmitWord(hostisa.MovImm(hostisa.CondEQ, notMinusOne, 0, 0))

		branch := c.Alloc.AllocTemp()
		c.EmitWord(hostisa.AndReg(hostisa.CondAL, true, branch, ccFalse, notMinusOne))
		takenCond = hostisa.CondNE
	}

	scratch := c.Alloc.AllocTemp()
	for _, w := range hostisa.MovImm32(hostisa.CondAL, scratch, target) {
		c.EmitWord(w)
	}
	c.EmitWord(hostisa.CondMove(takenCond, pcReg, scratch))
	emitCondExit(c, takenCond)
	return MarkerCondExit, nil
}

// emitDecrementWord subtracts 1 from dst's low 16 bits under cond, leaving
// dst entirely unchanged when cond doesn't hold and never touching dst's
// upper 16 bits either way — the same isolate-with-a-shift-pair idiom
// emitPartialRegStore uses, generalized to take an explicit condition and
// to subtract instead of merge.
func emitDecrementWord(c *Context, cond hostisa.Cond, dst hostisa.Reg) {
	low := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.ShiftReg(cond, false, low, dst, hostisa.ShiftLSL, 16))
	c.EmitWord(hostisa.ShiftReg(cond, false, low, low, hostisa.ShiftLSR, 16))
	c.EmitWord(hostisa.SubImm(cond, false, low, low, 1, 0))
	c.EmitWord(hostisa.ShiftReg(cond, false, dst, dst, hostisa.ShiftLSR, 16))
	c.EmitWord(hostisa.ShiftReg(cond, false, dst, dst, hostisa.ShiftLSL, 16))
	maskLow16(c, low)
	c.EmitWord(hostisa.OrrRegShift(cond, false, dst, dst, low, hostisa.ShiftLSL, 0))
}

// emitNotMinusOneTest sets ARM flags so that CondNE holds exactly when
// reg's low 16 bits are not all ones (the guest's word -1, DBcc's
// loop-exhausted sentinel), without ever materializing the literal 0xFFFF,
// which isn't representable as a rotated ARM immediate: NOT the register,
// then shift the complement left by 16 so only the original low 16 bits
// (now inverted) land at the top of the word. That shifted value is zero
// exactly when the original low 16 bits were all ones.
func emitNotMinusOneTest(c *Context, reg hostisa.Reg) {
	tmp := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.MvnReg(hostisa.CondAL, false, tmp, reg))
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, true, tmp, tmp, hostisa.ShiftLSL, 16))
}

// maskLow16 zero-extends reg's low 16 bits into itself, leaving its upper
// half clear — the same clear-then-shift-back idiom emitPartialRegStore
// isolates a byte/word with, used here to keep the decremented counter's
// high half out of the OR that merges it back into dst.
func maskLow16(c *Context, reg hostisa.Reg) {
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, reg, reg, hostisa.ShiftLSL, 16))
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, reg, reg, hostisa.ShiftLSR, 16))
}

func isAddressReg(g alloc.GuestReg) bool { return g >= alloc.A(0) }

func emitQuickAddr(c *Context, isAdd bool, host hostisa.Reg, n uint32) {
	if isAdd {
		if imm8, rot, ok := hostisa.EncodeImmediate(n); ok {
			c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, host, host, imm8, rot))
		}
		return
	}
	if imm8, rot, ok := hostisa.EncodeImmediate(n); ok {
		c.EmitWord(hostisa.SubImm(hostisa.CondAL, false, host, host, imm8, rot))
	}
}
