package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// The 32 FPU conditions mirror the integer table in condition.go one
// level up: the low four predicate bits pick a boolean over FPSR's
// {N,Z,I,NAN} nibble, and bit 4 selects the signalling variant, which
// runs the identical test but first records a BSUN exception when the
// last result was a NaN. The boolean shapes are the original's F_CC_*
// switch re-expressed through this package's branchless-conditional
// idiom: single-mask predicates collapse to one TST, compound ones build
// a 0/1 value with conditional moves and compare it against zero.

// evalFPUCondition emits a flag-setting sequence for one of the fourteen
// non-trivial FPU predicates (the callers special-case F and T) and
// returns the ARM condition that holds exactly when the guest predicate
// is true.
func evalFPUCondition(c *Context, pred uint16) hostisa.Cond {
	f := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.LdrImm(hostisa.CondAL, f, c.EA.StateBase, fpsrFieldOffset, true, false))

	tst := func(mask uint32) {
		imm8, rot, _ := hostisa.EncodeImmediate(mask)
		c.EmitWord(hostisa.TstImm(hostisa.CondAL, f, imm8, rot))
	}

	switch pred & 0xF {
	case 0x1: // EQ: Z
		tst(guest.FPSRZ)
		return hostisa.CondNE
	case 0xE: // NE: !Z
		tst(guest.FPSRZ)
		return hostisa.CondEQ
	case 0x2: // OGT: !NAN && !Z && !N
		tst(guest.FPSRNAN | guest.FPSRZ | guest.FPSRN)
		return hostisa.CondEQ
	case 0xD: // ULE: NAN || Z || N
		tst(guest.FPSRNAN | guest.FPSRZ | guest.FPSRN)
		return hostisa.CondNE
	case 0x6: // OGL: !NAN && !Z
		tst(guest.FPSRNAN | guest.FPSRZ)
		return hostisa.CondEQ
	case 0x9: // UEQ: NAN || Z
		tst(guest.FPSRNAN | guest.FPSRZ)
		return hostisa.CondNE
	case 0x7: // OR: !NAN
		tst(guest.FPSRNAN)
		return hostisa.CondEQ
	case 0x8: // UN: NAN
		tst(guest.FPSRNAN)
		return hostisa.CondNE
	}

	// Compound predicates: build a 0/1 boolean with conditional moves.
	b := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.MovImm(hostisa.CondAL, b, 1, 0))
	kill := func(mask uint32, when hostisa.Cond) {
		tst(mask)
		c.EmitWord(hostisa.MovImm(when, b, 0, 0))
	}
	force := func(mask uint32) {
		tst(mask)
		c.EmitWord(hostisa.MovImm(hostisa.CondNE, b, 1, 0))
	}
	switch pred & 0xF {
	case 0x3: // OGE: Z || (!N && !NAN)
		kill(guest.FPSRN|guest.FPSRNAN, hostisa.CondNE)
		force(guest.FPSRZ)
	case 0xB: // UGE: NAN || Z || !N
		kill(guest.FPSRN, hostisa.CondNE)
		force(guest.FPSRNAN | guest.FPSRZ)
	case 0x4: // OLT: N && !NAN && !Z
		kill(guest.FPSRN, hostisa.CondEQ)
		kill(guest.FPSRNAN|guest.FPSRZ, hostisa.CondNE)
	case 0xC: // ULT: NAN || (N && !Z)
		kill(guest.FPSRN, hostisa.CondEQ)
		kill(guest.FPSRZ, hostisa.CondNE)
		force(guest.FPSRNAN)
	case 0x5: // OLE: Z || (N && !NAN)
		kill(guest.FPSRN, hostisa.CondEQ)
		kill(guest.FPSRNAN, hostisa.CondNE)
		force(guest.FPSRZ)
	case 0xA: // UGT: NAN || (!N && !Z)
		kill(guest.FPSRN|guest.FPSRZ, hostisa.CondNE)
		force(guest.FPSRNAN)
	}
	c.EmitWord(hostisa.CmpImm(hostisa.CondAL, b, 0, 0))
	return hostisa.CondNE
}

// emitBSUNCheck records the BSUN ("branch/set on unordered") exception a
// signalling predicate raises when the condition codes carry a NaN: the
// quiet and signalling variants share one host test, this side effect
// being their only difference (§4.5.1).
func emitBSUNCheck(c *Context) {
	f := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.LdrImm(hostisa.CondAL, f, c.EA.StateBase, fpsrFieldOffset, true, false))
	nanImm, nanRot, _ := hostisa.EncodeImmediate(guest.FPSRNAN)
	bsunImm, bsunRot, _ := hostisa.EncodeImmediate(guest.FPSRBSUN)
	c.EmitWord(hostisa.TstImm(hostisa.CondAL, f, nanImm, nanRot))
	c.EmitWord(hostisa.OrrImm(hostisa.CondNE, false, f, f, bsunImm, bsunRot))
	c.EmitWord(hostisa.StrImm(hostisa.CondNE, f, c.EA.StateBase, fpsrFieldOffset, true, false))
}

// lowerFBcc lowers FBcc with a 16- or 32-bit displacement; FNOP is the
// degenerate FBF.W spelled by the assembler, folded into the never-taken
// path here.
func lowerFBcc(c *Context) (Marker, error) {
	op := c.Opcode
	pred := op & 0x3F
	var disp int32
	if op&0x40 != 0 {
		disp = int32(c.Dec.Fetch32())
	} else {
		disp = int32(int16(c.Dec.Fetch16()))
	}
	target := uint32(int32(c.PC) + disp)

	if pred&0x10 != 0 {
		emitBSUNCheck(c)
	}
	switch pred & 0xF {
	case 0x0: // F: never taken (FNOP when the displacement is zero)
		return MarkerNone, nil
	case 0xF: // T: always taken
		return branchUnconditional(c, target)
	}

	c.CC.PcFlush()
	armCond := evalFPUCondition(c, pred)
	scratch := c.Alloc.AllocTemp()
	for _, w := range hostisa.MovImm32(hostisa.CondAL, scratch, target) {
		c.EmitWord(w)
	}
	c.EmitWord(hostisa.CondMove(armCond, pcReg, scratch))
	emitCondExit(c, armCond)
	return MarkerCondExit, nil
}

// lowerFScc lowers FScc <ea>, the FPU twin of lowerScc: all-ones or zero
// into a byte operand by predicate.
func lowerFScc(c *Context) (Marker, error) {
	opcode2 := c.Dec.Fetch16()
	if opcode2&0xFFC0 != 0 {
		return emitIllegal(c)
	}
	pred := opcode2 & 0x3F
	mode := (c.Opcode >> 3) & 0x7
	xreg := c.Opcode & 0x7

	res, err := c.EA.Compile(mode, xreg, guest.SizeByte, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	if pred&0x10 != 0 {
		emitBSUNCheck(c)
	}
	dst := c.Alloc.AllocTemp()
	switch pred & 0xF {
	case 0x0:
		c.EmitWord(hostisa.MovImm(hostisa.CondAL, dst, 0, 0))
	case 0xF:
		c.EmitWord(hostisa.MovImm(hostisa.CondAL, dst, 0xFF, 0))
	default:
		trueCond := evalFPUCondition(c, pred)
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

// lowerFDBcc lowers FDBcc Dn,label with the same decrement-and-loop shape
// as lowerDBcc, the predicate coming from FPSR instead of CCR.
func lowerFDBcc(c *Context) (Marker, error) {
	opcode2 := c.Dec.Fetch16()
	if opcode2&0xFFC0 != 0 {
		return emitIllegal(c)
	}
	pred := opcode2 & 0x3F
	dreg := c.Opcode & 0x7
	disp := int32(int16(c.Dec.Fetch16()))
	// The displacement is relative to its own word, one word past the
	// predicate word.
	target := uint32(int32(c.PC) + 2 + disp)

	if pred&0x10 != 0 {
		emitBSUNCheck(c)
	}
	if pred&0xF == 0xF {
		// Predicate always true: no decrement, no branch.
		return MarkerNone, nil
	}

	c.CC.PcFlush()
	dst := c.Alloc.MapRead(alloc.D(int(dreg)))
	c.Alloc.MapWrite(alloc.D(int(dreg)))

	var takenCond hostisa.Cond
	if pred&0xF == 0x0 {
		emitDecrementWord(c, hostisa.CondAL, dst)
		emitNotMinusOneTest(c, dst)
		takenCond = hostisa.CondNE
	} else {
		trueCond := evalFPUCondition(c, pred)
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

// lowerFTRAPcc lowers FTRAPcc (with its optional, ignored immediate
// operand): a conditional trap through the TRAPcc vector.
func lowerFTRAPcc(c *Context) (Marker, error) {
	opcode2 := c.Dec.Fetch16()
	if opcode2&0xFFC0 != 0 {
		return emitIllegal(c)
	}
	pred := opcode2 & 0x3F
	switch c.Opcode & 0x7 {
	case 2:
		c.Dec.Fetch16()
	case 3:
		c.Dec.Fetch32()
	case 4:
	default:
		return emitIllegal(c)
	}

	if pred&0x10 != 0 {
		emitBSUNCheck(c)
	}
	switch pred & 0xF {
	case 0x0:
		return MarkerNone, nil
	case 0xF:
		c.EmitWord(hostisa.Udf(guest.VecTrapcc))
		return MarkerEnd, nil
	}
	armCond := evalFPUCondition(c, pred)
	c.EmitWord(hostisa.UdfCond(armCond, guest.VecTrapcc))
	return MarkerNone, nil
}
