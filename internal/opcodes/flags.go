package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// emitNZ00 sets N and Z from the value in host (matching the size-masked
// semantics of guest.SetFlagsNZVC) and unconditionally clears V and C —
// the flag effect MOVE, MOVEQ, AND/OR/EOR and the logical shifts all
// share. X is never touched by this family, so it is stripped from the
// live mask no matter what the caller's lookahead reported. The
// comparison masks to size exactly as the interpreter's SetFlags does for
// byte/word operands, using TST against the relevant bits via a shifted
// compare so a single CMP instruction produces the ARM N/Z flags to read
// back for the guest N/Z bits.
func emitNZ00(c *Context, host hostisa.Reg, size int) {
	mask := liveMask(c) &^ guest.SRX
	if mask == 0 {
		return
	}
	sr := c.CC.CcModify(c.EA.StateBase)

	switch size {
	case guest.SizeByte:
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, true, c.EA.Scratch, host, hostisa.ShiftLSL, 24))
	case guest.SizeWord:
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, true, c.EA.Scratch, host, hostisa.ShiftLSL, 16))
	default:
		c.EmitWord(hostisa.CmpImm(hostisa.CondAL, host, 0, 0))
	}
	// Clear only the live bits in the cached SR, then set N/Z conditionally
	// on the ARM flags the comparison above just produced (MI sets N, EQ
	// sets Z); V and C are always cleared for this instruction family, so
	// clearing is all they ever need when live.
	c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, sr, sr, mask, 0))
	if mask&guest.SRN != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondMI, false, sr, sr, guest.SRN, 0))
	}
	if mask&guest.SRZ != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondEQ, false, sr, sr, guest.SRZ, 0))
	}
}

// sizeShift returns how far a byte/word value must be shifted left to land
// its sign bit on bit 31, the same alignment emitNZ00 uses to read N/Z for
// a masked size off the full-width ARM flags. 0 for SizeLong, where the
// host ALU's flags already line up with the guest's.
func sizeShift(size int) uint32 {
	switch size {
	case guest.SizeByte:
		return 24
	case guest.SizeWord:
		return 16
	default:
		return 0
	}
}

// emitArithSized emits dst = a OP b (OP is ADD or SUB) sized to size,
// writing the correctly-masked result into dst (preserving dst's bits
// outside size when dst aliases a register-direct guest operand, the same
// contract emitPartialRegStore documents) and synthesizing N/Z/V/C — plus
// X, which the ADD/SUB/NEG family copies from C, unless withX is false
// (CMP/CMPI/CMPA leave X alone) — from a size-aligned flag computation
// rather than trusting the host ALU's full-32-bit flags outright.
//
// For SizeLong the host flags already are the guest flags, so this is just
// ADDS/SUBS. For byte/word, a plain ADDS/SUBS over the full registers gets
// Z right (it's looking at the same bit pattern either way) but gets N,
// V and C wrong whenever a carry/overflow happens inside the masked field
// but not across all 32 bits (or vice versa) — exactly the gap flagged
// against Testable Property 2. The fix reuses emitNZ00's alignment trick:
// shift both operands left by sizeShift first, so the field's sign bit
// sits at bit 31; a 32-bit ADDS/SUBS over the shifted copies then produces
// N/V/C that are exactly the size-masked guest flags, because the shifted
// low bits are always zero on both sides and carry/overflow out of bit 31
// of the shifted value is by construction carry/overflow out of the
// field's own MSB. The real (unshifted) result is computed separately with
// flags suppressed so the shifted flag-only computation is never clobbered.
func emitArithSized(c *Context, isAdd bool, dst, a, b hostisa.Reg, size int, withX bool) {
	shift := sizeShift(size)
	if shift == 0 {
		if isAdd {
			c.EmitWord(hostisa.AddReg(hostisa.CondAL, true, dst, a, b, hostisa.ShiftLSL, 0))
		} else {
			c.EmitWord(hostisa.SubReg(hostisa.CondAL, true, dst, a, b, hostisa.ShiftLSL, 0))
		}
	} else {
		sa := c.Alloc.AllocTemp()
		sb := c.Alloc.AllocTemp()
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, sa, a, hostisa.ShiftLSL, shift))
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, sb, b, hostisa.ShiftLSL, shift))
		if isAdd {
			c.EmitWord(hostisa.AddReg(hostisa.CondAL, true, sa, sa, sb, hostisa.ShiftLSL, 0))
		} else {
			c.EmitWord(hostisa.SubReg(hostisa.CondAL, true, sa, sa, sb, hostisa.ShiftLSL, 0))
		}
		real := c.Alloc.AllocTemp()
		if isAdd {
			c.EmitWord(hostisa.AddReg(hostisa.CondAL, false, real, a, b, hostisa.ShiftLSL, 0))
		} else {
			c.EmitWord(hostisa.SubReg(hostisa.CondAL, false, real, a, b, hostisa.ShiftLSL, 0))
		}
		emitPartialRegStore(c, dst, real, size)
	}

	mask := liveMask(c)
	if !withX {
		mask &^= guest.SRX
	}
	if mask == 0 {
		return
	}
	sr := c.CC.CcModify(c.EA.StateBase)
	c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, sr, sr, mask, 0))
	if mask&guest.SRN != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondMI, false, sr, sr, guest.SRN, 0))
	}
	if mask&guest.SRZ != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondEQ, false, sr, sr, guest.SRZ, 0))
	}
	if mask&guest.SRV != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondVS, false, sr, sr, guest.SRV, 0))
	}
	if cx := mask & (guest.SRC | guest.SRX); cx != 0 {
		if isAdd {
			c.EmitWord(hostisa.OrrImm(hostisa.CondCS, false, sr, sr, cx, 0))
		} else {
			c.EmitWord(hostisa.OrrImm(hostisa.CondCC, false, sr, sr, cx, 0))
		}
	}
}

// emitXIntoCarry moves the guest X flag (or its complement) into the host
// carry: shifting the cached SR right by one past the X bit drops X into
// the carry, which is exactly where a following ADC/SBC reads its third
// operand. The inverted form feeds SBC, whose third operand is NOT carry
// (rd = rn - op2 - !C), so a subtract-with-extend wants C = !X.
func emitXIntoCarry(c *Context, inverted bool) {
	sr := c.CC.CcGet(c.EA.StateBase)
	t := c.Alloc.AllocTemp()
	if inverted {
		c.EmitWord(hostisa.EorImm(hostisa.CondAL, false, t, sr, guest.SRX, 0))
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, true, t, t, hostisa.ShiftLSR, 5))
		return
	}
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, true, t, sr, hostisa.ShiftLSR, 5))
}

// emitXFromSR materializes the guest X flag as 0/1 in a fresh register.
func emitXFromSR(c *Context) hostisa.Reg {
	sr := c.CC.CcGet(c.EA.StateBase)
	x := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, x, sr, guest.SRX, 0))
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, x, x, hostisa.ShiftLSR, 4))
	return x
}

// emitArithExtended emits dst = a OP b OP X sized to size, the shared core
// of ADDX/SUBX/NEGX, with the multi-precision flag rule: X/N/V/C as for
// the plain operation, but Z only ever cleared by a non-zero result (a
// zero result leaves the Z accumulated by earlier links of the chain).
//
// SizeLong rides the host's own ADC/SBC with the carry pre-seeded from X.
// Byte/word cannot: ADC folds the carry in at bit 0 of the full 32-bit
// ALU, not at the field's own position, so the shifted-operand trick
// emitArithSized uses would add X in the wrong place. Instead the field
// arithmetic is done in the low bits over zero-extended copies, where a
// single flag-setting shift re-aligning the result exposes all three of
// N (the field's sign bit lands on bit 31), Z (only field bits remain),
// and C (the last bit shifted out is the field's carry/borrow bit), and V
// falls out of the textbook sign-xor identity over the unshifted values.
func emitArithExtended(c *Context, isAdd bool, dst, a, b hostisa.Reg, size int) {
	if size == guest.SizeLong {
		emitXIntoCarry(c, !isAdd)
		if isAdd {
			c.EmitWord(hostisa.AdcReg(hostisa.CondAL, true, dst, a, b))
		} else {
			c.EmitWord(hostisa.SbcReg(hostisa.CondAL, true, dst, a, b))
		}
		emitExtendedFlagsFromHost(c, isAdd)
		return
	}

	shift := sizeShift(size)
	width := 32 - shift

	// Register budget: a stays pinned throughout (the result merges back
	// into it) and b until it has been masked, while three temps cycle
	// through roles (masked a, masked b / overflow, X / sign-xor; X is
	// released once the overflow term is formed) and the EA scratch
	// register carries the running result — AllocTemp's LRU
	// victim choice cannot be trusted across a sequence this long
	// otherwise (§4.2's lock bit exists exactly for this).
	c.Alloc.LockHost(a)
	c.Alloc.LockHost(b)
	defer c.Alloc.UnlockHost(a)
	defer c.Alloc.UnlockHost(b)

	ma := c.Alloc.AllocTemp()
	c.Alloc.LockHost(ma)
	defer c.Alloc.UnlockHost(ma)
	mb := c.Alloc.AllocTemp()
	c.Alloc.LockHost(mb)
	defer c.Alloc.UnlockHost(mb)
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, ma, a, hostisa.ShiftLSL, shift))
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, ma, ma, hostisa.ShiftLSR, shift))
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, mb, b, hostisa.ShiftLSL, shift))
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, mb, mb, hostisa.ShiftLSR, shift))
	if b != a {
		c.Alloc.UnlockHost(b) // b is not read again once masked
	}
	x := emitXFromSR(c)
	c.Alloc.LockHost(x)
	defer c.Alloc.UnlockHost(x)

	// The running result lives in the EA scratch register; x is dead once
	// folded in, so its register is reused for the sign-xor term, and ma
	// and mb are consumed by the overflow computation in turn.
	v := c.EA.Scratch
	if isAdd {
		c.EmitWord(hostisa.AddReg(hostisa.CondAL, false, v, ma, mb, hostisa.ShiftLSL, 0))
		c.EmitWord(hostisa.AddReg(hostisa.CondAL, false, v, v, x, hostisa.ShiftLSL, 0))
	} else {
		c.EmitWord(hostisa.SubReg(hostisa.CondAL, false, v, ma, mb, hostisa.ShiftLSL, 0))
		c.EmitWord(hostisa.SubReg(hostisa.CondAL, false, v, v, x, hostisa.ShiftLSL, 0))
	}

	// Signed overflow of the field: operands agreeing in sign (add) or
	// disagreeing (sub) while the result's sign flips away from a's.
	signXor := x
	c.EmitWord(hostisa.EorReg(hostisa.CondAL, false, signXor, ma, mb))
	resXor := ma
	c.EmitWord(hostisa.EorReg(hostisa.CondAL, false, resXor, ma, v))
	overflow := mb
	if isAdd {
		c.EmitWord(hostisa.BicReg(hostisa.CondAL, false, overflow, resXor, signXor))
	} else {
		c.EmitWord(hostisa.AndReg(hostisa.CondAL, false, overflow, resXor, signXor))
	}
	c.Alloc.UnlockHost(x) // the sign-xor term is not read again

	// emitPartialRegStore reads v out of the scratch register before its
	// own temporary traffic touches anything still pinned above.
	result := ma
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, result, v))
	emitPartialRegStore(c, dst, result, size)

	mask := liveMask(c)
	if mask == 0 {
		return
	}
	sr := c.CC.CcModify(c.EA.StateBase)
	if clear := mask &^ guest.SRZ; clear != 0 {
		c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, sr, sr, clear, 0))
	}
	// One flag-setting left shift re-aligns the field: N on MI, Z on EQ,
	// and the field's carry/borrow bit is the last bit shifted out, so C
	// lands in the host carry as a bonus of the same instruction.
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, true, c.EA.Scratch, result, hostisa.ShiftLSL, shift))
	if mask&guest.SRN != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondMI, false, sr, sr, guest.SRN, 0))
	}
	if mask&guest.SRZ != 0 {
		c.EmitWord(hostisa.BicImm(hostisa.CondNE, false, sr, sr, guest.SRZ, 0))
	}
	if cx := mask & (guest.SRC | guest.SRX); cx != 0 {
		// The shifted-out bit is 1 exactly on field carry (add) or borrow
		// (sub) — no inversion dance needed for the subtract case, unlike
		// the host SUBS convention.
		c.EmitWord(hostisa.OrrImm(hostisa.CondCS, false, sr, sr, cx, 0))
	}
	if mask&guest.SRV != 0 {
		imm8, rot, _ := hostisa.EncodeImmediate(uint32(1) << (width - 1))
		c.EmitWord(hostisa.TstImm(hostisa.CondAL, overflow, imm8, rot))
		c.EmitWord(hostisa.OrrImm(hostisa.CondNE, false, sr, sr, guest.SRV, 0))
	}
}

// emitExtendedFlagsFromHost writes the multi-precision flag rule straight
// off the host ALU flags an ADCS/SBCS just produced (SizeLong only).
func emitExtendedFlagsFromHost(c *Context, isAdd bool) {
	mask := liveMask(c)
	if mask == 0 {
		return
	}
	sr := c.CC.CcModify(c.EA.StateBase)
	if clear := mask &^ guest.SRZ; clear != 0 {
		c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, sr, sr, clear, 0))
	}
	if mask&guest.SRN != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondMI, false, sr, sr, guest.SRN, 0))
	}
	if mask&guest.SRZ != 0 {
		c.EmitWord(hostisa.BicImm(hostisa.CondNE, false, sr, sr, guest.SRZ, 0))
	}
	if mask&guest.SRV != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondVS, false, sr, sr, guest.SRV, 0))
	}
	if cx := mask & (guest.SRC | guest.SRX); cx != 0 {
		if isAdd {
			c.EmitWord(hostisa.OrrImm(hostisa.CondCS, false, sr, sr, cx, 0))
		} else {
			c.EmitWord(hostisa.OrrImm(hostisa.CondCC, false, sr, sr, cx, 0))
		}
	}
}
