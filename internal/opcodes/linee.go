package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/ea"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// lowerLineE handles the full shift/rotate family — ASL/ASR, LSL/LSR,
// ROL/ROR, ROXL/ROXR — across byte/word/long register-direct operands
// (both the quick-immediate count and the Dn register-count forms) and the
// single-bit memory-operand form, grounded on decodeGroupE.
//
// Two corners are deferred rather than implemented:
//
// Bit field instructions (BFTST/BFEXTU/BFCHG/BFEXTS/BFCLR/BFFFO/BFSET/
// BFINS, 68020+) address memory at arbitrary bit granularity — this
// translator's effective-address compiler only ever names a byte/word/
// long-aligned operand (ea.Result carries no bit-offset/bit-width concept),
// and none of the repos in the retrieval pack implement a 68020 bit field
// instruction to ground a lowering against. They fall through to the
// generic illegal-opcode trap, tracked in the design ledger.
//
// A register-specified (Dn) rotate count for ROXL/ROXR, and for ROL/ROR
// narrower than long, is also deferred. The quick-immediate forms below
// synthesize a field-width rotate by hand with a compile-time-known
// iteration/shift count; a Dn-sourced count is only known at translate
// time to be "whatever's in the register, mod 64", and this package never
// emits a host branch for an instruction's own internal iteration (the
// divide lowering's fully-unrolled 32 steps is the alternative this pass
// follows instead, which only works when the step count is fixed at
// compile time).
func lowerLineE(c *Context) (Marker, error) {
	op := c.Opcode
	if op&0x00C0 == 0x00C0 {
		if op&0x0800 != 0 {
			// Bit field instruction (bit 11 set): outside this pass's scope.
			return emitIllegal(c)
		}
		return lowerMemShiftRotate(c, op)
	}

	size, ok := decodeSize012((op >> 6) & 0x3)
	if !ok {
		return emitIllegal(c)
	}
	opType := (op >> 3) & 0x3
	reg := op & 0x7
	direction := (op >> 8) & 0x1
	regOrImm := (op >> 5) & 0x1
	countField := (op >> 9) & 0x7

	dg := alloc.D(int(reg))
	dst := c.Alloc.MapRead(dg)
	c.Alloc.MapWrite(dg)

	var countHost hostisa.Reg
	var countImm uint32
	useImm := regOrImm == 0
	if useImm {
		countImm = uint32(countField)
		if countImm == 0 {
			countImm = 8
		}
	} else {
		countHost = c.Alloc.MapRead(alloc.D(int(countField)))
	}

	switch opType {
	case 0, 1: // AS, LS
		if !useImm && size != guest.SizeLong {
			return emitIllegal(c) // register-count byte/word shift: deferred
		}
		if direction == 1 {
			emitShiftLeft(c, dst, size, useImm, countImm, countHost)
		} else {
			emitShiftRight(c, dst, size, opType == 0, useImm, countImm, countHost)
		}
		return MarkerNone, nil
	case 2: // ROXd
		if !useImm {
			return emitIllegal(c) // register-count ROX: deferred, any size
		}
		lowerRox(c, dst, countImm, direction == 1, size)
		return MarkerNone, nil
	default: // ROd
		if !useImm && size != guest.SizeLong {
			return emitIllegal(c) // register-count byte/word rotate: deferred
		}
		emitRotate(c, dst, size, direction == 1, useImm, countImm, countHost)
		return MarkerNone, nil
	}
}

// lowerMemShiftRotate lowers the single-bit memory shift/rotate forms
// (bits 10-8 select ASR/ASL/LSR/LSL/ROXR/ROXL/ROR/ROL), grounded on
// decodeGroupE's EA-operand branch: always word-sized, always a count of
// exactly one, and restricted to memory addressing (Dn/An are the
// register-count forms' encoding space, never reached here since their
// size field is never 11).
func lowerMemShiftRotate(c *Context, op uint16) (Marker, error) {
	kind := (op >> 8) & 0x7
	mode := (op >> 3) & 0x7
	xreg := op & 0x7
	if mode == ea.ModeDR || mode == ea.ModeAR {
		return emitIllegal(c)
	}
	res, err := c.EA.Compile(mode, xreg, guest.SizeWord, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	host := loadOperand(c, res)
	switch kind {
	case 0:
		emitShiftRight(c, host, guest.SizeWord, true, true, 1, 0)
	case 1:
		emitShiftLeft(c, host, guest.SizeWord, true, 1, 0)
	case 2:
		emitShiftRight(c, host, guest.SizeWord, false, true, 1, 0)
	case 3:
		emitShiftLeft(c, host, guest.SizeWord, true, 1, 0)
	case 4:
		lowerRox(c, host, 1, false, guest.SizeWord)
	case 5:
		lowerRox(c, host, 1, true, guest.SizeWord)
	case 6:
		emitRotate(c, host, guest.SizeWord, false, true, 1, 0)
	case 7:
		emitRotate(c, host, guest.SizeWord, true, true, 1, 0)
	}
	emitStore(c, host, res, guest.SizeWord)
	return MarkerNone, nil
}

// emitShiftFlags writes the guest N/Z (and, when carryAlready, C — plus X
// alongside it when withX, since ASd/LSd copy their carry into X while
// ROd leaves X alone) from the ARM flags already sitting in APSR from
// whatever instruction the caller last issued against result,
// size-aligned exactly as emitNZ00 aligns MOVE/AND/OR's flags so a
// byte/word field's own MSB, not the host register's bit 31, decides N.
// V is never computed for this family: ASL's "sign changed partway
// through the shift" rule has no single ARM instruction equivalent,
// matching the long-only implementation this generalizes.
func emitShiftFlags(c *Context, result hostisa.Reg, size int, carryAlready, withX bool) {
	mask := liveMask(c) &^ guest.SRV
	if !withX {
		mask &^= guest.SRX
	}
	if mask == 0 {
		return
	}
	sr := c.CC.CcModify(c.EA.StateBase)
	if cx := mask & (guest.SRC | guest.SRX); carryAlready && cx != 0 {
		c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, sr, sr, cx, 0))
		c.EmitWord(hostisa.OrrImm(hostisa.CondCS, false, sr, sr, cx, 0))
	}
	if shift := sizeShift(size); shift == 0 {
		c.EmitWord(hostisa.CmpImm(hostisa.CondAL, result, 0, 0))
	} else {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, true, c.EA.Scratch, result, hostisa.ShiftLSL, shift))
	}
	nz := mask & (guest.SRN | guest.SRZ)
	if nz == 0 {
		return
	}
	c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, sr, sr, nz, 0))
	if mask&guest.SRN != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondMI, false, sr, sr, guest.SRN, 0))
	}
	if mask&guest.SRZ != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondEQ, false, sr, sr, guest.SRZ, 0))
	}
}

// emitClearHostCarry zeroes the host carry (ADDS of zero to zero) so a
// following shift-by-register whose runtime count turns out to be zero
// reads back a cleared C — the 68020 count-0 rule: N/Z from the unchanged
// value, C cleared. An ARM shift-by-register leaves the carry untouched
// for a zero count, which would otherwise publish whatever stale carry the
// preceding emission left behind.
func emitClearHostCarry(c *Context) {
	zero := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.MovImm(hostisa.CondAL, zero, 0, 0))
	c.EmitWord(hostisa.AddReg(hostisa.CondAL, true, zero, zero, zero, hostisa.ShiftLSL, 0))
}

// emitShiftLeft lowers ASL/LSL: bit-identical result and carry (only V
// differs between them, and this family never computes V), for a
// register-direct destination at any size with an immediate count, or a
// Dn-sourced count at SizeLong. Byte/word operands are aligned to the top
// of a scratch register first — the same trick emitArithSized/emitNZ00
// use — so the real ARM shift's carry-out lands on the field's own MSB
// rather than the host register's bit 31.
func emitShiftLeft(c *Context, dst hostisa.Reg, size int, useImm bool, nImm uint32, nHost hostisa.Reg) {
	align := sizeShift(size)
	work := dst
	if align != 0 {
		work = c.Alloc.AllocTemp()
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, work, dst, hostisa.ShiftLSL, align))
	}
	if useImm {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, true, work, work, hostisa.ShiftLSL, nImm))
	} else {
		masked := c.Alloc.AllocTemp()
		c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, masked, nHost, 63, 0))
		emitClearHostCarry(c)
		c.EmitWord(hostisa.ShiftRegByReg(hostisa.CondAL, true, work, work, masked, hostisa.ShiftLSL))
	}
	if align != 0 {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, work, work, hostisa.ShiftLSR, align))
		emitPartialRegStore(c, dst, work, size)
	}
	emitShiftFlags(c, dst, size, true, true)
}

// emitShiftRight lowers ASR/LSR. The byte/word preparation widens the
// field to the full register first — sign-extending for ASR, zero
// -extending for LSR — so the real shift's carry-out and result both read
// correctly off the field's own low bits without any separate realignment
// step afterward (unlike the left-shift case, a right shift already lands
// its result at the natural low-bit position).
func emitShiftRight(c *Context, dst hostisa.Reg, size int, arithmetic bool, useImm bool, nImm uint32, nHost hostisa.Reg) {
	st := hostisa.ShiftLSR
	if arithmetic {
		st = hostisa.ShiftASR
	}
	align := sizeShift(size)
	work := dst
	if align != 0 {
		work = c.Alloc.AllocTemp()
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, work, dst, hostisa.ShiftLSL, align))
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, work, work, st, align))
	}
	if useImm {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, true, work, work, st, nImm))
	} else {
		masked := c.Alloc.AllocTemp()
		c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, masked, nHost, 63, 0))
		emitClearHostCarry(c)
		c.EmitWord(hostisa.ShiftRegByReg(hostisa.CondAL, true, work, work, masked, st))
	}
	if align != 0 {
		emitPartialRegStore(c, dst, work, size)
	}
	emitShiftFlags(c, dst, size, true, true)
}

// emitRotate lowers ROL/ROR for a register-direct or memory-word
// destination. SizeLong uses ARM's native ROR directly (ROL is ROR by
// 32-n, the same trick the original long-only implementation used); byte
// and word operands get a hand-synthesized width-w rotation, since ARM's
// barrel shifter always wraps at 32 bits rather than at the guest field's
// own width.
func emitRotate(c *Context, dst hostisa.Reg, size int, left bool, useImm bool, nImm uint32, nHost hostisa.Reg) {
	if size == guest.SizeLong {
		if useImm {
			n := nImm
			if left {
				n = (32 - n) & 31
			}
			c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, true, dst, dst, hostisa.ShiftROR, n))
		} else {
			masked := c.Alloc.AllocTemp()
			c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, masked, nHost, 63, 0))
			rs := masked
			if left {
				wn := c.Alloc.AllocTemp()
				c.EmitWord(hostisa.RsbImm(hostisa.CondAL, false, wn, masked, 32, 0))
				rs = wn
			}
			emitClearHostCarry(c)
			c.EmitWord(hostisa.RorRegByReg(hostisa.CondAL, true, dst, dst, rs))
		}
		emitShiftFlags(c, dst, size, true, false)
		return
	}

	width := uint32(8)
	if size == guest.SizeWord {
		width = 16
	}
	n := nImm % width
	if n == 0 {
		n = width
	}
	align := sizeShift(size)
	field := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, field, dst, hostisa.ShiftLSL, align))
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, field, field, hostisa.ShiftLSR, align))

	// Carry is bit(n-1) of the field for ROR, bit(width-n) for ROL; both
	// are obtained as the last bit an ARM LSR#m shifts out, m chosen so
	// that bit lands there (m=n for ROR, m=width-n+1 for ROL).
	var carryShift uint32
	if left {
		carryShift = width - n + 1
	} else {
		carryShift = n
	}
	carryScratch := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, true, carryScratch, field, hostisa.ShiftLSR, carryShift))

	lo := c.Alloc.AllocTemp()
	hi := c.Alloc.AllocTemp()
	if left {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, lo, field, hostisa.ShiftLSL, n))
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, hi, field, hostisa.ShiftLSR, width-n))
	} else {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, lo, field, hostisa.ShiftLSR, n))
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, hi, field, hostisa.ShiftLSL, width-n))
	}
	rotated := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.OrrReg(hostisa.CondAL, false, rotated, lo, hi))
	emitPartialRegStore(c, dst, rotated, size)
	emitShiftFlags(c, dst, size, true, false)
}

// lowerRox lowers ROXL/ROXR for a quick-immediate count (1-8; the register
// -count form is rejected before this is ever called). It rotates one bit
// at a time through the cached SR's X bit using plain register arithmetic
// rather than ARM's carry flag, following the same "fully unroll a small
// fixed count" idiom internal/opcodes/divmul.go uses for its 32-step
// divide — there's no ARM barrel-shifter mode that folds a 33rd (X) bit
// into a single rotate instruction.
func lowerRox(c *Context, dst hostisa.Reg, count uint32, left bool, size int) {
	width := uint32(32)
	switch size {
	case guest.SizeByte:
		width = 8
	case guest.SizeWord:
		width = 16
	}

	sr := c.CC.CcGet(c.EA.StateBase)
	x := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, x, sr, guest.SRX, 0))
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, x, x, hostisa.ShiftLSR, 4))

	val := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, val, dst))

	bit := c.Alloc.AllocTemp()
	tmp := c.Alloc.AllocTemp()
	for i := uint32(0); i < count; i++ {
		if left {
			c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, bit, val, hostisa.ShiftLSR, width-1))
			c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, bit, bit, 1, 0))
			c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, val, val, hostisa.ShiftLSL, 1))
			c.EmitWord(hostisa.OrrReg(hostisa.CondAL, false, val, val, x))
		} else {
			c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, bit, val, 1, 0))
			c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, val, val, hostisa.ShiftLSR, 1))
			c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, tmp, x, hostisa.ShiftLSL, width-1))
			c.EmitWord(hostisa.OrrReg(hostisa.CondAL, false, val, val, tmp))
		}
		x, bit = bit, x
	}

	if size == guest.SizeLong {
		c.EmitWord(hostisa.MovRegS(hostisa.CondAL, dst, val))
	} else {
		emitPartialRegStore(c, dst, val, size)
	}

	if bits := liveMask(c) & (guest.SRX | guest.SRC); bits != 0 {
		srMod := c.CC.CcModify(c.EA.StateBase)
		c.EmitWord(hostisa.CmpImm(hostisa.CondAL, x, 0, 0))
		c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, srMod, srMod, bits, 0))
		c.EmitWord(hostisa.OrrImm(hostisa.CondNE, false, srMod, srMod, bits, 0))
	}

	emitShiftFlags(c, dst, size, false, false)
}
