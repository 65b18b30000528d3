package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/ea"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// lowerLineAddSub returns the line-9 (SUB) or line-D (ADD) lowering
// function, grounded on ExecAdd/ExecSub: both share the reg/opmode/mode
// /xreg decode and the direction bit selecting whether Dn is the source or
// destination. The same two lines also carry three relatives dispatched
// before the generic path: ADDA/SUBA (opmode 011/111, address destination,
// no flag effect, word source sign-extended), and ADDX/SUBX (direction set
// with EA mode 00x, the multi-precision forms that fold the X flag into
// the operation, register-to-register or -(Ay) to -(Ax)). Flag synthesis
// for the generic forms is emitArithSized's job (flags.go) — see its doc
// comment for why a byte/word ADD/SUB can't just trust the host ALU's
// full-32-bit ADDS/SUBS flags.
func lowerLineAddSub(isAdd bool) LowerFunc {
	return func(c *Context) (Marker, error) {
		reg := (c.Opcode >> 9) & 0x7
		opmode := (c.Opcode >> 6) & 0x7
		mode := (c.Opcode >> 3) & 0x7
		xreg := c.Opcode & 0x7

		if opmode == 3 || opmode == 7 {
			return lowerAddaSuba(c, isAdd, reg, opmode, mode, xreg)
		}
		if c.Opcode&0x0130 == 0x0100 {
			// direction set with EA mode 000/001: ADDX/SUBX.
			return lowerAddxSubx(c, isAdd, reg, opmode&3, mode, xreg)
		}

		size, ok := decodeSize012(opmode & 3)
		if !ok {
			return emitIllegal(c)
		}
		direction := (opmode >> 2) & 1

		eaRes, err := c.EA.Compile(mode, xreg, size, c.PC, c.Dec)
		if err != nil {
			return emitIllegal(c)
		}

		dReg := alloc.D(int(reg))
		if direction == 0 {
			// EA is source, Dn is destination: Dn = Dn OP EA.
			eaHost := loadOperand(c, eaRes)
			dHost := c.Alloc.MapRead(dReg)
			c.Alloc.MapWrite(dReg)
			emitArithSized(c, isAdd, dHost, dHost, eaHost, size, true)
			return MarkerNone, nil
		}
		// Dn is source, EA is destination: EA = EA OP Dn.
		dHost := c.Alloc.MapRead(dReg)
		dst := loadOperand(c, eaRes)
		emitArithSized(c, isAdd, dst, dst, dHost, size, true)
		emitStore(c, dst, eaRes, size)
		return MarkerNone, nil
	}
}

// lowerAddaSuba lowers ADDA/SUBA <ea>,An: the whole address register is
// rewritten, a word-sized source is sign-extended first, and no flag is
// touched — the same no-CCR special case ADDQ/SUBQ already make for an
// address-register destination.
func lowerAddaSuba(c *Context, isAdd bool, reg, opmode, mode, xreg uint16) (Marker, error) {
	size := guest.SizeLong
	if opmode == 3 {
		size = guest.SizeWord
	}
	eaRes, err := c.EA.Compile(mode, xreg, size, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	src := loadOperand(c, eaRes)
	if size == guest.SizeWord {
		wide := c.Alloc.AllocTemp()
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, wide, src, hostisa.ShiftLSL, 16))
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, wide, wide, hostisa.ShiftASR, 16))
		src = wide
	}
	g := alloc.A(int(reg))
	aHost := c.Alloc.MapRead(g)
	c.Alloc.MapWrite(g)
	if isAdd {
		c.EmitWord(hostisa.AddReg(hostisa.CondAL, false, aHost, aHost, src, hostisa.ShiftLSL, 0))
	} else {
		c.EmitWord(hostisa.SubReg(hostisa.CondAL, false, aHost, aHost, src, hostisa.ShiftLSL, 0))
	}
	return MarkerNone, nil
}

// lowerAddxSubx lowers ADDX/SUBX, grounded on ExecAddx/ExecSubx and
// M68k_LINE9.c's X-through-host-carry framing: the X flag joins the
// arithmetic, and Z accumulates across the multi-precision chain instead
// of being set outright. Register form is Dy into Dx; memory form
// predecrements both address registers and works source-first, matching
// the guest's own operand order.
func lowerAddxSubx(c *Context, isAdd bool, rx, sizeBits, mode, ry uint16) (Marker, error) {
	size, ok := decodeSize012(sizeBits)
	if !ok {
		return emitIllegal(c)
	}

	if mode == 0 { // Dy,Dx
		srcHost := c.Alloc.MapRead(alloc.D(int(ry)))
		g := alloc.D(int(rx))
		dstHost := c.Alloc.MapRead(g)
		c.Alloc.MapWrite(g)
		emitArithExtended(c, isAdd, dstHost, dstHost, srcHost, size)
		return MarkerNone, nil
	}

	// -(Ay),-(Ax)
	srcRes, err := c.EA.Compile(ea.ModeARPre, ry, size, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	src := loadOperand(c, srcRes)
	dstRes, err := c.EA.Compile(ea.ModeARPre, rx, size, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	dst := loadOperand(c, dstRes)
	emitArithExtended(c, isAdd, dst, dst, src, size)
	emitStore(c, dst, dstRes, size)
	return MarkerNone, nil
}

func decodeSize012(bits uint16) (int, bool) {
	switch bits {
	case 0:
		return guest.SizeByte, true
	case 1:
		return guest.SizeWord, true
	case 2:
		return guest.SizeLong, true
	}
	return 0, false
}
