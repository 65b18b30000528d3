package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/ea"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// lowerLineB handles CMP/CMPA/CMPM (flags only, no store) and EOR (EA = EA
// ^ Dn), grounded on decodeGroupB.
func lowerLineB(c *Context) (Marker, error) {
	op := c.Opcode
	if op&0xF138 == 0xB108 { // CMPM: Ax reg free (bits 11-9), Ay reg free (bits 2-0)
		ax := (op >> 9) & 0x7
		ay := op & 0x7
		size, ok := decodeSize012((op >> 6) & 0x3)
		if !ok {
			return emitIllegal(c)
		}
		return lowerCMPM(c, ax, ay, size)
	}
	reg := (op >> 9) & 0x7
	mode := (op >> 3) & 0x7
	xreg := op & 0x7

	if op&0x0100 != 0 && (op>>6)&0x3 != 0x3 { // EOR (CMPM split off above; opmode 7 is CMPA.L)
		opmode := (op >> 6) & 0x3
		size, ok := decodeSize012(opmode)
		if !ok {
			return emitIllegal(c)
		}
		eaRes, err := c.EA.Compile(mode, xreg, size, c.PC, c.Dec)
		if err != nil {
			return emitIllegal(c)
		}
		dHost := c.Alloc.MapRead(alloc.D(int(reg)))
		dst := loadOperandRMW(c, eaRes, size)
		c.EmitWord(hostisa.EorReg(hostisa.CondAL, false, dst, dst, dHost))
		emitStore(c, dst, eaRes, size)
		emitNZ00(c, dst, size)
		return MarkerNone, nil
	}

	opmode := (op >> 6) & 0x7
	if opmode == 3 || opmode == 7 { // CMPA.W / CMPA.L
		size := guest.SizeWord
		if opmode == 7 {
			size = guest.SizeLong
		}
		eaRes, err := c.EA.Compile(mode, xreg, size, c.PC, c.Dec)
		if err != nil {
			return emitIllegal(c)
		}
		eaHost := loadOperand(c, eaRes)
		src := eaHost
		if size == guest.SizeWord {
			// CMPA.W sign-extends its source to a full 32-bit word before
			// comparing against An, grounded on ExecCmpa's widen-then-
			// compare path (An itself is never narrower than long).
			ext := c.Alloc.AllocTemp()
			c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, ext, eaHost, hostisa.ShiftLSL, 16))
			c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, ext, ext, hostisa.ShiftASR, 16))
			src = ext
		}
		aHost := c.Alloc.MapRead(alloc.A(int(reg)))
		tmp := c.Alloc.AllocTemp()
		emitArithSized(c, false, tmp, aHost, src, guest.SizeLong, false)
		return MarkerNone, nil
	}
	size, ok := decodeSize012(opmode & 3)
	if !ok {
		return emitIllegal(c)
	}
	eaRes, err := c.EA.Compile(mode, xreg, size, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	eaHost := loadOperand(c, eaRes)
	dHost := c.Alloc.MapRead(alloc.D(int(reg)))
	tmp := c.Alloc.AllocTemp()
	emitArithSized(c, false, tmp, dHost, eaHost, size, false)
	return MarkerNone, nil
}

// lowerCMPM lowers CMPM (Ay)+,(Ax)+, grounded on ExecCmpm: both operands
// are read through the ordinary postincrement effective address (the same
// ea.Compile path ModeARPost drives for any other instruction) and
// compared exactly like CMP, only neither side is ever stored back.
func lowerCMPM(c *Context, ax, ay uint16, size int) (Marker, error) {
	srcRes, err := c.EA.Compile(ea.ModeARPost, ay, size, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	srcHost := loadOperand(c, srcRes)
	dstRes, err := c.EA.Compile(ea.ModeARPost, ax, size, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	dstHost := loadOperand(c, dstRes)
	tmp := c.Alloc.AllocTemp()
	emitArithSized(c, false, tmp, dstHost, srcHost, size, false)
	return MarkerNone, nil
}
