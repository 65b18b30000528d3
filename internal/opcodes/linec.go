package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// lowerLineC handles AND (reg/opmode/mode/xreg decode shared with OR),
// EXG (register-pair exchange), and MULU.W/MULS.W (lowerMulWord in
// divmul.go), grounded on decodeGroupC. ABCD (BCD arithmetic) is outside
// this pass's scope and falls through to the generic illegal-opcode trap,
// tracked in the design ledger.
func lowerLineC(c *Context) (Marker, error) {
	op := c.Opcode
	if op&0xF0C0 == 0xC0C0 { // MULU/MULS.W
		reg := (op >> 9) & 0x7
		signed := (op>>8)&1 != 0
		mode := (op >> 3) & 0x7
		xreg := op & 0x7
		return lowerMulWord(c, reg, signed, mode, xreg)
	}
	if op&0xF1F0 == 0xC100 { // ABCD
		return emitIllegal(c)
	}
	if op&0xF130 == 0xC100 {
		return lowerExg(c, (op>>9)&0x7, op&0x7, (op>>3)&0x1F)
	}

	reg := (op >> 9) & 0x7
	opmode := (op >> 6) & 0x7
	mode := (op >> 3) & 0x7
	xreg := op & 0x7

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
		eaHost := loadOperand(c, eaRes)
		dHost := c.Alloc.MapRead(dReg)
		c.Alloc.MapWrite(dReg)
		c.EmitWord(hostisa.AndReg(hostisa.CondAL, false, dHost, dHost, eaHost))
		emitNZ00(c, dHost, size)
		return MarkerNone, nil
	}
	dHost := c.Alloc.MapRead(dReg)
	dst := loadOperandRMW(c, eaRes, size)
	c.EmitWord(hostisa.AndReg(hostisa.CondAL, false, dst, dst, dHost))
	emitStore(c, dst, eaRes, size)
	emitNZ00(c, dst, size)
	return MarkerNone, nil
}

// lowerExg swaps two registers via a host scratch temporary, grounded on
// decodeGroupC's three EXG forms (Dx/Dy, Ax/Ay, Dx/Ay).
func lowerExg(c *Context, rx, ry, opmode uint16) (Marker, error) {
	var a, b alloc.GuestReg
	switch opmode {
	case 0x08:
		a, b = alloc.D(int(rx)), alloc.D(int(ry))
	case 0x09:
		a, b = alloc.A(int(rx)), alloc.A(int(ry))
	case 0x11:
		a, b = alloc.D(int(rx)), alloc.A(int(ry))
	default:
		return emitIllegal(c)
	}
	aHost := c.Alloc.MapRead(a)
	bHost := c.Alloc.MapRead(b)
	tmp := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, tmp, aHost))
	aDst := c.Alloc.MapWrite(a)
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, aDst, bHost))
	bDst := c.Alloc.MapWrite(b)
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, bDst, tmp))
	return MarkerNone, nil
}
