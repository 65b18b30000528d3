package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// lowerLine8 handles OR, grounded on decodeGroup8's reg/opmode/mode/xreg
// decode and its "OR.L Dn,Dm" fast path for the flag-update shape, and
// DIVU.W/DIVS.W (lowerDivideWord in divmul.go). SBCD/PACK/UNPK (BCD
// arithmetic) are outside this pass's scope and fall through to the
// generic illegal-opcode trap, tracked in the design ledger.
func lowerLine8(c *Context) (Marker, error) {
	op := c.Opcode
	if op&0xF0C0 == 0x80C0 { // DIVU/DIVS.W
		reg := (op >> 9) & 0x7
		signed := (op>>8)&1 != 0
		mode := (op >> 3) & 0x7
		xreg := op & 0x7
		return lowerDivideWord(c, reg, signed, mode, xreg)
	}
	if op&0xF1F0 == 0x8100 || op&0xF1F0 == 0x8140 || op&0xF1F0 == 0x8180 {
		// SBCD/PACK/UNPK share the 0xF1F0 mask family; deferred.
		return emitIllegal(c)
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
		c.EmitWord(hostisa.OrrReg(hostisa.CondAL, false, dHost, dHost, eaHost))
		emitNZ00(c, dHost, size)
		return MarkerNone, nil
	}
	dHost := c.Alloc.MapRead(dReg)
	dst := loadOperandRMW(c, eaRes, size)
	c.EmitWord(hostisa.OrrReg(hostisa.CondAL, false, dst, dst, dHost))
	emitStore(c, dst, eaRes, size)
	emitNZ00(c, dst, size)
	return MarkerNone, nil
}
