package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/ea"
	"github.com/m68kjit/m68kjit/internal/guest"
)

// lowerMove handles lines 1-3 (MOVE.B/MOVE.L/MOVE.W respectively, the
// teacher's decodeGroup1/2/3), grounded on ExecMove: decode dest first
// (its mode/reg fields sit above the source's in the word), compile both
// operands, and chain load->store directly rather than round-tripping
// through guest memory the way an interpreter executing two separate
// phases would.
func lowerMove(c *Context) (Marker, error) {
	size, ok := decodeMoveSize((c.Opcode >> 12) & 0x3)
	if !ok {
		return emitIllegal(c)
	}
	destMode := (c.Opcode >> 6) & 0x7
	destReg := (c.Opcode >> 9) & 0x7
	srcMode := (c.Opcode >> 3) & 0x7
	srcReg := c.Opcode & 0x7

	src, err := c.EA.Compile(srcMode, srcReg, size, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	// MOVE to An uses the address-register form (no flags affected); mode
	// field reuses ModeAR() when destMode==1, matching the interpreter's
	// explicit MOVEA special case.
	if destMode == uint16(ea.ModeAR) {
		srcHost := loadOperand(c, src)
		dst, derr := c.EA.Compile(destMode, destReg, size, c.PC, c.Dec)
		if derr != nil {
			return emitIllegal(c)
		}
		emitStore(c, srcHost, dst, guest.SizeLong)
		return MarkerNone, nil
	}

	dst, err := c.EA.Compile(destMode, destReg, size, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	srcHost := loadOperand(c, src)
	emitStore(c, srcHost, dst, size)
	emitNZ00(c, srcHost, size)
	return MarkerNone, nil
}
