package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// lowerMoveq handles line 7 (MOVEQ #imm8,Dn), grounded on ExecMoveq: the
// 8-bit immediate is sign-extended to 32 bits and N/Z are set from it
// (always zero for V/C), matching emitNZ00's semantics.
func lowerMoveq(c *Context) (Marker, error) {
	if c.Opcode&0x0100 != 0 {
		return emitIllegal(c) // bit 8 must be 0 for MOVEQ
	}
	reg := (c.Opcode >> 9) & 0x7
	imm := int32(int8(c.Opcode & 0xFF))
	dst := c.Alloc.MapWrite(alloc.D(int(reg)))
	if imm >= 0 {
		if imm8, rot, ok := hostisa.EncodeImmediate(uint32(imm)); ok {
			c.EmitWord(hostisa.MovImm(hostisa.CondAL, dst, imm8, rot))
		} else {
			for _, w := range hostisa.MovImm32(hostisa.CondAL, dst, uint32(imm)) {
				c.EmitWord(w)
			}
		}
	} else {
		for _, w := range hostisa.MovImm32(hostisa.CondAL, dst, uint32(imm)) {
			c.EmitWord(w)
		}
	}
	emitNZ00(c, dst, guest.SizeLong)
	return MarkerNone, nil
}
