package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// lowerLine6 handles BRA/BSR/Bcc, grounded on decodeGroup6 and ExecBRA.
// The branch displacement (byte, word, or long, selected by the low byte
// of the opcode being 0x00, 0xFF, or anything else respectively) is a
// compile-time constant read from the decoder cursor, so the target
// address is computed once here rather than at run time. BSR additionally
// pushes a return address computed from c.PC plus however many extension
// bytes the displacement itself consumed.
func lowerLine6(c *Context) (Marker, error) {
	op := c.Opcode
	cond := (op >> 8) & 0xF
	dispByte := int8(op & 0xFF)

	var disp int32
	var extWidth uint32
	switch dispByte {
	case 0:
		disp = int32(int16(c.Dec.Fetch16()))
		extWidth = 2
	case -1:
		disp = int32(c.Dec.Fetch32())
		extWidth = 4
	default:
		disp = int32(dispByte)
		extWidth = 0
	}
	target := uint32(int32(c.PC) + disp)

	if cond == 1 { // BSR
		a7 := c.Alloc.MapRead(alloc.A(7))
		c.Alloc.MapWrite(alloc.A(7))
		c.EmitWord(hostisa.SubImm(hostisa.CondAL, false, a7, a7, 4, 0))
		retHost := c.Alloc.AllocTemp()
		retPC := c.PC + extWidth
		for _, w := range hostisa.MovImm32(hostisa.CondAL, retHost, retPC) {
			c.EmitWord(w)
		}
		emitGuestStore32(c, retHost, a7, 0)
		return branchUnconditional(c, target)
	}
	if cond == guest.CondT { // BRA
		return branchUnconditional(c, target)
	}
	return branchConditional(c, cond, target)
}

// branchUnconditional materializes target into the guest-PC cache
// register and ends the block; BSR falls back here too once its return
// address has been pushed, since the call itself is an unconditional
// transfer from this TU's point of view.
func branchUnconditional(c *Context, target uint32) (Marker, error) {
	c.CC.PcReset()
	for _, w := range hostisa.MovImm32(hostisa.CondAL, pcReg, target) {
		c.EmitWord(w)
	}
	return MarkerEnd, nil
}

// branchConditional flushes the pending PC offset (pcReg then names this
// branch instruction; the batching of its own length and of anything the
// fall-through path executes resumes afterwards) then conditionally
// overwrites pcReg with target and branches out to the join epilogue. The
// not-taken path falls through the dead branch and continues straight-line
// translation in this TU; the taken path leaves with all dirty state
// stored and pcReg naming the new guest address, skipping the epilogue's
// pending-offset flush on the way out, per MarkerCondExit.
func branchConditional(c *Context, cond uint16, target uint32) (Marker, error) {
	c.CC.PcFlush()
	armCond := evalCondition(c, cond)
	scratch := c.Alloc.AllocTemp()
	for _, w := range hostisa.MovImm32(hostisa.CondAL, scratch, target) {
		c.EmitWord(w)
	}
	c.EmitWord(hostisa.CondMove(armCond, pcReg, scratch))
	emitCondExit(c, armCond)
	return MarkerCondExit, nil
}
