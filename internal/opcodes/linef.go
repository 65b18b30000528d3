package opcodes

import (
	"math"
	"math/bits"

	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/ea"
	"github.com/m68kjit/m68kjit/internal/fpu"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// GuestState field offsets the line-F lowerings address directly,
// hand-derived from guest.State's layout the same way pcFieldOffset,
// ccSRFieldOffset, and uspFieldOffset already are: FP0 starts at 96
// (cross-checked against internal/alloc's fpFieldBase), the three FPU
// control registers follow the eight 8-byte data registers, and the
// service-mailbox fields sit past Int32.
const (
	fpRegFieldBase    = 96
	fpcrFieldOffset   = 160
	fpsrFieldOffset   = 164
	fpiarFieldOffset  = 168
	fpuOpFieldOffset  = 176
	fpAddrFieldOffset = 180
	fpFrameFieldBase  = 184

	cacheOpFieldOffset   = 196
	cacheAddrFieldOffset = 200
)

func fpRegFieldOffset(n uint32) int32 { return int32(fpRegFieldBase + 8*n) }

// lowerLineF dispatches line F by coprocessor id, grounded on
// EMIT_lineF/EMIT_FPU in the original's M68k_LINEF.c: cpid 1 is the
// 68881/68882 FPU, cpid 2's space carries the 68040 cache instructions
// and the MMU's PFLUSHA/PTEST (accepted as no-ops), and MOVE16 sits in
// cpid 3's space.
func lowerLineF(c *Context) (Marker, error) {
	op := c.Opcode
	switch {
	case op&0x0E00 == 0x0200:
		return lowerFPU(c)
	case op&0xFFE0 == 0xF500 || op&0xFFD8 == 0xF548: // PFLUSHA / PTEST
		c.EmitWord(hostisa.Nop())
		return MarkerNone, nil
	case op&0xFFF8 == 0xF620:
		return lowerMove16PostPost(c)
	case op&0xFFE0 == 0xF600:
		return lowerMove16Abs(c)
	case op&0xFF20 == 0xF400 && op&0x18 != 0:
		return lowerCacheMaint(c)
	case op&0xFF20 == 0xF420 && op&0x18 != 0:
		return lowerCacheMaint(c)
	}
	return emitIllegal(c)
}

// lowerFPU decodes the FPU half of line F. The forms whose result is pure
// bit movement (FMOVECR, register-to-register FMOVE/FABS/FNEG) stay
// inside the translation unit, working through the FPU register
// allocator; everything that needs real float arithmetic or a memory
// -format conversion builds a service command, parks it in the guest
// state mailbox, and ends the block for the dispatcher to service —
// emitted code cannot call back into the host runtime mid-unit.
func lowerFPU(c *Context) (Marker, error) {
	op := c.Opcode
	switch {
	case op&0xFFC0 == 0xF300:
		return lowerFSAVE(c)
	case op&0xFFC0 == 0xF340:
		return lowerFRESTORE(c)
	case op&0xFF80 == 0xF280:
		return lowerFBcc(c)
	case op&0xFFF8 == 0xF248:
		return lowerFDBcc(c)
	case op&0xFFF8 == 0xF278:
		return lowerFTRAPcc(c)
	case op&0xFFC0 == 0xF240:
		return lowerFScc(c)
	case op&0xFFC0 == 0xF200:
		// General form: the command word follows.
	default:
		return emitIllegal(c)
	}

	opcode2 := c.Dec.Fetch16()

	// FMOVECR #offset,FPn: the constant is known at translate time, so
	// the ROM lookup happens here, not at run time. Checked before the
	// R/M split below — its bit pattern would otherwise read as a
	// memory-source FGEN.
	if op == 0xF200 && opcode2&0xFC00 == 0x5C00 {
		return lowerFMOVECR(c, opcode2)
	}

	switch {
	case opcode2&0xE000 == 0x6000: // FMOVE FPn,<ea>
		return lowerFMoveToEA(c, opcode2)
	case opcode2&0xC3FF == 0x8000: // FMOVE/FMOVEM of FPCR/FPSR/FPIAR
		return lowerFMoveControl(c, opcode2)
	case opcode2&0xC700 == 0xC000: // FMOVEM of FP0-FP7
		return lowerFMOVEM(c, opcode2)
	case opcode2&0x8000 == 0: // FGEN: arithmetic and FMOVE to an FP register
		return lowerFGen(c, opcode2)
	}
	return emitIllegal(c)
}

// lowerFGen lowers the arithmetic/FMOVE-to-register class. Register
// -to-register FMOVE/FABS/FNEG take the inline bit-op fast path; every
// other opmode is an arithmetic operation routed through the service
// mailbox, with the source either another FP register (R/M clear) or a
// memory/data-register/immediate operand in one of the seven formats
// (R/M set).
func lowerFGen(c *Context, opcode2 uint16) (Marker, error) {
	dst := uint32((opcode2 >> 7) & 7)
	opmode := uint32(opcode2 & 0x7F)

	if opcode2&0x4000 == 0 { // source is an FP register
		src := uint32((opcode2 >> 10) & 7)
		switch opcode2 & 0x607F {
		case 0x0000:
			return lowerFMoveReg(c, src, dst)
		case 0x0018:
			return lowerFAbsNeg(c, src, dst, false)
		case 0x001A:
			return lowerFAbsNeg(c, src, dst, true)
		}
		cmd := fpu.CmdSrcFP(fpu.Cmd(opmode, dst), src)
		if opmode >= 0x30 && opmode <= 0x37 {
			cmd = fpu.CmdK(cmd, opmode&7)
		}
		return emitFpuService(c, cmd)
	}

	format := uint32((opcode2 >> 10) & 7)
	if format == 7 {
		// Packed-with-dynamic-k only exists in the store direction.
		return emitIllegal(c)
	}
	mode := (c.Opcode >> 3) & 0x7
	xreg := c.Opcode & 0x7
	loc, reg, ok := compileFPOperand(c, mode, xreg, format)
	if !ok {
		return emitIllegal(c)
	}
	cmd := fpu.CmdOperand(fpu.Cmd(opmode, dst), loc, format)
	if loc == fpu.LocDataReg {
		cmd = fpu.CmdReg(cmd, reg)
	}
	if opmode >= 0x30 && opmode <= 0x37 {
		cmd = fpu.CmdK(cmd, opmode&7)
	}
	return emitFpuService(c, cmd)
}

// lowerFMoveToEA lowers the store direction, FMOVE FPn,<ea>: the service
// converts FP[n] to the named format and writes the destination itself
// (the address or data-register number having been parked alongside the
// command), so the emitted code's whole job is resolving the destination
// operand.
func lowerFMoveToEA(c *Context, opcode2 uint16) (Marker, error) {
	srcFP := uint32((opcode2 >> 7) & 7)
	format := uint32((opcode2 >> 10) & 7)

	cmd := fpu.Cmd(0, srcFP) | fpu.CmdStore
	switch format {
	case fpu.FmtPacked:
		// The static k-factor is a 7-bit signed field; widen its sign to
		// the command's 8-bit slot so the service's int8 read round-trips.
		k := uint32(opcode2 & 0x7F)
		if k&0x40 != 0 {
			k |= 0x80
		}
		cmd = fpu.CmdK(cmd, k)
	case 7: // packed, k-factor in a data register
		format = fpu.FmtPacked
		cmd |= fpu.CmdDynamicK
		cmd = fpu.CmdK(cmd, uint32((opcode2>>4)&7))
	}

	mode := (c.Opcode >> 3) & 0x7
	xreg := c.Opcode & 0x7
	loc, reg, ok := compileFPDest(c, mode, xreg, format)
	if !ok {
		return emitIllegal(c)
	}
	cmd = fpu.CmdOperand(cmd, loc, format)
	if loc == fpu.LocDataReg {
		cmd = fpu.CmdReg(cmd, reg)
	}
	return emitFpuService(c, cmd)
}

// fpFormatBytes is each format's memory footprint; the byte and word
// immediates still occupy a full extension word.
func fpFormatBytes(format uint32) uint32 {
	switch format {
	case fpu.FmtByte:
		return 1
	case fpu.FmtWord:
		return 2
	case fpu.FmtDouble:
		return 8
	case fpu.FmtExtended, fpu.FmtPacked:
		return 12
	}
	return 4
}

// compileFPOperand resolves a source operand for the service: a data
// register, an immediate (captured into the frame image at translate
// time), or a memory effective address parked in GuestState.FpAddr.
func compileFPOperand(c *Context, mode, xreg uint16, format uint32) (loc, reg uint32, ok bool) {
	switch {
	case mode == ea.ModeDR:
		switch format {
		case fpu.FmtLong, fpu.FmtSingle, fpu.FmtWord, fpu.FmtByte:
			return fpu.LocDataReg, uint32(xreg), true
		}
		return 0, 0, false
	case mode == ea.ModeAR:
		return 0, 0, false
	case mode == ea.ModeExt && xreg == 4:
		if !emitImmediateImage(c, format) {
			return 0, 0, false
		}
		return fpu.LocFrame, 0, true
	}
	if !emitFPAddress(c, mode, xreg, format) {
		return 0, 0, false
	}
	return fpu.LocMem, 0, true
}

// compileFPDest is compileFPOperand without the immediate case (a store
// cannot target a literal).
func compileFPDest(c *Context, mode, xreg uint16, format uint32) (loc, reg uint32, ok bool) {
	switch {
	case mode == ea.ModeDR:
		switch format {
		case fpu.FmtLong, fpu.FmtSingle, fpu.FmtWord, fpu.FmtByte:
			return fpu.LocDataReg, uint32(xreg), true
		}
		return 0, 0, false
	case mode == ea.ModeAR, mode == ea.ModeExt && xreg == 4:
		return 0, 0, false
	}
	if !emitFPAddress(c, mode, xreg, format) {
		return 0, 0, false
	}
	return fpu.LocMem, 0, true
}

// emitFPAddress computes a memory operand's effective address and parks it
// in GuestState.FpAddr. The ≤4-byte formats ride the ordinary EA compiler
// (whose auto-increment sizing matches); the 8- and 12-byte formats handle
// (An)+/-(An) themselves, since the EA compiler's size vocabulary stops at
// long.
func emitFPAddress(c *Context, mode, xreg uint16, format uint32) bool {
	size := fpFormatBytes(format)
	if size <= 4 {
		var eaSize int
		switch size {
		case 1:
			eaSize = guest.SizeByte
		case 2:
			eaSize = guest.SizeWord
		default:
			eaSize = guest.SizeLong
		}
		res, err := c.EA.Compile(mode, xreg, eaSize, c.PC, c.Dec)
		if err != nil || res.Kind != ea.KindMemory {
			return false
		}
		c.EmitWord(hostisa.StrImm(hostisa.CondAL, res.AddrHost, c.EA.StateBase, fpAddrFieldOffset, true, false))
		if res.PostAdjust != nil {
			res.PostAdjust()
		}
		return true
	}

	switch mode {
	case ea.ModeARPre:
		g := alloc.A(int(xreg))
		aHost := c.Alloc.MapRead(g)
		c.Alloc.MapWrite(g)
		c.EmitWord(hostisa.SubImm(hostisa.CondAL, false, aHost, aHost, size, 0))
		c.EmitWord(hostisa.StrImm(hostisa.CondAL, aHost, c.EA.StateBase, fpAddrFieldOffset, true, false))
		return true
	case ea.ModeARPost:
		g := alloc.A(int(xreg))
		aHost := c.Alloc.MapRead(g)
		c.Alloc.MapWrite(g)
		c.EmitWord(hostisa.StrImm(hostisa.CondAL, aHost, c.EA.StateBase, fpAddrFieldOffset, true, false))
		c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, aHost, aHost, size, 0))
		return true
	}
	res, err := c.EA.Compile(mode, xreg, guest.SizeLong, c.PC, c.Dec)
	if err != nil || res.Kind != ea.KindMemory {
		return false
	}
	c.EmitWord(hostisa.StrImm(hostisa.CondAL, res.AddrHost, c.EA.StateBase, fpAddrFieldOffset, true, false))
	return true
}

// emitImmediateImage captures an immediate operand's extension words at
// translate time and emits stores reproducing their big-endian image in
// GuestState.FpFrame.
func emitImmediateImage(c *Context, format uint32) bool {
	var img [12]byte
	n := fpFormatBytes(format)
	switch format {
	case fpu.FmtByte:
		img[0] = byte(c.Dec.Fetch16())
	case fpu.FmtWord:
		w := c.Dec.Fetch16()
		img[0], img[1] = byte(w>>8), byte(w)
	default:
		for i := uint32(0); i < n; i += 2 {
			w := c.Dec.Fetch16()
			img[i], img[i+1] = byte(w>>8), byte(w)
		}
	}

	words := (n + 3) / 4
	tmp := c.Alloc.AllocTemp()
	for i := uint32(0); i < words; i++ {
		// The frame holds the image in raw byte order, which on this
		// little-endian host means assembling each stored word LSB-first.
		v := uint32(img[4*i]) | uint32(img[4*i+1])<<8 | uint32(img[4*i+2])<<16 | uint32(img[4*i+3])<<24
		for _, w := range hostisa.MovImm32(hostisa.CondAL, tmp, v) {
			c.EmitWord(w)
		}
		c.EmitWord(hostisa.StrImm(hostisa.CondAL, tmp, c.EA.StateBase, fpFrameFieldBase+int32(4*i), true, false))
	}
	return true
}

// emitFpuService parks cmd in the mailbox and ends the block; the
// dispatcher runs internal/fpu.Service before the next lookup, and
// execution resumes at the following guest instruction.
func emitFpuService(c *Context, cmd uint32) (Marker, error) {
	tmp := c.Alloc.AllocTemp()
	for _, w := range hostisa.MovImm32(hostisa.CondAL, tmp, cmd) {
		c.EmitWord(w)
	}
	c.EmitWord(hostisa.StrImm(hostisa.CondAL, tmp, c.EA.StateBase, fpuOpFieldOffset, true, false))
	return MarkerEndNextPC, nil
}

// lowerFMOVECR materializes a ROM constant into FPn, with the FPSR
// condition codes — also fully known at translate time — rewritten to
// match.
func lowerFMOVECR(c *Context, opcode2 uint16) (Marker, error) {
	fpDst := int((opcode2 >> 7) & 7)
	offset := opcode2 & 0x7F

	value := fpu.FMOVECRConstants[offset]
	b := math.Float64bits(value)

	dst := c.FP.MapWrite(fpDst)
	for _, w := range hostisa.MovImm32(hostisa.CondAL, dst.Lo, uint32(b)) {
		c.EmitWord(w)
	}
	for _, w := range hostisa.MovImm32(hostisa.CondAL, dst.Hi, uint32(b>>32)) {
		c.EmitWord(w)
	}

	var cc uint32
	switch {
	case math.IsNaN(value):
		cc = guest.FPSRNAN
	case math.IsInf(value, 0):
		cc = guest.FPSRI
	case value == 0:
		cc = guest.FPSRZ
	}
	if math.Signbit(value) {
		cc |= guest.FPSRN
	}
	emitFPccConstant(c, cc)
	return MarkerNone, nil
}

// lowerFMoveReg lowers FMOVE.X FPm,FPn as an 8-byte bit copy: the source
// pair is read through the FPU allocator and stored straight into the
// destination's guest-state slot (whose stale mapping, if any, is
// discarded first) — no conversion, since every FP register holds the
// same float64 pattern.
func lowerFMoveReg(c *Context, src, dst uint32) (Marker, error) {
	pair := c.FP.MapRead(int(src))
	if src != dst {
		c.FP.Discard(int(dst))
		c.EmitWord(hostisa.StrImm(hostisa.CondAL, pair.Lo, c.EA.StateBase, fpRegFieldOffset(dst), true, false))
		c.EmitWord(hostisa.StrImm(hostisa.CondAL, pair.Hi, c.EA.StateBase, fpRegFieldOffset(dst)+4, true, false))
	}
	emitFPccFromPair(c, pair.Lo, pair.Hi)
	return MarkerNone, nil
}

// lowerFAbsNeg lowers FABS/FNEG FPm,FPn: a float64's sign lives in the
// top bit of its high word, so the whole operation is one BIC or EOR —
// grounded on the original's own register-form FABS fast path.
func lowerFAbsNeg(c *Context, src, dst uint32, negate bool) (Marker, error) {
	pair := c.FP.MapRead(int(src))
	imm8, rot, _ := hostisa.EncodeImmediate(1 << 31)

	if src == dst {
		if negate {
			c.EmitWord(hostisa.EorImm(hostisa.CondAL, false, pair.Hi, pair.Hi, imm8, rot))
		} else {
			c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, pair.Hi, pair.Hi, imm8, rot))
		}
		c.FP.SetDirty(int(src))
		emitFPccFromPair(c, pair.Lo, pair.Hi)
		return MarkerNone, nil
	}

	hi := c.Alloc.AllocTemp()
	if negate {
		c.EmitWord(hostisa.EorImm(hostisa.CondAL, false, hi, pair.Hi, imm8, rot))
	} else {
		c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, hi, pair.Hi, imm8, rot))
	}
	c.FP.Discard(int(dst))
	c.EmitWord(hostisa.StrImm(hostisa.CondAL, pair.Lo, c.EA.StateBase, fpRegFieldOffset(dst), true, false))
	c.EmitWord(hostisa.StrImm(hostisa.CondAL, hi, c.EA.StateBase, fpRegFieldOffset(dst)+4, true, false))
	emitFPccFromPair(c, pair.Lo, hi)
	return MarkerNone, nil
}

// emitFPccConstant rewrites FPSR's condition-code byte to a value known at
// translate time.
func emitFPccConstant(c *Context, cc uint32) {
	f := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.LdrImm(hostisa.CondAL, f, c.EA.StateBase, fpsrFieldOffset, true, false))
	ccImm, ccRot, _ := hostisa.EncodeImmediate(guest.FPSRCC)
	c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, f, f, ccImm, ccRot))
	if cc != 0 {
		imm8, rot, _ := hostisa.EncodeImmediate(cc)
		c.EmitWord(hostisa.OrrImm(hostisa.CondAL, false, f, f, imm8, rot))
	}
	c.EmitWord(hostisa.StrImm(hostisa.CondAL, f, c.EA.StateBase, fpsrFieldOffset, true, false))
}

// emitFPccFromPair recomputes FPSR's condition-code byte from the float64
// bit pattern split across two host registers: N is the sign bit, Z means
// everything below it is clear, and the infinity/NaN split keys off an
// all-ones exponent with a zero or non-zero mantissa.
func emitFPccFromPair(c *Context, lo, hi hostisa.Reg) {
	f := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.LdrImm(hostisa.CondAL, f, c.EA.StateBase, fpsrFieldOffset, true, false))
	ccImm, ccRot, _ := hostisa.EncodeImmediate(guest.FPSRCC)
	c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, f, f, ccImm, ccRot))

	signImm, signRot, _ := hostisa.EncodeImmediate(1 << 31)
	nImm, nRot, _ := hostisa.EncodeImmediate(guest.FPSRN)
	c.EmitWord(hostisa.TstImm(hostisa.CondAL, hi, signImm, signRot))
	c.EmitWord(hostisa.OrrImm(hostisa.CondNE, false, f, f, nImm, nRot))

	// Z: sign dropped, every remaining bit of both words clear.
	t := c.Alloc.AllocTemp()
	m := c.Alloc.AllocTemp()
	zImm, zRot, _ := hostisa.EncodeImmediate(guest.FPSRZ)
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, t, hi, hostisa.ShiftLSL, 1))
	c.EmitWord(hostisa.OrrReg(hostisa.CondAL, true, t, t, lo))
	c.EmitWord(hostisa.OrrImm(hostisa.CondEQ, false, f, f, zImm, zRot))

	// Exponent field: shift the sign away, bring the 11 exponent bits
	// down, and test for all-ones via the +1 carry into bit 11.
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, t, hi, hostisa.ShiftLSL, 1))
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, t, t, hostisa.ShiftLSR, 21))
	c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, t, t, 1, 0))
	limitImm, limitRot, _ := hostisa.EncodeImmediate(0x800)
	c.EmitWord(hostisa.CmpImm(hostisa.CondAL, t, limitImm, limitRot))
	c.EmitWord(hostisa.MovImm(hostisa.CondEQ, t, 1, 0))
	c.EmitWord(hostisa.MovImm(hostisa.CondNE, t, 0, 0))

	// Mantissa-zero flag.
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, m, hi, hostisa.ShiftLSL, 12))
	c.EmitWord(hostisa.OrrReg(hostisa.CondAL, true, m, m, lo))
	c.EmitWord(hostisa.MovImm(hostisa.CondEQ, m, 1, 0))
	c.EmitWord(hostisa.MovImm(hostisa.CondNE, m, 0, 0))

	iImm, iRot, _ := hostisa.EncodeImmediate(guest.FPSRI)
	nanImm, nanRot, _ := hostisa.EncodeImmediate(guest.FPSRNAN)
	c.EmitWord(hostisa.AndReg(hostisa.CondAL, true, c.EA.Scratch, t, m))
	c.EmitWord(hostisa.OrrImm(hostisa.CondNE, false, f, f, iImm, iRot))
	c.EmitWord(hostisa.BicReg(hostisa.CondAL, true, c.EA.Scratch, t, m))
	c.EmitWord(hostisa.OrrImm(hostisa.CondNE, false, f, f, nanImm, nanRot))

	c.EmitWord(hostisa.StrImm(hostisa.CondAL, f, c.EA.StateBase, fpsrFieldOffset, true, false))
}

// lowerFMoveControl lowers FMOVE/FMOVEM of the control registers
// (FPCR/FPSR/FPIAR): plain 32-bit traffic between guest-state fields and
// the operand, multiple registers transferring in FPCR-first order.
func lowerFMoveControl(c *Context, opcode2 uint16) (Marker, error) {
	fromControl := opcode2&0x2000 != 0
	var sel []int32
	if opcode2&0x1000 != 0 {
		sel = append(sel, fpcrFieldOffset)
	}
	if opcode2&0x0800 != 0 {
		sel = append(sel, fpsrFieldOffset)
	}
	if opcode2&0x0400 != 0 {
		sel = append(sel, fpiarFieldOffset)
	}
	if len(sel) == 0 {
		return emitIllegal(c)
	}

	mode := (c.Opcode >> 3) & 0x7
	xreg := c.Opcode & 0x7

	switch {
	case mode == ea.ModeDR, mode == ea.ModeAR:
		if len(sel) != 1 {
			return emitIllegal(c)
		}
		if mode == ea.ModeAR && sel[0] != fpiarFieldOffset {
			return emitIllegal(c)
		}
		g := alloc.D(int(xreg))
		if mode == ea.ModeAR {
			g = alloc.A(int(xreg))
		}
		if fromControl {
			host := c.Alloc.MapWrite(g)
			c.EmitWord(hostisa.LdrImm(hostisa.CondAL, host, c.EA.StateBase, sel[0], true, false))
		} else {
			host := c.Alloc.MapRead(g)
			c.EmitWord(hostisa.StrImm(hostisa.CondAL, host, c.EA.StateBase, sel[0], true, false))
		}
		return MarkerNone, nil

	case mode == ea.ModeExt && xreg == 4: // immediate, to-control only
		if fromControl {
			return emitIllegal(c)
		}
		tmp := c.Alloc.AllocTemp()
		for _, off := range sel {
			v := c.Dec.Fetch32()
			for _, w := range hostisa.MovImm32(hostisa.CondAL, tmp, v) {
				c.EmitWord(w)
			}
			c.EmitWord(hostisa.StrImm(hostisa.CondAL, tmp, c.EA.StateBase, off, true, false))
		}
		return MarkerNone, nil
	}

	count := uint32(len(sel))
	base, ok := emitMultiwordBase(c, mode, xreg, 4*count)
	if !ok {
		return emitIllegal(c)
	}
	c.Alloc.LockHost(base)
	tmp := c.Alloc.AllocTemp()
	for i, off := range sel {
		if fromControl {
			c.EmitWord(hostisa.LdrImm(hostisa.CondAL, tmp, c.EA.StateBase, off, true, false))
			emitGuestStore32(c, tmp, base, int32(4*i))
		} else {
			emitGuestLoad32(c, tmp, base, int32(4*i))
			c.EmitWord(hostisa.StrImm(hostisa.CondAL, tmp, c.EA.StateBase, off, true, false))
		}
	}
	c.Alloc.UnlockHost(base)
	return MarkerNone, nil
}

// emitMultiwordBase resolves a memory operand that a multi-register
// transfer walks with ascending offsets: predecrement backs the address
// register up by the whole span first, postincrement advances it past the
// span, every other mode uses the EA as computed.
func emitMultiwordBase(c *Context, mode, xreg uint16, span uint32) (hostisa.Reg, bool) {
	switch mode {
	case ea.ModeDR, ea.ModeAR:
		return 0, false
	case ea.ModeARPre:
		g := alloc.A(int(xreg))
		aHost := c.Alloc.MapRead(g)
		c.Alloc.MapWrite(g)
		c.EmitWord(hostisa.SubImm(hostisa.CondAL, false, aHost, aHost, span, 0))
		return aHost, true
	case ea.ModeARPost:
		g := alloc.A(int(xreg))
		aHost := c.Alloc.MapRead(g)
		c.Alloc.MapWrite(g)
		base := c.Alloc.AllocTemp()
		c.EmitWord(hostisa.MovRegS(hostisa.CondAL, base, aHost))
		c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, aHost, aHost, span, 0))
		return base, true
	}
	res, err := c.EA.Compile(mode, xreg, guest.SizeLong, c.PC, c.Dec)
	if err != nil || res.Kind != ea.KindMemory {
		return 0, false
	}
	return res.AddrHost, true
}

// lowerFMOVEM lowers FMOVEM of the FP data registers, always in the
// 96-bit extended format, 12 bytes per register. The emitted code
// resolves the base address (performing the whole predecrement/
// postincrement adjustment itself, the span being a translate-time
// constant) and the service moves the bytes. The dynamic (Dn-held)
// register list form is not lowered — its mask is unknowable at translate
// time — matching the original, which rejects it too.
func lowerFMOVEM(c *Context, opcode2 uint16) (Marker, error) {
	if opcode2&0x0800 != 0 { // dynamic list
		return emitIllegal(c)
	}
	toMemory := opcode2&0x2000 != 0
	mask := uint32(opcode2 & 0xFF)
	mode := (c.Opcode >> 3) & 0x7
	xreg := c.Opcode & 0x7

	if mode == ea.ModeARPre {
		if !toMemory {
			return emitIllegal(c)
		}
		// Predecrement lists number FP7-first; normalise to the FP0-first
		// order the service walks.
		mask = uint32(bits.Reverse8(uint8(mask)))
	} else if mode == ea.ModeARPost && toMemory {
		return emitIllegal(c)
	}

	count := uint32(bits.OnesCount8(uint8(mask)))
	if count == 0 {
		return MarkerNone, nil
	}
	base, ok := emitMultiwordBase(c, mode, xreg, 12*count)
	if !ok {
		return emitIllegal(c)
	}
	c.EmitWord(hostisa.StrImm(hostisa.CondAL, base, c.EA.StateBase, fpAddrFieldOffset, true, false))

	op := uint32(fpu.OpMovemToRegs)
	if toMemory {
		op = fpu.OpMovemToMem
	}
	return emitFpuService(c, fpu.CmdK(fpu.Cmd(op, 0), mask))
}

// lowerFSAVE writes the minimal IDLE state frame (format word 0x4100 in
// the high half, nothing after it) — this FPU keeps no internal pipeline
// state a frame would need to preserve. Privileged.
func lowerFSAVE(c *Context) (Marker, error) {
	emitPrivilegeCheck(c)
	mode := (c.Opcode >> 3) & 0x7
	xreg := c.Opcode & 0x7
	res, err := c.EA.Compile(mode, xreg, guest.SizeLong, c.PC, c.Dec)
	if err != nil || res.Kind != ea.KindMemory {
		return emitIllegal(c)
	}
	tmp := c.Alloc.AllocTemp()
	for _, w := range hostisa.MovImm32(hostisa.CondAL, tmp, 0x41000000) {
		c.EmitWord(w)
	}
	emitStore(c, tmp, res, guest.SizeLong)
	return MarkerNone, nil
}

// lowerFRESTORE reads a state frame: a NULL frame resets the FPU to its
// power-up state (requested through the service mailbox, under a
// condition the emitted code evaluates), an IDLE frame restores nothing
// but must have its remaining 24 bytes skipped in postincrement mode.
// Privileged; ends the block since the reset runs in the dispatcher.
func lowerFRESTORE(c *Context) (Marker, error) {
	emitPrivilegeCheck(c)
	mode := (c.Opcode >> 3) & 0x7
	xreg := c.Opcode & 0x7
	res, err := c.EA.Compile(mode, xreg, guest.SizeLong, c.PC, c.Dec)
	if err != nil || res.Kind != ea.KindMemory {
		return emitIllegal(c)
	}
	frame := loadOperand(c, res)
	c.Alloc.LockHost(frame)

	format := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, format, frame, hostisa.ShiftLSR, 24))

	// NULL frame: park the reset command, conditionally.
	cmdReg := c.Alloc.AllocTemp()
	for _, w := range hostisa.MovImm32(hostisa.CondAL, cmdReg, fpu.Cmd(fpu.OpReset, 0)) {
		c.EmitWord(w)
	}
	c.EmitWord(hostisa.CmpImm(hostisa.CondAL, format, 0, 0))
	c.EmitWord(hostisa.StrImm(hostisa.CondEQ, cmdReg, c.EA.StateBase, fpuOpFieldOffset, true, false))

	// IDLE frame via postincrement: skip the 24 bytes the 4-byte load
	// didn't consume.
	if mode == ea.ModeARPost {
		g := alloc.A(int(xreg))
		aHost := c.Alloc.MapRead(g)
		c.Alloc.MapWrite(g)
		c.EmitWord(hostisa.CmpImm(hostisa.CondAL, format, 0x41, 0))
		c.EmitWord(hostisa.AddImm(hostisa.CondEQ, false, aHost, aHost, 24, 0))
	}
	c.Alloc.UnlockHost(frame)
	return MarkerEndNextPC, nil
}
