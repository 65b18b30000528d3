package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/ea"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// Line-4 exact-match and masked opcode values, one-for-one with the
// teacher's M68K_NOP/M68K_RTS/M68K_TRAP/M68K_JSR/M68K_JMP/M68K_LEA/
// M68K_CLR/M68K_NOT/M68K_NEG constants in cpu_m68k.go.
const (
	opNOP   = 0x4E71
	opRTS   = 0x4E75
	opRTE   = 0x4E73
	opRTR   = 0x4E77
	opRTD   = 0x4E74
	opRESET = 0x4E70
	opSTOP  = 0x4E72
	opTRAP  = 0x4E40
	opJSR   = 0x4E80
	opJMP   = 0x4EC0
	opLEA   = 0x41C0
	opCLR   = 0x4200
	opNOT   = 0x4600
	opNEG   = 0x4400

	opMoveToCCR   = 0x44C0 // reuses NEG's reserved opmode=11 slot
	opMoveFromCCR = 0x42C0 // reuses CLR's reserved opmode=11 slot
	opMoveToSR    = 0x46C0 // reuses NOT's reserved opmode=11 slot
	opMoveFromSR  = 0x40C0 // NEGX's opcode byte, never claimed by NEGX itself here

	opMoveUSP = 0x4E60
	opUNLK    = 0x4E58
	opLinkW   = 0x4E50
	opLinkL   = 0x4808 // 68020

	opNEGX    = 0x4000
	opTST     = 0x4A00
	opTAS     = 0x4AC0
	opILLEGAL = 0x4AFC

	opNBCD    = 0x4800
	opSwapPea = 0x4840 // mode 000 is SWAP, every other mode is PEA
	opExtW    = 0x4880
	opExtL    = 0x48C0
	opMovem   = 0x4880 // general form, mask 0xFB80 (EXT's mode=000 slot excluded by checking EXT first)

	opMulL = 0x4C00 // 68020
	opDivL = 0x4C40 // 68020
)

// lowerLine4 handles line 4's exact-match control instructions (NOP, RTS,
// RTE, RTR, RTD, RESET, STOP, TRAP, ILLEGAL) and the masked unary/
// addressing/register-management forms (LEA, CLR, NOT, NEG, NEGX, TST,
// TAS, NBCD, JSR, JMP, MOVE to/from SR/CCR/USP, SWAP, EXT, PEA, LINK/UNLK,
// MOVEM, and the 68020 single-register long MUL/DIV forms), grounded on
// decodeGroup4.
func lowerLine4(c *Context) (Marker, error) {
	op := c.Opcode

	switch op {
	case opNOP:
		c.EmitWord(hostisa.Nop())
		return MarkerNone, nil
	case opRTS:
		return lowerRTS(c)
	case opRTE:
		return lowerRTE(c)
	case opRTR:
		return lowerRTR(c)
	case opRTD:
		return lowerRTD(c)
	case opRESET:
		return lowerRESET(c)
	case opSTOP:
		return lowerSTOP(c)
	}

	if op&0xFFF0 == opTRAP {
		return lowerTRAP(c, op&0xF)
	}
	if op&0xFFC0 == opJSR {
		return lowerJSR(c, (op>>3)&0x7, op&0x7)
	}
	if op&0xFFC0 == opJMP {
		return lowerJMP(c, (op>>3)&0x7, op&0x7)
	}
	if op&0xF1C0 == opLEA {
		return lowerLEA(c, (op>>9)&0x7, (op>>3)&0x7, op&0x7)
	}

	// MOVE to/from SR/CCR claim the "reserved" opmode=11 slot inside CLR/
	// NOT/NEG's own opcode byte (and the otherwise-unused NEGX byte for
	// MOVE SR,<ea>), so each must be checked before its host unary op.
	if op&0xFFC0 == opMoveToCCR {
		return lowerMoveToCCR(c, (op>>3)&0x7, op&0x7)
	}
	if op&0xFFC0 == opMoveFromCCR {
		return lowerMoveFromCCR(c, (op>>3)&0x7, op&0x7)
	}
	if op&0xFFC0 == opMoveToSR {
		return lowerMoveToSR(c, (op>>3)&0x7, op&0x7)
	}
	if op&0xFFC0 == opMoveFromSR {
		return lowerMoveFromSR(c, (op>>3)&0x7, op&0x7)
	}

	if op&0xFF00 == opCLR {
		return lowerClrNotNeg(c, unaryClr, (op>>6)&0x3, (op>>3)&0x7, op&0x7)
	}
	if op&0xFF00 == opNOT {
		return lowerClrNotNeg(c, unaryNot, (op>>6)&0x3, (op>>3)&0x7, op&0x7)
	}
	if op&0xFF00 == opNEG {
		return lowerClrNotNeg(c, unaryNeg, (op>>6)&0x3, (op>>3)&0x7, op&0x7)
	}
	if op&0xFF00 == opNEGX {
		return lowerClrNotNeg(c, unaryNegx, (op>>6)&0x3, (op>>3)&0x7, op&0x7)
	}
	if op == opILLEGAL {
		return emitIllegal(c)
	}
	if op&0xFFC0 == opTAS {
		return lowerTAS(c, (op>>3)&0x7, op&0x7)
	}
	if op&0xFF00 == opTST {
		return lowerTST(c, (op>>6)&0x3, (op>>3)&0x7, op&0x7)
	}

	if op&0xFFF0 == opMoveUSP {
		reg := op & 0x7
		if op&0x8 == 0 {
			return lowerMoveToUSP(c, reg)
		}
		return lowerMoveFromUSP(c, reg)
	}
	if op&0xFFF8 == opUNLK {
		return lowerUnlk(c, op&0x7)
	}
	if op&0xFFF8 == opLinkW {
		return lowerLinkWord(c, op&0x7)
	}
	if op&0xFFF8 == opLinkL {
		return lowerLinkLong(c, op&0x7)
	}

	if op&0xFFC0 == opMulL {
		return lowerMulLong(c, (op>>3)&0x7, op&0x7)
	}
	if op&0xFFC0 == opDivL {
		return lowerDivLong(c, (op>>3)&0x7, op&0x7)
	}

	if op&0xFFC0 == opNBCD {
		return lowerNBCD(c, (op>>3)&0x7, op&0x7)
	}
	if op&0xFFC0 == opSwapPea {
		mode := (op >> 3) & 0x7
		reg := op & 0x7
		if mode == 0 {
			return lowerSwap(c, reg)
		}
		return lowerPEA(c, mode, reg)
	}
	if op&0xFFF8 == opExtW {
		return lowerExtWord(c, op&0x7)
	}
	if op&0xFFF8 == opExtL {
		return lowerExtLong(c, op&0x7)
	}
	if op&0xFB80 == opMovem {
		d := (op >> 10) & 0x1
		s := (op >> 6) & 0x1
		mode := (op >> 3) & 0x7
		reg := op & 0x7
		return lowerMOVEM(c, d, s, mode, reg)
	}

	return emitIllegal(c)
}

// pcReg is the reserved host register caching GuestState.PC (§4.2); fixed
// here the same way stateBase is fixed in internal/ea and internal/alloc.
const pcReg = hostisa.Reg(9)

// uspFieldOffset is GuestState.USP's byte offset: D[8]+A[8] (32+32 bytes)
// precede it, the same arithmetic cc.go's ccSRFieldOffset is derived by
// (USP/MSP/ISP/PC then land at 64/68/72/76, SR at 80 matches ccSRFieldOffset
// exactly, cross-checking this constant against that one).
const uspFieldOffset = 64

// lowerRTS emits the pop-PC-from-stack sequence: load the return address
// from (A7), then advance A7 by 4, and signal the block's end — the
// dispatcher resumes lookup from whatever guest address ends up in the PC
// host register.
func lowerRTS(c *Context) (Marker, error) {
	a7 := c.Alloc.MapRead(alloc.A(7))
	tmp := c.Alloc.AllocTemp()
	emitGuestLoad32(c, tmp, a7, 0)
	c.CC.PcReset()
	c.Alloc.MapWrite(alloc.A(7))
	c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, a7, a7, 4, 0))
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, pcReg, tmp))
	return MarkerEnd, nil
}

// lowerRTD lowers RTD #disp (68010+): pops the return address exactly like
// RTS, then applies an additional signed displacement to A7 — the callee
// -cleans-up-the-caller's-arguments convention.
func lowerRTD(c *Context) (Marker, error) {
	disp := int32(int16(c.Dec.Fetch16()))
	a7 := c.Alloc.MapRead(alloc.A(7))
	tmp := c.Alloc.AllocTemp()
	emitGuestLoad32(c, tmp, a7, 0)
	c.CC.PcReset()
	a7w := c.Alloc.MapWrite(alloc.A(7))
	c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, a7w, a7w, 4, 0))
	emitAddDisp(c, a7w, a7w, disp)
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, pcReg, tmp))
	return MarkerEnd, nil
}

// lowerRTR pops CCR (the low byte of a stack word) then the return PC,
// restoring the flags before transferring control — grounded on ExecRtr.
func lowerRTR(c *Context) (Marker, error) {
	a7 := c.Alloc.MapRead(alloc.A(7))
	ccr := c.Alloc.AllocTemp()
	emitGuestLoad16(c, ccr, a7, 0)
	pcVal := c.Alloc.AllocTemp()
	emitGuestLoad32(c, pcVal, a7, 2)

	sr := c.CC.CcModify(c.EA.StateBase)
	c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, sr, sr, 0xFF, 0))
	masked := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, masked, ccr, 0xFF, 0))
	c.EmitWord(hostisa.OrrReg(hostisa.CondAL, false, sr, sr, masked))

	c.CC.PcReset()
	a7w := c.Alloc.MapWrite(alloc.A(7))
	c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, a7w, a7w, 6, 0))
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, pcReg, pcVal))
	return MarkerEnd, nil
}

// lowerRTE pops SR then the return PC from the basic two-word 68000
// exception frame (the 68010+ format/vector word and its alternate frame
// shapes for bus/address errors are outside this pass's scope), grounded
// on ExecRte.
func lowerRTE(c *Context) (Marker, error) {
	emitPrivilegeCheck(c)
	a7 := c.Alloc.MapRead(alloc.A(7))
	srVal := c.Alloc.AllocTemp()
	emitGuestLoad16(c, srVal, a7, 0)
	pcVal := c.Alloc.AllocTemp()
	emitGuestLoad32(c, pcVal, a7, 2)

	sr := c.CC.CcModify(c.EA.StateBase)
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, sr, srVal))

	c.CC.PcReset()
	a7w := c.Alloc.MapWrite(alloc.A(7))
	c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, a7w, a7w, 6, 0))
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, pcReg, pcVal))
	return MarkerEnd, nil
}

// lowerRESET is a guest-register no-op: RESET only pulses an external reset
// line (§ whatever's wired to the emulated bus), which is outside this
// translator's guest-register-file model, so the only architectural effect
// left to reproduce here is none.
func lowerRESET(c *Context) (Marker, error) {
	emitPrivilegeCheck(c)
	c.EmitWord(hostisa.Nop())
	return MarkerNone, nil
}

// lowerSTOP loads SR from the immediate word that follows (the same
// privileged whole-SR write MOVE <ea>,SR performs) and ends the block so
// the dispatcher re-enters at the next guest instruction. Actually halting
// the host core until State.Int32 goes non-zero is outside this pass's
// scope — the cooperative polling described in internal/guest.State's
// Int32 doc comment already checks for pending interrupts at every block
// exit, so ending the block here is sufficient to make STOP resumable,
// just not to make it stop consuming host cycles while "waiting".
func lowerSTOP(c *Context) (Marker, error) {
	emitPrivilegeCheck(c)
	imm := c.Dec.Fetch16()
	sr := c.CC.CcModify(c.EA.StateBase)
	for _, w := range hostisa.MovImm32(hostisa.CondAL, sr, uint32(imm)) {
		c.EmitWord(w)
	}
	return MarkerEndNextPC, nil
}

// lowerTRAP emits an unconditional host trap tagged with this guest TRAP
// #n's exception vector offset (§7: `VecTrapBase + n*4`), ending the block
// so the dispatcher can decode that same immediate out of the trapped
// instruction word and service it (trap vector dispatch itself lives in
// internal/dispatch, outside this package's scope).
func lowerTRAP(c *Context, vector uint16) (Marker, error) {
	c.EmitWord(hostisa.Udf(guest.TrapVector(vector)))
	return MarkerEnd, nil
}

func lowerJSR(c *Context, mode, reg uint16) (Marker, error) {
	res, err := c.EA.Compile(mode, reg, guest.SizeLong, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	// Push the return address (c.PC, already past this instruction's
	// extension words since the decoder cursor has advanced) then jump.
	a7 := c.Alloc.MapRead(alloc.A(7))
	c.Alloc.MapWrite(alloc.A(7))
	c.EmitWord(hostisa.SubImm(hostisa.CondAL, false, a7, a7, 4, 0))
	retHost := c.Alloc.AllocTemp()
	for _, w := range hostisa.MovImm32(hostisa.CondAL, retHost, c.PC) {
		c.EmitWord(w)
	}
	emitGuestStore32(c, retHost, a7, 0)
	return lowerJumpTo(c, res)
}

func lowerJMP(c *Context, mode, reg uint16) (Marker, error) {
	res, err := c.EA.Compile(mode, reg, guest.SizeLong, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	return lowerJumpTo(c, res)
}

// lowerJumpTo transfers control to an already-compiled target address:
// JMP/JSR's effective address IS the jump target, never a value to
// dereference, so AddrHost is moved straight into the guest-PC cache
// register. Register-direct operands (Dn/An) are an illegal JMP/JSR
// encoding on real hardware, matched here by rejecting ea.KindRegister.
func lowerJumpTo(c *Context, res ea.Result) (Marker, error) {
	if res.Kind != ea.KindMemory {
		return emitIllegal(c)
	}
	c.CC.PcReset()
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, pcReg, res.AddrHost))
	return MarkerEnd, nil
}

func lowerLEA(c *Context, areg, mode, xreg uint16) (Marker, error) {
	res, err := c.EA.Compile(mode, xreg, guest.SizeLong, c.PC, c.Dec)
	if err != nil || res.Kind != ea.KindMemory {
		return emitIllegal(c)
	}
	dst := c.Alloc.MapWrite(alloc.A(int(areg)))
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, dst, res.AddrHost))
	return MarkerNone, nil
}

type unaryOp int

const (
	unaryClr unaryOp = iota
	unaryNot
	unaryNeg
	unaryNegx
)

func lowerClrNotNeg(c *Context, op unaryOp, sizeBits, mode, xreg uint16) (Marker, error) {
	size, ok := decodeSize012(sizeBits)
	if !ok {
		return emitIllegal(c)
	}
	res, err := c.EA.Compile(mode, xreg, size, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	switch op {
	case unaryClr:
		dst := c.Alloc.AllocTemp()
		c.EmitWord(hostisa.MovImm(hostisa.CondAL, dst, 0, 0))
		emitStore(c, dst, res, size)
		emitNZ00(c, dst, size)
	case unaryNot:
		host := loadOperandRMW(c, res, size)
		c.EmitWord(hostisa.MvnReg(hostisa.CondAL, false, host, host))
		emitStore(c, host, res, size)
		emitNZ00(c, host, size)
	case unaryNeg:
		// NEG is 0 - dst with the full add/sub flag rule (C = borrow =
		// result non-zero, V on the lone overflow pattern, X = C) — the
		// generic sized subtract delivers all of that once fed a zero.
		host := loadOperandRMW(c, res, size)
		zero := c.Alloc.AllocTemp()
		c.EmitWord(hostisa.MovImm(hostisa.CondAL, zero, 0, 0))
		emitArithSized(c, false, host, zero, host, size, true)
		emitStore(c, host, res, size)
	case unaryNegx:
		// NEGX folds X in: 0 - dst - X, Z accumulating.
		host := loadOperandRMW(c, res, size)
		zero := c.Alloc.AllocTemp()
		c.EmitWord(hostisa.MovImm(hostisa.CondAL, zero, 0, 0))
		emitArithExtended(c, false, host, zero, host, size)
		emitStore(c, host, res, size)
	}
	return MarkerNone, nil
}

// lowerTST loads the operand and sets N/Z (clearing V/C) without storing
// anything back, grounded on ExecTst.
func lowerTST(c *Context, sizeBits, mode, xreg uint16) (Marker, error) {
	size, ok := decodeSize012(sizeBits)
	if !ok {
		return emitIllegal(c)
	}
	res, err := c.EA.Compile(mode, xreg, size, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	host := loadOperand(c, res)
	emitNZ00(c, host, size)
	return MarkerNone, nil
}

// lowerTAS tests the byte operand (N/Z from its value before the write,
// V/C cleared) and then sets its top bit, grounded on ExecTas. The
// read-modify-write bus indivisibility of real silicon has no meaning on
// a host where the guest owns its flat memory outright (§5: exactly one
// of the dispatcher, a TU, or the translator touches guest state at a
// time), so no host atomic is emitted.
func lowerTAS(c *Context, mode, xreg uint16) (Marker, error) {
	res, err := c.EA.Compile(mode, xreg, guest.SizeByte, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	host := loadOperandRMW(c, res, guest.SizeByte)
	emitNZ00(c, host, guest.SizeByte)
	c.EmitWord(hostisa.OrrImm(hostisa.CondAL, false, host, host, 0x80, 0))
	emitStore(c, host, res, guest.SizeByte)
	return MarkerNone, nil
}

// lowerNBCD lowers NBCD <ea>: the ten's complement 0 - dst - X over a
// packed-BCD byte, following the 0x9A-complement shape Musashi-style
// interpreters use, expressed through this package's branchless
// conditional idiom. C and X record the borrow (any non-zero result); Z
// accumulates like the other extended ops.
func lowerNBCD(c *Context, mode, xreg uint16) (Marker, error) {
	res, err := c.EA.Compile(mode, xreg, guest.SizeByte, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	host := loadOperandRMW(c, res, guest.SizeByte)
	x := emitXFromSR(c)

	v := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.MovImm(hostisa.CondAL, v, 0x9A, 0))
	masked := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, masked, host, 0xFF, 0))
	c.EmitWord(hostisa.SubReg(hostisa.CondAL, false, v, v, masked, hostisa.ShiftLSL, 0))
	c.EmitWord(hostisa.SubReg(hostisa.CondAL, false, v, v, x, hostisa.ShiftLSL, 0))

	// 0x9A means dst and X were both zero: the true result is 0. Handle
	// that first so the nibble correction below never sees it.
	c.EmitWord(hostisa.CmpImm(hostisa.CondAL, v, 0x9A, 0))
	c.EmitWord(hostisa.MovImm(hostisa.CondEQ, v, 0, 0))

	// A low nibble of 0xA rolls up into the tens digit.
	nib := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, nib, v, 0x0F, 0))
	c.EmitWord(hostisa.CmpImm(hostisa.CondAL, nib, 0x0A, 0))
	c.EmitWord(hostisa.AddImm(hostisa.CondEQ, false, v, v, 0x06, 0))
	c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, v, v, 0xFF, 0))

	emitStore(c, v, res, guest.SizeByte)

	mask := liveMask(c)
	if mask != 0 {
		sr := c.CC.CcModify(c.EA.StateBase)
		if clear := mask & (guest.SRC | guest.SRX); clear != 0 {
			c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, sr, sr, clear, 0))
		}
		c.EmitWord(hostisa.CmpImm(hostisa.CondAL, v, 0, 0))
		if mask&guest.SRZ != 0 {
			c.EmitWord(hostisa.BicImm(hostisa.CondNE, false, sr, sr, guest.SRZ, 0))
		}
		if cx := mask & (guest.SRC | guest.SRX); cx != 0 {
			c.EmitWord(hostisa.OrrImm(hostisa.CondNE, false, sr, sr, cx, 0))
		}
	}
	return MarkerNone, nil
}

// lowerMoveToCCR and lowerMoveFromCCR lower MOVE <ea>,CCR / MOVE CCR,<ea>
// (the latter a 68010+ addition), grounded on ExecMoveToCcr/ExecMoveFromCcr:
// only the low byte of the cached SR is ever touched, since CCR is SR's
// user-visible condition-code half.
func lowerMoveToCCR(c *Context, mode, xreg uint16) (Marker, error) {
	res, err := c.EA.Compile(mode, xreg, guest.SizeWord, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	src := loadOperand(c, res)
	sr := c.CC.CcModify(c.EA.StateBase)
	c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, sr, sr, 0xFF, 0))
	masked := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, masked, src, 0xFF, 0))
	c.EmitWord(hostisa.OrrReg(hostisa.CondAL, false, sr, sr, masked))
	return MarkerNone, nil
}

func lowerMoveFromCCR(c *Context, mode, xreg uint16) (Marker, error) {
	res, err := c.EA.Compile(mode, xreg, guest.SizeWord, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	sr := c.CC.CcGet(c.EA.StateBase)
	dst := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.AndImm(hostisa.CondAL, false, dst, sr, 0xFF, 0))
	emitStore(c, dst, res, guest.SizeWord)
	return MarkerNone, nil
}

// lowerMoveToSR and lowerMoveFromSR lower MOVE <ea>,SR / MOVE SR,<ea>,
// grounded on ExecMoveToSr/ExecMoveFromSr. MOVE <ea>,SR is supervisor-only:
// the emitted guard trap raises the privilege-violation vector when SR.S
// is clear at run time (§7), before the new SR value is even fetched.
func lowerMoveToSR(c *Context, mode, xreg uint16) (Marker, error) {
	emitPrivilegeCheck(c)
	res, err := c.EA.Compile(mode, xreg, guest.SizeWord, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	src := loadOperand(c, res)
	sr := c.CC.CcModify(c.EA.StateBase)
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, sr, src))
	return MarkerNone, nil
}

func lowerMoveFromSR(c *Context, mode, xreg uint16) (Marker, error) {
	res, err := c.EA.Compile(mode, xreg, guest.SizeWord, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	sr := c.CC.CcGet(c.EA.StateBase)
	emitStore(c, sr, res, guest.SizeWord)
	return MarkerNone, nil
}

// lowerMoveToUSP and lowerMoveFromUSP lower MOVE An,USP / MOVE USP,An
// (privileged), reading/writing guest.State.USP directly since it is
// never mapped through the data/address register allocator.
func lowerMoveToUSP(c *Context, reg uint16) (Marker, error) {
	emitPrivilegeCheck(c)
	aHost := c.Alloc.MapRead(alloc.A(int(reg)))
	c.EmitWord(hostisa.StrImm(hostisa.CondAL, aHost, c.EA.StateBase, uspFieldOffset, true, false))
	return MarkerNone, nil
}

func lowerMoveFromUSP(c *Context, reg uint16) (Marker, error) {
	emitPrivilegeCheck(c)
	dst := c.Alloc.MapWrite(alloc.A(int(reg)))
	c.EmitWord(hostisa.LdrImm(hostisa.CondAL, dst, c.EA.StateBase, uspFieldOffset, true, false))
	return MarkerNone, nil
}

// lowerSwap rotates Dn's two halves, grounded on ExecSwap: a single ROR #16
// on the ARM side swaps the words exactly (rotating right by half a
// register's width IS the swap), no LSL/LSR pair needed the way the
// sign-extension helpers elsewhere in this package require.
func lowerSwap(c *Context, reg uint16) (Marker, error) {
	g := alloc.D(int(reg))
	host := c.Alloc.MapRead(g)
	tmp := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, tmp, host, hostisa.ShiftROR, 16))
	dst := c.Alloc.MapWrite(g)
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, dst, tmp))
	emitNZ00(c, dst, guest.SizeLong)
	return MarkerNone, nil
}

// lowerPEA pushes an effective address (never its contents) onto the
// stack, grounded on ExecPea; a register-direct operand isn't a valid PEA
// encoding on real hardware (there's no address to take).
func lowerPEA(c *Context, mode, reg uint16) (Marker, error) {
	res, err := c.EA.Compile(mode, reg, guest.SizeLong, c.PC, c.Dec)
	if err != nil || res.Kind != ea.KindMemory {
		return emitIllegal(c)
	}
	a7 := c.Alloc.MapRead(alloc.A(7))
	c.Alloc.MapWrite(alloc.A(7))
	c.EmitWord(hostisa.SubImm(hostisa.CondAL, false, a7, a7, 4, 0))
	emitGuestStore32(c, res.AddrHost, a7, 0)
	return MarkerNone, nil
}

// lowerExtWord sign-extends Dn's low byte to fill its low word, leaving the
// upper word untouched, grounded on ExecExt's word form.
func lowerExtWord(c *Context, reg uint16) (Marker, error) {
	g := alloc.D(int(reg))
	host := c.Alloc.MapRead(g)
	tmp := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, tmp, host, hostisa.ShiftLSL, 24))
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, tmp, tmp, hostisa.ShiftASR, 24))
	dst := c.Alloc.MapWrite(g)
	emitPartialRegStore(c, dst, tmp, guest.SizeWord)
	emitNZ00(c, dst, guest.SizeWord)
	return MarkerNone, nil
}

// lowerExtLong sign-extends Dn's low word to fill the whole register,
// grounded on ExecExt's long form.
func lowerExtLong(c *Context, reg uint16) (Marker, error) {
	g := alloc.D(int(reg))
	host := c.Alloc.MapRead(g)
	dst := c.Alloc.MapWrite(g)
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, dst, host, hostisa.ShiftLSL, 16))
	c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, dst, dst, hostisa.ShiftASR, 16))
	emitNZ00(c, dst, guest.SizeLong)
	return MarkerNone, nil
}

// lowerLinkWord and lowerLinkLong push An then load it from the
// (now-decremented) A7, followed by applying disp to A7 — grounded on
// ExecLink. The 68020 .L form differs only in its displacement's width.
func lowerLinkWord(c *Context, reg uint16) (Marker, error) {
	disp := int32(int16(c.Dec.Fetch16()))
	return lowerLink(c, reg, disp)
}

func lowerLinkLong(c *Context, reg uint16) (Marker, error) {
	disp := int32(c.Dec.Fetch32())
	return lowerLink(c, reg, disp)
}

func lowerLink(c *Context, reg uint16, disp int32) (Marker, error) {
	a7 := c.Alloc.MapRead(alloc.A(7))
	c.Alloc.MapWrite(alloc.A(7))
	c.EmitWord(hostisa.SubImm(hostisa.CondAL, false, a7, a7, 4, 0))
	aHost := c.Alloc.MapRead(alloc.A(int(reg)))
	emitGuestStore32(c, aHost, a7, 0)
	dst := c.Alloc.MapWrite(alloc.A(int(reg)))
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, dst, a7))
	emitAddDisp(c, a7, a7, disp)
	return MarkerNone, nil
}

// lowerUnlk restores A7 from An, then pops the saved frame pointer back
// into An — grounded on ExecUnlk, the exact inverse of LINK's push.
func lowerUnlk(c *Context, reg uint16) (Marker, error) {
	aHost := c.Alloc.MapRead(alloc.A(int(reg)))
	a7 := c.Alloc.MapWrite(alloc.A(7))
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, a7, aHost))
	tmp := c.Alloc.AllocTemp()
	emitGuestLoad32(c, tmp, a7, 0)
	c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, a7, a7, 4, 0))
	dst := c.Alloc.MapWrite(alloc.A(int(reg)))
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, dst, tmp))
	return MarkerNone, nil
}

// emitAddDisp adds a signed delta of arbitrary width to src, writing dst —
// LINK/UNLK/RTD's counterpart to internal/ea's unexported emitAddImmWide,
// needed here since that helper isn't visible outside package ea.
func emitAddDisp(c *Context, dst, src hostisa.Reg, delta int32) {
	if delta >= 0 {
		if imm8, rot, ok := hostisa.EncodeImmediate(uint32(delta)); ok {
			c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, dst, src, imm8, rot))
			return
		}
	} else if imm8, rot, ok := hostisa.EncodeImmediate(uint32(-delta)); ok {
		c.EmitWord(hostisa.SubImm(hostisa.CondAL, false, dst, src, imm8, rot))
		return
	}
	abs := uint32(delta)
	if delta < 0 {
		abs = uint32(-delta)
	}
	scratch := c.Alloc.AllocTemp()
	for _, w := range hostisa.MovImm32(hostisa.CondAL, scratch, abs) {
		c.EmitWord(w)
	}
	if delta >= 0 {
		c.EmitWord(hostisa.AddReg(hostisa.CondAL, false, dst, src, scratch, hostisa.ShiftLSL, 0))
		return
	}
	c.EmitWord(hostisa.SubReg(hostisa.CondAL, false, dst, src, scratch, hostisa.ShiftLSL, 0))
}

// lowerMOVEM lowers MOVEM <ea>,regs / MOVEM regs,<ea>, grounded on
// ExecMovem. The register-list extension word's bit order depends on the
// addressing mode: predecrement mode numbers from A7 down to D0 (bit0=A7)
// so registers still land in memory in ascending D0..A7 order despite the
// descending address; every other mode numbers normally (bit0=D0 up to
// bit15=A7). Each selected register gets its own Ldr/Str against whatever
// host register the allocator currently maps it to — there is no single
// host LDM/STM that could move the whole list in one instruction, since
// this allocator's guest-to-host mapping floats with LRU pressure rather
// than pinning guest registers to fixed host ones the way a block transfer
// would need.
//
// One real-hardware corner case is not reproduced: if the addressing
// register itself appears in a predecrement register list, real silicon
// stores that register's value from before this instruction began
// decrementing it, whereas this lowering stores whatever value is live at
// the point its turn in the list comes up. Guest code referencing its own
// frame pointer inside a MOVEM -(An) list is vanishingly rare in practice.
func lowerMOVEM(c *Context, d, s, mode, reg uint16) (Marker, error) {
	size := guest.SizeWord
	if s == 1 {
		size = guest.SizeLong
	}
	regList := c.Dec.Fetch16()

	switch mode {
	case ea.ModeARPre:
		if d != 0 {
			return emitIllegal(c)
		}
		for bit := 0; bit < 16; bit++ {
			if regList&(1<<uint(bit)) == 0 {
				continue
			}
			g := movemPredecrementReg(bit)
			res, err := c.EA.Compile(ea.ModeARPre, reg, size, c.PC, c.Dec)
			if err != nil {
				return emitIllegal(c)
			}
			host := c.Alloc.MapRead(g)
			emitMovemStoreAt(c, host, res.AddrHost, 0, size)
		}
		return MarkerNone, nil
	case ea.ModeARPost:
		if d != 1 {
			return emitIllegal(c)
		}
		for bit := 0; bit < 16; bit++ {
			if regList&(1<<uint(bit)) == 0 {
				continue
			}
			g := movemNormalReg(bit)
			res, err := c.EA.Compile(ea.ModeARPost, reg, size, c.PC, c.Dec)
			if err != nil {
				return emitIllegal(c)
			}
			dst := c.Alloc.MapWrite(g)
			emitMovemLoadAt(c, dst, res.AddrHost, 0, size)
			if res.PostAdjust != nil {
				res.PostAdjust()
			}
		}
		return MarkerNone, nil
	case ea.ModeDR, ea.ModeAR:
		return emitIllegal(c)
	default:
		res, err := c.EA.Compile(mode, reg, size, c.PC, c.Dec)
		if err != nil || res.Kind != ea.KindMemory {
			return emitIllegal(c)
		}
		step := int32(guest.SizeBytes(size))
		offset := int32(0)
		for bit := 0; bit < 16; bit++ {
			if regList&(1<<uint(bit)) == 0 {
				continue
			}
			g := movemNormalReg(bit)
			if d == 0 {
				host := c.Alloc.MapRead(g)
				emitMovemStoreAt(c, host, res.AddrHost, offset, size)
			} else {
				dst := c.Alloc.MapWrite(g)
				emitMovemLoadAt(c, dst, res.AddrHost, offset, size)
			}
			offset += step
		}
		return MarkerNone, nil
	}
}

func movemNormalReg(bit int) alloc.GuestReg {
	if bit < 8 {
		return alloc.D(bit)
	}
	return alloc.A(bit - 8)
}

func movemPredecrementReg(bit int) alloc.GuestReg {
	if bit < 8 {
		return alloc.A(7 - bit)
	}
	return alloc.D(7 - (bit - 8))
}

func emitMovemStoreAt(c *Context, host, base hostisa.Reg, offset int32, size int) {
	if size == guest.SizeWord {
		emitGuestStore16(c, host, base, offset)
		return
	}
	emitGuestStore32(c, host, base, offset)
}

// emitMovemLoadAt loads one register's new value, sign-extending a word
// -sized element to fill the whole 32-bit guest register (An and Dn both
// take the sign-extended value for MOVEM's word memory-to-register form,
// never the raw 16 bits, matching ExecMovem).
func emitMovemLoadAt(c *Context, dst, base hostisa.Reg, offset int32, size int) {
	if size == guest.SizeWord {
		c.EmitWord(hostisa.LdrhImm(hostisa.CondAL, dst, base, offset, true, false))
		c.EmitWord(hostisa.Revsh(hostisa.CondAL, dst, dst))
		return
	}
	emitGuestLoad32(c, dst, base, offset)
}

// lowerMulLong lowers the 68020 single-register 32x32->32 form of MULU.L/
// MULS.L (the extension word's size bit clear), grounded on ExecMulLong.
// The register-pair 64-bit-result form (size bit set) is outside this
// pass's scope: this translator's Mul primitive only ever produces the low
// 32 bits of a product, and synthesizing the missing high word would need
// a second multiply sequence this pass doesn't implement. The low 32 bits
// of a 32x32 product are identical whether the operands are read as signed
// or unsigned (two's-complement multiplication), so the extension word's
// sign bit has no effect on the result this form actually returns.
func lowerMulLong(c *Context, mode, xreg uint16) (Marker, error) {
	ext := c.Dec.Fetch16()
	size64 := (ext>>9)&1 != 0
	if size64 {
		return emitIllegal(c)
	}
	dl := (ext >> 12) & 0x7

	res, err := c.EA.Compile(mode, xreg, guest.SizeLong, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	src := loadOperand(c, res)
	dHost := c.Alloc.MapRead(alloc.D(int(dl)))
	dst := c.Alloc.MapWrite(alloc.D(int(dl)))
	c.EmitWord(hostisa.Mul(hostisa.CondAL, true, dst, dHost, src))

	mask := liveMask(c) &^ guest.SRX
	if mask == 0 {
		return MarkerNone, nil
	}
	sr := c.CC.CcModify(c.EA.StateBase)
	c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, sr, sr, mask, 0))
	if mask&guest.SRN != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondMI, false, sr, sr, guest.SRN, 0))
	}
	if mask&guest.SRZ != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondEQ, false, sr, sr, guest.SRZ, 0))
	}
	return MarkerNone, nil
}

// lowerDivLong lowers the 68020 single-register 32/32->32 form of DIVU.L/
// DIVS.L (Dq==Dr in the extension word), grounded on ExecDivLong. The
// 64-bit-dividend Dr:Dq register-pair form (Dq!=Dr) is outside this pass's
// scope, for the same reason the word divides' overflow handling is
// already a documented simplification elsewhere in this package: V is left
// cleared rather than computed for the rare true-division overflow case
// (e.g. minimum-32-bit-value divided by -1), and no remainder is produced
// for this Dq==Dr encoding, matching real silicon's "quotient only" choice
// for that form.
func lowerDivLong(c *Context, mode, xreg uint16) (Marker, error) {
	ext := c.Dec.Fetch16()
	dq := (ext >> 12) & 0x7
	signed := (ext>>10)&1 != 0
	dr := ext & 0x7
	if dr != dq {
		return emitIllegal(c)
	}

	res, err := c.EA.Compile(mode, xreg, guest.SizeLong, c.PC, c.Dec)
	if err != nil {
		return emitIllegal(c)
	}
	divisor := loadOperand(c, res)
	dHost := c.Alloc.MapRead(alloc.D(int(dq)))
	dividend := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, dividend, dHost))

	quot, _ := emitDivide32(c, dividend, divisor, signed)
	dst := c.Alloc.MapWrite(alloc.D(int(dq)))
	c.EmitWord(hostisa.MovRegS(hostisa.CondAL, dst, quot))

	mask := liveMask(c) &^ guest.SRX
	if mask == 0 {
		return MarkerNone, nil
	}
	sr := c.CC.CcModify(c.EA.StateBase)
	c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, sr, sr, mask, 0))
	c.EmitWord(hostisa.CmpImm(hostisa.CondAL, dst, 0, 0))
	if mask&guest.SRN != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondMI, false, sr, sr, guest.SRN, 0))
	}
	if mask&guest.SRZ != 0 {
		c.EmitWord(hostisa.OrrImm(hostisa.CondEQ, false, sr, sr, guest.SRZ, 0))
	}
	return MarkerNone, nil
}
