// Package hostisa is a pure, stateless ARM (AArch32) instruction encoder: a
// table of functions that each return the 32-bit little-endian word for one
// instruction form. It does not assemble mnemonics or manage a symbol table
// like the teacher's assembler does — the translator calls these functions
// directly as it lowers guest opcodes — but the encoding tables (condition
// field, 8-bit rotated immediates, data-processing opcodes, addressing
// shapes) are carried over from lookbusy1344-arm_emulator/encoder verbatim
// in spirit, retargeted from an assembler's AST to direct Go call sites.
package hostisa

// Reg is an ARM general-purpose register number, r0-r15.
type Reg uint32

const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	PC
)

// Cond is the 4-bit condition field every ARM instruction carries.
type Cond uint32

const (
	CondEQ Cond = iota
	CondNE
	CondCS
	CondCC
	CondMI
	CondPL
	CondVS
	CondVC
	CondHI
	CondLS
	CondGE
	CondLT
	CondGT
	CondLE
	CondAL
	// CondNV is reserved/unpredictable pre-ARMv5 but still encodable.
	CondNV
)

// dataProcessing opcodes, one-for-one with lookbusy1344-arm_emulator's
// opAND..opMVN block in encoder/data_processing.go.
const (
	opAND = 0x0
	opEOR = 0x1
	opSUB = 0x2
	opRSB = 0x3
	opADD = 0x4
	opADC = 0x5
	opSBC = 0x6
	opRSC = 0x7
	opTST = 0x8
	opTEQ = 0x9
	opCMP = 0xA
	opCMN = 0xB
	opORR = 0xC
	opMOV = 0xD
	opBIC = 0xE
	opMVN = 0xF
)

// ShiftType selects the shift applied to a data-processing operand2 register.
type ShiftType uint32

const (
	ShiftLSL ShiftType = iota
	ShiftLSR
	ShiftASR
	ShiftROR
)

func dp(cond Cond, opcode uint32, s bool, rn, rd, op2 Reg) uint32 {
	var sbit uint32
	if s {
		sbit = 1
	}
	return uint32(cond)<<28 | opcode<<21 | sbit<<20 | uint32(rn)<<16 | uint32(rd)<<12 | uint32(op2)
}

func dpImm(cond Cond, opcode uint32, s bool, rn, rd Reg, imm8, rot uint32) uint32 {
	var sbit uint32
	if s {
		sbit = 1
	}
	return uint32(cond)<<28 | 1<<25 | opcode<<21 | sbit<<20 | uint32(rn)<<16 | uint32(rd)<<12 | rot<<8 | imm8
}

func dpReg(cond Cond, opcode uint32, s bool, rn, rd, rm Reg, shiftType ShiftType, shiftAmt uint32) uint32 {
	var sbit uint32
	if s {
		sbit = 1
	}
	return uint32(cond)<<28 | opcode<<21 | sbit<<20 | uint32(rn)<<16 | uint32(rd)<<12 |
		shiftAmt<<7 | uint32(shiftType)<<5 | uint32(rm)
}

// EncodeImmediate searches for an (imm8, rot) pair whose rotate-right-by-2*rot
// reproduces value, the same brute-force search as lookbusy1344-arm_emulator's
// encodeImmediate (ARM immediates are only representable when they fit in 8
// bits after some even rotation). ok is false when no rotation reproduces it,
// in which case the caller falls back to MovImm32 (movw/movt).
func EncodeImmediate(value uint32) (imm8, rot uint32, ok bool) {
	for r := uint32(0); r < 16; r++ {
		rotated := (value << (2 * r)) | (value >> (32 - 2*r))
		if rotated <= 0xFF {
			return rotated, (32 - 2*r) / 2 % 16, true
		}
	}
	// Try the other direction: does value, rotated left by 2*r, fit in 8 bits?
	for rot = 0; rot < 16; rot++ {
		n := 2 * rot
		candidate := (value >> (32 - n)) | (value << n)
		if n == 0 {
			candidate = value
		}
		if candidate <= 0xFF {
			return candidate, rot, true
		}
	}
	return 0, 0, false
}

// --- Data-processing, register-immediate form (Rd = Rn OP #imm) ---

func MovImm(cond Cond, rd Reg, imm8, rot uint32) uint32 {
	return dpImm(cond, opMOV, false, R0, rd, imm8, rot)
}

func MovRegS(cond Cond, rd, rm Reg) uint32 {
	return dpReg(cond, opMOV, false, R0, rd, rm, ShiftLSL, 0)
}

func AddImm(cond Cond, s bool, rd, rn Reg, imm8, rot uint32) uint32 {
	return dpImm(cond, opADD, s, rn, rd, imm8, rot)
}

func SubImm(cond Cond, s bool, rd, rn Reg, imm8, rot uint32) uint32 {
	return dpImm(cond, opSUB, s, rn, rd, imm8, rot)
}

// RsbImm computes Rd = #imm - Rn (reverse subtract), used for NEG (Rd = 0
// - Rn, imm8=0,rot=0).
func RsbImm(cond Cond, s bool, rd, rn Reg, imm8, rot uint32) uint32 {
	return dpImm(cond, opRSB, s, rn, rd, imm8, rot)
}

func AndImm(cond Cond, s bool, rd, rn Reg, imm8, rot uint32) uint32 {
	return dpImm(cond, opAND, s, rn, rd, imm8, rot)
}

func OrrImm(cond Cond, s bool, rd, rn Reg, imm8, rot uint32) uint32 {
	return dpImm(cond, opORR, s, rn, rd, imm8, rot)
}

func EorImm(cond Cond, s bool, rd, rn Reg, imm8, rot uint32) uint32 {
	return dpImm(cond, opEOR, s, rn, rd, imm8, rot)
}

func BicImm(cond Cond, s bool, rd, rn Reg, imm8, rot uint32) uint32 {
	return dpImm(cond, opBIC, s, rn, rd, imm8, rot)
}

func CmpImm(cond Cond, rn Reg, imm8, rot uint32) uint32 {
	return dpImm(cond, opCMP, true, rn, R0, imm8, rot)
}

func TstImm(cond Cond, rn Reg, imm8, rot uint32) uint32 {
	return dpImm(cond, opTST, true, rn, R0, imm8, rot)
}

// --- Data-processing, register-shifted-register form ---

func AddReg(cond Cond, s bool, rd, rn, rm Reg, st ShiftType, amt uint32) uint32 {
	return dpReg(cond, opADD, s, rn, rd, rm, st, amt)
}

func SubReg(cond Cond, s bool, rd, rn, rm Reg, st ShiftType, amt uint32) uint32 {
	return dpReg(cond, opSUB, s, rn, rd, rm, st, amt)
}

func RsbReg(cond Cond, s bool, rd, rn, rm Reg, st ShiftType, amt uint32) uint32 {
	return dpReg(cond, opRSB, s, rn, rd, rm, st, amt)
}

func AdcReg(cond Cond, s bool, rd, rn, rm Reg) uint32 {
	return dpReg(cond, opADC, s, rn, rd, rm, ShiftLSL, 0)
}

func SbcReg(cond Cond, s bool, rd, rn, rm Reg) uint32 {
	return dpReg(cond, opSBC, s, rn, rd, rm, ShiftLSL, 0)
}

func AndReg(cond Cond, s bool, rd, rn, rm Reg) uint32 {
	return dpReg(cond, opAND, s, rn, rd, rm, ShiftLSL, 0)
}

func OrrReg(cond Cond, s bool, rd, rn, rm Reg) uint32 {
	return dpReg(cond, opORR, s, rn, rd, rm, ShiftLSL, 0)
}

func EorReg(cond Cond, s bool, rd, rn, rm Reg) uint32 {
	return dpReg(cond, opEOR, s, rn, rd, rm, ShiftLSL, 0)
}

func BicReg(cond Cond, s bool, rd, rn, rm Reg) uint32 {
	return dpReg(cond, opBIC, s, rn, rd, rm, ShiftLSL, 0)
}

func MvnReg(cond Cond, s bool, rd, rm Reg) uint32 {
	return dpReg(cond, opMVN, s, R0, rd, rm, ShiftLSL, 0)
}

// OrrRegShift is OrrReg generalized with an explicit operand2 shift, needed
// by the unrolled multiply/divide sequences to fold a carry-out bit into a
// shifted accumulator in one instruction (Rd = Rn | (Rm shifted)).
func OrrRegShift(cond Cond, s bool, rd, rn, rm Reg, st ShiftType, amt uint32) uint32 {
	return dpReg(cond, opORR, s, rn, rd, rm, st, amt)
}

// EorRegShift is EorReg generalized with an explicit operand2 shift, used to
// line two condition-code bits up onto the same bit position before XORing
// them (§ nvTest's N/V comparison for the signed-relational Scc/Bcc forms).
func EorRegShift(cond Cond, s bool, rd, rn, rm Reg, st ShiftType, amt uint32) uint32 {
	return dpReg(cond, opEOR, s, rn, rd, rm, st, amt)
}

func CmpReg(cond Cond, rn, rm Reg) uint32 {
	return dpReg(cond, opCMP, true, rn, R0, rm, ShiftLSL, 0)
}

func CmnReg(cond Cond, rn, rm Reg) uint32 {
	return dpReg(cond, opCMN, true, rn, R0, rm, ShiftLSL, 0)
}

func TstReg(cond Cond, rn, rm Reg) uint32 {
	return dpReg(cond, opTST, true, rn, R0, rm, ShiftLSL, 0)
}

func TeqReg(cond Cond, rn, rm Reg) uint32 {
	return dpReg(cond, opTEQ, true, rn, R0, rm, ShiftLSL, 0)
}

// ShiftReg produces Rd = Rm shifted by an immediate amount, used for the
// guest's ASL/ASR/LSL/LSR/ROR/ROXL/ROXR families once the shift direction
// and count have been resolved in the opcode lowering layer.
func ShiftReg(cond Cond, s bool, rd, rm Reg, st ShiftType, amt uint32) uint32 {
	return dpReg(cond, opMOV, s, R0, rd, rm, st, amt)
}

// RorRegByReg encodes Rd = Rm ROR Rs (register-specified rotate amount),
// needed for shift counts taken from a data register rather than an
// immediate (guest dynamic shift counts).
func RorRegByReg(cond Cond, s bool, rd, rm, rs Reg) uint32 {
	var sbit uint32
	if s {
		sbit = 1
	}
	return uint32(cond)<<28 | opMOV<<21 | sbit<<20 | uint32(rd)<<12 |
		uint32(rs)<<8 | 0x7<<4 | uint32(rm)
}

// ShiftRegByReg encodes Rd = Rm <st> Rs (register-specified shift amount)
// for an arbitrary ShiftType, generalizing RorRegByReg to LSL/LSR/ASR for
// the guest's dynamic (Dn-sourced) shift counts.
func ShiftRegByReg(cond Cond, s bool, rd, rm, rs Reg, st ShiftType) uint32 {
	var sbit uint32
	if s {
		sbit = 1
	}
	return uint32(cond)<<28 | opMOV<<21 | sbit<<20 | uint32(rd)<<12 |
		uint32(rs)<<8 | uint32(st)<<5 | 1<<4 | uint32(rm)
}

// --- Multiply ---

// Mul encodes MUL Rd, Rm, Rn (Rd = Rm*Rn, low 32 bits only), the 32x32->32
// multiply in lookbusy1344-arm_emulator/encoder/other.go's encodeMultiply:
// "cccc 0000 00AS dddd 0000 ssss 1001 mmmm" with Rd in the field that file
// calls RnShift and the two sources split across bits 11-8 and 3-0. Used for
// the guest's word multiplies (after sign/zero-extending both 16-bit
// operands into full registers) and for the 68020 single-result long
// multiply.
func Mul(cond Cond, s bool, rd, rm, rn Reg) uint32 {
	var sbit uint32
	if s {
		sbit = 1
	}
	return uint32(cond)<<28 | sbit<<20 | uint32(rd)<<16 | uint32(rn)<<8 | 0x9<<4 | uint32(rm)
}

// --- Load/store ---

// LdrImm encodes LDR Rt, [Rn, #offset] (or pre/post-indexed per the index
// and writeback flags), mirroring the single-data-transfer encoding in
// lookbusy1344-arm_emulator's encoder for LDR/STR/LDRB/STRB.
func LdrImm(cond Cond, rt, rn Reg, offset int32, index, writeback bool) uint32 {
	return singleDataTransfer(cond, rt, rn, offset, true, false, index, writeback)
}

func StrImm(cond Cond, rt, rn Reg, offset int32, index, writeback bool) uint32 {
	return singleDataTransfer(cond, rt, rn, offset, false, false, index, writeback)
}

func LdrbImm(cond Cond, rt, rn Reg, offset int32, index, writeback bool) uint32 {
	return singleDataTransfer(cond, rt, rn, offset, true, true, index, writeback)
}

func StrbImm(cond Cond, rt, rn Reg, offset int32, index, writeback bool) uint32 {
	return singleDataTransfer(cond, rt, rn, offset, false, true, index, writeback)
}

func singleDataTransfer(cond Cond, rt, rn Reg, offset int32, load, byteAccess, index, writeback bool) uint32 {
	u := uint32(1)
	abs := offset
	if abs < 0 {
		u = 0
		abs = -abs
	}
	var l, b, p, w uint32
	if load {
		l = 1
	}
	if byteAccess {
		b = 1
	}
	if index {
		p = 1
	}
	if writeback {
		w = 1
	}
	return uint32(cond)<<28 | 1<<26 | p<<24 | u<<23 | b<<22 | w<<21 | l<<20 |
		uint32(rn)<<16 | uint32(rt)<<12 | uint32(abs)&0xFFF
}

// LdrhImm/StrhImm encode the halfword transfer form (distinct bit layout:
// immediate split across bits 11:8 and 3:0, per ARM ARM A5.2.8), needed for
// the guest's 16-bit addressing-mode accesses.
func LdrhImm(cond Cond, rt, rn Reg, offset int32, index, writeback bool) uint32 {
	return halfwordTransfer(cond, rt, rn, offset, true, index, writeback)
}

func StrhImm(cond Cond, rt, rn Reg, offset int32, index, writeback bool) uint32 {
	return halfwordTransfer(cond, rt, rn, offset, false, index, writeback)
}

func halfwordTransfer(cond Cond, rt, rn Reg, offset int32, load, index, writeback bool) uint32 {
	u := uint32(1)
	abs := offset
	if abs < 0 {
		u = 0
		abs = -abs
	}
	var l, p, w uint32
	if load {
		l = 1
	}
	if index {
		p = 1
	}
	if writeback {
		w = 1
	}
	immHi := (uint32(abs) >> 4) & 0xF
	immLo := uint32(abs) & 0xF
	return uint32(cond)<<28 | p<<24 | u<<23 | 1<<22 | w<<21 | l<<20 |
		uint32(rn)<<16 | uint32(rt)<<12 | immHi<<8 | 0xB<<4 | immLo
}

// --- Byte-reverse (guest memory is big-endian; these are the host's
// byte-swap instructions §6 names for little-endian data access) ---

// Rev reverses the byte order of a full 32-bit word.
func Rev(cond Cond, rd, rm Reg) uint32 {
	return uint32(cond)<<28 | 0x06BF0F30 | uint32(rd)<<12 | uint32(rm)
}

// Rev16 reverses the byte order within each 16-bit half; on a
// zero-extended halfword in the low half this is exactly the 16-bit swap,
// leaving the clear upper half undisturbed.
func Rev16(cond Cond, rd, rm Reg) uint32 {
	return uint32(cond)<<28 | 0x06BF0FB0 | uint32(rd)<<12 | uint32(rm)
}

// Revsh byte-swaps the low halfword and sign-extends it to 32 bits, the
// fused form for loading a big-endian signed 16-bit value.
func Revsh(cond Cond, rd, rm Reg) uint32 {
	return uint32(cond)<<28 | 0x06FF0FB0 | uint32(rd)<<12 | uint32(rm)
}

// --- Branch / call / return ---

func B(cond Cond, offsetWords int32) uint32 {
	return uint32(cond)<<28 | 0xA<<24 | uint32(offsetWords)&0xFFFFFF
}

func BL(cond Cond, offsetWords int32) uint32 {
	return uint32(cond)<<28 | 0xB<<24 | uint32(offsetWords)&0xFFFFFF
}

func BX(cond Cond, rm Reg) uint32 {
	return uint32(cond)<<28 | 0x12<<20 | 0xFFF<<8 | 0x1<<4 | uint32(rm)
}

func BLX(cond Cond, rm Reg) uint32 {
	return uint32(cond)<<28 | 0x12<<20 | 0xFFF<<8 | 0x3<<4 | uint32(rm)
}

// --- Data/control barriers (needed to publish translated code before
// execution per the host-cache invalidation contract) ---

func DMB() uint32 { return 0xF57FF05F }
func DSB() uint32 { return 0xF57FF04F }
func ISB() uint32 { return 0xF57FF06F }

// Nop encodes MOV r0, r0 unconditionally.
func Nop() uint32 { return MovRegS(CondAL, R0, R0) }

// Udf encodes an undefined-instruction trap carrying a 16-bit immediate,
// used as a guard instruction whenever the translator hits an opcode it
// cannot lower (so the dispatcher faults instead of executing garbage).
func Udf(imm16 uint32) uint32 {
	return UdfCond(CondAL, imm16)
}

// UdfCond is Udf with an explicit condition, used for data-dependent traps
// (e.g. divide-by-zero) that must fire only on the runtime condition rather
// than unconditionally ending the block: when the condition doesn't hold
// the conditionally-executed trap is simply skipped like any other
// conditional ARM instruction, and lowering continues emitting straight
// -line code after it exactly as it would for any other guarded
// instruction (§ the same branchless-conditional idiom as CondMove and the
// Scc/quick-arithmetic lowerings).
func UdfCond(cond Cond, imm16 uint32) uint32 {
	return uint32(cond)<<28 | 0x07F000F0 | (imm16&0xFFF0)<<4 | (imm16 & 0xF)
}

// MovImm32 materializes an arbitrary 32-bit immediate into rd via the
// movw/movt pair, used whenever EncodeImmediate cannot represent the value
// as a single rotated 8-bit immediate.
func MovImm32(cond Cond, rd Reg, value uint32) [2]uint32 {
	lo := value & 0xFFFF
	hi := value >> 16
	return [2]uint32{movw(cond, rd, lo), movt(cond, rd, hi)}
}

func movw(cond Cond, rd Reg, imm16 uint32) uint32 {
	return uint32(cond)<<28 | 0x3<<24 | (imm16>>12)<<16 | uint32(rd)<<12 | imm16&0xFFF
}

func movt(cond Cond, rd Reg, imm16 uint32) uint32 {
	return uint32(cond)<<28 | 0x3<<24 | 1<<22 | (imm16>>12)<<16 | uint32(rd)<<12 | imm16&0xFFF
}

// CondMove encodes a conditional MOV (no explicit ARM "CMOV" — this is just
// MovRegS with a non-AL condition), used for branchless condition-code
// lowering (§4.5.1) to avoid a host branch per guest Bcc.
func CondMove(cond Cond, rd, rm Reg) uint32 {
	return dpReg(cond, opMOV, false, R0, rd, rm, ShiftLSL, 0)
}

// ldmSTMType is the fixed 100 marker in bits 27-25 of every block data
// transfer instruction (LDM/STM and their PUSH/POP special cases).
const ldmSTMType = 0x4

// Push encodes PUSH {regList} (STMDB SP!, {regList}), used by the block
// translator's prologue to save the callee-saved host registers a
// translation unit's register allocator actually touched.
func Push(cond Cond, regList uint16) uint32 {
	return uint32(cond)<<28 | ldmSTMType<<25 | 1<<24 | 0<<23 | 1<<21 | 0<<20 | uint32(SP)<<16 | uint32(regList)
}

// Pop encodes POP {regList} (LDMIA SP!, {regList}), the translator
// epilogue's counterpart to Push.
func Pop(cond Cond, regList uint16) uint32 {
	return uint32(cond)<<28 | ldmSTMType<<25 | 0<<24 | 1<<23 | 1<<21 | 1<<20 | uint32(SP)<<16 | uint32(regList)
}
