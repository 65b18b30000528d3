package fpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/m68kjit/m68kjit/internal/guest"
)

// Service command layout. A lowering that needs the host math library
// stores one of these into GuestState.FpuOp, ends its block, and the
// dispatcher calls Service before the next cache lookup. The field
// packing follows the FGEN second word where it can (the opmode is the
// guest's own opmode, the format codes are the guest's own size-field
// encoding), so a reader can line a command up against the instruction
// that produced it.
const (
	CmdPending = 1 << 31

	cmdOpShift  = 0  // bits 6-0: opmode or pseudo-op
	cmdDstShift = 7  // bits 9-7: destination FP register
	cmdSrcShift = 10 // bits 12-10: source FP register / data register
	CmdNonFPSrc = 1 << 13
	cmdLocShift = 14 // bits 15-14: operand location (LocMem/LocDataReg/LocFrame)
	cmdFmtShift = 16 // bits 18-16: operand format (the guest size-field code)
	CmdStore    = 1 << 19
	cmdKShift   = 20 // bits 27-20: k-factor / FSINCOS cos dst / FMOVEM mask
	CmdDynamicK = 1 << 28
)

// Operand locations for CmdNonFPSrc commands.
const (
	LocMem     = iota // guest memory at GuestState.FpAddr
	LocDataReg        // data register named by the src field
	LocFrame          // raw big-endian image in GuestState.FpFrame
)

// Operand formats, the FGEN second word's own size-field encoding.
const (
	FmtLong = iota
	FmtSingle
	FmtExtended
	FmtPacked
	FmtWord
	FmtDouble
	FmtByte
)

// Pseudo-ops above the architectural opmode space (real opmodes stop at
// 0x6C).
const (
	OpMovemToRegs = 0x70 // memory -> FP register list (mask in the k field)
	OpMovemToMem  = 0x71 // FP register list -> memory
	OpReset       = 0x72 // FRESTORE of a NULL frame: FPU to power-up state
)

// Cmd assembles a command word; the zero opts are the common case.
func Cmd(op, dst uint32) uint32 {
	return CmdPending | op<<cmdOpShift | dst<<cmdDstShift
}

// CmdSrcFP names a source FP register for a register-to-register form.
func CmdSrcFP(cmd, src uint32) uint32 { return cmd | src<<cmdSrcShift }

// CmdOperand names a non-FP operand: its location and format.
func CmdOperand(cmd, loc, format uint32) uint32 {
	return cmd | CmdNonFPSrc | loc<<cmdLocShift | format<<cmdFmtShift
}

// CmdReg folds a register number into the src field (the data register of
// a LocDataReg operand).
func CmdReg(cmd, reg uint32) uint32 { return cmd | reg<<cmdSrcShift }

// CmdK folds the k-factor / FSINCOS cos destination / FMOVEM mask byte in.
func CmdK(cmd, k uint32) uint32 { return cmd | (k&0xFF)<<cmdKShift }

// Service executes one pending FPU command against the architectural
// state. It runs between translation units, when every guest register has
// been flushed to s, so it reads and writes s and mem directly. The error
// return reports a malformed command, which can only come from a
// translator bug, never from guest code.
func Service(s *guest.State, mem guest.Memory, cmd uint32) error {
	op := cmd & 0x7F
	dst := (cmd >> cmdDstShift) & 7

	switch op {
	case OpReset:
		reset(s)
		return nil
	case OpMovemToRegs, OpMovemToMem:
		return movem(s, mem, cmd)
	}

	if cmd&CmdStore != 0 {
		return store(s, mem, cmd, dst)
	}

	src, srcNan, err := fetch(s, mem, cmd)
	if err != nil {
		return err
	}

	switch op {
	case 0x38: // FCMP
		compare(s, s.FP[dst].V, src)
		return nil
	case 0x3A: // FTST
		setCC(s, src)
		return nil
	}

	oldDst := s.FP[dst].V
	result, ok := apply(s, op, oldDst, src)
	if !ok {
		return fmt.Errorf("fpu: unknown opmode %#x", op)
	}

	if op >= 0x30 && op <= 0x37 {
		// FSINCOS: the main destination takes the sine, the opmode's low
		// bits (mirrored into the k field by the lowering) name the
		// cosine destination.
		cosDst := (cmd >> cmdKShift) & 7
		sin, cos := Sincos(src)
		s.FP[cosDst] = guest.Extended{V: cos}
		result = sin
	}

	if srcNan && !math.IsNaN(result) {
		// NaN operands propagate regardless of what the operation itself
		// produced (0 * inf aside, the math package already does this;
		// the belt covers ops whose Go identity would swallow it).
		result = math.NaN()
	}

	s.FP[dst] = guest.Extended{V: result}
	setCC(s, result)
	setExceptions(s, op, oldDst, src, result)
	return nil
}

// reset puts the FPU into its power-up state: non-signalling NaNs in every
// register, zeroed control/status/instruction-address registers.
func reset(s *guest.State) {
	for i := range s.FP {
		s.FP[i] = guest.Extended{V: math.NaN()}
	}
	s.FPCR = 0
	s.FPSR = 0
	s.FPIAR = 0
}

// fetch resolves the source operand of a non-store command.
func fetch(s *guest.State, mem guest.Memory, cmd uint32) (float64, bool, error) {
	if cmd&CmdNonFPSrc == 0 {
		v := s.FP[(cmd>>cmdSrcShift)&7].V
		return v, math.IsNaN(v), nil
	}
	image, err := operandImage(s, mem, cmd)
	if err != nil {
		return 0, false, err
	}
	v, err := decode(image, (cmd>>cmdFmtShift)&7)
	return v, math.IsNaN(v), err
}

// operandImage returns the operand's raw big-endian byte image, 12 bytes
// long regardless of how many the format actually uses.
func operandImage(s *guest.State, mem guest.Memory, cmd uint32) ([]byte, error) {
	b := make([]byte, 12)
	switch (cmd >> cmdLocShift) & 3 {
	case LocMem:
		for i := range b {
			b[i] = mem.Read8(s.FpAddr + uint32(i))
		}
	case LocDataReg:
		v := s.D[(cmd>>cmdSrcShift)&7]
		// A byte/word operand lives in the register's low-order bits;
		// shift it up so the image's head holds the bytes decode reads.
		switch (cmd >> cmdFmtShift) & 7 {
		case FmtWord:
			v <<= 16
		case FmtByte:
			v <<= 24
		}
		binary.BigEndian.PutUint32(b, v)
	case LocFrame:
		binary.LittleEndian.PutUint32(b[0:], s.FpFrame[0])
		binary.LittleEndian.PutUint32(b[4:], s.FpFrame[1])
		binary.LittleEndian.PutUint32(b[8:], s.FpFrame[2])
	default:
		return nil, fmt.Errorf("fpu: bad operand location in command %#x", cmd)
	}
	return b, nil
}

// decode converts a big-endian operand image to the internal float64;
// every format reads from the image's head.
func decode(b []byte, format uint32) (float64, error) {
	switch format {
	case FmtLong:
		return float64(int32(binary.BigEndian.Uint32(b))), nil
	case FmtSingle:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case FmtExtended:
		return Load96Bit(b), nil
	case FmtPacked:
		return PackedToDouble(b), nil
	case FmtWord:
		return float64(int16(binary.BigEndian.Uint16(b))), nil
	case FmtDouble:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case FmtByte:
		return float64(int8(b[0])), nil
	}
	return 0, fmt.Errorf("fpu: bad operand format %d", format)
}

// store converts FP[dst] into the named format and writes it to the
// destination operand (guest memory or a data register). FMOVE to memory
// leaves the condition codes alone; only the conversion exceptions are
// recorded.
func store(s *guest.State, mem guest.Memory, cmd, dst uint32) error {
	v := s.FP[dst].V
	format := (cmd >> cmdFmtShift) & 7

	var image []byte
	switch format {
	case FmtLong:
		image = make([]byte, 4)
		binary.BigEndian.PutUint32(image, uint32(int32(clampInt(v, math.MinInt32, math.MaxInt32, s))))
	case FmtSingle:
		f := float32(v)
		if math.IsInf(float64(f), 0) && !math.IsInf(v, 0) {
			s.FPSR |= guest.FPSROVFL
		}
		image = make([]byte, 4)
		binary.BigEndian.PutUint32(image, math.Float32bits(f))
	case FmtExtended:
		image = Store96Bit(v)
	case FmtPacked:
		k := int(int8(byte(cmd >> cmdKShift)))
		if cmd&CmdDynamicK != 0 {
			k = int(int8(s.D[(cmd>>cmdKShift)&7]))
		}
		image = DoubleToPacked(v, k)
	case FmtWord:
		image = make([]byte, 2)
		binary.BigEndian.PutUint16(image, uint16(int16(clampInt(v, math.MinInt16, math.MaxInt16, s))))
	case FmtDouble:
		image = make([]byte, 8)
		binary.BigEndian.PutUint64(image, math.Float64bits(v))
	case FmtByte:
		image = []byte{byte(int8(clampInt(v, math.MinInt8, math.MaxInt8, s)))}
	default:
		return fmt.Errorf("fpu: bad store format %d", format)
	}

	if (cmd>>cmdLocShift)&3 == LocDataReg {
		reg := int((cmd >> cmdSrcShift) & 7)
		switch format {
		case FmtByte:
			s.SetDataSized(reg, uint32(image[0]), guest.SizeByte)
		case FmtWord:
			s.SetDataSized(reg, uint32(binary.BigEndian.Uint16(image)), guest.SizeWord)
		default:
			s.SetDataSized(reg, binary.BigEndian.Uint32(image), guest.SizeLong)
		}
		return nil
	}
	for i, by := range image {
		mem.Write8(s.FpAddr+uint32(i), by)
	}
	return nil
}

// clampInt converts v to an integer destination range, recording OPERR on
// overflow or NaN the way the guest FPU does for FMOVE to an integer
// format.
func clampInt(v float64, lo, hi float64, s *guest.State) int64 {
	t := math.Trunc(v)
	switch {
	case math.IsNaN(t):
		s.FPSR |= guest.FPSROPERR
		return 0
	case t < lo:
		s.FPSR |= guest.FPSROPERR
		return int64(lo)
	case t > hi:
		s.FPSR |= guest.FPSROPERR
		return int64(hi)
	}
	if t != v {
		s.FPSR |= guest.FPSRINEX2
	}
	return int64(t)
}

// movem transfers the masked FP register list to or from guest memory in
// the 96-bit extended format, ascending from FpAddr with the mask already
// normalised to FP0-first order by the lowering (which also performed any
// address-register update, whose amount is a translate-time constant).
func movem(s *guest.State, mem guest.Memory, cmd uint32) error {
	mask := (cmd >> cmdKShift) & 0xFF
	addr := s.FpAddr
	for i := 0; i < 8; i++ {
		if mask&(0x80>>uint(i)) == 0 {
			continue
		}
		if cmd&0x7F == OpMovemToMem {
			StoreExtended(mem, addr, s.FP[i])
		} else {
			s.FP[i] = LoadExtended(mem, addr)
		}
		addr += 12
	}
	return nil
}

// apply runs one monadic/dyadic opmode. dst is the destination register's
// current value (the left operand of the dyadic forms), src the fetched
// source. The rounding-control opmode aliases (FSMOVE/FDMOVE and friends,
// 0x40 and up) collapse onto their plain counterparts: every register is
// a float64 internally, so single/double rounding differences are below
// this implementation's precision floor.
func apply(s *guest.State, op uint32, dst, src float64) (float64, bool) {
	switch op {
	case 0x00, 0x40, 0x44: // FMOVE
		return src, true
	case 0x01: // FINT
		return math.RoundToEven(src), true
	case 0x02: // FSINH
		return Sinh(src), true
	case 0x03: // FINTRZ
		return math.Trunc(src), true
	case 0x04, 0x41, 0x45: // FSQRT
		return Sqrt(src), true
	case 0x06: // FLOGNP1
		return Log1p(src), true
	case 0x08: // FETOXM1
		return Expm1(src), true
	case 0x09: // FTANH
		return Tanh(src), true
	case 0x0A: // FATAN
		return Atan(src), true
	case 0x0C: // FASIN
		return Asin(src), true
	case 0x0D: // FATANH
		return Atanh(src), true
	case 0x0E: // FSIN
		return Sin(src), true
	case 0x0F: // FTAN
		return Tan(src), true
	case 0x10: // FETOX
		return Exp(src), true
	case 0x11: // FTWOTOX
		return Exp2(src), true
	case 0x12: // FTENTOX
		return Exp10(src), true
	case 0x14: // FLOGN
		return Log(src), true
	case 0x15: // FLOG10
		return Log10(src), true
	case 0x16: // FLOG2
		return Log2(src), true
	case 0x18, 0x58, 0x5C: // FABS
		return Fabs(src), true
	case 0x19: // FCOSH
		return Cosh(src), true
	case 0x1A, 0x5A, 0x5E: // FNEG
		return -src, true
	case 0x1C: // FACOS
		return Acos(src), true
	case 0x1D: // FCOS
		return Cos(src), true
	case 0x1E: // FGETEXP
		return getExp(src), true
	case 0x1F: // FGETMAN
		return getMan(src), true
	case 0x20, 0x60, 0x64: // FDIV
		return dst / src, true
	case 0x21: // FMOD
		return modWithQuotient(s, dst, src), true
	case 0x22, 0x62, 0x66: // FADD
		return dst + src, true
	case 0x23, 0x63, 0x67: // FMUL
		return dst * src, true
	case 0x24: // FSGLDIV
		return float64(float32(dst / src)), true
	case 0x25: // FREM
		return remWithQuotient(s, dst, src), true
	case 0x26: // FSCALE
		return Scalbn(dst, int(math.Trunc(src))), true
	case 0x27: // FSGLMUL
		return float64(float32(dst * src)), true
	case 0x28, 0x68, 0x6C: // FSUB
		return dst - src, true
	}
	if op >= 0x30 && op <= 0x37 { // FSINCOS (sine half; Service places the cosine)
		return Sin(src), true
	}
	return 0, false
}

// getExp and getMan split a value into unbiased exponent and mantissa per
// FGETEXP/FGETMAN: man in [1,2) carrying the sign, exp as a float.
func getExp(v float64) float64 {
	if v == 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		if math.IsInf(v, 0) {
			return math.NaN()
		}
		if math.IsNaN(v) {
			return v
		}
		return 0
	}
	_, exp := math.Frexp(v)
	return float64(exp - 1)
}

func getMan(v float64) float64 {
	if v == 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		if math.IsInf(v, 0) {
			return math.NaN()
		}
		return v
	}
	frac, _ := math.Frexp(v)
	return frac * 2
}

// modWithQuotient implements FMOD (round-to-zero quotient) and records the
// quotient byte; remWithQuotient is FREM (round-to-nearest, via Remquo).
func modWithQuotient(s *guest.State, dst, src float64) float64 {
	if src == 0 || math.IsNaN(dst) || math.IsNaN(src) || math.IsInf(dst, 0) {
		s.FPSR &^= guest.FPSRQuotient | guest.FPSRQuotientSign
		return math.NaN()
	}
	q := math.Trunc(dst / src)
	setQuotient(s, int(math.Mod(q, 128)))
	return dst - q*src
}

func remWithQuotient(s *guest.State, dst, src float64) float64 {
	if src == 0 || math.IsNaN(dst) || math.IsNaN(src) || math.IsInf(dst, 0) {
		s.FPSR &^= guest.FPSRQuotient | guest.FPSRQuotientSign
		return math.NaN()
	}
	rem, quo := Remquo(dst, src)
	setQuotient(s, quo)
	return rem
}

func setQuotient(s *guest.State, quo int) {
	s.FPSR &^= guest.FPSRQuotient | guest.FPSRQuotientSign
	if quo < 0 {
		s.FPSR |= guest.FPSRQuotientSign
		quo = -quo
	}
	s.FPSR |= uint32(quo&0x7F) << 16
}

// setCC rewrites the FPSR condition-code byte from a result value.
func setCC(s *guest.State, v float64) {
	s.FPSR &^= guest.FPSRCC
	switch {
	case math.IsNaN(v):
		s.FPSR |= guest.FPSRNAN
		if math.Signbit(v) {
			s.FPSR |= guest.FPSRN
		}
	case math.IsInf(v, 0):
		s.FPSR |= guest.FPSRI
		if math.Signbit(v) {
			s.FPSR |= guest.FPSRN
		}
	case v == 0:
		s.FPSR |= guest.FPSRZ
		if math.Signbit(v) {
			s.FPSR |= guest.FPSRN
		}
	case math.Signbit(v):
		s.FPSR |= guest.FPSRN
	}
}

// compare runs FCMP: condition codes from dst - src without writing any
// register back, with the guest's special cases for like infinities.
func compare(s *guest.State, dst, src float64) {
	if math.IsNaN(dst) || math.IsNaN(src) {
		s.FPSR &^= guest.FPSRCC
		s.FPSR |= guest.FPSRNAN
		return
	}
	diff := dst - src
	if math.IsInf(dst, 0) && math.IsInf(src, 0) && math.Signbit(dst) == math.Signbit(src) {
		// +inf vs +inf compares equal, not NaN.
		diff = math.Copysign(0, dst)
	}
	setCC(s, diff)
}

// setExceptions records the exception byte for an arithmetic result:
// operand errors that manufactured a NaN, divide-by-zero, overflow to
// infinity from finite operands, underflow to zero from a non-zero exact
// value, and log-family domain errors.
func setExceptions(s *guest.State, op uint32, dst, src, result float64) {
	switch {
	case math.IsNaN(result) && !math.IsNaN(src) && !math.IsNaN(dst):
		s.FPSR |= guest.FPSROPERR
	case math.IsInf(result, 0) && !math.IsInf(src, 0) && !math.IsInf(dst, 0):
		if isDivide(op) && src == 0 {
			s.FPSR |= guest.FPSRDZ
		} else if isLog(op) && src == 0 {
			s.FPSR |= guest.FPSRDZ
		} else {
			s.FPSR |= guest.FPSROVFL
		}
	case result == 0 && src != 0 && isMultiplicative(op):
		s.FPSR |= guest.FPSRUNFL
	}
}

func isDivide(op uint32) bool {
	return op == 0x20 || op == 0x24 || op == 0x60 || op == 0x64
}

func isLog(op uint32) bool {
	return op == 0x14 || op == 0x15 || op == 0x16
}

func isMultiplicative(op uint32) bool {
	switch op {
	case 0x23, 0x27, 0x63, 0x67, 0x20, 0x24, 0x60, 0x64:
		return true
	}
	return false
}
