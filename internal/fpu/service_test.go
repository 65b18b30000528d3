package fpu

import (
	"math"
	"testing"

	"github.com/m68kjit/m68kjit/internal/guest"
)

func newServiceState() (*guest.State, *guest.FlatMemory) {
	return &guest.State{}, guest.NewFlatMemory(0x1000)
}

func TestServiceAddRegisterToRegister(t *testing.T) {
	s, mem := newServiceState()
	s.FP[0] = guest.Extended{V: 1.0}
	s.FP[1] = guest.Extended{V: 2.5}

	if err := Service(s, mem, CmdSrcFP(Cmd(0x22, 0), 1)); err != nil {
		t.Fatal(err)
	}
	if got := s.FP[0].V; got != 3.5 {
		t.Fatalf("FP0 = %v, want 3.5", got)
	}
	if s.FPSR&guest.FPSRCC != 0 {
		t.Fatalf("FPSR CC = %#x, want all clear for a positive finite result", s.FPSR)
	}
}

func TestServiceDivideByZeroSetsDZAndInfinity(t *testing.T) {
	s, mem := newServiceState()
	s.FP[2] = guest.Extended{V: 1.0}
	s.FP[3] = guest.Extended{V: 0.0}

	if err := Service(s, mem, CmdSrcFP(Cmd(0x20, 2), 3)); err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(s.FP[2].V, 1) {
		t.Fatalf("FP2 = %v, want +inf", s.FP[2].V)
	}
	if s.FPSR&guest.FPSRDZ == 0 {
		t.Fatal("expected the divide-by-zero exception bit")
	}
	if s.FPSR&guest.FPSRI == 0 {
		t.Fatal("expected the infinity condition code")
	}
}

func TestServiceSqrtOfNegativeSetsOPERR(t *testing.T) {
	s, mem := newServiceState()
	s.FP[1] = guest.Extended{V: -4.0}

	if err := Service(s, mem, CmdSrcFP(Cmd(0x04, 0), 1)); err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(s.FP[0].V) {
		t.Fatalf("FP0 = %v, want NaN", s.FP[0].V)
	}
	if s.FPSR&guest.FPSROPERR == 0 {
		t.Fatal("expected the operand-error exception bit")
	}
	if s.FPSR&guest.FPSRNAN == 0 {
		t.Fatal("expected the NaN condition code")
	}
}

func TestServiceLoadSingleFromGuestMemory(t *testing.T) {
	s, mem := newServiceState()
	mem.Write32(0x100, math.Float32bits(1.5)) // big-endian in guest memory
	s.FpAddr = 0x100

	cmd := CmdOperand(Cmd(0x00, 4), LocMem, FmtSingle)
	if err := Service(s, mem, cmd); err != nil {
		t.Fatal(err)
	}
	if got := s.FP[4].V; got != 1.5 {
		t.Fatalf("FP4 = %v, want 1.5", got)
	}
}

func TestServiceLoadWordFromDataRegister(t *testing.T) {
	s, mem := newServiceState()
	s.D[3] = 0xAAAA_FFFE // low word -2, garbage above it

	cmd := CmdReg(CmdOperand(Cmd(0x00, 1), LocDataReg, FmtWord), 3)
	if err := Service(s, mem, cmd); err != nil {
		t.Fatal(err)
	}
	if got := s.FP[1].V; got != -2.0 {
		t.Fatalf("FP1 = %v, want -2 (sign-extended low word)", got)
	}
	if s.FPSR&guest.FPSRN == 0 {
		t.Fatal("expected the negative condition code")
	}
}

func TestServiceLoadImmediateImageFromFrame(t *testing.T) {
	s, mem := newServiceState()
	// -13 as a big-endian long image in the frame (raw byte order).
	img := []byte{0xFF, 0xFF, 0xFF, 0xF3}
	s.FpFrame[0] = uint32(img[0]) | uint32(img[1])<<8 | uint32(img[2])<<16 | uint32(img[3])<<24

	cmd := CmdOperand(Cmd(0x00, 6), LocFrame, FmtLong)
	if err := Service(s, mem, cmd); err != nil {
		t.Fatal(err)
	}
	if got := s.FP[6].V; got != -13.0 {
		t.Fatalf("FP6 = %v, want -13", got)
	}
}

func TestServiceStoreWordToDataRegisterMerges(t *testing.T) {
	s, mem := newServiceState()
	s.FP[5] = guest.Extended{V: -7.0}
	s.D[2] = 0xDEADBEEF

	cmd := CmdReg(CmdOperand(Cmd(0, 5)|CmdStore, LocDataReg, FmtWord), 2)
	if err := Service(s, mem, cmd); err != nil {
		t.Fatal(err)
	}
	if got := s.D[2]; got != 0xDEAD_FFF9 {
		t.Fatalf("D2 = %#x, want the low word replaced with -7", got)
	}
}

func TestServiceStoreExtendedRoundTrips(t *testing.T) {
	s, mem := newServiceState()
	s.FP[0] = guest.Extended{V: 123.4375}
	s.FpAddr = 0x200

	if err := Service(s, mem, CmdOperand(Cmd(0, 0)|CmdStore, LocMem, FmtExtended)); err != nil {
		t.Fatal(err)
	}
	s.FpAddr = 0x200
	if err := Service(s, mem, CmdOperand(Cmd(0x00, 7), LocMem, FmtExtended)); err != nil {
		t.Fatal(err)
	}
	if got := s.FP[7].V; got != 123.4375 {
		t.Fatalf("round trip = %v, want 123.4375", got)
	}
}

func TestServiceCompareSetsNWithoutWriting(t *testing.T) {
	s, mem := newServiceState()
	s.FP[0] = guest.Extended{V: 1.0}
	s.FP[1] = guest.Extended{V: 2.0}

	if err := Service(s, mem, CmdSrcFP(Cmd(0x38, 0), 1)); err != nil {
		t.Fatal(err)
	}
	if s.FP[0].V != 1.0 {
		t.Fatalf("FCMP must not write FP0, got %v", s.FP[0].V)
	}
	if s.FPSR&guest.FPSRN == 0 {
		t.Fatal("1 - 2 is negative: expected N")
	}
}

func TestServiceSincosFillsBothDestinations(t *testing.T) {
	s, mem := newServiceState()
	s.FP[3] = guest.Extended{V: 0.0}

	// FSINCOS FP3 -> sin FP1, cos FP6: opmode 0x36, cos dst mirrored in k.
	cmd := CmdK(CmdSrcFP(Cmd(0x36, 1), 3), 6)
	if err := Service(s, mem, cmd); err != nil {
		t.Fatal(err)
	}
	if s.FP[1].V != 0 {
		t.Fatalf("sin(0) = %v, want 0", s.FP[1].V)
	}
	if s.FP[6].V != 1 {
		t.Fatalf("cos(0) = %v, want 1", s.FP[6].V)
	}
}

func TestServiceFMODRecordsQuotientByte(t *testing.T) {
	s, mem := newServiceState()
	s.FP[0] = guest.Extended{V: 7.5}
	s.FP[1] = guest.Extended{V: 2.0}

	if err := Service(s, mem, CmdSrcFP(Cmd(0x21, 0), 1)); err != nil {
		t.Fatal(err)
	}
	if s.FP[0].V != 1.5 {
		t.Fatalf("7.5 mod 2 = %v, want 1.5", s.FP[0].V)
	}
	if got := (s.FPSR & guest.FPSRQuotient) >> 16; got != 3 {
		t.Fatalf("quotient byte = %d, want 3", got)
	}
}

func TestServiceMovemBothDirections(t *testing.T) {
	s, mem := newServiceState()
	s.FP[0] = guest.Extended{V: 1.25}
	s.FP[2] = guest.Extended{V: -8.0}
	s.FpAddr = 0x300

	// FP0 and FP2 out (mask bit7 = FP0)...
	if err := Service(s, mem, CmdK(Cmd(OpMovemToMem, 0), 0xA0)); err != nil {
		t.Fatal(err)
	}
	s.FP[0] = guest.Extended{}
	s.FP[2] = guest.Extended{}
	s.FpAddr = 0x300
	// ...and back in.
	if err := Service(s, mem, CmdK(Cmd(OpMovemToRegs, 0), 0xA0)); err != nil {
		t.Fatal(err)
	}
	if s.FP[0].V != 1.25 || s.FP[2].V != -8.0 {
		t.Fatalf("FP0/FP2 = %v/%v, want 1.25/-8", s.FP[0].V, s.FP[2].V)
	}
}

func TestServiceResetRestoresPowerUpState(t *testing.T) {
	s, mem := newServiceState()
	s.FP[4] = guest.Extended{V: 9.0}
	s.FPCR, s.FPSR, s.FPIAR = 0x10, 0x0F000000, 0x1234

	if err := Service(s, mem, Cmd(OpReset, 0)); err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(s.FP[4].V) {
		t.Fatalf("FP4 = %v, want NaN after reset", s.FP[4].V)
	}
	if s.FPCR != 0 || s.FPSR != 0 || s.FPIAR != 0 {
		t.Fatal("control registers must clear on reset")
	}
}

func TestServiceStoreLongOverflowSetsOPERR(t *testing.T) {
	s, mem := newServiceState()
	s.FP[0] = guest.Extended{V: 1e12}
	s.FpAddr = 0x400

	if err := Service(s, mem, CmdOperand(Cmd(0, 0)|CmdStore, LocMem, FmtLong)); err != nil {
		t.Fatal(err)
	}
	if s.FPSR&guest.FPSROPERR == 0 {
		t.Fatal("expected OPERR for an unrepresentable integer store")
	}
	if got := int32(mem.Read32(0x400)); got != math.MaxInt32 {
		t.Fatalf("stored %d, want the saturated maximum", got)
	}
}
