package opcodes

import (
	"testing"

	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/cc"
	"github.com/m68kjit/m68kjit/internal/ea"
	"github.com/m68kjit/m68kjit/internal/fpu"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

type fakeDecoder struct {
	words []uint16
	longs []uint32
	wi    int
	li    int
}

func (d *fakeDecoder) Fetch16() uint16 {
	v := d.words[d.wi]
	d.wi++
	return v
}

func (d *fakeDecoder) Fetch32() uint32 {
	v := d.longs[d.li]
	d.li++
	return v
}

func newTestContext(opcode uint16, dec *fakeDecoder) (*Context, *[]uint32) {
	var words []uint32
	emit := func(w uint32) { words = append(words, w) }
	pool := []hostisa.Reg{hostisa.R0, hostisa.R1, hostisa.R2, hostisa.R3}
	a := alloc.NewAllocator(pool, emit)
	fpPool := [][2]hostisa.Reg{{hostisa.R9, hostisa.R10}, {hostisa.R11, hostisa.R12}}
	fp := alloc.NewFPAllocator(fpPool, emit)
	m := cc.New(emit, hostisa.R5, hostisa.R6, hostisa.R8)
	eaC := &ea.Compiler{Alloc: a, CC: m, StateBase: hostisa.R7, Scratch: hostisa.R8, EmitWord: emit}
	return &Context{
		Opcode:   opcode,
		Dec:      dec,
		PC:       0x1000,
		Alloc:    a,
		CC:       m,
		EA:       eaC,
		FP:       fp,
		EmitWord: emit,
	}, &words
}

func TestTableHasAllSixteenEntriesWired(t *testing.T) {
	for i, fn := range Table {
		if fn == nil {
			t.Fatalf("Table[0x%X] is nil", i)
		}
	}
}

func TestLowerUnknownOpcodeEndsBlockWithTrap(t *testing.T) {
	c, words := newTestContext(0xFFFF, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerEnd {
		t.Fatalf("expected MarkerEnd for an unrecognized opcode, got %v", marker)
	}
	if len(*words) != 1 {
		t.Fatalf("expected exactly one trap word, got %d", len(*words))
	}
}

func TestLowerMoveqMaterializesSignExtendedImmediate(t *testing.T) {
	// moveq #-1,D2 -> opcode 0111 010 0 11111111
	c, _ := newTestContext(0x74FF, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("expected MarkerNone, got %v", marker)
	}
}

func TestLowerRTSEndsBlock(t *testing.T) {
	c, _ := newTestContext(opRTS, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerEnd {
		t.Fatalf("expected MarkerEnd for RTS, got %v", marker)
	}
}

func TestLowerBRAEndsBlockWithoutConsumingExtraStateOnByteForm(t *testing.T) {
	// bra.b +4 -> opcode 0110 0000 00000100
	c, _ := newTestContext(0x6004, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerEnd {
		t.Fatalf("expected MarkerEnd for BRA, got %v", marker)
	}
}

func TestLowerBccReturnsCondExit(t *testing.T) {
	// bne.b +4 -> condition 0110 (NE), byte displacement 4
	c, _ := newTestContext(0x6604, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerCondExit {
		t.Fatalf("expected MarkerCondExit for Bcc, got %v", marker)
	}
}

func TestLowerAddqToAnSkipsFlagSynthesis(t *testing.T) {
	// addq.l #8,A0 (quick-data field 0 encodes 8) -> 0101 000 0 10 001 000
	c, words := newTestContext(0x5088, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("expected MarkerNone, got %v", marker)
	}
	if len(*words) == 0 {
		t.Fatal("expected at least one emitted instruction")
	}
}

func TestLowerLineAAlwaysTraps(t *testing.T) {
	c, _ := newTestContext(0xA000, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerEnd {
		t.Fatalf("line A must always trap, got %v", marker)
	}
}

func TestLowerFAddRequestsService(t *testing.T) {
	// fadd.x FP1,FP0 (opmode 0x22, R/M=0, src=FP1) -> word2 0000 01 0100100010
	c, words := newTestContext(0xF200, &fakeDecoder{words: []uint16{0x0422}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerEndNextPC {
		t.Fatalf("an arithmetic FPU op must end the block for servicing, got %v", marker)
	}
	// movw/movt of the command, then the store into the mailbox field.
	if len(*words) != 3 {
		t.Fatalf("expected 3 emitted words, got %d", len(*words))
	}
	cmd := decodeMovImm32(t, (*words)[0], (*words)[1])
	want := fpu.CmdSrcFP(fpu.Cmd(0x22, 0), 1)
	if cmd != want {
		t.Fatalf("service command = %#x, want %#x", cmd, want)
	}
}

// decodeMovImm32 reconstructs the 32-bit immediate a movw/movt pair
// materializes.
func decodeMovImm32(t *testing.T, movw, movt uint32) uint32 {
	t.Helper()
	lo := (movw>>4)&0xF000 | movw&0xFFF
	hi := (movt>>4)&0xF000 | movt&0xFFF
	return hi<<16 | lo
}

func TestLowerFNOPIsANoop(t *testing.T) {
	c, words := newTestContext(0xF280, &fakeDecoder{words: []uint16{0x0000}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("expected MarkerNone for FNOP, got %v", marker)
	}
	if len(*words) != 0 {
		t.Fatalf("expected FNOP to emit nothing, got %d words", len(*words))
	}
}

func TestLowerFMOVECRLoadsConstant(t *testing.T) {
	// fmovecr #0x0,FP1 -> word2 top six bits 0x5c, dst bits 9-7 = 1
	c, words := newTestContext(0xF200, &fakeDecoder{words: []uint16{0x5C80}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("expected MarkerNone, got %v", marker)
	}
	// Two MovImm32 pairs for the constant's halves, then the FPSR
	// condition-code rewrite (load, clear, store — no set bits for pi).
	if len(*words) != 7 {
		t.Fatalf("expected 7 emitted words, got %d", len(*words))
	}
}

func TestLowerFMoveRegisterToRegister(t *testing.T) {
	// fmove.x FP2,FP1 -> opmode 0x00, src bits 12-10 = 2, dst bits 9-7 = 1
	c, words := newTestContext(0xF200, &fakeDecoder{words: []uint16{0x0880}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("expected MarkerNone, got %v", marker)
	}
	// FP2 isn't resident yet, so MapRead(2) first loads its two words from
	// guest state; the copy lands in FP1's state slot directly, and the
	// FPSR condition-code recomputation follows.
	if len(*words) < 4 {
		t.Fatalf("expected at least reload + store words, got %d", len(*words))
	}
}

func TestLowerFAbsRegisterToRegister(t *testing.T) {
	// fabs.x FP2,FP1 -> opmode 0x18, src bits 12-10 = 2, dst bits 9-7 = 1
	c, words := newTestContext(0xF200, &fakeDecoder{words: []uint16{0x0898}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("expected MarkerNone, got %v", marker)
	}
	// Same two-word reload for FP2, then the sign-clearing bic, the
	// destination stores, and the FPSR condition-code recomputation.
	if len(*words) < 5 {
		t.Fatalf("expected reload + bic + store words, got %d", len(*words))
	}
}

func TestLowerAndRegisterToRegister(t *testing.T) {
	// and.l D1,D2 (D2 &= D1) -> 1100 010 010 000 001 (opmode=2: EA,Dn with EA=D1)
	c, _ := newTestContext(0xC481, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("expected MarkerNone, got %v", marker)
	}
}

func TestLowerExgDataRegisters(t *testing.T) {
	// exg D0,D1 -> 1100 000 1 01000 001
	c, _ := newTestContext(0xC141, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("expected MarkerNone, got %v", marker)
	}
}

func TestLowerShiftImmediateLong(t *testing.T) {
	// lsl.l #1,D0 -> 1110 001 1 10 0 01 000
	c, _ := newTestContext(0xE388, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("expected MarkerNone, got %v", marker)
	}
}

var _ = guest.SizeLong
