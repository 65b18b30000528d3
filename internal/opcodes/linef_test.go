package opcodes

import (
	"testing"

	"github.com/m68kjit/m68kjit/internal/fpu"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// lastServiceCmd digs the movw/movt-materialized service command back out
// of an emitted stream whose final word stores it into the mailbox.
func lastServiceCmd(t *testing.T, words []uint32) uint32 {
	t.Helper()
	if len(words) < 3 {
		t.Fatalf("expected at least 3 words for a service request, got %d", len(words))
	}
	return decodeMovImm32(t, words[len(words)-3], words[len(words)-2])
}

func TestLowerFSinRequestsTranscendentalService(t *testing.T) {
	// fsin.x FP3,FP5 -> word2: R/M=0 src=3 dst=5 opmode=0x0E
	c, words := newTestContext(0xF200, &fakeDecoder{words: []uint16{0x0E8E}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerEndNextPC {
		t.Fatalf("marker = %v, want MarkerEndNextPC", marker)
	}
	want := fpu.CmdSrcFP(fpu.Cmd(0x0E, 5), 3)
	if got := lastServiceCmd(t, *words); got != want {
		t.Fatalf("command = %#x, want %#x", got, want)
	}
}

func TestLowerFAddFromDataRegister(t *testing.T) {
	// fadd.l D2,FP0 -> word2: R/M=1 fmt=0 (long) dst=0 opmode=0x22
	c, words := newTestContext(0xF202, &fakeDecoder{words: []uint16{0x4022}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerEndNextPC {
		t.Fatalf("marker = %v, want MarkerEndNextPC", marker)
	}
	want := fpu.CmdReg(fpu.CmdOperand(fpu.Cmd(0x22, 0), fpu.LocDataReg, fpu.FmtLong), 2)
	if got := lastServiceCmd(t, *words); got != want {
		t.Fatalf("command = %#x, want %#x", got, want)
	}
}

func TestLowerFMoveToMemoryStoresThroughService(t *testing.T) {
	// fmove.s FP1,(A0) -> opcode EA mode 010 reg 0; word2: 011 fmt=001 src=1 k=0
	c, words := newTestContext(0xF210, &fakeDecoder{words: []uint16{0x6480}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerEndNextPC {
		t.Fatalf("marker = %v, want MarkerEndNextPC", marker)
	}
	want := fpu.CmdOperand(fpu.Cmd(0, 1)|fpu.CmdStore, fpu.LocMem, fpu.FmtSingle)
	if got := lastServiceCmd(t, *words); got != want {
		t.Fatalf("command = %#x, want %#x", got, want)
	}
}

func TestLowerFMOVEMParksMaskAndBase(t *testing.T) {
	// fmovem.x FP0/FP1,(A0) -> word2: dir=1 mode=10 (static, FP0-first) mask=0xC0
	c, words := newTestContext(0xF210, &fakeDecoder{words: []uint16{0xF0C0}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerEndNextPC {
		t.Fatalf("marker = %v, want MarkerEndNextPC", marker)
	}
	want := fpu.CmdK(fpu.Cmd(fpu.OpMovemToMem, 0), 0xC0)
	if got := lastServiceCmd(t, *words); got != want {
		t.Fatalf("command = %#x, want %#x", got, want)
	}
}

func TestLowerFMoveControlRegisterToDataRegister(t *testing.T) {
	// fmove.l FPCR,D3 -> word2: 10 1 100 0000000000 = 0xB000, EA = D3
	c, words := newTestContext(0xF203, &fakeDecoder{words: []uint16{0xB000}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("marker = %v, want MarkerNone (no service needed)", marker)
	}
	if len(*words) != 1 {
		t.Fatalf("expected a single load, got %d words", len(*words))
	}
}

func TestLowerFBccConditionalExit(t *testing.T) {
	// fbogt.w +8 -> predicate 0x02, word displacement
	var exits []hostisa.Cond
	c, _ := newTestContext(0xF282, &fakeDecoder{words: []uint16{0x0008}})
	c.CondExit = func(cond hostisa.Cond) { exits = append(exits, cond) }
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerCondExit {
		t.Fatalf("marker = %v, want MarkerCondExit", marker)
	}
	if len(exits) != 1 {
		t.Fatalf("expected one recorded conditional exit, got %d", len(exits))
	}
}

func TestLowerFBccNeverTakenIsANoop(t *testing.T) {
	// fbf.w +6: predicate F never branches (FNOP is this with disp 0).
	c, words := newTestContext(0xF280, &fakeDecoder{words: []uint16{0x0006}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("marker = %v, want MarkerNone", marker)
	}
	if len(*words) != 0 {
		t.Fatalf("expected no emitted words, got %d", len(*words))
	}
}

func TestLowerFSccWritesByte(t *testing.T) {
	// fseq D0 -> opcode 0xF240 EA=D0, word2 predicate 0x01
	c, words := newTestContext(0xF240, &fakeDecoder{words: []uint16{0x0001}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("marker = %v, want MarkerNone", marker)
	}
	if len(*words) == 0 {
		t.Fatal("expected emitted words")
	}
}

func TestLowerFSAVEEmitsIdleFrame(t *testing.T) {
	// fsave (A0) -> 0xF310; supervisor check precedes the frame store.
	c, words := newTestContext(0xF310, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("marker = %v, want MarkerNone", marker)
	}
	priv := hostisa.UdfCond(hostisa.CondEQ, guest.VecPrivilegeViolation)
	found := false
	for _, w := range *words {
		if w == priv {
			found = true
		}
	}
	if !found {
		t.Fatal("FSAVE must guard against user mode with a privilege trap")
	}
}

func TestLowerFRESTOREEndsBlock(t *testing.T) {
	// frestore (A0)+ -> 0xF358
	c, _ := newTestContext(0xF358, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerEndNextPC {
		t.Fatalf("marker = %v, want MarkerEndNextPC", marker)
	}
}

func TestLowerCINVParksRequestAndEndsBlock(t *testing.T) {
	// cinv l,ic,(A0) -> 0xF488: insn cache, line scope, A0
	c, words := newTestContext(0xF488, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerEndNextPC {
		t.Fatalf("marker = %v, want MarkerEndNextPC", marker)
	}
	want := uint32(guest.CacheOpPending | 0x88)
	if got := lastServiceCmd(t, *words); got != want {
		t.Fatalf("cache request = %#x, want %#x", got, want)
	}
}

func TestLowerMOVE16PostIncrementPair(t *testing.T) {
	// move16 (A0)+,(A1)+ -> 0xF620, word2 0x9000
	c, words := newTestContext(0xF620, &fakeDecoder{words: []uint16{0x9000}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("marker = %v, want MarkerNone", marker)
	}
	// Two reloads, two alignment bics, four load/store pairs, two
	// postincrements.
	if len(*words) < 12 {
		t.Fatalf("expected the full 16-byte copy sequence, got %d words", len(*words))
	}
}

func TestLowerPFLUSHAIsANop(t *testing.T) {
	c, words := newTestContext(0xF500, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("marker = %v, want MarkerNone", marker)
	}
	if len(*words) != 1 {
		t.Fatalf("expected a single nop, got %d words", len(*words))
	}
}
