package opcodes

import (
	"testing"

	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

func TestLowerSUBIUsesRealEncoding(t *testing.T) {
	// subi.l #4,D0 -> 0x0480, immediate long 4
	c, _ := newTestContext(0x0480, &fakeDecoder{longs: []uint32{4}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("marker = %v, want MarkerNone", marker)
	}
}

func TestLowerCMPIComparesACopy(t *testing.T) {
	// cmpi.w #5,D1 -> 0x0C41
	c, words := newTestContext(0x0C41, &fakeDecoder{words: []uint16{5}})
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

func TestLowerDynamicBCHGOnDataRegister(t *testing.T) {
	// bchg D0,D1 -> 0000 000 101 000 001
	c, _ := newTestContext(0x0141, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("marker = %v, want MarkerNone", marker)
	}
}

func TestLowerStaticBSETStoresBack(t *testing.T) {
	// bset #3,D2 -> 0x08C2, bit number word 3
	c, words := newTestContext(0x08C2, &fakeDecoder{words: []uint16{3}})
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

func TestLowerMOVEPTrapsAsUntranslated(t *testing.T) {
	// movep.w (d16,A1),D0 -> 0000 000 100 001 001
	c, _ := newTestContext(0x0109, &fakeDecoder{words: []uint16{0}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerEnd {
		t.Fatalf("MOVEP must trap, got %v", marker)
	}
}

func TestLowerORIToSRGuardsPrivilege(t *testing.T) {
	// ori.w #$0700,SR -> 0x007C
	c, words := newTestContext(0x007C, &fakeDecoder{words: []uint16{0x0700}})
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
		t.Fatal("ORI to SR must emit the user-mode privilege trap")
	}
}

func TestLowerANDIToCCRLeavesSystemByteAlone(t *testing.T) {
	// andi.b #$1A,CCR -> 0x023C
	c, words := newTestContext(0x023C, &fakeDecoder{words: []uint16{0x1A}})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("marker = %v, want MarkerNone", marker)
	}
	priv := hostisa.UdfCond(hostisa.CondEQ, guest.VecPrivilegeViolation)
	for _, w := range *words {
		if w == priv {
			t.Fatal("the CCR form is unprivileged")
		}
	}
}
