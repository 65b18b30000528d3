package opcodes

import (
	"testing"

	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

func TestLowerADDXRegisterForm(t *testing.T) {
	// addx.l D1,D2 -> 1101 010 1 10 000 001
	c, words := newTestContext(0xD581, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("marker = %v, want MarkerNone", marker)
	}
	// The long form seeds the host carry from X and rides ADC: exactly
	// one ADC must appear.
	adcs := 0
	for _, w := range *words {
		// Register-form data processing, opcode ADC (0101), S set.
		if w&0x0FF00000 == 0x00B00000 {
			adcs++
		}
	}
	if adcs != 1 {
		t.Fatalf("expected exactly one ADCS, found %d", adcs)
	}
}

func TestLowerSUBXMemoryFormPredecrementsBoth(t *testing.T) {
	// subx.w -(A1),-(A2) -> 1001 010 1 01 001 001
	c, _ := newTestContext(0x9549, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("marker = %v, want MarkerNone", marker)
	}
}

func TestLowerADDAWordSkipsFlags(t *testing.T) {
	// adda.w D0,A1 -> 1101 001 011 000 000
	c, words := newTestContext(0xD2C0, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("marker = %v, want MarkerNone", marker)
	}
	// No SR traffic at all: an ADDA never loads the cached status register.
	for _, w := range *words {
		if w == hostisa.LdrhImm(hostisa.CondAL, hostisa.R5, hostisa.R7, 80, true, false) {
			t.Fatal("ADDA must not touch SR")
		}
	}
}

func TestLowerNEGXUsesExtendedFlagRule(t *testing.T) {
	// negx.b D0 -> 0100 0000 00 000 000
	c, _ := newTestContext(0x4000, &fakeDecoder{})
	marker, err := Lower(c)
	if err != nil {
		t.Fatal(err)
	}
	if marker != MarkerNone {
		t.Fatalf("marker = %v, want MarkerNone", marker)
	}
}

func TestLowerNBCDEmitsTensComplement(t *testing.T) {
	// nbcd D3 -> 0100 1000 00 000 011
	c, words := newTestContext(0x4803, &fakeDecoder{})
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

var _ = guest.SRX
