package fpu

import (
	"math"
	"testing"

	"github.com/m68kjit/m68kjit/internal/guest"
)

func TestStoreLoad96BitRoundTrip(t *testing.T) {
	for _, v := range []float64{0, 1, -1, 3.25, -123456.75, 1e30, -1e-10} {
		b := Store96Bit(v)
		if len(b) != 12 {
			t.Fatalf("Store96Bit(%v) produced %d bytes, want 12", v, len(b))
		}
		got := Load96Bit(b)
		if math.Abs(got-v) > math.Abs(v)*1e-12+1e-300 {
			t.Errorf("round trip %v -> %v", v, got)
		}
	}
}

func TestStoreLoad96BitSpecials(t *testing.T) {
	if got := Load96Bit(Store96Bit(math.Inf(1))); !math.IsInf(got, 1) {
		t.Errorf("+Inf round trip = %v", got)
	}
	if got := Load96Bit(Store96Bit(math.Inf(-1))); !math.IsInf(got, -1) {
		t.Errorf("-Inf round trip = %v", got)
	}
	if got := Load96Bit(Store96Bit(math.NaN())); !math.IsNaN(got) {
		t.Errorf("NaN round trip = %v", got)
	}
}

func TestPackedRoundTrip(t *testing.T) {
	for _, v := range []float64{0, 1, -1, 3.25, 123.5, -9999.125} {
		got := PackedToDouble(DoubleToPacked(v, 17))
		if math.Abs(got-v) > 1e-6 {
			t.Errorf("packed round trip %v -> %v", v, got)
		}
	}
}

func TestLoadStoreExtendedViaMemory(t *testing.T) {
	mem := guest.NewFlatMemory(64)
	e := guest.Extended{V: 42.5}
	StoreExtended(mem, 0x10, e)
	got := LoadExtended(mem, 0x10)
	if got.V != 42.5 {
		t.Errorf("LoadExtended = %v, want 42.5", got.V)
	}
}

func TestFMOVECRConstantsKnownEntries(t *testing.T) {
	if math.Abs(FMOVECRConstants[0x00]-math.Pi) > 1e-15 {
		t.Errorf("constants[0x00] = %v, want Pi", FMOVECRConstants[0x00])
	}
	if FMOVECRConstants[0x32] != 1.0 {
		t.Errorf("constants[0x32] = %v, want 1.0", FMOVECRConstants[0x32])
	}
	if FMOVECRConstants[0x20] != 0 {
		t.Errorf("constants[0x20] (unspecified entry) = %v, want 0", FMOVECRConstants[0x20])
	}
}
