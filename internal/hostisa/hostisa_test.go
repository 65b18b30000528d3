package hostisa

import "testing"

func TestEncodeImmediateRotations(t *testing.T) {
	cases := []struct {
		value uint32
		ok    bool
	}{
		{0x000000FF, true},
		{0xFF000000, true},
		{0x00FF0000, true},
		{0x00000001, true},
		{0x12345678, false},
	}
	for _, c := range cases {
		_, _, ok := EncodeImmediate(c.value)
		if ok != c.ok {
			t.Errorf("EncodeImmediate(%#x) ok = %v, want %v", c.value, ok, c.ok)
		}
	}
}

func TestMovImmRoundTrip(t *testing.T) {
	imm8, rot, ok := EncodeImmediate(0xFF)
	if !ok {
		t.Fatal("expected 0xFF to be encodable")
	}
	word := MovImm(CondAL, R0, imm8, rot)
	// AL condition (0xE), MOV opcode (0xD), no S bit, Rd=r0.
	const want = 0xE3A00000 | 0xFF
	if word != want {
		t.Fatalf("MovImm = %#08x, want %#08x", word, want)
	}
}

func TestAddRegShape(t *testing.T) {
	word := AddReg(CondAL, false, R1, R2, R3, ShiftLSL, 0)
	const want = 0xE0821003
	if word != want {
		t.Fatalf("AddReg = %#08x, want %#08x", word, want)
	}
}

func TestBEncodesConditionAndOffset(t *testing.T) {
	word := B(CondEQ, 4)
	const want = 0x0A000004
	if word != want {
		t.Fatalf("B = %#08x, want %#08x", word, want)
	}
}

func TestUdfIsUnconditional(t *testing.T) {
	word := Udf(0x1234)
	if word&0xFF000000 != 0xE7000000 {
		t.Fatalf("Udf not encoded unconditionally: %#08x", word)
	}
}

func TestMovImm32ProducesMovwMovt(t *testing.T) {
	words := MovImm32(CondAL, R4, 0x12345678)
	if words[0]&0xFFF00000 != 0xE3000000 {
		t.Fatalf("movw mis-encoded: %#08x", words[0])
	}
	if words[1]&0xFFF00000 != 0xE3400000 {
		t.Fatalf("movt mis-encoded: %#08x", words[1])
	}
}

func TestLdrImmOffsetSign(t *testing.T) {
	pos := LdrImm(CondAL, R0, R1, 8, true, false)
	neg := LdrImm(CondAL, R0, R1, -8, true, false)
	if pos&(1<<23) == 0 {
		t.Fatal("positive offset should set U bit")
	}
	if neg&(1<<23) != 0 {
		t.Fatal("negative offset should clear U bit")
	}
}
