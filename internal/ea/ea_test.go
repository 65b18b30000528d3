package ea

import (
	"testing"

	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/cc"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// fakeDecoder replays a fixed sequence of extension words/longs, mirroring
// the translator's compile-time decode cursor over a guest instruction
// stream.
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

func newTestCompiler() (*Compiler, *[]uint32) {
	var words []uint32
	emit := func(w uint32) { words = append(words, w) }
	pool := []hostisa.Reg{hostisa.R0, hostisa.R1, hostisa.R2, hostisa.R3}
	a := alloc.NewAllocator(pool, emit)
	m := cc.New(emit, hostisa.R5, hostisa.R6, hostisa.R8)
	c := &Compiler{Alloc: a, CC: m, StateBase: hostisa.R7, Scratch: hostisa.R8, EmitWord: emit}
	return c, &words
}

func TestCompileDataRegisterDirectNoMemoryAccess(t *testing.T) {
	c, words := newTestCompiler()
	res, err := c.Compile(ModeDR, 3, guest.SizeLong, 0, &fakeDecoder{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != KindRegister || res.Guest != alloc.D(3) {
		t.Fatalf("expected register-direct D3, got %+v", res)
	}
	if len(*words) != 0 {
		t.Fatal("register-direct mode must not emit any memory access")
	}
}

func TestCompileAddressIndirectMapsBaseRegister(t *testing.T) {
	c, words := newTestCompiler()
	res, err := c.Compile(ModeARInd, 2, guest.SizeLong, 0, &fakeDecoder{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != KindMemory {
		t.Fatal("expected memory result for (An)")
	}
	if len(*words) != 1 {
		t.Fatalf("expected exactly one load for the base register mapping, got %d", len(*words))
	}
}

func TestCompilePostIncrementDefersAdjust(t *testing.T) {
	c, words := newTestCompiler()
	res, err := c.Compile(ModeARPost, 0, guest.SizeWord, 0, &fakeDecoder{})
	if err != nil {
		t.Fatal(err)
	}
	before := len(*words)
	if res.PostAdjust == nil {
		t.Fatal("expected a PostAdjust closure for (An)+")
	}
	res.PostAdjust()
	if len(*words) != before+1 {
		t.Fatal("expected PostAdjust to emit exactly one add")
	}
}

func TestCompilePreDecrementAdjustsEagerly(t *testing.T) {
	c, words := newTestCompiler()
	before := len(*words)
	_, err := c.Compile(ModeARPre, 1, guest.SizeLong, 0, &fakeDecoder{})
	if err != nil {
		t.Fatal(err)
	}
	if len(*words) != before+2 {
		t.Fatal("expected -(An) to emit its base load and its subtract immediately")
	}
}

func TestCompileA7BytePrePostUsesWordStep(t *testing.T) {
	c, _ := newTestCompiler()
	res, err := c.Compile(ModeARPost, 7, guest.SizeByte, 0, &fakeDecoder{})
	if err != nil {
		t.Fatal(err)
	}
	if res.PostAdjust == nil {
		t.Fatal("expected PostAdjust for A7 byte postincrement")
	}
}

func TestCompileDisp16ConsumesOneExtensionWord(t *testing.T) {
	c, words := newTestCompiler()
	dec := &fakeDecoder{words: []uint16{0x0010}}
	res, err := c.Compile(ModeARDisp, 4, guest.SizeWord, 0, dec)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != KindMemory {
		t.Fatal("expected memory result for (d16,An)")
	}
	if dec.wi != 1 {
		t.Fatal("expected exactly one extension word consumed")
	}
	if len(*words) == 0 {
		t.Fatal("expected address computation to emit at least one instruction")
	}
}

func TestCompileAbsoluteShortAndLong(t *testing.T) {
	c, _ := newTestCompiler()
	decShort := &fakeDecoder{words: []uint16{0x2000}}
	if _, err := c.Compile(ModeExt, Ext7AbsWord, guest.SizeLong, 0, decShort); err != nil {
		t.Fatal(err)
	}

	c2, _ := newTestCompiler()
	decLong := &fakeDecoder{longs: []uint32{0x00123456}}
	if _, err := c2.Compile(ModeExt, Ext7AbsLong, guest.SizeLong, 0, decLong); err != nil {
		t.Fatal(err)
	}
	if decLong.li != 1 {
		t.Fatal("expected absolute long to consume one 32-bit extension")
	}
}

func TestCompilePCRelativeDisp(t *testing.T) {
	c, _ := newTestCompiler()
	dec := &fakeDecoder{words: []uint16{0xFFF0}} // -16
	res, err := c.Compile(ModeExt, Ext7PCDisp, guest.SizeWord, 0x1000, dec)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != KindMemory {
		t.Fatal("expected memory result for (d16,PC)")
	}
}

func TestCompileImmediateCapturesValue(t *testing.T) {
	c, words := newTestCompiler()
	dec := &fakeDecoder{longs: []uint32{0x12345678}}
	res, err := c.Compile(ModeExt, Ext7Imm, guest.SizeLong, 0, dec)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != KindImmediate || res.Imm != 0x12345678 {
		t.Fatalf("res = %+v, want an immediate carrying 0x12345678", res)
	}
	if len(*words) != 0 {
		t.Fatal("capturing an immediate emits nothing; the lowering materializes it")
	}
}

func TestCompileImmediateWordMasks(t *testing.T) {
	c, _ := newTestCompiler()
	dec := &fakeDecoder{words: []uint16{0x00FF}}
	res, err := c.Compile(ModeExt, Ext7Imm, guest.SizeByte, 0, dec)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imm != 0xFF {
		t.Fatalf("Imm = %#x, want the low byte only", res.Imm)
	}
}

// isAddReg reports whether w is a register-form ADD, and yields its Rn.
func isAddReg(w uint32) (rn hostisa.Reg, ok bool) {
	if w&0x0FE00000 == 0x00800000 {
		return hostisa.Reg(w >> 16 & 0xF), true
	}
	return 0, false
}

// isLdrFrom reports whether w is an immediate-offset LDR whose base is rn.
func isLdrFrom(w uint32, rn hostisa.Reg) bool {
	return w&0x0C500000 == 0x04100000 && hostisa.Reg(w>>16&0xF) == rn
}

func TestCompileAbsoluteNeverAddsAgainstALiveRegister(t *testing.T) {
	// (xxx).L is a translate-time constant: it must be materialized with a
	// plain move, never as "some register plus offset" — R0 in particular
	// holds the live state pointer at run time, not zero.
	c, words := newTestCompiler()
	dec := &fakeDecoder{longs: []uint32{0x00123456}}
	if _, err := c.Compile(ModeExt, Ext7AbsLong, guest.SizeLong, 0, dec); err != nil {
		t.Fatal(err)
	}
	for _, w := range *words {
		if rn, ok := isAddReg(w); ok {
			t.Fatalf("absolute address emitted an ADD against r%d", rn)
		}
	}
}

func TestCompilePCDispMaterializesResolvedAddress(t *testing.T) {
	c, words := newTestCompiler()
	dec := &fakeDecoder{words: []uint16{0x0010}}
	if _, err := c.Compile(ModeExt, Ext7PCDisp, guest.SizeWord, 0x1000, dec); err != nil {
		t.Fatal(err)
	}
	for _, w := range *words {
		if rn, ok := isAddReg(w); ok {
			t.Fatalf("PC-relative address emitted an ADD against r%d", rn)
		}
	}
}

func TestCompileFullIndexPostindexedAddsIndexAfterFetch(t *testing.T) {
	// ([bd.W,A2],D0.L,od.W): full format, index D0 long scale 0, BD size
	// word (10), I/IS postindexed word od (110).
	c, words := newTestCompiler()
	ext := uint16(0x0100 | 0x0800 | 2<<4 | 0x6)
	dec := &fakeDecoder{words: []uint16{ext, 0x0010, 0x0004}}
	res, err := c.Compile(ModeARIndex, 2, guest.SizeLong, 0, dec)
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != KindMemory {
		t.Fatal("expected a memory result")
	}
	if dec.wi != 3 {
		t.Fatalf("consumed %d extension words, want 3 (ext, bd.W, od.W)", dec.wi)
	}
	// The scaled-index add must come after the pointer fetch. The only
	// LDRs whose base is not the guest-state register are the indirect
	// fetch itself (register reloads all base off R7), and the only
	// register-form ADD in this encoding is the index fold.
	indirectSeen := false
	for _, w := range *words {
		if !isLdrFrom(w, hostisa.R7) && w&0x0C500000 == 0x04100000 {
			indirectSeen = true
		}
		if _, ok := isAddReg(w); ok && !indirectSeen {
			t.Fatal("postindexed form folded the index in before the indirection")
		}
	}
	if !indirectSeen {
		t.Fatal("expected the memory-indirect load")
	}
}

func TestCompileFullIndexPreindexedAppliesWordOuterDisplacement(t *testing.T) {
	// ([bd.W,A2,D0.L],od.W): full format, BD size word, I/IS 010
	// (preindexed with a word outer displacement).
	c, words := newTestCompiler()
	ext := uint16(0x0100 | 0x0800 | 2<<4 | 0x2)
	dec := &fakeDecoder{words: []uint16{ext, 0x0010, 0x0008}}
	if _, err := c.Compile(ModeARIndex, 2, guest.SizeLong, 0, dec); err != nil {
		t.Fatal(err)
	}
	if dec.wi != 3 {
		t.Fatalf("consumed %d extension words, want 3 (ext, bd.W, od.W)", dec.wi)
	}
	if len(*words) == 0 {
		t.Fatal("expected emitted words")
	}
}

func TestCompileBriefIndexConsumesOneExtensionWord(t *testing.T) {
	c, _ := newTestCompiler()
	// Brief format: D0 as word index, scale 0, disp8 = 4.
	dec := &fakeDecoder{words: []uint16{0x0004}}
	_, err := c.Compile(ModeARIndex, 2, guest.SizeLong, 0, dec)
	if err != nil {
		t.Fatal(err)
	}
	if dec.wi != 1 {
		t.Fatal("expected brief-format index to consume exactly one extension word")
	}
}
