package translator

import (
	"testing"

	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

const (
	opMoveq = 0x7000 // moveq #0,D0 base; reg in bits 11-9, imm8 in bits 7-0
	opNop   = 0x4E71
	opBraB  = 0x6000 // bra.b base; byte displacement in bits 7-0
)

func moveq(reg uint16, imm uint8) uint16 {
	return opMoveq | reg<<9 | uint16(imm)
}

func TestTranslateStraightLineBlockEndsAtUnconditionalBranch(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, moveq(0, 5))
	mem.Write16(0x1002, moveq(1, 6))
	mem.Write16(0x1004, opBraB|2) // bra.b +2

	tu, err := Translate(mem, 0x1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if tu.GuestStart != 0x1000 {
		t.Fatalf("GuestStart = %#x, want 0x1000", tu.GuestStart)
	}
	if tu.GuestEnd != 0x1006 {
		t.Fatalf("GuestEnd = %#x, want 0x1006 (three fixed-width instructions)", tu.GuestEnd)
	}
	if len(tu.Code) == 0 {
		t.Fatal("expected a non-empty code buffer")
	}
	// Reserved registers are always part of the save/restore set regardless
	// of what the allocator touched.
	if tu.PushMask&alwaysSaved != alwaysSaved {
		t.Fatalf("PushMask %#x missing reserved registers %#x", tu.PushMask, alwaysSaved)
	}
}

func TestTranslateStopsAtMaxInsns(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	for i := 0; i < 32; i++ {
		mem.Write16(uint32(0x1000+2*i), opNop)
	}

	tu, err := Translate(mem, 0x1000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if tu.GuestEnd != 0x1000+2*4 {
		t.Fatalf("GuestEnd = %#x, want %#x (MAX_INSNS bound hit)", tu.GuestEnd, 0x1000+2*4)
	}
}

func TestTranslateStoresPCBackBeforeReturn(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, 0x4E75) // rts

	tu, err := Translate(mem, 0x1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	n := len(tu.Code)
	if n < 3 {
		t.Fatal("expected epilogue words")
	}
	wantStore := hostisa.StrImm(hostisa.CondAL, PCReg, StateBaseReg, pcFieldOffset, true, false)
	if tu.Code[n-3] != wantStore {
		t.Fatalf("word before the pop = %#08x, want the PC store-back %#08x", tu.Code[n-3], wantStore)
	}
	if tu.Code[n-1] != hostisa.BX(hostisa.CondAL, hostisa.LR) {
		t.Fatalf("last word = %#08x, want BX LR", tu.Code[n-1])
	}
}

func TestTranslateStraightLineBatchesOnePCUpdate(t *testing.T) {
	// Three two-byte instructions, no PC reference: exactly one add of the
	// guest-PC register appears, at block exit (Testable Property 3).
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, opNop)
	mem.Write16(0x1002, opNop)
	mem.Write16(0x1004, opNop)

	tu, err := Translate(mem, 0x1000, 3)
	if err != nil {
		t.Fatal(err)
	}
	adds := 0
	for _, w := range tu.Code {
		if w == hostisa.AddImm(hostisa.CondAL, false, PCReg, PCReg, 6, 0) {
			adds++
		}
	}
	if adds != 1 {
		t.Fatalf("found %d batched PC adds of 6, want exactly 1", adds)
	}
}

func TestTranslateConditionalExitBranchesToJoinEpilogue(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, 0x6604) // bne.b +4
	mem.Write16(0x1002, opNop)
	mem.Write16(0x1004, 0x4E75) // rts

	tu, err := Translate(mem, 0x1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Locate the patched conditional branch and check it lands exactly on
	// the PC store-back that opens the join epilogue.
	joinIdx := len(tu.Code) - 3
	found := false
	for i, w := range tu.Code {
		if w>>24&0xF == 0xA && w>>28 != uint32(hostisa.CondAL) {
			off := int32(w<<8) >> 8
			target := i + 2 + int(off)
			if target != joinIdx {
				t.Fatalf("conditional exit at %d branches to %d, want the join at %d", i, target, joinIdx)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("expected a patched conditional branch to the epilogue")
	}
}

func TestTranslateServiceRequestEndsBlockPastTheInstruction(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, 0xF200) // fadd.x FP1,FP0 ...
	mem.Write16(0x1002, 0x0422) // ... ends the block for servicing
	mem.Write16(0x1004, opNop)  // never part of this TU

	tu, err := Translate(mem, 0x1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if tu.GuestEnd != 0x1004 {
		t.Fatalf("GuestEnd = %#x, want 0x1004 (the FPU op plus its command word)", tu.GuestEnd)
	}
	// The resume address is the next instruction: the epilogue's batched
	// flush must add the instruction's 4 bytes.
	adds := 0
	for _, w := range tu.Code {
		if w == hostisa.AddImm(hostisa.CondAL, false, PCReg, PCReg, 4, 0) {
			adds++
		}
	}
	if adds != 1 {
		t.Fatalf("found %d PC adds of 4, want exactly 1", adds)
	}
}

func TestTranslatePatchesProloguePushMaskIntoFirstWord(t *testing.T) {
	mem := guest.NewFlatMemory(0x2000)
	mem.Write16(0x1000, opNop)
	mem.Write16(0x1002, 0x4E75) // rts

	tu, err := Translate(mem, 0x1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tu.Code) < 2 {
		t.Fatal("expected at least the prologue push and PC load")
	}
	// Push(cond, regList) always sets bits 27-25 to 0b100 and bit 24/21 for
	// the STMDB!-style prologue form; confirm the placeholder word was
	// rewritten to carry the final regList rather than the 0-register
	// placeholder emitted at Translate's start.
	placeholderPush := tu.Code[0] &^ 0xFFFF
	patchedPush := tu.Code[0] & 0xFFFF
	_ = placeholderPush
	if patchedPush != uint32(tu.PushMask) {
		t.Fatalf("prologue word's register list = %#x, want PushMask %#x", patchedPush, tu.PushMask)
	}
}
