package cc

import (
	"testing"

	"github.com/m68kjit/m68kjit/internal/hostisa"
)

func newTestManager() (*Manager, *[]uint32) {
	var words []uint32
	m := New(func(w uint32) { words = append(words, w) }, hostisa.R5, hostisa.R6, hostisa.R8)
	return m, &words
}

func TestCcGetLoadsOnlyOnce(t *testing.T) {
	m, words := newTestManager()
	m.CcGet(hostisa.R7)
	m.CcGet(hostisa.R7)
	m.CcModify(hostisa.R7)
	if len(*words) != 1 {
		t.Fatalf("expected one SR load across repeated CcGet/CcModify, got %d", len(*words))
	}
}

func TestCcFlushOnlyStoresWhenDirty(t *testing.T) {
	m, words := newTestManager()
	m.CcGet(hostisa.R7) // loaded, not dirty
	before := len(*words)
	m.CcFlush(hostisa.R7)
	if len(*words) != before {
		t.Fatal("expected no store when SR was loaded but never modified")
	}

	m.CcModify(hostisa.R7)
	before = len(*words)
	m.CcFlush(hostisa.R7)
	if len(*words) != before+1 {
		t.Fatal("expected exactly one store after a dirty CcModify")
	}

	// After flush, state resets: a subsequent CcGet reloads.
	before = len(*words)
	m.CcGet(hostisa.R7)
	if len(*words) != before+1 {
		t.Fatal("expected CcGet after CcFlush to reload")
	}
}

func TestPcAdvanceStaysWithinBoundWithoutEmitting(t *testing.T) {
	m, words := newTestManager()
	m.PcAdvance(2)
	m.PcAdvance(4)
	if len(*words) != 0 {
		t.Fatalf("expected no emission while within bound, got %d words", len(*words))
	}
	if got := m.PcGetOffset(0); got != 6 {
		t.Fatalf("PcGetOffset = %d, want 6", got)
	}
}

func TestPcAdvanceFlushesOnceOutsideBound(t *testing.T) {
	m, words := newTestManager()
	for i := 0; i < 40; i++ {
		m.PcAdvance(4) // 160 total, exceeds the 120 bound partway through
	}
	if len(*words) == 0 {
		t.Fatal("expected an emitted add/sub once the accumulator left its bound")
	}
}

func TestPcResetDiscardsPendingOffsetWithoutEmitting(t *testing.T) {
	m, words := newTestManager()
	m.PcAdvance(8)
	before := len(*words)
	m.PcReset()
	if len(*words) != before {
		t.Fatal("PcReset must not emit")
	}
	if got := m.PcGetOffset(0); got != 0 {
		t.Fatalf("PcGetOffset after PcReset = %d, want 0", got)
	}
}

func TestPcFlushEmitsAndResets(t *testing.T) {
	m, words := newTestManager()
	m.PcAdvance(10)
	before := len(*words)
	m.PcFlush()
	if len(*words) != before+1 {
		t.Fatal("expected exactly one add emitted by PcFlush")
	}
	if got := m.PcGetOffset(0); got != 0 {
		t.Fatalf("PcGetOffset after PcFlush = %d, want 0", got)
	}
}
