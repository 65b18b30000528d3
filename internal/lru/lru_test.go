package lru

import "testing"

func TestTouchMovesSlotToMostRecentlyUsed(t *testing.T) {
	tr := New(4)
	if tr.Victim() != 0 {
		t.Fatalf("initial victim = %d, want 0", tr.Victim())
	}
	tr.Touch(0)
	if tr.Victim() != 1 {
		t.Fatalf("after Touch(0), victim = %d, want 1", tr.Victim())
	}
	tr.Touch(1)
	if tr.Victim() != 2 {
		t.Fatalf("after Touch(1), victim = %d, want 2", tr.Victim())
	}
}

func TestTouchingVictimRepeatedlyRotates(t *testing.T) {
	tr := New(3)
	for i := 0; i < 3; i++ {
		v := tr.Victim()
		tr.Touch(v)
	}
	// After touching every slot once, the first slot touched (0) is now
	// the oldest again.
	if tr.Victim() != 0 {
		t.Fatalf("victim after full rotation = %d, want 0", tr.Victim())
	}
}

func TestTouchMostRecentIsNoop(t *testing.T) {
	tr := New(2)
	tr.Touch(0)
	tr.Touch(1) // already most-recent
	tr.Touch(1)
	if tr.Victim() != 0 {
		t.Fatalf("victim = %d, want 0", tr.Victim())
	}
}
