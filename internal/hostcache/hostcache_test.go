package hostcache

import "testing"

func TestNewReturnsNonNilImplementation(t *testing.T) {
	c := New()
	if c == nil {
		t.Fatal("New() returned nil")
	}
	// Must not panic on the zero-length/degenerate cases the translation
	// cache can legitimately pass (e.g. a soft-flush touching no bytes).
	c.SyncICache(0, 0)
	c.CleanDCacheAll()
}
