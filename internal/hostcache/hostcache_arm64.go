//go:build linux && arm64

package hostcache

// cacheLineSize mirrors the 32-byte stepping support_rpi.c's
// arm_icache_invalidate/arm_dcache_invalidate loops use (a conservative
// stride safe across the arm64 cores this targets).
const cacheLineSize = 32

type arm64Cache struct{}

func newPlatform() HostCache { return arm64Cache{} }

// SyncICache walks [addr, addr+n) a cache line at a time, issuing a data
// -cache-clean-to-PoU followed by an instruction-cache invalidate for each
// line, then a final barrier — the arm64 equivalent of the per-line
// `mcr p15, 0, %0, c7, c14, 1` / `c7, c5, 1` loop in support_rpi.c's
// arm_flush_cache/arm_icache_invalidate, just issued with the AArch64 DC
// CVAU / IC IVAU instructions instead of the AArch32 coprocessor moves.
// The actual instructions live in hostcache_arm64.s since Go has no
// intrinsic for them.
func (arm64Cache) SyncICache(addr uintptr, n int) {
	if n <= 0 {
		return
	}
	start := addr &^ (cacheLineSize - 1)
	end := addr + uintptr(n)
	for a := start; a < end; a += cacheLineSize {
		dcCvauIcIvau(a)
	}
	isb()
}

func (arm64Cache) CleanDCacheAll() {
	// No AArch64 user-space instruction cleans the whole D$ at once
	// (DC CISW is privileged); a full sync is approximated by the caller
	// re-running SyncICache over every touched range instead, so this is
	// a barrier only.
	isb()
}
