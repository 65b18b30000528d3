//go:build !(linux && arm64)

package hostcache

// genericCache is used on every platform other than linux/arm64 — notably
// on the development/test machine running this module's own test suite,
// where the "host" executing translated code is a Go test process, not a
// real emitted ARM core, so there's no cache line to maintain.
type genericCache struct{}

func newPlatform() HostCache { return genericCache{} }

func (genericCache) SyncICache(addr uintptr, n int) {}

func (genericCache) CleanDCacheAll() {}
