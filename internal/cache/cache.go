// Package cache implements the bounded translation cache: a 65536-bucket
// hash table keyed on guest entry address, a global LRU list shared across
// every bucket, and an executable code arena backing each cached
// translation unit. It replaces the teacher's intrusive doubly-linked hash
// and LRU pointers with slice indices into a flat slot array (the
// index-and-array arena redesign), while keeping the same bucket/LRU/
// soft-flush shape.
package cache

import (
	"errors"
	"hash/crc32"

	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostcache"
	"github.com/m68kjit/m68kjit/internal/lru"
	"github.com/m68kjit/m68kjit/internal/translator"
)

const (
	numBuckets = 65536
	codeAlign  = 64 // §3 Tu invariant: arm_code is 64-byte aligned
	pageSize   = 4096

	poisonByte   = 0xaa
	topByteShift = 24 // entry_ptr is corrupted in its top byte of a 32-bit address
)

func bucketHash(addr uint32) uint32 {
	return (addr ^ (addr >> 16)) & 0xFFFF
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// ErrExhausted is returned when the cache cannot free a slot even after
// trying to evict the global LRU victim — only possible when capacity is
// configured to 0. The dispatcher aborts with a diagnostic on this (§7).
var ErrExhausted = errors.New("cache: exhausted, no slot available")

// Tu is a cache-resident translation unit. Lo/Hi/EntryM68k/CRC32 carry the
// same semantics as the spec's record; entryPtr is kept unexported and
// immutable so EntryPtr() can compute the poisoned form on demand instead
// of destructively overwriting the one valid pointer a soft-flushed TU
// would need back if it revalidates clean.
type Tu struct {
	Lo, Hi    uint32
	EntryM68k uint32
	Code      []byte // the executable copy; backing store owned by the arena
	CRC32     uint32
	UseCount  uint64
	Poisoned  bool

	entryPtr           uintptr
	hashPrev, hashNext int32 // slot indices into Cache.slots, -1 = none
}

// EntryPtr returns the address the dispatcher should branch into: the real
// code pointer, or — once this TU has been soft-flushed — that pointer
// with its top byte corrupted to 0xaa (§6's TU lifetime bit pattern), which
// must fault on any host that actually branches through it. Cache.Lookup
// already resolves a poisoned hit in software via CRC32 revalidation before
// ever handing a Tu back to a caller, so in practice nothing in this module
// dereferences the corrupted form — it exists for fidelity to the spec's
// documented bit pattern, not because this Go port relies on catching a
// hardware fault the way the original's direct-jump dispatcher does.
func (tu *Tu) EntryPtr() uintptr {
	if !tu.Poisoned {
		return tu.entryPtr
	}
	return (tu.entryPtr &^ (uintptr(0xFF) << topByteShift)) | (uintptr(poisonByte) << topByteShift)
}

type slot struct {
	tu    *Tu
	inUse bool
}

// Options bundles the sizing/behavior knobs internal/config loads from
// TOML and hands to New.
type Options struct {
	Capacity           int // number of TU slots; also the executable arena's slot count
	MaxTuBytes         int // largest host code size one TU may occupy
	SoftFlush          bool
	SoftFlushThreshold int // live TU count at/above which InvalidateAll poisons instead of dropping
}

// Cache is the bounded, fixed-capacity TU store (§3, §4.8).
type Cache struct {
	buckets []int32 // bucket -> head slot index, -1 = empty
	slots   []slot
	lru     *lru.Tracker
	free    []int32
	code    *codeMem
	hc      hostcache.HostCache

	capacity           int
	softFlush          bool
	softFlushThreshold int
}

// New constructs a Cache with its executable code arena pre-allocated to
// capacity*MaxTuBytes bytes (rounded to the host page size). A negative
// Capacity selects the default of 1024 slots; a Capacity of 0 builds a
// cache on which every Insert returns ErrExhausted.
func New(opts Options, hc hostcache.HostCache) (*Cache, error) {
	if opts.Capacity < 0 {
		opts.Capacity = 1024
	}
	if opts.MaxTuBytes <= 0 {
		opts.MaxTuBytes = 4096
	}
	arenaSlots := opts.Capacity
	if arenaSlots == 0 {
		arenaSlots = 1 // an empty mapping is rejected; a 0-capacity cache never writes to it
	}
	code, err := newCodeMem(arenaSlots, opts.MaxTuBytes)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		buckets:            make([]int32, numBuckets),
		slots:              make([]slot, opts.Capacity),
		lru:                lru.New(opts.Capacity),
		free:               make([]int32, 0, opts.Capacity),
		code:               code,
		hc:                 hc,
		capacity:           opts.Capacity,
		softFlush:          opts.SoftFlush,
		softFlushThreshold: opts.SoftFlushThreshold,
	}
	for i := range c.buckets {
		c.buckets[i] = -1
	}
	for i := 0; i < opts.Capacity; i++ {
		c.free = append(c.free, int32(i))
	}
	return c, nil
}

// Capacity returns the fixed number of TU slots this cache was built with.
func (c *Cache) Capacity() int { return c.capacity }

// Lookup finds the TU whose EntryM68k equals pc. A hit on a poisoned TU is
// revalidated against mem via CRC32 before being returned (§4.8's
// soft-flush contract): a matching checksum un-poisons and returns it, a
// mismatch evicts it and reports a miss. Every genuine hit bumps both the
// TU's use count and its LRU recency.
func (c *Cache) Lookup(mem guest.Memory, pc uint32) (*Tu, bool) {
	b := bucketHash(pc)
	for idx := c.buckets[b]; idx != -1; {
		tu := c.slots[idx].tu
		if tu.EntryM68k != pc {
			idx = tu.hashNext
			continue
		}
		if tu.Poisoned && !c.revalidate(mem, tu) {
			c.evictSlot(idx)
			c.free = append(c.free, idx)
			return nil, false
		}
		c.lru.Touch(int(idx))
		tu.UseCount++
		return tu, true
	}
	return nil, false
}

func (c *Cache) revalidate(mem guest.Memory, tu *Tu) bool {
	sum := crc32.ChecksumIEEE(guest.ReadBytes(mem, tu.Lo, tu.Hi))
	if sum != tu.CRC32 {
		return false
	}
	tu.Poisoned = false
	return true
}

// Insert publishes a freshly-compiled translator.Tu into the cache,
// evicting the global LRU victim first if no free slot remains (§4.8's
// "evict from the LRU tail and free until allocation succeeds"; since this
// cache's slots are fixed-size, one eviction always suffices or the TU
// itself cannot fit, reported as ErrExhausted's companion MaxTuBytes
// error from the arena). Host code is copied into the arena and the
// instruction cache is synchronized over the published range before the
// TU is linked into its hash bucket and touched into the LRU.
func (c *Cache) Insert(tu *translator.Tu) (*Tu, error) {
	idx, err := c.acquireSlot()
	if err != nil {
		return nil, err
	}
	entryPtr, code, err := c.code.write(int(idx), tu.Code)
	if err != nil {
		c.free = append(c.free, idx)
		return nil, err
	}
	c.hc.SyncICache(entryPtr, len(code))

	cached := &Tu{
		Lo:        tu.GuestStart,
		Hi:        tu.GuestEnd,
		EntryM68k: tu.GuestStart,
		Code:      code,
		CRC32:     tu.CRC32,
		entryPtr:  entryPtr,
		hashPrev:  -1,
		hashNext:  -1,
	}
	c.slots[idx] = slot{tu: cached, inUse: true}
	c.linkHash(idx, cached)
	c.lru.Touch(int(idx))
	return cached, nil
}

func (c *Cache) acquireSlot() (int32, error) {
	if c.capacity == 0 {
		return 0, ErrExhausted
	}
	if n := len(c.free); n > 0 {
		idx := c.free[n-1]
		c.free = c.free[:n-1]
		return idx, nil
	}
	idx := int32(c.lru.Victim())
	if c.slots[idx].inUse {
		c.evictSlot(idx)
	}
	return idx, nil
}

func (c *Cache) evictSlot(idx int32) {
	s := &c.slots[idx]
	if s.tu != nil {
		c.unlinkHash(s.tu)
	}
	s.tu = nil
	s.inUse = false
}

func (c *Cache) linkHash(idx int32, tu *Tu) {
	b := bucketHash(tu.EntryM68k)
	tu.hashNext = c.buckets[b]
	tu.hashPrev = -1
	if tu.hashNext != -1 {
		c.slots[tu.hashNext].tu.hashPrev = idx
	}
	c.buckets[b] = idx
}

func (c *Cache) unlinkHash(tu *Tu) {
	b := bucketHash(tu.EntryM68k)
	if tu.hashPrev != -1 {
		c.slots[tu.hashPrev].tu.hashNext = tu.hashNext
	} else {
		c.buckets[b] = tu.hashNext
	}
	if tu.hashNext != -1 {
		c.slots[tu.hashNext].tu.hashPrev = tu.hashPrev
	}
}

// InvalidateLine drops every cached TU whose guest span overlaps
// [addr, addr+n) — the m68k CINV/CPUSH line-invalidation granularity.
func (c *Cache) InvalidateLine(addr, n uint32) {
	end := addr + n
	c.forEachLive(func(idx int32, tu *Tu) {
		if tu.Lo < end && tu.Hi > addr {
			c.evictSlot(idx)
			c.free = append(c.free, idx)
		}
	})
}

// InvalidatePage drops every TU overlapping a page-aligned range —
// mechanically InvalidateLine over a larger, page-sized span.
func (c *Cache) InvalidatePage(pageAddr uint32) {
	c.InvalidateLine(pageAddr, pageSize)
}

// InvalidateAll drops every cached TU, unless soft-flush is enabled and the
// live count is at or above softFlushThreshold, in which case every
// surviving TU is poisoned in place instead (§4.8): it stays linked and
// cached, and Lookup's CRC32 revalidation decides its fate the next time
// its guest entry address is looked up.
func (c *Cache) InvalidateAll() {
	if c.softFlush && c.liveCount() >= c.softFlushThreshold {
		c.forEachLive(func(_ int32, tu *Tu) { tu.Poisoned = true })
		return
	}
	for i := range c.slots {
		if c.slots[i].inUse {
			idx := int32(i)
			c.evictSlot(idx)
			c.free = append(c.free, idx)
		}
	}
}

func (c *Cache) liveCount() int {
	n := 0
	for i := range c.slots {
		if c.slots[i].inUse {
			n++
		}
	}
	return n
}

func (c *Cache) forEachLive(fn func(idx int32, tu *Tu)) {
	for i := range c.slots {
		if c.slots[i].inUse {
			fn(int32(i), c.slots[i].tu)
		}
	}
}

// HostCache exposes the host cache-maintenance implementation this cache
// publishes code through, so the dispatcher can drive the data-cache side
// of a guest CINV/CPUSH through the same platform boundary.
func (c *Cache) HostCache() hostcache.HostCache { return c.hc }

// Close releases the executable code arena. Not required for process exit,
// but lets tests that construct many Caches avoid exhausting mmap regions.
func (c *Cache) Close() error { return c.code.close() }
