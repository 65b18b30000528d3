package opcodes

import (
	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// The 68040 side of line F: MOVE16's aligned 16-byte block copies and the
// CINV/CPUSH cache-maintenance family, grounded on the matching arms of
// the original's EMIT_lineF. MOVE16 is pure emitted code — a byte
// -identical copy needs no endian treatment. The cache instructions
// cannot touch the translation cache from inside a translation unit, so
// they park a request in the guest-state mailbox and end the block
// ("cache flushing is context synchronizing" — the original stops
// translating at the same point).

// lowerMove16PostPost lowers MOVE16 (Ax)+,(Ay)+: both addresses are
// aligned down to their cache line, sixteen bytes move, both registers
// advance. The second word's register field is all the extension carries;
// real silicon ignores its remaining bits, and so does this (the original
// flags the same quirk).
func lowerMove16PostPost(c *Context) (Marker, error) {
	opcode2 := c.Dec.Fetch16()
	ax := c.Opcode & 0x7
	ay := (opcode2 >> 12) & 0x7

	gx := alloc.A(int(ax))
	gy := alloc.A(int(ay))
	src := c.Alloc.MapRead(gx)
	dst := c.Alloc.MapRead(gy)
	c.Alloc.LockHost(src)
	c.Alloc.LockHost(dst)

	alignedSrc := c.Alloc.AllocTemp()
	c.Alloc.LockHost(alignedSrc)
	alignedDst := c.Alloc.AllocTemp()
	c.Alloc.LockHost(alignedDst)
	c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, alignedSrc, src, 0xF, 0))
	c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, alignedDst, dst, 0xF, 0))
	c.Alloc.UnlockHost(src) // the copy reads only the aligned addresses
	c.Alloc.UnlockHost(dst)

	emitBlockCopy16(c, alignedSrc, alignedDst)

	c.Alloc.UnlockHost(alignedSrc)
	c.Alloc.UnlockHost(alignedDst)

	src = c.Alloc.MapRead(gx) // reloads Ax if the copy's scratch register evicted it
	c.Alloc.MapWrite(gx)
	c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, src, src, 16, 0))
	if gy != gx {
		dst = c.Alloc.MapRead(gy)
		c.Alloc.MapWrite(gy)
		c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, dst, dst, 16, 0))
	}
	return MarkerNone, nil
}

// lowerMove16Abs lowers the four MOVE16 variants pairing an address
// register with an absolute long address: bit 3 picks the direction,
// bit 4 suppresses the register's postincrement.
func lowerMove16Abs(c *Context) (Marker, error) {
	op := c.Opcode
	memAddr := c.Dec.Fetch32() &^ 0xF

	g := alloc.A(int(op & 0x7))
	regHost := c.Alloc.MapRead(g)
	c.Alloc.LockHost(regHost)

	alignedReg := c.Alloc.AllocTemp()
	c.Alloc.LockHost(alignedReg)
	c.EmitWord(hostisa.BicImm(hostisa.CondAL, false, alignedReg, regHost, 0xF, 0))
	alignedMem := c.Alloc.AllocTemp()
	c.Alloc.LockHost(alignedMem)
	for _, w := range hostisa.MovImm32(hostisa.CondAL, alignedMem, memAddr) {
		c.EmitWord(w)
	}

	if op&0x8 != 0 {
		emitBlockCopy16(c, alignedMem, alignedReg)
	} else {
		emitBlockCopy16(c, alignedReg, alignedMem)
	}

	c.Alloc.UnlockHost(alignedReg)
	c.Alloc.UnlockHost(alignedMem)
	c.Alloc.UnlockHost(regHost)

	if op&0x10 == 0 {
		c.Alloc.MapWrite(g)
		c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, regHost, regHost, 16, 0))
	}
	return MarkerNone, nil
}

// emitBlockCopy16 copies sixteen bytes between two aligned addresses as
// four word-sized load/store pairs through one scratch register — byte
// order is preserved end to end, so no swaps appear.
func emitBlockCopy16(c *Context, src, dst hostisa.Reg) {
	buf := c.Alloc.AllocTemp()
	for off := int32(0); off < 16; off += 4 {
		c.EmitWord(hostisa.LdrImm(hostisa.CondAL, buf, src, off, true, false))
		c.EmitWord(hostisa.StrImm(hostisa.CondAL, buf, dst, off, true, false))
	}
}

// lowerCacheMaint lowers CINV/CPUSH (privileged): the line/page scopes
// park the address operand, the instruction's own low byte rides along as
// the request word, and the block ends so the dispatcher can apply the
// invalidation to the translation cache and the host caches before any
// further guest code runs.
func lowerCacheMaint(c *Context) (Marker, error) {
	emitPrivilegeCheck(c)
	op := c.Opcode

	if op&uint16(guest.CacheOpScopeMask) != uint16(guest.CacheOpScopeAll) {
		aHost := c.Alloc.MapRead(alloc.A(int(op & 0x7)))
		c.EmitWord(hostisa.StrImm(hostisa.CondAL, aHost, c.EA.StateBase, cacheAddrFieldOffset, true, false))
	}

	tmp := c.Alloc.AllocTemp()
	for _, w := range hostisa.MovImm32(hostisa.CondAL, tmp, guest.CacheOpPending|uint32(op&0xFF)) {
		c.EmitWord(w)
	}
	c.EmitWord(hostisa.StrImm(hostisa.CondAL, tmp, c.EA.StateBase, cacheOpFieldOffset, true, false))
	return MarkerEndNextPC, nil
}
