// Package ea compiles m68k effective-address calculations into ARM host
// code. Unlike the interpreter this is grounded on — which fetches
// extension words from guest memory at execution time via cpu.Fetch16/
// Fetch32 — translation happens once per guest instruction address, so
// every extension word is a compile-time constant read from the decode
// cursor and baked into the emitted immediates; nothing here issues a
// runtime fetch of its own instruction stream.
package ea

import (
	"fmt"

	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/cc"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
)

// Addressing modes, same encoding as the teacher's M68K_AM_* block.
const (
	ModeDR = iota
	ModeAR
	ModeARInd
	ModeARPost
	ModeARPre
	ModeARDisp
	ModeARIndex
	ModeExt // mode 7: submode selected by reg
)

// Mode-7 submodes.
const (
	Ext7AbsWord = iota
	Ext7AbsLong
	Ext7PCDisp
	Ext7PCIndex
	Ext7Imm
)

// Extension-word field bit positions, one-for-one with the teacher's
// M68K_EXT_* constants.
const (
	extFullFormat  = 0x0100
	extBSBit       = 7
	extISBit       = 6
	extBDStartBit  = 4
	extScaleStart  = 9
	extScaleSize   = 2
	extRegMask     = 0x0F
	extRegTypeBit  = 15
	extSizeBit     = 11
	extDataRegType = 0
)

// Decoder reads the fixed-size extension words and immediates that follow
// an instruction's first word, advancing a compile-time cursor over the
// guest code bytes being translated — the JIT's analogue of the
// interpreter's Fetch16/Fetch32 against live memory.
type Decoder interface {
	Fetch16() uint16
	Fetch32() uint32
}

// Kind distinguishes a register-direct operand (no memory access at all)
// from one that resolves to a memory address, and from an immediate whose
// value was captured from the extension words at translation time.
type Kind int

const (
	KindRegister Kind = iota
	KindMemory
	KindImmediate
)

// Result describes how to access an operand after Compile.
type Result struct {
	Kind Kind

	// Valid when Kind == KindRegister.
	Guest alloc.GuestReg

	// Valid when Kind == KindMemory: the host register holding the
	// computed effective address, and the byte size for convenience in
	// picking which Ldr/Str encoder to call.
	AddrHost hostisa.Reg
	Size     int

	// Valid when Kind == KindImmediate: the operand value, already
	// masked to Size.
	Imm uint32

	// PostAdjust, if non-nil, must be invoked by the caller immediately
	// after the memory access has been emitted (postincrement only —
	// predecrement is applied eagerly inside Compile since the address
	// register's new value IS the effective address).
	PostAdjust func()
}

// Compiler holds the shared dependencies every Compile call threads
// through: the register allocator, the CC/PC batching manager, the guest
// -state base pointer, and the emit sink.
type Compiler struct {
	Alloc     *alloc.Allocator
	CC        *cc.Manager
	StateBase hostisa.Reg
	Scratch   hostisa.Reg
	EmitWord  func(uint32)
}

// Compile resolves mode/reg for an operand of the given size, at the
// current guest PC position pc (the address of the extension word that
// would follow, used for PC-relative submodes — matching the
// `cpu.PC - M68K_WORD_SIZE` base the interpreter uses since cpu.PC has
// already been advanced past the opcode word by the time EA runs).
func (c *Compiler) Compile(mode, reg uint16, size int, pc uint32, dec Decoder) (Result, error) {
	switch mode {
	case ModeDR:
		return Result{Kind: KindRegister, Guest: alloc.D(int(reg))}, nil
	case ModeAR:
		return Result{Kind: KindRegister, Guest: alloc.A(int(reg))}, nil
	case ModeARInd:
		return Result{Kind: KindMemory, AddrHost: c.Alloc.MapRead(alloc.A(int(reg))), Size: size}, nil
	case ModeARPost:
		return c.compilePostIncrement(reg, size)
	case ModeARPre:
		return c.compilePreDecrement(reg, size)
	case ModeARDisp:
		return c.compileDisp16(alloc.A(int(reg)), dec, size)
	case ModeARIndex:
		return c.compileIndex(alloc.A(int(reg)), dec, size)
	case ModeExt:
		return c.compileExtended(reg, size, pc, dec)
	}
	return Result{}, fmt.Errorf("ea: invalid mode %d", mode)
}

func (c *Compiler) compilePostIncrement(reg uint16, size int) (Result, error) {
	host := c.Alloc.MapRead(alloc.A(int(reg)))
	n := int32(guest.SizeBytes(size))
	if reg == 7 && size == guest.SizeByte {
		n = 2 // A7 stays word-aligned even for byte accesses, per the teacher's stack discipline
	}
	post := func() {
		dst := c.Alloc.MapWrite(alloc.A(int(reg)))
		if imm8, rot, ok := hostisa.EncodeImmediate(uint32(n)); ok {
			c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, dst, dst, imm8, rot))
		}
	}
	return Result{Kind: KindMemory, AddrHost: host, Size: size, PostAdjust: post}, nil
}

func (c *Compiler) compilePreDecrement(reg uint16, size int) (Result, error) {
	n := int32(guest.SizeBytes(size))
	if reg == 7 && size == guest.SizeByte {
		n = 2
	}
	// Read-map first: the decrement needs the register's current value,
	// which a bare write-mapping would skip loading.
	host := c.Alloc.MapRead(alloc.A(int(reg)))
	c.Alloc.MapWrite(alloc.A(int(reg)))
	if imm8, rot, ok := hostisa.EncodeImmediate(uint32(n)); ok {
		c.EmitWord(hostisa.SubImm(hostisa.CondAL, false, host, host, imm8, rot))
	}
	return Result{Kind: KindMemory, AddrHost: host, Size: size}, nil
}

func (c *Compiler) compileDisp16(base alloc.GuestReg, dec Decoder, size int) (Result, error) {
	disp := int32(int16(dec.Fetch16()))
	baseHost := c.Alloc.MapRead(base)
	addrHost := c.Alloc.AllocTemp()
	emitAddImmWide(c, addrHost, baseHost, disp)
	return Result{Kind: KindMemory, AddrHost: addrHost, Size: size}, nil
}

// compileIndex handles (d8,An,Xn) brief format and the 68020 full-format
// extension word, including the memory-indirect preindexed/postindexed
// submodes, mirroring GetIndexWithExtWords.
func (c *Compiler) compileIndex(base alloc.GuestReg, dec Decoder, size int) (Result, error) {
	ext := dec.Fetch16()
	baseHost := c.Alloc.MapRead(base)
	if ext&extFullFormat == 0 {
		return c.compileBriefIndex(ext, baseHost, size)
	}
	return c.compileFullIndex(ext, baseHost, size, dec)
}

func (c *Compiler) compileBriefIndex(ext uint16, baseHost hostisa.Reg, size int) (Result, error) {
	idxReg := (ext >> 12) & extRegMask
	idxType := (ext >> extRegTypeBit) & 1
	idxSize := (ext >> extSizeBit) & 1
	disp8 := int32(int8(ext & 0xFF))
	scale := (ext >> extScaleStart) & ((1 << extScaleSize) - 1)

	var idxGuest alloc.GuestReg
	if idxType == extDataRegType {
		idxGuest = alloc.D(int(idxReg & 7))
	} else {
		idxGuest = alloc.A(int(idxReg & 7))
	}
	idxHost := c.Alloc.MapRead(idxGuest)

	addrHost := c.Alloc.AllocTemp()
	src := idxHost
	if idxSize == 0 {
		// Sign-extend word index to long via a pair of shifts (no SXTH in
		// the pre-v6T2 subset we otherwise restrict ourselves to; LSL/ASR
		// by 16 reproduces it exactly).
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, c.Scratch, idxHost, hostisa.ShiftLSL, 16))
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, c.Scratch, c.Scratch, hostisa.ShiftASR, 16))
		src = c.Scratch
	}
	c.EmitWord(hostisa.AddReg(hostisa.CondAL, false, addrHost, baseHost, src, hostisa.ShiftLSL, uint32(scale)))
	emitAddImmWide(c, addrHost, addrHost, disp8)
	return Result{Kind: KindMemory, AddrHost: addrHost, Size: size}, nil
}

func (c *Compiler) compileFullIndex(ext uint16, baseHost hostisa.Reg, size int, dec Decoder) (Result, error) {
	bs := (ext >> extBSBit) & 1
	is := (ext >> extISBit) & 1
	bd := (ext >> extBDStartBit) & 3

	addrHost := c.Alloc.AllocTemp()
	if bs == 0 {
		c.EmitWord(hostisa.MovRegS(hostisa.CondAL, addrHost, baseHost))
	} else {
		c.EmitWord(hostisa.MovImm(hostisa.CondAL, addrHost, 0, 0))
	}

	// Base displacement size: 0/1 null, 2 word, 3 long (§4.4's "0=null,
	// 2=word, 3=long" encoding, same switch as the original's
	// M68K_EA_BD_SIZE handling).
	switch bd {
	case 2:
		emitAddImmWide(c, addrHost, addrHost, int32(int16(dec.Fetch16())))
	case 3:
		emitAdd32(c, addrHost, addrHost, dec.Fetch32())
	}

	indLevel := ext & 0x03
	postIndexed := indLevel != 0 && ext&0x04 != 0

	// The index term joins the fetch address for the plain and preindexed
	// forms; postindexed forms fold it into the loaded pointer instead.
	if is == 0 && !postIndexed {
		c.emitScaledIndex(ext, addrHost)
	}
	if indLevel == 0 {
		return Result{Kind: KindMemory, AddrHost: addrHost, Size: size}, nil
	}
	return c.finishMemoryIndirect(ext, addrHost, size, dec, is == 1)
}

// compileFullIndexPCRelative is compileFullIndex's counterpart for the
// `(bd,PC,Xn)` / `([bd,PC,Xn],od)` / `([bd,PC],Xn,od)` submodes: the base
// is the compile-time constant pc rather than a host register, so the
// base-suppress bit only matters for whether bd is relative to pc or to
// zero, and the base-plus-displacement sum is materialized directly.
func (c *Compiler) compileFullIndexPCRelative(ext uint16, pc uint32, size int, dec Decoder) (Result, error) {
	bs := (ext >> extBSBit) & 1
	is := (ext >> extISBit) & 1
	bd := (ext >> extBDStartBit) & 3

	base := uint32(0)
	if bs == 0 {
		base = pc
	}
	switch bd {
	case 2:
		base = uint32(int64(base) + int64(int16(dec.Fetch16())))
	case 3:
		base = uint32(int64(base) + int64(int32(dec.Fetch32())))
	}
	addrHost := c.Alloc.AllocTemp()
	emitMovConst(c, addrHost, base)

	indLevel := ext & 0x03
	postIndexed := indLevel != 0 && ext&0x04 != 0

	if is == 0 && !postIndexed {
		c.emitScaledIndex(ext, addrHost)
	}
	if indLevel == 0 {
		return Result{Kind: KindMemory, AddrHost: addrHost, Size: size}, nil
	}
	return c.finishMemoryIndirect(ext, addrHost, size, dec, is == 1)
}

// emitScaledIndex folds a full-format extension word's index term —
// register in bits 14-12 with the D/A select above it, optional word
// sign-extension, 1/2/4/8 scale — into dst, the same index arithmetic
// compileBriefIndex performs inline.
func (c *Compiler) emitScaledIndex(ext uint16, dst hostisa.Reg) {
	idxReg := (ext >> 12) & 0x7
	idxType := (ext >> extRegTypeBit) & 1
	idxSize := (ext >> extSizeBit) & 1
	scale := (ext >> extScaleStart) & ((1 << extScaleSize) - 1)

	var idxGuest alloc.GuestReg
	if idxType == extDataRegType {
		idxGuest = alloc.D(int(idxReg))
	} else {
		idxGuest = alloc.A(int(idxReg))
	}
	idxHost := c.Alloc.MapRead(idxGuest)
	src := idxHost
	if idxSize == 0 {
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, c.Scratch, idxHost, hostisa.ShiftLSL, 16))
		c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, c.Scratch, c.Scratch, hostisa.ShiftASR, 16))
		src = c.Scratch
	}
	c.EmitWord(hostisa.AddReg(hostisa.CondAL, false, dst, dst, src, hostisa.ShiftLSL, uint32(scale)))
}

// finishMemoryIndirect performs the memory indirection of a full-format
// EA: load the pointer at the computed address (a big-endian long in
// guest memory), fold the index in for the postindexed variants, then add
// whatever outer displacement the I/IS field's low two bits call for
// (0/1 null, 2 word, 3 long — the same encoding the base displacement
// uses), for both the pre- and postindexed variants.
func (c *Compiler) finishMemoryIndirect(ext uint16, addrHost hostisa.Reg, size int, dec Decoder, indexSuppressed bool) (Result, error) {
	indirectHost := c.Alloc.AllocTemp()
	c.EmitWord(hostisa.LdrImm(hostisa.CondAL, indirectHost, addrHost, 0, true, false))
	c.EmitWord(hostisa.Rev(hostisa.CondAL, indirectHost, indirectHost))
	if !indexSuppressed && ext&0x04 != 0 {
		c.emitScaledIndex(ext, indirectHost)
	}
	switch ext & 0x03 {
	case 2:
		emitAddImmWide(c, indirectHost, indirectHost, int32(int16(dec.Fetch16())))
	case 3:
		emitAdd32(c, indirectHost, indirectHost, dec.Fetch32())
	}
	return Result{Kind: KindMemory, AddrHost: indirectHost, Size: size}, nil
}

func (c *Compiler) compileExtended(reg uint16, size int, pc uint32, dec Decoder) (Result, error) {
	switch reg {
	case Ext7AbsWord:
		addr := uint32(int16(dec.Fetch16()))
		host := c.Alloc.AllocTemp()
		emitMovConst(c, host, addr)
		return Result{Kind: KindMemory, AddrHost: host, Size: size}, nil
	case Ext7AbsLong:
		addr := dec.Fetch32()
		host := c.Alloc.AllocTemp()
		emitMovConst(c, host, addr)
		return Result{Kind: KindMemory, AddrHost: host, Size: size}, nil
	case Ext7PCDisp:
		disp := int32(int16(dec.Fetch16()))
		// PC-relative targets are resolved to absolute guest addresses at
		// translation time (pc is a compile-time constant here, unlike
		// the register-resident guest PC used elsewhere), matching the
		// teacher's `cpu.PC - M68K_WORD_SIZE + disp`.
		host := c.Alloc.AllocTemp()
		emitMovConst(c, host, uint32(int64(pc)+int64(disp)))
		return Result{Kind: KindMemory, AddrHost: host, Size: size}, nil
	case Ext7PCIndex:
		ext := dec.Fetch16()
		if ext&extFullFormat != 0 {
			return c.compileFullIndexPCRelative(ext, pc, size, dec)
		}
		idxReg := (ext >> 12) & extRegMask
		idxType := (ext >> extRegTypeBit) & 1
		idxSize := (ext >> extSizeBit) & 1
		disp8 := int32(int8(ext & 0xFF))
		scale := (ext >> extScaleStart) & ((1 << extScaleSize) - 1)

		var idxGuest alloc.GuestReg
		if idxType == extDataRegType {
			idxGuest = alloc.D(int(idxReg & 7))
		} else {
			idxGuest = alloc.A(int(idxReg & 7))
		}
		idxHost := c.Alloc.MapRead(idxGuest)
		host := c.Alloc.AllocTemp()
		emitMovConst(c, host, uint32(int64(pc)+int64(disp8)))
		src := idxHost
		if idxSize == 0 {
			c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, c.Scratch, idxHost, hostisa.ShiftLSL, 16))
			c.EmitWord(hostisa.ShiftReg(hostisa.CondAL, false, c.Scratch, c.Scratch, hostisa.ShiftASR, 16))
			src = c.Scratch
		}
		c.EmitWord(hostisa.AddReg(hostisa.CondAL, false, host, host, src, hostisa.ShiftLSL, uint32(scale)))
		return Result{Kind: KindMemory, AddrHost: host, Size: size}, nil
	case Ext7Imm:
		// The immediate's width follows the operation size; byte and word
		// immediates occupy one extension word each.
		var v uint32
		switch size {
		case guest.SizeByte:
			v = uint32(dec.Fetch16() & 0xFF)
		case guest.SizeWord:
			v = uint32(dec.Fetch16())
		default:
			v = dec.Fetch32()
		}
		return Result{Kind: KindImmediate, Imm: v, Size: size}, nil
	}
	return Result{}, fmt.Errorf("ea: invalid mode-7 submode %d", reg)
}

// emitAddImmWide adds a signed delta (a displacement of up to 16 bits) to
// src, writing dst, falling back to a movw/movt materialization for the
// rare displacement ARM's rotated-8-bit immediate can't represent
// directly.
func emitAddImmWide(c *Compiler, dst, src hostisa.Reg, delta int32) {
	if delta >= 0 {
		if imm8, rot, ok := hostisa.EncodeImmediate(uint32(delta)); ok {
			c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, dst, src, imm8, rot))
			return
		}
		for _, w := range hostisa.MovImm32(hostisa.CondAL, c.Scratch, uint32(delta)) {
			c.EmitWord(w)
		}
		c.EmitWord(hostisa.AddReg(hostisa.CondAL, false, dst, src, c.Scratch, hostisa.ShiftLSL, 0))
		return
	}
	if imm8, rot, ok := hostisa.EncodeImmediate(uint32(-delta)); ok {
		c.EmitWord(hostisa.SubImm(hostisa.CondAL, false, dst, src, imm8, rot))
		return
	}
	for _, w := range hostisa.MovImm32(hostisa.CondAL, c.Scratch, uint32(-delta)) {
		c.EmitWord(w)
	}
	c.EmitWord(hostisa.SubReg(hostisa.CondAL, false, dst, src, c.Scratch, hostisa.ShiftLSL, 0))
}

// emitMovConst materializes a translation-time constant (an absolute or
// PC-resolved address) into dst — a plain move, never an add against a
// live register.
func emitMovConst(c *Compiler, dst hostisa.Reg, value uint32) {
	if imm8, rot, ok := hostisa.EncodeImmediate(value); ok {
		c.EmitWord(hostisa.MovImm(hostisa.CondAL, dst, imm8, rot))
		return
	}
	for _, w := range hostisa.MovImm32(hostisa.CondAL, dst, value) {
		c.EmitWord(w)
	}
}

func emitAdd32(c *Compiler, dst, src hostisa.Reg, value uint32) {
	if imm8, rot, ok := hostisa.EncodeImmediate(value); ok {
		c.EmitWord(hostisa.AddImm(hostisa.CondAL, false, dst, src, imm8, rot))
		return
	}
	for _, w := range hostisa.MovImm32(hostisa.CondAL, c.Scratch, value) {
		c.EmitWord(w)
	}
	c.EmitWord(hostisa.AddReg(hostisa.CondAL, false, dst, src, c.Scratch, hostisa.ShiftLSL, 0))
}
