// Package translator drives the decode/lower loop that turns a run of guest
// m68k instructions into one host translation unit (TU): it owns the
// per-block register allocator, CC/PC batching manager, and EA compiler,
// feeding decoded opcodes to internal/opcodes and assembling the emitted
// words into a prologue/epilogue-wrapped code buffer. The loop shape is
// cpu_m68k.go's ExecuteInstruction fetch-decode-dispatch-advance cycle,
// generalized from "interpret one instruction" to "compile one block."
package translator

import (
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/m68kjit/m68kjit/internal/alloc"
	"github.com/m68kjit/m68kjit/internal/cc"
	"github.com/m68kjit/m68kjit/internal/ea"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostisa"
	"github.com/m68kjit/m68kjit/internal/opcodes"
)

// ErrUnhandledOpcode wraps a hard failure from internal/opcodes.Lower
// (distinct from the no-interpreter-fallback illegal-opcode trap, which
// internal/opcodes resolves itself by ending the block rather than
// returning an error) — e.g. an effective-address compile failure deep
// enough that emitting a guard trap for just that instruction isn't safe.
// Per §7's "allocation failure inside a block rolls the block back", the
// whole in-progress translation unit is discarded rather than patched up
// partway: Translate returns this wrapped error instead of a *Tu.
var ErrUnhandledOpcode = errors.New("translator: unhandled opcode")

// Reserved host registers, fixed for the lifetime of every translation unit
// (§4.2 host ABI): StateBaseReg anchors every GuestState field access the
// allocator and EA compiler emit; PCReg and SRReg cache GuestState.PC/SR
// across the whole TU, the same fixed-register convention internal/alloc's
// stateBase and internal/opcodes' pcReg already rely on.
const (
	StateBaseReg = hostisa.R7
	PCReg        = hostisa.R9
	SRReg        = hostisa.R10
	ScratchReg   = hostisa.R8
)

// pool is the general-purpose register set the allocator may hand out to
// guest-register bindings and scratch temporaries: every ARM register
// except SP, LR, PC, the four reserved registers above, and the pair
// fpPool below carves out for the FPU allocator.
var pool = []hostisa.Reg{
	hostisa.R1, hostisa.R3,
	hostisa.R4, hostisa.R5, hostisa.R6,
	hostisa.R11, hostisa.R12,
}

// fpPool is the host register pairs the FPU allocator maps guest FP0-FP7
// onto. There is no VFP/NEON register file in this translator's trusted
// host encoding set (internal/hostisa only ever encodes ARM integer
// data-processing and load/store forms), so an "FPU register" is two
// ordinary general-purpose registers holding a float64's bit pattern,
// carved out of the same 16-register file pool draws from rather than a
// distinct resource. One pair suffices: the only FPU traffic that stays
// inside a translation unit is the bit-level register forms (FMOVECR and
// the FMOVE/FABS/FNEG register-to-register fast paths — everything
// arithmetic leaves via the GuestState service mailbox), and those read
// through one mapped pair plus ordinary scratch registers. The pair comes
// from AAPCS caller-saved registers (r0, r2) so this split needs no
// prologue/epilogue changes: nothing outside the translation unit ever
// expects them to survive it.
var fpPool = [][2]hostisa.Reg{
	{hostisa.R0, hostisa.R2},
}

// calleeSavedPool is the subset of pool that AAPCS requires a function to
// preserve across a call (r4-r6, r11); r0-r3 and r12 are caller-saved
// scratch and never need a prologue/epilogue save regardless of whether
// this TU's allocator happened to touch them.
var calleeSavedPool = map[hostisa.Reg]bool{
	hostisa.R4:  true,
	hostisa.R5:  true,
	hostisa.R6:  true,
	hostisa.R11: true,
}

// alwaysSaved is the regList bit pattern for the three reserved registers
// every TU loads on entry and must restore before returning, regardless of
// what the allocator's changed-mask reports (they live outside its pool).
const alwaysSaved uint16 = 1<<uint(StateBaseReg) | 1<<uint(PCReg) | 1<<uint(SRReg)

// pcFieldOffset is GuestState.PC's byte offset, matching guest.State's field
// layout: D[8]+A[8]+USP+MSP+ISP = (8+8+3)*4 = 76, immediately before SR
// (internal/cc's ccSRFieldOffset=80).
const pcFieldOffset = 76

// MaxInsns bounds how many guest instructions one translation unit may
// cover — the forward-progress guarantee of §4.6, paired with early
// termination on an unconditional control transfer.
const MaxInsns = 256

// Tu is one compiled translation unit: the host code covering a contiguous
// run of guest instructions starting at GuestStart, plus the bookkeeping
// the cache and dispatcher need to validate and re-enter it.
type Tu struct {
	Code       []uint32
	GuestStart uint32
	GuestEnd   uint32 // address one past the last guest byte this TU covers
	PushMask   uint16 // ARM regList this TU's prologue/epilogue saved/restored
	CRC32      uint32
}

// blockDecoder implements ea.Decoder over a guest.Memory, advancing a byte
// cursor the way cpu_m68k.go's cpu.PC advances on every Fetch16/Fetch32
// call — the JIT's compile-time analogue of the interpreter's live fetch,
// reading extension words once rather than once per execution.
type blockDecoder struct {
	mem guest.Memory
	pos uint32
}

func (d *blockDecoder) Fetch16() uint16 {
	v := d.mem.Read16(d.pos)
	d.pos += 2
	return v
}

func (d *blockDecoder) Fetch32() uint32 {
	v := d.mem.Read32(d.pos)
	d.pos += 4
	return v
}

// Translate compiles one translation unit starting at startPC, following
// the §4.6 pseudocode contract: a prologue placeholder and initial PC load,
// a MAX_INSNS-bounded decode/lower loop with SR-liveness-driven flag
// elision, a dirty-state flush, prologue/epilogue push-mask patching from
// the registers the allocator actually touched, and a CRC32 over the guest
// bytes covered.
func Translate(mem guest.Memory, startPC uint32, maxInsns int) (*Tu, error) {
	if maxInsns <= 0 {
		maxInsns = MaxInsns
	}

	var code []uint32
	emit := func(w uint32) { code = append(code, w) }

	a := alloc.NewAllocator(pool, emit)
	fp := alloc.NewFPAllocator(fpPool, emit)
	ccMgr := cc.New(emit, SRReg, PCReg, ScratchReg)
	eaC := &ea.Compiler{Alloc: a, CC: ccMgr, StateBase: StateBaseReg, Scratch: ScratchReg, EmitWord: emit}
	lv := newLiveness(mem, DefaultLookahead)

	// Step 1: prologue placeholder (patched once the touched-register set
	// is known). Pushing before the r0->r7 move saves the caller's real r7
	// (to be restored at the epilogue's pop), not the state pointer this TU
	// is about to adopt; only after that save does r0 (the AAPCS arg
	// register, holding &GuestState) get copied into the dedicated
	// state-base register for the rest of the block to use.
	prologueIdx := len(code)
	emit(hostisa.Push(hostisa.CondAL, 0))
	emit(hostisa.MovRegS(hostisa.CondAL, StateBaseReg, hostisa.R0))
	emit(hostisa.LdrImm(hostisa.CondAL, PCReg, StateBaseReg, pcFieldOffset, true, false))

	dec := &blockDecoder{mem: mem, pos: startPC}

	// Conditional-exit fixups (§4.5.2): a lowering that emits a conditional
	// branch out of the block leaves a placeholder B here and the patch
	// loop below retargets it at the join epilogue once that exists.
	type condFixup struct {
		idx  int
		cond hostisa.Cond
	}
	var fixups []condFixup
	condExit := func(cond hostisa.Cond) {
		fixups = append(fixups, condFixup{idx: len(code), cond: cond})
		emit(hostisa.B(cond, 0))
	}
	needLR := false

	for i := 0; i < maxInsns; i++ {
		opAddr := dec.pos

		// Learn where the next guest instruction begins before emitting
		// this one, so the liveness scan starts past this instruction's own
		// extension words rather than mid-instruction.
		nextAddr, _, ok := measureInstruction(mem, opAddr)
		if !ok {
			nextAddr = opAddr + 2
		}
		mask := lv.liveAfter(nextAddr)

		opcode := dec.Fetch16()
		ctx := &opcodes.Context{
			Opcode: opcode,
			Dec:    dec,
			PC:     dec.pos,

			Alloc: a,
			CC:    ccMgr,
			EA:    eaC,
			FP:    fp,

			EmitWord: emit,
			CondExit: condExit,

			LiveMask:    mask,
			HasLiveMask: true,
		}

		marker, err := opcodes.Lower(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: opcode %#04x at guest %#x: %v", ErrUnhandledOpcode, opcode, opAddr, err)
		}

		if marker == opcodes.MarkerEnd {
			// An explicit-transfer lowering owns its PC arithmetic: pcReg
			// was rewritten outright after a PcReset, so pcReg plus the
			// (empty) pending offset is already the resume address.
			break
		}
		if marker == opcodes.MarkerEndNextPC {
			// Ends the block but resumes at the next instruction: account
			// its length before closing so the epilogue's flush lands the
			// PC past it.
			ccMgr.PcAdvance(int32(dec.pos - opAddr))
			break
		}
		// Straight-line continuation: batch this instruction's length into
		// the pending PC offset (§4.3) instead of emitting a per-insn add.
		ccMgr.PcAdvance(int32(dec.pos - opAddr))
		if marker == opcodes.MarkerKeepLink {
			// The lowering emitted a call out to a host helper, so the
			// prologue must preserve the link register the dispatcher's
			// own call into this TU left there (§4.5.2's keep-link marker).
			needLR = true
		}
		// MarkerNone, MarkerKeepLink, and MarkerCondExit's not-taken path
		// all continue straight-line translation in this TU; a taken
		// conditional exit has already branched off to the join epilogue
		// with pcReg rewritten, past the pending-offset flush.
	}

	// Step 3: flush dirty guest registers, PC, SR, and FP registers. The
	// join point — where every conditional exit's patched branch lands —
	// is the PC store-back: a taken exit has already stored its dirty
	// state at the branch site and needs only pcReg published to
	// GuestState.PC before the return.
	a.FlushAll()
	fp.FlushAll()
	ccMgr.PcFlush()
	ccMgr.CcFlush(StateBaseReg)
	joinIdx := len(code)
	emit(hostisa.StrImm(hostisa.CondAL, PCReg, StateBaseReg, pcFieldOffset, true, false))

	// Step 4: patch the prologue/epilogue push/pop masks from the
	// callee-saved registers this TU's allocator actually touched.
	var regList uint16
	changed := a.Changed()
	for i, r := range pool {
		if changed&(1<<uint(i)) != 0 && calleeSavedPool[r] {
			regList |= uint16(1) << uint(r)
		}
	}
	regList |= alwaysSaved
	if needLR {
		regList |= 1 << uint(hostisa.LR)
	}
	code[prologueIdx] = hostisa.Push(hostisa.CondAL, regList)
	emit(hostisa.Pop(hostisa.CondAL, regList))
	emit(hostisa.BX(hostisa.CondAL, hostisa.LR))

	// Retarget every conditional-exit placeholder at the join epilogue
	// (ARM branch offsets are in words relative to the branch's own
	// address plus two, the architectural PC-ahead-by-8).
	for _, f := range fixups {
		code[f.idx] = hostisa.B(f.cond, int32(joinIdx-f.idx-2))
	}

	// Step 5: CRC32 over the guest bytes this TU covers (publishing the
	// executable copy and syncing the host icache is the cache package's
	// job, once the TU is handed to it).
	guestBytes := guest.ReadBytes(mem, startPC, dec.pos)

	return &Tu{
		Code:       code,
		GuestStart: startPC,
		GuestEnd:   dec.pos,
		PushMask:   regList,
		CRC32:      crc32.ChecksumIEEE(guestBytes),
	}, nil
}
