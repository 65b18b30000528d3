package dispatch

import "github.com/m68kjit/m68kjit/internal/guest"

// RaiseVector services a guest exception by pushing the current PC and SR
// onto the stack that the active A7 addresses when the exception is raised
// (the user stack when raised in user mode), entering supervisor mode,
// storing the decremented pointer as the supervisor-mode A7, and loading
// the new PC from the vector table at GuestState.VBR + vectorOffset (§7's
// vector list: VecIllegal, VecDivByZero, VecPrivilegeViolation,
// guest.TrapVector(n), VecFPUBase..+0x18).
//
// A guest TRAP/illegal-opcode/divide-by-zero/privilege-violation condition
// is detected inside a running TU as a host UDF instruction (internal/
// opcodes tags each one with the vector that should service it, via the
// same immediate encoding internal/hostisa.Udf carries). Catching that trap
// on real ARM hardware is a host-level SIGILL/undefined-instruction
// handler installed once at process start — genuinely platform-specific,
// unsafe signal-handling machinery outside what this module can provide
// portably or exercise in a test without real hardware (the same
// constraint that shaped internal/cache's software-side poison-bit
// revalidation instead of a hardware-fault-driven one). RaiseVector is the
// half of that contract this module owns: whatever catches the trap and
// decodes its vector immediate calls this method to actually service it.
func (e *Engine) RaiseVector(vectorOffset uint32) {
	s := e.State
	oldPC, oldSR := s.PC, s.SR

	sp := s.ActiveA7()
	s.SR |= guest.SRS // supervisor mode for the handler

	sp -= 4
	e.Mem.Write32(sp, oldPC)
	sp -= 2
	e.Mem.Write16(sp, oldSR)
	s.SetActiveA7(sp)

	s.PC = e.Mem.Read32(s.VBR + vectorOffset)
}

// ServiceInterrupt polls GuestState.Int32 (§5's cooperative interrupt
// model: an emitted TU checks this field at block exits and backward
// branches, but never inside a straight-line run) and, if a priority is
// pending, services it as the vector `0x60 + priority*4` the m68k
// autovector scheme assigns levels 1-7, then clears Int32.
func (e *Engine) ServiceInterrupt() {
	if e.State.Int32 == 0 {
		return
	}
	priority := e.State.Int32
	e.State.Int32 = 0
	e.RaiseVector(0x60 + priority*4)
}
