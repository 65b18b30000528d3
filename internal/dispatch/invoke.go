package dispatch

import "github.com/m68kjit/m68kjit/internal/guest"

// Invoker calls a cached translation unit's entry point, handing it
// &GuestState as its sole argument per the host ABI (§6: "arg register ->
// &GuestState"). The TU mutates state directly and, on return, leaves the
// guest PC it should resume from in State.PC; Invoke itself returns
// nothing because every outcome a TU can report — normal fall-through,
// a conditional exit, a trap — is encoded by where PC ends up and by
// State.Int32/pending-vector bookkeeping, not by a Go-level return value.
type Invoker interface {
	Invoke(entryPtr uintptr, state *guest.State)
}

// NewInvoker returns the Invoker appropriate for the running platform: a
// real assembly trampoline on GOARCH=arm (invoke_arm.go/.s), or a stub that
// refuses to run on every other architecture (invoke_other.go) — jumping
// into a buffer of freshly-emitted AArch32 words is only ever meaningful
// on the architecture that can fetch and decode them.
func NewInvoker() Invoker { return newPlatformInvoker() }
