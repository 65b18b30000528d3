//go:build arm

package dispatch

import (
	"unsafe"

	"github.com/m68kjit/m68kjit/internal/guest"
)

type hostInvoker struct{}

func newPlatformInvoker() Invoker { return hostInvoker{} }

// Invoke branches into entryPtr via callTu (invoke_arm.s), the minimal
// assembly trampoline Go itself cannot express: a direct, non-growable-
// stack call through a runtime-computed address, the same role
// tetratelabs/wazero's platform-specific jitcall stub plays for its amd64
// backend (present in the pack as jit_amd64.go, declared but implemented
// in assembly not included in that retrieval).
func (hostInvoker) Invoke(entryPtr uintptr, state *guest.State) {
	callTu(entryPtr, unsafe.Pointer(state))
}

//go:noescape
func callTu(entryPtr uintptr, state unsafe.Pointer)
