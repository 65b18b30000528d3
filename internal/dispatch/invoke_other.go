//go:build !arm

package dispatch

import (
	"errors"

	"github.com/m68kjit/m68kjit/internal/guest"
)

// ErrUnsupportedArch is the value the stub invoker panics with when
// something tries to use the real platform invoker off GOARCH=arm, where
// there is no meaningful way to branch into a buffer of freshly-emitted
// AArch32 words. The rest of the engine runs off GOARCH=arm against a fake
// Invoker (as the tests do).
var ErrUnsupportedArch = errors.New("dispatch: TU invocation requires GOARCH=arm")

type stubInvoker struct{}

func newPlatformInvoker() Invoker { return stubInvoker{} }

func (stubInvoker) Invoke(entryPtr uintptr, state *guest.State) {
	panic(ErrUnsupportedArch)
}
