//go:build !unix

package cache

import (
	"encoding/binary"
	"fmt"
)

// codeMem on non-unix hosts falls back to a plain heap-backed arena: there
// is no portable non-cgo way to obtain a W^X executable mapping outside
// unix's mmap/mprotect pair. This is a documented gap rather than a
// pretended implementation — acceptable because invoking a TU's entryPtr
// is itself gated to GOARCH=arm (internal/dispatch's build-tagged
// invoker), so a non-executable arena here is never actually branched
// into; it only needs to behave like real memory for tests exercising the
// cache's bookkeeping on a development machine.
type codeMem struct {
	region   []byte
	slotSize int
}

func newCodeMem(capacity, maxTuBytes int) (*codeMem, error) {
	slotSize := alignUp(maxTuBytes, codeAlign)
	return &codeMem{region: make([]byte, slotSize*capacity), slotSize: slotSize}, nil
}

func (m *codeMem) write(index int, code []uint32) (uintptr, []byte, error) {
	n := len(code) * 4
	if n > m.slotSize {
		return 0, nil, fmt.Errorf("cache: TU of %d bytes exceeds slot size %d", n, m.slotSize)
	}
	off := index * m.slotSize
	slot := m.region[off : off+m.slotSize]
	for i, w := range code {
		binary.LittleEndian.PutUint32(slot[i*4:], w)
	}
	return 0, slot[:n], nil
}

func (m *codeMem) close() error { return nil }
