//go:build unix

package cache

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// codeMem is the executable-memory arena backing every cached TU: one
// mmap'd region, carved on construction into Capacity fixed-size slots so
// the cache never calls into an allocator per TU — replacing the "memory
// allocator used to back the translation cache" that §1 explicitly leaves
// as an external collaborator with the narrowest W^X-safe substitute this
// module needs. golang.org/x/sys is promoted from the teacher's indirect
// dependency (pulled in transitively via ebitengine/gomobile) to a direct
// one for exactly this purpose, the same role it plays in
// tetratelabs/wazero's JIT engine's platform mmapCodeSegment helper.
type codeMem struct {
	region   []byte
	slotSize int
}

func newCodeMem(capacity, maxTuBytes int) (*codeMem, error) {
	slotSize := alignUp(maxTuBytes, codeAlign)
	total := alignUp(slotSize*capacity, pageSize)
	region, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("cache: mmap code arena (%d bytes): %w", total, err)
	}
	return &codeMem{region: region, slotSize: slotSize}, nil
}

// write copies code into the slot at index, toggling that slot from
// writable to executable (never both at once, per W^X) only once every
// word has landed.
func (m *codeMem) write(index int, code []uint32) (uintptr, []byte, error) {
	n := len(code) * 4
	if n > m.slotSize {
		return 0, nil, fmt.Errorf("cache: TU of %d bytes exceeds slot size %d", n, m.slotSize)
	}
	off := index * m.slotSize
	slot := m.region[off : off+m.slotSize]

	if err := unix.Mprotect(slot, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return 0, nil, fmt.Errorf("cache: mprotect slot %d writable: %w", index, err)
	}
	for i, w := range code {
		binary.LittleEndian.PutUint32(slot[i*4:], w)
	}
	if err := unix.Mprotect(slot, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return 0, nil, fmt.Errorf("cache: mprotect slot %d executable: %w", index, err)
	}
	return uintptr(unsafe.Pointer(&slot[0])), slot[:n], nil
}

func (m *codeMem) close() error {
	if m.region == nil {
		return nil
	}
	return unix.Munmap(m.region)
}
