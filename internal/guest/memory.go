package guest

// Memory is the narrow, byte-addressable flat-address-space contract the
// translator's emitted loads/stores and the dispatcher's vector/exception
// reads assume. It deliberately does not model memory-mapped I/O, chip
// select logic, or bus arbitration — those are the external collaborator
// named in §1 ("the guest-memory model ... reachable via native loads/
// stores"), grounded on the shape of MemoryBus in the teacher's
// memory_bus.go but trimmed to the contract this system actually needs.
//
// Guest memory is big-endian; emitted ARM code on a little-endian host must
// byte-swap (§6). FlatMemory below stores bytes in guest byte order so tests
// can assert against big-endian hex literals directly.
type Memory interface {
	Read8(addr uint32) uint8
	Read16(addr uint32) uint16
	Read32(addr uint32) uint32
	Write8(addr uint32, v uint8)
	Write16(addr uint32, v uint16)
	Write32(addr uint32, v uint32)
}

// FlatMemory is a plain byte-slice-backed Memory used by tests, the scenario
// harness, and the standalone cmd/jit68k CLI. It is not a faithful platform
// model (no I/O regions, no faults) — it exists only to exercise the
// translator end to end.
type FlatMemory struct {
	Bytes []byte
}

// NewFlatMemory allocates a FlatMemory of the given size.
func NewFlatMemory(size int) *FlatMemory {
	return &FlatMemory{Bytes: make([]byte, size)}
}

func (m *FlatMemory) Read8(addr uint32) uint8 { return m.Bytes[addr] }

func (m *FlatMemory) Read16(addr uint32) uint16 {
	return uint16(m.Bytes[addr])<<8 | uint16(m.Bytes[addr+1])
}

func (m *FlatMemory) Read32(addr uint32) uint32 {
	return uint32(m.Bytes[addr])<<24 | uint32(m.Bytes[addr+1])<<16 |
		uint32(m.Bytes[addr+2])<<8 | uint32(m.Bytes[addr+3])
}

func (m *FlatMemory) Write8(addr uint32, v uint8) { m.Bytes[addr] = v }

func (m *FlatMemory) Write16(addr uint32, v uint16) {
	m.Bytes[addr] = uint8(v >> 8)
	m.Bytes[addr+1] = uint8(v)
}

func (m *FlatMemory) Write32(addr uint32, v uint32) {
	m.Bytes[addr] = uint8(v >> 24)
	m.Bytes[addr+1] = uint8(v >> 16)
	m.Bytes[addr+2] = uint8(v >> 8)
	m.Bytes[addr+3] = uint8(v)
}

// ReadBytes copies the guest bytes in [lo, hi) out of mem, the shape both
// the block translator (computing a freshly-compiled TU's CRC32) and the
// translation cache (re-validating a soft-flushed one) need identically.
func ReadBytes(mem Memory, lo, hi uint32) []byte {
	b := make([]byte, 0, hi-lo)
	for addr := lo; addr < hi; addr++ {
		b = append(b, mem.Read8(addr))
	}
	return b
}

// LoadProgram copies a guest image into memory at addr, mirroring
// cpu_m68k.go's LoadProgramBytes but against the narrow Memory contract
// rather than the CPU's own memory block.
func (m *FlatMemory) LoadProgram(addr uint32, program []byte) {
	copy(m.Bytes[addr:], program)
}
