package vm

import "encoding/binary"

// Memory is the VM's flat data arena: a contiguous byte region shared by
// every task's globals, heap allocations and stack. Per the data-model
// design notes, all addresses passed across package boundaries are byte
// offsets; conversion to a word index happens only inside these accessors.
type Memory struct {
	bytes []byte
}

// NewMemory allocates an arena of the given byte size.
func NewMemory(size int) *Memory {
	return &Memory{bytes: make([]byte, size)}
}

// Len returns the arena size in bytes.
func (m *Memory) Len() Word { return Word(len(m.bytes)) }

// Grow extends the arena by n bytes, returning the byte offset of the
// first newly-available byte. Used by the allocator (MALC) and by the
// loader when carving out a module's data region.
func (m *Memory) Grow(n int) Word {
	base := Word(len(m.bytes))
	m.bytes = append(m.bytes, make([]byte, n)...)
	return base
}

func (m *Memory) inBounds(addr Word, width int) bool {
	return addr >= 0 && int64(addr)+int64(width) <= int64(len(m.bytes))
}

// ReadWord reads a Word at a byte-aligned offset. ok is false on
// out-of-bounds access (the caller turns this into a SEGV trap).
func (m *Memory) ReadWord(addr Word) (Word, bool) {
	if !m.inBounds(addr, WordSize) {
		return 0, false
	}
	return Word(int64(binary.LittleEndian.Uint64(m.bytes[addr:]))), true
}

// WriteWord writes a Word at a byte-aligned offset.
func (m *Memory) WriteWord(addr Word, v Word) bool {
	if !m.inBounds(addr, WordSize) {
		return false
	}
	binary.LittleEndian.PutUint64(m.bytes[addr:], uint64(v))
	return true
}

// ReadByte reads a single byte, sign-extended into a Word (LC semantics).
func (m *Memory) ReadByte(addr Word) (Word, bool) {
	if !m.inBounds(addr, 1) {
		return 0, false
	}
	return Word(int8(m.bytes[addr])), true
}

// WriteByte writes the low byte of v at addr.
func (m *Memory) WriteByte(addr Word, v Word) bool {
	if !m.inBounds(addr, 1) {
		return false
	}
	m.bytes[addr] = byte(v)
	return true
}

// Slice exposes a raw byte window, used by MSET/MCMP/MCPY and by PRTF's
// %s handling. Returns nil if the range is out of bounds.
func (m *Memory) Slice(addr Word, n int) []byte {
	if !m.inBounds(addr, n) {
		return nil
	}
	return m.bytes[addr : int64(addr)+int64(n)]
}

// WriteBytes copies b into the arena starting at addr.
func (m *Memory) WriteBytes(addr Word, b []byte) bool {
	if !m.inBounds(addr, len(b)) {
		return false
	}
	copy(m.bytes[addr:], b)
	return true
}
