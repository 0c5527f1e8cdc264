// Package loader parses the C4R relocatable object format and
// links a parsed module into a shared VM code/data arena.
//
// Serialisation reads fixed-width fields with encoding/binary rather
// than hand-rolled byte shifts, and uses LittleEndian throughout,
// matching the word layout the original format's native-int reads
// produce on the little-endian hosts it targets.
package loader

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/c4ke/c4ke/vm"
)

const (
	wordSize       = 8
	signature      = "C4R"
	currentVersion = 2
	hostWordBits   = 64
)

// Patch types, per original_source/load-c4r.c's C4R_PTYPE_ enum: negative
// sentinels for CODE/DATA, any positive value is a symbol table index.
const (
	PatchCode = -1
	PatchData = -2
)

type Patch struct {
	Type    int64
	Address vm.Word
	Value   vm.Word
}

type Symbol struct {
	ID     int64
	Type   int64
	Class  int64
	Attr   int64
	Name   string
	Value  vm.Word
}

// Module is a parsed-but-unlinked C4R object: addresses in Code/Data/
// Patches/Ctors/Dtors/Symbols are all module-relative, not yet rebased
// into a shared arena. Link performs that rebasing.
type Module struct {
	Entry vm.Word // -1 for a library module

	Code []vm.Word
	Data []byte

	Patches []Patch
	Ctors   []vm.Word
	Dtors   []vm.Word
	Symbols []Symbol

	// CodeBase/DataBase are filled in by Link and record where this
	// module ended up in the shared arena, needed at Free time and by
	// the kernel to compute the task's absolute entry PC.
	CodeBase vm.Word
	DataBase vm.Word
	linked   bool
}

// Parse reads one module from r in fixed segment order: header, then
// C/D/P/c/d/S, each preceded by its ASCII marker byte.
func Parse(r io.Reader) (*Module, error) {
	var sig [3]byte
	if err := readFull(r, sig[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	if string(sig[:]) != signature {
		return nil, ErrBadSignature
	}

	var version, wordBits uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &wordBits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	if version > currentVersion {
		return nil, ErrUnsupportedVersion
	}
	if int(wordBits) != hostWordBits {
		return nil, ErrWordSizeMismatch
	}

	var entry, codeLen, dataLen, patchCount, symCount, ctorCount, dtorCount int64
	for _, f := range []*int64{&entry, &codeLen, &dataLen, &patchCount, &symCount, &ctorCount, &dtorCount} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrShortRead, err)
		}
	}

	m := &Module{Entry: vm.Word(entry)}

	if err := expectMarker(r, 'C'); err != nil {
		return nil, err
	}
	m.Code = make([]vm.Word, codeLen)
	for i := range m.Code {
		var w int64
		if err := binary.Read(r, binary.LittleEndian, &w); err != nil {
			return nil, fmt.Errorf("%w: code word %d: %v", ErrShortRead, i, err)
		}
		m.Code[i] = vm.Word(w)
	}

	if err := expectMarker(r, 'D'); err != nil {
		return nil, err
	}
	m.Data = make([]byte, dataLen)
	if err := readFull(r, m.Data); err != nil {
		return nil, fmt.Errorf("%w: data segment: %v", ErrShortRead, err)
	}

	if err := expectMarker(r, 'P'); err != nil {
		return nil, err
	}
	m.Patches = make([]Patch, patchCount)
	for i := range m.Patches {
		var typ, addr, val int64
		if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
			return nil, fmt.Errorf("%w: patch %d type: %v", ErrShortRead, i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &addr); err != nil {
			return nil, fmt.Errorf("%w: patch %d addr: %v", ErrShortRead, i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &val); err != nil {
			return nil, fmt.Errorf("%w: patch %d value: %v", ErrShortRead, i, err)
		}
		m.Patches[i] = Patch{Type: typ, Address: vm.Word(addr), Value: vm.Word(val)}
	}

	if err := expectMarker(r, 'c'); err != nil {
		return nil, err
	}
	m.Ctors = make([]vm.Word, ctorCount)
	if err := readWords(r, m.Ctors); err != nil {
		return nil, err
	}

	if err := expectMarker(r, 'd'); err != nil {
		return nil, err
	}
	m.Dtors = make([]vm.Word, dtorCount)
	if err := readWords(r, m.Dtors); err != nil {
		return nil, err
	}

	if err := expectMarker(r, 'S'); err != nil {
		return nil, err
	}
	m.Symbols = make([]Symbol, symCount)
	for i := range m.Symbols {
		s, err := readSymbol(r)
		if err != nil {
			return nil, fmt.Errorf("%w: symbol %d: %v", ErrShortRead, i, err)
		}
		m.Symbols[i] = s
	}

	return m, nil
}

func readSymbol(r io.Reader) (Symbol, error) {
	var s Symbol
	var id, typ, class, attr int64
	for _, f := range []*int64{&id, &typ, &class, &attr} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return s, err
		}
	}
	var nameLen uint8
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return s, err
	}
	name := make([]byte, nameLen)
	if err := readFull(r, name); err != nil {
		return s, err
	}
	var value int64
	if err := binary.Read(r, binary.LittleEndian, &value); err != nil {
		return s, err
	}
	s.ID, s.Type, s.Class, s.Attr = id, typ, class, attr
	s.Name = string(name)
	s.Value = vm.Word(value)
	return s, nil
}

func readWords(r io.Reader, out []vm.Word) error {
	for i := range out {
		var w int64
		if err := binary.Read(r, binary.LittleEndian, &w); err != nil {
			return fmt.Errorf("%w: word %d: %v", ErrShortRead, i, err)
		}
		out[i] = vm.Word(w)
	}
	return nil
}

func expectMarker(r io.Reader, want byte) error {
	var b [1]byte
	if err := readFull(r, b[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	if b[0] != want {
		return fmt.Errorf("%w: wanted %q, got %q", ErrBadMarker, want, b[0])
	}
	return nil
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// Link appends the module's code and data into the shared VM arena at
// the arena's current high-water marks, then applies every patch. It
// returns the absolute entry PC, or -1 if this module is a library.
func (m *Module) Link(v *vm.VM) (vm.Word, error) {
	m.CodeBase = vm.Word(len(v.Code))
	m.DataBase = v.Mem.Len()

	v.Code = append(v.Code, m.Code...)
	v.Mem.Grow(len(m.Data))
	v.Mem.WriteBytes(m.DataBase, m.Data)

	for _, p := range m.Patches {
		target := m.CodeBase + p.Address
		switch p.Type {
		case PatchCode:
			v.Code[target] = m.CodeBase + p.Value
		case PatchData:
			v.Code[target] = m.DataBase + p.Value
		default:
			if p.Type <= 0 || int(p.Type) > len(m.Symbols) {
				return 0, ErrBadPatchType
			}
			// Unresolved external: this core links monolithically, so a
			// positive patch type is left unapplied rather than resolved
			// against another module's symbol table.
		}
	}

	m.linked = true
	if m.Entry < 0 {
		return -1, nil
	}
	return m.CodeBase + m.Entry, nil
}

// AbsCtors and AbsDtors return the constructor/destructor addresses
// rebased into the shared arena, in declared table order.
func (m *Module) AbsCtors() []vm.Word { return rebase(m.CodeBase, m.Ctors) }
func (m *Module) AbsDtors() []vm.Word { return rebase(m.CodeBase, m.Dtors) }

func rebase(base vm.Word, offsets []vm.Word) []vm.Word {
	out := make([]vm.Word, len(offsets))
	for i, o := range offsets {
		out[i] = base + o
	}
	return out
}

// Free releases the module's own parsed-object-level allocations. Code
// and data words already linked into the shared VM arena are not
// reclaimed: every task shares one flat arena that only ever grows, so
// compacting it on a single module's exit would invalidate pointers
// still held by other live tasks. The kernel calls Free when it resets a
// ZOMBIE task's slot (reapZombies, or Wait for the task it waits on).
func (m *Module) Free() {
	m.Symbols = nil
	m.Ctors = nil
	m.Dtors = nil
	m.Patches = nil
}

// FindSymbol looks up a symbol by name, returning its value rebased into
// the shared arena.
func (m *Module) FindSymbol(name string) (vm.Word, bool) {
	for _, s := range m.Symbols {
		if s.Name == name {
			return m.CodeBase + s.Value, true
		}
	}
	return 0, false
}
