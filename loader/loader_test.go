package loader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/c4ke/c4ke/vm"
)

// writeModule hand-assembles a minimal valid C4R stream from the given
// entry, code words, data bytes and patches, with an empty
// constructor/destructor/symbol table.
func writeModule(t *testing.T, entry int64, code []int64, data []byte, patches [][3]int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("C4R")
	buf.WriteByte(currentVersion)
	buf.WriteByte(hostWordBits)

	fields := []int64{entry, int64(len(code)), int64(len(data)), int64(len(patches)), 0, 0, 0}
	for _, f := range fields {
		binary.Write(&buf, binary.LittleEndian, f)
	}

	buf.WriteByte('C')
	for _, w := range code {
		binary.Write(&buf, binary.LittleEndian, w)
	}
	buf.WriteByte('D')
	buf.Write(data)
	buf.WriteByte('P')
	for _, p := range patches {
		binary.Write(&buf, binary.LittleEndian, p[0])
		binary.Write(&buf, binary.LittleEndian, p[1])
		binary.Write(&buf, binary.LittleEndian, p[2])
	}
	buf.WriteByte('c')
	buf.WriteByte('d')
	buf.WriteByte('S')
	return buf.Bytes()
}

func TestParseRejectsBadSignature(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte("XXXyyyy")))
	if err != ErrBadSignature {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
}

func TestParseRejectsWordSizeMismatch(t *testing.T) {
	raw := writeModule(t, 0, []int64{0}, nil, nil)
	raw[4] = 32 // word bit-size field
	_, err := Parse(bytes.NewReader(raw))
	if err != ErrWordSizeMismatch {
		t.Fatalf("got %v, want ErrWordSizeMismatch", err)
	}
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	raw := writeModule(t, 0, []int64{0}, nil, nil)
	raw[3] = currentVersion + 1
	_, err := Parse(bytes.NewReader(raw))
	if err != ErrUnsupportedVersion {
		t.Fatalf("got %v, want ErrUnsupportedVersion", err)
	}
}

func TestLinkAppliesCodeAndDataPatches(t *testing.T) {
	// code[0] is patched to point at code_base+5; code[1] to data_base+3.
	raw := writeModule(t, 0,
		[]int64{0, 0},
		[]byte{1, 2, 3, 4, 5},
		[][3]int64{
			{int64(PatchCode), 0, 5},
			{int64(PatchData), 1, 3},
		},
	)
	mod, err := Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	v := vm.NewVM(nil, vm.NewMemory(0))
	baseCodeLen := len(v.Code)
	entry, err := mod.Link(v)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if entry != mod.CodeBase {
		t.Fatalf("entry = %d, want code base %d", entry, mod.CodeBase)
	}

	wantCode0 := mod.CodeBase + 5
	wantCode1 := mod.DataBase + 3
	if v.Code[baseCodeLen] != wantCode0 {
		t.Fatalf("CODE patch: code[0] = %d, want %d", v.Code[baseCodeLen], wantCode0)
	}
	if v.Code[baseCodeLen+1] != wantCode1 {
		t.Fatalf("DATA patch: code[1] = %d, want %d", v.Code[baseCodeLen+1], wantCode1)
	}
}

func TestLinkLibraryEntryIsNegativeOne(t *testing.T) {
	raw := writeModule(t, -1, []int64{0}, nil, nil)
	mod, err := Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v := vm.NewVM(nil, vm.NewMemory(0))
	entry, err := mod.Link(v)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if entry != -1 {
		t.Fatalf("entry = %d, want -1 for a library module", entry)
	}
}

func TestCtorsAndDtorsRebaseWithCodeBase(t *testing.T) {
	raw := writeModule(t, 0, []int64{0, 0, 0}, nil, nil)
	mod, err := Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	mod.Ctors = []vm.Word{1}
	mod.Dtors = []vm.Word{2}

	v := vm.NewVM(nil, vm.NewMemory(0))
	if _, err := mod.Link(v); err != nil {
		t.Fatalf("Link: %v", err)
	}

	if got := mod.AbsCtors(); len(got) != 1 || got[0] != mod.CodeBase+1 {
		t.Fatalf("AbsCtors = %v, want [%d]", got, mod.CodeBase+1)
	}
	if got := mod.AbsDtors(); len(got) != 1 || got[0] != mod.CodeBase+2 {
		t.Fatalf("AbsDtors = %v, want [%d]", got, mod.CodeBase+2)
	}
}
