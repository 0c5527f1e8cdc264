package vm

import "testing"

// asm assembles a flat instruction stream by hand.
func asm(ops ...Word) []Word { return ops }

func newTestVM(code []Word, stackTop Word) *VM {
	mem := NewMemory(4096)
	m := NewVM(code, mem)
	m.Reg.SP = stackTop
	m.Reg.BP = stackTop
	return m
}

func TestEntLevIsNoop(t *testing.T) {
	// ENT 3; LEV, entered the way JSR enters a callee: the return address
	// is on top of the stack, and LEV pops it along with the saved BP.
	code := asm(Word(OpTLEV), Word(OpENT), 3, Word(OpLEV))
	m := newTestVM(code, 2048)
	m.Reg.PC = 1

	wantBP, wantSP := m.Reg.BP, m.Reg.SP
	m.push(0) // return address, as JSR would have pushed it

	m.Step() // ENT 3
	if m.Reg.SP != wantSP-2*WordSize-3*WordSize {
		t.Fatalf("after ENT: SP = %d, want %d", m.Reg.SP, wantSP-2*WordSize-3*WordSize)
	}
	if m.Reg.BP == wantBP {
		t.Fatalf("after ENT: BP unchanged, want new frame base")
	}

	m.Step() // LEV
	if m.Reg.BP != wantBP || m.Reg.SP != wantSP {
		t.Fatalf("ENT/LEV not a no-op: BP=%d SP=%d, want BP=%d SP=%d", m.Reg.BP, m.Reg.SP, wantBP, wantSP)
	}
}

func TestJsrLevReturnsToNextInstruction(t *testing.T) {
	// main:   JSR  callee   ; IMM 99   ; <end>
	// callee: ENT 0; LEV
	code := asm(
		Word(OpTLEV), // 0
		Word(OpJSR), 5, // 1,2: JSR callee(5)
		Word(OpIMM), 99, // 3,4
		Word(OpENT), 0, // 5,6: callee
		Word(OpLEV), // 7
	)
	m := newTestVM(code, 2048)
	m.Reg.PC = 1

	m.Step() // JSR -> PC=5, pushes return addr 3
	if m.Reg.PC != 5 {
		t.Fatalf("JSR did not jump: PC=%d", m.Reg.PC)
	}
	m.Step() // ENT 0
	m.Step() // LEV -> returns to 3
	if m.Reg.PC != 3 {
		t.Fatalf("LEV did not return to instruction after JSR: PC=%d", m.Reg.PC)
	}
	m.Step() // IMM 99
	if m.Reg.A != 99 {
		t.Fatalf("A = %d, want 99", m.Reg.A)
	}
}

func TestArithmeticRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		op   Op
		lhs  Word
		a    Word
		want Word
	}{
		{"ADD", OpADD, 3, 4, 7},
		{"SUB", OpSUB, 10, 4, 6},
		{"MUL", OpMUL, 6, 7, 42},
		{"DIV", OpDIV, 20, 4, 5},
		{"MOD", OpMOD, 20, 6, 2},
		{"AND", OpAND, 0xF0, 0x1F, 0x10},
		{"OR", OpOR, 0xF0, 0x0F, 0xFF},
		{"XOR", OpXOR, 0xFF, 0x0F, 0xF0},
		{"EQ-true", OpEQ, 5, 5, 1},
		{"EQ-false", OpEQ, 5, 6, 0},
		{"LT", OpLT, 3, 5, 1},
		{"SHL", OpSHL, 1, 4, 16},
		{"SHR", OpSHR, 16, 4, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			code := asm(Word(OpTLEV), Word(OpPSH) /*unused*/, Word(c.op))
			m := newTestVM(code, 2048)
			m.Reg.PC = 2
			m.push(c.lhs)
			m.Reg.A = c.a
			m.Step()
			if m.Reg.A != c.want {
				t.Fatalf("%s: A = %d, want %d", c.name, m.Reg.A, c.want)
			}
		})
	}
}

func TestLeaIsFrameRelative(t *testing.T) {
	code := asm(Word(OpTLEV), Word(OpLEA), 2)
	m := newTestVM(code, 1000)
	m.Reg.PC = 1
	m.Reg.BP = 1000
	m.Step()
	if m.Reg.A != 1000+2*WordSize {
		t.Fatalf("LEA: A = %d, want %d", m.Reg.A, 1000+2*WordSize)
	}
}

func TestStoreThenLoadWord(t *testing.T) {
	code := asm(Word(OpTLEV),
		Word(OpIMM), 100, // A = 100
		Word(OpSI), // *pop() = A  (store word)
		Word(OpIMM), 100,
		Word(OpLI), // A = *A
	)
	m := newTestVM(code, 2048)
	m.Reg.PC = 1
	m.push(100) // address operand for SI
	m.Step()    // IMM 100 -> A=100
	m.Step()    // SI -> mem[100] = 100
	m.Step()    // IMM 100 -> A = 100
	m.Step()    // LI -> A = mem[100]
	if m.Reg.A != 100 {
		t.Fatalf("LI after SI: A = %d, want 100", m.Reg.A)
	}
}

// minimalHandlerAt returns a handler blob (ENT 0; LEV) at the given code
// offset, used by tests that need a minimal, well-formed trap target.
func minimalHandlerAt(code []Word, addr int) []Word {
	for len(code) < addr+3 {
		code = append(code, 0)
	}
	code[addr] = Word(OpENT)
	code[addr+1] = 0
	code[addr+2] = Word(OpLEV)
	return code
}

func TestTrapAtomicityAcrossCycleInterrupt(t *testing.T) {
	// A tight loop: IMM 42; JMP 1 (infinite). We set a cycle interval of 3
	// and a handler that immediately resumes (ENT 0; LEV). After the
	// handler runs and executes TLEV, A/BP/SP/PC must be exactly what
	// they were the instant the interrupt fired.
	code := asm(Word(OpTLEV), // 0
		Word(OpIMM), 42, // 1,2
		Word(OpJMP), 1, // 3,4
	)
	code = minimalHandlerAt(code, 10)

	m := newTestVM(code, 2048)
	m.Reg.PC = 1
	m.CycleHandler = 10
	m.Interval = 3

	preA, preBP, preSP, prePC := m.Reg.A, m.Reg.BP, m.Reg.SP, m.Reg.PC

	// Run exactly up to (but not through) the interrupt: 3 steps, the
	// 3rd of which fires HARD_IRQ instead of executing an instruction.
	m.Step() // IMM 42 -> A=42, cycle 1
	m.Step() // JMP 1, cycle 2
	preA, prePC = m.Reg.A, m.Reg.PC // state right before the interrupting step
	preBP, preSP = m.Reg.BP, m.Reg.SP

	m.Step() // cycle 3: HARD_IRQ fires instead of executing PC's instruction
	if m.Reg.PC != 12 {
		t.Fatalf("trap did not enter handler: PC=%d", m.Reg.PC)
	}

	// trap() already performed the handler's ENT on its behalf, so PC
	// lands directly on the handler's LEV.
	m.Step() // handler: LEV -> jumps to &TLEV (0)
	if m.Reg.PC != 0 {
		t.Fatalf("LEV did not land on TLEV trampoline: PC=%d", m.Reg.PC)
	}
	m.Step() // TLEV: restore

	if m.Reg.A != preA || m.Reg.BP != preBP || m.Reg.SP != preSP || m.Reg.PC != prePC {
		t.Fatalf("TLEV did not restore pre-trap state: got A=%d BP=%d SP=%d PC=%d, want A=%d BP=%d SP=%d PC=%d",
			m.Reg.A, m.Reg.BP, m.Reg.SP, m.Reg.PC, preA, preBP, preSP, prePC)
	}
}

func TestIllegalOpcodeTraps(t *testing.T) {
	code := asm(Word(OpTLEV), Word(MaxOp-1)) // a syscall slot with no handler registered
	code = minimalHandlerAt(code, 10)
	m := newTestVM(code, 2048)
	m.Reg.PC = 1
	m.TrapHandler = 10

	m.Step() // fetch unregistered syscall opcode -> ILLOP -> trap into handler
	if m.Reg.PC != 12 {
		t.Fatalf("illegal opcode did not trap: PC=%d", m.Reg.PC)
	}
}

func TestCycleIntervalZeroDisablesPreemption(t *testing.T) {
	code := asm(Word(OpTLEV), Word(OpIMM), 1, Word(OpJMP), 1)
	m := newTestVM(code, 2048)
	m.Reg.PC = 1
	m.Interval = 0
	for i := 0; i < 1000; i++ {
		m.Step()
	}
	if m.halted {
		t.Fatalf("VM halted unexpectedly with preemption disabled")
	}
}
