package vm

// TrapKind identifies why a trap frame was synthesised.
type TrapKind Word

const (
	TrapNone    TrapKind = 0
	TrapIllOp   TrapKind = 1 // unknown opcode
	TrapHardIRQ TrapKind = 2 // cycle counter reached the configured interval
	TrapSegv    TrapKind = 3 // illegal memory read/write
	TrapOpv     TrapKind = 4 // invalid opcode value given to an indirect-call instruction
	TrapSignal  TrapKind = 5 // host signal forwarded to the focused task
)

func (k TrapKind) String() string {
	switch k {
	case TrapIllOp:
		return "ILLOP"
	case TrapHardIRQ:
		return "HARD_IRQ"
	case TrapSegv:
		return "SEGV"
	case TrapOpv:
		return "OPV"
	case TrapSignal:
		return "SIGNAL"
	default:
		return "NONE"
	}
}

// trapFrameWords is the fixed size of the frame pushed by trap(): type,
// parameter, A, BP, SP_at_trap, return_PC, &TLEV, handler_BP.
const trapFrameWords = 8

// Frame offsets, in words from the handler's BP, of each pushed field.
// A kernel trap handler uses these to inspect or overwrite the
// interrupted task's saved registers before executing LEV; overwriting
// FrameA/FrameBP/FrameSP/FramePC is how a context switch is performed —
// TLEV restores whatever values sit in those slots when it finally pops
// them, regardless of which task they came from.
const (
	FrameHandlerBP = 0
	FrameTlevAddr  = 1
	FramePC        = 2
	FrameSP        = 3
	FrameBP        = 4
	FrameA         = 5
	FrameParam     = 6
	FrameType      = 7
)

func registerTrapOps() {
	instrTable[OpTLEV] = opTLEV
	instrTable[OpCYCH] = opCYCH
	instrTable[OpCYCI] = opCYCI
	instrTable[OpCYCS] = opCYCS
	instrTable[OpTHND] = opTHND
	instrTable[OpSYSI] = opSYSI
}

// trap synthesises the trap frame against the VM's own live registers and
// transfers control to handler.
func (m *VM) trap(kind TrapKind, param Word, handler Word) {
	sp, bp, pc, ok := m.SynthesizeTrap(m.Reg.SP, m.Reg.BP, m.Reg.PC, m.Reg.A, kind, param, handler)
	if !ok {
		// No handler installed, or handler is malformed. The kernel always
		// installs both handlers before starting any task, so this only
		// fires for a kernel bug, not user error.
		m.lastTrapErr = ErrNoHandler
		m.halted = true
		return
	}
	m.Reg.SP, m.Reg.BP, m.Reg.PC = sp, bp, pc
	m.trapDepth++
}

// SynthesizeTrap builds a trap frame against an arbitrary (sp, bp, pc, a)
// tuple rather than the VM's live registers, writing the frame into Mem at
// sp and below. It is the mechanism the kernel uses to inject a signal
// trap into a task that is not currently running: the tuple supplied is
// the target task's saved register set, not m.Reg. handler must be the
// address of a compiled function whose first instruction is "ENT k";
// SynthesizeTrap performs that ENT's effect itself and the returned pc
// points just past it, mirroring what trap() does for the live case.
func (m *VM) SynthesizeTrap(sp, bp, pc, a Word, kind TrapKind, param Word, handler Word) (newSP, newBP, newPC Word, ok bool) {
	if handler <= 0 || int(handler)+1 >= len(m.Code) {
		return 0, 0, 0, false
	}
	if m.Code[handler] != Word(OpENT) {
		return 0, 0, 0, false
	}

	spAtTrap := sp
	push := func(v Word) {
		sp -= WordSize
		m.Mem.WriteWord(sp, v)
	}
	push(Word(kind))
	push(param)
	push(a)
	push(bp)
	push(spAtTrap)
	push(pc)
	push(tlevTrampolineAddr)
	push(bp) // handler_BP: what the handler's own ENT would have pushed

	locals := m.Code[handler+1]
	newBP = sp
	newSP = sp - locals*WordSize
	newPC = handler + 2
	return newSP, newBP, newPC, true
}

// pushRaw stores a word at *--SP without running through the normal
// bounds-checked stack helpers used by user code, matching the "atomic
// with respect to user code" requirement: a trap must never itself fault.
func (m *VM) pushRaw(v Word) {
	m.Reg.SP -= WordSize
	m.Mem.WriteWord(m.Reg.SP, v)
}

func (m *VM) popRaw() Word {
	v, _ := m.Mem.ReadWord(m.Reg.SP)
	m.Reg.SP += WordSize
	return v
}

// opTLEV is the inverse of trap(): it expects the handler's own LEV to
// have already unwound its locals and handler_BP/&TLEV slots (standard
// ENT/LEV calling convention lands PC here via the &TLEV "return
// address"), leaving exactly the original six fields on the stack.
func opTLEV(m *VM) {
	returnPC := m.popRaw()
	spAtTrap := m.popRaw()
	bp := m.popRaw()
	a := m.popRaw()
	m.popRaw() // parameter, not restored
	m.popRaw() // type, not restored

	m.Reg.PC = returnPC
	m.Reg.SP = spAtTrap
	m.Reg.BP = bp
	m.Reg.A = a
	if m.trapDepth > 0 {
		m.trapDepth--
	}
}

func opCYCH(m *VM) {
	m.CycleHandler = m.Reg.A
}

func opCYCI(m *VM) {
	m.Interval = m.Reg.A
	m.sinceIRQ = 0
}

func opCYCS(m *VM) {
	m.Reg.A = Word(m.Cycles)
}

func opTHND(m *VM) {
	m.TrapHandler = m.Reg.A
}

// SysInfoWord is returned by SYSI: a non-zero value lets user code detect
// it is running under the c4ke kernel rather than standalone.
const SysInfoWord Word = 1

func opSYSI(m *VM) {
	m.Reg.A = SysInfoWord
}
