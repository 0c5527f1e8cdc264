package vm

// Op identifies a single VM instruction or syscall. The low range holds
// core instructions, a fixed sub-range holds the base syscalls recognised
// directly by the VM (OPEN..EXIT), and the remaining range is handed out
// dynamically to kernel-registered custom syscalls.
type Op Word

// Core instruction set.
const (
	OpPSH Op = iota
	OpLEA
	OpIMM
	OpLI
	OpLC
	OpSI
	OpSC
	OpJMP
	OpBZ
	OpBNZ
	OpJSR
	OpJSRI
	OpJSRS
	OpENT
	OpADJ
	OpLEV
	OpTLEV

	OpOR
	OpXOR
	OpAND
	OpEQ
	OpNE
	OpLT
	OpGT
	OpLE
	OpGE
	OpSHL
	OpSHR
	OpADD
	OpSUB
	OpMUL
	OpDIV
	OpMOD

	// Configuration opcodes.
	OpCYCH // install cycle-interrupt handler
	OpCYCI // set cycle interval (0 disables preemption)
	OpCYCS // read current cycle count
	OpTHND // install the generic trap handler (ILLOP/SEGV/OPV)
	OpSYSI // query system-info word

	opCoreCount
)

// Base syscall opcodes, recognised directly by the VM. Their
// handlers are still host-provided (the kernel installs them); only the
// opcode *numbers* are reserved ahead of time.
const (
	OpOPEN Op = opCoreCount + iota
	OpREAD
	OpCLOS
	OpPRTF
	OpMALC
	OpFREE
	OpMSET
	OpMCMP
	OpMCPY
	OpEXIT

	// SyscallBase is the first opcode number available for custom,
	// kernel-registered syscalls.
	SyscallBase
)

// MaxSyscalls bounds the number of custom syscall slots the kernel may
// register starting at SyscallBase.
const MaxSyscalls = 64

// MaxOp is one past the highest valid opcode value.
const MaxOp = Word(SyscallBase) + MaxSyscalls

// tlevTrampolineAddr is the fixed code address of the single TLEV opcode
// word every trap frame's "&TLEV" slot points at. Code offset 0 is
// reserved for it by NewVM.
const tlevTrampolineAddr Word = 0

// opFunc is the handler signature for a single VM instruction.
type opFunc func(*VM)

// instrTable is built once by init() through the register*Ops functions;
// core opcodes only. Base and
// custom syscalls dispatch through VM.syscalls instead, since their
// handlers are host-provided rather than fixed at compile time.
var instrTable [opCoreCount]opFunc

func init() {
	registerStackOps()
	registerControlOps()
	registerArithOps()
	registerTrapOps()
}
