package vm

import "errors"

var (
	// ErrStackOverflow means SP underflowed the bottom of the data arena.
	ErrStackOverflow = errors.New("vm: stack overflow")

	// ErrBadSyscall means RegisterSyscall was asked for a slot outside
	// [SyscallBase, SyscallBase+MaxSyscalls).
	ErrBadSyscall = errors.New("vm: syscall table exhausted")

	// ErrNoHandler means a trap fired before the kernel installed a
	// handler for it (cycle or generic trap handler both unset).
	ErrNoHandler = errors.New("vm: no trap handler installed")

	// ErrBadHandlerPrologue means the installed handler's first
	// instruction is not ENT, so its locals size cannot be determined.
	ErrBadHandlerPrologue = errors.New("vm: trap handler missing ENT prologue")
)
