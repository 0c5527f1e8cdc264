package kernel

import "errors"

// Sentinel errors: one var block of wrapped, comparable errors rather
// than ad-hoc fmt.Errorf strings scattered through the package.
var (
	ErrNoFreeSlot       = errors.New("kernel: no free task slot")
	ErrStackAlloc       = errors.New("kernel: failed to allocate task stack")
	ErrArgvAlloc        = errors.New("kernel: failed to allocate argv")
	ErrModuleLoad       = errors.New("kernel: failed to load module")
	ErrUnknownPID       = errors.New("kernel: no task with that pid")
	ErrBadSignal        = errors.New("kernel: signal number out of range")
	ErrKernelFault      = errors.New("kernel: fault inside kernel trap handler")
	ErrSymbolNotFound   = errors.New("kernel: no syscall registered under that name")
	ErrSyscallExhausted = errors.New("kernel: custom syscall opcode space exhausted")
)

// Numeric start_errno codes.
const (
	ErrNoFreeSlotCode = iota + 1
	ErrStackAllocCode
	ErrArgvAllocCode
	ErrModuleLoadCode
)
