package kernel

import (
	"github.com/c4ke/c4ke/loader"
	"github.com/c4ke/c4ke/vm"
)

// TaskState is the task lifecycle state: exactly one of the last four
// is meaningful while a slot is LOADED.
type TaskState int

const (
	Unloaded TaskState = iota
	Loaded
	Running
	Waiting
	Zombie
)

func (s TaskState) String() string {
	switch s {
	case Unloaded:
		return "UNLOADED"
	case Loaded:
		return "LOADED"
	case Running:
		return "RUNNING"
	case Waiting:
		return "WAITING"
	case Zombie:
		return "ZOMBIE"
	default:
		return "?"
	}
}

// WaitTag identifies what a WAITING task is blocked on.
type WaitTag int

const (
	WaitNone WaitTag = iota
	WaitTime
	WaitPID
	WaitMessage
)

// Privilege distinguishes kernel-internal tasks (idle/reaper) from user
// tasks for diagnostic purposes; the VM itself enforces no isolation
// between them.
type Privilege int

const (
	PrivUser Privilege = iota
	PrivKernel
)

const numSignals = 32

// SigSlot is one entry of a task's signal table.
type SigSlot struct {
	Pending int
	Blocked bool
	Handler vm.Word
}

// SavedRegisters mirrors the VM register file captured whenever a task is
// not the one currently live in the VM.
type SavedRegisters struct {
	A, BP, SP, PC vm.Word
	EntryPC       vm.Word
}

// Accounting tracks the per-task counters read by the scheduler and
// exported to ps/top via TASKS_EXPORT.
type Accounting struct {
	Cycles    uint64
	WallMS    int64
	TrapCount uint64
	Nice      int
	NiceBase  int
}

// Task is one slot of the kernel's fixed-size task table.
type Task struct {
	ID       int
	ParentID int
	Name     string
	Priv     Privilege

	State TaskState

	Saved SavedRegisters

	StackBase vm.Word
	StackTop  vm.Word
	Module    *loader.Module
	Argv      []string

	WaitTag WaitTag
	WaitArg vm.Word

	Signals       [numSignals]SigSlot
	PendingTotal  int
	FocusReceiver bool

	Acct Accounting

	ExitCode vm.Word
}

// reset zeroes a slot back to its UNLOADED state before it is handed to
// find-free, so its next occupant observes zeroed state.
func (t *Task) reset(id int) {
	*t = Task{ID: id}
}

func (t *Task) runnable() bool {
	return t.State == Running || (t.State == Waiting && t.WaitTag == WaitNone)
}
