// Package kernel implements the preemptive micro-kernel that multiplexes
// one vm.VM across a fixed-size table of tasks.
package kernel

import (
	"log"
	"os"
	"time"

	"github.com/c4ke/c4ke/loader"
	"github.com/c4ke/c4ke/vm"
)

const (
	defaultHeapBytes  = 4 << 20
	defaultStackWords = 16 * 1024
	reservedArgWords  = 8
)

// Kernel owns the single VM instance, the task table, and every piece of
// state a trap handler touches. Everything that would otherwise be a
// loose global is a field here, threaded explicitly into the
// syscall/trap closures registered against the VM.
type Kernel struct {
	VM    *vm.VM
	Alloc *Allocator
	Log   *log.Logger

	Tasks   []Task
	Cursor  int
	Current int // index into Tasks of the task whose Saved regs are currently live

	IdleTaskID int
	FocusPID   int
	nextPID    int

	genericTrapHandler vm.Word
	cycleHandlerAddr   vm.Word

	savedInterval vm.Word
	criticalDepth int

	startErrno int
	inTrap     bool

	symbolTable  map[string]vm.Op
	nextCustomOp vm.Op

	files fileTable

	// TargetInterval is what CYCI is restored to whenever critical-path
	// discipline releases.
	TargetInterval vm.Word

	// DebugSymbols controls whether fault logging resolves the faulting
	// PC against the crashing task's module symbol table (the -g CLI
	// flag). Symbols stay reachable through Task.Module until the task
	// is reaped regardless of this flag; it only gates the lookup cost
	// and log verbosity.
	DebugSymbols bool

	bootTime    time.Time
	lastReapMS  int64
	reapEveryMS int64
}

// New boots a kernel: allocates the shared VM, its heap, the fixed task
// table, and installs every base and custom syscall.
func New(maxTasks int) *Kernel {
	mem := vm.NewMemory(0)
	v := vm.NewVM(nil, mem)

	heapBase := mem.Grow(defaultHeapBytes)

	k := &Kernel{
		VM:           v,
		Alloc:        NewAllocator(mem, heapBase, vm.Word(defaultHeapBytes)),
		Log:          log.New(os.Stderr, "[c4ke] ", log.LstdFlags),
		Tasks:        make([]Task, maxTasks),
		nextPID:      1,
		symbolTable:  make(map[string]vm.Op),
		nextCustomOp: vm.SyscallBase,
		bootTime:     time.Now(),
		reapEveryMS:  1000,
	}
	for i := range k.Tasks {
		k.Tasks[i].reset(i)
	}

	k.installTrampolines()
	k.installBaseSyscalls()
	k.installCustomSyscalls()
	k.bootIdleTask()

	v.TrapHandler = k.genericTrapHandler
	v.CycleHandler = k.cycleHandlerAddr
	v.CheckMemory = true

	return k
}

// NowMS returns milliseconds elapsed since the kernel booted. SLEEP and
// AWAIT_MESSAGE deadlines are expressed in this clock.
func (k *Kernel) NowMS() int64 {
	return time.Since(k.bootTime).Milliseconds()
}

// installTrampolines lays down the two minimal bytecode stubs every trap
// lands in: "ENT 0; <internal syscall>; LEV". trap()/SynthesizeTrap skip
// straight past the ENT, so the handler body really is just the one
// opcode; LEV then unwinds into the TLEV trampoline at code address 0,
// which restores whatever register values the internal syscall left in
// the trap frame.
func (k *Kernel) installTrampolines() {
	internalTrap := k.reserveCustomOp("__internal_trap")
	internalCycle := k.reserveCustomOp("__internal_cycle")
	k.VM.RegisterSyscall(internalTrap, k.onGenericTrap)
	k.VM.RegisterSyscall(internalCycle, k.onCycleInterrupt)

	k.genericTrapHandler = vm.Word(len(k.VM.Code))
	k.VM.Code = append(k.VM.Code, vm.Word(vm.OpENT), 0, vm.Word(internalTrap), vm.Word(vm.OpLEV))

	k.cycleHandlerAddr = vm.Word(len(k.VM.Code))
	k.VM.Code = append(k.VM.Code, vm.Word(vm.OpENT), 0, vm.Word(internalCycle), vm.Word(vm.OpLEV))
}

// reserveCustomOp hands out the next custom syscall opcode and remembers
// its name for REQUEST_SYMBOL lookups.
func (k *Kernel) reserveCustomOp(name string) vm.Op {
	op := k.nextCustomOp
	k.nextCustomOp++
	k.symbolTable[name] = op
	return op
}

// enterCritical disables preemption; syscall handlers that touch the task
// table or switch tasks, trap handlers, and housekeeping bracket their
// bodies with enterCritical/exitCritical. Calls nest.
func (k *Kernel) enterCritical() {
	if k.criticalDepth == 0 {
		k.savedInterval = k.VM.Interval
		k.VM.Interval = 0
	}
	k.criticalDepth++
}

func (k *Kernel) exitCritical() {
	k.criticalDepth--
	if k.criticalDepth <= 0 {
		k.criticalDepth = 0
		k.VM.Interval = k.savedInterval
	}
}

// currentTask returns the task record whose registers are presently live
// in k.VM.Reg.
func (k *Kernel) currentTask() *Task {
	return &k.Tasks[k.Current]
}

// Run drives the VM in bursts of budget cycles, forever. It never
// returns: the loop ends only when the VM halts, and then Run exits the
// process with status 2.
func (k *Kernel) Run(budget int) {
	for {
		if k.VM.Halted() {
			k.Log.Printf("kernel halted: %v", k.VM.LastError())
			os.Exit(2)
		}
		k.VM.Run(budget)
		k.housekeep()
	}
}

// Wait drives the kernel forward in bursts of budget cycles until the
// task identified by pid goes ZOMBIE, then frees its module and resets
// its slot, returning its exit code. This is cmd/c4ke's main loop: the
// process exit status is the init task's exit code, so the CLI waits on
// it specifically rather than calling Run, which never returns. The
// ZOMBIE check runs before housekeep's periodic sweep each burst so the
// exit code is read before reapZombies would otherwise clear it.
func (k *Kernel) Wait(pid int, budget int) vm.Word {
	for {
		if k.VM.Halted() {
			k.Log.Printf("kernel halted: %v", k.VM.LastError())
			os.Exit(2)
		}
		k.VM.Run(budget)

		k.enterCritical()
		idx := k.findPID(pid)
		if idx < 0 {
			k.exitCritical()
			return 0
		}
		t := &k.Tasks[idx]
		if t.State == Zombie {
			code := t.ExitCode
			if t.Module != nil {
				t.Module.Free()
			}
			t.reset(idx)
			k.exitCritical()
			return code
		}
		k.exitCritical()

		k.housekeep()
	}
}

// housekeep runs the periodic work the idle/reaper task would otherwise
// loop on: promoting deadline-expired waiters back to runnable every
// burst, and sweeping ZOMBIE slots back to UNLOADED roughly once a
// second.
func (k *Kernel) housekeep() {
	k.enterCritical()
	defer k.exitCritical()

	now := k.NowMS()
	k.wakeTimedOut(now)

	if now-k.lastReapMS >= k.reapEveryMS {
		k.lastReapMS = now
		k.reapZombies()
	}
}

// StartTask allocates a stack, argv, and signal table for module/argv,
// seeds the task's saved registers so the entry function runs next, and
// marks the slot LOADED|RUNNING.
func (k *Kernel) StartTask(name string, mod *loader.Module, argv []string, priv Privilege) (*Task, error) {
	slot := k.findFree()
	if slot < 0 {
		k.startErrno = int(ErrNoFreeSlotCode)
		return nil, ErrNoFreeSlot
	}
	t := &k.Tasks[slot]

	entry, err := mod.Link(k.VM)
	if err != nil {
		k.startErrno = int(ErrModuleLoadCode)
		return nil, ErrModuleLoad
	}

	stackBase := k.VM.Mem.Grow(int(defaultStackWords) * vm.WordSize)
	stackTop := stackBase + vm.Word(defaultStackWords)*vm.WordSize

	*t = Task{
		ID:        k.nextPID,
		ParentID:  k.currentPIDOrZero(),
		Name:      name,
		Priv:      priv,
		State:     Loaded,
		Module:    mod,
		Argv:      argv,
		StackBase: stackBase,
		StackTop:  stackTop,
	}
	k.nextPID++
	for i := range t.Signals {
		t.Signals[i].Handler = 0
	}

	argc, argvPtr, err := k.packArgv(argv)
	if err != nil {
		k.startErrno = int(ErrArgvAllocCode)
		return nil, ErrArgvAlloc
	}

	sp := stackTop - reservedArgWords*vm.WordSize
	t.Saved = SavedRegisters{
		A:       0,
		BP:      sp,
		SP:      sp,
		PC:      k.entryTrampoline(mod, entry, argc, argvPtr),
		EntryPC: entry,
	}
	t.Acct.NiceBase = 1
	t.Acct.Nice = 1
	t.State = Running
	return t, nil
}

func (k *Kernel) currentPIDOrZero() int {
	if k.Current < 0 || k.Current >= len(k.Tasks) {
		return 0
	}
	return k.Tasks[k.Current].ID
}

// entryTrampoline synthesises the bootstrap sequence for a newly linked
// module directly in the shared code arena: run constructors in order,
// call entry(argc, argv), save its result, run destructors in order,
// then invoke EXIT with the saved result as its argument.
//
// Arguments are pushed right-to-left per the calling convention Arg()
// assumes elsewhere in this package: argv is pushed before argc, so argc
// ends up nearest the top, matching entry(argc, argv)'s declared
// parameter order.
func (k *Kernel) entryTrampoline(mod *loader.Module, entry, argc, argvPtr vm.Word) vm.Word {
	start := vm.Word(len(k.VM.Code))
	var code []vm.Word
	for _, c := range mod.AbsCtors() {
		code = append(code, vm.Word(vm.OpJSR), c)
	}
	code = append(code,
		vm.Word(vm.OpIMM), argvPtr, vm.Word(vm.OpPSH),
		vm.Word(vm.OpIMM), argc, vm.Word(vm.OpPSH),
		vm.Word(vm.OpJSR), entry,
		vm.Word(vm.OpADJ), 2, // pop argc/argv
	)
	code = append(code, vm.Word(vm.OpPSH)) // stack: [..., result]; A still holds it too
	for _, d := range mod.AbsDtors() {
		code = append(code, vm.Word(vm.OpJSR), d)
	}
	code = append(code, vm.Word(vm.OpEXIT))
	k.VM.Code = append(k.VM.Code, code...)
	return start
}

// packArgv copies argv into the shared data arena as a NUL-terminated
// string per element plus a trailing word array of pointers to each,
// mirroring how a compiled C4 program expects argv to be laid out.
func (k *Kernel) packArgv(argv []string) (argc, argvPtr vm.Word, err error) {
	ptrs := make([]vm.Word, len(argv))
	for i, s := range argv {
		buf := append([]byte(s), 0)
		addr := k.VM.Mem.Grow(len(buf))
		if !k.VM.Mem.WriteBytes(addr, buf) {
			return 0, 0, ErrArgvAlloc
		}
		ptrs[i] = addr
	}
	base := k.VM.Mem.Grow(len(ptrs) * vm.WordSize)
	for i, p := range ptrs {
		k.VM.Mem.WriteWord(base+vm.Word(i)*vm.WordSize, p)
	}
	return vm.Word(len(argv)), base, nil
}
