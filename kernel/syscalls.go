package kernel

import (
	"os"

	"github.com/c4ke/c4ke/loader"
	"github.com/c4ke/c4ke/vm"
)

const idleStackWords = 256

// installCustomSyscalls registers the stable syscall set of at
// sequentially-allocated custom opcodes and records each under its name
// for REQUEST_SYMBOL.
func (k *Kernel) installCustomSyscalls() {
	reg := func(name string, fn vm.SyscallFunc) {
		k.VM.RegisterSyscall(k.reserveCustomOp(name), fn)
	}

	reg("SCHEDULE", k.sysSchedule)
	reg("SLEEP", k.sysSleep)
	reg("AWAIT_PID", k.sysAwaitPID)
	reg("AWAIT_MESSAGE", k.sysAwaitMessage)
	reg("PID", k.sysPID)
	reg("PARENT", k.sysParent)
	reg("SIGNAL", k.sysSignal)
	reg("KILL", k.sysKill)
	reg("START_C4R", k.sysStartC4R)
	reg("TASK_FOCUS", k.sysTaskFocus)
	reg("TASKS_EXPORT", k.sysTasksExport)
	reg("TASKS_UPDATE", k.sysTasksUpdate)
	reg("TASKS_FREE", k.sysTasksFree)
	reg("REQUEST_EXCLUSIVE", k.sysRequestExclusive)
	reg("RELEASE_EXCLUSIVE", k.sysReleaseExclusive)
	reg("REQUEST_SYMBOL", k.sysRequestSymbol)
}

// bootIdleTask installs the lowest-priority always-runnable task that
// backs the scheduler's fallback path. It occupies slot 0 and is never
// produced by findFree since its state is never UNLOADED.
func (k *Kernel) bootIdleTask() {
	scheduleOp := k.symbolTable["SCHEDULE"]
	loopAddr := vm.Word(len(k.VM.Code))
	k.VM.Code = append(k.VM.Code, vm.Word(scheduleOp), vm.Word(vm.OpJMP), loopAddr)

	stackBase := k.VM.Mem.Grow(idleStackWords * vm.WordSize)
	stackTop := stackBase + idleStackWords*vm.WordSize

	t := &k.Tasks[0]
	*t = Task{ID: 0, ParentID: 0, Name: "idle", Priv: PrivKernel, State: Running}
	t.Saved = SavedRegisters{PC: loopAddr, BP: stackTop, SP: stackTop, EntryPC: loopAddr}
	t.Acct.NiceBase = 1000
	t.Acct.Nice = 1000

	k.IdleTaskID = 0
	k.Current = 0
	k.VM.Reg.A, k.VM.Reg.BP, k.VM.Reg.SP, k.VM.Reg.PC = 0, stackTop, stackTop, loopAddr
}

// reapZombies releases a ZOMBIE task's owned resources and returns its
// slot to UNLOADED (Lifecycle; property 5). Called periodically
// from the Run loop in place of a dedicated bytecode reaper task.
func (k *Kernel) reapZombies() {
	for i := range k.Tasks {
		t := &k.Tasks[i]
		if t.State != Zombie || i == k.Current {
			continue
		}
		if t.Module != nil {
			t.Module.Free()
		}
		id := t.ID
		t.reset(i)
		k.Log.Printf("reaped pid %d, slot %d free", id, i)
	}
}

func (k *Kernel) sysSchedule(m *vm.VM) {
	k.enterCritical()
	defer k.exitCritical()
	m.Reg.A = 1
	if !k.contextSwitchLive(m) {
		m.Reg.A = 0
	}
}

func (k *Kernel) sysSleep(m *vm.VM) {
	ms := m.Arg(0)
	k.enterCritical()
	defer k.exitCritical()

	m.Reg.A = 0
	t := k.currentTask()
	t.State = Waiting
	t.WaitTag = WaitTime
	t.WaitArg = vm.Word(k.NowMS() + int64(ms))
	if !k.contextSwitchLive(m) {
		t.State = Running
		t.WaitTag = WaitNone
	}
}

func (k *Kernel) sysAwaitPID(m *vm.VM) {
	pid := int(m.Arg(0))
	k.enterCritical()
	defer k.exitCritical()

	if idx := k.findPID(pid); idx < 0 {
		m.Reg.A = vm.Word(-1)
		return
	} else if k.Tasks[idx].State == Zombie {
		m.Reg.A = k.Tasks[idx].ExitCode
		return
	}

	t := k.currentTask()
	t.State = Waiting
	t.WaitTag = WaitPID
	t.WaitArg = vm.Word(pid)
	if !k.contextSwitchLive(m) {
		t.State = Running
		t.WaitTag = WaitNone
		m.Reg.A = vm.Word(-1)
	}
}

func (k *Kernel) sysAwaitMessage(m *vm.VM) {
	timeout := m.Arg(0)
	k.enterCritical()
	defer k.exitCritical()

	m.Reg.A = 0
	t := k.currentTask()
	t.State = Waiting
	t.WaitTag = WaitMessage
	t.WaitArg = vm.Word(k.NowMS() + int64(timeout))
	if !k.contextSwitchLive(m) {
		t.State = Running
		t.WaitTag = WaitNone
	}
}

func (k *Kernel) sysPID(m *vm.VM) {
	m.Reg.A = vm.Word(k.currentTask().ID)
}

func (k *Kernel) sysParent(m *vm.VM) {
	m.Reg.A = vm.Word(k.currentTask().ParentID)
}

func (k *Kernel) sysSignal(m *vm.VM) {
	sig := int(m.Arg(0))
	handler := m.Arg(1)
	if sig < 0 || sig >= numSignals {
		m.Reg.A = 0
		return
	}
	k.enterCritical()
	defer k.exitCritical()
	t := k.currentTask()
	prev := t.Signals[sig].Handler
	t.Signals[sig].Handler = handler
	m.Reg.A = prev
}

func (k *Kernel) sysKill(m *vm.VM) {
	pid := int(m.Arg(0))
	sig := int(m.Arg(1))
	k.enterCritical()
	defer k.exitCritical()

	idx := k.findPID(pid)
	if idx < 0 || sig < 0 || sig >= numSignals {
		m.Reg.A = vm.Word(-1)
		return
	}
	k.internalSignal(&k.Tasks[idx], sig)
	m.Reg.A = 0
}

// sysStartC4R loads a module from the host filesystem and starts it as a
// new task. The VM's own Non-goals exclude a guest-visible filesystem;
// this is the kernel's own bootstrap path for spawning additional
// modules, analogous to how the init module itself is loaded from the
// CLI's positional argument.
func (k *Kernel) sysStartC4R(m *vm.VM) {
	argc := m.Arg(0)
	argvPtr := m.Arg(1)
	namePtr := m.Arg(2)

	k.enterCritical()
	defer k.exitCritical()

	path := readCString(m.Mem, namePtr)
	f, err := os.Open(path)
	if err != nil {
		m.Reg.A = 0
		return
	}
	defer f.Close()

	mod, err := loader.Parse(f)
	if err != nil {
		m.Reg.A = 0
		return
	}

	argv := readArgv(m.Mem, argvPtr, int(argc))
	child, err := k.StartTask(path, mod, argv, PrivUser)
	if err != nil {
		m.Reg.A = 0
		return
	}
	m.Reg.A = vm.Word(child.ID)
}

func (k *Kernel) sysTaskFocus(m *vm.VM) {
	k.FocusPID = int(m.Arg(0))
	m.Reg.A = 0
}

// taskInfoWords is the fixed record TASKS_EXPORT/UPDATE write per task:
// id, parent, state, cycles, nice, nice_base.
const taskInfoWords = 6

func (k *Kernel) sysTasksExport(m *vm.VM) {
	k.enterCritical()
	defer k.exitCritical()
	ptr := k.Alloc.Alloc(vm.Word(len(k.Tasks) * taskInfoWords * vm.WordSize))
	k.writeTaskSnapshot(ptr)
	m.Reg.A = ptr
}

func (k *Kernel) sysTasksUpdate(m *vm.VM) {
	ptr := m.Arg(0)
	k.enterCritical()
	defer k.exitCritical()
	k.writeTaskSnapshot(ptr)
	m.Reg.A = ptr
}

func (k *Kernel) sysTasksFree(m *vm.VM) {
	ptr := m.Arg(0)
	k.enterCritical()
	defer k.exitCritical()
	k.Alloc.Free(ptr)
	m.Reg.A = 0
}

func (k *Kernel) writeTaskSnapshot(ptr vm.Word) {
	for i, t := range k.Tasks {
		base := ptr + vm.Word(i*taskInfoWords)*vm.WordSize
		k.VM.Mem.WriteWord(base+0*vm.WordSize, vm.Word(t.ID))
		k.VM.Mem.WriteWord(base+1*vm.WordSize, vm.Word(t.ParentID))
		k.VM.Mem.WriteWord(base+2*vm.WordSize, vm.Word(t.State))
		k.VM.Mem.WriteWord(base+3*vm.WordSize, vm.Word(t.Acct.Cycles))
		k.VM.Mem.WriteWord(base+4*vm.WordSize, vm.Word(t.Acct.Nice))
		k.VM.Mem.WriteWord(base+5*vm.WordSize, vm.Word(t.Acct.NiceBase))
	}
}

func (k *Kernel) sysRequestExclusive(m *vm.VM) {
	k.enterCritical()
	m.Reg.A = 0
}

func (k *Kernel) sysReleaseExclusive(m *vm.VM) {
	k.exitCritical()
	m.Reg.A = 0
}

func (k *Kernel) sysRequestSymbol(m *vm.VM) {
	name := readCString(m.Mem, m.Arg(0))
	op, ok := k.symbolTable[name]
	if !ok {
		m.Reg.A = vm.Word(-1)
		return
	}
	m.Reg.A = vm.Word(op)
}

func readCString(mem *vm.Memory, addr vm.Word) string {
	var b []byte
	for {
		c, ok := mem.ReadByte(addr)
		if !ok || c == 0 {
			break
		}
		b = append(b, byte(c))
		addr += 1
	}
	return string(b)
}

func readArgv(mem *vm.Memory, argvPtr vm.Word, argc int) []string {
	out := make([]string, argc)
	for i := 0; i < argc; i++ {
		p, _ := mem.ReadWord(argvPtr + vm.Word(i)*vm.WordSize)
		out[i] = readCString(mem, p)
	}
	return out
}
