package kernel

import (
	"os"

	"github.com/c4ke/c4ke/loader"
	"github.com/c4ke/c4ke/vm"
)

// nearestSymbol finds the code symbol in mod whose absolute address is
// the closest one at-or-below pc, for annotating fault logs with a
// function name instead of a bare address.
func nearestSymbol(mod *loader.Module, pc vm.Word) (name string, offset vm.Word) {
	var bestAddr vm.Word = -1
	for _, s := range mod.Symbols {
		addr := mod.CodeBase + s.Value
		if addr <= pc && addr > bestAddr {
			bestAddr = addr
			name = s.Name
		}
	}
	if bestAddr < 0 {
		return "", 0
	}
	return name, pc - bestAddr
}

// negativeExitFor maps a fault class to the distinguished negative exit
// code runtime faults use.
func negativeExitFor(kind vm.TrapKind) vm.Word {
	return -vm.Word(kind)
}

// onGenericTrap is installed as the VM's TrapHandler continuation. It
// runs with BP already pointing at the synthesised trap frame (trap()
// performed the handler's ENT on the kernel's behalf), so m.Reg.BP is
// exactly the bp every scheduler helper expects.
func (k *Kernel) onGenericTrap(m *vm.VM) {
	if k.inTrap {
		k.Log.Printf("fault while already inside a kernel trap handler, halting")
		os.Exit(2)
	}
	k.inTrap = true
	defer func() { k.inTrap = false }()

	bp := m.Reg.BP
	mem := m.Mem
	typWord, _ := mem.ReadWord(bp + vm.FrameType*vm.WordSize)
	param, _ := mem.ReadWord(bp + vm.FrameParam*vm.WordSize)
	typ := vm.TrapKind(typWord)

	k.enterCritical()
	defer k.exitCritical()

	switch typ {
	case vm.TrapSignal:
		k.onSignalTrap(bp, param)
	case vm.TrapIllOp, vm.TrapSegv, vm.TrapOpv:
		k.onFault(bp, typ, param)
	default:
		k.Log.Printf("unexpected trap kind %s reached generic handler", typ)
	}
}

// onSignalTrap handles a host-forwarded signal. The trap itself
// fires against whatever task happened to be live when the VM noticed
// PendingSignal — it exists only to get the kernel back into its own
// single-threaded loop synchronously, since the host signal arrives on a
// separate goroutine that must never touch the task table directly. The
// signal is actually delivered to focus_task, per the forwarder's
// contract; internal_signal bumps its counters and wakes it if waiting.
// If focus_task happens to be the task that is live right now, its
// handler is spliced into the current frame immediately rather than
// waiting for the next scheduler pass to notice the pending count.
func (k *Kernel) onSignalTrap(bp, param vm.Word) {
	sig := int(param >> 32)
	focusIdx := k.findPID(k.FocusPID)
	if focusIdx < 0 {
		return
	}
	target := &k.Tasks[focusIdx]
	k.internalSignal(target, sig)

	if focusIdx != k.Current || target.PendingTotal == 0 {
		return
	}
	pending := k.lowestPendingSignal(target)
	if pending < 0 {
		return
	}
	handler := target.Signals[pending].Handler
	if handler == 0 {
		k.applyDefaultSignalPolicy(bp, pending)
		return
	}
	target.Signals[pending].Pending--
	target.PendingTotal--

	mem := k.VM.Mem
	a, _ := mem.ReadWord(bp + vm.FrameA*vm.WordSize)
	origBP, _ := mem.ReadWord(bp + vm.FrameBP*vm.WordSize)
	sp, _ := mem.ReadWord(bp + vm.FrameSP*vm.WordSize)
	pc, _ := mem.ReadWord(bp + vm.FramePC*vm.WordSize)
	if nsp, nbp, npc, ok := k.VM.SynthesizeTrap(sp, origBP, pc, a, vm.TrapSignal, vm.Word(pending), handler); ok {
		mem.WriteWord(bp+vm.FrameBP*vm.WordSize, nbp)
		mem.WriteWord(bp+vm.FrameSP*vm.WordSize, nsp)
		mem.WriteWord(bp+vm.FramePC*vm.WordSize, npc)
	}
}

// onFault marks the faulting task ZOMBIE and schedules away from it.
// The kernel itself never aborts.
func (k *Kernel) onFault(bp vm.Word, typ vm.TrapKind, param vm.Word) {
	t := k.currentTask()
	t.State = Zombie
	t.ExitCode = negativeExitFor(typ)
	t.Acct.TrapCount++

	pc, _ := k.VM.Mem.ReadWord(bp + vm.FramePC*vm.WordSize)
	if k.DebugSymbols && t.Module != nil {
		if name, off := nearestSymbol(t.Module, pc); name != "" {
			k.Log.Printf("pid %d: fault %s(param=%d) at %s+%d (pc=%d), exit=%d", t.ID, typ, param, name, off, pc, t.ExitCode)
		} else {
			k.Log.Printf("pid %d: fault %s(param=%d) at pc=%d, exit=%d", t.ID, typ, param, pc, t.ExitCode)
		}
	} else {
		k.Log.Printf("pid %d: fault %s(param=%d) at pc=%d, exit=%d", t.ID, typ, param, pc, t.ExitCode)
	}
	k.wakePIDWaiters(t.ID, t.ExitCode)

	if !k.contextSwitchFrame(bp) {
		k.Log.Printf("no runnable task after fault in pid %d", t.ID)
		os.Exit(2)
	}
}

// onCycleInterrupt is installed as the VM's CycleHandler continuation:
// accounts one preemption against the outgoing task and performs a full
// context switch.
func (k *Kernel) onCycleInterrupt(m *vm.VM) {
	k.enterCritical()
	defer k.exitCritical()

	t := k.currentTask()
	t.Acct.Cycles += uint64(k.TargetInterval)

	if !k.contextSwitchFrame(m.Reg.BP) {
		k.Log.Printf("no runnable task on preemption tick")
	}
}

// wakePIDWaiters implements the PID wait rule: iterate the table, find
// every task waiting on pid, store the exit code and clear the wait.
func (k *Kernel) wakePIDWaiters(pid int, exitCode vm.Word) {
	for i := range k.Tasks {
		t := &k.Tasks[i]
		if t.State == Waiting && t.WaitTag == WaitPID && int(t.WaitArg) == pid {
			t.WaitArg = exitCode
			t.WaitTag = WaitNone
			// The waiter is suspended, not live: its result has to land
			// directly in its saved A, since that is what becomes the
			// live accumulator whenever it is next scheduled in.
			t.Saved.A = exitCode
		}
	}
}
