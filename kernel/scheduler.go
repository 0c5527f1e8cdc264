package kernel

import "github.com/c4ke/c4ke/vm"

// findFree returns the first UNLOADED slot, or -1.
func (k *Kernel) findFree() int {
	for i := range k.Tasks {
		if k.Tasks[i].State == Unloaded {
			return i
		}
	}
	return -1
}

// findPID is a linear scan for the task with the given id.
func (k *Kernel) findPID(pid int) int {
	for i := range k.Tasks {
		if k.Tasks[i].State != Unloaded && k.Tasks[i].ID == pid {
			return i
		}
	}
	return -1
}

// wakeTimedOut promotes any deadline-waiting task whose deadline has
// passed back to runnable. now is the host clock in milliseconds. MESSAGE
// waits are woken the same way TIME waits are: calls MESSAGE
// "equivalent to TIME in this core" since delivery is unimplemented.
func (k *Kernel) wakeTimedOut(now int64) {
	for i := range k.Tasks {
		t := &k.Tasks[i]
		if t.State == Waiting && (t.WaitTag == WaitTime || t.WaitTag == WaitMessage) && int64(t.WaitArg) <= now {
			t.WaitTag = WaitNone
			t.WaitArg = 0
		}
	}
}

// findRunnable implements the nice/nice_base fairness scan: skip runnable
// tasks with positive nice (decrementing them as the cost of being
// skipped), pick the first with nice == 0 and reload it. If every
// runnable task has positive nice, run the lowest-nice candidate instead
// (the "backup task") and reload it too.
func (k *Kernel) findRunnable() int {
	n := len(k.Tasks)
	if n == 0 {
		return -1
	}
	backup := -1
	for i := 0; i < n; i++ {
		idx := (k.Cursor + i) % n
		t := &k.Tasks[idx]
		if !t.runnable() {
			continue
		}
		if t.Acct.Nice == 0 {
			k.Cursor = (idx + 1) % n
			t.Acct.Nice = t.Acct.NiceBase
			return idx
		}
		t.Acct.Nice--
		if backup == -1 || t.Acct.Nice < k.Tasks[backup].Acct.Nice {
			backup = idx
		}
	}
	if backup != -1 {
		k.Cursor = (backup + 1) % n
		k.Tasks[backup].Acct.Nice = k.Tasks[backup].Acct.NiceBase
		return backup
	}
	return -1
}

// lowestPendingSignal returns the lowest-numbered signal with a non-zero
// pending count, or -1.
func (k *Kernel) lowestPendingSignal(t *Task) int {
	for i := range t.Signals {
		if t.Signals[i].Pending > 0 {
			return i
		}
	}
	return -1
}

// saveOutgoingRegs copies a (A, BP, SP, PC) tuple into the currently
// running task's record (context switch, step 1). The tuple's
// source differs by caller: a live syscall reads it straight out of
// m.Reg; a trap-driven switch reads it out of the pushed trap frame.
func (k *Kernel) saveOutgoingRegs(a, bp, sp, pc vm.Word) {
	t := k.currentTask()
	t.Saved = SavedRegisters{A: a, BP: bp, SP: sp, PC: pc, EntryPC: t.Saved.EntryPC}
}

// pickAndLoad chooses the next runnable task (step 2), splices in its
// lowest pending signal if any (step 3), marks it Running/Current, and
// returns the (A, BP, SP, PC) tuple the caller should install as live —
// either directly into m.Reg or back into a trap frame (step 4).
func (k *Kernel) pickAndLoad() (a, bp, sp, pc vm.Word, ok bool) {
	for {
		next := k.findRunnable()
		if next < 0 {
			return 0, 0, 0, 0, false
		}
		t := &k.Tasks[next]

		sig, handler := -1, vm.Word(0)
		if t.PendingTotal > 0 {
			if s := k.lowestPendingSignal(t); s >= 0 {
				sig = s
				handler = t.Signals[sig].Handler
				t.Signals[sig].Pending--
				t.PendingTotal--
			}
		}

		if sig >= 0 && handler == 0 {
			if sig == SigTRAP {
				k.Log.Printf("pid %d: SIGTRAP with no handler, continuing", t.ID)
			} else {
				// Unhandled and the task isn't even live yet: apply the
				// same default policy onSignalTrap would have applied had
				// this task been current, then try another task.
				k.terminateBySignal(t, sig)
				continue
			}
		}

		a, bp, sp, pc = t.Saved.A, t.Saved.BP, t.Saved.SP, t.Saved.PC
		if sig >= 0 && handler != 0 {
			if nsp, nbp, npc, synthOK := k.VM.SynthesizeTrap(sp, bp, pc, a, vm.TrapSignal, vm.Word(sig), handler); synthOK {
				sp, bp, pc = nsp, nbp, npc
			}
		}

		k.Current = next
		t.State = Running
		return a, bp, sp, pc, true
	}
}

// contextSwitchFrame performs a context switch triggered from inside a
// trap handler (cycle interrupt, fault, forwarded signal): the outgoing
// task's registers live in the pushed trap frame at bp, and the incoming
// task's registers are written back into that same frame so TLEV's
// eventual restore resumes the new task instead of the old one.
func (k *Kernel) contextSwitchFrame(bp vm.Word) bool {
	mem := k.VM.Mem
	a, _ := mem.ReadWord(bp + vm.FrameA*vm.WordSize)
	origBP, _ := mem.ReadWord(bp + vm.FrameBP*vm.WordSize)
	sp, _ := mem.ReadWord(bp + vm.FrameSP*vm.WordSize)
	pc, _ := mem.ReadWord(bp + vm.FramePC*vm.WordSize)
	k.saveOutgoingRegs(a, origBP, sp, pc)

	na, nbp, nsp, npc, ok := k.pickAndLoad()
	if !ok {
		return false
	}
	mem.WriteWord(bp+vm.FrameA*vm.WordSize, na)
	mem.WriteWord(bp+vm.FrameBP*vm.WordSize, nbp)
	mem.WriteWord(bp+vm.FrameSP*vm.WordSize, nsp)
	mem.WriteWord(bp+vm.FramePC*vm.WordSize, npc)
	return true
}

// contextSwitchLive performs a context switch triggered from a plain
// syscall (SCHEDULE, SLEEP, AWAIT_PID, EXIT): there is no trap frame —
// the syscall handler runs with the task's own registers already live in
// m.Reg — so the switch reads and writes m.Reg directly.
func (k *Kernel) contextSwitchLive(m *vm.VM) bool {
	k.saveOutgoingRegs(m.Reg.A, m.Reg.BP, m.Reg.SP, m.Reg.PC)
	a, bp, sp, pc, ok := k.pickAndLoad()
	if !ok {
		return false
	}
	m.Reg.A, m.Reg.BP, m.Reg.SP, m.Reg.PC = a, bp, sp, pc
	return true
}
