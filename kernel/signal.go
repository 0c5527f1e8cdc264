package kernel

import (
	"os"

	"github.com/c4ke/c4ke/vm"
)

// Signal numbers the kernel assigns default policies to. Numbering
// follows the POSIX values the names evoke, kept well under numSignals.
const (
	SigHUP  = 1
	SigINT  = 2
	SigQUIT = 3
	SigILL  = 4
	SigTRAP = 5
	SigABRT = 6
	SigKILL = 9
	SigTERM = 15
)

// internalSignal bumps the per-signal and aggregate pending counters on
// t and wakes it unconditionally if it was waiting.
func (k *Kernel) internalSignal(t *Task, sig int) {
	if sig < 0 || sig >= numSignals {
		return
	}
	t.Signals[sig].Pending++
	t.PendingTotal++
	if t.State == Waiting {
		t.WaitTag = WaitNone
	}
}

// ForwardHostSignal is called from the goroutine that owns the host's
// os/signal channel. It must not touch the task table directly — it only
// sets the word the VM's own loop polls once per cycle, which re-enters
// kernel code synchronously via onSignalTrap.
func (k *Kernel) ForwardHostSignal(sig int) {
	k.VM.PendingSignal = vm.Word(sig)
	k.VM.SignalParam = 0
}

// terminateBySignal marks t ZOMBIE with the signal's distinguished exit
// code and wakes anything waiting on its pid. It does not change
// scheduling state beyond t itself: applyDefaultSignalPolicy still needs
// to switch away from t since it's the live task, while pickAndLoad's
// lazy path just loops around to pick a different runnable task.
func (k *Kernel) terminateBySignal(t *Task, sig int) {
	t.State = Zombie
	t.ExitCode = -vm.Word(1000 + sig)
	k.Log.Printf("pid %d: signal %d with no handler, terminating (exit=%d)", t.ID, sig, t.ExitCode)
	k.wakePIDWaiters(t.ID, t.ExitCode)
}

// applyDefaultSignalPolicy is used when a pending signal has no
// installed handler: terminate for most signals,
// log-and-continue for TRAP.
func (k *Kernel) applyDefaultSignalPolicy(bp vm.Word, sig int) {
	if sig == SigTRAP {
		k.Log.Printf("pid %d: SIGTRAP with no handler, continuing", k.currentTask().ID)
		return
	}

	t := k.currentTask()
	k.terminateBySignal(t, sig)
	if !k.contextSwitchFrame(bp) {
		k.Log.Printf("no runnable task after signal termination of pid %d", t.ID)
		os.Exit(2)
	}
}
