package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c4ke/c4ke/vm"
)

func TestAwaitPID_WakesWithExitCode(t *testing.T) {
	k := newTestKernel(t)

	childCode := []vm.Word{
		vm.Word(vm.OpENT), 0,
		vm.Word(vm.OpIMM), 99,
		vm.Word(vm.OpLEV),
	}
	child, err := k.StartTask("child", buildModule(childCode, 0), nil, PrivUser)
	require.NoError(t, err)

	awaitOp := vm.Word(k.symbolTable["AWAIT_PID"])
	parentCode := []vm.Word{
		vm.Word(vm.OpENT), 0,
		vm.Word(vm.OpIMM), vm.Word(child.ID),
		vm.Word(vm.OpPSH),
		awaitOp,
		vm.Word(vm.OpADJ), 1,
		vm.Word(vm.OpLEV),
	}
	parent, err := k.StartTask("parent", buildModule(parentCode, 0), nil, PrivUser)
	require.NoError(t, err)

	result := k.Wait(parent.ID, 2000)
	assert.Equal(t, vm.Word(99), result)
}

func TestAwaitPID_UnknownPIDReturnsNegativeOne(t *testing.T) {
	k := newTestKernel(t)
	awaitOp := vm.Word(k.symbolTable["AWAIT_PID"])

	code := []vm.Word{
		vm.Word(vm.OpENT), 0,
		vm.Word(vm.OpIMM), 999, // no task ever has this pid in a fresh kernel
		vm.Word(vm.OpPSH),
		awaitOp,
		vm.Word(vm.OpADJ), 1,
		vm.Word(vm.OpLEV),
	}
	task, err := k.StartTask("t", buildModule(code, 0), nil, PrivUser)
	require.NoError(t, err)

	result := k.Wait(task.ID, 1000)
	assert.Equal(t, vm.Word(-1), result)
}

func TestWakePIDWaiters_OnlyWakesMatchingWaiter(t *testing.T) {
	k := newTestKernel(t)
	k.Tasks[1] = Task{ID: 5, State: Waiting, WaitTag: WaitPID, WaitArg: 42}
	k.Tasks[2] = Task{ID: 6, State: Waiting, WaitTag: WaitPID, WaitArg: 43}

	k.wakePIDWaiters(42, 7)

	assert.Equal(t, WaitNone, k.Tasks[1].WaitTag)
	assert.Equal(t, vm.Word(7), k.Tasks[1].Saved.A)
	assert.Equal(t, WaitPID, k.Tasks[2].WaitTag, "a waiter on a different pid must not be woken")
}

func TestWakePIDWaiters_WakeOnceDoesNotClobberLaterDelivery(t *testing.T) {
	k := newTestKernel(t)
	k.Tasks[1] = Task{ID: 5, State: Waiting, WaitTag: WaitPID, WaitArg: 42}

	k.wakePIDWaiters(42, 7)
	assert.Equal(t, WaitNone, k.Tasks[1].WaitTag)

	// Once a waiter has actually left WaitPID, a second delivery for the
	// same pid (e.g. a stale retry) must find nothing left to wake.
	k.Tasks[1].State = Running
	k.wakePIDWaiters(42, 99)
	assert.Equal(t, vm.Word(7), k.Tasks[1].Saved.A, "wake-once: a later call must not overwrite the already-delivered result")
}
