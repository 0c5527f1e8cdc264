package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c4ke/c4ke/loader"
	"github.com/c4ke/c4ke/vm"
)

func TestReapZombies_ResetsSlotAndFreesModule(t *testing.T) {
	k := newTestKernel(t)
	code := []vm.Word{vm.Word(vm.OpENT), 0, vm.Word(vm.OpIMM), 5, vm.Word(vm.OpLEV)}
	mod := buildModule(code, 0)
	mod.Symbols = []loader.Symbol{{Name: "x", Value: 0}}

	task, err := k.StartTask("victim", mod, nil, PrivUser)
	require.NoError(t, err)
	slot := k.findPID(task.ID)
	require.GreaterOrEqual(t, slot, 0)

	// Drive it to completion directly through the VM rather than Wait, so
	// reapZombies itself (not Wait's own zombie shortcut) frees the slot.
	k.VM.Run(1000)
	require.Equal(t, Zombie, k.Tasks[slot].State)
	require.NotNil(t, k.Tasks[slot].Module)

	k.reapZombies()

	assert.Equal(t, Unloaded, k.Tasks[slot].State)
	assert.Equal(t, "", k.Tasks[slot].Name)
	assert.Nil(t, k.Tasks[slot].Module)
	assert.Nil(t, mod.Symbols, "Free must drop the symbol table")
}

func TestReapZombies_NeverReapsCurrentTask(t *testing.T) {
	k := newTestKernel(t)
	k.Tasks[3] = Task{ID: 50, State: Zombie}
	k.Current = 3

	k.reapZombies()

	assert.Equal(t, Zombie, k.Tasks[3].State, "the live task must never be reset out from under itself")
}

func TestFreedSlotIsReusedByNextStartTask(t *testing.T) {
	k := newTestKernel(t)
	code := []vm.Word{vm.Word(vm.OpENT), 0, vm.Word(vm.OpIMM), 1, vm.Word(vm.OpLEV)}

	first, err := k.StartTask("first", buildModule(code, 0), nil, PrivUser)
	require.NoError(t, err)
	slot := k.findPID(first.ID)
	require.GreaterOrEqual(t, slot, 0)

	k.Wait(first.ID, 1000)
	assert.Equal(t, Unloaded, k.Tasks[slot].State)

	second, err := k.StartTask("second", buildModule(code, 0), nil, PrivUser)
	require.NoError(t, err)

	assert.Equal(t, slot, k.findPID(second.ID), "a freed slot should be handed back out by findFree")
}

func TestReapZombies_LeavesNonZombieTasksAlone(t *testing.T) {
	k := newTestKernel(t)
	k.Tasks[4] = Task{ID: 9, State: Waiting, WaitTag: WaitPID, WaitArg: 1}

	k.reapZombies()

	assert.Equal(t, Waiting, k.Tasks[4].State)
	assert.Equal(t, 9, k.Tasks[4].ID)
}
