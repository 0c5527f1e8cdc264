package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// seedRunnable turns slot i into a bare runnable task with the given
// nice/nice_base, bypassing StartTask since these tests only exercise
// findRunnable's bookkeeping, not bytecode execution.
func seedRunnable(k *Kernel, slot, niceBase int) {
	t := &k.Tasks[slot]
	t.ID = slot
	t.State = Running
	t.Acct.NiceBase = niceBase
	t.Acct.Nice = niceBase
}

func TestFindRunnable_FairRoundRobinEqualNice(t *testing.T) {
	k := newTestKernel(t)
	seedRunnable(k, 0, 1)
	seedRunnable(k, 1, 1)
	seedRunnable(k, 2, 1)

	counts := make(map[int]int)
	for i := 0; i < 300; i++ {
		idx := k.findRunnable()
		counts[idx]++
	}

	for slot, c := range counts {
		assert.InDelta(t, 100, c, 15, "slot %d got %d of 300 picks, want roughly a third", slot, c)
	}
}

func TestFindRunnable_LowerNiceBaseWinsMoreOften(t *testing.T) {
	k := newTestKernel(t)
	seedRunnable(k, 0, 1)  // high priority: wins almost every round
	seedRunnable(k, 1, 10) // low priority: wins only once its nice counts down to zero

	counts := make(map[int]int)
	for i := 0; i < 500; i++ {
		idx := k.findRunnable()
		counts[idx]++
	}

	assert.Greater(t, counts[0], counts[1]*3, "nice_base=1 task should dominate scheduling over nice_base=10")
}

func TestFindRunnable_SkipsNonRunnableTasks(t *testing.T) {
	k := newTestKernel(t)
	seedRunnable(k, 0, 1)
	k.Tasks[1].State = Waiting
	k.Tasks[1].WaitTag = WaitTime
	k.Tasks[1].Acct.NiceBase = 1
	k.Tasks[1].Acct.Nice = 1

	for i := 0; i < 20; i++ {
		idx := k.findRunnable()
		assert.Equal(t, 0, idx)
	}
}

func TestFindRunnable_NoneRunnableReturnsNegativeOne(t *testing.T) {
	k := newTestKernel(t)
	// New() boots the always-runnable idle task into slot 0; clear it so
	// every slot is Unloaded.
	k.Tasks[0].reset(0)
	assert.Equal(t, -1, k.findRunnable())
}

func TestFindRunnable_ReloadsNiceAfterPick(t *testing.T) {
	k := newTestKernel(t)
	seedRunnable(k, 0, 3)

	k.findRunnable()
	assert.Equal(t, 3, k.Tasks[0].Acct.Nice, "winning a round should reload nice back to nice_base")
}
