package gomain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOwnerlessPollingWakeupOnAttach reproduces spec.md §8 scenario 5: with
// the ownerless-polling flag set, a manual prepare/poll/check/dispatch
// pipeline is driven by hand (rather than through Iteration), and a source
// attached mid-pipeline wakes a subsequent poll promptly instead of making
// it ride out whatever timeout the first prepare computed.
func TestOwnerlessPollingWakeupOnAttach(t *testing.T) {
	ctx := NewContext(WithOwnerlessPolling(true))

	// A long-sleeping timer so the first prepare would otherwise compute a
	// large poll timeout.
	sleepy := NewTimerSource(time.Hour, func() bool { return true })
	_, err := sleepy.Attach(ctx)
	require.NoError(t, err)

	ctx.Acquire()
	ctx.drainInvokeQueue()
	timeoutMs := ctx.prepareLocked()
	assert.Greater(t, timeoutMs, 1000, "first prepare should report a long timeout")
	ctx.pollLocked(0) // the "pop": a non-blocking poll, nothing ready yet
	ctx.Release()

	var fired bool
	idle := New(idleSource{callback: func() bool { fired = true; return false }})

	done := make(chan bool, 1)
	go func() {
		ctx.Acquire()
		defer ctx.Release()
		ctx.drainInvokeQueue()
		ctx.prepareLocked()
		aborted := ctx.pollLocked(2000) // would block up to 2s without the wakeup
		done <- aborted
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = idle.Attach(ctx)
	require.NoError(t, err)

	select {
	case aborted := <-done:
		assert.True(t, aborted, "poll should observe the change-flag set by the concurrent attach")
	case <-time.After(1 * time.Second):
		t.Fatal("poll did not return promptly after attach; wakeup was not signaled")
	}

	assert.False(t, fired, "idle source should not have been dispatched by the manual pipeline")
}
