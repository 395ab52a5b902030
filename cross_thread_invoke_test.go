package gomain

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCrossThreadInvokeDispatchesExactlyOnce reproduces spec.md §8
// scenario 6 literally: context C is owned and iterated by a Loop running
// on goroutine T; Invoke from a separate goroutine U must enqueue f rather
// than run it inline (since U doesn't own C), and T's own iteration must
// dispatch it exactly once.
func TestCrossThreadInvokeDispatchesExactlyOnce(t *testing.T) {
	ctx := NewContext()
	loop := NewLoop(ctx)

	// Keep the loop occupied with a real source so Run doesn't exit before
	// the invoke has a chance to land.
	keepAlive := NewTimerSource(5*time.Millisecond, func() bool { return true })
	_, err := keepAlive.Attach(ctx)
	require.NoError(t, err)

	doneT := make(chan error, 1)
	go func() { doneT <- loop.Run() }() // goroutine T: owns and iterates ctx

	var calls atomic.Int32
	invoked := make(chan struct{})
	go func() { // goroutine U: never acquires ctx
		ctx.Invoke(func() {
			calls.Add(1)
			close(invoked)
		})
	}()

	select {
	case <-invoked:
	case <-time.After(2 * time.Second):
		t.Fatal("invoked function never ran")
	}

	loop.Quit()
	select {
	case err := <-doneT:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not quit in time")
	}

	assert.Equal(t, int32(1), calls.Load())
}

// TestCrossThreadInvokeFullCompletionRunsAfterFn confirms InvokeFull's
// completion callback runs after fn, on whichever goroutine actually
// executed it, whether or not the invoking goroutine already owns C.
func TestCrossThreadInvokeFullCompletionRunsAfterFn(t *testing.T) {
	ctx := NewContext()
	loop := NewLoop(ctx)

	keepAlive := NewTimerSource(5*time.Millisecond, func() bool { return true })
	_, err := keepAlive.Attach(ctx)
	require.NoError(t, err)

	doneT := make(chan error, 1)
	go func() { doneT <- loop.Run() }()

	var fnRan, completeRan atomic.Bool
	done := make(chan struct{})
	go func() {
		ctx.InvokeFull(func() {
			fnRan.Store(true)
		}, func() {
			completeRan.Store(true)
			close(done)
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never ran")
	}

	loop.Quit()
	select {
	case err := <-doneT:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not quit in time")
	}

	assert.True(t, fnRan.Load())
	assert.True(t, completeRan.Load())
}
