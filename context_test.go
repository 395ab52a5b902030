package gomain

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPriorityOrdering reproduces the two-idle-sources scenario: a
// priority-1 idle source and a priority-0 (more urgent) idle source both
// attached; a single iteration must dispatch the priority-0 source
// before the priority-1 source ever gets a chance in the same pass,
// because prepareLocked tightens maxPriorityThisIteration to the first
// band containing a ready source.
func TestPriorityOrdering(t *testing.T) {
	ctx := NewContext()
	var mu sync.Mutex
	var order []string

	high := New(idleSource{callback: func() bool {
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
		return false
	}})
	_ = high.SetPriority(0)

	low := New(idleSource{callback: func() bool {
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
		return false
	}})
	_ = low.SetPriority(1)

	_, err := high.Attach(ctx)
	require.NoError(t, err)
	_, err = low.Attach(ctx)
	require.NoError(t, err)

	ctx.Iteration(false)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 1)
	assert.Equal(t, "high", order[0])
}

func TestContextInvokeCrossGoroutine(t *testing.T) {
	ctx := NewContext()
	ctx.Acquire()

	done := make(chan struct{})
	var ran bool
	go func() {
		ctx.Invoke(func() { ran = true })
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran, "invoke should not run until the owner drains its queue")

	ctx.drainInvokeQueue()
	<-done
	assert.True(t, ran)
	ctx.Release()
}

func TestContextFindSourceAfterDetach(t *testing.T) {
	ctx := NewContext()
	s := New(idleSource{callback: func() bool { return true }})
	id, err := s.Attach(ctx)
	require.NoError(t, err)
	assert.Same(t, s, ctx.FindSource(id))

	s.Destroy()
	assert.Nil(t, ctx.FindSource(id))
}
