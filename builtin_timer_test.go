package gomain

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTimerGroupScenario reproduces spec.md's three-interval-timer plus
// quit-timer scenario: timers at 100ms/250ms/330ms counted independently
// over a 1050ms window, bounded by a one-shot quit timer.
func TestTimerGroupScenario(t *testing.T) {
	ctx := NewContext()
	loop := NewLoop(ctx)

	var c100, c250, c330 atomic.Int64
	mkCounter := func(c *atomic.Int64) func() bool {
		return func() bool { c.Add(1); return true }
	}

	t100 := NewTimerSource(100*time.Millisecond, mkCounter(&c100))
	t250 := NewTimerSource(250*time.Millisecond, mkCounter(&c250))
	t330 := NewTimerSource(330*time.Millisecond, mkCounter(&c330))
	quit := NewOneShotTimerSource(1050*time.Millisecond, func() { loop.Quit() })

	for _, s := range []*Source{t100, t250, t330, quit} {
		_, err := s.Attach(ctx)
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() { done <- loop.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not quit in time")
	}

	assert.InDelta(t, 10, c100.Load(), 2)
	assert.InDelta(t, 4, c250.Load(), 1)
	assert.InDelta(t, 3, c330.Load(), 1)
}

func TestOneShotTimerFiresOnce(t *testing.T) {
	ctx := NewContext()
	var mu sync.Mutex
	var fired int
	s := NewOneShotTimerSource(5*time.Millisecond, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	_, err := s.Attach(ctx)
	require.NoError(t, err)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		ctx.Iteration(true)
		mu.Lock()
		f := fired
		mu.Unlock()
		if f > 0 {
			break
		}
	}

	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 3; i++ {
		ctx.Iteration(false)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fired)
}
