package gomain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunQuit(t *testing.T) {
	ctx := NewContext()
	loop := NewLoop(ctx)

	var fired int
	s := NewTimerSource(5*time.Millisecond, func() bool {
		fired++
		if fired >= 3 {
			loop.Quit()
		}
		return true
	})
	_, err := s.Attach(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- loop.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not quit in time")
	}

	assert.GreaterOrEqual(t, fired, 3)
	assert.False(t, loop.IsRunning())
}

func TestLoopAlreadyRunning(t *testing.T) {
	ctx := NewContext()
	loop := NewLoop(ctx)
	loop.running.Store(true)
	err := loop.Run()
	assert.ErrorIs(t, err, ErrLoopAlreadyRunning)
}
