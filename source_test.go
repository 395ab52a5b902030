package gomain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceRefCountFinalize(t *testing.T) {
	var fin bool
	vt := &finalizeProbe{fin: &fin}
	s := New(vt)
	s.Ref()
	s.Unref()
	assert.False(t, fin, "should not finalize until last ref drops")
	s.Unref()
	assert.True(t, fin, "should finalize when ref count reaches zero")
}

type finalizeProbe struct {
	fin *bool
}

func (finalizeProbe) Prepare(*Source) (bool, time.Duration) { return false, -1 }
func (finalizeProbe) Check(*Source) bool                    { return false }
func (finalizeProbe) Dispatch(*Source, CallbackFunc, any) bool { return true }
func (p *finalizeProbe) Finalize(*Source)                    { *p.fin = true }

func TestSourceSetPriorityRejectsChild(t *testing.T) {
	parent := New(idleSource{callback: func() bool { return true }})
	child := New(idleSource{callback: func() bool { return true }})
	require.NoError(t, parent.AddChild(child))
	err := child.SetPriority(PriorityHigh)
	assert.ErrorIs(t, err, ErrChildPriority)
}

func TestSourceAttachAssignsID(t *testing.T) {
	ctx := NewContext()
	s := New(idleSource{callback: func() bool { return true }})
	id, err := s.Attach(ctx)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Equal(t, id, s.ID())

	_, err = s.Attach(ctx)
	assert.ErrorIs(t, err, ErrSourceAlreadyAttached)
}

func TestSourceDestroyDetaches(t *testing.T) {
	ctx := NewContext()
	s := New(idleSource{callback: func() bool { return true }})
	id, err := s.Attach(ctx)
	require.NoError(t, err)

	s.Destroy()
	assert.Nil(t, ctx.FindSource(id))
	assert.False(t, s.isActive())
}
