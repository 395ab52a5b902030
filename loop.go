package gomain

import "sync/atomic"

// Loop is a thin driver over a Context: Run repeatedly acquires the
// context and iterates with mayBlock=true until told to quit (spec.md §3
// "Loop", §4.6).
type Loop struct {
	ctx     *Context
	running atomic.Bool
	refCount atomic.Int32
}

// NewLoop constructs a loop over ctx. If initialRunning is true, Run
// treats the loop as already logically running (spec.md §4.6 new:
// is_running).
func NewLoop(ctx *Context, initialRunning ...bool) *Loop {
	l := &Loop{ctx: ctx.Ref()}
	l.refCount.Store(1)
	if len(initialRunning) > 0 && initialRunning[0] {
		l.running.Store(true)
	}
	return l
}

// Ref increments the loop's reference count and returns l.
func (l *Loop) Ref() *Loop {
	l.refCount.Add(1)
	return l
}

// Unref decrements the loop's reference count, releasing its context
// reference on reaching zero.
func (l *Loop) Unref() {
	if l.refCount.Add(-1) != 0 {
		return
	}
	l.ctx.Unref()
}

// GetContext returns the context this loop drives.
func (l *Loop) GetContext() *Context { return l.ctx }

// IsRunning reports whether the loop is currently (or about to be)
// iterating inside Run.
func (l *Loop) IsRunning() bool { return l.running.Load() }

// Run acquires the context and iterates, blocking, until Quit is called.
// A different Loop over the same context may be Run from a dispatch
// callback on the owning goroutine (acquisition recurses), but calling
// Run on a loop that is already running, from any goroutine, returns
// ErrLoopAlreadyRunning without blocking.
func (l *Loop) Run() error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopAlreadyRunning
	}

	l.ctx.Acquire()
	defer l.ctx.Release()

	for l.running.Load() {
		l.ctx.Iteration(true)
	}
	return nil
}

// Quit requests that Run return after its current iteration, waking any
// blocked poll immediately.
func (l *Loop) Quit() {
	l.running.Store(false)
	l.ctx.wakeupNow()
	l.ctx.mu.Lock()
	l.ctx.cond.Broadcast()
	l.ctx.mu.Unlock()
}
