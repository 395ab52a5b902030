package gomain

import "time"

// idleSource is always ready, at idle priority, so it only runs once
// every other more urgent source is handled (spec.md §3 "idle").
type idleSource struct {
	callback func() bool
	oneShot  bool
}

func (idleSource) Prepare(*Source) (bool, time.Duration) { return true, -1 }

func (idleSource) Check(*Source) bool { return true }

func (i idleSource) Dispatch(s *Source, _ CallbackFunc, _ any) bool {
	cont := true
	if i.callback != nil {
		cont = i.callback()
	}
	return cont && !i.oneShot
}

func (idleSource) Finalize(*Source) {}

// NewIdleSource builds a source that dispatches on every iteration where
// nothing more urgent is ready, at PriorityDefaultIdle. A false return
// from fn destroys it.
func NewIdleSource(fn func() bool) *Source {
	s := New(idleSource{callback: fn})
	_ = s.SetPriority(PriorityDefaultIdle)
	return s
}

// NewOneShotIdleSource runs fn once, on the next idle opportunity, then
// destroys itself.
func NewOneShotIdleSource(fn func()) *Source {
	s := New(idleSource{oneShot: true, callback: func() bool {
		fn()
		return false
	}})
	_ = s.SetPriority(PriorityDefaultIdle)
	return s
}
