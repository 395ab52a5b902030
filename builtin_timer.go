package gomain

import (
	"hash/fnv"
	"os"
	"sync/atomic"
	"time"
)

// timerPerturbMicros perturbs whole-second-grouped timers by a
// per-process offset derived from GOMAIN_SESSION_ID (or the hostname),
// so that many independent processes on the same host or many sessions
// sharing a container don't all wake on the same wall-clock second
// (SPEC_FULL.md's "whole-second timer grouping" supplement).
var timerPerturbMicros = computeTimerPerturb()

func computeTimerPerturb() int64 {
	seed := os.Getenv("GOMAIN_SESSION_ID")
	if seed == "" {
		seed, _ = os.Hostname()
	}
	if seed == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return int64(h.Sum32() % 1_000_000)
}

// timerSource implements a periodic or one-shot timer entirely on top of
// Source's generic ready-time mechanism (spec.md §4.4 set_ready_time):
// Prepare/Check never declare readiness themselves, they just arrange
// for the source's ready-time to be set correctly, and Dispatch
// reschedules it.
type timerSource struct {
	src *Source

	intervalMicros int64
	oneShot        bool
	wholeSecond    bool
	callback       func() bool

	scheduled atomic.Bool
}

func (t *timerSource) computeNext(now int64) int64 {
	if !t.wholeSecond {
		return now + t.intervalMicros
	}
	intervalSec := t.intervalMicros / 1_000_000
	if intervalSec < 1 {
		intervalSec = 1
	}
	nowSec := now / 1_000_000
	nextSec := (nowSec/intervalSec + 1) * intervalSec
	return nextSec*1_000_000 + timerPerturbMicros
}

func (t *timerSource) now() int64 {
	if ctx := t.src.Context(); ctx != nil {
		return ctx.nowMicros()
	}
	return time.Now().UnixMicro()
}

func (t *timerSource) Prepare(s *Source) (bool, time.Duration) {
	if !t.scheduled.Swap(true) {
		_ = s.SetReadyTime(t.computeNext(t.now()))
	}
	return false, -1
}

func (t *timerSource) Check(*Source) bool { return false }

func (t *timerSource) Dispatch(s *Source, _ CallbackFunc, _ any) bool {
	cont := true
	if t.callback != nil {
		cont = t.callback()
	}
	if t.oneShot || !cont {
		return false
	}
	_ = s.SetReadyTime(t.computeNext(t.now()))
	return true
}

func (t *timerSource) Finalize(*Source) {}

// NewTimerSource builds a recurring timer firing every interval,
// starting interval after attach (spec.md §8 scenario 2). A false return
// from fn stops the timer (it is destroyed, matching every other
// builtin's callback convention).
func NewTimerSource(interval time.Duration, fn func() bool) *Source {
	t := &timerSource{intervalMicros: interval.Microseconds(), callback: fn}
	s := New(t)
	t.src = s
	return s
}

// NewTimerSourceWholeSeconds is NewTimerSource but rounds each firing to
// the next whole multiple of interval (in seconds) on the wall clock,
// perturbed by timerPerturbMicros, instead of firing interval after the
// previous tick. There is no catch-up for missed ticks: a long stall
// skips straight to the next future boundary.
func NewTimerSourceWholeSeconds(interval time.Duration, fn func() bool) *Source {
	t := &timerSource{intervalMicros: interval.Microseconds(), wholeSecond: true, callback: fn}
	s := New(t)
	t.src = s
	return s
}

// NewOneShotTimerSource fires fn exactly once, after delay, then
// destroys itself.
func NewOneShotTimerSource(delay time.Duration, fn func()) *Source {
	t := &timerSource{intervalMicros: delay.Microseconds(), oneShot: true, callback: func() bool {
		fn()
		return false
	}}
	s := New(t)
	t.src = s
	return s
}
