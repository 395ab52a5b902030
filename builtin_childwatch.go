package gomain

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// sigChldGen is bumped by a single shared SIGCHLD watcher goroutine every
// time the signal is observed, so every child-watch source's Prepare can
// cheaply notice "something exited, worth a Wait4 attempt" without each
// one registering its own os/signal.Notify channel.
var (
	sigChldOnce sync.Once
	sigChldGen  atomic.Uint64
)

func ensureSigChldWatcher() {
	sigChldOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGCHLD)
		go func() {
			for range ch {
				sigChldGen.Add(1)
			}
		}()
	})
}

// childWatchSource reaps a single child pid via a non-blocking
// WNOHANG Wait4, dispatching its exit status exactly once (spec.md §3
// "child-watch"). It never re-dispatches: Dispatch always returns false.
type childWatchSource struct {
	pid      int
	callback func(pid int, status unix.WaitStatus)

	lastGen uint64
	status  unix.WaitStatus
	ready   bool
}

func (c *childWatchSource) Prepare(*Source) (bool, time.Duration) {
	if c.ready {
		return true, -1
	}
	gen := sigChldGen.Load()
	if gen != c.lastGen {
		return false, 0 // Check will attempt a reap this pass
	}
	// Fall back to a bounded poll in case a SIGCHLD arrived before this
	// watch's pid was registered (races are possible, see spec.md §7).
	return false, 250 * time.Millisecond
}

func (c *childWatchSource) Check(*Source) bool {
	if c.ready {
		return true
	}
	c.lastGen = sigChldGen.Load()
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(c.pid, &ws, unix.WNOHANG, nil)
	if err != nil {
		// ECHILD (already reaped by someone else) or EINTR: keep waiting,
		// the generation counter will prompt another attempt.
		return false
	}
	if wpid != c.pid {
		return false
	}
	c.status = ws
	c.ready = true
	return true
}

func (c *childWatchSource) Dispatch(s *Source, _ CallbackFunc, _ any) bool {
	if c.callback != nil {
		c.callback(c.pid, c.status)
	}
	return false
}

func (c *childWatchSource) Finalize(*Source) {}

// NewChildWatchSource builds a source that reaps pid exactly once and
// reports its wait status, then destroys itself.
func NewChildWatchSource(pid int, fn func(pid int, status unix.WaitStatus)) *Source {
	ensureSigChldWatcher()
	return New(&childWatchSource{pid: pid, callback: fn})
}
