//go:build windows

package gomain

import (
	"errors"
	"time"
)

// ErrPollUnsupported is returned by DefaultPollFunc on platforms with no
// poll(2)-compatible primitive wired in (Windows): descriptor polling is
// not implemented there, and only contexts without descriptor watches
// can be iterated.
var ErrPollUnsupported = errors.New("gomain: descriptor polling is not implemented on this platform")

// DefaultPollFunc on Windows supports the no-descriptor case (used by
// contexts whose only ready-signal is the wakeup or a ready-time), and
// otherwise reports ErrPollUnsupported so callers fail loudly rather than
// silently never observing I/O readiness.
func DefaultPollFunc(fds []PollFD, timeoutMs int) (int, error) {
	if len(fds) > 0 {
		return 0, ErrPollUnsupported
	}
	if timeoutMs < 0 {
		select {}
	}
	time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
	return 0, nil
}
