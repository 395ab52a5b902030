//go:build linux || darwin || freebsd || netbsd || openbsd

package gomain

import (
	"golang.org/x/sys/unix"
)

// DefaultPollFunc is the default injectable OS multiplex primitive
// (spec.md §6). It is a direct adapter over unix.Poll, which is itself a
// thin wrapper of the classic poll(2) syscall - a much closer match to
// the spec's described contract than the teacher's own epoll/kqueue
// FastPoller (an edge-triggered, persistent-registration model); that
// alternative is still offered as NewEpollPollFunc on Linux for callers
// who want it.
func DefaultPollFunc(fds []PollFD, timeoutMs int) (int, error) {
	if len(fds) == 0 {
		// poll(2) with an empty set still blocks for timeoutMs; unix.Poll
		// handles a nil/empty slice correctly since it only reads len().
		pfds := make([]unix.PollFd, 0)
		n, err := unix.Poll(pfds, timeoutMs)
		if err == unix.EINTR {
			return 0, nil
		}
		return n, err
	}

	pfds := make([]unix.PollFd, len(fds))
	for i, f := range fds {
		pfds[i] = unix.PollFd{Fd: int32(f.FD), Events: eventMaskToPoll(f.Requested)}
	}

	n, err := unix.Poll(pfds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := range pfds {
		fds[i].Received = pollToEventMask(pfds[i].Revents)
	}
	return n, nil
}

func eventMaskToPoll(m EventMask) int16 {
	var r int16
	if m&EventReadable != 0 {
		r |= unix.POLLIN
	}
	if m&EventWritable != 0 {
		r |= unix.POLLOUT
	}
	if m&EventPriority != 0 {
		r |= unix.POLLPRI
	}
	return r
}

func pollToEventMask(r int16) EventMask {
	var m EventMask
	if r&unix.POLLIN != 0 {
		m |= EventReadable
	}
	if r&unix.POLLOUT != 0 {
		m |= EventWritable
	}
	if r&unix.POLLPRI != 0 {
		m |= EventPriority
	}
	if r&unix.POLLERR != 0 {
		m |= EventError
	}
	if r&unix.POLLHUP != 0 {
		m |= EventHangup
	}
	if r&unix.POLLNVAL != 0 {
		m |= EventInvalid
	}
	return m
}
