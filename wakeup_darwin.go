//go:build darwin || freebsd || netbsd || openbsd

package gomain

import (
	"golang.org/x/sys/unix"
)

// pipeWakeup is the self-pipe Wakeup implementation for BSD-family
// platforms, adapted from the teacher's createWakeFd/wakeup_darwin.go.
type pipeWakeup struct {
	readFD, writeFD int
}

func newPlatformWakeup() (Wakeup, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		_ = unix.SetNonblock(fd, true)
	}
	return &pipeWakeup{readFD: fds[0], writeFD: fds[1]}, nil
}

func (w *pipeWakeup) Signal() {
	var b [1]byte
	_, _ = unix.Write(w.writeFD, b[:])
}

func (w *pipeWakeup) Acknowledge() {
	var buf [64]byte
	for {
		_, err := unix.Read(w.readFD, buf[:])
		if err != nil {
			return
		}
	}
}

func (w *pipeWakeup) FD() int { return w.readFD }

func (w *pipeWakeup) Close() error {
	_ = unix.Close(w.writeFD)
	return unix.Close(w.readFD)
}
