//go:build linux || darwin || freebsd || netbsd || openbsd

package gomain

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestDescriptorPriorityNoStarvation reproduces spec.md §8 scenario 4: a
// pipe with a HIGH-priority writer and a default-priority reader, both
// ready in the same poll. checkLocked must tighten its priority bound to
// the first ready band it finds (context.go), so at most one of the two
// ever dispatches within a single iteration; run to completion confirms
// neither side starves and the byte counts match exactly.
//
// The transfer size is reduced from the spec's literal 128 MiB to keep
// the test fast; the invariants it checks (single-dispatch-per-iteration,
// no starvation, exact byte-count match) do not depend on the size.
func TestDescriptorPriorityNoStarvation(t *testing.T) {
	const chunk = 4096
	const totalBytes = 2 * 1024 * 1024

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_NONBLOCK))
	readFD, writeFD := fds[0], fds[1]
	defer unix.Close(readFD)
	defer unix.Close(writeFD)

	ctx := NewContext()

	var mu sync.Mutex
	var written, read int
	var dispatchesInIteration int
	var maxDispatchesPerIteration int
	var writerDone, readerDone bool

	writer := NewFDSource(writeFD, EventWritable, func(received EventMask) bool {
		mu.Lock()
		dispatchesInIteration++
		if dispatchesInIteration > maxDispatchesPerIteration {
			maxDispatchesPerIteration = dispatchesInIteration
		}
		mu.Unlock()

		if received&EventWritable == 0 {
			return true
		}
		mu.Lock()
		remaining := totalBytes - written
		mu.Unlock()
		if remaining <= 0 {
			mu.Lock()
			writerDone = true
			mu.Unlock()
			unix.Close(writeFD)
			return false
		}
		n := chunk
		if n > remaining {
			n = remaining
		}
		buf := make([]byte, n)
		wrote, err := unix.Write(writeFD, buf)
		if err != nil && err != unix.EAGAIN {
			t.Errorf("write: %v", err)
			return false
		}
		if wrote > 0 {
			mu.Lock()
			written += wrote
			mu.Unlock()
		}
		return true
	})
	require.NoError(t, writer.SetPriority(PriorityHigh))
	_, err := AttachFD(writer, ctx)
	require.NoError(t, err)

	reader := NewFDSource(readFD, EventReadable, func(received EventMask) bool {
		mu.Lock()
		dispatchesInIteration++
		if dispatchesInIteration > maxDispatchesPerIteration {
			maxDispatchesPerIteration = dispatchesInIteration
		}
		mu.Unlock()

		if received&EventReadable == 0 {
			return true
		}
		buf := make([]byte, chunk)
		n, err := unix.Read(readFD, buf)
		if n > 0 {
			mu.Lock()
			read += n
			mu.Unlock()
		}
		if err != nil || (n == 0 && err == nil) {
			mu.Lock()
			readerDone = true
			mu.Unlock()
			return false
		}
		return true
	})
	_, err = AttachFD(reader, ctx)
	require.NoError(t, err)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		dispatchesInIteration = 0
		done := writerDone && readerDone
		mu.Unlock()
		if done {
			break
		}
		ctx.Iteration(true)
		mu.Lock()
		count := dispatchesInIteration
		mu.Unlock()
		assert.LessOrEqual(t, count, 1, "at most one of writer/reader should dispatch per iteration")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, writerDone, "writer did not finish in time")
	assert.True(t, readerDone, "reader did not finish in time")
	assert.Equal(t, totalBytes, written)
	assert.Equal(t, written, read)
	assert.LessOrEqual(t, maxDispatchesPerIteration, 1)
}
