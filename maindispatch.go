package gomain

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// dispatchState tracks the current iteration recursion depth and
// currently-dispatched source for one goroutine, so a Prepare/Check hook
// that calls back into its own context's iteration primitives can be
// rejected with ErrRecursiveIteration (spec.md §4.5 "Reentrancy"),
// and which source this goroutine is currently dispatching.
//
// Grounded on the teacher's goroutine-id-keyed map pattern (used there to
// track FastState ownership per goroutine via a parsed runtime.Stack id);
// reused here for the narrower purpose of iteration recursion detection.
type dispatchState struct {
	depth  int
	source *Source
}

var dispatchStates sync.Map // goroutineID uint64 -> *dispatchState

func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	// "goroutine 123 [running]:" is always the first line.
	const prefix = "goroutine "
	if !bytes.HasPrefix(buf, []byte(prefix)) {
		return 0
	}
	buf = buf[len(prefix):]
	i := bytes.IndexByte(buf, ' ')
	if i < 0 {
		return 0
	}
	id, _ := strconv.ParseUint(string(buf[:i]), 10, 64)
	return id
}

func currentDispatchState() *dispatchState {
	gid := goroutineID()
	v, _ := dispatchStates.LoadOrStore(gid, &dispatchState{})
	return v.(*dispatchState)
}

// enterIteration increments this goroutine's iteration depth, returning
// false (without incrementing) if already inside one - the caller should
// treat that as ErrRecursiveIteration.
func enterIteration() bool {
	st := currentDispatchState()
	if st.depth > 0 {
		return false
	}
	st.depth++
	return true
}

func exitIteration() {
	st := currentDispatchState()
	if st.depth > 0 {
		st.depth--
	}
}

func setCurrentDispatchSource(s *Source) *Source {
	st := currentDispatchState()
	prev := st.source
	st.source = s
	return prev
}
