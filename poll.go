package gomain

// PollFD is one entry of the flattened poll array passed to a PollFunc,
// matching spec.md §6's injectable primitive contract exactly: a
// descriptor, its requested events, and (filled in by the primitive) its
// received events.
type PollFD struct {
	FD        int
	Requested EventMask
	Received  EventMask
}

// PollFunc is the injectable OS-level multiplex primitive (spec.md §1,
// "out of scope: the OS-level multiplex primitive ... treated as an
// injectable function"; spec.md §6 gives its contract). Implementations
// follow the classic poll(2) contract: fill the Received field of each
// entry and return the count of entries with any bit set, or an error.
// A timeoutMs of -1 means block indefinitely; 0 means return immediately.
//
// EINTR (or the local equivalent) must be translated into (0, nil) -
// "no descriptors ready" - never surfaced as an error; see spec.md §7.
type PollFunc func(fds []PollFD, timeoutMs int) (n int, err error)
