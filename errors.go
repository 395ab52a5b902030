package gomain

import (
	"errors"
	"fmt"
)

// Standard errors. These mirror the teacher's errors.go convention of
// sentinel values rather than a central error code enum.
var (
	// ErrContextOwned names the condition of another goroutine already
	// owning the context. No operation in this package returns it:
	// TryAcquire reports that condition by returning false.
	ErrContextOwned = errors.New("gomain: context is owned by another goroutine")

	// ErrSourceNotAttached is returned by operations that require an
	// attached source (e.g. AddDescriptorWatch on a detached source).
	ErrSourceNotAttached = errors.New("gomain: source is not attached")

	// ErrSourceAlreadyAttached is returned by Attach on a source that is
	// already attached to a context.
	ErrSourceAlreadyAttached = errors.New("gomain: source is already attached")

	// ErrForeignContext is returned when a source is operated on through a
	// context it is not attached to, and by AttachFD for a source that
	// was not built by NewFDSource.
	ErrForeignContext = errors.New("gomain: source belongs to a different context")

	// ErrChildPriority is returned by SetPriority on a child source; a
	// child's priority always equals its parent's.
	ErrChildPriority = errors.New("gomain: cannot set priority on a child source")

	// ErrRecursiveIteration is reported through the context's Logger (as
	// LogEntry.Err) when Pending or Iteration is called reentrantly from
	// within a source's Prepare or Check; the call itself returns false.
	ErrRecursiveIteration = errors.New("gomain: recursive call into context iteration")

	// ErrLoopAlreadyRunning is returned by Run on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("gomain: loop is already running")

	// ErrLoopTerminated names the condition of a loop that has quit. No
	// operation in this package returns it: a Loop that has quit may be
	// Run again.
	ErrLoopTerminated = errors.New("gomain: loop has been terminated")

	// ErrInvalidReadyTime is returned by SetReadyTime for a value that is
	// neither a valid deadline nor one of the sentinels.
	ErrInvalidReadyTime = errors.New("gomain: ready time must be >= -1")

	// ErrWatchNotOwned is returned when a descriptor-watch handle is used
	// against a source that does not own it.
	ErrWatchNotOwned = errors.New("gomain: descriptor watch not owned by source")
)

// PanicError wraps a value recovered from a panicking source callback,
// vtable hook, or invoked function, so the panic doesn't bring down the
// owning goroutine. Grounded on the teacher's PanicError/Unwrap pattern,
// reused here for the dispatch/invoke callback boundary.
type PanicError struct {
	// Value is the recovered panic value.
	Value any
	// Source names the source (if any) whose callback panicked.
	Source string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("gomain: panic in source %q: %v", e.Source, e.Value)
	}
	return fmt.Sprintf("gomain: recovered panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error,
// enabling errors.Is/errors.As through the recovered cause.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
