package gomain

// Wakeup is the cross-thread wakeup primitive (spec.md §1, out of scope:
// "an eventfd-like object offering signal, acknowledge, and a pollable
// descriptor"; spec.md §4.2 gives its contract).
//
// Signal must be idempotent, async-signal-safe, and cheap; it must never
// block, and must leave the next Acknowledge/poll observing readiness
// even if nobody is currently waiting (spec.md §4.2).
type Wakeup interface {
	// Signal requests that a blocked (or future) poll return promptly.
	Signal()
	// Acknowledge drains any pending notification.
	Acknowledge()
	// FD returns the pollable descriptor; its sole requested event is
	// EventReadable (spec.md §6, "Wakeup descriptor layout").
	FD() int
	// Close releases the underlying OS resources.
	Close() error
}
