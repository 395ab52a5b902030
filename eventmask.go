package gomain

// EventMask is the vocabulary of pollable events (spec.md §6). It mirrors
// the teacher's IOEvents bitmask (poller_linux.go/poller_darwin.go), but
// adds Priority/Invalid to match poll(2)'s full event set rather than the
// epoll-oriented read/write/error/hangup subset the teacher exposes.
type EventMask uint32

const (
	// EventReadable indicates the descriptor is ready for reading.
	EventReadable EventMask = 1 << iota
	// EventWritable indicates the descriptor is ready for writing.
	EventWritable
	// EventPriority indicates urgent/out-of-band data is available.
	EventPriority
	// EventError indicates an error condition (unsolicited, never requested).
	EventError
	// EventHangup indicates the peer hung up (unsolicited, never requested).
	EventHangup
	// EventInvalid indicates the descriptor is invalid (unsolicited, never requested).
	EventInvalid
)

// requestableMask is every bit a caller may legally request; the
// unsolicited bits (error/hangup/invalid) are always implicitly watched.
const requestableMask = EventReadable | EventWritable | EventPriority

const unsolicitedMask = EventError | EventHangup | EventInvalid

// descriptorWatch is a single (fd, requested, received) triple, owned
// either by a source's public watch list or its private auxiliary list
// (spec.md §3 "Descriptor watch").
type descriptorWatch struct {
	fd        int
	requested EventMask
	received  EventMask

	source   *Source
	priority int32

	// record links this watch into the context's poll-record set.
	record *pollRecord
}
