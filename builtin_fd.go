package gomain

import "time"

// fdSource is a thin wrapper exposing a single descriptor watch with a
// user dispatch callback (spec.md §3 "descriptor-watch"). Unlike the
// other builtins, it cannot register its watch until it knows its
// context, so construction and attachment happen together via
// NewFDSource/AttachFD rather than the generic Source.Attach.
type fdSource struct {
	src      *Source
	fd       int
	events   EventMask
	watch    *descriptorWatch
	callback func(received EventMask) bool
}

func (f *fdSource) Prepare(*Source) (bool, time.Duration) { return false, -1 }

func (f *fdSource) Check(*Source) bool {
	if f.watch == nil {
		return false
	}
	return f.watch.received&(f.events|unsolicitedMask) != 0
}

func (f *fdSource) Dispatch(s *Source, _ CallbackFunc, _ any) bool {
	var received EventMask
	if f.watch != nil {
		received = f.watch.received
	}
	if f.callback != nil {
		return f.callback(received)
	}
	return true
}

func (f *fdSource) Finalize(*Source) {}

// NewFDSource constructs (but does not attach) a descriptor-watch
// source. Use AttachFD, not Attach, to bring it onto a context.
func NewFDSource(fd int, events EventMask, fn func(received EventMask) bool) *Source {
	f := &fdSource{fd: fd, events: events, callback: fn}
	s := New(f)
	f.src = s
	return s
}

// AttachFD attaches an FD source to ctx and registers its descriptor
// watch in one step. s must have been built by NewFDSource.
func AttachFD(s *Source, ctx *Context) (uint64, error) {
	f, ok := s.vtable.(*fdSource)
	if !ok {
		return 0, ErrForeignContext
	}
	id, err := s.Attach(ctx)
	if err != nil {
		return 0, err
	}
	w, err := s.AddDescriptorWatch(f.fd, f.events)
	if err != nil {
		s.Destroy()
		return 0, err
	}
	f.watch = w
	return id, nil
}
