package gomain

import (
	"sync"
	"sync/atomic"
	"time"
)

// Priority constants. Numerically smaller is more urgent (spec.md §3,
// GLOSSARY). These follow the conventional banding used throughout the
// domain this spec distills: high-urgency I/O above the default band,
// idle work below it.
const (
	PriorityHigh        int32 = -100
	PriorityDefault     int32 = 0
	PriorityHighIdle    int32 = 100
	PriorityDefaultIdle int32 = 200
	PriorityLow         int32 = 300
)

// source flag bits (spec.md §4.4 flag table). Stored in a single
// atomic.Uint32, mutated via CAS loops - spec.md §5 requires these be
// "word-atomic (OR/AND/CAS)".
const (
	flagActive uint32 = 1 << iota
	flagReady
	flagBlocked
	flagInCall
	flagCanRecurse
	flagDestroyCalled
)

// CallbackFunc is a source's user callback. Returning false requests
// removal of the source after this dispatch completes (mirroring the
// classic GSourceFunc convention this domain is built around).
type CallbackFunc func(data any) bool

// DestroyFunc is invoked exactly once when a callback triple is replaced
// or the source is destroyed, always outside the context lock.
type DestroyFunc func(data any)

// SourceFuncs is the polymorphic source vtable (spec.md §4.4, §9
// "Polymorphic source protocol"). Concrete builtin sources (timer, idle,
// child-watch, signal-watch, descriptor) and user extensions all
// implement this.
type SourceFuncs interface {
	// Prepare is called before polling; it may declare the source ready
	// and/or request a maximum timeout.
	Prepare(s *Source) (ready bool, timeout time.Duration)
	// Check is called after polling, only for candidate sources; it
	// decides readiness from whatever state Prepare could not know yet
	// (e.g. descriptor watch results, already folded in by the caller).
	Check(s *Source) bool
	// Dispatch invokes the user callback. Returning false requests the
	// source be destroyed after this dispatch.
	Dispatch(s *Source, fn CallbackFunc, data any) bool
	// Finalize runs after the reference count drops to zero and after
	// Dispose (if implemented).
	Finalize(s *Source)
}

// Disposer is an optional SourceFuncs extension (spec.md §4.4
// set_dispose): invoked when the reference count reaches zero, before
// Finalize, with a transient reference held so Dispose may resurrect the
// source (e.g. to atomically clear a weak external reference).
type Disposer interface {
	Dispose(s *Source)
}

type callbackHolder struct {
	fn      CallbackFunc
	data    any
	destroy DestroyFunc
}

// Source is one event source (spec.md §3 "Source"). The zero value is
// not usable; construct with New.
type Source struct {
	id        atomic.Uint64
	priority  atomic.Int32
	readyTime atomic.Int64
	flags     atomic.Uint32
	refCount  atomic.Int32

	vtable SourceFuncs

	mu         sync.Mutex
	callback   *callbackHolder
	watches    []*descriptorWatch // public (user-facing) watches
	auxWatches []*descriptorWatch // private watches, e.g. owned by builtins
	parent     *Source
	children   []*Source
	name       string
	ctx        *Context
}

// New constructs a detached source with the given vtable, ref-count 1,
// default priority, and a ready-time of ReadyNever (spec.md §4.4 "new").
func New(vtable SourceFuncs) *Source {
	s := &Source{vtable: vtable}
	s.priority.Store(PriorityDefault)
	s.readyTime.Store(ReadyNever)
	s.refCount.Store(1)
	s.flags.Store(flagActive)
	return s
}

// --- flag helpers (CAS loops per spec.md §5) ---

func (s *Source) setFlag(bit uint32) {
	for {
		old := s.flags.Load()
		if old&bit != 0 {
			return
		}
		if s.flags.CompareAndSwap(old, old|bit) {
			return
		}
	}
}

func (s *Source) clearFlag(bit uint32) {
	for {
		old := s.flags.Load()
		if old&bit == 0 {
			return
		}
		if s.flags.CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

func (s *Source) hasFlag(bit uint32) bool {
	return s.flags.Load()&bit != 0
}

func (s *Source) isActive() bool    { return s.hasFlag(flagActive) }
func (s *Source) isReady() bool     { return s.hasFlag(flagReady) }
func (s *Source) isBlocked() bool   { return s.hasFlag(flagBlocked) }
func (s *Source) isInCall() bool    { return s.hasFlag(flagInCall) }
func (s *Source) canRecurse() bool  { return s.hasFlag(flagCanRecurse) }
func (s *Source) isDestroyed() bool { return !s.isActive() }

// SetCanRecurse sets whether this source may be dispatched again while
// already inside its own dispatch (spec.md §4.4 flag table, `blocked`).
func (s *Source) SetCanRecurse(v bool) {
	if v {
		s.setFlag(flagCanRecurse)
	} else {
		s.clearFlag(flagCanRecurse)
	}
}

// ID returns the source's id; zero iff detached (spec.md §3 invariants).
func (s *Source) ID() uint64 { return s.id.Load() }

// Priority returns the source's current priority.
func (s *Source) Priority() int32 { return s.priority.Load() }

// ReadyTime returns the source's current ready-time.
func (s *Source) ReadyTime() int64 { return s.readyTime.Load() }

// Name returns the source's human-readable name, if set.
func (s *Source) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName sets a human-readable name, surfaced in log entries only
// (spec.md §3, "optional human name"; SPEC_FULL.md §4).
func (s *Source) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// Context returns the context this source is attached to, or nil.
func (s *Source) Context() *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Ref increments the reference count and returns s, for chaining.
func (s *Source) Ref() *Source {
	s.refCount.Add(1)
	return s
}

// Unref decrements the reference count. On reaching zero, Dispose (if
// implemented) runs with a transient reference held, then Finalize runs
// exactly once (spec.md §3 invariants, §4.4 set_dispose).
func (s *Source) Unref() {
	if s.refCount.Add(-1) != 0 {
		return
	}
	// Transient ref so Dispose may resurrect the source.
	s.refCount.Store(1)
	if d, ok := s.vtable.(Disposer); ok {
		d.Dispose(s)
	}
	if s.refCount.Add(-1) != 0 {
		return
	}
	s.vtable.Finalize(s)
}

// SetPriority changes the source's priority (spec.md §4.4 set_priority).
// Forbidden on child sources; when attached, the source is moved to the
// new priority's list and its descriptor watches re-registered at the
// new priority. Recurses into children (whose priority always mirrors
// the parent's, per spec.md §3 invariants).
func (s *Source) SetPriority(p int32) error {
	s.mu.Lock()
	if s.parent != nil {
		s.mu.Unlock()
		return ErrChildPriority
	}
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		s.priority.Store(p)
		return nil
	}
	return ctx.setSourcePriority(s, p)
}

// SetReadyTime sets the monotonic deadline (or ReadyNow/ReadyNever) after
// which the source becomes ready without Prepare needing to declare it
// so (spec.md §4.4 set_ready_time). No-op when unchanged. When attached,
// signals the context's wakeup so a longer in-progress poll can shorten.
func (s *Source) SetReadyTime(t int64) error {
	if t < ReadyNever {
		return ErrInvalidReadyTime
	}
	if s.readyTime.Swap(t) == t {
		return nil
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx != nil {
		ctx.wakeupNow()
	}
	return nil
}

// SetCallback replaces the callback triple (spec.md §4.4 set_callback).
// The previous destroy hook (if any) runs outside the context lock,
// before SetCallback returns; it is not deferred until a dispatch that is
// in progress with the previous callback completes.
func (s *Source) SetCallback(fn CallbackFunc, data any, destroy DestroyFunc) {
	s.mu.Lock()
	prev := s.callback
	s.callback = &callbackHolder{fn: fn, data: data, destroy: destroy}
	s.mu.Unlock()
	if prev != nil && prev.destroy != nil {
		prev.destroy(prev.data)
	}
}

func (s *Source) snapshotCallback() *callbackHolder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callback
}

// AddChild attaches child as a child source (spec.md §4.4 add_child).
// child must be detached; if s is attached, child is attached immediately
// at s's priority.
func (s *Source) AddChild(child *Source) error {
	child.mu.Lock()
	if child.ctx != nil {
		child.mu.Unlock()
		return ErrSourceAlreadyAttached
	}
	child.parent = s
	child.mu.Unlock()

	s.mu.Lock()
	s.children = append(s.children, child.Ref())
	ctx := s.ctx
	prio := s.priority.Load()
	s.mu.Unlock()

	if ctx != nil {
		return ctx.attachChild(child, prio, s)
	}
	return nil
}

// RemoveChild detaches child from s without destroying it.
func (s *Source) RemoveChild(child *Source) {
	s.mu.Lock()
	for i, c := range s.children {
		if c == child {
			s.children = append(s.children[:i], s.children[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	child.mu.Lock()
	child.parent = nil
	ctx := child.ctx
	child.mu.Unlock()

	if ctx != nil {
		ctx.detachSource(child, false)
	}
	child.Unref()
}

// markReady sets the ready flag and propagates it up the parent chain
// (spec.md §4.5 step 2/5: "Marking a source ready propagates ready up
// the parent chain").
func (s *Source) markReady() {
	for cur := s; cur != nil; {
		if cur.hasFlag(flagReady) {
			return
		}
		cur.setFlag(flagReady)
		cur.mu.Lock()
		parent := cur.parent
		cur.mu.Unlock()
		cur = parent
	}
}

// Attach attaches the source to ctx, returning its id (spec.md §4.4
// attach). Fails with ErrSourceAlreadyAttached if already attached.
func (s *Source) Attach(ctx *Context) (uint64, error) {
	return ctx.attachSource(s, s.priority.Load(), nil)
}

// Destroy marks the source inactive, drops its callback (running the
// destroy hook outside the context lock), removes its descriptor
// watches, and destroys its children (spec.md §4.4 destroy). Idempotent.
func (s *Source) Destroy() {
	s.setFlag(flagDestroyCalled)
	s.clearFlag(flagActive)

	s.mu.Lock()
	ctx := s.ctx
	children := s.children
	s.children = nil
	cb := s.callback
	s.callback = nil
	s.mu.Unlock()

	for _, c := range children {
		c.Destroy()
		c.Unref()
	}

	if ctx != nil {
		ctx.detachSource(s, true)
	}

	if cb != nil && cb.destroy != nil {
		cb.destroy(cb.data)
	}
}
