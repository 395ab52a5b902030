package gomain

import (
	"math"
	"sync"
	"sync/atomic"
)

const priorityMax int32 = math.MaxInt32

type invokeEntry struct {
	fn         func()
	onComplete func()
}

// Context is the event-loop core: a mutex-protected source table, a
// priority-ordered dispatch order, a descriptor poll-record set, and a
// single-owner-at-a-time acquisition discipline (spec.md §3 "Context",
// §4.5, §5).
//
// The zero value is not usable; construct with NewContext.
type Context struct {
	mu   sync.Mutex
	cond *sync.Cond

	ownerGoroutine uint64
	ownerDepth     int

	refCount atomic.Int32

	table      *sourceTable
	byPriority map[int32][]*Source
	priorities []int32 // sorted ascending, kept in sync with byPriority

	poll   *pollSet
	wakeup Wakeup
	pollFn PollFunc
	clock  Clock
	logger Logger

	ownerlessPolling bool

	maxPriorityThisIteration int32
	pendingDispatch          []*Source

	invokeQueue []invokeEntry

	closed bool
}

// NewContext constructs a context. Without WithPollFunc/WithWakeup, it
// uses DefaultPollFunc and the platform wakeup primitive (spec.md §6).
func NewContext(opts ...ContextOption) *Context {
	cfg := resolveContextOptions(opts)
	c := &Context{
		table:            newSourceTable(),
		byPriority:       make(map[int32][]*Source),
		poll:             newPollSet(),
		logger:           cfg.logger,
		clock:            cfg.clock,
		ownerlessPolling: cfg.ownerlessPolling,
	}
	c.cond = sync.NewCond(&c.mu)
	if c.clock == nil {
		c.clock = realClock{}
	}
	if cfg.pollFunc != nil {
		c.pollFn = cfg.pollFunc
	} else {
		c.pollFn = DefaultPollFunc
	}
	if cfg.wakeup != nil {
		c.wakeup = cfg.wakeup
	} else if w, err := newPlatformWakeup(); err == nil {
		c.wakeup = w
	} else {
		c.logger.Log(LogEntry{Level: LevelError, Category: "context", Message: "failed to construct wakeup primitive", Err: err})
	}
	c.refCount.Store(1)
	return c
}

var (
	defaultContext     *Context
	defaultContextOnce sync.Once
)

// Default returns the process-wide default context, constructing it on
// first use (spec.md §4.1, out of scope: "a well-known default context
// singleton").
func Default() *Context {
	defaultContextOnce.Do(func() { defaultContext = NewContext() })
	return defaultContext
}

// --- thread-default stack: a per-goroutine stack of contexts.
// Goroutine-local: only
// the owning goroutine ever touches its own stack entry, so no lock is
// needed beyond the sync.Map's own.

var threadDefaultStacks sync.Map // goroutineID uint64 -> []*Context

// PushThreadDefault pushes c as this goroutine's thread-default context.
func PushThreadDefault(c *Context) {
	gid := goroutineID()
	stack, _ := threadDefaultStacks.Load(gid)
	s, _ := stack.([]*Context)
	threadDefaultStacks.Store(gid, append(s, c))
}

// PopThreadDefault pops this goroutine's most recently pushed
// thread-default context.
func PopThreadDefault() {
	gid := goroutineID()
	stack, _ := threadDefaultStacks.Load(gid)
	s, _ := stack.([]*Context)
	if len(s) == 0 {
		return
	}
	s = s[:len(s)-1]
	if len(s) == 0 {
		threadDefaultStacks.Delete(gid)
		return
	}
	threadDefaultStacks.Store(gid, s)
}

// GetThreadDefaultContext returns this goroutine's current thread-default
// context, or nil if none has been pushed.
func GetThreadDefaultContext() *Context {
	gid := goroutineID()
	stack, _ := threadDefaultStacks.Load(gid)
	s, _ := stack.([]*Context)
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

// --- reference counting ---

// Ref increments the reference count and returns c.
func (c *Context) Ref() *Context {
	c.refCount.Add(1)
	return c
}

// Unref decrements the reference count, closing the wakeup primitive and
// marking the context closed on reaching zero, under the process-wide
// destroy-lock's writer side (spec.md §5). Sources still attached at
// that point are not detached or destroyed.
func (c *Context) Unref() {
	if c.refCount.Add(-1) != 0 {
		return
	}
	destroyLock.Lock()
	defer destroyLock.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wakeup != nil {
		c.wakeup.Close()
	}
	c.closed = true
}

// --- ownership / acquisition (spec.md §5) ---

// Acquire blocks until the calling goroutine owns c, recursing if it
// already does.
func (c *Context) Acquire() {
	gid := goroutineID()
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.ownerGoroutine != 0 && c.ownerGoroutine != gid {
		c.cond.Wait()
	}
	c.ownerGoroutine = gid
	c.ownerDepth++
}

// TryAcquire attempts to acquire c without blocking.
func (c *Context) TryAcquire() bool {
	gid := goroutineID()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ownerGoroutine != 0 && c.ownerGoroutine != gid {
		return false
	}
	c.ownerGoroutine = gid
	c.ownerDepth++
	return true
}

// Release releases one level of ownership acquired by this goroutine.
func (c *Context) Release() {
	gid := goroutineID()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ownerGoroutine != gid {
		c.logger.Log(LogEntry{Level: LevelWarn, Category: "context", Message: "release by non-owner ignored"})
		return
	}
	c.ownerDepth--
	if c.ownerDepth == 0 {
		c.ownerGoroutine = 0
		c.cond.Broadcast()
	}
}

// IsOwner reports whether the calling goroutine currently owns c.
func (c *Context) IsOwner() bool {
	gid := goroutineID()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownerGoroutine == gid
}

func (c *Context) wakeupNow() {
	if c.wakeup != nil {
		c.wakeup.Signal()
	}
}

// Wakeup requests that a blocked (or future) iteration's poll return
// promptly, even from a goroutine that does not own c (spec.md §4.2).
func (c *Context) Wakeup() {
	c.wakeupNow()
}

func (c *Context) nowMicros() int64 {
	return c.clock.NowMicros()
}

// --- source-table plumbing, called from source.go ---

func insertSortedPriority(priorities []int32, p int32) []int32 {
	i := 0
	for i < len(priorities) && priorities[i] < p {
		i++
	}
	if i < len(priorities) && priorities[i] == p {
		return priorities
	}
	priorities = append(priorities, 0)
	copy(priorities[i+1:], priorities[i:])
	priorities[i] = p
	return priorities
}

func removeSortedPriority(priorities []int32, p int32) []int32 {
	for i, v := range priorities {
		if v == p {
			return append(priorities[:i], priorities[i+1:]...)
		}
	}
	return priorities
}

// insertSource inserts s into its priority bucket, immediately before
// parent if parent is non-nil and present in that bucket (spec.md §4.5,
// "children dispatch immediately before their parent"). Caller holds c.mu.
func (c *Context) insertSource(s *Source, priority int32, parent *Source) {
	bucket, had := c.byPriority[priority]
	idx := -1
	if parent != nil {
		for i, v := range bucket {
			if v == parent {
				idx = i
				break
			}
		}
	}
	if idx >= 0 {
		bucket = append(bucket, nil)
		copy(bucket[idx+1:], bucket[idx:])
		bucket[idx] = s
	} else {
		bucket = append(bucket, s)
	}
	c.byPriority[priority] = bucket
	if !had {
		c.priorities = insertSortedPriority(c.priorities, priority)
	}
}

// removeFromBucket removes s from its priority bucket. Caller holds c.mu.
func (c *Context) removeFromBucket(priority int32, s *Source) {
	bucket := c.byPriority[priority]
	for i, v := range bucket {
		if v == s {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.byPriority, priority)
		c.priorities = removeSortedPriority(c.priorities, priority)
	} else {
		c.byPriority[priority] = bucket
	}
}

// attachSource attaches s to c at priority, as a child of parent if
// non-nil, allocating and returning its id.
func (c *Context) attachSource(s *Source, priority int32, parent *Source) (uint64, error) {
	c.mu.Lock()
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		c.mu.Unlock()
		return 0, ErrSourceAlreadyAttached
	}
	id := c.table.alloc(s)
	s.id.Store(id)
	s.ctx = c
	s.priority.Store(priority)
	s.parent = parent
	name := s.name
	s.mu.Unlock()

	c.insertSource(s, priority, parent)
	c.mu.Unlock()

	c.logger.Log(LogEntry{Level: LevelDebug, Category: "source", Source: name, Message: "attached", Fields: map[string]any{"id": id, "priority": priority}})
	c.wakeupNow()
	return id, nil
}

func (c *Context) attachChild(child *Source, priority int32, parent *Source) error {
	_, err := c.attachSource(child, priority, parent)
	return err
}

// detachSource removes s from c's bookkeeping: the source table, its
// priority bucket, and any descriptor watches it owns.
func (c *Context) detachSource(s *Source, destroyed bool) {
	c.mu.Lock()
	s.mu.Lock()
	if s.ctx != c {
		s.mu.Unlock()
		c.mu.Unlock()
		return
	}
	id := s.id.Load()
	priority := s.priority.Load()
	watches := make([]*descriptorWatch, 0, len(s.watches)+len(s.auxWatches))
	watches = append(watches, s.watches...)
	watches = append(watches, s.auxWatches...)
	s.watches = nil
	s.auxWatches = nil
	s.ctx = nil
	s.id.Store(0)
	s.mu.Unlock()

	c.removeFromBucket(priority, s)
	c.table.remove(id)
	for _, w := range watches {
		c.poll.remove(w)
	}
	c.mu.Unlock()
	c.wakeupNow()
	_ = destroyed
}

// setSourcePriority moves s (and its children, which always mirror it)
// to a new priority bucket and re-registers its descriptor watches.
func (c *Context) setSourcePriority(s *Source, p int32) error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return nil
	}
	if s.ctx != c {
		s.mu.Unlock()
		return ErrForeignContext
	}
	old := s.priority.Load()
	children := append([]*Source(nil), s.children...)
	watches := make([]*descriptorWatch, 0, len(s.watches)+len(s.auxWatches))
	watches = append(watches, s.watches...)
	watches = append(watches, s.auxWatches...)
	parent := s.parent
	s.mu.Unlock()

	if old != p {
		c.mu.Lock()
		c.removeFromBucket(old, s)
		c.insertSource(s, p, parent)
		for _, w := range watches {
			// A blocked source's watches are deliberately unlinked
			// (w.record == nil); leave them that way here and just update
			// the priority they'll be re-added at when unblocked, so
			// SetPriority during a source's own dispatch can't undo the
			// blocked-watch-removal invariant (spec.md §4.4).
			w.priority = p
			if w.record != nil {
				c.poll.remove(w)
				c.poll.add(w, p)
			}
		}
		c.mu.Unlock()
		s.priority.Store(p)
	}

	for _, ch := range children {
		_ = c.setSourcePriority(ch, p)
	}
	c.wakeupNow()
	return nil
}

// FindSource looks up an attached source by id.
func (c *Context) FindSource(id uint64) *Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table.get(id)
}

// SourcesByPriority returns a snapshot of attached sources, most urgent
// priority first, in dispatch order within each priority band.
func (c *Context) SourcesByPriority() []*Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Source, 0, c.table.len())
	for _, p := range c.priorities {
		out = append(out, c.byPriority[p]...)
	}
	return out
}

// SetPollFunc swaps the injectable OS multiplex primitive at runtime.
func (c *Context) SetPollFunc(fn PollFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn != nil {
		c.pollFn = fn
	}
}

// AddDescriptorWatch registers fd on s at s's current priority, storing
// it in s's public watch list (spec.md §4.4 add_watch). s must be
// attached.
func (s *Source) AddDescriptorWatch(fd int, events EventMask) (*descriptorWatch, error) {
	s.mu.Lock()
	ctx := s.ctx
	if ctx == nil {
		s.mu.Unlock()
		return nil, ErrSourceNotAttached
	}
	priority := s.priority.Load()
	w := &descriptorWatch{fd: fd, requested: events & requestableMask, source: s, priority: priority}
	s.watches = append(s.watches, w)
	s.mu.Unlock()

	ctx.mu.Lock()
	ctx.poll.add(w, priority)
	ctx.mu.Unlock()
	ctx.wakeupNow()
	return w, nil
}

// addAuxWatch registers a private watch not exposed through s's public
// API. No builtin source calls it; fdSource registers its watch with
// AddDescriptorWatch.
func (s *Source) addAuxWatch(fd int, events EventMask) *descriptorWatch {
	s.mu.Lock()
	ctx := s.ctx
	priority := s.priority.Load()
	w := &descriptorWatch{fd: fd, requested: events & requestableMask, source: s, priority: priority}
	s.auxWatches = append(s.auxWatches, w)
	s.mu.Unlock()
	if ctx != nil {
		ctx.mu.Lock()
		ctx.poll.add(w, priority)
		ctx.mu.Unlock()
	}
	return w
}

// ModifyDescriptorWatch changes the requested event mask of an existing
// watch (spec.md §4.4 modify_watch).
func (s *Source) ModifyDescriptorWatch(w *descriptorWatch, events EventMask) error {
	s.mu.Lock()
	owned := false
	for _, v := range s.watches {
		if v == w {
			owned = true
			break
		}
	}
	ctx := s.ctx
	s.mu.Unlock()
	if !owned {
		return ErrWatchNotOwned
	}
	if ctx == nil {
		w.requested = events & requestableMask
		return nil
	}
	ctx.mu.Lock()
	w.requested = events & requestableMask
	ctx.poll.changed = true
	ctx.mu.Unlock()
	ctx.wakeupNow()
	return nil
}

// RemoveDescriptorWatch unregisters a watch previously added with
// AddDescriptorWatch (spec.md §4.4 remove_watch).
func (s *Source) RemoveDescriptorWatch(w *descriptorWatch) error {
	s.mu.Lock()
	idx := -1
	for i, v := range s.watches {
		if v == w {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrWatchNotOwned
	}
	s.watches = append(s.watches[:idx], s.watches[idx+1:]...)
	ctx := s.ctx
	s.mu.Unlock()

	if ctx != nil {
		ctx.mu.Lock()
		ctx.poll.remove(w)
		ctx.mu.Unlock()
	}
	return nil
}

// QueryDescriptorWatch returns the most recent received event mask for a
// watch (spec.md §4.4 query_watch).
func (s *Source) QueryDescriptorWatch(w *descriptorWatch) EventMask {
	return w.received
}

// --- iteration pipeline (spec.md §4.5) ---

func (c *Context) drainInvokeQueue() {
	for {
		c.mu.Lock()
		if len(c.invokeQueue) == 0 {
			c.mu.Unlock()
			return
		}
		e := c.invokeQueue[0]
		c.invokeQueue = c.invokeQueue[1:]
		c.mu.Unlock()

		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Log(LogEntry{Level: LevelError, Category: "context", Message: "panic in invoked function", Err: &PanicError{Value: r}})
				}
			}()
			e.fn()
		}()
		if e.onComplete != nil {
			e.onComplete()
		}
	}
}

// Invoke schedules fn to run on c's owner, running it inline if the
// calling goroutine can acquire c without blocking (spec.md §8 scenario
// 6). Otherwise fn is queued and run on the next iteration, and the
// wakeup is signaled so an in-progress or future poll observes it
// promptly.
func (c *Context) Invoke(fn func()) {
	c.InvokeFull(fn, nil)
}

// InvokeFull is Invoke with an optional completion callback, run after fn
// (on whichever goroutine actually executed fn).
func (c *Context) InvokeFull(fn func(), onComplete func()) {
	if c.TryAcquire() {
		func() {
			defer c.Release()
			defer func() {
				if r := recover(); r != nil {
					c.logger.Log(LogEntry{Level: LevelError, Category: "context", Message: "panic in invoked function", Err: &PanicError{Value: r}})
				}
			}()
			fn()
		}()
		if onComplete != nil {
			onComplete()
		}
		return
	}
	c.mu.Lock()
	c.invokeQueue = append(c.invokeQueue, invokeEntry{fn: fn, onComplete: onComplete})
	c.mu.Unlock()
	c.wakeupNow()
}

// prepareLocked walks sources in priority order (most urgent first),
// calling Prepare on each active source, tightening
// maxPriorityThisIteration to the first priority band containing a ready
// source (spec.md §4.5 prepare step), and returns the minimum requested
// timeout in milliseconds, or -1 if none was requested.
func (c *Context) prepareLocked() int {
	c.mu.Lock()
	priorities := append([]int32(nil), c.priorities...)
	snapshot := make(map[int32][]*Source, len(priorities))
	for _, p := range priorities {
		srcs := c.byPriority[p]
		cp := make([]*Source, len(srcs))
		copy(cp, srcs)
		for _, s := range cp {
			s.Ref()
		}
		snapshot[p] = cp
	}
	c.mu.Unlock()

	defer func() {
		for _, srcs := range snapshot {
			for _, s := range srcs {
				s.Unref()
			}
		}
	}()

	haveTimeout := false
	minTimeoutMs := -1
	foundReadyBand := false
	var readyPriority int32 = priorityMax

	for _, p := range priorities {
		if foundReadyBand {
			break
		}
		for _, s := range snapshot[p] {
			if !s.isActive() {
				continue
			}
			ready, timeout := s.vtable.Prepare(s)

			if rt := s.readyTime.Load(); rt != ReadyNever {
				now := c.nowMicros()
				if rt <= now {
					ready = true
				} else {
					remainMs := roundMicrosToMillis(rt - now)
					if !haveTimeout || remainMs < minTimeoutMs {
						minTimeoutMs, haveTimeout = remainMs, true
					}
				}
			}
			if timeout >= 0 {
				ms := int(timeout.Milliseconds())
				if !haveTimeout || ms < minTimeoutMs {
					minTimeoutMs, haveTimeout = ms, true
				}
			}
			if ready {
				s.markReady()
				foundReadyBand = true
				readyPriority = p
			}
		}
	}

	c.mu.Lock()
	if foundReadyBand {
		c.maxPriorityThisIteration = readyPriority
		minTimeoutMs, haveTimeout = 0, true
	} else {
		c.maxPriorityThisIteration = priorityMax
	}
	c.mu.Unlock()

	if !haveTimeout {
		return -1
	}
	return minTimeoutMs
}

// pollLocked flattens the poll-record set bounded by
// maxPriorityThisIteration, appends the wakeup descriptor (never subject
// to priority filtering, per spec.md §6 "Wakeup descriptor layout"),
// invokes the injected PollFunc, and scatters results back onto watches.
// It returns true if the poll-record set's change-flag was set while
// polling - a descriptor watch was added or removed concurrently - in
// which case the caller must abort the iteration (spec.md §4.5 step 5)
// rather than check/dispatch against a possibly-desynced record set.
func (c *Context) pollLocked(timeoutMs int) bool {
	c.mu.Lock()
	maxPriority := c.maxPriorityThisIteration
	base := c.poll.flatten(maxPriority)
	wakeupFD := -1
	if c.wakeup != nil {
		wakeupFD = c.wakeup.FD()
	}
	full := base
	if wakeupFD >= 0 {
		full = make([]PollFD, len(base)+1)
		copy(full, base)
		full[len(base)] = PollFD{FD: wakeupFD, Requested: EventReadable}
	}
	pollFn := c.pollFn
	c.mu.Unlock()

	n, err := pollFn(full, timeoutMs)
	if err != nil {
		c.logger.Log(LogEntry{Level: LevelError, Category: "pollset", Message: "poll failed", Err: err})
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.poll.changed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 && wakeupFD >= 0 && len(full) > 0 {
		last := full[len(full)-1]
		if last.FD == wakeupFD && last.Received&EventReadable != 0 {
			c.wakeup.Acknowledge()
		}
	}
	results := full
	if wakeupFD >= 0 {
		results = full[:len(full)-1]
	}
	c.poll.scatter(maxPriority, results)
	return c.poll.changed
}

// sourceWatchReady reports whether any of s's descriptor watches (public
// or auxiliary) received a non-zero event mask this poll. pollSet.scatter
// already filters received bits to a watch's requested mask plus the
// always-on unsolicited bits, so a plain non-zero check is sufficient
// (spec.md §4.5 step 5: "ready when any of its own descriptor watches
// received non-zero bits").
func (c *Context) sourceWatchReady(s *Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.watches {
		if w.received != 0 {
			return true
		}
	}
	for _, w := range s.auxWatches {
		if w.received != 0 {
			return true
		}
	}
	return false
}

// checkLocked calls Check on every candidate source (active, at or above
// the current iteration's priority bound), folding in generic descriptor
// readiness for sources that don't inspect their own watches. As soon as
// a ready source is found at priority band p, the effective bound
// tightens to p: bands numerically greater than p (less urgent) are not
// considered at all this iteration (spec.md §4.5 step 5, and the
// descriptor-priority scenario in spec.md §8: "in a single iteration at
// most one of the two runs").
func (c *Context) checkLocked() bool {
	c.mu.Lock()
	maxPriority := c.maxPriorityThisIteration
	priorities := append([]int32(nil), c.priorities...)
	snapshot := make(map[int32][]*Source, len(priorities))
	for _, p := range priorities {
		if p > maxPriority {
			continue
		}
		srcs := c.byPriority[p]
		cp := make([]*Source, len(srcs))
		copy(cp, srcs)
		for _, s := range cp {
			s.Ref()
		}
		snapshot[p] = cp
	}
	c.mu.Unlock()

	defer func() {
		for _, srcs := range snapshot {
			for _, s := range srcs {
				s.Unref()
			}
		}
	}()

	var candidates []*Source
	tightened := false
	var tightPriority int32 = maxPriority
	for _, p := range priorities {
		if p > maxPriority {
			continue
		}
		if tightened && p > tightPriority {
			break
		}
		for _, s := range snapshot[p] {
			if !s.isActive() {
				continue
			}
			ready := s.isReady()
			if !ready && s.vtable.Check(s) {
				ready = true
			}
			if !ready && c.sourceWatchReady(s) {
				ready = true
			}
			if ready {
				s.markReady()
				candidates = append(candidates, s)
				if !tightened || p < tightPriority {
					tightened, tightPriority = true, p
				}
			}
		}
	}

	c.mu.Lock()
	c.pendingDispatch = candidates
	c.mu.Unlock()
	return len(candidates) > 0
}

// removeSourceWatches unlinks s's descriptor watches from the
// poll-record set without forgetting them - the watch structs (and
// their fd/requested/priority fields) survive for restoreSourceWatches
// to re-link later.
func (c *Context) removeSourceWatches(s *Source) {
	s.mu.Lock()
	watches := make([]*descriptorWatch, 0, len(s.watches)+len(s.auxWatches))
	watches = append(watches, s.watches...)
	watches = append(watches, s.auxWatches...)
	s.mu.Unlock()
	if len(watches) == 0 {
		return
	}
	c.mu.Lock()
	for _, w := range watches {
		c.poll.remove(w)
	}
	c.mu.Unlock()
}

// restoreSourceWatches re-links s's descriptor watches into the
// poll-record set at s's current priority. Watches already linked (e.g.
// restored by a nested block/unblock pair) are left alone, so nested
// recursion into the same source's dispatch can't double-link a watch.
func (c *Context) restoreSourceWatches(s *Source) {
	s.mu.Lock()
	watches := make([]*descriptorWatch, 0, len(s.watches)+len(s.auxWatches))
	watches = append(watches, s.watches...)
	watches = append(watches, s.auxWatches...)
	attached := s.ctx != nil
	priority := s.priority.Load()
	s.mu.Unlock()
	if !attached || len(watches) == 0 {
		return
	}
	c.mu.Lock()
	for _, w := range watches {
		if w.record == nil {
			c.poll.add(w, priority)
		}
	}
	c.mu.Unlock()
}

// blockSourceTree marks s and its children blocked and removes all of
// their descriptor watches from the poll-record set, for the duration of
// s's dispatch (spec.md §4.4: "a blocked source's descriptor watches are
// temporarily removed from the poll-record set ... blocking recurses
// into children").
func (c *Context) blockSourceTree(s *Source) {
	s.setFlag(flagBlocked)
	c.removeSourceWatches(s)
	s.mu.Lock()
	children := append([]*Source(nil), s.children...)
	s.mu.Unlock()
	for _, ch := range children {
		c.blockSourceTree(ch)
	}
}

// unblockSourceTree is blockSourceTree's inverse, re-adding watches and
// clearing the blocked flag across s and its children.
func (c *Context) unblockSourceTree(s *Source) {
	s.clearFlag(flagBlocked)
	c.restoreSourceWatches(s)
	s.mu.Lock()
	children := append([]*Source(nil), s.children...)
	s.mu.Unlock()
	for _, ch := range children {
		c.unblockSourceTree(ch)
	}
}

func (c *Context) invokeDispatch(s *Source) (keep bool) {
	cb := s.snapshotCallback()
	var fn CallbackFunc
	var data any
	if cb != nil {
		fn, data = cb.fn, cb.data
	}
	defer func() {
		if r := recover(); r != nil {
			name := s.Name()
			c.logger.Log(LogEntry{Level: LevelError, Category: "source", Source: name, Message: "panic in dispatch", Err: &PanicError{Value: r, Source: name}})
			keep = false
		}
	}()
	keep = s.vtable.Dispatch(s, fn, data)
	return
}

// dispatchLocked runs Dispatch on every source checkLocked collected,
// honoring the blocked/in_call/can_recurse discipline (spec.md §4.4 flag
// table) and destroying any source whose callback returns false.
func (c *Context) dispatchLocked() {
	c.mu.Lock()
	candidates := c.pendingDispatch
	c.pendingDispatch = nil
	c.mu.Unlock()

	for _, s := range candidates {
		if !s.isActive() {
			s.clearFlag(flagReady)
			continue
		}
		// A currently-in-call, non-recursable source is already blocked
		// (blockSourceTree set the flag and pulled its watches when its
		// own dispatch began); isBlocked alone covers that case too, for
		// a source blocked by an ancestor's dispatch rather than its own.
		if s.isBlocked() || (s.isInCall() && !s.canRecurse()) {
			continue
		}
		s.clearFlag(flagReady)
		s.setFlag(flagInCall)
		blocked := !s.canRecurse()
		if blocked {
			c.blockSourceTree(s)
		}
		prev := setCurrentDispatchSource(s)
		keep := c.invokeDispatch(s)
		setCurrentDispatchSource(prev)
		if blocked {
			c.unblockSourceTree(s)
		}
		s.clearFlag(flagInCall)
		if !keep {
			s.Destroy()
		}
	}
}

// Pending reports whether an iteration would currently find work to do,
// without dispatching it (spec.md §4.5, non-blocking prepare+poll+check).
// Pending never dispatches, so the recursion guard may span its whole
// body.
func (c *Context) Pending() bool {
	if !enterIteration() {
		c.logger.Log(LogEntry{Level: LevelError, Category: "context", Message: "recursive iteration rejected", Err: ErrRecursiveIteration})
		return false
	}
	defer exitIteration()

	c.Acquire()
	defer c.Release()

	c.drainInvokeQueue()
	c.prepareLocked()
	if c.pollLocked(0) {
		return false
	}
	return c.checkLocked()
}

// Iteration runs one full prepare/query/check/dispatch cycle (spec.md
// §4.5). If mayBlock is true and nothing is immediately ready, it blocks
// in poll up to the shortest requested timeout (or indefinitely if none
// was requested and no source requests a bounded wait). Returns whether
// any source was dispatched.
//
// The recursion guard (spec.md §4.5 "Reentrancy") covers only the
// prepare/poll/check walk, not Dispatch: a source's callback - or a
// nested Loop.Run it starts - may legitimately call back into this same
// context's Iteration, and must actually block in poll rather than
// spin, so the guard is released before dispatchLocked runs.
func (c *Context) Iteration(mayBlock bool) bool {
	c.Acquire()
	defer c.Release()

	c.drainInvokeQueue()

	if !enterIteration() {
		c.logger.Log(LogEntry{Level: LevelError, Category: "context", Message: "recursive iteration rejected", Err: ErrRecursiveIteration})
		return false
	}

	timeoutMs := c.prepareLocked()
	if !mayBlock && timeoutMs != 0 {
		timeoutMs = 0
	}
	aborted := c.pollLocked(timeoutMs)
	if aborted {
		exitIteration()
		return false
	}
	anyReady := c.checkLocked()
	exitIteration()

	if anyReady {
		c.dispatchLocked()
	}
	return anyReady
}
