package gomain

// pollRecord is a (descriptor watch, priority) node kept in a doubly
// linked list ordered by descriptor identifier ascending (spec.md §3,
// §4.3). Two records sharing a descriptor collapse into one entry when
// flattened.
type pollRecord struct {
	watch    *descriptorWatch
	priority int32
	prev, next *pollRecord
}

// pollSet is the context-owned, descriptor-sorted registry of watches
// (spec.md §4.3). It is protected by the owning Context's mutex; it is
// not independently thread-safe.
type pollSet struct {
	head, tail *pollRecord
	count      int

	changed bool
	cached  []PollFD
}

func newPollSet() *pollSet {
	return &pollSet{}
}

// add inserts watch into the sorted list at the given priority. The
// caller (Context) is responsible for signaling the wakeup afterwards.
func (p *pollSet) add(watch *descriptorWatch, priority int32) {
	watch.received = 0
	rec := &pollRecord{watch: watch, priority: priority}
	watch.record = rec

	if p.head == nil {
		p.head, p.tail = rec, rec
		p.count = 1
		p.changed = true
		return
	}

	// Insertion sort by descriptor id ascending; watch lists are small in
	// practice (one entry per source per fd), so linear insertion is fine
	// and keeps the coalescing rule in flatten() trivial to reason about.
	cur := p.head
	for cur != nil && cur.watch.fd <= watch.fd {
		cur = cur.next
	}
	if cur == nil {
		rec.prev = p.tail
		p.tail.next = rec
		p.tail = rec
	} else {
		rec.next = cur
		rec.prev = cur.prev
		if cur.prev != nil {
			cur.prev.next = rec
		} else {
			p.head = rec
		}
		cur.prev = rec
	}
	p.count++
	p.changed = true
}

// remove detaches the record owned by watch, by pointer identity.
func (p *pollSet) remove(watch *descriptorWatch) {
	rec := watch.record
	if rec == nil {
		return
	}
	if rec.prev != nil {
		rec.prev.next = rec.next
	} else {
		p.head = rec.next
	}
	if rec.next != nil {
		rec.next.prev = rec.prev
	} else {
		p.tail = rec.prev
	}
	watch.record = nil
	p.count--
	p.changed = true
}

// flatten walks the sorted list, skipping records whose priority is
// numerically greater than maxPriority, merging records that share a
// descriptor into one output entry (event masks OR-combined), and
// returns the slot count required. If the destination cache is too
// small, it grows it and the caller should treat this as "needed" per
// spec.md §4.3 (it never returns a truncated flatten here, since
// growing the cache is cheap and keeps callers simple).
func (p *pollSet) flatten(maxPriority int32) []PollFD {
	out := p.cached[:0]
	var lastFD = -1
	for rec := p.head; rec != nil; rec = rec.next {
		if rec.priority > maxPriority {
			continue
		}
		w := rec.watch
		if len(out) > 0 && w.fd == lastFD {
			out[len(out)-1].Requested |= w.requested
			continue
		}
		out = append(out, PollFD{FD: w.fd, Requested: w.requested})
		lastFD = w.fd
	}
	p.cached = out
	p.changed = false
	return out
}

// scatter walks the poll records and the corresponding (sorted, possibly
// coalesced) result array jointly, writing received bits back onto the
// watches they belong to. Both sequences are sorted by fd ascending.
// Filtering: a record only receives bits that intersect its requested
// mask, except error/hangup/invalid which always pass through (spec.md
// §6); records whose priority exceeds maxPriority are skipped entirely,
// matching the flatten-side filter.
func (p *pollSet) scatter(maxPriority int32, results []PollFD) {
	ri := 0
	for rec := p.head; rec != nil; rec = rec.next {
		if rec.priority > maxPriority {
			continue
		}
		w := rec.watch
		for ri < len(results) && results[ri].FD < w.fd {
			ri++
		}
		if ri >= len(results) || results[ri].FD != w.fd {
			continue
		}
		received := results[ri].Received
		w.received = (received & (w.requested | unsolicitedMask))
	}
}
