package gomain

// contextOptions holds configuration resolved at Context construction,
// following the teacher's functional-options idiom (options.go:
// loopOptions/LoopOption/applyLoop).
type contextOptions struct {
	ownerlessPolling bool
	pollFunc         PollFunc
	logger           Logger
	wakeup           Wakeup
	clock            Clock
}

// ContextOption configures a Context instance.
type ContextOption interface {
	applyContext(*contextOptions)
}

type contextOptionFunc func(*contextOptions)

func (f contextOptionFunc) applyContext(o *contextOptions) { f(o) }

// WithOwnerlessPolling sets the "ownerless polling" flag described in
// spec.md §4.5/§8 scenario 5. The flag is recorded on the Context but
// does not change its behavior: attach (and other mutations) signal the
// wakeup whether or not it is set and whichever goroutine makes them, so
// a subsequent manual pipeline run observes them promptly.
func WithOwnerlessPolling(enabled bool) ContextOption {
	return contextOptionFunc(func(o *contextOptions) { o.ownerlessPolling = enabled })
}

// WithPollFunc injects the OS-level multiplex primitive (spec.md §6). If
// omitted, DefaultPollFunc (a classic poll(2)-style implementation) is used.
func WithPollFunc(fn PollFunc) ContextOption {
	return contextOptionFunc(func(o *contextOptions) { o.pollFunc = fn })
}

// WithLogger sets the structured logging sink used for every misuse,
// transient-OS-error, resource-error, and fatal condition the context
// reports (spec.md §7). Defaults to a no-op logger.
func WithLogger(l Logger) ContextOption {
	return contextOptionFunc(func(o *contextOptions) {
		if l != nil {
			o.logger = l
		}
	})
}

// WithWakeup injects the cross-thread wakeup primitive. If omitted, the
// platform default (eventfd on Linux, self-pipe elsewhere) is used.
func WithWakeup(w Wakeup) ContextOption {
	return contextOptionFunc(func(o *contextOptions) {
		if w != nil {
			o.wakeup = w
		}
	})
}

// WithClock injects the monotonic clock source. If omitted, the real
// monotonic clock (time.Now) is used. Mainly useful for deterministic
// tests of timer/ready-time behavior.
func WithClock(c Clock) ContextOption {
	return contextOptionFunc(func(o *contextOptions) {
		if c != nil {
			o.clock = c
		}
	})
}

func resolveContextOptions(opts []ContextOption) *contextOptions {
	cfg := &contextOptions{
		logger: NewNoOpLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyContext(cfg)
	}
	return cfg
}
