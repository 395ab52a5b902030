// Package gomain implements a reusable event-loop core: contexts that own
// event sources, a poll-record set, and an iteration engine that drives
// sources through a prepare/query/poll/check/dispatch pipeline in strict
// priority order.
//
// # Architecture
//
// A [Context] owns a set of [Source] values plus the poll-record set
// derived from their descriptor watches. A [Loop] repeatedly acquires a
// context and runs one [Context.Iteration] until told to quit. Sources may
// attach children, mutate the source set from any goroutine, or
// recursively iterate the context from within their own dispatch.
//
// # Ownership
//
// At most one goroutine "owns" a context at a time; only the owner may
// call Prepare/Query/Check/Dispatch. Other goroutines may still attach
// sources, destroy sources, change priorities, and wake the context -
// those mutations become visible to the owner no later than its next
// Prepare.
//
// # Platform support
//
// The injectable [PollFunc] defaults to a classic poll(2)-style
// implementation ([DefaultPollFunc], via golang.org/x/sys/unix) on
// Linux/Darwin/BSD. [NewEpollPollFunc] provides a level-triggered epoll
// alternative on Linux. The wakeup primitive uses eventfd on Linux and a
// self-pipe elsewhere.
//
// # Usage
//
//	ctx := gomain.NewContext()
//	loop := gomain.NewLoop(ctx)
//
//	gomain.NewTimerSource(100*time.Millisecond, func() bool {
//	    fmt.Println("tick")
//	    return true // reschedule
//	}).Attach(ctx)
//
//	loop.Run() // blocks until Quit
package gomain
