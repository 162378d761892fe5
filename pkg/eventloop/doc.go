// Package eventloop implements the daemon's single-threaded,
// edge-triggered request dispatch loop (spec.md §4.5): the listening
// socket, every accepted client fd, and a deadline-ordered queue of
// timed callbacks (delayed respawn, Wait timeouts, weak-container
// cleanup) are all multiplexed from one goroutine via epoll, mirroring
// the teacher's single dispatch goroutine in pkg/events.Broker.run but
// generalized from channel-select to epoll so it can also own raw
// socket fds.
//
// Work that originates off the loop goroutine — a ProcessSupervisor's
// child-reaping goroutine finishing a Wait(2), most notably — never
// touches container state directly; it calls Loop.Schedule (the
// container.EventQueue the lifecycle engine depends on), which queues
// the callback and wakes the loop through an eventfd. This is the
// same self-pipe trick spec.md's event loop calls for, using the
// modern Linux eventfd primitive instead of a literal pipe pair.
package eventloop
