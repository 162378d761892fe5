// Package session owns the per-connection state the RPC front end
// needs beyond raw framing: peer identification via SO_PEERCRED and the
// origin container's cgroup, the small name-resolution language that
// maps a client-supplied name onto an absolute container name, the
// access-control matrix, and the weak-container cleanup list a session
// carries until disconnect.
package session
