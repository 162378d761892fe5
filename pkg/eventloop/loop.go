package eventloop

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cuemby/portod/pkg/container"
	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/session"
	"github.com/cuemby/portod/pkg/wire"
)

// Dispatcher handles one fully decoded request for a session and
// produces the response to send back. It is supplied by the
// composition root (cmd/portod), which wires it to the container tree
// and volume holder; eventloop itself is policy-free about what a
// request means.
type Dispatcher func(s *session.Session, req *wire.Request) *wire.Response

// Loop is the single-threaded, edge-triggered multiplexer of spec.md
// §4.5. All request handling, deadline callbacks, and cross-goroutine
// work submitted via Schedule run on the goroutine that calls Run.
type Loop struct {
	epfd     int
	listenFd int
	wakeFd   int // eventfd; written to by Schedule to interrupt epoll_wait

	maxFrame int
	dispatch Dispatcher
	tree     *container.Tree

	queue *DeadlineQueue

	mu       sync.Mutex
	sessions map[int]*clientConn
	closed   bool
}

type clientConn struct {
	fd      int
	sess    *session.Session
	inbuf   []byte
	outbuf  []byte
	wantOut bool // we have a pending write and are waiting for EPOLLOUT
}

// New creates a loop listening on socketPath (a Unix stream socket,
// removed and recreated if stale) and dispatching decoded requests to
// dispatch.
func New(socketPath string, maxFrame int, tree *container.Tree, dispatch Dispatcher) (*Loop, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	listenFd, err := listenUnix(socketPath)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(listenFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	l := &Loop{
		epfd:     epfd,
		listenFd: listenFd,
		wakeFd:   wakeFd,
		maxFrame: maxFrame,
		dispatch: dispatch,
		tree:     tree,
		sessions: make(map[int]*clientConn),
	}
	l.queue = NewDeadlineQueue(l.wake)

	if err := l.epollAdd(listenFd, unix.EPOLLIN); err != nil {
		l.Close()
		return nil, err
	}
	if err := l.epollAdd(wakeFd, unix.EPOLLIN); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func listenUnix(path string) (int, error) {
	unix.Unlink(path)
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return 0, fmt.Errorf("socket: %w", err)
	}
	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

func (l *Loop) epollAdd(fd int, events uint32) error {
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events | unix.EPOLLET})
}

func (l *Loop) epollMod(fd int, events uint32) error {
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events | unix.EPOLLET})
}

func (l *Loop) epollDel(fd int) {
	_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Schedule implements container.EventQueue.
func (l *Loop) Schedule(d time.Duration, fn func()) (cancel func()) {
	return l.queue.Schedule(d, fn)
}

// wake pings the eventfd so a blocked epoll_wait returns promptly even
// when the new deadline is earlier than whatever timeout it computed
// last.
func (l *Loop) wake() {
	var one [8]byte
	one[7] = 1
	_, _ = unix.Write(l.wakeFd, one[:])
}

// Run drives the loop until stop is closed or a fatal epoll error
// occurs.
func (l *Loop) Run(stop <-chan struct{}) error {
	events := make([]unix.EpollEvent, 64)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		timeout := l.waitTimeoutMs()
		n, err := unix.EpollWait(l.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch fd {
			case l.listenFd:
				l.acceptLoop()
			case l.wakeFd:
				l.drainWake()
				l.runDueTimers()
			default:
				l.handleClientEvent(fd, events[i].Events)
			}
		}
		l.runDueTimers()
	}
}

func (l *Loop) waitTimeoutMs() int {
	deadline, ok := l.queue.NextDeadline()
	if !ok {
		return -1 // block indefinitely until a socket or the eventfd is ready
	}
	d := time.Until(deadline)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > 1<<30 {
		ms = 1 << 30
	}
	return int(ms)
}

func (l *Loop) runDueTimers() {
	for _, fn := range l.queue.PopDue(time.Now()) {
		fn()
	}
}

func (l *Loop) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(l.wakeFd, buf[:])
		if err != nil {
			return
		}
	}
}

func (l *Loop) acceptLoop() {
	for {
		nfd, _, err := unix.Accept4(l.listenFd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			return
		}
		l.addClient(nfd)
	}
}

func (l *Loop) addClient(fd int) {
	sess := session.New(fd, l.tree)
	conn := &clientConn{fd: fd, sess: sess}
	l.mu.Lock()
	l.sessions[fd] = conn
	l.mu.Unlock()
	if err := l.epollAdd(fd, unix.EPOLLIN); err != nil {
		l.dropClient(conn)
	}
}

func (l *Loop) dropClient(c *clientConn) {
	l.epollDel(c.fd)
	unix.Close(c.fd)
	l.mu.Lock()
	delete(l.sessions, c.fd)
	l.mu.Unlock()
	_ = c.sess.Close()
}

func (l *Loop) handleClientEvent(fd int, ev uint32) {
	l.mu.Lock()
	conn := l.sessions[fd]
	l.mu.Unlock()
	if conn == nil {
		return
	}

	if ev&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		l.dropClient(conn)
		return
	}
	if ev&unix.EPOLLIN != 0 {
		l.readRequest(conn)
	}
	if ev&unix.EPOLLOUT != 0 {
		l.flushResponse(conn)
	}
}

// readRequest implements the reader half of spec.md §4.4: accumulate,
// try to extract one frame, dispatch it, then disable read interest
// until the response drains (the one-in-flight-per-session guarantee).
func (l *Loop) readRequest(conn *clientConn) {
	var buf [65536]byte
	for {
		n, err := unix.Read(conn.fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			l.dropClient(conn)
			return
		}
		if n == 0 {
			l.dropClient(conn)
			return
		}
		conn.inbuf = append(conn.inbuf, buf[:n]...)
	}

	payload, rest, ok, err := wire.ExtractFrame(conn.inbuf, l.maxFrame)
	if err != nil {
		l.dropClient(conn)
		return
	}
	if !ok {
		return
	}
	conn.inbuf = rest

	if !conn.sess.BeginRequest() {
		// The client shouldn't pipeline past one in-flight request; a
		// frame arriving anyway is dropped rather than silently queued,
		// since read interest is disabled below for the entire time a
		// response is outstanding.
		return
	}
	if err := l.epollMod(conn.fd, 0); err != nil {
		l.dropClient(conn)
		return
	}

	if err := conn.sess.Identify(); err != nil {
		l.sendError(conn, err)
		return
	}
	req, err := wire.UnmarshalRequest(payload)
	if err != nil {
		l.sendError(conn, err)
		return
	}

	resp := l.dispatch(conn.sess, req)
	l.sendResponse(conn, resp)
}

func (l *Loop) sendError(conn *clientConn, err error) {
	l.sendResponse(conn, &wire.Response{Error: portoerr.KindOf(err), ErrorMsg: err.Error()})
}

func (l *Loop) sendResponse(conn *clientConn, resp *wire.Response) {
	frame, err := wire.AppendFrame(nil, resp.Marshal(), l.maxFrame)
	if err != nil {
		// response itself is oversized: nothing sane to send back, drop.
		l.dropClient(conn)
		return
	}
	conn.outbuf = append(conn.outbuf, frame...)
	l.flushResponse(conn)
}

// flushResponse implements the writer half of spec.md §4.4: write
// non-blocking, re-arming EPOLLOUT on EAGAIN, and re-arming EPOLLIN
// (ending the in-flight guard) once the buffer has fully drained.
func (l *Loop) flushResponse(conn *clientConn) {
	for len(conn.outbuf) > 0 {
		n, err := unix.Write(conn.fd, conn.outbuf)
		if err != nil {
			if err == unix.EAGAIN {
				if !conn.wantOut {
					conn.wantOut = true
					_ = l.epollMod(conn.fd, unix.EPOLLOUT)
				}
				return
			}
			l.dropClient(conn)
			return
		}
		conn.outbuf = conn.outbuf[n:]
	}
	conn.wantOut = false
	_ = l.epollMod(conn.fd, unix.EPOLLIN)
	conn.sess.EndRequest()
}

// Close tears down the loop's own fds. It does not close client
// connections gracefully; callers that want a clean drain should stop
// Run and let in-flight responses finish first.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for fd, conn := range l.sessions {
		unix.Close(fd)
		_ = conn.sess.Close()
	}
	l.sessions = nil
	l.mu.Unlock()

	unix.Close(l.wakeFd)
	unix.Close(l.listenFd)
	return unix.Close(l.epfd)
}
