package session

import (
	"sync"

	"github.com/cuemby/portod/pkg/container"
	"github.com/cuemby/portod/pkg/portoerr"
)

// Session is the per-connection state the RPC front end keeps between
// requests: identity, namespace, access level, the weak-container
// cleanup list, and the accumulation buffer for in-flight frames
// (spec.md §4.4). The mutex exists because shutdown (close the fd,
// cancel pending wait) can run concurrently with the request path, per
// spec.md §5's lock-order note (session mutex -> container lock ->
// container-list lock).
type Session struct {
	mu sync.Mutex

	fd  int
	pid int32
	uid uint32
	gid uint32

	tree *container.Tree

	originName string
	accessLevel container.AccessLevel

	namespace      string // porto-namespace prefix
	writeNamespace string // write-namespace prefix

	weakContainers map[string]struct{}

	// buf accumulates bytes for the currently in-flight frame; the
	// wire codec owns the actual varint/length decoding, this package
	// only owns the buffer's lifetime across partial reads.
	buf []byte

	responseInFlight bool
}

// New creates a session for an accepted connection. Identify must be
// called before the session can serve any request.
func New(fd int, tree *container.Tree) *Session {
	return &Session{
		fd:             fd,
		tree:           tree,
		weakContainers: make(map[string]struct{}),
	}
}

// Identify queries the peer's credentials and origin container, and
// (re)computes the session's access level and namespace prefixes.
// spec.md §4.4 calls for this on the first request and whenever the
// cached tuple has drifted; callers re-invoke it accordingly.
func (s *Session) Identify() error {
	pid, uid, gid, err := PeerCredential(s.fd)
	if err != nil {
		return portoerr.Wrap(portoerr.Unknown, err, "identifying peer")
	}

	originName, err := ContainerNameForPid(pid)
	if err != nil {
		originName = "/"
	}
	origin, ok := s.tree.Find(originName)
	if !ok {
		origin = s.tree.Root()
		originName = "/"
	}
	if err := EligibleOrigin(origin); err != nil {
		return err
	}

	level, err := ComputeAccessLevel(uid, gid)
	if err != nil {
		return err
	}
	if cap := origin.AccessCap(); cap < level {
		level = cap
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pid, s.uid, s.gid = pid, uid, gid
	s.originName = originName
	s.accessLevel = level
	s.namespace = originName
	s.writeNamespace = originName
	return nil
}

// Resolve maps a client-supplied name onto an absolute container name
// within this session's namespace, validating the result per spec.md
// §4.4.
func (s *Session) Resolve(raw string) (string, error) {
	s.mu.Lock()
	origin, namespace := s.originName, s.namespace
	s.mu.Unlock()

	resolved := ResolveName(raw, origin, namespace)
	if !ValidateResolved(resolved, origin, namespace) {
		return "", portoerr.New(portoerr.Permission, "%s resolves outside session's reach", raw)
	}
	return resolved, nil
}

// OriginName returns the session's origin container's absolute name.
func (s *Session) OriginName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.originName
}

// AccessLevel returns the session's current access level.
func (s *Session) AccessLevel() container.AccessLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessLevel
}

// Credential returns the peer's uid/gid, for stamping ownership on
// containers and volumes this session creates.
func (s *Session) Credential() container.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return container.Credential{UID: s.uid, GID: s.gid}
}

// RegisterWeak flags name as a weak container owned by this session;
// Close destroys it if it is still registered.
func (s *Session) RegisterWeak(name string) {
	s.mu.Lock()
	s.weakContainers[name] = struct{}{}
	s.mu.Unlock()
}

// UnregisterWeak drops name from the weak set, e.g. after an explicit
// Destroy already removed it.
func (s *Session) UnregisterWeak(name string) {
	s.mu.Lock()
	delete(s.weakContainers, name)
	s.mu.Unlock()
}

// Close destroys every still-registered weak container (spec.md
// §4.4). Errors are collected but don't stop the sweep — a
// disconnecting client should not be able to wedge cleanup of its
// siblings by owning an already-broken container.
func (s *Session) Close() error {
	s.mu.Lock()
	names := make([]string, 0, len(s.weakContainers))
	for name := range s.weakContainers {
		names = append(names, name)
	}
	s.weakContainers = make(map[string]struct{})
	s.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := s.tree.Destroy(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BeginRequest enforces spec.md §5's one-in-flight-per-session
// ordering guarantee: read interest stays disabled from acceptance
// until the previous response drains.
func (s *Session) BeginRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.responseInFlight {
		return false
	}
	s.responseInFlight = true
	return true
}

// EndRequest clears the in-flight flag after a response has been sent,
// so the next BeginRequest succeeds. Read interest itself is re-armed by
// the event loop.
func (s *Session) EndRequest() {
	s.mu.Lock()
	s.responseInFlight = false
	s.mu.Unlock()
}

// Buffer returns the session's frame-accumulation buffer for the wire
// codec to append to and reset.
func (s *Session) Buffer() *[]byte {
	return &s.buf
}
