package session

import (
	"github.com/cuemby/portod/pkg/container"
	"github.com/cuemby/portod/pkg/portoerr"
)

// Operation classifies a request for the access matrix (spec.md
// §4.4).
type Operation int

const (
	OpRead  Operation = iota // read property/data
	OpWrite                  // set property, Start/Stop/Kill, volume control
)

// CheckAccess enforces spec.md §4.4's access matrix for a request
// against target, issued by s.
func (s *Session) CheckAccess(op Operation, target *container.Container) error {
	switch op {
	case OpRead:
		if s.accessLevel < container.AccessReadOnly {
			return portoerr.New(portoerr.Permission, "session has no read access")
		}
		return nil
	case OpWrite:
		if s.accessLevel <= container.AccessReadOnly {
			return portoerr.New(portoerr.Permission, "session is read-only")
		}
	default:
		return portoerr.New(portoerr.Permission, "unknown operation")
	}

	if target.IsRoot() {
		return portoerr.New(portoerr.Permission, "root container is read-only")
	}
	if !isWithin(target.Name(), s.writeNamespace) {
		return portoerr.New(portoerr.Permission, "%s is outside session's write namespace", target.Name())
	}
	if !s.ownsOrPrivileged(target) {
		return portoerr.New(portoerr.Permission, "session may not modify another owner's container")
	}
	return nil
}

// ownsOrPrivileged implements the matrix's third row: a write to
// another uid's container requires SuperUser, membership in the
// relevant special group (AccessNormal, granted by ComputeAccessLevel
// for porto-containers/<user>-containers membership), or a matching
// uid. AccessNormal is already scoped to the session's writeNamespace
// by the isWithin check in CheckAccess, so once inside that namespace
// group membership alone is enough — it need not also own target.
func (s *Session) ownsOrPrivileged(target *container.Container) bool {
	switch s.accessLevel {
	case container.AccessSuperUser, container.AccessInternal, container.AccessNormal:
		return true
	}
	return target.Owner().UID == s.uid
}
