package session

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cuemby/portod/pkg/container"
	"github.com/cuemby/portod/pkg/portoerr"
)

// PeerCredential queries the kernel for the uid/gid/pid of the process
// on the other end of a Unix stream socket (spec.md §4.4).
func PeerCredential(fd int) (pid int32, uid, gid uint32, err error) {
	ucred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("SO_PEERCRED: %w", err)
	}
	return ucred.Pid, ucred.Uid, ucred.Gid, nil
}

// cgroupRoot mirrors pkg/container's cgroup layout; it is the prefix
// this package strips from /proc/<pid>/cgroup entries to recover a
// container name. Tests override it via WithCgroupRoot.
var cgroupRoot = "portod"

// WithCgroupRoot overrides the cgroup path component used to identify
// a container from a peer pid's cgroup membership.
func WithCgroupRoot(root string) (restore func()) {
	prev := cgroupRoot
	cgroupRoot = root
	return func() { cgroupRoot = prev }
}

// ContainerNameForPid reads /proc/<pid>/cgroup and extracts the
// container name from whichever controller line was placed under this
// daemon's cgroup subtree. It returns "/" (the root container) if the
// pid is not inside any daemon-managed cgroup — e.g. the daemon's own
// pid, or a client calling from outside any container.
func ContainerNameForPid(pid int32) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return "", fmt.Errorf("reading cgroup for pid %d: %w", pid, err)
	}
	marker := "/" + cgroupRoot + "/"
	for _, line := range strings.Split(string(data), "\n") {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		rest := line[idx+len(marker):]
		// rest is "<subsystem>/<container-path>" for the per-subsystem
		// layout pkg/container uses; drop the leading subsystem segment.
		if slash := strings.Index(rest, "/"); slash >= 0 {
			rest = rest[slash+1:]
		} else {
			rest = ""
		}
		if rest == "" {
			return "/", nil
		}
		return "/" + rest, nil
	}
	return "/", nil
}

// porto-containers and <user>-containers special groups grant
// read-write access to clients outside the superuser/owner-uid case
// (spec.md §4.4's access matrix, third row).
const portoGroup = "porto-containers"

// ComputeAccessLevel derives the effective access level and credential
// bump for a peer: root is bumped to SuperUser; membership in the
// porto group (or the per-user `<name>-containers` group) grants
// Normal; everyone else is downgraded to ReadOnly.
func ComputeAccessLevel(uid, gid uint32) (container.AccessLevel, error) {
	if uid == 0 {
		return container.AccessSuperUser, nil
	}
	u, err := user.LookupId(fmt.Sprintf("%d", uid))
	if err != nil {
		return container.AccessReadOnly, nil
	}
	groups, err := u.GroupIds()
	if err != nil {
		return container.AccessReadOnly, nil
	}
	wantGroups := []string{portoGroup, u.Username + "-containers"}
	for _, gidStr := range groups {
		g, err := user.LookupGroupId(gidStr)
		if err != nil {
			continue
		}
		for _, want := range wantGroups {
			if g.Name == want {
				return container.AccessNormal, nil
			}
		}
	}
	return container.AccessReadOnly, nil
}

// EligibleOrigin reports whether a container's state permits it to be
// used as a session's origin (spec.md §4.4: "If the origin container
// is not in {Running, Starting, Meta}, reject the session with
// Permission").
func EligibleOrigin(c *container.Container) error {
	switch c.State() {
	case "Running", "Starting", "Meta":
		return nil
	default:
		return portoerr.New(portoerr.Permission, "origin container %s is not in an eligible state", c.Name())
	}
}
