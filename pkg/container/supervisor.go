package container

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ProcessSpec is everything the supervisor needs to fork+exec a
// container's command. It is assembled from the container's resolved
// properties immediately before Start's fork step.
type ProcessSpec struct {
	Command  string
	Args     []string
	Env      []string
	Dir      string
	UID      uint32
	GID      uint32
	Hostname string
	Isolate  bool // namespaces are created fresh rather than shared with the host
	Stdin    string
	Stdout   string
	Stderr   string
	CgroupFS string // leaf cgroup v2 directory the parent moves the child into right after it starts

	// NetIsolate requests a fresh, unconfigured network namespace
	// (the `net` property resolved to "none"); "host" leaves it
	// false and shares the namespace Isolate otherwise establishes.
	NetIsolate bool

	// Ulimits and Binds carry the raw, already-validated `ulimit` and
	// `bind` property strings verbatim (registry.ParseUlimit/ParseBind
	// have already accepted them at Set time). Root carries the raw
	// `root` property, a chroot target, or "" for none. All three are
	// empty on the common path, which skips the re-exec stage below.
	Ulimits string
	Binds   string
	Root    string
}

// ProcessSupervisor is the narrow boundary the lifecycle engine uses
// to turn a validated ProcessSpec into a running kernel process. The
// concrete implementation owns the actual fork/exec, namespace and
// cgroup-join syscalls that spec.md §1 names as an external
// collaborator ("low-level cgroup/netlink/mount system-call
// wrappers"); this interface is the contract the engine depends on
// instead of calling those primitives directly, mirroring how the
// teacher's lifecycle code depends on runtime.Runtime rather than
// containerd's wire protocol.
type ProcessSupervisor interface {
	// Start forks and execs spec, returning the child pid as soon as
	// fork succeeds. onExit is invoked exactly once, from a
	// supervisor-owned goroutine, once the process has been reaped;
	// the callback itself must not touch container state directly —
	// callers are expected to marshal it back onto the event loop.
	Start(spec ProcessSpec, onExit func(exitCode, signal int, err error)) (pid int, err error)
	// Signal delivers sig to pid.
	Signal(pid int, sig syscall.Signal) error
}

// forkExecSupervisor is the real Linux implementation: os/exec plus a
// SysProcAttr namespace/credential configuration. The child does not
// join its cgroup itself: once cmd.Start returns, the parent writes the
// child's pid to the leaf's cgroup.procs (joinCgroup), killing the
// child if that write fails.
type forkExecSupervisor struct{}

// NewForkExecSupervisor returns the production ProcessSupervisor.
func NewForkExecSupervisor() ProcessSupervisor {
	return forkExecSupervisor{}
}

func (forkExecSupervisor) Start(spec ProcessSpec, onExit func(int, int, error)) (int, error) {
	var cmd *exec.Cmd
	needsInit := spec.Ulimits != "" || spec.Binds != "" || spec.Root != ""
	if needsInit {
		// ulimit/bind/root all need kernel setup performed inside the
		// child's own namespaces, after clone but before exec — a
		// window in which Go cannot safely run arbitrary code
		// in-process (only async-signal-safe operations are valid
		// between fork and exec). So the daemon re-execs its own
		// binary under a marker argv[0]; RunInit recognizes the
		// marker, applies the setup, then syscall.Execs into the
		// real command. Mirrors containers/storage's pkg/reexec.
		cmd = exec.Command(selfExePath)
		cmd.Args = append([]string{InitArg0, spec.Command}, spec.Args...)
		cmd.Env = append(append([]string(nil), spec.Env...),
			envUlimit+"="+spec.Ulimits,
			envBind+"="+spec.Binds,
			envRoot+"="+spec.Root,
		)
	} else {
		cmd = exec.Command(spec.Command, spec.Args...)
		cmd.Env = spec.Env
	}
	cmd.Dir = spec.Dir

	attr := &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: spec.UID, Gid: spec.GID},
	}
	if spec.Isolate {
		attr.Cloneflags = unix.CLONE_NEWNS | unix.CLONE_NEWUTS | unix.CLONE_NEWIPC | unix.CLONE_NEWPID
		if spec.Hostname != "" {
			attr.Hostname = spec.Hostname
		}
	}
	if spec.NetIsolate {
		attr.Cloneflags |= unix.CLONE_NEWNET
	}
	cmd.SysProcAttr = attr

	var err error
	cmd.Stdin, err = openOrNull(spec.Stdin, os.O_RDONLY)
	if err != nil {
		return 0, fmt.Errorf("opening stdin: %w", err)
	}
	cmd.Stdout, err = openOrNull(spec.Stdout, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, fmt.Errorf("opening stdout: %w", err)
	}
	cmd.Stderr, err = openOrNull(spec.Stderr, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, fmt.Errorf("opening stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	if spec.CgroupFS != "" {
		if err := joinCgroup(spec.CgroupFS, pid); err != nil {
			_ = cmd.Process.Kill()
			return 0, fmt.Errorf("joining cgroup %s: %w", spec.CgroupFS, err)
		}
	}

	go func() {
		err := cmd.Wait()
		exitCode, signal := 0, 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
					if status.Signaled() {
						signal = int(status.Signal())
					} else {
						exitCode = status.ExitStatus()
					}
				}
			} else {
				onExit(0, 0, err)
				return
			}
		}
		onExit(exitCode, signal, nil)
	}()

	return pid, nil
}

func (forkExecSupervisor) Signal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

func openOrNull(path string, flag int) (*os.File, error) {
	if path == "" || path == "/dev/null" {
		return os.OpenFile(os.DevNull, flag, 0644)
	}
	return os.OpenFile(path, flag, 0644)
}

// joinCgroup writes pid to <dir>/cgroup.procs, the unified-hierarchy
// (cgroup v2) convention for adding a process to a leaf cgroup.
func joinCgroup(dir string, pid int) error {
	if dir == "" {
		return nil
	}
	return os.WriteFile(strings.TrimRight(dir, "/")+"/cgroup.procs", []byte(fmt.Sprintf("%d\n", pid)), 0644)
}
