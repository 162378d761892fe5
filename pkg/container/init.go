package container

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/cuemby/portod/pkg/registry"
)

// InitArg0 is the argv[0] forkExecSupervisor gives the re-exec of its
// own binary when a ProcessSpec needs ulimit/bind/root setup that must
// run inside the child's own namespaces, after clone but before exec.
// selfExePath mirrors go.podman.io/storage/pkg/reexec's Self(): using
// the in-memory /proc/self/exe means the on-disk binary is safe to
// replace underneath a running daemon.
const (
	InitArg0    = "portod-container-init"
	selfExePath = "/proc/self/exe"

	envUlimit = "PORTOD_INIT_ULIMIT"
	envBind   = "PORTOD_INIT_BIND"
	envRoot   = "PORTOD_INIT_ROOT"
)

// RunInit is the re-exec entrypoint: main() calls it before anything
// else, exactly like reexec.Init(). It returns immediately if this
// process isn't a container-init re-exec; otherwise it applies the
// ulimit/bind/root setup and syscall.Execs into the real command,
// never returning on success.
func RunInit() {
	if len(os.Args) < 2 || os.Args[0] != InitArg0 {
		return
	}
	if err := applyInit(); err != nil {
		fmt.Fprintf(os.Stderr, "portod-container-init: %v\n", err)
		os.Exit(127)
	}
	command := os.Args[1]
	env := stripInitEnv(os.Environ())
	if err := syscall.Exec(command, os.Args[1:], env); err != nil {
		fmt.Fprintf(os.Stderr, "portod-container-init: exec %s: %v\n", command, err)
		os.Exit(127)
	}
}

func applyInit() error {
	if raw := os.Getenv(envRoot); raw != "" {
		if err := unix.Chroot(raw); err != nil {
			return fmt.Errorf("chroot %s: %w", raw, err)
		}
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("chdir after chroot: %w", err)
		}
	}
	if raw := os.Getenv(envBind); raw != "" {
		binds, err := registry.ParseBind(raw)
		if err != nil {
			return fmt.Errorf("bind: %w", err)
		}
		for _, b := range binds {
			if err := applyBind(b); err != nil {
				return fmt.Errorf("bind %s->%s: %w", b.Source, b.Destination, err)
			}
		}
	}
	if raw := os.Getenv(envUlimit); raw != "" {
		limits, err := registry.ParseUlimit(raw)
		if err != nil {
			return fmt.Errorf("ulimit: %w", err)
		}
		for _, u := range limits {
			if err := applyUlimit(u); err != nil {
				return fmt.Errorf("ulimit %s: %w", u.Name, err)
			}
		}
	}
	return nil
}

// rlimitResources maps the subset of spec.md's `ulimit` grammar names
// that the kernel exposes as an RLIMIT_* resource. Names with no
// portable x/sys/unix constant (locks, msgqueue, nice, rtprio, rttime,
// sigpending) are accepted by the validator but have no effect here.
var rlimitResources = map[string]int{
	"as":      unix.RLIMIT_AS,
	"core":    unix.RLIMIT_CORE,
	"cpu":     unix.RLIMIT_CPU,
	"data":    unix.RLIMIT_DATA,
	"fsize":   unix.RLIMIT_FSIZE,
	"memlock": unix.RLIMIT_MEMLOCK,
	"nofile":  unix.RLIMIT_NOFILE,
	"nproc":   unix.RLIMIT_NPROC,
	"rss":     unix.RLIMIT_RSS,
	"stack":   unix.RLIMIT_STACK,
}

func applyUlimit(u registry.Ulimit) error {
	res, ok := rlimitResources[u.Name]
	if !ok {
		return nil
	}
	rlim := unix.Rlimit{Cur: u.Soft, Max: u.Hard}
	if u.SoftInf {
		rlim.Cur = unix.RLIM_INFINITY
	}
	if u.HardInf {
		rlim.Max = unix.RLIM_INFINITY
	}
	return unix.Setrlimit(res, &rlim)
}

func applyBind(b registry.Bind) error {
	if err := unix.Mount(b.Source, b.Destination, "", unix.MS_BIND, ""); err != nil {
		return err
	}
	if b.ReadOnly {
		return unix.Mount("", b.Destination, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, "")
	}
	return nil
}

func stripInitEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, e := range env {
		if strings.HasPrefix(e, envUlimit+"=") || strings.HasPrefix(e, envBind+"=") || strings.HasPrefix(e, envRoot+"=") {
			continue
		}
		out = append(out, e)
	}
	return out
}
