package container

import (
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/registry"
)

// Start transitions a Stopped/Dead container through Starting into
// Running: it resolves the property set into a ProcessSpec, creates
// cgroups, and hands off to the tree's ProcessSupervisor. Per spec.md
// §4.2 this is not atomic — a failure partway through lands the
// container in Dead with exitStatus.Error set rather than rolling back
// to Stopped, so the caller always observes a terminal state.
func (c *Container) Start() error {
	if err := c.transition(Starting); err != nil {
		return err
	}

	spec, err := c.buildSpec()
	if err != nil {
		c.failStart(err)
		return err
	}

	cgroups, err := c.createCgroups()
	if err != nil {
		c.failStart(err)
		return err
	}
	spec.CgroupFS = cgroups["memory"]

	c.mu.Lock()
	c.runtime.Cgroups = cgroups
	c.mu.Unlock()

	exitCh := c.armExitCh()

	pid, err := c.tree.supervisor.Start(spec, func(exitCode, signal int, startErr error) {
		c.scheduleExitHandling(exitCode, signal, startErr, exitCh)
	})
	if err != nil {
		_ = c.destroyCgroups()
		c.failStart(err)
		return err
	}

	c.setRuntimePid(pid)
	if err := c.transition(Running); err != nil {
		return err
	}
	return nil
}

// failStart records startErr and drives the container to Dead; Start
// never leaves a container in Starting.
func (c *Container) failStart(startErr error) {
	c.setExitStatus(ExitStatus{Error: startErr})
	_ = c.transition(Dead)
}

// scheduleExitHandling marshals a supervisor exit callback (invoked
// from the supervisor's own goroutine) onto the tree's single-threaded
// event queue, per ProcessSupervisor's documented contract.
func (c *Container) scheduleExitHandling(exitCode, signal int, startErr error, exitCh chan struct{}) {
	handle := func() {
		c.handleExit(exitCode, signal, startErr)
		close(exitCh)
	}
	if c.tree != nil && c.tree.queue != nil {
		c.tree.queue.Schedule(0, handle)
		return
	}
	handle()
}

// handleExit runs on the event loop's logical thread once a child has
// been reaped: it records the exit status, releases cgroups, and
// either respawns (if `respawn` is set and max_respawns allows it) or
// settles into Dead.
func (c *Container) handleExit(exitCode, signal int, startErr error) {
	c.setExitStatus(ExitStatus{ExitCode: exitCode, Signal: signal, Error: startErr})
	c.setRuntimePid(0)
	_ = c.destroyCgroups()

	c.mu.Lock()
	c.runtime.Cgroups = nil
	c.mu.Unlock()

	if c.shouldRespawn() {
		c.scheduleRespawn()
		return
	}
	_ = c.transition(Dead)
}

func (c *Container) shouldRespawn() bool {
	respawn, err := c.Get("respawn")
	if err != nil || !respawn.Bool {
		return false
	}
	max, err := c.Get("max_respawns")
	if err != nil {
		return false
	}
	if max.Int < 0 {
		return true
	}
	c.mu.RLock()
	count := c.respawnCount
	c.mu.RUnlock()
	return int64(count) < max.Int
}

// scheduleRespawn queues a fresh Start after respawnCooldown, via the
// tree's event queue so the restart does not happen synchronously
// inside the exit callback.
func (c *Container) scheduleRespawn() {
	c.mu.Lock()
	c.respawnCount++
	c.mu.Unlock()

	if err := c.transition(Stopped); err != nil {
		_ = c.transition(Dead)
		return
	}
	restart := func() { _ = c.Start() }
	if c.tree != nil && c.tree.queue != nil {
		cancel := c.tree.queue.Schedule(respawnCooldown, restart)
		c.mu.Lock()
		c.respawnCancel = cancel
		c.mu.Unlock()
		return
	}
	restart()
}

// buildSpec resolves the container's properties into a ProcessSpec.
// Command is split on whitespace; spec.md's `command` grammar is a
// literal argv, not a shell command line, so no quoting or expansion is
// performed here.
func (c *Container) buildSpec() (ProcessSpec, error) {
	command, err := c.Get("command")
	if err != nil {
		return ProcessSpec{}, err
	}
	fields := strings.Fields(command.Str)
	if len(fields) == 0 {
		return ProcessSpec{}, portoerr.New(portoerr.InvalidValue, "command is empty")
	}

	env, err := c.Get("env")
	if err != nil {
		return ProcessSpec{}, err
	}
	cwd, err := c.Get("cwd")
	if err != nil {
		return ProcessSpec{}, err
	}
	stdin, err := c.Get("stdin_path")
	if err != nil {
		return ProcessSpec{}, err
	}
	stdout, err := c.Get("stdout_path")
	if err != nil {
		return ProcessSpec{}, err
	}
	stderr, err := c.Get("stderr_path")
	if err != nil {
		return ProcessSpec{}, err
	}
	hostname, err := c.Get("hostname")
	if err != nil {
		return ProcessSpec{}, err
	}
	isolate, err := c.Get("isolate")
	if err != nil {
		return ProcessSpec{}, err
	}
	ulimit, err := c.Get("ulimit")
	if err != nil {
		return ProcessSpec{}, err
	}
	bind, err := c.Get("bind")
	if err != nil {
		return ProcessSpec{}, err
	}
	root, err := c.Get("root")
	if err != nil {
		return ProcessSpec{}, err
	}
	net, err := c.Get("net")
	if err != nil {
		return ProcessSpec{}, err
	}
	netEntries, err := registry.ParseNet(net.Str)
	if err != nil {
		return ProcessSpec{}, portoerr.Wrap(portoerr.InvalidValue, err, "property %q", "net")
	}
	for _, e := range netEntries {
		if e.Mode == registry.NetMacvlan {
			return ProcessSpec{}, portoerr.New(portoerr.NotSupported, "net mode %q requires host veth/macvlan link setup this daemon does not perform", e.Mode)
		}
	}
	netIsolate := netEntries[0].Mode == registry.NetNone

	owner := c.Owner()
	return ProcessSpec{
		Command:    fields[0],
		Args:       fields[1:],
		Env:        env.List,
		Dir:        cwd.Str,
		UID:        owner.UID,
		GID:        owner.GID,
		Hostname:   hostname.Str,
		Isolate:    isolate.Bool,
		Stdin:      stdin.Str,
		Stdout:     stdout.Str,
		Stderr:     stderr.Str,
		NetIsolate: netIsolate,
		Ulimits:    ulimit.Str,
		Binds:      bind.Str,
		Root:       root.Str,
	}, nil
}

// Stop sends SIGTERM, escalating to SIGKILL after timeout if the
// process has not been reaped, then waits for the exit callback to
// settle the container into Dead before transitioning to Stopped. A
// Dead or Meta container has no process to signal and goes straight
// to Stopped.
func (c *Container) Stop(timeout time.Duration) error {
	c.mu.RLock()
	state := c.state
	pid := c.runtime.Pid
	cancel := c.respawnCancel
	c.mu.RUnlock()

	if cancel != nil {
		cancel()
		c.mu.Lock()
		c.respawnCancel = nil
		c.mu.Unlock()
	}

	if state == Stopped {
		return nil
	}
	if state == Dead || state == Meta {
		return c.transition(Stopped)
	}
	if state != Running && state != Paused && state != Starting {
		return portoerr.New(portoerr.InvalidState, "cannot stop from state %s", state)
	}

	if pid != 0 && c.tree != nil && c.tree.supervisor != nil {
		exitCh := c.exitChan()
		_ = c.tree.supervisor.Signal(pid, syscall.SIGTERM)
		select {
		case <-exitCh:
		case <-time.After(timeout):
			_ = c.tree.supervisor.Signal(pid, syscall.SIGKILL)
			<-exitCh
		}
	}

	return c.transition(Stopped)
}

// stopForDestroy is Stop with a fixed grace period, used by Tree.Destroy
// so callers never need to invent a timeout just to tear a container
// down.
func (c *Container) stopForDestroy() error {
	return c.Stop(10 * time.Second)
}

// Pause freezes a Running container's processes by writing "1" to the
// cgroup v2 cgroup.freeze file in its freezer leaf directory
// (spec.md §4.2: Running <-> Paused).
func (c *Container) Pause() error {
	if err := c.transition(Paused); err != nil {
		return err
	}
	c.mu.RLock()
	dir := c.runtime.Cgroups["freezer"]
	c.mu.RUnlock()
	if dir != "" {
		_ = writeCgroupFreeze(dir, true)
	}
	return nil
}

// Resume thaws a Paused container back to Running.
func (c *Container) Resume() error {
	if err := c.transition(Running); err != nil {
		return err
	}
	c.mu.RLock()
	dir := c.runtime.Cgroups["freezer"]
	c.mu.RUnlock()
	if dir != "" {
		_ = writeCgroupFreeze(dir, false)
	}
	return nil
}

// Kill delivers sig to the container's live process without waiting
// for it to exit; the exit callback drives the state transition when
// the process is eventually reaped.
func (c *Container) Kill(sig syscall.Signal) error {
	c.mu.RLock()
	pid := c.runtime.Pid
	state := c.state
	c.mu.RUnlock()
	if state != Running && state != Paused {
		return portoerr.New(portoerr.InvalidState, "cannot kill from state %s", state)
	}
	if pid == 0 || c.tree == nil || c.tree.supervisor == nil {
		return portoerr.New(portoerr.InvalidState, "container has no live process")
	}
	return c.tree.supervisor.Signal(pid, sig)
}

// Wait blocks until the current run's exit callback has settled, or
// timeout elapses, whichever comes first. A zero timeout waits
// indefinitely.
func (c *Container) Wait(timeout time.Duration) ExitStatus {
	ch := c.exitChan()
	if timeout <= 0 {
		<-ch
		return c.ExitStatus()
	}
	select {
	case <-ch:
	case <-time.After(timeout):
	}
	return c.ExitStatus()
}
