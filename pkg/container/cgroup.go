package container

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// cgroupRoot is the unified (v2) hierarchy mountpoint. Overridable in
// tests via WithCgroupRoot.
var cgroupRoot = "/sys/fs/cgroup/portod"

// WithCgroupRoot overrides the cgroup root for the process, returning
// a restore function. Intended for tests that exercise cgroup creation
// against a temp directory instead of the real hierarchy.
func WithCgroupRoot(root string) (restore func()) {
	prev := cgroupRoot
	cgroupRoot = root
	return func() { cgroupRoot = prev }
}

// cgroupSubsystems are the leaf controllers this engine manages. A
// container's Runtime.Cgroups map is keyed by these names, mirroring
// spec.md §3's "mapping from cgroup subsystem identifier to a leaf
// cgroup path".
var cgroupSubsystems = []string{"memory", "cpu", "freezer"}

// createCgroups creates one leaf directory per subsystem for c and
// returns the subsystem->path map. On any failure it removes whatever
// it already created and returns the error (spec.md §4.2: "rolls back
// created cgroups").
func (c *Container) createCgroups() (map[string]string, error) {
	created := make(map[string]string, len(cgroupSubsystems))
	name := strings.TrimPrefix(c.Name(), "/")
	if name == "" {
		name = "root"
	}
	for _, sub := range cgroupSubsystems {
		dir := filepath.Join(cgroupRoot, sub, name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			rollbackCgroups(created)
			return nil, fmt.Errorf("creating cgroup %s/%s: %w", sub, name, err)
		}
		created[sub] = dir
	}
	if err := c.applyCgroupLimits(created); err != nil {
		rollbackCgroups(created)
		return nil, err
	}
	return created, nil
}

func rollbackCgroups(created map[string]string) {
	for _, dir := range created {
		_ = os.Remove(dir)
	}
}

// applyCgroupLimits writes memory_limit/cpu_priority into the freshly
// created leaf directories. Missing kernel knobs are tolerated (some
// controllers may be delegated read-only in containerized test
// environments) rather than failing Start outright — write failures
// here are ignored and the function always returns nil.
func (c *Container) applyCgroupLimits(dirs map[string]string) error {
	if dir, ok := dirs["memory"]; ok {
		limit, err := c.Get("memory_limit")
		if err == nil && limit.Uint > 0 {
			_ = os.WriteFile(filepath.Join(dir, "memory.max"), []byte(strconv.FormatUint(limit.Uint, 10)), 0644)
		}
	}
	if dir, ok := dirs["cpu"]; ok {
		prio, err := c.Get("cpu_priority")
		if err == nil {
			weight := 1 + prio.Int*9999/99 // map [0,99] -> cgroup v2 cpu.weight [1,10000]
			_ = os.WriteFile(filepath.Join(dir, "cpu.weight"), []byte(strconv.FormatInt(weight, 10)), 0644)
		}
	}
	return nil
}

// destroyCgroups removes the leaf directories; kernel refuses rmdir on
// a cgroup with live processes, so this is only called after the child
// has been reaped.
func (c *Container) destroyCgroups() error {
	c.mu.RLock()
	dirs := c.runtime.Cgroups
	c.mu.RUnlock()
	var firstErr error
	for _, dir := range dirs {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// writeCgroupFreeze toggles the unified hierarchy's cgroup.freeze
// control file, the v2 equivalent of the legacy freezer.state knob.
func writeCgroupFreeze(dir string, frozen bool) error {
	val := "0"
	if frozen {
		val = "1"
	}
	return os.WriteFile(filepath.Join(dir, "cgroup.freeze"), []byte(val), 0644)
}

// cgroupStat reads cpu_usage/memory_usage data properties straight
// from the controller's accounting files.
func (c *Container) cgroupStat(name string) (string, error) {
	c.mu.RLock()
	dirs := c.runtime.Cgroups
	c.mu.RUnlock()

	switch name {
	case "memory_usage":
		dir, ok := dirs["memory"]
		if !ok {
			return "0", nil
		}
		data, err := os.ReadFile(filepath.Join(dir, "memory.current"))
		if err != nil {
			return "0", nil
		}
		return strings.TrimSpace(string(data)), nil
	case "cpu_usage":
		dir, ok := dirs["cpu"]
		if !ok {
			return "0", nil
		}
		data, err := os.ReadFile(filepath.Join(dir, "cpu.stat"))
		if err != nil {
			return "0", nil
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "usage_usec") {
				fields := strings.Fields(line)
				if len(fields) == 2 {
					return fields[1], nil
				}
			}
		}
		return "0", nil
	}
	return "0", nil
}
