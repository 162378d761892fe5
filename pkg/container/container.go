package container

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/registry"
	"github.com/cuemby/portod/pkg/values"
)

// AccessLevel is the most permissive operation allowed to a client
// inside its origin container (spec.md §3/§4.4).
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessReadOnly
	AccessNormal
	AccessSelfIsolate
	AccessSuperUser
	AccessInternal
)

// Credential is a uid+gid pair.
type Credential struct {
	UID uint32
	GID uint32
}

// Runtime holds the kernel-side resources a live container owns: its
// cgroup handles keyed by subsystem, an optional child pid, and an
// optional materialized network configuration.
type Runtime struct {
	Cgroups map[string]string // subsystem id -> leaf cgroup path
	Pid     int
	Net     *NetState
}

// NetState is the materialized result of the `net` property.
type NetState struct {
	Kind  string // "none", "host", "macvlan", ...
	Iface string
}

// Container is one node of the lifecycle hierarchy.
type Container struct {
	mu sync.RWMutex

	name string
	id   uint64

	parent   *Container
	children map[string]*Container

	store *values.Store
	reg   *registry.Registry

	state      State
	exitStatus ExitStatus
	runtime    Runtime

	owner      Credential
	clientRefs int32
	weak       bool

	respawnCount int
	respawnCancel func() // withdraws a pending scheduled respawn, if any

	exitCh chan struct{} // closed when the current run transitions to Dead/Stopped

	tree *Tree // back-reference for hierarchy queries and persistence
}

// armExitCh installs a fresh exit channel for a new run and returns it.
func (c *Container) armExitCh() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	c.exitCh = ch
	return ch
}

// exitChan returns the channel for the current (or most recent) run,
// creating a closed one if the container never started.
func (c *Container) exitChan() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exitCh == nil {
		ch := make(chan struct{})
		close(ch)
		c.exitCh = ch
	}
	return c.exitCh
}

// Name returns the container's absolute, slash-separated name (the
// root is "/").
func (c *Container) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// ID returns the container's numeric id.
func (c *Container) ID() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Parent implements registry.PropertyContainer. It returns the parent
// as a PropertyContainer view, never as a concrete *Container, so the
// registry package never needs to know about this type.
func (c *Container) Parent() (registry.PropertyContainer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.parent == nil {
		return nil, false
	}
	return c.parent, true
}

// ParentContainer returns the concrete parent, or nil for root. Used
// internally by the lifecycle/hierarchy code that needs more than the
// registry's narrow view.
func (c *Container) ParentContainer() *Container {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parent
}

// Children returns a snapshot slice of child containers.
func (c *Container) Children() []*Container {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Container, 0, len(c.children))
	for _, ch := range c.children {
		out = append(out, ch)
	}
	return out
}

// IsRoot reports whether this is the root container ("/").
func (c *Container) IsRoot() bool {
	return c.Name() == "/"
}

// State returns the current lifecycle state, implementing
// registry.PropertyContainer via its string form.
func (c *Container) State() string {
	return c.StateValue().String()
}

// StateValue returns the typed current state.
func (c *Container) StateValue() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// GetExplicit implements registry.PropertyContainer.
func (c *Container) GetExplicit(name string) (registry.Value, bool) {
	return c.store.GetExplicit(name)
}

// Owner returns the owning credential.
func (c *Container) Owner() Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

// AccessLevel returns the access level this container itself
// contributes to a session originating inside it: AccessSelfIsolate
// if it isolates (spec.md §4.2's `isolate` property), else
// AccessInternal — the lattice's top, so it never narrows a session's
// credential-derived level on its own.
func (c *Container) AccessLevel() AccessLevel {
	if !c.UseParentNamespace() {
		return AccessSelfIsolate
	}
	return AccessInternal
}

// AccessCap returns the minimum AccessLevel along c's ancestor chain
// up to and including the root (spec.md §4.4: a session's access
// level is "the minimum access along the ancestor chain"). A session
// originating inside an isolating container can never be elevated
// above AccessSelfIsolate, regardless of the peer's credentials.
func (c *Container) AccessCap() AccessLevel {
	min := AccessInternal
	for cur := c; cur != nil; cur = cur.ParentContainer() {
		if lvl := cur.AccessLevel(); lvl < min {
			min = lvl
		}
	}
	return min
}

// Pid returns the live child pid, or 0 if none.
func (c *Container) Pid() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runtime.Pid
}

// ExitStatus returns the last observed exit status.
func (c *Container) ExitStatus() ExitStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exitStatus
}

// IncRef/DecRef track the client reference count used for weak
// container lifetime (spec.md §3).
func (c *Container) IncRef() {
	c.mu.Lock()
	c.clientRefs++
	c.mu.Unlock()
}

func (c *Container) DecRef() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientRefs--
	return c.clientRefs
}

// MarkWeak flags this container as session-scoped.
func (c *Container) MarkWeak() {
	c.mu.Lock()
	c.weak = true
	c.mu.Unlock()
}

// Weak reports whether this container is session-scoped.
func (c *Container) Weak() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.weak
}

// Get resolves a property per spec.md §4.1: explicit value if set,
// else parent's resolved value if the property is inherited, else the
// registry default computed on the originating container. This is the
// "plain loop ending at root" of spec.md §9, implemented as bounded
// recursion along the (acyclic, parent-terminated) hierarchy.
func (c *Container) Get(name string) (registry.Value, error) {
	desc, ok := c.reg.Lookup(name)
	if !ok {
		return registry.Value{}, portoerr.New(portoerr.InvalidProperty, "unknown property %q", name)
	}
	return c.resolve(desc, c)
}

// resolve walks the parent chain on behalf of originating container
// orig, so that a property flagged inherited falls back through
// successive parents and finally calls the default provider with the
// ORIGINAL container, not the ancestor where resolution stopped.
func (c *Container) resolve(desc *registry.Descriptor, orig *Container) (registry.Value, error) {
	if v, ok := c.store.GetExplicit(desc.Name); ok {
		return v, nil
	}
	if desc.Flags.Has(registry.FlagInherited) {
		parent := c.ParentContainer()
		if parent != nil {
			return parent.resolve(desc, orig)
		}
	}
	return desc.Default(orig), nil
}

// Set validates and stores a raw wire value for name, per spec.md
// §4.1's failure taxonomy. privileged indicates the calling session is
// SuperUser (or Internal); it gates FlagSuperuserOnly and
// FlagReadOnlyIfHasParent properties.
func (c *Container) Set(name, raw string, privileged bool) error {
	desc, ok := c.reg.Lookup(name)
	if !ok {
		return portoerr.New(portoerr.InvalidProperty, "unknown property %q", name)
	}
	if desc.Flags.Has(registry.FlagHidden) {
		return portoerr.New(portoerr.InvalidProperty, "property %q is read-only", name)
	}
	if !desc.Mutable(c.State()) {
		return portoerr.New(portoerr.InvalidState, "property %q cannot change in state %s", name, c.State())
	}
	if desc.Flags.Has(registry.FlagSuperuserOnly) && !privileged {
		return portoerr.New(portoerr.Permission, "property %q requires superuser", name)
	}
	if desc.Flags.Has(registry.FlagReadOnlyIfHasParent) && !c.IsRoot() && !privileged {
		return portoerr.New(portoerr.Permission, "property %q is read-only on non-root containers", name)
	}

	v, err := desc.Validate(c, raw)
	if err != nil {
		return portoerr.Wrap(portoerr.InvalidValue, err, "property %q", name)
	}

	if isHierarchicalMemory(name) {
		if err := c.checkHierarchicalMemory(name, v.Uint); err != nil {
			return err
		}
	}

	if desc.OnSet != nil {
		if err := desc.OnSet(c, v); err != nil {
			return err
		}
	}

	c.mu.Lock()
	journal := c.journalFunc()
	c.mu.Unlock()
	c.store.SetJournal(journal)
	if err := c.store.Set(name, raw, v); err != nil {
		return portoerr.Wrap(portoerr.Unknown, err, "persisting property %q", name)
	}
	return nil
}

func (c *Container) journalFunc() values.JournalFunc {
	if c.tree == nil || c.tree.store == nil {
		return nil
	}
	name := c.name
	return func(key, raw string) error {
		return c.tree.store.Append(bucketContainers, name, key, raw)
	}
}

// GetData returns a read-only derived fact. Unlike Get, these never
// consult the registry's inheritance chain — each is computed fresh.
func (c *Container) GetData(name string) (string, error) {
	switch name {
	case "uid":
		return fmt.Sprintf("%d", c.Owner().UID), nil
	case "gid":
		return fmt.Sprintf("%d", c.Owner().GID), nil
	case "id":
		return fmt.Sprintf("%d", c.ID()), nil
	case "root_pid":
		return fmt.Sprintf("%d", c.Pid()), nil
	case "state":
		return c.State(), nil
	case "exit_status":
		es := c.ExitStatus()
		if es.Error != nil {
			return "-1", nil
		}
		return fmt.Sprintf("%d", es.ExitCode), nil
	case "stdout":
		return c.tailPath("stdout_path")
	case "stderr":
		return c.tailPath("stderr_path")
	case "cpu_usage", "memory_usage":
		return c.cgroupStat(name)
	default:
		return "", portoerr.New(portoerr.InvalidProperty, "unknown data %q", name)
	}
}

func (c *Container) tailPath(pathProperty string) (string, error) {
	v, err := c.Get(pathProperty)
	if err != nil {
		return "", err
	}
	return v.Str, nil
}

// setRuntimePid is used by the lifecycle engine to record/clear the
// live child pid under the write lock.
func (c *Container) setRuntimePid(pid int) {
	c.mu.Lock()
	c.runtime.Pid = pid
	c.mu.Unlock()
}

func (c *Container) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Container) setExitStatus(es ExitStatus) {
	c.mu.Lock()
	c.exitStatus = es
	c.mu.Unlock()
}

// transition validates and applies a state change, returning
// InvalidState on an illegal edge.
func (c *Container) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !canTransition(c.state, to) {
		return portoerr.New(portoerr.InvalidState, "cannot go from %s to %s", c.state, to)
	}
	c.state = to
	return nil
}

func isHierarchicalMemory(name string) bool {
	return name == "memory_guarantee" || name == "memory_limit"
}

const respawnCooldown = 0 * time.Second // placeholder for clarity at call sites
