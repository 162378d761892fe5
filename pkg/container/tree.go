package container

import (
	"sync"
	"time"

	"github.com/cuemby/portod/pkg/nodestore"
	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/registry"
	"github.com/cuemby/portod/pkg/values"
)

const bucketContainers = "containers"

// EventQueue is the narrow contract the lifecycle engine needs from
// the event loop's deadline-driven priority queue (spec.md §4.5),
// treated here as an external collaborator per spec.md §1.
type EventQueue interface {
	// Schedule arranges for fn to run after d, returning a cancel
	// func that withdraws it before it fires.
	Schedule(d time.Duration, fn func()) (cancel func())
}

// Tree owns the whole container hierarchy: the name->Container index
// (the "container-list lock" of spec.md §5), id allocation, and the
// collaborators (persistent store, process supervisor, event queue)
// every container needs for Start/Stop/persistence.
type Tree struct {
	mu     sync.RWMutex // container-list lock: held only to resolve names/mutate the index
	byName map[string]*Container
	nextID uint64

	reg        *registry.Registry
	store      *nodestore.Store
	supervisor ProcessSupervisor
	queue      EventQueue

	hostMemory uint64
	memReserve uint64
}

// NewTree constructs a tree with a freshly created root container.
// hostMemory/memReserve implement the global guarantee cap from
// spec.md §3 ("committed guarantees plus reserve must not exceed host
// memory"); hostMemory == 0 disables the check (useful in tests).
func NewTree(reg *registry.Registry, store *nodestore.Store, sup ProcessSupervisor, queue EventQueue, hostMemory, memReserve uint64) *Tree {
	t := &Tree{
		byName:     make(map[string]*Container),
		reg:        reg,
		store:      store,
		supervisor: sup,
		queue:      queue,
		hostMemory: hostMemory,
		memReserve: memReserve,
	}
	root := &Container{
		name:     "/",
		id:       0,
		children: make(map[string]*Container),
		store:    values.New(),
		reg:      reg,
		state:    Meta,
		tree:     t,
	}
	t.byName["/"] = root
	t.nextID = 1
	return t
}

// SetQueue wires the event queue after construction, for callers (the
// composition root) that must build the event loop — which itself
// needs the tree, to hand each accepted connection a session — only
// after the tree already exists. Not safe to call once containers are
// scheduling callbacks against the old queue.
func (t *Tree) SetQueue(queue EventQueue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = queue
}

// Root returns the root container.
func (t *Tree) Root() *Container {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byName["/"]
}

// Find resolves an absolute container name.
func (t *Tree) Find(name string) (*Container, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byName[name]
	return c, ok
}

// List returns every known container.
func (t *Tree) List() []*Container {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Container, 0, len(t.byName))
	for _, c := range t.byName {
		out = append(out, c)
	}
	return out
}

// SumMemoryGuarantees sums memory_guarantee across every container in
// the tree, substituting override for the container named excluded
// (which may not have its new value stored yet).
func (t *Tree) SumMemoryGuarantees(excluded string, override uint64) uint64 {
	var total uint64
	for _, c := range t.List() {
		if c.Name() == excluded {
			total += override
			continue
		}
		v, err := c.Get("memory_guarantee")
		if err != nil {
			continue
		}
		total += v.Uint
	}
	return total
}

// Create adds a new Stopped child named name under parentName,
// persists an empty node, and registers it in the tree index.
func (t *Tree) Create(parentName, name string, owner Credential) (*Container, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[name]; exists {
		return nil, portoerr.New(portoerr.ContainerAlreadyExists, "%s", name)
	}
	parent, ok := t.byName[parentName]
	if !ok {
		return nil, portoerr.New(portoerr.ContainerDoesNotExist, "%s", parentName)
	}

	id := t.nextID
	t.nextID++

	c := &Container{
		name:     name,
		id:       id,
		parent:   parent,
		children: make(map[string]*Container),
		store:    values.New(),
		reg:      t.reg,
		state:    Stopped,
		owner:    owner,
		tree:     t,
	}
	if t.store != nil {
		if err := t.store.Save(bucketContainers, name, nil); err != nil {
			return nil, portoerr.Wrap(portoerr.Unknown, err, "persisting new container %s", name)
		}
	}

	parent.mu.Lock()
	parent.children[name] = c
	parent.mu.Unlock()

	t.byName[name] = c
	return c, nil
}

// Destroy recursively destroys name and all its descendants: each is
// transitioned to Stopped (killing and reaping) before its cgroups are
// released, its persistent node removed, and it is unlinked from its
// parent's child list.
func (t *Tree) Destroy(name string) error {
	t.mu.Lock()
	c, ok := t.byName[name]
	if !ok {
		t.mu.Unlock()
		return portoerr.New(portoerr.ContainerDoesNotExist, "%s", name)
	}
	if c.IsRoot() {
		t.mu.Unlock()
		return portoerr.New(portoerr.Permission, "root container cannot be destroyed")
	}
	t.mu.Unlock()

	for _, child := range c.Children() {
		if err := t.Destroy(child.Name()); err != nil {
			return err
		}
	}

	if err := c.stopForDestroy(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.store != nil {
		if err := t.store.Remove(bucketContainers, name); err != nil {
			return portoerr.Wrap(portoerr.Unknown, err, "removing persisted node for %s", name)
		}
	}
	if c.parent != nil {
		c.parent.mu.Lock()
		delete(c.parent.children, name)
		c.parent.mu.Unlock()
	}
	delete(t.byName, name)
	return nil
}
