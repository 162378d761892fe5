package container

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/cuemby/portod/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue runs scheduled work synchronously and in-line, standing in
// for the real event loop in tests that don't need real timers.
type fakeQueue struct{}

func (fakeQueue) Schedule(d time.Duration, fn func()) func() {
	fn()
	return func() {}
}

// fakeSupervisor simulates a process that exits immediately with a
// fixed code once Start is called, without touching the real kernel.
type fakeSupervisor struct {
	mu       sync.Mutex
	nextPid  int
	exitCode int
	signal   int
	started  []ProcessSpec
	onExit   func(int, int, error)
}

func (f *fakeSupervisor) Start(spec ProcessSpec, onExit func(int, int, error)) (int, error) {
	f.mu.Lock()
	f.nextPid++
	pid := f.nextPid
	f.started = append(f.started, spec)
	f.onExit = onExit
	f.mu.Unlock()
	return pid, nil
}

func (f *fakeSupervisor) Signal(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	onExit := f.onExit
	f.mu.Unlock()
	if onExit != nil {
		onExit(f.exitCode, f.signal, nil)
	}
	return nil
}

func newTestTree(t *testing.T, sup ProcessSupervisor) *Tree {
	t.Helper()
	restore := WithCgroupRoot(t.TempDir())
	t.Cleanup(restore)

	reg := registry.New()
	registry.RegisterStandard(reg)
	return NewTree(reg, nil, sup, fakeQueue{}, 0, 0)
}

func TestPropertyInheritance(t *testing.T) {
	tree := newTestTree(t, &fakeSupervisor{})
	parent, err := tree.Create("/", "/p", Credential{})
	require.NoError(t, err)
	require.NoError(t, parent.Set("env", "A=1;B=2", true))

	child, err := tree.Create("/p", "/p/a", Credential{})
	require.NoError(t, err)

	v, err := child.Get("env")
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "B=2"}, v.List)

	// Explicit override on the child shadows the inherited value.
	require.NoError(t, child.Set("env", "C=3", true))
	v, err = child.Get("env")
	require.NoError(t, err)
	assert.Equal(t, []string{"C=3"}, v.List)
}

func TestDefaultResolvesOnOriginatingContainer(t *testing.T) {
	tree := newTestTree(t, &fakeSupervisor{})
	child, err := tree.Create("/", "a", Credential{})
	require.NoError(t, err)

	// cwd is not inherited, so a child with no explicit value must see
	// the registry default, not whatever the parent happens to have.
	v, err := child.Get("cwd")
	require.NoError(t, err)
	assert.Equal(t, "/", v.Str)
}

func TestMemoryGuaranteeHierarchy(t *testing.T) {
	tree := newTestTree(t, &fakeSupervisor{})
	root := tree.Root()
	require.NoError(t, root.Set("memory_guarantee", "1000", true))

	a, err := tree.Create("/", "a", Credential{})
	require.NoError(t, err)
	require.NoError(t, a.Set("memory_guarantee", "600", true))

	b, err := tree.Create("/", "b", Credential{})
	require.NoError(t, err)

	// 600 (a) + 500 (b) = 1100 > root's 1000: must be rejected.
	err = b.Set("memory_guarantee", "500", true)
	require.Error(t, err)

	// 600 (a) + 400 (b) = 1000 <= root's 1000: accepted.
	require.NoError(t, b.Set("memory_guarantee", "400", true))
}

func TestMemoryLimitHierarchy(t *testing.T) {
	tree := newTestTree(t, &fakeSupervisor{})
	root := tree.Root()
	require.NoError(t, root.Set("memory_limit", "1000", true))

	a, err := tree.Create("/", "a", Credential{})
	require.NoError(t, err)

	err = a.Set("memory_limit", "2000", true)
	require.Error(t, err)

	require.NoError(t, a.Set("memory_limit", "500", true))
}

func TestStateTransitions(t *testing.T) {
	tree := newTestTree(t, &fakeSupervisor{})
	c, err := tree.Create("/", "a", Credential{})
	require.NoError(t, err)
	require.Equal(t, "Stopped", c.State())

	require.Error(t, c.transition(Running)) // Stopped -> Running is illegal
	require.NoError(t, c.transition(Starting))
	require.NoError(t, c.transition(Running))
	require.NoError(t, c.transition(Paused))
	require.NoError(t, c.transition(Running))
	require.NoError(t, c.transition(Dead))
	require.Error(t, c.transition(Paused)) // Dead -> Paused is illegal
}

func TestStartStopLifecycle(t *testing.T) {
	sup := &fakeSupervisor{}
	tree := newTestTree(t, sup)
	c, err := tree.Create("/", "a", Credential{})
	require.NoError(t, err)
	require.NoError(t, c.Set("command", "/bin/true", true))

	require.NoError(t, c.Start())
	assert.Equal(t, "Running", c.State())
	assert.NotZero(t, c.Pid())

	require.NoError(t, c.Stop(time.Second))
	assert.Equal(t, "Stopped", c.State())
}

func TestRespawnOnExit(t *testing.T) {
	sup := &fakeSupervisor{}
	tree := newTestTree(t, sup)
	c, err := tree.Create("/", "a", Credential{})
	require.NoError(t, err)
	require.NoError(t, c.Set("command", "/bin/true", true))
	require.NoError(t, c.Set("respawn", "true", true))
	require.NoError(t, c.Set("max_respawns", "1", true))

	require.NoError(t, c.Start())
	firstPid := c.Pid()
	require.NoError(t, c.Kill(syscall.SIGTERM))

	// fakeQueue runs scheduled work inline, so by the time Kill's
	// synchronous Signal->onExit chain returns, the respawn has already
	// happened once (max_respawns=1 permits exactly one).
	assert.Equal(t, "Running", c.State())
	assert.NotEqual(t, firstPid, c.Pid())
}

func TestDestroyRemovesFromTree(t *testing.T) {
	tree := newTestTree(t, &fakeSupervisor{})
	_, err := tree.Create("/", "a", Credential{})
	require.NoError(t, err)

	require.NoError(t, tree.Destroy("a"))
	_, ok := tree.Find("a")
	assert.False(t, ok)

	err = tree.Destroy("/")
	require.Error(t, err)
}
