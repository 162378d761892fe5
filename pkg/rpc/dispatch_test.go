package rpc

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cuemby/portod/pkg/container"
	"github.com/cuemby/portod/pkg/registry"
	"github.com/cuemby/portod/pkg/session"
	"github.com/cuemby/portod/pkg/volume"
	"github.com/cuemby/portod/pkg/wire"
	"github.com/stretchr/testify/require"
)

// fakeQueue runs scheduled work inline, standing in for the real event
// loop the way pkg/container's own tests do.
type fakeQueue struct{}

func (fakeQueue) Schedule(d time.Duration, fn func()) func() {
	fn()
	return func() {}
}

// fakeSupervisor simulates a process that stays alive until Signal is
// called, at which point it reports a clean exit.
type fakeSupervisor struct {
	mu      sync.Mutex
	nextPid int
	onExit  func(int, int, error)
}

func (f *fakeSupervisor) Start(spec container.ProcessSpec, onExit func(int, int, error)) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPid++
	f.onExit = onExit
	return f.nextPid, nil
}

func (f *fakeSupervisor) Signal(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	onExit := f.onExit
	f.mu.Unlock()
	if onExit != nil {
		onExit(0, 0, nil)
	}
	return nil
}

// fakeVolumeBackend builds/destroys volumes entirely in memory.
type fakeVolumeBackend struct{}

func (fakeVolumeBackend) Name() string                                             { return "fake" }
func (fakeVolumeBackend) Configure(v *volume.Volume) error                         { return nil }
func (fakeVolumeBackend) Build(v *volume.Volume) error                             { return nil }
func (fakeVolumeBackend) Clear(v *volume.Volume) error                             { return nil }
func (fakeVolumeBackend) Destroy(v *volume.Volume) error                           { return nil }
func (fakeVolumeBackend) Save(v *volume.Volume) (map[string]string, error)         { return nil, nil }
func (fakeVolumeBackend) Restore(v *volume.Volume, state map[string]string) error  { return nil }
func (fakeVolumeBackend) Resize(v *volume.Volume, spaceLimit, inodeLimit uint64) error { return nil }
func (fakeVolumeBackend) Move(v *volume.Volume, dest string) error                 { return nil }
func (fakeVolumeBackend) GetStat(v *volume.Volume) (volume.Stat, error)            { return volume.Stat{}, nil }

// newTestSession creates a session identified against the running
// test process's own credentials, via a real Unix socketpair so
// session.Identify()'s SO_PEERCRED lookup has something real to query.
func newTestSession(t *testing.T, tree *container.Tree) *session.Session {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})

	sess := session.New(fds[0], tree)
	require.NoError(t, sess.Identify())
	return sess
}

func newTestServer(t *testing.T) (*Server, *fakeSupervisor) {
	t.Helper()
	restore := container.WithCgroupRoot(t.TempDir())
	t.Cleanup(restore)

	reg := registry.New()
	registry.RegisterStandard(reg)
	sup := &fakeSupervisor{}
	tree := container.NewTree(reg, nil, sup, fakeQueue{}, 0, 0)

	holder, err := volume.NewHolder(t.TempDir(), "fake", fakeVolumeBackend{})
	require.NoError(t, err)

	return &Server{Tree: tree, Volume: holder}, sup
}

func TestCreateSetStartWaitDestroy(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := newTestSession(t, srv.Tree)

	resp := srv.Dispatch(sess, &wire.Request{Create: &wire.CreateRequest{Name: "a"}})
	require.Equal(t, portoSuccess(resp), true, resp.ErrorMsg)

	resp = srv.Dispatch(sess, &wire.Request{SetProperty: &wire.SetPropertyRequest{
		Name: "a", Property: "command", Value: "/bin/true",
	}})
	require.True(t, portoSuccess(resp), resp.ErrorMsg)

	resp = srv.Dispatch(sess, &wire.Request{Start: &wire.StartRequest{Name: "a"}})
	require.True(t, portoSuccess(resp), resp.ErrorMsg)

	resp = srv.Dispatch(sess, &wire.Request{GetProperty: &wire.GetPropertyRequest{
		Name: "a", Property: "state",
	}})
	require.True(t, portoSuccess(resp))
	require.Equal(t, "Running", resp.Property.Value)

	resp = srv.Dispatch(sess, &wire.Request{Stop: &wire.StopRequest{Name: "a", TimeoutMs: 1000}})
	require.True(t, portoSuccess(resp), resp.ErrorMsg)

	resp = srv.Dispatch(sess, &wire.Request{Wait: &wire.WaitRequest{Names: []string{"a"}, TimeoutMs: 2000}})
	require.True(t, portoSuccess(resp), resp.ErrorMsg)
	require.False(t, resp.Wait.TimedOut)
	require.Equal(t, "/a", resp.Wait.Name)

	resp = srv.Dispatch(sess, &wire.Request{Destroy: &wire.DestroyRequest{Name: "a"}})
	require.True(t, portoSuccess(resp), resp.ErrorMsg)

	resp = srv.Dispatch(sess, &wire.Request{GetProperty: &wire.GetPropertyRequest{
		Name: "a", Property: "state",
	}})
	require.False(t, portoSuccess(resp))
}

func TestCreateDuplicateNameFails(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := newTestSession(t, srv.Tree)

	resp := srv.Dispatch(sess, &wire.Request{Create: &wire.CreateRequest{Name: "dup"}})
	require.True(t, portoSuccess(resp))

	resp = srv.Dispatch(sess, &wire.Request{Create: &wire.CreateRequest{Name: "dup"}})
	require.False(t, portoSuccess(resp))
}

func TestGetPropertyUnknownContainer(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := newTestSession(t, srv.Tree)

	resp := srv.Dispatch(sess, &wire.Request{GetProperty: &wire.GetPropertyRequest{
		Name: "nope", Property: "state",
	}})
	require.False(t, portoSuccess(resp))
}

func TestListMatchesMask(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := newTestSession(t, srv.Tree)

	require.True(t, portoSuccess(srv.Dispatch(sess, &wire.Request{Create: &wire.CreateRequest{Name: "x"}})))
	require.True(t, portoSuccess(srv.Dispatch(sess, &wire.Request{Create: &wire.CreateRequest{Name: "y"}})))

	resp := srv.Dispatch(sess, &wire.Request{List: &wire.ListRequest{Mask: "/x"}})
	require.True(t, portoSuccess(resp))
	require.Equal(t, []string{"/x"}, resp.List.Names)
}

func TestCreateBuildAndListVolumes(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := newTestSession(t, srv.Tree)

	resp := srv.Dispatch(sess, &wire.Request{CreateVolume: &wire.CreateVolumeRequest{}})
	require.True(t, portoSuccess(resp), resp.ErrorMsg)
	require.Equal(t, "fake", resp.VolumeDesc.Backend)
	require.True(t, resp.VolumeDesc.Ready)

	resp = srv.Dispatch(sess, &wire.Request{ListVolumes: &wire.ListVolumesRequest{}})
	require.True(t, portoSuccess(resp))
	require.Len(t, resp.VolumeList.Volumes, 1)
}

func TestLinkAndUnlinkVolume(t *testing.T) {
	srv, _ := newTestServer(t)
	sess := newTestSession(t, srv.Tree)

	require.True(t, portoSuccess(srv.Dispatch(sess, &wire.Request{Create: &wire.CreateRequest{Name: "v"}})))
	created := srv.Dispatch(sess, &wire.Request{CreateVolume: &wire.CreateVolumeRequest{}})
	require.True(t, portoSuccess(created))
	path := created.VolumeDesc.Path

	resp := srv.Dispatch(sess, &wire.Request{LinkVolume: &wire.LinkVolumeRequest{Path: path, Container: "v"}})
	require.True(t, portoSuccess(resp), resp.ErrorMsg)

	resp = srv.Dispatch(sess, &wire.Request{UnlinkVolume: &wire.UnlinkVolumeRequest{Path: path, Container: "v"}})
	require.True(t, portoSuccess(resp), resp.ErrorMsg)

	resp = srv.Dispatch(sess, &wire.Request{ListVolumes: &wire.ListVolumesRequest{}})
	require.True(t, portoSuccess(resp))
	require.Len(t, resp.VolumeList.Volumes, 0)
}

func portoSuccess(r *wire.Response) bool { return r.Error == 0 }
