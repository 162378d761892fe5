// Package rpc turns wire.Request values into container/volume engine
// calls and wire.Response values, enforcing the access matrix that
// session.CheckAccess exposes before any mutation reaches the tree or
// the volume holder.
package rpc

import (
	"fmt"
	"path"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/portod/pkg/container"
	"github.com/cuemby/portod/pkg/metrics"
	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/session"
	"github.com/cuemby/portod/pkg/volume"
	"github.com/cuemby/portod/pkg/wire"
)

// Server holds the engines a dispatched request may touch. It has no
// state of its own beyond these references, matching eventloop.Loop's
// expectation of a stateless Dispatcher func per connection event.
type Server struct {
	Tree   *container.Tree
	Volume *volume.Holder
}

// commandName labels a request for the RPC metrics, matching each
// field name of wire.Request.
func commandName(req *wire.Request) string {
	switch {
	case req.Create != nil:
		return "Create"
	case req.Destroy != nil:
		return "Destroy"
	case req.SetProperty != nil:
		return "SetProperty"
	case req.GetProperty != nil:
		return "GetProperty"
	case req.Start != nil:
		return "Start"
	case req.Stop != nil:
		return "Stop"
	case req.Pause != nil:
		return "Pause"
	case req.Resume != nil:
		return "Resume"
	case req.Kill != nil:
		return "Kill"
	case req.Wait != nil:
		return "Wait"
	case req.List != nil:
		return "List"
	case req.CreateVolume != nil:
		return "CreateVolume"
	case req.LinkVolume != nil:
		return "LinkVolume"
	case req.UnlinkVolume != nil:
		return "UnlinkVolume"
	case req.ListVolumes != nil:
		return "ListVolumes"
	default:
		return "Unknown"
	}
}

// Dispatch implements eventloop.Dispatcher: it resolves the command,
// enforces access, calls into the engines, and always returns a
// non-nil Response — errors are carried in the response, never as a Go
// error, since every client request gets exactly one reply frame.
func (s *Server) Dispatch(sess *session.Session, req *wire.Request) *wire.Response {
	cmd := commandName(req)
	timer := metrics.NewTimer()
	resp := s.dispatch(sess, req)
	timer.ObserveDurationVec(metrics.RPCRequestDuration, cmd)
	metrics.RPCRequestsTotal.WithLabelValues(cmd, resp.Error.String()).Inc()
	return resp
}

func (s *Server) dispatch(sess *session.Session, req *wire.Request) *wire.Response {
	switch {
	case req.Create != nil:
		return s.create(sess, req.Create)
	case req.Destroy != nil:
		return s.destroy(sess, req.Destroy)
	case req.SetProperty != nil:
		return s.setProperty(sess, req.SetProperty)
	case req.GetProperty != nil:
		return s.getProperty(sess, req.GetProperty)
	case req.Start != nil:
		return s.start(sess, req.Start)
	case req.Stop != nil:
		return s.stop(sess, req.Stop)
	case req.Pause != nil:
		return s.pause(sess, req.Pause)
	case req.Resume != nil:
		return s.resume(sess, req.Resume)
	case req.Kill != nil:
		return s.kill(sess, req.Kill)
	case req.Wait != nil:
		return s.wait(sess, req.Wait)
	case req.List != nil:
		return s.list(sess, req.List)
	case req.CreateVolume != nil:
		return s.createVolume(sess, req.CreateVolume)
	case req.LinkVolume != nil:
		return s.linkVolume(sess, req.LinkVolume)
	case req.UnlinkVolume != nil:
		return s.unlinkVolume(sess, req.UnlinkVolume)
	case req.ListVolumes != nil:
		return s.listVolumes(sess, req.ListVolumes)
	default:
		return errResponse(portoerr.New(portoerr.InvalidValue, "empty request"))
	}
}

func errResponse(err error) *wire.Response {
	return &wire.Response{Error: portoerr.KindOf(err), ErrorMsg: err.Error()}
}

func ok() *wire.Response {
	return &wire.Response{}
}

// resolveForAccess resolves name within sess's namespace, looks it up
// in the tree, and checks op against it. Returns the container on
// success.
func resolveForAccess(sess *session.Session, tree *container.Tree, op session.Operation, raw string) (*container.Container, error) {
	name, err := sess.Resolve(raw)
	if err != nil {
		return nil, err
	}
	c, ok := tree.Find(name)
	if !ok {
		return nil, portoerr.New(portoerr.ContainerDoesNotExist, "%s", name)
	}
	if err := sess.CheckAccess(op, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Server) create(sess *session.Session, req *wire.CreateRequest) *wire.Response {
	if sess.AccessLevel() <= container.AccessReadOnly {
		return errResponse(portoerr.New(portoerr.Permission, "session is read-only"))
	}
	name, err := sess.Resolve(req.Name)
	if err != nil {
		return errResponse(err)
	}
	parent := path.Dir(name)
	if _, ok := s.Tree.Find(parent); !ok {
		return errResponse(portoerr.New(portoerr.ContainerDoesNotExist, "%s", parent))
	}
	// Unlike SetProperty/Start/Stop, Create's target doesn't exist yet,
	// so CheckAccess's root-is-read-only rule doesn't apply here: every
	// container is, by default, a child of root.
	c, err := s.Tree.Create(parent, name, sess.Credential())
	if err != nil {
		return errResponse(err)
	}
	if req.Weak {
		c.MarkWeak()
		sess.RegisterWeak(name)
	}
	return ok()
}

func (s *Server) destroy(sess *session.Session, req *wire.DestroyRequest) *wire.Response {
	c, err := resolveForAccess(sess, s.Tree, session.OpWrite, req.Name)
	if err != nil {
		return errResponse(err)
	}
	if err := s.Tree.Destroy(c.Name()); err != nil {
		return errResponse(err)
	}
	sess.UnregisterWeak(c.Name())
	return ok()
}

func (s *Server) setProperty(sess *session.Session, req *wire.SetPropertyRequest) *wire.Response {
	c, err := resolveForAccess(sess, s.Tree, session.OpWrite, req.Name)
	if err != nil {
		return errResponse(err)
	}
	privileged := sess.AccessLevel() >= container.AccessSuperUser
	if err := c.Set(req.Property, req.Value, privileged); err != nil {
		return errResponse(err)
	}
	return ok()
}

func (s *Server) getProperty(sess *session.Session, req *wire.GetPropertyRequest) *wire.Response {
	c, err := resolveForAccess(sess, s.Tree, session.OpRead, req.Name)
	if err != nil {
		return errResponse(err)
	}
	if data, err := c.GetData(req.Property); err == nil {
		return &wire.Response{Property: &wire.PropertyResult{Value: data}}
	}
	v, err := c.Get(req.Property)
	if err != nil {
		return errResponse(err)
	}
	return &wire.Response{Property: &wire.PropertyResult{Value: v.String()}}
}

func (s *Server) start(sess *session.Session, req *wire.StartRequest) *wire.Response {
	c, err := resolveForAccess(sess, s.Tree, session.OpWrite, req.Name)
	if err != nil {
		return errResponse(err)
	}
	timer := metrics.NewTimer()
	err = c.Start()
	timer.ObserveDuration(metrics.ContainerStartDuration)
	if err != nil {
		metrics.ContainerExitsTotal.WithLabelValues("start_error").Inc()
		return errResponse(err)
	}
	return ok()
}

func (s *Server) stop(sess *session.Session, req *wire.StopRequest) *wire.Response {
	c, err := resolveForAccess(sess, s.Tree, session.OpWrite, req.Name)
	if err != nil {
		return errResponse(err)
	}
	timer := metrics.NewTimer()
	err = c.Stop(time.Duration(req.TimeoutMs) * time.Millisecond)
	timer.ObserveDuration(metrics.ContainerStopDuration)
	if err != nil {
		return errResponse(err)
	}
	return ok()
}

func (s *Server) pause(sess *session.Session, req *wire.PauseRequest) *wire.Response {
	c, err := resolveForAccess(sess, s.Tree, session.OpWrite, req.Name)
	if err != nil {
		return errResponse(err)
	}
	if err := c.Pause(); err != nil {
		return errResponse(err)
	}
	return ok()
}

func (s *Server) resume(sess *session.Session, req *wire.ResumeRequest) *wire.Response {
	c, err := resolveForAccess(sess, s.Tree, session.OpWrite, req.Name)
	if err != nil {
		return errResponse(err)
	}
	if err := c.Resume(); err != nil {
		return errResponse(err)
	}
	return ok()
}

func (s *Server) kill(sess *session.Session, req *wire.KillRequest) *wire.Response {
	c, err := resolveForAccess(sess, s.Tree, session.OpWrite, req.Name)
	if err != nil {
		return errResponse(err)
	}
	if err := c.Kill(syscall.Signal(req.Signal)); err != nil {
		return errResponse(err)
	}
	return ok()
}

func (s *Server) list(sess *session.Session, req *wire.ListRequest) *wire.Response {
	mask := req.Mask
	if mask == "" {
		mask = "*"
	}
	var names []string
	for _, c := range s.Tree.List() {
		if sess.CheckAccess(session.OpRead, c) != nil {
			continue
		}
		matched, err := path.Match(mask, c.Name())
		if err == nil && matched {
			names = append(names, c.Name())
		}
	}
	return &wire.Response{List: &wire.ListResult{Names: names}}
}

// wait blocks the calling goroutine until one of the named containers
// finishes its current run or timeoutMs elapses, matching spec.md's
// note that long operations are allowed to block the single-threaded
// loop by design. A zero timeout waits indefinitely.
func (s *Server) wait(sess *session.Session, req *wire.WaitRequest) *wire.Response {
	type result struct {
		name string
		es   container.ExitStatus
	}
	done := make(chan result, len(req.Names))
	containers := make([]*container.Container, 0, len(req.Names))
	for _, raw := range req.Names {
		c, err := resolveForAccess(sess, s.Tree, session.OpRead, raw)
		if err != nil {
			return errResponse(err)
		}
		containers = append(containers, c)
	}
	for _, c := range containers {
		c := c
		go func() {
			done <- result{name: c.Name(), es: c.Wait(0)}
		}()
	}

	var timeout <-chan time.Time
	if req.TimeoutMs > 0 {
		t := time.NewTimer(time.Duration(req.TimeoutMs) * time.Millisecond)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case r := <-done:
		return &wire.Response{Wait: &wire.WaitResult{
			Name:       r.name,
			ExitStatus: int64(r.es.ExitCode),
			Signal:     int64(r.es.Signal),
		}}
	case <-timeout:
		return &wire.Response{Wait: &wire.WaitResult{TimedOut: true}}
	}
}

func (s *Server) createVolume(sess *session.Session, req *wire.CreateVolumeRequest) *wire.Response {
	if sess.AccessLevel() <= container.AccessReadOnly {
		return errResponse(portoerr.New(portoerr.Permission, "session is read-only"))
	}
	if s.Volume == nil {
		return errResponse(portoerr.New(portoerr.NotSupported, "volume engine not configured"))
	}
	cred := sess.Credential()
	v, err := s.Volume.Create(sess.OriginName(), volume.Credential{UID: cred.UID, GID: cred.GID})
	if err != nil {
		return errResponse(err)
	}
	opts := volume.ConfigureOpts{Path: req.Path}
	for _, p := range req.Properties {
		if err := applyVolumeProperty(&opts, p); err != nil {
			return errResponse(err)
		}
	}
	if err := s.Volume.Configure(v, opts); err != nil {
		return errResponse(err)
	}
	timer := metrics.NewTimer()
	err = s.Volume.Build(v)
	timer.ObserveDurationVec(metrics.VolumeBuildDuration, v.Backend())
	if err != nil {
		return errResponse(err)
	}
	stat, _ := s.Volume.GetStat(v)
	return &wire.Response{VolumeDesc: describeVolume(v, stat)}
}

func applyVolumeProperty(opts *volume.ConfigureOpts, p wire.Property) error {
	switch p.Key {
	case "backend":
		opts.Backend = p.Value
	case "storage":
		opts.Storage = p.Value
	case "permissions":
		opts.Permissions = p.Value
	case "read_only":
		opts.ReadOnly = p.Value == "true"
	case "layers":
		opts.Layers = append(opts.Layers, p.Value)
	case "space_limit":
		v, err := strconv.ParseUint(p.Value, 10, 64)
		if err != nil {
			return portoerr.New(portoerr.InvalidValue, "space_limit: %v", err)
		}
		opts.SpaceLimit = v
	case "inode_limit":
		v, err := strconv.ParseUint(p.Value, 10, 64)
		if err != nil {
			return portoerr.New(portoerr.InvalidValue, "inode_limit: %v", err)
		}
		opts.InodeLimit = v
	case "space_guarantee":
		v, err := strconv.ParseUint(p.Value, 10, 64)
		if err != nil {
			return portoerr.New(portoerr.InvalidValue, "space_guarantee: %v", err)
		}
		opts.SpaceGuarantee = v
	case "inode_guarantee":
		v, err := strconv.ParseUint(p.Value, 10, 64)
		if err != nil {
			return portoerr.New(portoerr.InvalidValue, "inode_guarantee: %v", err)
		}
		opts.InodeGuarantee = v
	default:
		return portoerr.New(portoerr.InvalidProperty, "unknown volume property %q", p.Key)
	}
	return nil
}

func (s *Server) linkVolume(sess *session.Session, req *wire.LinkVolumeRequest) *wire.Response {
	if s.Volume == nil {
		return errResponse(portoerr.New(portoerr.NotSupported, "volume engine not configured"))
	}
	v, ok := s.Volume.Find(req.Path)
	if !ok {
		return errResponse(portoerr.New(portoerr.VolumeNotFound, "%s", req.Path))
	}
	name, err := sess.Resolve(req.Container)
	if err != nil {
		return errResponse(err)
	}
	c, ok := s.Tree.Find(name)
	if !ok {
		return errResponse(portoerr.New(portoerr.ContainerDoesNotExist, "%s", name))
	}
	if err := sess.CheckAccess(session.OpWrite, c); err != nil {
		return errResponse(err)
	}
	s.Volume.LinkContainer(v, name)
	return ok()
}

func (s *Server) unlinkVolume(sess *session.Session, req *wire.UnlinkVolumeRequest) *wire.Response {
	if s.Volume == nil {
		return errResponse(portoerr.New(portoerr.NotSupported, "volume engine not configured"))
	}
	v, ok := s.Volume.Find(req.Path)
	if !ok {
		return errResponse(portoerr.New(portoerr.VolumeNotFound, "%s", req.Path))
	}
	name, err := sess.Resolve(req.Container)
	if err != nil {
		return errResponse(err)
	}
	if c, ok := s.Tree.Find(name); ok {
		if err := sess.CheckAccess(session.OpWrite, c); err != nil {
			return errResponse(err)
		}
	}
	if empty := s.Volume.UnlinkContainer(v, name); empty {
		if err := s.Volume.Destroy(v); err != nil {
			return errResponse(err)
		}
	}
	return ok()
}

func (s *Server) listVolumes(sess *session.Session, req *wire.ListVolumesRequest) *wire.Response {
	if s.Volume == nil {
		return &wire.Response{VolumeList: &wire.VolumeListResult{}}
	}
	var out []wire.VolumeDescription
	for _, v := range s.Volume.List() {
		if req.Path != "" && v.Path() != req.Path {
			continue
		}
		stat, _ := s.Volume.GetStat(v)
		out = append(out, *describeVolume(v, stat))
	}
	return &wire.Response{VolumeList: &wire.VolumeListResult{Volumes: out}}
}

func describeVolume(v *volume.Volume, stat volume.Stat) *wire.VolumeDescription {
	spaceLimit, inodeLimit, spaceGuarantee, inodeGuarantee := v.Limits()
	owner := v.Owner()
	return &wire.VolumeDescription{
		Path:           v.Path(),
		Backend:        v.Backend(),
		Storage:        v.Storage(),
		Ready:          v.Ready(),
		Owner:          fmt.Sprintf("%d", owner.UID),
		Group:          fmt.Sprintf("%d", owner.GID),
		Permissions:    v.Permissions(),
		Creator:        v.Creator(),
		ReadOnly:       v.ReadOnly(),
		Layers:         v.Layers(),
		SpaceLimit:     spaceLimit,
		InodeLimit:     inodeLimit,
		SpaceGuarantee: spaceGuarantee,
		InodeGuarantee: inodeGuarantee,
		SpaceUsed:      stat.SpaceUsed,
		InodeUsed:      stat.InodeUsed,
		SpaceAvailable: stat.SpaceAvailable,
		InodeAvailable: stat.InodeAvailable,
		Containers:     v.Containers(),
	}
}
