package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/cuemby/portod/pkg/portoerr"
)

// Holder is the registry of live volumes keyed by absolute mount path
// (spec.md §4.3). It owns id allocation and backend selection; the
// backends themselves know nothing about each other or about the
// holder's bookkeeping.
type Holder struct {
	mu      sync.RWMutex
	byPath  map[string]*Volume
	ids     *idAllocator
	baseDir string // daemon-owned directory for auto paths/storage

	backends       map[string]Backend
	defaultBackend string
}

// NewHolder constructs a Holder rooted at baseDir, registering each
// backend under its own Name().
func NewHolder(baseDir string, defaultBackend string, backends ...Backend) (*Holder, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating volume base directory: %w", err)
	}
	h := &Holder{
		byPath:         make(map[string]*Volume),
		ids:            newIDAllocator(),
		baseDir:        baseDir,
		backends:       make(map[string]Backend),
		defaultBackend: defaultBackend,
	}
	for _, b := range backends {
		h.backends[b.Name()] = b
	}
	return h, nil
}

// Create allocates an id and an empty, unready Volume. The caller must
// still call Configure and Build before the volume is usable.
func (h *Holder) Create(creator string, owner Credential) (*Volume, error) {
	id, ok := h.ids.allocate()
	if !ok {
		return nil, portoerr.New(portoerr.ResourceNotAvailable, "volume id space exhausted")
	}
	return newVolume(id, creator, owner), nil
}

// ConfigureOpts carries everything CreateVolume accepts besides the
// generated id.
type ConfigureOpts struct {
	Path           string // "" selects an auto path under the holder's base directory
	Backend        string // "" selects the holder's default backend
	Storage        string // "" selects an auto storage directory
	Owner          Credential
	Permissions    string
	ReadOnly       bool
	Layers         []string
	SpaceLimit     uint64
	InodeLimit     uint64
	SpaceGuarantee uint64
	InodeGuarantee uint64
}

// Configure validates opts, resolves auto path/storage/backend, and
// invokes the chosen backend's Configure. On failure it rolls back any
// directory it created itself.
func (h *Holder) Configure(v *Volume, opts ConfigureOpts) error {
	path := opts.Path
	autoPath := path == ""
	if autoPath {
		path = filepath.Join(h.baseDir, "volumes", fmt.Sprintf("%d", v.id))
		if err := os.MkdirAll(path, 0755); err != nil {
			return portoerr.Wrap(portoerr.Unknown, err, "creating auto volume path")
		}
	} else {
		if !filepath.IsAbs(path) || filepath.Clean(path) != path {
			return portoerr.New(portoerr.InvalidValue, "volume path %q must be absolute and normalized", path)
		}
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return portoerr.New(portoerr.InvalidValue, "volume path %q must be an existing directory", path)
		}
		if unix.Access(path, unix.W_OK) != nil {
			return portoerr.New(portoerr.Permission, "volume path %q is not writable", path)
		}
	}

	h.mu.Lock()
	if _, exists := h.byPath[path]; exists {
		h.mu.Unlock()
		if autoPath {
			_ = os.RemoveAll(path)
		}
		return portoerr.New(portoerr.VolumeAlreadyExists, "%s", path)
	}
	h.byPath[path] = v
	h.mu.Unlock()

	backendName := opts.Backend
	if backendName == "" {
		backendName = h.defaultBackend
	}
	backend, ok := h.backends[backendName]
	if !ok {
		h.unregister(path)
		if autoPath {
			_ = os.RemoveAll(path)
		}
		return portoerr.New(portoerr.InvalidValue, "unknown volume backend %q", backendName)
	}

	storage := opts.Storage
	autoStorage := storage == ""
	if autoStorage {
		storage = filepath.Join(h.baseDir, "storage", fmt.Sprintf("%d", v.id))
		if err := os.MkdirAll(storage, 0755); err != nil {
			h.rollbackConfigure(v, path, autoPath, "", false)
			return portoerr.Wrap(portoerr.Unknown, err, "creating auto storage directory")
		}
	}

	v.mu.Lock()
	v.path = path
	v.backend = backendName
	v.storage = storage
	v.owner = opts.Owner
	v.permissions = opts.Permissions
	v.readOnly = opts.ReadOnly
	v.layers = append([]string(nil), opts.Layers...)
	v.spaceLimit = opts.SpaceLimit
	v.inodeLimit = opts.InodeLimit
	v.spaceGuarantee = opts.SpaceGuarantee
	v.inodeGuarantee = opts.InodeGuarantee
	v.autoPath = autoPath
	v.autoStorage = autoStorage
	v.mu.Unlock()

	if err := h.CheckGuarantee(v, opts.SpaceGuarantee, opts.InodeGuarantee); err != nil {
		h.rollbackConfigure(v, path, autoPath, storage, autoStorage)
		return err
	}

	if err := backend.Configure(v); err != nil {
		h.rollbackConfigure(v, path, autoPath, storage, autoStorage)
		return err
	}
	return nil
}

func (h *Holder) rollbackConfigure(v *Volume, path string, autoPath bool, storage string, autoStorage bool) {
	h.unregister(path)
	if autoStorage && storage != "" {
		_ = os.RemoveAll(storage)
	}
	if autoPath {
		_ = os.RemoveAll(path)
	}
	h.ids.release(v.id)
}

func (h *Holder) unregister(path string) {
	h.mu.Lock()
	delete(h.byPath, path)
	h.mu.Unlock()
}

// Build invokes the backend to produce the real mount and flips the
// volume to Ready. Any failure rolls back Configure's side effects too
// — spec.md §4.3 treats Configure+Build as one failure domain.
func (h *Holder) Build(v *Volume) error {
	backend, err := h.backendFor(v)
	if err != nil {
		return err
	}
	if err := backend.Build(v); err != nil {
		v.mu.RLock()
		path, autoPath, storage, autoStorage := v.path, v.autoPath, v.storage, v.autoStorage
		v.mu.RUnlock()
		h.rollbackConfigure(v, path, autoPath, storage, autoStorage)
		return err
	}
	v.setReady(true)
	return nil
}

func (h *Holder) backendFor(v *Volume) (Backend, error) {
	b, ok := h.backends[v.Backend()]
	if !ok {
		return nil, portoerr.New(portoerr.InvalidValue, "unknown volume backend %q", v.Backend())
	}
	return b, nil
}

// Clear empties the volume's mount without destroying it.
func (h *Holder) Clear(v *Volume) error {
	backend, err := h.backendFor(v)
	if err != nil {
		return err
	}
	return backend.Clear(v)
}

// Destroy reverses Build, removes any auto-created directories, and
// frees the id. It aggregates errors but always attempts every step,
// reporting the first error encountered (spec.md §4.3).
func (h *Holder) Destroy(v *Volume) error {
	backend, err := h.backendFor(v)
	if err != nil {
		return err
	}

	var firstErr error
	if err := backend.Destroy(v); err != nil {
		firstErr = err
	}

	v.mu.RLock()
	path, storage := v.path, v.storage
	autoPath, autoStorage := v.autoPath, v.autoStorage
	v.mu.RUnlock()

	if autoStorage && storage != "" {
		if err := os.RemoveAll(storage); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if autoPath {
		if err := os.RemoveAll(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	h.unregister(path)
	h.ids.release(v.id)
	v.setReady(false)
	return firstErr
}

// Resize delegates to the backend and, on success, updates the
// recorded limits. The existing space/inode guarantees are re-checked
// against current filesystem occupancy before the backend is touched,
// since a volume whose guarantees were admissible at Configure time
// may no longer be once siblings on the same device have grown.
func (h *Holder) Resize(v *Volume, spaceLimit, inodeLimit uint64) error {
	backend, err := h.backendFor(v)
	if err != nil {
		return err
	}
	_, _, spaceGuarantee, inodeGuarantee := v.Limits()
	if err := h.CheckGuarantee(v, spaceGuarantee, inodeGuarantee); err != nil {
		return err
	}
	if err := backend.Resize(v, spaceLimit, inodeLimit); err != nil {
		return err
	}
	v.mu.Lock()
	v.spaceLimit, v.inodeLimit = spaceLimit, inodeLimit
	v.mu.Unlock()
	return nil
}

// Move delegates to the backend and updates the holder's path index.
func (h *Holder) Move(v *Volume, dest string) error {
	backend, err := h.backendFor(v)
	if err != nil {
		return err
	}
	if err := backend.Move(v, dest); err != nil {
		return err
	}
	v.mu.Lock()
	old := v.path
	v.path = dest
	v.mu.Unlock()

	h.mu.Lock()
	delete(h.byPath, old)
	h.byPath[dest] = v
	h.mu.Unlock()
	return nil
}

// GetStat delegates to the backend.
func (h *Holder) GetStat(v *Volume) (Stat, error) {
	backend, err := h.backendFor(v)
	if err != nil {
		return Stat{}, err
	}
	return backend.GetStat(v)
}

// LinkContainer registers name as an owner of v.
func (h *Holder) LinkContainer(v *Volume, name string) {
	v.mu.Lock()
	v.containers[name] = struct{}{}
	v.mu.Unlock()
}

// UnlinkContainer removes name from v's owner set and reports whether
// the set is now empty (and so v is eligible for Destroy).
func (h *Holder) UnlinkContainer(v *Volume, name string) (empty bool) {
	v.mu.Lock()
	delete(v.containers, name)
	empty = len(v.containers) == 0
	v.mu.Unlock()
	return empty
}

// Find looks up a volume by its absolute mount path.
func (h *Holder) Find(path string) (*Volume, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.byPath[path]
	return v, ok
}

// List returns every registered volume.
func (h *Holder) List() []*Volume {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Volume, 0, len(h.byPath))
	for _, v := range h.byPath {
		out = append(out, v)
	}
	return out
}

func clampSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// CheckGuarantee implements spec.md §4.3's admission control: every
// other volume backed by the same base directory (this engine doesn't
// track device major/minor, so it treats "shares the holder" as
// "shares the device") contributes its unclaimed reservation —
// guarantee minus current usage, floored at zero. The request is
// admitted only if the filesystem's free capacity plus v's own current
// usage covers the new guarantee plus every other volume's unclaimed
// reservation. Space and inodes are checked independently.
func (h *Holder) CheckGuarantee(v *Volume, spaceGuarantee, inodeGuarantee uint64) error {
	var reservedSpace, reservedInodes uint64
	for _, other := range h.List() {
		if other == v {
			continue
		}
		stat, err := h.GetStat(other)
		if err != nil {
			continue
		}
		_, _, otherSpaceG, otherInodeG := other.Limits()
		reservedSpace += clampSub(otherSpaceG, stat.SpaceUsed)
		reservedInodes += clampSub(otherInodeG, stat.InodeUsed)
	}

	var fsStat unix.Statfs_t
	if err := unix.Statfs(h.baseDir, &fsStat); err != nil {
		return portoerr.Wrap(portoerr.Unknown, err, "statfs %s", h.baseDir)
	}
	availableSpace := fsStat.Bavail * uint64(fsStat.Bsize)
	availableInodes := fsStat.Ffree

	var currentSpace, currentInodes uint64
	if stat, err := h.GetStat(v); err == nil {
		currentSpace, currentInodes = stat.SpaceUsed, stat.InodeUsed
	}

	if availableSpace+currentSpace < spaceGuarantee+reservedSpace {
		return portoerr.New(portoerr.NoSpace, "space guarantee %d would exceed available capacity", spaceGuarantee)
	}
	if availableInodes+currentInodes < inodeGuarantee+reservedInodes {
		return portoerr.New(portoerr.NoSpace, "inode guarantee %d would exceed available capacity", inodeGuarantee)
	}
	return nil
}
