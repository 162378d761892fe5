package volume

import (
	"sync"
)

// Credential is a uid+gid pair, mirroring container.Credential without
// importing pkg/container (volumes are identified by owner, not by a
// live reference to the owning container's type).
type Credential struct {
	UID uint32
	GID uint32
}

// Stat is a backend's view of space/inode usage for GetStat and for
// guarantee admission.
type Stat struct {
	SpaceUsed      uint64
	SpaceAvailable uint64
	InodeUsed      uint64
	InodeAvailable uint64
}

// Backend is the capability set every volume backend implements
// (spec.md §4.3). Configure runs once, before the volume is built;
// Build/Clear/Destroy operate on an already-Configured volume.
type Backend interface {
	Name() string
	Configure(v *Volume) error
	Build(v *Volume) error
	Clear(v *Volume) error
	Destroy(v *Volume) error
	Save(v *Volume) (map[string]string, error)
	Restore(v *Volume, state map[string]string) error
	Resize(v *Volume, spaceLimit, inodeLimit uint64) error
	Move(v *Volume, dest string) error
	GetStat(v *Volume) (Stat, error)
}

// Volume is one mounted filesystem owned by zero or more containers.
type Volume struct {
	mu sync.RWMutex

	id   uint16
	path string // absolute mount path; the Holder's key

	backend string
	storage string // backing directory the backend builds from

	creator string
	owner   Credential

	permissions string // e.g. "0775"
	readOnly    bool
	layers      []string

	spaceLimit      uint64
	inodeLimit      uint64
	spaceGuarantee  uint64
	inodeGuarantee  uint64

	ready      bool
	containers map[string]struct{}

	// backendState carries Save/Restore's backend-specific blob (e.g.
	// the loop backend's attached device path).
	backendState map[string]string

	// autoPath/autoStorage record whether the engine chose these paths
	// itself, so Destroy/rollback knows whether to remove them.
	autoPath    bool
	autoStorage bool
}

func newVolume(id uint16, creator string, owner Credential) *Volume {
	return &Volume{
		id:           id,
		creator:      creator,
		owner:        owner,
		containers:   make(map[string]struct{}),
		backendState: make(map[string]string),
	}
}

func (v *Volume) ID() uint16    { v.mu.RLock(); defer v.mu.RUnlock(); return v.id }
func (v *Volume) Path() string  { v.mu.RLock(); defer v.mu.RUnlock(); return v.path }
func (v *Volume) Backend() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.backend
}
func (v *Volume) Storage() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.storage
}
func (v *Volume) Creator() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.creator
}
func (v *Volume) Owner() Credential {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.owner
}
func (v *Volume) Permissions() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.permissions
}
func (v *Volume) ReadOnly() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.readOnly
}
func (v *Volume) Layers() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.layers))
	copy(out, v.layers)
	return out
}
func (v *Volume) Ready() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ready
}
func (v *Volume) Limits() (spaceLimit, inodeLimit, spaceGuarantee, inodeGuarantee uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.spaceLimit, v.inodeLimit, v.spaceGuarantee, v.inodeGuarantee
}

// Containers returns the set of container names currently linked to
// this volume.
func (v *Volume) Containers() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.containers))
	for name := range v.containers {
		out = append(out, name)
	}
	return out
}

func (v *Volume) setReady(ready bool) {
	v.mu.Lock()
	v.ready = ready
	v.mu.Unlock()
}
