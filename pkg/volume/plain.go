package volume

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/cuemby/portod/pkg/portoerr"
)

// PlainBackend bind-mounts its storage directory onto the volume path
// with no quota enforcement (spec.md §4.3).
type PlainBackend struct{}

func (PlainBackend) Name() string { return "plain" }

// Configure sets owner and mode on the storage directory; plain has no
// quota properties to validate.
func (PlainBackend) Configure(v *Volume) error {
	return chownMode(v.Storage(), v.Owner(), v.Permissions())
}

// Build bind-mounts storage onto path, optionally read-only.
func (PlainBackend) Build(v *Volume) error {
	return bindMount(v.Storage(), v.Path(), v.ReadOnly())
}

// Clear removes everything under the storage directory without
// unmounting.
func (PlainBackend) Clear(v *Volume) error {
	return clearDir(v.Storage())
}

// Destroy unmounts path, falling back to a lazy detach on EBUSY or any
// other non-EINVAL failure.
func (PlainBackend) Destroy(v *Volume) error {
	return unmountWithFallback(v.Path())
}

func (PlainBackend) Save(v *Volume) (map[string]string, error) { return nil, nil }
func (PlainBackend) Restore(v *Volume, state map[string]string) error { return nil }

func (PlainBackend) Resize(v *Volume, spaceLimit, inodeLimit uint64) error {
	return portoerr.New(portoerr.NotSupported, "plain backend has no quota to resize")
}

func (PlainBackend) Move(v *Volume, dest string) error {
	return portoerr.New(portoerr.NotSupported, "plain backend does not support Move")
}

func (PlainBackend) GetStat(v *Volume) (Stat, error) {
	return statfsDir(v.Storage())
}

// bindMount performs `mount --bind [-o ro] storage path`.
func bindMount(storage, path string, readOnly bool) error {
	if err := unix.Mount(storage, path, "", unix.MS_BIND, ""); err != nil {
		return portoerr.Wrap(portoerr.Unknown, err, "bind mount %s -> %s", storage, path)
	}
	if readOnly {
		if err := unix.Mount("", path, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
			_ = unix.Unmount(path, unix.MNT_DETACH)
			return portoerr.Wrap(portoerr.Unknown, err, "remount %s read-only", path)
		}
	}
	return nil
}

// unmountWithFallback tries a normal unmount first, then a lazy detach
// if the kernel reports the mount is busy (or fails for any reason
// other than the mountpoint not existing as a mount, EINVAL).
func unmountWithFallback(path string) error {
	err := unix.Unmount(path, 0)
	if err == nil || err == unix.EINVAL {
		return nil
	}
	if detachErr := unix.Unmount(path, unix.MNT_DETACH); detachErr != nil {
		return portoerr.Wrap(portoerr.Unknown, detachErr, "lazy unmount %s", path)
	}
	return nil
}

func chownMode(dir string, owner Credential, permStr string) error {
	if err := os.Chown(dir, int(owner.UID), int(owner.GID)); err != nil {
		return portoerr.Wrap(portoerr.Unknown, err, "chown %s", dir)
	}
	if permStr == "" {
		return nil
	}
	mode, err := strconv.ParseUint(permStr, 8, 32)
	if err != nil {
		return portoerr.New(portoerr.InvalidValue, "invalid permissions %q", permStr)
	}
	if err := os.Chmod(dir, os.FileMode(mode)); err != nil {
		return portoerr.Wrap(portoerr.Unknown, err, "chmod %s", dir)
	}
	return nil
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return portoerr.Wrap(portoerr.Unknown, err, "reading %s", dir)
	}
	for _, e := range entries {
		if err := os.RemoveAll(dir + "/" + e.Name()); err != nil {
			return portoerr.Wrap(portoerr.Unknown, err, "clearing %s", dir)
		}
	}
	return nil
}

func statfsDir(dir string) (Stat, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(dir, &fs); err != nil {
		return Stat{}, portoerr.Wrap(portoerr.Unknown, err, "statfs %s", dir)
	}
	total := fs.Blocks * uint64(fs.Bsize)
	avail := fs.Bavail * uint64(fs.Bsize)
	return Stat{
		SpaceUsed:      total - avail,
		SpaceAvailable: avail,
		InodeUsed:      fs.Files - fs.Ffree,
		InodeAvailable: fs.Ffree,
	}, nil
}
