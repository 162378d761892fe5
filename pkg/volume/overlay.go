package volume

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cuemby/portod/pkg/portoerr"
)

// OverlayBackend composes layers with overlayfs, adding an upper/work
// pair under storage. It shares NativeBackend's project-quota handling
// since layered volumes are the most common ones worth quota-limiting.
type OverlayBackend struct {
	Native NativeBackend
}

func (OverlayBackend) Name() string { return "overlay" }

func (b OverlayBackend) Configure(v *Volume) error {
	if !overlayAvailable() {
		return portoerr.New(portoerr.NotSupported, "overlayfs is disabled on this host")
	}
	if err := b.Native.Configure(v); err != nil {
		return err
	}
	upper, work := upperWorkDirs(v.Storage())
	if err := os.MkdirAll(upper, 0755); err != nil {
		return portoerr.Wrap(portoerr.Unknown, err, "creating overlay upperdir")
	}
	if err := os.MkdirAll(work, 0755); err != nil {
		_ = os.RemoveAll(upper)
		return portoerr.Wrap(portoerr.Unknown, err, "creating overlay workdir")
	}
	return nil
}

func (b OverlayBackend) Build(v *Volume) error {
	upper, work := upperWorkDirs(v.Storage())
	opts := "lowerdir=" + strings.Join(v.Layers(), ":") + ",upperdir=" + upper + ",workdir=" + work
	if v.ReadOnly() {
		opts = "lowerdir=" + strings.Join(append(v.Layers(), upper), ":")
	}
	if err := unix.Mount("overlay", v.Path(), "overlay", 0, opts); err != nil {
		return portoerr.Wrap(portoerr.Unknown, err, "overlay mount at %s", v.Path())
	}
	return nil
}

func (b OverlayBackend) Clear(v *Volume) error {
	upper, _ := upperWorkDirs(v.Storage())
	return clearDir(upper)
}

// Destroy unmounts, clears upper/work, and removes the project quota.
func (b OverlayBackend) Destroy(v *Volume) error {
	firstErr := unmountWithFallback(v.Path())
	upper, work := upperWorkDirs(v.Storage())
	if err := os.RemoveAll(upper); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := os.RemoveAll(work); err != nil && firstErr == nil {
		firstErr = err
	}
	if quotaToolingAvailable() {
		if err := clearProjectQuota(v.Storage(), v.ID()); err != nil && !isENOTTY(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b OverlayBackend) Save(v *Volume) (map[string]string, error) { return nil, nil }
func (b OverlayBackend) Restore(v *Volume, state map[string]string) error { return nil }

func (b OverlayBackend) Resize(v *Volume, spaceLimit, inodeLimit uint64) error {
	return b.Native.Resize(v, spaceLimit, inodeLimit)
}

func (b OverlayBackend) Move(v *Volume, dest string) error {
	return portoerr.New(portoerr.NotSupported, "overlay backend does not support Move")
}

func (b OverlayBackend) GetStat(v *Volume) (Stat, error) {
	upper, _ := upperWorkDirs(v.Storage())
	return statfsDir(upper)
}

func upperWorkDirs(storage string) (upper, work string) {
	return filepath.Join(storage, "upper"), filepath.Join(storage, "work")
}

func overlayAvailable() bool {
	data, err := os.ReadFile("/proc/filesystems")
	if err != nil {
		return true // can't tell, assume available rather than blocking every Configure
	}
	return strings.Contains(string(data), "overlay")
}
