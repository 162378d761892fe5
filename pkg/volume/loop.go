package volume

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/cuemby/portod/pkg/portoerr"
)

// LoopBackend formats a raw image file as ext4 and mounts it through
// an attached loop device (spec.md §4.3). space_limit is mandatory —
// there is no existing filesystem to inherit a size from.
type LoopBackend struct{}

func (LoopBackend) Name() string { return "loop" }

func (LoopBackend) Configure(v *Volume) error {
	spaceLimit, _, _, _ := v.Limits()
	if spaceLimit == 0 {
		return portoerr.New(portoerr.InvalidValue, "loop backend requires space_limit")
	}
	img := loopImagePath(v.Storage())
	if _, err := os.Stat(img); err == nil {
		return nil // already allocated (Configure re-run, e.g. Restore path)
	}
	f, err := os.OpenFile(img, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return portoerr.Wrap(portoerr.Unknown, err, "creating loop image %s", img)
	}
	defer f.Close()
	if err := f.Truncate(int64(spaceLimit)); err != nil {
		return portoerr.Wrap(portoerr.Unknown, err, "sizing loop image %s", img)
	}
	if err := exec.Command("mkfs.ext4", "-F", "-q", img).Run(); err != nil {
		_ = os.Remove(img)
		return portoerr.Wrap(portoerr.Unknown, err, "formatting loop image %s", img)
	}
	return nil
}

func (LoopBackend) Build(v *Volume) error {
	img := loopImagePath(v.Storage())
	dev, err := attachLoopDevice(img)
	if err != nil {
		return portoerr.Wrap(portoerr.Unknown, err, "attaching loop device for %s", img)
	}
	if err := unix.Mount(dev, v.Path(), "ext4", 0, ""); err != nil {
		_ = detachLoopDevice(dev)
		return portoerr.Wrap(portoerr.Unknown, err, "mounting %s at %s", dev, v.Path())
	}
	v.mu.Lock()
	v.backendState["loop_dev"] = dev
	v.mu.Unlock()
	if err := chownMode(v.Path(), v.Owner(), v.Permissions()); err != nil {
		return err
	}
	return nil
}

func (LoopBackend) Clear(v *Volume) error {
	return clearDir(v.Path())
}

// Destroy unmounts (with lazy-detach fallback) and releases the loop
// device.
func (LoopBackend) Destroy(v *Volume) error {
	firstErr := unmountWithFallback(v.Path())
	v.mu.RLock()
	dev := v.backendState["loop_dev"]
	v.mu.RUnlock()
	if dev != "" {
		if err := detachLoopDevice(dev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Save persists the attached loop device name so a daemon restart can
// Restore it without re-attaching from scratch.
func (LoopBackend) Save(v *Volume) (map[string]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return map[string]string{"loop_dev": v.backendState["loop_dev"]}, nil
}

func (LoopBackend) Restore(v *Volume, state map[string]string) error {
	v.mu.Lock()
	v.backendState["loop_dev"] = state["loop_dev"]
	v.mu.Unlock()
	return nil
}

func (LoopBackend) Resize(v *Volume, spaceLimit, inodeLimit uint64) error {
	return portoerr.New(portoerr.NotSupported, "loop backend does not support Resize")
}

func (LoopBackend) Move(v *Volume, dest string) error {
	return portoerr.New(portoerr.NotSupported, "loop backend does not support Move")
}

func (LoopBackend) GetStat(v *Volume) (Stat, error) {
	return statfsDir(v.Path())
}

func loopImagePath(storage string) string {
	return filepath.Join(storage, "loop.img")
}

// attachLoopDevice finds a free /dev/loopN via the loop-control device
// and binds img to it.
func attachLoopDevice(img string) (string, error) {
	ctl, err := os.OpenFile("/dev/loop-control", os.O_RDWR, 0)
	if err != nil {
		return "", err
	}
	defer ctl.Close()

	n, err := unix.IoctlLoopCtlGetFree(int(ctl.Fd()))
	if err != nil {
		return "", err
	}
	dev := fmt.Sprintf("/dev/loop%d", n)

	loopFile, err := os.OpenFile(dev, os.O_RDWR, 0)
	if err != nil {
		return "", err
	}
	defer loopFile.Close()

	backing, err := os.OpenFile(img, os.O_RDWR, 0)
	if err != nil {
		return "", err
	}
	defer backing.Close()

	if err := unix.IoctlLoopSetFd(int(loopFile.Fd()), int(backing.Fd())); err != nil {
		return "", err
	}
	return dev, nil
}

func detachLoopDevice(dev string) error {
	f, err := os.OpenFile(dev, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return unix.IoctlLoopClrFd(int(f.Fd()))
}
