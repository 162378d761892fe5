package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend simulates mount-level work entirely in memory so the
// Holder's orchestration (id allocation, rollback, guarantee admission)
// can be exercised without root privileges or a real filesystem mount.
type fakeBackend struct {
	built map[uint16]bool
	stats map[uint16]Stat
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{built: make(map[uint16]bool), stats: make(map[uint16]Stat)}
}

func (fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Configure(v *Volume) error { return nil }

func (b *fakeBackend) Build(v *Volume) error {
	b.built[v.ID()] = true
	return nil
}

func (b *fakeBackend) Clear(v *Volume) error { return nil }

func (b *fakeBackend) Destroy(v *Volume) error {
	delete(b.built, v.ID())
	return nil
}

func (b *fakeBackend) Save(v *Volume) (map[string]string, error) { return nil, nil }
func (b *fakeBackend) Restore(v *Volume, state map[string]string) error { return nil }
func (b *fakeBackend) Resize(v *Volume, spaceLimit, inodeLimit uint64) error { return nil }
func (b *fakeBackend) Move(v *Volume, dest string) error { return nil }

func (b *fakeBackend) GetStat(v *Volume) (Stat, error) {
	if st, ok := b.stats[v.ID()]; ok {
		return st, nil
	}
	return Stat{}, nil
}

func newTestHolder(t *testing.T) (*Holder, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend()
	h, err := NewHolder(t.TempDir(), "fake", fb)
	require.NoError(t, err)
	return h, fb
}

func TestCreateConfigureBuild(t *testing.T) {
	h, fb := newTestHolder(t)

	v, err := h.Create("root", Credential{UID: 1000, GID: 1000})
	require.NoError(t, err)
	assert.False(t, v.Ready())

	require.NoError(t, h.Configure(v, ConfigureOpts{Owner: Credential{UID: 1000, GID: 1000}}))
	assert.NotEmpty(t, v.Path())

	require.NoError(t, h.Build(v))
	assert.True(t, v.Ready())
	assert.True(t, fb.built[v.ID()])
}

func TestConfigureRejectsDuplicatePath(t *testing.T) {
	h, _ := newTestHolder(t)
	path := t.TempDir()

	v1, err := h.Create("root", Credential{})
	require.NoError(t, err)
	require.NoError(t, h.Configure(v1, ConfigureOpts{Path: path}))

	v2, err := h.Create("root", Credential{})
	require.NoError(t, err)
	err = h.Configure(v2, ConfigureOpts{Path: path})
	require.Error(t, err)
}

func TestDestroyReleasesID(t *testing.T) {
	h, _ := newTestHolder(t)

	v, err := h.Create("root", Credential{})
	require.NoError(t, err)
	require.NoError(t, h.Configure(v, ConfigureOpts{}))
	require.NoError(t, h.Build(v))
	firstID := v.ID()

	require.NoError(t, h.Destroy(v))
	_, ok := h.Find(v.Path())
	assert.False(t, ok)

	v2, err := h.Create("root", Credential{})
	require.NoError(t, err)
	assert.Equal(t, firstID, v2.ID()) // freed id is reused
}

func TestLinkUnlinkContainer(t *testing.T) {
	h, _ := newTestHolder(t)
	v, err := h.Create("root", Credential{})
	require.NoError(t, err)
	require.NoError(t, h.Configure(v, ConfigureOpts{}))

	h.LinkContainer(v, "/a")
	h.LinkContainer(v, "/b")
	assert.False(t, h.UnlinkContainer(v, "/a"))
	assert.True(t, h.UnlinkContainer(v, "/b"))
}

func TestCheckGuaranteeRejectsOversubscription(t *testing.T) {
	h, fb := newTestHolder(t)

	existing, err := h.Create("root", Credential{})
	require.NoError(t, err)
	require.NoError(t, h.Configure(existing, ConfigureOpts{SpaceGuarantee: 1 << 30})) // 1 GiB
	fb.stats[existing.ID()] = Stat{SpaceUsed: 0}

	// A guarantee far larger than any real disk has free is always
	// rejected regardless of what's already reserved.
	candidate, err := h.Create("root", Credential{})
	require.NoError(t, err)
	require.NoError(t, h.Configure(candidate, ConfigureOpts{}))
	err = h.CheckGuarantee(candidate, 1<<60, 0)
	require.Error(t, err)
}

func TestConfigureRejectsInfeasibleGuarantee(t *testing.T) {
	h, fb := newTestHolder(t)

	other, err := h.Create("root", Credential{})
	require.NoError(t, err)
	require.NoError(t, h.Configure(other, ConfigureOpts{}))
	fb.stats[other.ID()] = Stat{}
	other.mu.Lock()
	other.spaceGuarantee = 1 << 62
	other.mu.Unlock()

	v, err := h.Create("root", Credential{})
	require.NoError(t, err)
	err = h.Configure(v, ConfigureOpts{SpaceGuarantee: 1 << 20})
	require.Error(t, err)

	// Configure's CheckGuarantee rejection must roll back like any
	// other Configure failure: the auto path is unregistered.
	_, ok := h.Find(v.Path())
	assert.False(t, ok)
}

func TestResizeRejectsNewlyInfeasibleGuarantee(t *testing.T) {
	h, fb := newTestHolder(t)

	v, err := h.Create("root", Credential{})
	require.NoError(t, err)
	require.NoError(t, h.Configure(v, ConfigureOpts{SpaceGuarantee: 1 << 20}))
	require.NoError(t, h.Build(v))

	// Another volume on the same device commits practically all of
	// its guarantee after v was already configured and built.
	other, err := h.Create("root", Credential{})
	require.NoError(t, err)
	require.NoError(t, h.Configure(other, ConfigureOpts{}))
	fb.stats[other.ID()] = Stat{}
	other.mu.Lock()
	other.spaceGuarantee = 1 << 62
	other.mu.Unlock()

	err = h.Resize(v, 1<<20, 0)
	require.Error(t, err)
}
