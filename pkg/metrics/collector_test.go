package metrics

import (
	"testing"

	"github.com/cuemby/portod/pkg/container"
	"github.com/cuemby/portod/pkg/registry"
	"github.com/cuemby/portod/pkg/volume"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct{}

func (fakeBackend) Name() string                                          { return "fake" }
func (fakeBackend) Configure(v *volume.Volume) error                      { return nil }
func (fakeBackend) Build(v *volume.Volume) error                         { return nil }
func (fakeBackend) Clear(v *volume.Volume) error                         { return nil }
func (fakeBackend) Destroy(v *volume.Volume) error                       { return nil }
func (fakeBackend) Save(v *volume.Volume) (map[string]string, error)     { return nil, nil }
func (fakeBackend) Restore(v *volume.Volume, state map[string]string) error { return nil }
func (fakeBackend) Resize(v *volume.Volume, spaceLimit, inodeLimit uint64) error { return nil }
func (fakeBackend) Move(v *volume.Volume, dest string) error             { return nil }
func (fakeBackend) GetStat(v *volume.Volume) (volume.Stat, error)        { return volume.Stat{}, nil }

func newTestTree(t *testing.T) *container.Tree {
	t.Helper()
	restore := container.WithCgroupRoot(t.TempDir())
	t.Cleanup(restore)
	reg := registry.New()
	registry.RegisterStandard(reg)
	return container.NewTree(reg, nil, nil, nil, 0, 0)
}

func TestCollectorSamplesContainerStates(t *testing.T) {
	tree := newTestTree(t)
	_, err := tree.Create("/", "a", container.Credential{})
	require.NoError(t, err)
	_, err = tree.Create("/", "b", container.Credential{})
	require.NoError(t, err)

	c := NewCollector(tree, nil)
	c.collect()

	require.Equal(t, float64(2), testutil.ToFloat64(ContainersTotal.WithLabelValues("Stopped")))
}

func TestCollectorSamplesVolumeBackends(t *testing.T) {
	tree := newTestTree(t)
	holder, err := volume.NewHolder(t.TempDir(), "fake", fakeBackend{})
	require.NoError(t, err)

	v, err := holder.Create("test", volume.Credential{})
	require.NoError(t, err)
	require.NoError(t, holder.Configure(v, volume.ConfigureOpts{}))

	c := NewCollector(tree, holder)
	c.collect()

	require.Equal(t, float64(1), testutil.ToFloat64(VolumesTotal.WithLabelValues("fake")))
}

func TestCollectorHandlesNilHolder(t *testing.T) {
	tree := newTestTree(t)
	c := NewCollector(tree, nil)
	require.NotPanics(t, func() { c.collect() })
}
