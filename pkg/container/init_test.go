package container

import (
	"testing"

	"github.com/cuemby/portod/pkg/registry"
	"github.com/stretchr/testify/require"
)

func TestStripInitEnvDropsOnlyInitVars(t *testing.T) {
	env := []string{
		"PATH=/usr/bin",
		envUlimit + "=nofile:1024 2048",
		envBind + "=/src /dst ro",
		envRoot + "=/var/lib/portod/roots/1",
		"HOME=/root",
	}
	got := stripInitEnv(env)
	require.Equal(t, []string{"PATH=/usr/bin", "HOME=/root"}, got)
}

func TestRlimitResourcesNamesAreValidUlimitGrammar(t *testing.T) {
	// Every key here must be a name the `ulimit` property grammar
	// actually accepts, so applyUlimit is never asked to resolve a
	// name ParseUlimit would have already rejected at Set time.
	for name := range rlimitResources {
		_, err := registry.ParseUlimit(name + ":0 0")
		require.NoErrorf(t, err, "rlimitResources has unknown ulimit name %q", name)
	}
}
