package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessCapUnconstrainedWithoutIsolate(t *testing.T) {
	tree := newTestTree(t, &fakeSupervisor{})
	a, err := tree.Create("/", "/a", Credential{})
	require.NoError(t, err)
	b, err := tree.Create("/a", "/a/b", Credential{})
	require.NoError(t, err)

	assert.Equal(t, AccessInternal, a.AccessCap())
	assert.Equal(t, AccessInternal, b.AccessCap())
}

func TestAccessCapCapsDescendantsOfIsolatingContainer(t *testing.T) {
	tree := newTestTree(t, &fakeSupervisor{})
	a, err := tree.Create("/", "/a", Credential{})
	require.NoError(t, err)
	require.NoError(t, a.Set("isolate", "true", true))
	b, err := tree.Create("/a", "/a/b", Credential{})
	require.NoError(t, err)

	assert.Equal(t, AccessSelfIsolate, a.AccessLevel())
	assert.Equal(t, AccessSelfIsolate, a.AccessCap())
	// b does not itself isolate, but its ancestor a does: the minimum
	// along the chain still caps b at AccessSelfIsolate.
	assert.Equal(t, AccessInternal, b.AccessLevel())
	assert.Equal(t, AccessSelfIsolate, b.AccessCap())
}

func TestAccessCapUnaffectedBySiblingIsolation(t *testing.T) {
	tree := newTestTree(t, &fakeSupervisor{})
	a, err := tree.Create("/", "a", Credential{})
	require.NoError(t, err)
	require.NoError(t, a.Set("isolate", "true", true))
	sibling, err := tree.Create("/", "c", Credential{})
	require.NoError(t, err)

	// sibling's own chain (root -> sibling) never passes through a, so
	// it keeps the unconstrained level.
	assert.Equal(t, AccessInternal, sibling.AccessCap())
}
