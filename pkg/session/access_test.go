package session

import (
	"testing"

	"github.com/cuemby/portod/pkg/container"
	"github.com/cuemby/portod/pkg/registry"
	"github.com/stretchr/testify/require"
)

func newAccessTestTree(t *testing.T) *container.Tree {
	t.Helper()
	reg := registry.New()
	registry.RegisterStandard(reg)
	return container.NewTree(reg, nil, nil, nil, 0, 0)
}

func TestCheckAccessReadOnlyCannotWrite(t *testing.T) {
	tree := newAccessTestTree(t)
	child, err := tree.Create("/", "a", container.Credential{UID: 1000})
	require.NoError(t, err)

	s := &Session{accessLevel: container.AccessReadOnly, originName: "/", namespace: "/", writeNamespace: "/"}
	err = s.CheckAccess(OpRead, child)
	require.NoError(t, err)

	err = s.CheckAccess(OpWrite, child)
	require.Error(t, err)
}

func TestCheckAccessCannotModifyRoot(t *testing.T) {
	tree := newAccessTestTree(t)
	root := tree.Root()

	s := &Session{accessLevel: container.AccessSuperUser, originName: "/", namespace: "/", writeNamespace: "/"}
	err := s.CheckAccess(OpWrite, root)
	require.Error(t, err)
}

func TestCheckAccessOwnerMismatch(t *testing.T) {
	tree := newAccessTestTree(t)
	child, err := tree.Create("/", "a", container.Credential{UID: 1000})
	require.NoError(t, err)

	// AccessSelfIsolate permits writes but, unlike AccessNormal, does
	// not bypass ownership outside the matching-uid/superuser case.
	s := &Session{accessLevel: container.AccessSelfIsolate, uid: 2000, originName: "/", namespace: "/", writeNamespace: "/"}
	err = s.CheckAccess(OpWrite, child)
	require.Error(t, err)

	s.uid = 1000
	require.NoError(t, s.CheckAccess(OpWrite, child))
}

func TestCheckAccessNormalBypassesOwnershipWithinNamespace(t *testing.T) {
	tree := newAccessTestTree(t)
	child, err := tree.Create("/", "a", container.Credential{UID: 1000})
	require.NoError(t, err)

	// AccessNormal (porto-containers/<user>-containers group
	// membership) may write a container it doesn't own, as long as
	// the target is within the session's write namespace.
	s := &Session{accessLevel: container.AccessNormal, uid: 2000, originName: "/", namespace: "/", writeNamespace: "/"}
	require.NoError(t, s.CheckAccess(OpWrite, child))
}
