package nodestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nodestore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestAppendAndList(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Append("containers", "1", "command", "/bin/true"))
	require.NoError(t, s.Append("containers", "1", "cpu_limit", "2c"))

	recs, err := s.List("containers", "1")
	require.NoError(t, err)
	require.Equal(t, []Record{
		{Key: "command", Value: "/bin/true"},
		{Key: "cpu_limit", Value: "2c"},
	}, recs)
}

func TestListUnknownNodeReturnsNil(t *testing.T) {
	s := openTestStore(t)

	recs, err := s.List("containers", "missing")
	require.NoError(t, err)
	require.Nil(t, recs)
}

func TestSaveReplacesJournal(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Append("containers", "1", "command", "/bin/true"))
	require.NoError(t, s.Append("containers", "1", "command", "/bin/false"))

	require.NoError(t, s.Save("containers", "1", []Record{{Key: "command", Value: "/bin/false"}}))

	recs, err := s.List("containers", "1")
	require.NoError(t, err)
	require.Equal(t, []Record{{Key: "command", Value: "/bin/false"}}, recs)
}

func TestRemoveDeletesNode(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Append("containers", "1", "command", "/bin/true"))
	require.NoError(t, s.Remove("containers", "1"))

	recs, err := s.List("containers", "1")
	require.NoError(t, err)
	require.Nil(t, recs)
}

func TestListIDs(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Append("containers", "1", "k", "v"))
	require.NoError(t, s.Append("containers", "2", "k", "v"))

	ids, err := s.ListIDs("containers")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1", "2"}, ids)
}

func TestListIDsUnknownBucket(t *testing.T) {
	s := openTestStore(t)
	ids, err := s.ListIDs("nope")
	require.NoError(t, err)
	require.Nil(t, ids)
}
