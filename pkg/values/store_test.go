package values

import (
	"testing"

	"github.com/cuemby/portod/pkg/registry"
	"github.com/stretchr/testify/require"
)

func TestSetAndGetExplicit(t *testing.T) {
	s := New()
	_, ok := s.GetExplicit("command")
	require.False(t, ok)

	require.NoError(t, s.Set("command", "/bin/true", registry.Value{Kind: registry.KindString, Str: "/bin/true"}))

	v, ok := s.GetExplicit("command")
	require.True(t, ok)
	require.Equal(t, "/bin/true", v.Str)
}

func TestSetJournalsThroughHook(t *testing.T) {
	s := New()
	var gotKey, gotRaw string
	s.SetJournal(func(key, raw string) error {
		gotKey, gotRaw = key, raw
		return nil
	})

	require.NoError(t, s.Set("cpu_limit", "2c", registry.Value{Kind: registry.KindString, Str: "2c"}))
	require.Equal(t, "cpu_limit", gotKey)
	require.Equal(t, "2c", gotRaw)
}

func TestSetWithoutJournalIsInMemoryOnly(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("command", "/bin/true", registry.Value{Kind: registry.KindString, Str: "/bin/true"}))
	v, ok := s.GetExplicit("command")
	require.True(t, ok)
	require.Equal(t, "/bin/true", v.Str)
}

func TestUnsetRevertsToDefaultPending(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("command", "/bin/true", registry.Value{Kind: registry.KindString, Str: "/bin/true"}))
	s.Unset("command")
	_, ok := s.GetExplicit("command")
	require.False(t, ok)
}

func TestSerializeSortsByKey(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("cpu_limit", "2c", registry.Value{Kind: registry.KindString, Str: "2c"}))
	require.NoError(t, s.Set("command", "/bin/true", registry.Value{Kind: registry.KindString, Str: "/bin/true"}))

	recs := s.Serialize()
	require.Len(t, recs, 2)
	require.Equal(t, "command", recs[0].Key)
	require.Equal(t, "cpu_limit", recs[1].Key)
}
