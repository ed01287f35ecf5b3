package triple

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddIdempotent(t *testing.T) {
	s := New()
	tr := Triple{S: 1, P: 2, O: 3}
	require.True(t, s.Add(tr))
	require.False(t, s.Add(tr))
	require.True(t, s.Has(tr))
	require.Equal(t, 1, s.Len())
}

func TestRemove(t *testing.T) {
	s := New()
	tr := Triple{S: 1, P: 2, O: 3}
	s.Add(tr)
	require.True(t, s.Remove(tr))
	require.False(t, s.Has(tr))
	require.False(t, s.Remove(tr))
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	s := New()
	want := []Triple{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	for _, tr := range want {
		s.Add(tr)
	}
	var buf bytes.Buffer
	require.NoError(t, s.Serialize(&buf))

	s2 := New()
	require.NoError(t, s2.Deserialize(&buf))
	require.Equal(t, s.Len(), s2.Len())
	for _, tr := range want {
		require.True(t, s2.Has(tr))
	}
}

func TestTombstoneCoexistsWithLiveEntryUntilRemoved(t *testing.T) {
	store := New()
	tombs := NewTombstoneSet()
	tr := Triple{S: 1, P: 1, O: 1}
	store.Add(tr)
	tombs.Add(tr)
	require.True(t, tombs.Has(tr))
	// the committed view must hide it even though the live set still has it
	// physically, until compaction removes it:
	require.True(t, store.Has(tr))
	store.Remove(tr)
	tombs.Remove(tr)
	require.False(t, store.Has(tr))
	require.False(t, tombs.Has(tr))
}
