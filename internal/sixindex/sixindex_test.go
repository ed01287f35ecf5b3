package sixindex

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/synapsedb/internal/triple"
)

func u32(v uint32) *uint32 { return &v }

func TestBestOrderSelection(t *testing.T) {
	o, ok := BestOrder(Criteria{Subject: u32(1), Predicate: u32(2)})
	require.True(t, ok)
	require.Equal(t, SPO, o)

	o, ok = BestOrder(Criteria{Object: u32(1), Predicate: u32(2)})
	require.True(t, ok)
	require.Equal(t, POS, o)

	o, ok = BestOrder(Criteria{Subject: u32(1)})
	require.True(t, ok)
	require.Equal(t, SPO, o)

	o, ok = BestOrder(Criteria{Predicate: u32(1)})
	require.True(t, ok)
	require.Equal(t, POS, o)

	o, ok = BestOrder(Criteria{Object: u32(1)})
	require.True(t, ok)
	require.Equal(t, OSP, o)

	_, ok = BestOrder(Criteria{})
	require.False(t, ok)
}

func TestQueryMatchesAllOrders(t *testing.T) {
	idx := New()
	idx.Add(triple.Triple{S: 1, P: 2, O: 3})
	idx.Add(triple.Triple{S: 1, P: 2, O: 4})
	idx.Add(triple.Triple{S: 2, P: 2, O: 3})

	got := idx.Query(Criteria{Subject: u32(1)})
	require.Len(t, got, 2)

	got = idx.Query(Criteria{Object: u32(3)})
	require.Len(t, got, 2)

	got = idx.Query(Criteria{Subject: u32(1), Predicate: u32(2)})
	require.Len(t, got, 2)
}

func TestQueryPrimaryPrefix(t *testing.T) {
	idx := New()
	idx.Add(triple.Triple{S: 1, P: 1, O: 1})
	idx.Add(triple.Triple{S: 1, P: 2, O: 2})
	idx.Add(triple.Triple{S: 2, P: 1, O: 1})

	got := idx.QueryPrimaryPrefix(SPO, 1)
	require.Len(t, got, 2)
}

func TestRemove(t *testing.T) {
	idx := New()
	tr := triple.Triple{S: 1, P: 2, O: 3}
	idx.Add(tr)
	require.Equal(t, 1, idx.Len())
	idx.Remove(tr)
	require.Equal(t, 0, idx.Len())
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	idx := New()
	idx.Add(triple.Triple{S: 1, P: 2, O: 3})
	idx.Add(triple.Triple{S: 4, P: 5, O: 6})

	var buf bytes.Buffer
	require.NoError(t, idx.Serialize(&buf))

	idx2 := New()
	require.NoError(t, idx2.Deserialize(&buf))
	require.Equal(t, 2, idx2.Len())
	require.Len(t, idx2.Query(Criteria{Subject: u32(1)}), 1)
	require.Len(t, idx2.QueryPrimaryPrefix(OSP, 6), 1)
}
