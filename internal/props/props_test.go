package props

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetNodePropertiesWholeMapReplace(t *testing.T) {
	s := New()
	s.SetNodeProperties(1, Map{"name": {Kind: KindString, Str: "alice"}})
	s.SetNodeProperties(1, Map{"age": {Kind: KindInt, Int: 30}})
	m, ok := s.GetNodeProperties(1)
	require.True(t, ok)
	_, hasName := m["name"]
	require.False(t, hasName, "whole-map replace must drop old keys")
	require.Equal(t, int64(30), m["age"].Int)
}

func TestSetEdgeProperties(t *testing.T) {
	s := New()
	key := EdgeKey{S: 1, P: 2, O: 3}
	s.SetEdgeProperties(key, Map{"since": {Kind: KindInt, Int: 2020}})
	m, ok := s.GetEdgeProperties(key)
	require.True(t, ok)
	require.Equal(t, int64(2020), m["since"].Int)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	s := New()
	s.SetNodeProperties(1, Map{
		"name": {Kind: KindString, Str: "alice"},
		"age":  {Kind: KindInt, Int: 30},
		"tags": {Kind: KindList, List: []Value{{Kind: KindString, Str: "a"}, {Kind: KindString, Str: "b"}}},
	})
	s.SetEdgeProperties(EdgeKey{1, 2, 3}, Map{"weight": {Kind: KindFloat, Flt: 0.5}})

	var buf bytes.Buffer
	require.NoError(t, s.Serialize(&buf))

	s2 := New()
	require.NoError(t, s2.Deserialize(&buf))

	m, ok := s2.GetNodeProperties(1)
	require.True(t, ok)
	require.Equal(t, "alice", m["name"].Str)
	require.Equal(t, int64(30), m["age"].Int)
	require.Len(t, m["tags"].List, 2)

	em, ok := s2.GetEdgeProperties(EdgeKey{1, 2, 3})
	require.True(t, ok)
	require.Equal(t, 0.5, em["weight"].Flt)
}

func TestInvertedIndexEquality(t *testing.T) {
	idx := NewInvertedIndex()
	idx.IndexNode(1, Value{Kind: KindString, Str: "red"})
	idx.IndexNode(2, Value{Kind: KindString, Str: "red"})
	idx.IndexNode(3, Value{Kind: KindString, Str: "blue"})

	got := idx.QueryNodesEqual(Value{Kind: KindString, Str: "red"})
	require.ElementsMatch(t, []uint32{1, 2}, got)

	idx.UnindexNode(1, Value{Kind: KindString, Str: "red"})
	got = idx.QueryNodesEqual(Value{Kind: KindString, Str: "red"})
	require.ElementsMatch(t, []uint32{2}, got)
}

func TestInvertedIndexRange(t *testing.T) {
	idx := NewInvertedIndex()
	idx.IndexNode(1, Value{Kind: KindInt, Int: 10})
	idx.IndexNode(2, Value{Kind: KindInt, Int: 20})
	idx.IndexNode(3, Value{Kind: KindInt, Int: 30})

	min := Value{Kind: KindInt, Int: 15}
	max := Value{Kind: KindInt, Int: 30}
	got := idx.QueryNodesByRange(&min, &max, true, false)
	require.ElementsMatch(t, []uint32{2}, got)

	got = idx.QueryNodesByRange(&min, &max, true, true)
	require.ElementsMatch(t, []uint32{2, 3}, got)
}

func TestCanonicalKeyDistinguishesNullFromOthers(t *testing.T) {
	require.NotEqual(t, canonicalKey(Value{Kind: KindNull}), canonicalKey(Value{Kind: KindBool, Bool: false}))
}

func TestCanonicalKeyObjectKeyOrderIndependent(t *testing.T) {
	a := Value{Kind: KindObject, Obj: map[string]Value{
		"x": {Kind: KindInt, Int: 1},
		"y": {Kind: KindInt, Int: 2},
	}}
	b := Value{Kind: KindObject, Obj: map[string]Value{
		"y": {Kind: KindInt, Int: 2},
		"x": {Kind: KindInt, Int: 1},
	}}
	require.Equal(t, canonicalKey(a), canonicalKey(b))
}
