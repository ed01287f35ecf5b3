package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/synapsedb"
	"github.com/synapsedb/synapsedb/internal/pagestore"
	"github.com/synapsedb/synapsedb/internal/props"
)

func testOptions() synapsedb.Options {
	o := synapsedb.DefaultOptions()
	o.EnableLock = false
	o.CompressionCodec = pagestore.CodecNone
	o.LSMMemtableThreshold = 4096
	return o
}

func dbPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "graph")
}

func str(s string) *string { return &s }

func TestFindFollowWalksOneHop(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AddFact(synapsedb.Fact{Subject: "alice", Predicate: "knows", Object: "bob"})
	require.NoError(t, err)
	_, err = s.AddFact(synapsedb.Fact{Subject: "bob", Predicate: "knows", Object: "carol"})
	require.NoError(t, err)

	b := New(s).Find(Criteria{Subject: str("alice")}).Follow("knows")
	got := b.All()
	require.Len(t, got, 1)

	obj, ok := s.GetNodeValue(got[0].Triple.O)
	require.True(t, ok)
	require.Equal(t, "bob", obj)
}

func TestFollowPathCollectsEveryHopInRange(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	for _, edge := range [][2]string{{"A", "B"}, {"B", "C"}, {"C", "D"}} {
		_, err := s.AddFact(synapsedb.Fact{Subject: edge[0], Predicate: "knows", Object: edge[1]})
		require.NoError(t, err)
	}

	b := New(s).Find(Criteria{Subject: str("A")}).FollowPath("knows", PathRange{Min: 1, Max: 3})
	got := b.All()
	require.Len(t, got, 3)

	var objects []string
	for _, r := range got {
		v, ok := s.GetNodeValue(r.Triple.O)
		require.True(t, ok)
		objects = append(objects, v)
	}
	require.ElementsMatch(t, []string{"B", "C", "D"}, objects)
}

func TestFollowPathNodeUniquenessSkipsRevisitedNode(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AddFact(synapsedb.Fact{Subject: "A", Predicate: "knows", Object: "B"})
	require.NoError(t, err)
	_, err = s.AddFact(synapsedb.Fact{Subject: "A", Predicate: "knows", Object: "C"})
	require.NoError(t, err)
	_, err = s.AddFact(synapsedb.Fact{Subject: "B", Predicate: "knows", Object: "C"})
	require.NoError(t, err)
	_, err = s.AddFact(synapsedb.Fact{Subject: "C", Predicate: "knows", Object: "D"})
	require.NoError(t, err)

	got := New(s).Find(Criteria{Subject: str("A")}).FollowPath("knows", PathRange{Min: 1, Max: 3}).All()

	seen := make(map[uint32]int)
	for _, r := range got {
		seen[r.Triple.O]++
	}
	for node, count := range seen {
		require.Equalf(t, 1, count, "node %d visited more than once under UniqueNode", node)
	}
}

func TestWherePropertyEqualUsesInvertedIndex(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	pf, err := s.AddFact(synapsedb.Fact{Subject: "alice", Predicate: "knows", Object: "bob"})
	require.NoError(t, err)
	require.NoError(t, s.SetNodeProperties(pf.Triple.O, props.Map{
		"age": {Kind: props.KindInt, Int: 30},
	}))

	b := New(s).Find(Criteria{Subject: str("alice")}).
		WhereProperty("age", OpEqual, props.Value{Kind: props.KindInt, Int: 30}, TargetObject)
	require.Len(t, b.All(), 1)

	b2 := New(s).Find(Criteria{Subject: str("alice")}).
		WhereProperty("age", OpEqual, props.Value{Kind: props.KindInt, Int: 99}, TargetObject)
	require.Empty(t, b2.All())
}

func TestWherePropertyNestedPathUsesGjson(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	pf, err := s.AddFact(synapsedb.Fact{Subject: "alice", Predicate: "livesIn", Object: "home"})
	require.NoError(t, err)
	require.NoError(t, s.SetNodeProperties(pf.Triple.O, props.Map{
		"address": {
			Kind: props.KindObject,
			Obj: map[string]props.Value{
				"city": {Kind: props.KindString, Str: "Springfield"},
			},
		},
	}))

	b := New(s).Find(Criteria{Subject: str("alice")}).
		WhereProperty("address.city", OpEqual, props.Value{Kind: props.KindString, Str: "Springfield"}, TargetObject)
	require.Len(t, b.All(), 1)

	b2 := New(s).Find(Criteria{Subject: str("alice")}).
		WhereProperty("address.city", OpEqual, props.Value{Kind: props.KindString, Str: "Shelbyville"}, TargetObject)
	require.Empty(t, b2.All())
}

func TestWhereLabelModeAndRequiresEveryLabel(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	pf, err := s.AddFact(synapsedb.Fact{Subject: "x", Predicate: "related", Object: "y"})
	require.NoError(t, err)
	require.NoError(t, s.SetNodeProperties(pf.Triple.S, props.Map{
		"_labels": {Kind: props.KindList, List: []props.Value{
			{Kind: props.KindString, Str: "Person"},
			{Kind: props.KindString, Str: "Admin"},
		}},
	}))

	got := New(s).Find(Criteria{Subject: str("x")}).
		WhereLabel([]string{"Person", "Admin"}, LabelModeAnd, LabelOnSubject).All()
	require.Len(t, got, 1)

	got = New(s).Find(Criteria{Subject: str("x")}).
		WhereLabel([]string{"Person", "Missing"}, LabelModeAnd, LabelOnSubject).All()
	require.Empty(t, got)

	got = New(s).Find(Criteria{Subject: str("x")}).
		WhereLabel([]string{"Person", "Missing"}, LabelModeOr, LabelOnSubject).All()
	require.Len(t, got, 1)
}

func TestLimitSkipWindowResults(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	for _, obj := range []string{"b", "c", "d", "e"} {
		_, err := s.AddFact(synapsedb.Fact{Subject: "a", Predicate: "knows", Object: obj})
		require.NoError(t, err)
	}

	all := New(s).Find(Criteria{Subject: str("a")}).All()
	require.Len(t, all, 4)

	windowed := New(s).Find(Criteria{Subject: str("a")}).Skip(1).Limit(2).All()
	require.Len(t, windowed, 2)
}

func TestUnionDedupsByTripleUnionAllDoesNot(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AddFact(synapsedb.Fact{Subject: "a", Predicate: "knows", Object: "b"})
	require.NoError(t, err)

	left := New(s).Find(Criteria{Subject: str("a")})
	right := New(s).Find(Criteria{Subject: str("a")})

	require.Len(t, left.Union(right).All(), 1)
	require.Len(t, left.UnionAll(right).All(), 2)
}

func TestPinUnpinRoundTripsStorePinStack(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	b := New(s)
	pinned, err := b.Pin()
	require.NoError(t, err)
	_, err = pinned.Unpin()
	require.NoError(t, err)
}

func TestExplainReportsChosenOrderAndEstimatedOutput(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	for _, obj := range []string{"b", "c", "d"} {
		_, err := s.AddFact(synapsedb.Fact{Subject: "a", Predicate: "knows", Object: obj})
		require.NoError(t, err)
	}

	plan := New(s).Find(Criteria{Subject: str("a")}).Limit(2).Explain()
	require.Equal(t, 2, plan.EstimatedOutput)
}

func TestStreamRespectsContextCancellation(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	for _, obj := range []string{"b", "c", "d", "e"} {
		_, err := s.AddFact(synapsedb.Fact{Subject: "a", Predicate: "knows", Object: obj})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := New(s).Find(Criteria{Subject: str("a")}).Stream(ctx, 1)

	batch, ok := <-ch
	require.True(t, ok)
	require.Len(t, batch, 1)
	cancel()

	for range ch {
	}
}
