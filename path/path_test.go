package path

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/synapsedb"
	"github.com/synapsedb/synapsedb/internal/pagestore"
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

func idOf(t *testing.T, s *synapsedb.Store, name string) uint32 {
	t.Helper()
	id, ok := s.GetNodeId(name)
	require.True(t, ok)
	return id
}

func chain(t *testing.T, s *synapsedb.Store, predicate string, nodes ...string) {
	t.Helper()
	for i := 0; i+1 < len(nodes); i++ {
		_, err := s.AddFact(synapsedb.Fact{Subject: nodes[i], Predicate: predicate, Object: nodes[i+1]})
		require.NoError(t, err)
	}
}

func TestBFSFindsShortestPath(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	chain(t, s, "knows", "A", "B", "C", "D")

	p, ok, err := BFS(s, []uint32{idOf(t, s, "A")}, []uint32{idOf(t, s, "D")}, "knows", Options{Direction: Forward})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, p.Hops)
	require.Len(t, p.Edges, 3)
}

func TestBFSRespectsMaxHops(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	chain(t, s, "knows", "A", "B", "C", "D")

	_, ok, err := BFS(s, []uint32{idOf(t, s, "A")}, []uint32{idOf(t, s, "D")}, "knows", Options{Direction: Forward, MaxHops: 2})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBFSBidirectionalFindsSamePathAsBFS(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	chain(t, s, "knows", "A", "B", "C", "D", "E")

	p, ok, err := BFSBidirectional(s, []uint32{idOf(t, s, "A")}, []uint32{idOf(t, s, "E")}, "knows", Options{Direction: Forward})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4, p.Hops)
}

func TestVariableLengthEnumeratesAllLengthsInRange(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	chain(t, s, "knows", "A", "B", "C", "D")

	paths, err := VariableLength(s, []uint32{idOf(t, s, "A")}, []uint32{idOf(t, s, "B"), idOf(t, s, "C"), idOf(t, s, "D")}, "knows", 1, 3, Options{Direction: Forward})
	require.NoError(t, err)
	require.Len(t, paths, 3)

	hops := make(map[int]bool)
	for _, p := range paths {
		hops[p.Hops] = true
	}
	require.True(t, hops[1])
	require.True(t, hops[2])
	require.True(t, hops[3])
}

func TestAStarFindsShortestPathWithHopHeuristic(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	chain(t, s, "knows", "A", "B", "C", "D")

	p, ok, err := AStar(s, idOf(t, s, "A"), idOf(t, s, "D"), "knows", AStarOptions{Direction: Forward, Heuristic: HeuristicHop})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, p.Hops)
}

func TestAStarRespectsMinG(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	chain(t, s, "knows", "A", "B", "C", "D")
	// A loop back to D via a longer route so MinG forces the longer path.
	_, err = s.AddFact(synapsedb.Fact{Subject: "A", Predicate: "knows", Object: "D"})
	require.NoError(t, err)

	p, ok, err := AStar(s, idOf(t, s, "A"), idOf(t, s, "D"), "knows", AStarOptions{Direction: Forward, Heuristic: HeuristicHop, MinG: 3})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, p.Hops)
}

func TestBFSUnknownPredicateReturnsNoPath(t *testing.T) {
	s, err := synapsedb.Open(dbPath(t), testOptions())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AddFact(synapsedb.Fact{Subject: "A", Predicate: "knows", Object: "B"})
	require.NoError(t, err)

	_, ok, err := BFS(s, []uint32{idOf(t, s, "A")}, []uint32{idOf(t, s, "B")}, "unknownPredicate", Options{Direction: Forward})
	require.NoError(t, err)
	require.False(t, ok)
}
