package lsmlite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/synapsedb/internal/triple"
)

func TestAddBelowThresholdStaysInMemory(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 10)
	require.NoError(t, err)

	require.NoError(t, s.Add(triple.Triple{S: 1, P: 1, O: 1}))
	m, err := s.GetStagingMetrics()
	require.NoError(t, err)
	require.Equal(t, 1, m.MemtableSize)
	require.Equal(t, 0, m.SegmentCount)
}

func TestAddAtThresholdFreezesSegment(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 2)
	require.NoError(t, err)

	require.NoError(t, s.Add(triple.Triple{S: 1, P: 1, O: 1}))
	require.NoError(t, s.Add(triple.Triple{S: 1, P: 1, O: 2}))

	m, err := s.GetStagingMetrics()
	require.NoError(t, err)
	require.Equal(t, 0, m.MemtableSize)
	require.Equal(t, 1, m.SegmentCount)
}

func TestFlushMergesSegmentsAndMemtable(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 2)
	require.NoError(t, err)

	require.NoError(t, s.Add(triple.Triple{S: 1, P: 1, O: 1}))
	require.NoError(t, s.Add(triple.Triple{S: 1, P: 1, O: 2})) // freezes
	require.NoError(t, s.Add(triple.Triple{S: 2, P: 1, O: 1})) // stays in memtable

	triples, segs, err := s.Flush()
	require.NoError(t, err)
	require.Len(t, triples, 3)
	require.Len(t, segs, 2, "the pre-existing frozen segment plus the one created by Flush's own freeze")

	require.NoError(t, s.RemoveSegments(segs))
	m, err := s.GetStagingMetrics()
	require.NoError(t, err)
	require.Equal(t, 0, m.SegmentCount)
}

func TestReopenRediscoversSegmentsFromManifest(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 1)
	require.NoError(t, err)
	require.NoError(t, s.Add(triple.Triple{S: 1, P: 1, O: 1}))

	s2, err := Open(dir, 1)
	require.NoError(t, err)
	_, segs, err := s2.Flush()
	require.NoError(t, err)
	require.Len(t, segs, 1)
}
