package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/synapsedb/internal/props"
	"github.com/synapsedb/synapsedb/internal/triple"
)

func TestImplicitSingleRecordBatchAppliesImmediately(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	defer w.Close()

	staged, err := w.AppendAddEncoded("alice", "knows", "bob", triple.Triple{S: 1, P: 2, O: 3})
	require.NoError(t, err)
	require.False(t, staged, "writes outside a batch are applied immediately, never staged")
}

func TestNestedCommitMergesIntoParent(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.BeginBatch(BeginOpts{TxID: "outer"}))
	staged, err := w.AppendAddEncoded("a", "p", "b", triple.Triple{S: 1, P: 1, O: 2})
	require.NoError(t, err)
	require.True(t, staged)

	require.NoError(t, w.BeginBatch(BeginOpts{TxID: "inner"}))
	staged, err = w.AppendAddEncoded("a", "p", "c", triple.Triple{S: 1, P: 1, O: 3})
	require.NoError(t, err)
	require.True(t, staged)

	res, err := w.CommitBatch(false)
	require.NoError(t, err)
	require.False(t, res.Outermost, "inner commit must not be outermost while the outer frame is still open")

	res, err = w.CommitBatch(true)
	require.NoError(t, err)
	require.True(t, res.Outermost)
	require.Equal(t, "outer", res.TxID)
	require.Len(t, res.Effects, 2, "outer commit must carry both its own and the merged inner effects")
}

func TestAbortDiscardsEffects(t *testing.T) {
	dir := t.TempDir()
	w, err := Create(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.BeginBatch(BeginOpts{TxID: "doomed"}))
	_, err = w.AppendAddEncoded("a", "p", "b", triple.Triple{S: 1, P: 1, O: 2})
	require.NoError(t, err)
	require.NoError(t, w.AbortBatch())
	require.False(t, w.InBatch())
}

func TestReplayReconstructsCommittedEffectsOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := Create(path)
	require.NoError(t, err)

	require.NoError(t, w.BeginBatch(BeginOpts{TxID: "tx1"}))
	_, err = w.AppendAddEncoded("a", "p", "b", triple.Triple{S: 1, P: 1, O: 2})
	require.NoError(t, err)
	_, err = w.CommitBatch(true)
	require.NoError(t, err)

	require.NoError(t, w.BeginBatch(BeginOpts{TxID: "tx2"}))
	_, err = w.AppendAddEncoded("a", "p", "d", triple.Triple{S: 1, P: 1, O: 4})
	require.NoError(t, err)
	require.NoError(t, w.AbortBatch())

	m := props.Map{"name": props.FromAny("alice")}
	_, err = w.AppendSetNodeProps(7, m)
	require.NoError(t, err)

	require.NoError(t, w.Close())

	res, err := Replay(path, nil)
	require.NoError(t, err)
	require.Len(t, res.CommittedTx, 1)
	require.Equal(t, "tx1", res.CommittedTx[0].TxID)

	var sawAdd, sawProps bool
	for _, e := range res.Applied {
		switch e.Kind {
		case EffectAdd:
			require.Equal(t, "a", e.RawSubject)
			require.Equal(t, "b", e.RawObject)
			sawAdd = true
		case EffectSetNodeProps:
			require.EqualValues(t, 7, e.NodeID)
			require.Equal(t, "alice", e.NodeProps["name"].Str)
			sawProps = true
		}
	}
	require.True(t, sawAdd)
	require.True(t, sawProps)
}

func TestReplaySkipsKnownTxID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := Create(path)
	require.NoError(t, err)

	require.NoError(t, w.BeginBatch(BeginOpts{TxID: "known"}))
	_, err = w.AppendAddEncoded("a", "p", "b", triple.Triple{S: 1, P: 1, O: 2})
	require.NoError(t, err)
	_, err = w.CommitBatch(true)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	res, err := Replay(path, map[string]bool{"known": true})
	require.NoError(t, err)
	require.Empty(t, res.Applied, "a previously-registered tx id must be idempotently skipped on replay")
	require.Empty(t, res.CommittedTx)
}

func TestReplayStopsAtTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := Create(path)
	require.NoError(t, err)
	_, err = w.AppendAddEncoded("a", "p", "b", triple.Triple{S: 1, P: 1, O: 2})
	require.NoError(t, err)
	size, err := w.Size()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Simulate a crash mid-append: truncate off the last few bytes of the
	// record's payload.
	require.NoError(t, os.Truncate(path, size-2))

	res, err := Replay(path, nil)
	require.NoError(t, err)
	require.Empty(t, res.Applied, "a torn record must not be applied")
	require.Equal(t, int64(headerSize), res.SafeOffset)
}
