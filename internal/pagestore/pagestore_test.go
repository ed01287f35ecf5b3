package pagestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/synapsedb/internal/sixindex"
	"github.com/synapsedb/synapsedb/internal/triple"
)

func TestWriteRunsSplitsByPrimaryAndThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "SPO.pages")
	w, err := OpenWriter(path, sixindex.SPO)
	require.NoError(t, err)

	triples := []triple.Triple{
		{S: 1, P: 1, O: 1}, {S: 1, P: 1, O: 2}, {S: 1, P: 1, O: 3},
		{S: 2, P: 1, O: 1},
	}
	descs, err := WriteRuns(w, sixindex.SPO, triples, 2, CodecNone, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// primary 1 has 3 triples with threshold 2 -> split into 2 pages;
	// primary 2 has 1 triple -> 1 page. total 3 pages.
	require.Len(t, descs, 3)
	require.EqualValues(t, 1, descs[0].PrimaryValue)
	require.EqualValues(t, 1, descs[1].PrimaryValue)
	require.EqualValues(t, 2, descs[2].PrimaryValue)
}

func TestWriteReadRoundTripNoCompression(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "SPO.pages")
	w, err := OpenWriter(path, sixindex.SPO)
	require.NoError(t, err)

	triples := []triple.Triple{{S: 1, P: 2, O: 3}, {S: 1, P: 3, O: 4}}
	desc, err := w.WritePage(1, triples, CodecNone, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenReader(path, sixindex.SPO)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadPage(desc, CodecNone)
	require.NoError(t, err)
	require.ElementsMatch(t, triples, got)
}

func TestWriteReadRoundTripBrotli(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "POS.pages")
	w, err := OpenWriter(path, sixindex.POS)
	require.NoError(t, err)

	triples := []triple.Triple{{S: 1, P: 2, O: 3}, {S: 5, P: 2, O: 9}}
	desc, err := w.WritePage(2, triples, CodecBrotli, 5)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenReader(path, sixindex.POS)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadPage(desc, CodecBrotli)
	require.NoError(t, err)
	require.ElementsMatch(t, triples, got)
}

func TestCRCMismatchDetected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "SPO.pages")
	w, err := OpenWriter(path, sixindex.SPO)
	require.NoError(t, err)
	desc, err := w.WritePage(1, []triple.Triple{{S: 1, P: 1, O: 1}}, CodecNone, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	desc.CRC32 ^= 0xFFFFFFFF // corrupt
	r, err := OpenReader(path, sixindex.SPO)
	require.NoError(t, err)
	defer r.Close()
	_, err = r.ReadPage(desc, CodecNone)
	require.Error(t, err)
}

func TestManifestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitializeIfMissing(dir, 8192, CompressionConfig{Codec: CodecBrotli, Level: 5}, 1700000000))

	m, err := LoadManifest(dir)
	require.NoError(t, err)
	require.Equal(t, 1, m.Version)
	require.EqualValues(t, 0, m.Epoch)

	m.Epoch++
	m.AppendDescriptors(sixindex.SPO, []PageDescriptor{{PrimaryValue: 5, Offset: 0, Length: 12, RawLength: 12, CRC32: 42}})
	require.NoError(t, m.Save(dir))

	m2, err := LoadManifest(dir)
	require.NoError(t, err)
	require.EqualValues(t, 1, m2.Epoch)
	descs := m2.DescriptorsForPrimary(sixindex.SPO, 5)
	require.Len(t, descs, 1)
	require.EqualValues(t, 42, descs[0].CRC32)
}

func TestDescriptorsForPrimaryMultiPage(t *testing.T) {
	m := NewManifest(4096, CompressionConfig{Codec: CodecNone}, 0)
	m.AppendDescriptors(sixindex.SPO, []PageDescriptor{
		{PrimaryValue: 3, Offset: 0},
		{PrimaryValue: 3, Offset: 100},
		{PrimaryValue: 7, Offset: 200},
	})
	descs := m.DescriptorsForPrimary(sixindex.SPO, 3)
	require.Len(t, descs, 2)
}
