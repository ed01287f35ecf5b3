package synapsedb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadStorageFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.synapsedb")
	s := sections{
		dictionary: []byte("dict-bytes"),
		triples:    []byte("triple-bytes"),
		indexes:    []byte("index-bytes"),
		properties: []byte("prop-bytes"),
	}
	require.NoError(t, writeStorageFile(path, s))

	got, err := readStorageFile(path)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestInitializeIfMissingIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.synapsedb")
	require.NoError(t, initializeIfMissing(path))
	require.NoError(t, initializeIfMissing(path))

	got, err := readStorageFile(path)
	require.NoError(t, err)
	require.Empty(t, got.dictionary)
}

func TestReadStorageFileRejectsCorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.synapsedb")
	require.NoError(t, initializeIfMissing(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] = 'X'
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = readStorageFile(path)
	require.Error(t, err)
}
