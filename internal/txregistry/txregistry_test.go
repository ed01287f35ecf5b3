package txregistry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRememberAndKnown(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 0)
	require.False(t, r.Known("tx1"))
	require.NoError(t, r.Remember("tx1", "sess", 100))
	require.True(t, r.Known("tx1"))
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 0)
	require.NoError(t, r.Remember("tx1", "sess", 100))
	require.NoError(t, r.Remember("tx2", "sess", 101))

	r2, err := Load(dir, 0)
	require.NoError(t, err)
	require.True(t, r2.Known("tx1"))
	require.True(t, r2.Known("tx2"))
	require.Equal(t, 2, r2.Len())
}

func TestEvictionIsFIFOBounded(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 2)
	require.NoError(t, r.Remember("tx1", "", 1))
	require.NoError(t, r.Remember("tx2", "", 2))
	require.NoError(t, r.Remember("tx3", "", 3))

	require.Equal(t, 2, r.Len())
	require.False(t, r.Known("tx1"), "oldest entry must be evicted once over capacity")
	require.True(t, r.Known("tx2"))
	require.True(t, r.Known("tx3"))
}

func TestLoadMissingFileYieldsEmptyRegistry(t *testing.T) {
	dir := t.TempDir()
	r, err := Load(dir, 0)
	require.NoError(t, err)
	require.Equal(t, 0, r.Len())
}
