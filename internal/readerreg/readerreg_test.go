package readerreg

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndLive(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, r.Register(os.Getpid(), 7, time.Now()))
	live, err := r.Live(time.Hour, time.Now())
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.EqualValues(t, 7, live[0].PinnedEpoch)
}

func TestUnregisterRemovesEntry(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, r.Register(os.Getpid(), 1, time.Now()))
	require.NoError(t, r.Unregister(os.Getpid()))
	live, err := r.Live(time.Hour, time.Now())
	require.NoError(t, err)
	require.Empty(t, live)
}

func TestStaleEntryReclaimed(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, r.Register(os.Getpid(), 1, old))
	live, err := r.Live(time.Minute, time.Now())
	require.NoError(t, err)
	require.Empty(t, live, "an entry older than staleAfter must be reclaimed even for a live pid")
}

func TestMinPinnedEpochAcrossReaders(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, r.Register(os.Getpid(), 10, time.Now()))
	min, ok, err := r.MinPinnedEpoch(time.Hour, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 10, min)
}

func TestWriterLockExclusivity(t *testing.T) {
	dir := t.TempDir()
	name := dir + "/mydb"

	lock1, err := AcquireWriterLock(name)
	require.NoError(t, err)

	_, err = AcquireWriterLock(name)
	require.Error(t, err, "a second writer lock attempt while the first is held must fail")

	require.NoError(t, lock1.Release())

	lock2, err := AcquireWriterLock(name)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}
