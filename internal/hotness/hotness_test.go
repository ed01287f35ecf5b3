package hotness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synapsedb/synapsedb/internal/sixindex"
)

func TestTouchAccumulates(t *testing.T) {
	c := New(60)
	c.Touch(sixindex.SPO, 1, 1000)
	c.Touch(sixindex.SPO, 1, 1000)
	require.InDelta(t, 2, c.Score(sixindex.SPO, 1, 1000), 0.0001)
}

func TestScoreDecaysOverHalfLife(t *testing.T) {
	c := New(1) // 1 second half-life
	c.Touch(sixindex.SPO, 1, 0)
	decayed := c.Score(sixindex.SPO, 1, int64(1*1e9))
	require.InDelta(t, 0.5, decayed, 0.01)
}

func TestDistinctOrdersIndependent(t *testing.T) {
	c := New(60)
	c.Touch(sixindex.SPO, 1, 0)
	require.Zero(t, c.Score(sixindex.POS, 1, 0))
}

func TestTopRanksByScore(t *testing.T) {
	c := New(600)
	c.Touch(sixindex.SPO, 1, 0)
	for i := 0; i < 5; i++ {
		c.Touch(sixindex.SPO, 2, 0)
	}
	c.Touch(sixindex.SPO, 3, 0)

	top := c.Top(sixindex.SPO, 2, 0)
	require.Len(t, top, 2)
	require.Equal(t, uint32(2), top[0])
}

func TestResetClears(t *testing.T) {
	c := New(60)
	c.Touch(sixindex.SPO, 1, 0)
	c.Reset(sixindex.SPO)
	require.Zero(t, c.Score(sixindex.SPO, 1, 0))
}
