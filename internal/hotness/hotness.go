// Package hotness tracks a per-(order, primary-key) access counter with
// exponential decay (spec §4.12 / C12), used by the compaction engine to
// prioritize incremental-mode rewrite candidates. Tracking is approximate:
// the murmur3-hashed bucket key can collide across distinct primaries, which
// only ever biases compaction's heuristic selection, never correctness.
package hotness

import (
	"math"
	"sort"
	"sync"
	"unsafe"

	"github.com/spaolacci/murmur3"

	"github.com/synapsedb/synapsedb/internal/fastmap"
	"github.com/synapsedb/synapsedb/internal/sixindex"
)

type entry struct {
	primary    uint32
	score      float64
	lastUpdate int64 // unix nanos of last Touch, for lazy decay
}

// Counter holds one fast map per order, keyed by a murmur3 hash of the
// primary value.
type Counter struct {
	mu       sync.Mutex
	maps     [6]fastmap.Uint32Map
	halfLife float64 // seconds; score halves every halfLife of wall time
}

// New returns a Counter decaying with the given half-life in seconds.
func New(halfLifeSeconds float64) *Counter {
	if halfLifeSeconds <= 0 {
		halfLifeSeconds = 60
	}
	return &Counter{halfLife: halfLifeSeconds}
}

func bucketKey(order sixindex.Order, primary uint32) uint32 {
	var buf [5]byte
	buf[0] = byte(order)
	buf[1] = byte(primary)
	buf[2] = byte(primary >> 8)
	buf[3] = byte(primary >> 16)
	buf[4] = byte(primary >> 24)
	return murmur3.Sum32(buf[:])
}

// Touch records one access to (order, primary) at nowNanos, decaying the
// existing score by elapsed time before adding 1.
func (c *Counter) Touch(order sixindex.Order, primary uint32, nowNanos int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := bucketKey(order, primary)
	m := &c.maps[order]
	if p := m.Get(key); p != nil {
		e := (*entry)(p)
		e.score = c.decay(e.score, e.lastUpdate, nowNanos) + 1
		e.lastUpdate = nowNanos
		return
	}
	e := &entry{primary: primary, score: 1, lastUpdate: nowNanos}
	m.Set(key, unsafe.Pointer(e))
}

// Score returns (order, primary)'s current decayed score as of nowNanos
// without mutating it.
func (c *Counter) Score(order sixindex.Order, primary uint32, nowNanos int64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := bucketKey(order, primary)
	p := c.maps[order].Get(key)
	if p == nil {
		return 0
	}
	e := (*entry)(p)
	return c.decay(e.score, e.lastUpdate, nowNanos)
}

func (c *Counter) decay(score float64, lastUpdate, now int64) float64 {
	if now <= lastUpdate {
		return score
	}
	elapsedSeconds := float64(now-lastUpdate) / 1e9
	halfLives := elapsedSeconds / c.halfLife
	return score * math.Exp2(-halfLives)
}

// Reset clears every tracked score for order, used after a compaction run
// has rewritten every primary it selected.
func (c *Counter) Reset(order sixindex.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maps[order].Clear()
}

// Top returns up to n primaries for order with the highest decayed score as
// of nowNanos, used by the compaction engine's incremental-mode selection.
func (c *Counter) Top(order sixindex.Order, n int, nowNanos int64) []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	type scored struct {
		primary uint32
		score   float64
	}
	var all []scored
	c.maps[order].ForEach(func(_ uint32, p unsafe.Pointer) {
		e := (*entry)(p)
		all = append(all, scored{primary: e.primary, score: c.decay(e.score, e.lastUpdate, nowNanos)})
	})
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	if len(all) > n {
		all = all[:n]
	}
	out := make([]uint32, len(all))
	for i, s := range all {
		out[i] = s.primary
	}
	return out
}

