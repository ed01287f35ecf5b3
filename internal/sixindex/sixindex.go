// Package sixindex implements the in-memory six-order covering index over
// encoded triples (spec §4.5): SPO, SOP, POS, PSO, OSP, OPS. Each order is
// an ordered sequence keyed by its own field permutation; `query` walks the
// order whose primary key is most selective for the given criteria.
package sixindex

import (
	"bufio"
	"encoding/binary"
	"io"
	"sync"

	"github.com/google/btree"

	"github.com/synapsedb/synapsedb/internal/triple"
)

// Order names one of the six coverings. Its value is also used as the
// argument to getBestIndexKey's selection table.
type Order uint8

const (
	SPO Order = iota
	SOP
	POS
	PSO
	OSP
	OPS
)

func (o Order) String() string {
	return [...]string{"SPO", "SOP", "POS", "PSO", "OSP", "OPS"}[o]
}

// fields returns t's three fields permuted into this order's tuple order.
func (o Order) fields(t triple.Triple) (a, b, c uint32) {
	switch o {
	case SPO:
		return t.S, t.P, t.O
	case SOP:
		return t.S, t.O, t.P
	case POS:
		return t.P, t.O, t.S
	case PSO:
		return t.P, t.S, t.O
	case OSP:
		return t.O, t.S, t.P
	default: // OPS
		return t.O, t.P, t.S
	}
}

// Primary returns the grouping key (first field) of t under this order.
func (o Order) Primary(t triple.Triple) uint32 {
	a, _, _ := o.fields(t)
	return a
}

// Decode reconstructs the original triple from a, b, c as permuted by this
// order's Fields (the inverse of fields), used when reading an order's page
// file back off disk.
func (o Order) Decode(a, b, c uint32) triple.Triple {
	switch o {
	case SPO:
		return triple.Triple{S: a, P: b, O: c}
	case SOP:
		return triple.Triple{S: a, O: b, P: c}
	case POS:
		return triple.Triple{P: a, O: b, S: c}
	case PSO:
		return triple.Triple{P: a, S: b, O: c}
	case OSP:
		return triple.Triple{O: a, S: b, P: c}
	default: // OPS
		return triple.Triple{O: a, P: b, S: c}
	}
}

// Fields exposes fields publicly for callers outside the package (the
// paged writer needs it to serialize triples in this order's tuple order).
func (o Order) Fields(t triple.Triple) (a, b, c uint32) {
	return o.fields(t)
}

type item struct {
	order   Order
	a, b, c uint32
	t       triple.Triple
}

func (it *item) Less(than btree.Item) bool {
	o := than.(*item)
	if it.a != o.a {
		return it.a < o.a
	}
	if it.b != o.b {
		return it.b < o.b
	}
	return it.c < o.c
}

// Index holds all six ordered trees over the same underlying triple set.
type Index struct {
	mu    sync.RWMutex
	trees [6]*btree.BTree
}

// New returns an empty six-order index.
func New() *Index {
	idx := &Index{}
	for i := range idx.trees {
		idx.trees[i] = btree.New(32)
	}
	return idx
}

// Add inserts t into all six orders. Idempotent.
func (idx *Index) Add(t triple.Triple) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for o := SPO; o <= OPS; o++ {
		a, b, c := o.fields(t)
		idx.trees[o].ReplaceOrInsert(&item{order: o, a: a, b: b, c: c, t: t})
	}
}

// Remove deletes t from all six orders (used when compaction physically
// drops a tombstoned triple).
func (idx *Index) Remove(t triple.Triple) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for o := SPO; o <= OPS; o++ {
		a, b, c := o.fields(t)
		idx.trees[o].Delete(&item{order: o, a: a, b: b, c: c})
	}
}

// Criteria names the known fields of a triple pattern; a nil pointer means
// "unconstrained" for that field.
type Criteria struct {
	Subject, Predicate, Object *uint32
}

// BestOrder implements spec §4.5's getBestIndexKey: both subject and
// predicate known -> SPO; both object and predicate -> POS; subject only
// -> SPO; predicate only -> POS; object only -> OSP; otherwise a full scan
// is required (returns ok=false).
func BestOrder(c Criteria) (Order, bool) {
	switch {
	case c.Subject != nil && c.Predicate != nil:
		return SPO, true
	case c.Object != nil && c.Predicate != nil:
		return POS, true
	case c.Subject != nil:
		return SPO, true
	case c.Predicate != nil:
		return POS, true
	case c.Object != nil:
		return OSP, true
	default:
		return SPO, false
	}
}

// Query returns every triple matching c, using the best available order.
// When no field is constrained, every order degenerates to a full scan;
// SPO is used in that case.
func (idx *Index) Query(c Criteria) []triple.Triple {
	order, _ := BestOrder(c)
	return idx.queryOrder(order, c)
}

func (idx *Index) queryOrder(order Order, c Criteria) []triple.Triple {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []triple.Triple
	idx.trees[order].Ascend(func(i btree.Item) bool {
		it := i.(*item)
		if matches(it.t, c) {
			out = append(out, it.t)
		}
		return true
	})
	return out
}

// QueryPrimaryPrefix returns every triple whose primary key (order's first
// field) equals primary, scanning only that contiguous range of the order.
func (idx *Index) QueryPrimaryPrefix(order Order, primary uint32) []triple.Triple {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []triple.Triple
	pivot := &item{order: order, a: primary}
	idx.trees[order].AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		it := i.(*item)
		if it.a != primary {
			return false
		}
		out = append(out, it.t)
		return true
	})
	return out
}

func matches(t triple.Triple, c Criteria) bool {
	if c.Subject != nil && t.S != *c.Subject {
		return false
	}
	if c.Predicate != nil && t.P != *c.Predicate {
		return false
	}
	if c.Object != nil && t.O != *c.Object {
		return false
	}
	return true
}

// Len returns the number of triples tracked (measured on the SPO order).
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.trees[SPO].Len()
}

// Serialize writes every tracked triple as three little-endian u32s (the
// index section of the container file, spec §4.1). Only the SPO order is
// written; Deserialize rebuilds all six orders from it, since the six trees
// are always exact permutations of the same underlying set.
func (idx *Index) Serialize(w io.Writer) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	bw := bufio.NewWriter(w)
	var buf [12]byte
	idx.trees[SPO].Ascend(func(i btree.Item) bool {
		it := i.(*item)
		binary.LittleEndian.PutUint32(buf[0:4], it.t.S)
		binary.LittleEndian.PutUint32(buf[4:8], it.t.P)
		binary.LittleEndian.PutUint32(buf[8:12], it.t.O)
		_, werr := bw.Write(buf[:])
		return werr == nil
	})
	return bw.Flush()
}

// Rebuild replaces the index's contents with exactly triples, discarding
// whatever it held before. Used by the repair engine's --rebuild-indexes
// pass, where the in-memory index itself (not just the page files) may
// have drifted from the live triple set.
func (idx *Index) Rebuild(triples []triple.Triple) {
	fresh := New()
	for _, t := range triples {
		fresh.Add(t)
	}
	idx.mu.Lock()
	idx.trees = fresh.trees
	idx.mu.Unlock()
}

// Deserialize replaces the index's contents from a stream of 12-byte
// triples written by Serialize.
func (idx *Index) Deserialize(r io.Reader) error {
	br := bufio.NewReader(r)
	fresh := New()
	var buf [12]byte
	for {
		_, err := io.ReadFull(br, buf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		t := triple.Triple{
			S: binary.LittleEndian.Uint32(buf[0:4]),
			P: binary.LittleEndian.Uint32(buf[4:8]),
			O: binary.LittleEndian.Uint32(buf[8:12]),
		}
		fresh.Add(t)
	}
	idx.mu.Lock()
	idx.trees = fresh.trees
	idx.mu.Unlock()
	return nil
}
