package props

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	json "github.com/goccy/go-json"
	"github.com/google/btree"
	"github.com/tidwall/sjson"
)

// canonicalKey produces a stable string encoding of v suitable for use as
// an equality-lookup key in the inverted index (spec §4.7): numbers,
// booleans and strings map to themselves; objects/arrays are canonicalized
// (object keys sorted) via sjson; null is distinct from every other value.
func canonicalKey(v Value) string {
	switch v.Kind {
	case KindNull:
		return "n:"
	case KindBool:
		if v.Bool {
			return "b:true"
		}
		return "b:false"
	case KindInt:
		return "i:" + strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return "f:" + strconv.FormatFloat(v.Flt, 'g', -1, 64)
	case KindString:
		return "s:" + v.Str
	case KindList, KindObject:
		return "j:" + canonicalJSON(v)
	default:
		return "n:"
	}
}

// canonicalJSON renders v as JSON with object keys in sorted order, built
// incrementally with sjson.SetRaw so that structurally equal values always
// produce byte-identical strings regardless of original key order.
func canonicalJSON(v Value) string {
	switch v.Kind {
	case KindObject:
		keys := make([]string, 0, len(v.Obj))
		for k := range v.Obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{}"
		for _, k := range keys {
			var err error
			out, err = sjson.SetRaw(out, k, canonicalJSON(v.Obj[k]))
			if err != nil {
				return fmt.Sprintf("%v", v.Obj)
			}
		}
		return out
	case KindList:
		out := "[]"
		for i, e := range v.List {
			var err error
			out, err = sjson.SetRaw(out, strconv.Itoa(i), canonicalJSON(e))
			if err != nil {
				return fmt.Sprintf("%v", v.List)
			}
		}
		return out
	case KindString:
		b, _ := json.Marshal(v.Str)
		return string(b)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Flt, 'g', -1, 64)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return "null"
	}
}

// entry is a btree item ordering buckets by their underlying Value, used to
// support range scans (queryNodesByRange).
type entry struct {
	key   string
	value Value
	nodes *roaring.Bitmap
	edges map[EdgeKey]struct{}
}

func (e *entry) Less(than btree.Item) bool {
	o := than.(*entry)
	if c := e.value.Compare(o.value); c != 0 {
		return c < 0
	}
	return e.key < o.key
}

// InvertedIndex maps property value -> {nodeIds} and value -> {edgeKeys}
// for a single property name. It is rebuilt from the property store on
// open (spec §4.7: "currently in-memory only").
type InvertedIndex struct {
	mu   sync.RWMutex
	tree *btree.BTree
	byKey map[string]*entry
}

// NewInvertedIndex returns an empty per-property inverted index.
func NewInvertedIndex() *InvertedIndex {
	return &InvertedIndex{
		tree:  btree.New(32),
		byKey: make(map[string]*entry),
	}
}

func (idx *InvertedIndex) entryFor(v Value) *entry {
	key := canonicalKey(v)
	if e, ok := idx.byKey[key]; ok {
		return e
	}
	e := &entry{key: key, value: v, nodes: roaring.New(), edges: make(map[EdgeKey]struct{})}
	idx.byKey[key] = e
	idx.tree.ReplaceOrInsert(e)
	return e
}

// IndexNode records that nodeID has property value v.
func (idx *InvertedIndex) IndexNode(nodeID uint32, v Value) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entryFor(v).nodes.Add(nodeID)
}

// UnindexNode removes the (value, nodeID) association, e.g. before a
// SetNodeProperties overwrite re-indexes the new map.
func (idx *InvertedIndex) UnindexNode(nodeID uint32, v Value) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key := canonicalKey(v)
	if e, ok := idx.byKey[key]; ok {
		e.nodes.Remove(nodeID)
	}
}

// IndexEdge records that edge key has property value v.
func (idx *InvertedIndex) IndexEdge(key EdgeKey, v Value) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entryFor(v).edges[key] = struct{}{}
}

// UnindexEdge removes the (value, edge) association.
func (idx *InvertedIndex) UnindexEdge(key EdgeKey, v Value) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ck := canonicalKey(v)
	if e, ok := idx.byKey[ck]; ok {
		delete(e.edges, key)
	}
}

// QueryNodesEqual returns every nodeID indexed under value v.
func (idx *InvertedIndex) QueryNodesEqual(v Value) []uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byKey[canonicalKey(v)]
	if !ok {
		return nil
	}
	out := make([]uint32, 0, e.nodes.GetCardinality())
	it := e.nodes.Iterator()
	for it.HasNext() {
		out = append(out, it.Next())
	}
	return out
}

// QueryEdgesEqual returns every edge key indexed under value v.
func (idx *InvertedIndex) QueryEdgesEqual(v Value) []EdgeKey {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byKey[canonicalKey(v)]
	if !ok {
		return nil
	}
	out := make([]EdgeKey, 0, len(e.edges))
	for k := range e.edges {
		out = append(out, k)
	}
	return out
}

// QueryNodesByRange returns every nodeID whose indexed value falls in
// [min, max] (bounds optional, inclusivity controlled by includeMin/Max).
func (idx *InvertedIndex) QueryNodesByRange(min, max *Value, includeMin, includeMax bool) []uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []uint32
	idx.tree.Ascend(func(i btree.Item) bool {
		e := i.(*entry)
		if min != nil {
			c := e.value.Compare(*min)
			if c < 0 || (c == 0 && !includeMin) {
				return true
			}
		}
		if max != nil {
			c := e.value.Compare(*max)
			if c > 0 || (c == 0 && !includeMax) {
				return false
			}
		}
		it := e.nodes.Iterator()
		for it.HasNext() {
			out = append(out, it.Next())
		}
		return true
	})
	return out
}

// Rebuild discards all entries and reindexes from the given property store,
// per spec §4.7's "rebuild from property store on open".
func Rebuild(store *Store, propertyName string) *InvertedIndex {
	idx := NewInvertedIndex()
	for id, m := range store.AllNodes() {
		if v, ok := m[propertyName]; ok {
			idx.IndexNode(id, v)
		}
	}
	for key, m := range store.AllEdges() {
		if v, ok := m[propertyName]; ok {
			idx.IndexEdge(key, v)
		}
	}
	return idx
}
