// Package query implements the query frontier and builder (spec §4.15,
// C17): an immutable chain of operators over a *synapsedb.Store, starting
// from a criteria match and walking the graph one predicate at a time.
// Builder operates on the orchestrator directly, the same way internal/maint
// does (github.com/synapsedb/synapsedb/internal/maint) - no adapter
// interface, since the root package never imports this one.
package query

import (
	"context"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/synapsedb/synapsedb"
	"github.com/synapsedb/synapsedb/internal/props"
	"github.com/synapsedb/synapsedb/internal/sixindex"
	"github.com/synapsedb/synapsedb/internal/triple"
)

// Orientation names which side of a record contributes to the frontier.
type Orientation int

const (
	Subject Orientation = iota
	Object
	Both
)

// Record is one materialized result: a matched triple.
type Record struct {
	Triple triple.Triple
}

// Builder is an immutable query frontier. Every method returns a new
// Builder; none mutate the receiver.
type Builder struct {
	store       *synapsedb.Store
	facts       []Record
	frontier    map[uint32]struct{}
	orientation Orientation
	lastCrit    sixindex.Criteria
	hasCrit     bool
	limitN      int
	hasLimit    bool
	skipN       int
	pinnedEpoch []uint64
}

// New starts an empty builder bound to store. Use Find to seed it.
func New(store *synapsedb.Store) *Builder {
	return &Builder{store: store}
}

func (b *Builder) clone() *Builder {
	nb := *b
	nb.facts = append([]Record(nil), b.facts...)
	nb.pinnedEpoch = append([]uint64(nil), b.pinnedEpoch...)
	return &nb
}

// Criteria names a subject/predicate/object match, each optional, resolved
// to dictionary ids by the caller's Find invocation.
type Criteria struct {
	Subject   *string
	Predicate *string
	Object    *string
}

func (b *Builder) resolve(c Criteria) sixindex.Criteria {
	var out sixindex.Criteria
	if c.Subject != nil {
		if id, ok := b.store.GetNodeId(*c.Subject); ok {
			out.Subject = &id
		} else {
			unknown := uint32(0)
			out.Subject = &unknown
		}
	}
	if c.Predicate != nil {
		if id, ok := b.store.GetNodeId(*c.Predicate); ok {
			out.Predicate = &id
		} else {
			unknown := uint32(0)
			out.Predicate = &unknown
		}
	}
	if c.Object != nil {
		if id, ok := b.store.GetNodeId(*c.Object); ok {
			out.Object = &id
		} else {
			unknown := uint32(0)
			out.Object = &unknown
		}
	}
	return out
}

// Find is the initial factor (spec §4.15's find(criteria, anchor?)). Anchor
// defaults per the spec: subject-side if subject given, object-side if only
// object given, both if both (or neither) given.
func (b *Builder) Find(c Criteria, anchor ...Orientation) *Builder {
	crit := b.resolve(c)
	matches := b.store.Query(crit)

	nb := b.clone()
	nb.facts = recordsOf(matches)
	nb.lastCrit = crit
	nb.hasCrit = true
	if len(anchor) > 0 {
		nb.orientation = anchor[0]
	} else {
		nb.orientation = defaultAnchor(c)
	}
	nb.frontier = frontierOf(nb.facts, nb.orientation)
	return nb
}

func defaultAnchor(c Criteria) Orientation {
	switch {
	case c.Subject != nil && c.Object == nil:
		return Subject
	case c.Object != nil && c.Subject == nil:
		return Object
	default:
		return Both
	}
}

func recordsOf(ts []triple.Triple) []Record {
	out := make([]Record, len(ts))
	for i, t := range ts {
		out[i] = Record{Triple: t}
	}
	return out
}

// frontierOf collects the node-id set contributed by orientation across
// facts.
func frontierOf(facts []Record, orientation Orientation) map[uint32]struct{} {
	out := make(map[uint32]struct{})
	for _, f := range facts {
		switch orientation {
		case Subject:
			out[f.Triple.S] = struct{}{}
		case Object:
			out[f.Triple.O] = struct{}{}
		case Both:
			out[f.Triple.S] = struct{}{}
			out[f.Triple.O] = struct{}{}
		}
	}
	return out
}

// Follow walks predicate forward from every node in the current frontier:
// for each frontier node n, matches {subject: n, predicate}. The new
// frontier is the matched triples' objects (spec §4.15).
func (b *Builder) Follow(predicate string) *Builder {
	return b.followDirection(predicate, true)
}

// FollowReverse is Follow's symmetric counterpart: matches {object: n,
// predicate} and the new frontier is the matched triples' subjects.
func (b *Builder) FollowReverse(predicate string) *Builder {
	return b.followDirection(predicate, false)
}

func (b *Builder) followDirection(predicate string, forward bool) *Builder {
	predID, ok := b.store.GetNodeId(predicate)
	if !ok {
		nb := b.clone()
		nb.facts = nil
		nb.frontier = map[uint32]struct{}{}
		if forward {
			nb.orientation = Object
		} else {
			nb.orientation = Subject
		}
		return nb
	}

	var out []Record
	for n := range b.frontier {
		node := n
		crit := sixindex.Criteria{Predicate: &predID}
		if forward {
			crit.Subject = &node
		} else {
			crit.Object = &node
		}
		for _, t := range b.store.Query(crit) {
			out = append(out, Record{Triple: t})
		}
	}

	nb := b.clone()
	nb.facts = out
	if forward {
		nb.orientation = Object
	} else {
		nb.orientation = Subject
	}
	nb.frontier = frontierOf(out, nb.orientation)
	return nb
}

// Uniqueness selects followPath's revisit policy.
type Uniqueness int

const (
	// UniqueNode (default): each node is visited at most once across the
	// whole expansion.
	UniqueNode Uniqueness = iota
	// UniqueEdge: each (subject, predicate, object) edge is collected at
	// most once, but a node may be revisited via a different edge.
	UniqueEdge
	// UniqueNone: no deduplication; every matching edge at every depth is
	// collected, even if it revisits a node or repeats an edge.
	UniqueNone
)

// PathRange bounds followPath's BFS depth, inclusive on both ends.
type PathRange struct {
	Min, Max int
}

// FollowPath performs a layer-by-layer BFS expansion from the current
// frontier along predicate, collecting every edge at a depth within
// [min, max] (spec §4.15). Uniqueness governs revisit behavior.
func (b *Builder) FollowPath(predicate string, r PathRange, uniqueness ...Uniqueness) *Builder {
	uniq := UniqueNode
	if len(uniqueness) > 0 {
		uniq = uniqueness[0]
	}
	predID, ok := b.store.GetNodeId(predicate)
	if !ok {
		nb := b.clone()
		nb.facts = nil
		nb.frontier = map[uint32]struct{}{}
		return nb
	}

	visitedNodes := make(map[uint32]struct{})
	visitedEdges := make(map[triple.Triple]struct{})
	for n := range b.frontier {
		visitedNodes[n] = struct{}{}
	}

	var collected []Record
	frontier := make(map[uint32]struct{}, len(b.frontier))
	for n := range b.frontier {
		frontier[n] = struct{}{}
	}

	for depth := 1; depth <= r.Max && len(frontier) > 0; depth++ {
		next := make(map[uint32]struct{})
		for n := range frontier {
			node := n
			for _, t := range b.store.Query(sixindex.Criteria{Subject: &node, Predicate: &predID}) {
				switch uniq {
				case UniqueNode:
					if _, seen := visitedNodes[t.O]; seen {
						continue
					}
				case UniqueEdge:
					if _, seen := visitedEdges[t]; seen {
						continue
					}
				}
				if depth >= r.Min {
					collected = append(collected, Record{Triple: t})
				}
				if uniq == UniqueEdge {
					visitedEdges[t] = struct{}{}
				}
				if _, seen := visitedNodes[t.O]; !seen {
					next[t.O] = struct{}{}
				}
				if uniq == UniqueNode {
					visitedNodes[t.O] = struct{}{}
				}
			}
		}
		frontier = next
	}

	nb := b.clone()
	nb.facts = collected
	nb.orientation = Object
	nb.frontier = frontierOf(collected, Object)
	return nb
}

// Where filters facts by an arbitrary predicate function; the frontier is
// rebuilt from the remaining facts under the current orientation.
func (b *Builder) Where(fn func(Record) bool) *Builder {
	var out []Record
	for _, f := range b.facts {
		if fn(f) {
			out = append(out, f)
		}
	}
	nb := b.clone()
	nb.facts = out
	nb.frontier = frontierOf(out, nb.orientation)
	return nb
}

// PropertyOp names a whereProperty comparison operator.
type PropertyOp int

const (
	OpEqual PropertyOp = iota
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
)

// PropertyTarget names which side of a record a whereProperty filter reads.
type PropertyTarget int

const (
	TargetSubject PropertyTarget = iota
	TargetObject
	TargetEdge
)

// WhereProperty filters facts by a node or edge property value (spec
// §4.15). name may be a plain property key or a dotted gjson path (e.g.
// "address.city") reaching into a KindObject/KindList property.
// Equality on a plain (non-path) node-target name is index-accelerated via
// Store.InvertedIndex; every other combination evaluates per-record
// against the property store directly.
func (b *Builder) WhereProperty(name string, op PropertyOp, value props.Value, target PropertyTarget) *Builder {
	isPath := strings.Contains(name, ".")
	if op == OpEqual && target != TargetEdge && !isPath {
		return b.whereNodePropertyEqualIndexed(name, value, target)
	}

	pstore := b.store.Properties()
	var out []Record
	for _, f := range b.facts {
		var m props.Map
		var found bool
		switch target {
		case TargetSubject:
			m, found = pstore.GetNodeProperties(f.Triple.S)
		case TargetObject:
			m, found = pstore.GetNodeProperties(f.Triple.O)
		case TargetEdge:
			m, found = pstore.GetEdgeProperties(props.EdgeKey{S: f.Triple.S, P: f.Triple.P, O: f.Triple.O})
		}
		if !found {
			continue
		}
		v, ok := lookupPropertyPath(m, name)
		if !ok {
			continue
		}
		if matchesOp(v, op, value) {
			out = append(out, f)
		}
	}
	nb := b.clone()
	nb.facts = out
	nb.frontier = frontierOf(out, nb.orientation)
	return nb
}

// lookupPropertyPath resolves path against m: a plain key is a direct map
// lookup, a dotted path reaches into a nested KindObject/KindList value via
// gjson, since props.Value itself has no path-addressing of its own.
func lookupPropertyPath(m props.Map, path string) (props.Value, bool) {
	if !strings.Contains(path, ".") {
		v, ok := m[path]
		return v, ok
	}
	parts := strings.SplitN(path, ".", 2)
	top, ok := m[parts[0]]
	if !ok || (top.Kind != props.KindObject && top.Kind != props.KindList) {
		return props.Value{}, false
	}
	data, err := json.Marshal(top.ToAny())
	if err != nil {
		return props.Value{}, false
	}
	res := gjson.GetBytes(data, parts[1])
	if !res.Exists() {
		return props.Value{}, false
	}
	return gjsonResultToValue(res), true
}

func gjsonResultToValue(res gjson.Result) props.Value {
	switch res.Type {
	case gjson.String:
		return props.Value{Kind: props.KindString, Str: res.Str}
	case gjson.Number:
		if res.Num == float64(int64(res.Num)) {
			return props.Value{Kind: props.KindInt, Int: int64(res.Num)}
		}
		return props.Value{Kind: props.KindFloat, Flt: res.Num}
	case gjson.True:
		return props.Value{Kind: props.KindBool, Bool: true}
	case gjson.False:
		return props.Value{Kind: props.KindBool, Bool: false}
	case gjson.Null:
		return props.Value{Kind: props.KindNull}
	default:
		return props.FromAny(res.Value())
	}
}

func matchesOp(v props.Value, op PropertyOp, value props.Value) bool {
	switch op {
	case OpEqual:
		return v.Equal(value)
	case OpLess:
		return v.Compare(value) < 0
	case OpLessEqual:
		return v.Compare(value) <= 0
	case OpGreater:
		return v.Compare(value) > 0
	case OpGreaterEqual:
		return v.Compare(value) >= 0
	default:
		return false
	}
}

func (b *Builder) whereNodePropertyEqualIndexed(name string, value props.Value, target PropertyTarget) *Builder {
	idx := b.store.InvertedIndex(name)
	matchSet := make(map[uint32]struct{})
	for _, id := range idx.QueryNodesEqual(value) {
		matchSet[id] = struct{}{}
	}
	var out []Record
	for _, f := range b.facts {
		var id uint32
		if target == TargetObject {
			id = f.Triple.O
		} else {
			id = f.Triple.S
		}
		if _, ok := matchSet[id]; ok {
			out = append(out, f)
		}
	}
	nb := b.clone()
	nb.facts = out
	nb.frontier = frontierOf(out, nb.orientation)
	return nb
}

// LabelMode selects whereLabel's AND/OR semantics across multiple labels.
type LabelMode int

const (
	LabelModeOr LabelMode = iota
	LabelModeAnd
)

// LabelTarget names which side of a record whereLabel inspects.
type LabelTarget int

const (
	LabelOnSubject LabelTarget = iota
	LabelOnObject
)

// labelsPropertyKey is the reserved node-property key a node's labels are
// stored under (a KindList of strings), the same property map SetNodeProps
// writes through - labels carry no separate storage from any other
// property (spec §3 defines no dedicated label section).
const labelsPropertyKey = "_labels"

// WhereLabel filters facts by subject/object label presence: mode AND
// requires every named label present, mode OR requires at least one.
func (b *Builder) WhereLabel(labels []string, mode LabelMode, target LabelTarget) *Builder {
	pstore := b.store.Properties()
	var out []Record
	for _, f := range b.facts {
		var id uint32
		if target == LabelOnObject {
			id = f.Triple.O
		} else {
			id = f.Triple.S
		}
		m, ok := pstore.GetNodeProperties(id)
		if !ok {
			continue
		}
		v, ok := m[labelsPropertyKey]
		if !ok || v.Kind != props.KindList {
			continue
		}
		present := make(map[string]struct{}, len(v.List))
		for _, item := range v.List {
			if item.Kind == props.KindString {
				present[item.Str] = struct{}{}
			}
		}
		if hasLabels(present, labels, mode) {
			out = append(out, f)
		}
	}
	nb := b.clone()
	nb.facts = out
	nb.frontier = frontierOf(out, nb.orientation)
	return nb
}

func hasLabels(present map[string]struct{}, want []string, mode LabelMode) bool {
	if len(want) == 0 {
		return true
	}
	count := 0
	for _, w := range want {
		if _, ok := present[w]; ok {
			count++
			if mode == LabelModeOr {
				return true
			}
		}
	}
	if mode == LabelModeAnd {
		return count == len(want)
	}
	return false
}

// Limit caps the result set returned by the terminators to n records.
func (b *Builder) Limit(n int) *Builder {
	nb := b.clone()
	nb.limitN = n
	nb.hasLimit = true
	return nb
}

// Skip drops the first n records before Limit is applied.
func (b *Builder) Skip(n int) *Builder {
	nb := b.clone()
	nb.skipN = n
	return nb
}

// Take is shorthand for Limit(n); a Skip already on the chain still applies.
func (b *Builder) Take(n int) *Builder {
	return b.Limit(n)
}

func (b *Builder) windowed() []Record {
	facts := b.facts
	if b.skipN > 0 {
		if b.skipN >= len(facts) {
			return nil
		}
		facts = facts[b.skipN:]
	}
	if b.hasLimit && b.limitN < len(facts) {
		facts = facts[:b.limitN]
	}
	return facts
}

// Union merges other's facts into this builder's, deduplicating by triple
// key. The frontier is rebuilt from the merged set under this builder's
// orientation.
func (b *Builder) Union(other *Builder) *Builder {
	return b.unionWith(other, true)
}

// UnionAll merges other's facts without deduplication.
func (b *Builder) UnionAll(other *Builder) *Builder {
	return b.unionWith(other, false)
}

func (b *Builder) unionWith(other *Builder, dedup bool) *Builder {
	merged := append(append([]Record(nil), b.facts...), other.facts...)
	if dedup {
		seen := make(map[triple.Triple]struct{}, len(merged))
		out := merged[:0]
		for _, r := range merged {
			if _, ok := seen[r.Triple]; ok {
				continue
			}
			seen[r.Triple] = struct{}{}
			out = append(out, r)
		}
		merged = out
	}
	nb := b.clone()
	nb.facts = merged
	nb.frontier = frontierOf(merged, nb.orientation)
	return nb
}

// Anchor changes the builder's orientation and rebuilds its frontier from
// the current facts under the new orientation.
func (b *Builder) Anchor(orientation Orientation) *Builder {
	nb := b.clone()
	nb.orientation = orientation
	nb.frontier = frontierOf(nb.facts, orientation)
	return nb
}

// Pin pushes the current manifest epoch onto Store's pin stack; every read
// this builder (and any builder derived from it after the call) performs
// is guaranteed stable against concurrent compaction/GC until Unpin.
func (b *Builder) Pin() (*Builder, error) {
	epoch, err := b.store.PinEpoch()
	if err != nil {
		return nil, err
	}
	nb := b.clone()
	nb.pinnedEpoch = append(nb.pinnedEpoch, epoch)
	return nb, nil
}

// Unpin pops the most recently pushed pin.
func (b *Builder) Unpin() (*Builder, error) {
	if err := b.store.UnpinEpoch(); err != nil {
		return nil, err
	}
	nb := b.clone()
	if len(nb.pinnedEpoch) > 0 {
		nb.pinnedEpoch = nb.pinnedEpoch[:len(nb.pinnedEpoch)-1]
	}
	return nb, nil
}

// All materializes the whole (skip/limit-windowed) result set.
func (b *Builder) All() []Record {
	return append([]Record(nil), b.windowed()...)
}

// Collect is All's explicit-error-returning counterpart, for parity with
// the streaming terminator below.
func (b *Builder) Collect() ([]Record, error) {
	return b.All(), nil
}

// Stream yields the windowed result set in batches of batchSize over the
// returned channel, checking ctx between batches so a caller can cancel a
// long-running traversal without waiting for it to finish (spec §5).
func (b *Builder) Stream(ctx context.Context, batchSize int) <-chan []Record {
	out := make(chan []Record)
	if batchSize <= 0 {
		batchSize = 1
	}
	go func() {
		defer close(out)
		facts := b.windowed()
		for i := 0; i < len(facts); i += batchSize {
			end := i + batchSize
			if end > len(facts) {
				end = len(facts)
			}
			select {
			case <-ctx.Done():
				return
			case out <- facts[i:end]:
			}
		}
	}()
	return out
}

// Plan is Explain's result: the chosen index order, an upper bound on the
// candidate count, the page count backing the chosen primary, and that
// primary's current hotness score (spec §4.15).
type Plan struct {
	Order           sixindex.Order
	UpperBound      int
	EstimatedOutput int
	PagesForPrimary int
	HotnessPrimary  float64
}

// Explain reports the plan the most recent Find/Follow step chose, with
// EstimatedOutput adjusted for any accumulated Skip/Limit.
func (b *Builder) Explain() Plan {
	var expl synapsedb.Explanation
	if b.hasCrit {
		expl = b.store.Explain(b.lastCrit)
	}
	estimated := len(b.facts)
	if b.skipN > 0 {
		estimated -= b.skipN
		if estimated < 0 {
			estimated = 0
		}
	}
	if b.hasLimit && b.limitN < estimated {
		estimated = b.limitN
	}
	return Plan{
		Order:           expl.Order,
		UpperBound:      expl.UpperBound,
		EstimatedOutput: estimated,
		PagesForPrimary: expl.PagesForPrimary,
		HotnessPrimary:  expl.HotnessPrimary,
	}
}

// sortedFrontier returns the frontier's node ids in ascending order; it
// backs Frontier.
func (b *Builder) sortedFrontier() []uint32 {
	out := make([]uint32, 0, len(b.frontier))
	for n := range b.frontier {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Frontier exposes the current frontier node-id set, for callers bridging
// into path's BFS/A* engines starting from a QueryBuilder's traversal
// leading edge.
func (b *Builder) Frontier() []uint32 {
	return b.sortedFrontier()
}
