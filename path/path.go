// Package path implements the path-finding engines of spec §4.16 (C18):
// single-source BFS, bidirectional BFs, variable-length path enumeration,
// and A* with pluggable heuristics. Every engine walks a single predicate
// over a *synapsedb.Store directly, the same direct-import design
// internal/maint and query use (no adapter interface; no import cycle,
// since the root package never references this one).
package path

import (
	"container/heap"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/synapsedb/synapsedb"
	"github.com/synapsedb/synapsedb/internal/sixindex"
	"github.com/synapsedb/synapsedb/internal/triple"
)

// Direction selects which way an edge may be walked relative to the
// predicate's stored (subject, object) orientation.
type Direction int

const (
	Forward Direction = iota
	Reverse
	Both
)

// Uniqueness mirrors query.Uniqueness for path engines that also expand
// layer by layer (BFS, bidirectional BFS, variable-length).
type Uniqueness int

const (
	UniqueNode Uniqueness = iota
	UniqueEdge
	UniqueNone
)

// Path is an ordered sequence of edges from a start node to a target node.
type Path struct {
	Edges []triple.Triple
	Hops  int
}

// Options configures BFS single, bidirectional BFS, and variable-length
// enumeration.
type Options struct {
	MaxHops    int
	Direction  Direction
	Uniqueness Uniqueness
}

// neighbors returns every edge incident to node along predicate under
// direction; callers derive the next node with nextNode.
func neighbors(s *synapsedb.Store, node uint32, predID uint32, dir Direction) []triple.Triple {
	var out []triple.Triple
	if dir == Forward || dir == Both {
		n := node
		out = append(out, s.Query(sixindex.Criteria{Subject: &n, Predicate: &predID})...)
	}
	if dir == Reverse || dir == Both {
		n := node
		for _, t := range s.Query(sixindex.Criteria{Object: &n, Predicate: &predID}) {
			out = append(out, t)
		}
	}
	return out
}

// nextNode returns the node an edge leads to when walked away from from.
func nextNode(t triple.Triple, from uint32) uint32 {
	if t.S == from {
		return t.O
	}
	return t.S
}

func nodeSet(ids []uint32) *roaring.Bitmap {
	bm := roaring.New()
	for _, id := range ids {
		bm.Add(id)
	}
	return bm
}

// BFS finds the shortest path (by hop count) from any node in starts to any
// node in targets, walking predicate under opts.Direction (spec §4.16's BFS
// single). Returns ok=false if no path exists within MaxHops.
func BFS(s *synapsedb.Store, starts, targets []uint32, predicate string, opts Options) (Path, bool, error) {
	predID, ok := s.GetNodeId(predicate)
	if !ok {
		return Path{}, false, nil
	}
	targetSet := nodeSet(targets)

	type frame struct {
		node uint32
		path []triple.Triple
	}
	visitedNodes := roaring.New()
	visitedEdges := make(map[triple.Triple]struct{})
	var queue []frame
	for _, n := range starts {
		if targetSet.Contains(n) {
			return Path{Edges: nil, Hops: 0}, true, nil
		}
		queue = append(queue, frame{node: n})
		visitedNodes.Add(n)
	}

	maxHops := opts.MaxHops
	if maxHops <= 0 {
		maxHops = math.MaxInt32
	}

	for hop := 1; hop <= maxHops && len(queue) > 0; hop++ {
		var next []frame
		for _, f := range queue {
			for _, edge := range neighbors(s, f.node, predID, opts.Direction) {
				if opts.Uniqueness == UniqueEdge {
					if _, seen := visitedEdges[edge]; seen {
						continue
					}
				}
				to := nextNode(edge, f.node)
				if opts.Uniqueness != UniqueNone && visitedNodes.Contains(to) {
					continue
				}
				path := append(append([]triple.Triple(nil), f.path...), edge)
				if targetSet.Contains(to) {
					return Path{Edges: path, Hops: hop}, true, nil
				}
				if opts.Uniqueness == UniqueEdge {
					visitedEdges[edge] = struct{}{}
				}
				if opts.Uniqueness != UniqueNone {
					visitedNodes.Add(to)
				}
				next = append(next, frame{node: to, path: path})
			}
		}
		queue = next
	}
	return Path{}, false, nil
}

// BFSBidirectional alternates forward expansion from starts and backward
// expansion from targets, terminating as soon as the two frontiers
// intersect (spec §4.16). It reaches the same shortest-path guarantee as
// BFS in roughly half the layers for long paths.
func BFSBidirectional(s *synapsedb.Store, starts, targets []uint32, predicate string, opts Options) (Path, bool, error) {
	predID, ok := s.GetNodeId(predicate)
	if !ok {
		return Path{}, false, nil
	}

	fwdDir, bwdDir := opts.Direction, reverseOf(opts.Direction)

	type side struct {
		frontier map[uint32][]triple.Triple // node -> path from its origin set
		visited  *roaring.Bitmap
	}
	newSide := func(origins []uint32) side {
		sd := side{frontier: make(map[uint32][]triple.Triple), visited: roaring.New()}
		for _, n := range origins {
			sd.frontier[n] = nil
			sd.visited.Add(n)
		}
		return sd
	}
	fwd := newSide(starts)
	bwd := newSide(targets)

	for _, s0 := range starts {
		if bwd.visited.Contains(s0) {
			return Path{Edges: nil, Hops: 0}, true, nil
		}
	}

	maxHops := opts.MaxHops
	if maxHops <= 0 {
		maxHops = math.MaxInt32
	}

	expand := func(sd *side, dir Direction) map[uint32][]triple.Triple {
		next := make(map[uint32][]triple.Triple)
		for node, pathSoFar := range sd.frontier {
			for _, edge := range neighbors(s, node, predID, dir) {
				to := nextNode(edge, node)
				if sd.visited.Contains(to) {
					continue
				}
				path := append(append([]triple.Triple(nil), pathSoFar...), edge)
				next[to] = path
				sd.visited.Add(to)
			}
		}
		return next
	}

	for hop := 0; hop < maxHops; hop++ {
		if hop%2 == 0 {
			fwd.frontier = expand(&fwd, fwdDir)
			if p, ok := meet(fwd, bwd); ok {
				return p, true, nil
			}
		} else {
			bwd.frontier = expand(&bwd, bwdDir)
			if p, ok := meet(fwd, bwd); ok {
				return p, true, nil
			}
		}
		if len(fwd.frontier) == 0 && len(bwd.frontier) == 0 {
			break
		}
	}
	return Path{}, false, nil
}

func meet(fwd, bwd struct {
	frontier map[uint32][]triple.Triple
	visited  *roaring.Bitmap
}) (Path, bool) {
	for node, fp := range fwd.frontier {
		if bp, ok := bwd.frontier[node]; ok {
			edges := append(append([]triple.Triple(nil), fp...), reverseEdges(bp)...)
			return Path{Edges: edges, Hops: len(edges)}, true
		}
		if bwd.visited.Contains(node) {
			continue
		}
	}
	return Path{}, false
}

func reverseEdges(edges []triple.Triple) []triple.Triple {
	out := make([]triple.Triple, len(edges))
	for i, e := range edges {
		out[len(edges)-1-i] = e
	}
	return out
}

func reverseOf(d Direction) Direction {
	switch d {
	case Forward:
		return Reverse
	case Reverse:
		return Forward
	default:
		return Both
	}
}

// VariableLength enumerates every path from starts to targets whose edge
// count falls in [min, max] (spec §4.16).
func VariableLength(s *synapsedb.Store, starts, targets []uint32, predicate string, min, max int, opts Options) ([]Path, error) {
	predID, ok := s.GetNodeId(predicate)
	if !ok {
		return nil, nil
	}
	targetSet := nodeSet(targets)

	type frame struct {
		node uint32
		path []triple.Triple
	}
	var out []Path
	var walk func(f frame, visitedNodes *roaring.Bitmap, visitedEdges map[triple.Triple]struct{})
	walk = func(f frame, visitedNodes *roaring.Bitmap, visitedEdges map[triple.Triple]struct{}) {
		depth := len(f.path)
		if depth >= min && depth <= max && targetSet.Contains(f.node) && depth > 0 {
			out = append(out, Path{Edges: append([]triple.Triple(nil), f.path...), Hops: depth})
		}
		if depth >= max {
			return
		}
		for _, edge := range neighbors(s, f.node, predID, opts.Direction) {
			if opts.Uniqueness == UniqueEdge {
				if _, seen := visitedEdges[edge]; seen {
					continue
				}
			}
			to := nextNode(edge, f.node)
			if opts.Uniqueness != UniqueNone && visitedNodes.Contains(to) {
				continue
			}
			nextVisitedNodes := visitedNodes
			if opts.Uniqueness != UniqueNone {
				nextVisitedNodes = visitedNodes.Clone()
				nextVisitedNodes.Add(to)
			}
			nextVisitedEdges := visitedEdges
			if opts.Uniqueness == UniqueEdge {
				nextVisitedEdges = make(map[triple.Triple]struct{}, len(visitedEdges)+1)
				for k := range visitedEdges {
					nextVisitedEdges[k] = struct{}{}
				}
				nextVisitedEdges[edge] = struct{}{}
			}
			walk(frame{node: to, path: append(append([]triple.Triple(nil), f.path...), edge)}, nextVisitedNodes, nextVisitedEdges)
		}
	}

	for _, n := range starts {
		vn := roaring.New()
		vn.Add(n)
		walk(frame{node: n}, vn, map[triple.Triple]struct{}{})
	}
	return out, nil
}

// HeuristicKind selects one of A*'s named heuristics (spec §4.16).
type HeuristicKind int

const (
	// HeuristicHop is the admissible constant-1 heuristic (plain
	// uninformed search with A*'s bookkeeping).
	HeuristicHop HeuristicKind = iota
	// HeuristicAbsIDDiff uses |target - node| over dictionary ids as a
	// proxy distance.
	HeuristicAbsIDDiff
	// HeuristicSqrtIDDiff uses sqrt(|target - node|).
	HeuristicSqrtIDDiff
	// HeuristicCustom delegates to AStarOptions.CustomHeuristic.
	HeuristicCustom
)

// AStarOptions configures AStar. Weight scales the heuristic term in
// fScore = g + weight*h; weight 1 is standard A*. A zero Weight is treated
// as 1, so the heuristic term is never dropped.
type AStarOptions struct {
	Direction       Direction
	Heuristic       HeuristicKind
	CustomHeuristic func(node, target uint32) float64
	Weight          float64
	MinG            int
}

func (o AStarOptions) heuristic(node, target uint32) float64 {
	switch o.Heuristic {
	case HeuristicAbsIDDiff:
		return math.Abs(float64(int64(node)) - float64(int64(target)))
	case HeuristicSqrtIDDiff:
		return math.Sqrt(math.Abs(float64(int64(node)) - float64(int64(target))))
	case HeuristicCustom:
		if o.CustomHeuristic != nil {
			return o.CustomHeuristic(node, target)
		}
		return 0
	default:
		return 1
	}
}

type openEntry struct {
	node   uint32
	gScore int
	fScore float64
	path   []triple.Triple
	index  int
}

type openHeap []*openEntry

func (h openHeap) Len() int { return len(h) }
func (h openHeap) Less(i, j int) bool {
	if h[i].fScore != h[j].fScore {
		return h[i].fScore < h[j].fScore
	}
	return h[i].gScore < h[j].gScore // tie-break: smaller gScore first
}
func (h openHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *openHeap) Push(x any) {
	e := x.(*openEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *openHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// AStar finds a path from start to target along predicate using A* search
// (spec §4.16): gScore counts edges walked, fScore = g + weight*h, the open
// set is a min-heap on fScore (tie-break smaller gScore), and a closed set
// prevents re-expansion. Search terminates once target is popped with
// gScore >= opts.MinG.
func AStar(s *synapsedb.Store, start, target uint32, predicate string, opts AStarOptions) (Path, bool, error) {
	predID, ok := s.GetNodeId(predicate)
	if !ok {
		return Path{}, false, nil
	}
	weight := opts.Weight
	if weight == 0 {
		weight = 1
	}

	open := &openHeap{}
	heap.Init(open)
	heap.Push(open, &openEntry{node: start, gScore: 0, fScore: weight * opts.heuristic(start, target)})
	bestG := map[uint32]int{start: 0}
	closed := roaring.New()

	for open.Len() > 0 {
		cur := heap.Pop(open).(*openEntry)
		if closed.Contains(cur.node) {
			continue
		}
		if cur.node == target {
			if cur.gScore >= opts.MinG {
				return Path{Edges: cur.path, Hops: cur.gScore}, true, nil
			}
			continue
		}
		closed.Add(cur.node)

		for _, edge := range neighbors(s, cur.node, predID, opts.Direction) {
			to := nextNode(edge, cur.node)
			if closed.Contains(to) {
				continue
			}
			g := cur.gScore + 1
			// The target itself is never pruned by bestG: MinG may require
			// a longer-than-shortest route to it, so every candidate length
			// needs to reach the open set and be judged at pop time.
			if to != target {
				if prev, seen := bestG[to]; seen && prev <= g {
					continue
				}
				bestG[to] = g
			}
			path := append(append([]triple.Triple(nil), cur.path...), edge)
			f := float64(g) + weight*opts.heuristic(to, target)
			heap.Push(open, &openEntry{node: to, gScore: g, fScore: f, path: path})
		}
	}
	return Path{}, false, nil
}
