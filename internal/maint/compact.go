// Package maint implements the background maintenance loops that keep a
// synapsedb database's on-disk footprint bounded and recoverable: page
// compaction (spec §4.14 / C14), orphan and stale-reader garbage collection
// (spec §4.15 / C15), and check/repair (spec §4.16 / C16). Each entry point
// takes a *synapsedb.Store directly rather than through an adapter
// interface, the same way internal/maint's sibling engines (query, path)
// operate on the orchestrator.
package maint

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/synapsedb/synapsedb"
	"github.com/synapsedb/synapsedb/internal/hotness"
	"github.com/synapsedb/synapsedb/internal/obs"
	"github.com/synapsedb/synapsedb/internal/pagestore"
	"github.com/synapsedb/synapsedb/internal/sixindex"
	"github.com/synapsedb/synapsedb/internal/triple"
)

// CompactionMode selects between a full rewrite of every order and a
// candidate-driven incremental pass (spec §4.14).
type CompactionMode int

const (
	ModeRewrite CompactionMode = iota
	ModeIncremental
)

func (m CompactionMode) String() string {
	if m == ModeIncremental {
		return "incremental"
	}
	return "rewrite"
}

// CompactionOptions configures one Compact call.
type CompactionOptions struct {
	Mode CompactionMode

	// MinMergePages selects a primary as an incremental-mode candidate once
	// its page count exceeds this threshold.
	MinMergePages int
	// HotThreshold selects a primary as a candidate once its decayed
	// hotness score (internal/hotness) exceeds this value.
	HotThreshold float64
	// MaxPrimaryPerRun caps how many primaries incremental mode examines
	// per order in one call, bounding the work a single auto-compact tick
	// can do.
	MaxPrimaryPerRun int
	// ReaderStaleAfterSeconds is used only to report ActiveReaders; it does
	// not gate rewrite mode, which never deletes a page (it only renames
	// the old file to an orphan path for GC to evaluate later).
	ReaderStaleAfterSeconds int
}

// DefaultCompactionOptions returns reasonable defaults for an auto-compact
// tick.
func DefaultCompactionOptions() CompactionOptions {
	return CompactionOptions{
		Mode:                    ModeIncremental,
		MinMergePages:           4,
		HotThreshold:            3,
		MaxPrimaryPerRun:        64,
		ReaderStaleAfterSeconds: 3600,
	}
}

// CompactionReport summarizes one Compact call for the CLI and callers'
// logs.
type CompactionReport struct {
	Mode               CompactionMode
	PrimariesRewritten map[sixindex.Order]int
	PagesBefore        int
	PagesAfter         int
	BytesReclaimed     int64
	OrphanedFiles      []string
	TombstonesDropped  int
	ActiveReaders      int
}

// Compact runs one compaction pass against s under s's lock. The lock is
// released (via the idempotent unlock passed to the mode function) just
// before the manifest swap, since Store.ReplaceManifest takes the same
// mutex internally and it is not reentrant; any remaining bookkeeping after
// that point only touches the sub-stores' own independent locks.
func Compact(s *synapsedb.Store, opts CompactionOptions) (CompactionReport, error) {
	unlock := sync.OnceFunc(s.Lock())
	defer unlock()

	report := CompactionReport{Mode: opts.Mode, PrimariesRewritten: make(map[sixindex.Order]int)}
	for o := sixindex.SPO; o <= sixindex.OPS; o++ {
		report.PagesBefore += len(s.Manifest().Lookup(o))
	}

	if reg := s.ReaderRegistry(); reg != nil {
		staleAfter := time.Duration(opts.ReaderStaleAfterSeconds) * time.Second
		if live, err := reg.Live(staleAfter, time.Now()); err == nil {
			report.ActiveReaders = len(live)
		}
	}

	var err error
	switch opts.Mode {
	case ModeRewrite:
		err = compactRewriteLocked(s, unlock, &report)
	default:
		err = compactIncrementalLocked(s, unlock, opts, &report)
	}
	if err != nil {
		return report, err
	}

	for o := sixindex.SPO; o <= sixindex.OPS; o++ {
		report.PagesAfter += len(s.Manifest().Lookup(o))
	}
	return report, nil
}

// compactRewriteLocked rewrites all six order files from the live (non-
// tombstoned) triple set. Because every order is rewritten together, this
// is the only mode that can safely drop tombstoned triples from memory and
// clear the manifest's global tombstone list: an incremental pass that
// touches only some orders cannot make that guarantee, since an untouched
// order's file may still physically hold a tombstoned triple's bytes.
func compactRewriteLocked(s *synapsedb.Store, unlock func(), report *CompactionReport) error {
	tomb := s.Tombstones()
	all := s.TripleStore().List()
	live := make([]triple.Triple, 0, len(all))
	var dropped []triple.Triple
	for _, t := range all {
		if tomb.Has(t) {
			dropped = append(dropped, t)
			continue
		}
		live = append(live, t)
	}

	manifest := s.Manifest()
	pagesDir := s.PagesDir()
	maxTriplesPerPage := pageTripleBudget(manifest.PageSize)

	var oldBytes int64
	for o := sixindex.SPO; o <= sixindex.OPS; o++ {
		oldBytes += sumLength(manifest.Lookup(o))
	}

	newDescs := make(map[sixindex.Order][]pagestore.PageDescriptor, 6)
	tmpPaths := make(map[sixindex.Order]string, 6)
	var newBytes int64
	for o := sixindex.SPO; o <= sixindex.OPS; o++ {
		tmp := pagestore.OrderFilePath(pagesDir, o) + ".rewrite"
		w, err := pagestore.OpenWriter(tmp, o)
		if err != nil {
			return fmt.Errorf("maint: opening rewrite file for %s: %w", o, err)
		}
		descs, err := pagestore.WriteRuns(w, o, live, maxTriplesPerPage, manifest.Compression.Codec, manifest.Compression.Level)
		if err != nil {
			w.Close()
			return fmt.Errorf("maint: writing rewritten %s pages: %w", o, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("maint: closing rewrite file for %s: %w", o, err)
		}
		newDescs[o] = descs
		newBytes += sumLength(descs)
		tmpPaths[o] = tmp
		report.PrimariesRewritten[o] = countDistinctPrimaries(descs)
	}

	epoch := manifest.Epoch
	var orphans []string
	for o := sixindex.SPO; o <= sixindex.OPS; o++ {
		livePath := pagestore.OrderFilePath(pagesDir, o)
		if _, err := os.Stat(livePath); err == nil {
			orphan := fmt.Sprintf("%s.orphan.%d", pagestore.OrderFileName(o), epoch)
			if err := os.Rename(livePath, filepath.Join(pagesDir, orphan)); err != nil {
				return fmt.Errorf("maint: orphaning old %s pages: %w", o, err)
			}
			orphans = append(orphans, orphan)
		}
		if err := os.Rename(tmpPaths[o], livePath); err != nil {
			return fmt.Errorf("maint: publishing rewritten %s pages: %w", o, err)
		}
	}

	for o := sixindex.SPO; o <= sixindex.OPS; o++ {
		manifest.ReplaceOrder(o, newDescs[o])
	}
	manifest.Epoch++
	manifest.Orphans = append(manifest.Orphans, orphans...)
	manifest.Tombstones = nil
	if err := manifest.Save(pagesDir); err != nil {
		return fmt.Errorf("maint: publishing rewritten manifest: %w", err)
	}
	unlock()
	s.ReplaceManifest(manifest)

	for _, t := range dropped {
		s.TripleStore().Remove(t)
		s.SixIndex().Remove(t)
		s.Tombstones().Remove(t)
	}

	report.TombstonesDropped = len(dropped)
	report.OrphanedFiles = append(report.OrphanedFiles, orphans...)
	if oldBytes > newBytes {
		report.BytesReclaimed += oldBytes - newBytes
	}
	obs.CompactionBytesReclaimed.Add(float64(report.BytesReclaimed))
	return nil
}

// compactIncrementalLocked examines a bounded set of candidate primaries
// per order (selected by page count or hotness) and, only for an order
// where at least one candidate's content would actually shrink after
// tombstone-filtering, rewrites that order's entire file from the live
// set. Orders with no dirty candidate are left untouched. The manifest's
// global tombstone list is never cleared here: an order this pass skips
// may still hold a tombstoned triple's bytes.
func compactIncrementalLocked(s *synapsedb.Store, unlock func(), opts CompactionOptions, report *CompactionReport) error {
	manifest := s.Manifest()
	pagesDir := s.PagesDir()
	hot := s.HotnessCounter()
	tomb := s.Tombstones()
	now := time.Now().UnixNano()
	maxTriplesPerPage := pageTripleBudget(manifest.PageSize)

	liveAll := make([]triple.Triple, 0)
	for _, t := range s.TripleStore().List() {
		if !tomb.Has(t) {
			liveAll = append(liveAll, t)
		}
	}

	anyChanged := false
	for o := sixindex.SPO; o <= sixindex.OPS; o++ {
		candidates := selectCandidates(manifest, o, hot, now, opts)
		if len(candidates) == 0 {
			continue
		}

		reader, err := pagestore.OpenReader(pagestore.OrderFilePath(pagesDir, o), o)
		if err != nil {
			return fmt.Errorf("maint: opening %s for incremental scan: %w", o, err)
		}

		dirty := false
		for _, primary := range candidates {
			descs := manifest.DescriptorsForPrimary(o, primary)
			before, err := reader.ReadPrimary(descs, manifest.Compression.Codec)
			if err != nil {
				reader.Close()
				return fmt.Errorf("maint: reading primary %d of %s: %w", primary, o, err)
			}
			beforeFP := fingerprintTriples(o, before)
			afterFP := fingerprintTriples(o, filterTombstoned(before, tomb))
			if beforeFP != afterFP {
				dirty = true
			}
		}
		reader.Close()
		if !dirty {
			continue
		}

		oldBytes := sumLength(manifest.Lookups[o].Pages)

		tmp := pagestore.OrderFilePath(pagesDir, o) + ".compact"
		w, err := pagestore.OpenWriter(tmp, o)
		if err != nil {
			return fmt.Errorf("maint: opening compact file for %s: %w", o, err)
		}
		descs, err := pagestore.WriteRuns(w, o, liveAll, maxTriplesPerPage, manifest.Compression.Codec, manifest.Compression.Level)
		if err != nil {
			w.Close()
			return fmt.Errorf("maint: writing compacted %s pages: %w", o, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("maint: closing compact file for %s: %w", o, err)
		}

		livePath := pagestore.OrderFilePath(pagesDir, o)
		orphan := fmt.Sprintf("%s.orphan.%d", pagestore.OrderFileName(o), manifest.Epoch)
		if err := os.Rename(livePath, filepath.Join(pagesDir, orphan)); err != nil {
			return fmt.Errorf("maint: orphaning old %s pages: %w", o, err)
		}
		if err := os.Rename(tmp, livePath); err != nil {
			return fmt.Errorf("maint: publishing compacted %s pages: %w", o, err)
		}

		manifest.ReplaceOrder(o, descs)
		manifest.Orphans = append(manifest.Orphans, orphan)
		report.OrphanedFiles = append(report.OrphanedFiles, orphan)
		report.PrimariesRewritten[o] = countDistinctPrimaries(descs)
		hot.Reset(o)

		newBytes := sumLength(descs)
		if oldBytes > newBytes {
			report.BytesReclaimed += oldBytes - newBytes
		}
		anyChanged = true
	}

	if !anyChanged {
		return nil
	}

	manifest.Epoch++
	if err := manifest.Save(pagesDir); err != nil {
		return fmt.Errorf("maint: publishing incremental manifest: %w", err)
	}
	unlock()
	s.ReplaceManifest(manifest)
	obs.CompactionBytesReclaimed.Add(float64(report.BytesReclaimed))
	return nil
}

// selectCandidates unions the page-count-threshold and hotness-threshold
// selections for order, deterministically ordered and capped at
// opts.MaxPrimaryPerRun.
func selectCandidates(m *pagestore.Manifest, order sixindex.Order, hot *hotness.Counter, nowNanos int64, opts CompactionOptions) []uint32 {
	pageCount := make(map[uint32]int)
	for _, d := range m.Lookups[order].Pages {
		pageCount[d.PrimaryValue]++
	}
	set := make(map[uint32]struct{})
	for primary, n := range pageCount {
		if n > opts.MinMergePages {
			set[primary] = struct{}{}
		}
	}
	for _, primary := range hot.Top(order, opts.MaxPrimaryPerRun, nowNanos) {
		if hot.Score(order, primary, nowNanos) > opts.HotThreshold {
			set[primary] = struct{}{}
		}
	}
	out := make([]uint32, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) > opts.MaxPrimaryPerRun {
		out = out[:opts.MaxPrimaryPerRun]
	}
	return out
}

// fingerprintTriples hashes triples, sorted in order's tuple permutation
// and encoded the same 12-byte little-endian way pagestore writes them, so
// that two reads of logically identical page content always agree.
func fingerprintTriples(order sixindex.Order, triples []triple.Triple) uint64 {
	sorted := make([]triple.Triple, len(triples))
	copy(sorted, triples)
	sort.Slice(sorted, func(i, j int) bool {
		ai, bi, ci := order.Fields(sorted[i])
		aj, bj, cj := order.Fields(sorted[j])
		if ai != aj {
			return ai < aj
		}
		if bi != bj {
			return bi < bj
		}
		return ci < cj
	})
	h := xxhash.New()
	var buf [12]byte
	for _, t := range sorted {
		a, b, c := order.Fields(t)
		binary.LittleEndian.PutUint32(buf[0:4], a)
		binary.LittleEndian.PutUint32(buf[4:8], b)
		binary.LittleEndian.PutUint32(buf[8:12], c)
		h.Write(buf[:])
	}
	return h.Sum64()
}

func filterTombstoned(triples []triple.Triple, tomb *triple.TombstoneSet) []triple.Triple {
	out := make([]triple.Triple, 0, len(triples))
	for _, t := range triples {
		if !tomb.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func sumLength(descs []pagestore.PageDescriptor) int64 {
	var total int64
	for _, d := range descs {
		total += d.Length
	}
	return total
}

func countDistinctPrimaries(descs []pagestore.PageDescriptor) int {
	seen := make(map[uint32]struct{}, len(descs))
	for _, d := range descs {
		seen[d.PrimaryValue] = struct{}{}
	}
	return len(seen)
}

func pageTripleBudget(pageSize int) int {
	n := pageSize / 12
	if n <= 0 {
		return 1
	}
	return n
}
