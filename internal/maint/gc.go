package maint

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/synapsedb/synapsedb"
	"github.com/synapsedb/synapsedb/internal/obs"
	"github.com/synapsedb/synapsedb/internal/pageset"
)

// GCOptions configures one GC pass.
type GCOptions struct {
	// RespectReaders skips any orphan file a live reader might still need
	// and leaves unparseable orphan names alone; false forces removal of
	// every orphan regardless of pinned readers (spec §4.15's --respect-
	// readers flag, default true).
	RespectReaders bool
	// ReaderStaleAfterSeconds reclaims a reader registry entry older than
	// this many seconds even if its pid is still alive, mirroring
	// Options.ReaderStaleAfterSeconds.
	ReaderStaleAfterSeconds int
}

// DefaultGCOptions returns the safe default: respect pinned readers.
func DefaultGCOptions() GCOptions {
	return GCOptions{RespectReaders: true, ReaderStaleAfterSeconds: 3600}
}

// GCReport summarizes one GC pass.
type GCReport struct {
	OrphansRemoved     []string
	OrphansSkipped     []string
	StaleReadersReaped int
	BytesReclaimed     int64
	// LiveOrphanSlots is the pageset.Bitmap's post-sweep allocation count:
	// how many orphan files are still tracked as live (skipped) afterward.
	LiveOrphanSlots uint32
}

// GC walks manifest.Orphans, removing every entry that no live (non-stale)
// reader could still need, and opportunistically reclaims stale reader
// registry entries (spec §4.15). It fires the gc.* crash hooks around the
// point of no return for crash-safety tests, the same discipline Store
// applies to its own flush/compaction writes.
func GC(s *synapsedb.Store, opts GCOptions) (GCReport, error) {
	unlock := sync.OnceFunc(s.Lock())
	defer unlock()

	var report GCReport
	manifest := s.Manifest()
	pagesDir := s.PagesDir()
	staleAfter := time.Duration(opts.ReaderStaleAfterSeconds) * time.Second

	var minPinned uint64
	var anyPinned bool
	if reg := s.ReaderRegistry(); reg != nil {
		before, err := reg.Count()
		if err != nil {
			return report, fmt.Errorf("maint: counting reader entries: %w", err)
		}
		// Live's side effect prunes dead/stale entries from disk; the
		// before/after delta is the count reclaimed this pass.
		if _, err := reg.Live(staleAfter, time.Now()); err != nil {
			return report, fmt.Errorf("maint: listing live readers: %w", err)
		}
		after, err := reg.Count()
		if err != nil {
			return report, fmt.Errorf("maint: counting reader entries: %w", err)
		}
		if before > after {
			report.StaleReadersReaped = before - after
		}
		if opts.RespectReaders {
			m, ok, err := reg.MinPinnedEpoch(staleAfter, time.Now())
			if err != nil {
				return report, fmt.Errorf("maint: computing min pinned epoch: %w", err)
			}
			minPinned, anyPinned = m, ok
		}
	}

	// bm tracks which orphan slots survive this sweep: every existing
	// orphan starts allocated, and Free marks the ones actually removed.
	bm := pageset.NewBitmap(uint32(len(manifest.Orphans)))
	for range manifest.Orphans {
		bm.Allocate()
	}

	var kept []string
	for i, name := range manifest.Orphans {
		epoch, hasEpoch := epochFromOrphanName(name)
		safe := true
		if opts.RespectReaders {
			if !hasEpoch {
				safe = false
			} else if anyPinned && minPinned <= epoch {
				safe = false
			}
		}
		if !safe {
			report.OrphansSkipped = append(report.OrphansSkipped, name)
			kept = append(kept, name)
			continue
		}

		path := filepath.Join(pagesDir, name)
		fi, statErr := os.Stat(path)

		s.FireHook(synapsedb.HookGCBeforeRename)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return report, fmt.Errorf("maint: removing orphan %s: %w", name, err)
		}
		s.FireHook(synapsedb.HookGCAfterRename)

		bm.Free(uint32(i))
		report.OrphansRemoved = append(report.OrphansRemoved, name)
		if statErr == nil {
			report.BytesReclaimed += fi.Size()
		}
	}
	report.LiveOrphanSlots = bm.Count()

	manifest.Orphans = kept
	manifest.Epoch++
	s.FireHook(synapsedb.HookGCBeforeManifestWrite)
	if err := manifest.Save(pagesDir); err != nil {
		return report, fmt.Errorf("maint: publishing manifest after gc: %w", err)
	}
	unlock()
	s.ReplaceManifest(manifest)

	obs.GCOrphansRemoved.Add(float64(len(report.OrphansRemoved)))
	return report, nil
}

// epochFromOrphanName extracts the trailing epoch from an orphan file name
// of the form "<order>.pages.orphan.<epoch>", as produced by compact.go.
func epochFromOrphanName(name string) (uint64, bool) {
	const marker = ".orphan."
	idx := strings.LastIndex(name, marker)
	if idx < 0 {
		return 0, false
	}
	v, err := strconv.ParseUint(name[idx+len(marker):], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
