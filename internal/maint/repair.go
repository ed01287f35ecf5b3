package maint

import (
	"fmt"
	"os"
	"sync"

	"github.com/synapsedb/synapsedb"
	"github.com/synapsedb/synapsedb/internal/pagestore"
	"github.com/synapsedb/synapsedb/internal/sixindex"
	"github.com/synapsedb/synapsedb/internal/triple"
	"github.com/synapsedb/synapsedb/internal/wal"
)

// CorruptPage names one page that failed CRC/decompression verification
// during Check.
type CorruptPage struct {
	Order        sixindex.Order
	PrimaryValue uint32
	Offset       int64
	Err          string
}

// CheckReport is the result of one Check pass. Check never modifies
// anything on disk; it only reads.
type CheckReport struct {
	Strict       bool
	ContainerOK  bool
	ManifestOK   bool
	WALOK        bool
	WALTornTail  bool
	CorruptPages []CorruptPage
}

// Healthy reports whether Check found nothing wrong. In strict mode a torn
// WAL tail counts as unhealthy; otherwise it is expected crash residue that
// the next Open's replay already handles (spec §4.8).
func (r CheckReport) Healthy() bool {
	if len(r.CorruptPages) > 0 || !r.ContainerOK || !r.ManifestOK || !r.WALOK {
		return false
	}
	if r.Strict && r.WALTornTail {
		return false
	}
	return true
}

// Check verifies that the container file exists, the manifest, every page's CRC32
// (via pagestore.Reader.ReadPage, which already checksums each page), and
// the WAL's header and tail (spec §4.16).
func Check(s *synapsedb.Store, strict bool) (CheckReport, error) {
	unlock := s.Lock()
	defer unlock()

	report := CheckReport{Strict: strict}

	if _, err := os.Stat(s.Name() + ".synapsedb"); err == nil {
		report.ContainerOK = true
	}

	manifest := s.Manifest()
	report.ManifestOK = manifest != nil
	if manifest == nil {
		return report, nil
	}

	pagesDir := s.PagesDir()
	for o := sixindex.SPO; o <= sixindex.OPS; o++ {
		lookup := manifest.Lookups[o]
		if len(lookup.Pages) == 0 {
			continue
		}
		reader, err := pagestore.OpenReader(pagestore.OrderFilePath(pagesDir, o), o)
		if err != nil {
			report.CorruptPages = append(report.CorruptPages, CorruptPage{Order: o, Err: err.Error()})
			continue
		}
		for _, desc := range lookup.Pages {
			if _, err := reader.ReadPage(desc, manifest.Compression.Codec); err != nil {
				report.CorruptPages = append(report.CorruptPages, CorruptPage{
					Order: o, PrimaryValue: desc.PrimaryValue, Offset: desc.Offset, Err: err.Error(),
				})
			}
		}
		reader.Close()
	}

	result, err := wal.Replay(s.WALPath(), map[string]bool{})
	if err != nil {
		report.WALOK = false
	} else {
		report.WALOK = true
		if fi, statErr := os.Stat(s.WALPath()); statErr == nil && result.SafeOffset < fi.Size() {
			report.WALTornTail = true
		}
	}

	return report, nil
}

// RepairMode selects between rebuilding every order's page file (full) and
// rebuilding only the orders a prior Check flagged as corrupt (fast).
type RepairMode int

const (
	RepairFast RepairMode = iota
	RepairFull
)

func (m RepairMode) String() string {
	if m == RepairFull {
		return "full"
	}
	return "fast"
}

// RepairOptions configures one Repair call.
type RepairOptions struct {
	Mode RepairMode
	// RebuildIndexes additionally rebuilds the in-memory six-order index
	// and every inverted property index after page repair (spec §4.16's
	// --rebuild-indexes flag).
	RebuildIndexes bool
}

// RepairReport summarizes one Repair call.
type RepairReport struct {
	Mode           RepairMode
	OrdersRepaired []sixindex.Order
	IndexesRebuilt bool
}

// Repair rebuilds page files from the live (non-tombstoned) triple set.
// Full mode rewrites all six orders, identical in shape to compaction's
// rewrite mode but run unconditionally. Fast mode rewrites only the orders
// named in prior's CorruptPages, leaving healthy orders untouched.
func Repair(s *synapsedb.Store, opts RepairOptions, prior CheckReport) (RepairReport, error) {
	unlock := sync.OnceFunc(s.Lock())
	defer unlock()

	report := RepairReport{Mode: opts.Mode}

	var targets []sixindex.Order
	if opts.Mode == RepairFull {
		for o := sixindex.SPO; o <= sixindex.OPS; o++ {
			targets = append(targets, o)
		}
	} else {
		seen := make(map[sixindex.Order]struct{})
		for _, cp := range prior.CorruptPages {
			if _, ok := seen[cp.Order]; !ok {
				seen[cp.Order] = struct{}{}
				targets = append(targets, cp.Order)
			}
		}
	}
	if len(targets) == 0 {
		return report, nil
	}

	tomb := s.Tombstones()
	all := s.TripleStore().List()
	live := make([]triple.Triple, 0, len(all))
	for _, t := range all {
		if !tomb.Has(t) {
			live = append(live, t)
		}
	}

	manifest := s.Manifest()
	pagesDir := s.PagesDir()
	maxTriplesPerPage := pageTripleBudget(manifest.PageSize)

	for _, o := range targets {
		if err := repairOrder(pagesDir, manifest, o, live, maxTriplesPerPage); err != nil {
			return report, err
		}
		report.OrdersRepaired = append(report.OrdersRepaired, o)
	}

	manifest.Epoch++
	if err := manifest.Save(pagesDir); err != nil {
		return report, fmt.Errorf("maint: publishing manifest after repair: %w", err)
	}
	unlock()
	s.ReplaceManifest(manifest)

	if opts.RebuildIndexes {
		s.RebuildIndexes()
		report.IndexesRebuilt = true
	}

	return report, nil
}

// repairOrder rewrites order's entire page file from live: it writes a
// temporary ".repair" file, removes the damaged file, then renames the
// temporary file into place. Unlike compaction, no orphan copy is kept.
func repairOrder(pagesDir string, manifest *pagestore.Manifest, order sixindex.Order, live []triple.Triple, maxTriplesPerPage int) error {
	tmp := pagestore.OrderFilePath(pagesDir, order) + ".repair"
	w, err := pagestore.OpenWriter(tmp, order)
	if err != nil {
		return fmt.Errorf("maint: opening repair file for %s: %w", order, err)
	}
	descs, err := pagestore.WriteRuns(w, order, live, maxTriplesPerPage, manifest.Compression.Codec, manifest.Compression.Level)
	if err != nil {
		w.Close()
		return fmt.Errorf("maint: writing repaired %s pages: %w", order, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("maint: closing repair file for %s: %w", order, err)
	}

	livePath := pagestore.OrderFilePath(pagesDir, order)
	if err := os.Remove(livePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("maint: removing damaged %s pages: %w", order, err)
	}
	if err := os.Rename(tmp, livePath); err != nil {
		return fmt.Errorf("maint: publishing repaired %s pages: %w", order, err)
	}

	manifest.ReplaceOrder(order, descs)
	return nil
}
