// Package lsmlite implements the optional LSM-lite staging layer (spec
// §4.11 / C11): an in-memory memtable of newly-added triples that freezes
// into an on-disk segment once it crosses a size threshold; the next flush
// merges every frozen segment into the page files. Staged triples are also
// held in the six-order in-memory index.
package lsmlite

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/tidwall/btree"

	"github.com/synapsedb/synapsedb/internal/triple"
)

const (
	segmentDirName  = "lsm"
	manifestName    = "lsm-manifest.json"
	tripleByteSize  = 12
	segmentFilePfx  = "seg-"
	segmentFileSfx  = ".bin"
)

func tripleLess(a, b triple.Triple) bool {
	if a.S != b.S {
		return a.S < b.S
	}
	if a.P != b.P {
		return a.P < b.P
	}
	return a.O < b.O
}

// Memtable is an ordered in-memory set of staged triples.
type Memtable struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[triple.Triple]
}

// NewMemtable returns an empty memtable.
func NewMemtable() *Memtable {
	return &Memtable{tree: btree.NewBTreeG(tripleLess)}
}

// Add inserts t, returning the memtable's size after insertion.
func (m *Memtable) Add(t triple.Triple) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Set(t)
	return m.tree.Len()
}

// Len returns the number of staged triples.
func (m *Memtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}

// Drain returns every staged triple in sorted order and empties the
// memtable.
func (m *Memtable) Drain() []triple.Triple {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]triple.Triple, 0, m.tree.Len())
	m.tree.Scan(func(t triple.Triple) bool {
		out = append(out, t)
		return true
	})
	m.tree = btree.NewBTreeG(tripleLess)
	return out
}

// manifest lists the frozen segment files awaiting merge at the next flush.
type manifest struct {
	Segments []string `json:"segments"`
}

// Staging coordinates a Memtable with its frozen-segment directory,
// freezing the memtable to disk once it reaches sizeThreshold entries.
type Staging struct {
	mu        sync.Mutex
	dir       string // <pages dir>/lsm
	mem       *Memtable
	threshold int
	nextSeg   int
}

// Open opens (creating if necessary) the staging area rooted at
// pagesDir/lsm, replaying its manifest to discover already-frozen segments.
func Open(pagesDir string, sizeThreshold int) (*Staging, error) {
	dir := filepath.Join(pagesDir, segmentDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lsmlite: creating %s: %w", dir, err)
	}
	if sizeThreshold <= 0 {
		sizeThreshold = 4096
	}
	s := &Staging{dir: dir, mem: NewMemtable(), threshold: sizeThreshold}
	segs, err := s.listSegmentsLocked()
	if err != nil {
		return nil, err
	}
	s.nextSeg = len(segs)
	return s, nil
}

func manifestPath(dir string) string {
	return filepath.Join(dir, manifestName)
}

func (s *Staging) listSegmentsLocked() ([]string, error) {
	data, err := os.ReadFile(manifestPath(s.dir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lsmlite: reading manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("lsmlite: decoding manifest: %w", err)
	}
	return m.Segments, nil
}

func (s *Staging) saveManifestLocked(segs []string) error {
	data, err := json.Marshal(manifest{Segments: segs})
	if err != nil {
		return fmt.Errorf("lsmlite: encoding manifest: %w", err)
	}
	tmp := manifestPath(s.dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("lsmlite: writing manifest tmp: %w", err)
	}
	return os.Rename(tmp, manifestPath(s.dir))
}

// Add stages t in the memtable, freezing it to a new segment file and
// recording it in the manifest if the threshold is crossed.
func (s *Staging) Add(t triple.Triple) error {
	size := s.mem.Add(t)
	if size < s.threshold {
		return nil
	}
	return s.freeze()
}

func (s *Staging) freeze() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	triples := s.mem.Drain()
	if len(triples) == 0 {
		return nil
	}
	name := fmt.Sprintf("%s%06d%s", segmentFilePfx, s.nextSeg, segmentFileSfx)
	s.nextSeg++
	if err := writeSegment(filepath.Join(s.dir, name), triples); err != nil {
		return err
	}
	segs, err := s.listSegmentsLocked()
	if err != nil {
		return err
	}
	segs = append(segs, name)
	return s.saveManifestLocked(segs)
}

// Flush freezes any remaining memtable contents, then reads and returns
// every frozen segment's triples (sorted, deduplicated) together with the
// list of segment file names the caller must delete once the merge into
// page files (spec §4.11 step 3) has durably landed.
func (s *Staging) Flush() (triples []triple.Triple, segmentFiles []string, err error) {
	if err := s.freeze(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	segs, err := s.listSegmentsLocked()
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[triple.Triple]struct{})
	var out []triple.Triple
	for _, name := range segs {
		ts, err := readSegment(filepath.Join(s.dir, name))
		if err != nil {
			return nil, nil, err
		}
		for _, t := range ts {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return tripleLess(out[i], out[j]) })
	return out, segs, nil
}

// RemoveSegments deletes segmentFiles and clears them from the manifest,
// called once the merge that consumed them is durably published.
func (s *Staging) RemoveSegments(segmentFiles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	remove := make(map[string]bool, len(segmentFiles))
	for _, f := range segmentFiles {
		remove[f] = true
		_ = os.Remove(filepath.Join(s.dir, f))
	}
	remaining, err := s.listSegmentsLocked()
	if err != nil {
		return err
	}
	kept := remaining[:0]
	for _, f := range remaining {
		if !remove[f] {
			kept = append(kept, f)
		}
	}
	return s.saveManifestLocked(kept)
}

// Metrics reports the current staging size (spec's getStagingMetrics).
type Metrics struct {
	MemtableSize int
	SegmentCount int
}

// GetStagingMetrics returns the memtable's size and frozen segment count.
func (s *Staging) GetStagingMetrics() (Metrics, error) {
	s.mu.Lock()
	segs, err := s.listSegmentsLocked()
	s.mu.Unlock()
	if err != nil {
		return Metrics{}, err
	}
	return Metrics{MemtableSize: s.mem.Len(), SegmentCount: len(segs)}, nil
}

func writeSegment(path string, triples []triple.Triple) error {
	buf := make([]byte, len(triples)*tripleByteSize)
	for i, t := range triples {
		off := i * tripleByteSize
		binary.LittleEndian.PutUint32(buf[off:], t.S)
		binary.LittleEndian.PutUint32(buf[off+4:], t.P)
		binary.LittleEndian.PutUint32(buf[off+8:], t.O)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("lsmlite: creating segment %s: %w", path, err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("lsmlite: writing segment %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readSegment(path string) ([]triple.Triple, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lsmlite: reading segment %s: %w", path, err)
	}
	if len(data)%tripleByteSize != 0 {
		return nil, fmt.Errorf("lsmlite: segment %s has truncated trailing record", path)
	}
	n := len(data) / tripleByteSize
	out := make([]triple.Triple, n)
	for i := 0; i < n; i++ {
		off := i * tripleByteSize
		out[i] = triple.Triple{
			S: binary.LittleEndian.Uint32(data[off:]),
			P: binary.LittleEndian.Uint32(data[off+4:]),
			O: binary.LittleEndian.Uint32(data[off+8:]),
		}
	}
	return out, nil
}

// isSegmentFile reports whether name looks like a frozen segment file.
func isSegmentFile(name string) bool {
	return strings.HasPrefix(name, segmentFilePfx) && strings.HasSuffix(name, segmentFileSfx)
}
