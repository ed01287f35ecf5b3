// Package pagestore implements the paged index writer/reader and manifest
// (spec §4.6): per-order page files, the manifest that names every page
// descriptor, and primary-keyed lookup.
package pagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/synapsedb/synapsedb/internal/sixindex"
)

// PageDescriptor names one page within an order's file.
type PageDescriptor struct {
	PrimaryValue uint32 `json:"primaryValue"`
	Offset       int64  `json:"offset"`
	Length       int64  `json:"length"`    // compressed length on disk
	RawLength    int64  `json:"rawLength"` // decompressed length
	CRC32        uint32 `json:"crc32"`
}

// OrderLookup is the per-order ordered list of page descriptors. A primary
// may appear in multiple descriptors (multi-page primaries); the logical
// set for that primary is their concatenation (spec §3).
type OrderLookup struct {
	Order sixindex.Order   `json:"order"`
	Pages []PageDescriptor `json:"pages"`
}

// CompressionConfig names the codec and level used when writing new pages.
type CompressionConfig struct {
	Codec Codec `json:"codec"`
	Level int   `json:"level,omitempty"`
}

// Manifest is the atomically-published metadata document (spec §6).
type Manifest struct {
	Version     int                 `json:"version"`
	PageSize    int                 `json:"pageSize"`
	CreatedAt   int64               `json:"createdAt"`
	Compression CompressionConfig   `json:"compression"`
	Lookups     [6]OrderLookup      `json:"lookups"`
	Epoch       uint64              `json:"epoch"`
	Tombstones  [][3]uint32         `json:"tombstones,omitempty"`
	Orphans     []string            `json:"orphans,omitempty"`
}

// NewManifest returns an empty manifest at epoch 0 for a freshly
// initialized database.
func NewManifest(pageSize int, compression CompressionConfig, createdAt int64) *Manifest {
	m := &Manifest{
		Version:     1,
		PageSize:    pageSize,
		CreatedAt:   createdAt,
		Compression: compression,
	}
	for o := sixindex.SPO; o <= sixindex.OPS; o++ {
		m.Lookups[o] = OrderLookup{Order: o}
	}
	return m
}

// Lookup returns the page list for the given order.
func (m *Manifest) Lookup(order sixindex.Order) []PageDescriptor {
	return m.Lookups[order].Pages
}

// DescriptorsForPrimary binary-searches the order's lookup array (sorted by
// PrimaryValue, then append order for multi-page primaries) and returns
// every descriptor whose PrimaryValue equals primary.
func (m *Manifest) DescriptorsForPrimary(order sixindex.Order, primary uint32) []PageDescriptor {
	pages := m.Lookups[order].Pages
	lo := sort.Search(len(pages), func(i int) bool { return pages[i].PrimaryValue >= primary })
	var out []PageDescriptor
	for i := lo; i < len(pages) && pages[i].PrimaryValue == primary; i++ {
		out = append(out, pages[i])
	}
	return out
}

// AppendDescriptors appends new page descriptors for order, keeping the
// array sorted by PrimaryValue (stable with respect to existing entries so
// multi-page primaries' page order - spec's required append order - is
// preserved).
func (m *Manifest) AppendDescriptors(order sixindex.Order, descs []PageDescriptor) {
	l := &m.Lookups[order]
	l.Pages = append(l.Pages, descs...)
	sort.SliceStable(l.Pages, func(i, j int) bool {
		return l.Pages[i].PrimaryValue < l.Pages[j].PrimaryValue
	})
}

// ReplaceOrder swaps in a wholly new page list for order (used by rewrite
// compaction).
func (m *Manifest) ReplaceOrder(order sixindex.Order, descs []PageDescriptor) {
	m.Lookups[order] = OrderLookup{Order: order, Pages: descs}
}

// manifestFileName is the on-disk name of the manifest inside the pages
// directory, per spec §6.
const manifestFileName = "manifest.json"

// ManifestPath returns the manifest path for the pages directory at dir.
func ManifestPath(dir string) string {
	return filepath.Join(dir, manifestFileName)
}

// LoadManifest reads and decodes the manifest at dir. Returns CodeStorage
// (via the caller, who wraps this) style errors on missing/corrupt files.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(dir))
	if err != nil {
		return nil, fmt.Errorf("pagestore: reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("pagestore: decoding manifest: %w", err)
	}
	return &m, nil
}

// Save writes m atomically: encode to a tmp file in dir, fsync it, rename
// over the published manifest, then fsync the directory. The caller must
// have already incremented m.Epoch; a successful return is the publish
// point (spec §3 invariant).
func (m *Manifest) Save(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("pagestore: encoding manifest: %w", err)
	}
	tmp := ManifestPath(dir) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("pagestore: creating manifest tmp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("pagestore: writing manifest tmp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("pagestore: fsyncing manifest tmp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("pagestore: closing manifest tmp file: %w", err)
	}
	if err := os.Rename(tmp, ManifestPath(dir)); err != nil {
		return fmt.Errorf("pagestore: renaming manifest into place: %w", err)
	}
	if dirF, err := os.Open(dir); err == nil {
		_ = dirF.Sync()
		_ = dirF.Close()
	}
	return nil
}

// InitializeIfMissing creates an empty manifest and directory layout at dir
// if no manifest yet exists (spec §4.1's initializeIfMissing, applied here
// to the pages directory rather than the single container file).
func InitializeIfMissing(dir string, pageSize int, compression CompressionConfig, createdAt int64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pagestore: creating pages dir: %w", err)
	}
	if _, err := os.Stat(ManifestPath(dir)); err == nil {
		return nil
	}
	m := NewManifest(pageSize, compression, createdAt)
	return m.Save(dir)
}

// OrderFileName returns the page file name for order, per spec §6
// ("SPO.pages", ..., "OPS.pages").
func OrderFileName(order sixindex.Order) string {
	return order.String() + ".pages"
}

// OrderFilePath returns the full path to order's page file inside dir.
func OrderFilePath(dir string, order sixindex.Order) string {
	return filepath.Join(dir, OrderFileName(order))
}
