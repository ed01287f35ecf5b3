package pagestore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/synapsedb/synapsedb/internal/mmap"
	"github.com/synapsedb/synapsedb/internal/sixindex"
	"github.com/synapsedb/synapsedb/internal/triple"
)

const tripleEncodedSize = 12 // three little-endian u32s

// Writer appends pages to a single order's page file. Page files are
// append-only within one epoch (spec §4.6); compaction produces a new file
// and swaps it in via the manifest instead of mutating this one in place.
type Writer struct {
	order sixindex.Order
	f     *os.File
	pos   int64
}

// OpenWriter opens (creating if necessary) the page file for order at path,
// positioned for appending.
func OpenWriter(path string, order sixindex.Order) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pagestore: opening %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{order: order, f: f, pos: fi.Size()}, nil
}

// Close fsyncs and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// encodePage sorts triples by the order's full tuple and serializes them as
// 12-byte little-endian records in that order's field permutation.
func encodePage(order sixindex.Order, triples []triple.Triple) []byte {
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
	buf := make([]byte, len(sorted)*tripleEncodedSize)
	for i, t := range sorted {
		a, b, c := order.Fields(t)
		off := i * tripleEncodedSize
		binary.LittleEndian.PutUint32(buf[off:], a)
		binary.LittleEndian.PutUint32(buf[off+4:], b)
		binary.LittleEndian.PutUint32(buf[off+8:], c)
	}
	return buf
}

// WritePage appends one page containing triples (all sharing primaryValue
// under w's order) and returns its descriptor. Callers are responsible for
// page-size / primary-change splitting (see WriteRuns).
func (w *Writer) WritePage(primaryValue uint32, triples []triple.Triple, codec Codec, level int) (PageDescriptor, error) {
	raw := encodePage(w.order, triples)
	compressed, err := Compress(codec, level, raw)
	if err != nil {
		return PageDescriptor{}, err
	}
	sum := crc32.ChecksumIEEE(compressed)
	n, err := w.f.Write(compressed)
	if err != nil {
		return PageDescriptor{}, fmt.Errorf("pagestore: writing page: %w", err)
	}
	desc := PageDescriptor{
		PrimaryValue: primaryValue,
		Offset:       w.pos,
		Length:       int64(n),
		RawLength:    int64(len(raw)),
		CRC32:        sum,
	}
	w.pos += int64(n)
	return desc, nil
}

// WriteRuns splits triples (already grouped by primary, any internal order)
// into pages of at most maxTriplesPerPage entries, starting a new page on
// every primary change or threshold crossing (spec §4.6).
func WriteRuns(w *Writer, order sixindex.Order, triples []triple.Triple, maxTriplesPerPage int, codec Codec, level int) ([]PageDescriptor, error) {
	if len(triples) == 0 {
		return nil, nil
	}
	sorted := make([]triple.Triple, len(triples))
	copy(sorted, triples)
	sort.Slice(sorted, func(i, j int) bool { return order.Primary(sorted[i]) < order.Primary(sorted[j]) })

	var descs []PageDescriptor
	i := 0
	for i < len(sorted) {
		primary := order.Primary(sorted[i])
		j := i
		for j < len(sorted) && order.Primary(sorted[j]) == primary && j-i < maxTriplesPerPage {
			j++
		}
		desc, err := w.WritePage(primary, sorted[i:j], codec, level)
		if err != nil {
			return nil, err
		}
		descs = append(descs, desc)
		i = j
	}
	return descs, nil
}

// Reader serves primary-keyed page lookups against an order's page file,
// using mmap when available and falling back to offset reads otherwise.
type Reader struct {
	order    sixindex.Order
	path     string
	f        *os.File
	mm       *mmap.Map
	fallback bool
}

// OpenReader opens order's page file at path for reading.
func OpenReader(path string, order sixindex.Order) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pagestore: opening %s: %w", path, err)
	}
	r := &Reader{order: order, path: path, f: f}
	if m, err := mmap.MapFile(path, false); err == nil {
		r.mm = m
	} else {
		r.fallback = true
	}
	return r, nil
}

// Close releases the reader's file handles.
func (r *Reader) Close() error {
	if r.mm != nil {
		_ = r.mm.Close()
	}
	return r.f.Close()
}

// ReadPage reads, decompresses and CRC-verifies the page named by desc,
// returning its decoded triples. A CRC mismatch surfaces as an error; the
// caller (spec §4.6) must not silently drop the page's contribution.
func (r *Reader) ReadPage(desc PageDescriptor, codec Codec) ([]triple.Triple, error) {
	compressed, err := r.readRange(desc.Offset, desc.Length)
	if err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(compressed) != desc.CRC32 {
		return nil, fmt.Errorf("pagestore: crc32 mismatch at offset %d in %s", desc.Offset, r.path)
	}
	raw, err := Decompress(codec, compressed, int(desc.RawLength))
	if err != nil {
		return nil, err
	}
	if len(raw)%tripleEncodedSize != 0 {
		return nil, fmt.Errorf("pagestore: page at offset %d has truncated trailing record", desc.Offset)
	}
	n := len(raw) / tripleEncodedSize
	out := make([]triple.Triple, n)
	for i := 0; i < n; i++ {
		off := i * tripleEncodedSize
		a := binary.LittleEndian.Uint32(raw[off:])
		b := binary.LittleEndian.Uint32(raw[off+4:])
		c := binary.LittleEndian.Uint32(raw[off+8:])
		out[i] = r.order.Decode(a, b, c)
	}
	return out, nil
}

func (r *Reader) readRange(offset, length int64) ([]byte, error) {
	if !r.fallback && r.mm != nil {
		data := r.mm.Data()
		if offset < 0 || offset+length > int64(len(data)) {
			return nil, fmt.Errorf("pagestore: page range [%d,%d) out of bounds (file %d bytes)", offset, offset+length, len(data))
		}
		return data[offset : offset+length], nil
	}
	buf := make([]byte, length)
	if _, err := r.f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("pagestore: reading page range: %w", err)
	}
	return buf, nil
}

// ReadPrimary reads and concatenates every page for primary, deduplicating
// triples that appear in more than one page (spec §4.6 read-path ordering).
func (r *Reader) ReadPrimary(descs []PageDescriptor, codec Codec) ([]triple.Triple, error) {
	seen := make(map[triple.Triple]struct{})
	var out []triple.Triple
	for _, d := range descs {
		triples, err := r.ReadPage(d, codec)
		if err != nil {
			return nil, err
		}
		for _, t := range triples {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out, nil
}
