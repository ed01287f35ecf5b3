package synapsedb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// containerMagic and containerVersion identify the single-file container
// (spec §4.1 / C1): dictionary, triples, indexes and properties sections
// behind a fixed-offset header. The per-order page files and manifest live
// alongside it in the <name>.synapsedb.pages/ directory (spec §6); this
// container only ever holds the four in-memory-rebuildable sections.
var containerMagic = [8]byte{'S', 'Y', 'N', 'A', 'P', 'S', 'E', '1'}

const containerVersion uint32 = 1

// containerHeaderSize is the fixed header: magic(8) + version(4) + four
// section (offset:u64, length:u64) pairs.
const containerHeaderSize = 8 + 4 + 4*16

// sections holds the four raw byte buffers readStorageFile returns.
type sections struct {
	dictionary []byte
	triples    []byte
	indexes    []byte
	properties []byte
}

// readStorageFile reads and validates the container at path, returning its
// four sections. A missing file is reported as a CodeStorage error; callers
// use initializeIfMissing first.
func readStorageFile(path string) (sections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sections{}, newErr(CodeStorage, "reading container file", err)
	}
	if len(data) < containerHeaderSize {
		return sections{}, ErrCorruptHeader
	}
	if !bytes.Equal(data[0:8], containerMagic[:]) {
		return sections{}, ErrCorruptHeader
	}
	version := binary.LittleEndian.Uint32(data[8:12])
	if version != containerVersion {
		return sections{}, newErr(CodeCompatibility, fmt.Sprintf("unsupported container version %d", version), nil)
	}
	readSection := func(entryOffset int) ([]byte, error) {
		off := binary.LittleEndian.Uint64(data[entryOffset : entryOffset+8])
		length := binary.LittleEndian.Uint64(data[entryOffset+8 : entryOffset+16])
		end := off + length
		if end > uint64(len(data)) || off > end {
			return nil, ErrCorruptHeader
		}
		return data[off:end], nil
	}
	const entriesStart = 12
	dict, err := readSection(entriesStart)
	if err != nil {
		return sections{}, err
	}
	tr, err := readSection(entriesStart + 16)
	if err != nil {
		return sections{}, err
	}
	idx, err := readSection(entriesStart + 32)
	if err != nil {
		return sections{}, err
	}
	props, err := readSection(entriesStart + 48)
	if err != nil {
		return sections{}, err
	}
	return sections{dictionary: dict, triples: tr, indexes: idx, properties: props}, nil
}

// writeStorageFile serializes s to path via tmp+fsync+rename, the atomic
// publish discipline shared with the manifest (internal/pagestore).
func writeStorageFile(path string, s sections) error {
	body := new(bytes.Buffer)
	offsets := make([][2]uint64, 4)
	buffers := [][]byte{s.dictionary, s.triples, s.indexes, s.properties}
	cursor := uint64(containerHeaderSize)
	for i, b := range buffers {
		offsets[i] = [2]uint64{cursor, uint64(len(b))}
		cursor += uint64(len(b))
	}
	for _, b := range buffers {
		body.Write(b)
	}

	header := make([]byte, containerHeaderSize)
	copy(header[0:8], containerMagic[:])
	binary.LittleEndian.PutUint32(header[8:12], containerVersion)
	entry := 12
	for _, off := range offsets {
		binary.LittleEndian.PutUint64(header[entry:entry+8], off[0])
		binary.LittleEndian.PutUint64(header[entry+8:entry+16], off[1])
		entry += 16
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return newErr(CodeStorage, "creating container tmp file", err)
	}
	if _, err := f.Write(header); err != nil {
		f.Close()
		return newErr(CodeStorage, "writing container header", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return newErr(CodeStorage, "writing container body", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return newErr(CodeStorage, "fsyncing container tmp file", err)
	}
	if err := f.Close(); err != nil {
		return newErr(CodeStorage, "closing container tmp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return newErr(CodeStorage, "renaming container into place", err)
	}
	return nil
}

// initializeIfMissing creates an empty container at path if none exists.
func initializeIfMissing(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return newErr(CodeStorage, "statting container file", err)
	}
	return writeStorageFile(path, sections{})
}
