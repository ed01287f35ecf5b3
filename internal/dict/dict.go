// Package dict implements the bidirectional string<->u32 id dictionary
// (spec §4.2). Ids are assigned monotonically starting at 1 and are never
// renumbered, even after a string's last referencing triple is deleted.
package dict

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Dictionary is a concurrency-safe, append-only string<->id interner.
type Dictionary struct {
	mu        sync.RWMutex
	byString  map[string]uint32
	byID      []string // byID[id-1] == string for id, 1-indexed
}

// New returns an empty dictionary.
func New() *Dictionary {
	return &Dictionary{
		byString: make(map[string]uint32),
	}
}

// GetOrCreateID returns the existing id for s, allocating the next sequence
// number if s has never been seen.
func (d *Dictionary) GetOrCreateID(s string) uint32 {
	d.mu.RLock()
	if id, ok := d.byString[s]; ok {
		d.mu.RUnlock()
		return id
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byString[s]; ok {
		return id
	}
	d.byID = append(d.byID, s)
	id := uint32(len(d.byID)) // index+1
	d.byString[s] = id
	return id
}

// GetID returns the id for s, if known.
func (d *Dictionary) GetID(s string) (uint32, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byString[s]
	return id, ok
}

// GetValue returns the string for id, if known. Id 0 is always unknown.
func (d *Dictionary) GetValue(id uint32) (string, bool) {
	if id == 0 {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if int(id) > len(d.byID) {
		return "", false
	}
	return d.byID[id-1], true
}

// Size returns the number of distinct strings interned.
func (d *Dictionary) Size() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return uint32(len(d.byID))
}

// Serialize writes every entry in id order as a length-prefixed UTF-8 string.
func (d *Dictionary) Serialize(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	bw := bufio.NewWriter(w)
	var lenBuf [4]byte
	for _, s := range d.byID {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
		if _, err := bw.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := bw.WriteString(s); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Deserialize replaces the dictionary contents by reading length-prefixed
// entries in id order (entry index+1 == id).
func (d *Dictionary) Deserialize(r io.Reader) error {
	br := bufio.NewReader(r)
	byID := make([]string, 0, 1024)
	byString := make(map[string]uint32, 1024)
	var lenBuf [4]byte
	for {
		_, err := io.ReadFull(br, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("dict: reading entry length: %w", err)
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return fmt.Errorf("dict: reading entry value: %w", err)
		}
		s := string(buf)
		byID = append(byID, s)
		byString[s] = uint32(len(byID))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID = byID
	d.byString = byString
	return nil
}
