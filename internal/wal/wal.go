// Package wal implements the write-ahead log writer and replayer (spec
// §4.8): the nested-batch stack, tagged record wire format (spec §6), and
// the crash-recovery replay algorithm with txId-based idempotent skip.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"

	"github.com/synapsedb/synapsedb/internal/props"
	"github.com/synapsedb/synapsedb/internal/triple"
)

// magic and version form the 10-byte file prefix (spec §6).
var magic = [6]byte{'S', 'Y', 'N', 'W', 'A', 'L'}

const version uint32 = 2

// headerSize is the fixed WAL header length; Reset rewrites the file back
// to exactly this length (spec §8 property 7).
const headerSize = 12 // 6 magic + 4 version + 2 reserved

// Record type tags, per spec §6.
const (
	tagAddTriple     uint8 = 0x10
	tagDeleteTriple  uint8 = 0x20
	tagSetNodeProps  uint8 = 0x30
	tagSetEdgeProps  uint8 = 0x31
	tagBegin         uint8 = 0x40
	tagCommit        uint8 = 0x41
	tagAbort         uint8 = 0x42
)

const (
	beginMaskHasTxID     uint8 = 1 << 0
	beginMaskHasSession  uint8 = 1 << 1
)

// EffectKind discriminates the mutation carried by an Effect.
type EffectKind uint8

const (
	EffectAdd EffectKind = iota
	EffectDelete
	EffectSetNodeProps
	EffectSetEdgeProps
)

// Effect is a single staged or replayed mutation. Live-staged effects
// (appended through Writer) carry an already dict-resolved Triple; effects
// reconstructed by Replay carry only the raw strings as they appear on
// disk, since the WAL has no access to the dictionary - the caller applying
// a ReplayResult must resolve RawSubject/RawPredicate/RawObject through its
// own dictionary (getOrCreateId) before indexing.
type Effect struct {
	Kind       EffectKind
	Triple     triple.Triple
	RawSubject string
	RawPredicate string
	RawObject  string
	NodeID     uint32
	NodeProps  props.Map
	EdgeKey    props.EdgeKey
	EdgeProps  props.Map
}

// BeginOpts carries the optional identifiers recorded with a Begin record.
type BeginOpts struct {
	TxID      string
	SessionID string
}

type frame struct {
	opts    BeginOpts
	effects []Effect
}

// CommitResult reports what a CommitBatch call resolved: whether the
// committing frame was the outermost one (in which case Effects must be
// applied to the live stores by the caller) and, if so, the txId (if any)
// to remember in the tx-id registry.
type CommitResult struct {
	Outermost bool
	Effects   []Effect
	TxID      string
}

// Writer manages the WAL file and its in-memory nested-batch stack.
// Writer is not safe for concurrent use; the engine enforces a single
// writer per database (spec §5).
type Writer struct {
	f     *os.File
	stack []*frame
}

// Create initializes a new, empty WAL file at path with the magic header.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: creating %s: %w", path, err)
	}
	w := &Writer{f: f}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Open opens an existing WAL file at path for appending, validating its header.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: opening %s: %w", path, err)
	}
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: reading header: %w", err)
	}
	if err := validateHeader(hdr); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{f: f}, nil
}

func validateHeader(hdr []byte) error {
	if len(hdr) < headerSize {
		return fmt.Errorf("wal: truncated header")
	}
	for i := range magic {
		if hdr[i] != magic[i] {
			return fmt.Errorf("wal: bad magic")
		}
	}
	v := binary.LittleEndian.Uint32(hdr[6:10])
	if v != version {
		return fmt.Errorf("wal: unsupported version %d", v)
	}
	return nil
}

func (w *Writer) writeHeader() error {
	hdr := make([]byte, headerSize)
	copy(hdr[0:6], magic[:])
	binary.LittleEndian.PutUint32(hdr[6:10], version)
	if _, err := w.f.Write(hdr); err != nil {
		return fmt.Errorf("wal: writing header: %w", err)
	}
	return w.f.Sync()
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}

// Reset truncates the WAL back to header-only length (spec §8 property 7),
// called after a successful flush has superseded every pending record.
func (w *Writer) Reset() error {
	if err := w.f.Truncate(headerSize); err != nil {
		return fmt.Errorf("wal: truncating: %w", err)
	}
	if _, err := w.f.Seek(headerSize, io.SeekStart); err != nil {
		return err
	}
	return w.f.Sync()
}

// TruncateTo truncates the file to offset (used by the caller after replay
// to drop a torn tail at a corrupt record's start).
func (w *Writer) TruncateTo(offset int64) error {
	if err := w.f.Truncate(offset); err != nil {
		return err
	}
	_, err := w.f.Seek(offset, io.SeekStart)
	return err
}

// Size returns the current WAL file length.
func (w *Writer) Size() (int64, error) {
	fi, err := w.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// InBatch reports whether a batch is currently open.
func (w *Writer) InBatch() bool {
	return len(w.stack) > 0
}

// Depth returns the current nesting depth.
func (w *Writer) Depth() int {
	return len(w.stack)
}

func checksum(payload []byte) uint32 {
	var s uint32
	for _, b := range payload {
		s += uint32(b)
	}
	return s
}

func lpStr(buf *[]byte, s string) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	*buf = append(*buf, lenBuf[:]...)
	*buf = append(*buf, s...)
}

func readLPStr(r *bufio.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (w *Writer) writeRecord(tag uint8, payload []byte) error {
	var hdr [9]byte
	hdr[0] = tag
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[5:9], checksum(payload))
	if _, err := w.f.Write(hdr[:]); err != nil {
		return fmt.Errorf("wal: writing record header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.f.Write(payload); err != nil {
			return fmt.Errorf("wal: writing record payload: %w", err)
		}
	}
	return nil
}

func (w *Writer) sync() error {
	return w.f.Sync()
}

func (w *Writer) stage(e Effect) {
	top := w.stack[len(w.stack)-1]
	top.effects = append(top.effects, e)
}

// appendMutation writes a data record to the WAL and, if a batch is open,
// stages its Effect onto the top frame. It returns staged=true when the
// caller must NOT apply the mutation itself (because it is only visible
// once the owning batch's outermost commit lands).
func (w *Writer) appendMutation(tag uint8, payload []byte, e Effect) (staged bool, err error) {
	if err := w.writeRecord(tag, payload); err != nil {
		return false, err
	}
	if w.InBatch() {
		w.stage(e)
		return true, nil
	}
	return false, nil
}

// AppendAddEncoded appends an addTriple record for an already dict-resolved
// triple (the orchestrator resolves strings to ids before staging so that
// staged effects compose cheaply across nested frames).
func (w *Writer) AppendAddEncoded(sStr, pStr, oStr string, t triple.Triple) (bool, error) {
	var payload []byte
	lpStr(&payload, sStr)
	lpStr(&payload, pStr)
	lpStr(&payload, oStr)
	return w.appendMutation(tagAddTriple, payload, Effect{Kind: EffectAdd, Triple: t})
}

// AppendDeleteEncoded appends a deleteTriple record.
func (w *Writer) AppendDeleteEncoded(sStr, pStr, oStr string, t triple.Triple) (bool, error) {
	var payload []byte
	lpStr(&payload, sStr)
	lpStr(&payload, pStr)
	lpStr(&payload, oStr)
	return w.appendMutation(tagDeleteTriple, payload, Effect{Kind: EffectDelete, Triple: t})
}

// AppendSetNodeProps appends a setNodeProps record.
func (w *Writer) AppendSetNodeProps(nodeID uint32, m props.Map) (bool, error) {
	plain := make(map[string]any, len(m))
	for k, v := range m {
		plain[k] = v.ToAny()
	}
	j, err := json.Marshal(plain)
	if err != nil {
		return false, err
	}
	payload := make([]byte, 4, 8+len(j))
	binary.LittleEndian.PutUint32(payload, nodeID)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(j)))
	payload = append(payload, lenBuf[:]...)
	payload = append(payload, j...)
	return w.appendMutation(tagSetNodeProps, payload, Effect{Kind: EffectSetNodeProps, NodeID: nodeID, NodeProps: m})
}

// AppendSetEdgeProps appends a setEdgeProps record.
func (w *Writer) AppendSetEdgeProps(key props.EdgeKey, m props.Map) (bool, error) {
	plain := make(map[string]any, len(m))
	for k, v := range m {
		plain[k] = v.ToAny()
	}
	j, err := json.Marshal(plain)
	if err != nil {
		return false, err
	}
	payload := make([]byte, 12, 16+len(j))
	binary.LittleEndian.PutUint32(payload[0:4], key.S)
	binary.LittleEndian.PutUint32(payload[4:8], key.P)
	binary.LittleEndian.PutUint32(payload[8:12], key.O)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(j)))
	payload = append(payload, lenBuf[:]...)
	payload = append(payload, j...)
	return w.appendMutation(tagSetEdgeProps, payload, Effect{Kind: EffectSetEdgeProps, EdgeKey: key, EdgeProps: m})
}

// BeginBatch writes a Begin record and pushes a new frame onto the tx stack.
func (w *Writer) BeginBatch(opts BeginOpts) error {
	var payload []byte
	var mask uint8
	if opts.TxID != "" {
		mask |= beginMaskHasTxID
	}
	if opts.SessionID != "" {
		mask |= beginMaskHasSession
	}
	payload = append(payload, mask)
	if opts.TxID != "" {
		lpStr(&payload, opts.TxID)
	}
	if opts.SessionID != "" {
		lpStr(&payload, opts.SessionID)
	}
	if err := w.writeRecord(tagBegin, payload); err != nil {
		return err
	}
	w.stack = append(w.stack, &frame{opts: opts})
	return nil
}

// CommitBatch writes a Commit record and pops the top frame. If durable,
// the write is fsync'd before returning (spec §4.8 durability levels). If
// the popped frame was outermost, its effects (merged with nothing further)
// are returned for the caller to apply; otherwise they are merged into the
// new top frame and Outermost is false.
func (w *Writer) CommitBatch(durable bool) (CommitResult, error) {
	if len(w.stack) == 0 {
		return CommitResult{}, fmt.Errorf("wal: commitBatch with no open batch")
	}
	if err := w.writeRecord(tagCommit, nil); err != nil {
		return CommitResult{}, err
	}
	if durable {
		if err := w.sync(); err != nil {
			return CommitResult{}, err
		}
	}
	top := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	if len(w.stack) == 0 {
		return CommitResult{Outermost: true, Effects: top.effects, TxID: top.opts.TxID}, nil
	}
	parent := w.stack[len(w.stack)-1]
	parent.effects = append(parent.effects, top.effects...)
	return CommitResult{Outermost: false}, nil
}

// AbortBatch writes an Abort record and discards the top frame. No effects
// from this frame (or any of its descendants already merged into it) ever
// reach the live stores.
func (w *Writer) AbortBatch() error {
	if len(w.stack) == 0 {
		return fmt.Errorf("wal: abortBatch with no open batch")
	}
	if err := w.writeRecord(tagAbort, nil); err != nil {
		return err
	}
	w.stack = w.stack[:len(w.stack)-1]
	return nil
}
