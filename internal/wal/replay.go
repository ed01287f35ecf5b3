package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"

	"github.com/synapsedb/synapsedb/internal/props"
)

// TxMeta names one committed (outermost) transaction discovered during
// replay, for registration in the tx-id registry (spec §4.9 / C9).
type TxMeta struct {
	TxID      string
	SessionID string
}

// ReplayResult is the outcome of replaying a WAL file (spec §4.8 step 4).
type ReplayResult struct {
	// Applied holds every Effect belonging to a batch that reached an
	// outermost Commit record, plus every implicit (non-batched) mutation
	// record, in file order.
	Applied []Effect
	// CommittedTx lists the outermost batches that committed and carried a
	// txId, for idempotent replay registration.
	CommittedTx []TxMeta
	// SafeOffset is the file offset immediately after the last fully valid
	// record; replay stops there on EOF, short read, or checksum mismatch,
	// treating the remainder as a torn write from a crash mid-append.
	SafeOffset int64
}

// rawRecord is one WAL record as read off disk before interpretation.
type rawRecord struct {
	tag     uint8
	payload []byte
}

// Replay scans the WAL file at path from its header to the first invalid
// record (or EOF) and reconstructs the effects of every batch that reached
// an outermost commit, skipping batches already known (knownTxIDs) so that
// replaying an already-applied WAL segment is a no-op (spec §8 property 8).
func Replay(path string, knownTxIDs map[string]bool) (ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("wal: opening %s for replay: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(br, hdr); err != nil {
		// A WAL shorter than its header is not an error; there is nothing to
		// replay. A missing file is reported by os.Open above.
		return ReplayResult{SafeOffset: 0}, nil
	}
	if err := validateHeader(hdr); err != nil {
		return ReplayResult{}, err
	}

	var (
		offset     int64 = headerSize
		safeOffset int64 = headerSize
		stack      []*frame
		result     ReplayResult
	)

	for {
		rec, n, err := readRecord(br)
		if err != nil {
			if err == io.EOF {
				break
			}
			// Short read or checksum mismatch mid-record: the tail is torn.
			// Everything before this record remains safe.
			break
		}
		switch rec.tag {
		case tagBegin:
			opts, perr := parseBegin(rec.payload)
			if perr != nil {
				break
			}
			stack = append(stack, &frame{opts: opts})
		case tagCommit:
			if len(stack) == 0 {
				// Commit with no matching Begin: corrupt interleaving, stop here.
				goto done
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				if top.opts.TxID == "" || !knownTxIDs[top.opts.TxID] {
					result.Applied = append(result.Applied, top.effects...)
					if top.opts.TxID != "" {
						result.CommittedTx = append(result.CommittedTx, TxMeta{TxID: top.opts.TxID, SessionID: top.opts.SessionID})
					}
				}
			} else {
				parent := stack[len(stack)-1]
				parent.effects = append(parent.effects, top.effects...)
			}
		case tagAbort:
			if len(stack) == 0 {
				goto done
			}
			stack = stack[:len(stack)-1]
		case tagAddTriple, tagDeleteTriple, tagSetNodeProps, tagSetEdgeProps:
			eff, perr := parseMutation(rec.tag, rec.payload)
			if perr != nil {
				break
			}
			if len(stack) > 0 {
				stack[len(stack)-1].effects = append(stack[len(stack)-1].effects, eff)
			} else {
				result.Applied = append(result.Applied, eff)
			}
		}
		offset += n
		safeOffset = offset
	}
done:
	result.SafeOffset = safeOffset
	return result, nil
}

// readRecord reads one tag+length+checksum+payload record, verifying the
// modular-sum checksum (spec §6 - distinct from the page store's crc32).
func readRecord(br *bufio.Reader) (rawRecord, int64, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return rawRecord{}, 0, err
	}
	tag := hdr[0]
	length := binary.LittleEndian.Uint32(hdr[1:5])
	wantSum := binary.LittleEndian.Uint32(hdr[5:9])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(br, payload); err != nil {
			return rawRecord{}, 0, err
		}
	}
	if checksum(payload) != wantSum {
		return rawRecord{}, 0, fmt.Errorf("wal: checksum mismatch")
	}
	return rawRecord{tag: tag, payload: payload}, int64(9 + len(payload)), nil
}

func parseBegin(payload []byte) (BeginOpts, error) {
	if len(payload) < 1 {
		return BeginOpts{}, fmt.Errorf("wal: truncated begin record")
	}
	mask := payload[0]
	r := bufio.NewReader(sliceReader(payload[1:]))
	var opts BeginOpts
	if mask&beginMaskHasTxID != 0 {
		s, err := readLPStr(r)
		if err != nil {
			return BeginOpts{}, err
		}
		opts.TxID = s
	}
	if mask&beginMaskHasSession != 0 {
		s, err := readLPStr(r)
		if err != nil {
			return BeginOpts{}, err
		}
		opts.SessionID = s
	}
	return opts, nil
}

func parseMutation(tag uint8, payload []byte) (Effect, error) {
	r := bufio.NewReader(sliceReader(payload))
	switch tag {
	case tagAddTriple, tagDeleteTriple:
		s, err := readLPStr(r)
		if err != nil {
			return Effect{}, err
		}
		p, err := readLPStr(r)
		if err != nil {
			return Effect{}, err
		}
		o, err := readLPStr(r)
		if err != nil {
			return Effect{}, err
		}
		kind := EffectAdd
		if tag == tagDeleteTriple {
			kind = EffectDelete
		}
		return Effect{Kind: kind, RawSubject: s, RawPredicate: p, RawObject: o}, nil
	case tagSetNodeProps:
		var idBuf [4]byte
		if _, err := io.ReadFull(r, idBuf[:]); err != nil {
			return Effect{}, err
		}
		nodeID := binary.LittleEndian.Uint32(idBuf[:])
		j, err := readLPBytes(r)
		if err != nil {
			return Effect{}, err
		}
		m, err := decodePropsJSON(j)
		if err != nil {
			return Effect{}, err
		}
		return Effect{Kind: EffectSetNodeProps, NodeID: nodeID, NodeProps: m}, nil
	case tagSetEdgeProps:
		var keyBuf [12]byte
		if _, err := io.ReadFull(r, keyBuf[:]); err != nil {
			return Effect{}, err
		}
		key := props.EdgeKey{
			S: binary.LittleEndian.Uint32(keyBuf[0:4]),
			P: binary.LittleEndian.Uint32(keyBuf[4:8]),
			O: binary.LittleEndian.Uint32(keyBuf[8:12]),
		}
		j, err := readLPBytes(r)
		if err != nil {
			return Effect{}, err
		}
		m, err := decodePropsJSON(j)
		if err != nil {
			return Effect{}, err
		}
		return Effect{Kind: EffectSetEdgeProps, EdgeKey: key, EdgeProps: m}, nil
	default:
		return Effect{}, fmt.Errorf("wal: unknown record tag 0x%02x", tag)
	}
}

func readLPBytes(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func decodePropsJSON(j []byte) (props.Map, error) {
	var plain map[string]any
	if err := json.Unmarshal(j, &plain); err != nil {
		return nil, err
	}
	m := make(props.Map, len(plain))
	for k, v := range plain {
		m[k] = props.FromAny(v)
	}
	return m, nil
}

type sliceReaderT struct {
	b []byte
	i int
}

func sliceReader(b []byte) *sliceReaderT { return &sliceReaderT{b: b} }

func (s *sliceReaderT) Read(p []byte) (int, error) {
	if s.i >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.i:])
	s.i += n
	return n, nil
}
