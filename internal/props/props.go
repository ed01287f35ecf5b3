// Package props implements the node/edge property store (spec §4.4) and
// its value-inverted index (spec §4.7).
package props

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	json "github.com/goccy/go-json"
)

// EdgeKey identifies a property map attached to a specific triple.
type EdgeKey struct {
	S, P, O uint32
}

// Map is a property map: key -> value, with no schema. Overwriting a key
// replaces its value wholesale; SetNodeProperties/SetEdgeProperties
// replace the entire map, never merge.
type Map map[string]Value

// Store holds node-id -> Map and edge-key -> Map tables.
type Store struct {
	mu    sync.RWMutex
	nodes map[uint32]Map
	edges map[EdgeKey]Map
}

// New returns an empty property store.
func New() *Store {
	return &Store{
		nodes: make(map[uint32]Map),
		edges: make(map[EdgeKey]Map),
	}
}

// SetNodeProperties replaces the whole property map for nodeID.
func (s *Store) SetNodeProperties(nodeID uint32, m Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[nodeID] = m
}

// SetEdgeProperties replaces the whole property map for the triple key.
func (s *Store) SetEdgeProperties(key EdgeKey, m Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[key] = m
}

// GetNodeProperties returns the property map for nodeID, if any.
func (s *Store) GetNodeProperties(nodeID uint32) (Map, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.nodes[nodeID]
	return m, ok
}

// GetEdgeProperties returns the property map for the triple key, if any.
func (s *Store) GetEdgeProperties(key EdgeKey) (Map, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.edges[key]
	return m, ok
}

// AllNodes returns a snapshot of every nodeID -> Map entry.
func (s *Store) AllNodes() map[uint32]Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint32]Map, len(s.nodes))
	for k, v := range s.nodes {
		out[k] = v
	}
	return out
}

// AllEdges returns a snapshot of every EdgeKey -> Map entry.
func (s *Store) AllEdges() map[EdgeKey]Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[EdgeKey]Map, len(s.edges))
	for k, v := range s.edges {
		out[k] = v
	}
	return out
}

// wire record tags for the length-prefixed serialization below.
const (
	recNode uint8 = 1
	recEdge uint8 = 2
)

// Serialize writes every entry as a tagged, length-prefixed JSON record.
func (s *Store) Serialize(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bw := bufio.NewWriter(w)
	for id, m := range s.nodes {
		if err := writeNodeRecord(bw, id, m); err != nil {
			return err
		}
	}
	for key, m := range s.edges {
		if err := writeEdgeRecord(bw, key, m); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeNodeRecord(w *bufio.Writer, id uint32, m Map) error {
	payload, err := marshalMap(m)
	if err != nil {
		return err
	}
	var hdr [9]byte
	hdr[0] = recNode
	binary.LittleEndian.PutUint32(hdr[1:5], id)
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func writeEdgeRecord(w *bufio.Writer, key EdgeKey, m Map) error {
	payload, err := marshalMap(m)
	if err != nil {
		return err
	}
	var hdr [17]byte
	hdr[0] = recEdge
	binary.LittleEndian.PutUint32(hdr[1:5], key.S)
	binary.LittleEndian.PutUint32(hdr[5:9], key.P)
	binary.LittleEndian.PutUint32(hdr[9:13], key.O)
	binary.LittleEndian.PutUint32(hdr[13:17], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func marshalMap(m Map) ([]byte, error) {
	plain := make(map[string]any, len(m))
	for k, v := range m {
		plain[k] = v.ToAny()
	}
	return json.Marshal(plain)
}

func unmarshalMap(payload []byte) (Map, error) {
	var plain map[string]any
	if err := json.Unmarshal(payload, &plain); err != nil {
		return nil, err
	}
	m := make(Map, len(plain))
	for k, v := range plain {
		m[k] = FromAny(v)
	}
	return m, nil
}

// Deserialize replaces the store's contents from a stream of tagged
// length-prefixed JSON records written by Serialize.
func (s *Store) Deserialize(r io.Reader) error {
	br := bufio.NewReader(r)
	nodes := make(map[uint32]Map)
	edges := make(map[EdgeKey]Map)
	for {
		tag, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch tag {
		case recNode:
			var idBuf, lenBuf [4]byte
			if _, err := io.ReadFull(br, idBuf[:]); err != nil {
				return err
			}
			if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
				return err
			}
			id := binary.LittleEndian.Uint32(idBuf[:])
			payload := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
			if _, err := io.ReadFull(br, payload); err != nil {
				return err
			}
			m, err := unmarshalMap(payload)
			if err != nil {
				return fmt.Errorf("props: decoding node %d: %w", id, err)
			}
			nodes[id] = m
		case recEdge:
			var keyBuf [12]byte
			var lenBuf [4]byte
			if _, err := io.ReadFull(br, keyBuf[:]); err != nil {
				return err
			}
			if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
				return err
			}
			key := EdgeKey{
				S: binary.LittleEndian.Uint32(keyBuf[0:4]),
				P: binary.LittleEndian.Uint32(keyBuf[4:8]),
				O: binary.LittleEndian.Uint32(keyBuf[8:12]),
			}
			payload := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
			if _, err := io.ReadFull(br, payload); err != nil {
				return err
			}
			m, err := unmarshalMap(payload)
			if err != nil {
				return fmt.Errorf("props: decoding edge %+v: %w", key, err)
			}
			edges[key] = m
		default:
			return fmt.Errorf("props: unknown record tag %d", tag)
		}
	}
	s.mu.Lock()
	s.nodes = nodes
	s.edges = edges
	s.mu.Unlock()
	return nil
}
