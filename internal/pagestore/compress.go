package pagestore

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Codec names a page-body compression scheme (spec §4.6).
type Codec string

const (
	CodecNone   Codec = "none"
	CodecBrotli Codec = "brotli"
)

// Compress encodes raw page bytes with the given codec and level (brotli
// levels range 0-11; ignored for CodecNone).
func Compress(codec Codec, level int, raw []byte) ([]byte, error) {
	switch codec {
	case CodecNone, "":
		return raw, nil
	case CodecBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, level)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("pagestore: brotli compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("pagestore: brotli compress close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("pagestore: unknown codec %q", codec)
	}
}

// Decompress reverses Compress, given the expected raw (uncompressed) length.
func Decompress(codec Codec, compressed []byte, rawLength int) ([]byte, error) {
	switch codec {
	case CodecNone, "":
		return compressed, nil
	case CodecBrotli:
		r := brotli.NewReader(bytes.NewReader(compressed))
		out := make([]byte, rawLength)
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, fmt.Errorf("pagestore: brotli decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("pagestore: unknown codec %q", codec)
	}
}
