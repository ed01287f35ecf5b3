package synapsedb

import (
	"os"
	"strconv"

	"github.com/synapsedb/synapsedb/internal/pagestore"
)

// Options configures an Open call. Normally the defaults are best; fields
// can also be overridden via SYNAPSEDB_-prefixed environment variables,
// following the env-override convention the storage-engine ecosystem uses
// for this kind of opts struct.
type Options struct {
	// PageSize is the target triple count per page before a new page
	// starts (spec §4.6).
	PageSize int
	// CompressionCodec names the page compression codec ("none" or
	// "brotli").
	CompressionCodec pagestore.Codec
	// CompressionLevel is the Brotli quality level, ignored for CodecNone.
	CompressionLevel int
	// EnableLock acquires the *.lock writer-exclusivity file on open.
	EnableLock bool
	// EnablePersistentTxDedupe turns on txId-based idempotent replay (spec
	// §4.8's idempotency guarantee requires this).
	EnablePersistentTxDedupe bool
	// MaxRememberTxIds bounds the tx-id registry (spec §3).
	MaxRememberTxIds int
	// ReaderStaleAfterSeconds reclaims a reader registry entry older than
	// this many seconds even if its pid is still alive (spec §4.13).
	ReaderStaleAfterSeconds int
	// LSMMemtableThreshold is the triple count at which the LSM-lite
	// memtable freezes to a segment file (spec §4.11 / C11).
	LSMMemtableThreshold int
	// HotnessHalfLifeSeconds controls the hotness counter's exponential
	// decay (spec §4.12 / C12).
	HotnessHalfLifeSeconds float64
}

const envPrefix = "SYNAPSEDB_"

// DefaultOptions returns the recommended configuration, with any field
// overridable by a SYNAPSEDB_-prefixed environment variable.
func DefaultOptions() Options {
	o := Options{}

	o.PageSize = envInt("PAGE_SIZE", 4096)
	if codec := os.Getenv(envPrefix + "COMPRESSION_CODEC"); codec != "" {
		o.CompressionCodec = pagestore.Codec(codec)
	} else {
		o.CompressionCodec = pagestore.CodecBrotli
	}
	o.CompressionLevel = envInt("COMPRESSION_LEVEL", 5)
	o.EnableLock = envBool("ENABLE_LOCK", true)
	o.EnablePersistentTxDedupe = envBool("ENABLE_PERSISTENT_TX_DEDUPE", true)
	o.MaxRememberTxIds = envInt("MAX_REMEMBER_TX_IDS", 10000)
	o.ReaderStaleAfterSeconds = envInt("READER_STALE_AFTER_SECONDS", 3600)
	o.LSMMemtableThreshold = envInt("LSM_MEMTABLE_THRESHOLD", 4096)
	o.HotnessHalfLifeSeconds = envFloat("HOTNESS_HALF_LIFE_SECONDS", 60)

	return o
}

func envInt(name string, def int) int {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(name string, def float64) float64 {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(name string, def bool) bool {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
