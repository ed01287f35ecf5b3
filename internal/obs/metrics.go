package obs

import "github.com/prometheus/client_golang/prometheus"

// Package-level collectors, grounded on cuemby-warren/pkg/metrics.go's
// NewGauge/NewCounter + init-time MustRegister pattern.
var (
	StagedTriples = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "synapsedb",
		Name:      "staged_triples",
		Help:      "Number of triples staged in the six-order index awaiting flush.",
	})
	WALBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "synapsedb",
		Name:      "wal_bytes",
		Help:      "Current size of the write-ahead log file in bytes.",
	})
	FlushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "synapsedb",
		Name:      "flushes_total",
		Help:      "Total number of completed flush operations.",
	})
	CompactionBytesReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "synapsedb",
		Name:      "compaction_bytes_reclaimed_total",
		Help:      "Total bytes reclaimed by compaction across all orders.",
	})
	ReadersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "synapsedb",
		Name:      "readers_active",
		Help:      "Number of readers currently registered in the reader registry.",
	})
	GCOrphansRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "synapsedb",
		Name:      "gc_orphans_removed_total",
		Help:      "Total number of orphaned page files removed by GC.",
	})
)

func init() {
	prometheus.MustRegister(StagedTriples)
	prometheus.MustRegister(WALBytes)
	prometheus.MustRegister(FlushesTotal)
	prometheus.MustRegister(CompactionBytesReclaimed)
	prometheus.MustRegister(ReadersActive)
	prometheus.MustRegister(GCOrphansRemoved)
}
