package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the pipeline's Prometheus instruments. Construct one per
// process and pass it down.
type Collector struct {
	DocumentsIngested  prometheus.Counter
	DuplicatesSkipped  prometheus.Counter
	IngestFailures     prometheus.Counter
	ExtractionOutcomes *prometheus.CounterVec
	ArchiveEntries     *prometheus.CounterVec
	ChunkSessions      prometheus.Gauge
	ArchiveJobsActive  prometheus.Gauge
	ReaperBytesFreed   prometheus.Counter
}

// NewCollector registers on the default registry, which /metrics serves.
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer)
}

// NewCollectorWith registers every instrument on reg.
func NewCollectorWith(reg prometheus.Registerer) *Collector {
	auto := promauto.With(reg)
	return &Collector{
		DocumentsIngested: auto.NewCounter(prometheus.CounterOpts{
			Name: "labpipe_documents_ingested_total",
			Help: "Documents accepted by any upload path",
		}),
		DuplicatesSkipped: auto.NewCounter(prometheus.CounterOpts{
			Name: "labpipe_duplicates_skipped_total",
			Help: "Uploads skipped because the content hash was already known",
		}),
		IngestFailures: auto.NewCounter(prometheus.CounterOpts{
			Name: "labpipe_ingest_failures_total",
			Help: "Per-file ingestion failures (storage or DB errors)",
		}),
		ExtractionOutcomes: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "labpipe_extraction_outcomes_total",
			Help: "Terminal extraction outcomes by status and provider",
		}, []string{"status", "provider"}),
		ArchiveEntries: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "labpipe_archive_entries_total",
			Help: "Archive entries processed by result",
		}, []string{"result"}), // uploaded, duplicate, failed, skipped
		ChunkSessions: auto.NewGauge(prometheus.GaugeOpts{
			Name: "labpipe_chunk_sessions",
			Help: "Live chunked-upload sessions",
		}),
		ArchiveJobsActive: auto.NewGauge(prometheus.GaugeOpts{
			Name: "labpipe_archive_jobs_active",
			Help: "Archive jobs not yet complete",
		}),
		ReaperBytesFreed: auto.NewCounter(prometheus.CounterOpts{
			Name: "labpipe_reaper_bytes_freed_total",
			Help: "Bytes reclaimed by the temp resource reaper",
		}),
	}
}
