// Package metrics exposes prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RecordsFetchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vayu_records_fetched_total",
		Help: "Total number of records fetched from upstream",
	})

	RecordsWrittenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vayu_records_written_total",
		Help: "Total number of new records committed to datasets",
	})

	DuplicatesRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vayu_duplicates_removed_total",
		Help: "Total number of records dropped by deduplication",
	})

	MalformedRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vayu_malformed_records_total",
		Help: "Total number of upstream records dropped as malformed",
	})

	EntityFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vayu_entity_failures_total",
		Help: "Total number of entity cycles that ended in failure",
	})

	SubSourceFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vayu_sub_source_failures_total",
		Help: "Total number of isolated sub-source fetch failures",
	})

	QualityScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vayu_batch_quality_score",
		Help: "Advisory validation quality score of the last ingested batch per entity",
	}, []string{"entity"})

	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vayu_entity_cycle_duration_seconds",
		Help:    "Time taken to run one entity ingestion cycle",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(
		RecordsFetchedTotal,
		RecordsWrittenTotal,
		DuplicatesRemovedTotal,
		MalformedRecordsTotal,
		EntityFailuresTotal,
		SubSourceFailuresTotal,
		QualityScore,
		CycleDuration,
	)
}
