package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LeadsProcessed tracks per-location poll cycle outcomes
	LeadsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_leads_processed_total",
			Help: "Total number of candidate leads processed, by outcome",
		},
		[]string{"location", "outcome"},
	)

	// DeliveryAttempts tracks individual CRM submissions
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_delivery_attempts_total",
			Help: "Total number of CRM delivery attempts",
		},
		[]string{"tenant", "result"},
	)

	// DeliveryLatency tracks CRM submission latency
	DeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadrelay_delivery_latency_seconds",
			Help:    "CRM delivery latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant"},
	)

	// QueuedFailures tracks the current retry queue depth
	QueuedFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadrelay_queued_failures",
			Help: "Current number of leads awaiting retry",
		},
	)

	// DeadLettersTotal tracks promotions into the dead letter table
	DeadLettersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadrelay_dead_letters_total",
			Help: "Total number of leads promoted to dead letters",
		},
	)

	// DedupHits tracks candidates skipped as already delivered
	DedupHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_dedup_hits_total",
			Help: "Candidates skipped because their fingerprint was already sent",
		},
		[]string{"layer"}, // cache or store
	)

	// SweepDeleted tracks retention sweep removals per table
	SweepDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_sweep_deleted_total",
			Help: "Rows removed by retention sweeps",
		},
		[]string{"table"},
	)

	// SweepErrors tracks failed sweeps per table
	SweepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_sweep_errors_total",
			Help: "Retention sweeps that failed",
		},
		[]string{"table"},
	)

	// SnapshotOps tracks restore/persist outcomes
	SnapshotOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadrelay_snapshot_ops_total",
			Help: "Snapshot restore and persist operations",
		},
		[]string{"op", "result"},
	)

	// CycleDuration tracks whole poll cycle duration
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadrelay_cycle_duration_seconds",
			Help:    "Poll cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)
