package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tree metrics
	TreesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_trees_started_total",
			Help: "Total number of research trees started",
		},
	)

	TreesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_trees_completed_total",
			Help: "Total number of research trees reaching a terminal status",
		},
		[]string{"status"},
	)

	TreeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inquest_tree_duration_seconds",
			Help:    "Wall-clock duration of a research tree from start to terminal status",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// Node metrics
	NodesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_nodes_processed_total",
			Help: "Total number of nodes reaching a terminal status",
		},
		[]string{"status"},
	)

	NodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inquest_node_duration_seconds",
			Help:    "Node processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	NodesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inquest_nodes_in_flight",
			Help: "Number of nodes currently executing",
		},
	)

	SaturationScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inquest_node_saturation_score",
			Help:    "Saturation score distribution across processed nodes",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	// Level metrics
	LevelDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inquest_level_settle_seconds",
			Help:    "Time for a full tree level to settle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Candidate metrics
	CandidatesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_candidates_accepted_total",
			Help: "Total number of follow-up candidates promoted to nodes",
		},
	)

	CandidatesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_candidates_rejected_total",
			Help: "Total number of follow-up candidates rejected",
		},
		[]string{"reason"},
	)

	// External call metrics
	ExecutorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_executor_calls_total",
			Help: "Total number of research executor calls",
		},
		[]string{"status"},
	)

	ExecutorLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inquest_executor_latency_seconds",
			Help:    "Research executor call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProposerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_proposer_calls_total",
			Help: "Total number of follow-up proposer calls",
		},
		[]string{"status"},
	)

	// Snapshot cache metrics
	SnapshotCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_snapshot_cache_hits_total",
			Help: "Total number of progress snapshot cache hits",
		},
	)

	SnapshotCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_snapshot_cache_misses_total",
			Help: "Total number of progress snapshot cache misses",
		},
	)
)

// RecordTreeMetrics records metrics for a tree reaching a terminal status.
func RecordTreeMetrics(status string, durationSeconds float64) {
	TreesCompleted.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		TreeDuration.Observe(durationSeconds)
	}
}

// RecordNodeMetrics records metrics for a node reaching a terminal status.
func RecordNodeMetrics(status string, durationSeconds float64, saturation float64) {
	NodesProcessed.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		NodeDuration.Observe(durationSeconds)
	}
	if saturation >= 0 {
		SaturationScore.Observe(saturation)
	}
}

// RecordCandidateRejection records a rejected follow-up candidate.
func RecordCandidateRejection(reason string) {
	CandidatesRejected.WithLabelValues(reason).Inc()
}
