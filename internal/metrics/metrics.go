// Package metrics provides Prometheus metrics for vexroute.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vexroute"

var (
	// BuildDuration tracks offline build phases (partition, index, publish).
	BuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of offline build phases in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"phase"}, // phase: partition/index/publish
	)

	// PartitionIterations records how many Lloyd iterations the last partition ran.
	PartitionIterations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partition_iterations",
			Help:      "Lloyd iterations executed by the last partition run",
		},
	)

	// ClusterSizes tracks the distribution of cluster sizes of built indexes.
	ClusterSizes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cluster_size_vectors",
			Help:      "Number of vectors per cluster in built indexes",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
		},
	)

	// EmptyClusters tracks the number of zero-member clusters in the last built index.
	EmptyClusters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "empty_clusters",
			Help:      "Number of empty clusters in the last built index",
		},
	)

	// QueriesTotal tracks total queries executed.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total queries executed",
		},
		[]string{"router", "status"}, // status: success/error
	)

	// QueryLatency tracks query execution latency.
	QueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_seconds",
			Help:      "Query execution latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		},
		[]string{"router"},
	)

	// CandidatesScanned tracks vectors whose distance was computed at query time.
	CandidatesScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_scanned_total",
			Help:      "Total vectors scanned inside probed clusters",
		},
		[]string{"router"},
	)

	// EmptyClusterProbes tracks probes that landed on a cluster with no members.
	EmptyClusterProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_cluster_probes_total",
			Help:      "Total probes of clusters with zero members",
		},
		[]string{"router"},
	)

	// Recall tracks the mean Recall@k of the last evaluation run.
	Recall = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recall_at_k",
			Help:      "Mean Recall@k of the last evaluation run",
		},
		[]string{"router"},
	)

	// MRR tracks the mean MRR@k of the last evaluation run.
	MRR = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mrr_at_k",
			Help:      "Mean MRR@k of the last evaluation run",
		},
		[]string{"router"},
	)

	// ObjectStoreOps tracks object store operations.
	ObjectStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objectstore_ops_total",
			Help:      "Total object store operations",
		},
		[]string{"operation", "status"}, // operation: get/put/delete/list, status: success/error
	)

	// ObjectStoreLatency tracks object store operation latency.
	ObjectStoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "objectstore_latency_seconds",
			Help:      "Object store operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveBuildPhase records the duration of an offline build phase.
func ObserveBuildPhase(phase string, seconds float64) {
	BuildDuration.WithLabelValues(phase).Observe(seconds)
}

// ObservePartition records the shape of a finished partition.
func ObservePartition(iterations int, sizes []int) {
	PartitionIterations.Set(float64(iterations))
	empty := 0
	for _, s := range sizes {
		ClusterSizes.Observe(float64(s))
		if s == 0 {
			empty++
		}
	}
	EmptyClusters.Set(float64(empty))
}

// ObserveQuery records a query execution.
func ObserveQuery(router string, latencySeconds float64, scanned, emptyProbes int, err error) {
	QueriesTotal.WithLabelValues(router, status(err)).Inc()
	QueryLatency.WithLabelValues(router).Observe(latencySeconds)
	if scanned > 0 {
		CandidatesScanned.WithLabelValues(router).Add(float64(scanned))
	}
	if emptyProbes > 0 {
		EmptyClusterProbes.WithLabelValues(router).Add(float64(emptyProbes))
	}
}

// SetEvaluation publishes the aggregate metrics of an evaluation run.
func SetEvaluation(router string, recall, mrr float64) {
	Recall.WithLabelValues(router).Set(recall)
	MRR.WithLabelValues(router).Set(mrr)
}

// ObserveObjectStoreOp records an object store operation.
func ObserveObjectStoreOp(operation string, latencySeconds float64, err error) {
	ObjectStoreOps.WithLabelValues(operation, status(err)).Inc()
	ObjectStoreLatency.WithLabelValues(operation).Observe(latencySeconds)
}
