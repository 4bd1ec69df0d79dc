// Package metrics registers the Prometheus counters and gauges named by
// spec.md §6, following the teacher's promauto/Namespace/Subsystem
// registration convention.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every metric this adapter emits.
type Metrics struct {
	RowsFetched prometheus.Counter
	RowsStored  prometheus.Counter
	RowsCleared prometheus.Counter

	GroupIndexRowCount   *prometheus.GaugeVec
	SequenceCacheRemain  *prometheus.GaugeVec
	SequenceRefillsTotal prometheus.Counter

	PendingChecksQueued    prometheus.Gauge
	PendingChecksResolved  prometheus.Counter
	TraversalCommitsTotal  prometheus.Counter
	TraversalRowsVisited   prometheus.Counter
}

// New creates and registers the adapter's metrics. instance labels every
// metric so multiple adapter instances in one process (as in tests) don't
// collide on prometheus's default registry.
func New(instance string) *Metrics {
	labels := prometheus.Labels{"instance": instance}

	return &Metrics{
		RowsFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "sqllayer",
			Name:        "rows_fetched_total",
			Help:        "Total rows fetched by the storage adapter",
			ConstLabels: labels,
		}),
		RowsStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "sqllayer",
			Name:        "rows_stored_total",
			Help:        "Total rows stored by the storage adapter",
			ConstLabels: labels,
		}),
		RowsCleared: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "sqllayer",
			Name:        "rows_cleared_total",
			Help:        "Total rows cleared by the storage adapter",
			ConstLabels: labels,
		}),
		GroupIndexRowCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "sqllayer",
			Subsystem:   "group_index",
			Name:        "row_count",
			Help:        "Last-observed row count per group index",
			ConstLabels: labels,
		}, []string{"index"}),
		SequenceCacheRemain: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "sqllayer",
			Subsystem:   "sequence",
			Name:        "cache_remaining",
			Help:        "Raw ticks left in a sequence's in-process cache",
			ConstLabels: labels,
		}, []string{"sequence"}),
		SequenceRefillsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "sqllayer",
			Subsystem:   "sequence",
			Name:        "refills_total",
			Help:        "Total sequence cache refills performed",
			ConstLabels: labels,
		}),
		PendingChecksQueued: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sqllayer",
			Subsystem:   "index_writer",
			Name:        "pending_checks_queued",
			Help:        "Batched uniqueness checks awaiting resolution before commit",
			ConstLabels: labels,
		}),
		PendingChecksResolved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "sqllayer",
			Subsystem:   "index_writer",
			Name:        "pending_checks_resolved_total",
			Help:        "Batched uniqueness checks resolved",
			ConstLabels: labels,
		}),
		TraversalCommitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "sqllayer",
			Subsystem:   "traversal",
			Name:        "commits_total",
			Help:        "Periodic commit-and-reset cycles performed during long traversal",
			ConstLabels: labels,
		}),
		TraversalRowsVisited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "sqllayer",
			Subsystem:   "traversal",
			Name:        "rows_visited_total",
			Help:        "Rows visited by long traversal across all commit cycles",
			ConstLabels: labels,
		}),
	}
}
