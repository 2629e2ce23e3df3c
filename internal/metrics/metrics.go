// Package metrics exposes Prometheus counters for the change request
// lifecycle.
//
// All metrics are prefixed with "changerequest_":
//   - changerequest_status_transitions_total{from,to}
//   - changerequest_reviews_total{approved}
//   - changerequest_file_changes_total
//   - changerequest_merges_total{outcome}
//   - changerequest_conflicts_total
//   - changerequest_stale_state_total{operation}
//   - changerequest_merge_duration_seconds
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Merge outcomes.
const (
	OutcomeMerged   = "merged"
	OutcomeRejected = "rejected"
	OutcomeStale    = "stale"
	OutcomeFailed   = "failed"
)

// Metrics holds the change request counters. A nil *Metrics records nothing.
type Metrics struct {
	StatusTransitions *prometheus.CounterVec
	Reviews           *prometheus.CounterVec
	FileChanges       prometheus.Counter
	Merges            *prometheus.CounterVec
	Conflicts         prometheus.Counter
	StaleState        *prometheus.CounterVec
	MergeDuration     prometheus.Histogram
}

// NewMetrics creates the metrics and registers them on reg. A nil reg
// creates unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StatusTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changerequest_status_transitions_total",
				Help: "Total number of persisted status transitions",
			},
			[]string{"from", "to"},
		),
		Reviews: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changerequest_reviews_total",
				Help: "Total number of reviews added",
			},
			[]string{"approved"},
		),
		FileChanges: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "changerequest_file_changes_total",
				Help: "Total number of file change revisions added",
			},
		),
		Merges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changerequest_merges_total",
				Help: "Total number of merge attempts by outcome",
			},
			[]string{"outcome"},
		),
		Conflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "changerequest_conflicts_total",
				Help: "Total number of merge conflicts detected",
			},
		),
		StaleState: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changerequest_stale_state_total",
				Help: "Total number of optimistic version conflicts",
			},
			[]string{"operation"},
		),
		MergeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "changerequest_merge_duration_seconds",
				Help:    "Duration of merge attempts in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
	}
}

// RecordTransition records a persisted status change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(from, to).Inc()
}

// RecordReview records an added review.
func (m *Metrics) RecordReview(approved bool) {
	if m == nil {
		return
	}
	m.Reviews.WithLabelValues(strconv.FormatBool(approved)).Inc()
}

// RecordFileChange records an added file change revision.
func (m *Metrics) RecordFileChange() {
	if m == nil {
		return
	}
	m.FileChanges.Inc()
}

// RecordMerge records the outcome and duration of a merge attempt.
func (m *Metrics) RecordMerge(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Merges.WithLabelValues(outcome).Inc()
	m.MergeDuration.Observe(duration.Seconds())
}

// RecordConflicts records detected conflicts.
func (m *Metrics) RecordConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Conflicts.Add(float64(n))
}

// RecordStale records an optimistic version failure of operation.
func (m *Metrics) RecordStale(operation string) {
	if m == nil {
		return
	}
	m.StaleState.WithLabelValues(operation).Inc()
}
