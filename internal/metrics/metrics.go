// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reqtrace"

var (
	// HTTPRequests counts handled requests by route pattern, method and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests handled.",
	}, []string{"route", "method", "status"})

	// HTTPDuration observes request latency by route pattern and method.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	RequirementsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requirements_created_total",
		Help:      "Requirements created.",
	})

	// RelationChanges counts link edits by operation (link, unlink, repair).
	RelationChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relation_changes_total",
		Help:      "Traceability link mutations.",
	}, []string{"op"})

	// Activations counts activation flips by entity.
	Activations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "activations_total",
		Help:      "Project and group activations.",
	}, []string{"entity"})

	// CascadeDeletes counts records removed by cascading deletes.
	CascadeDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cascade_deleted_records_total",
		Help:      "Records removed by cascading deletes.",
	}, []string{"entity"})

	// ChangeLogEntries counts recorded audit entries by mode and result.
	ChangeLogEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "changelog_entries_total",
		Help:      "Change log entries recorded.",
	}, []string{"mode", "result"})
)
