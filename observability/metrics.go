// Package observability exposes the scheduler's Prometheus metrics:
// package-level vars registered via promauto.New*, one gauge/counter per
// signal the scheduler core emits.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of pending tasks, labeled by
	// scheduler instance name.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "costsched_queue_depth",
		Help: "Current number of tasks in the scheduling queue",
	}, []string{"scheduler"})

	// APITokensAvailable tracks the live token-bucket balance.
	APITokensAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "costsched_api_tokens_available",
		Help: "Current number of available API-call tokens",
	}, []string{"scheduler"})

	// ReservedComputeUnits tracks instantaneous compute reservations.
	ReservedComputeUnits = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "costsched_reserved_compute_units",
		Help: "Current reserved compute units across in-flight tasks",
	}, []string{"scheduler"})

	// ReservedMemoryMB tracks instantaneous memory reservations.
	ReservedMemoryMB = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "costsched_reserved_memory_mb",
		Help: "Current reserved memory (MB) across in-flight tasks",
	}, []string{"scheduler"})

	// Decisions counts scheduling outcomes by kind and reason. reason is
	// empty for dispatched (there's nothing to explain); for rejected and
	// deferred it names the gate that failed (e.g. "budget exhausted",
	// "category throttled", "backpressure breaker open").
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "costsched_decisions_total",
		Help: "Total scheduling decisions made, by kind and reason",
	}, []string{"scheduler", "decision", "reason"}) // decision: dispatched, rejected, deferred

	// BreakerState reports the backpressure breaker's current state.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "costsched_breaker_state",
		Help: "Backpressure breaker state (0=closed, 1=half_open, 2=open)",
	}, []string{"scheduler"})

	// TaskDuration tracks wall-clock execution time of dispatched tasks.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "costsched_task_duration_seconds",
		Help:    "Task execution duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"scheduler", "priority"})
)
