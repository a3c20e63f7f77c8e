// Package metrics holds the Prometheus collectors of the scheduling engine.
// They register on the default registry and are served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksGenerated counts task generation outcomes: created, updated, cancelled, skipped, conflict.
	TasksGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymops_tasks_generated_total",
		Help: "Maintenance task generation outcomes",
	}, []string{"outcome"})

	GenerationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymops_generation_errors_total",
		Help: "Per-contract generation failures by error code",
	}, []string{"code"})

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gymops_generation_duration_seconds",
		Help:    "Duration of a bulk generation run",
		Buckets: prometheus.DefBuckets,
	})

	AssignmentDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymops_assignment_decisions_total",
		Help: "Assignment decisions by reason code",
	}, []string{"reason"})

	AssignmentScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gymops_assignment_score",
		Help:    "Weighted score of selected technicians",
		Buckets: prometheus.LinearBuckets(0, 5, 9), // 0..40
	})

	// CapacityExceeded counts assignments that left a technician over max_daily_tasks.
	CapacityExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymops_technician_capacity_exceeded_total",
		Help: "Assignments that pushed a technician past daily capacity",
	})

	SLAEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymops_sla_evaluations_total",
		Help: "Ticket SLA evaluations by resulting status",
	}, []string{"status"})

	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymops_notification_failures_total",
		Help: "Notifications that could not be enqueued",
	}, []string{"event"})

	HTTPRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymops_http_rate_limited_total",
		Help: "Admin requests rejected by the rate limiter",
	}, []string{"route"})
)
