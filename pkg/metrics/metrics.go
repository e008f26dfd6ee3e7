// Package metrics defines the process-wide Prometheus collectors.
// Everything is registered on the default registry and served by the
// API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jex"

// Outcome labels for upstream_requests_total.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	// TasksCreated counts tasks accepted by task creation.
	TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_created_total",
		Help:      "Tasks accepted by task creation.",
	})

	// TasksCompleted counts background runs that produced a final document.
	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_completed_total",
		Help:      "Background runs that completed with a final document.",
	})

	// TasksFailed counts background runs that ended in a terminal error.
	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_failed_total",
		Help:      "Background runs that ended in a terminal error.",
	})

	// ActiveTasks tracks background runs currently executing.
	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_tasks",
		Help:      "Background runs currently executing.",
	})

	// UpstreamRequests counts completed upstream calls by final outcome.
	// Retries within one call are not separate requests here.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Completed upstream chat calls by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// UpstreamRetries counts retry attempts against an endpoint.
	UpstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_retries_total",
		Help:      "Retry attempts against an upstream endpoint.",
	}, []string{"endpoint"})

	// UpstreamFallbacks counts failovers from one endpoint to another,
	// whether triggered by an open circuit or by a failed call.
	UpstreamFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_fallbacks_total",
		Help:      "Failovers from a primary endpoint to its fallback.",
	}, []string{"from", "to"})

	// UpstreamTokens accumulates total tokens consumed per endpoint.
	UpstreamTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_tokens_total",
		Help:      "Tokens consumed per upstream endpoint.",
	}, []string{"endpoint"})

	// UpstreamCost accumulates estimated spend per endpoint, in the
	// currency of the configured unit prices.
	UpstreamCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_cost_total",
		Help:      "Estimated upstream spend per endpoint.",
	}, []string{"endpoint"})

	// EventsEmitted counts events published to the progress bus.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_emitted_total",
		Help:      "Events published to the progress bus, by type.",
	}, []string{"type"})

	// AuditInsertFailures counts audit batches that could not be
	// persisted. The task still completes; the trail is degraded.
	AuditInsertFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_insert_failures_total",
		Help:      "Audit batches that could not be persisted.",
	})

	// QuotaRollbacks counts compensating quota decrements after a
	// failed task creation.
	QuotaRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quota_rollbacks_total",
		Help:      "Compensating quota decrements after failed task creation.",
	})
)
