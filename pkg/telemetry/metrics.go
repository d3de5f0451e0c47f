package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Notifier ────────────────────────────────────────────────────────────────

	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldops",
		Subsystem: "notifier",
		Name:      "notifications_dispatched_total",
		Help:      "Total notifications dispatched, labelled by type.",
	}, []string{"type"})

	NotificationsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldops",
		Subsystem: "notifier",
		Name:      "notifications_suppressed_total",
		Help:      "Total notifications suppressed by the dedupe window.",
	}, []string{"type"})

	// ─── Push queue ──────────────────────────────────────────────────────────────

	QueueDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldops",
		Subsystem: "queue",
		Name:      "deliveries_total",
		Help:      "Push deliveries by terminal outcome (completed, retried, failed).",
	}, []string{"outcome"})

	QueueDrainDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fieldops",
		Subsystem: "queue",
		Name:      "drain_duration_seconds",
		Help:      "Duration of a single queue drain pass.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	QueueTokensDeactivated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldops",
		Subsystem: "queue",
		Name:      "tokens_deactivated_total",
		Help:      "Device tokens deactivated after repeated delivery failures.",
	})

	// ─── Scheduler ───────────────────────────────────────────────────────────────

	SchedulerPhaseRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldops",
		Subsystem: "scheduler",
		Name:      "phase_runs_total",
		Help:      "Scheduler phase executions, labelled by phase and status.",
	}, []string{"phase", "status"})

	SchedulerSLAAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldops",
		Subsystem: "scheduler",
		Name:      "sla_alerts_total",
		Help:      "SLA alerts raised by the periodic scan, labelled by severity.",
	}, []string{"severity"})

	SchedulerTasksAutoCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldops",
		Subsystem: "scheduler",
		Name:      "tasks_auto_completed_total",
		Help:      "Active tasks completed by the deadline sweep.",
	})

	// ─── Allocation ──────────────────────────────────────────────────────────────

	AllocationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldops",
		Subsystem: "allocation",
		Name:      "rejections_total",
		Help:      "Allocation requests rejected for capacity, labelled by resource type.",
	}, []string{"type"})
)
