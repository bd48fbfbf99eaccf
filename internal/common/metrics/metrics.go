// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpilot_stage_items_processed_total",
			Help: "Items advanced by a pipeline stage",
		},
		[]string{"stage"},
	)

	StageItemsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpilot_stage_items_failed_total",
			Help: "Items a pipeline stage failed on",
		},
		[]string{"stage", "error_code"},
	)

	StageItemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobpilot_stage_item_duration_seconds",
			Help:    "Time spent on one item by a pipeline stage",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	StageRunsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobpilot_stage_runs_active",
			Help: "Stage sweeps currently running",
		},
		[]string{"stage"},
	)

	QueueDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpilot_queue_deliveries_total",
			Help: "Consumed deliveries by queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	LockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpilot_lock_not_acquired_total",
			Help: "Entry points skipped because another instance held the lease",
		},
		[]string{"lock"},
	)

	ApplicationsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobpilot_applications",
			Help: "Job applications per status",
		},
		[]string{"status"},
	)
)
