package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tapemaint"

var (
	Cycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Completed maintenance cycles",
	})

	RoutineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "routine_runs_total",
		Help:      "Routine executions by outcome (success, error, panic)",
	}, []string{"routine", "outcome"})

	RoutineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "routine_duration_seconds",
		Help:      "Wall time of one routine execution",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"routine"})

	DeadMountJobsRequeued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dead_mount_jobs_requeued_total",
		Help:      "Jobs returned to the unowned pending queue because their mount vanished",
	}, []string{"category"})

	DeadMounts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dead_mounts",
		Help:      "Mounts referenced by the scheduler but absent from the catalogue at the last check",
	}, []string{"category"})

	RetentionRowsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_rows_deleted_total",
		Help:      "Rows removed by retention routines",
	}, []string{"table"})

	GCAgentsCollected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gc_agents_collected_total",
		Help:      "Dead object store agents collected",
	})

	GCObjectsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gc_objects_released_total",
		Help:      "Objects returned to the unowned pool by garbage collection",
	})

	RepackPromoted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "repack_requests_promoted_total",
		Help:      "Repack requests promoted from Pending to ToExpand",
	})

	RepackExpansions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "repack_expansions_total",
		Help:      "Repack expansions by outcome (expanded, failed, vanished)",
	}, []string{"outcome"})

	RepackReportBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "repack_report_batches_total",
		Help:      "Repack report batches applied by kind",
	}, []string{"kind"})
)
