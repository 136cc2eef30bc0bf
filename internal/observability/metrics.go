package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
)

var (
	registerOnce sync.Once

	reconcileTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rolloutd",
			Subsystem: "reconciler",
			Name:      "ticks_total",
			Help:      "Reconciler ticks started.",
		},
	)
	reconcileTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rolloutd",
			Subsystem: "reconciler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a full reconciler tick in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	reconcileSkippedTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rolloutd",
			Subsystem: "reconciler",
			Name:      "skipped_ticks_total",
			Help:      "Ticks skipped because the previous tick was still running.",
		},
	)
	reconcilePasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rolloutd",
			Subsystem: "reconciler",
			Name:      "passes_total",
			Help:      "Reconcile passes by decision.",
		},
		[]string{"decision"},
	)
	reconcileErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rolloutd",
			Subsystem: "reconciler",
			Name:      "errors_total",
			Help:      "Reconcile passes that returned an error.",
		},
	)
	outcomesRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rolloutd",
			Subsystem: "rollout",
			Name:      "outcomes_recorded_total",
			Help:      "Device outcomes applied to a rollout phase.",
		},
	)
	devicesDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rolloutd",
			Subsystem: "rollout",
			Name:      "devices_dispatched_total",
			Help:      "Desired-state writes sent to devices.",
		},
	)
	rolloutEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rolloutd",
			Subsystem: "rollout",
			Name:      "events_total",
			Help:      "Rollout lifecycle events by type.",
		},
		[]string{"type"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			reconcileTicks,
			reconcileTickDuration,
			reconcileSkippedTicks,
			reconcilePasses,
			reconcileErrors,
			outcomesRecorded,
			devicesDispatched,
			rolloutEvents,
		)
	})
}

func RecordTick(duration time.Duration) {
	RegisterMetrics()
	reconcileTicks.Inc()
	reconcileTickDuration.Observe(duration.Seconds())
}

func RecordSkippedTick() {
	RegisterMetrics()
	reconcileSkippedTicks.Inc()
}

func RecordReconcile(res domain.ReconcileResult) {
	RegisterMetrics()
	reconcilePasses.WithLabelValues(string(res.Decision)).Inc()
	outcomesRecorded.Add(float64(res.OutcomesRecorded))
	devicesDispatched.Add(float64(res.Dispatched))
}

func RecordReconcileError() {
	RegisterMetrics()
	reconcileErrors.Inc()
}

func RecordOutcome() {
	RegisterMetrics()
	outcomesRecorded.Inc()
}

func RecordDispatched(n int) {
	RegisterMetrics()
	devicesDispatched.Add(float64(n))
}

func RecordEvent(t domain.EventType) {
	RegisterMetrics()
	rolloutEvents.WithLabelValues(string(t)).Inc()
}
