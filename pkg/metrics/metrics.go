package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fats_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fats_reconciliation_cycles_total",
			Help: "Total number of reconciliation passes completed",
		},
	)

	ContainersCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fats_containers_created_total",
			Help: "Total number of containers created by the reconciler",
		},
	)

	ContainersDestroyedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fats_containers_destroyed_total",
			Help: "Total number of containers destroyed by the reconciler, by reason",
		},
		[]string{"reason"},
	)

	ReconcileFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fats_reconcile_failures_total",
			Help: "Total number of per-item failures during reconciliation, by phase",
		},
		[]string{"phase"},
	)

	// Builder metrics
	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fats_build_duration_seconds",
			Help:    "Time taken to build an uploaded project into an image",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fats_builds_total",
			Help: "Total number of build attempts, by result",
		},
		[]string{"result"},
	)

	// Proxy metrics
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fats_proxy_requests_total",
			Help: "Total number of proxied requests, by resolution outcome",
		},
		[]string{"outcome"},
	)

	ProxyResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fats_proxy_resolution_duration_seconds",
			Help:    "Time taken to resolve an app name/version to a backend",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scheduler metrics
	SchedulerTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fats_scheduler_ticks_total",
			Help: "Total number of scheduler ticks processed",
		},
	)

	SchedulerActionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fats_scheduler_action_failures_total",
			Help: "Total number of scheduled actions that returned an error or panicked",
		},
		[]string{"schedule"},
	)
)

func init() {
	prometheus.MustRegister(
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ContainersCreatedTotal,
		ContainersDestroyedTotal,
		ReconcileFailuresTotal,
		BuildDuration,
		BuildsTotal,
		ProxyRequestsTotal,
		ProxyResolutionDuration,
		SchedulerTicksTotal,
		SchedulerActionFailuresTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to the histogram in vec
// selected by labelValues.
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labelValues ...string) {
	vec.WithLabelValues(labelValues...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
