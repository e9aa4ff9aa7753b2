// Package metrics exposes Prometheus metrics for sweeps, notifications,
// status ingestion and the task engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stillalive/internal/storage"
	"stillalive/internal/will"
)

const namespace = "stillalive"

// Metrics owns a private registry so tests and multiple instances never collide.
type Metrics struct {
	registry *prometheus.Registry

	sweeps        prometheus.Counter
	sweepDuration prometheus.Histogram
	sweepWills    *prometheus.CounterVec
	notifications *prometheus.CounterVec
	attempts      prometheus.Histogram
	statuses      *prometheus.CounterVec
	outbox        *prometheus.GaugeVec
	tasks         *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		sweeps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweeps_total",
			Help: "Total number of completed will sweeps.",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sweep_duration_seconds",
			Help:    "Duration of will sweeps.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		sweepWills: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_wills_total",
			Help: "Wills examined by sweeps, partitioned by result.",
		}, []string{"result"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Will notification delivery outcomes; retry counts rescheduled attempts.",
		}, []string{"outcome"}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "notification_attempts",
			Help:    "Delivery attempts per finished notification.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		statuses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "status_events_total",
			Help: "Status events ingested, partitioned by type.",
		}, []string{"status_type"}),
		outbox: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "outbox_rows",
			Help: "Notification outbox rows by status.",
		}, []string{"status"}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "engine_task_events_total",
			Help: "Task engine lifecycle events by type.",
		}, []string{"event"}),
	}
}

// Registry returns the metrics registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSweep(d time.Duration, r will.Report) {
	m.sweeps.Inc()
	m.sweepDuration.Observe(d.Seconds())
	m.sweepWills.WithLabelValues("triggered").Add(float64(r.Triggered))
	m.sweepWills.WithLabelValues("active").Add(float64(r.Skipped))
	m.sweepWills.WithLabelValues("no_activity").Add(float64(r.NoActivity))
	m.sweepWills.WithLabelValues("failed").Add(float64(r.Failed))
}

// NotificationOutcome counts one delivery outcome. Only final outcomes feed
// the attempts histogram.
func (m *Metrics) NotificationOutcome(outcome string, attempts int) {
	m.notifications.WithLabelValues(outcome).Inc()
	if outcome != will.OutcomeRetry {
		m.attempts.Observe(float64(attempts))
	}
}

// StatusRecorded counts one ingested status event. Types are caller-supplied,
// so unknown values share one label to bound cardinality.
func (m *Metrics) StatusRecorded(statusType string) {
	if len(statusType) > 32 {
		statusType = "other"
	}
	m.statuses.WithLabelValues(statusType).Inc()
}

// SetOutbox replaces the outbox gauges with fresh counts.
func (m *Metrics) SetOutbox(counts map[storage.OutboxStatus]int) {
	for _, st := range []storage.OutboxStatus{storage.OutboxPending, storage.OutboxLeased, storage.OutboxSent, storage.OutboxDead} {
		m.outbox.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// TaskEvent counts one task engine bus event.
func (m *Metrics) TaskEvent(typ string) {
	m.tasks.WithLabelValues(typ).Inc()
}
