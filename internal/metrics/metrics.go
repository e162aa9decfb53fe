// Package metrics exports job scheduler activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/aristath/sentinel-jobs/internal/jobs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements jobs.Observer on Prometheus collectors.
type Metrics struct {
	JobsEnqueued *prometheus.CounterVec
	JobsFinished *prometheus.CounterVec
	JobsSkipped  *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	QueueSize    prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the job collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_jobs_enqueued_total",
			Help: "The total number of jobs enqueued by the scheduler",
		}, []string{"type"}),

		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_jobs_finished_total",
			Help: "The total number of executed jobs",
		}, []string{"type", "status"}), // status: completed, failed

		JobsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_jobs_skipped_total",
			Help: "The total number of jobs removed from the queue without running",
		}, []string{"type", "reason"}),

		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_job_duration_seconds",
			Help:    "Duration of job execution.",
			Buckets: prometheus.ExponentialBuckets(0.05, 4, 8),
		}, []string{"type"}),

		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_job_queue_depth",
			Help: "Number of jobs waiting in the queue",
		}),

		gatherer: reg,
	}
}

func (m *Metrics) JobEnqueued(jobType string) {
	m.JobsEnqueued.WithLabelValues(jobType).Inc()
}

func (m *Metrics) JobSkipped(jobType, reason string) {
	m.JobsSkipped.WithLabelValues(jobType, reason).Inc()
}

func (m *Metrics) JobFinished(jobType string, status jobs.ExecutionStatus, duration time.Duration) {
	m.JobsFinished.WithLabelValues(jobType, string(status)).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

func (m *Metrics) QueueDepth(n int) {
	m.QueueSize.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

var _ jobs.Observer = (*Metrics)(nil)
