package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/nsel/internal/selection"
)

const metricsNamespace = "nsel"

// Metrics holds the Prometheus collectors of one server.
type Metrics struct {
	registry *prometheus.Registry

	// jobs counts finished selection jobs.
	// Labels: status (completed, failed, cancelled)
	jobs *prometheus.CounterVec

	// activeJobs tracks pending and running jobs.
	activeJobs prometheus.Gauge

	// runs counts finished model runs.
	// Labels: outcome (success, error)
	runs *prometheus.CounterVec

	// runDuration measures the wall time of one model run.
	runDuration prometheus.Histogram

	// logEvidence holds the most recent log-evidence per candidate family.
	// Labels: model
	logEvidence *prometheus.GaugeVec
}

// NewMetrics registers the server collectors, plus the Go runtime
// collector, on reg. A nil reg gets a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(collectors.NewGoCollector())

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "selection",
			Name:      "jobs_total",
			Help:      "Finished selection jobs by status",
		}, []string{"status"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "selection",
			Name:      "active_jobs",
			Help:      "Selection jobs that are pending or running",
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sampler",
			Name:      "runs_total",
			Help:      "Finished model runs by outcome",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sampler",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one diffusive nested sampling run",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		logEvidence: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sampler",
			Name:      "log_evidence",
			Help:      "Most recent log-evidence estimate per model",
		}, []string{"model"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRun records one finished model run.
func (m *Metrics) ObserveRun(h selection.RunHandle, logZ float64, err error, elapsed time.Duration) {
	m.runDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.runs.WithLabelValues("success").Inc()
	m.logEvidence.WithLabelValues(h.Model).Set(logZ)
}

// JobStarted records a new active job.
func (m *Metrics) JobStarted() {
	m.activeJobs.Inc()
}

// JobFinished records a job reaching a terminal status.
func (m *Metrics) JobFinished(status JobStatus) {
	m.activeJobs.Dec()
	m.jobs.WithLabelValues(string(status)).Inc()
}
