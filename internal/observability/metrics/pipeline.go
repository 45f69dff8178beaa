package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// PipelineMetrics covers the worker side of the pipeline: job outcomes,
// per-step latency and queue lag. Each instance carries its own registry.
type PipelineMetrics struct {
	registry *prometheus.Registry

	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsInFlight prometheus.Gauge
	stepDuration *prometheus.HistogramVec
	stepErrors   *prometheus.CounterVec
	queueLag     prometheus.Histogram
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total finished jobs by terminal status.",
		},
		[]string{"processor", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Full job duration in seconds by terminal status.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"processor", "status"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "step_duration_seconds",
			Help:      "Pipeline step duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"step"},
	)
	stepErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "step_errors_total",
			Help:      "Total step failures by step.",
		},
		[]string{"step"},
	)
	queueLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job submission and worker pick-up.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(jobsTotal, jobDuration, jobsInFlight, stepDuration, stepErrors, queueLag)

	return &PipelineMetrics{
		registry:     registry,
		jobsTotal:    jobsTotal,
		jobDuration:  jobDuration,
		jobsInFlight: jobsInFlight,
		stepDuration: stepDuration,
		stepErrors:   stepErrors,
		queueLag:     queueLag,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartJob and FinishJob implement the service's job observer.
func (m *PipelineMetrics) StartJob() {
	m.jobsInFlight.Inc()
}

func (m *PipelineMetrics) FinishJob(processor string, status domain.JobStatus, duration time.Duration) {
	m.jobsInFlight.Dec()
	m.jobsTotal.WithLabelValues(processor, string(status)).Inc()
	m.jobDuration.WithLabelValues(processor, string(status)).Observe(duration.Seconds())
}

// ObserveStep implements the sequencer's step observer.
func (m *PipelineMetrics) ObserveStep(step domain.Step, d time.Duration, err error) {
	m.stepDuration.WithLabelValues(string(step)).Observe(d.Seconds())
	if err != nil {
		m.stepErrors.WithLabelValues(string(step)).Inc()
	}
}

func (m *PipelineMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.Observe(lag.Seconds())
}
