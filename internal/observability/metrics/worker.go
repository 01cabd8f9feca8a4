package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	*ResearchMetrics

	registry *prometheus.Registry

	triggersTotal    *prometheus.CounterVec
	triggerInFlight  prometheus.Gauge
	triggerQueueLag  *prometheus.HistogramVec
	triggerDurations *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	triggersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "triggers_total",
			Help:      "Processed research triggers by status.",
		},
		[]string{"service", "status"},
	)
	triggerInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "triggers_in_flight",
			Help:      "Number of research triggers being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	triggerQueueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between trigger enqueue and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	triggerDurations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "trigger_duration_seconds",
			Help:      "Trigger processing duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(triggersTotal, triggerInFlight, triggerQueueLag, triggerDurations)

	return &WorkerMetrics{
		ResearchMetrics:  newResearchMetrics(service, registry),
		registry:         registry,
		triggersTotal:    triggersTotal,
		triggerInFlight:  triggerInFlight,
		triggerQueueLag:  triggerQueueLag,
		triggerDurations: triggerDurations,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartTrigger() {
	m.triggerInFlight.Inc()
}

func (m *WorkerMetrics) FinishTrigger(service string, duration time.Duration, err error) {
	m.triggerInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.triggersTotal.WithLabelValues(service, status).Inc()
	m.triggerDurations.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.triggerQueueLag.WithLabelValues(service).Observe(lag.Seconds())
}
