package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/expert-router/internal/core/domain"
)

type IndexerMetrics struct {
	registry *prometheus.Registry

	passTotal    *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	passInFlight prometheus.Gauge
	filesTotal   *prometheus.CounterVec
	chunksTotal  *prometheus.CounterVec
	expertsGauge prometheus.Gauge
	groupsGauge  prometheus.Gauge
}

func NewIndexerMetrics(service string) *IndexerMetrics {
	registry := prometheus.NewRegistry()

	passTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "er",
			Subsystem: "indexer",
			Name:      "pass_total",
			Help:      "Total ingestion passes by status.",
		},
		[]string{"service", "status"},
	)
	passDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "er",
			Subsystem: "indexer",
			Name:      "pass_duration_seconds",
			Help:      "Ingestion pass duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "status"},
	)
	passInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "er",
			Subsystem: "indexer",
			Name:      "pass_in_flight",
			Help:      "Whether an ingestion pass is currently running.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	filesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "er",
			Subsystem: "indexer",
			Name:      "files_total",
			Help:      "Corpus files seen by passes, by outcome.",
		},
		[]string{"service", "outcome"},
	)
	chunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "er",
			Subsystem: "indexer",
			Name:      "chunks_total",
			Help:      "Total chunks embedded and stored.",
		},
		[]string{"service"},
	)
	expertsGauge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "er",
			Subsystem: "indexer",
			Name:      "experts",
			Help:      "Experts tracked after the last completed pass.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	groupsGauge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "er",
			Subsystem: "indexer",
			Name:      "groups",
			Help:      "Groups tracked after the last completed pass.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(passTotal, passDuration, passInFlight, filesTotal, chunksTotal, expertsGauge, groupsGauge)

	return &IndexerMetrics{
		registry:     registry,
		passTotal:    passTotal,
		passDuration: passDuration,
		passInFlight: passInFlight,
		filesTotal:   filesTotal,
		chunksTotal:  chunksTotal,
		expertsGauge: expertsGauge,
		groupsGauge:  groupsGauge,
	}
}

func (m *IndexerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *IndexerMetrics) StartPass() {
	m.passInFlight.Inc()
}

func (m *IndexerMetrics) FinishPass(service string, report domain.PassReport, duration time.Duration, err error) {
	m.passInFlight.Dec()

	status := "success"
	switch {
	case err == nil:
	case domain.IsKind(err, domain.ErrPassRunning):
		status = "skipped"
	default:
		status = "error"
	}
	m.passTotal.WithLabelValues(service, status).Inc()
	m.passDuration.WithLabelValues(service, status).Observe(duration.Seconds())

	m.filesTotal.WithLabelValues(service, "new").Add(float64(report.NewFiles))
	m.filesTotal.WithLabelValues(service, "skipped").Add(float64(report.SkippedFiles))
	m.filesTotal.WithLabelValues(service, "failed").Add(float64(report.FailedFiles))
	m.chunksTotal.WithLabelValues(service).Add(float64(report.Chunks))

	if err == nil {
		m.expertsGauge.Set(float64(report.Experts))
		m.groupsGauge.Set(float64(report.Groups))
	}
}
