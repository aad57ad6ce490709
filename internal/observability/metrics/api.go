package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	routeDecisionsTotal *prometheus.CounterVec
	routeSimilarity     *prometheus.HistogramVec
	answersTotal        *prometheus.CounterVec
	answerDegradedTotal *prometheus.CounterVec
	retrievedChunks     *prometheus.HistogramVec
	answerDuration      *prometheus.HistogramVec
	sessionOpsTotal     *prometheus.CounterVec
	snapshotReloads     *prometheus.CounterVec
	snapshotExperts     prometheus.Gauge
}

func NewAPIMetrics(service string) *APIMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "er",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "er",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "er",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	routeDecisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "er",
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Total routing decisions by winning group and expert.",
		},
		[]string{"service", "group", "expert"},
	)
	routeSimilarity := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "er",
			Subsystem: "routing",
			Name:      "similarity",
			Help:      "Distribution of winning expert cosine similarity.",
			Buckets:   []float64{-1, -0.5, 0, 0.2, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		},
		[]string{"service"},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "er",
			Subsystem: "rag",
			Name:      "answers_total",
			Help:      "Total completed answer cycles.",
		},
		[]string{"service"},
	)
	answerDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "er",
			Subsystem: "rag",
			Name:      "answers_degraded_total",
			Help:      "Total answer cycles that degraded, by stage.",
		},
		[]string{"service", "stage"},
	)
	retrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "er",
			Subsystem: "rag",
			Name:      "retrieved_chunks",
			Help:      "Distribution of retrieved chunks per answer.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		},
		[]string{"service"},
	)
	answerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "er",
			Subsystem: "rag",
			Name:      "answer_duration_seconds",
			Help:      "Full answer cycle duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	sessionOpsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "er",
			Subsystem: "session",
			Name:      "ops_total",
			Help:      "Total session operations by kind.",
		},
		[]string{"service", "op"},
	)
	snapshotReloads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "er",
			Subsystem: "snapshot",
			Name:      "reloads_total",
			Help:      "Total routing snapshot reloads.",
		},
		[]string{"service", "status"},
	)
	snapshotExperts := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "er",
			Subsystem: "snapshot",
			Name:      "experts",
			Help:      "Experts routable in the active snapshot.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		routeDecisionsTotal,
		routeSimilarity,
		answersTotal,
		answerDegradedTotal,
		retrievedChunks,
		answerDuration,
		sessionOpsTotal,
		snapshotReloads,
		snapshotExperts,
	)

	return &APIMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		routeDecisionsTotal: routeDecisionsTotal,
		routeSimilarity:     routeSimilarity,
		answersTotal:        answersTotal,
		answerDegradedTotal: answerDegradedTotal,
		retrievedChunks:     retrievedChunks,
		answerDuration:      answerDuration,
		sessionOpsTotal:     sessionOpsTotal,
		snapshotReloads:     snapshotReloads,
		snapshotExperts:     snapshotExperts,
	}
}

func (m *APIMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *APIMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/sessions/"):
		if strings.HasSuffix(path, "/history") {
			return "/v1/sessions/{session_id}/history"
		}
		return "/v1/sessions/{session_id}"
	default:
		return path
	}
}

func (m *APIMetrics) RecordRouteDecision(service, group, expert string, score float64) {
	m.routeDecisionsTotal.WithLabelValues(service, group, expert).Inc()
	m.routeSimilarity.WithLabelValues(service).Observe(score)
}

func (m *APIMetrics) RecordAnswer(service string, sourceCount int, duration time.Duration, degradedStages []string) {
	m.answersTotal.WithLabelValues(service).Inc()
	m.retrievedChunks.WithLabelValues(service).Observe(float64(sourceCount))
	m.answerDuration.WithLabelValues(service).Observe(duration.Seconds())
	for _, stage := range degradedStages {
		if stage == "" {
			stage = "unknown"
		}
		m.answerDegradedTotal.WithLabelValues(service, stage).Inc()
	}
}

func (m *APIMetrics) RecordSessionOp(service, op string) {
	if op == "" {
		op = "unknown"
	}
	m.sessionOpsTotal.WithLabelValues(service, op).Inc()
}

func (m *APIMetrics) RecordSnapshotReload(service string, err error, experts int) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.snapshotReloads.WithLabelValues(service, status).Inc()
	if err == nil {
		m.snapshotExperts.Set(float64(experts))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
