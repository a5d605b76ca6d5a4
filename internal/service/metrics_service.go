package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and the document workflow.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	documentTransitions *prometheus.CounterVec
	notificationFailure *prometheus.CounterVec
	blobDuration        *prometheus.HistogramVec
	eventsPublished     *prometheus.CounterVec
	cleanupExhausted    prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	documentTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "document_transitions_total",
		Help: "Document workflow transitions by event and outcome",
	}, []string{"event", "outcome"})

	notificationFailure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Notifications that could not be stored or delivered",
	}, []string{"event", "channel"})

	blobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blob_operation_duration_seconds",
		Help:    "Duration of blob store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "domain_events_published_total",
		Help: "Outbound domain events by type and outcome",
	}, []string{"type", "outcome"})

	cleanupExhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blob_cleanup_exhausted_total",
		Help: "Superseded blobs whose deletion gave up after all retries",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, documentTransitions, notificationFailure, blobDuration, eventsPublished, cleanupExhausted, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		documentTransitions: documentTransitions,
		notificationFailure: notificationFailure,
		blobDuration:        blobDuration,
		eventsPublished:     eventsPublished,
		cleanupExhausted:    cleanupExhausted,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// TrackQueueDepth exposes the buffered job count of a named worker queue.
func (m *MetricsService) TrackQueueDepth(queue string, depth func() int) {
	if m == nil || depth == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "job_queue_depth",
		Help:        "Jobs buffered in a background queue",
		ConstLabels: prometheus.Labels{"queue": queue},
	}, func() float64 {
		return float64(depth())
	}))
}

// Registry exposes the underlying registry (tests gather from it).
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordTransition counts a document transition attempt.
func (m *MetricsService) RecordTransition(event string, err error) {
	if m == nil {
		return
	}
	m.documentTransitions.WithLabelValues(event, outcome(err)).Inc()
}

// RecordNotificationFailure counts a notification that was dropped on the given channel.
func (m *MetricsService) RecordNotificationFailure(event, channel string) {
	if m == nil {
		return
	}
	m.notificationFailure.WithLabelValues(event, channel).Inc()
}

// ObserveBlobOperation records blob store latency.
func (m *MetricsService) ObserveBlobOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.blobDuration.WithLabelValues(operation, outcome(err)).Observe(duration.Seconds())
}

// RecordEventPublished counts an outbound domain event.
func (m *MetricsService) RecordEventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType, outcome(err)).Inc()
}

// RecordCleanupExhausted counts a blob cleanup job that ran out of retries.
func (m *MetricsService) RecordCleanupExhausted() {
	if m == nil {
		return
	}
	m.cleanupExhausted.Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
