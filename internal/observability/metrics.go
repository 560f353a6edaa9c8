package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "authbatch"
	unmatchedRoute   = "unmatched"
)

// Metrics holds the collectors shared by the API and the worker. All methods
// are no-ops on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	itemsProcessedTotal   *prometheus.CounterVec
	providerCallDuration  *prometheus.HistogramVec
	chunksDispatchedTotal *prometheus.CounterVec
	chunksAbandonedTotal  *prometheus.CounterVec
	taskRetriesTotal      *prometheus.CounterVec
	batchesFinishedTotal  *prometheus.CounterVec
	workerInflight        *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	perOperation := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, []string{"operation"})
	}

	return &Metrics{
		registry: registry,
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		itemsProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "items_processed_total",
			Help:      "Work items with a recorded outcome.",
		}, []string{"operation", "outcome"}),
		providerCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Auth provider call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"operation"}),
		chunksDispatchedTotal: perOperation("chunks_dispatched_total", "Chunk tasks published to a work queue."),
		chunksAbandonedTotal:  perOperation("chunks_abandoned_total", "Chunk tasks counted as failed after their last attempt."),
		taskRetriesTotal:      perOperation("task_retries_total", "Chunk tasks republished after a task-level failure."),
		batchesFinishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_finished_total",
			Help:      "Batches that reached a terminal status, by how they got there.",
		}, []string{"operation", "status", "via"}),
		workerInflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "worker",
			Name:      "inflight_tasks",
			Help:      "Chunk tasks currently executing.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HTTPMiddleware records every request except scrapes of /metrics.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := unmatchedRoute
		if route := c.Route(); route != nil && strings.TrimSpace(route.Path) != "" {
			path = route.Path
		}
		if path == "/metrics" || m == nil {
			return err
		}

		method := strings.ToUpper(c.Method())
		m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(responseStatus(c, err))).Inc()
		m.httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		return err
	}
}

func (m *Metrics) AddItemsProcessed(operation string, sent int, failed int) {
	if m == nil {
		return
	}
	op := operationLabel(operation)
	if sent > 0 {
		m.itemsProcessedTotal.WithLabelValues(op, "sent").Add(float64(sent))
	}
	if failed > 0 {
		m.itemsProcessedTotal.WithLabelValues(op, "failed").Add(float64(failed))
	}
}

func (m *Metrics) ObserveProviderCall(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.providerCallDuration.WithLabelValues(operationLabel(operation)).Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncChunksDispatched(operation string) {
	if m == nil {
		return
	}
	m.chunksDispatchedTotal.WithLabelValues(operationLabel(operation)).Inc()
}

func (m *Metrics) IncChunksAbandoned(operation string) {
	if m == nil {
		return
	}
	m.chunksAbandonedTotal.WithLabelValues(operationLabel(operation)).Inc()
}

func (m *Metrics) IncTaskRetry(operation string) {
	if m == nil {
		return
	}
	m.taskRetriesTotal.WithLabelValues(operationLabel(operation)).Inc()
}

// IncBatchFinished counts a terminal transition. via names the writer that
// closed the batch: "outcome", "dispatch" or "reaper".
func (m *Metrics) IncBatchFinished(operation, status, via string) {
	if m == nil {
		return
	}
	m.batchesFinishedTotal.WithLabelValues(operationLabel(operation), operationLabel(status), via).Inc()
}

func (m *Metrics) IncWorkerInFlight(operation string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(operationLabel(operation)).Inc()
}

func (m *Metrics) DecWorkerInFlight(operation string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(operationLabel(operation)).Dec()
}

func responseStatus(c *fiber.Ctx, err error) int {
	if err != nil {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}
	if status := c.Response().StatusCode(); status != 0 {
		return status
	}
	return fiber.StatusOK
}

func operationLabel(value string) string {
	label := strings.ToLower(strings.TrimSpace(value))
	if label == "" {
		return "unknown"
	}
	return label
}
