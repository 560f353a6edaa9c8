package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsWorkerCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.AddItemsProcessed("PASSWORD_RESET", 7, 3)
	metrics.AddItemsProcessed("password_reset", 0, 0)
	metrics.ObserveProviderCall("password_reset", 120*time.Millisecond)
	metrics.IncChunksDispatched("password_reset")
	metrics.IncChunksAbandoned("user_import")
	metrics.IncTaskRetry("user_import")
	metrics.IncWorkerInFlight("user_delete")
	metrics.DecWorkerInFlight("user_delete")
	metrics.IncBatchFinished("user_delete", "PARTIALLY_FAILED", "reaper")

	if got := testutil.ToFloat64(metrics.itemsProcessedTotal.WithLabelValues("password_reset", "sent")); got != 7 {
		t.Fatalf("items_processed_total{sent} = %v, want 7", got)
	}
	if got := testutil.ToFloat64(metrics.itemsProcessedTotal.WithLabelValues("password_reset", "failed")); got != 3 {
		t.Fatalf("items_processed_total{failed} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.chunksDispatchedTotal.WithLabelValues("password_reset")); got != 1 {
		t.Fatalf("chunks_dispatched_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.chunksAbandonedTotal.WithLabelValues("user_import")); got != 1 {
		t.Fatalf("chunks_abandoned_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.taskRetriesTotal.WithLabelValues("user_import")); got != 1 {
		t.Fatalf("task_retries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight.WithLabelValues("user_delete")); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.batchesFinishedTotal.WithLabelValues("user_delete", "partially_failed", "reaper")); got != 1 {
		t.Fatalf("batches_finished_total = %v, want 1", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.AddItemsProcessed("password_reset", 1, 1)
	metrics.IncChunksDispatched("password_reset")
	metrics.IncWorkerInFlight("password_reset")
	metrics.IncBatchFinished("password_reset", "completed", "outcome")
	if metrics.Handler() == nil {
		t.Fatal("Handler() should fall back to the default handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesNamespacedCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	metrics.IncChunksDispatched("user_import")

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`authbatch_chunks_dispatched_total{operation="user_import"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
