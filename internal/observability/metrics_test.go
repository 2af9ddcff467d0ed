package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsOrchestrationCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncOrchestration("SUCCESS")
	metrics.IncOrchestration("PARTIAL_SUCCESS")
	metrics.ObserveStepDuration("debit", 120*time.Millisecond)
	metrics.IncRepairCreated("CREDIT_TIMEOUT")
	metrics.IncRepairRetry("resolved")
	metrics.IncRepairEscalated()
	metrics.IncRepairExhausted()
	metrics.SetRepairsOpen("PENDING", 4)
	metrics.SetBreakerState("core-banking", "OPEN")

	if got := testutil.ToFloat64(metrics.orchestrationsTotal.WithLabelValues("SUCCESS")); got != 1 {
		t.Fatalf("orchestrations_total{SUCCESS} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.repairsCreatedTotal.WithLabelValues("CREDIT_TIMEOUT")); got != 1 {
		t.Fatalf("repairs_created_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.repairRetriesTotal.WithLabelValues("resolved")); got != 1 {
		t.Fatalf("repair_retries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.repairsEscalatedTotal); got != 1 {
		t.Fatalf("repairs_escalated_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.repairsExhaustedTotal); got != 1 {
		t.Fatalf("repairs_exhausted_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.repairsOpen.WithLabelValues("PENDING")); got != 4 {
		t.Fatalf("repairs_open = %v, want 4", got)
	}
	if got := testutil.ToFloat64(metrics.breakerState.WithLabelValues("core-banking")); got != 2 {
		t.Fatalf("circuit_breaker_state = %v, want 2 (open)", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncOrchestration("SUCCESS")
	metrics.ObserveStepDuration("credit", time.Second)
	metrics.IncRepairCreated("DEBIT_FAILED")
	metrics.IncRepairRetry("requeued")
	metrics.IncRepairEscalated()
	metrics.IncRepairExhausted()
	metrics.SetRepairsOpen("PENDING", 1)
	metrics.SetBreakerState("core-banking", "CLOSED")
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
