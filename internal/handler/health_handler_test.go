package handler

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/clearline/clearing-engine/internal/resilience"
)

func TestLivezHandler(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/livez", LivezHandler())

	resp, err := app.Test(httptest.NewRequest("GET", "/livez", nil), -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServiceHealthHandler(t *testing.T) {
	t.Parallel()

	tracker := resilience.NewHealthTracker()
	tracker.RecordSuccess("core-banking")
	tracker.RecordFailure("fx-rates", errors.New("timeout"))

	app := fiber.New()
	app.Get("/v1/services/health", ServiceHealthHandler(tracker))

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/services/health", nil), -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Services []resilience.ServiceHealthStatus `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Services) != 2 {
		t.Fatalf("services = %d, want 2", len(body.Services))
	}
	// Sorted by service name.
	if body.Services[0].ServiceName != "core-banking" || body.Services[1].ServiceName != "fx-rates" {
		t.Fatalf("order = %s, %s", body.Services[0].ServiceName, body.Services[1].ServiceName)
	}
	if body.Services[0].Status != resilience.HealthHealthy {
		t.Fatalf("core-banking = %s, want HEALTHY", body.Services[0].Status)
	}
}

func TestServiceHealthHandlerNilTracker(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/v1/services/health", ServiceHealthHandler(nil))

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/services/health", nil), -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
