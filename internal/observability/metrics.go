package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API, orchestrator, and
// repair scheduler.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	orchestrationsTotal   *prometheus.CounterVec
	stepDuration          *prometheus.HistogramVec
	repairsCreatedTotal   *prometheus.CounterVec
	repairRetriesTotal    *prometheus.CounterVec
	repairsEscalatedTotal prometheus.Counter
	repairsExhaustedTotal prometheus.Counter
	repairsOpen           *prometheus.GaugeVec
	breakerState          *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clearing_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "clearing_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		orchestrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clearing_engine",
				Name:      "orchestrations_total",
				Help:      "Total number of transfer orchestrations grouped by final status.",
			},
			[]string{"status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "clearing_engine",
				Name:      "step_duration_seconds",
				Help:      "Debit/credit step duration in seconds grouped by step.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"step"},
		),
		repairsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clearing_engine",
				Name:      "repairs_created_total",
				Help:      "Total number of repair records created grouped by repair type.",
			},
			[]string{"repair_type"},
		),
		repairRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clearing_engine",
				Name:      "repair_retries_total",
				Help:      "Total number of scheduler retry attempts grouped by outcome.",
			},
			[]string{"outcome"},
		),
		repairsEscalatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "clearing_engine",
				Name:      "repairs_escalated_total",
				Help:      "Total number of repair records force-escalated past their deadline.",
			},
		),
		repairsExhaustedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "clearing_engine",
				Name:      "repairs_exhausted_total",
				Help:      "Total number of repair records that used their full retry budget.",
			},
		),
		repairsOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "clearing_engine",
				Name:      "repairs_open",
				Help:      "Current number of non-terminal repair records grouped by status.",
			},
			[]string{"status"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "clearing_engine",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker position per service (0=closed, 1=half-open, 2=open).",
			},
			[]string{"service"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.orchestrationsTotal,
		m.stepDuration,
		m.repairsCreatedTotal,
		m.repairRetriesTotal,
		m.repairsEscalatedTotal,
		m.repairsExhaustedTotal,
		m.repairsOpen,
		m.breakerState,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncOrchestration(status string) {
	if m == nil {
		return
	}
	m.orchestrationsTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) ObserveStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.stepDuration.WithLabelValues(normalizeLabel(step)).Observe(seconds)
}

func (m *Metrics) IncRepairCreated(repairType string) {
	if m == nil {
		return
	}
	m.repairsCreatedTotal.WithLabelValues(normalizeLabel(repairType)).Inc()
}

func (m *Metrics) IncRepairRetry(outcome string) {
	if m == nil {
		return
	}
	m.repairRetriesTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncRepairEscalated() {
	if m == nil {
		return
	}
	m.repairsEscalatedTotal.Inc()
}

func (m *Metrics) IncRepairExhausted() {
	if m == nil {
		return
	}
	m.repairsExhaustedTotal.Inc()
}

func (m *Metrics) SetRepairsOpen(status string, count float64) {
	if m == nil {
		return
	}
	m.repairsOpen.WithLabelValues(normalizeLabel(status)).Set(count)
}

func (m *Metrics) SetBreakerState(service string, state string) {
	if m == nil {
		return
	}

	var value float64
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "HALF_OPEN":
		value = 1
	case "OPEN":
		value = 2
	}
	m.breakerState.WithLabelValues(normalizeLabel(service)).Set(value)
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
