package resilience

import (
	"sync"
	"time"
)

// HealthState is the coarse availability of one external service.
type HealthState string

const (
	HealthHealthy     HealthState = "HEALTHY"
	HealthDegraded    HealthState = "DEGRADED"
	HealthUnavailable HealthState = "UNAVAILABLE"
)

func (s HealthState) String() string { return string(s) }

// degradedThreshold is the consecutive-failure count that flips a service
// from HEALTHY to DEGRADED.
const degradedThreshold = 3

// ServiceHealthStatus is an in-memory, process-wide snapshot of one
// service's recent call outcomes. It is not persisted; monitoring scrapes it.
type ServiceHealthStatus struct {
	ServiceName         string     `json:"serviceName"`
	Status              HealthState `json:"status"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastErrorMessage    string     `json:"lastErrorMessage,omitempty"`
}

// HealthTracker owns per-service health state, mutated on every call
// completion by the executor; readers get copies and may see slightly
// stale snapshots.
type HealthTracker struct {
	mu       sync.RWMutex
	services map[string]*ServiceHealthStatus
	now      func() time.Time
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		services: make(map[string]*ServiceHealthStatus),
		now:      time.Now,
	}
}

func (h *HealthTracker) RecordSuccess(service string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.getLocked(service)
	now := h.now().UTC()
	s.Status = HealthHealthy
	s.ConsecutiveFailures = 0
	s.LastSuccessAt = &now
	s.LastErrorMessage = ""
}

func (h *HealthTracker) RecordFailure(service string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.getLocked(service)
	now := h.now().UTC()
	s.ConsecutiveFailures++
	s.LastFailureAt = &now
	if err != nil {
		s.LastErrorMessage = err.Error()
	}
	if s.Status != HealthUnavailable && s.ConsecutiveFailures >= degradedThreshold {
		s.Status = HealthDegraded
	}
}

// MarkUnavailable pins the service UNAVAILABLE; used when its breaker opens.
func (h *HealthTracker) MarkUnavailable(service string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.getLocked(service).Status = HealthUnavailable
}

// Snapshot returns a copy of one service's health.
func (h *HealthTracker) Snapshot(service string) (ServiceHealthStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.services[service]
	if !ok {
		return ServiceHealthStatus{}, false
	}
	return *s, true
}

// Snapshots returns copies of every tracked service's health.
func (h *HealthTracker) Snapshots() []ServiceHealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ServiceHealthStatus, 0, len(h.services))
	for _, s := range h.services {
		out = append(out, *s)
	}
	return out
}

func (h *HealthTracker) getLocked(service string) *ServiceHealthStatus {
	s, ok := h.services[service]
	if !ok {
		s = &ServiceHealthStatus{
			ServiceName: service,
			Status:      HealthHealthy,
		}
		h.services[service] = s
	}
	return s
}
