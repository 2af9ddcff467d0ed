package resilience

import "time"

// Policy is the resolved resilience bundle for one named external service.
// It is supplied by configuration; the engine only consumes it.
type Policy struct {
	// Bulkhead: maximum concurrent in-flight calls admitted.
	MaxConcurrentCalls int
	// Circuit breaker.
	FailureRateThreshold float64
	SlidingWindowSize    int
	MinimumCalls         int
	OpenCooldown         time.Duration
	HalfOpenMaxProbes    int
	// Retry.
	MaxAttempts   int
	RetryWaitBase time.Duration
	// Per-attempt call deadline.
	CallTimeout time.Duration
}

// DefaultPolicy is applied to any service without an explicit override.
func DefaultPolicy() Policy {
	return Policy{
		MaxConcurrentCalls:   25,
		FailureRateThreshold: 0.5,
		SlidingWindowSize:    10,
		MinimumCalls:         5,
		OpenCooldown:         30 * time.Second,
		HalfOpenMaxProbes:    3,
		MaxAttempts:          3,
		RetryWaitBase:        500 * time.Millisecond,
		CallTimeout:          30 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxConcurrentCalls <= 0 {
		p.MaxConcurrentCalls = def.MaxConcurrentCalls
	}
	if p.FailureRateThreshold <= 0 || p.FailureRateThreshold > 1 {
		p.FailureRateThreshold = def.FailureRateThreshold
	}
	if p.SlidingWindowSize <= 0 {
		p.SlidingWindowSize = def.SlidingWindowSize
	}
	if p.MinimumCalls <= 0 {
		p.MinimumCalls = def.MinimumCalls
	}
	if p.MinimumCalls > p.SlidingWindowSize {
		p.MinimumCalls = p.SlidingWindowSize
	}
	if p.OpenCooldown <= 0 {
		p.OpenCooldown = def.OpenCooldown
	}
	if p.HalfOpenMaxProbes <= 0 {
		p.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.RetryWaitBase <= 0 {
		p.RetryWaitBase = def.RetryWaitBase
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = def.CallTimeout
	}
	return p
}
