package resilience

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

func (s BreakerState) String() string { return string(s) }

// CircuitBreaker tracks call outcomes over a rolling count-based window and
// short-circuits once the failure rate crosses the threshold. One instance
// per service name; state is never shared across services.
type CircuitBreaker struct {
	mu sync.Mutex

	failureRateThreshold float64
	windowSize           int
	minimumCalls         int
	openCooldown         time.Duration
	halfOpenMaxProbes    int

	state        BreakerState
	window       []bool
	windowPos    int
	windowFilled int
	openedAt     time.Time
	probesInUse  int
	probeResults int
	probeFails   int

	now func() time.Time
}

func NewCircuitBreaker(policy Policy) *CircuitBreaker {
	policy = policy.normalized()
	return &CircuitBreaker{
		failureRateThreshold: policy.FailureRateThreshold,
		windowSize:           policy.SlidingWindowSize,
		minimumCalls:         policy.MinimumCalls,
		openCooldown:         policy.OpenCooldown,
		halfOpenMaxProbes:    policy.HalfOpenMaxProbes,
		state:                BreakerClosed,
		window:               make([]bool, policy.SlidingWindowSize),
		now:                  time.Now,
	}
}

// Allow reports whether a call may proceed. In HALF_OPEN only a bounded
// number of probe calls pass; callers that got true must report the outcome
// via RecordSuccess/RecordFailure.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.openCooldown {
			return false
		}
		b.transitionToHalfOpen()
		b.probesInUse++
		return true
	case BreakerHalfOpen:
		if b.probesInUse >= b.halfOpenMaxProbes {
			return false
		}
		b.probesInUse++
		return true
	}
	return false
}

// RecordSuccess feeds a successful call outcome into the window.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.record(true)
	case BreakerHalfOpen:
		b.probeResults++
		if b.probeResults >= b.halfOpenMaxProbes && b.probeFails == 0 {
			b.transitionToClosed()
		}
	case BreakerOpen:
		// Late completion from before the trip; ignore.
	}
}

// RecordFailure feeds a failed call outcome into the window. Any probe
// failure in HALF_OPEN reopens the breaker immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.record(false)
		if b.windowFilled >= b.minimumCalls && b.failureRate() >= b.failureRateThreshold {
			b.transitionToOpen()
		}
	case BreakerHalfOpen:
		b.probeResults++
		b.probeFails++
		b.transitionToOpen()
	case BreakerOpen:
	}
}

// State returns the current state, honoring cooldown expiry.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.openCooldown {
		return BreakerHalfOpen
	}
	return b.state
}

func (b *CircuitBreaker) record(success bool) {
	b.window[b.windowPos] = success
	b.windowPos = (b.windowPos + 1) % b.windowSize
	if b.windowFilled < b.windowSize {
		b.windowFilled++
	}
}

func (b *CircuitBreaker) failureRate() float64 {
	if b.windowFilled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.windowFilled; i++ {
		if !b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.windowFilled)
}

func (b *CircuitBreaker) transitionToOpen() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.probesInUse = 0
	b.probeResults = 0
	b.probeFails = 0
}

func (b *CircuitBreaker) transitionToHalfOpen() {
	b.state = BreakerHalfOpen
	b.probesInUse = 0
	b.probeResults = 0
	b.probeFails = 0
}

func (b *CircuitBreaker) transitionToClosed() {
	b.state = BreakerClosed
	b.window = make([]bool, b.windowSize)
	b.windowPos = 0
	b.windowFilled = 0
	b.probesInUse = 0
	b.probeResults = 0
	b.probeFails = 0
}
