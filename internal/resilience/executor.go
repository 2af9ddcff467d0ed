package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clearline/clearing-engine/internal/ratelimit"
	"go.uber.org/zap"
)

var (
	// ErrBulkheadFull is returned when a service's concurrency cap is hit.
	ErrBulkheadFull = errors.New("too many concurrent calls")
	// ErrRateLimited is returned when a service's call budget is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrCircuitOpen is returned when a service's breaker short-circuits.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

type serviceEntry struct {
	policy   Policy
	breaker  *CircuitBreaker
	bulkhead *Bulkhead
}

// Executor runs calls to named external services under an ordered policy
// pipeline: bulkhead, rate limiter, circuit breaker, retry, per-attempt
// timeout. Policy sets are created lazily per service name.
type Executor struct {
	mu        sync.Mutex
	entries   map[string]*serviceEntry
	overrides map[string]Policy

	limiter   ratelimit.RateLimiter
	health    *HealthTracker
	retryable func(error) bool
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewExecutor(
	limiter ratelimit.RateLimiter,
	overrides map[string]Policy,
	retryable func(error) bool,
	logger *zap.Logger,
) *Executor {
	if retryable == nil {
		retryable = defaultRetryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if overrides == nil {
		overrides = make(map[string]Policy)
	}

	return &Executor{
		entries:   make(map[string]*serviceEntry),
		overrides: overrides,
		limiter:   limiter,
		health:    NewHealthTracker(),
		retryable: retryable,
		logger:    logger,
		sleep:     sleepWithContext,
	}
}

// Health exposes the per-service health tracker for read-only snapshots.
func (e *Executor) Health() *HealthTracker {
	return e.health
}

// BreakerState returns the breaker position for a service, creating the
// policy set if the service has not been called yet.
func (e *Executor) BreakerState(service string) BreakerState {
	return e.entry(service).breaker.State()
}

func (e *Executor) entry(service string) *serviceEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[service]
	if !ok {
		policy := DefaultPolicy()
		if override, found := e.overrides[service]; found {
			policy = override.normalized()
		}
		entry = &serviceEntry{
			policy:   policy,
			breaker:  NewCircuitBreaker(policy),
			bulkhead: NewBulkhead(policy.MaxConcurrentCalls),
		}
		e.entries[service] = entry
	}
	return entry
}

// Result carries the outcome of an asynchronous execution.
type Result[T any] struct {
	Value T
	Err   error
}

// Execute runs call against the named service's policy pipeline. When every
// layer is exhausted and a fallback is supplied, its value is returned and
// no error propagates; without a fallback the original error surfaces.
func Execute[T any](
	ctx context.Context,
	e *Executor,
	service string,
	tenantID string,
	call func(ctx context.Context) (T, error),
	fallback func(err error) (T, error),
) (T, error) {
	var zero T
	if e == nil {
		return zero, fmt.Errorf("executor is not initialized")
	}
	if call == nil {
		return zero, fmt.Errorf("call function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	value, err := e.run(ctx, service, tenantID, func(attemptCtx context.Context) (any, error) {
		return call(attemptCtx)
	})
	if err == nil {
		typed, ok := value.(T)
		if !ok {
			return zero, fmt.Errorf("unexpected result type from service %q", service)
		}
		return typed, nil
	}

	if fallback != nil {
		return fallback(err)
	}
	return zero, err
}

// ExecuteAsync applies the same pipeline off the caller's goroutine. The
// returned channel yields exactly one result; cancelling ctx cancels the
// in-flight call.
func ExecuteAsync[T any](
	ctx context.Context,
	e *Executor,
	service string,
	tenantID string,
	call func(ctx context.Context) (T, error),
	fallback func(err error) (T, error),
) <-chan Result[T] {
	out := make(chan Result[T], 1)
	go func() {
		defer close(out)
		value, err := Execute(ctx, e, service, tenantID, call, fallback)
		out <- Result[T]{Value: value, Err: err}
	}()
	return out
}

func (e *Executor) run(
	ctx context.Context,
	service string,
	tenantID string,
	call func(ctx context.Context) (any, error),
) (any, error) {
	entry := e.entry(service)

	if !entry.bulkhead.TryAcquire() {
		e.logger.Warn("bulkhead rejected call",
			zap.String("service", service),
			zap.String("tenantId", tenantID),
		)
		return nil, fmt.Errorf("%w: service %q", ErrBulkheadFull, service)
	}
	defer entry.bulkhead.Release()

	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, service)
		if err != nil {
			return nil, fmt.Errorf("rate limiter check failed for service %q: %w", service, err)
		}
		if !allowed {
			e.logger.Warn("rate limiter rejected call",
				zap.String("service", service),
				zap.String("tenantId", tenantID),
			)
			return nil, fmt.Errorf("%w: service %q", ErrRateLimited, service)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= entry.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		}

		if !entry.breaker.Allow() {
			e.health.MarkUnavailable(service)
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, fmt.Errorf("%w: service %q", ErrCircuitOpen, service)
		}

		value, err := e.attempt(ctx, entry.policy.CallTimeout, call)
		if err == nil {
			entry.breaker.RecordSuccess()
			e.health.RecordSuccess(service)
			return value, nil
		}

		lastErr = err
		entry.breaker.RecordFailure()
		e.health.RecordFailure(service, err)
		if entry.breaker.State() == BreakerOpen {
			e.health.MarkUnavailable(service)
		}

		if !e.retryable(err) {
			break
		}
		if attempt == entry.policy.MaxAttempts {
			break
		}

		wait := entry.policy.RetryWaitBase * time.Duration(1<<uint(attempt-1))
		if sleepErr := e.sleep(ctx, wait); sleepErr != nil {
			break
		}
	}

	e.logger.Warn("resilient call exhausted",
		zap.String("service", service),
		zap.String("tenantId", tenantID),
		zap.Error(lastErr),
	)
	return nil, lastErr
}

func (e *Executor) attempt(
	ctx context.Context,
	timeout time.Duration,
	call func(ctx context.Context) (any, error),
) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return call(attemptCtx)
}

func defaultRetryable(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
