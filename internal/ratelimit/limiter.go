package ratelimit

import "context"

// RateLimiter controls outbound call throughput per named service.
type RateLimiter interface {
	Allow(ctx context.Context, service string) (bool, error)
	Wait(ctx context.Context, service string) error
}
