// Package ratelimit bounds outbound request rate and concurrency per
// external endpoint class. Requests beyond the concurrency bound wait in
// arrival order; there is no priority lane.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"polyCopyBot/internal/ports"
)

// Limiter combines a minimum-interval rate limit with a concurrency bound.
type Limiter struct {
	interval *rate.Limiter
	sem      *semaphore.Weighted
}

// New creates a limiter enforcing at most one request start per minInterval
// and at most maxConcurrent requests in flight.
func New(minInterval time.Duration, maxConcurrent int64) (*Limiter, error) {
	if minInterval <= 0 {
		return nil, fmt.Errorf("%w: minInterval must be positive", ports.ErrConfigurationError)
	}
	if maxConcurrent <= 0 {
		return nil, fmt.Errorf("%w: maxConcurrent must be positive", ports.ErrConfigurationError)
	}
	return &Limiter{
		interval: rate.NewLimiter(rate.Every(minInterval), 1),
		sem:      semaphore.NewWeighted(maxConcurrent),
	}, nil
}

// Do runs fn once a concurrency slot and an interval token are available.
// A canceled context while waiting returns ErrContextCanceled without
// running fn.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
	}
	defer l.sem.Release(1)

	if err := l.interval.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
	}
	return fn()
}
