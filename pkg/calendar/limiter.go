package calendar

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiters hands out one token bucket per owner. Every outbound provider call
// made on behalf of an owner waits on the same bucket, whichever trigger issued it.
type Limiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewLimiters creates a registry allowing perSecond calls with the given burst
func NewLimiters(perSecond float64, burst int) *Limiters {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Limiters{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// For returns the owner's limiter, creating it on first use
func (l *Limiters) For(ownerID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[ownerID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ownerID] = limiter
	}
	return limiter
}

// Wait blocks until the owner may issue another call or ctx is done
func (l *Limiters) Wait(ctx context.Context, ownerID string) error {
	if err := l.For(ownerID).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait for owner %s: %w", ownerID, err)
	}
	return nil
}
