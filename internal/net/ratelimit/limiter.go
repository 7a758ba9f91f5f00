package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultDialRate is one connection attempt per second per endpoint
	DefaultDialRate = 1.0
	// DefaultDialBurst lets the first reconnects after a peer close go out immediately
	DefaultDialBurst = 3
)

// Limiter paces connection attempts per endpoint using a token bucket
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64 // attempts per second
	burst    int     // attempts allowed back to back
}

// NewLimiter creates a limiter with the specified rate and burst capacity
func NewLimiter(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// NewDialLimiter returns a limiter with the default dial pacing
func NewDialLimiter() *Limiter {
	return NewLimiter(DefaultDialRate, DefaultDialBurst)
}

// bucket returns or creates the token bucket for endpoint
func (l *Limiter) bucket(endpoint string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[endpoint]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists := l.limiters[endpoint]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[endpoint] = limiter
	return limiter
}

// Wait blocks until an attempt against endpoint is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context, endpoint string) error {
	return l.bucket(endpoint).Wait(ctx)
}

// Forget drops the bucket for endpoint so its next attempt starts with a full burst
func (l *Limiter) Forget(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, endpoint)
}

// Stats returns pacing state for every endpoint seen so far
func (l *Limiter) Stats() map[string]LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]LimiterStats, len(l.limiters))
	now := time.Now()
	for endpoint, limiter := range l.limiters {
		reservation := limiter.ReserveN(now, 1)
		delay := reservation.DelayFrom(now)
		reservation.CancelAt(now)

		stats[endpoint] = LimiterStats{
			Endpoint:        endpoint,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.TokensAt(now),
			NextAllowedAt:   now.Add(delay),
			Delay:           delay,
		}
	}
	return stats
}

// LimiterStats describes the pacing state of one endpoint
type LimiterStats struct {
	Endpoint        string        `json:"endpoint"`
	RPS             float64       `json:"rps"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	NextAllowedAt   time.Time     `json:"next_allowed_at"`
	Delay           time.Duration `json:"delay"`
}

// IsThrottled returns true if the next attempt would have to wait
func (s *LimiterStats) IsThrottled() bool {
	return s.Delay > 0
}
