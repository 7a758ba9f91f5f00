package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acquire takes a token for endpoint only if one is available right now
func acquire(l *Limiter, endpoint string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	return l.Wait(ctx, endpoint) == nil
}

func TestLimiter_BurstThenThrottle(t *testing.T) {
	limiter := NewLimiter(1.0, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, acquire(limiter, "exchange:443"), "attempt %d should fit in the burst", i+1)
	}
	assert.False(t, acquire(limiter, "exchange:443"), "fourth attempt should be throttled")
}

func TestLimiter_EndpointsAreIndependent(t *testing.T) {
	limiter := NewLimiter(1.0, 1)

	assert.True(t, acquire(limiter, "a:443"))
	assert.True(t, acquire(limiter, "b:443"))
	assert.False(t, acquire(limiter, "a:443"))
	assert.False(t, acquire(limiter, "b:443"))
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(10.0, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx, "ws:80"))
	assert.Less(t, time.Since(start), 20*time.Millisecond)

	start = time.Now()
	require.NoError(t, limiter.Wait(ctx, "ws:80"))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond)
}

func TestLimiter_WaitCancelled(t *testing.T) {
	limiter := NewLimiter(0.1, 1)
	require.True(t, acquire(limiter, "slow:80"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := limiter.Wait(ctx, "slow:80")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLimiter_Forget(t *testing.T) {
	limiter := NewLimiter(0.1, 1)
	assert.True(t, acquire(limiter, "x:1"))
	assert.False(t, acquire(limiter, "x:1"))

	limiter.Forget("x:1")
	assert.NotContains(t, limiter.Stats(), "x:1")
	assert.True(t, acquire(limiter, "x:1"))
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewLimiter(100.0, 10)

	var allowed, blocked int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if acquire(limiter, "busy:443") {
					atomic.AddInt64(&allowed, 1)
				} else {
					atomic.AddInt64(&blocked, 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(250), allowed+blocked)
	assert.GreaterOrEqual(t, allowed, int64(10))
	assert.Greater(t, blocked, int64(0))
}

func TestLimiter_Stats(t *testing.T) {
	limiter := NewLimiter(5.0, 10)
	acquire(limiter, "stats:443")
	acquire(limiter, "stats:443")

	stats := limiter.Stats()
	s, ok := stats["stats:443"]
	require.True(t, ok)

	assert.Equal(t, "stats:443", s.Endpoint)
	assert.Equal(t, 5.0, s.RPS)
	assert.Equal(t, 10, s.Burst)
	assert.Less(t, s.TokensAvailable, 10.0)
	assert.False(t, s.IsThrottled())
}

func TestLimiter_StatsThrottled(t *testing.T) {
	limiter := NewLimiter(0.1, 1)
	require.True(t, acquire(limiter, "busy:443"))

	s := limiter.Stats()["busy:443"]
	assert.True(t, s.IsThrottled())
	assert.Greater(t, s.Delay, time.Second)
}

func TestNewDialLimiter(t *testing.T) {
	limiter := NewDialLimiter()
	for i := 0; i < DefaultDialBurst; i++ {
		assert.True(t, acquire(limiter, "dial:443"))
	}
	assert.False(t, acquire(limiter, "dial:443"))
}
