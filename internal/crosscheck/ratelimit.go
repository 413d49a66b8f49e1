package crosscheck

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter bounds the query rate globally and per server
type RateLimiter struct {
	global        *rate.Limiter
	perServer     map[string]*rate.Limiter
	mu            sync.RWMutex
	perServerRate float64
	burstSize     int
}

// NewRateLimiter creates a limiter allowing globalRate queries per second
// overall and perServerRate per server
func NewRateLimiter(globalRate, perServerRate float64, burstSize int) *RateLimiter {
	if burstSize <= 0 {
		burstSize = 1
	}
	return &RateLimiter{
		global:        rate.NewLimiter(rate.Limit(globalRate), burstSize),
		perServer:     make(map[string]*rate.Limiter),
		perServerRate: perServerRate,
		burstSize:     burstSize,
	}
}

// Wait waits for permission to make a query to the specified server
func (rl *RateLimiter) Wait(ctx context.Context, server string) error {
	if err := rl.global.Wait(ctx); err != nil {
		return fmt.Errorf("global rate limit: %w", err)
	}

	if err := rl.limiterFor(server).Wait(ctx); err != nil {
		return fmt.Errorf("per-server rate limit for %s: %w", server, err)
	}
	return nil
}

// Allow checks if a query is allowed without waiting
func (rl *RateLimiter) Allow(server string) bool {
	if !rl.global.Allow() {
		return false
	}
	return rl.limiterFor(server).Allow()
}

func (rl *RateLimiter) limiterFor(server string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.perServer[server]
	rl.mu.RUnlock()
	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.perServer[server]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(rl.perServerRate), rl.burstSize)
	rl.perServer[server] = limiter
	return limiter
}
