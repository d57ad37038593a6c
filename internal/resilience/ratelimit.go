package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RequestLimiterConfig defines client-side request throttling.
//
// RequestsPerSecond is the steady-state rate allowed per backend resource.
// BurstSize allows short spikes above the rate, e.g. a screenful of refetches
// after a cache invalidation.
type RequestLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRequestLimiterConfig() RequestLimiterConfig {
	return RequestLimiterConfig{
		RequestsPerSecond: 50,
		BurstSize:         10,
	}
}

// RequestLimiter maintains a token-bucket limiter per backend resource so a
// refetch storm against one table cannot starve calls to the others.
// Limiters are created lazily with double-checked locking.
type RequestLimiter struct {
	config   RequestLimiterConfig
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

func NewRequestLimiter(config RequestLimiterConfig) *RequestLimiter {
	return &RequestLimiter{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *RequestLimiter) get(resource string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[resource]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists = l.limiters[resource]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize)
	l.limiters[resource] = limiter
	return limiter
}

// Allow reports whether a request for the resource is allowed right now.
func (l *RequestLimiter) Allow(resource string) bool {
	return l.get(resource).Allow()
}

// Delay returns how long the caller would need to wait before the next
// request for the resource would be allowed.
func (l *RequestLimiter) Delay(resource string) time.Duration {
	reservation := l.get(resource).Reserve()
	if !reservation.OK() {
		return 0
	}
	delay := reservation.Delay()
	reservation.Cancel()
	return delay
}

// SetRate configures a custom rate for a specific resource.
func (l *RequestLimiter) SetRate(resource string, requestsPerSecond float64, burstSize int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[resource] = rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize)
}

// Remove deletes the limiter for a resource, freeing memory.
func (l *RequestLimiter) Remove(resource string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, resource)
}
