// Package resilience provides the circuit breaker, recovery throttle, and
// request rate limiter that guard calls to the hosted backend.
//
// The circuit breaker and the recovery throttle are deliberately distinct
// policies: the breaker counts consecutive failures per backend resource and
// resets on any success, while the throttle counts repair attempts per entity
// within a cooldown window regardless of outcome. One guards a remote
// dependency, the other bounds an automated repair loop.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Circuit Breaker Pattern
//
// State transitions:
//
//	[Closed] ---(consecutive failures >= threshold)---> [Open]
//	[Open] ---(timeout expires)---> [Half-Open, one trial]
//	[Half-Open] ---(trial success)---> [Closed, count reset]
//	[Half-Open] ---(trial failure)---> [Open]

// ErrCircuitOpen is returned when the breaker rejects a call without invoking
// the wrapped operation. It wraps gobreaker's sentinel so callers can match
// either.
var ErrCircuitOpen = gobreaker.ErrOpenState

// BreakerConfig defines breaker behavior.
//
// Threshold is the number of consecutive failures that opens the circuit.
// Timeout is how long the circuit stays open before allowing a trial call.
type BreakerConfig struct {
	Threshold uint32
	Timeout   time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 5,
		Timeout:   60 * time.Second,
	}
}

// BreakerStatus is a read-only snapshot for observability and tests.
type BreakerStatus struct {
	IsOpen          bool
	FailureCount    int
	LastFailureTime time.Time
}

// Breaker wraps a single backend resource with consecutive-failure circuit
// breaking. State is never shared between breakers.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker

	// failures tracks consecutive failures independently of gobreaker's
	// Counts, which start a fresh generation on every state change and so
	// read 0 while the circuit is open.
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
}

// BreakerState mirrors gobreaker's states under our own names.
type BreakerState string

const (
	BreakerStateClosed   BreakerState = "closed"
	BreakerStateOpen     BreakerState = "open"
	BreakerStateHalfOpen BreakerState = "half-open"
)

// NewBreaker creates a breaker for the named resource. onStateChange may be nil.
func NewBreaker(name string, config BreakerConfig, onStateChange func(name string, from, to BreakerState)) *Breaker {
	if config.Threshold == 0 {
		config.Threshold = DefaultBreakerConfig().Threshold
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultBreakerConfig().Timeout
	}

	b := &Breaker{name: name}
	settings := gobreaker.Settings{
		Name: name,
		// Exactly one trial call in half-open.
		MaxRequests: 1,
		// Interval 0: consecutive-failure counts are never cleared on a
		// cycle, only by success or state change.
		Interval: 0,
		Timeout:  config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.Threshold
		},
	}
	if onStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			onStateChange(name, toBreakerState(from), toBreakerState(to))
		}
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Execute runs op through the breaker. If the circuit is open the call is
// rejected immediately with ErrCircuitOpen and op is not invoked. A success
// resets the consecutive-failure count.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) (any, error)) (any, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return op(ctx)
	})
	if err != nil {
		// Rejections never invoked the operation, so they are not failures.
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			b.mu.Lock()
			b.failures++
			b.lastFailure = time.Now()
			b.mu.Unlock()
		}
		return nil, err
	}
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
	return result, nil
}

// Name returns the resource name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	return toBreakerState(b.cb.State())
}

// Status returns a read-only snapshot of the breaker.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	failures := b.failures
	lastFailure := b.lastFailure
	b.mu.Unlock()

	return BreakerStatus{
		IsOpen:          b.cb.State() == gobreaker.StateOpen,
		FailureCount:    failures,
		LastFailureTime: lastFailure,
	}
}

func toBreakerState(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return BreakerStateOpen
	case gobreaker.StateHalfOpen:
		return BreakerStateHalfOpen
	default:
		return BreakerStateClosed
	}
}

// BreakerSet maintains per-resource breakers: one per external dependency
// ("orders", "payments", "delivery_schedules"). An explicit, injectable
// registry rather than package-level state, so tests construct fresh sets.
type BreakerSet struct {
	config   BreakerConfig
	breakers map[string]*Breaker
	mu       sync.RWMutex

	onStateChange func(resource string, from, to BreakerState)
}

func NewBreakerSet(config BreakerConfig) *BreakerSet {
	return &BreakerSet{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// OnStateChange registers a callback for state transitions of any breaker in
// the set. Used to emit metrics and surface "service temporarily unavailable"
// signals. Must be called before the first Get.
func (s *BreakerSet) OnStateChange(fn func(resource string, from, to BreakerState)) {
	s.onStateChange = fn
}

// Get returns the breaker for a resource, creating one if needed.
// Uses double-checked locking so the hot path stays on the read lock.
func (s *BreakerSet) Get(resource string) *Breaker {
	s.mu.RLock()
	b, exists := s.breakers[resource]
	s.mu.RUnlock()

	if exists {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, exists = s.breakers[resource]; exists {
		return b
	}

	b = NewBreaker(resource, s.config, s.onStateChange)
	s.breakers[resource] = b
	return b
}

// Execute runs op through the breaker for the named resource.
func (s *BreakerSet) Execute(ctx context.Context, resource string, op func(ctx context.Context) (any, error)) (any, error) {
	return s.Get(resource).Execute(ctx, op)
}

// Status returns the status of the breaker for a resource.
func (s *BreakerSet) Status(resource string) BreakerStatus {
	return s.Get(resource).Status()
}

// Remove deletes the breaker for a resource, freeing memory.
func (s *BreakerSet) Remove(resource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, resource)
}
