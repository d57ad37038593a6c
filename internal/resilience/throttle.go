package resilience

import (
	"sync"
	"time"

	"github.com/enviofleett/ordersync/internal/clock"
)

// ThrottleConfig bounds automated recovery routines.
//
// MaxAttempts is the number of repair attempts allowed per entity before the
// throttle refuses further work. Cooldown is how long after the last attempt
// the counter expires. Both defaults are deliberately small: a systemic
// failure should degrade into "stop trying and surface to a human", not a
// repair loop hammering the backend.
type ThrottleConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MaxAttempts: 2,
		Cooldown:    10 * time.Minute,
	}
}

type attemptRecord struct {
	attempts    int
	lastAttempt time.Time
}

// Throttle tracks recovery attempts per entity id (e.g. an order id). It is
// keyed independently from the circuit breaker: the breaker guards a remote
// resource, the throttle guards a repair loop for one entity.
//
// Throttle never rejects with an error; it only advises the caller whether to
// proceed. The caller owns the recovery action and its outcome.
type Throttle struct {
	config ThrottleConfig
	clock  clock.Clock

	mu      sync.Mutex
	records map[string]*attemptRecord
}

// NewThrottle creates a throttle. Pass clock.RealClock{} outside tests.
func NewThrottle(config ThrottleConfig, clk clock.Clock) *Throttle {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = DefaultThrottleConfig().MaxAttempts
	}
	if config.Cooldown == 0 {
		config.Cooldown = DefaultThrottleConfig().Cooldown
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Throttle{
		config:  config,
		clock:   clk,
		records: make(map[string]*attemptRecord),
	}
}

// CanAttempt reports whether another recovery attempt is permitted for the
// entity. An expired cooldown deletes the record as a side effect, resetting
// the counter.
func (t *Throttle) CanAttempt(entityID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[entityID]
	if !exists {
		return true
	}
	if t.clock.Now().Sub(rec.lastAttempt) > t.config.Cooldown {
		delete(t.records, entityID)
		return true
	}
	return rec.attempts < t.config.MaxAttempts
}

// RecordAttempt counts an attempt for the entity, creating the record if absent.
func (t *Throttle) RecordAttempt(entityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[entityID]
	if !exists {
		rec = &attemptRecord{}
		t.records[entityID] = rec
	}
	rec.attempts++
	rec.lastAttempt = t.clock.Now()
}

// Reset clears the record after a confirmed successful recovery, independent
// of the cooldown window.
func (t *Throttle) Reset(entityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, entityID)
}

// Attempts returns the recorded attempt count for an entity. Zero when no
// record exists.
func (t *Throttle) Attempts(entityID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, exists := t.records[entityID]; exists {
		return rec.attempts
	}
	return 0
}
