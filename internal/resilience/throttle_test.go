package resilience

import (
	"testing"
	"time"

	"github.com/enviofleett/ordersync/internal/clock"
)

func newTestThrottle(maxAttempts int, cooldown time.Duration) (*Throttle, *clock.MockClock) {
	clk := &clock.MockClock{NowTime: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	return NewThrottle(ThrottleConfig{MaxAttempts: maxAttempts, Cooldown: cooldown}, clk), clk
}

func TestThrottle_AllowsFirstAttempt(t *testing.T) {
	throttle, _ := newTestThrottle(2, 10*time.Minute)

	if !throttle.CanAttempt("order-1") {
		t.Error("first attempt should be allowed")
	}
}

func TestThrottle_BlocksAfterMaxAttempts(t *testing.T) {
	throttle, _ := newTestThrottle(2, 10*time.Minute)

	throttle.RecordAttempt("order-1")
	if !throttle.CanAttempt("order-1") {
		t.Error("second attempt should be allowed")
	}

	throttle.RecordAttempt("order-1")
	if throttle.CanAttempt("order-1") {
		t.Error("attempts beyond max must be blocked")
	}
}

func TestThrottle_CooldownResets(t *testing.T) {
	throttle, clk := newTestThrottle(2, 10*time.Minute)

	throttle.RecordAttempt("order-1")
	throttle.RecordAttempt("order-1")
	if throttle.CanAttempt("order-1") {
		t.Fatal("should be blocked at max attempts")
	}

	clk.Advance(10*time.Minute + time.Millisecond)

	if !throttle.CanAttempt("order-1") {
		t.Error("cooldown expiry must reset the counter")
	}
	// The expired record was deleted as a side effect of the check.
	if got := throttle.Attempts("order-1"); got != 0 {
		t.Errorf("Attempts = %d, want 0 after cooldown reset", got)
	}
}

func TestThrottle_CooldownWindowSlidesWithLastAttempt(t *testing.T) {
	throttle, clk := newTestThrottle(2, 10*time.Minute)

	throttle.RecordAttempt("order-1")
	clk.Advance(9 * time.Minute)
	throttle.RecordAttempt("order-1")
	clk.Advance(9 * time.Minute)

	// 18 minutes since the first attempt, but only 9 since the last.
	if throttle.CanAttempt("order-1") {
		t.Error("cooldown is measured from the last attempt, not the first")
	}
}

func TestThrottle_ResetClearsImmediately(t *testing.T) {
	throttle, _ := newTestThrottle(2, 10*time.Minute)

	throttle.RecordAttempt("order-1")
	throttle.RecordAttempt("order-1")
	throttle.Reset("order-1")

	if !throttle.CanAttempt("order-1") {
		t.Error("explicit reset must allow attempts regardless of cooldown")
	}
}

func TestThrottle_IndependentPerEntity(t *testing.T) {
	throttle, _ := newTestThrottle(1, 10*time.Minute)

	throttle.RecordAttempt("order-1")
	if throttle.CanAttempt("order-1") {
		t.Error("order-1 should be exhausted")
	}
	if !throttle.CanAttempt("order-2") {
		t.Error("order-2 must not share order-1 state")
	}
}
