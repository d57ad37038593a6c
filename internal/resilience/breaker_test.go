package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func failingOp(err error) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		return nil, err
	}
}

func succeedingOp(result any) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		return result, nil
	}
}

func TestBreaker_PassesThroughWhenClosed(t *testing.T) {
	b := NewBreaker("orders", DefaultBreakerConfig(), nil)

	result, err := b.Execute(context.Background(), succeedingOp("ok"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %v, want ok", result)
	}
	if b.Status().IsOpen {
		t.Error("breaker should stay closed on success")
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := NewBreaker("orders", BreakerConfig{Threshold: 5, Timeout: time.Minute}, nil)
	opErr := errors.New("backend down")

	for i := 0; i < 5; i++ {
		_, _ = b.Execute(context.Background(), failingOp(opErr))
	}

	if !b.Status().IsOpen {
		t.Fatal("breaker should be open after threshold consecutive failures")
	}

	// Open circuit rejects immediately without invoking the operation.
	invoked := false
	_, err := b.Execute(context.Background(), func(ctx context.Context) (any, error) {
		invoked = true
		return nil, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Error("operation must not be invoked while the circuit is open")
	}
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b := NewBreaker("orders", BreakerConfig{Threshold: 3, Timeout: time.Minute}, nil)
	opErr := errors.New("backend down")

	_, _ = b.Execute(context.Background(), failingOp(opErr))
	_, _ = b.Execute(context.Background(), failingOp(opErr))
	_, _ = b.Execute(context.Background(), succeedingOp("ok"))
	_, _ = b.Execute(context.Background(), failingOp(opErr))
	_, _ = b.Execute(context.Background(), failingOp(opErr))

	if b.Status().IsOpen {
		t.Error("two failures after a success must not open a threshold-3 breaker")
	}
}

func TestBreaker_HalfOpenTrialRecovers(t *testing.T) {
	b := NewBreaker("orders", BreakerConfig{Threshold: 2, Timeout: 100 * time.Millisecond}, nil)
	opErr := errors.New("backend down")

	_, _ = b.Execute(context.Background(), failingOp(opErr))
	_, _ = b.Execute(context.Background(), failingOp(opErr))
	if !b.Status().IsOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(150 * time.Millisecond)

	// The trial call passes through and closes the circuit on success.
	result, err := b.Execute(context.Background(), succeedingOp("recovered"))
	if err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if result != "recovered" {
		t.Errorf("result = %v, want recovered", result)
	}

	status := b.Status()
	if status.IsOpen {
		t.Error("breaker should be closed after successful trial")
	}
	if status.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0 after recovery", status.FailureCount)
	}
}

func TestBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	b := NewBreaker("orders", BreakerConfig{Threshold: 2, Timeout: 50 * time.Millisecond}, nil)
	opErr := errors.New("backend down")

	_, _ = b.Execute(context.Background(), failingOp(opErr))
	_, _ = b.Execute(context.Background(), failingOp(opErr))
	time.Sleep(70 * time.Millisecond)

	_, _ = b.Execute(context.Background(), failingOp(opErr))

	if !b.Status().IsOpen {
		t.Error("failed trial must reopen the circuit")
	}
}

func TestBreaker_StatusReportsFailureCountWhileOpen(t *testing.T) {
	b := NewBreaker("orders", BreakerConfig{Threshold: 3, Timeout: time.Minute}, nil)
	opErr := errors.New("backend down")

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(context.Background(), failingOp(opErr))
	}

	status := b.Status()
	if !status.IsOpen {
		t.Fatal("breaker should be open")
	}
	if status.FailureCount != 3 {
		t.Errorf("FailureCount = %d, want 3 while open", status.FailureCount)
	}

	// Open-circuit rejections are not failures and must not inflate the count.
	_, _ = b.Execute(context.Background(), succeedingOp("ok"))
	if got := b.Status().FailureCount; got != 3 {
		t.Errorf("FailureCount = %d after rejection, want 3", got)
	}
}

func TestBreaker_StatusTracksLastFailureTime(t *testing.T) {
	b := NewBreaker("orders", DefaultBreakerConfig(), nil)

	if !b.Status().LastFailureTime.IsZero() {
		t.Error("LastFailureTime should be zero before any failure")
	}

	before := time.Now()
	_, _ = b.Execute(context.Background(), failingOp(errors.New("backend down")))

	last := b.Status().LastFailureTime
	if last.Before(before) {
		t.Errorf("LastFailureTime = %v, want >= %v", last, before)
	}
}

func TestBreakerSet_IndependentPerResource(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{Threshold: 2, Timeout: time.Minute})
	opErr := errors.New("backend down")

	_, _ = set.Execute(context.Background(), "payments", failingOp(opErr))
	_, _ = set.Execute(context.Background(), "payments", failingOp(opErr))

	if !set.Status("payments").IsOpen {
		t.Error("payments breaker should be open")
	}
	if set.Status("orders").IsOpen {
		t.Error("orders breaker must not share payments state")
	}
}

func TestBreakerSet_OnStateChange(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{Threshold: 2, Timeout: time.Minute})

	var mu sync.Mutex
	var transitions []BreakerState
	set.OnStateChange(func(resource string, from, to BreakerState) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	opErr := errors.New("backend down")
	_, _ = set.Execute(context.Background(), "orders", failingOp(opErr))
	_, _ = set.Execute(context.Background(), "orders", failingOp(opErr))

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) == 0 || transitions[0] != BreakerStateOpen {
		t.Errorf("transitions = %v, want first transition to open", transitions)
	}
}

func TestBreakerSet_ConcurrentAccess(t *testing.T) {
	set := NewBreakerSet(DefaultBreakerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = set.Execute(context.Background(), "orders", succeedingOp("ok"))
		}()
	}
	wg.Wait()
}

func TestBreakerSet_Remove(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{Threshold: 1, Timeout: time.Minute})

	_, _ = set.Execute(context.Background(), "orders", failingOp(errors.New("backend down")))
	if !set.Status("orders").IsOpen {
		t.Fatal("breaker should be open")
	}

	set.Remove("orders")
	if set.Status("orders").IsOpen {
		t.Error("a fresh breaker after Remove should be closed")
	}
}
