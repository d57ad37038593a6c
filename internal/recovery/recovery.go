// Package recovery repairs orders whose delivery schedule went missing, a
// known failure mode when schedule assignment races order creation. The
// routine is deliberately bounded: each order gets a small number of repair
// attempts inside a cooldown window, so a persistently failing backend
// degrades into "stop trying and surface to a human" instead of a hot loop.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/enviofleett/ordersync/internal/backend"
	"github.com/enviofleett/ordersync/internal/cache"
	"github.com/enviofleett/ordersync/internal/classify"
	"github.com/enviofleett/ordersync/internal/observability"
	"github.com/enviofleett/ordersync/internal/resilience"
	"github.com/enviofleett/ordersync/internal/retry"
)

// scheduleResource names the breaker guarding schedule-recovery RPCs.
const scheduleResource = "delivery_schedules"

// Config holds configuration for the recovery poller.
type Config struct {
	// PollInterval is how often to scan for orders needing repair (default: 30s).
	PollInterval time.Duration
	// BatchSize is the maximum number of orders to repair per poll (default: 20).
	BatchSize int
	// Retry configures the per-order repair call.
	Retry retry.Config
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		BatchSize:    20,
		Retry: retry.Config{
			MaxAttempts:        2,
			BaseDelay:          500 * time.Millisecond,
			ExponentialBackoff: true,
			Timeout:            10 * time.Second,
		},
	}
}

// Outcome reports how a poll cycle went, for logging and metrics.
type Outcome struct {
	Scanned   int
	Recovered int
	Failed    int
	Throttled int
}

// Recoverer finds and repairs orders with missing delivery schedules.
type Recoverer struct {
	config      Config
	client      backend.Client
	breakers    *resilience.BreakerSet
	throttle    *resilience.Throttle
	invalidator cache.Invalidator
	logger      *slog.Logger

	// onOutcome, when set, observes every poll cycle. Wired to metrics.
	onOutcome func(Outcome)

	wg     sync.WaitGroup
	stopCh chan struct{}
}

func NewRecoverer(
	client backend.Client,
	breakers *resilience.BreakerSet,
	throttle *resilience.Throttle,
	invalidator cache.Invalidator,
	config Config,
	logger *slog.Logger,
) *Recoverer {
	if config.PollInterval == 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = DefaultConfig().Retry
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recoverer{
		config:      config,
		client:      client,
		breakers:    breakers,
		throttle:    throttle,
		invalidator: invalidator,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// OnOutcome registers an observer for poll-cycle outcomes.
func (r *Recoverer) OnOutcome(fn func(Outcome)) {
	r.onOutcome = fn
}

// Start begins polling. Blocks until Stop is called or ctx is cancelled.
func (r *Recoverer) Start(ctx context.Context) {
	r.logger.Info("schedule recovery started",
		"poll_interval", r.config.PollInterval,
		"batch_size", r.config.BatchSize,
	)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("schedule recovery stopping due to context cancellation")
			return
		case <-r.stopCh:
			r.logger.Info("schedule recovery stopping due to stop signal")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

// Stop signals the poller to stop and waits for in-flight repairs.
func (r *Recoverer) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Recoverer) poll(ctx context.Context) {
	orders, err := r.findMissing(ctx)
	if err != nil {
		c := classify.Classify(err)
		r.logger.Error("failed to scan for missing schedules",
			"error", err,
			"kind", string(c.Kind),
		)
		return
	}
	if len(orders) == 0 {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		outcome := r.repairBatch(ctx, orders)
		r.logger.Info("recovery batch processed",
			"scanned", outcome.Scanned,
			"recovered", outcome.Recovered,
			"failed", outcome.Failed,
			"throttled", outcome.Throttled,
		)
		if r.onOutcome != nil {
			r.onOutcome(outcome)
		}
	}()
}

func (r *Recoverer) findMissing(ctx context.Context) ([]string, error) {
	data, err := r.client.RPC(ctx, "orders_missing_schedule", map[string]any{
		"limit": r.config.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode missing-schedule rows: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func (r *Recoverer) repairBatch(ctx context.Context, orderIDs []string) Outcome {
	outcome := Outcome{Scanned: len(orderIDs)}
	for _, orderID := range orderIDs {
		if ctx.Err() != nil {
			return outcome
		}
		switch r.repairOne(ctx, orderID) {
		case repairRecovered:
			outcome.Recovered++
		case repairFailed:
			outcome.Failed++
		case repairThrottled:
			outcome.Throttled++
		}
	}
	return outcome
}

type repairResult int

const (
	repairRecovered repairResult = iota
	repairFailed
	repairThrottled
)

func (r *Recoverer) repairOne(ctx context.Context, orderID string) repairResult {
	if !r.throttle.CanAttempt(orderID) {
		r.logger.Warn("recovery throttled, needs manual attention",
			"order_id", orderID,
			"attempts", r.throttle.Attempts(orderID),
		)
		return repairThrottled
	}
	r.throttle.RecordAttempt(orderID)

	// The order id rides the context so retry observers and any downstream
	// logging can attribute attempts to the order under repair.
	ctx = observability.ContextWithOrderID(ctx, orderID)

	_, err := retry.DoWithResult(ctx, r.config.Retry, func(ctx context.Context) (any, error) {
		return r.breakers.Execute(ctx, scheduleResource, func(ctx context.Context) (any, error) {
			return r.client.RPC(ctx, "recover_order_schedule", map[string]any{
				"order_id": orderID,
			})
		})
	})
	if err != nil {
		c := classify.Classify(err)
		r.logger.Error("schedule recovery failed",
			"order_id", orderID,
			"kind", string(c.Kind),
			"severity", string(c.Severity),
			"error", err,
		)
		return repairFailed
	}

	r.throttle.Reset(orderID)
	if r.invalidator != nil {
		keys := []string{"orders", "order:" + orderID, "delivery_schedules"}
		if err := r.invalidator.Invalidate(ctx, keys...); err != nil {
			r.logger.Warn("post-recovery invalidation failed", "order_id", orderID, "error", err)
		}
	}
	r.logger.Info("order schedule recovered", "order_id", orderID)
	return repairRecovered
}
