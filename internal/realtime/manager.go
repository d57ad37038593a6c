package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/enviofleett/ordersync/internal/cache"
	"github.com/enviofleett/ordersync/internal/clock"
)

// Connection status machine:
//
//	[connecting] ---(subscribe ack)---> [connected]
//	[connected] ---(channel error/close)---> [disconnected]
//	[disconnected] ---(reconnect timer, fixed delay)---> [connecting]
//
// Every reconnect tears down the previous subscription and creates a fresh
// one; no partial state is reused. At most one reconnect timer exists at a
// time, and Close cancels it on every path. Reconnection deliberately uses a
// fixed delay rather than the retry executor's exponential backoff: a single
// outstanding timer against a down channel is already cheap and bounded.

// StreamBinding maps one entity stream to the cached query keys its change
// events invalidate. KeysFor, when set, derives keys per event (e.g. a
// record-scoped detail query); otherwise QueryKeys is used as-is.
type StreamBinding struct {
	Stream    string
	QueryKeys []string
	KeysFor   func(Event) []string
}

// Options configures a Manager.
type Options struct {
	// Name is the logical channel name, e.g. "orders-sync".
	Name string
	// Bindings lists the watched streams and their invalidation targets.
	Bindings []StreamBinding
	// Invalidator receives the affected query keys for every change event.
	Invalidator cache.Invalidator
	// OnEvent, if set, observes every change event after invalidation,
	// e.g. to surface a transient user notification.
	OnEvent func(Event)
	// OnStatusChange, if set, observes connection status transitions.
	OnStatusChange func(Status)
	// ReconnectDelay is the fixed delay before a reconnect attempt (default 5s).
	ReconnectDelay time.Duration
	Logger         *slog.Logger
	Clock          clock.Clock
}

// Manager owns one channel subscription and its reconnect loop.
type Manager struct {
	opts    Options
	channel Channel
	logger  *slog.Logger
	clock   clock.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	status      Status
	lastUpdate  time.Time
	unsubscribe func()
	reconnect   clock.Timer
	closed      bool
	streams     []string
	keysFor     map[string]StreamBinding
}

// NewManager creates a manager over the given channel. Call Start to subscribe.
func NewManager(channel Channel, opts Options) *Manager {
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	m := &Manager{
		opts:    opts,
		channel: channel,
		logger:  opts.Logger.With("channel", opts.Name),
		clock:   opts.Clock,
		status:  StatusDisconnected,
		keysFor: make(map[string]StreamBinding),
	}
	for _, b := range opts.Bindings {
		m.streams = append(m.streams, b.Stream)
		m.keysFor[b.Stream] = b
	}
	return m
}

// Start subscribes the channel. The passed context scopes the subscription's
// lifetime: cancelling it is equivalent to Close.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.ctx != nil {
		m.mu.Unlock()
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	context.AfterFunc(m.ctx, func() {
		m.Close()
	})
	m.connect()
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastUpdate returns when the last change event arrived; zero before the first.
func (m *Manager) LastUpdate() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUpdate
}

// Reconnect tears down the subscription and resubscribes now, cancelling any
// pending reconnect timer. Exposed so a UI "reconnect" action maps directly
// onto it.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	old := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if old != nil {
		old()
	}
	m.connect()
}

// Close releases the subscription and cancels any pending reconnect timer.
// Idempotent and safe to call while a reconnect is mid-flight; a subscription
// that lands after Close is torn down immediately.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	old := m.unsubscribe
	m.unsubscribe = nil
	m.setStatusLocked(StatusDisconnected)
	cancel := m.cancel
	m.mu.Unlock()

	if old != nil {
		old()
	}
	if cancel != nil {
		cancel()
	}
	m.logger.Info("realtime subscription released")
}

func (m *Manager) connect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.setStatusLocked(StatusConnecting)
	ctx := m.ctx
	m.mu.Unlock()

	unsubscribe, err := m.channel.Subscribe(ctx, Subscription{
		Name:     m.opts.Name,
		Streams:  m.streams,
		OnEvent:  m.handleEvent,
		OnStatus: m.handleChannelStatus,
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	if err != nil {
		m.logger.Warn("subscribe failed", "error", err)
		m.setStatusLocked(StatusDisconnected)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return
	}
	if m.unsubscribe != nil {
		// A concurrent connect (manual Reconnect racing the timer) already
		// installed a subscription. Keep that one and release ours, so Close
		// always holds the only live handle.
		m.mu.Unlock()
		unsubscribe()
		return
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
}

func (m *Manager) handleChannelStatus(cs ChannelStatus) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	switch cs {
	case ChannelSubscribed:
		m.setStatusLocked(StatusConnected)
		m.mu.Unlock()
		m.logger.Info("realtime channel subscribed")
	case ChannelError, ChannelClosed:
		m.setStatusLocked(StatusDisconnected)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.logger.Warn("realtime channel lost", "status", string(cs))
	default:
		m.mu.Unlock()
	}
}

// scheduleReconnectLocked arms the single reconnect timer. Channel errors
// while a timer is already pending are absorbed; the one timer covers them.
func (m *Manager) scheduleReconnectLocked() {
	if m.reconnect != nil || m.closed {
		return
	}
	m.reconnect = m.clock.AfterFunc(m.opts.ReconnectDelay, func() {
		m.mu.Lock()
		m.reconnect = nil
		if m.closed {
			m.mu.Unlock()
			return
		}
		old := m.unsubscribe
		m.unsubscribe = nil
		m.mu.Unlock()

		if old != nil {
			old()
		}
		m.connect()
	})
}

func (m *Manager) handleEvent(ev Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.lastUpdate = m.clock.Now()
	ctx := m.ctx
	m.mu.Unlock()

	keys := m.keysForEvent(ev)
	if len(keys) > 0 && m.opts.Invalidator != nil {
		if err := m.opts.Invalidator.Invalidate(ctx, keys...); err != nil {
			m.logger.Warn("cache invalidation failed",
				"stream", ev.Stream,
				"type", string(ev.Type),
				"error", err,
			)
		}
	}

	m.logger.Debug("change event handled",
		"stream", ev.Stream,
		"type", string(ev.Type),
		"record_id", ev.RecordID,
		"keys", len(keys),
	)

	if m.opts.OnEvent != nil {
		m.opts.OnEvent(ev)
	}
}

func (m *Manager) keysForEvent(ev Event) []string {
	binding, ok := m.keysFor[ev.Stream]
	if !ok {
		return nil
	}
	if binding.KeysFor != nil {
		return binding.KeysFor(ev)
	}
	return binding.QueryKeys
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	if m.opts.OnStatusChange != nil {
		// Deliver outside the lock to keep observers free to call back in.
		go m.opts.OnStatusChange(s)
	}
}
