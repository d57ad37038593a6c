package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enviofleett/ordersync/internal/observability"
	"github.com/enviofleett/ordersync/internal/realtime"
	"github.com/enviofleett/ordersync/internal/resilience"
)

// stubChannel acks every subscription immediately.
type stubChannel struct {
	subscribes int
}

func (c *stubChannel) Subscribe(ctx context.Context, sub realtime.Subscription) (func(), error) {
	c.subscribes++
	sub.OnStatus(realtime.ChannelSubscribed)
	return func() {}, nil
}

func newTestRouter(t *testing.T) (*stubChannel, *resilience.BreakerSet, http.Handler) {
	t.Helper()

	channel := &stubChannel{}
	manager := realtime.NewManager(channel, realtime.Options{
		Name:           "orders",
		Bindings:       []realtime.StreamBinding{{Stream: "orders", QueryKeys: []string{"orders"}}},
		ReconnectDelay: time.Minute,
	})
	manager.Start(context.Background())
	t.Cleanup(manager.Close)

	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{Threshold: 1, Timeout: time.Minute})

	handler := NewHandler(
		map[string]*realtime.Manager{"orders": manager},
		breakers,
		[]string{"orders"},
		nil,
	)
	router := NewRouter(RouterConfig{
		Handler:       handler,
		HealthHandler: observability.NewHealthHandler(),
	})
	return channel, breakers, router
}

func TestGetStatus(t *testing.T) {
	_, breakers, router := newTestRouter(t)

	// Trip the orders breaker so the report has something to say.
	_, err := breakers.Execute(context.Background(), "orders", func(ctx context.Context) (any, error) {
		return nil, errors.New("backend down")
	})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sync/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Channels map[string]struct {
			Status string `json:"status"`
		} `json:"channels"`
		Breakers map[string]struct {
			IsOpen          bool       `json:"is_open"`
			LastFailureTime *time.Time `json:"last_failure_time"`
		} `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "connected", resp.Channels["orders"].Status)
	assert.True(t, resp.Breakers["orders"].IsOpen)
	assert.NotNil(t, resp.Breakers["orders"].LastFailureTime)
}

func TestReconnect(t *testing.T) {
	channel, _, router := newTestRouter(t)
	require.Equal(t, 1, channel.subscribes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync/channels/orders/reconnect", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 2, channel.subscribes, "reconnect resubscribes the channel")
}

func TestReconnect_UnknownChannel(t *testing.T) {
	_, _, router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync/channels/payments/reconnect", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthRoute(t *testing.T) {
	_, _, router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
