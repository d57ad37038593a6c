package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresChannel reads change events straight from the backing database via
// LISTEN/NOTIFY, for deployments that run next to the database instead of
// going through the hosted realtime socket. Each watched stream is a NOTIFY
// channel of the same name whose payload is the trigger's JSON
// {operation, record_id, record}.
//
// Subscribe pins one pooled connection for the LISTEN session; unsubscribe
// releases it.
type PostgresChannel struct {
	pool *pgxpool.Pool
}

func NewPostgresChannel(pool *pgxpool.Pool) *PostgresChannel {
	return &PostgresChannel{pool: pool}
}

func (c *PostgresChannel) Subscribe(ctx context.Context, sub Subscription) (func(), error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	for _, stream := range sub.Streams {
		listen := "LISTEN " + pgx.Identifier{stream}.Sanitize()
		if _, err := conn.Exec(ctx, listen); err != nil {
			conn.Release()
			return nil, fmt.Errorf("listen %s: %w", stream, err)
		}
	}

	listenCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop := func() {
		once.Do(cancel)
	}

	go func() {
		defer conn.Release()

		if sub.OnStatus != nil {
			sub.OnStatus(ChannelSubscribed)
		}

		for {
			notification, err := conn.Conn().WaitForNotification(listenCtx)
			if err != nil {
				if sub.OnStatus == nil {
					return
				}
				if listenCtx.Err() != nil {
					sub.OnStatus(ChannelClosed)
				} else {
					sub.OnStatus(ChannelError)
				}
				return
			}

			ev, err := decodeNotification(notification.Channel, notification.Payload)
			if err != nil {
				continue
			}
			if sub.OnEvent != nil {
				sub.OnEvent(ev)
			}
		}
	}()

	return stop, nil
}

func decodeNotification(channel, payload string) (Event, error) {
	var wire struct {
		Operation string          `json:"operation"`
		RecordID  string          `json:"record_id"`
		Record    json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		Stream:    channel,
		Type:      changeTypeFromWire(wire.Operation),
		RecordID:  wire.RecordID,
		Payload:   wire.Record,
		Timestamp: time.Now(),
	}, nil
}
