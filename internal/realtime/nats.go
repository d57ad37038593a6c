package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSChannel delivers change events over NATS subjects. Each watched stream
// maps to one subject "<prefix>.<stream>" carrying JSON-encoded Events.
//
// The channel owns only its subscriptions; the *nats.Conn is injected and
// shared, so connection-level reconnect handling stays with the owner while
// this channel reports DISCONNECTED/CLOSED transitions as channel errors.
type NATSChannel struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSChannel creates a channel over an established NATS connection.
// prefix defaults to "changes".
func NewNATSChannel(conn *nats.Conn, prefix string) *NATSChannel {
	if prefix == "" {
		prefix = "changes"
	}
	return &NATSChannel{conn: conn, prefix: prefix}
}

func (c *NATSChannel) Subscribe(ctx context.Context, sub Subscription) (func(), error) {
	if c.conn == nil || c.conn.IsClosed() {
		return nil, fmt.Errorf("nats connection closed")
	}

	subs := make([]*nats.Subscription, 0, len(sub.Streams))
	teardown := func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}

	for _, stream := range sub.Streams {
		stream := stream
		subject := fmt.Sprintf("%s.%s", c.prefix, stream)
		s, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
			ev, err := decodeNATSEvent(stream, msg.Data)
			if err != nil {
				return
			}
			if sub.OnEvent != nil {
				sub.OnEvent(ev)
			}
		})
		if err != nil {
			teardown()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, s)
	}

	if err := c.conn.FlushTimeout(5 * time.Second); err != nil {
		teardown()
		return nil, fmt.Errorf("flush subscriptions: %w", err)
	}

	// Watch connection state so the manager sees channel-level failures.
	statusCh := c.conn.StatusChanged(nats.DISCONNECTED, nats.CLOSED, nats.RECONNECTING)
	watchDone := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-watchDone:
				return
			case <-ctx.Done():
				return
			case st, ok := <-statusCh:
				if !ok {
					return
				}
				if sub.OnStatus == nil {
					continue
				}
				switch st {
				case nats.CLOSED:
					sub.OnStatus(ChannelClosed)
					return
				default:
					sub.OnStatus(ChannelError)
				}
			}
		}
	}()

	if sub.OnStatus != nil {
		sub.OnStatus(ChannelSubscribed)
	}

	return func() {
		once.Do(func() {
			close(watchDone)
			teardown()
		})
	}, nil
}

// decodeNATSEvent accepts either a full Event or the backend trigger's raw
// {operation, record} payload.
func decodeNATSEvent(stream string, data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	if ev.Type == "" {
		var wire struct {
			Operation string          `json:"operation"`
			RecordID  string          `json:"record_id"`
			Record    json.RawMessage `json:"record"`
		}
		if err := json.Unmarshal(data, &wire); err != nil {
			return Event{}, err
		}
		ev.Type = changeTypeFromWire(wire.Operation)
		ev.RecordID = wire.RecordID
		ev.Payload = wire.Record
	}
	if ev.Stream == "" {
		ev.Stream = stream
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev, nil
}
