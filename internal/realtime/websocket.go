package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebsocketChannel speaks the hosted backend's realtime protocol: one
// websocket connection, a join frame per watched stream, a periodic heartbeat,
// and change events pushed as JSON frames. Unlike NATSChannel it owns the
// whole connection, so every Subscribe dials fresh and every unsubscribe
// closes the socket. That matches the teardown/recreate contract the
// manager's reconnect loop expects.
type WebsocketChannel struct {
	url       string
	apiKey    string
	dialer    *websocket.Dialer
	heartbeat time.Duration
}

// NewWebsocketChannel creates a channel that dials url on each Subscribe.
func NewWebsocketChannel(url, apiKey string) *WebsocketChannel {
	return &WebsocketChannel{
		url:    url,
		apiKey: apiKey,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		heartbeat: 30 * time.Second,
	}
}

// wsFrame is the realtime protocol's message envelope.
type wsFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

func (c *WebsocketChannel) Subscribe(ctx context.Context, sub Subscription) (func(), error) {
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime socket: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial realtime socket: %w", err)
	}

	var writeMu sync.Mutex
	writeFrame := func(f wsFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(f)
	}

	topics := make(map[string]string, len(sub.Streams))
	for _, stream := range sub.Streams {
		topic := "realtime:" + stream
		topics[topic] = stream
		if err := writeFrame(wsFrame{Topic: topic, Event: "phx_join", Ref: uuid.NewString()}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("join %s: %w", topic, err)
		}
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			conn.Close()
		})
	}

	// Heartbeat keeps the server-side subscription alive.
	go func() {
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				stop()
				return
			case <-ticker.C:
				if err := writeFrame(wsFrame{Topic: "phoenix", Event: "heartbeat", Ref: uuid.NewString()}); err != nil {
					return
				}
			}
		}
	}()

	// Read loop: the first successful join reply acknowledges the
	// subscription; a read error reports CHANNEL_ERROR and ends the loop.
	go func() {
		acked := false
		for {
			var frame wsFrame
			if err := conn.ReadJSON(&frame); err != nil {
				select {
				case <-done:
					// Closed by unsubscribe: report CLOSED, not an error.
					if sub.OnStatus != nil {
						sub.OnStatus(ChannelClosed)
					}
				default:
					stop()
					if sub.OnStatus != nil {
						sub.OnStatus(ChannelError)
					}
				}
				return
			}

			switch frame.Event {
			case "phx_reply":
				if !acked {
					acked = true
					if sub.OnStatus != nil {
						sub.OnStatus(ChannelSubscribed)
					}
				}
			case "phx_error":
				stop()
				if sub.OnStatus != nil {
					sub.OnStatus(ChannelError)
				}
				return
			case "postgres_changes", "INSERT", "UPDATE", "DELETE":
				stream, ok := topics[frame.Topic]
				if !ok {
					continue
				}
				ev, err := decodeWSEvent(stream, frame)
				if err != nil {
					continue
				}
				if sub.OnEvent != nil {
					sub.OnEvent(ev)
				}
			}
		}
	}()

	return stop, nil
}

func decodeWSEvent(stream string, frame wsFrame) (Event, error) {
	var payload struct {
		Type     string          `json:"type"`
		RecordID string          `json:"record_id"`
		Record   json.RawMessage `json:"record"`
		CommitTS time.Time       `json:"commit_timestamp"`
	}
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return Event{}, err
	}

	op := payload.Type
	if op == "" {
		op = frame.Event
	}
	ts := payload.CommitTS
	if ts.IsZero() {
		ts = time.Now()
	}
	return Event{
		ID:        uuid.NewString(),
		Stream:    stream,
		Type:      changeTypeFromWire(op),
		RecordID:  payload.RecordID,
		Payload:   payload.Record,
		Timestamp: ts,
	}, nil
}
