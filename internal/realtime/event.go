// Package realtime keeps client-side cached query results consistent with
// server-side mutations. A Manager subscribes a push Channel for a set of
// entity streams, maps incoming change events to cache invalidations, tracks
// a human-visible connection status, and reconnects on channel failure.
package realtime

import (
	"encoding/json"
	"time"
)

// ChangeType is the kind of mutation a change event describes.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Event is one server-pushed change notification. The channel may redeliver
// events; consumers must treat handling as idempotent.
type Event struct {
	ID        string          `json:"id"`
	Stream    string          `json:"stream"`
	Type      ChangeType      `json:"type"`
	RecordID  string          `json:"record_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Status is the manager's connection status.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// ChannelStatus is the raw status reported by a Channel implementation,
// mirroring the hosted backend's subscription callbacks.
type ChannelStatus string

const (
	ChannelSubscribed ChannelStatus = "SUBSCRIBED"
	ChannelError      ChannelStatus = "CHANNEL_ERROR"
	ChannelClosed     ChannelStatus = "CLOSED"
)

// changeTypeFromWire maps database-style operation names onto ChangeType.
// Unrecognized operations fall back to updated, which still invalidates.
func changeTypeFromWire(op string) ChangeType {
	switch op {
	case "INSERT", "insert", "created":
		return ChangeCreated
	case "DELETE", "delete", "deleted":
		return ChangeDeleted
	default:
		return ChangeUpdated
	}
}
