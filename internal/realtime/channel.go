package realtime

import "context"

// Subscription describes what a Manager wants from a Channel: the logical
// channel name, the entity streams to watch, and the callbacks to drive.
// OnStatus is invoked with SUBSCRIBED once the subscription is acknowledged,
// and with CHANNEL_ERROR or CLOSED when the channel fails or shuts down.
type Subscription struct {
	Name     string
	Streams  []string
	OnEvent  func(Event)
	OnStatus func(ChannelStatus)
}

// Channel is the push-subscription primitive, injected so the manager works
// identically over NATS subjects, the hosted backend's realtime websocket, or
// Postgres LISTEN/NOTIFY. Subscribe returns an unsubscribe function that must
// release every resource the subscription acquired; it must be safe to call
// exactly once after a successful Subscribe.
type Channel interface {
	Subscribe(ctx context.Context, sub Subscription) (func(), error)
}
