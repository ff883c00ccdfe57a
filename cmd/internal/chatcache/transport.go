package chatcache

import (
	"context"
	"encoding/json"
)

// EventMessageNew is the channel event carrying a newly accepted message.
const EventMessageNew = "message.new"

// Query bounds a history fetch.
type Query struct {
	// Limit is the number of most recent records to return.
	Limit int
}

// Transport is the external realtime service. It owns channel lifecycles; the cache only
// holds references and tells the transport when it drops one.
type Transport interface {
	// Subscribe opens (or reuses) the channel described by d.
	Subscribe(ctx context.Context, d Descriptor) (Channel, error)
	// Release tells the transport the cache no longer references ch.
	Release(ch Channel) error
}

// Channel is a handle to one external realtime channel.
//
// Implementations must invoke handlers outside their own locks: a handler may call Off.
type Channel interface {
	Type() string
	ID() string
	// Query returns the most recent q.Limit raw message records in ascending order.
	Query(ctx context.Context, q Query) ([]json.RawMessage, error)
	// On registers h for event, replacing any previous handler for that event.
	On(event string, h func(raw json.RawMessage))
	// Off unregisters the handler for event. It is a no-op when none is registered.
	Off(event string)
	// Send publishes text into the channel.
	Send(ctx context.Context, text string) error
}

type channelKey struct {
	typ string
	id  string
}

func keyOf(ch Channel) channelKey {
	return channelKey{typ: ch.Type(), id: ch.ID()}
}
