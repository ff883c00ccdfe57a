package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/chatcache"
	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/ids"
	v1 "github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/contracts/realtime/v1"
)

// Channel is one session joined to a loopback conversation. The session id names the
// connection; messages are sent as the hub's user.
type Channel struct {
	hub     *Hub
	conv    *conversation
	session string

	mu       sync.Mutex
	handlers map[string]func(json.RawMessage)
	closed   bool
}

var _ chatcache.Channel = (*Channel)(nil)

func newChannel(h *Hub, conv *conversation, session string) *Channel {
	return &Channel{
		hub:      h,
		conv:     conv,
		session:  session,
		handlers: make(map[string]func(json.RawMessage)),
	}
}

// Type implements chatcache.Channel.
func (c *Channel) Type() string { return c.conv.kind }

// ID implements chatcache.Channel.
func (c *Channel) ID() string { return c.conv.id }

// SessionID returns the sender id used for messages sent through c.
func (c *Channel) SessionID() string { return c.session }

// Query implements chatcache.Channel.
func (c *Channel) Query(ctx context.Context, q chatcache.Query) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, ErrClosed
	}
	c.hub.queries.Add(1)

	msgs := c.conv.recent(q.Limit)
	out := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Send implements chatcache.Channel; every member (sender included) receives the message.
func (c *Channel) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("loopback: empty text")
	}

	now := c.hub.now()
	msg, dup := c.conv.append(ids.MustULID(now), c.hub.self, "", text, now)
	if !dup {
		c.conv.broadcast(msg)
	}
	return nil
}

// On implements chatcache.Channel.
func (c *Channel) On(event string, h func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[event] = h
	c.mu.Unlock()
}

// Off implements chatcache.Channel.
func (c *Channel) Off(event string) {
	c.mu.Lock()
	delete(c.handlers, event)
	c.mu.Unlock()
}

func (c *Channel) deliver(msg v1.MessageNewPayload) bool {
	c.mu.Lock()
	h := c.handlers[chatcache.EventMessageNew]
	closed := c.closed
	c.mu.Unlock()

	if closed || h == nil {
		return false
	}
	b, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Warn("loopback.deliver.marshal_failed", "conversation_id", c.conv.id, "err", err)
		return false
	}
	h(b)
	return true
}

func (c *Channel) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.handlers = make(map[string]func(json.RawMessage))
	return true
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
