// Package loopback is an in-process chatcache.Transport.
//
// It backs local development (no realtime server configured), the CLI demo and
// cache-level tests. Payloads use the realtime v1 message format.
package loopback

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/chatcache"
	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/ids"
	v1 "github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/contracts/realtime/v1"
)

// ErrClosed is returned by operations on a released channel.
var ErrClosed = errors.New("loopback: channel closed")

// Hub owns in-memory conversations and hands out channels into them.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	// self is the sender id of every message sent through this hub's channels.
	self string

	mu            sync.RWMutex
	conversations map[string]*conversation

	subscribes atomic.Int64
	queries    atomic.Int64
	releases   atomic.Int64
}

var _ chatcache.Transport = (*Hub)(nil)

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	now := func() time.Time { return time.Now().UTC() }
	return &Hub{
		log:           log,
		now:           now,
		self:          "self-" + ids.MustULID(now()),
		conversations: make(map[string]*conversation),
	}
}

func (h *Hub) conversation(id, kind string) *conversation {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conversations[id]; ok {
		return c
	}
	if kind == "" {
		kind = "direct"
	}
	c := newConversation(h.log, id, kind)
	h.conversations[id] = c
	return c
}

// Subscribe joins d.ChannelID with a fresh session.
func (h *Hub) Subscribe(ctx context.Context, d chatcache.Descriptor) (chatcache.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(d.ChannelID)
	if id == "" {
		return nil, errors.New("loopback: missing channel id")
	}

	h.subscribes.Add(1)
	conv := h.conversation(id, d.ChannelType)
	ch := newChannel(h, conv, ids.MustULID(h.now()))
	conv.join(ch)
	return ch, nil
}

// Release leaves the conversation and closes ch.
func (h *Hub) Release(c chatcache.Channel) error {
	ch, ok := c.(*Channel)
	if !ok || ch.hub != h {
		return errors.New("loopback: channel not owned by this hub")
	}
	if ch.close() {
		h.releases.Add(1)
		ch.conv.leave(ch)
	}
	return nil
}

// Publish appends a message from another participant and fans it out.
func (h *Hub) Publish(convID, sender, senderName, text string) (v1.MessageNewPayload, error) {
	convID = strings.TrimSpace(convID)
	text = strings.TrimSpace(text)
	if convID == "" || text == "" {
		return v1.MessageNewPayload{}, errors.New("loopback: missing conversation id or text")
	}

	now := h.now()
	conv := h.conversation(convID, "")
	msg, dup := conv.append(ids.MustULID(now), sender, senderName, text, now)
	if !dup {
		conv.broadcast(msg)
	}
	return msg, nil
}

// OwnsSession reports whether sender is this hub's own user. Every channel sends as
// the same user, so ownership survives Release and a later Subscribe.
func (h *Hub) OwnsSession(sender string) bool {
	return sender != "" && sender == h.self
}

// Self returns the sender id used for messages sent through this hub.
func (h *Hub) Self() string { return h.self }

// Members returns the live channels joined to convID.
func (h *Hub) Members(convID string) int {
	h.mu.RLock()
	c := h.conversations[convID]
	h.mu.RUnlock()
	if c == nil {
		return 0
	}
	return c.memberCount()
}

// Subscribes returns how many times Subscribe succeeded.
func (h *Hub) Subscribes() int64 { return h.subscribes.Load() }

// Queries returns how many history queries ran.
func (h *Hub) Queries() int64 { return h.queries.Load() }

// Releases returns how many channels were released.
func (h *Hub) Releases() int64 { return h.releases.Load() }
