package loopback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/ids"
	v1 "github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/contracts/realtime/v1"
)

const maxMessagesPerConversation = 10_000

// conversation is history + membership for one room.
//
// Broadcast snapshots members under mu and calls handlers after releasing it,
// so a handler may Release its own channel.
type conversation struct {
	log  *slog.Logger
	id   string
	kind string

	mu      sync.Mutex
	seq     int64
	dedupe  map[string]v1.MessageNewPayload // client_msg_id -> stored message
	msgs    []v1.MessageNewPayload          // ordered by seq
	members map[*Channel]struct{}
}

func newConversation(log *slog.Logger, id, kind string) *conversation {
	return &conversation{
		log:     log,
		id:      id,
		kind:    kind,
		dedupe:  make(map[string]v1.MessageNewPayload),
		members: make(map[*Channel]struct{}),
	}
}

func (c *conversation) join(ch *Channel) {
	c.mu.Lock()
	c.members[ch] = struct{}{}
	c.mu.Unlock()

	c.log.Debug("loopback.member.join", "conversation_id", c.id, "session_id", ch.session)
}

func (c *conversation) leave(ch *Channel) {
	c.mu.Lock()
	delete(c.members, ch)
	c.mu.Unlock()

	c.log.Debug("loopback.member.leave", "conversation_id", c.id, "session_id", ch.session)
}

// append stores a message idempotently per client_msg_id.
func (c *conversation) append(clientMsgID, sender, senderName, text string, now time.Time) (v1.MessageNewPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.dedupe[clientMsgID]; ok {
		return existing, true
	}

	c.seq++
	msg := v1.MessageNewPayload{
		ConversationID: c.id,
		ClientMsgID:    clientMsgID,
		ServerMsgID:    ids.MustULID(now),
		Seq:            c.seq,
		Sender:         sender,
		SenderName:     senderName,
		Text:           text,
		ServerTS:       now,
	}
	c.dedupe[clientMsgID] = msg
	c.msgs = append(c.msgs, msg)

	if len(c.msgs) > maxMessagesPerConversation {
		drop := c.msgs[:len(c.msgs)-maxMessagesPerConversation]
		for _, m := range drop {
			delete(c.dedupe, m.ClientMsgID)
		}
		c.msgs = append([]v1.MessageNewPayload(nil), c.msgs[len(drop):]...)
	}
	return msg, false
}

// recent returns the newest limit messages ordered by seq ASC.
func (c *conversation) recent(limit int) []v1.MessageNewPayload {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := 0
	if limit > 0 && len(c.msgs) > limit {
		start = len(c.msgs) - limit
	}
	return append([]v1.MessageNewPayload(nil), c.msgs[start:]...)
}

func (c *conversation) broadcast(msg v1.MessageNewPayload) int {
	c.mu.Lock()
	members := make([]*Channel, 0, len(c.members))
	for ch := range c.members {
		members = append(members, ch)
	}
	c.mu.Unlock()

	n := 0
	for _, ch := range members {
		if ch.deliver(msg) {
			n++
		}
	}
	return n
}

func (c *conversation) memberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}
