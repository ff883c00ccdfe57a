package chatcache

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Subscription is one attached listener. It stops delivering once Detach returns.
type Subscription struct {
	mgr    *Subscriptions
	convID string
	ch     Channel
	key    channelKey
	hook   func(Message)

	mu     sync.RWMutex
	active bool
}

// ConversationID returns the conversation this listener feeds.
func (s *Subscription) ConversationID() string { return s.convID }

// Active reports whether the listener still delivers.
func (s *Subscription) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Detach removes the listener. It is idempotent.
func (s *Subscription) Detach() bool {
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	return s.mgr.teardownLocked(s)
}

// deliver is registered as the channel's message handler.
func (s *Subscription) deliver(raw json.RawMessage) {
	m := s.mgr

	msg, err := m.decoder.Decode(raw)
	if err != nil {
		RecordEvent("malformed")
		m.log.Warn("chatcache.event.malformed",
			"conversation_id", s.convID,
			"channel_id", s.key.id,
			"err", err,
		)
		return
	}

	s.mu.RLock()
	if !s.active {
		s.mu.RUnlock()
		RecordEvent("dropped")
		return
	}
	added, _ := m.store.insert(s.convID, msg, false)
	s.mu.RUnlock()

	if !added {
		RecordEvent("duplicate")
		return
	}
	RecordEvent("appended")
	m.store.emitAppend(s.convID, msg)
	if s.hook != nil {
		s.hook(msg)
	}
}

// Subscriptions guarantees at most one listener per conversation and per channel.
type Subscriptions struct {
	log     *slog.Logger
	store   *Store
	decoder Decoder

	mu     sync.Mutex
	byConv map[string]*Subscription
	byChan map[channelKey]*Subscription
}

// NewSubscriptions constructs a registry routing events from channels into store.
func NewSubscriptions(log *slog.Logger, store *Store, decoder Decoder) *Subscriptions {
	if log == nil {
		log = slog.Default()
	}
	if decoder == nil {
		decoder = V1Decoder{}
	}
	return &Subscriptions{
		log:     log,
		store:   store,
		decoder: decoder,
		byConv:  make(map[string]*Subscription),
		byChan:  make(map[channelKey]*Subscription),
	}
}

// Attach registers the single listener for id on ch, replacing any prior one for id or ch.
// onMessage (optional) runs after each appended message, outside all locks.
func (m *Subscriptions) Attach(id string, ch Channel, onMessage func(Message)) (*Subscription, error) {
	if id == "" || ch == nil {
		return nil, m.store.violation("chatcache.Subscriptions.Attach", id, "empty id or nil channel")
	}

	key := keyOf(ch)

	m.mu.Lock()
	defer m.mu.Unlock()

	if prior := m.byConv[id]; prior != nil {
		m.teardownLocked(prior)
	}
	if prior := m.byChan[key]; prior != nil {
		m.teardownLocked(prior)
	}

	sub := &Subscription{mgr: m, convID: id, ch: ch, key: key, hook: onMessage, active: true}
	ch.On(EventMessageNew, sub.deliver)
	m.byConv[id] = sub
	m.byChan[key] = sub
	m.store.setListener(id, true)

	m.log.Debug("chatcache.listener.attach", "conversation_id", id, "channel_type", key.typ, "channel_id", key.id)
	return sub, nil
}

// Detach removes the listener for id. It reports whether one existed.
func (m *Subscriptions) Detach(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := m.byConv[id]
	if sub == nil {
		return false
	}
	return m.teardownLocked(sub)
}

// DetachAll removes every listener and returns how many were removed.
func (m *Subscriptions) DetachAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, sub := range m.byConv {
		if m.teardownLocked(sub) {
			n++
		}
	}
	return n
}

// Listening reports whether id has an attached listener.
func (m *Subscriptions) Listening(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byConv[id] != nil
}

// Count returns the number of attached listeners.
func (m *Subscriptions) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byConv)
}

// teardownLocked waits for in-flight deliveries of sub, then unregisters it.
func (m *Subscriptions) teardownLocked(sub *Subscription) bool {
	sub.mu.Lock()
	was := sub.active
	sub.active = false
	sub.mu.Unlock()

	if !was {
		return false
	}

	sub.ch.Off(EventMessageNew)
	if m.byConv[sub.convID] == sub {
		delete(m.byConv, sub.convID)
		m.store.setListener(sub.convID, false)
	}
	if m.byChan[sub.key] == sub {
		delete(m.byChan, sub.key)
	}

	m.log.Debug("chatcache.listener.detach", "conversation_id", sub.convID, "channel_id", sub.key.id)
	return true
}
