package chatcache

import (
	"log/slog"
	"sync"
)

// DefaultCapacity is the default maximum number of cached conversations.
const DefaultCapacity = 20

// Eviction keeps the Store at or below capacity, dropping the least recently accessed
// conversation first. The active conversation and loading entries are never evicted.
//
// mu serializes enforcement passes with changes of the active id, so a conversation that
// becomes active cannot be picked by a pass already running.
type Eviction struct {
	log       *slog.Logger
	store     *Store
	subs      *Subscriptions
	transport Transport
	capacity  int

	mu     sync.Mutex
	active string
}

// evicted is the outcome of one pass; finish must run after the caller drops its locks.
type evicted struct {
	ids      []string
	channels []Channel
}

// NewEviction constructs a policy with the given capacity (DefaultCapacity when <= 0).
func NewEviction(log *slog.Logger, store *Store, subs *Subscriptions, transport Transport, capacity int) *Eviction {
	if log == nil {
		log = slog.Default()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Eviction{log: log, store: store, subs: subs, transport: transport, capacity: capacity}
}

// Capacity returns the configured bound.
func (e *Eviction) Capacity() int { return e.capacity }

// SetActive records the conversation bound to the visible UI ("" for none).
func (e *Eviction) SetActive(id string) {
	e.mu.Lock()
	e.active = id
	e.mu.Unlock()
}

// Active returns the conversation bound to the visible UI.
func (e *Eviction) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Enforce evicts until the store fits capacity or only pinned entries remain.
// Release and notification happen in (evicted).finish.
func (e *Eviction) Enforce() evicted {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out evicted
	if e.store.Len() <= e.capacity {
		return out
	}

	for _, c := range e.store.candidates() {
		if e.store.Len() <= e.capacity {
			break
		}
		if c.id == e.active || c.status == StatusLoading {
			continue
		}

		e.subs.Detach(c.id)
		ch, ok := e.store.evict(c.id)
		if !ok {
			continue
		}
		out.ids = append(out.ids, c.id)
		if ch != nil {
			out.channels = append(out.channels, ch)
		}
		RecordEviction()
		e.log.Debug("chatcache.evict", "conversation_id", c.id, "status", c.status.String())
	}

	if n := e.store.Len(); n > e.capacity {
		RecordCapacityOverflow()
		e.log.Warn("chatcache.evict.over_capacity",
			"size", n,
			"capacity", e.capacity,
			"active", e.active,
		)
	}
	return out
}

func (e *Eviction) finish(out evicted) {
	for _, ch := range out.channels {
		e.release(ch)
	}
	for _, id := range out.ids {
		e.store.emit(Change{ConversationID: id, Kind: ChangeRemoved})
	}
}

func (e *Eviction) release(ch Channel) {
	if e.transport == nil || ch == nil {
		return
	}
	if err := e.transport.Release(ch); err != nil {
		e.log.Warn("chatcache.channel.release_failed", "channel_type", ch.Type(), "channel_id", ch.ID(), "err", err)
	}
}
