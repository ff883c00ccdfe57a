package chatcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/ids"
)

const (
	// DefaultPageSize is how many recent messages an activation fetches.
	DefaultPageSize = 50
	// DefaultFetchTimeout bounds one subscribe + history query.
	DefaultFetchTimeout = 15 * time.Second
)

// Coordinator runs the activation state machine:
//
//	Unloaded -> Loading -> Loaded
//	              |
//	              v
//	            Error -> Loading (retry on next activation)
//
// Concurrent activations of one conversation share a single fetch.
type Coordinator struct {
	log       *slog.Logger
	store     *Store
	subs      *Subscriptions
	evict     *Eviction
	transport Transport
	decoder   Decoder

	pageSize     int
	fetchTimeout time.Duration

	// Room ids are opaque, so loads and refreshes never share a key space.
	loads     singleflight.Group
	refreshes singleflight.Group

	// lifecycle excludes Clear (write side) from load completion and inserts (read side).
	lifecycle sync.RWMutex
}

// CoordinatorConfig holds Coordinator tunables.
type CoordinatorConfig struct {
	PageSize     int
	FetchTimeout time.Duration
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(log *slog.Logger, store *Store, subs *Subscriptions, evict *Eviction, transport Transport, decoder Decoder, cfg CoordinatorConfig) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if decoder == nil {
		decoder = V1Decoder{}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	return &Coordinator{
		log:          log,
		store:        store,
		subs:         subs,
		evict:        evict,
		transport:    transport,
		decoder:      decoder,
		pageSize:     cfg.PageSize,
		fetchTimeout: cfg.FetchTimeout,
	}
}

// Activate makes id the active conversation and returns its channel once history is loaded.
//
// A loaded entry is a cache hit: no transport calls. Otherwise the caller joins the single
// in-flight fetch for id (starting it if none). ctx cancellation abandons the wait only;
// the fetch itself completes and populates the cache.
func (c *Coordinator) Activate(ctx context.Context, id string, d Descriptor) (Channel, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}

	c.evict.SetActive(id)

	if c.store.IsLoaded(id) {
		c.store.Touch(id)
		if ch, ok := c.store.Channel(id); ok {
			RecordCacheHit()
			c.log.Debug("chatcache.activate.hit", "conversation_id", id)
			return ch, nil
		}
	}
	RecordCacheMiss()

	res := c.loads.DoChan(id, func() (any, error) {
		return c.load(ctx, id, d)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-res:
		if r.Shared {
			RecordFetchShared()
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(Channel), nil
	}
}

// Deactivate clears the active conversation if it is id ("" clears unconditionally).
func (c *Coordinator) Deactivate(id string) {
	if id == "" || c.evict.Active() == id {
		c.evict.SetActive("")
	}
}

func (c *Coordinator) load(ctx context.Context, id string, d Descriptor) (Channel, error) {
	c.lifecycle.RLock()
	gen := c.store.Generation()
	if c.store.IsLoaded(id) {
		ch, _ := c.store.Channel(id)
		c.lifecycle.RUnlock()
		return ch, nil
	}
	created, err := c.store.BeginLoad(id)
	if err != nil {
		c.lifecycle.RUnlock()
		return nil, err
	}
	var out evicted
	if created {
		out = c.evict.Enforce()
	}
	c.lifecycle.RUnlock()
	c.evict.finish(out)

	start := time.Now()
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	ch, reused := c.store.Channel(id)
	if !reused {
		ch, err = c.transport.Subscribe(fctx, d)
		if err != nil {
			return nil, c.fail(id, gen, nil, false, err, start)
		}
	}

	raws, err := ch.Query(fctx, Query{Limit: c.pageSize})
	if err != nil {
		return nil, c.fail(id, gen, ch, reused, err, start)
	}

	return c.apply(id, gen, ch, c.decodeAll(id, raws), start)
}

func (c *Coordinator) apply(id string, gen uint64, ch Channel, fetched []Message, start time.Time) (Channel, error) {
	c.lifecycle.RLock()
	if c.store.Generation() != gen {
		c.lifecycle.RUnlock()
		c.evict.release(ch)
		RecordFetch("discarded", time.Since(start))
		c.log.Info("chatcache.fetch.discarded", "conversation_id", id, "reason", "session cleared")
		return nil, ErrSessionCleared
	}

	msgs := withLocal(fetched, c.store.Messages(id))
	c.store.replace(id, msgs, SetOptions{Authoritative: true})

	var stale Channel
	if prev, ok := c.store.Channel(id); ok && prev != ch {
		c.subs.Detach(id)
		stale = prev
	}
	if err := c.store.SetChannel(id, ch); err != nil {
		c.lifecycle.RUnlock()
		return nil, err
	}
	if _, err := c.subs.Attach(id, ch, c.onPush(id)); err != nil {
		c.lifecycle.RUnlock()
		return nil, err
	}
	if err := c.store.MarkLoaded(id); err != nil {
		c.lifecycle.RUnlock()
		return nil, err
	}
	out := c.evict.Enforce()
	c.lifecycle.RUnlock()

	c.evict.release(stale)
	c.evict.finish(out)
	c.store.emit(Change{ConversationID: id, Kind: ChangeMessages})

	RecordFetch("ok", time.Since(start))
	c.log.Info("chatcache.fetch.ok",
		"conversation_id", id,
		"messages", len(msgs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ch, nil
}

func (c *Coordinator) fail(id string, gen uint64, ch Channel, reused bool, cause error, start time.Time) error {
	c.lifecycle.RLock()
	cleared := c.store.Generation() != gen
	if !cleared {
		if ch != nil && !reused {
			_ = c.store.SetChannel(id, ch)
		}
		_ = c.store.MarkFailed(id, cause)
	}
	c.lifecycle.RUnlock()

	if cleared {
		if ch != nil {
			c.evict.release(ch)
		}
		RecordFetch("discarded", time.Since(start))
		return ErrSessionCleared
	}

	RecordFetch("error", time.Since(start))
	c.log.Warn("chatcache.fetch.failed", "conversation_id", id, "err", cause)
	return &FetchError{ConversationID: id, Err: cause}
}

// Refresh refetches the recent page of a loaded conversation and merges it
// non-authoritatively: an empty page never wipes the cached history.
func (c *Coordinator) Refresh(ctx context.Context, id string) (bool, error) {
	ch, ok := c.store.Channel(id)
	if !ok || !c.store.IsLoaded(id) {
		return false, ErrNotLoaded
	}

	res := c.refreshes.DoChan(id, func() (any, error) {
		gen := c.store.Generation()
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		raws, err := ch.Query(fctx, Query{Limit: c.pageSize})
		if err != nil {
			c.log.Warn("chatcache.refresh.failed", "conversation_id", id, "err", err)
			return false, &FetchError{ConversationID: id, Err: err}
		}
		fetched := c.decodeAll(id, raws)

		c.lifecycle.RLock()
		if c.store.Generation() != gen {
			c.lifecycle.RUnlock()
			return false, ErrSessionCleared
		}
		merged := fetched
		if len(fetched) > 0 {
			merged = mergeRefresh(fetched, c.store.Messages(id))
		}
		applied, _ := c.store.replace(id, merged, SetOptions{RequireLoaded: true})
		c.lifecycle.RUnlock()

		if applied {
			c.store.emit(Change{ConversationID: id, Kind: ChangeMessages})
		}
		return applied, nil
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return false, r.Err
		}
		return r.Val.(bool), nil
	}
}

// insert appends a locally created message, enforcing capacity if it created an entry.
func (c *Coordinator) insert(id string, m Message) bool {
	c.lifecycle.RLock()
	added, created := c.store.insert(id, m, true)
	var out evicted
	if created {
		out = c.evict.Enforce()
	}
	c.lifecycle.RUnlock()

	c.evict.finish(out)
	if added {
		c.store.emitAppend(id, m)
	}
	return added
}

// Clear detaches every listener, drops every entry and releases every channel.
// Loads still in flight discard their results.
func (c *Coordinator) Clear() {
	c.lifecycle.Lock()
	detached := c.subs.DetachAll()
	c.evict.SetActive("")
	chans := c.store.clear()
	c.lifecycle.Unlock()

	for _, ch := range chans {
		c.evict.release(ch)
	}
	c.store.emit(Change{Kind: ChangeCleared})
	c.log.Info("chatcache.clear", "listeners", detached, "channels", len(chans))
}

func (c *Coordinator) onPush(id string) func(Message) {
	return func(m Message) {
		c.log.Debug("chatcache.event.appended", "conversation_id", id, "message_id", m.ID)
	}
}

func (c *Coordinator) decodeAll(id string, raws []json.RawMessage) []Message {
	out := make([]Message, 0, len(raws))
	for _, raw := range raws {
		m, err := c.decoder.Decode(raw)
		if err != nil {
			RecordEvent("malformed")
			c.log.Warn("chatcache.history.malformed", "conversation_id", id, "err", err)
			continue
		}
		out = append(out, m)
	}
	return out
}

// withLocal appends optimistic local messages of existing that fetched does not contain.
func withLocal(fetched, existing []Message) []Message {
	var out []Message
	for _, m := range existing {
		if ids.IsLocal(m.ID) {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return fetched
	}
	return append(append(make([]Message, 0, len(fetched)+len(out)), fetched...), out...)
}

// mergeRefresh keeps the order of existing, updates messages fetched again (preserving
// read state) and appends fetched messages not seen before.
func mergeRefresh(fetched, existing []Message) []Message {
	byID := make(map[string]Message, len(fetched))
	for _, m := range fetched {
		byID[m.ID] = m
	}

	out := make([]Message, 0, len(existing)+len(fetched))
	seen := make(map[string]struct{}, len(existing))
	for _, old := range existing {
		seen[old.ID] = struct{}{}
		m, ok := byID[old.ID]
		if !ok {
			out = append(out, old)
			continue
		}
		m.IsRead = m.IsRead || old.IsRead
		out = append(out, m)
	}
	for _, m := range fetched {
		if _, ok := seen[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out
}
