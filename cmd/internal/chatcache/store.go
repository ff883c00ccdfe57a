package chatcache

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SetOptions tunes SetMessages.
type SetOptions struct {
	// Authoritative marks a full history fetch: an empty result clears the conversation.
	// Non-authoritative empty results never overwrite existing messages of a loaded entry.
	Authoritative bool
	// RequireLoaded drops the write unless the entry exists and is loaded.
	RequireLoaded bool
}

// Store holds per-conversation state for one session.
//
// It is the only shared mutable structure of the cache: every mutation happens under mu,
// and observers are always notified after mu is released.
type Store struct {
	log    *slog.Logger
	now    func() time.Time
	strict bool

	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64 // access counter; orders entries touched within one clock tick
	gen     uint64 // bumped by Clear

	obsMu     sync.RWMutex
	observers map[uint64]func(Change)
	nextObs   uint64
}

type entry struct {
	messages []Message
	index    map[string]int // message id -> position in messages

	channel        Channel
	status         Status
	listenerActive bool
	lastAccessedAt time.Time
	accessSeq      uint64
	lastErr        error
}

// candidate is an eviction snapshot of one entry.
type candidate struct {
	id        string
	status    Status
	accessed  time.Time
	accessSeq uint64
}

// NewStore constructs an empty Store.
func NewStore(log *slog.Logger, now func() time.Time, strict bool) *Store {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		log:       log,
		now:       now,
		strict:    strict,
		entries:   make(map[string]*entry),
		observers: make(map[uint64]func(Change)),
	}
}

// Messages returns a copy of the ordered history (empty when id is absent).
func (s *Store) Messages(id string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[id]
	if e == nil || len(e.messages) == 0 {
		return []Message{}
	}
	out := make([]Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// SetMessages replaces the history of id, creating the entry if absent.
// Duplicate ids keep the first position and the last value.
// It reports whether the write was applied.
func (s *Store) SetMessages(id string, msgs []Message, opts SetOptions) bool {
	applied, _ := s.replace(id, msgs, opts)
	if applied {
		s.emit(Change{ConversationID: id, Kind: ChangeMessages})
	}
	return applied
}

func (s *Store) replace(id string, msgs []Message, opts SetOptions) (applied, created bool) {
	if id == "" {
		return false, false
	}
	out, index := s.dedupe(id, msgs)

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[id]
	if opts.RequireLoaded && (e == nil || e.status != StatusLoaded) {
		return false, false
	}
	if e == nil {
		e = newEntry()
		s.entries[id] = e
		created = true
	}
	if !opts.Authoritative && len(out) == 0 && e.status == StatusLoaded && len(e.messages) > 0 {
		s.log.Debug("chatcache.store.set.ignored_empty", "conversation_id", id)
		return false, created
	}

	e.messages = out
	e.index = index
	s.touchLocked(e)
	return true, created
}

func (s *Store) dedupe(id string, msgs []Message) ([]Message, map[string]int) {
	out := make([]Message, 0, len(msgs))
	index := make(map[string]int, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			s.log.Warn("chatcache.store.message.no_id", "conversation_id", id)
			continue
		}
		if pos, ok := index[m.ID]; ok {
			out[pos] = m
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	return out, index
}

// AppendMessage appends m to id, creating the entry if absent.
// An already present message id is a no-op. It reports whether m was added.
func (s *Store) AppendMessage(id string, m Message) bool {
	added, _ := s.insert(id, m, true)
	if added {
		s.emitAppend(id, m)
	}
	return added
}

func (s *Store) insert(id string, m Message, create bool) (added, created bool) {
	if id == "" || m.ID == "" {
		return false, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[id]
	if e == nil {
		if !create {
			return false, false
		}
		e = newEntry()
		s.entries[id] = e
		created = true
	}
	if _, dup := e.index[m.ID]; dup {
		return false, created
	}
	e.index[m.ID] = len(e.messages)
	e.messages = append(e.messages, m)
	s.touchLocked(e)
	return true, created
}

// Channel returns the channel handle stored for id.
func (s *Store) Channel(id string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[id]
	if e == nil || e.channel == nil {
		return nil, false
	}
	return e.channel, true
}

// SetChannel stores ch for an existing entry.
func (s *Store) SetChannel(id string, ch Channel) error {
	s.mu.Lock()
	e := s.entries[id]
	if e != nil {
		e.channel = ch
	}
	s.mu.Unlock()

	if e == nil {
		return s.violation("chatcache.Store.SetChannel", id, "entry absent")
	}
	return nil
}

// Status returns the status of id; ok is false when the entry is absent.
func (s *Store) Status(id string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[id]
	if e == nil {
		return StatusUnloaded, false
	}
	return e.status, true
}

// IsLoaded reports whether id is present and loaded.
func (s *Store) IsLoaded(id string) bool {
	st, ok := s.Status(id)
	return ok && st == StatusLoaded
}

// Touch updates lastAccessedAt of id. It reports whether the entry exists.
func (s *Store) Touch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[id]
	if e == nil {
		return false
	}
	s.touchLocked(e)
	return true
}

func (s *Store) touchLocked(e *entry) {
	s.seq++
	e.accessSeq = s.seq
	e.lastAccessedAt = s.now()
}

// Remove deletes id. The caller must have detached its listener first.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	e := s.entries[id]
	var msg string
	switch {
	case e == nil:
		msg = "entry absent"
	case e.listenerActive:
		msg = "listener still attached"
	default:
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if msg != "" {
		return s.violation("chatcache.Store.Remove", id, msg)
	}
	s.emit(Change{ConversationID: id, Kind: ChangeRemoved})
	return nil
}

// evict removes id unless it is loading or still has a listener. It does not notify.
func (s *Store) evict(id string) (Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[id]
	if e == nil || e.status == StatusLoading || e.listenerActive {
		return nil, false
	}
	delete(s.entries, id)
	return e.channel, true
}

// BeginLoad moves id to StatusLoading, creating the entry when absent.
func (s *Store) BeginLoad(id string) (created bool, err error) {
	if id == "" {
		return false, s.violation("chatcache.Store.BeginLoad", id, "empty id")
	}

	s.mu.Lock()
	e := s.entries[id]
	if e == nil {
		e = newEntry()
		s.entries[id] = e
		created = true
	}
	from := e.status
	ok := canTransition(from, StatusLoading)
	if ok {
		e.status = StatusLoading
		s.touchLocked(e)
	}
	s.mu.Unlock()

	if !ok {
		return created, s.violation("chatcache.Store.BeginLoad", id, "illegal transition from "+from.String())
	}
	return created, nil
}

// MarkLoaded moves id from StatusLoading to StatusLoaded.
func (s *Store) MarkLoaded(id string) error {
	return s.transition("chatcache.Store.MarkLoaded", id, StatusLoaded, nil)
}

// MarkFailed moves id from StatusLoading to StatusError, keeping its messages.
func (s *Store) MarkFailed(id string, cause error) error {
	return s.transition("chatcache.Store.MarkFailed", id, StatusError, cause)
}

func (s *Store) transition(op, id string, to Status, cause error) error {
	s.mu.Lock()
	e := s.entries[id]
	var msg string
	switch {
	case e == nil:
		msg = "entry absent"
	case !canTransition(e.status, to):
		msg = "illegal transition from " + e.status.String() + " to " + to.String()
	default:
		e.status = to
		e.lastErr = cause
	}
	s.mu.Unlock()

	if msg != "" {
		return s.violation(op, id, msg)
	}
	return nil
}

func (s *Store) setListener(id string, active bool) {
	s.mu.Lock()
	if e := s.entries[id]; e != nil {
		e.listenerActive = active
	}
	s.mu.Unlock()
}

// MarkRead marks every message of id as read and returns how many changed.
func (s *Store) MarkRead(id string) int {
	s.mu.Lock()
	n := 0
	if e := s.entries[id]; e != nil {
		for i := range e.messages {
			if !e.messages[i].IsRead {
				e.messages[i].IsRead = true
				n++
			}
		}
		s.touchLocked(e)
	}
	s.mu.Unlock()

	if n > 0 {
		s.emit(Change{ConversationID: id, Kind: ChangeRead})
	}
	return n
}

// Info returns a snapshot of id.
func (s *Store) Info(id string) (ConversationInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[id]
	if e == nil {
		return ConversationInfo{}, false
	}
	return infoOf(id, e), true
}

// Snapshot returns infos for every entry, most recently accessed first.
func (s *Store) Snapshot() []ConversationInfo {
	s.mu.RLock()
	out := make([]ConversationInfo, 0, len(s.entries))
	seqs := make(map[string]uint64, len(s.entries))
	for id, e := range s.entries {
		out = append(out, infoOf(id, e))
		seqs[id] = e.accessSeq
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return seqs[out[i].ID] > seqs[out[j].ID] })
	return out
}

func infoOf(id string, e *entry) ConversationInfo {
	info := ConversationInfo{
		ID:             id,
		Status:         e.status,
		MessageCount:   len(e.messages),
		ListenerActive: e.listenerActive,
		HasChannel:     e.channel != nil,
		LastAccessedAt: e.lastAccessedAt,
	}
	for _, m := range e.messages {
		if !m.IsRead {
			info.UnreadCount++
		}
	}
	if e.lastErr != nil {
		info.LastError = e.lastErr.Error()
	}
	return info
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Generation changes every time the store is cleared.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// candidates returns entries ordered least recently accessed first.
func (s *Store) candidates() []candidate {
	s.mu.RLock()
	out := make([]candidate, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, candidate{id: id, status: e.status, accessed: e.lastAccessedAt, accessSeq: e.accessSeq})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].accessed.Equal(out[j].accessed) {
			return out[i].accessed.Before(out[j].accessed)
		}
		return out[i].accessSeq < out[j].accessSeq
	})
	return out
}

// clear drops every entry, bumps the generation and returns the channels it held.
// It does not notify.
func (s *Store) clear() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chans []Channel
	for _, e := range s.entries {
		if e.channel != nil {
			chans = append(chans, e.channel)
		}
	}
	s.entries = make(map[string]*entry)
	s.gen++
	return chans
}

// Observe registers fn for change notifications and returns its cancel func.
// fn runs on the mutating goroutine, after the store lock is released.
func (s *Store) Observe(fn func(Change)) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	s.obsMu.Lock()
	s.nextObs++
	key := s.nextObs
	s.observers[key] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, key)
			s.obsMu.Unlock()
		})
	}
}

func (s *Store) emitAppend(id string, m Message) {
	msg := m
	s.emit(Change{ConversationID: id, Kind: ChangeAppend, Message: &msg})
}

func (s *Store) emit(c Change) {
	s.obsMu.RLock()
	if len(s.observers) == 0 {
		s.obsMu.RUnlock()
		return
	}
	keys := make([]uint64, 0, len(s.observers))
	for k := range s.observers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	fns := make([]func(Change), 0, len(keys))
	for _, k := range keys {
		fns = append(fns, s.observers[k])
	}
	s.obsMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) violation(op, id, msg string) error {
	err := &InvariantError{Op: op, ConversationID: id, Msg: msg}
	s.log.Error("chatcache.invariant", "op", op, "conversation_id", id, "err", msg)
	if s.strict {
		panic(err)
	}
	return err
}

func newEntry() *entry {
	return &entry{index: make(map[string]int)}
}
