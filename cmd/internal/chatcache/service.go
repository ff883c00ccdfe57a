package chatcache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/ids"
)

// DefaultSendTimeout bounds one send before falling back to an optimistic message.
const DefaultSendTimeout = 10 * time.Second

// Service is the cache facade for one logged-in session.
// Construct it at login and call Clear at logout.
type Service struct {
	log       *slog.Logger
	store     *Store
	subs      *Subscriptions
	evict     *Eviction
	coord     *Coordinator
	transport Transport

	now         func() time.Time
	sendTimeout time.Duration
	selfName    string
}

type options struct {
	log          *slog.Logger
	capacity     int
	pageSize     int
	fetchTimeout time.Duration
	sendTimeout  time.Duration
	decoder      Decoder
	now          func() time.Time
	strict       bool
	selfName     string
}

// Option configures a Service.
type Option func(*options) error

// WithLogger sets the logger (slog.Default when unset).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) error {
		if l == nil {
			return errors.New("chatcache: nil logger")
		}
		o.log = l
		return nil
	}
}

// WithCapacity bounds the number of cached conversations.
func WithCapacity(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.New("chatcache: capacity must be > 0")
		}
		o.capacity = n
		return nil
	}
}

// WithPageSize sets how many recent messages an activation fetches.
func WithPageSize(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.New("chatcache: page size must be > 0")
		}
		o.pageSize = n
		return nil
	}
}

// WithFetchTimeout bounds one activation fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("chatcache: fetch timeout must be > 0")
		}
		o.fetchTimeout = d
		return nil
	}
}

// WithSendTimeout bounds one send.
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("chatcache: send timeout must be > 0")
		}
		o.sendTimeout = d
		return nil
	}
}

// WithDecoder sets the record decoder (V1Decoder{} when unset).
func WithDecoder(d Decoder) Option {
	return func(o *options) error {
		if d == nil {
			return errors.New("chatcache: nil decoder")
		}
		o.decoder = d
		return nil
	}
}

// WithClock injects the time source used for access times and optimistic messages.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		if now == nil {
			return errors.New("chatcache: nil clock")
		}
		o.now = now
		return nil
	}
}

// WithStrictInvariants makes invariant violations panic instead of returning errors.
func WithStrictInvariants(strict bool) Option {
	return func(o *options) error {
		o.strict = strict
		return nil
	}
}

// WithSelfName sets the sender name of optimistic messages.
func WithSelfName(name string) Option {
	return func(o *options) error {
		o.selfName = strings.TrimSpace(name)
		return nil
	}
}

// New constructs a Service over transport.
func New(transport Transport, opts ...Option) (*Service, error) {
	if transport == nil {
		return nil, errors.New("chatcache: nil transport")
	}

	o := options{
		log:          slog.Default(),
		capacity:     DefaultCapacity,
		pageSize:     DefaultPageSize,
		fetchTimeout: DefaultFetchTimeout,
		sendTimeout:  DefaultSendTimeout,
		decoder:      V1Decoder{},
		now:          func() time.Time { return time.Now().UTC() },
		selfName:     "me",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	store := NewStore(o.log, o.now, o.strict)
	subs := NewSubscriptions(o.log, store, o.decoder)
	evict := NewEviction(o.log, store, subs, transport, o.capacity)
	coord := NewCoordinator(o.log, store, subs, evict, transport, o.decoder, CoordinatorConfig{
		PageSize:     o.pageSize,
		FetchTimeout: o.fetchTimeout,
	})

	return &Service{
		log:         o.log,
		store:       store,
		subs:        subs,
		evict:       evict,
		coord:       coord,
		transport:   transport,
		now:         o.now,
		sendTimeout: o.sendTimeout,
		selfName:    o.selfName,
	}, nil
}

// Messages returns the cached history of id (empty when nothing is cached).
func (s *Service) Messages(id string) []Message {
	if s == nil {
		return []Message{}
	}
	s.store.Touch(id)
	return s.store.Messages(id)
}

// Activate makes id the visible conversation and loads it if needed.
func (s *Service) Activate(ctx context.Context, id string, d Descriptor) (Channel, error) {
	if s == nil {
		return nil, errors.New("chatcache: nil service")
	}
	return s.coord.Activate(ctx, id, d)
}

// Deactivate unpins id from eviction ("" unpins whatever is active).
func (s *Service) Deactivate(id string) {
	if s == nil {
		return
	}
	s.coord.Deactivate(id)
}

// Active returns the conversation bound to the visible UI.
func (s *Service) Active() string {
	if s == nil {
		return ""
	}
	return s.evict.Active()
}

// SendMessage publishes text through the conversation's channel.
//
// On success nothing is appended; the server echo arrives through the listener.
// On failure an optimistic unread message is appended and a *SendError carrying it is returned.
func (s *Service) SendMessage(ctx context.Context, id, text string) error {
	if s == nil {
		return errors.New("chatcache: nil service")
	}
	if id == "" {
		return ErrInvalidInput
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	var err error
	if ch, ok := s.store.Channel(id); ok {
		sctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		err = ch.Send(sctx, text)
		cancel()
	} else {
		err = ErrNoChannel
	}
	if err == nil {
		RecordSend("ok")
		return nil
	}

	now := s.now()
	fallback := Message{
		ID:         ids.NewLocalMessageID(now),
		Text:       text,
		SenderName: s.selfName,
		SentAt:     now,
		IsOwn:      true,
		IsRead:     false,
	}
	s.coord.insert(id, fallback)

	RecordSend("fallback")
	s.log.Warn("chatcache.send.fallback", "conversation_id", id, "message_id", fallback.ID, "err", err)
	return &SendError{ConversationID: id, Err: err, Fallback: fallback}
}

// IsLoaded reports whether id has loaded history.
func (s *Service) IsLoaded(id string) bool {
	if s == nil {
		return false
	}
	return s.store.IsLoaded(id)
}

// Stats derives cache statistics.
func (s *Service) Stats() CacheStats {
	if s == nil {
		return CacheStats{}
	}
	return s.store.Stats()
}

// ListenerCount returns the number of attached push listeners.
func (s *Service) ListenerCount() int {
	if s == nil {
		return 0
	}
	return s.subs.Count()
}

// Info returns a snapshot of one conversation.
func (s *Service) Info(id string) (ConversationInfo, bool) {
	if s == nil {
		return ConversationInfo{}, false
	}
	return s.store.Info(id)
}

// Conversations returns snapshots of every cached conversation, most recent first.
func (s *Service) Conversations() []ConversationInfo {
	if s == nil {
		return nil
	}
	return s.store.Snapshot()
}

// MarkRead marks every message of id as read and returns how many changed.
func (s *Service) MarkRead(id string) int {
	if s == nil {
		return 0
	}
	return s.store.MarkRead(id)
}

// Refresh refetches a loaded conversation without discarding cached history.
func (s *Service) Refresh(ctx context.Context, id string) (bool, error) {
	if s == nil {
		return false, errors.New("chatcache: nil service")
	}
	return s.coord.Refresh(ctx, id)
}

// Observe registers fn for change notifications.
func (s *Service) Observe(fn func(Change)) (cancel func()) {
	if s == nil {
		return func() {}
	}
	return s.store.Observe(fn)
}

// Clear drops all session state (logout).
func (s *Service) Clear() {
	if s == nil {
		return
	}
	s.coord.Clear()
}

// Capacity returns the eviction bound.
func (s *Service) Capacity() int {
	if s == nil {
		return 0
	}
	return s.evict.Capacity()
}
