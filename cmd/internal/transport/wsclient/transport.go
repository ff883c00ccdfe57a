// Package wsclient implements chatcache.Transport over the realtime v1 WebSocket protocol.
//
// The v1 server binds one connection to one joined conversation, so every subscribed
// channel owns its own connection, session and read loop.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/chatcache"
	v1 "github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/contracts/realtime/v1"
)

// Defaults aligned with the server's limits.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultAckTimeout       = 10 * time.Second
	DefaultHeartbeatEvery   = 25 * time.Second
	DefaultHeartbeatTimeout = 5 * time.Second
	DefaultMaxHistoryPages  = 20

	// The server accepts 120 events per 10s per connection; stay under it.
	DefaultRateEvents = 100
	DefaultRateWindow = 10 * time.Second

	maxHistoryLimit = 200
	maxFrameBytes   = 2 << 20
	maxPingFailures = 3
	closeGrace      = time.Second

	// Sessions of released connections kept for OwnsSession on refetched history.
	maxRetiredSessions = 512
)

// Config configures a Transport.
type Config struct {
	// URL is the realtime endpoint (ws:// or wss://).
	URL string
	// Origin is sent as the Origin header; the server enforces an allowlist.
	Origin string
	// Token is sent as a bearer token when set.
	Token string

	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	AckTimeout       time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	MaxHistoryPages  int
	RateEvents       int
	RateWindow       time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = DefaultHeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.MaxHistoryPages <= 0 {
		c.MaxHistoryPages = DefaultMaxHistoryPages
	}
	if c.RateEvents <= 0 {
		c.RateEvents = DefaultRateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = DefaultRateWindow
	}
	return c
}

// Transport dials one realtime v1 connection per subscribed channel.
type Transport struct {
	log *slog.Logger
	cfg Config

	mu       sync.Mutex
	open     map[*Channel]struct{}
	sessions map[string]struct{}
	retired  []string
	closed   bool
}

var _ chatcache.Transport = (*Transport)(nil)

// New validates cfg and returns a Transport. No connection is made until Subscribe.
func New(log *slog.Logger, cfg Config) (*Transport, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return nil, errors.New("wsclient: missing url")
	}
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return nil, fmt.Errorf("wsclient: url must be ws:// or wss://, got %q", cfg.URL)
	}

	return &Transport{
		log:      log,
		cfg:      cfg.withDefaults(),
		open:     make(map[*Channel]struct{}),
		sessions: make(map[string]struct{}),
	}, nil
}

// Subscribe dials, performs hello and joins d.ChannelID.
func (t *Transport) Subscribe(ctx context.Context, d chatcache.Descriptor) (chatcache.Channel, error) {
	if t == nil {
		return nil, errors.New("wsclient: nil transport")
	}
	convID := strings.TrimSpace(d.ChannelID)
	if convID == "" {
		return nil, errors.New("wsclient: missing channel id")
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	dctx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	h := http.Header{}
	if t.cfg.Origin != "" {
		h.Set("Origin", t.cfg.Origin)
	}
	if t.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+t.cfg.Token)
	}

	conn, resp, err := websocket.Dial(dctx, t.cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.log.Info("wsclient.dial.fail", "conversation_id", convID, "err", err)
		return nil, fmt.Errorf("wsclient: dial: %w", err)
	}
	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("wsclient: subprotocol mismatch: got=%q want=%q", sp, v1.Subprotocol)
	}
	conn.SetReadLimit(maxFrameBytes)

	ch := newChannel(t, conn, d.ChannelType, convID)
	if err := ch.handshake(dctx); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "transport closed")
		return nil, ErrClosed
	}
	t.open[ch] = struct{}{}
	t.sessions[ch.sessionID] = struct{}{}
	t.mu.Unlock()

	ch.start()
	t.log.Info("wsclient.subscribe", "conversation_id", convID, "session_id", ch.sessionID)
	return ch, nil
}

// Release closes the connection behind ch.
func (t *Transport) Release(c chatcache.Channel) error {
	if t == nil {
		return errors.New("wsclient: nil transport")
	}
	ch, ok := c.(*Channel)
	if !ok || ch.t != t {
		return ErrForeignChannel
	}
	ch.shutdown(websocket.StatusNormalClosure, "released", ErrClosed)
	ch.wait()
	return nil
}

// Close releases every open channel. Subscribe fails afterwards.
func (t *Transport) Close() error {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	t.closed = true
	chans := make([]*Channel, 0, len(t.open))
	for ch := range t.open {
		chans = append(chans, ch)
	}
	t.mu.Unlock()

	for _, ch := range chans {
		ch.shutdown(websocket.StatusGoingAway, "transport closed", ErrClosed)
	}
	for _, ch := range chans {
		ch.wait()
	}
	return nil
}

// OwnsSession reports whether sender is a session id handed to one of this transport's
// connections. Messages from such senders were written by this user.
func (t *Transport) OwnsSession(sender string) bool {
	if t == nil || sender == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[sender]
	return ok
}

// OpenChannels returns the number of live connections.
func (t *Transport) OpenChannels() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// forget drops ch from the open set. Its session id stays owned until
// maxRetiredSessions newer connections have been released.
func (t *Transport) forget(ch *Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.open[ch]; !ok {
		return
	}
	delete(t.open, ch)
	if ch.sessionID == "" {
		return
	}
	t.retired = append(t.retired, ch.sessionID)
	if n := len(t.retired) - maxRetiredSessions; n > 0 {
		for _, id := range t.retired[:n] {
			delete(t.sessions, id)
		}
		t.retired = append(t.retired[:0:0], t.retired[n:]...)
	}
}
