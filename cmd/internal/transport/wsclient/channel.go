package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/chatcache"
	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/ids"
	v1 "github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/contracts/realtime/v1"
)

// Channel is one joined conversation on its own connection.
//
// The server handles a connection serially, so replies (ack, history chunk, error)
// arrive in request order and are matched FIFO. message_new broadcasts interleave freely.
type Channel struct {
	t    *Transport
	log  *slog.Logger
	conn *websocket.Conn
	typ  string
	id   string
	rl   *RateLimiter

	sessionID string

	ctx    context.Context
	cancel context.CancelFunc

	// reqMu keeps pending order equal to write order.
	reqMu sync.Mutex

	mu       sync.Mutex
	pending  []*pending
	handlers map[string]func(json.RawMessage)
	closed   bool
	closeErr error

	closeOnce     sync.Once
	done          chan struct{}
	readerDone    chan struct{}
	heartbeatDone chan struct{}
}

type pending struct {
	typ  string
	resp chan v1.Envelope
}

var _ chatcache.Channel = (*Channel)(nil)

func newChannel(t *Transport, conn *websocket.Conn, typ, id string) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		t:             t,
		log:           t.log,
		conn:          conn,
		typ:           typ,
		id:            id,
		rl:            NewRateLimiter(t.cfg.RateEvents, t.cfg.RateWindow),
		ctx:           ctx,
		cancel:        cancel,
		handlers:      make(map[string]func(json.RawMessage)),
		done:          make(chan struct{}),
		readerDone:    make(chan struct{}),
		heartbeatDone: make(chan struct{}),
	}
}

// Type implements chatcache.Channel.
func (c *Channel) Type() string { return c.typ }

// ID implements chatcache.Channel; it is the server conversation id.
func (c *Channel) ID() string { return c.id }

// SessionID returns the server-assigned session of this connection.
func (c *Channel) SessionID() string { return c.sessionID }

// Err returns why the channel closed (nil while open).
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// handshake runs hello -> hello_ack and conversation_join -> echo before the read loop starts.
func (c *Channel) handshake(ctx context.Context) error {
	hello, err := c.envelope(v1.TypeHello, v1.HelloPayload{})
	if err != nil {
		return err
	}
	if err := writeEnvelope(ctx, c.conn, hello, c.t.cfg.WriteTimeout); err != nil {
		return fmt.Errorf("wsclient: write hello: %w", err)
	}
	ack, err := c.readUntil(ctx, v1.TypeHelloAck)
	if err != nil {
		return fmt.Errorf("wsclient: hello: %w", err)
	}
	var hp v1.HelloAckPayload
	if err := ack.Decode(&hp); err != nil {
		return fmt.Errorf("wsclient: hello: %w", err)
	}
	if strings.TrimSpace(hp.SessionID) == "" {
		return errors.New("wsclient: hello_ack missing session_id")
	}
	c.sessionID = hp.SessionID

	join, err := c.envelope(v1.TypeConversationJoin, v1.ConversationJoinPayload{ConversationID: c.id, Kind: c.typ})
	if err != nil {
		return err
	}
	if err := writeEnvelope(ctx, c.conn, join, c.t.cfg.WriteTimeout); err != nil {
		return fmt.Errorf("wsclient: write join: %w", err)
	}
	echo, err := c.readUntil(ctx, v1.TypeConversationJoin)
	if err != nil {
		return fmt.Errorf("wsclient: join %s: %w", c.id, err)
	}
	var jp v1.ConversationJoinPayload
	if err := echo.Decode(&jp); err != nil {
		return fmt.Errorf("wsclient: join %s: %w", c.id, err)
	}
	if jp.ConversationID != c.id {
		return fmt.Errorf("wsclient: join echo for %q, want %q", jp.ConversationID, c.id)
	}
	return nil
}

// readUntil reads envelopes until one of type want arrives. Error envelopes fail the step.
func (c *Channel) readUntil(ctx context.Context, want string) (v1.Envelope, error) {
	for i := 0; i < 16; i++ {
		env, err := readEnvelope(ctx, c.conn)
		if err != nil {
			return v1.Envelope{}, err
		}
		switch env.Type {
		case want:
			return env, nil
		case v1.TypeError:
			return v1.Envelope{}, serverError(env)
		}
	}
	return v1.Envelope{}, fmt.Errorf("%w: no %s", ErrUnexpectedReply, want)
}

func (c *Channel) start() {
	go c.readLoop()
	go c.heartbeat()
}

func (c *Channel) readLoop() {
	defer close(c.readerDone)

	for {
		env, err := readEnvelope(c.ctx, c.conn)
		if err != nil {
			kind := classifyReadErr(err)
			if kind == readErrBadFrame {
				c.log.Warn("wsclient.read.bad_frame", "conversation_id", c.id, "err", err)
				continue
			}
			if kind != readErrCtxDone {
				c.log.Info("wsclient.read.fail",
					"conversation_id", c.id,
					"session_id", c.sessionID,
					"kind", kind.String(),
					"close_status", websocket.CloseStatus(err),
					"err", err,
				)
			}
			c.shutdown(websocket.StatusNormalClosure, "read ended", fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		switch env.Type {
		case v1.TypeMessageNew:
			c.dispatch(env)
		case v1.TypeMessageAck, v1.TypeConversationHistoryChunk, v1.TypeError:
			if !c.reply(env) {
				c.unsolicited(env)
			}
		default:
			c.log.Debug("wsclient.read.ignored", "conversation_id", c.id, "type", env.Type)
		}
	}
}

func (c *Channel) dispatch(env v1.Envelope) {
	var p struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(env.Payload, &p); err == nil && p.ConversationID != "" && p.ConversationID != c.id {
		return
	}

	c.mu.Lock()
	h := c.handlers[chatcache.EventMessageNew]
	c.mu.Unlock()

	if h != nil {
		h(env.Payload)
	}
}

func (c *Channel) reply(env v1.Envelope) bool {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return false
	}
	p := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	c.mu.Unlock()

	if env.Type != v1.TypeError && env.Type != p.typ {
		c.log.Warn("wsclient.reply.mismatch", "conversation_id", c.id, "got", env.Type, "want", p.typ)
	}
	p.resp <- env
	return true
}

func (c *Channel) unsolicited(env v1.Envelope) {
	if env.Type != v1.TypeError {
		return
	}
	se := serverError(env)
	c.log.Warn("wsclient.server.error", "conversation_id", c.id, "err", se)
	if se.Code == v1.CodeRateLimited {
		c.shutdown(websocket.StatusPolicyViolation, "rate limited", se)
	}
}

func (c *Channel) heartbeat() {
	defer close(c.heartbeatDone)

	tk := time.NewTicker(c.t.cfg.HeartbeatEvery)
	defer tk.Stop()

	failures := 0
	for {
		select {
		case <-c.done:
			return
		case <-tk.C:
			hbCtx, cancel := context.WithTimeout(c.ctx, c.t.cfg.HeartbeatTimeout)
			err := c.conn.Ping(hbCtx)
			cancel()

			if err != nil {
				failures++
				c.log.Info("wsclient.ping.fail", "conversation_id", c.id, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					c.shutdown(websocket.StatusGoingAway, "heartbeat failed", fmt.Errorf("%w: heartbeat failed", ErrClosed))
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// Query implements chatcache.Channel. It pages forward with after_seq and keeps the
// newest q.Limit records. A history that needs more than MaxHistoryPages pages fails
// with ErrHistoryTruncated.
func (c *Channel) Query(ctx context.Context, q chatcache.Query) ([]json.RawMessage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = chatcache.DefaultPageSize
	}
	page := limit
	if page > maxHistoryLimit {
		page = maxHistoryLimit
	}

	var (
		out   []json.RawMessage
		after *int64
	)
	for i := 0; i < c.t.cfg.MaxHistoryPages; i++ {
		env, err := c.roundTrip(ctx, v1.TypeConversationHistoryFetch, v1.TypeConversationHistoryChunk,
			v1.ConversationHistoryFetchPayload{ConversationID: c.id, AfterSeq: after, Limit: page})
		if err != nil {
			return nil, err
		}

		var chunk struct {
			Messages []json.RawMessage `json:"messages"`
			HasMore  bool              `json:"has_more"`
		}
		if err := env.Decode(&chunk); err != nil {
			return nil, fmt.Errorf("wsclient: history: %w", err)
		}

		out = append(out, chunk.Messages...)
		if len(out) > limit {
			out = append(out[:0:0], out[len(out)-limit:]...)
		}
		if !chunk.HasMore || len(chunk.Messages) == 0 {
			return out, nil
		}

		var last struct {
			Seq int64 `json:"seq"`
		}
		if err := json.Unmarshal(chunk.Messages[len(chunk.Messages)-1], &last); err != nil {
			return nil, fmt.Errorf("wsclient: history cursor: %w", err)
		}
		after = &last.Seq
	}

	// Paging only moves forward, so out does not hold the newest records yet.
	c.log.Warn("wsclient.history.truncated", "conversation_id", c.id, "pages", c.t.cfg.MaxHistoryPages)
	return nil, fmt.Errorf("%w: %d pages of %d", ErrHistoryTruncated, c.t.cfg.MaxHistoryPages, page)
}

// Send implements chatcache.Channel and waits for the server ack.
func (c *Channel) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("wsclient: empty text")
	}
	clientMsgID, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		return fmt.Errorf("wsclient: client_msg_id: %w", err)
	}

	env, err := c.roundTrip(ctx, v1.TypeMessageSend, v1.TypeMessageAck,
		v1.MessageSendPayload{ConversationID: c.id, ClientMsgID: clientMsgID, Text: text})
	if err != nil {
		return err
	}

	var ack v1.MessageAckPayload
	if err := env.Decode(&ack); err != nil {
		return fmt.Errorf("wsclient: ack: %w", err)
	}
	if ack.ClientMsgID != clientMsgID {
		return fmt.Errorf("%w: ack for %q, want %q", ErrUnexpectedReply, ack.ClientMsgID, clientMsgID)
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

func (c *Channel) roundTrip(ctx context.Context, typ, want string, payload any) (v1.Envelope, error) {
	if err := c.reserve(ctx); err != nil {
		return v1.Envelope{}, err
	}

	env, err := c.envelope(typ, payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	p := &pending{typ: want, resp: make(chan v1.Envelope, 1)}

	c.reqMu.Lock()
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		c.reqMu.Unlock()
		return v1.Envelope{}, err
	}
	c.pending = append(c.pending, p)
	c.mu.Unlock()
	err = writeEnvelope(ctx, c.conn, env, c.t.cfg.WriteTimeout)
	c.reqMu.Unlock()

	if err != nil {
		c.shutdown(websocket.StatusAbnormalClosure, "write failed", fmt.Errorf("%w: write: %v", ErrClosed, err))
		return v1.Envelope{}, fmt.Errorf("wsclient: write %s: %w", typ, err)
	}

	// A waiter that gives up leaves p queued: its reply must still be consumed in order.
	wait, cancel := context.WithTimeout(ctx, c.t.cfg.AckTimeout)
	defer cancel()

	select {
	case resp := <-p.resp:
		if resp.Type == v1.TypeError {
			return v1.Envelope{}, serverError(resp)
		}
		if resp.Type != want {
			return v1.Envelope{}, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedReply, resp.Type, want)
		}
		return resp, nil
	case <-c.done:
		return v1.Envelope{}, c.Err()
	case <-wait.Done():
		return v1.Envelope{}, fmt.Errorf("wsclient: %s: %w", typ, wait.Err())
	}
}

func (c *Channel) reserve(ctx context.Context) error {
	for {
		ok, d := c.rl.Reserve(time.Now())
		if ok {
			return nil
		}
		tm := time.NewTimer(d)
		select {
		case <-tm.C:
		case <-ctx.Done():
			tm.Stop()
			return ctx.Err()
		case <-c.done:
			tm.Stop()
			return c.Err()
		}
	}
}

func (c *Channel) envelope(typ string, payload any) (v1.Envelope, error) {
	now := time.Now().UTC()
	env, err := v1.NewEnvelope(typ, ids.MustULID(now), payload, now)
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("wsclient: %w", err)
	}
	env.ConvID = c.id
	return env, nil
}

// shutdown is idempotent. Pending waiters observe done and return cause.
func (c *Channel) shutdown(code websocket.StatusCode, reason string, cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeErr = cause
		c.pending = nil
		c.mu.Unlock()

		close(c.done)
		c.t.forget(c)
		_ = c.conn.Close(code, reason)
		c.cancel()
	})
}

// wait blocks until the read loop exits and, within a grace period, the heartbeat.
func (c *Channel) wait() {
	<-c.readerDone
	select {
	case <-c.heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func serverError(env v1.Envelope) *ServerError {
	var p v1.ErrorPayload
	if err := env.Decode(&p); err != nil {
		return &ServerError{Code: "unknown", Message: err.Error()}
	}
	return &ServerError{Code: p.Code, Message: p.Message}
}
