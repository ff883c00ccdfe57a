package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/chatcache"
)

// Frame types on the change stream.
const (
	FrameSnapshot = "snapshot"
	FrameChange   = "change"
)

// Frame is one JSON text message on GET /api/events.
// The first frame is a snapshot; every later frame carries one Change.
type Frame struct {
	Type   string                `json:"type"`
	Stats  *chatcache.CacheStats `json:"stats,omitempty"`
	Active string                `json:"active,omitempty"`
	Change *chatcache.Change     `json:"change,omitempty"`
}

// eventQueue decouples Store observers from the socket writer. Enqueue never blocks.
type eventQueue struct {
	ch       chan chatcache.Change
	overflow chan struct{}
	once     sync.Once
}

func newEventQueue(size int) *eventQueue {
	return &eventQueue{
		ch:       make(chan chatcache.Change, size),
		overflow: make(chan struct{}),
	}
}

func (q *eventQueue) push(c chatcache.Change) {
	select {
	case q.ch <- c:
	default:
		q.once.Do(func() { close(q.overflow) })
	}
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if err := h.enforceOrigin(r); err != nil {
		h.log.Info("api.events.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		writeError(w, http.StatusForbidden, "forbidden", "origin not allowed")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.patterns})
	if err != nil {
		h.log.Info("api.events.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// Control frames only; a client frame or disconnect cancels ctx.
	ctx := conn.CloseRead(r.Context())

	q := newEventQueue(h.cfg.EventQueueSize)
	stop := h.cache.Observe(q.push)
	defer stop()

	stats := h.cache.Stats()
	if err := h.writeFrame(ctx, conn, Frame{Type: FrameSnapshot, Stats: &stats, Active: h.cache.Active()}); err != nil {
		return
	}
	h.log.Debug("api.events.open", "remote", r.RemoteAddr)

	ticker := time.NewTicker(h.cfg.HeartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Debug("api.events.closed", "remote", r.RemoteAddr)
			return
		case <-q.overflow:
			h.log.Info("api.events.slow_consumer", "remote", r.RemoteAddr)
			_ = conn.Close(websocket.StatusPolicyViolation, "slow consumer")
			return
		case c := <-q.ch:
			if err := h.writeFrame(ctx, conn, Frame{Type: FrameChange, Change: &c}); err != nil {
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, h.cfg.HeartbeatWait)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				h.log.Info("api.events.heartbeat.fail", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func (h *Handler) writeFrame(ctx context.Context, conn *websocket.Conn, f Frame) error {
	wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, f); err != nil {
		h.log.Info("api.events.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
		return err
	}
	return nil
}
