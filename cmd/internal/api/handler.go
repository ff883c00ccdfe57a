// Package api exposes the conversation cache over HTTP for the dashboard UI.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/chatcache"
	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/directory"
)

// Cache is the subset of *chatcache.Service the API drives.
type Cache interface {
	Activate(ctx context.Context, id string, d chatcache.Descriptor) (chatcache.Channel, error)
	Deactivate(id string)
	Active() string
	Messages(id string) []chatcache.Message
	SendMessage(ctx context.Context, id, text string) error
	MarkRead(id string) int
	Refresh(ctx context.Context, id string) (bool, error)
	Info(id string) (chatcache.ConversationInfo, bool)
	Stats() chatcache.CacheStats
	ListenerCount() int
	Capacity() int
	Observe(fn func(chatcache.Change)) (cancel func())
	Clear()
}

var _ Cache = (*chatcache.Service)(nil)

// Handler serves /api/*.
type Handler struct {
	log   *slog.Logger
	cache Cache
	dir   directory.Directory
	cfg   Config

	patterns []string
}

// NewHandler constructs the API handler.
func NewHandler(log *slog.Logger, cache Cache, dir directory.Directory, cfg Config) (*Handler, error) {
	if cache == nil {
		return nil, errors.New("api: nil cache")
	}
	if dir == nil {
		return nil, errors.New("api: nil directory")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Handler{
		log:      log,
		cache:    cache,
		dir:      dir,
		cfg:      cfg,
		patterns: originPatterns(cfg.AllowedOrigins),
	}, nil
}

// Register mounts all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms", h.handleListRooms)
	mux.HandleFunc("GET /api/rooms/{id}", h.handleGetRoom)
	mux.HandleFunc("POST /api/rooms/{id}/activate", h.handleActivate)
	mux.HandleFunc("POST /api/rooms/{id}/deactivate", h.handleDeactivate)
	mux.HandleFunc("GET /api/rooms/{id}/messages", h.handleMessages)
	mux.HandleFunc("POST /api/rooms/{id}/messages", h.handleSend)
	mux.HandleFunc("POST /api/rooms/{id}/read", h.handleRead)
	mux.HandleFunc("POST /api/rooms/{id}/refresh", h.handleRefresh)
	mux.HandleFunc("GET /api/stats", h.handleStats)
	mux.HandleFunc("POST /api/session/clear", h.handleClear)
	mux.HandleFunc("GET /api/events", h.handleEvents)
}

type roomView struct {
	directory.Room
	Active bool                        `json:"active"`
	Cache  *chatcache.ConversationInfo `json:"cache,omitempty"`
}

func (h *Handler) view(r directory.Room) roomView {
	v := roomView{Room: r, Active: h.cache.Active() == r.ID}
	if info, ok := h.cache.Info(r.ID); ok {
		v.Cache = &info
	}
	return v
}

func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.dir.List(r.Context())
	if err != nil {
		h.writeFailure(w, r, "rooms.list", err)
		return
	}
	out := make([]roomView, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, h.view(room))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out})
}

func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(room))
}

type activateResponse struct {
	Room     roomView            `json:"room"`
	Messages []chatcache.Message `json:"messages"`
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	room, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if _, err := h.cache.Activate(r.Context(), room.ID, room.Descriptor()); err != nil {
		h.writeFailure(w, r, "rooms.activate", err)
		return
	}
	writeJSON(w, http.StatusOK, activateResponse{
		Room:     h.view(room),
		Messages: h.cache.Messages(room.ID),
	})
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	room, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.cache.Deactivate(room.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": room.ID,
		"loaded":          h.isLoaded(room.ID),
		"messages":        h.cache.Messages(room.ID),
	})
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	Status   string             `json:"status"`
	Fallback *chatcache.Message `json:"fallback,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	room, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid request body")
		return
	}

	err := h.cache.SendMessage(r.Context(), room.ID, req.Text)
	if err == nil {
		writeJSON(w, http.StatusAccepted, sendResponse{Status: "sent"})
		return
	}
	if fb, ok := chatcache.FallbackOf(err); ok {
		writeJSON(w, http.StatusAccepted, sendResponse{Status: "fallback", Fallback: &fb, Error: err.Error()})
		return
	}
	h.writeFailure(w, r, "rooms.send", err)
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	room, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": h.cache.MarkRead(room.ID)})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	room, ok := h.lookup(w, r)
	if !ok {
		return
	}
	applied, err := h.cache.Refresh(r.Context(), room.ID)
	if err != nil {
		h.writeFailure(w, r, "rooms.refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"refreshed": applied})
}

type statsResponse struct {
	chatcache.CacheStats
	Listeners int    `json:"listeners"`
	Capacity  int    `json:"capacity"`
	Active    string `json:"active,omitempty"`
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		CacheStats: h.cache.Stats(),
		Listeners:  h.cache.ListenerCount(),
		Capacity:   h.cache.Capacity(),
		Active:     h.cache.Active(),
	})
}

func (h *Handler) handleClear(w http.ResponseWriter, _ *http.Request) {
	h.cache.Clear()
	h.log.Info("api.session.cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) isLoaded(id string) bool {
	info, ok := h.cache.Info(id)
	return ok && info.Status == chatcache.StatusLoaded
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (directory.Room, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	room, err := h.dir.Lookup(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, "rooms.lookup", err)
		return directory.Room{}, false
	}
	return room, true
}

// writeFailure maps cache and directory errors onto HTTP statuses.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("api."+op+".fail", "path", r.URL.Path, "status", status, "err", err)
	}
	writeError(w, status, code, err.Error())
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, directory.ErrNotFound):
		return http.StatusNotFound, "room_not_found"
	case errors.Is(err, chatcache.ErrEmptyText):
		return http.StatusBadRequest, "empty_text"
	case errors.Is(err, chatcache.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, chatcache.ErrNotLoaded):
		return http.StatusConflict, "not_loaded"
	case errors.Is(err, chatcache.ErrSessionCleared):
		return http.StatusConflict, "session_cleared"
	case errors.Is(err, chatcache.ErrFetchFailed):
		return http.StatusBadGateway, "fetch_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
